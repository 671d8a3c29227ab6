// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package spawn is the Linux process factory behind the launcher.
//
// A [Factory] hands out launcher contexts that start processes with
// os.StartProcess:
//
//   - The executable image arrives as a descriptor and is executed
//     through /proc/self/fd. Its BLAKE3 digest is recorded.
//   - If the image has a PT_INTERP segment, the named interpreter must
//     be supplied by the loader service; the kernel still maps it by
//     path, but a launch whose loader service cannot produce the
//     interpreter fails before anything is started.
//   - A valid job handle is a cgroup v2 directory; the child is created
//     directly inside it (CLONE_INTO_CGROUP).
//   - The process handle is a pidfd.
//
// Descriptors in the child follow a fixed layout. A handle tagged
// handle.KindFD with argument n is installed at fd n; missing stdio
// descriptors are /dev/null. Fd 3 is a sealed memfd holding a CBOR
// [Bootstrap] record: the process name, the namespace table, and the
// fd every other tagged handle was installed at (fd 4 upwards).
//
// The address-space root region is a memfd created with the context.
// After the process starts it holds a sealed CBOR [Layout] manifest;
// [ReadLayout] decodes it.
package spawn
