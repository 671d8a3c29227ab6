// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package loader

import (
	"path/filepath"

	"golang.org/x/sys/unix"

	"github.com/bureau-foundation/process-launcher/lib/handle"
	"github.com/bureau-foundation/process-launcher/lib/status"
)

// DirectoryResolver resolves names by base name against directories,
// in order, opening the first match read-only. Interpreter names are
// usually absolute paths; only their last element is used, so the
// directories bound what the service will hand out.
func DirectoryResolver(directories ...string) Resolver {
	return func(name string) (handle.Handle, error) {
		base := filepath.Base(name)
		if base == "." || base == ".." || base == "/" {
			return handle.Invalid(), status.Errorf(status.ErrInvalidArgs, "invalid object name %q", name)
		}
		for _, directory := range directories {
			fd, err := unix.Open(filepath.Join(directory, base), unix.O_RDONLY|unix.O_CLOEXEC, 0)
			if err == unix.ENOENT {
				continue
			}
			if err != nil {
				return handle.Invalid(), status.Errorf(status.FromError(err), "opening %s in %s: %v", base, directory, err)
			}
			return handle.New(fd), nil
		}
		return handle.Invalid(), status.Errorf(status.ErrNotFound, "%s not found in %d directories", base, len(directories))
	}
}
