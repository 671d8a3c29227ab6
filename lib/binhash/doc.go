// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package binhash computes content digests of executable images.
//
// The launcher never sees a path for the images it runs: executables
// and interpreters arrive as open descriptors. Recording a digest of
// each one in the new process's address-space manifest lets operators
// tell exactly which bytes were executed.
//
// Digests are BLAKE3 in keyed mode with a fixed domain key, so an
// image digest can never collide with a BLAKE3 digest computed for
// some other purpose over the same bytes.
//
//   - [HashFD] hashes an open descriptor with positioned reads, leaving
//     its file offset untouched
//   - [HashFile] hashes the file at a path
//   - [FormatDigest] and [ParseDigest] convert to and from the
//     canonical hex form used in manifests and logs
//
// This package has no dependencies on other packages in this module.
package binhash
