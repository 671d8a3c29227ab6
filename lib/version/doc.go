// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package version provides build version information for the launcher
// binaries.
//
// Four package-level variables are injected at build time via
// -ldflags -X:
//
//   - [GitCommit] -- short git SHA of the build
//   - [GitDirty] -- "true" if there were uncommitted changes
//   - [BuildTime] -- UTC timestamp of the build
//   - [Version] -- semantic version string (set manually for releases)
//
// These default to "unknown" / "0.1.0-dev" when not injected.
//
// [Info] formats them for --version; [Full] adds the Go version and
// platform. [SelfDigest] hashes the running binary with the same keyed
// BLAKE3 the launcher uses for executable images, so a launcher's
// startup log line can be matched against the image digest another
// launcher recorded for it.
package version
