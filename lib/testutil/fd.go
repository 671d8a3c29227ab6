// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package testutil

import (
	"os"
	"testing"

	"golang.org/x/sys/unix"
)

// RequireFDOpen fails the test if fd is not an open descriptor.
func RequireFDOpen(t *testing.T, fd int) {
	t.Helper()
	if _, err := unix.FcntlInt(uintptr(fd), unix.F_GETFD, 0); err != nil {
		t.Fatalf("fd %d is not open: %v", fd, err)
	}
}

// RequireFDClosed fails the test if fd is still open.
//
// Descriptor numbers are reused, so call this immediately after the
// operation expected to close fd, before anything else opens a file.
func RequireFDClosed(t *testing.T, fd int) {
	t.Helper()
	if _, err := unix.FcntlInt(uintptr(fd), unix.F_GETFD, 0); err != unix.EBADF {
		t.Fatalf("fd %d is still open (fcntl error: %v)", fd, err)
	}
}

// OpenFDCount returns the number of descriptors open in this process.
func OpenFDCount(t *testing.T) int {
	t.Helper()
	entries, err := os.ReadDir("/proc/self/fd")
	if err != nil {
		t.Fatalf("reading /proc/self/fd: %v", err)
	}
	// ReadDir itself holds one descriptor open while listing.
	return len(entries) - 1
}
