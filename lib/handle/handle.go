// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package handle models exclusively-owned kernel resources as file
// descriptors with explicit move semantics.
//
// A Handle either owns one descriptor or is invalid. Ownership leaves a
// Handle in exactly two ways: [Handle.Release] moves the descriptor out
// (the Handle becomes invalid and the caller now owns the fd), and
// [Handle.Close] closes it. Both leave the Handle marked as moved, so a
// second Close is a no-op and a released descriptor can never be
// closed twice through the same Handle.
//
// Handles are passed by value when ownership moves with them and by
// pointer when a callee only borrows. A function taking a Handle value
// owns it and must Release or Close it on every path.
//
// [ID] tags a handle for installation into a new process, using the
// processargs layout: the low 16 bits select a kind and the high 16
// bits carry a kind-specific argument.
package handle

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// Handle is an owned file descriptor. The zero value owns nothing.
type Handle struct {
	fd    int32
	owned bool
}

// Invalid returns a handle that owns nothing.
func Invalid() Handle {
	return Handle{fd: -1}
}

// New takes ownership of fd. A negative fd produces an invalid handle.
func New(fd int) Handle {
	if fd < 0 {
		return Invalid()
	}
	return Handle{fd: int32(fd), owned: true}
}

// Valid reports whether the handle currently owns a descriptor.
func (h *Handle) Valid() bool {
	return h != nil && h.owned
}

// FD returns the descriptor without transferring ownership, or -1.
// The caller must not close the returned value.
func (h *Handle) FD() int {
	if !h.Valid() {
		return -1
	}
	return int(h.fd)
}

// Release moves the descriptor out of the handle and returns it. The
// handle becomes invalid. Returns -1 if the handle was not valid.
func (h *Handle) Release() int {
	if !h.Valid() {
		return -1
	}
	fd := int(h.fd)
	h.fd = -1
	h.owned = false
	return fd
}

// Take moves ownership into a new Handle value, leaving h invalid.
func (h *Handle) Take() Handle {
	return New(h.Release())
}

// Close closes the descriptor if the handle still owns one. It is
// idempotent.
func (h *Handle) Close() error {
	if !h.Valid() {
		return nil
	}
	fd := h.Release()
	if err := unix.Close(fd); err != nil {
		return fmt.Errorf("closing fd %d: %w", fd, err)
	}
	return nil
}

// Duplicate returns a new handle referring to the same open file
// description. The original keeps its ownership.
func (h *Handle) Duplicate() (Handle, error) {
	if !h.Valid() {
		return Invalid(), unix.EBADF
	}
	fd, err := unix.FcntlInt(uintptr(h.fd), unix.F_DUPFD_CLOEXEC, 0)
	if err != nil {
		return Invalid(), fmt.Errorf("duplicating fd %d: %w", h.fd, err)
	}
	return New(fd), nil
}

// String formats the handle for logs.
func (h Handle) String() string {
	if !h.Valid() {
		return "handle(invalid)"
	}
	return fmt.Sprintf("handle(%d)", h.fd)
}

// CloseAll closes every handle in handles and returns the first error.
func CloseAll(handles []Handle) error {
	var firstError error
	for index := range handles {
		if err := handles[index].Close(); err != nil && firstError == nil {
			firstError = err
		}
	}
	return firstError
}
