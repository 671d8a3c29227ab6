// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package status defines the numeric status codes carried on the
// launcher wire protocol and the error type that wraps them.
//
// A Status is an int32 so it can be encoded directly into a CBOR
// response and compared by clients written against the same
// numbering. The numbering follows the zircon status space; OK is
// zero and every failure is negative.
//
// Status implements error, so code paths that fail with a protocol
// status can return it directly:
//
//	if !message.HasHeader() {
//	    return status.ErrInvalidArgs
//	}
//
// [Error] attaches a human-readable message to a status, and
// [FromError] recovers the status from any error chain (including
// raw unix.Errno values from the syscall layer).
package status

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

// Status is a protocol status code.
type Status int32

const (
	OK              Status = 0
	ErrInternal     Status = -1
	ErrNotSupported Status = -2
	ErrNoMemory     Status = -4
	ErrInvalidArgs  Status = -10
	ErrBadHandle    Status = -11
	ErrBadState     Status = -20
	ErrTimedOut     Status = -21
	ErrShouldWait   Status = -22
	ErrCanceled     Status = -23
	ErrPeerClosed   Status = -24
	ErrNotFound     Status = -25
	ErrAccessDenied Status = -30
	ErrIO           Status = -40
)

var names = map[Status]string{
	OK:              "OK",
	ErrInternal:     "ERR_INTERNAL",
	ErrNotSupported: "ERR_NOT_SUPPORTED",
	ErrNoMemory:     "ERR_NO_MEMORY",
	ErrInvalidArgs:  "ERR_INVALID_ARGS",
	ErrBadHandle:    "ERR_BAD_HANDLE",
	ErrBadState:     "ERR_BAD_STATE",
	ErrTimedOut:     "ERR_TIMED_OUT",
	ErrShouldWait:   "ERR_SHOULD_WAIT",
	ErrCanceled:     "ERR_CANCELED",
	ErrPeerClosed:   "ERR_PEER_CLOSED",
	ErrNotFound:     "ERR_NOT_FOUND",
	ErrAccessDenied: "ERR_ACCESS_DENIED",
	ErrIO:           "ERR_IO",
}

// String returns the symbolic name of the status, or "STATUS(n)" for
// values outside the known set.
func (s Status) String() string {
	if name, ok := names[s]; ok {
		return name
	}
	return fmt.Sprintf("STATUS(%d)", int32(s))
}

// Error implements error. OK is never returned as an error by this
// module, but formatting it is harmless.
func (s Status) Error() string {
	return s.String()
}

// Error is a status with an explanatory message.
type Error struct {
	Status  Status
	Message string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return e.Status.String()
	}
	return fmt.Sprintf("%s: %s", e.Status, e.Message)
}

// Is lets errors.Is(err, status.ErrX) match an *Error carrying ErrX.
func (e *Error) Is(target error) bool {
	s, ok := target.(Status)
	return ok && s == e.Status
}

// Errorf returns an *Error with a formatted message.
func Errorf(s Status, format string, args ...any) *Error {
	return &Error{Status: s, Message: fmt.Sprintf(format, args...)}
}

// FromError classifies err. nil maps to OK. Errors that carry no
// recognizable status map to ErrInternal.
func FromError(err error) Status {
	if err == nil {
		return OK
	}

	var statusError *Error
	if errors.As(err, &statusError) {
		return statusError.Status
	}

	var s Status
	if errors.As(err, &s) {
		return s
	}

	var errno unix.Errno
	if errors.As(err, &errno) {
		return fromErrno(errno)
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return ErrTimedOut
	case errors.Is(err, context.Canceled):
		return ErrCanceled
	}

	return ErrInternal
}

// Message returns the explanatory text for err: the message of an
// *Error, or err.Error() otherwise.
func Message(err error) string {
	if err == nil {
		return ""
	}
	var statusError *Error
	if errors.As(err, &statusError) && statusError.Message != "" {
		return statusError.Message
	}
	return err.Error()
}

func fromErrno(errno unix.Errno) Status {
	switch errno {
	case unix.EAGAIN:
		return ErrShouldWait
	case unix.EBADF:
		return ErrBadHandle
	case unix.EINVAL, unix.E2BIG, unix.ENAMETOOLONG, unix.ENOEXEC:
		return ErrInvalidArgs
	case unix.ENOMEM, unix.ENOBUFS, unix.EMFILE, unix.ENFILE:
		return ErrNoMemory
	case unix.ENOENT:
		return ErrNotFound
	case unix.EACCES, unix.EPERM:
		return ErrAccessDenied
	case unix.EPIPE, unix.ECONNRESET, unix.ECONNREFUSED, unix.ENOTCONN:
		return ErrPeerClosed
	case unix.ETIMEDOUT:
		return ErrTimedOut
	case unix.EOPNOTSUPP, unix.ENOSYS:
		return ErrNotSupported
	case unix.EIO:
		return ErrIO
	default:
		return ErrInternal
	}
}
