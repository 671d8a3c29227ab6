// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package launcher

import (
	"github.com/bureau-foundation/process-launcher/lib/handle"
	"github.com/bureau-foundation/process-launcher/lib/status"
)

// Factory creates process-creation contexts. The launcher calls
// NewContext once per launch request.
type Factory interface {
	// NewContext opens a context that will create a process named name
	// inside job. job is borrowed: the launcher closes it after
	// Finalize. An invalid job means the launcher's own.
	NewContext(job *handle.Handle, name string) Context
}

// Context accumulates one process creation. Contexts are sticky on
// error: after the first Abort or internal failure every later call
// only consumes the handles passed to it, and Finalize reports the
// first failure.
type Context interface {
	// UseLoaderService installs loader as the service consulted for
	// the executable's interpreter and returns the loader the context
	// held before, which the caller owns.
	UseLoaderService(loader handle.Handle) handle.Handle

	// LoadExecutable reads the executable image. The context takes
	// ownership of image.
	LoadExecutable(image handle.Handle)

	// SetArgs sets argv exactly; no program name is inserted.
	SetArgs(args []string)

	// SetEnviron sets envp. The final entry is an empty terminator.
	SetEnviron(environs []string)

	// SetNametable sets the namespace paths. Entry i pairs with the
	// handle tagged MakeID(KindNamespaceDir, i).
	SetNametable(paths []string)

	// AddHandles installs tagged handles in the new process. ids and
	// handles are parallel; the context takes ownership of handles.
	AddHandles(ids []handle.ID, handles []handle.Handle)

	// RootRegion borrows the handle of the new process's address-space
	// root. It may be nil or invalid after a failure.
	RootRegion() *handle.Handle

	// Abort fails the context with s and message.
	Abort(s status.Status, message string)

	// Finalize creates the process and returns its handle. On failure
	// the error carries a status (see status.FromError). Every handle
	// the context owns is consumed either way.
	Finalize() (handle.Handle, error)
}
