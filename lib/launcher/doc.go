// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package launcher serves the process launcher protocol.
//
// A client connects a channel and sends any number of accumulation
// messages (add-args, add-environs, add-names, add-handles) followed by
// a launch request. The [Session] for that channel collects the
// accumulated parameters in a [State]. On launch it drives a [Context]
// from the configured [Factory], writes one response carrying the
// status and, on success, the process and address-space root handles,
// and then resets the State. A channel can launch any number of
// processes in sequence; there is never more than one launch in flight
// on it.
//
// Errors fall into three classes:
//
//   - Protocol errors (malformed or missing header, undecodable payload,
//     unknown ordinal) end the session. No response is sent.
//   - Launch failures (no loader service, unloadable image, root region
//     duplication failure, factory failure) are reported in the launch
//     response. The session continues with an empty State.
//   - Transport errors (read or write failure, peer closure, re-arm
//     failure) end the session.
//
// The [Server] owns every session in a map keyed by [SessionID]. When a
// session's event handler decides the session is over, it tears down
// its own resources and hands an outcome back; the Server removes the
// entry and calls Options.OnSessionEnd exactly once. Sessions never
// remove themselves.
//
// All session work runs on one [async.Loop] goroutine. Messages are
// drained in batches of the loop's drain batch size, so a flood on one
// channel cannot starve the others. A peer that closes its end after
// writing still has every queued message dispatched before the session
// ends.
//
// Handles follow the ownership rules of package handle: every handle
// placed in a State is owned by it until moved into a launch context or
// closed by Reset, and nothing is duplicated except the address-space
// root handed back in the launch response.
package launcher
