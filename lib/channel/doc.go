// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package channel implements the launcher's message transport: a
// connected AF_UNIX SOCK_SEQPACKET socket carrying discrete datagrams,
// each with an optional list of file descriptors passed as SCM_RIGHTS
// control data.
//
// SOCK_SEQPACKET preserves message boundaries, so one Read returns
// exactly one message and a reader never has to reassemble frames.
// Descriptors are received with MSG_CMSG_CLOEXEC so a concurrent fork
// in the same process cannot inherit them.
//
// Reads and writes never block. A read on an empty queue returns
// status.ErrShouldWait; the caller waits for readiness (see lib/async)
// and tries again. Callers that want a blocking request/response
// exchange, such as the command-line client and the loader service
// client, use [Channel.Call].
package channel
