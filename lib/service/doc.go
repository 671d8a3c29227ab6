// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package service connects the launcher protocol to a Unix socket.
//
// The launcher listens on a SOCK_SEQPACKET Unix socket. Each accepted
// connection becomes a [channel.Channel] and is handed to the caller,
// which typically starts a launcher session on it. [Dial] is the client
// side.
//
// Connections are detached from the net package as soon as they are
// accepted: the descriptor is duplicated, the net.Conn is closed, and
// from then on the channel owns the only copy. Message framing and
// descriptor passing are the channel's business, not the net
// package's.
package service
