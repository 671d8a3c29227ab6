// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package loader implements the loader service protocol.
//
// A process factory that finds a PT_INTERP segment in an executable
// asks the loader service for the named interpreter and receives an
// open descriptor for it. The service is a channel supplied by the
// launcher's client, so the client decides which interpreters a
// launched process may use.
//
// The protocol has one request, load-object, carried in the same CBOR
// envelope as the launcher protocol. [Client] is the synchronous caller
// and [Server] answers requests with a [Resolver].
package loader
