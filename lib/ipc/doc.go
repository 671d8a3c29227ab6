// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package ipc defines the wire format of the launcher protocol and the
// loader protocol that share its envelope.
//
// Every message is one CBOR map:
//
//	{"txid": uint32, "ordinal": uint32, "payload": <ordinal-specific>}
//
// Handles travel out of band as SCM_RIGHTS data on the channel (see
// lib/channel). Inside the payload, a handle field is a uint32 slot:
// the index of the handle in the message's handle list. Decoding moves
// each referenced handle out of the message exactly once. A slot that
// is out of range, referenced twice, or a handle no field references is
// a decode error, and a failed decode closes every handle the message
// carried so nothing leaks on the error path.
//
// The server side decodes with [DecodeHeader] followed by one of the
// ordinal-specific methods on [Incoming]. The client side builds
// requests with the Encode functions and reads the launch reply with
// [DecodeLaunchResponse].
package ipc
