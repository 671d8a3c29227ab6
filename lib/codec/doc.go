// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec provides the launcher's CBOR encoding configuration.
//
// Every datagram on a launcher or loader channel carries one CBOR
// value, and the bootstrap and layout manifests written for spawned
// processes are CBOR too. This package holds the single encoder and
// decoder configuration so that every producer encodes identically.
//
// The encoder uses Core Deterministic Encoding (RFC 8949 §4.2): sorted
// map keys, smallest integer encoding, no indefinite-length items. The
// decoder rejects duplicate map keys and map keys that match no field
// of a struct target, and caps nesting and collection
// sizes at values far above anything the protocol needs, so a hostile
// client cannot make the launcher allocate without bound.
//
//	data, err := codec.Marshal(value)
//	err = codec.Unmarshal(data, &value)
//
// Wire types use `cbor` struct tags exclusively; none of them are ever
// serialized as JSON.
package codec
