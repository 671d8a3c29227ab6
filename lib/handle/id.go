// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package handle

import "fmt"

// ID tags a handle for installation into a new process.
type ID uint32

// Kind is the low 16 bits of an ID.
type Kind uint16

const (
	// KindProcessSelf, KindThreadSelf, KindJob and KindRootRegion
	// describe handles the process factory itself supplies.
	KindProcessSelf Kind = 0x01
	KindThreadSelf  Kind = 0x02
	KindJob         Kind = 0x03
	KindRootRegion  Kind = 0x1A

	// KindLoaderService is the dynamic-loader service channel.
	KindLoaderService Kind = 0x10

	// KindNamespaceDir is a namespace directory; the argument is the
	// entry's index in the name table.
	KindNamespaceDir Kind = 0x20

	// KindFD is a descriptor to install at the child fd number given
	// by the argument.
	KindFD Kind = 0x30

	// KindUser0 and up are free for application protocols.
	KindUser0 Kind = 0xF0
)

// LoaderServiceID is the reserved ID under which an add-handles entry
// is treated as the loader service rather than an extra handle.
var LoaderServiceID = MakeID(KindLoaderService, 0)

// MakeID combines a kind and an argument.
func MakeID(kind Kind, arg uint16) ID {
	return ID(uint32(kind) | uint32(arg)<<16)
}

// Kind returns the kind component of the ID.
func (id ID) Kind() Kind {
	return Kind(id & 0xFFFF)
}

// Arg returns the argument component of the ID.
func (id ID) Arg() uint16 {
	return uint16(id >> 16)
}

func (id ID) String() string {
	return fmt.Sprintf("0x%02x:%d", uint16(id.Kind()), id.Arg())
}
