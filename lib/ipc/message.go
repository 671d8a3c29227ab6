// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package ipc

import (
	"fmt"

	"github.com/bureau-foundation/process-launcher/lib/channel"
	"github.com/bureau-foundation/process-launcher/lib/codec"
	"github.com/bureau-foundation/process-launcher/lib/handle"
	"github.com/bureau-foundation/process-launcher/lib/status"
)

// Header is the fixed prefix of every message.
type Header struct {
	Txid    uint32
	Ordinal Ordinal
}

type envelope struct {
	Txid    *uint32          `cbor:"txid"`
	Ordinal *uint32          `cbor:"ordinal"`
	Payload codec.RawMessage `cbor:"payload,omitempty"`
}

// Incoming is a received message whose header has been decoded and
// whose payload and handles have not yet been consumed.
type Incoming struct {
	Header  Header
	payload codec.RawMessage
	handles []handle.Handle
	taken   []bool
}

// DecodeHeader decodes the envelope of message. The returned Incoming
// owns the message's handles. On error every handle is closed.
func DecodeHeader(message channel.Message) (*Incoming, error) {
	var wire envelope
	if err := codec.Unmarshal(message.Bytes, &wire); err != nil {
		message.CloseHandles()
		return nil, status.Errorf(status.ErrInvalidArgs, "malformed envelope: %v", err)
	}
	if wire.Txid == nil || wire.Ordinal == nil {
		message.CloseHandles()
		return nil, status.Errorf(status.ErrInvalidArgs, "message has no header")
	}
	return &Incoming{
		Header:  Header{Txid: *wire.Txid, Ordinal: Ordinal(*wire.Ordinal)},
		payload: wire.Payload,
		handles: message.Handles,
		taken:   make([]bool, len(message.Handles)),
	}, nil
}

// HandleCount returns the number of handles the message carried.
func (in *Incoming) HandleCount() int {
	return len(in.handles)
}

// Payload decodes the payload into v. It does not touch handles.
func (in *Incoming) Payload(v any) error {
	if len(in.payload) == 0 {
		return status.Errorf(status.ErrInvalidArgs, "ordinal %d: missing payload", in.Header.Ordinal)
	}
	if err := codec.Unmarshal(in.payload, v); err != nil {
		return status.Errorf(status.ErrInvalidArgs, "ordinal %d: decoding payload: %v", in.Header.Ordinal, err)
	}
	return nil
}

// Take moves the handle at slot out of the message.
func (in *Incoming) Take(slot uint32) (handle.Handle, error) {
	if int(slot) >= len(in.handles) {
		return handle.Invalid(), status.Errorf(status.ErrInvalidArgs, "ordinal %d: handle slot %d out of range (%d handles)", in.Header.Ordinal, slot, len(in.handles))
	}
	if in.taken[slot] {
		return handle.Invalid(), status.Errorf(status.ErrInvalidArgs, "ordinal %d: handle slot %d referenced twice", in.Header.Ordinal, slot)
	}
	in.taken[slot] = true
	return in.handles[slot].Take(), nil
}

// TakeOptional is Take for an optional field; a nil slot yields an
// invalid handle and no error.
func (in *Incoming) TakeOptional(slot *uint32) (handle.Handle, error) {
	if slot == nil {
		return handle.Invalid(), nil
	}
	return in.Take(*slot)
}

// Finish verifies that every handle was claimed by some field. Unclaimed
// handles are closed and reported as an error.
func (in *Incoming) Finish() error {
	unclaimed := 0
	for index := range in.handles {
		if !in.taken[index] {
			unclaimed++
		}
	}
	in.Close()
	if unclaimed > 0 {
		return status.Errorf(status.ErrInvalidArgs, "ordinal %d: %d handles not referenced by the payload", in.Header.Ordinal, unclaimed)
	}
	return nil
}

// Close closes every handle not yet taken.
func (in *Incoming) Close() {
	handle.CloseAll(in.handles)
}

// Diagnose renders the raw payload for logs.
func (in *Incoming) Diagnose() string {
	if len(in.payload) == 0 {
		return "(no payload)"
	}
	notation, err := codec.Diagnose(in.payload)
	if err != nil {
		return fmt.Sprintf("(undecodable: %v)", err)
	}
	return notation
}

// HandleList accumulates the handles of an outgoing message and hands
// out their slot numbers.
type HandleList struct {
	handles []handle.Handle
}

// Add moves h into the list and returns its slot.
func (l *HandleList) Add(h handle.Handle) uint32 {
	l.handles = append(l.handles, h)
	return uint32(len(l.handles) - 1)
}

// AddOptional adds h if it is valid and returns nil otherwise.
func (l *HandleList) AddOptional(h handle.Handle) *uint32 {
	if !h.Valid() {
		return nil
	}
	slot := l.Add(h)
	return &slot
}

// Close closes every handle in the list.
func (l *HandleList) Close() {
	handle.CloseAll(l.handles)
	l.handles = nil
}

// Encode builds a message from header, payload and the list's handles.
// The handles move into the message; on error they are closed.
func Encode(header Header, payload any, handles *HandleList) (channel.Message, error) {
	var list []handle.Handle
	if handles != nil {
		list = handles.handles
		handles.handles = nil
	}

	var raw codec.RawMessage
	if payload != nil {
		encoded, err := codec.Marshal(payload)
		if err != nil {
			handle.CloseAll(list)
			return channel.Message{}, fmt.Errorf("encoding ordinal %d payload: %w", header.Ordinal, err)
		}
		raw = encoded
	}

	txid, ordinal := header.Txid, uint32(header.Ordinal)
	data, err := codec.Marshal(envelope{Txid: &txid, Ordinal: &ordinal, Payload: raw})
	if err != nil {
		handle.CloseAll(list)
		return channel.Message{}, fmt.Errorf("encoding ordinal %d envelope: %w", header.Ordinal, err)
	}
	return channel.Message{Bytes: data, Handles: list}, nil
}
