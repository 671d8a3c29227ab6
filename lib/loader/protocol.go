// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package loader

import (
	"github.com/bureau-foundation/process-launcher/lib/channel"
	"github.com/bureau-foundation/process-launcher/lib/handle"
	"github.com/bureau-foundation/process-launcher/lib/ipc"
	"github.com/bureau-foundation/process-launcher/lib/status"
)

// OrdinalLoadObject requests an object by name.
const OrdinalLoadObject ipc.Ordinal = 1

type loadObjectRequest struct {
	Name string `cbor:"name"`
}

type loadObjectResponse struct {
	Status int32   `cbor:"status"`
	Object *uint32 `cbor:"object,omitempty"`
}

func encodeRequest(txid uint32, name string) (channel.Message, error) {
	return ipc.Encode(ipc.Header{Txid: txid, Ordinal: OrdinalLoadObject}, loadObjectRequest{Name: name}, nil)
}

func encodeResponse(header ipc.Header, code status.Status, object handle.Handle) (channel.Message, error) {
	var list ipc.HandleList
	payload := loadObjectResponse{
		Status: int32(code),
		Object: list.AddOptional(object),
	}
	return ipc.Encode(header, payload, &list)
}

// decodeResponse returns the header, status and object of a response.
// On error no handle survives.
func decodeResponse(message channel.Message) (ipc.Header, status.Status, handle.Handle, error) {
	in, err := ipc.DecodeHeader(message)
	if err != nil {
		return ipc.Header{}, status.OK, handle.Invalid(), err
	}
	var payload loadObjectResponse
	if err := in.Payload(&payload); err != nil {
		in.Close()
		return in.Header, status.OK, handle.Invalid(), err
	}
	object, err := in.TakeOptional(payload.Object)
	if err != nil {
		in.Close()
		return in.Header, status.OK, handle.Invalid(), err
	}
	if err := in.Finish(); err != nil {
		object.Close()
		return in.Header, status.OK, handle.Invalid(), err
	}
	return in.Header, status.Status(payload.Status), object, nil
}
