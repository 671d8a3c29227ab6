// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package loader

import (
	"context"
	"fmt"

	"github.com/bureau-foundation/process-launcher/lib/channel"
	"github.com/bureau-foundation/process-launcher/lib/handle"
	"github.com/bureau-foundation/process-launcher/lib/status"
)

// Client calls a loader service. It borrows its channel and is not
// safe for concurrent use.
type Client struct {
	channel *channel.Channel
	txid    uint32
}

// NewClient returns a client speaking on ch.
func NewClient(ch *channel.Channel) *Client {
	return &Client{channel: ch}
}

// LoadObject asks the service for the object called name and blocks
// until it answers or ctx is done. A non-OK answer is returned as a
// *status.Error carrying the service's status.
func (c *Client) LoadObject(ctx context.Context, name string) (handle.Handle, error) {
	c.txid++
	txid := c.txid

	request, err := encodeRequest(txid, name)
	if err != nil {
		return handle.Invalid(), err
	}
	response, err := c.channel.Call(ctx, request)
	if err != nil {
		return handle.Invalid(), fmt.Errorf("loading %q: %w", name, err)
	}

	header, code, object, err := decodeResponse(response)
	if err != nil {
		return handle.Invalid(), fmt.Errorf("loading %q: %w", name, err)
	}
	if header.Txid != txid || header.Ordinal != OrdinalLoadObject {
		object.Close()
		return handle.Invalid(), status.Errorf(status.ErrBadState,
			"loading %q: response txid %d ordinal %d does not match request txid %d", name, header.Txid, uint32(header.Ordinal), txid)
	}
	if code != status.OK {
		object.Close()
		return handle.Invalid(), status.Errorf(code, "loader service could not load %q", name)
	}
	if !object.Valid() {
		return handle.Invalid(), status.Errorf(status.ErrBadHandle, "loader service returned no object for %q", name)
	}
	return object, nil
}
