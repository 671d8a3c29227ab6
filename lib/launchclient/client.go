// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package launchclient is a blocking client for the launcher protocol.
//
// A Client sends accumulation messages as they are called and blocks
// only in Launch, which waits for the response. Accumulated state
// lives on the launcher side; after every Launch, successful or not,
// the launcher has forgotten it and the client starts over.
package launchclient

import (
	"context"
	"fmt"

	"github.com/bureau-foundation/process-launcher/lib/channel"
	"github.com/bureau-foundation/process-launcher/lib/handle"
	"github.com/bureau-foundation/process-launcher/lib/ipc"
	"github.com/bureau-foundation/process-launcher/lib/service"
	"github.com/bureau-foundation/process-launcher/lib/status"
)

// Client speaks the launcher protocol on one channel. It is not safe
// for concurrent use.
type Client struct {
	channel *channel.Channel
	txid    uint32
}

// New returns a client that owns ch.
func New(ch *channel.Channel) *Client {
	return &Client{channel: ch}
}

// Dial connects to the launcher socket at socketPath.
func Dial(ctx context.Context, socketPath string) (*Client, error) {
	ch, err := service.Dial(ctx, socketPath)
	if err != nil {
		return nil, err
	}
	return New(ch), nil
}

// Close closes the channel. The launcher discards anything accumulated
// since the last launch.
func (c *Client) Close() error {
	return c.channel.Close()
}

func (c *Client) nextTxid() uint32 {
	c.txid++
	return c.txid
}

func (c *Client) send(ctx context.Context, message channel.Message, err error) error {
	if err != nil {
		return err
	}
	return c.channel.WriteBlocking(ctx, message)
}

// AddArgs appends to argv.
func (c *Client) AddArgs(ctx context.Context, args ...string) error {
	message, err := ipc.EncodeAddArgs(c.nextTxid(), args)
	return c.send(ctx, message, err)
}

// AddEnvirons appends to envp.
func (c *Client) AddEnvirons(ctx context.Context, environs ...string) error {
	message, err := ipc.EncodeAddEnvirons(c.nextTxid(), environs)
	return c.send(ctx, message, err)
}

// AddNames adds namespace entries. The directory handles move to the
// launcher.
func (c *Client) AddNames(ctx context.Context, names ...ipc.NameInfo) error {
	message, err := ipc.EncodeAddNames(c.nextTxid(), names)
	return c.send(ctx, message, err)
}

// AddHandles adds tagged handles. The handles move to the launcher.
func (c *Client) AddHandles(ctx context.Context, handles ...ipc.HandleInfo) error {
	message, err := ipc.EncodeAddHandles(c.nextTxid(), handles)
	return c.send(ctx, message, err)
}

// SetLoaderService supplies the loader service for the next launch,
// replacing any supplied earlier.
func (c *Client) SetLoaderService(ctx context.Context, loaderService handle.Handle) error {
	return c.AddHandles(ctx, ipc.HandleInfo{ID: handle.LoaderServiceID, Handle: loaderService})
}

// Launch sends the launch request and waits for its response. A
// launch failure is reported in the result's Status with a nil error;
// the error is reserved for transport and protocol failures, after
// which the client is unusable.
func (c *Client) Launch(ctx context.Context, info ipc.LaunchInfo) (ipc.LaunchResult, error) {
	txid := c.nextTxid()
	request, err := ipc.EncodeLaunch(txid, info)
	if err != nil {
		return ipc.LaunchResult{}, err
	}
	response, err := c.channel.Call(ctx, request)
	if err != nil {
		return ipc.LaunchResult{}, fmt.Errorf("launch %q: %w", info.Name, err)
	}
	header, result, err := ipc.DecodeLaunchResponse(response)
	if err != nil {
		return ipc.LaunchResult{}, fmt.Errorf("launch %q: %w", info.Name, err)
	}
	if header.Txid != txid {
		result.Close()
		return ipc.LaunchResult{}, status.Errorf(status.ErrBadState, "launch %q: response txid %d, want %d", info.Name, header.Txid, txid)
	}
	return result, nil
}
