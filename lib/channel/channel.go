// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package channel

import (
	"context"
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/bureau-foundation/process-launcher/lib/handle"
	"github.com/bureau-foundation/process-launcher/lib/status"
)

const (
	// MaxMessageBytes bounds the byte payload of one message.
	MaxMessageBytes = 64 * 1024

	// MaxMessageHandles bounds the handles carried by one message.
	MaxMessageHandles = 64

	// pollInterval is how often blocking waits re-check their context.
	pollInterval = 100
)

// Message is one datagram: bytes plus the handles that travelled with
// it. The Message owns its handles until they are moved out.
type Message struct {
	Bytes   []byte
	Handles []handle.Handle
}

// CloseHandles closes every handle the message still owns.
func (m *Message) CloseHandles() {
	handle.CloseAll(m.Handles)
}

// Channel is one end of a SOCK_SEQPACKET socket pair. All operations
// are non-blocking except [Channel.WaitReadable] and [Channel.Call].
// A Channel is not safe for concurrent use.
type Channel struct {
	socket handle.Handle
	buffer []byte
	oob    []byte
}

// NewPair returns both ends of a new channel.
func NewPair() (*Channel, *Channel, error) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_SEQPACKET|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return nil, nil, fmt.Errorf("socketpair: %w", err)
	}
	return newChannel(handle.New(fds[0])), newChannel(handle.New(fds[1])), nil
}

// FromHandle wraps a socket handle received from elsewhere (an accepted
// connection or a handle carried in a message). The socket must be
// SOCK_SEQPACKET; it is switched to non-blocking mode. On error the
// handle is closed.
func FromHandle(socket handle.Handle) (*Channel, error) {
	fd := socket.FD()
	if fd < 0 {
		return nil, status.ErrBadHandle
	}
	socketType, err := unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_TYPE)
	if err != nil {
		socket.Close()
		return nil, fmt.Errorf("reading socket type of fd %d: %w", fd, err)
	}
	if socketType != unix.SOCK_SEQPACKET {
		socket.Close()
		return nil, status.Errorf(status.ErrInvalidArgs, "fd %d is not a SOCK_SEQPACKET socket (type %d)", fd, socketType)
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		socket.Close()
		return nil, fmt.Errorf("setting fd %d non-blocking: %w", fd, err)
	}
	return newChannel(socket), nil
}

func newChannel(socket handle.Handle) *Channel {
	return &Channel{
		socket: socket,
		buffer: make([]byte, MaxMessageBytes),
		oob:    make([]byte, unix.CmsgSpace(MaxMessageHandles*4)),
	}
}

// FD returns the socket descriptor for readiness registration. The
// channel keeps ownership.
func (c *Channel) FD() int {
	return c.socket.FD()
}

// Take moves the underlying socket out as a handle so the channel can
// itself be sent in a message. The Channel is unusable afterwards.
func (c *Channel) Take() handle.Handle {
	return c.socket.Take()
}

// Close closes the socket. It is idempotent.
func (c *Channel) Close() error {
	return c.socket.Close()
}

// Read reads one message without blocking. It returns
// status.ErrShouldWait when nothing is queued and status.ErrPeerClosed
// once the peer has closed and the queue is drained. A zero-length
// datagram with no handles is indistinguishable from end-of-stream on
// a SOCK_SEQPACKET socket and is reported as peer-closed.
func (c *Channel) Read() (Message, error) {
	fd := c.socket.FD()
	if fd < 0 {
		return Message{}, status.ErrBadHandle
	}

	var (
		n, oobn, flags int
		err            error
	)
	for {
		n, oobn, flags, _, err = unix.Recvmsg(fd, c.buffer, c.oob, unix.MSG_DONTWAIT|unix.MSG_CMSG_CLOEXEC)
		if err != unix.EINTR {
			break
		}
	}
	if err == unix.EAGAIN {
		return Message{}, status.ErrShouldWait
	}
	if err != nil {
		return Message{}, fmt.Errorf("recvmsg: %w", err)
	}

	handles, parseErr := parseRights(c.oob[:oobn])
	if parseErr != nil {
		handle.CloseAll(handles)
		return Message{}, parseErr
	}
	if flags&(unix.MSG_TRUNC|unix.MSG_CTRUNC) != 0 {
		handle.CloseAll(handles)
		return Message{}, status.Errorf(status.ErrInvalidArgs, "message truncated (flags %#x)", flags)
	}
	if n == 0 && len(handles) == 0 {
		return Message{}, status.ErrPeerClosed
	}

	return Message{
		Bytes:   append([]byte(nil), c.buffer[:n]...),
		Handles: handles,
	}, nil
}

// parseRights extracts SCM_RIGHTS descriptors from control data. Every
// descriptor found is returned even on error so the caller can close
// them.
func parseRights(oob []byte) ([]handle.Handle, error) {
	if len(oob) == 0 {
		return nil, nil
	}
	controlMessages, err := unix.ParseSocketControlMessage(oob)
	if err != nil {
		return nil, fmt.Errorf("parsing control message: %w", err)
	}
	var handles []handle.Handle
	var firstError error
	for index := range controlMessages {
		fds, err := unix.ParseUnixRights(&controlMessages[index])
		if err != nil {
			if firstError == nil {
				firstError = fmt.Errorf("parsing SCM_RIGHTS: %w", err)
			}
			continue
		}
		for _, fd := range fds {
			handles = append(handles, handle.New(fd))
		}
	}
	return handles, firstError
}

// Write sends message without blocking. The message's handles are
// consumed whether or not the write succeeds: on success the peer owns
// its copies, and ours are closed.
func (c *Channel) Write(message Message) error {
	defer message.CloseHandles()

	fd := c.socket.FD()
	if fd < 0 {
		return status.ErrBadHandle
	}
	if len(message.Bytes) > MaxMessageBytes {
		return status.Errorf(status.ErrInvalidArgs, "message is %d bytes, limit %d", len(message.Bytes), MaxMessageBytes)
	}
	if len(message.Handles) > MaxMessageHandles {
		return status.Errorf(status.ErrInvalidArgs, "message carries %d handles, limit %d", len(message.Handles), MaxMessageHandles)
	}

	var rights []byte
	if len(message.Handles) > 0 {
		fds := make([]int, len(message.Handles))
		for index := range message.Handles {
			fds[index] = message.Handles[index].FD()
			if fds[index] < 0 {
				return status.Errorf(status.ErrBadHandle, "handle %d of message is invalid", index)
			}
		}
		rights = unix.UnixRights(fds...)
	}

	for {
		err := unix.Sendmsg(fd, message.Bytes, rights, nil, unix.MSG_DONTWAIT|unix.MSG_NOSIGNAL)
		if err == unix.EINTR {
			continue
		}
		if err == unix.EAGAIN {
			return status.ErrShouldWait
		}
		if err != nil {
			return fmt.Errorf("sendmsg: %w", err)
		}
		return nil
	}
}

// WaitReadable blocks until the channel has a message (or the peer has
// closed), or ctx is done.
func (c *Channel) WaitReadable(ctx context.Context) error {
	return c.waitFor(ctx, unix.POLLIN|unix.POLLRDHUP)
}

// WaitWritable blocks until a message can be written (or the peer has
// closed), or ctx is done.
func (c *Channel) WaitWritable(ctx context.Context) error {
	return c.waitFor(ctx, unix.POLLOUT)
}

func (c *Channel) waitFor(ctx context.Context, events int16) error {
	fd := c.socket.FD()
	if fd < 0 {
		return status.ErrBadHandle
	}
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		descriptors := []unix.PollFd{{Fd: int32(fd), Events: events}}
		count, err := unix.Poll(descriptors, pollInterval)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return fmt.Errorf("poll: %w", err)
		}
		if count > 0 {
			return nil
		}
	}
}

// ReadBlocking waits for and reads the next message.
func (c *Channel) ReadBlocking(ctx context.Context) (Message, error) {
	for {
		if err := c.WaitReadable(ctx); err != nil {
			return Message{}, err
		}
		message, err := c.Read()
		if err == status.ErrShouldWait {
			continue
		}
		return message, err
	}
}

// WriteBlocking waits until the channel has room and writes message.
// Like Write, it consumes the message's handles on every path.
func (c *Channel) WriteBlocking(ctx context.Context, message Message) error {
	if err := c.WaitWritable(ctx); err != nil {
		message.CloseHandles()
		return err
	}
	return c.Write(message)
}

// Call writes request and blocks for the next inbound message. It is
// meant for strictly sequential request/response protocols with one
// outstanding call.
func (c *Channel) Call(ctx context.Context, request Message) (Message, error) {
	if err := c.WriteBlocking(ctx, request); err != nil {
		return Message{}, err
	}
	return c.ReadBlocking(ctx)
}
