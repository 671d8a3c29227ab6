// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"

	"golang.org/x/sys/unix"

	"github.com/bureau-foundation/process-launcher/lib/channel"
	"github.com/bureau-foundation/process-launcher/lib/handle"
)

// ChannelHandler takes ownership of an accepted connection.
type ChannelHandler func(ch *channel.Channel) error

// SocketServer accepts SOCK_SEQPACKET connections on a Unix socket and
// hands each one to a ChannelHandler.
type SocketServer struct {
	socketPath string
	mode       os.FileMode
	handler    ChannelHandler
	logger     *slog.Logger
}

// NewSocketServer creates a server that will listen on socketPath. A
// non-zero mode is applied to the socket file after it is created.
func NewSocketServer(socketPath string, mode os.FileMode, handler ChannelHandler, logger *slog.Logger) *SocketServer {
	return &SocketServer{
		socketPath: socketPath,
		mode:       mode,
		handler:    handler,
		logger:     logger,
	}
}

// Serve accepts connections until ctx is cancelled. Any existing
// socket file at the configured path is removed before listening, and
// the socket file is removed on return.
//
// ready, if non-nil, is closed once the socket is listening.
func (s *SocketServer) Serve(ctx context.Context, ready chan<- struct{}) error {
	if err := os.Remove(s.socketPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing stale socket %s: %w", s.socketPath, err)
	}

	listener, err := net.ListenUnix("unixpacket", &net.UnixAddr{Name: s.socketPath, Net: "unixpacket"})
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.socketPath, err)
	}
	defer func() {
		listener.Close()
		os.Remove(s.socketPath)
	}()
	if s.mode != 0 {
		if err := os.Chmod(s.socketPath, s.mode); err != nil {
			return fmt.Errorf("setting mode of %s: %w", s.socketPath, err)
		}
	}

	// Unblock Accept when the context is cancelled.
	go func() {
		<-ctx.Done()
		listener.Close()
	}()

	s.logger.Info("socket server listening", "path", s.socketPath)
	if ready != nil {
		close(ready)
	}

	for {
		conn, err := listener.AcceptUnix()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			s.logger.Error("accept failed", "error", err)
			continue
		}

		ch, err := ChannelFromConn(conn)
		if err != nil {
			s.logger.Error("detaching connection", "error", err)
			continue
		}
		if err := s.handler(ch); err != nil {
			s.logger.Error("handing off connection", "error", err)
		}
	}
}

// ChannelFromConn moves conn's descriptor into a channel. conn is
// closed on every path.
func ChannelFromConn(conn *net.UnixConn) (*channel.Channel, error) {
	defer conn.Close()

	raw, err := conn.SyscallConn()
	if err != nil {
		return nil, fmt.Errorf("accessing connection descriptor: %w", err)
	}
	duplicate, duplicateErr := -1, error(nil)
	if err := raw.Control(func(fd uintptr) {
		duplicate, duplicateErr = unix.FcntlInt(fd, unix.F_DUPFD_CLOEXEC, 0)
	}); err != nil {
		return nil, fmt.Errorf("accessing connection descriptor: %w", err)
	}
	if duplicateErr != nil {
		return nil, fmt.Errorf("duplicating connection descriptor: %w", duplicateErr)
	}
	return channel.FromHandle(handle.New(duplicate))
}

// Dial connects to the launcher socket at socketPath.
func Dial(ctx context.Context, socketPath string) (*channel.Channel, error) {
	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "unixpacket", socketPath)
	if err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", socketPath, err)
	}
	return ChannelFromConn(conn.(*net.UnixConn))
}
