// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package launcher

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/bureau-foundation/process-launcher/lib/async"
	"github.com/bureau-foundation/process-launcher/lib/channel"
	"github.com/bureau-foundation/process-launcher/lib/ipc"
	"github.com/bureau-foundation/process-launcher/lib/status"
)

// SessionID identifies a session within its Server.
type SessionID uint64

// Session is one channel plus the launch state accumulated on it. All
// methods run on the loop goroutine.
type Session struct {
	id      SessionID
	channel *channel.Channel
	wait    *async.Wait
	state   State
	server  *Server
	logger  *slog.Logger
	ended   bool
}

// outcome tells the Server what to do after a session handled an
// event. A session never removes itself.
type outcome struct {
	end bool
	err error
}

// handleSignal drains up to signal.Count messages, then re-arms the
// wait. Peer closure ends the session only once the queue is empty.
func (s *Session) handleSignal(loop *async.Loop, waitErr error, signal async.Signal) outcome {
	if s.ended {
		return outcome{}
	}
	if waitErr != nil {
		return s.teardown(loop, fmt.Errorf("waiting for messages: %w", waitErr))
	}

	drained := signal.Observed&async.SignalReadable == 0
	if !drained {
		for count := uint64(0); count < signal.Count; count++ {
			message, err := s.channel.Read()
			if errors.Is(err, status.ErrShouldWait) {
				drained = true
				break
			}
			if err != nil {
				return s.teardown(loop, err)
			}
			if err := s.dispatch(message); err != nil {
				return s.teardown(loop, err)
			}
		}
	}

	if drained && signal.Observed&async.SignalPeerClosed != 0 {
		return s.teardown(loop, status.ErrPeerClosed)
	}
	if err := s.wait.Begin(loop); err != nil {
		return s.teardown(loop, fmt.Errorf("re-arming wait: %w", err))
	}
	return outcome{}
}

// dispatch decodes message and applies it. A returned error is fatal
// to the session.
func (s *Session) dispatch(message channel.Message) error {
	in, err := ipc.DecodeHeader(message)
	if err != nil {
		return err
	}
	s.logger.Debug("dispatching message",
		"txid", in.Header.Txid,
		"ordinal", in.Header.Ordinal.String(),
		"handles", in.HandleCount(),
	)

	switch in.Header.Ordinal {
	case ipc.OrdinalAddArgs:
		args, err := in.DecodeAddArgs()
		if err != nil {
			return err
		}
		s.state.AddArgs(args)

	case ipc.OrdinalAddEnvirons:
		environs, err := in.DecodeAddEnvirons()
		if err != nil {
			return err
		}
		s.state.AddEnvirons(environs)

	case ipc.OrdinalAddNames:
		names, err := in.DecodeAddNames()
		if err != nil {
			return err
		}
		if err := s.state.AddNames(names); err != nil {
			return err
		}

	case ipc.OrdinalAddHandles:
		infos, err := in.DecodeAddHandles()
		if err != nil {
			return err
		}
		if replaced := s.state.AddHandles(infos); replaced > 0 {
			s.logger.Debug("loader service replaced", "txid", in.Header.Txid, "replaced", replaced)
		}

	case ipc.OrdinalLaunch:
		info, err := in.DecodeLaunch()
		if err != nil {
			return err
		}
		return s.handleLaunch(in.Header, info)

	default:
		s.logger.Warn("unknown ordinal",
			"txid", in.Header.Txid,
			"ordinal", uint32(in.Header.Ordinal),
			"payload", in.Diagnose(),
		)
		in.Close()
		return status.Errorf(status.ErrNotSupported, "unknown ordinal %d", uint32(in.Header.Ordinal))
	}
	return nil
}

// teardown releases everything the session holds and reports that it
// ended. Only the first call has any effect.
func (s *Session) teardown(loop *async.Loop, err error) outcome {
	if s.ended {
		return outcome{}
	}
	s.ended = true

	// The wait must leave epoll before the descriptor is closed.
	if cancelErr := s.wait.Cancel(loop); cancelErr != nil {
		s.logger.Error("cancelling session wait", "error", cancelErr)
	}
	s.state.Reset()
	if closeErr := s.channel.Close(); closeErr != nil {
		s.logger.Error("closing session channel", "error", closeErr)
	}
	return outcome{end: true, err: err}
}
