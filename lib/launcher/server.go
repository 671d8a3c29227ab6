// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package launcher

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/bureau-foundation/process-launcher/lib/async"
	"github.com/bureau-foundation/process-launcher/lib/channel"
	"github.com/bureau-foundation/process-launcher/lib/clock"
	"github.com/bureau-foundation/process-launcher/lib/status"
)

// Options configures a Server.
type Options struct {
	// Factory creates processes. Required.
	Factory Factory

	// MaxErrorMessage caps the error message of failed launch
	// responses. Zero means DefaultMaxErrorMessage; values above
	// MaxErrorMessageLimit are clamped to it.
	MaxErrorMessage int

	// OnSessionEnd, if set, is called on the loop goroutine exactly
	// once per session with the status that ended it.
	OnSessionEnd func(id SessionID, err error)

	// Clock times launches. Nil means the real clock.
	Clock clock.Clock

	Logger *slog.Logger
}

// Server owns the sessions served on one loop.
type Server struct {
	loop            *async.Loop
	factory         Factory
	maxErrorMessage int
	onSessionEnd    func(SessionID, error)
	clock           clock.Clock
	logger          *slog.Logger

	nextID atomic.Uint64

	// pending holds channels handed to Serve whose registration task
	// has not run yet. Close finishes whatever is left here, since a
	// closed loop drops queued tasks.
	pendingMu sync.Mutex
	pending   map[SessionID]*channel.Channel

	// sessions is touched only on the loop goroutine, or by Close after
	// the loop has stopped.
	sessions map[SessionID]*Session
}

// NewServer creates a server whose sessions run on loop.
func NewServer(loop *async.Loop, options Options) (*Server, error) {
	if loop == nil {
		return nil, errors.New("launcher: loop is required")
	}
	if options.Factory == nil {
		return nil, errors.New("launcher: factory is required")
	}
	maxErrorMessage := options.MaxErrorMessage
	if maxErrorMessage <= 0 {
		maxErrorMessage = DefaultMaxErrorMessage
	}
	maxErrorMessage = min(maxErrorMessage, MaxErrorMessageLimit)
	serverClock := options.Clock
	if serverClock == nil {
		serverClock = clock.Real()
	}
	logger := options.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		loop:            loop,
		factory:         options.Factory,
		maxErrorMessage: maxErrorMessage,
		onSessionEnd:    options.OnSessionEnd,
		clock:           serverClock,
		logger:          logger,
		pending:         make(map[SessionID]*channel.Channel),
		sessions:        make(map[SessionID]*Session),
	}, nil
}

// Serve starts a session on ch and returns its ID. The server takes
// ownership of ch. Safe to call from any goroutine; the session begins
// receiving once the loop runs the registration.
func (s *Server) Serve(ch *channel.Channel) (SessionID, error) {
	id := SessionID(s.nextID.Add(1))
	s.pendingMu.Lock()
	s.pending[id] = ch
	s.pendingMu.Unlock()
	if err := s.loop.Post(func() { s.start(id) }); err != nil {
		if s.claim(id) != nil {
			ch.Close()
		}
		return 0, fmt.Errorf("registering session %d: %w", id, err)
	}
	return id, nil
}

// claim removes id from the pending set and returns its channel, or nil
// if Close already took it.
func (s *Server) claim(id SessionID) *channel.Channel {
	s.pendingMu.Lock()
	defer s.pendingMu.Unlock()
	ch := s.pending[id]
	delete(s.pending, id)
	return ch
}

func (s *Server) start(id SessionID) {
	ch := s.claim(id)
	if ch == nil {
		return
	}
	session := &Session{
		id:      id,
		channel: ch,
		server:  s,
		logger:  s.logger.With("session_id", uint64(id)),
	}
	session.wait = async.NewWait(ch.FD(), async.SignalReadable|async.SignalPeerClosed,
		func(loop *async.Loop, wait *async.Wait, err error, signal async.Signal) {
			if result := session.handleSignal(loop, err, signal); result.end {
				s.finish(session, result.err)
			}
		})
	s.sessions[id] = session
	session.logger.Debug("session started")

	if err := session.wait.Begin(s.loop); err != nil {
		s.finish(session, session.teardown(s.loop, fmt.Errorf("arming wait: %w", err)).err)
	}
}

func (s *Server) finish(session *Session, err error) {
	delete(s.sessions, session.id)
	s.report(session.id, session.logger, err)
}

func (s *Server) report(id SessionID, logger *slog.Logger, err error) {
	code := status.FromError(err)
	if code == status.ErrPeerClosed || code == status.ErrCanceled {
		logger.Info("session ended", "status", code.String())
	} else {
		logger.Warn("session ended", "status", code.String(), "error", err)
	}
	if s.onSessionEnd != nil {
		s.onSessionEnd(id, err)
	}
}

// Len returns the number of live sessions. Loop goroutine only.
func (s *Server) Len() int {
	return len(s.sessions)
}

// Close tears down every remaining session with status.ErrCanceled,
// including sessions handed to Serve that never started. Call it on the
// loop goroutine or after Run has returned.
func (s *Server) Close() {
	s.pendingMu.Lock()
	pending := s.pending
	s.pending = make(map[SessionID]*channel.Channel)
	s.pendingMu.Unlock()
	for id, ch := range pending {
		logger := s.logger.With("session_id", uint64(id))
		if err := ch.Close(); err != nil {
			logger.Error("closing session channel", "error", err)
		}
		s.report(id, logger, status.ErrCanceled)
	}

	for _, session := range s.sessions {
		if result := session.teardown(s.loop, status.ErrCanceled); result.end {
			s.finish(session, result.err)
		}
	}
}
