// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package async

import (
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/bureau-foundation/process-launcher/lib/status"
)

// Signals is a set of readiness conditions.
type Signals uint32

const (
	// SignalReadable: at least one message is queued.
	SignalReadable Signals = 1 << iota
	// SignalPeerClosed: the other end has closed.
	SignalPeerClosed
)

// Signal describes one readiness notification. Count is the number of
// messages the handler may consume before it must re-arm; it is only
// meaningful when SignalReadable is observed.
type Signal struct {
	Observed Signals
	Count    uint64
}

// Handler is invoked on the loop goroutine when a wait fires. A
// non-nil err means the wait itself failed and signal is empty.
type Handler func(loop *Loop, wait *Wait, err error, signal Signal)

// Wait is a one-shot readiness wait on a descriptor. After it fires it
// stays registered but disarmed until Begin is called again.
type Wait struct {
	fd      int
	trigger Signals
	handler Handler

	key        int32
	registered bool
	pending    bool
}

// NewWait creates a wait for trigger on fd. The wait does not own fd.
func NewWait(fd int, trigger Signals, handler Handler) *Wait {
	return &Wait{fd: fd, trigger: trigger, handler: handler}
}

// Pending reports whether the wait is armed.
func (w *Wait) Pending() bool {
	return w.pending
}

// Begin arms the wait. Must be called on the loop goroutine once Run
// has started.
func (w *Wait) Begin(loop *Loop) error {
	if w.pending {
		return status.Errorf(status.ErrBadState, "wait on fd %d already pending", w.fd)
	}

	event := unix.EpollEvent{Events: epollFromSignals(w.trigger) | unix.EPOLLONESHOT}
	if !w.registered {
		w.key = loop.allocateKey()
		event.Fd = w.key
		if err := unix.EpollCtl(loop.epoll.FD(), unix.EPOLL_CTL_ADD, w.fd, &event); err != nil {
			return fmt.Errorf("epoll_ctl add fd %d: %w", w.fd, err)
		}
		loop.waits[w.key] = w
		w.registered = true
	} else {
		event.Fd = w.key
		if err := unix.EpollCtl(loop.epoll.FD(), unix.EPOLL_CTL_MOD, w.fd, &event); err != nil {
			return fmt.Errorf("epoll_ctl mod fd %d: %w", w.fd, err)
		}
	}
	w.pending = true
	return nil
}

// Cancel removes the wait from the loop. It must run before the
// descriptor is closed. Cancelling an unregistered wait is a no-op.
func (w *Wait) Cancel(loop *Loop) error {
	if !w.registered {
		return nil
	}
	delete(loop.waits, w.key)
	w.registered = false
	w.pending = false
	if err := unix.EpollCtl(loop.epoll.FD(), unix.EPOLL_CTL_DEL, w.fd, nil); err != nil && err != unix.ENOENT && err != unix.EBADF {
		return fmt.Errorf("epoll_ctl del fd %d: %w", w.fd, err)
	}
	return nil
}

func epollFromSignals(signals Signals) uint32 {
	var events uint32
	if signals&SignalReadable != 0 {
		events |= unix.EPOLLIN
	}
	if signals&SignalPeerClosed != 0 {
		events |= unix.EPOLLRDHUP
	}
	return events
}

func signalsFromEpoll(events uint32) Signals {
	var signals Signals
	if events&unix.EPOLLIN != 0 {
		signals |= SignalReadable
	}
	if events&(unix.EPOLLRDHUP|unix.EPOLLHUP) != 0 {
		signals |= SignalPeerClosed
	}
	return signals
}
