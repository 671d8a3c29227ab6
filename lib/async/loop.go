// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package async

import (
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/bureau-foundation/process-launcher/lib/handle"
	"github.com/bureau-foundation/process-launcher/lib/status"
)

// DefaultDrainBatch is the message budget reported with each readable
// signal when Options.DrainBatch is zero.
const DefaultDrainBatch = 64

// wakeKey is the epoll key of the loop's own eventfd. Wait keys start
// at 1.
const wakeKey = 0

// Options configures a Loop.
type Options struct {
	// DrainBatch is reported as Signal.Count on readable signals.
	DrainBatch uint64

	Logger *slog.Logger
}

// Loop is a single-threaded dispatcher over an epoll instance. Every
// wait handler and posted task runs on the goroutine that called Run,
// one at a time, so state touched only from handlers needs no locking.
type Loop struct {
	epoll      handle.Handle
	wake       handle.Handle
	drainBatch uint64
	logger     *slog.Logger

	// waits and nextKey are touched only from the loop goroutine (or
	// before Run starts).
	waits   map[int32]*Wait
	nextKey int32

	mu     sync.Mutex
	tasks  []func()
	closed bool
}

// New creates a loop. Close it when done.
func New(options Options) (*Loop, error) {
	epollFD, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("epoll_create1: %w", err)
	}
	epoll := handle.New(epollFD)

	wakeFD, err := unix.Eventfd(0, unix.EFD_CLOEXEC|unix.EFD_NONBLOCK)
	if err != nil {
		epoll.Close()
		return nil, fmt.Errorf("eventfd: %w", err)
	}
	wake := handle.New(wakeFD)

	event := unix.EpollEvent{Events: unix.EPOLLIN, Fd: wakeKey}
	if err := unix.EpollCtl(epollFD, unix.EPOLL_CTL_ADD, wakeFD, &event); err != nil {
		wake.Close()
		epoll.Close()
		return nil, fmt.Errorf("registering eventfd: %w", err)
	}

	drainBatch := options.DrainBatch
	if drainBatch == 0 {
		drainBatch = DefaultDrainBatch
	}
	logger := options.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Loop{
		epoll:      epoll,
		wake:       wake,
		drainBatch: drainBatch,
		logger:     logger,
		waits:      make(map[int32]*Wait),
		nextKey:    wakeKey + 1,
	}, nil
}

// Post queues task to run on the loop goroutine. Safe to call from any
// goroutine. Fails once the loop is closed.
func (l *Loop) Post(task func()) error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return status.Errorf(status.ErrBadState, "loop is closed")
	}
	l.tasks = append(l.tasks, task)
	l.mu.Unlock()
	return l.signalWake()
}

func (l *Loop) signalWake() error {
	var buffer [8]byte
	binary.NativeEndian.PutUint64(buffer[:], 1)
	_, err := unix.Write(l.wake.FD(), buffer[:])
	// EAGAIN means the counter is saturated, which still wakes the loop.
	if err != nil && err != unix.EAGAIN {
		return fmt.Errorf("signalling eventfd: %w", err)
	}
	return nil
}

// Run dispatches events until ctx is done or an unrecoverable epoll
// error occurs. Returns nil on cancellation.
func (l *Loop) Run(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() {
		_ = l.signalWake()
	})
	defer stop()

	events := make([]unix.EpollEvent, 64)
	for {
		if ctx.Err() != nil {
			return nil
		}
		count, err := unix.EpollWait(l.epoll.FD(), events, -1)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return fmt.Errorf("epoll_wait: %w", err)
		}
		for index := 0; index < count; index++ {
			l.dispatch(events[index])
		}
	}
}

func (l *Loop) dispatch(event unix.EpollEvent) {
	if event.Fd == wakeKey {
		l.runTasks()
		return
	}
	wait, ok := l.waits[event.Fd]
	if !ok || !wait.pending {
		// Cancelled by an earlier handler in the same batch.
		return
	}
	wait.pending = false

	signal := Signal{Observed: signalsFromEpoll(event.Events)}
	if signal.Observed&SignalReadable != 0 {
		signal.Count = l.drainBatch
	}

	var waitErr error
	if event.Events&unix.EPOLLERR != 0 && signal.Observed == 0 {
		waitErr = socketError(wait.fd)
	}
	wait.handler(l, wait, waitErr, signal)
}

func (l *Loop) runTasks() {
	var buffer [8]byte
	_, _ = unix.Read(l.wake.FD(), buffer[:])

	l.mu.Lock()
	tasks := l.tasks
	l.tasks = nil
	l.mu.Unlock()

	for _, task := range tasks {
		task()
	}
}

// Close releases the epoll instance and eventfd. Waits still registered
// are dropped without their handlers running. Tasks posted but not yet
// run are discarded.
func (l *Loop) Close() error {
	l.mu.Lock()
	l.closed = true
	dropped := len(l.tasks)
	l.tasks = nil
	l.mu.Unlock()

	if dropped > 0 {
		l.logger.Warn("loop closed with pending tasks", "dropped", dropped)
	}
	l.waits = make(map[int32]*Wait)
	l.wake.Close()
	return l.epoll.Close()
}

func (l *Loop) allocateKey() int32 {
	for {
		key := l.nextKey
		l.nextKey++
		if l.nextKey <= wakeKey {
			l.nextKey = wakeKey + 1
		}
		if _, used := l.waits[key]; !used && key != wakeKey {
			return key
		}
	}
}

func socketError(fd int) error {
	code, err := unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_ERROR)
	if err != nil {
		return fmt.Errorf("reading SO_ERROR: %w", err)
	}
	if code == 0 {
		return status.Errorf(status.ErrIO, "descriptor %d reported EPOLLERR", fd)
	}
	return fmt.Errorf("descriptor %d: %w", fd, unix.Errno(code))
}
