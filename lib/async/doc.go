// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package async is a small single-threaded readiness dispatcher built
// on epoll.
//
// A [Wait] watches one descriptor for [SignalReadable] and/or
// [SignalPeerClosed]. Waits are one-shot: when one fires it is disarmed
// until the handler calls [Wait.Begin] again. Readiness is
// level-triggered underneath, so a handler that stops consuming
// before the queue is empty gets woken again as soon as it re-arms.
//
// epoll cannot report how many messages are queued, so the loop hands
// each readable signal a fixed budget in [Signal.Count] (the drain
// batch). A handler reads at most that many messages, stops early on
// status.ErrShouldWait, and re-arms. Draining is therefore a bounded
// generator and one busy descriptor cannot starve the others.
//
// All handlers and tasks queued with [Loop.Post] run on the goroutine
// that called [Loop.Run]. Post is the only method safe to call from
// other goroutines.
package async
