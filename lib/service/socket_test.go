// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package service

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/bureau-foundation/process-launcher/lib/channel"
	"github.com/bureau-foundation/process-launcher/lib/testutil"
)

func startServer(t *testing.T, mode os.FileMode) (string, <-chan *channel.Channel, func() error) {
	t.Helper()
	socketPath := filepath.Join(testutil.SocketDir(t), "launcher.sock")
	accepted := make(chan *channel.Channel, 4)
	server := NewSocketServer(socketPath, mode, func(ch *channel.Channel) error {
		accepted <- ch
		return nil
	}, slog.New(slog.DiscardHandler))

	ctx, cancel := context.WithCancel(context.Background())
	ready := make(chan struct{})
	done := make(chan error, 1)
	go func() { done <- server.Serve(ctx, ready) }()
	testutil.RequireClosed(t, ready, 5*time.Second, "waiting for socket server")

	var (
		stopped bool
		result  error
	)
	stop := func() error {
		if !stopped {
			stopped = true
			cancel()
			result = testutil.RequireReceive(t, done, 5*time.Second, "waiting for Serve to return")
		}
		return result
	}
	t.Cleanup(func() { stop() })
	return socketPath, accepted, stop
}

func TestDialAndAccept(t *testing.T) {
	socketPath, accepted, _ := startServer(t, 0)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	client, err := Dial(ctx, socketPath)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer client.Close()

	server := testutil.RequireReceive(t, accepted, 5*time.Second, "waiting for accepted channel")
	defer server.Close()

	if err := client.Write(channel.Message{Bytes: []byte("ping")}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	message, err := server.ReadBlocking(ctx)
	if err != nil {
		t.Fatalf("ReadBlocking: %v", err)
	}
	if string(message.Bytes) != "ping" {
		t.Errorf("received %q, want ping", message.Bytes)
	}
}

func TestServeAppliesModeAndCleansUp(t *testing.T) {
	socketPath, _, stop := startServer(t, 0o600)

	info, err := os.Stat(socketPath)
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Errorf("socket mode = %v, want 0600", info.Mode().Perm())
	}

	if err := stop(); err != nil {
		t.Fatalf("Serve: %v", err)
	}
	if _, err := os.Stat(socketPath); !os.IsNotExist(err) {
		t.Errorf("socket file still present after shutdown (stat: %v)", err)
	}
}

func TestServeReplacesStaleSocket(t *testing.T) {
	socketPath := filepath.Join(testutil.SocketDir(t), "stale.sock")
	if err := os.WriteFile(socketPath, nil, 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	server := NewSocketServer(socketPath, 0, func(ch *channel.Channel) error {
		ch.Close()
		return nil
	}, slog.New(slog.DiscardHandler))

	ctx, cancel := context.WithCancel(context.Background())
	ready := make(chan struct{})
	done := make(chan error, 1)
	go func() { done <- server.Serve(ctx, ready) }()
	testutil.RequireClosed(t, ready, 5*time.Second, "waiting for socket server")
	cancel()
	if err := testutil.RequireReceive(t, done, 5*time.Second, "waiting for Serve"); err != nil {
		t.Fatalf("Serve: %v", err)
	}
}
