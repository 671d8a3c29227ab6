// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package loader

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"golang.org/x/sys/unix"

	"github.com/bureau-foundation/process-launcher/lib/channel"
	"github.com/bureau-foundation/process-launcher/lib/handle"
	"github.com/bureau-foundation/process-launcher/lib/ipc"
	"github.com/bureau-foundation/process-launcher/lib/status"
	"github.com/bureau-foundation/process-launcher/lib/testutil"
)

// startServer serves resolver on one end of a new channel and returns
// a client for the other end plus a channel that receives Serve's
// result.
func startServer(t *testing.T, resolver Resolver) (*Client, *channel.Channel, <-chan error) {
	t.Helper()
	clientEnd, serverEnd, err := channel.NewPair()
	if err != nil {
		t.Fatalf("NewPair: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- (&Server{Resolver: resolver}).Serve(ctx, serverEnd)
		serverEnd.Close()
	}()
	t.Cleanup(func() {
		cancel()
		clientEnd.Close()
	})
	return NewClient(clientEnd), clientEnd, done
}

func callContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestDirectoryResolverLoadsObject(t *testing.T) {
	first, second := t.TempDir(), t.TempDir()
	if err := os.WriteFile(filepath.Join(second, "ld-test.so"), []byte("interpreter"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	client, _, _ := startServer(t, DirectoryResolver(first, second))

	object, err := client.LoadObject(callContext(t), "/lib64/ld-test.so")
	if err != nil {
		t.Fatalf("LoadObject: %v", err)
	}
	defer object.Close()

	buffer := make([]byte, 32)
	n, err := unix.Pread(object.FD(), buffer, 0)
	if err != nil {
		t.Fatalf("Pread: %v", err)
	}
	if string(buffer[:n]) != "interpreter" {
		t.Errorf("object contents = %q", buffer[:n])
	}
}

func TestLoadObjectNotFound(t *testing.T) {
	client, _, _ := startServer(t, DirectoryResolver(t.TempDir()))

	_, err := client.LoadObject(callContext(t), "missing.so")
	if status.FromError(err) != status.ErrNotFound {
		t.Fatalf("LoadObject(missing) = %v, want ErrNotFound", err)
	}

	// The service keeps answering after a failed lookup.
	if _, err := client.LoadObject(callContext(t), ".."); status.FromError(err) != status.ErrInvalidArgs {
		t.Fatalf("LoadObject(..) = %v, want ErrInvalidArgs", err)
	}
}

func TestLoadObjectResolverStatus(t *testing.T) {
	client, _, _ := startServer(t, func(name string) (handle.Handle, error) {
		return handle.Invalid(), status.Errorf(status.ErrAccessDenied, "%s is not allowed", name)
	})
	if _, err := client.LoadObject(callContext(t), "ld.so"); status.FromError(err) != status.ErrAccessDenied {
		t.Fatalf("LoadObject = %v, want ErrAccessDenied", err)
	}
}

func TestServeReturnsOnPeerClose(t *testing.T) {
	_, clientEnd, done := startServer(t, DirectoryResolver())
	clientEnd.Close()
	if err := testutil.RequireReceive(t, done, 5*time.Second, "waiting for Serve"); err != nil {
		t.Fatalf("Serve after peer close = %v, want nil", err)
	}
}

func TestServeRejectsUnknownOrdinal(t *testing.T) {
	_, clientEnd, done := startServer(t, DirectoryResolver())
	message, err := ipc.Encode(ipc.Header{Txid: 1, Ordinal: 9}, map[string]any{}, nil)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if err := clientEnd.Write(message); err != nil {
		t.Fatalf("Write: %v", err)
	}
	err = testutil.RequireReceive(t, done, 5*time.Second, "waiting for Serve")
	if status.FromError(err) != status.ErrNotSupported {
		t.Fatalf("Serve = %v, want ErrNotSupported", err)
	}
}

func TestLoadObjectHonorsContext(t *testing.T) {
	clientEnd, silentEnd, err := channel.NewPair()
	if err != nil {
		t.Fatalf("NewPair: %v", err)
	}
	defer clientEnd.Close()
	defer silentEnd.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()
	if _, err := NewClient(clientEnd).LoadObject(ctx, "ld.so"); status.FromError(err) != status.ErrTimedOut {
		t.Fatalf("LoadObject against a silent service = %v, want ErrTimedOut", err)
	}
}
