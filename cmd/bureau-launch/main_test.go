// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	"golang.org/x/sys/unix"
	"gopkg.in/yaml.v3"

	"github.com/bureau-foundation/process-launcher/lib/async"
	"github.com/bureau-foundation/process-launcher/lib/channel"
	"github.com/bureau-foundation/process-launcher/lib/launcher"
	"github.com/bureau-foundation/process-launcher/lib/service"
	"github.com/bureau-foundation/process-launcher/lib/spawn"
	"github.com/bureau-foundation/process-launcher/lib/status"
	"github.com/bureau-foundation/process-launcher/lib/testutil"
)

func TestParseArgs(t *testing.T) {
	req, err := parseArgs([]string{
		"--socket", "/run/test.sock",
		"-e", "A=1", "--env", "B=two=2",
		"--dir", "/data=/srv/data",
		"--stdio=false",
		"/bin/echo", "--not-a-flag", "x",
	})
	if err != nil {
		t.Fatalf("parseArgs: %v", err)
	}
	if req.socketPath != "/run/test.sock" {
		t.Errorf("socketPath = %s", req.socketPath)
	}
	if req.name != "echo" {
		t.Errorf("name = %s, want echo", req.name)
	}
	if !slices.Equal(req.command, []string{"/bin/echo", "--not-a-flag", "x"}) {
		t.Errorf("command = %q", req.command)
	}
	if !slices.Equal(req.environ, []string{"A=1", "B=two=2"}) {
		t.Errorf("environ = %q", req.environ)
	}
	if len(req.names) != 1 || req.names[0] != (mount{path: "/data", directory: "/srv/data"}) {
		t.Errorf("names = %+v", req.names)
	}
	if req.stdio || !req.wait {
		t.Errorf("stdio = %v, wait = %v", req.stdio, req.wait)
	}
}

func TestParseArgsSocketFromConfig(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "launcher.jsonc")
	content := `{"launcher": {"socket_path": "/run/from-config.sock"}} // trailing comment`
	if err := os.WriteFile(configPath, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	req, err := parseArgs([]string{"--config", configPath, "--name", "tool", "/bin/true"})
	if err != nil {
		t.Fatalf("parseArgs: %v", err)
	}
	if req.socketPath != "/run/from-config.sock" {
		t.Errorf("socketPath = %s", req.socketPath)
	}
	if req.name != "tool" {
		t.Errorf("name = %s", req.name)
	}
}

func TestParseArgsErrors(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"no executable", []string{"--socket", "/s"}, "executable required"},
		{"bad env", []string{"-e", "NOVALUE", "/bin/true"}, "KEY=VALUE"},
		{"relative dir", []string{"--dir", "data=/srv", "/bin/true"}, "/PATH=HOSTDIR"},
		{"dir without host", []string{"--dir", "/data=", "/bin/true"}, "/PATH=HOSTDIR"},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			_, err := parseArgs(test.args)
			if err == nil || !strings.Contains(err.Error(), test.want) {
				t.Errorf("parseArgs(%q) = %v, want error containing %q", test.args, err, test.want)
			}
		})
	}
}

func TestInterpreterOfNonELF(t *testing.T) {
	fd, err := unix.MemfdCreate("script", unix.MFD_CLOEXEC)
	if err != nil {
		t.Fatalf("memfd_create: %v", err)
	}
	defer unix.Close(fd)
	if _, err := unix.Write(fd, []byte("#!/bin/sh\n")); err != nil {
		t.Fatalf("write: %v", err)
	}
	interpreter, err := interpreterOf(fd)
	if err != nil || interpreter != "" {
		t.Errorf("interpreterOf(script) = %q, %v; want no interpreter", interpreter, err)
	}
}

func TestWaitExitHonorsContext(t *testing.T) {
	// A pipe read end stands in for a pidfd whose process never exits.
	var fds [2]int
	if err := unix.Pipe2(fds[:], unix.O_CLOEXEC); err != nil {
		t.Fatalf("pipe2: %v", err)
	}
	defer unix.Close(fds[0])
	defer unix.Close(fds[1])

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()
	if err := waitExit(ctx, fds[0]); err != context.DeadlineExceeded {
		t.Errorf("waitExit = %v, want context.DeadlineExceeded", err)
	}
}

func startLauncher(t *testing.T) string {
	t.Helper()
	logger := slog.New(slog.DiscardHandler)
	loop, err := async.New(async.Options{})
	if err != nil {
		t.Fatalf("async.New: %v", err)
	}
	server, err := launcher.NewServer(loop, launcher.Options{
		Factory: &spawn.Factory{Reap: true, Logger: logger},
		Logger:  logger,
	})
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	socketPath := filepath.Join(testutil.SocketDir(t), "launcher.sock")
	socketServer := service.NewSocketServer(socketPath, 0, func(ch *channel.Channel) error {
		_, err := server.Serve(ch)
		return err
	}, logger)

	ctx, cancel := context.WithCancel(context.Background())
	loopDone := make(chan error, 1)
	go func() { loopDone <- loop.Run(ctx) }()
	ready := make(chan struct{})
	socketDone := make(chan error, 1)
	go func() { socketDone <- socketServer.Serve(ctx, ready) }()
	testutil.RequireClosed(t, ready, 5*time.Second, "waiting for launcher socket")

	t.Cleanup(func() {
		cancel()
		testutil.RequireReceive(t, socketDone, 5*time.Second, "waiting for socket server")
		testutil.RequireReceive(t, loopDone, 5*time.Second, "waiting for loop")
		server.Close()
		loop.Close()
	})
	return socketPath
}

func TestLaunchThroughLauncher(t *testing.T) {
	if _, err := os.Stat("/bin/sh"); err != nil {
		t.Skipf("/bin/sh not available: %v", err)
	}
	socketPath := startLauncher(t)

	marker := filepath.Join(t.TempDir(), "ran")
	req, err := parseArgs([]string{
		"--socket", socketPath,
		"--stdio=false",
		"--show-layout",
		"-e", "MARKER=" + marker,
		"/bin/sh", "-c", `echo done > "$MARKER"`,
	})
	if err != nil {
		t.Fatalf("parseArgs: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	var stderr bytes.Buffer
	if err := launch(ctx, req, &stderr); err != nil {
		t.Fatalf("launch: %v", err)
	}

	// launch waited for the exit, so the marker is complete.
	content, err := os.ReadFile(marker)
	if err != nil {
		t.Fatalf("child did not run: %v", err)
	}
	if string(content) != "done\n" {
		t.Errorf("marker = %q", content)
	}

	var layout spawn.Layout
	if err := yaml.Unmarshal(stderr.Bytes(), &layout); err != nil {
		t.Fatalf("layout output is not YAML: %v\n%s", err, stderr.String())
	}
	if layout.Name != "sh" || layout.Args != 3 || layout.Environ != 1 || layout.PID <= 0 {
		t.Errorf("layout = %+v", layout)
	}
}

func TestLaunchReportsLaunchFailure(t *testing.T) {
	socketPath := startLauncher(t)
	script := filepath.Join(t.TempDir(), "script")
	if err := os.WriteFile(script, []byte("#!/bin/sh\nexit 0\n"), 0o755); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	req, err := parseArgs([]string{"--socket", socketPath, "--stdio=false", script})
	if err != nil {
		t.Fatalf("parseArgs: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err = launch(ctx, req, &bytes.Buffer{})
	// A non-ELF image needs no interpreter, so no loader is sent.
	if status.FromError(err) != status.ErrInvalidArgs {
		t.Fatalf("launch = %v, want ErrInvalidArgs", err)
	}
}
