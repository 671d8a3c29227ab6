// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package spawn

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	"golang.org/x/sys/unix"

	"github.com/bureau-foundation/process-launcher/lib/binhash"
	"github.com/bureau-foundation/process-launcher/lib/channel"
	"github.com/bureau-foundation/process-launcher/lib/handle"
	"github.com/bureau-foundation/process-launcher/lib/loader"
	"github.com/bureau-foundation/process-launcher/lib/status"
)

const shellPath = "/bin/sh"

func openFile(t *testing.T, path string, flags int) handle.Handle {
	t.Helper()
	fd, err := unix.Open(path, flags|unix.O_CLOEXEC, 0)
	if err != nil {
		t.Fatalf("open %s: %v", path, err)
	}
	return handle.New(fd)
}

// requireShell skips the test when /bin/sh is unavailable and returns
// its PT_INTERP ("" for a static shell).
func requireShell(t *testing.T) string {
	t.Helper()
	if _, err := os.Stat(shellPath); err != nil {
		t.Skipf("%s not available: %v", shellPath, err)
	}
	image := openFile(t, shellPath, unix.O_RDONLY)
	defer image.Close()
	interpreter, err := readInterpreter(image.FD())
	if err != nil {
		t.Skipf("%s is not a usable ELF executable: %v", shellPath, err)
	}
	return interpreter
}

// serveLoader runs a loader service for the directory of interpreter
// and returns the client end as a handle.
func serveLoader(t *testing.T, interpreter string) handle.Handle {
	t.Helper()
	clientEnd, serverEnd, err := channel.NewPair()
	if err != nil {
		t.Fatalf("NewPair: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	server := &loader.Server{Resolver: loader.DirectoryResolver(filepath.Dir(interpreter))}
	go func() {
		defer serverEnd.Close()
		server.Serve(ctx, serverEnd)
	}()
	t.Cleanup(cancel)
	return clientEnd.Take()
}

func TestPlanLayout(t *testing.T) {
	stdout := handle.MakeID(handle.KindFD, 1)
	stderr := handle.MakeID(handle.KindFD, 2)
	tests := []struct {
		name string
		ids  []handle.ID
		want []int
		err  bool
	}{
		{name: "empty", ids: nil, want: []int{}},
		{
			name: "stdio and generic",
			ids:  []handle.ID{handle.MakeID(handle.KindNamespaceDir, 0), stdout, handle.MakeID(handle.KindUser0, 0), stderr},
			want: []int{4, 1, 5, 2},
		},
		{
			name: "generic skips fixed",
			ids:  []handle.ID{handle.MakeID(handle.KindFD, 5), handle.MakeID(handle.KindUser0, 0), handle.MakeID(handle.KindUser0, 1)},
			want: []int{5, 4, 6},
		},
		{name: "bootstrap fd reserved", ids: []handle.ID{handle.MakeID(handle.KindFD, 3)}, err: true},
		{name: "duplicate fd", ids: []handle.ID{stdout, stdout}, err: true},
		{name: "fd too large", ids: []handle.ID{handle.MakeID(handle.KindFD, maxFixedFD+1)}, err: true},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			got, err := planLayout(test.ids)
			if test.err {
				if status.FromError(err) != status.ErrInvalidArgs {
					t.Fatalf("planLayout = %v, %v; want ErrInvalidArgs", got, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("planLayout: %v", err)
			}
			if !slices.Equal(got, test.want) {
				t.Errorf("planLayout = %v, want %v", got, test.want)
			}
		})
	}
}

func TestNonELFImageRejected(t *testing.T) {
	script, err := createMemfd("script")
	if err != nil {
		t.Fatalf("createMemfd: %v", err)
	}
	if _, err := unix.Write(script.FD(), []byte("#!/bin/sh\nexit 0\n")); err != nil {
		t.Fatalf("write: %v", err)
	}

	job := handle.Invalid()
	creation := (&Factory{}).NewContext(&job, "script")
	creation.LoadExecutable(script)
	process, err := creation.Finalize()
	if status.FromError(err) != status.ErrNotSupported {
		t.Fatalf("Finalize = %v, want ErrNotSupported", err)
	}
	if process.Valid() {
		t.Error("failed Finalize returned a process handle")
	}
}

func TestDynamicImageNeedsLoader(t *testing.T) {
	if requireShell(t) == "" {
		t.Skip("static shell has no PT_INTERP")
	}

	job := handle.Invalid()
	creation := (&Factory{}).NewContext(&job, "sh")
	creation.LoadExecutable(openFile(t, shellPath, unix.O_RDONLY))

	// Later calls after a failure only consume their handles.
	reader, writer := pipe(t)
	defer writer.Close()
	creation.AddHandles([]handle.ID{handle.MakeID(handle.KindFD, 1)}, []handle.Handle{reader})

	_, err := creation.Finalize()
	if status.FromError(err) != status.ErrInvalidArgs {
		t.Fatalf("Finalize = %v, want ErrInvalidArgs", err)
	}
	if !strings.Contains(status.Message(err), "PT_INTERP") {
		t.Errorf("message = %q", status.Message(err))
	}
	if _, err := unix.Write(writer.FD(), []byte{0}); err != unix.EPIPE {
		t.Errorf("handle added after failure still open (write: %v)", err)
	}
}

func TestLoaderTimeout(t *testing.T) {
	if requireShell(t) == "" {
		t.Skip("static shell has no PT_INTERP")
	}
	clientEnd, silentEnd, err := channel.NewPair()
	if err != nil {
		t.Fatalf("NewPair: %v", err)
	}
	defer silentEnd.Close()

	job := handle.Invalid()
	creation := (&Factory{LoaderTimeout: 100 * time.Millisecond}).NewContext(&job, "sh")
	creation.UseLoaderService(clientEnd.Take())
	creation.LoadExecutable(openFile(t, shellPath, unix.O_RDONLY))
	if _, err := creation.Finalize(); status.FromError(err) != status.ErrTimedOut {
		t.Fatalf("Finalize = %v, want ErrTimedOut", err)
	}
}

func TestSpawnShell(t *testing.T) {
	interpreter := requireShell(t)

	job := handle.Invalid()
	creation := (&Factory{}).NewContext(&job, "shell")
	if interpreter != "" {
		previous := creation.UseLoaderService(serveLoader(t, interpreter))
		if previous.Valid() {
			t.Error("fresh context already held a loader service")
		}
	}
	creation.LoadExecutable(openFile(t, shellPath, unix.O_RDONLY))

	script := `printf '%s|%s' "$X" "$1"; [ -e /proc/self/fd/3 ] && printf '|boot'; [ -d /proc/self/fd/4/. ] && printf '|ns'; true`
	creation.SetArgs([]string{"sh", "-c", script, "sh", "arg1"})
	creation.SetEnviron([]string{"X=1", ""})
	creation.SetNametable([]string{"/data"})

	stdoutReader, stdoutWriter := pipe(t)
	directory := openFile(t, t.TempDir(), unix.O_RDONLY|unix.O_DIRECTORY)
	stdoutID := handle.MakeID(handle.KindFD, 1)
	namespaceID := handle.MakeID(handle.KindNamespaceDir, 0)
	creation.AddHandles([]handle.ID{stdoutID, namespaceID}, []handle.Handle{stdoutWriter, directory})

	rootRegion, err := creation.RootRegion().Duplicate()
	if err != nil {
		t.Fatalf("duplicating root region: %v", err)
	}
	defer rootRegion.Close()

	process, err := creation.Finalize()
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	defer process.Close()

	output, err := io.ReadAll(os.NewFile(uintptr(stdoutReader.Release()), "stdout"))
	if err != nil {
		t.Fatalf("reading child stdout: %v", err)
	}
	var info unix.Siginfo
	if err := unix.Waitid(unix.P_PIDFD, process.FD(), &info, unix.WEXITED, nil); err != nil {
		t.Fatalf("waitid: %v", err)
	}
	if got, want := string(output), "1|arg1|boot|ns"; got != want {
		t.Errorf("child output = %q, want %q", got, want)
	}

	layout, err := ReadLayout(&rootRegion)
	if err != nil {
		t.Fatalf("ReadLayout: %v", err)
	}
	if layout.Name != "shell" || layout.PID <= 0 || layout.Args != 5 || layout.Environ != 1 {
		t.Errorf("layout = %+v", layout)
	}
	digest, err := binhash.HashFile(shellPath)
	if err != nil {
		t.Fatalf("HashFile: %v", err)
	}
	if layout.Executable != binhash.FormatDigest(digest) {
		t.Errorf("executable digest = %s, want %s", layout.Executable, binhash.FormatDigest(digest))
	}
	if layout.Interpreter != interpreter {
		t.Errorf("interpreter = %q, want %q", layout.Interpreter, interpreter)
	}
	wantHandles := []InstalledHandle{{ID: uint32(stdoutID), FD: 1}, {ID: uint32(namespaceID), FD: 4}}
	if !slices.Equal(layout.Handles, wantHandles) {
		t.Errorf("installed handles = %+v, want %+v", layout.Handles, wantHandles)
	}
	if !slices.Equal(layout.Nametable, []string{"/data"}) {
		t.Errorf("nametable = %q", layout.Nametable)
	}
}

func pipe(t *testing.T) (handle.Handle, handle.Handle) {
	t.Helper()
	var fds [2]int
	if err := unix.Pipe2(fds[:], unix.O_CLOEXEC); err != nil {
		t.Fatalf("pipe2: %v", err)
	}
	return handle.New(fds[0]), handle.New(fds[1])
}
