// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// bureau-launch starts a program through a running bureau-launcher.
//
// Usage:
//
//	bureau-launch [flags] [--] <executable> [args...]
//
// The executable is opened locally and its descriptor sent to the
// launcher. When the image names a program interpreter, bureau-launch
// serves the loader protocol itself from --loader-dir (default: the
// interpreter's own directory). By default the child inherits
// bureau-launch's stdio and bureau-launch returns when the child exits.
// The launcher, not bureau-launch, is the child's parent: the exit
// status appears in the launcher's log, not here.
package main

import (
	"context"
	"debug/elf"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/pflag"
	"golang.org/x/sys/unix"
	"gopkg.in/yaml.v3"

	"github.com/bureau-foundation/process-launcher/lib/channel"
	"github.com/bureau-foundation/process-launcher/lib/config"
	"github.com/bureau-foundation/process-launcher/lib/handle"
	"github.com/bureau-foundation/process-launcher/lib/ipc"
	"github.com/bureau-foundation/process-launcher/lib/launchclient"
	"github.com/bureau-foundation/process-launcher/lib/loader"
	"github.com/bureau-foundation/process-launcher/lib/process"
	"github.com/bureau-foundation/process-launcher/lib/spawn"
	"github.com/bureau-foundation/process-launcher/lib/status"
	"github.com/bureau-foundation/process-launcher/lib/version"
)

func main() {
	process.Main(func(ctx context.Context) error {
		return run(ctx, os.Args[1:], os.Stderr)
	})
}

// request is a parsed command line.
type request struct {
	socketPath  string
	name        string
	command     []string
	environ     []string
	names       []mount
	loaderDirs  []string
	jobPath     string
	stdio       bool
	wait        bool
	showLayout  bool
	showVersion bool
}

// mount is one --dir entry: a namespace path and the host directory
// installed under it.
type mount struct {
	path      string
	directory string
}

func parseArgs(args []string) (*request, error) {
	var (
		req        request
		configPath string
		dirs       []string
		inheritEnv bool
	)
	flagSet := pflag.NewFlagSet("bureau-launch", pflag.ContinueOnError)
	flagSet.SetInterspersed(false)
	flagSet.StringVar(&req.socketPath, "socket", "", "launcher socket (default: launcher.socket_path from --config, else "+config.Default().Launcher.SocketPath+")")
	flagSet.StringVar(&configPath, "config", "", "launcher config file to read the socket path from")
	flagSet.StringVar(&req.name, "name", "", "process name (default: executable base name)")
	flagSet.StringArrayVarP(&req.environ, "env", "e", nil, "KEY=VALUE environment entry (repeatable)")
	flagSet.BoolVar(&inheritEnv, "inherit-env", false, "pass bureau-launch's environment before --env entries")
	flagSet.StringArrayVar(&dirs, "dir", nil, "PATH=HOSTDIR namespace entry (repeatable)")
	flagSet.StringSliceVar(&req.loaderDirs, "loader-dir", nil, "directories the loader service resolves interpreters from")
	flagSet.StringVar(&req.jobPath, "job", "", "cgroup directory to start the process in")
	flagSet.BoolVar(&req.stdio, "stdio", true, "give the child this process's stdin, stdout and stderr")
	flagSet.BoolVar(&req.wait, "wait", true, "return only after the child exits")
	flagSet.BoolVar(&req.showLayout, "show-layout", false, "print the process layout manifest to stderr")
	flagSet.BoolVar(&req.showVersion, "version", false, "print version information and exit")

	if err := flagSet.Parse(args); err != nil {
		return nil, err
	}
	if req.showVersion {
		return &req, nil
	}

	req.command = flagSet.Args()
	if len(req.command) == 0 {
		return nil, fmt.Errorf("executable required\n\nusage: bureau-launch [flags] [--] <executable> [args...]")
	}
	if req.name == "" {
		req.name = filepath.Base(req.command[0])
	}
	if inheritEnv {
		req.environ = append(os.Environ(), req.environ...)
	}
	for _, entry := range req.environ {
		if !strings.Contains(entry, "=") {
			return nil, fmt.Errorf("--env %q: expected KEY=VALUE", entry)
		}
	}
	for _, entry := range dirs {
		path, directory, ok := strings.Cut(entry, "=")
		if !ok || !strings.HasPrefix(path, "/") || directory == "" {
			return nil, fmt.Errorf("--dir %q: expected /PATH=HOSTDIR", entry)
		}
		req.names = append(req.names, mount{path: path, directory: directory})
	}

	if req.socketPath == "" {
		cfg := config.Default()
		if configPath != "" {
			loaded, err := config.LoadFile(configPath)
			if err != nil {
				return nil, err
			}
			cfg = loaded
		}
		req.socketPath = cfg.Launcher.SocketPath
	}
	return &req, nil
}

func run(ctx context.Context, args []string, stderr io.Writer) error {
	req, err := parseArgs(args)
	if err == pflag.ErrHelp {
		return nil
	}
	if err != nil {
		return err
	}
	if req.showVersion {
		version.Print("bureau-launch")
		return nil
	}
	return launch(ctx, req, stderr)
}

func launch(ctx context.Context, req *request, stderr io.Writer) error {
	executable, err := openHandle(req.command[0], unix.O_RDONLY)
	if err != nil {
		return err
	}
	defer executable.Close()

	// The loader service runs for the whole call: the launcher asks for
	// the interpreter while handling the launch request.
	loaderCtx, stopLoader := context.WithCancel(ctx)
	defer stopLoader()
	loaderService, err := startLoader(loaderCtx, req, executable.FD())
	if err != nil {
		return err
	}
	defer loaderService.Close()

	client, err := launchclient.Dial(ctx, req.socketPath)
	if err != nil {
		return err
	}
	defer client.Close()

	if err := send(ctx, client, req, &loaderService); err != nil {
		return err
	}

	info := ipc.LaunchInfo{Executable: executable.Take(), Name: req.name}
	if req.jobPath != "" {
		if info.Job, err = openHandle(req.jobPath, unix.O_RDONLY|unix.O_DIRECTORY); err != nil {
			info.Executable.Close()
			return err
		}
	}
	result, err := client.Launch(ctx, info)
	if err != nil {
		return err
	}
	defer result.Close()
	if result.Status != status.OK {
		return status.Errorf(result.Status, "launching %s: %s", req.name, result.ErrorMessage)
	}

	if req.showLayout {
		if err := printLayout(stderr, &result.RootRegion); err != nil {
			return err
		}
	}
	if !req.wait {
		return nil
	}
	return waitExit(ctx, result.Process.FD())
}

// send transmits everything but the launch request itself.
func send(ctx context.Context, client *launchclient.Client, req *request, loaderService *handle.Handle) error {
	if loaderService.Valid() {
		if err := client.SetLoaderService(ctx, loaderService.Take()); err != nil {
			return err
		}
	}
	if err := client.AddArgs(ctx, req.command...); err != nil {
		return err
	}
	if len(req.environ) > 0 {
		if err := client.AddEnvirons(ctx, req.environ...); err != nil {
			return err
		}
	}
	for _, entry := range req.names {
		directory, err := openHandle(entry.directory, unix.O_RDONLY|unix.O_DIRECTORY)
		if err != nil {
			return err
		}
		if err := client.AddNames(ctx, ipc.NameInfo{Path: entry.path, Directory: directory}); err != nil {
			return err
		}
	}
	if req.stdio {
		for fd := 0; fd <= 2; fd++ {
			duplicate, err := unix.FcntlInt(uintptr(fd), unix.F_DUPFD_CLOEXEC, 0)
			if err != nil {
				return fmt.Errorf("duplicating fd %d: %w", fd, err)
			}
			info := ipc.HandleInfo{ID: handle.MakeID(handle.KindFD, uint16(fd)), Handle: handle.New(duplicate)}
			if err := client.AddHandles(ctx, info); err != nil {
				return err
			}
		}
	}
	return nil
}

// startLoader serves the loader protocol when the executable needs an
// interpreter. It returns an invalid handle for static images.
func startLoader(ctx context.Context, req *request, executableFD int) (handle.Handle, error) {
	interpreter, err := interpreterOf(executableFD)
	if err != nil {
		return handle.Invalid(), err
	}
	if interpreter == "" {
		return handle.Invalid(), nil
	}
	directories := req.loaderDirs
	if len(directories) == 0 {
		directories = []string{filepath.Dir(interpreter)}
	}

	clientEnd, serverEnd, err := channel.NewPair()
	if err != nil {
		return handle.Invalid(), err
	}
	server := &loader.Server{
		Resolver: loader.DirectoryResolver(directories...),
		Logger:   slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn})),
	}
	go func() {
		defer serverEnd.Close()
		if err := server.Serve(ctx, serverEnd); err != nil && ctx.Err() == nil {
			server.Logger.Warn("loader service stopped", "error", err)
		}
	}()
	return clientEnd.Take(), nil
}

// interpreterOf returns the image's PT_INTERP, or "" for a static or
// non-ELF image (the launcher reports the latter).
func interpreterOf(fd int) (string, error) {
	var stat unix.Stat_t
	if err := unix.Fstat(fd, &stat); err != nil {
		return "", fmt.Errorf("fstat executable: %w", err)
	}
	image, err := elf.NewFile(io.NewSectionReader(fdReader(fd), 0, stat.Size))
	if err != nil {
		return "", nil
	}
	defer image.Close()
	for _, program := range image.Progs {
		if program.Type != elf.PT_INTERP {
			continue
		}
		data, err := io.ReadAll(program.Open())
		if err != nil {
			return "", fmt.Errorf("reading PT_INTERP: %w", err)
		}
		return strings.TrimRight(string(data), "\x00"), nil
	}
	return "", nil
}

type fdReader int

func (r fdReader) ReadAt(buffer []byte, offset int64) (int, error) {
	count, err := unix.Pread(int(r), buffer, offset)
	if err != nil {
		return 0, err
	}
	if count < len(buffer) {
		return count, io.EOF
	}
	return count, nil
}

func openHandle(path string, flags int) (handle.Handle, error) {
	fd, err := unix.Open(path, flags|unix.O_CLOEXEC, 0)
	if err != nil {
		return handle.Invalid(), fmt.Errorf("opening %s: %w", path, err)
	}
	return handle.New(fd), nil
}

func printLayout(w io.Writer, rootRegion *handle.Handle) error {
	layout, err := spawn.ReadLayout(rootRegion)
	if err != nil {
		return err
	}
	encoder := yaml.NewEncoder(w)
	encoder.SetIndent(2)
	if err := encoder.Encode(layout); err != nil {
		return fmt.Errorf("printing layout: %w", err)
	}
	return encoder.Close()
}

// waitExit blocks until the process behind pidfd exits or ctx is
// done. A pidfd becomes readable when its process exits.
func waitExit(ctx context.Context, pidfd int) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		descriptors := []unix.PollFd{{Fd: int32(pidfd), Events: unix.POLLIN}}
		count, err := unix.Poll(descriptors, 100)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return fmt.Errorf("waiting for child: %w", err)
		}
		if count > 0 {
			return nil
		}
	}
}
