// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package spawn

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"github.com/bureau-foundation/process-launcher/lib/binhash"
	"github.com/bureau-foundation/process-launcher/lib/channel"
	"github.com/bureau-foundation/process-launcher/lib/handle"
	"github.com/bureau-foundation/process-launcher/lib/launcher"
	"github.com/bureau-foundation/process-launcher/lib/loader"
	"github.com/bureau-foundation/process-launcher/lib/status"
)

// Factory creates Linux processes for the launcher.
type Factory struct {
	// LoaderTimeout bounds each call to a loader service. Zero means
	// the call may block indefinitely.
	LoaderTimeout time.Duration

	// Reap makes the factory wait for every process it starts and log
	// the exit. Leave it unset when the holder of the pidfd waits.
	Reap bool

	Logger *slog.Logger
}

func (f *Factory) logger() *slog.Logger {
	if f.Logger == nil {
		return slog.Default()
	}
	return f.Logger
}

// NewContext implements launcher.Factory.
func (f *Factory) NewContext(job *handle.Handle, name string) launcher.Context {
	c := &creation{factory: f, job: job, name: name}
	root, err := createMemfd("bureau-root-region")
	if err != nil {
		c.fail(status.FromError(err), err.Error())
	}
	c.root = root
	return c
}

// creation is one process being assembled. After the first failure
// every call only releases the handles passed to it.
type creation struct {
	factory *Factory
	job     *handle.Handle
	name    string

	loaderService     handle.Handle
	image             handle.Handle
	imageDigest       binhash.Digest
	interpreter       string
	interpreterDigest binhash.Digest

	args      []string
	environ   []string
	nametable []string
	ids       []handle.ID
	handles   []handle.Handle
	root      handle.Handle

	failure *status.Error
}

func (c *creation) fail(code status.Status, message string) {
	if c.failure == nil {
		c.failure = &status.Error{Status: code, Message: message}
	}
}

func (c *creation) UseLoaderService(loaderService handle.Handle) handle.Handle {
	if c.failure != nil {
		loaderService.Close()
		return handle.Invalid()
	}
	previous := c.loaderService.Take()
	c.loaderService = loaderService
	return previous
}

func (c *creation) LoadExecutable(image handle.Handle) {
	if c.failure != nil {
		image.Close()
		return
	}
	c.image = image

	digest, err := binhash.HashFD(image.FD())
	if err != nil {
		c.fail(status.FromError(err), fmt.Sprintf("hashing executable: %v", err))
		return
	}
	c.imageDigest = digest

	interpreter, err := readInterpreter(image.FD())
	if err != nil {
		c.fail(status.FromError(err), status.Message(err))
		return
	}
	if interpreter == "" {
		return
	}
	if !c.loaderService.Valid() {
		c.fail(status.ErrInvalidArgs, "need loader service to load PT_INTERP")
		return
	}
	object, err := c.loadObject(interpreter)
	if err != nil {
		c.fail(status.FromError(err), fmt.Sprintf("loading interpreter %s: %s", interpreter, status.Message(err)))
		return
	}
	defer object.Close()

	interpreterDigest, err := binhash.HashFD(object.FD())
	if err != nil {
		c.fail(status.FromError(err), fmt.Sprintf("hashing interpreter %s: %v", interpreter, err))
		return
	}
	c.interpreter = interpreter
	c.interpreterDigest = interpreterDigest
}

// loadObject makes a synchronous call to the loader service. The
// service handle stays with the context.
func (c *creation) loadObject(name string) (handle.Handle, error) {
	ch, err := channel.FromHandle(c.loaderService.Take())
	if err != nil {
		return handle.Invalid(), fmt.Errorf("loader service: %w", err)
	}
	defer func() { c.loaderService = ch.Take() }()

	ctx := context.Background()
	if c.factory.LoaderTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.factory.LoaderTimeout)
		defer cancel()
	}
	return loader.NewClient(ch).LoadObject(ctx, name)
}

func (c *creation) SetArgs(args []string) {
	if c.failure == nil {
		c.args = append([]string(nil), args...)
	}
}

func (c *creation) SetEnviron(environs []string) {
	if c.failure == nil {
		c.environ = append([]string(nil), environs...)
	}
}

func (c *creation) SetNametable(paths []string) {
	if c.failure == nil {
		c.nametable = append([]string(nil), paths...)
	}
}

func (c *creation) AddHandles(ids []handle.ID, handles []handle.Handle) {
	if c.failure != nil {
		handle.CloseAll(handles)
		return
	}
	if len(ids) != len(handles) {
		handle.CloseAll(handles)
		c.fail(status.ErrInvalidArgs, fmt.Sprintf("%d handle ids for %d handles", len(ids), len(handles)))
		return
	}
	c.ids = append(c.ids, ids...)
	for index := range handles {
		c.handles = append(c.handles, handles[index].Take())
	}
}

func (c *creation) RootRegion() *handle.Handle {
	return &c.root
}

func (c *creation) Abort(code status.Status, message string) {
	c.fail(code, message)
}

func (c *creation) Finalize() (handle.Handle, error) {
	defer c.release()
	if c.failure != nil {
		return handle.Invalid(), c.failure
	}
	process, err := c.start()
	if err != nil {
		c.fail(status.FromError(err), err.Error())
		return handle.Invalid(), c.failure
	}
	return process, nil
}

func (c *creation) release() {
	c.loaderService.Close()
	c.image.Close()
	handle.CloseAll(c.handles)
	c.handles = nil
	c.root.Close()
}

// start execs the image with the planned descriptor layout and returns
// the child's pidfd.
func (c *creation) start() (handle.Handle, error) {
	fds, err := planLayout(c.ids)
	if err != nil {
		return handle.Invalid(), err
	}
	entries := installed(c.ids, fds)

	bootstrap, err := createMemfd("bureau-bootstrap")
	if err != nil {
		return handle.Invalid(), err
	}
	defer bootstrap.Close()
	if err := writeSealed(bootstrap.FD(), Bootstrap{Name: c.name, Nametable: c.nametable, Handles: entries}); err != nil {
		return handle.Invalid(), fmt.Errorf("bootstrap record: %w", err)
	}

	files, closeFiles, err := c.childFiles(fds, &bootstrap)
	if err != nil {
		return handle.Invalid(), err
	}
	defer closeFiles()

	// Go's fork path dups descriptors to fds at and above len(files)
	// while shuffling; the executable must sit above all of them.
	execFD, err := unix.FcntlInt(uintptr(c.image.FD()), unix.F_DUPFD_CLOEXEC, 2*len(files)+3)
	if err != nil {
		return handle.Invalid(), fmt.Errorf("duplicating executable: %w", err)
	}
	execHandle := handle.New(execFD)
	defer execHandle.Close()

	pidfd := -1
	attributes := &syscall.SysProcAttr{PidFD: &pidfd}
	if c.job.Valid() {
		attributes.UseCgroupFD = true
		attributes.CgroupFD = c.job.FD()
	}

	environ := c.environ
	if len(environ) > 0 && environ[len(environ)-1] == "" {
		environ = environ[:len(environ)-1]
	}
	process, err := os.StartProcess(fmt.Sprintf("/proc/self/fd/%d", execFD), c.args, &os.ProcAttr{
		Env:   append(make([]string, 0, len(environ)), environ...),
		Files: files,
		Sys:   attributes,
	})
	if err != nil {
		return handle.Invalid(), fmt.Errorf("starting %s: %w", c.name, err)
	}
	if pidfd < 0 {
		_ = process.Kill()
		_, _ = process.Wait()
		return handle.Invalid(), status.Errorf(status.ErrNotSupported, "kernel returned no pidfd for %s", c.name)
	}

	layout := Layout{
		Name:       c.name,
		PID:        process.Pid,
		Executable: binhash.FormatDigest(c.imageDigest),
		Args:       len(c.args),
		Environ:    len(environ),
		Nametable:  c.nametable,
		Handles:    entries,
	}
	if c.interpreter != "" {
		layout.Interpreter = c.interpreter
		layout.InterpreterDigest = binhash.FormatDigest(c.interpreterDigest)
	}
	if err := writeSealed(c.root.FD(), layout); err != nil {
		c.factory.logger().Warn("writing root region manifest", "name", c.name, "pid", process.Pid, "error", err)
	}

	if c.factory.Reap {
		go c.factory.reap(process, c.name)
	} else {
		_ = process.Release()
	}
	return handle.New(pidfd), nil
}

// childFiles builds os.StartProcess's file table. Tagged handles move
// into the returned files; closeFiles releases them once the child has
// its copies.
func (c *creation) childFiles(fds []int, bootstrap *handle.Handle) ([]*os.File, func(), error) {
	size := firstGenericFD
	for _, fd := range fds {
		if fd+1 > size {
			size = fd + 1
		}
	}
	files := make([]*os.File, size)
	var owned []*os.File
	closeFiles := func() {
		for _, file := range owned {
			file.Close()
		}
	}

	for index := range c.handles {
		file := os.NewFile(uintptr(c.handles[index].Release()), fmt.Sprintf("handle-%s", c.ids[index]))
		owned = append(owned, file)
		files[fds[index]] = file
	}
	c.handles = nil

	for fd := 0; fd < 3; fd++ {
		if files[fd] != nil {
			continue
		}
		null, err := os.OpenFile(os.DevNull, os.O_RDWR, 0)
		if err != nil {
			closeFiles()
			return nil, nil, fmt.Errorf("opening %s: %w", os.DevNull, err)
		}
		owned = append(owned, null)
		files[fd] = null
	}

	bootstrapFile := os.NewFile(uintptr(bootstrap.Release()), "bootstrap")
	owned = append(owned, bootstrapFile)
	files[BootstrapFD] = bootstrapFile
	return files, closeFiles, nil
}

func (f *Factory) reap(process *os.Process, name string) {
	state, err := process.Wait()
	if err != nil {
		f.logger().Warn("waiting for process", "name", name, "pid", process.Pid, "error", err)
		return
	}
	f.logger().Info("process exited",
		"name", name,
		"pid", process.Pid,
		"exit_code", state.ExitCode(),
		"user_time", state.UserTime(),
		"system_time", state.SystemTime(),
	)
}
