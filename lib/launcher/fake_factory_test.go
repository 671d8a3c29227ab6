// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package launcher

import (
	"slices"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/bureau-foundation/process-launcher/lib/handle"
	"github.com/bureau-foundation/process-launcher/lib/status"
)

// launchRecord is what a fakeContext observed during one launch.
type launchRecord struct {
	Name         string
	JobValid     bool
	HadLoader    bool
	LoaderInode  uint64
	ImageValid   bool
	Args         []string
	Environ      []string
	Nametable    []string
	IDs          []handle.ID
	HandleInodes []uint64
	AbortStatus  status.Status
	AbortMessage string
	Finalized    bool
}

// fakeFactory records every context it creates. Contexts run on the
// loop goroutine and tests read records from the test goroutine, so
// all access goes through mu.
type fakeFactory struct {
	mu       sync.Mutex
	contexts []*fakeContext

	// finalizeError, if set, is returned by Finalize of contexts that
	// were not aborted.
	finalizeError error

	// noRootRegion makes RootRegion return nil.
	noRootRegion bool
}

func (f *fakeFactory) NewContext(job *handle.Handle, name string) Context {
	f.mu.Lock()
	defer f.mu.Unlock()
	context := &fakeContext{
		factory: f,
		record:  launchRecord{Name: name, JobValid: job.Valid()},
	}
	if !f.noRootRegion {
		reader, writer := mustPipe()
		writer.Close()
		context.root = reader
	}
	f.contexts = append(f.contexts, context)
	return context
}

// records returns a copy of every launch record so far.
func (f *fakeFactory) records() []launchRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	records := make([]launchRecord, len(f.contexts))
	for index, context := range f.contexts {
		records[index] = context.record
	}
	return records
}

type fakeContext struct {
	factory *fakeFactory
	record  launchRecord

	loader  handle.Handle
	image   handle.Handle
	handles []handle.Handle
	root    handle.Handle
}

func (c *fakeContext) aborted() bool {
	return c.record.AbortStatus != status.OK
}

func (c *fakeContext) UseLoaderService(loader handle.Handle) handle.Handle {
	c.factory.mu.Lock()
	defer c.factory.mu.Unlock()
	if c.aborted() {
		loader.Close()
		return handle.Invalid()
	}
	c.record.HadLoader = true
	c.record.LoaderInode = inode(loader.FD())
	previous := c.loader.Take()
	c.loader = loader
	return previous
}

func (c *fakeContext) LoadExecutable(image handle.Handle) {
	c.factory.mu.Lock()
	defer c.factory.mu.Unlock()
	c.record.ImageValid = image.Valid()
	c.image = image
}

func (c *fakeContext) SetArgs(args []string) {
	c.factory.mu.Lock()
	defer c.factory.mu.Unlock()
	c.record.Args = slices.Clone(args)
}

func (c *fakeContext) SetEnviron(environs []string) {
	c.factory.mu.Lock()
	defer c.factory.mu.Unlock()
	c.record.Environ = slices.Clone(environs)
}

func (c *fakeContext) SetNametable(paths []string) {
	c.factory.mu.Lock()
	defer c.factory.mu.Unlock()
	c.record.Nametable = slices.Clone(paths)
}

func (c *fakeContext) AddHandles(ids []handle.ID, handles []handle.Handle) {
	c.factory.mu.Lock()
	defer c.factory.mu.Unlock()
	c.record.IDs = append(c.record.IDs, ids...)
	for index := range handles {
		c.record.HandleInodes = append(c.record.HandleInodes, inode(handles[index].FD()))
		c.handles = append(c.handles, handles[index].Take())
	}
}

func (c *fakeContext) RootRegion() *handle.Handle {
	if c.factory.noRootRegion {
		return nil
	}
	return &c.root
}

func (c *fakeContext) Abort(s status.Status, message string) {
	c.factory.mu.Lock()
	defer c.factory.mu.Unlock()
	if c.aborted() {
		return
	}
	c.record.AbortStatus = s
	c.record.AbortMessage = message
}

func (c *fakeContext) Finalize() (handle.Handle, error) {
	c.factory.mu.Lock()
	defer c.factory.mu.Unlock()
	c.record.Finalized = true

	c.loader.Close()
	c.image.Close()
	handle.CloseAll(c.handles)
	c.root.Close()

	if c.aborted() {
		return handle.Invalid(), status.Errorf(c.record.AbortStatus, "%s", c.record.AbortMessage)
	}
	if c.factory.finalizeError != nil {
		return handle.Invalid(), c.factory.finalizeError
	}
	process, peer := mustPipe()
	peer.Close()
	return process, nil
}

func mustPipe() (handle.Handle, handle.Handle) {
	var fds [2]int
	if err := unix.Pipe2(fds[:], unix.O_CLOEXEC); err != nil {
		panic("pipe2: " + err.Error())
	}
	return handle.New(fds[0]), handle.New(fds[1])
}

// inode identifies the file behind fd. Both ends of a pipe share one
// inode, so a test can recognize a pipe end after it crossed a channel.
func inode(fd int) uint64 {
	var stat unix.Stat_t
	if err := unix.Fstat(fd, &stat); err != nil {
		return 0
	}
	return stat.Ino
}
