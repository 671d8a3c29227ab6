// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package spawn

import (
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/bureau-foundation/process-launcher/lib/codec"
	"github.com/bureau-foundation/process-launcher/lib/handle"
	"github.com/bureau-foundation/process-launcher/lib/status"
)

const (
	// BootstrapFD is where the child finds its Bootstrap record.
	BootstrapFD = 3

	// firstGenericFD is the lowest fd used for handles not tagged
	// handle.KindFD.
	firstGenericFD = 4

	// maxFixedFD bounds the argument of handle.KindFD tags.
	maxFixedFD = 1024
)

// InstalledHandle records where one tagged handle landed in the child.
type InstalledHandle struct {
	ID uint32 `cbor:"id" yaml:"id"`
	FD int    `cbor:"fd" yaml:"fd"`
}

// Bootstrap is the record a child reads from BootstrapFD.
type Bootstrap struct {
	Name      string            `cbor:"name" yaml:"name"`
	Nametable []string          `cbor:"nametable" yaml:"nametable"`
	Handles   []InstalledHandle `cbor:"handles" yaml:"handles"`
}

// Layout is the manifest written to a process's root region.
type Layout struct {
	Name              string            `cbor:"name" yaml:"name"`
	PID               int               `cbor:"pid" yaml:"pid"`
	Executable        string            `cbor:"executable" yaml:"executable"`
	Interpreter       string            `cbor:"interpreter,omitempty" yaml:"interpreter,omitempty"`
	InterpreterDigest string            `cbor:"interpreter_digest,omitempty" yaml:"interpreter_digest,omitempty"`
	Args              int               `cbor:"args" yaml:"args"`
	Environ           int               `cbor:"environ" yaml:"environ"`
	Nametable         []string          `cbor:"nametable" yaml:"nametable"`
	Handles           []InstalledHandle `cbor:"handles" yaml:"handles"`
}

// planLayout assigns a child fd to every tagged handle. KindFD handles
// go to the fd in their argument; the rest fill the free fds from
// firstGenericFD upwards in order.
func planLayout(ids []handle.ID) ([]int, error) {
	fds := make([]int, len(ids))
	used := map[int]bool{BootstrapFD: true}
	for index, id := range ids {
		if id.Kind() != handle.KindFD {
			continue
		}
		fd := int(id.Arg())
		switch {
		case fd == BootstrapFD:
			return nil, status.Errorf(status.ErrInvalidArgs, "fd %d is reserved for the bootstrap record", fd)
		case fd > maxFixedFD:
			return nil, status.Errorf(status.ErrInvalidArgs, "fd %d exceeds the limit of %d", fd, maxFixedFD)
		case used[fd]:
			return nil, status.Errorf(status.ErrInvalidArgs, "fd %d is assigned twice", fd)
		}
		used[fd] = true
		fds[index] = fd
	}

	next := firstGenericFD
	for index, id := range ids {
		if id.Kind() == handle.KindFD {
			continue
		}
		for used[next] {
			next++
		}
		used[next] = true
		fds[index] = next
	}
	return fds, nil
}

func installed(ids []handle.ID, fds []int) []InstalledHandle {
	entries := make([]InstalledHandle, len(ids))
	for index := range ids {
		entries[index] = InstalledHandle{ID: uint32(ids[index]), FD: fds[index]}
	}
	return entries
}

// createMemfd returns a sealable memfd.
func createMemfd(name string) (handle.Handle, error) {
	fd, err := unix.MemfdCreate(name, unix.MFD_CLOEXEC|unix.MFD_ALLOW_SEALING)
	if err != nil {
		return handle.Invalid(), fmt.Errorf("memfd_create %s: %w", name, err)
	}
	return handle.New(fd), nil
}

// writeSealed encodes record into the memfd fd and seals it against
// further modification.
func writeSealed(fd int, record any) error {
	data, err := codec.Marshal(record)
	if err != nil {
		return fmt.Errorf("encoding %T: %w", record, err)
	}
	for written := 0; written < len(data); {
		n, err := unix.Pwrite(fd, data[written:], int64(written))
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return fmt.Errorf("writing memfd: %w", err)
		}
		written += n
	}
	seals := unix.F_SEAL_WRITE | unix.F_SEAL_GROW | unix.F_SEAL_SHRINK | unix.F_SEAL_SEAL
	if _, err := unix.FcntlInt(uintptr(fd), unix.F_ADD_SEALS, seals); err != nil {
		return fmt.Errorf("sealing memfd: %w", err)
	}
	return nil
}

// readRecord decodes a CBOR record from the whole of fd.
func readRecord(fd int, record any) error {
	var stat unix.Stat_t
	if err := unix.Fstat(fd, &stat); err != nil {
		return fmt.Errorf("stat of fd %d: %w", fd, err)
	}
	if stat.Size == 0 {
		return status.Errorf(status.ErrBadState, "fd %d is empty", fd)
	}
	data := make([]byte, stat.Size)
	for read := 0; read < len(data); {
		n, err := unix.Pread(fd, data[read:], int64(read))
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return fmt.Errorf("reading fd %d: %w", fd, err)
		}
		if n == 0 {
			return status.Errorf(status.ErrIO, "fd %d shrank while reading", fd)
		}
		read += n
	}
	return codec.Unmarshal(data, record)
}

// ReadLayout decodes the manifest of a root region returned by a
// successful launch.
func ReadLayout(rootRegion *handle.Handle) (Layout, error) {
	var layout Layout
	if !rootRegion.Valid() {
		return layout, status.ErrBadHandle
	}
	if err := readRecord(rootRegion.FD(), &layout); err != nil {
		return Layout{}, fmt.Errorf("reading root region: %w", err)
	}
	return layout, nil
}

// ReadBootstrap decodes the bootstrap record. A launched process calls
// it with BootstrapFD.
func ReadBootstrap(fd int) (Bootstrap, error) {
	var bootstrap Bootstrap
	if err := readRecord(fd, &bootstrap); err != nil {
		return Bootstrap{}, fmt.Errorf("reading bootstrap record: %w", err)
	}
	return bootstrap, nil
}
