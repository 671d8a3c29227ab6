// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package spawn

import (
	"debug/elf"
	"io"
	"strings"

	"golang.org/x/sys/unix"

	"github.com/bureau-foundation/process-launcher/lib/binhash"
	"github.com/bureau-foundation/process-launcher/lib/status"
)

// readInterpreter returns the PT_INTERP path of the ELF image behind
// fd, or "" for a static executable. fd is borrowed and its offset is
// not moved.
func readInterpreter(fd int) (string, error) {
	var stat unix.Stat_t
	if err := unix.Fstat(fd, &stat); err != nil {
		return "", status.Errorf(status.FromError(err), "stat of executable: %v", err)
	}
	file, err := elf.NewFile(io.NewSectionReader(binhash.ReaderAt(fd), 0, stat.Size))
	if err != nil {
		return "", status.Errorf(status.ErrNotSupported, "executable is not an ELF image: %v", err)
	}
	defer file.Close()

	if file.Type != elf.ET_EXEC && file.Type != elf.ET_DYN {
		return "", status.Errorf(status.ErrNotSupported, "ELF type %s is not executable", file.Type)
	}
	for _, program := range file.Progs {
		if program.Type != elf.PT_INTERP {
			continue
		}
		data, err := io.ReadAll(program.Open())
		if err != nil {
			return "", status.Errorf(status.ErrIO, "reading PT_INTERP: %v", err)
		}
		interpreter := strings.TrimRight(string(data), "\x00")
		if interpreter == "" {
			return "", status.Errorf(status.ErrInvalidArgs, "empty PT_INTERP segment")
		}
		return interpreter, nil
	}
	return "", nil
}
