// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package launcher

import (
	"math"

	"github.com/bureau-foundation/process-launcher/lib/handle"
	"github.com/bureau-foundation/process-launcher/lib/ipc"
	"github.com/bureau-foundation/process-launcher/lib/status"
)

// MaxNames is the number of name table entries one launch can carry.
// Namespace directory IDs encode the position in 16 bits.
const MaxNames = math.MaxUint16 + 1

// State accumulates the parameters of the next launch on one session.
// It exclusively owns every handle added to it until the handles are
// moved into a launch or closed by Reset.
//
// The zero value is an empty State ready for use.
type State struct {
	args      []string
	environs  []string
	nametable []string
	handles   handle.Table
	loader    handle.Handle
}

// Counts summarizes a State for logs and tests.
type Counts struct {
	Args     int
	Environs int
	Names    int
	Handles  int
	Loader   bool
}

// AddArgs appends args to argv in order.
func (s *State) AddArgs(args []string) {
	s.args = append(s.args, args...)
}

// AddEnvirons appends environment entries in order. Entries with the
// same key are all kept.
func (s *State) AddEnvirons(environs []string) {
	s.environs = append(s.environs, environs...)
}

// AddNames appends namespace entries. Each directory handle is tagged
// with its position in the name table and moved into the handle table.
// A batch that would grow the table past MaxNames is rejected whole and
// its directories are closed.
func (s *State) AddNames(names []ipc.NameInfo) error {
	if len(names) > MaxNames-len(s.nametable) {
		for index := range names {
			names[index].Directory.Close()
		}
		return status.Errorf(status.ErrInvalidArgs, "name table holds %d entries, adding %d exceeds %d",
			len(s.nametable), len(names), MaxNames)
	}
	for index := range names {
		id := handle.MakeID(handle.KindNamespaceDir, uint16(len(s.nametable)))
		s.handles.Add(id, names[index].Directory.Take())
		s.nametable = append(s.nametable, names[index].Path)
	}
	return nil
}

// AddHandles moves tagged handles into the State. An entry tagged
// handle.LoaderServiceID replaces the held loader service instead of
// joining the table; the replaced handle is closed. Returns the number
// of loader handles that were replaced.
func (s *State) AddHandles(infos []ipc.HandleInfo) int {
	replaced := 0
	for index := range infos {
		if infos[index].ID == handle.LoaderServiceID {
			if s.loader.Valid() {
				replaced++
			}
			s.loader.Close()
			s.loader = infos[index].Handle.Take()
			continue
		}
		s.handles.Add(infos[index].ID, infos[index].Handle.Take())
	}
	return replaced
}

// HasLoader reports whether a loader service is held.
func (s *State) HasLoader() bool {
	return s.loader.Valid()
}

// Counts returns the current sizes of the accumulated sequences.
func (s *State) Counts() Counts {
	return Counts{
		Args:     len(s.args),
		Environs: len(s.environs),
		Names:    len(s.nametable),
		Handles:  s.handles.Len(),
		Loader:   s.loader.Valid(),
	}
}

// Empty reports whether nothing is accumulated.
func (s *State) Empty() bool {
	return s.Counts() == Counts{}
}

// Reset discards every accumulated string and closes every handle the
// State still owns.
func (s *State) Reset() {
	s.args = nil
	s.environs = nil
	s.nametable = nil
	s.handles.Close()
	s.loader.Close()
}
