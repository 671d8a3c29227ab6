// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package handle

// Table is an ordered set of tagged handles awaiting installation into
// a new process. Entries keep insertion order; IDs need not be unique.
type Table struct {
	ids     []ID
	handles []Handle
}

// Add appends h under id. The table takes ownership of h.
func (t *Table) Add(id ID, h Handle) {
	t.ids = append(t.ids, id)
	t.handles = append(t.handles, h)
}

// Len returns the number of entries.
func (t *Table) Len() int {
	return len(t.ids)
}

// IDs returns a copy of the tags in insertion order.
func (t *Table) IDs() []ID {
	return append([]ID(nil), t.ids...)
}

// Take moves every entry out of the table and leaves it empty. The
// caller owns the returned handles.
func (t *Table) Take() ([]ID, []Handle) {
	ids, handles := t.ids, t.handles
	t.ids, t.handles = nil, nil
	return ids, handles
}

// Close closes every handle still held and empties the table.
func (t *Table) Close() error {
	_, handles := t.Take()
	return CloseAll(handles)
}
