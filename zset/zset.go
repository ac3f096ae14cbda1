// Copyright (C) 2022 Sneller, Inc.
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

// Package zset implements the Z-set algebra (signed multisets)
// that underlies the whole incremental engine: a finite mapping
// from distinct rows to non-zero signed weights, closed under
// addition, negation, and the linear/bilinear operators the
// circuit is built from.
package zset

import "github.com/sneltrix/ivm/row"

// entry pairs a representative Row with its accumulated weight.
// Only one Row is kept per key: insert(r, +1) on an existing key
// replaces the stored row, matching the upsert contract of a
// Z-set with a row identity function.
type entry struct {
	row    row.Row
	weight int64
}

// Set is a Z-set: a finite map from row key to (row, weight),
// with no key ever mapped to weight 0.
type Set struct {
	entries map[row.Key]entry
}

// Empty returns the group-zero Z-set.
func Empty() *Set {
	return &Set{entries: make(map[row.Key]entry)}
}

// New returns an empty Z-set; it is the same as Empty.
func New() *Set { return Empty() }

// Size returns the number of non-zero entries (not the sum of
// the weights).
func (z *Set) Size() int {
	if z == nil {
		return 0
	}
	return len(z.entries)
}

// Insert adds w to the weight stored at key(row); if the
// resulting weight is 0 the entry is removed. Insert panics if
// w == 0 and the key does not already exist, since there would
// be nothing to touch -- every other combination (including
// zeroing out an existing entry) is silent.
func (z *Set) Insert(key row.Key, r row.Row, w int64) {
	if w == 0 {
		if _, ok := z.entries[key]; !ok {
			panic("zset: Insert called with weight 0 for an absent key")
		}
		delete(z.entries, key)
		return
	}
	e, ok := z.entries[key]
	if !ok {
		z.entries[key] = entry{row: r, weight: w}
		return
	}
	nw := e.weight + w
	if nw == 0 {
		delete(z.entries, key)
		return
	}
	// upsert: the newly inserted row replaces the stored
	// representative, even if the weight does not change.
	z.entries[key] = entry{row: r, weight: nw}
}

// Upsert sets the weight at key(row) to exactly +1,
// retracting whatever was stored before. It returns the Z-set
// delta needed to effect the change (the "insert whose primary
// key already exists is modeled as (-1)*old + (+1)*new" rule
// from the join/source contracts).
func (z *Set) Upsert(key row.Key, r row.Row) *Set {
	delta := Empty()
	if e, ok := z.entries[key]; ok {
		if e.row.Equal(r) {
			return delta
		}
		delta.Insert(key, e.row, -1)
	}
	delta.Insert(key, r, 1)
	z.Apply(delta)
	return delta
}

// InsertRow is a convenience for Insert using the row's full
// value as its key -- the plain (non-keyed) multiset case.
func (z *Set) InsertRow(r row.Row, w int64) {
	z.Insert(row.FullKey(r), r, w)
}

// Get returns the row and weight stored at key, or the zero
// Row and 0 if key is absent.
func (z *Set) Get(key row.Key) (row.Row, int64, bool) {
	e, ok := z.entries[key]
	return e.row, e.weight, ok
}

// WeightOf is a convenience wrapper around Get that only
// returns the weight.
func (z *Set) WeightOf(key row.Key) int64 {
	e, ok := z.entries[key]
	if !ok {
		return 0
	}
	return e.weight
}

// Entries iterates over every (row, weight) pair. Order is
// unspecified.
func (z *Set) Entries(f func(r row.Row, w int64)) {
	if z == nil {
		return
	}
	for _, e := range z.entries {
		f(e.row, e.weight)
	}
}

// EntriesKeyed iterates over every (key, row, weight) triple,
// preserving the key each entry is actually stored under (which
// may be a primary-key projection rather than the full row).
func (z *Set) EntriesKeyed(f func(k row.Key, r row.Row, w int64)) {
	if z == nil {
		return
	}
	for k, e := range z.entries {
		f(k, e.row, e.weight)
	}
}

// Clone returns a deep-enough copy of z (a new top-level map;
// Row values themselves are immutable and shared).
func (z *Set) Clone() *Set {
	out := Empty()
	if z == nil {
		return out
	}
	for k, e := range z.entries {
		out.entries[k] = e
	}
	return out
}

// Apply merges delta into z in place, applying group addition
// entry by entry and removing any entry whose weight cancels
// to 0. This is the in-place counterpart of Add, used by
// integrator/materialization state that must mutate rather than
// allocate a fresh Set on every step.
func (z *Set) Apply(delta *Set) {
	delta.EntriesKeyed(func(k row.Key, r row.Row, w int64) {
		z.Insert(k, r, w)
	})
}
