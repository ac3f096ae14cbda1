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

package zset

import "github.com/sneltrix/ivm/row"

// Indexed augments a Set with a secondary index from an
// extracted join key to the set of primary keys holding rows
// with that join key. The index is kept coherent with the
// underlying Set at every observable moment: every mutation
// updates both.
type Indexed struct {
	Set
	keyFn func(row.Row) row.Key
	index map[row.Key]map[row.Key]struct{}
}

// NewIndexed builds an empty Indexed Z-set whose secondary
// index is derived from each row via keyFn.
func NewIndexed(keyFn func(row.Row) row.Key) *Indexed {
	return &Indexed{
		Set:   Set{entries: make(map[row.Key]entry)},
		keyFn: keyFn,
		index: make(map[row.Key]map[row.Key]struct{}),
	}
}

// Insert adds w to the weight at primary key pk, maintaining
// both the primary map and the join-key index atomically.
func (ix *Indexed) Insert(pk row.Key, r row.Row, w int64) {
	before, _, hadBefore := ix.Get(pk)
	ix.Set.Insert(pk, r, w)
	_, _, hasAfter := ix.Get(pk)
	if hadBefore {
		jk := ix.keyFn(before)
		if bucket, ok := ix.index[jk]; ok {
			delete(bucket, pk)
			if len(bucket) == 0 {
				delete(ix.index, jk)
			}
		}
	}
	if hasAfter {
		jk := ix.keyFn(r)
		bucket, ok := ix.index[jk]
		if !ok {
			bucket = make(map[row.Key]struct{})
			ix.index[jk] = bucket
		}
		bucket[pk] = struct{}{}
	}
}

// ByKey iterates over every (primary key, row, weight) whose
// join key equals j; amortized O(1) expected to locate the
// bucket, O(bucket size) to iterate it.
func (ix *Indexed) ByKey(j row.Key, f func(pk row.Key, r row.Row, w int64)) {
	bucket, ok := ix.index[j]
	if !ok {
		return
	}
	for pk := range bucket {
		r, w, ok := ix.Get(pk)
		if ok {
			f(pk, r, w)
		}
	}
}

// KeyOf exposes the join-key extraction function, so callers
// (the bilinear join operator) can compute a probe key from an
// arbitrary row without going through the index.
func (ix *Indexed) KeyOf(r row.Row) row.Key { return ix.keyFn(r) }

// Apply merges delta (an ordinary Set, as produced by a linear
// upstream operator) into ix, maintaining the secondary index.
func (ix *Indexed) Apply(delta *Set) {
	delta.EntriesKeyed(func(k row.Key, r row.Row, w int64) {
		ix.Insert(k, r, w)
	})
}

// Clone returns a copy of ix that shares no mutable state with the
// original: mutating the clone (or the original) afterward never
// affects the other. Used to stage an updated index during Eval
// without disturbing the version visible until Commit.
func (ix *Indexed) Clone() *Indexed {
	out := &Indexed{
		Set:   *ix.Set.Clone(),
		keyFn: ix.keyFn,
		index: make(map[row.Key]map[row.Key]struct{}, len(ix.index)),
	}
	for jk, bucket := range ix.index {
		b := make(map[row.Key]struct{}, len(bucket))
		for pk := range bucket {
			b[pk] = struct{}{}
		}
		out.index[jk] = b
	}
	return out
}
