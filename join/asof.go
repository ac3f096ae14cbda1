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

package join

import (
	"sort"

	"golang.org/x/exp/slices"

	"github.com/sneltrix/ivm/row"
	"github.com/sneltrix/ivm/zset"
)

type tsRow struct {
	ts int64
	r  row.Row
}

// asofSide keeps one join key's right-side rows sorted by timestamp,
// so backward/forward lookups are a binary search.
type asofSide struct {
	rows []tsRow
}

func (s *asofSide) clone() *asofSide {
	c := &asofSide{rows: make([]tsRow, len(s.rows))}
	copy(c.rows, s.rows)
	return c
}

func (s *asofSide) insert(ts int64, r row.Row) {
	i := sort.Search(len(s.rows), func(i int) bool { return s.rows[i].ts >= ts })
	s.rows = slices.Insert(s.rows, i, tsRow{ts: ts, r: r})
}

func (s *asofSide) remove(ts int64, r row.Row) {
	for i := range s.rows {
		if s.rows[i].ts == ts && s.rows[i].r.Equal(r) {
			s.rows = slices.Delete(s.rows, i, i+1)
			return
		}
	}
}

// backward returns the row with the largest ts' <= ts, if any.
func (s *asofSide) backward(ts int64) (row.Row, bool) {
	i := sort.Search(len(s.rows), func(i int) bool { return s.rows[i].ts > ts })
	if i == 0 {
		return row.Row{}, false
	}
	return s.rows[i-1].r, true
}

// forward returns the row with the smallest ts' >= ts, if any.
func (s *asofSide) forward(ts int64) (row.Row, bool) {
	i := sort.Search(len(s.rows), func(i int) bool { return s.rows[i].ts >= ts })
	if i == len(s.rows) {
		return row.Row{}, false
	}
	return s.rows[i].r, true
}

// AsofJoin matches each left row to the nearest right row sharing its
// join key, by timestamp, either backward (largest ts <= left's) or
// forward (smallest ts >= left's). It is append-only in the sense
// spec'd for §4.H: it does not maintain a result store, so retracting
// a left row here only removes its own prior match rather than
// re-deriving every row that would match differently afterward — the
// right side's insert/remove is exact, but right-side retraction does
// not retroactively recheck already-emitted left matches. Consumers
// that need full retraction correctness should prefer the state-pruned
// EquiJoin variant instead.
type AsofJoin struct {
	leftKey  func(row.Row) row.Key
	rightKey func(row.Row) row.Key
	leftTS   func(row.Row) int64
	rightTS  func(row.Row) int64
	combine  func(l, r row.Row) row.Row
	backward bool

	sides map[row.Key]*asofSide
	// matched remembers, per left primary key, the right row it was
	// last paired with, so a left-row retraction can emit the exact
	// retraction of what was previously emitted.
	matched map[row.Key]row.Row
	leftPK  func(row.Row) row.Key

	stagedSides   map[row.Key]*asofSide
	stagedMatched map[row.Key]row.Row
}

// NewAsofJoin builds an ASOF join on leftKey/rightKey, each side's
// join-key extractor. backward selects "largest ts <= left's ts"
// matching; false selects "smallest ts >= left's ts".
func NewAsofJoin(leftKey, rightKey func(row.Row) row.Key, leftPK func(row.Row) row.Key, leftTS, rightTS func(row.Row) int64, combine func(l, r row.Row) row.Row, backward bool) *AsofJoin {
	return &AsofJoin{
		leftKey: leftKey, rightKey: rightKey, leftPK: leftPK, leftTS: leftTS, rightTS: rightTS, combine: combine, backward: backward,
		sides:   make(map[row.Key]*asofSide),
		matched: make(map[row.Key]row.Row),
	}
}

func (j *AsofJoin) Eval(inputs []*zset.Set) (*zset.Set, error) {
	leftDelta, rightDelta := inputs[0], inputs[1]
	out := zset.Empty()

	staged := make(map[row.Key]*asofSide, len(j.sides))
	for k, s := range j.sides {
		staged[k] = s
	}
	touch := func(jk row.Key) *asofSide {
		s, ok := staged[jk]
		if !ok {
			s = &asofSide{}
		} else {
			s = s.clone()
		}
		staged[jk] = s
		return s
	}

	rightDelta.EntriesKeyed(func(_ row.Key, r row.Row, w int64) {
		jk := j.rightKey(r)
		s := touch(jk)
		ts := j.rightTS(r)
		if w > 0 {
			for i := int64(0); i < w; i++ {
				s.insert(ts, r)
			}
		} else {
			for i := int64(0); i < -w; i++ {
				s.remove(ts, r)
			}
		}
	})

	stagedMatched := make(map[row.Key]row.Row, len(j.matched))
	for k, v := range j.matched {
		stagedMatched[k] = v
	}

	leftDelta.EntriesKeyed(func(pk row.Key, r row.Row, w int64) {
		if prev, ok := stagedMatched[pk]; ok && w < 0 {
			out.InsertRow(j.combine(r, prev), w)
			delete(stagedMatched, pk)
			return
		}
		if w <= 0 {
			return
		}
		jk := j.leftKey(r)
		s := touch(jk)
		ts := j.leftTS(r)
		var match row.Row
		var ok bool
		if j.backward {
			match, ok = s.backward(ts)
		} else {
			match, ok = s.forward(ts)
		}
		if ok {
			out.InsertRow(j.combine(r, match), w)
			stagedMatched[pk] = match
		}
	})

	j.stagedSides = staged
	j.stagedMatched = stagedMatched
	return out, nil
}

func (j *AsofJoin) Commit() {
	j.sides = j.stagedSides
	j.matched = j.stagedMatched
	j.stagedSides, j.stagedMatched = nil, nil
}
