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

package window

import "github.com/sneltrix/ivm/row"

type dequeEntry struct {
	v   row.Value
	idx int
}

// MonotonicDeque computes a sliding-window MIN or MAX in amortized
// O(1) per push. It stores candidate (value, insertion-index) pairs
// in monotonic order; a pushed value pops from the back every
// candidate it beats (they can never become the answer while v is in
// the frame), and the front is popped whenever its index has aged out
// of the frame.
type MonotonicDeque struct {
	frameSize int
	idx       int
	entries   []dequeEntry
	wantMin   bool
}

// NewMonotonicDeque returns a deque tracking the MIN (wantMin) or MAX
// over the last frameSize pushed values.
func NewMonotonicDeque(frameSize int, wantMin bool) *MonotonicDeque {
	return &MonotonicDeque{frameSize: frameSize, wantMin: wantMin}
}

// Push records v as the newest row in the frame and returns the
// frame's current MIN/MAX (NULL if every value seen so far, within
// the frame, was NULL).
func (d *MonotonicDeque) Push(v row.Value) row.Value {
	for len(d.entries) > 0 && d.entries[0].idx <= d.idx-d.frameSize {
		d.entries = d.entries[1:]
	}
	if !v.IsNull() {
		for len(d.entries) > 0 {
			back := d.entries[len(d.entries)-1]
			cmp, ok := row.Compare(v, back.v)
			if !ok {
				break
			}
			beats := cmp <= 0
			if !d.wantMin {
				beats = cmp >= 0
			}
			if !beats {
				break
			}
			d.entries = d.entries[:len(d.entries)-1]
		}
		d.entries = append(d.entries, dequeEntry{v: v, idx: d.idx})
	}
	d.idx++
	if len(d.entries) == 0 {
		return row.NullValue
	}
	return d.entries[0].v
}
