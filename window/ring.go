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

// Package window implements the state structures behind sliding
// `OVER (ROWS BETWEEN k PRECEDING AND CURRENT ROW)` frames: a
// ring-buffer running aggregate for SUM/COUNT/AVG, a monotonic deque
// for MIN/MAX, a short ring for LAG, per-partition row counters
// for ROW_NUMBER/RANK/DENSE_RANK, and PartitionedWindowState tying a
// partition key to a lazily-created instance of whichever of these a
// query needs.
package window

import "github.com/sneltrix/ivm/row"

// RingAggregate maintains SUM/COUNT/AVG over the last frameSize
// values pushed to it (the frame is `k PRECEDING AND CURRENT ROW`,
// so frameSize = k+1). Every Push is O(1): the value leaving the
// frame is subtracted before the new one is added.
type RingAggregate struct {
	buf    []row.Value
	idx    int
	filled int
	sum    float64
	isum   int64 // integer-exact mirror of sum, valid while fcount == 0
	fcount int64 // FLOAT-kind values currently in the frame
	count  int64 // non-null count, for AVG
}

// NewRingAggregate returns a running aggregate over the last
// frameSize pushed values.
func NewRingAggregate(frameSize int) *RingAggregate {
	return &RingAggregate{buf: make([]row.Value, frameSize)}
}

// Push records v as the newest row in the frame, evicting the
// oldest if the frame is already full.
func (r *RingAggregate) Push(v row.Value) {
	slot := r.idx % len(r.buf)
	if r.filled == len(r.buf) {
		r.subtract(r.buf[slot])
	} else {
		r.filled++
	}
	r.buf[slot] = v
	r.add(v)
	r.idx++
}

func (r *RingAggregate) add(v row.Value) {
	if v.IsNull() {
		return
	}
	if f, ok := v.AsFloat(); ok {
		r.sum += f
		r.count++
		if v.Kind() == row.Int {
			r.isum += v.Int()
		} else {
			r.fcount++
		}
	}
}

func (r *RingAggregate) subtract(v row.Value) {
	if v.IsNull() {
		return
	}
	if f, ok := v.AsFloat(); ok {
		r.sum -= f
		r.count--
		if v.Kind() == row.Int {
			r.isum -= v.Int()
		} else {
			r.fcount--
		}
	}
}

// Sum returns the current frame's SUM, or NULL if every value in it
// is NULL. A frame of all-INT values sums to an INT, the SQLite
// behavior for integer-typed columns.
func (r *RingAggregate) Sum() row.Value {
	if r.count == 0 {
		return row.NullValue
	}
	if r.fcount == 0 {
		return row.IntValue(r.isum)
	}
	return row.FloatValue(r.sum)
}

// Count returns the non-NULL count of values currently in the frame.
func (r *RingAggregate) Count() row.Value {
	return row.IntValue(r.count)
}

// Avg returns the current frame's AVG, NULL if every value is NULL.
func (r *RingAggregate) Avg() row.Value {
	if r.count == 0 {
		return row.NullValue
	}
	return row.FloatValue(r.sum / float64(r.count))
}
