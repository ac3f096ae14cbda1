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

// PartitionedWindowState maps a partition key tuple to a per-partition
// window instance of type T (typically a small struct bundling a
// RingAggregate, MonotonicDeque, rank counters and a LagRing — however
// many of those a particular window query needs), created lazily on
// first use and destroyed once the partition's last row is retracted.
type PartitionedWindowState[T any] struct {
	new    func() T
	states map[row.Key]T
	rows   map[row.Key]int64 // net row weight per partition, for destroy-on-empty
}

// NewPartitionedWindowState returns an empty partition map; newState
// constructs a fresh per-partition instance on first touch.
func NewPartitionedWindowState[T any](newState func() T) *PartitionedWindowState[T] {
	return &PartitionedWindowState[T]{
		new:    newState,
		states: make(map[row.Key]T),
		rows:   make(map[row.Key]int64),
	}
}

// Get returns the partition's state, creating it if this is the
// partition's first observed row.
func (p *PartitionedWindowState[T]) Get(key row.Key) T {
	s, ok := p.states[key]
	if !ok {
		s = p.new()
		p.states[key] = s
	}
	return s
}

// Touch records a row (weight w, positive for insert, negative for
// retract) against the partition's row count. When the count reaches
// zero, the partition's state is dropped; the next Get for the same
// key starts fresh.
func (p *PartitionedWindowState[T]) Touch(key row.Key, w int64) {
	p.rows[key] += w
	if p.rows[key] == 0 {
		delete(p.states, key)
		delete(p.rows, key)
	}
}

// Active reports whether key currently has live (non-destroyed) state.
func (p *PartitionedWindowState[T]) Active(key row.Key) bool {
	_, ok := p.states[key]
	return ok
}

// Len returns the number of partitions with live state.
func (p *PartitionedWindowState[T]) Len() int { return len(p.states) }
