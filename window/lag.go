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

// LagRing keeps the last maxOffset+1 values pushed for a partition
// (the current one and the maxOffset before it), serving LAG
// by direct index access instead of reading the base relation.
// maxOffset is the largest LAG offset any window function in the
// query needs. LEAD is not served from this ring: since a circuit
// step already holds every row of an ingested batch in memory, the
// emitter computes LEAD by indexing forward into that in-order batch
// directly rather than buffering unseen future rows here.
type LagRing struct {
	buf []row.Value // buf[0] is the most recently pushed value
	n   int         // number of values pushed so far, capped at len(buf)
}

// NewLagRing returns a ring sized to serve offsets up to maxOffset.
func NewLagRing(maxOffset int) *LagRing {
	return &LagRing{buf: make([]row.Value, maxOffset+1)}
}

// Push records v as the current row, shifting older rows back.
func (l *LagRing) Push(v row.Value) {
	copy(l.buf[1:], l.buf[:len(l.buf)-1])
	l.buf[0] = v
	if l.n < len(l.buf) {
		l.n++
	}
}

// Lag returns the value offset rows before the current one (LAG(col,
// offset)), or NULL with ok=false if the partition has fewer than
// offset preceding rows.
func (l *LagRing) Lag(offset int) (row.Value, bool) {
	if offset < 0 || offset >= l.n {
		return row.NullValue, false
	}
	return l.buf[offset], true
}
