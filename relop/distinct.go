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

package relop

import (
	"github.com/sneltrix/ivm/row"
	"github.com/sneltrix/ivm/zset"
)

// distinctOp maintains the integrated (summed-to-date) relation and
// the indicator Z-set (every row present with weight exactly 1) it
// implies, and emits the difference between this step's indicator
// and the previous one. This is the standard non-linear shape for
// DISTINCT under incremental view maintenance: distinct is not
// linear in Δ (two opposite-sign deltas to the same row can leave the
// indicator unchanged even though neither delta alone is zero), so it
// needs the full running total, not just the current step's delta.
type distinctOp struct {
	integrated *zset.Set
	out        *zset.Set
	stagedInt  *zset.Set
	stagedOut  *zset.Set
}

// NewDistinct returns an operator implementing SQL DISTINCT (and the
// non-ALL set operations, which are UNION/EXCEPT/INTERSECT followed
// by Distinct): its output Z-set always has every present row at
// weight 1.
func NewDistinct() *distinctOp {
	return &distinctOp{integrated: zset.Empty(), out: zset.Empty()}
}

func (d *distinctOp) Eval(inputs []*zset.Set) (*zset.Set, error) {
	delta := zset.Empty()
	for _, in := range inputs {
		delta = delta.Add(in)
	}
	integrated := d.integrated.Add(delta)
	indicator := zset.Empty()
	integrated.Entries(func(r row.Row, w int64) {
		if w > 0 {
			indicator.InsertRow(r, 1)
		}
	})
	d.stagedInt = integrated
	d.stagedOut = indicator
	return indicator.Sub(d.out), nil
}

func (d *distinctOp) Commit() {
	d.integrated = d.stagedInt
	d.out = d.stagedOut
	d.stagedInt, d.stagedOut = nil, nil
}
