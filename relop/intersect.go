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

// intersectAllOp implements SQL INTERSECT ALL: for each distinct row,
// the output multiplicity is min(countLeft, countRight). This is not
// linear in either side's delta (e.g. growing the side that's already
// smaller for a key changes nothing), so the operator keeps both
// sides' integrated relations and recomputes the visible intersection
// from scratch each step, like distinctOp.
type intersectAllOp struct {
	left, right           *zset.Set
	out                   *zset.Set
	stagedL, stagedR, sOut *zset.Set
}

// NewIntersectAll returns a two-input operator (left, right) computing
// the bag intersection of its inputs' running totals.
func NewIntersectAll() *intersectAllOp {
	return &intersectAllOp{left: zset.Empty(), right: zset.Empty(), out: zset.Empty()}
}

func (n *intersectAllOp) Eval(inputs []*zset.Set) (*zset.Set, error) {
	left := n.left.Add(inputs[0])
	right := n.right.Add(inputs[1])

	result := zset.Empty()
	seen := make(map[row.Key]bool)
	left.EntriesKeyed(func(k row.Key, r row.Row, lw int64) {
		seen[k] = true
		_, rw, ok := right.Get(k)
		if !ok {
			return
		}
		w := min64(lw, rw)
		if w != 0 {
			result.Insert(k, r, w)
		}
	})
	right.EntriesKeyed(func(k row.Key, r row.Row, rw int64) {
		if seen[k] {
			return
		}
		// left has no entry for k: min(0, rw) contributes nothing
		// unless rw itself is negative, which would mean a
		// malformed (over-retracted) input stream.
		if rw < 0 {
			result.Insert(k, r, rw)
		}
	})

	n.stagedL, n.stagedR, n.sOut = left, right, result
	return result.Sub(n.out), nil
}

func (n *intersectAllOp) Commit() {
	n.left, n.right, n.out = n.stagedL, n.stagedR, n.sOut
	n.stagedL, n.stagedR, n.sOut = nil, nil, nil
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}
