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

// Package relop implements the incremental relational operators that
// the SQL compiler emits as circuit nodes: Filter, Project, the set
// operations (UNION/EXCEPT/INTERSECT, with and without ALL), and
// Distinct.
//
// Filter, Project, Negate and bag union are linear: the operator
// applied to a delta is the correct incremental output, so they need
// no persistent state and are built directly as circuit.NewLinear/
// circuit.NewSum nodes. EXCEPT ALL is wired from these (negate the
// right side, then sum), which keeps it linear too. Distinct and
// INTERSECT ALL are not linear — recombining two integrated relations
// requires min/max over cardinalities, not a pointwise sum — so this
// package keeps persistent integrated state for them and recomputes
// their visible output each step, the same integrate/recombine/
// differentiate shape used throughout DBSP-style circuits.
package relop

import (
	"github.com/sneltrix/ivm/circuit"
	"github.com/sneltrix/ivm/row"
	"github.com/sneltrix/ivm/zset"
)

// Filter returns a stateless operator restricting to rows where p
// holds. Linear: Filter(Δ) is the correct incremental output.
func Filter(p func(row.Row) bool) circuit.Operator {
	return circuit.NewLinear(func(s *zset.Set) *zset.Set {
		return s.Filter(p)
	})
}

// Project returns a stateless operator applying f to every row.
// Linear: Project(Δ) is the correct incremental output. Callers that
// need deduplication after projection (SELECT DISTINCT) should wire
// NewDistinct downstream.
func Project(f func(row.Row) row.Row) circuit.Operator {
	return circuit.NewLinear(func(s *zset.Set) *zset.Set {
		return s.Map(f)
	})
}

// Negate returns a stateless operator producing the additive inverse
// of its input. Used to turn subtraction into the sum that UnionAll/
// NewSum already implements.
func Negate() circuit.Operator {
	return circuit.NewLinear(func(s *zset.Set) *zset.Set {
		return s.Neg()
	})
}

// UnionAll returns a stateless operator computing the bag union of
// all of its inputs (SQL UNION ALL). Linear: sums deltas directly.
func UnionAll() circuit.Operator {
	return circuit.NewSum()
}

// WireExceptAll wires the SQL-set-minus ("A EXCEPT ALL B") pattern
// into b: right is negated, then summed with left. The returned node
// id is a linear combination of left and right, so it carries no
// persistent state of its own.
func WireExceptAll(b *circuit.Builder, namePrefix string, left, right circuit.NodeID) circuit.NodeID {
	neg := b.Add(namePrefix+".negate_rhs", Negate(), right)
	return b.Add(namePrefix+".except_all", UnionAll(), left, neg)
}
