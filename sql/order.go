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

package sql

import "github.com/sneltrix/ivm/row"

// RowOrder is a compiled ORDER BY clause: a list of scalar key
// expressions, most-significant first, each with its own ASC/DESC
// direction. emitFilter/emitProject compile WHERE and SELECT-list
// expressions against a schema the same way; ORDER BY is compiled
// identically but evaluated only at the materialization-read
// boundary, never inside the circuit.
type RowOrder struct {
	keys []orderKey
}

type orderKey struct {
	fn   ScalarFn
	desc bool
}

// CompileOrderBy compiles items against schema.
func CompileOrderBy(schema *row.Schema, items []OrderItem) (*RowOrder, error) {
	keys := make([]orderKey, len(items))
	for i, it := range items {
		fn, err := compileScalar(schema, it.Expr)
		if err != nil {
			return nil, err
		}
		keys[i] = orderKey{fn: fn, desc: it.Desc}
	}
	return &RowOrder{keys: keys}, nil
}

// Less reports whether a sorts strictly before b. NULL sorts low
// (the PartiQL/SQLite default); a comparison with no defined
// relation (row.Compare's second return false) falls through to
// the next key, matching SQL's "ORDER BY is a stable total order
// over comparable keys" behavior.
func (o *RowOrder) Less(a, b row.Row) bool {
	for _, k := range o.keys {
		av, bv := k.fn(a), k.fn(b)
		var cmp int
		switch {
		case av.IsNull() && bv.IsNull():
			continue
		case av.IsNull():
			cmp = -1
		case bv.IsNull():
			cmp = 1
		default:
			c, ok := row.Compare(av, bv)
			if !ok || c == 0 {
				continue
			}
			cmp = c
		}
		if k.desc {
			return cmp > 0
		}
		return cmp < 0
	}
	return false
}

// LimitSpec carries a LIMIT/OFFSET clause's raw bounds (nil means
// "unbounded"/"no offset").
type LimitSpec struct {
	Limit  *int64
	Offset *int64
}

// PlanOrderLimit peels any outer SortPlan/LimitPlan wrapping plan
// (parseSelect always nests them Limit(Sort(...)), see BuildPlan)
// and returns the ORDER BY items and LIMIT/OFFSET bounds they
// carry. Both are applied only when a view is read (engine.Rows),
// never inside the circuit, since LIMIT/OFFSET needs the view's
// full order and that's only available at the read boundary.
func PlanOrderLimit(plan PlanNode) (order []OrderItem, limit *LimitSpec) {
	for {
		switch p := plan.(type) {
		case *LimitPlan:
			limit = &LimitSpec{Limit: p.Limit, Offset: p.Offset}
			plan = p.Input
		case *SortPlan:
			order = p.OrderBy
			plan = p.Input
		default:
			return order, limit
		}
	}
}
