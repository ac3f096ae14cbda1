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

// Package agg implements the incremental GROUP BY aggregator (SUM,
// COUNT, COUNT(*), AVG, MIN, MAX): a keyed, retractable reducer that
// keeps per-group accumulator state and emits a retract/insert pair
// whenever a group's aggregate tuple changes.
package agg

import "github.com/sneltrix/ivm/row"

// Func identifies an aggregate function.
type Func int

const (
	Sum Func = iota
	Count     // COUNT(col) — ignores NULL
	CountStar // COUNT(*) — counts rows regardless of NULL
	Avg
	Min
	Max
)

func (f Func) String() string {
	switch f {
	case Sum:
		return "SUM"
	case Count:
		return "COUNT"
	case CountStar:
		return "COUNT(*)"
	case Avg:
		return "AVG"
	case Min:
		return "MIN"
	case Max:
		return "MAX"
	default:
		return "UNKNOWN"
	}
}

// Spec describes one aggregate column in a GROUP BY's SELECT list.
type Spec struct {
	Name    string
	Func    Func
	Extract func(row.Row) row.Value // ignored for CountStar
}

// accum holds the reducible per-group, per-Spec state.
type accum struct {
	spec Spec

	sum    float64
	isum   int64 // integer-exact mirror of sum, valid while fcount == 0
	fcount int64 // net weight of FLOAT-kind contributions; SUM stays INT at 0
	sumSet bool
	count  int64 // non-null count (Count, Avg) or row count (CountStar)
	minmax *valueMultiset
}

func newAccum(spec Spec) *accum {
	a := &accum{spec: spec}
	if spec.Func == Min || spec.Func == Max {
		a.minmax = newValueMultiset()
	}
	return a
}

func (a *accum) apply(r row.Row, w int64) {
	switch a.spec.Func {
	case CountStar:
		a.count += w
	case Count:
		v := a.spec.Extract(r)
		if !v.IsNull() {
			a.count += w
		}
	case Sum, Avg:
		v := a.spec.Extract(r)
		if v.IsNull() {
			return
		}
		f, ok := v.AsFloat()
		if !ok {
			return
		}
		a.sum += float64(w) * f
		if v.Kind() == row.Int {
			a.isum += w * v.Int()
		} else {
			a.fcount += w
		}
		a.sumSet = true
		if a.spec.Func == Avg {
			a.count += w
		}
	case Min, Max:
		v := a.spec.Extract(r)
		a.minmax.insert(v, w)
	}
}

func (a *accum) clone() *accum {
	c := &accum{spec: a.spec, sum: a.sum, isum: a.isum, fcount: a.fcount, sumSet: a.sumSet, count: a.count}
	if a.minmax != nil {
		c.minmax = a.minmax.clone()
	}
	return c
}

// value computes this accumulator's current aggregate value. SUM,
// AVG, MIN and MAX yield NULL when no non-NULL value remains.
func (a *accum) value() row.Value {
	switch a.spec.Func {
	case CountStar, Count:
		return row.IntValue(a.count)
	case Sum:
		if !a.sumSet {
			return row.NullValue
		}
		if a.fcount == 0 {
			// every contribution was an INT: SUM stays integer, the
			// SQLite behavior for integer-typed columns.
			return row.IntValue(a.isum)
		}
		return row.FloatValue(a.sum)
	case Avg:
		if a.count == 0 {
			return row.NullValue
		}
		return row.FloatValue(a.sum / float64(a.count))
	case Min:
		v, ok := a.minmax.current(true)
		if !ok {
			return row.NullValue
		}
		return v
	case Max:
		v, ok := a.minmax.current(false)
		if !ok {
			return row.NullValue
		}
		return v
	}
	return row.NullValue
}
