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

package zset

import "github.com/sneltrix/ivm/row"

// Add returns a new Z-set equal to z + o.
func (z *Set) Add(o *Set) *Set {
	out := z.Clone()
	out.Apply(o)
	return out
}

// Neg returns a new Z-set with every weight flipped.
func (z *Set) Neg() *Set {
	out := Empty()
	z.EntriesKeyed(func(k row.Key, r row.Row, w int64) {
		out.Insert(k, r, -w)
	})
	return out
}

// Sub returns z - o, i.e. z.Add(o.Neg()).
func (z *Set) Sub(o *Set) *Set {
	return z.Add(o.Neg())
}

// IsZero reports whether z has no entries, i.e. z == 0.
func (z *Set) IsZero() bool { return z.Size() == 0 }

// Equal reports structural equality of the (row, weight)
// mapping, order-insensitive.
func (z *Set) Equal(o *Set) bool {
	if z.Size() != o.Size() {
		return false
	}
	eq := true
	z.EntriesKeyed(func(k row.Key, r row.Row, w int64) {
		if !eq {
			return
		}
		or, ow, ok := o.Get(k)
		if !ok || ow != w || !or.Equal(r) {
			eq = false
		}
	})
	return eq
}

// Map returns the linear image of z under f: each row is
// replaced by f(row), keyed by the full value of the new row;
// weights are preserved.
func (z *Set) Map(f func(row.Row) row.Row) *Set {
	out := Empty()
	z.Entries(func(r row.Row, w int64) {
		out.InsertRow(f(r), w)
	})
	return out
}

// Filter returns the linear restriction of z to rows where p
// holds.
func (z *Set) Filter(p func(row.Row) bool) *Set {
	out := Empty()
	z.Entries(func(r row.Row, w int64) {
		if p(r) {
			out.InsertRow(r, w)
		}
	})
	return out
}

// FlatMap returns the linear image of z under f, where each
// row expands into a Z-set and weights multiply.
func (z *Set) FlatMap(f func(row.Row) *Set) *Set {
	out := Empty()
	z.Entries(func(r row.Row, w int64) {
		f(r).Entries(func(r2 row.Row, w2 int64) {
			out.InsertRow(r2, w*w2)
		})
	})
	return out
}

// Join returns the naive nested-loop product of z and o,
// restricted to rows whose join keys match, combined by
// combine. This is the Z-set algebra's reference join, used by
// tests as an oracle for the incremental, indexed join operator
// -- it is never used on the hot path.
func (z *Set) Join(o *Set, keyL, keyR func(row.Row) row.Key, combine func(l, r row.Row) row.Row) *Set {
	out := Empty()
	z.Entries(func(lr row.Row, lw int64) {
		lk := keyL(lr)
		o.Entries(func(rr row.Row, rw int64) {
			if keyR(rr) != lk {
				return
			}
			out.InsertRow(combine(lr, rr), lw*rw)
		})
	})
	return out
}
