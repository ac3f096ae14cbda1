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

package agg

import "github.com/sneltrix/ivm/row"

var valueCellSchema = &row.Schema{Columns: []row.Column{{Name: "v", Kind: row.Null}}}

// valueMultiset tracks, per distinct value, a signed weight, so that
// retracting the current MIN or MAX can recompute the next-best value
// from what remains rather than needing to rescan the base relation.
// NULL values are never inserted (MIN/MAX ignore NULL, like every SQL
// aggregate but COUNT(*)).
type valueMultiset struct {
	weights map[row.Key]int64
	values  map[row.Key]row.Value
}

func newValueMultiset() *valueMultiset {
	return &valueMultiset{weights: make(map[row.Key]int64), values: make(map[row.Key]row.Value)}
}

func (m *valueMultiset) insert(v row.Value, w int64) {
	if v.IsNull() {
		return
	}
	k := valueKey(v)
	m.weights[k] += w
	if m.weights[k] == 0 {
		delete(m.weights, k)
		delete(m.values, k)
		return
	}
	m.values[k] = v
}

// current scans the surviving (positive-weight) distinct values and
// returns the smallest (wantMin) or largest. Linear in the number of
// distinct values per group; the spec places no asymptotic bound on
// GROUP BY MIN/MAX, unlike the sliding-window aggregates in package
// window.
func (m *valueMultiset) current(wantMin bool) (row.Value, bool) {
	var best row.Value
	found := false
	for k, w := range m.weights {
		if w <= 0 {
			continue
		}
		v := m.values[k]
		if !found {
			best, found = v, true
			continue
		}
		cmp, ok := row.Compare(v, best)
		if !ok {
			continue
		}
		if (wantMin && cmp < 0) || (!wantMin && cmp > 0) {
			best = v
		}
	}
	return best, found
}

func (m *valueMultiset) clone() *valueMultiset {
	c := newValueMultiset()
	for k, w := range m.weights {
		c.weights[k] = w
	}
	for k, v := range m.values {
		c.values[k] = v
	}
	return c
}

func valueKey(v row.Value) row.Key {
	return row.FullKey(row.New(valueCellSchema, []row.Value{v}))
}
