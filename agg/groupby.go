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

import (
	"github.com/sneltrix/ivm/row"
	"github.com/sneltrix/ivm/zset"
)

type group struct {
	keyRow    row.Row
	accums    []*accum
	last      row.Row // last emitted aggregate tuple; zero Row if never emitted
	hasLast   bool
	netWeight int64 // total applied weight across every row mapped to this group; 0 means the group is gone
}

// GroupBy implements the incremental group-by aggregator described by
// the task: per-group reducible state plus the last emitted tuple, so
// a changed group can be retracted and reinserted in one step.
type GroupBy struct {
	keyOf     func(row.Row) row.Row // projects a row to its group-by key columns
	specs     []Spec
	outSchema *row.Schema
	having    func(row.Row) bool

	groups map[row.Key]*group
	staged map[row.Key]*group
}

// NewGroupBy builds an aggregator. keyOf projects an input row to its
// group-by key row (possibly zero columns, for a single global group).
// outSchema must list the key columns (in keyOf's order) followed by
// one column per spec. having, if non-nil, filters groups from the
// output after their aggregate is computed (SQL HAVING); a group that
// stops passing HAVING is retracted like any other change.
func NewGroupBy(keyOf func(row.Row) row.Row, specs []Spec, outSchema *row.Schema, having func(row.Row) bool) *GroupBy {
	return &GroupBy{
		keyOf:     keyOf,
		specs:     specs,
		outSchema: outSchema,
		having:    having,
		groups:    make(map[row.Key]*group),
	}
}

func (g *GroupBy) Eval(inputs []*zset.Set) (*zset.Set, error) {
	out := zset.Empty()
	g.staged = cloneGroups(g.groups)
	touched := make(map[row.Key]bool)

	touch := func(k row.Key, keyRow row.Row) *group {
		gr, ok := g.staged[k]
		if !ok {
			accums := make([]*accum, len(g.specs))
			for i, s := range g.specs {
				accums[i] = newAccum(s)
			}
			gr = &group{keyRow: keyRow, accums: accums}
		} else {
			// clone before mutating so g.groups (visible until
			// Commit) is untouched if a later node in the same
			// circuit step fails.
			gr = gr.clone()
		}
		g.staged[k] = gr
		touched[k] = true
		return gr
	}

	for _, in := range inputs {
		in.Entries(func(r row.Row, w int64) {
			keyRow := g.keyOf(r)
			k := row.FullKey(keyRow)
			gr := touch(k, keyRow)
			gr.netWeight += w
			for _, a := range gr.accums {
				a.apply(r, w)
			}
		})
	}

	// only a touched group's aggregate can have changed this step.
	for k := range touched {
		gr := g.staged[k]
		newRow, newEmpty := gr.buildRow(g.outSchema)
		newPasses := !newEmpty && (g.having == nil || g.having(newRow))
		oldPasses := gr.hasLast && (g.having == nil || g.having(gr.last))

		if oldPasses && newPasses && gr.last.Equal(newRow) {
			// unchanged: emit nothing.
		} else {
			if oldPasses {
				out.InsertRow(gr.last, -1)
			}
			if newPasses {
				out.InsertRow(newRow, 1)
			}
		}
		if newPasses {
			gr.last, gr.hasLast = newRow, true
		} else {
			gr.hasLast = false
		}
		if newEmpty {
			delete(g.staged, k)
		}
	}
	return out, nil
}

func (g *GroupBy) Commit() {
	g.groups = g.staged
	g.staged = nil
}

// buildRow computes the group's current aggregate tuple. empty is
// true when the group's net weight has dropped to zero, meaning every
// row ever mapped to this key has since been retracted, and the group
// should be dropped from persistent state once its retraction (if
// any) is emitted.
func (gr *group) buildRow(schema *row.Schema) (r row.Row, empty bool) {
	keyCols := len(schema.Columns) - len(gr.accums)
	vals := make([]row.Value, len(schema.Columns))
	for i := 0; i < keyCols; i++ {
		vals[i] = gr.keyRow.At(i)
	}
	for i, a := range gr.accums {
		vals[keyCols+i] = a.value()
	}
	return row.New(schema, vals), gr.netWeight == 0
}

func (gr *group) clone() *group {
	accums := make([]*accum, len(gr.accums))
	for i, a := range gr.accums {
		accums[i] = a.clone()
	}
	return &group{
		keyRow:    gr.keyRow,
		accums:    accums,
		last:      gr.last,
		hasLast:   gr.hasLast,
		netWeight: gr.netWeight,
	}
}

func cloneGroups(m map[row.Key]*group) map[row.Key]*group {
	out := make(map[row.Key]*group, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
