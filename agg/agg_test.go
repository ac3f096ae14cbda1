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
	"testing"

	"github.com/sneltrix/ivm/circuit"
	"github.com/sneltrix/ivm/row"
	"github.com/sneltrix/ivm/zset"
)

var ordersSchema = &row.Schema{Columns: []row.Column{
	{Name: "id", Kind: row.Int},
	{Name: "region", Kind: row.Text},
	{Name: "amount", Kind: row.Int},
}}

var regionKeySchema = &row.Schema{Columns: []row.Column{{Name: "region", Kind: row.Text}}}

var sumOutSchema = &row.Schema{Columns: []row.Column{
	{Name: "region", Kind: row.Text},
	{Name: "sum_amount", Kind: row.Int},
}}

func mkorder(id int64, region string, amount int64) row.Row {
	return row.New(ordersSchema, []row.Value{row.IntValue(id), row.TextValue(region), row.IntValue(amount)})
}

func keyOf(r row.Row) row.Row {
	return row.New(regionKeySchema, []row.Value{r.Get("region")})
}

// the literal scenario from the spec's aggregation example.
func TestGroupBySumSpecScenario(t *testing.T) {
	specs := []Spec{{Name: "sum_amount", Func: Sum, Extract: func(r row.Row) row.Value { return r.Get("amount") }}}
	gb := NewGroupBy(keyOf, specs, sumOutSchema, nil)

	b := circuit.NewBuilder()
	src := b.Source("orders")
	node := b.Add("groupby", gb, src)
	b.Sink("view", node)
	c, err := b.Build()
	if err != nil {
		t.Fatal(err)
	}

	var got *zset.Set
	sub := func(name string, d *zset.Set) { got = d }

	push1 := zset.Empty()
	push1.InsertRow(mkorder(1, "NA", 10), 1)
	push1.InsertRow(mkorder(2, "NA", 5), 1)
	push1.InsertRow(mkorder(3, "EU", 7), 1)
	if err := c.Step(map[string]*zset.Set{"orders": push1}, sub); err != nil {
		t.Fatal(err)
	}
	want1 := zset.Empty()
	want1.InsertRow(row.New(sumOutSchema, []row.Value{row.TextValue("NA"), row.IntValue(15)}), 1)
	want1.InsertRow(row.New(sumOutSchema, []row.Value{row.TextValue("EU"), row.IntValue(7)}), 1)
	if !got.Equal(want1) {
		t.Fatalf("step1: got %v want %v", got, want1)
	}

	del := zset.Empty()
	del.InsertRow(mkorder(2, "NA", 5), -1)
	if err := c.Step(map[string]*zset.Set{"orders": del}, sub); err != nil {
		t.Fatal(err)
	}
	want2 := zset.Empty()
	want2.InsertRow(row.New(sumOutSchema, []row.Value{row.TextValue("NA"), row.IntValue(15)}), -1)
	want2.InsertRow(row.New(sumOutSchema, []row.Value{row.TextValue("NA"), row.IntValue(10)}), 1)
	if !got.Equal(want2) {
		t.Fatalf("step2: got %v want %v", got, want2)
	}
}

func TestGroupByUnchangedEmitsNothing(t *testing.T) {
	specs := []Spec{{Name: "sum_amount", Func: Sum, Extract: func(r row.Row) row.Value { return r.Get("amount") }}}
	gb := NewGroupBy(keyOf, specs, sumOutSchema, nil)

	b := circuit.NewBuilder()
	src := b.Source("orders")
	node := b.Add("groupby", gb, src)
	b.Sink("view", node)
	c, err := b.Build()
	if err != nil {
		t.Fatal(err)
	}
	var got *zset.Set
	sub := func(name string, d *zset.Set) { got = d }

	first := zset.Empty()
	first.InsertRow(mkorder(1, "NA", 10), 1)
	if err := c.Step(map[string]*zset.Set{"orders": first}, sub); err != nil {
		t.Fatal(err)
	}

	// insert then retract the same row in the next step: net zero
	// effect on the "NA" group's sum, so no delta should be emitted
	// for any OTHER untouched group, and the touched group itself
	// nets to an unchanged aggregate.
	noop := zset.Empty()
	noop.InsertRow(mkorder(2, "NA", 3), 1)
	noop.InsertRow(mkorder(2, "NA", 3), -1)
	if err := c.Step(map[string]*zset.Set{"orders": noop}, sub); err != nil {
		t.Fatal(err)
	}
	if !got.IsZero() {
		t.Fatalf("expected no delta for a net-zero step, got %v", got)
	}
}

func TestGroupByMinMaxRetraction(t *testing.T) {
	minMaxSchema := &row.Schema{Columns: []row.Column{
		{Name: "region", Kind: row.Text},
		{Name: "max_amount", Kind: row.Int},
	}}
	specs := []Spec{{Name: "max_amount", Func: Max, Extract: func(r row.Row) row.Value { return r.Get("amount") }}}
	gb := NewGroupBy(keyOf, specs, minMaxSchema, nil)

	b := circuit.NewBuilder()
	src := b.Source("orders")
	node := b.Add("groupby", gb, src)
	b.Sink("view", node)
	c, err := b.Build()
	if err != nil {
		t.Fatal(err)
	}
	var got *zset.Set
	sub := func(name string, d *zset.Set) { got = d }

	push := zset.Empty()
	push.InsertRow(mkorder(1, "NA", 10), 1)
	push.InsertRow(mkorder(2, "NA", 30), 1)
	push.InsertRow(mkorder(3, "NA", 20), 1)
	if err := c.Step(map[string]*zset.Set{"orders": push}, sub); err != nil {
		t.Fatal(err)
	}
	if v := c.View("view"); v.WeightOf(row.FullKey(row.New(minMaxSchema, []row.Value{row.TextValue("NA"), row.IntValue(30)}))) != 1 {
		t.Fatalf("expected max=30 after step1")
	}

	retractMax := zset.Empty()
	retractMax.InsertRow(mkorder(2, "NA", 30), -1)
	if err := c.Step(map[string]*zset.Set{"orders": retractMax}, sub); err != nil {
		t.Fatal(err)
	}
	want := zset.Empty()
	want.InsertRow(row.New(minMaxSchema, []row.Value{row.TextValue("NA"), row.IntValue(30)}), -1)
	want.InsertRow(row.New(minMaxSchema, []row.Value{row.TextValue("NA"), row.IntValue(20)}), 1)
	if !got.Equal(want) {
		t.Fatalf("retracting the current max should recompute it from what remains: got %v want %v", got, want)
	}
}
