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
	"testing"

	"github.com/sneltrix/ivm/circuit"
	"github.com/sneltrix/ivm/row"
	"github.com/sneltrix/ivm/zset"
)

var ordersSchema = &row.Schema{Columns: []row.Column{
	{Name: "id", Kind: row.Int},
	{Name: "status", Kind: row.Text},
}}

func order(id int64, status string) row.Row {
	return row.New(ordersSchema, []row.Value{row.IntValue(id), row.TextValue(status)})
}

func delta(rows ...row.Row) *zset.Set {
	s := zset.Empty()
	for _, r := range rows {
		s.InsertRow(r, 1)
	}
	return s
}

// the literal scenario from the spec's concrete filter example.
func TestFilterPending(t *testing.T) {
	b := circuit.NewBuilder()
	src := b.Source("orders")
	pending := b.Add("pending", Filter(func(r row.Row) bool {
		return r.Get("status").Text() == "pending"
	}), src)
	b.Sink("view", pending)
	c, err := b.Build()
	if err != nil {
		t.Fatal(err)
	}

	var got *zset.Set
	sub := func(name string, d *zset.Set) { got = d }

	if err := c.Step(map[string]*zset.Set{"orders": delta(order(1, "pending"), order(2, "shipped"))}, sub); err != nil {
		t.Fatal(err)
	}
	want := delta(order(1, "pending"))
	if !got.Equal(want) {
		t.Fatalf("step 1: got %v want %v", got, want)
	}

	retract := zset.Empty()
	retract.InsertRow(order(1, "pending"), -1)
	retract.InsertRow(order(1, "shipped"), 1)
	if err := c.Step(map[string]*zset.Set{"orders": retract}, sub); err != nil {
		t.Fatal(err)
	}
	wantRetract := zset.Empty()
	wantRetract.InsertRow(order(1, "pending"), -1)
	if !got.Equal(wantRetract) {
		t.Fatalf("step 2: got %v want %v", got, wantRetract)
	}
}

func TestUnionAll(t *testing.T) {
	b := circuit.NewBuilder()
	a := b.Source("a")
	c2 := b.Source("c")
	u := b.Add("u", UnionAll(), a, c2)
	b.Sink("view", u)
	c, err := b.Build()
	if err != nil {
		t.Fatal(err)
	}
	var got *zset.Set
	sub := func(name string, d *zset.Set) { got = d }
	if err := c.Step(map[string]*zset.Set{
		"a": delta(order(1, "pending")),
		"c": delta(order(2, "shipped")),
	}, sub); err != nil {
		t.Fatal(err)
	}
	want := delta(order(1, "pending"), order(2, "shipped"))
	if !got.Equal(want) {
		t.Fatalf("got %v want %v", got, want)
	}
}

func TestExceptAll(t *testing.T) {
	b := circuit.NewBuilder()
	left := b.Source("left")
	right := b.Source("right")
	out := WireExceptAll(b, "ex", left, right)
	b.Sink("view", out)
	c, err := b.Build()
	if err != nil {
		t.Fatal(err)
	}
	var got *zset.Set
	sub := func(name string, d *zset.Set) { got = d }
	if err := c.Step(map[string]*zset.Set{
		"left":  delta(order(1, "pending"), order(2, "shipped")),
		"right": delta(order(2, "shipped")),
	}, sub); err != nil {
		t.Fatal(err)
	}
	want := delta(order(1, "pending"))
	if !got.Equal(want) {
		t.Fatalf("got %v want %v", got, want)
	}
}

// distinct collapses a duplicate insert to a single +1, and does not
// emit a second delta when the duplicate is removed while one copy
// remains.
func TestDistinct(t *testing.T) {
	b := circuit.NewBuilder()
	src := b.Source("s")
	dist := b.Add("distinct", NewDistinct(), src)
	b.Sink("view", dist)
	c, err := b.Build()
	if err != nil {
		t.Fatal(err)
	}
	var got *zset.Set
	sub := func(name string, d *zset.Set) { got = d }

	if err := c.Step(map[string]*zset.Set{"s": delta(order(1, "pending"))}, sub); err != nil {
		t.Fatal(err)
	}
	if !got.Equal(delta(order(1, "pending"))) {
		t.Fatalf("step1: got %v", got)
	}

	dup := zset.Empty()
	dup.InsertRow(order(1, "pending"), 1)
	if err := c.Step(map[string]*zset.Set{"s": dup}, sub); err != nil {
		t.Fatal(err)
	}
	if !got.IsZero() {
		t.Fatalf("step2: duplicate insert should not change the distinct output, got %v", got)
	}

	oneRemoved := zset.Empty()
	oneRemoved.InsertRow(order(1, "pending"), -1)
	if err := c.Step(map[string]*zset.Set{"s": oneRemoved}, sub); err != nil {
		t.Fatal(err)
	}
	if !got.IsZero() {
		t.Fatalf("step3: one copy remains, distinct output should be unchanged, got %v", got)
	}

	oneRemoved2 := zset.Empty()
	oneRemoved2.InsertRow(order(1, "pending"), -1)
	if err := c.Step(map[string]*zset.Set{"s": oneRemoved2}, sub); err != nil {
		t.Fatal(err)
	}
	if !got.Equal(delta(order(1, "pending"))) {
		// last remaining copy removed: retraction finally surfaces
		want := zset.Empty()
		want.InsertRow(order(1, "pending"), -1)
		if !got.Equal(want) {
			t.Fatalf("step4: got %v want retraction", got)
		}
	}
}

func TestIntersectAll(t *testing.T) {
	b := circuit.NewBuilder()
	left := b.Source("left")
	right := b.Source("right")
	out := b.Add("intersect", NewIntersectAll(), left, right)
	b.Sink("view", out)
	c, err := b.Build()
	if err != nil {
		t.Fatal(err)
	}
	var got *zset.Set
	sub := func(name string, d *zset.Set) { got = d }
	if err := c.Step(map[string]*zset.Set{
		"left":  delta(order(1, "pending"), order(2, "shipped")),
		"right": delta(order(2, "shipped")),
	}, sub); err != nil {
		t.Fatal(err)
	}
	want := delta(order(2, "shipped"))
	if !got.Equal(want) {
		t.Fatalf("got %v want %v", got, want)
	}
}
