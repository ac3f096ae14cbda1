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

package engine

import (
	"fmt"
	"testing"

	"github.com/sneltrix/ivm/row"
	"github.com/sneltrix/ivm/source"
	"github.com/sneltrix/ivm/zset"
)

func setEqual(t *testing.T, got *zset.Set, want map[string]int64) {
	t.Helper()
	if got.Size() != len(want) {
		t.Fatalf("size = %d, want %d (got entries: %v)", got.Size(), len(want), dump(got))
	}
	got.EntriesKeyed(func(k row.Key, r row.Row, w int64) {
		ws, ok := want[string(k)]
		if !ok {
			t.Fatalf("unexpected entry %v weight %d", r, w)
		}
		if ws != w {
			t.Fatalf("entry %v: weight = %d, want %d", r, w, ws)
		}
	})
}

func dump(z *zset.Set) []string {
	var out []string
	z.Entries(func(r row.Row, w int64) { out = append(out, fmt.Sprintf("%v:%d", r.Values, w)) })
	return out
}

func ordersSchema() *row.Schema {
	return &row.Schema{Columns: []row.Column{
		{Name: "id", Kind: row.Int},
		{Name: "status", Kind: row.Text},
	}}
}

func mkOrderRow(id int64, status string) row.Row {
	return row.New(ordersSchema(), []row.Value{row.IntValue(id), row.TextValue(status)})
}

// spec.md §8 scenario 1: filter.
func TestEngineFilterScenario(t *testing.T) {
	e := New(nil)
	script := `
CREATE TABLE orders (id INT PRIMARY KEY, status TEXT);
CREATE VIEW pending AS SELECT * FROM orders WHERE status = 'pending';
`
	if err := e.Exec(script); err != nil {
		t.Fatal(err)
	}
	if err := e.Build(); err != nil {
		t.Fatal(err)
	}

	out, err := e.Push("orders", source.Batch{Inserts: []row.Row{
		mkOrderRow(1, "pending"),
		mkOrderRow(2, "shipped"),
	}})
	if err != nil {
		t.Fatal(err)
	}
	setEqual(t, out["pending"], map[string]int64{string(row.FullKey(mkOrderRow(1, "pending"))): 1})

	out, err = e.Push("orders", source.Batch{Updates: []row.Row{mkOrderRow(1, "shipped")}})
	if err != nil {
		t.Fatal(err)
	}
	setEqual(t, out["pending"], map[string]int64{string(row.FullKey(mkOrderRow(1, "pending"))): -1})

	mat, overflow, err := e.View("pending")
	if err != nil {
		t.Fatal(err)
	}
	if overflow {
		t.Fatal("unexpected overflow")
	}
	if mat.Size() != 0 {
		t.Fatalf("final materialization size = %d, want 0", mat.Size())
	}
}

func ordersAggSchema() *row.Schema {
	return &row.Schema{Columns: []row.Column{
		{Name: "id", Kind: row.Int},
		{Name: "region", Kind: row.Text},
		{Name: "amount", Kind: row.Int},
	}}
}

func mkAggRow(id int64, region string, amount int64) row.Row {
	return row.New(ordersAggSchema(), []row.Value{row.IntValue(id), row.TextValue(region), row.IntValue(amount)})
}

// spec.md §8 scenario 2: aggregation.
func TestEngineAggregationScenario(t *testing.T) {
	e := New(nil)
	script := `
CREATE TABLE orders (id INT PRIMARY KEY, region TEXT, amount INT);
CREATE VIEW by_region AS SELECT region, SUM(amount) AS total FROM orders GROUP BY region;
`
	if err := e.Exec(script); err != nil {
		t.Fatal(err)
	}
	if err := e.Build(); err != nil {
		t.Fatal(err)
	}

	outSchema := &row.Schema{Columns: []row.Column{{Name: "region", Kind: row.Text}, {Name: "total", Kind: row.Int}}}
	mk := func(region string, total int64) row.Row {
		return row.New(outSchema, []row.Value{row.TextValue(region), row.IntValue(total)})
	}

	out, err := e.Push("orders", source.Batch{Inserts: []row.Row{
		mkAggRow(1, "NA", 10),
		mkAggRow(2, "NA", 5),
		mkAggRow(3, "EU", 7),
	}})
	if err != nil {
		t.Fatal(err)
	}
	setEqual(t, out["by_region"], map[string]int64{
		string(row.FullKey(mk("NA", 15))): 1,
		string(row.FullKey(mk("EU", 7))):  1,
	})

	out, err = e.Push("orders", source.Batch{Deletes: []row.Row{mkAggRow(2, "NA", 5)}})
	if err != nil {
		t.Fatal(err)
	}
	setEqual(t, out["by_region"], map[string]int64{
		string(row.FullKey(mk("NA", 15))): -1,
		string(row.FullKey(mk("NA", 10))): 1,
	})
}

func sSchema() *row.Schema {
	return &row.Schema{Columns: []row.Column{{Name: "id", Kind: row.Int}, {Name: "zid", Kind: row.Int}}}
}
func zSchema() *row.Schema {
	return &row.Schema{Columns: []row.Column{{Name: "zid", Kind: row.Int}, {Name: "name", Kind: row.Text}}}
}
func mkS(id, zid int64) row.Row {
	return row.New(sSchema(), []row.Value{row.IntValue(id), row.IntValue(zid)})
}
func mkZ(zid int64, name string) row.Row {
	return row.New(zSchema(), []row.Value{row.IntValue(zid), row.TextValue(name)})
}

// spec.md §8 scenario 3: equi-join.
func TestEngineEquiJoinScenario(t *testing.T) {
	e := New(nil)
	script := `
CREATE TABLE s (id INT PRIMARY KEY, zid INT);
CREATE TABLE z (zid INT PRIMARY KEY, name TEXT);
CREATE VIEW joined AS SELECT s.id, z.name FROM s JOIN z ON s.zid = z.zid;
`
	if err := e.Exec(script); err != nil {
		t.Fatal(err)
	}
	if err := e.Build(); err != nil {
		t.Fatal(err)
	}

	outSchema := &row.Schema{Columns: []row.Column{{Name: "id", Kind: row.Int}, {Name: "name", Kind: row.Text}}}
	mkOut := func(id int64, name string) row.Row {
		return row.New(outSchema, []row.Value{row.IntValue(id), row.TextValue(name)})
	}

	if _, err := e.Push("z", source.Batch{Inserts: []row.Row{mkZ(1, "A")}}); err != nil {
		t.Fatal(err)
	}
	out, err := e.Push("s", source.Batch{Inserts: []row.Row{mkS(10, 1), mkS(11, 2)}})
	if err != nil {
		t.Fatal(err)
	}
	setEqual(t, out["joined"], map[string]int64{string(row.FullKey(mkOut(10, "A"))): 1})

	out, err = e.Push("z", source.Batch{Inserts: []row.Row{mkZ(2, "B")}})
	if err != nil {
		t.Fatal(err)
	}
	setEqual(t, out["joined"], map[string]int64{string(row.FullKey(mkOut(11, "B"))): 1})
}

// spec.md §8 scenario 6: anti-join orphans, expressed via NOT EXISTS
// to exercise extractSubqueryJoins end to end.
func TestEngineNotExistsAntiJoinScenario(t *testing.T) {
	e := New(nil)
	script := `
CREATE TABLE customers (id INT PRIMARY KEY);
CREATE TABLE orders (id INT PRIMARY KEY, cust_id INT);
CREATE VIEW orphans AS
  SELECT orders.id FROM orders
  WHERE NOT EXISTS (SELECT 1 FROM customers WHERE customers.id = orders.cust_id);
`
	if err := e.Exec(script); err != nil {
		t.Fatal(err)
	}
	if err := e.Build(); err != nil {
		t.Fatal(err)
	}

	custSchema := &row.Schema{Columns: []row.Column{{Name: "id", Kind: row.Int}}}
	mkCust := func(id int64) row.Row { return row.New(custSchema, []row.Value{row.IntValue(id)}) }
	ordSchema := &row.Schema{Columns: []row.Column{{Name: "id", Kind: row.Int}, {Name: "cust_id", Kind: row.Int}}}
	mkOrd := func(id, custID int64) row.Row {
		return row.New(ordSchema, []row.Value{row.IntValue(id), row.IntValue(custID)})
	}
	outSchema := &row.Schema{Columns: []row.Column{{Name: "id", Kind: row.Int}}}
	mkOut := func(id int64) row.Row { return row.New(outSchema, []row.Value{row.IntValue(id)}) }

	if _, err := e.Push("customers", source.Batch{Inserts: []row.Row{mkCust(1), mkCust(2), mkCust(5)}}); err != nil {
		t.Fatal(err)
	}
	out, err := e.Push("orders", source.Batch{Inserts: []row.Row{
		mkOrd(100, 1), mkOrd(101, 2), mkOrd(102, 3), mkOrd(103, 4), mkOrd(104, 5),
	}})
	if err != nil {
		t.Fatal(err)
	}
	setEqual(t, out["orphans"], map[string]int64{
		string(row.FullKey(mkOut(102))): 1,
		string(row.FullKey(mkOut(103))): 1,
	})

	out, err = e.Push("customers", source.Batch{Inserts: []row.Row{mkCust(3)}})
	if err != nil {
		t.Fatal(err)
	}
	setEqual(t, out["orphans"], map[string]int64{string(row.FullKey(mkOut(102))): -1})

	mat, _, err := e.View("orphans")
	if err != nil {
		t.Fatal(err)
	}
	if mat.Size() != 1 {
		t.Fatalf("final orphan count = %d, want 1 (order 103 only)", mat.Size())
	}
}

// Engine.Rows applies ORDER BY / LIMIT / OFFSET at the
// materialization-read boundary, never inside the circuit.
func TestEngineRowsOrderLimit(t *testing.T) {
	e := New(nil)
	script := `
CREATE TABLE orders (id INT PRIMARY KEY, region TEXT, amount INT);
CREATE VIEW top_amounts AS
  SELECT id, amount FROM orders ORDER BY amount DESC LIMIT 2 OFFSET 1;
`
	if err := e.Exec(script); err != nil {
		t.Fatal(err)
	}
	if err := e.Build(); err != nil {
		t.Fatal(err)
	}
	if _, err := e.Push("orders", source.Batch{Inserts: []row.Row{
		mkAggRow(1, "NA", 30),
		mkAggRow(2, "NA", 50),
		mkAggRow(3, "EU", 10),
		mkAggRow(4, "EU", 40),
	}}); err != nil {
		t.Fatal(err)
	}

	rows, overflow, err := e.Rows("top_amounts")
	if err != nil {
		t.Fatal(err)
	}
	if overflow {
		t.Fatal("unexpected overflow")
	}
	// amounts sorted desc: 50,40,30,10; offset 1 limit 2 -> 40,30
	if len(rows) != 2 {
		t.Fatalf("len(rows) = %d, want 2", len(rows))
	}
	if rows[0].Get("amount").Int() != 40 || rows[1].Get("amount").Int() != 30 {
		t.Fatalf("rows = %v, want amounts [40, 30]", rows)
	}
}
