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
	"testing"

	"github.com/sneltrix/ivm/row"
	"github.com/sneltrix/ivm/source"
	"github.com/sneltrix/ivm/zset"
)

func mustExec(t *testing.T, script string) *Engine {
	t.Helper()
	e := New(nil)
	if err := e.Exec(script); err != nil {
		t.Fatal(err)
	}
	if err := e.Build(); err != nil {
		t.Fatal(err)
	}
	return e
}

func mustPush(t *testing.T, e *Engine, table string, batch source.Batch) map[string]*zset.Set {
	t.Helper()
	out, err := e.Push(table, batch)
	if err != nil {
		t.Fatal(err)
	}
	return out
}

// the spec's literal sliding-window scenario, driven through SQL:
// SUM(v) OVER (ORDER BY ts ROWS BETWEEN 2 PRECEDING AND CURRENT ROW)
// over ts=1..4 yields running frame sums 1, 3, 6, 9.
func TestEngineSlidingWindowScenario(t *testing.T) {
	e := mustExec(t, `
CREATE TABLE p (ts INT PRIMARY KEY, v INT);
CREATE VIEW framed AS
  SELECT ts, SUM(v) OVER (ORDER BY ts ROWS BETWEEN 2 PRECEDING AND CURRENT ROW) AS s FROM p;
`)
	pSchema := &row.Schema{Columns: []row.Column{{Name: "ts", Kind: row.Int}, {Name: "v", Kind: row.Int}}}
	mkP := func(ts, v int64) row.Row {
		return row.New(pSchema, []row.Value{row.IntValue(ts), row.IntValue(v)})
	}
	outSchema := &row.Schema{Columns: []row.Column{{Name: "ts", Kind: row.Int}, {Name: "s", Kind: row.Int}}}
	mkOut := func(ts, s int64) row.Row {
		return row.New(outSchema, []row.Value{row.IntValue(ts), row.IntValue(s)})
	}

	out := mustPush(t, e, "p", source.Batch{Inserts: []row.Row{
		mkP(1, 1), mkP(2, 2), mkP(3, 3), mkP(4, 4),
	}})
	setEqual(t, out["framed"], map[string]int64{
		string(row.FullKey(mkOut(1, 1))): 1,
		string(row.FullKey(mkOut(2, 3))): 1,
		string(row.FullKey(mkOut(3, 6))): 1,
		string(row.FullKey(mkOut(4, 9))): 1,
	})

	// the frame keeps sliding across steps: ts=5 covers {3,4,5}.
	out = mustPush(t, e, "p", source.Batch{Inserts: []row.Row{mkP(5, 5)}})
	setEqual(t, out["framed"], map[string]int64{
		string(row.FullKey(mkOut(5, 12))): 1,
	})
}

// the spec's literal ASOF scenario: a trade at ts=2500 matches the
// latest price at or before it (ts=2000, price 105).
func TestEngineAsofJoinScenario(t *testing.T) {
	e := mustExec(t, `
CREATE TABLE trades (ts INT PRIMARY KEY, symbol TEXT);
CREATE TABLE prices (ts INT PRIMARY KEY, symbol TEXT, price INT);
CREATE VIEW matched AS
  SELECT trades.ts, prices.price FROM trades
  ASOF JOIN prices ON trades.symbol = prices.symbol AND trades.ts >= prices.ts;
`)
	tSchema := &row.Schema{Columns: []row.Column{{Name: "ts", Kind: row.Int}, {Name: "symbol", Kind: row.Text}}}
	pSchema := &row.Schema{Columns: []row.Column{{Name: "ts", Kind: row.Int}, {Name: "symbol", Kind: row.Text}, {Name: "price", Kind: row.Int}}}
	mkTrade := func(ts int64, sym string) row.Row {
		return row.New(tSchema, []row.Value{row.IntValue(ts), row.TextValue(sym)})
	}
	mkPrice := func(ts int64, sym string, price int64) row.Row {
		return row.New(pSchema, []row.Value{row.IntValue(ts), row.TextValue(sym), row.IntValue(price)})
	}
	outSchema := &row.Schema{Columns: []row.Column{{Name: "ts", Kind: row.Int}, {Name: "price", Kind: row.Int}}}
	mkOut := func(ts, price int64) row.Row {
		return row.New(outSchema, []row.Value{row.IntValue(ts), row.IntValue(price)})
	}

	mustPush(t, e, "prices", source.Batch{Inserts: []row.Row{
		mkPrice(1000, "AAPL", 100),
		mkPrice(2000, "AAPL", 105),
	}})
	out := mustPush(t, e, "trades", source.Batch{Inserts: []row.Row{mkTrade(2500, "AAPL")}})
	setEqual(t, out["matched"], map[string]int64{
		string(row.FullKey(mkOut(2500, 105))): 1,
	})

	// a trade earlier than any price finds nothing.
	out = mustPush(t, e, "trades", source.Batch{Inserts: []row.Row{mkTrade(500, "AAPL")}})
	if out["matched"].Size() != 0 {
		t.Fatalf("trade before any price matched: %v", dump(out["matched"]))
	}
}

// pushing the same row twice produces the same view state as pushing
// it once (upsert idempotence).
func TestEngineUpsertIdempotence(t *testing.T) {
	e := mustExec(t, `
CREATE TABLE orders (id INT PRIMARY KEY, status TEXT);
CREATE VIEW pending AS SELECT * FROM orders WHERE status = 'pending';
`)
	mustPush(t, e, "orders", source.Batch{Inserts: []row.Row{mkOrderRow(1, "pending")}})
	// same row again, alongside an unrelated one so the batch digest
	// differs and per-row idempotence is what's exercised.
	out := mustPush(t, e, "orders", source.Batch{Inserts: []row.Row{
		mkOrderRow(1, "pending"),
		mkOrderRow(2, "shipped"),
	}})
	if out["pending"].Size() != 0 {
		t.Fatalf("re-pushing an identical row emitted a delta: %v", dump(out["pending"]))
	}
	mat, _, err := e.View("pending")
	if err != nil {
		t.Fatal(err)
	}
	if mat.Size() != 1 {
		t.Fatalf("materialization size = %d, want 1", mat.Size())
	}
}

// an insert followed by its exact delete returns every downstream
// view to its prior state, whether the pair lands in one batch or two.
func TestEngineSelfCancellation(t *testing.T) {
	e := mustExec(t, `
CREATE TABLE orders (id INT PRIMARY KEY, status TEXT);
CREATE VIEW pending AS SELECT * FROM orders WHERE status = 'pending';
`)
	// across steps.
	mustPush(t, e, "orders", source.Batch{Inserts: []row.Row{mkOrderRow(1, "pending")}})
	mustPush(t, e, "orders", source.Batch{Deletes: []row.Row{mkOrderRow(1, "pending")}})
	mat, _, err := e.View("pending")
	if err != nil {
		t.Fatal(err)
	}
	if mat.Size() != 0 {
		t.Fatalf("after insert+delete across steps: size = %d, want 0", mat.Size())
	}

	// within one batch: the pair nets to an empty delta.
	out := mustPush(t, e, "orders", source.Batch{
		Inserts: []row.Row{mkOrderRow(3, "pending")},
		Deletes: []row.Row{mkOrderRow(3, "pending")},
	})
	if out["pending"].Size() != 0 {
		t.Fatalf("same-batch insert+delete emitted a delta: %v", dump(out["pending"]))
	}
}

// WHERE in three-valued logic: a NULL comparison is UNKNOWN and the
// row is excluded; IS NULL selects it.
func TestEngineWhereNullSemantics(t *testing.T) {
	e := mustExec(t, `
CREATE TABLE t (id INT PRIMARY KEY, x INT);
CREATE VIEW big AS SELECT id FROM t WHERE x > 5;
CREATE VIEW unknowns AS SELECT id FROM t WHERE x IS NULL;
`)
	tSchema := &row.Schema{Columns: []row.Column{{Name: "id", Kind: row.Int}, {Name: "x", Kind: row.Int}}}
	mk := func(id int64, x row.Value) row.Row {
		return row.New(tSchema, []row.Value{row.IntValue(id), x})
	}
	idSchema := &row.Schema{Columns: []row.Column{{Name: "id", Kind: row.Int}}}
	mkID := func(id int64) row.Row { return row.New(idSchema, []row.Value{row.IntValue(id)}) }

	out := mustPush(t, e, "t", source.Batch{Inserts: []row.Row{
		mk(1, row.IntValue(10)),
		mk(2, row.NullValue),
		mk(3, row.IntValue(3)),
	}})
	setEqual(t, out["big"], map[string]int64{string(row.FullKey(mkID(1))): 1})
	setEqual(t, out["unknowns"], map[string]int64{string(row.FullKey(mkID(2))): 1})
}

// COUNT(DISTINCT col): retracting one of two duplicate values leaves
// the count unchanged; retracting the last occurrence decrements it.
func TestEngineCountDistinct(t *testing.T) {
	e := mustExec(t, `
CREATE TABLE orders (id INT PRIMARY KEY, region TEXT, amount INT);
CREATE VIEW d AS SELECT region, COUNT(DISTINCT amount) AS cnt FROM orders GROUP BY region;
`)
	outSchema := &row.Schema{Columns: []row.Column{{Name: "region", Kind: row.Text}, {Name: "cnt", Kind: row.Int}}}
	mk := func(region string, cnt int64) row.Row {
		return row.New(outSchema, []row.Value{row.TextValue(region), row.IntValue(cnt)})
	}

	mustPush(t, e, "orders", source.Batch{Inserts: []row.Row{
		mkAggRow(1, "NA", 10),
		mkAggRow(2, "NA", 10),
		mkAggRow(3, "NA", 5),
	}})
	mat, _, err := e.View("d")
	if err != nil {
		t.Fatal(err)
	}
	if mat.WeightOf(row.FullKey(mk("NA", 2))) != 1 {
		t.Fatalf("after inserts: %v, want {('NA',2):+1}", dump(mat))
	}

	// one duplicate gone: 10 is still present via order 1.
	out := mustPush(t, e, "orders", source.Batch{Deletes: []row.Row{mkAggRow(2, "NA", 10)}})
	if out["d"].Size() != 0 {
		t.Fatalf("deleting a duplicate changed the distinct count: %v", dump(out["d"]))
	}

	// last occurrence of 10 gone: count drops to 1.
	out = mustPush(t, e, "orders", source.Batch{Deletes: []row.Row{mkAggRow(1, "NA", 10)}})
	setEqual(t, out["d"], map[string]int64{
		string(row.FullKey(mk("NA", 2))): -1,
		string(row.FullKey(mk("NA", 1))): 1,
	})
}

// HAVING filters groups on the aggregated value.
func TestEngineHaving(t *testing.T) {
	e := mustExec(t, `
CREATE TABLE orders (id INT PRIMARY KEY, region TEXT, amount INT);
CREATE VIEW big AS
  SELECT region, SUM(amount) AS total FROM orders GROUP BY region HAVING SUM(amount) > 10;
`)
	outSchema := &row.Schema{Columns: []row.Column{{Name: "region", Kind: row.Text}, {Name: "total", Kind: row.Int}}}
	mk := func(region string, total int64) row.Row {
		return row.New(outSchema, []row.Value{row.TextValue(region), row.IntValue(total)})
	}

	out := mustPush(t, e, "orders", source.Batch{Inserts: []row.Row{
		mkAggRow(1, "NA", 10),
		mkAggRow(2, "NA", 5),
		mkAggRow(3, "EU", 7),
	}})
	// NA total 15 passes HAVING; EU total 7 does not.
	setEqual(t, out["big"], map[string]int64{string(row.FullKey(mk("NA", 15))): 1})

	// dropping NA below the threshold retracts the group.
	out = mustPush(t, e, "orders", source.Batch{Deletes: []row.Row{mkAggRow(1, "NA", 10)}})
	setEqual(t, out["big"], map[string]int64{string(row.FullKey(mk("NA", 15))): -1})
}

// UNION ALL and EXCEPT ALL through the compiler.
func TestEngineSetOps(t *testing.T) {
	e := mustExec(t, `
CREATE TABLE a (id INT PRIMARY KEY);
CREATE TABLE b (id INT PRIMARY KEY);
CREATE VIEW u AS SELECT id FROM a UNION ALL SELECT id FROM b;
CREATE VIEW x AS SELECT id FROM a EXCEPT ALL SELECT id FROM b;
`)
	idSchema := &row.Schema{Columns: []row.Column{{Name: "id", Kind: row.Int}}}
	mkID := func(id int64) row.Row { return row.New(idSchema, []row.Value{row.IntValue(id)}) }

	mustPush(t, e, "a", source.Batch{Inserts: []row.Row{mkID(1), mkID(2)}})
	mustPush(t, e, "b", source.Batch{Inserts: []row.Row{mkID(2), mkID(3)}})

	u, _, err := e.View("u")
	if err != nil {
		t.Fatal(err)
	}
	if u.WeightOf(row.FullKey(mkID(1))) != 1 ||
		u.WeightOf(row.FullKey(mkID(2))) != 2 ||
		u.WeightOf(row.FullKey(mkID(3))) != 1 {
		t.Fatalf("UNION ALL: %v, want {1:1, 2:2, 3:1}", dump(u))
	}

	x, _, err := e.View("x")
	if err != nil {
		t.Fatal(err)
	}
	if x.WeightOf(row.FullKey(mkID(1))) != 1 || x.WeightOf(row.FullKey(mkID(2))) != 0 {
		t.Fatalf("EXCEPT ALL: %v, want {1:1}", dump(x))
	}
}

// chain rule / oracle check: across a sequence of inserts, updates and
// deletes on both sides, the join view's running materialization
// always equals the naive join of the tables' current contents.
func TestEngineJoinMatchesNaiveOracle(t *testing.T) {
	e := mustExec(t, `
CREATE TABLE s (id INT PRIMARY KEY, zid INT);
CREATE TABLE z (zid INT PRIMARY KEY, name TEXT);
CREATE VIEW j AS SELECT s.id, z.name FROM s JOIN z ON s.zid = z.zid;
`)
	outSchema := &row.Schema{Columns: []row.Column{{Name: "id", Kind: row.Int}, {Name: "name", Kind: row.Text}}}

	// test-side mirror of each table's current rows, keyed by pk.
	sRows := map[int64]row.Row{}
	zRows := map[int64]row.Row{}

	apply := func(m map[int64]row.Row, pkOf func(row.Row) int64, b source.Batch) {
		for _, r := range b.Inserts {
			m[pkOf(r)] = r
		}
		for _, r := range b.Updates {
			m[pkOf(r)] = r
		}
		for _, r := range b.Deletes {
			delete(m, pkOf(r))
		}
	}
	sPK := func(r row.Row) int64 { return r.Get("id").Int() }
	zPK := func(r row.Row) int64 { return r.Get("zid").Int() }

	oracle := func() *zset.Set {
		want := zset.Empty()
		for _, sr := range sRows {
			for _, zr := range zRows {
				if sr.Get("zid").Int() == zr.Get("zid").Int() {
					want.InsertRow(row.New(outSchema, []row.Value{sr.Get("id"), zr.Get("name")}), 1)
				}
			}
		}
		return want
	}

	step := func(table string, b source.Batch) {
		t.Helper()
		mustPush(t, e, table, b)
		if table == "s" {
			apply(sRows, sPK, b)
		} else {
			apply(zRows, zPK, b)
		}
		got, _, err := e.View("j")
		if err != nil {
			t.Fatal(err)
		}
		if want := oracle(); !got.Equal(want) {
			t.Fatalf("after %s batch: view %v, oracle %v", table, dump(got), dump(want))
		}
	}

	step("z", source.Batch{Inserts: []row.Row{mkZ(1, "A"), mkZ(2, "B")}})
	step("s", source.Batch{Inserts: []row.Row{mkS(10, 1), mkS(11, 1), mkS(12, 2), mkS(13, 3)}})
	step("s", source.Batch{Updates: []row.Row{mkS(12, 1)}, Deletes: []row.Row{mkS(11, 1)}})
	step("z", source.Batch{Updates: []row.Row{mkZ(1, "AA")}, Inserts: []row.Row{mkZ(3, "C")}})
	step("z", source.Batch{Deletes: []row.Row{mkZ(2, "B")}})
	step("s", source.Batch{Deletes: []row.Row{mkS(10, 1)}})
}

// LEFT JOIN pads unmatched left rows with NULLs and retracts the
// padding once a match appears.
func TestEngineLeftJoin(t *testing.T) {
	e := mustExec(t, `
CREATE TABLE s (id INT PRIMARY KEY, zid INT);
CREATE TABLE z (zid INT PRIMARY KEY, name TEXT);
CREATE VIEW lj AS SELECT s.id, z.name FROM s LEFT JOIN z ON s.zid = z.zid;
`)
	outSchema := &row.Schema{Columns: []row.Column{{Name: "id", Kind: row.Int}, {Name: "name", Kind: row.Text}}}
	mkOut := func(id int64, name row.Value) row.Row {
		return row.New(outSchema, []row.Value{row.IntValue(id), name})
	}

	out := mustPush(t, e, "s", source.Batch{Inserts: []row.Row{mkS(10, 1)}})
	setEqual(t, out["lj"], map[string]int64{
		string(row.FullKey(mkOut(10, row.NullValue))): 1,
	})

	// the match arrives: NULL padding is retracted, the pair appears.
	out = mustPush(t, e, "z", source.Batch{Inserts: []row.Row{mkZ(1, "A")}})
	setEqual(t, out["lj"], map[string]int64{
		string(row.FullKey(mkOut(10, row.NullValue))):  -1,
		string(row.FullKey(mkOut(10, row.TextValue("A")))): 1,
	})
}
