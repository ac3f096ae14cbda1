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

import (
	"math/rand"
	"testing"

	"github.com/sneltrix/ivm/row"
)

var testSchema = &row.Schema{Columns: []row.Column{
	{Name: "id", Kind: row.Int},
	{Name: "name", Kind: row.Text},
}}

func mkrow(id int64, name string) row.Row {
	return row.New(testSchema, []row.Value{row.IntValue(id), row.TextValue(name)})
}

func randSet(rng *rand.Rand, n int) *Set {
	s := Empty()
	for i := 0; i < n; i++ {
		id := int64(rng.Intn(10))
		w := int64(rng.Intn(5)) - 2
		if w == 0 {
			continue
		}
		s.InsertRow(mkrow(id, "row"), w)
	}
	return s
}

func TestGroupLaws(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 200; i++ {
		a := randSet(rng, 10)
		b := randSet(rng, 10)
		c := randSet(rng, 10)

		if !a.Add(Empty()).Equal(a) {
			t.Fatalf("a + 0 != a")
		}
		if !a.Add(b).Equal(b.Add(a)) {
			t.Fatalf("a + b != b + a")
		}
		if !a.Add(b).Add(c).Equal(a.Add(b.Add(c))) {
			t.Fatalf("(a+b)+c != a+(b+c)")
		}
		if !a.Add(a.Neg()).IsZero() {
			t.Fatalf("a + (-a) != 0")
		}
		zero := a.Add(a.Neg())
		zero.Entries(func(r row.Row, w int64) {
			if w == 0 {
				t.Fatalf("zero Z-set contains an explicit weight-0 entry")
			}
		})
	}
}

func TestInsertUpsert(t *testing.T) {
	s := Empty()
	k := row.Key("pk:1")
	s.Insert(k, mkrow(1, "alice"), 1)
	s.Insert(k, mkrow(1, "alice2"), 1) // upsert: replace the row
	r, w, ok := s.Get(k)
	if !ok || w != 1 || r.Get("name").Text() != "alice2" {
		t.Fatalf("expected upserted row alice2 weight 1, got %v %d %v", r, w, ok)
	}
}

func TestInsertCancel(t *testing.T) {
	s := Empty()
	k := row.Key("pk:1")
	s.Insert(k, mkrow(1, "alice"), 1)
	s.Insert(k, mkrow(1, "alice"), -1)
	if s.Size() != 0 {
		t.Fatalf("expected empty set after self-cancellation, got size %d", s.Size())
	}
}

func TestInsertZeroWeightPanicsOnAbsentKey(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic inserting weight 0 on an absent key")
		}
	}()
	Empty().Insert(row.Key("missing"), mkrow(1, "x"), 0)
}

func TestMapFilterFlatMap(t *testing.T) {
	s := Empty()
	s.InsertRow(mkrow(1, "a"), 1)
	s.InsertRow(mkrow(2, "b"), 2)

	filtered := s.Filter(func(r row.Row) bool { return r.Get("id").Int() == 2 })
	if filtered.Size() != 1 {
		t.Fatalf("filter: expected 1 entry, got %d", filtered.Size())
	}

	doubled := s.Map(func(r row.Row) row.Row {
		return mkrow(r.Get("id").Int()*10, r.Get("name").Text())
	})
	if _, w, ok := doubled.Get(row.FullKey(mkrow(10, "a"))); !ok || w != 1 {
		t.Fatalf("map: expected mapped row with weight 1")
	}

	flat := s.FlatMap(func(r row.Row) *Set {
		out := Empty()
		out.InsertRow(r, 1)
		out.InsertRow(r, 1)
		return out
	})
	if w := flat.WeightOf(row.FullKey(mkrow(1, "a"))); w != 2 {
		t.Fatalf("flatMap: expected weight 2, got %d", w)
	}
}

func TestIndexedByKey(t *testing.T) {
	ix := NewIndexed(func(r row.Row) row.Key {
		return row.Key(r.Get("name").Text())
	})
	ix.Insert(row.Key("pk1"), mkrow(1, "NA"), 1)
	ix.Insert(row.Key("pk2"), mkrow(2, "NA"), 1)
	ix.Insert(row.Key("pk3"), mkrow(3, "EU"), 1)

	count := 0
	ix.ByKey(row.Key("NA"), func(pk row.Key, r row.Row, w int64) {
		count++
	})
	if count != 2 {
		t.Fatalf("expected 2 rows under join key NA, got %d", count)
	}

	// retract pk1, index must no longer report it
	ix.Insert(row.Key("pk1"), mkrow(1, "NA"), -1)
	count = 0
	ix.ByKey(row.Key("NA"), func(pk row.Key, r row.Row, w int64) { count++ })
	if count != 1 {
		t.Fatalf("expected 1 row under join key NA after retraction, got %d", count)
	}

	// change pk2's join key to EU via upsert; NA bucket empties
	ix.Insert(row.Key("pk2"), mkrow(2, "EU"), -1)
	ix.Insert(row.Key("pk2"), mkrow(2, "EU"), 1)
	count = 0
	ix.ByKey(row.Key("NA"), func(pk row.Key, r row.Row, w int64) { count++ })
	if count != 0 {
		t.Fatalf("expected NA bucket to be empty, got %d", count)
	}
}
