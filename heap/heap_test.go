// Copyright 2023 Sneller, Inc.
//
//  Licensed under the Apache License, Version 2.0 (the "License");
//  you may not use this file except in compliance with the License.
//  You may obtain a copy of the License at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
//  Unless required by applicable law or agreed to in writing, software
//  distributed under the License is distributed on an "AS IS" BASIS,
//  WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
//  See the License for the specific language governing permissions and
//  limitations under the License.

package heap

import (
	"math/rand"
	"sort"
	"testing"

	"github.com/sneltrix/ivm/row"
)

var intSchema = &row.Schema{Columns: []row.Column{{Name: "n", Kind: row.Int}}}

func intRow(n int) row.Row {
	return row.New(intSchema, []row.Value{row.IntValue(int64(n))})
}

func intLess(a, b row.Row) bool {
	return a.At(0).Int() < b.At(0).Int()
}

func intOf(r row.Row) int {
	return int(r.At(0).Int())
}

func TestTopkKeepsTheKSmallest(t *testing.T) {
	const n, k = 1000, 37
	vals := make([]int, n)
	for i := range vals {
		vals[i] = rand.Int()
	}

	h := NewTopk(k, intLess)
	for _, v := range vals {
		h.Offer(intRow(v))
	}
	got := h.Sorted()
	if len(got) != k {
		t.Fatalf("kept %d rows, want %d", len(got), k)
	}

	sorted := append([]int(nil), vals...)
	sort.Ints(sorted)
	want := sorted[:k]
	for i, r := range got {
		if intOf(r) != want[i] {
			t.Fatalf("index %d: got %d, want %d", i, intOf(r), want[i])
		}
	}
}

func TestTopkSmallerThanK(t *testing.T) {
	h := NewTopk(10, intLess)
	for _, v := range []int{5, 1, 4} {
		h.Offer(intRow(v))
	}
	got := h.Sorted()
	want := []int{1, 4, 5}
	if len(got) != len(want) {
		t.Fatalf("kept %d rows, want %d", len(got), len(want))
	}
	for i, r := range got {
		if intOf(r) != want[i] {
			t.Fatalf("index %d: got %d, want %d", i, intOf(r), want[i])
		}
	}
}

func TestTopkZero(t *testing.T) {
	h := NewTopk(0, intLess)
	h.Offer(intRow(1))
	h.Offer(intRow(2))
	if h.Len() != 0 {
		t.Fatalf("k=0 kept %d rows", h.Len())
	}
}
