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

// Package heap implements a bounded top-k selector over row.Row,
// used to serve ORDER BY combined with a small LIMIT without sorting
// an entire materialized view.
package heap

import (
	"sort"

	"github.com/sneltrix/ivm/row"
)

// Topk keeps the k rows that sort earliest under less, across any
// number of Offer calls, without ever holding more than k rows at
// once. It is backed by a binary heap keyed on the worst-of-the-kept
// row, so admitting a candidate costs O(log k) instead of resorting
// the whole kept set.
type Topk struct {
	k     int
	less  func(a, b row.Row) bool
	items []row.Row
}

// NewTopk returns an empty Topk bounded at k rows and ordered by
// less. A k <= 0 Topk discards every row offered to it.
func NewTopk(k int, less func(a, b row.Row) bool) *Topk {
	return &Topk{k: k, less: less, items: make([]row.Row, 0, max(k, 0))}
}

// Len reports how many rows are currently kept.
func (h *Topk) Len() int { return len(h.items) }

// worse reports whether a sorts later than b under less. The heap is
// a min-heap under worse, so its root is always the single
// worst-of-the-kept row — the one Offer needs to compare a new
// candidate against.
func (h *Topk) worse(a, b row.Row) bool { return h.less(b, a) }

// Offer admits r if fewer than k rows have been kept so far, or if r
// sorts earlier than the current worst-kept row, which it then
// replaces.
func (h *Topk) Offer(r row.Row) {
	if h.k <= 0 {
		return
	}
	if len(h.items) < h.k {
		h.items = append(h.items, r)
		h.siftUp(len(h.items) - 1)
		return
	}
	if !h.less(r, h.items[0]) {
		return
	}
	h.items[0] = r
	h.siftDown(0)
}

// Sorted returns the kept rows in ascending (less) order.
func (h *Topk) Sorted() []row.Row {
	out := append([]row.Row(nil), h.items...)
	sort.SliceStable(out, func(i, j int) bool { return h.less(out[i], out[j]) })
	return out
}

func (h *Topk) siftUp(i int) {
	for i > 0 {
		p := (i - 1) / 2
		if h.worse(h.items[p], h.items[i]) {
			break
		}
		h.items[p], h.items[i] = h.items[i], h.items[p]
		i = p
	}
}

func (h *Topk) siftDown(i int) {
	for {
		l, r := i*2+1, i*2+2
		if l >= len(h.items) {
			break
		}
		c := l
		if r < len(h.items) && h.worse(h.items[r], h.items[l]) {
			c = r
		}
		if h.worse(h.items[i], h.items[c]) {
			break
		}
		h.items[i], h.items[c] = h.items[c], h.items[i]
		i = c
	}
}
