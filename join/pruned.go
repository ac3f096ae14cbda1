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

package join

import (
	"github.com/sneltrix/ivm/row"
	"github.com/sneltrix/ivm/zset"
)

// PrunedJoin is an EquiJoin that bounds its own state: each side
// tracks a running watermark (the largest timestamp observed on
// that side), and after every step any row on either side older
// than max(watermarkL, watermarkR) - retention is garbage
// collected, along with every result it participates in. The GC
// pass is expressed as an ordinary retraction fed through the
// same bilinear join math the rest of Eval uses, so pruning a row
// produces the identical output a real upstream retraction of
// that row would have.
type PrunedJoin struct {
	leftPK, rightPK func(row.Row) row.Key
	leftTS, rightTS func(row.Row) int64
	combine         func(l, r row.Row) row.Row
	retention       int64

	left, right            *zset.Indexed
	watermarkL, watermarkR int64
	results                map[uint64]int64

	prunedLeft, prunedRight int64 // cumulative rows garbage-collected

	stagedLeft, stagedRight             *zset.Indexed
	stagedWatermarkL, stagedWatermarkR  int64
	stagedResults                       map[uint64]int64
	stagedPrunedLeft, stagedPrunedRight int64
}

// NewPrunedJoin builds a state-pruned equi-join on leftKey/rightKey,
// each side's join-key extractor. leftTS/rightTS extract each side's
// event timestamp; retention bounds how far behind the current
// watermark a row may lag before it is collected.
func NewPrunedJoin(leftKey, rightKey func(row.Row) row.Key, leftPK, rightPK func(row.Row) row.Key, leftTS, rightTS func(row.Row) int64, combine func(l, r row.Row) row.Row, retention int64) *PrunedJoin {
	return &PrunedJoin{
		leftPK: leftPK, rightPK: rightPK,
		leftTS: leftTS, rightTS: rightTS,
		combine:   combine,
		retention: retention,
		left:      zset.NewIndexed(leftKey),
		right:     zset.NewIndexed(rightKey),
		results:   make(map[uint64]int64),
	}
}

// Watermarks returns the current per-side high-water timestamps.
func (j *PrunedJoin) Watermarks() (left, right int64) { return j.watermarkL, j.watermarkR }

// Pruned returns the cumulative count of rows garbage-collected
// from each side so far.
func (j *PrunedJoin) Pruned() (left, right int64) { return j.prunedLeft, j.prunedRight }

func (j *PrunedJoin) emit(out *zset.Set, l, r row.Row, w int64) {
	if w == 0 {
		return
	}
	out.InsertRow(j.combine(l, r), w)
}

func (j *PrunedJoin) Eval(inputs []*zset.Set) (*zset.Set, error) {
	leftDelta, rightDelta := inputs[0], inputs[1]
	out := zset.Empty()

	stagedRight := j.right.Clone()
	stagedRight.Apply(rightDelta)

	oldLeft := j.left

	leftDelta.EntriesKeyed(func(pk row.Key, r row.Row, w int64) {
		jk := j.left.KeyOf(r)
		stagedRight.ByKey(jk, func(rpk row.Key, rr row.Row, rw int64) {
			j.emit(out, r, rr, w*rw)
		})
	})

	stagedLeft := j.left.Clone()
	stagedLeft.Apply(leftDelta)

	rightDelta.EntriesKeyed(func(pk row.Key, r row.Row, w int64) {
		jk := stagedRight.KeyOf(r)
		oldLeft.ByKey(jk, func(lpk row.Key, lr row.Row, lw int64) {
			j.emit(out, lr, r, lw*w)
		})
	})

	watermarkL, watermarkR := j.watermarkL, j.watermarkR
	leftDelta.Entries(func(r row.Row, _ int64) {
		if ts := j.leftTS(r); ts > watermarkL {
			watermarkL = ts
		}
	})
	rightDelta.Entries(func(r row.Row, _ int64) {
		if ts := j.rightTS(r); ts > watermarkR {
			watermarkR = ts
		}
	})
	cutoff := watermarkL
	if watermarkR > cutoff {
		cutoff = watermarkR
	}
	cutoff -= j.retention

	prunedLeft, prunedRight := j.prunedLeft, j.prunedRight

	// garbage-collect stale left rows: a stale row is retracted
	// against the (already delta-absorbed) right side, exactly as
	// an upstream retraction of that row would be.
	var staleLeft []row.Row
	stagedLeft.Entries(func(r row.Row, w int64) {
		if j.leftTS(r) < cutoff {
			staleLeft = append(staleLeft, r)
		}
	})
	for _, r := range staleLeft {
		_, w, ok := stagedLeft.Get(row.FullKey(r))
		if !ok {
			continue
		}
		jk := stagedLeft.KeyOf(r)
		stagedRight.ByKey(jk, func(rpk row.Key, rr row.Row, rw int64) {
			j.emit(out, r, rr, -w*rw)
		})
		stagedLeft.Insert(row.FullKey(r), r, -w)
		prunedLeft++
	}

	// garbage-collect stale right rows symmetrically, against the
	// already-pruned left side.
	var staleRight []row.Row
	stagedRight.Entries(func(r row.Row, w int64) {
		if j.rightTS(r) < cutoff {
			staleRight = append(staleRight, r)
		}
	})
	for _, r := range staleRight {
		_, w, ok := stagedRight.Get(row.FullKey(r))
		if !ok {
			continue
		}
		jk := stagedRight.KeyOf(r)
		stagedLeft.ByKey(jk, func(lpk row.Key, lr row.Row, lw int64) {
			j.emit(out, lr, r, -lw*w)
		})
		stagedRight.Insert(row.FullKey(r), r, -w)
		prunedRight++
	}

	stagedResults := cloneResults(j.results)
	out.Entries(func(r row.Row, w int64) {
		k := pairKey(j.leftPK(r), j.rightPK(r))
		cur := stagedResults[k] + w
		if cur == 0 {
			delete(stagedResults, k)
		} else {
			stagedResults[k] = cur
		}
	})

	j.stagedLeft, j.stagedRight = stagedLeft, stagedRight
	j.stagedWatermarkL, j.stagedWatermarkR = watermarkL, watermarkR
	j.stagedResults = stagedResults
	j.stagedPrunedLeft, j.stagedPrunedRight = prunedLeft, prunedRight
	return out, nil
}

func (j *PrunedJoin) Commit() {
	j.left, j.right = j.stagedLeft, j.stagedRight
	j.watermarkL, j.watermarkR = j.stagedWatermarkL, j.stagedWatermarkR
	j.results = j.stagedResults
	j.prunedLeft, j.prunedRight = j.stagedPrunedLeft, j.stagedPrunedRight
	j.stagedLeft, j.stagedRight, j.stagedResults = nil, nil, nil
}
