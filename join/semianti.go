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

// SemiAntiJoin maintains, per join key, the right side's occurrence
// count, and every currently-present left row's membership in the
// output. anti selects the anti-join (left row present iff the right
// count is 0); otherwise it's the semi-join (left row present iff the
// right count is > 0).
type SemiAntiJoin struct {
	leftKey, rightKey func(row.Row) row.Key
	anti              bool

	rightCount map[row.Key]int64
	// present tracks, per left row (by its Z-set key), whether that
	// row is currently included in the output, so a join-key count
	// flipping from zero to nonzero (or back) can retract/insert every
	// left row sharing that key without rescanning the whole left side.
	leftRows map[row.Key]map[row.Key]row.Row // join key -> {left row's Z-set key -> left row}
	present  map[row.Key]bool

	leftPK func(row.Row) row.Key

	stagedRightCount map[row.Key]int64
	stagedLeftRows   map[row.Key]map[row.Key]row.Row
	stagedPresent    map[row.Key]bool
}

// NewSemiAntiJoin builds a semi-join (anti=false) or anti-join
// (anti=true) on leftKey/rightKey, each side's join-key extractor.
// Left rows are identified by their Z-set key (the full row); leftPK
// is stored but not consulted by Eval.
func NewSemiAntiJoin(leftKey, rightKey func(row.Row) row.Key, leftPK func(row.Row) row.Key, anti bool) *SemiAntiJoin {
	return &SemiAntiJoin{
		leftKey: leftKey, rightKey: rightKey, anti: anti, leftPK: leftPK,
		rightCount: make(map[row.Key]int64),
		leftRows:   make(map[row.Key]map[row.Key]row.Row),
		present:    make(map[row.Key]bool),
	}
}

func (j *SemiAntiJoin) wants(count int64) bool {
	if j.anti {
		return count == 0
	}
	return count > 0
}

func (j *SemiAntiJoin) Eval(inputs []*zset.Set) (*zset.Set, error) {
	leftDelta, rightDelta := inputs[0], inputs[1]
	out := zset.Empty()

	rightCount := cloneInt64Map(j.rightCount)
	leftRows := cloneRowBuckets(j.leftRows)
	present := cloneBoolMap(j.present)

	touchedKeys := make(map[row.Key]bool)

	rightDelta.Entries(func(r row.Row, w int64) {
		jk := j.rightKey(r)
		rightCount[jk] += w
		if rightCount[jk] == 0 {
			delete(rightCount, jk)
		}
		touchedKeys[jk] = true
	})

	leftDelta.EntriesKeyed(func(pk row.Key, r row.Row, w int64) {
		jk := j.leftKey(r)
		bucket, ok := leftRows[jk]
		if !ok {
			bucket = make(map[row.Key]row.Row)
			leftRows[jk] = bucket
		}
		if w > 0 {
			bucket[pk] = r
		} else {
			delete(bucket, pk)
			if len(bucket) == 0 {
				delete(leftRows, jk)
			}
			if present[pk] {
				// this row is leaving the left side entirely:
				// emit its retraction now, since it will no
				// longer be visited by the touched-key
				// reconciliation loop below (it's gone from
				// the bucket already).
				out.InsertRow(r, -1)
				delete(present, pk)
			}
		}
		touchedKeys[jk] = true
	})

	for jk := range touchedKeys {
		wantsNow := j.wants(rightCount[jk])
		for pk, r := range leftRows[jk] {
			was := present[pk]
			if was && !wantsNow {
				out.InsertRow(r, -1)
				delete(present, pk)
			} else if !was && wantsNow {
				out.InsertRow(r, 1)
				present[pk] = true
			}
		}
	}

	j.stagedRightCount = rightCount
	j.stagedLeftRows = leftRows
	j.stagedPresent = present
	return out, nil
}

func (j *SemiAntiJoin) Commit() {
	j.rightCount, j.leftRows, j.present = j.stagedRightCount, j.stagedLeftRows, j.stagedPresent
	j.stagedRightCount, j.stagedLeftRows, j.stagedPresent = nil, nil, nil
}

func cloneInt64Map(m map[row.Key]int64) map[row.Key]int64 {
	out := make(map[row.Key]int64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func cloneBoolMap(m map[row.Key]bool) map[row.Key]bool {
	out := make(map[row.Key]bool, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func cloneRowBuckets(m map[row.Key]map[row.Key]row.Row) map[row.Key]map[row.Key]row.Row {
	out := make(map[row.Key]map[row.Key]row.Row, len(m))
	for jk, bucket := range m {
		b := make(map[row.Key]row.Row, len(bucket))
		for pk, r := range bucket {
			b[pk] = r
		}
		out[jk] = b
	}
	return out
}
