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

// Package join implements the bilinear indexed equi-join and the
// specialized joins built on the same indexed state: ASOF, semi-join,
// anti-join, and a retention-pruned variant of the equi-join.
package join

import (
	"fmt"

	"github.com/sneltrix/ivm/internal/rowhash"
	"github.com/sneltrix/ivm/ivmerr"
	"github.com/sneltrix/ivm/row"
	"github.com/sneltrix/ivm/zset"
)

// EquiJoin implements Δ(A ⋈ B) = ΔA⋈ΔB + ΔA⋈prev(B) + prev(A)⋈ΔB
// without double-counting the ΔA⋈ΔB term: the right delta is
// absorbed into the right index first, so probing it for the left
// pass picks up prev(B)+ΔB in one pass, and the right pass probes
// the *old* left index (captured before this step's left delta is
// applied) for the prev(A)⋈ΔB term alone.
type EquiJoin struct {
	leftPK, rightPK func(row.Row) row.Key
	combine         func(l, r row.Row) row.Row

	maxResults int  // 0 = unlimited
	appendOnly bool // true: skip the result store entirely

	left, right *zset.Indexed
	results     map[uint64]int64 // pairKey -> current net weight; nil in append-only mode
	overflowed  bool

	stagedLeft, stagedRight *zset.Indexed
	stagedResults           map[uint64]int64
	stagedOverflow          bool
}

// NewEquiJoin builds a join on leftKey/rightKey, the join-key
// extractors for each side's rows (they must produce equal keys for
// matching join values). leftPK/rightPK are applied to combined
// output rows and extract the left or right row's key, which
// together key the per-pair result counts; combine builds the
// output row from a matched pair.
// maxResults <= 0 means unbounded; appendOnly must only be set when
// the caller guarantees neither side ever retracts a row.
func NewEquiJoin(leftKey, rightKey func(row.Row) row.Key, leftPK, rightPK func(row.Row) row.Key, combine func(l, r row.Row) row.Row, maxResults int, appendOnly bool) *EquiJoin {
	j := &EquiJoin{
		leftPK:     leftPK,
		rightPK:    rightPK,
		combine:    combine,
		maxResults: maxResults,
		appendOnly: appendOnly,
		left:       zset.NewIndexed(leftKey),
		right:      zset.NewIndexed(rightKey),
	}
	if !appendOnly {
		j.results = make(map[uint64]int64)
	}
	return j
}

// Overflowed reports whether the result store has ever hit
// maxResults; once true it stays true; callers should treat further
// output as count-only (matches beyond the cap are emitted but not
// tracked for later retraction).
func (j *EquiJoin) Overflowed() bool { return j.overflowed }

func pairKey(pkL, pkR row.Key) uint64 {
	return rowhash.Pair(rowhash.Hash64(string(pkL)), rowhash.Hash64(string(pkR)))
}

func (j *EquiJoin) Eval(inputs []*zset.Set) (*zset.Set, error) {
	leftDelta, rightDelta := inputs[0], inputs[1]
	out := zset.Empty()

	stagedRight := j.right.Clone()
	stagedRight.Apply(rightDelta)

	oldLeft := j.left // snapshot before this step's left delta is applied

	// left pass: ΔA ⋈ (prev(B) + ΔB)
	var invErr error
	leftDelta.EntriesKeyed(func(pk row.Key, r row.Row, w int64) {
		if invErr != nil {
			return
		}
		if w < 0 && oldLeft.WeightOf(pk) == 0 {
			invErr = fmt.Errorf("%w: left-side retraction for absent key", ivmerr.ErrInvariantViolated)
			return
		}
		jk := j.left.KeyOf(r)
		stagedRight.ByKey(jk, func(rpk row.Key, rr row.Row, rw int64) {
			j.emit(out, r, rr, w*rw)
		})
	})
	if invErr != nil {
		return nil, invErr
	}

	stagedLeft := j.left.Clone()
	stagedLeft.Apply(leftDelta)

	// right pass: prev(A) ⋈ ΔB, against the pre-step left index only.
	rightDelta.EntriesKeyed(func(pk row.Key, r row.Row, w int64) {
		if invErr != nil {
			return
		}
		if w < 0 && j.right.WeightOf(pk) == 0 {
			invErr = fmt.Errorf("%w: right-side retraction for absent key", ivmerr.ErrInvariantViolated)
			return
		}
		jk := stagedRight.KeyOf(r)
		oldLeft.ByKey(jk, func(lpk row.Key, lr row.Row, lw int64) {
			j.emit(out, lr, r, lw*w)
		})
	})
	if invErr != nil {
		return nil, invErr
	}

	j.stagedLeft = stagedLeft
	j.stagedRight = stagedRight

	if !j.appendOnly {
		j.stagedResults = cloneResults(j.results)
		j.stagedOverflow = j.overflowed
		out.Entries(func(r row.Row, w int64) {
			k := pairKey(j.leftPK(r), j.rightPK(r))
			cur := j.stagedResults[k]
			if cur == 0 {
				if j.maxResults > 0 && len(j.stagedResults) >= j.maxResults {
					j.stagedOverflow = true
					return
				}
			}
			cur += w
			if cur == 0 {
				delete(j.stagedResults, k)
			} else {
				j.stagedResults[k] = cur
			}
		})
	}
	return out, nil
}

func (j *EquiJoin) emit(out *zset.Set, l, r row.Row, w int64) {
	if w == 0 {
		return
	}
	combined := j.combine(l, r)
	out.InsertRow(combined, w)
}

func (j *EquiJoin) Commit() {
	j.left, j.right = j.stagedLeft, j.stagedRight
	j.stagedLeft, j.stagedRight = nil, nil
	if !j.appendOnly {
		j.results = j.stagedResults
		j.overflowed = j.stagedOverflow
		j.stagedResults = nil
	}
}

func cloneResults(m map[uint64]int64) map[uint64]int64 {
	out := make(map[uint64]int64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
