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

package circuit

import "github.com/sneltrix/ivm/zset"

// delayOp implements z⁻¹: output[t] = input[t-1], output[0] = 0.
type delayOp struct {
	prev    *zset.Set // committed value, visible to Eval
	staged  *zset.Set // this step's input, not yet visible
}

func (d *delayOp) Eval(inputs []*zset.Set) (*zset.Set, error) {
	out := d.prev
	if out == nil {
		out = zset.Empty()
	}
	d.staged = inputs[0]
	return out, nil
}

func (d *delayOp) Commit() {
	d.prev = d.staged
	d.staged = nil
}

// integrateOp implements I: output[t] = sum_{i<=t} input[i].
type integrateOp struct {
	sum    *zset.Set
	staged *zset.Set
}

// NewIntegrate returns the I operator: a running sum of its
// input, initialized to group zero.
func NewIntegrate() Operator { return &integrateOp{sum: zset.Empty()} }

func (n *integrateOp) Eval(inputs []*zset.Set) (*zset.Set, error) {
	n.staged = n.sum.Add(inputs[0])
	return n.staged, nil
}

func (n *integrateOp) Commit() {
	n.sum = n.staged
	n.staged = nil
}

// differentiateOp implements D: output[t] = input[t] - input[t-1].
type differentiateOp struct {
	prev   *zset.Set
	staged *zset.Set
}

// NewDifferentiate returns the D operator.
func NewDifferentiate() Operator { return &differentiateOp{prev: zset.Empty()} }

func (n *differentiateOp) Eval(inputs []*zset.Set) (*zset.Set, error) {
	out := inputs[0].Sub(n.prev)
	n.staged = inputs[0]
	return out, nil
}

func (n *differentiateOp) Commit() {
	n.prev = n.staged
	n.staged = nil
}

// linearOp applies a stateless, linear function pointwise: it
// has no persistent state, so its incremental version is itself
// (Q^Δ = Q for linear Q).
type linearOp struct {
	f func(*zset.Set) *zset.Set
}

// NewLinear wraps a linear Z-set transformation (map, filter,
// project, union, set-minus, ...) as an Operator with no state.
func NewLinear(f func(*zset.Set) *zset.Set) Operator {
	return &linearOp{f: f}
}

func (n *linearOp) Eval(inputs []*zset.Set) (*zset.Set, error) {
	combined := zset.Empty()
	for _, in := range inputs {
		combined = combined.Add(in)
	}
	return n.f(combined), nil
}

func (n *linearOp) Commit() {}

// sumOp adds every input Z-set together; used to merge multiple
// edges feeding into one node (e.g. UNION ALL).
type sumOp struct{}

// NewSum returns a stateless operator that adds all of its
// inputs.
func NewSum() Operator { return &sumOp{} }

func (n *sumOp) Eval(inputs []*zset.Set) (*zset.Set, error) {
	out := zset.Empty()
	for _, in := range inputs {
		out = out.Add(in)
	}
	return out, nil
}

func (n *sumOp) Commit() {}
