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

// Package circuit implements the operator DAG that realizes the
// DBSP chain rule Q^Δ = D ∘ Q ∘ I for arbitrary compositions of
// the incremental relational operators. A Circuit is built once
// (Builder.Build), then stepped repeatedly; every step is an
// atomic, single-threaded traversal of the topological order.
package circuit

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/sneltrix/ivm/ivmerr"
	"github.com/sneltrix/ivm/zset"
)

// NodeID identifies a node within one Circuit.
type NodeID int

// Operator is the interface every circuit node implements. Eval
// is called once per step, in topological order; it must read
// only from the inputs handed to it (the source Z-set for this
// step, or upstream nodes' freshly produced outputs) and must
// not mutate any state visible outside the operator until
// Commit is called.
//
// This two-phase Eval/Commit protocol is what lets a step-time
// error leave every operator's state exactly as it was before the
// step began: Eval stages the new state, and Commit (called only if
// every node's Eval succeeded) swaps it in.
type Operator interface {
	// Eval computes this step's output from the given inputs
	// and stages any state update. It must not mutate published
	// state.
	Eval(inputs []*zset.Set) (*zset.Set, error)
	// Commit makes the previous Eval's staged state visible.
	// Called only after every node in the step succeeded.
	Commit()
}

// node is the circuit's bookkeeping record for one Operator.
type node struct {
	id       NodeID
	name     string
	op       Operator
	inputs   []NodeID
	isSource bool   // true: this node's value for a step comes from the caller, not from op.Eval
	isDelay  bool   // true: this node is a z⁻¹ node, which breaks cycles
	sourceOf string // set iff isSource: the external source name
}

// Circuit is a built, runnable operator DAG.
type Circuit struct {
	id      string
	nodes   []*node
	order   []NodeID // topological order, computed at Build time
	byName  map[string]NodeID
	sources map[string]NodeID
	sinks   map[string]NodeID // view name -> sink node
	last    map[NodeID]*zset.Set
}

// ID returns a stable, process-unique identifier for the
// circuit, used in Step's error messages.
func (c *Circuit) ID() string { return c.id }

// Dispose releases every operator's state. Pending subscribers
// are detached silently; Dispose never errors.
func (c *Circuit) Dispose() {
	c.nodes = nil
	c.order = nil
	c.last = nil
}

// View returns the most recently produced output Z-set for the
// named view (sink), or nil if the view has never seen a step.
func (c *Circuit) View(name string) *zset.Set {
	id, ok := c.sinks[name]
	if !ok {
		return nil
	}
	return c.last[id]
}

// Views lists every view (sink) name registered on the circuit.
func (c *Circuit) Views() []string {
	out := make([]string, 0, len(c.sinks))
	for name := range c.sinks {
		out = append(out, name)
	}
	return out
}

func newNodeID(nodes []*node) NodeID { return NodeID(len(nodes)) }

// buildErr wraps a message with ErrCircuitBuild. It carries no
// circuit id: build errors are raised before a Circuit exists.
func buildErr(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ivmerr.ErrCircuitBuild, fmt.Sprintf(format, args...))
}

func newID() string {
	return uuid.NewString()
}
