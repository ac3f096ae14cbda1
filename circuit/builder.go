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

// Builder accumulates node declarations and wires before
// Build finalizes the topological order. Construction is not
// safe from concurrent use; circuits should be built by one
// goroutine before being handed to steppers.
type Builder struct {
	nodes   []*node
	byName  map[string]NodeID
	sources map[string]NodeID
	sinks   map[string]NodeID
}

// NewBuilder returns an empty circuit builder.
func NewBuilder() *Builder {
	return &Builder{
		byName:  make(map[string]NodeID),
		sources: make(map[string]NodeID),
		sinks:   make(map[string]NodeID),
	}
}

// Source declares an external input node: its value for a step
// is supplied by the caller of Circuit.Step under name, not
// computed by an Operator.
func (b *Builder) Source(name string) NodeID {
	id := newNodeID(b.nodes)
	b.nodes = append(b.nodes, &node{id: id, name: name, isSource: true, sourceOf: name})
	b.byName[name] = id
	b.sources[name] = id
	return id
}

// Add declares an operator node named name, wired to read the
// given upstream node's outputs as its inputs, in order.
func (b *Builder) Add(name string, op Operator, inputs ...NodeID) NodeID {
	id := newNodeID(b.nodes)
	b.nodes = append(b.nodes, &node{id: id, name: name, op: op, inputs: inputs})
	b.byName[name] = id
	return id
}

// Delay declares a z⁻¹ node: its output for step t is the input
// it received at step t-1 (zero for t=0). Every feedback cycle in
// the wiring must pass through at least one Delay node.
func (b *Builder) Delay(name string, input NodeID) NodeID {
	id := newNodeID(b.nodes)
	b.nodes = append(b.nodes, &node{id: id, name: name, op: &delayOp{}, inputs: []NodeID{input}, isDelay: true})
	b.byName[name] = id
	return id
}

// ConnectDelay rewires an already-declared Delay node's input,
// for constructing feedback loops: declare the Delay first with
// a placeholder input, build the rest of the loop, then call
// ConnectDelay once the feeding node's id is known.
func (b *Builder) ConnectDelay(delay NodeID, input NodeID) {
	b.nodes[delay].inputs = []NodeID{input}
}

// Sink registers node as the output of view name; subscribers
// observe its per-step output Z-set as that view's delta.
func (b *Builder) Sink(name string, node NodeID) {
	b.sinks[name] = node
}

// Build finalizes the circuit: validates that every input
// reference resolves, computes a topological order, and
// verifies that every cycle in the wiring passes through a
// Delay node.
func (b *Builder) Build() (*Circuit, error) {
	for _, n := range b.nodes {
		for _, in := range n.inputs {
			if int(in) < 0 || int(in) >= len(b.nodes) {
				return nil, buildErr("node %q references undeclared node id %d", n.name, in)
			}
		}
	}
	order, err := topoSort(b.nodes)
	if err != nil {
		return nil, err
	}
	for name, id := range b.sinks {
		if int(id) < 0 || int(id) >= len(b.nodes) {
			return nil, buildErr("view %q references undeclared node id %d", name, id)
		}
	}
	return &Circuit{
		id:      newID(),
		nodes:   b.nodes,
		order:   order,
		byName:  b.byName,
		sources: b.sources,
		sinks:   b.sinks,
		last:    make(map[NodeID]*zset.Set),
	}, nil
}

func topoSort(nodes []*node) ([]NodeID, error) {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make([]int, len(nodes))
	order := make([]NodeID, 0, len(nodes))

	var stack []NodeID // gray nodes, outermost first
	var visit func(id NodeID) error
	visit = func(id NodeID) error {
		switch color[id] {
		case black:
			return nil
		case gray:
			// the cycle is the stack from id to its top; if any
			// node on it is a delay, it is well-founded feedback,
			// not a build error; stop descending here, the delay
			// already breaks the dependency for ordering purposes.
			for i := len(stack) - 1; i >= 0; i-- {
				if nodes[stack[i]].isDelay {
					return nil
				}
				if stack[i] == id {
					break
				}
			}
			return buildErr("cycle without a delay node reaches node %q", nodes[id].name)
		}
		color[id] = gray
		stack = append(stack, id)
		n := nodes[id]
		for _, in := range n.inputs {
			if err := visit(in); err != nil {
				return err
			}
		}
		stack = stack[:len(stack)-1]
		color[id] = black
		order = append(order, id)
		return nil
	}
	for i := range nodes {
		if color[i] == white {
			if err := visit(NodeID(i)); err != nil {
				return nil, err
			}
		}
	}
	return order, nil
}
