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

import (
	"fmt"

	"github.com/sneltrix/ivm/zset"
)

// Subscriber receives a view's output Z-set at the end of a
// step. Subscribers are invoked synchronously; a step is not
// complete from the caller's perspective until every subscriber
// has returned.
type Subscriber func(view string, delta *zset.Set)

// Step propagates one round of external input deltas through
// the circuit, in topological order. It is atomic: either every
// node's output is computed and committed, or (on error) no
// node's persistent state changes and no subscriber is invoked.
//
// inputs maps each declared source name to the Z-set delta
// arriving on it this step; a source not present in inputs is
// treated as the empty delta (0).
func (c *Circuit) Step(inputs map[string]*zset.Set, subs ...Subscriber) error {
	values := make(map[NodeID]*zset.Set, len(c.nodes))

	for name, id := range c.sources {
		v := inputs[name]
		if v == nil {
			v = zset.Empty()
		}
		values[id] = v
	}

	type staged struct {
		id  NodeID
		out *zset.Set
	}
	results := make([]staged, 0, len(c.order))

	for _, id := range c.order {
		n := c.nodes[id]
		if n.isSource {
			continue
		}
		in := make([]*zset.Set, len(n.inputs))
		for i, dep := range n.inputs {
			v, ok := values[dep]
			if !ok {
				return buildErr("node %q evaluated before its input %q", n.name, c.nodes[dep].name)
			}
			in[i] = v
		}
		out, err := n.op.Eval(in)
		if err != nil {
			return fmt.Errorf("circuit %s: node %q: %w", c.id, n.name, err)
		}
		values[id] = out
		results = append(results, staged{id: id, out: out})
	}

	// every node succeeded: commit persistent state and publish
	// view outputs. From this point on nothing can fail.
	for _, n := range c.nodes {
		if n.isSource {
			continue
		}
		n.op.Commit()
	}
	for name, id := range c.sinks {
		out := values[id]
		if c.last == nil {
			c.last = make(map[NodeID]*zset.Set)
		}
		c.last[id] = out
		for _, sub := range subs {
			sub(name, out)
		}
	}
	return nil
}
