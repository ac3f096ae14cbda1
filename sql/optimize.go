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

package sql

import "github.com/sneltrix/ivm/row"

// This file carries the plan rewrite passes: predicate pushdown
// below joins, redundant-project elimination, and no-op limit
// elimination. They change the shape of the emitted circuit, never
// the result it computes.

// optimize applies every rewrite pass to p, bottom-up, and returns
// the rewritten plan.
func optimize(p PlanNode) PlanNode {
	p = optimizeChildren(p)
	p = pushdownFilter(p)
	p = elimNoopLimit(p)
	p = elimIdentityProject(p)
	return p
}

// optimizeChildren recurses into p's inputs, optimizing each in
// place, and returns p.
func optimizeChildren(p PlanNode) PlanNode {
	switch n := p.(type) {
	case *FilterPlan:
		n.Input = optimize(n.Input)
	case *ProjectPlan:
		n.Input = optimize(n.Input)
	case *JoinPlan:
		n.Left = optimize(n.Left)
		n.Right = optimize(n.Right)
	case *SemiAntiJoinPlan:
		n.Input = optimize(n.Input)
		n.Right = optimize(n.Right)
	case *AggregatePlan:
		n.Input = optimize(n.Input)
	case *SetOpPlan:
		n.Left = optimize(n.Left)
		n.Right = optimize(n.Right)
	case *DistinctPlan:
		n.Input = optimize(n.Input)
	case *SortPlan:
		n.Input = optimize(n.Input)
	case *LimitPlan:
		n.Input = optimize(n.Input)
	case *WindowPlan:
		n.Input = optimize(n.Input)
	}
	return p
}

// classifyPredSide reports whether n compiles as a predicate
// against schema alone (every column it references belongs to
// that side of a join).
func classifyPredSide(schema *row.Schema, n Node) bool {
	_, err := compilePredicate(schema, n)
	return err == nil
}

// andAll rebuilds a single AND-conjunction node from conjuncts
// split apart by splitAnd; it is splitAnd's inverse.
func andAll(conjs []Node) Node {
	if len(conjs) == 0 {
		return nil
	}
	expr := conjs[0]
	for _, c := range conjs[1:] {
		expr = &BinaryExpr{Op: "AND", Left: expr, Right: c}
	}
	return expr
}

// pushdownFilter pushes the conjuncts of a FilterPlan sitting
// directly above a JoinPlan down to whichever side (or sides) they
// resolve against, so the incremental join operator only ever sees
// pre-filtered deltas (plan/pir/filterelim.go). Restricted to
// INNER/CROSS joins: pushing a predicate below an OUTER join's
// preserved side would change which rows get NULL-padded, and ASOF
// joins match on a timestamp inequality the classifier isn't asked
// to reason about here, so both are left as a post-join filter.
func pushdownFilter(p PlanNode) PlanNode {
	f, ok := p.(*FilterPlan)
	if !ok {
		return p
	}
	j, ok := f.Input.(*JoinPlan)
	if !ok || j.Asof || (j.Kind != "" && j.Kind != "INNER" && j.Kind != "CROSS") {
		return p
	}

	leftSchema, rightSchema := j.Left.Schema(), j.Right.Schema()
	var leftConj, rightConj, residual []Node
	for _, c := range splitAnd(f.Pred) {
		switch {
		case classifyPredSide(leftSchema, c):
			leftConj = append(leftConj, c)
		case classifyPredSide(rightSchema, c):
			rightConj = append(rightConj, c)
		default:
			residual = append(residual, c)
		}
	}
	if len(leftConj) == 0 && len(rightConj) == 0 {
		return p
	}
	if pred := andAll(leftConj); pred != nil {
		j.Left = &FilterPlan{Input: j.Left, Pred: pred}
	}
	if pred := andAll(rightConj); pred != nil {
		j.Right = &FilterPlan{Input: j.Right, Pred: pred}
	}
	if len(residual) == 0 {
		return j
	}
	return &FilterPlan{Input: j, Pred: andAll(residual)}
}

// elimNoopLimit drops a LimitPlan that carries neither a LIMIT nor
// an OFFSET (plan/pir/limitelim.go's "provably a no-op" case).
func elimNoopLimit(p PlanNode) PlanNode {
	if l, ok := p.(*LimitPlan); ok && l.Limit == nil && l.Offset == nil {
		return l.Input
	}
	return p
}

// elimIdentityProject drops a ProjectPlan whose output is a
// column-for-column, name-for-name passthrough of its input (the
// shape buildProject emits for a bare "SELECT * FROM t" with no
// other clause); it contributes nothing a Scan/Filter/Join node
// doesn't already provide.
func elimIdentityProject(p PlanNode) PlanNode {
	pr, ok := p.(*ProjectPlan)
	if !ok {
		return p
	}
	in := pr.Input.Schema()
	if len(pr.Out.Columns) != len(in.Columns) {
		return p
	}
	for i, c := range pr.Out.Columns {
		if c.Name != in.Columns[i].Name || c.Kind != in.Columns[i].Kind {
			return p
		}
		id, ok := pr.Items[i].Expr.(*Ident)
		if !ok {
			return p
		}
		full := id.Name
		if id.Table != "" {
			full = id.Table + "." + id.Name
		}
		if full != in.Columns[i].Name {
			return p
		}
	}
	return pr.Input
}
