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

import (
	"fmt"
	"strings"

	"github.com/sneltrix/ivm/agg"
	"github.com/sneltrix/ivm/row"
)

// Catalog resolves a FROM-clause table name to the schema of rows
// arriving on its circuit source.
type Catalog map[string]*row.Schema

// PlanNode is one node of the logical plan tree the parser's AST is
// lowered to before circuit emission: Scan/Filter/Project/Join/
// Aggregate/Window/SetOp/Distinct/Sort/Limit.
type PlanNode interface {
	Schema() *row.Schema
}

type ScanPlan struct {
	Source string // circuit source name
	Out    *row.Schema
}

func (p *ScanPlan) Schema() *row.Schema { return p.Out }

type FilterPlan struct {
	Input PlanNode
	Pred  Node
}

func (p *FilterPlan) Schema() *row.Schema { return p.Input.Schema() }

type ProjItem struct {
	Expr  Node
	Alias string
}

type ProjectPlan struct {
	Input PlanNode
	Items []ProjItem
	Out   *row.Schema
}

func (p *ProjectPlan) Schema() *row.Schema { return p.Out }

type JoinPlan struct {
	Left, Right  PlanNode
	Kind         string // INNER, LEFT, RIGHT, FULL, CROSS
	On           Node
	Asof         bool
	AsofBackward bool
	Out          *row.Schema
}

func (p *JoinPlan) Schema() *row.Schema { return p.Out }

// SemiAntiJoinPlan realizes an EXISTS/NOT EXISTS or IN/NOT IN
// (subquery) WHERE-conjunct: a semi-join (Anti=false) keeps Input
// rows that have a matching Right row, an anti-join keeps
// those that don't. Unlike JoinPlan, its output schema is Input's
// alone; Right's columns are never projected, matching EXISTS/IN's
// own SQL semantics of testing row presence, not reading it.
type SemiAntiJoinPlan struct {
	Input     PlanNode
	Right     PlanNode
	LeftKeys  []Node // compiled against Input.Schema()
	RightKeys []Node // compiled against Right.Schema(), same length as LeftKeys
	Anti      bool
}

func (p *SemiAntiJoinPlan) Schema() *row.Schema { return p.Input.Schema() }

type AggItem struct {
	Alias    string
	Func     agg.Func
	Arg      Node // nil for COUNT(*)
	Distinct bool
}

type AggregatePlan struct {
	Input   PlanNode
	GroupBy []Node
	Aggs    []AggItem
	Having  Node
	Out     *row.Schema
}

func (p *AggregatePlan) Schema() *row.Schema { return p.Out }

type SetOpPlan struct {
	Left, Right PlanNode
	Op          string // UNION, EXCEPT, INTERSECT
	All         bool
}

func (p *SetOpPlan) Schema() *row.Schema { return p.Left.Schema() }

type DistinctPlan struct{ Input PlanNode }

func (p *DistinctPlan) Schema() *row.Schema { return p.Input.Schema() }

type SortPlan struct {
	Input   PlanNode
	OrderBy []OrderItem
}

func (p *SortPlan) Schema() *row.Schema { return p.Input.Schema() }

type LimitPlan struct {
	Input        PlanNode
	Limit        *int64
	Offset       *int64
}

func (p *LimitPlan) Schema() *row.Schema { return p.Input.Schema() }

type WindowItem struct {
	Alias string
	Call  *FuncCall
}

type WindowPlan struct {
	Input PlanNode
	Items []WindowItem
	Out   *row.Schema
}

func (p *WindowPlan) Schema() *row.Schema { return p.Out }

// BuildPlan lowers a parsed query (a *SelectStmt or *SetOpStmt) to a
// logical plan against catalog, then applies the optimizer passes
// (predicate pushdown, redundant-project elimination, trivial-limit
// elimination).
func BuildPlan(catalog Catalog, n Node) (PlanNode, error) {
	p, err := buildPlan(catalog, n)
	if err != nil {
		return nil, err
	}
	return optimize(p), nil
}

func buildPlan(catalog Catalog, n Node) (PlanNode, error) {
	switch s := n.(type) {
	case *SelectStmt:
		return buildSelect(catalog, s)
	case *SetOpStmt:
		left, err := buildPlan(catalog, s.Left)
		if err != nil {
			return nil, err
		}
		right, err := buildPlan(catalog, s.Right)
		if err != nil {
			return nil, err
		}
		if len(left.Schema().Columns) != len(right.Schema().Columns) {
			return nil, fmt.Errorf("%w: set operation operands have different column counts", errUnsupported)
		}
		var plan PlanNode = &SetOpPlan{Left: left, Right: right, Op: s.Op, All: s.All}
		if !s.All {
			plan = &DistinctPlan{Input: plan}
		}
		return plan, nil
	}
	return nil, fmt.Errorf("%w: unsupported top-level query node %T", errUnsupported, n)
}

func buildSelect(catalog Catalog, s *SelectStmt) (PlanNode, error) {
	if s.From == nil {
		return nil, fmt.Errorf("%w: SELECT without FROM is not supported", errUnsupported)
	}
	plan, err := buildFromJoins(catalog, s)
	if err != nil {
		return nil, err
	}

	plan, residual, err := extractSubqueryJoins(catalog, plan, s.Where)
	if err != nil {
		return nil, err
	}
	if residual != nil {
		// surface predicate errors (unknown columns, non-decorrelated
		// subqueries) here, at plan time, rather than from the emitter.
		if _, err := compilePredicate(plan.Schema(), residual); err != nil {
			return nil, err
		}
		plan = &FilterPlan{Input: plan, Pred: residual}
	}

	hasAgg := len(s.GroupBy) > 0 || selectListHasAgg(s.Columns)
	hasWindow := selectListHasWindow(s.Columns)

	switch {
	case hasAgg:
		ap, err := buildAggregate(plan, s)
		if err != nil {
			return nil, err
		}
		plan = ap
		cols := s.Columns
		if agp, ok := ap.(*AggregatePlan); ok {
			cols = rewriteSelectAggs(cols, agp.Aggs)
		}
		proj, err := buildProject(plan, cols, true)
		if err != nil {
			return nil, err
		}
		plan = proj
	case hasWindow:
		wp, items, err := buildWindow(plan, s.Columns)
		if err != nil {
			return nil, err
		}
		plan = wp
		proj, err := buildProjectOverWindow(plan, s.Columns, items)
		if err != nil {
			return nil, err
		}
		plan = proj
	default:
		proj, err := buildProject(plan, s.Columns, false)
		if err != nil {
			return nil, err
		}
		plan = proj
	}

	if s.Distinct {
		plan = &DistinctPlan{Input: plan}
	}
	if len(s.OrderBy) > 0 {
		plan = &SortPlan{Input: plan, OrderBy: s.OrderBy}
	}
	if s.Limit != nil || s.Offset != nil {
		plan = &LimitPlan{Input: plan, Limit: s.Limit, Offset: s.Offset}
	}
	return plan, nil
}

// buildFromJoins lowers a SELECT's FROM clause and its JOINs alone,
// with no WHERE/GROUP BY/projection applied; extractSubqueryJoins
// reuses it to build the right side of an EXISTS/IN (subquery)
// semi/anti-join from that subquery's own FROM clause.
func buildFromJoins(catalog Catalog, s *SelectStmt) (PlanNode, error) {
	from, err := buildTableRef(catalog, s.From)
	if err != nil {
		return nil, err
	}
	var plan PlanNode = from
	for _, j := range s.Joins {
		right, err := buildTableRef(catalog, &j.Table)
		if err != nil {
			return nil, err
		}
		jp := &JoinPlan{Left: plan, Right: right, Kind: j.Kind, On: j.On, Asof: j.Asof}
		jp.Out = concatSchema(plan.Schema(), right.Schema())
		if j.Asof {
			backward, err := asofDirection(plan.Schema(), right.Schema(), j.On)
			if err != nil {
				return nil, err
			}
			jp.AsofBackward = backward
		}
		plan = jp
	}
	return plan, nil
}

// andNode ANDs two possibly-nil predicate nodes together, treating
// nil as "no predicate" rather than as a literal TRUE/FALSE.
func andNode(a, b Node) Node {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return &BinaryExpr{Op: "AND", Left: a, Right: b}
}

// subqueryForm recognizes a WHERE conjunct as an EXISTS or IN
// (subquery) form, stripping any NOT wrapper(s) down to the anti-join
// flag the rest of the planner needs. outerExpr is the scalar IN
// compares against the subquery's single result column; it is nil for
// EXISTS, which only tests row presence.
func subqueryForm(n Node) (query *SelectStmt, outerExpr Node, anti bool, ok bool) {
	for {
		u, isUnary := n.(*UnaryExpr)
		if !isUnary || u.Op != "NOT" {
			break
		}
		anti = !anti
		n = u.Expr
	}
	switch e := n.(type) {
	case *ExistsExpr:
		return e.Query, nil, anti != e.Not, true
	case *InExpr:
		if e.Subquery == nil {
			return nil, nil, false, false
		}
		return e.Subquery, e.Expr, anti != e.Not, true
	}
	return nil, nil, false, false
}

// splitCorrelated partitions a subquery's own top-level WHERE
// conjuncts into equalities that tie one of its columns to an outer
// column (the correlation the semi/anti-join keys on) and everything
// else, which remains the subquery's own filter. A subquery with no
// correlated conjunct at all is a valid, merely uncorrelated, EXISTS/
// IN subquery: the caller joins on a constant key instead.
func splitCorrelated(outerSchema, innerSchema *row.Schema, where Node) (outerKeys, innerKeys []Node, ownFilter Node) {
	if where == nil {
		return nil, nil, nil
	}
	for _, conj := range splitAnd(where) {
		b, isBin := conj.(*BinaryExpr)
		if !isBin || b.Op != "=" {
			ownFilter = andNode(ownFilter, conj)
			continue
		}
		switch {
		case classifySide(innerSchema, b.Left) && classifySide(outerSchema, b.Right):
			innerKeys = append(innerKeys, b.Left)
			outerKeys = append(outerKeys, b.Right)
		case classifySide(innerSchema, b.Right) && classifySide(outerSchema, b.Left):
			innerKeys = append(innerKeys, b.Right)
			outerKeys = append(outerKeys, b.Left)
		default:
			ownFilter = andNode(ownFilter, conj)
		}
	}
	return outerKeys, innerKeys, ownFilter
}

// lowerSubqueryJoin builds the right side and join keys for one
// EXISTS/IN (subquery) conjunct: the subquery's FROM/JOINs become
// Right, any WHERE conjunct correlating one of its columns to an
// outer column supplies a join key, and outerExpr (non-nil for IN)
// adds the comparison IN itself specifies as one more key pair.
func lowerSubqueryJoin(catalog Catalog, outerSchema *row.Schema, query *SelectStmt, outerExpr Node, anti bool) (*SemiAntiJoinPlan, error) {
	right, err := buildFromJoins(catalog, query)
	if err != nil {
		return nil, err
	}
	outerKeys, innerKeys, ownFilter := splitCorrelated(outerSchema, right.Schema(), query.Where)
	if ownFilter != nil {
		right = &FilterPlan{Input: right, Pred: ownFilter}
	}
	if outerExpr != nil {
		if len(query.Columns) != 1 || query.Columns[0].Star {
			return nil, fmt.Errorf("%w: IN (subquery) requires exactly one column in its SELECT list", errUnsupported)
		}
		outerKeys = append(outerKeys, outerExpr)
		innerKeys = append(innerKeys, query.Columns[0].Expr)
	}
	return &SemiAntiJoinPlan{Right: right, LeftKeys: outerKeys, RightKeys: innerKeys, Anti: anti}, nil
}

// extractSubqueryJoins splits where's top-level AND conjuncts into
// EXISTS/IN (subquery) forms, each lowered to a SemiAntiJoinPlan
// stacked onto plan, and ordinary predicates, ANDed back together and
// returned as residual for the caller to wrap in a FilterPlan. A
// where with nothing to lower returns (plan, where, nil) unchanged.
func extractSubqueryJoins(catalog Catalog, plan PlanNode, where Node) (PlanNode, Node, error) {
	if where == nil {
		return plan, nil, nil
	}
	outerSchema := plan.Schema()
	var residual Node
	for _, conj := range splitAnd(where) {
		query, outerExpr, anti, ok := subqueryForm(conj)
		if !ok {
			residual = andNode(residual, conj)
			continue
		}
		sp, err := lowerSubqueryJoin(catalog, outerSchema, query, outerExpr, anti)
		if err != nil {
			return nil, nil, err
		}
		sp.Input = plan
		plan = sp
	}
	return plan, residual, nil
}

func buildTableRef(catalog Catalog, ref *TableRef) (PlanNode, error) {
	if ref.Sub != nil {
		sub, err := buildSelect(catalog, ref.Sub)
		if err != nil {
			return nil, err
		}
		alias := ref.Alias
		if alias == "" {
			alias = "_sub"
		}
		return &ProjectPlan{Input: sub, Items: passthroughItems(sub.Schema()), Out: qualify(sub.Schema(), alias)}, nil
	}
	schema, ok := catalog[ref.Name]
	if !ok {
		return nil, fmt.Errorf("%w: unknown table %q", errUnsupported, ref.Name)
	}
	alias := ref.Alias
	if alias == "" {
		alias = ref.Name
	}
	return &ScanPlan{Source: ref.Name, Out: qualify(schema, alias)}, nil
}

func qualify(schema *row.Schema, alias string) *row.Schema {
	cols := make([]row.Column, len(schema.Columns))
	for i, c := range schema.Columns {
		cols[i] = row.Column{Name: alias + "." + c.Name, Kind: c.Kind}
	}
	return &row.Schema{Columns: cols}
}

func concatSchema(a, b *row.Schema) *row.Schema {
	cols := make([]row.Column, 0, len(a.Columns)+len(b.Columns))
	cols = append(cols, a.Columns...)
	cols = append(cols, b.Columns...)
	return &row.Schema{Columns: cols}
}

func passthroughItems(schema *row.Schema) []ProjItem {
	items := make([]ProjItem, len(schema.Columns))
	for i, c := range schema.Columns {
		parts := strings.SplitN(c.Name, ".", 2)
		name := c.Name
		tbl := ""
		if len(parts) == 2 {
			tbl, name = parts[0], parts[1]
		}
		items[i] = ProjItem{Expr: &Ident{Table: tbl, Name: name}, Alias: c.Name}
	}
	return items
}

func selectListHasAgg(items []SelectItem) bool {
	for _, it := range items {
		if it.Expr != nil && exprHasAgg(it.Expr) {
			return true
		}
	}
	return false
}

func exprHasAgg(n Node) bool {
	switch e := n.(type) {
	case *FuncCall:
		if e.Over == nil && isAggFunc(e.Name) {
			return true
		}
		for _, a := range e.Args {
			if exprHasAgg(a) {
				return true
			}
		}
	case *BinaryExpr:
		return exprHasAgg(e.Left) || exprHasAgg(e.Right)
	case *UnaryExpr:
		return exprHasAgg(e.Expr)
	case *CaseExpr:
		for _, w := range e.Whens {
			if exprHasAgg(w.Cond) || exprHasAgg(w.Then) {
				return true
			}
		}
		if e.Else != nil {
			return exprHasAgg(e.Else)
		}
	case *CastExpr:
		return exprHasAgg(e.Expr)
	}
	return false
}

func isAggFunc(name string) bool {
	switch name {
	case "SUM", "COUNT", "AVG", "MIN", "MAX":
		return true
	}
	return false
}

func selectListHasWindow(items []SelectItem) bool {
	for _, it := range items {
		if it.Expr != nil && exprHasWindow(it.Expr) {
			return true
		}
	}
	return false
}

func exprHasWindow(n Node) bool {
	if f, ok := n.(*FuncCall); ok && f.Over != nil {
		return true
	}
	return false
}

// buildAggregate lowers the GROUP BY surface, including the
// COUNT(DISTINCT x) rewrite: at most one distinct aggregate column
// per query is supported by wrapping the input in a nested dedup
// GroupBy (group key + distinct argument) whose live-group count,
// fed through the outer GroupBy's own CountStar, yields the distinct
// count without the aggregator itself needing multiset semantics.
func buildAggregate(input PlanNode, s *SelectStmt) (PlanNode, error) {
	schema := input.Schema()

	var distinctArg Node
	var distinctAlias string
	for _, it := range s.Columns {
		fc, ok := it.Expr.(*FuncCall)
		if ok && fc.Name == "COUNT" && fc.Distinct {
			if distinctArg != nil {
				return nil, fmt.Errorf("%w: at most one COUNT(DISTINCT ...) per query is supported", errUnsupported)
			}
			if len(fc.Args) != 1 {
				return nil, fmt.Errorf("%w: COUNT(DISTINCT ...) takes exactly one argument", errUnsupported)
			}
			distinctArg = fc.Args[0]
			distinctAlias = it.Alias
			if distinctAlias == "" {
				distinctAlias = "count_distinct"
			}
		}
	}

	if distinctArg != nil {
		return buildCountDistinct(input, s, distinctArg, distinctAlias)
	}

	var aggs []AggItem
	var groupByOut []row.Column
	for i, g := range s.GroupBy {
		_, err := compileScalar(schema, g)
		if err != nil {
			return nil, err
		}
		groupByOut = append(groupByOut, row.Column{Name: groupColName(g, i), Kind: row.Null})
	}

	for _, it := range s.Columns {
		fc, ok := it.Expr.(*FuncCall)
		if !ok || fc.Over != nil {
			continue
		}
		f, err := aggFuncOf(fc.Name)
		if err != nil {
			continue
		}
		alias := it.Alias
		if alias == "" {
			alias = strings.ToLower(fc.Name)
		}
		var arg Node
		if !fc.Star {
			if len(fc.Args) != 1 {
				return nil, fmt.Errorf("%w: aggregate %s takes exactly one argument", errUnsupported, fc.Name)
			}
			arg = fc.Args[0]
			if _, err := compileScalar(schema, arg); err != nil {
				return nil, err
			}
		} else if f != agg.CountStar {
			f = agg.CountStar
		}
		aggs = append(aggs, AggItem{Alias: alias, Func: f, Arg: arg})
	}

	outCols := append(append([]row.Column{}, groupByOut...), aggColumns(schema, aggs)...)
	out := &row.Schema{Columns: outCols}
	having := s.Having
	if having != nil {
		having = rewriteAggRefs(having, aggs)
		if _, err := compilePredicate(out, having); err != nil {
			return nil, err
		}
	}
	ap := &AggregatePlan{Input: input, GroupBy: s.GroupBy, Aggs: aggs, Having: having, Out: out}
	return ap, nil
}

// rewriteSelectAggs applies rewriteAggRefs to every non-star SELECT
// item, so the projection above an AggregatePlan reads the plan's
// output columns instead of the original aggregate calls.
func rewriteSelectAggs(items []SelectItem, aggs []AggItem) []SelectItem {
	out := make([]SelectItem, len(items))
	for i, it := range items {
		out[i] = it
		if !it.Star && it.Expr != nil {
			out[i].Expr = rewriteAggRefs(it.Expr, aggs)
		}
	}
	return out
}

func aggColumns(schema *row.Schema, aggs []AggItem) []row.Column {
	cols := make([]row.Column, len(aggs))
	for i, a := range aggs {
		kind := row.Float
		switch a.Func {
		case agg.Count, agg.CountStar:
			kind = row.Int
		case agg.Sum, agg.Min, agg.Max:
			// SUM over an all-INT column stays INT; MIN/MAX return the
			// argument's own kind.
			if a.Arg != nil && schema != nil {
				if k := inferKind(schema, a.Arg); k != row.Null {
					kind = k
				}
			}
		}
		cols[i] = row.Column{Name: a.Alias, Kind: kind}
	}
	return cols
}

// rewriteAggRefs replaces aggregate calls inside a post-aggregation
// expression (a SELECT item or HAVING clause) with references to the
// aggregate plan's output columns, so the expression compiles against
// the AggregatePlan's schema instead of re-evaluating the aggregate.
// Calls with no matching AggItem are left alone and fail compilation
// with the usual unsupported-expression error.
func rewriteAggRefs(n Node, aggs []AggItem) Node {
	switch e := n.(type) {
	case *FuncCall:
		if e.Over == nil && (isAggFunc(e.Name)) {
			if alias, ok := matchAggItem(e, aggs); ok {
				return &Ident{Name: alias}
			}
			return n
		}
		out := *e
		out.Args = make([]Node, len(e.Args))
		for i, a := range e.Args {
			out.Args[i] = rewriteAggRefs(a, aggs)
		}
		return &out
	case *BinaryExpr:
		return &BinaryExpr{Op: e.Op, Left: rewriteAggRefs(e.Left, aggs), Right: rewriteAggRefs(e.Right, aggs)}
	case *UnaryExpr:
		return &UnaryExpr{Op: e.Op, Expr: rewriteAggRefs(e.Expr, aggs)}
	case *CaseExpr:
		out := &CaseExpr{}
		if e.Operand != nil {
			out.Operand = rewriteAggRefs(e.Operand, aggs)
		}
		for _, w := range e.Whens {
			out.Whens = append(out.Whens, WhenClause{
				Cond: rewriteAggRefs(w.Cond, aggs),
				Then: rewriteAggRefs(w.Then, aggs),
			})
		}
		if e.Else != nil {
			out.Else = rewriteAggRefs(e.Else, aggs)
		}
		return out
	case *CastExpr:
		return &CastExpr{Expr: rewriteAggRefs(e.Expr, aggs), Type: e.Type}
	case *IsNullExpr:
		return &IsNullExpr{Expr: rewriteAggRefs(e.Expr, aggs), Not: e.Not}
	case *BetweenExpr:
		return &BetweenExpr{
			Expr: rewriteAggRefs(e.Expr, aggs),
			Lo:   rewriteAggRefs(e.Lo, aggs),
			Hi:   rewriteAggRefs(e.Hi, aggs),
			Not:  e.Not,
		}
	}
	return n
}

// matchAggItem finds the AggItem an aggregate call was lowered to and
// returns its output column alias.
func matchAggItem(fc *FuncCall, aggs []AggItem) (string, bool) {
	if fc.Distinct {
		for _, a := range aggs {
			if a.Distinct {
				return a.Alias, true
			}
		}
		return "", false
	}
	f, err := aggFuncOf(fc.Name)
	if err != nil {
		return "", false
	}
	if fc.Star || (f == agg.Count && len(fc.Args) == 0) {
		for _, a := range aggs {
			if a.Func == agg.CountStar && !a.Distinct {
				return a.Alias, true
			}
		}
		return "", false
	}
	if len(fc.Args) != 1 {
		return "", false
	}
	for _, a := range aggs {
		if a.Func == f && a.Arg != nil && exprEqual(fc.Args[0], a.Arg) {
			return a.Alias, true
		}
	}
	return "", false
}

// exprEqual reports structural equality of two expression trees; it
// only needs to cover the node kinds an aggregate argument can be.
func exprEqual(a, b Node) bool {
	switch x := a.(type) {
	case *Ident:
		y, ok := b.(*Ident)
		return ok && x.Table == y.Table && x.Name == y.Name
	case *IntLit:
		y, ok := b.(*IntLit)
		return ok && x.Value == y.Value
	case *FloatLit:
		y, ok := b.(*FloatLit)
		return ok && x.Value == y.Value
	case *StringLit:
		y, ok := b.(*StringLit)
		return ok && x.Value == y.Value
	case *BoolLit:
		y, ok := b.(*BoolLit)
		return ok && x.Value == y.Value
	case *NullLit:
		_, ok := b.(*NullLit)
		return ok
	case *UnaryExpr:
		y, ok := b.(*UnaryExpr)
		return ok && x.Op == y.Op && exprEqual(x.Expr, y.Expr)
	case *BinaryExpr:
		y, ok := b.(*BinaryExpr)
		return ok && x.Op == y.Op && exprEqual(x.Left, y.Left) && exprEqual(x.Right, y.Right)
	case *CastExpr:
		y, ok := b.(*CastExpr)
		return ok && x.Type == y.Type && exprEqual(x.Expr, y.Expr)
	case *CaseExpr:
		y, ok := b.(*CaseExpr)
		if !ok || len(x.Whens) != len(y.Whens) {
			return false
		}
		if (x.Operand == nil) != (y.Operand == nil) || (x.Else == nil) != (y.Else == nil) {
			return false
		}
		if x.Operand != nil && !exprEqual(x.Operand, y.Operand) {
			return false
		}
		for i := range x.Whens {
			if !exprEqual(x.Whens[i].Cond, y.Whens[i].Cond) || !exprEqual(x.Whens[i].Then, y.Whens[i].Then) {
				return false
			}
		}
		if x.Else != nil && !exprEqual(x.Else, y.Else) {
			return false
		}
		return true
	case *FuncCall:
		y, ok := b.(*FuncCall)
		if !ok || x.Name != y.Name || x.Star != y.Star || x.Distinct != y.Distinct || len(x.Args) != len(y.Args) {
			return false
		}
		for i := range x.Args {
			if !exprEqual(x.Args[i], y.Args[i]) {
				return false
			}
		}
		return true
	}
	return false
}

func groupColName(n Node, i int) string {
	if id, ok := n.(*Ident); ok {
		if id.Table != "" {
			return id.Table + "." + id.Name
		}
		return id.Name
	}
	return fmt.Sprintf("group_%d", i)
}

// buildCountDistinct wires the nested dedup GroupBy for a single
// COUNT(DISTINCT x) column. Any other aggregate in the same SELECT
// list is rejected with errUnsupported.
func buildCountDistinct(input PlanNode, s *SelectStmt, distinctArg Node, alias string) (PlanNode, error) {
	schema := input.Schema()
	innerKey := append(append([]Node{}, s.GroupBy...), distinctArg)
	var innerCols []row.Column
	for i, g := range innerKey {
		if _, err := compileScalar(schema, g); err != nil {
			return nil, err
		}
		innerCols = append(innerCols, row.Column{Name: groupColName(g, i), Kind: row.Null})
	}
	innerCols = append(innerCols, row.Column{Name: "_n", Kind: row.Int})
	inner := &AggregatePlan{
		Input:   input,
		GroupBy: innerKey,
		Aggs:    []AggItem{{Alias: "_n", Func: agg.CountStar}},
		Out:     &row.Schema{Columns: innerCols},
	}

	// the outer aggregate groups the inner's output rows by the
	// original GROUP BY columns only (the leading columns of the
	// inner's output schema); a live inner row (one currently
	// present) is exactly one distinct value for that group.
	outerGroupBy := make([]Node, len(s.GroupBy))
	for i := range s.GroupBy {
		outerGroupBy[i] = &Ident{Name: innerCols[i].Name}
	}
	var outerAggs []AggItem
	outerAggs = append(outerAggs, AggItem{Alias: alias, Func: agg.CountStar, Distinct: true})
	for _, it := range s.Columns {
		fc, ok := it.Expr.(*FuncCall)
		if !ok || fc.Over != nil || (fc.Name == "COUNT" && fc.Distinct) {
			continue
		}
		_, err := aggFuncOf(fc.Name)
		if err != nil {
			continue
		}
		a := it.Alias
		if a == "" {
			a = strings.ToLower(fc.Name)
		}
		return nil, fmt.Errorf("%w: mixing COUNT(DISTINCT ...) with other aggregates over the base rows is not supported; aggregate %s", errUnsupported, a)
	}
	groupByOut := make([]row.Column, len(s.GroupBy))
	copy(groupByOut, innerCols[:len(s.GroupBy)])
	outCols := append(append([]row.Column{}, groupByOut...), aggColumns(nil, outerAggs)...)
	out := &row.Schema{Columns: outCols}
	having := s.Having
	if having != nil {
		having = rewriteAggRefs(having, outerAggs)
		if _, err := compilePredicate(out, having); err != nil {
			return nil, err
		}
	}
	outer := &AggregatePlan{Input: inner, GroupBy: outerGroupBy, Aggs: outerAggs, Having: having, Out: out}
	return outer, nil
}

func aggFuncOf(name string) (agg.Func, error) {
	switch name {
	case "SUM":
		return agg.Sum, nil
	case "COUNT":
		return agg.Count, nil
	case "AVG":
		return agg.Avg, nil
	case "MIN":
		return agg.Min, nil
	case "MAX":
		return agg.Max, nil
	}
	return 0, fmt.Errorf("%w: not an aggregate function: %s", errUnsupported, name)
}

func buildWindow(input PlanNode, items []SelectItem) (PlanNode, []WindowItem, error) {
	var wins []WindowItem
	for _, it := range items {
		fc, ok := it.Expr.(*FuncCall)
		if !ok || fc.Over == nil {
			continue
		}
		alias := it.Alias
		if alias == "" {
			alias = strings.ToLower(fc.Name)
		}
		wins = append(wins, WindowItem{Alias: alias, Call: fc})
	}
	outCols := append(append([]row.Column{}, input.Schema().Columns...), windowColumns(wins)...)
	wp := &WindowPlan{Input: input, Items: wins, Out: &row.Schema{Columns: outCols}}
	return wp, wins, nil
}

func windowColumns(items []WindowItem) []row.Column {
	cols := make([]row.Column, len(items))
	for i, it := range items {
		kind := row.Float
		switch it.Call.Name {
		case "ROW_NUMBER", "RANK", "DENSE_RANK":
			kind = row.Int
		}
		cols[i] = row.Column{Name: it.Alias, Kind: kind}
	}
	return cols
}

func buildProjectOverWindow(input PlanNode, items []SelectItem, wins []WindowItem) (PlanNode, error) {
	schema := input.Schema()
	var out []ProjItem
	winIdx := 0
	for _, it := range items {
		if it.Star {
			out = append(out, expandStar(schema, it.Table)...)
			continue
		}
		if fc, ok := it.Expr.(*FuncCall); ok && fc.Over != nil {
			alias := wins[winIdx].Alias
			winIdx++
			out = append(out, ProjItem{Expr: &Ident{Name: alias}, Alias: it.Alias})
			continue
		}
		alias := it.Alias
		if alias == "" {
			alias = exprDefaultAlias(it.Expr)
		}
		out = append(out, ProjItem{Expr: it.Expr, Alias: alias})
	}
	return buildProjectItems(input, out)
}

func buildProject(input PlanNode, items []SelectItem, postAgg bool) (PlanNode, error) {
	schema := input.Schema()
	var out []ProjItem
	for _, it := range items {
		if it.Star {
			out = append(out, expandStar(schema, it.Table)...)
			continue
		}
		alias := it.Alias
		if alias == "" {
			if postAgg {
				alias = aggDefaultAlias(it.Expr)
			} else {
				alias = exprDefaultAlias(it.Expr)
			}
		}
		out = append(out, ProjItem{Expr: it.Expr, Alias: alias})
	}
	return buildProjectItems(input, out)
}

func aggDefaultAlias(n Node) string {
	if fc, ok := n.(*FuncCall); ok {
		return strings.ToLower(fc.Name)
	}
	return exprDefaultAlias(n)
}

func expandStar(schema *row.Schema, table string) []ProjItem {
	var out []ProjItem
	for _, c := range schema.Columns {
		parts := strings.SplitN(c.Name, ".", 2)
		tbl, name := "", c.Name
		if len(parts) == 2 {
			tbl, name = parts[0], parts[1]
		}
		if table != "" && !strings.EqualFold(tbl, table) {
			continue
		}
		out = append(out, ProjItem{Expr: &Ident{Table: tbl, Name: name}, Alias: c.Name})
	}
	return out
}

func exprDefaultAlias(n Node) string {
	switch e := n.(type) {
	case *Ident:
		return e.Name
	default:
		return "_col"
	}
}

func buildProjectItems(input PlanNode, items []ProjItem) (PlanNode, error) {
	schema := input.Schema()
	cols := make([]row.Column, len(items))
	for i, it := range items {
		f, err := compileScalar(schema, it.Expr)
		if err != nil {
			return nil, err
		}
		_ = f
		cols[i] = row.Column{Name: it.Alias, Kind: inferKind(schema, it.Expr)}
	}
	return &ProjectPlan{Input: input, Items: items, Out: &row.Schema{Columns: cols}}, nil
}

// inferKind makes a best-effort guess at a projected expression's
// declared column kind, used only to populate the output schema
// metadata; the actual runtime value always carries its own Kind tag.
func inferKind(schema *row.Schema, n Node) row.Kind {
	switch e := n.(type) {
	case *Ident:
		if idx, err := resolveColumn(schema, e.Table, e.Name); err == nil {
			return schema.Columns[idx].Kind
		}
	case *IntLit:
		return row.Int
	case *FloatLit:
		return row.Float
	case *StringLit:
		return row.Text
	case *BoolLit:
		return row.Bool
	case *CastExpr:
		switch e.Type {
		case "INT", "INTEGER", "BIGINT":
			return row.Int
		case "FLOAT", "DOUBLE", "REAL":
			return row.Float
		case "TEXT", "STRING", "VARCHAR":
			return row.Text
		case "BOOLEAN", "BOOL":
			return row.Bool
		case "DATETIME", "TIMESTAMP", "DATE":
			return row.DateTime
		}
	}
	return row.Null
}

// asofDirection inspects an ASOF ON clause's inequality conjunct
// (alongside any number of equality conjuncts) and reports whether
// matching should look backward (largest right ts <= left's) or
// forward. The operator is read relative to which side each operand
// resolves against, so `l.ts >= r.ts` and `r.ts <= l.ts` both mean
// backward.
func asofDirection(leftSchema, rightSchema *row.Schema, on Node) (bool, error) {
	for _, conj := range splitAnd(on) {
		b, ok := conj.(*BinaryExpr)
		if !ok {
			continue
		}
		var geq bool
		switch b.Op {
		case ">=", ">":
			geq = true
		case "<=", "<":
			geq = false
		default:
			continue
		}
		switch {
		case classifySide(leftSchema, b.Left) && classifySide(rightSchema, b.Right):
			return geq, nil
		case classifySide(rightSchema, b.Left) && classifySide(leftSchema, b.Right):
			return !geq, nil
		}
	}
	return false, fmt.Errorf("%w: ASOF JOIN requires a timestamp inequality in its ON clause", errUnsupported)
}

func splitAnd(n Node) []Node {
	if b, ok := n.(*BinaryExpr); ok && b.Op == "AND" {
		return append(splitAnd(b.Left), splitAnd(b.Right)...)
	}
	return []Node{n}
}
