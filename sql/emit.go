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
	"sort"

	"github.com/sneltrix/ivm/agg"
	"github.com/sneltrix/ivm/circuit"
	"github.com/sneltrix/ivm/config"
	"github.com/sneltrix/ivm/join"
	"github.com/sneltrix/ivm/relop"
	"github.com/sneltrix/ivm/row"
	"github.com/sneltrix/ivm/window"
	"github.com/sneltrix/ivm/zset"
)

// Emitter lowers a logical PlanNode tree onto a circuit.Builder,
// wiring one node (or a short chain of nodes) per plan node, turning
// the output of planning into circuit.Operator nodes a Builder can
// step.
type Emitter struct {
	b       *circuit.Builder
	sources map[string]circuit.NodeID // table name -> declared source node
	opts    config.ViewOptions
	seq     int
}

// NewEmitter returns an emitter that adds nodes to b. sources maps
// every catalog table name to the circuit source node already
// declared for it (via b.Source(name)). opts carries the view's
// WITH (...) options, which govern how join nodes materialize their
// state (see emitJoin).
func NewEmitter(b *circuit.Builder, sources map[string]circuit.NodeID, opts config.ViewOptions) *Emitter {
	return &Emitter{b: b, sources: sources, opts: opts}
}

func (e *Emitter) label(kind string) string {
	e.seq++
	return fmt.Sprintf("%s#%d", kind, e.seq)
}

// joinParams resolves the view's configured JoinMode/MaxResults into
// the (maxResults, appendOnly) arguments join.NewEquiJoin takes.
// append-only mode lets a join skip its result store entirely, which
// is only safe when every upstream source this view depends on never
// retracts a row; full/full-indexed keep the result store so a later
// retraction can be matched and undone.
func (e *Emitter) joinParams() (maxResults int, appendOnly bool) {
	return e.opts.MaxResults, e.opts.JoinMode == config.JoinAppendOnly
}

// Emit wires plan onto the builder and returns the id of the node
// carrying its output.
func (e *Emitter) Emit(plan PlanNode) (circuit.NodeID, error) {
	switch p := plan.(type) {
	case *ScanPlan:
		id, ok := e.sources[p.Source]
		if !ok {
			return 0, fmt.Errorf("%w: no circuit source declared for table %q", errUnsupported, p.Source)
		}
		return id, nil

	case *FilterPlan:
		return e.emitFilter(p)
	case *ProjectPlan:
		return e.emitProject(p)
	case *JoinPlan:
		return e.emitJoin(p)
	case *SemiAntiJoinPlan:
		return e.emitSemiAntiJoin(p)
	case *AggregatePlan:
		return e.emitAggregate(p)
	case *WindowPlan:
		return e.emitWindow(p)
	case *SetOpPlan:
		return e.emitSetOp(p)
	case *DistinctPlan:
		return e.emitDistinct(p)
	case *SortPlan:
		// ORDER BY has no effect on the circuit's Z-set output: row
		// order is imposed at the materialization-read boundary
		// (see engine.Rows), so a SortPlan is a pass-through here.
		return e.Emit(p.Input)
	case *LimitPlan:
		// Likewise LIMIT/OFFSET are applied when a view is read, not
		// as a circuit node: a stateful "keep only the first K rows"
		// operator cannot be expressed incrementally without access
		// to the view's full order, which only the read boundary has.
		return e.Emit(p.Input)
	}
	return 0, fmt.Errorf("%w: cannot emit plan node %T", errUnsupported, plan)
}

func (e *Emitter) emitFilter(p *FilterPlan) (circuit.NodeID, error) {
	in, err := e.Emit(p.Input)
	if err != nil {
		return 0, err
	}
	pred, err := compilePredicate(p.Input.Schema(), p.Pred)
	if err != nil {
		return 0, err
	}
	op := relop.Filter(func(r row.Row) bool { return pred(r).IsTrue() })
	return e.b.Add(e.label("filter"), op, in), nil
}

func (e *Emitter) emitProject(p *ProjectPlan) (circuit.NodeID, error) {
	in, err := e.Emit(p.Input)
	if err != nil {
		return 0, err
	}
	schema := p.Input.Schema()
	fns := make([]ScalarFn, len(p.Items))
	for i, it := range p.Items {
		f, err := compileScalar(schema, it.Expr)
		if err != nil {
			return 0, err
		}
		fns[i] = f
	}
	out := p.Out
	op := relop.Project(func(r row.Row) row.Row {
		vals := make([]row.Value, len(fns))
		for i, f := range fns {
			vals[i] = f(r)
		}
		return row.New(out, vals)
	})
	return e.b.Add(e.label("project"), op, in), nil
}

func (e *Emitter) emitDistinct(p *DistinctPlan) (circuit.NodeID, error) {
	in, err := e.Emit(p.Input)
	if err != nil {
		return 0, err
	}
	return e.b.Add(e.label("distinct"), relop.NewDistinct(), in), nil
}

func (e *Emitter) emitSetOp(p *SetOpPlan) (circuit.NodeID, error) {
	left, err := e.Emit(p.Left)
	if err != nil {
		return 0, err
	}
	right, err := e.Emit(p.Right)
	if err != nil {
		return 0, err
	}
	switch p.Op {
	case "UNION":
		return e.b.Add(e.label("union_all"), relop.UnionAll(), left, right), nil
	case "EXCEPT":
		return relop.WireExceptAll(e.b, e.label("except"), left, right), nil
	case "INTERSECT":
		return e.b.Add(e.label("intersect_all"), relop.NewIntersectAll(), left, right), nil
	}
	return 0, fmt.Errorf("%w: unsupported set operation %q", errUnsupported, p.Op)
}

// --- joins ---

// eqPair is one equality conjunct of a JOIN's ON clause, classified
// to the side of the join each operand belongs to.
type eqPair struct{ left, right Node }

// tsPair is the single inequality conjunct an ASOF join's ON clause
// carries, giving each side's timestamp expression.
type tsPair struct{ left, right Node }

// classifySide reports whether n compiles as a scalar expression
// against schema alone (i.e. every column it references belongs to
// that side of a join).
func classifySide(schema *row.Schema, n Node) bool {
	_, err := compileScalar(schema, n)
	return err == nil
}

// splitJoinOn partitions on's top-level AND conjuncts into equality
// pairs (one operand resolving against leftSchema, the other against
// rightSchema), an optional single timestamp inequality (for ASOF),
// and any remaining conjuncts to be applied as a residual post-join
// filter.
func splitJoinOn(leftSchema, rightSchema *row.Schema, on Node) (eq []eqPair, ts *tsPair, extra []Node, err error) {
	if on == nil {
		return nil, nil, nil, nil
	}
	for _, conj := range splitAnd(on) {
		b, ok := conj.(*BinaryExpr)
		if !ok {
			extra = append(extra, conj)
			continue
		}
		switch b.Op {
		case "=":
			lOnLeft := classifySide(leftSchema, b.Left)
			rOnRight := classifySide(rightSchema, b.Right)
			lOnRight := classifySide(rightSchema, b.Left)
			rOnLeft := classifySide(leftSchema, b.Right)
			switch {
			case lOnLeft && rOnRight:
				eq = append(eq, eqPair{left: b.Left, right: b.Right})
			case lOnRight && rOnLeft:
				eq = append(eq, eqPair{left: b.Right, right: b.Left})
			default:
				extra = append(extra, conj)
			}
		case ">=", ">", "<=", "<":
			if ts != nil {
				extra = append(extra, conj)
				continue
			}
			if classifySide(leftSchema, b.Left) && classifySide(rightSchema, b.Right) {
				ts = &tsPair{left: b.Left, right: b.Right}
			} else if classifySide(rightSchema, b.Left) && classifySide(leftSchema, b.Right) {
				ts = &tsPair{left: b.Right, right: b.Left}
			} else {
				extra = append(extra, conj)
			}
		default:
			extra = append(extra, conj)
		}
	}
	return eq, ts, extra, nil
}

func rowKeyFromValues(vals []row.Value) row.Key {
	return row.FullKey(row.New(nil, vals))
}

// buildJoinKeyFn compiles the equi-join key extractors, one per
// side: applied to a bare left-schema row (leftKey) or a bare
// right-schema row (rightKey), they produce equal keys for matching
// join values regardless of which side's column names were used to
// express them. The extractors resolve columns by position at compile
// time, so the rows they are later applied to only need the right
// column layout, not the planner's own schema value.
func buildJoinKeyFn(leftSchema, rightSchema *row.Schema, eq []eqPair) (leftKey, rightKey func(row.Row) row.Key, err error) {
	leftFns := make([]ScalarFn, len(eq))
	rightFns := make([]ScalarFn, len(eq))
	for i, p := range eq {
		lf, err := compileScalar(leftSchema, p.left)
		if err != nil {
			return nil, nil, err
		}
		rf, err := compileScalar(rightSchema, p.right)
		if err != nil {
			return nil, nil, err
		}
		leftFns[i], rightFns[i] = lf, rf
	}
	keyOf := func(fns []ScalarFn) func(row.Row) row.Key {
		return func(r row.Row) row.Key {
			vals := make([]row.Value, len(fns))
			for i, f := range fns {
				vals[i] = f(r)
			}
			return rowKeyFromValues(vals)
		}
	}
	return keyOf(leftFns), keyOf(rightFns), nil
}

func combinedRowFn(out *row.Schema) func(l, r row.Row) row.Row {
	return func(l, r row.Row) row.Row {
		vals := make([]row.Value, 0, len(l.Values)+len(r.Values))
		vals = append(vals, l.Values...)
		vals = append(vals, r.Values...)
		return row.New(out, vals)
	}
}

// combinedSidePK extracts the first n (or last n, from the end)
// columns of a combined output row as a sub-key; EquiJoin invokes its
// leftPK/rightPK arguments only against its own combined output rows.
func combinedSidePK(fromStart bool, n int) func(row.Row) row.Key {
	return func(r row.Row) row.Key {
		if fromStart {
			cols := make([]int, n)
			for i := range cols {
				cols[i] = i
			}
			return row.KeyOf(r, cols...)
		}
		total := len(r.Values)
		cols := make([]int, n)
		for i := range cols {
			cols[i] = total - n + i
		}
		return row.KeyOf(r, cols...)
	}
}

// nullPadded returns width NULL values for the missing side of an
// outer join.
func nullPadded(width int) []row.Value {
	vals := make([]row.Value, width)
	for i := range vals {
		vals[i] = row.NullValue
	}
	return vals
}

func (e *Emitter) emitJoin(p *JoinPlan) (circuit.NodeID, error) {
	leftIn, err := e.Emit(p.Left)
	if err != nil {
		return 0, err
	}
	rightIn, err := e.Emit(p.Right)
	if err != nil {
		return 0, err
	}
	leftSchema, rightSchema := p.Left.Schema(), p.Right.Schema()
	nLeft, nRight := len(leftSchema.Columns), len(rightSchema.Columns)
	combine := combinedRowFn(p.Out)
	leftPK := combinedSidePK(true, nLeft)
	rightPK := combinedSidePK(false, nRight)

	eq, ts, extra, err := splitJoinOn(leftSchema, rightSchema, p.On)
	if err != nil {
		return 0, err
	}

	var joinNode circuit.NodeID
	switch {
	case p.Kind == "CROSS":
		constKey := func(row.Row) row.Key { return row.Key("") }
		maxResults, appendOnly := e.joinParams()
		ej := join.NewEquiJoin(constKey, constKey, leftPK, rightPK, combine, maxResults, appendOnly)
		joinNode = e.b.Add(e.label("cross_join"), ej, leftIn, rightIn)

	case p.Asof:
		if len(eq) == 0 {
			return 0, fmt.Errorf("%w: ASOF JOIN requires an equality key in its ON clause", errUnsupported)
		}
		if ts == nil {
			return 0, fmt.Errorf("%w: ASOF JOIN requires a timestamp inequality in its ON clause", errUnsupported)
		}
		leftKey, rightKey, err := buildJoinKeyFn(leftSchema, rightSchema, eq)
		if err != nil {
			return 0, err
		}
		leftTS, err := compileScalar(leftSchema, ts.left)
		if err != nil {
			return 0, err
		}
		rightTS, err := compileScalar(rightSchema, ts.right)
		if err != nil {
			return 0, err
		}
		aj := join.NewAsofJoin(leftKey, rightKey, row.FullKey, valueToUnixFn(leftTS), valueToUnixFn(rightTS), combine, p.AsofBackward)
		joinNode = e.b.Add(e.label("asof_join"), aj, leftIn, rightIn)

	case p.Kind == "INNER" || p.Kind == "":
		if len(eq) == 0 {
			return 0, fmt.Errorf("%w: JOIN requires an equality condition in its ON clause", errUnsupported)
		}
		leftKey, rightKey, err := buildJoinKeyFn(leftSchema, rightSchema, eq)
		if err != nil {
			return 0, err
		}
		maxResults, appendOnly := e.joinParams()
		ej := join.NewEquiJoin(leftKey, rightKey, leftPK, rightPK, combine, maxResults, appendOnly)
		joinNode = e.b.Add(e.label("inner_join"), ej, leftIn, rightIn)

	case p.Kind == "LEFT" || p.Kind == "RIGHT" || p.Kind == "FULL":
		if len(eq) == 0 {
			return 0, fmt.Errorf("%w: OUTER JOIN requires an equality condition in its ON clause", errUnsupported)
		}
		leftKey, rightKey, err := buildJoinKeyFn(leftSchema, rightSchema, eq)
		if err != nil {
			return 0, err
		}
		maxResults, appendOnly := e.joinParams()
		ej := join.NewEquiJoin(leftKey, rightKey, leftPK, rightPK, combine, maxResults, appendOnly)
		inner := e.b.Add(e.label("inner_join"), ej, leftIn, rightIn)

		branches := []circuit.NodeID{inner}
		if p.Kind == "LEFT" || p.Kind == "FULL" {
			antiLeft := join.NewSemiAntiJoin(leftKey, rightKey, row.FullKey, true)
			antiNode := e.b.Add(e.label("anti_left"), antiLeft, leftIn, rightIn)
			padded := e.b.Add(e.label("pad_right_null"), relop.Project(func(r row.Row) row.Row {
				return combine(r, row.New(rightSchema, nullPadded(nRight)))
			}), antiNode)
			branches = append(branches, padded)
		}
		if p.Kind == "RIGHT" || p.Kind == "FULL" {
			antiRight := join.NewSemiAntiJoin(rightKey, leftKey, row.FullKey, true)
			antiNode := e.b.Add(e.label("anti_right"), antiRight, rightIn, leftIn)
			padded := e.b.Add(e.label("pad_left_null"), relop.Project(func(r row.Row) row.Row {
				return combine(row.New(leftSchema, nullPadded(nLeft)), r)
			}), antiNode)
			branches = append(branches, padded)
		}
		joinNode = branches[0]
		for _, n := range branches[1:] {
			joinNode = e.b.Add(e.label("outer_union"), relop.UnionAll(), joinNode, n)
		}

	default:
		return 0, fmt.Errorf("%w: unsupported join kind %q", errUnsupported, p.Kind)
	}

	if len(extra) == 0 {
		return joinNode, nil
	}
	// residual non-equality conjuncts (e.g. "a.amount > b.threshold")
	// become a post-join filter over the combined schema.
	residual := extra[0]
	for _, n := range extra[1:] {
		residual = &BinaryExpr{Op: "AND", Left: residual, Right: n}
	}
	pred, err := compilePredicate(p.Out, residual)
	if err != nil {
		return 0, err
	}
	op := relop.Filter(func(r row.Row) bool { return pred(r).IsTrue() })
	return e.b.Add(e.label("join_residual_filter"), op, joinNode), nil
}

// emitSemiAntiJoin realizes an EXISTS/IN (subquery) WHERE-conjunct
// (plan.go's extractSubqueryJoins). An uncorrelated subquery (no
// LeftKeys/RightKeys at all) joins on a constant key, the same trick
// emitJoin uses for CROSS JOIN: presence becomes "the right side has
// any rows whatsoever", decided once for every left row alike.
func (e *Emitter) emitSemiAntiJoin(p *SemiAntiJoinPlan) (circuit.NodeID, error) {
	leftIn, err := e.Emit(p.Input)
	if err != nil {
		return 0, err
	}
	rightIn, err := e.Emit(p.Right)
	if err != nil {
		return 0, err
	}
	leftSchema, rightSchema := p.Input.Schema(), p.Right.Schema()

	var leftKey, rightKey func(row.Row) row.Key
	if len(p.LeftKeys) == 0 {
		constKey := func(row.Row) row.Key { return row.Key("") }
		leftKey, rightKey = constKey, constKey
	} else {
		eq := make([]eqPair, len(p.LeftKeys))
		for i := range p.LeftKeys {
			eq[i] = eqPair{left: p.LeftKeys[i], right: p.RightKeys[i]}
		}
		leftKey, rightKey, err = buildJoinKeyFn(leftSchema, rightSchema, eq)
		if err != nil {
			return 0, err
		}
	}

	sj := join.NewSemiAntiJoin(leftKey, rightKey, row.FullKey, p.Anti)
	label := "semi_join"
	if p.Anti {
		label = "anti_join"
	}
	return e.b.Add(e.label(label), sj, leftIn, rightIn), nil
}

// valueToUnixFn adapts a ScalarFn producing an INT or DATETIME value
// into the int64 timestamp ASOF joins compare by.
func valueToUnixFn(f ScalarFn) func(row.Row) int64 {
	return func(r row.Row) int64 {
		v := f(r)
		switch v.Kind() {
		case row.Int:
			return v.Int()
		case row.Float:
			return int64(v.Float())
		case row.DateTime:
			return v.Time().UnixNano()
		}
		return 0
	}
}

// --- aggregation ---

func (e *Emitter) emitAggregate(p *AggregatePlan) (circuit.NodeID, error) {
	in, err := e.Emit(p.Input)
	if err != nil {
		return 0, err
	}
	inSchema := p.Input.Schema()

	keyFns := make([]ScalarFn, len(p.GroupBy))
	for i, g := range p.GroupBy {
		f, err := compileScalar(inSchema, g)
		if err != nil {
			return 0, err
		}
		keyFns[i] = f
	}
	keySchema := &row.Schema{Columns: p.Out.Columns[:len(keyFns)]}
	keyOf := func(r row.Row) row.Row {
		vals := make([]row.Value, len(keyFns))
		for i, f := range keyFns {
			vals[i] = f(r)
		}
		return row.New(keySchema, vals)
	}

	specs := make([]agg.Spec, len(p.Aggs))
	for i, a := range p.Aggs {
		spec := agg.Spec{Name: a.Alias, Func: a.Func}
		if a.Arg != nil {
			f, err := compileScalar(inSchema, a.Arg)
			if err != nil {
				return 0, err
			}
			spec.Extract = f
		}
		specs[i] = spec
	}

	var having func(row.Row) bool
	if p.Having != nil {
		pred, err := compilePredicate(p.Out, p.Having)
		if err != nil {
			return 0, err
		}
		having = func(r row.Row) bool { return pred(r).IsTrue() }
	}

	gb := agg.NewGroupBy(keyOf, specs, p.Out, having)
	return e.b.Add(e.label("group_by"), gb, in), nil
}

// --- window functions ---

// runningAgg accumulates SUM/COUNT/AVG/MIN/MAX over an entire
// partition to date (no ROWS BETWEEN frame given); unlike
// window.RingAggregate/MonotonicDeque it never evicts, since it
// serves the "whole partition so far" frame rather than a sliding one.
type runningAgg struct {
	sum            float64
	isum           int64 // integer-exact mirror of sum, valid while fcount == 0
	fcount         int64
	sumSet         bool
	count          int64
	min, max       row.Value
	minSet, maxSet bool
}

func (a *runningAgg) push(v row.Value) {
	if v.IsNull() {
		return
	}
	if f, ok := v.AsFloat(); ok {
		a.sum += f
		a.sumSet = true
		a.count++
		if v.Kind() == row.Int {
			a.isum += v.Int()
		} else {
			a.fcount++
		}
	}
	if !a.minSet {
		a.min, a.minSet = v, true
	} else if c, ok := row.Compare(v, a.min); ok && c < 0 {
		a.min = v
	}
	if !a.maxSet {
		a.max, a.maxSet = v, true
	} else if c, ok := row.Compare(v, a.max); ok && c > 0 {
		a.max = v
	}
}

// wItem is one compiled OVER(...) item of a WindowPlan.
type wItem struct {
	kind   string // ROW_NUMBER, RANK, DENSE_RANK, LAG, LEAD, SUM, COUNT, AVG, MIN, MAX
	arg    ScalarFn
	frame  int64 // 0 = whole partition; otherwise ROWS BETWEEN (frame-1) PRECEDING AND CURRENT ROW
	offset int   // LAG/LEAD offset, default 1
}

// partState bundles whichever per-partition window structures the
// query's OVER clauses actually need; fields are created lazily so a
// query using only ROW_NUMBER doesn't pay for a RingAggregate it never
// reads.
type partState struct {
	rowNum      window.RowNumber
	rank        window.Rank
	denseRnk    window.DenseRank
	rings       map[int]*window.RingAggregate
	deques      map[int]*window.MonotonicDeque
	lagRings    map[int]*window.LagRing
	runnings    map[int]*runningAgg
	prevOrder   []row.Value
	hasPrevOrder bool
}

// windowOp evaluates every OVER(...) item of a WindowPlan against
// each partition's running state. Window input is append-only by
// contract (spec scope: no mid-frame retraction), so unlike the other
// stateful operators this one mutates partition state directly during
// Eval rather than staging a clone: the ring/deque/rank structures it
// wraps have no Clone method, and a retracted row can never reach
// this operator in the first place.
type windowOp struct {
	items       []wItem
	partitionBy []ScalarFn
	orderBy     []ScalarFn
	orderDesc   []bool
	inSchema    *row.Schema
	out         *row.Schema

	states *window.PartitionedWindowState[*partState]
}

func newPartState() *partState {
	return &partState{
		rings:    make(map[int]*window.RingAggregate),
		deques:   make(map[int]*window.MonotonicDeque),
		lagRings: make(map[int]*window.LagRing),
		runnings: make(map[int]*runningAgg),
	}
}

func (w *windowOp) partitionKey(r row.Row) row.Key {
	vals := make([]row.Value, len(w.partitionBy))
	for i, f := range w.partitionBy {
		vals[i] = f(r)
	}
	return rowKeyFromValues(vals)
}

func (w *windowOp) orderVals(r row.Row) []row.Value {
	vals := make([]row.Value, len(w.orderBy))
	for i, f := range w.orderBy {
		vals[i] = f(r)
	}
	return vals
}

func (w *windowOp) orderEqual(a, b []row.Value) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !a[i].Equal(b[i]) {
			return false
		}
	}
	return true
}

func (w *windowOp) Eval(inputs []*zset.Set) (*zset.Set, error) {
	delta := zset.Empty()
	for _, in := range inputs {
		delta = delta.Add(in)
	}
	out := zset.Empty()

	type batched struct {
		r row.Row
		w int64
	}
	byPart := make(map[row.Key][]batched)
	partOrder := make([]row.Key, 0)
	delta.Entries(func(r row.Row, wt int64) {
		if wt < 0 {
			return
		}
		k := w.partitionKey(r)
		if _, ok := byPart[k]; !ok {
			partOrder = append(partOrder, k)
		}
		byPart[k] = append(byPart[k], batched{r: r, w: wt})
	})

	for _, pk := range partOrder {
		rows := byPart[pk]
		sort.SliceStable(rows, func(i, j int) bool {
			oi, oj := w.orderVals(rows[i].r), w.orderVals(rows[j].r)
			for c := range oi {
				cmp, ok := row.Compare(oi[c], oj[c])
				if !ok || cmp == 0 {
					continue
				}
				if w.orderDesc[c] {
					return cmp > 0
				}
				return cmp < 0
			}
			return false
		})

		st := w.states.Get(pk)
		for idx, b := range rows {
			ov := w.orderVals(b.r)
			repeat := st.hasPrevOrder && w.orderEqual(st.prevOrder, ov)

			vals := make([]row.Value, len(w.items))
			for i, item := range w.items {
				switch item.kind {
				case "ROW_NUMBER":
					vals[i] = row.IntValue(int64(st.rowNum.Next()))
				case "RANK":
					vals[i] = row.IntValue(int64(st.rank.Next(repeat)))
				case "DENSE_RANK":
					vals[i] = row.IntValue(int64(st.denseRnk.Next(repeat)))
				case "LAG":
					ring, ok := st.lagRings[i]
					if !ok {
						ring = window.NewLagRing(item.offset)
						st.lagRings[i] = ring
					}
					v, ok := ring.Lag(item.offset - 1)
					if !ok {
						v = row.NullValue
					}
					ring.Push(item.arg(b.r))
					vals[i] = v
				case "LEAD":
					if idx+item.offset < len(rows) {
						vals[i] = item.arg(rows[idx+item.offset].r)
					} else {
						vals[i] = row.NullValue
					}
				case "SUM", "COUNT", "AVG", "MIN", "MAX":
					v := item.arg(b.r)
					if item.frame > 0 {
						switch item.kind {
						case "MIN", "MAX":
							dq, ok := st.deques[i]
							if !ok {
								dq = window.NewMonotonicDeque(int(item.frame), item.kind == "MIN")
								st.deques[i] = dq
							}
							vals[i] = dq.Push(v)
						default:
							ra, ok := st.rings[i]
							if !ok {
								ra = window.NewRingAggregate(int(item.frame))
								st.rings[i] = ra
							}
							ra.Push(v)
							switch item.kind {
							case "SUM":
								vals[i] = ra.Sum()
							case "COUNT":
								vals[i] = ra.Count()
							case "AVG":
								vals[i] = ra.Avg()
							}
						}
					} else {
						ra, ok := st.runnings[i]
						if !ok {
							ra = &runningAgg{}
							st.runnings[i] = ra
						}
						ra.push(v)
						switch item.kind {
						case "SUM":
							switch {
							case !ra.sumSet:
								vals[i] = row.NullValue
							case ra.fcount == 0:
								vals[i] = row.IntValue(ra.isum)
							default:
								vals[i] = row.FloatValue(ra.sum)
							}
						case "COUNT":
							vals[i] = row.IntValue(ra.count)
						case "AVG":
							if ra.count == 0 {
								vals[i] = row.NullValue
							} else {
								vals[i] = row.FloatValue(ra.sum / float64(ra.count))
							}
						case "MIN":
							if ra.minSet {
								vals[i] = ra.min
							} else {
								vals[i] = row.NullValue
							}
						case "MAX":
							if ra.maxSet {
								vals[i] = ra.max
							} else {
								vals[i] = row.NullValue
							}
						}
					}
				}
			}
			st.prevOrder, st.hasPrevOrder = ov, true

			outVals := make([]row.Value, 0, len(b.r.Values)+len(vals))
			outVals = append(outVals, b.r.Values...)
			outVals = append(outVals, vals...)
			out.InsertRow(row.New(w.out, outVals), b.w)
		}
		w.states.Touch(pk, int64(len(rows)))
	}
	return out, nil
}

// Commit is a no-op: windowOp mutates partition state directly during
// Eval (see the type comment) rather than staging a clone.
func (w *windowOp) Commit() {}

func (e *Emitter) emitWindow(p *WindowPlan) (circuit.NodeID, error) {
	in, err := e.Emit(p.Input)
	if err != nil {
		return 0, err
	}
	inSchema := p.Input.Schema()

	var spec *WindowSpec
	for _, it := range p.Items {
		if it.Call.Over != nil {
			spec = it.Call.Over
			break
		}
	}
	w := &windowOp{inSchema: inSchema, out: p.Out}
	if spec != nil {
		for _, pb := range spec.PartitionBy {
			f, err := compileScalar(inSchema, pb)
			if err != nil {
				return 0, err
			}
			w.partitionBy = append(w.partitionBy, f)
		}
		for _, ob := range spec.OrderBy {
			f, err := compileScalar(inSchema, ob.Expr)
			if err != nil {
				return 0, err
			}
			w.orderBy = append(w.orderBy, f)
			w.orderDesc = append(w.orderDesc, ob.Desc)
		}
	}

	for _, it := range p.Items {
		item := wItem{kind: it.Call.Name, offset: 1}
		if it.Call.Over != nil && it.Call.Over.Frame != nil {
			item.frame = *it.Call.Over.Frame + 1
		}
		switch item.kind {
		case "LAG", "LEAD":
			if len(it.Call.Args) == 0 {
				return 0, fmt.Errorf("%w: %s requires at least one argument", errUnsupported, item.kind)
			}
			f, err := compileScalar(inSchema, it.Call.Args[0])
			if err != nil {
				return 0, err
			}
			item.arg = f
			if len(it.Call.Args) > 1 {
				n, err := compileScalar(inSchema, it.Call.Args[1])
				if err != nil {
					return 0, err
				}
				if v := n(row.Row{}); v.Kind() == row.Int {
					item.offset = int(v.Int())
				}
			}
		case "SUM", "COUNT", "AVG", "MIN", "MAX":
			if len(it.Call.Args) != 1 {
				return 0, fmt.Errorf("%w: %s OVER (...) takes exactly one argument", errUnsupported, item.kind)
			}
			f, err := compileScalar(inSchema, it.Call.Args[0])
			if err != nil {
				return 0, err
			}
			item.arg = f
		case "ROW_NUMBER", "RANK", "DENSE_RANK":
		default:
			return 0, fmt.Errorf("%w: unsupported window function %s", errUnsupported, item.kind)
		}
		w.items = append(w.items, item)
	}
	w.states = window.NewPartitionedWindowState(newPartState)
	return e.b.Add(e.label("window"), w, in), nil
}
