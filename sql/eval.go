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

	"github.com/sneltrix/ivm/row"
)

// ScalarFn evaluates one scalar expression against an input row.
type ScalarFn func(row.Row) row.Value

// PredFn evaluates one WHERE/ON/HAVING predicate in three-valued
// logic.
type PredFn func(row.Row) Ternary

// resolveColumn finds the index of column (tbl, name) in schema.
// A qualified reference first looks for the exact "tbl.name" column
// (how this package names columns coming out of a join); it falls
// back to a bare "name" match for single-source schemas. An
// unqualified reference must match exactly one column, by exact
// name or by "*.name" suffix, or it is ambiguous.
func resolveColumn(schema *row.Schema, tbl, name string) (int, error) {
	if tbl != "" {
		if i := schema.Index(tbl + "." + name); i >= 0 {
			return i, nil
		}
		if i := schema.Index(name); i >= 0 {
			return i, nil
		}
		return -1, fmt.Errorf("%w: no column %q on %q", errUnsupported, name, tbl)
	}
	if i := schema.Index(name); i >= 0 {
		return i, nil
	}
	found := -1
	for i, c := range schema.Columns {
		if strings.EqualFold(c.Name, name) || strings.HasSuffix(strings.ToLower(c.Name), "."+strings.ToLower(name)) {
			if found >= 0 {
				return -1, fmt.Errorf("%w: ambiguous column reference %q", errUnsupported, name)
			}
			found = i
		}
	}
	if found < 0 {
		return -1, fmt.Errorf("%w: unknown column %q", errUnsupported, name)
	}
	return found, nil
}

// compileScalar compiles an expression producing a single value:
// the SELECT-list / arithmetic surface.
func compileScalar(schema *row.Schema, n Node) (ScalarFn, error) {
	switch e := n.(type) {
	case *Ident:
		idx, err := resolveColumn(schema, e.Table, e.Name)
		if err != nil {
			return nil, err
		}
		return func(r row.Row) row.Value { return r.At(idx) }, nil

	case *IntLit:
		v := row.IntValue(e.Value)
		return func(row.Row) row.Value { return v }, nil
	case *FloatLit:
		v := row.FloatValue(e.Value)
		return func(row.Row) row.Value { return v }, nil
	case *StringLit:
		v := row.TextValue(e.Value)
		return func(row.Row) row.Value { return v }, nil
	case *BoolLit:
		v := row.BoolValue(e.Value)
		return func(row.Row) row.Value { return v }, nil
	case *NullLit:
		return func(row.Row) row.Value { return row.NullValue }, nil

	case *UnaryExpr:
		switch e.Op {
		case "-":
			inner, err := compileScalar(schema, e.Expr)
			if err != nil {
				return nil, err
			}
			return func(r row.Row) row.Value { return negate(inner(r)) }, nil
		case "NOT":
			p, err := compilePredicate(schema, e.Expr)
			if err != nil {
				return nil, err
			}
			return func(r row.Row) row.Value { return ternaryToValue(p(r).Not()) }, nil
		}

	case *BinaryExpr:
		switch e.Op {
		case "+", "-", "*", "/", "%":
			left, err := compileScalar(schema, e.Left)
			if err != nil {
				return nil, err
			}
			right, err := compileScalar(schema, e.Right)
			if err != nil {
				return nil, err
			}
			return func(r row.Row) row.Value { return arith(e.Op, left(r), right(r)) }, nil
		case "||":
			left, err := compileScalar(schema, e.Left)
			if err != nil {
				return nil, err
			}
			right, err := compileScalar(schema, e.Right)
			if err != nil {
				return nil, err
			}
			return func(r row.Row) row.Value {
				l, rr := left(r), right(r)
				if l.IsNull() || rr.IsNull() {
					return row.NullValue
				}
				return row.TextValue(valueToString(l) + valueToString(rr))
			}, nil
		default:
			p, err := compilePredicate(schema, e)
			if err != nil {
				return nil, err
			}
			return func(r row.Row) row.Value { return ternaryToValue(p(r)) }, nil
		}

	case *CaseExpr:
		return compileCase(schema, e)

	case *CastExpr:
		inner, err := compileScalar(schema, e.Expr)
		if err != nil {
			return nil, err
		}
		typ := e.Type
		return func(r row.Row) row.Value { return castValue(inner(r), typ) }, nil

	case *FuncCall:
		return compileScalarFunc(schema, e)

	case *IsNullExpr, *BetweenExpr, *InExpr, *ExistsExpr:
		p, err := compilePredicate(schema, n)
		if err != nil {
			return nil, err
		}
		return func(r row.Row) row.Value { return ternaryToValue(p(r)) }, nil
	}
	return nil, fmt.Errorf("%w: unsupported expression %T", errUnsupported, n)
}

func ternaryToValue(t Ternary) row.Value {
	if t == Unknown {
		return row.NullValue
	}
	return row.BoolValue(t == True)
}

func valueToTernary(v row.Value) Ternary {
	if v.IsNull() {
		return Unknown
	}
	if v.Kind() == row.Bool {
		return BoolTernary(v.Bool())
	}
	return Unknown
}

// compilePredicate compiles an expression evaluated as a three-valued
// truth value: the WHERE/ON/HAVING surface, including Kleene AND/OR/
// NOT and NULL-aware comparisons.
func compilePredicate(schema *row.Schema, n Node) (PredFn, error) {
	switch e := n.(type) {
	case *BoolLit:
		t := BoolTernary(e.Value)
		return func(row.Row) Ternary { return t }, nil
	case *NullLit:
		return func(row.Row) Ternary { return Unknown }, nil

	case *UnaryExpr:
		if e.Op == "NOT" {
			inner, err := compilePredicate(schema, e.Expr)
			if err != nil {
				return nil, err
			}
			return func(r row.Row) Ternary { return inner(r).Not() }, nil
		}

	case *BinaryExpr:
		switch e.Op {
		case "AND":
			left, err := compilePredicate(schema, e.Left)
			if err != nil {
				return nil, err
			}
			right, err := compilePredicate(schema, e.Right)
			if err != nil {
				return nil, err
			}
			return func(r row.Row) Ternary { return left(r).And(right(r)) }, nil
		case "OR":
			left, err := compilePredicate(schema, e.Left)
			if err != nil {
				return nil, err
			}
			right, err := compilePredicate(schema, e.Right)
			if err != nil {
				return nil, err
			}
			return func(r row.Row) Ternary { return left(r).Or(right(r)) }, nil
		case "=", "<>", "<", "<=", ">", ">=":
			left, err := compileScalar(schema, e.Left)
			if err != nil {
				return nil, err
			}
			right, err := compileScalar(schema, e.Right)
			if err != nil {
				return nil, err
			}
			op := e.Op
			return func(r row.Row) Ternary { return compareOp(op, left(r), right(r)) }, nil
		case "LIKE":
			left, err := compileScalar(schema, e.Left)
			if err != nil {
				return nil, err
			}
			right, err := compileScalar(schema, e.Right)
			if err != nil {
				return nil, err
			}
			return func(r row.Row) Ternary {
				l, pat := left(r), right(r)
				if l.IsNull() || pat.IsNull() {
					return Unknown
				}
				return BoolTernary(sqlLike(valueToString(l), valueToString(pat)))
			}, nil
		case "GLOB":
			left, err := compileScalar(schema, e.Left)
			if err != nil {
				return nil, err
			}
			right, err := compileScalar(schema, e.Right)
			if err != nil {
				return nil, err
			}
			return func(r row.Row) Ternary {
				l, pat := left(r), right(r)
				if l.IsNull() || pat.IsNull() {
					return Unknown
				}
				return BoolTernary(sqlGlob(valueToString(l), valueToString(pat)))
			}, nil
		}

	case *IsNullExpr:
		inner, err := compileScalar(schema, e.Expr)
		if err != nil {
			return nil, err
		}
		not := e.Not
		return func(r row.Row) Ternary {
			isNull := inner(r).IsNull()
			return BoolTernary(isNull != not)
		}, nil

	case *BetweenExpr:
		expr, err := compileScalar(schema, e.Expr)
		if err != nil {
			return nil, err
		}
		lo, err := compileScalar(schema, e.Lo)
		if err != nil {
			return nil, err
		}
		hi, err := compileScalar(schema, e.Hi)
		if err != nil {
			return nil, err
		}
		not := e.Not
		return func(r row.Row) Ternary {
			v := expr(r)
			a := compareOp(">=", v, nil2val(lo(r)))
			b := compareOp("<=", v, nil2val(hi(r)))
			res := a.And(b)
			if not {
				return res.Not()
			}
			return res
		}, nil

	case *InExpr:
		if e.Subquery != nil {
			// extractSubqueryJoins lowers every top-level WHERE/ON
			// conjunct of this form to a semi/anti-join before the
			// remaining predicate ever reaches compilePredicate; one
			// surviving here means it was nested somewhere that
			// isn't a top-level AND conjunct (e.g. inside an OR),
			// which this engine does not decorrelate.
			return nil, fmt.Errorf("%w: IN (subquery) is only supported as a top-level WHERE/ON conjunct", errUnsupported)
		}
		expr, err := compileScalar(schema, e.Expr)
		if err != nil {
			return nil, err
		}
		var list []ScalarFn
		for _, item := range e.List {
			f, err := compileScalar(schema, item)
			if err != nil {
				return nil, err
			}
			list = append(list, f)
		}
		not := e.Not
		return func(r row.Row) Ternary {
			v := expr(r)
			sawNull := v.IsNull()
			res := False
			for _, f := range list {
				cand := f(r)
				if cand.IsNull() {
					sawNull = true
					continue
				}
				if eq := compareOp("=", v, cand); eq == True {
					res = True
					break
				}
			}
			if res == False && sawNull {
				res = Unknown
			}
			if not {
				return res.Not()
			}
			return res
		}, nil

	case *ExistsExpr:
		// Same story as InExpr's subquery form: extractSubqueryJoins
		// lowers every top-level EXISTS/NOT EXISTS conjunct to a
		// semi/anti-join, so one reaching here was nested somewhere
		// this engine does not decorrelate (e.g. inside an OR).
		return nil, fmt.Errorf("%w: EXISTS is only supported as a top-level WHERE/ON conjunct", errUnsupported)
	}
	// Any other expression (e.g. a bare boolean-typed column or
	// function call) is evaluated as a scalar and lifted.
	f, err := compileScalar(schema, n)
	if err != nil {
		return nil, err
	}
	return func(r row.Row) Ternary { return valueToTernary(f(r)) }, nil
}

func nil2val(v row.Value) row.Value { return v }

// compareOp evaluates a SQL comparison in three-valued logic: NULL
// on either side yields Unknown.
func compareOp(op string, a, b row.Value) Ternary {
	if a.IsNull() || b.IsNull() {
		return Unknown
	}
	if op == "=" || op == "<>" {
		if a.Kind() != b.Kind() {
			if af, aok := a.AsFloat(); aok {
				if bf, bok := b.AsFloat(); bok {
					eq := af == bf
					if op == "<>" {
						eq = !eq
					}
					return BoolTernary(eq)
				}
			}
			return BoolTernary(op == "<>")
		}
		eq := a.Equal(b)
		if op == "<>" {
			eq = !eq
		}
		return BoolTernary(eq)
	}
	c, ok := row.Compare(a, b)
	if !ok {
		return Unknown
	}
	switch op {
	case "<":
		return BoolTernary(c < 0)
	case "<=":
		return BoolTernary(c <= 0)
	case ">":
		return BoolTernary(c > 0)
	case ">=":
		return BoolTernary(c >= 0)
	}
	return Unknown
}

func compileCase(schema *row.Schema, e *CaseExpr) (ScalarFn, error) {
	var operand ScalarFn
	if e.Operand != nil {
		f, err := compileScalar(schema, e.Operand)
		if err != nil {
			return nil, err
		}
		operand = f
	}
	type arm struct {
		cond PredFn
		then ScalarFn
	}
	arms := make([]arm, len(e.Whens))
	for i, w := range e.Whens {
		var cond PredFn
		if operand != nil {
			cmp, err := compileScalar(schema, w.Cond)
			if err != nil {
				return nil, err
			}
			cond = func(r row.Row) Ternary { return compareOp("=", operand(r), cmp(r)) }
		} else {
			p, err := compilePredicate(schema, w.Cond)
			if err != nil {
				return nil, err
			}
			cond = p
		}
		then, err := compileScalar(schema, w.Then)
		if err != nil {
			return nil, err
		}
		arms[i] = arm{cond: cond, then: then}
	}
	var elseFn ScalarFn
	if e.Else != nil {
		f, err := compileScalar(schema, e.Else)
		if err != nil {
			return nil, err
		}
		elseFn = f
	}
	return func(r row.Row) row.Value {
		for _, a := range arms {
			if a.cond(r).IsTrue() {
				return a.then(r)
			}
		}
		if elseFn != nil {
			return elseFn(r)
		}
		return row.NullValue
	}, nil
}
