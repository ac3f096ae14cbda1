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
)

// parser is a straightforward recursive-descent, operator-precedence
// parser over the token stream. Precedence climbing follows standard
// SQL: OR < AND < NOT < comparison/IS/IN/BETWEEN/LIKE < +- < */% <
// unary < primary.
type parser struct {
	toks []token
	pos  int
}

// Parse parses one top-level statement: CREATE VIEW ... AS <query>,
// or a bare query (SELECT or a UNION/EXCEPT/INTERSECT chain).
func Parse(src string) (Node, error) {
	toks, err := lex(src)
	if err != nil {
		return nil, err
	}
	p := &parser{toks: toks}
	stmt, err := p.parseStatement()
	if err != nil {
		return nil, err
	}
	if !p.atEOF() {
		return nil, p.errf("unexpected trailing input")
	}
	return stmt, nil
}

func (p *parser) cur() token  { return p.toks[p.pos] }
func (p *parser) atEOF() bool { return p.cur().kind == tokEOF }

func (p *parser) errf(format string, args ...any) error {
	return fmt.Errorf("%w: %s (at token %d %q)", errUnsupported, fmt.Sprintf(format, args...), p.pos, p.cur().text)
}

func (p *parser) advance() token {
	t := p.toks[p.pos]
	if p.pos < len(p.toks)-1 {
		p.pos++
	}
	return t
}

func (p *parser) isKeyword(kw string) bool {
	t := p.cur()
	return t.kind == tokKeyword && t.text == kw
}

func (p *parser) isPunct(s string) bool {
	t := p.cur()
	return t.kind == tokPunct && t.text == s
}

func (p *parser) eatKeyword(kw string) bool {
	if p.isKeyword(kw) {
		p.advance()
		return true
	}
	return false
}

func (p *parser) eatPunct(s string) bool {
	if p.isPunct(s) {
		p.advance()
		return true
	}
	return false
}

func (p *parser) expectKeyword(kw string) error {
	if !p.eatKeyword(kw) {
		return p.errf("expected %q", kw)
	}
	return nil
}

func (p *parser) expectPunct(s string) error {
	if !p.eatPunct(s) {
		return p.errf("expected %q", s)
	}
	return nil
}

func (p *parser) parseStatement() (Node, error) {
	if p.eatKeyword("CREATE") {
		switch {
		case p.eatKeyword("VIEW"):
			if p.cur().kind != tokIdent {
				return nil, p.errf("expected view name")
			}
			name := p.advance().text
			opts, err := p.parseOptionalWith()
			if err != nil {
				return nil, err
			}
			if err := p.expectKeyword("AS"); err != nil {
				return nil, err
			}
			q, err := p.parseSetOp()
			if err != nil {
				return nil, err
			}
			return &CreateViewStmt{Name: name, Options: opts, Query: q}, nil
		case p.eatKeyword("TABLE"):
			return p.parseCreateTable()
		default:
			return nil, p.errf("expected VIEW or TABLE after CREATE")
		}
	}
	return p.parseSetOp()
}

// ParseScript parses a sequence of ';'-separated top-level
// statements: CREATE TABLE and CREATE VIEW statements. A trailing
// ';' is optional; empty statements (consecutive ';' or trailing
// whitespace) are skipped.
func ParseScript(src string) ([]Node, error) {
	toks, err := lex(src)
	if err != nil {
		return nil, err
	}
	p := &parser{toks: toks}
	var stmts []Node
	for {
		for p.isPunct(";") {
			p.advance()
		}
		if p.atEOF() {
			break
		}
		stmt, err := p.parseStatement()
		if err != nil {
			return nil, err
		}
		stmts = append(stmts, stmt)
		if !p.isPunct(";") && !p.atEOF() {
			return nil, p.errf("expected ';' between statements")
		}
	}
	return stmts, nil
}

// parseCreateTable parses "TABLE name (col type [PRIMARY KEY], ...)
// [WITH (...)]". PRIMARY KEY markers on individual columns are
// collected into an implicit "key" option so a single WITH clause
// isn't required just to declare the primary key.
func (p *parser) parseCreateTable() (Node, error) {
	if p.cur().kind != tokIdent {
		return nil, p.errf("expected table name")
	}
	name := p.advance().text
	if err := p.expectPunct("("); err != nil {
		return nil, err
	}
	var cols []ColumnDef
	var pk []string
	for {
		if p.cur().kind != tokIdent {
			return nil, p.errf("expected column name")
		}
		colName := p.advance().text
		if p.cur().kind != tokIdent && p.cur().kind != tokKeyword {
			return nil, p.errf("expected column type")
		}
		typ := strings.ToUpper(p.advance().text)
		cols = append(cols, ColumnDef{Name: colName, Type: typ})
		if p.eatKeyword("PRIMARY") {
			if err := p.expectKeyword("KEY"); err != nil {
				return nil, err
			}
			pk = append(pk, colName)
		}
		if p.eatPunct(",") {
			continue
		}
		break
	}
	if err := p.expectPunct(")"); err != nil {
		return nil, err
	}
	opts, err := p.parseOptionalWith()
	if err != nil {
		return nil, err
	}
	if len(pk) > 0 {
		opts = append(opts, Option{Name: "key", Value: &StringLit{Value: strings.Join(pk, ",")}})
	}
	return &CreateTableStmt{Name: name, Columns: cols, Options: opts}, nil
}

// parseOptionalWith parses an optional "WITH (name = value, ...)"
// clause of declarative view/table configuration. Values are scalar
// literals; enum-valued options like joinMode must be quoted strings
// (e.g. 'append-only') since bare hyphenated words do not lex as a
// single identifier.
func (p *parser) parseOptionalWith() ([]Option, error) {
	if !p.eatKeyword("WITH") {
		return nil, nil
	}
	if err := p.expectPunct("("); err != nil {
		return nil, err
	}
	var opts []Option
	for {
		if p.cur().kind != tokIdent && p.cur().kind != tokKeyword {
			return nil, p.errf("expected option name")
		}
		optName := p.advance().text
		if err := p.expectPunct("="); err != nil {
			return nil, err
		}
		val, err := p.parsePrimary()
		if err != nil {
			return nil, err
		}
		opts = append(opts, Option{Name: optName, Value: val})
		if p.eatPunct(",") {
			continue
		}
		break
	}
	if err := p.expectPunct(")"); err != nil {
		return nil, err
	}
	return opts, nil
}

// parseSetOp parses a chain of SELECTs joined by UNION/EXCEPT/
// INTERSECT [ALL], left-associative.
func (p *parser) parseSetOp() (Node, error) {
	left, err := p.parseSelect()
	if err != nil {
		return nil, err
	}
	for p.isKeyword("UNION") || p.isKeyword("EXCEPT") || p.isKeyword("INTERSECT") {
		op := p.advance().text
		all := p.eatKeyword("ALL")
		right, err := p.parseSelect()
		if err != nil {
			return nil, err
		}
		left = &SetOpStmt{Left: left, Op: op, All: all, Right: right}
	}
	return left, nil
}

func (p *parser) parseSelect() (Node, error) {
	if p.eatPunct("(") {
		inner, err := p.parseSetOp()
		if err != nil {
			return nil, err
		}
		if err := p.expectPunct(")"); err != nil {
			return nil, err
		}
		return inner, nil
	}
	return p.parseSelectBody()
}

// parseSelectBody parses a bare "SELECT ... " statement without
// the optional parenthesized-subquery/set-op wrapping parseSelect
// handles; it is also used directly by the EXISTS/IN(subquery)
// forms in parsePredicate/parsePrimary, which have already consumed
// their own enclosing parens.
func (p *parser) parseSelectBody() (*SelectStmt, error) {
	if err := p.expectKeyword("SELECT"); err != nil {
		return nil, err
	}
	stmt := &SelectStmt{}
	stmt.Distinct = p.eatKeyword("DISTINCT")
	p.eatKeyword("ALL")

	cols, err := p.parseSelectList()
	if err != nil {
		return nil, err
	}
	stmt.Columns = cols

	if p.eatKeyword("FROM") {
		from, err := p.parseTableRef()
		if err != nil {
			return nil, err
		}
		stmt.From = from
		joins, err := p.parseJoins()
		if err != nil {
			return nil, err
		}
		stmt.Joins = joins
	}

	if p.eatKeyword("WHERE") {
		w, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		stmt.Where = w
	}

	if p.eatKeyword("GROUP") {
		if err := p.expectKeyword("BY"); err != nil {
			return nil, err
		}
		gb, err := p.parseExprList()
		if err != nil {
			return nil, err
		}
		stmt.GroupBy = gb
	}

	if p.eatKeyword("HAVING") {
		h, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		stmt.Having = h
	}

	if p.eatKeyword("ORDER") {
		if err := p.expectKeyword("BY"); err != nil {
			return nil, err
		}
		ob, err := p.parseOrderByList()
		if err != nil {
			return nil, err
		}
		stmt.OrderBy = ob
	}

	if p.eatKeyword("LIMIT") {
		n, err := p.parseIntLiteralTok()
		if err != nil {
			return nil, err
		}
		stmt.Limit = &n
	}
	if p.eatKeyword("OFFSET") {
		n, err := p.parseIntLiteralTok()
		if err != nil {
			return nil, err
		}
		stmt.Offset = &n
	}
	return stmt, nil
}

// parseParenSelectBody parses "(SELECT ...)", used by EXISTS and
// the "IN (subquery)" form of InExpr.
func (p *parser) parseParenSelectBody() (*SelectStmt, error) {
	if err := p.expectPunct("("); err != nil {
		return nil, err
	}
	stmt, err := p.parseSelectBody()
	if err != nil {
		return nil, err
	}
	if err := p.expectPunct(")"); err != nil {
		return nil, err
	}
	return stmt, nil
}

func (p *parser) parseIntLiteralTok() (int64, error) {
	if p.cur().kind != tokInt {
		return 0, p.errf("expected integer literal")
	}
	return parseIntLit(p.advance().text), nil
}

func (p *parser) parseSelectList() ([]SelectItem, error) {
	var items []SelectItem
	for {
		item, err := p.parseSelectItem()
		if err != nil {
			return nil, err
		}
		items = append(items, item)
		if !p.eatPunct(",") {
			break
		}
	}
	return items, nil
}

func (p *parser) parseSelectItem() (SelectItem, error) {
	if p.isPunct("*") {
		p.advance()
		return SelectItem{Star: true}, nil
	}
	// t.* lookahead: ident '.' '*'
	if p.cur().kind == tokIdent && p.pos+2 < len(p.toks) &&
		p.toks[p.pos+1].kind == tokPunct && p.toks[p.pos+1].text == "." &&
		p.toks[p.pos+2].kind == tokPunct && p.toks[p.pos+2].text == "*" {
		tbl := p.advance().text
		p.advance() // .
		p.advance() // *
		return SelectItem{Star: true, Table: tbl}, nil
	}
	expr, err := p.parseExpr()
	if err != nil {
		return SelectItem{}, err
	}
	item := SelectItem{Expr: expr}
	if p.eatKeyword("AS") {
		if p.cur().kind != tokIdent {
			return SelectItem{}, p.errf("expected alias")
		}
		item.Alias = p.advance().text
	} else if p.cur().kind == tokIdent {
		item.Alias = p.advance().text
	}
	return item, nil
}

func (p *parser) parseExprList() ([]Node, error) {
	var out []Node
	for {
		e, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		out = append(out, e)
		if !p.eatPunct(",") {
			break
		}
	}
	return out, nil
}

func (p *parser) parseOrderByList() ([]OrderItem, error) {
	var out []OrderItem
	for {
		e, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		item := OrderItem{Expr: e}
		if p.eatKeyword("DESC") {
			item.Desc = true
		} else {
			p.eatKeyword("ASC")
		}
		out = append(out, item)
		if !p.eatPunct(",") {
			break
		}
	}
	return out, nil
}

func (p *parser) parseTableRef() (*TableRef, error) {
	if p.eatPunct("(") {
		sub, err := p.parseSetOp()
		if err != nil {
			return nil, err
		}
		if err := p.expectPunct(")"); err != nil {
			return nil, err
		}
		ref := &TableRef{}
		switch s := sub.(type) {
		case *SelectStmt:
			ref.Sub = s
		case *SetOpStmt:
			ref.Sub = &SelectStmt{} // placeholder; the set-operation subquery is rejected just below
			return nil, fmt.Errorf("%w: set-operation subqueries in FROM are not supported", errUnsupported)
		}
		if p.eatKeyword("AS") || p.cur().kind == tokIdent {
			if p.isKeyword("AS") {
				p.advance()
			}
			if p.cur().kind != tokIdent {
				return nil, p.errf("expected alias")
			}
			ref.Alias = p.advance().text
		}
		return ref, nil
	}
	if p.cur().kind != tokIdent {
		return nil, p.errf("expected table name")
	}
	ref := &TableRef{Name: p.advance().text}
	if p.eatKeyword("AS") {
		if p.cur().kind != tokIdent {
			return nil, p.errf("expected alias")
		}
		ref.Alias = p.advance().text
	} else if p.cur().kind == tokIdent {
		ref.Alias = p.advance().text
	}
	return ref, nil
}

func (p *parser) parseJoins() ([]JoinClause, error) {
	var out []JoinClause
	for {
		kind := ""
		asof := false
		switch {
		case p.eatKeyword("INNER"):
			kind = "INNER"
		case p.eatKeyword("LEFT"):
			kind = "LEFT"
			p.eatKeyword("OUTER")
		case p.eatKeyword("RIGHT"):
			kind = "RIGHT"
			p.eatKeyword("OUTER")
		case p.eatKeyword("FULL"):
			kind = "FULL"
			p.eatKeyword("OUTER")
		case p.eatKeyword("CROSS"):
			kind = "CROSS"
		case p.eatKeyword("ASOF"):
			kind = "INNER"
			asof = true
		case p.isKeyword("JOIN"):
			kind = "INNER"
		default:
			return out, nil
		}
		if err := p.expectKeyword("JOIN"); err != nil {
			return nil, err
		}
		tbl, err := p.parseTableRef()
		if err != nil {
			return nil, err
		}
		jc := JoinClause{Kind: kind, Table: *tbl, Asof: asof}
		if kind != "CROSS" {
			if err := p.expectKeyword("ON"); err != nil {
				return nil, err
			}
			on, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			jc.On = on
		}
		out = append(out, jc)
	}
}

// Expression grammar (lowest to highest precedence):
//   orExpr   := andExpr (OR andExpr)*
//   andExpr  := notExpr (AND notExpr)*
//   notExpr  := NOT notExpr | predicate
//   predicate:= additive ( cmpOp additive | IS [NOT] NULL
//               | [NOT] BETWEEN additive AND additive
//               | [NOT] IN (...) | [NOT] LIKE additive | GLOB additive )?
//   additive := term (('+'|'-') term)*
//   term     := unary (('*'|'/'|'%') unary)*
//   unary    := '-' unary | primary
//   primary  := literal | ident | ident'.'ident | func(...) | CASE | CAST | '(' expr ')'

func (p *parser) parseExpr() (Node, error) { return p.parseOr() }

func (p *parser) parseOr() (Node, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.eatKeyword("OR") {
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = &BinaryExpr{Op: "OR", Left: left, Right: right}
	}
	return left, nil
}

func (p *parser) parseAnd() (Node, error) {
	left, err := p.parseNot()
	if err != nil {
		return nil, err
	}
	for p.eatKeyword("AND") {
		right, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		left = &BinaryExpr{Op: "AND", Left: left, Right: right}
	}
	return left, nil
}

func (p *parser) parseNot() (Node, error) {
	if p.eatKeyword("NOT") {
		e, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		return &UnaryExpr{Op: "NOT", Expr: e}, nil
	}
	return p.parsePredicate()
}

func (p *parser) parsePredicate() (Node, error) {
	left, err := p.parseAdditive()
	if err != nil {
		return nil, err
	}
	not := false
	if p.isKeyword("NOT") && p.pos+1 < len(p.toks) {
		nk := p.toks[p.pos+1]
		if nk.kind == tokKeyword && (nk.text == "BETWEEN" || nk.text == "IN" || nk.text == "LIKE") {
			p.advance()
			not = true
		}
	}
	switch {
	case p.eatKeyword("BETWEEN"):
		lo, err := p.parseAdditive()
		if err != nil {
			return nil, err
		}
		if err := p.expectKeyword("AND"); err != nil {
			return nil, err
		}
		hi, err := p.parseAdditive()
		if err != nil {
			return nil, err
		}
		return &BetweenExpr{Expr: left, Lo: lo, Hi: hi, Not: not}, nil
	case p.eatKeyword("IN"):
		if p.pos+1 < len(p.toks) && p.toks[p.pos+1].kind == tokKeyword && p.toks[p.pos+1].text == "SELECT" {
			sub, err := p.parseParenSelectBody()
			if err != nil {
				return nil, err
			}
			return &InExpr{Expr: left, Subquery: sub, Not: not}, nil
		}
		if err := p.expectPunct("("); err != nil {
			return nil, err
		}
		list, err := p.parseExprList()
		if err != nil {
			return nil, err
		}
		if err := p.expectPunct(")"); err != nil {
			return nil, err
		}
		return &InExpr{Expr: left, List: list, Not: not}, nil
	case p.eatKeyword("LIKE"):
		right, err := p.parseAdditive()
		if err != nil {
			return nil, err
		}
		e := Node(&BinaryExpr{Op: "LIKE", Left: left, Right: right})
		if not {
			e = &UnaryExpr{Op: "NOT", Expr: e}
		}
		return e, nil
	case p.eatKeyword("GLOB"):
		right, err := p.parseAdditive()
		if err != nil {
			return nil, err
		}
		return &BinaryExpr{Op: "GLOB", Left: left, Right: right}, nil
	case p.eatKeyword("IS"):
		isNot := p.eatKeyword("NOT")
		if err := p.expectKeyword("NULL"); err != nil {
			return nil, err
		}
		return &IsNullExpr{Expr: left, Not: isNot}, nil
	}
	if cmp := p.cmpOp(); cmp != "" {
		p.advance()
		right, err := p.parseAdditive()
		if err != nil {
			return nil, err
		}
		return &BinaryExpr{Op: cmp, Left: left, Right: right}, nil
	}
	return left, nil
}

func (p *parser) cmpOp() string {
	t := p.cur()
	if t.kind != tokPunct {
		return ""
	}
	switch t.text {
	case "=", "<", "<=", ">", ">=", "<>", "!=":
		if t.text == "!=" {
			return "<>"
		}
		return t.text
	}
	return ""
}

func (p *parser) parseAdditive() (Node, error) {
	left, err := p.parseTerm()
	if err != nil {
		return nil, err
	}
	for p.isPunct("+") || p.isPunct("-") || p.isPunct("||") {
		op := p.advance().text
		right, err := p.parseTerm()
		if err != nil {
			return nil, err
		}
		left = &BinaryExpr{Op: op, Left: left, Right: right}
	}
	return left, nil
}

func (p *parser) parseTerm() (Node, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for p.isPunct("*") || p.isPunct("/") || p.isPunct("%") {
		op := p.advance().text
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = &BinaryExpr{Op: op, Left: left, Right: right}
	}
	return left, nil
}

func (p *parser) parseUnary() (Node, error) {
	if p.eatPunct("-") {
		e, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &UnaryExpr{Op: "-", Expr: e}, nil
	}
	return p.parsePrimary()
}

func (p *parser) parsePrimary() (Node, error) {
	t := p.cur()
	switch t.kind {
	case tokInt:
		p.advance()
		return &IntLit{Value: parseIntLit(t.text)}, nil
	case tokFloat:
		p.advance()
		return &FloatLit{Value: parseFloatLit(t.text)}, nil
	case tokString:
		p.advance()
		return &StringLit{Value: t.text}, nil
	case tokKeyword:
		switch t.text {
		case "TRUE":
			p.advance()
			return &BoolLit{Value: true}, nil
		case "FALSE":
			p.advance()
			return &BoolLit{Value: false}, nil
		case "NULL":
			p.advance()
			return &NullLit{}, nil
		case "CASE":
			return p.parseCase()
		case "CAST":
			return p.parseCast()
		case "EXISTS":
			p.advance()
			sub, err := p.parseParenSelectBody()
			if err != nil {
				return nil, err
			}
			return &ExistsExpr{Query: sub}, nil
		}
	case tokIdent:
		return p.parseIdentOrCall()
	case tokPunct:
		if t.text == "(" {
			p.advance()
			e, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			if err := p.expectPunct(")"); err != nil {
				return nil, err
			}
			return e, nil
		}
	}
	return nil, p.errf("unexpected token in expression")
}

func (p *parser) parseIdentOrCall() (Node, error) {
	name := p.advance().text
	if p.isPunct(".") {
		p.advance()
		if p.cur().kind != tokIdent {
			return nil, p.errf("expected column name after %q.", name)
		}
		col := p.advance().text
		return &Ident{Table: name, Name: col}, nil
	}
	if p.eatPunct("(") {
		call := &FuncCall{Name: strings.ToUpper(name)}
		if p.eatKeyword("DISTINCT") {
			call.Distinct = true
		}
		if p.isPunct("*") {
			p.advance()
			call.Star = true
		} else if !p.isPunct(")") {
			args, err := p.parseExprList()
			if err != nil {
				return nil, err
			}
			call.Args = args
		}
		if err := p.expectPunct(")"); err != nil {
			return nil, err
		}
		if p.eatKeyword("OVER") {
			spec, err := p.parseWindowSpec()
			if err != nil {
				return nil, err
			}
			call.Over = spec
		}
		return call, nil
	}
	return &Ident{Name: name}, nil
}

func (p *parser) parseWindowSpec() (*WindowSpec, error) {
	if err := p.expectPunct("("); err != nil {
		return nil, err
	}
	spec := &WindowSpec{}
	if p.eatKeyword("PARTITION") {
		if err := p.expectKeyword("BY"); err != nil {
			return nil, err
		}
		pb, err := p.parseExprList()
		if err != nil {
			return nil, err
		}
		spec.PartitionBy = pb
	}
	if p.eatKeyword("ORDER") {
		if err := p.expectKeyword("BY"); err != nil {
			return nil, err
		}
		ob, err := p.parseOrderByList()
		if err != nil {
			return nil, err
		}
		spec.OrderBy = ob
	}
	if p.eatKeyword("ROWS") {
		if err := p.expectKeyword("BETWEEN"); err != nil {
			return nil, err
		}
		if p.cur().kind != tokInt {
			return nil, p.errf("expected a row count in ROWS BETWEEN")
		}
		n := parseIntLit(p.advance().text)
		if err := p.expectKeyword("PRECEDING"); err != nil {
			return nil, err
		}
		if err := p.expectKeyword("AND"); err != nil {
			return nil, err
		}
		if err := p.expectKeyword("CURRENT"); err != nil {
			return nil, err
		}
		if err := p.expectKeyword("ROW"); err != nil {
			return nil, err
		}
		spec.Frame = &n
	}
	if err := p.expectPunct(")"); err != nil {
		return nil, err
	}
	return spec, nil
}

func (p *parser) parseCase() (Node, error) {
	p.advance() // CASE
	ce := &CaseExpr{}
	if !p.isKeyword("WHEN") {
		operand, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		ce.Operand = operand
	}
	for p.eatKeyword("WHEN") {
		cond, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if err := p.expectKeyword("THEN"); err != nil {
			return nil, err
		}
		then, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		ce.Whens = append(ce.Whens, WhenClause{Cond: cond, Then: then})
	}
	if len(ce.Whens) == 0 {
		return nil, p.errf("CASE requires at least one WHEN")
	}
	if p.eatKeyword("ELSE") {
		e, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		ce.Else = e
	}
	if err := p.expectKeyword("END"); err != nil {
		return nil, err
	}
	return ce, nil
}

func (p *parser) parseCast() (Node, error) {
	p.advance() // CAST
	if err := p.expectPunct("("); err != nil {
		return nil, err
	}
	e, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if err := p.expectKeyword("AS"); err != nil {
		return nil, err
	}
	if p.cur().kind != tokIdent && p.cur().kind != tokKeyword {
		return nil, p.errf("expected type name")
	}
	typ := strings.ToUpper(p.advance().text)
	if err := p.expectPunct(")"); err != nil {
		return nil, err
	}
	return &CastExpr{Expr: e, Type: typ}, nil
}
