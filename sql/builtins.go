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
	"strconv"
	"strings"

	"github.com/sneltrix/ivm/date"
	"github.com/sneltrix/ivm/row"
	utf8x "github.com/sneltrix/ivm/utf8"
)

// arith evaluates one of + - * % / over two values. + - * keep
// INT/INT as INT and promote anything involving a FLOAT to FLOAT;
// / always yields FLOAT; % is defined only for two INTs and yields
// NULL otherwise. NULL propagates through every arithmetic operator.
func arith(op string, a, b row.Value) row.Value {
	if a.IsNull() || b.IsNull() {
		return row.NullValue
	}
	if a.Kind() == row.Int && b.Kind() == row.Int && op != "/" {
		x, y := a.Int(), b.Int()
		switch op {
		case "+":
			return row.IntValue(x + y)
		case "-":
			return row.IntValue(x - y)
		case "*":
			return row.IntValue(x * y)
		case "%":
			if y == 0 {
				return row.NullValue
			}
			return row.IntValue(x % y)
		}
	}
	x, xok := a.AsFloat()
	y, yok := b.AsFloat()
	if !xok || !yok {
		return row.NullValue
	}
	switch op {
	case "+":
		return row.FloatValue(x + y)
	case "-":
		return row.FloatValue(x - y)
	case "*":
		return row.FloatValue(x * y)
	case "/":
		if y == 0 {
			return row.NullValue
		}
		return row.FloatValue(x / y)
	case "%":
		if a.Kind() == row.Int && b.Kind() == row.Int {
			if int64(y) == 0 {
				return row.NullValue
			}
			return row.IntValue(a.Int() % b.Int())
		}
		return row.NullValue
	}
	return row.NullValue
}

func negate(v row.Value) row.Value {
	switch v.Kind() {
	case row.Int:
		return row.IntValue(-v.Int())
	case row.Float:
		return row.FloatValue(-v.Float())
	default:
		return row.NullValue
	}
}

func valueToString(v row.Value) string {
	if v.IsNull() {
		return ""
	}
	return v.String()
}

func castValue(v row.Value, typ string) row.Value {
	if v.IsNull() {
		return row.NullValue
	}
	switch typ {
	case "INT", "INTEGER", "BIGINT":
		switch v.Kind() {
		case row.Int:
			return v
		case row.Float:
			return row.IntValue(int64(v.Float()))
		case row.Bool:
			if v.Bool() {
				return row.IntValue(1)
			}
			return row.IntValue(0)
		case row.Text:
			i, err := strconv.ParseInt(strings.TrimSpace(v.Text()), 10, 64)
			if err != nil {
				return row.NullValue
			}
			return row.IntValue(i)
		}
	case "FLOAT", "DOUBLE", "REAL":
		switch v.Kind() {
		case row.Float:
			return v
		case row.Int:
			return row.FloatValue(float64(v.Int()))
		case row.Text:
			f, err := strconv.ParseFloat(strings.TrimSpace(v.Text()), 64)
			if err != nil {
				return row.NullValue
			}
			return row.FloatValue(f)
		}
	case "TEXT", "STRING", "VARCHAR":
		return row.TextValue(v.String())
	case "BOOLEAN", "BOOL":
		switch v.Kind() {
		case row.Bool:
			return v
		case row.Int:
			return row.BoolValue(v.Int() != 0)
		}
	case "DATETIME", "TIMESTAMP", "DATE":
		switch v.Kind() {
		case row.DateTime:
			return v
		case row.Text:
			if t, ok := date.Parse([]byte(v.Text())); ok {
				return row.TimeValue(t)
			}
			return row.NullValue
		}
	}
	return row.NullValue
}

// sqlLike implements SQL LIKE: '%' matches any run of characters,
// '_' matches exactly one.
func sqlLike(s, pattern string) bool {
	return likeMatch(s, pattern, '%', '_')
}

func likeMatch(s, pat string, many, one byte) bool {
	// standard DP-free greedy-with-backtrack matcher.
	var si, pi, star, match int
	star = -1
	for si < len(s) {
		if pi < len(pat) && (pat[pi] == one || pat[pi] == s[si]) {
			si++
			pi++
		} else if pi < len(pat) && pat[pi] == many {
			star = pi
			match = si
			pi++
		} else if star != -1 {
			pi = star + 1
			match++
			si = match
		} else {
			return false
		}
	}
	for pi < len(pat) && pat[pi] == many {
		pi++
	}
	return pi == len(pat)
}

// sqlGlob implements GLOB (shell-style: '*' and '?', case-sensitive).
func sqlGlob(s, pattern string) bool {
	return likeMatch(s, pattern, '*', '?')
}

// compileScalarFunc compiles the non-aggregate, non-window builtin
// functions: arithmetic helpers, string functions and date/time
// functions (the latter backed directly by the date package).
func compileScalarFunc(schema *row.Schema, e *FuncCall) (ScalarFn, error) {
	args := make([]ScalarFn, len(e.Args))
	for i, a := range e.Args {
		f, err := compileScalar(schema, a)
		if err != nil {
			return nil, err
		}
		args[i] = f
	}
	arg := func(i int) ScalarFn {
		if i < len(args) {
			return args[i]
		}
		return func(row.Row) row.Value { return row.NullValue }
	}
	rest := func(i int) []ScalarFn {
		if i < len(args) {
			return args[i:]
		}
		return nil
	}
	switch e.Name {
	case "ABS":
		a := arg(0)
		return func(r row.Row) row.Value {
			v := a(r)
			switch v.Kind() {
			case row.Int:
				n := v.Int()
				if n < 0 {
					n = -n
				}
				return row.IntValue(n)
			case row.Float:
				f := v.Float()
				if f < 0 {
					f = -f
				}
				return row.FloatValue(f)
			}
			return row.NullValue
		}, nil

	case "COALESCE":
		return func(r row.Row) row.Value {
			for _, a := range args {
				if v := a(r); !v.IsNull() {
					return v
				}
			}
			return row.NullValue
		}, nil

	case "NULLIF":
		a, b := arg(0), arg(1)
		return func(r row.Row) row.Value {
			av, bv := a(r), b(r)
			if compareOp("=", av, bv) == True {
				return row.NullValue
			}
			return av
		}, nil

	case "IF", "IIF":
		if len(e.Args) < 2 {
			return nil, fmt.Errorf("%w: %s takes a condition and at least one branch", errUnsupported, e.Name)
		}
		cond, err := compilePredicate(schema, e.Args[0])
		if err != nil {
			return nil, err
		}
		t, f := arg(1), arg(2)
		return func(r row.Row) row.Value {
			if cond(r).IsTrue() {
				return t(r)
			}
			return f(r)
		}, nil

	case "UPPER":
		a := arg(0)
		return strFn(a, strings.ToUpper), nil
	case "LOWER":
		a := arg(0)
		return strFn(a, strings.ToLower), nil
	case "REVERSE":
		a := arg(0)
		return strFn(a, reverseString), nil
	case "TRIM":
		a := arg(0)
		return strFn(a, strings.TrimSpace), nil
	case "LENGTH":
		a := arg(0)
		return func(r row.Row) row.Value {
			v := a(r)
			if v.IsNull() {
				return row.NullValue
			}
			return row.IntValue(int64(utf8x.RuneCount([]byte(v.Text()))))
		}, nil
	case "SUBSTR", "SUBSTRING":
		s, start := arg(0), arg(1)
		var length ScalarFn
		if len(args) > 2 {
			length = arg(2)
		}
		return func(r row.Row) row.Value {
			sv, iv := s(r), start(r)
			if sv.IsNull() || iv.IsNull() {
				return row.NullValue
			}
			runes := []rune(sv.Text())
			i := int(iv.Int())
			if i < 1 {
				i = 1
			}
			if i > len(runes)+1 {
				return row.TextValue("")
			}
			end := len(runes)
			if length != nil {
				lv := length(r)
				if lv.IsNull() {
					return row.NullValue
				}
				if e := i - 1 + int(lv.Int()); e < end {
					end = e
				}
			}
			if end < i-1 {
				end = i - 1
			}
			return row.TextValue(string(runes[i-1 : end]))
		}, nil
	case "REPLACE":
		s, old, rep := arg(0), arg(1), arg(2)
		return func(r row.Row) row.Value {
			sv, ov, rv := s(r), old(r), rep(r)
			if sv.IsNull() || ov.IsNull() || rv.IsNull() {
				return row.NullValue
			}
			return row.TextValue(strings.ReplaceAll(sv.Text(), ov.Text(), rv.Text()))
		}, nil
	case "CONCAT":
		return func(r row.Row) row.Value {
			var b strings.Builder
			for _, a := range args {
				v := a(r)
				if !v.IsNull() {
					b.WriteString(valueToString(v))
				}
			}
			return row.TextValue(b.String())
		}, nil
	case "REPEAT":
		s, n := arg(0), arg(1)
		return func(r row.Row) row.Value {
			sv, nv := s(r), n(r)
			if sv.IsNull() || nv.IsNull() || nv.Int() < 0 {
				return row.NullValue
			}
			return row.TextValue(strings.Repeat(sv.Text(), int(nv.Int())))
		}, nil
	case "INSTR":
		s, sub := arg(0), arg(1)
		return func(r row.Row) row.Value {
			sv, bv := s(r), sub(r)
			if sv.IsNull() || bv.IsNull() {
				return row.NullValue
			}
			return row.IntValue(int64(strings.Index(sv.Text(), bv.Text()) + 1))
		}, nil
	case "HEX":
		a := arg(0)
		return func(r row.Row) row.Value {
			v := a(r)
			if v.IsNull() {
				return row.NullValue
			}
			return row.TextValue(strings.ToUpper(fmt.Sprintf("%x", []byte(v.Text()))))
		}, nil
	case "CHAR":
		a := arg(0)
		return func(r row.Row) row.Value {
			v := a(r)
			if v.IsNull() {
				return row.NullValue
			}
			return row.TextValue(string(rune(v.Int())))
		}, nil
	case "UNICODE":
		a := arg(0)
		return func(r row.Row) row.Value {
			v := a(r)
			if v.IsNull() || v.Text() == "" {
				return row.NullValue
			}
			return row.IntValue(int64([]rune(v.Text())[0]))
		}, nil
	case "TYPEOF":
		a := arg(0)
		return func(r row.Row) row.Value { return row.TextValue(strings.ToLower(a(r).Kind().String())) }, nil
	case "PRINTF", "FORMAT":
		return compilePrintf(args), nil

	case "DATE":
		return dateFn(arg(0), rest(1), func(t date.Time) row.Value { return row.TextValue(t.DateString()) }), nil
	case "TIME":
		return dateFn(arg(0), rest(1), func(t date.Time) row.Value { return row.TextValue(t.TimeString()) }), nil
	case "DATETIME":
		return dateFn(arg(0), rest(1), func(t date.Time) row.Value { return row.TextValue(t.DateTimeString()) }), nil
	case "JULIANDAY":
		return dateFn(arg(0), rest(1), func(t date.Time) row.Value { return row.FloatValue(t.JulianDay()) }), nil
	case "UNIXEPOCH":
		return dateFn(arg(0), rest(1), func(t date.Time) row.Value { return row.IntValue(t.UnixEpoch()) }), nil
	case "STRFTIME":
		format, tArg := arg(0), arg(1)
		mods := rest(2)
		return func(r row.Row) row.Value {
			fv := format(r)
			t, ok := applyModifiers(tArg(r), mods, r)
			if fv.IsNull() || !ok {
				return row.NullValue
			}
			s, err := date.Strftime(fv.Text(), t)
			if err != nil {
				return row.NullValue
			}
			return row.TextValue(s)
		}, nil
	}
	return nil, fmt.Errorf("%w: unsupported function %s", errUnsupported, e.Name)
}

func strFn(a ScalarFn, f func(string) string) ScalarFn {
	return func(r row.Row) row.Value {
		v := a(r)
		if v.IsNull() {
			return row.NullValue
		}
		return row.TextValue(f(v.Text()))
	}
}

func reverseString(s string) string {
	rs := []rune(s)
	for i, j := 0, len(rs)-1; i < j; i, j = i+1, j-1 {
		rs[i], rs[j] = rs[j], rs[i]
	}
	return string(rs)
}

// dateFn evaluates a DATE/TIME/DATETIME/... builtin's first argument
// (a text timestamp, or an already-typed DATETIME column) plus any
// trailing modifier strings, then applies render.
func dateFn(a ScalarFn, mods []ScalarFn, render func(date.Time) row.Value) ScalarFn {
	return func(r row.Row) row.Value {
		t, ok := applyModifiers(a(r), mods, r)
		if !ok {
			return row.NullValue
		}
		return render(t)
	}
}

// applyModifiers resolves v to a Time and folds the trailing SQLite
// modifier strings over it, left to right.
func applyModifiers(v row.Value, mods []ScalarFn, r row.Row) (date.Time, bool) {
	t, ok := asTime(v)
	if !ok {
		return date.Time{}, false
	}
	for _, m := range mods {
		mv := m(r)
		if mv.IsNull() {
			continue
		}
		nt, err := date.ApplyModifier(t, mv.Text())
		if err != nil {
			return date.Time{}, false
		}
		t = nt
	}
	return t, true
}

func asTime(v row.Value) (date.Time, bool) {
	switch v.Kind() {
	case row.DateTime:
		return v.Time(), true
	case row.Text:
		if strings.EqualFold(v.Text(), "now") {
			return date.Now(), true
		}
		return date.Parse([]byte(v.Text()))
	}
	return date.Time{}, false
}

// compilePrintf implements the PRINTF/FORMAT directive subset: %d,
// %s, %f, %x, %X and %%, each optionally carrying a width and a '-'
// left-justify flag, applied left to right against the trailing
// arguments.
func compilePrintf(args []ScalarFn) ScalarFn {
	if len(args) == 0 {
		return func(row.Row) row.Value { return row.NullValue }
	}
	format, rest := args[0], args[1:]
	return func(r row.Row) row.Value {
		fv := format(r)
		if fv.IsNull() {
			return row.NullValue
		}
		var b strings.Builder
		argi := 0
		next := func() (row.Value, bool) {
			if argi >= len(rest) {
				return row.NullValue, false
			}
			v := rest[argi](r)
			argi++
			return v, true
		}
		f := fv.Text()
		for i := 0; i < len(f); i++ {
			if f[i] != '%' || i+1 >= len(f) {
				b.WriteByte(f[i])
				continue
			}
			i++
			ljust := false
			if f[i] == '-' && i+1 < len(f) {
				ljust = true
				i++
			}
			width := 0
			for i < len(f) && f[i] >= '0' && f[i] <= '9' {
				width = width*10 + int(f[i]-'0')
				i++
			}
			if i >= len(f) {
				break
			}
			var field string
			switch f[i] {
			case '%':
				b.WriteByte('%')
				continue
			case 's':
				v, ok := next()
				if !ok {
					continue
				}
				field = valueToString(v)
			case 'd':
				v, ok := next()
				if !ok {
					continue
				}
				field = strconv.FormatInt(v.Int(), 10)
			case 'f':
				v, ok := next()
				if !ok {
					continue
				}
				fl, _ := v.AsFloat()
				field = strconv.FormatFloat(fl, 'f', 6, 64)
			case 'x', 'X':
				v, ok := next()
				if !ok {
					continue
				}
				field = strconv.FormatUint(uint64(v.Int()), 16)
				if f[i] == 'X' {
					field = strings.ToUpper(field)
				}
			default:
				b.WriteByte('%')
				b.WriteByte(f[i])
				continue
			}
			if pad := width - len(field); pad > 0 {
				if ljust {
					field += strings.Repeat(" ", pad)
				} else {
					field = strings.Repeat(" ", pad) + field
				}
			}
			b.WriteString(field)
		}
		return row.TextValue(b.String())
	}
}
