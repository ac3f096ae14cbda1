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

// Package row defines the typed tuple that flows through every
// operator: a fixed schema per stream, carried as a tagged value
// rather than an erased interface{}, so comparisons and arithmetic
// can dispatch on column type without runtime reflection.
package row

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/sneltrix/ivm/date"
)

// Kind identifies the type tag of a Value.
type Kind uint8

const (
	// Null is the distinguished NULL value, applicable to any field.
	Null Kind = iota
	Int
	Float
	Bool
	Text
	DateTime
)

// String implements fmt.Stringer.
func (k Kind) String() string {
	switch k {
	case Null:
		return "NULL"
	case Int:
		return "INT"
	case Float:
		return "FLOAT"
	case Bool:
		return "BOOLEAN"
	case Text:
		return "TEXT"
	case DateTime:
		return "DATETIME"
	default:
		return "<unknown>"
	}
}

// Value is a single typed field. The zero Value is NULL.
type Value struct {
	kind Kind
	i    int64
	f    float64
	b    bool
	s    string
	t    date.Time
}

// NullValue is the NULL value.
var NullValue = Value{kind: Null}

func IntValue(i int64) Value      { return Value{kind: Int, i: i} }
func FloatValue(f float64) Value  { return Value{kind: Float, f: f} }
func BoolValue(b bool) Value      { return Value{kind: Bool, b: b} }
func TextValue(s string) Value    { return Value{kind: Text, s: s} }
func TimeValue(t date.Time) Value { return Value{kind: DateTime, t: t} }

func (v Value) Kind() Kind     { return v.kind }
func (v Value) IsNull() bool   { return v.kind == Null }
func (v Value) Int() int64     { return v.i }
func (v Value) Float() float64 { return v.f }
func (v Value) Bool() bool     { return v.b }
func (v Value) Text() string   { return v.s }
func (v Value) Time() date.Time { return v.t }

// AsFloat widens INT/FLOAT values to float64; the second
// return is false for any other kind (including NULL).
func (v Value) AsFloat() (float64, bool) {
	switch v.kind {
	case Int:
		return float64(v.i), true
	case Float:
		return v.f, true
	default:
		return 0, false
	}
}

// Equal reports structural equality, NULL == NULL (this is
// the row-identity/group notion of equality used by Z-set
// keys and GROUP BY, distinct from SQL's three-valued '=').
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		// INT and FLOAT of the same numeric value are
		// considered distinct keys: a column has one
		// declared type, so a mismatch here means the
		// two values do not belong to the same column.
		return false
	}
	switch v.kind {
	case Null:
		return true
	case Int:
		return v.i == o.i
	case Float:
		return v.f == o.f
	case Bool:
		return v.b == o.b
	case Text:
		return v.s == o.s
	case DateTime:
		return v.t.Equal(o.t)
	}
	return false
}

// Compare orders two non-NULL values of the same kind.
// Comparing values of different kinds is only defined for
// INT vs FLOAT (numeric promotion); any other mismatch
// returns 0, false.
func Compare(a, b Value) (int, bool) {
	if a.kind == Null || b.kind == Null {
		return 0, false
	}
	if a.kind != b.kind {
		af, aok := a.AsFloat()
		bf, bok := b.AsFloat()
		if !aok || !bok {
			return 0, false
		}
		return cmpFloat(af, bf), true
	}
	switch a.kind {
	case Int:
		return cmpInt(a.i, b.i), true
	case Float:
		return cmpFloat(a.f, b.f), true
	case Bool:
		return cmpBool(a.b, b.b), true
	case Text:
		return strings.Compare(a.s, b.s), true
	case DateTime:
		if a.t.Equal(b.t) {
			return 0, true
		}
		if a.t.Before(b.t) {
			return -1, true
		}
		return 1, true
	}
	return 0, false
}

func cmpInt(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func cmpFloat(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func cmpBool(a, b bool) int {
	if a == b {
		return 0
	}
	if !a && b {
		return -1
	}
	return 1
}

// String renders v for debugging; it is not the SQL
// textual representation (see the sql package's CAST/string
// functions for that).
func (v Value) String() string {
	switch v.kind {
	case Null:
		return "NULL"
	case Int:
		return strconv.FormatInt(v.i, 10)
	case Float:
		return strconv.FormatFloat(v.f, 'g', -1, 64)
	case Bool:
		return strconv.FormatBool(v.b)
	case Text:
		return v.s
	case DateTime:
		return v.t.DateTimeString()
	default:
		return fmt.Sprintf("<invalid kind %d>", v.kind)
	}
}

// IsNaN reports whether v is a float NaN.
func (v Value) IsNaN() bool {
	return v.kind == Float && math.IsNaN(v.f)
}
