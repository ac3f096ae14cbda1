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

package row

import "strings"

// Schema names and orders the columns of a Row.
type Schema struct {
	Columns []Column
}

// Column is one named, typed field of a Schema.
type Column struct {
	Name string
	Kind Kind
}

// Index returns the position of name in s, or -1.
func (s *Schema) Index(name string) int {
	for i := range s.Columns {
		if strings.EqualFold(s.Columns[i].Name, name) {
			return i
		}
	}
	return -1
}

// Row is an immutable ordered tuple of named, typed fields.
// Once constructed a Row is never mutated in place; every
// operator that derives a new Row builds a fresh slice.
type Row struct {
	Schema *Schema
	Values []Value
}

// New builds a Row over schema from vals; vals is not
// copied further mutation by the caller is a contract
// violation, matching the "rows are immutable once
// constructed" invariant.
func New(schema *Schema, vals []Value) Row {
	return Row{Schema: schema, Values: vals}
}

// Get returns the value of the named column, or NULL if
// the column does not exist in the row's schema.
func (r Row) Get(name string) Value {
	if r.Schema == nil {
		return NullValue
	}
	i := r.Schema.Index(name)
	if i < 0 || i >= len(r.Values) {
		return NullValue
	}
	return r.Values[i]
}

// At returns the value at ordinal position i.
func (r Row) At(i int) Value {
	if i < 0 || i >= len(r.Values) {
		return NullValue
	}
	return r.Values[i]
}

// Equal reports whether r and o have equal values in
// column order (schemas are compared by column count only,
// matching the planner's contract that every row flowing
// through one stream shares one schema).
func (r Row) Equal(o Row) bool {
	if len(r.Values) != len(o.Values) {
		return false
	}
	for i := range r.Values {
		if !r.Values[i].Equal(o.Values[i]) {
			return false
		}
	}
	return true
}

// Key is a hashable, comparable representation of a Row (or
// a subset of its columns), used as the map key inside Z-sets
// and join indexes. Two rows with equal Key values are
// considered the same multiset element.
type Key string

// KeyOf builds a Key from the given columns of r, in order.
// It never collides a value with a value of a different kind
// (e.g. the int 1 and the text "1" hash to different keys).
func KeyOf(r Row, cols ...int) Key {
	var b strings.Builder
	if len(cols) == 0 {
		for i := range r.Values {
			writeKeyPart(&b, r.Values[i])
		}
		return Key(b.String())
	}
	for _, c := range cols {
		writeKeyPart(&b, r.At(c))
	}
	return Key(b.String())
}

// FullKey is a convenience for KeyOf(r) over every column.
func FullKey(r Row) Key { return KeyOf(r) }

func writeKeyPart(b *strings.Builder, v Value) {
	b.WriteByte(byte(v.Kind()))
	b.WriteByte(0)
	b.WriteString(v.String())
	b.WriteByte(0x1f) // unit separator: delimits fields unambiguously
}
