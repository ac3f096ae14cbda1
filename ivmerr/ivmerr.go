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

// Package ivmerr declares the tagged error kinds of the library
// boundary as sentinel base errors checked with errors.Is, rather
// than a bespoke exception hierarchy, so callers can distinguish
// failure kinds without depending on message text.
package ivmerr

import "errors"

// The five error kinds. Wrap one of these with fmt.Errorf's
// %w verb to attach detail; callers distinguish kinds with
// errors.Is, never by matching message text.
var (
	// ErrUnsupportedSQL: the parser/planner encountered a
	// construct outside the supported surface. Fatal for that
	// view; does not taint the circuit.
	ErrUnsupportedSQL = errors.New("unsupported SQL")

	// ErrSchemaMismatch: an input batch disagrees with the
	// registered table schema.
	ErrSchemaMismatch = errors.New("schema mismatch")

	// ErrInvariantViolated: a retraction referenced an absent
	// primary key, or equivalent internal desynchronization.
	// Fatal for the step.
	ErrInvariantViolated = errors.New("invariant violated")

	// ErrOverflow: a join or source exceeded its configured
	// maxResults/maxRows. Non-fatal; raised as a flag.
	ErrOverflow = errors.New("overflow")

	// ErrCircuitBuild: a cycle without a delay, or a reference
	// to an undeclared source, discovered at build time.
	ErrCircuitBuild = errors.New("circuit build error")
)

// Result is the tagged ok/err boundary value consumers of the
// library see: success with Value, or a failure tagged with one
// of the sentinel errors above (via errors.Is on Err).
type Result[T any] struct {
	Value T
	Err   error
}

// Ok builds a successful Result.
func Ok[T any](v T) Result[T] { return Result[T]{Value: v} }

// Fail builds a failed Result.
func Fail[T any](err error) Result[T] {
	var zero T
	return Result[T]{Value: zero, Err: err}
}

// IsOK reports whether r represents success.
func (r Result[T]) IsOK() bool { return r.Err == nil }
