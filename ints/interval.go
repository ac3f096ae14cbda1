// Copyright 2023 Sneller, Inc.
//
//  Licensed under the Apache License, Version 2.0 (the "License");
//  you may not use this file except in compliance with the License.
//  You may obtain a copy of the License at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
//  Unless required by applicable law or agreed to in writing, software
//  distributed under the License is distributed on an "AS IS" BASIS,
//  WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
//  See the License for the specific language governing permissions and
//  limitations under the License.

// Package ints holds small integer-range helpers used to slice a row
// window out of a materialized view without copying it first.
package ints

// Interval is a half-open range [Start, End) over a row slice's
// indices, used to express an ORDER BY's OFFSET/LIMIT window without
// a separate offset+limit pair threaded through every caller.
type Interval struct {
	Start, End int
}

// Empty reports whether in contains no indices.
func (in Interval) Empty() bool {
	return in.Start >= in.End
}

// Len returns the number of indices in in.
func (in Interval) Len() int {
	if in.End <= in.Start {
		return 0
	}
	return in.End - in.Start
}

// Intersect returns the overlap of in and x. If the two ranges don't
// overlap, the result is the empty interval {0, 0}.
func (in Interval) Intersect(x Interval) Interval {
	if in.End <= x.Start || in.Start >= x.End {
		return Interval{}
	}
	out := in
	if x.Start > out.Start {
		out.Start = x.Start
	}
	if x.End < out.End {
		out.End = x.End
	}
	return out
}

// Each calls fn once for every index in in, in ascending order.
func (in Interval) Each(fn func(int)) {
	for i := in.Start; i < in.End; i++ {
		fn(i)
	}
}
