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

package date

import (
	"fmt"
	"strings"
)

// A Duration represents a calendar offset expressed in whole years,
// months, and days — the granularity SQLite's date modifiers operate
// at. It has no sub-day component; use time.Duration for that.
type Duration struct {
	Year, Month, Day int
}

// ParseDuration parses a duration string of the form produced by
// Duration.String, e.g. "1y6m15d". Year, month and day counts are
// limited to 3, 4 and 5 digits; a zero duration is rejected.
func ParseDuration(s string) (Duration, bool) {
	y, m, d, ok := parseDuration([]byte(s))
	if !ok || (y == 0 && m == 0 && d == 0) {
		return Duration{}, false
	}
	return Duration{y, m, d}, true
}

// shift rebuilds t with d's components added sign*1 times to the
// corresponding calendar field, leaving the clock fields untouched.
func (d Duration) shift(t Time, sign int) Time {
	return Date(
		t.Year()+sign*d.Year,
		t.Month()+sign*d.Month,
		t.Day()+sign*d.Day,
		t.Hour(), t.Minute(), t.Second(), t.Nanosecond(),
	)
}

// Add adds d to t.
func (d Duration) Add(t Time) Time {
	return d.shift(t, 1)
}

// Sub subtracts d from t.
func (d Duration) Sub(t Time) Time {
	return d.shift(t, -1)
}

// Zero returns whether d is equal to the zero
// value of a Duration.
func (d Duration) Zero() bool {
	return d == Duration{}
}

// String implements io.Stringer
func (d Duration) String() string {
	var sb strings.Builder
	if d.Year != 0 {
		fmt.Fprintf(&sb, "%dy", d.Year)
	}
	if d.Month != 0 {
		fmt.Fprintf(&sb, "%dm", d.Month)
	}
	if d.Day != 0 || (d.Year == 0 && d.Month == 0) {
		fmt.Fprintf(&sb, "%dd", d.Day)
	}
	return sb.String()
}

// MarshalText implements encoding.TextMarshaler
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (d *Duration) UnmarshalText(b []byte) error {
	dn, ok := ParseDuration(string(b))
	if !ok {
		return fmt.Errorf("date: failed to parse duration %q", b)
	}
	*d = dn
	return nil
}
