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

// DateString renders t in SQLite DATE() form: YYYY-MM-DD.
func (t Time) DateString() string {
	return fmt.Sprintf("%04d-%02d-%02d", t.Year(), t.Month(), t.Day())
}

// TimeString renders t in SQLite TIME() form: HH:MM:SS.
func (t Time) TimeString() string {
	return fmt.Sprintf("%02d:%02d:%02d", t.Hour(), t.Minute(), t.Second())
}

// DateTimeString renders t in SQLite DATETIME() form:
// YYYY-MM-DD HH:MM:SS.
func (t Time) DateTimeString() string {
	return t.DateString() + " " + t.TimeString()
}

// JulianDay returns t expressed as a Julian day number,
// the form produced by the JULIANDAY() SQL function.
func (t Time) JulianDay() float64 {
	y, m, d := t.Year(), t.Month(), t.Day()
	a := (14 - m) / 12
	y2 := y + 4800 - a
	m2 := m + 12*a - 3
	jdn := d + (153*m2+2)/5 + 365*y2 + y2/4 - y2/100 + y2/400 - 32045
	frac := (float64(t.Hour())-12)/24 + float64(t.Minute())/1440 + float64(t.Second())/86400 + float64(t.Nanosecond())/86400e9
	return float64(jdn) + frac
}

// UnixEpoch returns t as a Unix timestamp in whole
// seconds, the form produced by the UNIXEPOCH() SQL
// function.
func (t Time) UnixEpoch() int64 {
	return t.Unix()
}

// Weekday returns the day of the week, 0 (Sunday)
// through 6 (Saturday), matching STRFTIME's %w and
// SQLite's weekday modifier.
func (t Time) Weekday() int {
	return int(t.Time().Weekday())
}

// Strftime formats t according to the subset of
// specifiers named in the external interface contract:
// %Y %m %d %H %M %S %w %s %%.
func Strftime(format string, t Time) (string, error) {
	var b strings.Builder
	for i := 0; i < len(format); i++ {
		c := format[i]
		if c != '%' {
			b.WriteByte(c)
			continue
		}
		i++
		if i >= len(format) {
			return "", fmt.Errorf("date: dangling %%%% in STRFTIME format %q", format)
		}
		switch format[i] {
		case 'Y':
			fmt.Fprintf(&b, "%04d", t.Year())
		case 'm':
			fmt.Fprintf(&b, "%02d", t.Month())
		case 'd':
			fmt.Fprintf(&b, "%02d", t.Day())
		case 'H':
			fmt.Fprintf(&b, "%02d", t.Hour())
		case 'M':
			fmt.Fprintf(&b, "%02d", t.Minute())
		case 'S':
			fmt.Fprintf(&b, "%02d", t.Second())
		case 'w':
			fmt.Fprintf(&b, "%d", t.Weekday())
		case 's':
			fmt.Fprintf(&b, "%d", t.UnixEpoch())
		case '%':
			b.WriteByte('%')
		default:
			return "", fmt.Errorf("date: unsupported STRFTIME specifier %%%c", format[i])
		}
	}
	return b.String(), nil
}
