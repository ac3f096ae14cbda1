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
	"errors"
	"fmt"
	"strings"
	"time"
)

// A Time represents a proleptic-Gregorian date and time with
// nanosecond resolution. Internally it is kept as a signed count of
// seconds relative to the Unix epoch plus a nanosecond remainder, so
// that two Times compare and subtract cheaply without ever touching
// the civil calendar; Year/Month/Day/etc. recover the calendar fields
// on demand via the same day-count arithmetic Date uses to build a
// Time in the first place.
type Time struct {
	sec  int64 // whole seconds since 1970-01-01T00:00:00Z; may be negative
	nsec int32 // nanoseconds within the second, always in [0, 1e9)
}

// Parse parses a date string from data
// and returns the associated time and true,
// or the zero time value and false if the buffer
// did not contain a recognzied date format.
//
// Parse attempts to recognize strings
// that (approximately) match RFC3339 timestamps
// with optional nanosecond precision and timezone/offset
// components. Parse will automatically ignore leading
// and trailing whitespace as long as the middle characters
// of data are unambiguously a timestamp.
func Parse(data []byte) (Time, bool) {
	year, month, day, hour, min, sec, ns, ok := parse(data)
	if !ok {
		return Time{}, false
	}
	return Date(year, month, day, hour, min, sec, ns), true
}

// Date constructs a Time from components. Values of
// month, day, hour, min, sec, and ns outside their
// usual ranges are normalized by carrying into the
// next-larger unit (including across month/year
// boundaries for day, and without limit on year).
func Date(year, month, day, hour, min, sec, ns int) Time {
	sec, ns = norm(sec, ns, 1e9)
	min, sec = norm(min, sec, 60)
	hour, min = norm(hour, min, 60)
	day, hour = norm(day, hour, 24)
	year, month = norm(year, month-1, 12)
	month++
	days := daysFromCivil(int64(year), month, day)
	return fromDayTime(days, hour, min, sec, ns)
}

func fromDayTime(days int64, hour, min, sec, ns int) Time {
	total := days*86400 + int64(hour)*3600 + int64(min)*60 + int64(sec)
	return Time{sec: total, nsec: int32(ns)}
}

// FromTime returns a Time equivalent to t.
func FromTime(t time.Time) Time {
	return Time{sec: t.Unix(), nsec: int32(t.Nanosecond())}
}

// Now returns the current time.
func Now() Time {
	return FromTime(time.Now())
}

// Unix returns a Time from the given Unix time in
// seconds and nanoseconds.
func Unix(sec, ns int64) Time {
	sec, ns32 := norm64(sec, ns, 1e9)
	return Time{sec: sec, nsec: int32(ns32)}
}

// UnixMicro returns a Time from the given Unix time in
// microseconds.
func UnixMicro(us int64) Time {
	sec, rem := norm64(0, us, 1e6)
	return Unix(sec, rem*1000)
}

// Time returns t as a time.Time.
func (t Time) Time() time.Time {
	return time.Unix(t.sec, int64(t.nsec)).UTC()
}

func (t Time) civil() (year int64, month, day int) {
	return civilFromDays(t.dayNum())
}

func (t Time) dayNum() int64 {
	sec := t.sec
	days := sec / 86400
	if sec%86400 < 0 {
		days--
	}
	return days
}

func (t Time) secOfDay() int64 {
	s := t.sec % 86400
	if s < 0 {
		s += 86400
	}
	return s
}

// Year returns the year component of t.
func (t Time) Year() int {
	y, _, _ := t.civil()
	return int(y)
}

// Month returns the month component of t.
func (t Time) Month() int {
	_, m, _ := t.civil()
	return m
}

// Day returns the day component of t.
func (t Time) Day() int {
	_, _, d := t.civil()
	return d
}

// Hour returns the hour component of t.
func (t Time) Hour() int {
	return int(t.secOfDay() / 3600)
}

// Minute returns the minute component of t.
func (t Time) Minute() int {
	return int(t.secOfDay() / 60 % 60)
}

// Second returns the second component of t.
func (t Time) Second() int {
	return int(t.secOfDay() % 60)
}

// Nanosecond returns the nanosecond component of t.
func (t Time) Nanosecond() int {
	return int(t.nsec)
}

// Unix returns t as the number of seconds since the
// Unix epoch.
func (t Time) Unix() int64 {
	return t.sec
}

// UnixMicro returns t as the number of microseconds since
// the Unix epoch.
func (t Time) UnixMicro() int64 {
	return t.sec*1e6 + int64(t.nsec)/1e3
}

// UnixNano returns t as the number of nanoseconds since
// the Unix epoch.
func (t Time) UnixNano() int64 {
	return t.sec*1e9 + int64(t.nsec)
}

// Equal returns whether t == t2.
func (t Time) Equal(t2 Time) bool {
	return t == t2
}

// Before returns whether t is before t2.
func (t Time) Before(t2 Time) bool {
	return t.sec < t2.sec || (t.sec == t2.sec && t.nsec < t2.nsec)
}

// After returns whether t is after t2.
func (t Time) After(t2 Time) bool {
	return t.sec > t2.sec || (t.sec == t2.sec && t.nsec > t2.nsec)
}

// IsZero returns whether t is the zero value,
// corresponding to the Unix epoch.
func (t Time) IsZero() bool {
	return t == Time{}
}

// AppendRFC3339 appends t formatted as an RFC3339
// compliant string to b.
func (t Time) AppendRFC3339(b []byte) []byte {
	return t.Time().AppendFormat(b, time.RFC3339)
}

// AppendRFC3339Nano is like AppendRFC3339 but includes
// nanoseconds.
func (t Time) AppendRFC3339Nano(b []byte) []byte {
	return t.Time().AppendFormat(b, time.RFC3339Nano)
}

// Add adds d to t.
func (t Time) Add(d time.Duration) Time {
	sec, nsec := norm64(t.sec, int64(t.nsec)+int64(d), 1e9)
	return Time{sec: sec, nsec: int32(nsec)}
}

// Round rounds t to the nearest multiple of d.
func (t Time) Round(d time.Duration) Time {
	return FromTime(t.Time().Round(d))
}

// Truncate rounds t down to a multiple of d.
func (t Time) Truncate(d time.Duration) Time {
	return FromTime(t.Time().Truncate(d))
}

// String implements io.Stringer. The returned string
// is meant to be used for debugging purposes.
func (t Time) String() string {
	y, mo, d := t.Year(), t.Month(), t.Day()
	h, mi, s := t.Hour(), t.Minute(), t.Second()
	ns := t.Nanosecond()
	if ns == 0 {
		return fmt.Sprintf("%04d-%02d-%02d %02d:%02d:%02d +0000 UTC", y, mo, d, h, mi, s)
	}
	frac := strings.TrimRight(fmt.Sprintf("%09d", ns), "0")
	return fmt.Sprintf("%04d-%02d-%02d %02d:%02d:%02d.%s +0000 UTC", y, mo, d, h, mi, s, frac)
}

// MarshalJSON implements json.Marshaler.
func (t Time) MarshalJSON() ([]byte, error) {
	b := append([]byte{'"'}, t.AppendRFC3339Nano(nil)...)
	return append(b, '"'), nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (t *Time) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		return nil
	}
	var ok bool
	*t, ok = Parse(b[1 : len(b)-1])
	if !ok {
		return errors.New("failed to parse JSON")
	}
	return nil
}

// norm64 is the int64 analogue of norm, used where the day-count
// arithmetic needs more range than an int comfortably provides.
func norm64(hi, lo, base int64) (nhi, nlo int64) {
	if lo < 0 {
		n := (-lo-1)/base + 1
		hi -= n
		lo += n * base
	}
	if lo >= base {
		n := lo / base
		hi += n
		lo -= n * base
	}
	return hi, lo
}

// daysFromCivil converts a proleptic-Gregorian (year, month, day)
// triple to a signed day count relative to 1970-01-01. month and day
// may fall outside their ordinary ranges; the result is the same as
// if they had first been normalized by carrying into year/month, since
// the underlying formula is linear in both.
func daysFromCivil(year int64, month, day int) int64 {
	y := year
	if month <= 2 {
		y--
	}
	era := y
	if y < 0 {
		era -= 399
	}
	era /= 400
	yoe := y - era*400 // [0, 399]
	var mp int64
	if month > 2 {
		mp = int64(month) - 3
	} else {
		mp = int64(month) + 9
	}
	doy := (153*mp+2)/5 + int64(day) - 1 // can exceed [0, 365] when day is out of range
	doe := yoe*365 + yoe/4 - yoe/100 + doy
	return era*146097 + doe - 719468
}

// civilFromDays is the inverse of daysFromCivil.
func civilFromDays(z int64) (year int64, month, day int) {
	z += 719468
	era := z
	if z < 0 {
		era -= 146096
	}
	era /= 146097
	doe := z - era*146097 // [0, 146096]
	yoe := (doe - doe/1460 + doe/36524 - doe/146096) / 365
	y := yoe + era*400
	doy := doe - (365*yoe + yoe/4 - yoe/100)
	mp := (5*doy + 2) / 153
	d := doy - (153*mp+2)/5 + 1
	var m int64
	if mp < 10 {
		m = mp + 3
	} else {
		m = mp - 9
	}
	if m <= 2 {
		y++
	}
	return y, int(m), int(d)
}
