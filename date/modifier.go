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
	"strconv"
	"strings"
)

// ApplyModifier applies a single SQLite-style date/time
// modifier string to t, as accepted by DATE, TIME, and
// DATETIME. Supported forms:
//
//	"+N day"  "-N day"   (also month, year, hour, minute, second)
//	"start of month" | "start of year" | "start of day"
//	"weekday N"
func ApplyModifier(t Time, mod string) (Time, error) {
	mod = strings.TrimSpace(mod)
	low := strings.ToLower(mod)
	switch {
	case strings.HasPrefix(low, "start of "):
		switch strings.TrimSpace(low[len("start of "):]) {
		case "month":
			return Date(t.Year(), t.Month(), 1, 0, 0, 0, 0), nil
		case "year":
			return Date(t.Year(), 1, 1, 0, 0, 0, 0), nil
		case "day":
			return Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0), nil
		default:
			return t, fmt.Errorf("date: unsupported modifier %q", mod)
		}
	case strings.HasPrefix(low, "weekday "):
		n, err := strconv.Atoi(strings.TrimSpace(low[len("weekday "):]))
		if err != nil || n < 0 || n > 6 {
			return t, fmt.Errorf("date: bad weekday modifier %q", mod)
		}
		cur := t.Weekday()
		diff := (n - cur + 7) % 7
		return Date(t.Year(), t.Month(), t.Day()+diff, t.Hour(), t.Minute(), t.Second(), t.Nanosecond()), nil
	default:
		fields := strings.Fields(mod)
		if len(fields) != 2 {
			return t, fmt.Errorf("date: unsupported modifier %q", mod)
		}
		n, err := strconv.Atoi(fields[0])
		if err != nil {
			return t, fmt.Errorf("date: bad modifier %q: %w", mod, err)
		}
		unit := strings.ToLower(strings.TrimSuffix(fields[1], "s"))
		switch unit {
		case "year":
			return Date(t.Year()+n, t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), t.Nanosecond()), nil
		case "month":
			return Date(t.Year(), t.Month()+n, t.Day(), t.Hour(), t.Minute(), t.Second(), t.Nanosecond()), nil
		case "day":
			return Date(t.Year(), t.Month(), t.Day()+n, t.Hour(), t.Minute(), t.Second(), t.Nanosecond()), nil
		case "hour":
			return Date(t.Year(), t.Month(), t.Day(), t.Hour()+n, t.Minute(), t.Second(), t.Nanosecond()), nil
		case "minute":
			return Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute()+n, t.Second(), t.Nanosecond()), nil
		case "second":
			return Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second()+n, t.Nanosecond()), nil
		default:
			return t, fmt.Errorf("date: unsupported modifier unit %q", fields[1])
		}
	}
}
