/*
SPDX-License-Identifier: Apache-2.0

Copyright 2024 The Taxinomia Authors

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    https://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package columns

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// dateParseFormats lists formats to try when parsing datetime strings, in order of preference.
var dateParseFormats = []string{
	time.RFC3339Nano,          // 2006-01-02T15:04:05.999999999Z07:00
	time.RFC3339,              // 2006-01-02T15:04:05Z07:00
	"2006-01-02T15:04:05",     // ISO without timezone
	"2006-01-02 15:04:05",     // Space separator
	"2006-01-02",              // Date only (midnight)
	"2006/01/02",              // YYYY/MM/DD
	"02-Jan-2006",             // DD-Mon-YYYY
	"Jan 2, 2006",             // Natural format
	"January 2, 2006",         // Full month name
	"2006-01-02T15:04:05.000", // ISO with milliseconds no TZ
	"2006-01-02 15:04:05.000", // Space with milliseconds
}

// ParseDatetime parses s with the first matching format. Strings of digits
// are Unix timestamps. Values without a zone are read in loc, UTC when nil.
func ParseDatetime(s string, loc *time.Location) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty datetime")
	}
	if loc == nil {
		loc = time.UTC
	}
	if isNumericString(s) {
		return parseUnixTimestamp(s)
	}
	for _, format := range dateParseFormats {
		if t, err := time.ParseInLocation(format, s, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unable to parse datetime: %q", s)
}

// isNumericString checks if a string contains only digits and optional leading minus.
func isNumericString(s string) bool {
	if len(s) == 0 {
		return false
	}
	start := 0
	if s[0] == '-' {
		start = 1
	}
	for i := start; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return start < len(s)
}

// parseUnixTimestamp reads seconds, milliseconds or nanoseconds depending
// on the magnitude:
//   - Seconds: up to 1e11 (year ~5000)
//   - Milliseconds: from 1e11 to 1e16
//   - Nanoseconds: above 1e16
func parseUnixTimestamp(s string) (time.Time, error) {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	absN := n
	if absN < 0 {
		absN = -absN
	}
	switch {
	case absN > 1e16:
		return time.Unix(0, n).UTC(), nil
	case absN > 1e11:
		return time.Unix(n/1000, (n%1000)*1e6).UTC(), nil
	default:
		return time.Unix(n, 0).UTC(), nil
	}
}

// ParseDuration parses a duration string, supporting Go format plus days
// ("3d2h30m").
func ParseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}

	negative := false
	if rest, ok := strings.CutPrefix(s, "-"); ok {
		negative = true
		s = rest
	}

	var total time.Duration
	if idx := strings.Index(s, "d"); idx != -1 {
		days, err := strconv.ParseInt(s[:idx], 10, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid days in duration: %s", s[:idx])
		}
		total = time.Duration(days) * 24 * time.Hour
		s = s[idx+1:]
	}
	if s != "" {
		d, err := time.ParseDuration(s)
		if err != nil {
			return 0, fmt.Errorf("invalid duration: %w", err)
		}
		total += d
	}

	if negative {
		total = -total
	}
	return total, nil
}

// FormatDuration returns a compact representation like "2h30m0s" or "3d4h0m0s".
func FormatDuration(d time.Duration) string {
	if d == 0 {
		return "0s"
	}

	var result strings.Builder
	if d < 0 {
		result.WriteString("-")
		d = -d
	}

	// Days are not part of Go's duration format.
	days := d / (24 * time.Hour)
	d %= 24 * time.Hour
	if days > 0 {
		result.WriteString(strconv.FormatInt(int64(days), 10))
		result.WriteString("d")
		if d == 0 {
			return result.String()
		}
	}
	result.WriteString(d.String())
	return result.String()
}

// FormatTime renders midnight UTC values as dates and anything else as
// RFC 3339.
func FormatTime(t time.Time) string {
	if t.Location() == time.UTC && t.Hour() == 0 && t.Minute() == 0 && t.Second() == 0 && t.Nanosecond() == 0 {
		return t.Format(time.DateOnly)
	}
	return t.Format(time.RFC3339)
}

// DateUnit is a calendar bucket for grouping dates.
type DateUnit int

const (
	Day DateUnit = iota
	Week
	Month
	Quarter
	Year
)

// DateKey returns a KeyFunc grouping dates by unit. Keys are strings that
// sort chronologically ("2008", "2008-Q3", "2008-08", "2008-W32",
// "2008-08-09"); values that are not dates or date strings map to nil.
func DateKey(unit DateUnit) func(any) any {
	return func(v any) any {
		var t time.Time
		switch x := v.(type) {
		case time.Time:
			t = x
		case string:
			var err error
			if t, err = ParseDatetime(x, nil); err != nil {
				return nil
			}
		default:
			return nil
		}
		t = t.UTC()
		switch unit {
		case Year:
			return fmt.Sprintf("%04d", t.Year())
		case Quarter:
			return fmt.Sprintf("%04d-Q%d", t.Year(), (int(t.Month())-1)/3+1)
		case Month:
			return t.Format("2006-01")
		case Week:
			y, w := t.ISOWeek()
			return fmt.Sprintf("%04d-W%02d", y, w)
		}
		return t.Format(time.DateOnly)
	}
}
