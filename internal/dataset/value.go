package dataset

import (
	"math"
	"strconv"
	"strings"
	"time"
)

// NumericValue extracts a float64 from a numeric cell. It does not parse
// strings; use CoerceFloat for that.
func NumericValue(v any) (float64, bool) {
	switch tv := v.(type) {
	case int64:
		return float64(tv), true
	case float64:
		return tv, true
	default:
		return 0, false
	}
}

// CoerceFloat converts a cell to float64, parsing strings. Returns false for
// null and unparsable values. "NaN"/"Inf" strings are rejected rather than
// parsed: a non-finite cell would poison every downstream aggregate, and the
// sentinel handling elsewhere expects those strings to become null.
func CoerceFloat(v any) (float64, bool) {
	switch tv := v.(type) {
	case int64:
		return float64(tv), true
	case float64:
		return tv, true
	case string:
		s := strings.TrimSpace(tv)
		if s == "" {
			return 0, false
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

// CoerceInt converts a cell to int64. Floats (and float-formatted strings)
// convert only when integral; anything else is unparsable.
func CoerceInt(v any) (int64, bool) {
	switch tv := v.(type) {
	case int64:
		return tv, true
	case float64:
		if tv == float64(int64(tv)) {
			return int64(tv), true
		}
		return 0, false
	case string:
		s := strings.TrimSpace(tv)
		if s == "" {
			return 0, false
		}
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return n, true
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil && f == float64(int64(f)) {
			return int64(f), true
		}
		return 0, false
	default:
		return 0, false
	}
}

// CoerceBool converts a cell to bool, accepting Go and Python style literals
// plus 0/1.
func CoerceBool(v any) (bool, bool) {
	switch tv := v.(type) {
	case bool:
		return tv, true
	case int64:
		if tv == 0 || tv == 1 {
			return tv == 1, true
		}
		return false, false
	case float64:
		if tv == 0 || tv == 1 {
			return tv == 1, true
		}
		return false, false
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(strings.ToLower(tv)))
		if err != nil {
			return false, false
		}
		return b, true
	default:
		return false, false
	}
}

// timeLayouts are tried in order by ParseDate. Conservative set: ISO forms
// only, so day/month ambiguity never guesses.
var timeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ParseDate parses an ISO-style timestamp or date string.
func ParseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range timeLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts, true
		}
	}
	return time.Time{}, false
}

// CoerceTime converts a cell to a timestamp. Integers in a plausible
// epoch-second range are read as Unix timestamps (daily price exports often
// carry epoch seconds in their time column).
func CoerceTime(v any) (time.Time, bool) {
	switch tv := v.(type) {
	case time.Time:
		return tv, true
	case int64:
		if tv >= 1e9 && tv < 1e11 {
			return time.Unix(tv, 0).UTC(), true
		}
		return time.Time{}, false
	case float64:
		if tv >= 1e9 && tv < 1e11 && tv == float64(int64(tv)) {
			return time.Unix(int64(tv), 0).UTC(), true
		}
		return time.Time{}, false
	case string:
		return ParseDate(tv)
	default:
		return time.Time{}, false
	}
}

// DateOnly truncates a timestamp to midnight UTC.
func DateOnly(ts time.Time) time.Time {
	y, m, d := ts.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
