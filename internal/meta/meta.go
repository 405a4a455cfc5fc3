// Package meta models the optional JSON sidecar that declares column types,
// units and descriptions for a dataset, and resolves declared names to actual
// dataset columns.
package meta

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
)

// TypeNumeric is the declared type that marks a column as numeric data.
const TypeNumeric = "Numeric"

// ColumnMeta is one declared column entry from a sidecar file.
type ColumnMeta struct {
	Type        string    `json:"type"`
	Unit        string    `json:"unit,omitempty"`
	Description string    `json:"descriptionShort,omitempty"`
	Timespan    *Timespan `json:"timespan,omitempty"`
}

// Meta is a parsed sidecar document. Unknown top-level fields are ignored.
type Meta struct {
	Columns     map[string]ColumnMeta `json:"columns"`
	Citation    string                `json:"citation,omitempty"`
	LastUpdated string                `json:"lastUpdated,omitempty"`
}

// ColumnNames returns the declared column names sorted, so plan output built
// from a Meta is deterministic.
func (m *Meta) ColumnNames() []string {
	if m == nil {
		return nil
	}
	names := make([]string, 0, len(m.Columns))
	for name := range m.Columns {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Parse decodes a sidecar document.
func Parse(b []byte) (*Meta, error) {
	var m Meta
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("meta: parse: %w", err)
	}
	return &m, nil
}

// Load reads and decodes a sidecar file.
func Load(path string) (*Meta, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("meta: read %s: %w", path, err)
	}
	return Parse(b)
}

// Timespan is a declared [min,max] observation year range. Sidecars write it
// either as a "min-max" string (minus-prefixed years included) or as a
// two-element array.
type Timespan struct {
	Min int
	Max int
}

func (ts Timespan) String() string {
	return fmt.Sprintf("%d-%d", ts.Min, ts.Max)
}

// MarshalJSON writes the string form.
func (ts Timespan) MarshalJSON() ([]byte, error) {
	return json.Marshal(ts.String())
}

// UnmarshalJSON accepts "1750-2022", "-10000-2023", "2022", [1750, 2022] and
// ["1750", "2022"].
func (ts *Timespan) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		return ts.parseString(s)
	}

	var arr []json.Number
	if err := json.Unmarshal(b, &arr); err == nil {
		if len(arr) != 2 {
			return fmt.Errorf("meta: timespan array needs 2 elements, got %d", len(arr))
		}
		lo, err := strconv.Atoi(arr[0].String())
		if err != nil {
			return fmt.Errorf("meta: timespan min %q: %w", arr[0], err)
		}
		hi, err := strconv.Atoi(arr[1].String())
		if err != nil {
			return fmt.Errorf("meta: timespan max %q: %w", arr[1], err)
		}
		ts.Min, ts.Max = lo, hi
		return nil
	}
	return fmt.Errorf("meta: timespan must be a string or a 2-element array")
}

func (ts *Timespan) parseString(s string) error {
	s = strings.TrimSpace(s)
	if s == "" {
		return fmt.Errorf("meta: empty timespan")
	}
	// The separator is the last '-' that is not a leading sign, so negative
	// years on either side parse correctly.
	sep := strings.LastIndex(s, "-")
	if sep <= 0 {
		// Single year (possibly negative).
		y, err := strconv.Atoi(s)
		if err != nil {
			return fmt.Errorf("meta: timespan %q: %w", s, err)
		}
		ts.Min, ts.Max = y, y
		return nil
	}
	lo, err := strconv.Atoi(strings.TrimSpace(s[:sep]))
	if err != nil {
		return fmt.Errorf("meta: timespan min of %q: %w", s, err)
	}
	hi, err := strconv.Atoi(strings.TrimSpace(s[sep+1:]))
	if err != nil {
		return fmt.Errorf("meta: timespan max of %q: %w", s, err)
	}
	ts.Min, ts.Max = lo, hi
	return nil
}
