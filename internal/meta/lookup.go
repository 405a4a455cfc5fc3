package meta

import (
	"sort"
	"strings"
)

// Match pairs a declared sidecar name with its entry.
type Match struct {
	Name string
	Meta ColumnMeta
}

// Lookup resolves dataset column names to declared metadata entries.
//
// Declared names match a column when either contains the other (loose
// matching: sidecars declare headers like "Annual CO₂ emissions" while the
// file may carry a longer or shorter variant). The table of candidates is
// built once per dataset; when several declared entries match one column the
// lookup refuses to pick and exposes the candidates instead, so callers can
// report the ambiguity.
type Lookup struct {
	byColumn map[string][]Match
}

// NewLookup builds the candidate table for the given dataset columns.
// A nil Meta yields an empty lookup that never matches.
func NewLookup(m *Meta, columns []string) *Lookup {
	l := &Lookup{byColumn: make(map[string][]Match, len(columns))}
	if m == nil || len(m.Columns) == 0 {
		return l
	}
	declared := m.ColumnNames()
	for _, col := range columns {
		var cands []Match
		for _, name := range declared {
			if strings.Contains(col, name) || strings.Contains(name, col) {
				cands = append(cands, Match{Name: name, Meta: m.Columns[name]})
			}
		}
		if len(cands) > 0 {
			l.byColumn[col] = cands
		}
	}
	return l
}

// Match returns the single declared entry for a column. ok is false when the
// column has no candidates or more than one.
func (l *Lookup) Match(col string) (Match, bool) {
	cands := l.byColumn[col]
	if len(cands) != 1 {
		return Match{}, false
	}
	return cands[0], true
}

// Candidates returns the declared names matching a column, sorted. Two or
// more names mean the match is ambiguous.
func (l *Lookup) Candidates(col string) []string {
	cands := l.byColumn[col]
	if len(cands) == 0 {
		return nil
	}
	names := make([]string, len(cands))
	for i, c := range cands {
		names[i] = c.Name
	}
	sort.Strings(names)
	return names
}
