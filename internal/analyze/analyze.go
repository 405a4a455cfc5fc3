// Package analyze inspects tabular datasets for quality defects: missing and
// sentinel values, dtype mismatches against declared metadata, IQR outliers,
// duplicate rows and entity/code inconsistencies. Its reports drive the plan
// generator; nothing here mutates the table.
package analyze

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"dq/internal/dataset"
	"dq/internal/meta"
)

// DefaultOutlierMultiplier is the IQR fence width used when Options leaves it
// unset. Wider than the classic 1.5 because national energy magnitudes are
// heavily skewed.
const DefaultOutlierMultiplier = 3

// Options tunes the analyzers.
type Options struct {
	// CountNullUnique counts null as one distinct value in unique counts.
	CountNullUnique bool
	// OutlierMultiplier widens the IQR fence; non-positive means the default.
	OutlierMultiplier float64
}

func (o Options) multiplier() float64 {
	if o.OutlierMultiplier > 0 {
		return o.OutlierMultiplier
	}
	return DefaultOutlierMultiplier
}

// Issue kinds.
const (
	IssueWrongDtype        = "wrong_dtype"
	IssueAmbiguousMetadata = "ambiguous_metadata"
)

// Issue is one detected column defect.
type Issue struct {
	Kind       string   `json:"issue"`
	Expected   string   `json:"expected,omitempty"`
	Actual     string   `json:"actual,omitempty"`
	Candidates []string `json:"candidates,omitempty"`
}

// Outliers summarizes a column whose values breach the IQR fence. Min, max,
// mean and median describe all non-null values, not just the outliers.
type Outliers struct {
	Count  int     `json:"count"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
	Mean   float64 `json:"mean"`
	Median float64 `json:"median"`
}

// ColumnReport is the per-column diagnosis.
type ColumnReport struct {
	Column        string    `json:"column_name"`
	Dtype         string    `json:"dtype"`
	MissingCount  int       `json:"missing_count"`
	MissingPct    float64   `json:"missing_percent"`
	UniqueCount   int       `json:"unique_count"`
	ZeroCount     int       `json:"zero_count"`
	EmptyStrings  int       `json:"empty_string_count"`
	Issues        []Issue   `json:"issues"`
	Outliers      *Outliers `json:"outliers,omitempty"`
	SpecialValues []string  `json:"special_values,omitempty"`
}

// Summary aggregates dataset-level counts.
type Summary struct {
	TotalRows     int     `json:"total_rows"`
	TotalColumns  int     `json:"total_columns"`
	MemoryMB      float64 `json:"memory_estimate_mb"`
	DuplicateRows int     `json:"duplicate_rows"`
}

// CrossIssue is a cross-column consistency violation.
type CrossIssue struct {
	Type        string   `json:"type"`
	Description string   `json:"description"`
	Affected    []string `json:"affected_entities"`
}

// DatasetReport is the full issue report for one dataset. ColumnIssues is
// keyed by the dataset's column names at analysis time, one entry per column.
type DatasetReport struct {
	Dataset      string                  `json:"dataset"`
	Summary      Summary                 `json:"summary"`
	ColumnIssues map[string]ColumnReport `json:"column_issues"`
	CrossColumn  []CrossIssue            `json:"cross_column_issues"`
}

// sentinels are matched literally and case-sensitively; "NULL" is left to the
// executor, which replaces the wider set.
var sentinels = []string{"NaN", "nan", "null"}

// AnalyzeColumn diagnoses one column. lookup may be nil when the dataset has
// no metadata sidecar; dtype checking is then skipped.
func AnalyzeColumn(c *dataset.Column, lookup *meta.Lookup, opts Options) ColumnReport {
	total := len(c.Cells)
	rep := ColumnReport{
		Column: c.Name,
		Dtype:  c.Kind.String(),
		Issues: []Issue{},
	}

	uniq := make(map[any]struct{}, total)
	for _, v := range c.Cells {
		if v == nil {
			rep.MissingCount++
			continue
		}
		uniq[v] = struct{}{}
		switch c.Kind {
		case dataset.Int, dataset.Float:
			if f, ok := dataset.NumericValue(v); ok && f == 0 {
				rep.ZeroCount++
			}
		case dataset.String:
			if v == "" {
				rep.EmptyStrings++
			}
		}
	}
	rep.UniqueCount = len(uniq)
	if opts.CountNullUnique && rep.MissingCount > 0 {
		rep.UniqueCount++
	}
	if total > 0 {
		rep.MissingPct = float64(rep.MissingCount) / float64(total) * 100
	}

	if lookup != nil {
		if cands := lookup.Candidates(c.Name); len(cands) > 1 {
			rep.Issues = append(rep.Issues, Issue{Kind: IssueAmbiguousMetadata, Candidates: cands})
		} else if m, ok := lookup.Match(c.Name); ok {
			if m.Meta.Type == meta.TypeNumeric && c.Kind == dataset.String {
				rep.Issues = append(rep.Issues, Issue{
					Kind:     IssueWrongDtype,
					Expected: "numeric",
					Actual:   c.Kind.String(),
				})
			}
		}
	}

	if c.Kind.Numeric() {
		rep.Outliers = detectOutliers(c.Cells, opts.multiplier())
	}
	if c.Kind == dataset.String {
		rep.SpecialValues = detectSentinels(c.Cells)
	}
	return rep
}

// detectSentinels reports which sentinel literals appear in the cells, tagged
// with the storage kind they were found in.
func detectSentinels(cells []any) []string {
	present := make(map[string]bool, len(sentinels))
	for _, v := range cells {
		s, ok := v.(string)
		if !ok {
			continue
		}
		for _, sent := range sentinels {
			if s == sent {
				present[sent] = true
			}
		}
	}
	var found []string
	for _, sent := range sentinels {
		if present[sent] {
			found = append(found, "string_"+sent)
		}
	}
	return found
}

// detectOutliers flags values outside [Q1 - m*IQR, Q3 + m*IQR]. Returns nil
// when the column has no non-null values or no value breaches the fence.
func detectOutliers(cells []any, mult float64) *Outliers {
	vals := make([]float64, 0, len(cells))
	for _, v := range cells {
		if f, ok := dataset.NumericValue(v); ok {
			vals = append(vals, f)
		}
	}
	if len(vals) == 0 {
		return nil
	}
	sorted := append([]float64(nil), vals...)
	sort.Float64s(sorted)
	q1 := quantile(sorted, 0.25)
	q3 := quantile(sorted, 0.75)
	iqr := q3 - q1
	lo := q1 - mult*iqr
	hi := q3 + mult*iqr

	count := 0
	sum := 0.0
	for _, f := range vals {
		if f < lo || f > hi {
			count++
		}
		sum += f
	}
	if count == 0 {
		return nil
	}
	return &Outliers{
		Count:  count,
		Min:    sorted[0],
		Max:    sorted[len(sorted)-1],
		Mean:   sum / float64(len(vals)),
		Median: quantile(sorted, 0.5),
	}
}

// quantile interpolates linearly at rank p*(n-1) over sorted values.
func quantile(sorted []float64, p float64) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	if n == 1 {
		return sorted[0]
	}
	pos := p * float64(n-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo == hi {
		return sorted[lo]
	}
	frac := pos - float64(lo)
	return sorted[lo] + (sorted[hi]-sorted[lo])*frac
}

// AnalyzeDataset runs the column analyzer over every column and adds the
// dataset-level summary and cross-column checks.
func AnalyzeDataset(name string, t *dataset.Table, m *meta.Meta, opts Options) DatasetReport {
	lookup := meta.NewLookup(m, t.ColumnNames())
	rep := DatasetReport{
		Dataset: name,
		Summary: Summary{
			TotalRows:     t.NumRows(),
			TotalColumns:  t.NumCols(),
			MemoryMB:      round2(float64(t.EstimateBytes()) / (1024 * 1024)),
			DuplicateRows: len(dataset.DuplicateRows(t)),
		},
		ColumnIssues: make(map[string]ColumnReport, t.NumCols()),
		CrossColumn:  []CrossIssue{},
	}
	for _, c := range t.Columns {
		rep.ColumnIssues[c.Name] = AnalyzeColumn(c, lookup, opts)
	}
	if iss := entityCodeIssue(t); iss != nil {
		rep.CrossColumn = append(rep.CrossColumn, *iss)
	}
	return rep
}

// entityCodeIssue checks that every entity maps to a single code. Header
// lookup is case-insensitive so the check works before and after column name
// standardization. Returns nil when the check does not apply or passes.
func entityCodeIssue(t *dataset.Table) *CrossIssue {
	entity := columnFold(t, "entity")
	code := columnFold(t, "code")
	if entity == nil || code == nil {
		return nil
	}

	codesByEntity := make(map[string]map[string]struct{})
	var order []string
	for i := range entity.Cells {
		ev := entity.Cells[i]
		if ev == nil {
			continue
		}
		e := fmt.Sprint(ev)
		set, seen := codesByEntity[e]
		if !seen {
			set = make(map[string]struct{})
			codesByEntity[e] = set
			order = append(order, e)
		}
		if cv := code.Cells[i]; cv != nil {
			set[fmt.Sprint(cv)] = struct{}{}
		}
	}

	count := 0
	var affected []string
	for _, e := range order {
		if len(codesByEntity[e]) > 1 {
			count++
			if len(affected) < 10 {
				affected = append(affected, e)
			}
		}
	}
	if count == 0 {
		return nil
	}
	return &CrossIssue{
		Type:        "entity_code_mismatch",
		Description: fmt.Sprintf("%d entities have inconsistent codes", count),
		Affected:    affected,
	}
}

func columnFold(t *dataset.Table, name string) *dataset.Column {
	for _, c := range t.Columns {
		if strings.EqualFold(c.Name, name) {
			return c
		}
	}
	return nil
}

func round2(f float64) float64 {
	return math.Round(f*100) / 100
}
