// Package executor interprets plan steps against an in-memory table. The
// dispatch over step kinds is closed; a step whose required column is absent
// or whose kind is unrecognized completes as skipped, and a step that panics
// is recorded as an error. Execution always proceeds to the next step, so one
// bad step never aborts a dataset.
package executor

import (
	"fmt"
	"math"
	"strings"
	"time"

	"dq/internal/dataset"
	"dq/internal/plan"
)

// Status classifies one step outcome.
type Status string

const (
	StatusSuccess Status = "success"
	StatusError   Status = "error"
	StatusSkipped Status = "skipped"
)

// Record is the outcome of applying one step.
type Record struct {
	Step    string `json:"step"`
	Status  Status `json:"status"`
	Message string `json:"message"`
}

// Result is the outcome of folding a full plan over one table.
type Result struct {
	OriginalRows int
	CleanedRows  int
	Records      []Record
}

const skippedMessage = "Step not implemented or not applicable"

// executorSentinels is the full replacement set for handle_special_values,
// wider than the analyzer's detection set.
var executorSentinels = map[string]struct{}{
	"NaN": {}, "nan": {}, "null": {}, "NULL": {},
}

// Run applies the plan's cleaning steps then its transformation steps, in
// declared order, mutating t in place. Every step yields exactly one record.
func Run(t *dataset.Table, p plan.DatasetPlan, datasetName string, now time.Time) Result {
	res := Result{OriginalRows: t.NumRows()}
	for _, s := range p.Cleaning {
		res.Records = append(res.Records, Apply(t, s, datasetName, now))
	}
	for _, s := range p.Transformation {
		res.Records = append(res.Records, Apply(t, s, datasetName, now))
	}
	res.CleanedRows = t.NumRows()
	return res
}

// Apply interprets a single step. A panic inside an interpreter becomes an
// error record; the table may then be partially modified, which later steps
// must tolerate (they resolve columns fresh on every application).
func Apply(t *dataset.Table, s plan.Step, datasetName string, now time.Time) (rec Record) {
	defer func() {
		if r := recover(); r != nil {
			rec = Record{Step: s.Kind(), Status: StatusError, Message: fmt.Sprint(r)}
		}
	}()
	status, msg := apply(t, s, datasetName, now)
	return Record{Step: s.Kind(), Status: status, Message: msg}
}

func apply(t *dataset.Table, s plan.Step, datasetName string, now time.Time) (Status, string) {
	switch st := s.(type) {
	case plan.FillMissingCodes:
		return fillMissingCodes(t, st)
	case plan.StandardizeColumnNames:
		return standardizeColumnNames(t)
	case plan.ConvertDtype:
		return convertDtype(t, st)
	case plan.HandleSpecialValues:
		return handleSpecialValues(t, st)
	case plan.RemoveDuplicates:
		return removeDuplicates(t)
	case plan.StandardizeDates:
		return standardizeDates(t, st)
	case plan.ValidateYears:
		return validateYears(t, st)
	case plan.AddMetadataColumns:
		return addMetadataColumns(t, datasetName, now)
	case plan.CalculateTotals:
		return calculateTotals(t, st)
	case plan.CalculatePercentages:
		return calculatePercentages(t, st)
	case plan.CalculateDifference:
		return calculateDifference(t, st)
	case plan.NormalizeEntities:
		return normalizeEntities(t, st)
	default:
		return StatusSkipped, skippedMessage
	}
}

// resolveColumn finds a step's target column. Steps written before name
// standardization carry raw names, so after the rename the exact name is
// gone; the fallback matches any column containing the standardized form.
func resolveColumn(t *dataset.Table, name string) (*dataset.Column, bool) {
	if c, ok := t.Column(name); ok {
		return c, true
	}
	std := dataset.StandardizeName(name)
	if std == "" {
		return nil, false
	}
	for _, c := range t.Columns {
		if strings.Contains(c.Name, std) {
			return c, true
		}
	}
	return nil, false
}

func fillMissingCodes(t *dataset.Table, st plan.FillMissingCodes) (Status, string) {
	c, ok := resolveColumn(t, st.Column)
	if !ok {
		return StatusSkipped, fmt.Sprintf("Column %q not found", st.Column)
	}
	n := 0
	for i, v := range c.Cells {
		if v == "" {
			c.Cells[i] = nil
			n++
		}
	}
	return StatusSuccess, fmt.Sprintf("Replaced %d empty strings with null in %s", n, c.Name)
}

func standardizeColumnNames(t *dataset.Table) (Status, string) {
	n := t.RenameColumns(dataset.StandardizeName)
	return StatusSuccess, fmt.Sprintf("Standardized %d column names", n)
}

func convertDtype(t *dataset.Table, st plan.ConvertDtype) (Status, string) {
	c, ok := resolveColumn(t, st.Column)
	if !ok {
		return StatusSkipped, fmt.Sprintf("Column matching %q not found", st.Column)
	}
	for i, v := range c.Cells {
		if v == nil {
			continue
		}
		if f, ok := dataset.CoerceFloat(v); ok {
			c.Cells[i] = f
		} else {
			c.Cells[i] = nil
		}
	}
	c.Kind = dataset.Float
	return StatusSuccess, fmt.Sprintf("Converted %s from %s to numeric", c.Name, st.From)
}

func handleSpecialValues(t *dataset.Table, st plan.HandleSpecialValues) (Status, string) {
	c, ok := resolveColumn(t, st.Column)
	if !ok {
		return StatusSkipped, fmt.Sprintf("Column matching %q not found", st.Column)
	}
	for i, v := range c.Cells {
		s, isStr := v.(string)
		if !isStr {
			continue
		}
		if _, sentinel := executorSentinels[s]; sentinel {
			c.Cells[i] = nil
		}
	}
	return StatusSuccess, fmt.Sprintf("Replaced special values in %s", c.Name)
}

func removeDuplicates(t *dataset.Table) (Status, string) {
	dups := dataset.DuplicateRows(t)
	drop := make(map[int]struct{}, len(dups))
	for _, i := range dups {
		drop[i] = struct{}{}
	}
	removed := t.FilterRows(func(i int) bool {
		_, dup := drop[i]
		return !dup
	})
	return StatusSuccess, fmt.Sprintf("Removed %d duplicate rows", removed)
}

func standardizeDates(t *dataset.Table, st plan.StandardizeDates) (Status, string) {
	c, ok := resolveColumn(t, st.Column)
	if !ok {
		return StatusSkipped, fmt.Sprintf("Column %q not found", st.Column)
	}
	cells := make([]any, len(c.Cells))
	for i, v := range c.Cells {
		if v == nil {
			continue
		}
		if ts, ok := dataset.CoerceTime(v); ok {
			cells[i] = dataset.DateOnly(ts)
		}
	}
	if err := t.AddColumn(dataset.NewColumn(plan.DateColumn, dataset.Date, cells)); err != nil {
		return StatusError, err.Error()
	}
	return StatusSuccess, fmt.Sprintf("Standardized dates in %s, created 'date' column", c.Name)
}

func validateYears(t *dataset.Table, st plan.ValidateYears) (Status, string) {
	c, ok := t.Column("year")
	if !ok {
		c, ok = t.Column("Year")
	}
	if !ok {
		c, ok = resolveColumn(t, st.Column)
	}
	if !ok {
		return StatusSkipped, "Year column not found"
	}
	for i, v := range c.Cells {
		if v == nil {
			continue
		}
		if y, ok := dataset.CoerceInt(v); ok {
			c.Cells[i] = y
		} else {
			c.Cells[i] = nil
		}
	}
	c.Kind = dataset.Int
	removed := t.FilterRows(func(i int) bool {
		v := c.Cells[i]
		if v == nil {
			return false
		}
		y := v.(int64)
		return y >= int64(st.MinYear) && y <= int64(st.MaxYear)
	})
	return StatusSuccess, fmt.Sprintf("Validated years, removed %d invalid entries", removed)
}

func addMetadataColumns(t *dataset.Table, datasetName string, now time.Time) (Status, string) {
	n := t.NumRows()
	fill := func(v any) []any {
		cells := make([]any, n)
		for i := range cells {
			cells[i] = v
		}
		return cells
	}
	cols := []*dataset.Column{
		dataset.NewColumn(plan.SourceColumn, dataset.String, fill(datasetName)),
		dataset.NewColumn(plan.QualityFlagColumn, dataset.String, fill("clean")),
		dataset.NewColumn(plan.LastUpdatedColumn, dataset.String, fill(now.Format(time.DateOnly))),
	}
	for _, c := range cols {
		if err := t.AddColumn(c); err != nil {
			return StatusError, err.Error()
		}
	}
	return StatusSuccess, "Added metadata columns"
}

func calculateTotals(t *dataset.Table, st plan.CalculateTotals) (Status, string) {
	excluded := make(map[string]struct{}, len(st.Exclude)+1)
	for _, name := range st.Exclude {
		excluded[name] = struct{}{}
	}
	// Never feed an earlier total back into the sum.
	excluded[st.NewColumn] = struct{}{}

	var sources []*dataset.Column
	for _, c := range t.Columns {
		if !strings.HasSuffix(c.Name, st.Suffix) {
			continue
		}
		if _, skip := excluded[c.Name]; skip {
			continue
		}
		sources = append(sources, c)
	}
	if len(sources) == 0 {
		return StatusSkipped, "No generation source columns found"
	}

	cells := make([]any, t.NumRows())
	for i := range cells {
		sum := 0.0
		for _, c := range sources {
			if f, ok := dataset.NumericValue(c.Cells[i]); ok {
				sum += f
			}
		}
		cells[i] = sum
	}
	if err := t.AddColumn(dataset.NewColumn(st.NewColumn, dataset.Float, cells)); err != nil {
		return StatusError, err.Error()
	}
	return StatusSuccess, fmt.Sprintf("Calculated total from %d sources", len(sources))
}

func calculatePercentages(t *dataset.Table, st plan.CalculatePercentages) (Status, string) {
	total, ok := t.Column(st.TotalColumn)
	if !ok {
		return StatusSkipped, fmt.Sprintf("Total column %q not found", st.TotalColumn)
	}
	for _, cat := range st.Categories {
		var cols []*dataset.Column
		for _, src := range cat.Sources {
			if c, ok := t.Column(src + "_" + st.Suffix); ok {
				cols = append(cols, c)
			}
		}
		if len(cols) == 0 {
			continue
		}
		cells := make([]any, t.NumRows())
		for i := range cells {
			tv, ok := dataset.NumericValue(total.Cells[i])
			if !ok || tv == 0 {
				continue
			}
			sum := 0.0
			for _, c := range cols {
				if f, ok := dataset.NumericValue(c.Cells[i]); ok {
					sum += f
				}
			}
			cells[i] = round2(sum / tv * 100)
		}
		if err := t.AddColumn(dataset.NewColumn(plan.PercentPrefix+cat.Name, dataset.Float, cells)); err != nil {
			return StatusError, err.Error()
		}
	}
	return StatusSuccess, "Calculated percentage contributions"
}

func calculateDifference(t *dataset.Table, st plan.CalculateDifference) (Status, string) {
	prod, pok := resolveColumn(t, st.Production)
	cons, cok := resolveColumn(t, st.Consumption)
	if !pok || !cok {
		return StatusSkipped, fmt.Sprintf("Columns %q and %q not both present", st.Production, st.Consumption)
	}
	net := make([]any, t.NumRows())
	flag := make([]any, t.NumRows())
	for i := range net {
		p, pok := dataset.NumericValue(prod.Cells[i])
		c, cok := dataset.NumericValue(cons.Cells[i])
		if !pok || !cok {
			continue
		}
		v := round2(p - c)
		net[i] = v
		flag[i] = v > 0
	}
	if err := t.AddColumn(dataset.NewColumn(st.NewColumn, dataset.Float, net)); err != nil {
		return StatusError, err.Error()
	}
	if err := t.AddColumn(dataset.NewColumn(st.FlagColumn, dataset.Bool, flag)); err != nil {
		return StatusError, err.Error()
	}
	return StatusSuccess, "Calculated net energy trade"
}

func normalizeEntities(t *dataset.Table, st plan.NormalizeEntities) (Status, string) {
	c, ok := t.Column("entity")
	if !ok {
		c, ok = t.Column("Entity")
	}
	if !ok {
		return StatusSkipped, "Entity column not found"
	}
	cells := make([]any, len(c.Cells))
	for i, v := range c.Cells {
		cells[i] = classifyEntity(v, st.Aggregates)
	}
	if err := t.AddColumn(dataset.NewColumn(st.NewColumn, dataset.String, cells)); err != nil {
		return StatusError, err.Error()
	}
	return StatusSuccess, "Added entity_type classification"
}

// classifyEntity tags multi-country groups as aggregates by substring match.
// A null entity carries no aggregate marker and classifies as country.
func classifyEntity(v any, aggregates []string) string {
	if v == nil {
		return "country"
	}
	s := fmt.Sprint(v)
	for _, agg := range aggregates {
		if strings.Contains(s, agg) {
			return "aggregate"
		}
	}
	return "country"
}

func round2(f float64) float64 {
	return math.Round(f*100) / 100
}
