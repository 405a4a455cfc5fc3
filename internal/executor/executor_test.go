package executor

import (
	"fmt"
	"reflect"
	"testing"
	"time"

	"dq/internal/analyze"
	"dq/internal/config"
	"dq/internal/dataset"
	"dq/internal/meta"
	"dq/internal/plan"
)

var testNow = time.Date(2026, 1, 15, 10, 30, 0, 0, time.UTC)

func mustTable(t *testing.T, cols ...*dataset.Column) *dataset.Table {
	t.Helper()
	tab, err := dataset.New(cols...)
	if err != nil {
		t.Fatal(err)
	}
	return tab
}

func cellsOf(t *testing.T, tab *dataset.Table, name string) []any {
	t.Helper()
	c, ok := tab.Column(name)
	if !ok {
		t.Fatalf("column %q not found in %v", name, tab.ColumnNames())
	}
	return c.Cells
}

func TestFillMissingCodes(t *testing.T) {
	t.Parallel()
	tab := mustTable(t,
		dataset.NewColumn("Entity", dataset.String, []any{"France", "World"}),
		dataset.NewColumn("Code", dataset.String, []any{"FRA", ""}),
	)
	rec := Apply(tab, plan.FillMissingCodes{Column: "Code"}, "x", testNow)

	if rec.Status != StatusSuccess {
		t.Fatalf("record = %+v", rec)
	}
	if rec.Message != "Replaced 1 empty strings with null in Code" {
		t.Errorf("Message = %q", rec.Message)
	}
	if got := cellsOf(t, tab, "Code"); !reflect.DeepEqual(got, []any{"FRA", nil}) {
		t.Errorf("Code cells = %v", got)
	}
}

func TestFillMissingCodesMissingColumn(t *testing.T) {
	t.Parallel()
	tab := mustTable(t, dataset.NewColumn("v", dataset.Int, []any{int64(1)}))
	rec := Apply(tab, plan.FillMissingCodes{Column: "Code"}, "x", testNow)
	if rec.Status != StatusSkipped {
		t.Fatalf("record = %+v, want skipped", rec)
	}
}

func TestStandardizeColumnNamesIdempotent(t *testing.T) {
	t.Parallel()
	tab := mustTable(t,
		dataset.NewColumn("Annual CO₂ emissions", dataset.String, []any{"1"}),
		dataset.NewColumn("Entity", dataset.String, []any{"France"}),
	)
	first := Apply(tab, plan.StandardizeColumnNames{}, "x", testNow)
	if first.Message != "Standardized 2 column names" {
		t.Errorf("first run: %q", first.Message)
	}
	namesAfterFirst := tab.ColumnNames()
	if namesAfterFirst[0] != "annual_co2_emissions" {
		t.Errorf("renamed to %q", namesAfterFirst[0])
	}

	second := Apply(tab, plan.StandardizeColumnNames{}, "x", testNow)
	if second.Message != "Standardized 0 column names" {
		t.Errorf("second run: %q", second.Message)
	}
	if !reflect.DeepEqual(tab.ColumnNames(), namesAfterFirst) {
		t.Errorf("second run changed names to %v", tab.ColumnNames())
	}
}

// TestConvertThenHandleSpecials mirrors a textual numeric column declared
// Numeric: conversion nulls the unparsable sentinel and the sentinel pass
// finds nothing left to do.
func TestConvertThenHandleSpecials(t *testing.T) {
	t.Parallel()
	tab := mustTable(t,
		dataset.NewColumn("annual_co2_emissions", dataset.String, []any{"1.2", "3.4", "NaN", "5.6"}),
	)
	conv := Apply(tab, plan.ConvertDtype{Column: "Annual CO₂ emissions", From: "string", To: "float64"}, "x", testNow)
	if conv.Status != StatusSuccess {
		t.Fatalf("convert = %+v", conv)
	}
	if conv.Message != "Converted annual_co2_emissions from string to numeric" {
		t.Errorf("Message = %q", conv.Message)
	}
	spec := Apply(tab, plan.HandleSpecialValues{Column: "Annual CO₂ emissions"}, "x", testNow)
	if spec.Status != StatusSuccess {
		t.Fatalf("specials = %+v", spec)
	}

	want := []any{1.2, 3.4, nil, 5.6}
	if got := cellsOf(t, tab, "annual_co2_emissions"); !reflect.DeepEqual(got, want) {
		t.Errorf("cells = %v, want %v", got, want)
	}
	c, _ := tab.Column("annual_co2_emissions")
	if c.Kind != dataset.Float {
		t.Errorf("Kind = %v, want Float", c.Kind)
	}
}

func TestHandleSpecialValuesFullSet(t *testing.T) {
	t.Parallel()
	tab := mustTable(t,
		dataset.NewColumn("v", dataset.String, []any{"ok", "NaN", "nan", "null", "NULL", "Null"}),
	)
	rec := Apply(tab, plan.HandleSpecialValues{Column: "v"}, "x", testNow)
	if rec.Status != StatusSuccess {
		t.Fatalf("record = %+v", rec)
	}
	// "Null" is not in the replacement set.
	want := []any{"ok", nil, nil, nil, nil, "Null"}
	if got := cellsOf(t, tab, "v"); !reflect.DeepEqual(got, want) {
		t.Errorf("cells = %v, want %v", got, want)
	}
}

func TestRemoveDuplicatesKeepsFirst(t *testing.T) {
	t.Parallel()
	tab := mustTable(t,
		dataset.NewColumn("a", dataset.Int, []any{int64(1), int64(2), int64(1), int64(3)}),
		dataset.NewColumn("b", dataset.String, []any{"x", "y", "x", "z"}),
	)
	rec := Apply(tab, plan.RemoveDuplicates{}, "x", testNow)

	if rec.Message != "Removed 1 duplicate rows" {
		t.Errorf("Message = %q", rec.Message)
	}
	if got := cellsOf(t, tab, "a"); !reflect.DeepEqual(got, []any{int64(1), int64(2), int64(3)}) {
		t.Errorf("a cells = %v, want first occurrences in order", got)
	}

	again := Apply(tab, plan.RemoveDuplicates{}, "x", testNow)
	if again.Message != "Removed 0 duplicate rows" {
		t.Errorf("second run: %q", again.Message)
	}
}

// TestRemoveDuplicatesLargeBatch checks the advertised bookkeeping on a
// thousand-row table carrying five exact duplicates.
func TestRemoveDuplicatesLargeBatch(t *testing.T) {
	t.Parallel()
	const unique = 995
	ids := make([]any, 0, 1000)
	labels := make([]any, 0, 1000)
	for i := 0; i < unique; i++ {
		ids = append(ids, int64(i))
		labels = append(labels, fmt.Sprintf("row%d", i))
	}
	for i := 0; i < 5; i++ {
		ids = append(ids, int64(i))
		labels = append(labels, fmt.Sprintf("row%d", i))
	}
	tab := mustTable(t,
		dataset.NewColumn("id", dataset.Int, ids),
		dataset.NewColumn("label", dataset.String, labels),
	)

	rec := Apply(tab, plan.RemoveDuplicates{}, "x", testNow)
	if rec.Message != "Removed 5 duplicate rows" {
		t.Errorf("Message = %q", rec.Message)
	}
	if tab.NumRows() != unique {
		t.Errorf("rows = %d, want %d", tab.NumRows(), unique)
	}
}

func TestStandardizeDates(t *testing.T) {
	t.Parallel()
	tab := mustTable(t,
		dataset.NewColumn("time", dataset.String, []any{int64(1700000000), "2024-02-29", "soon", nil}),
	)
	rec := Apply(tab, plan.StandardizeDates{Column: "time"}, "x", testNow)

	if rec.Status != StatusSuccess {
		t.Fatalf("record = %+v", rec)
	}
	if rec.Message != "Standardized dates in time, created 'date' column" {
		t.Errorf("Message = %q", rec.Message)
	}
	want := []any{
		time.Date(2023, 11, 14, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 2, 29, 0, 0, 0, 0, time.UTC),
		nil,
		nil,
	}
	if got := cellsOf(t, tab, "date"); !reflect.DeepEqual(got, want) {
		t.Errorf("date cells = %v, want %v", got, want)
	}
	if _, ok := tab.Column("time"); !ok {
		t.Error("source time column was dropped")
	}
}

func TestValidateYears(t *testing.T) {
	t.Parallel()
	tab := mustTable(t,
		dataset.NewColumn("year", dataset.String, []any{"1700", "1950", "2025", "2026", "abc", nil}),
		dataset.NewColumn("v", dataset.Int, []any{int64(1), int64(2), int64(3), int64(4), int64(5), int64(6)}),
	)
	step := plan.ValidateYears{Column: "Year", MinYear: 1750, MaxYear: 2025}
	rec := Apply(tab, step, "x", testNow)

	if rec.Message != "Validated years, removed 4 invalid entries" {
		t.Errorf("Message = %q", rec.Message)
	}
	if got := cellsOf(t, tab, "year"); !reflect.DeepEqual(got, []any{int64(1950), int64(2025)}) {
		t.Errorf("year cells = %v", got)
	}
	if got := cellsOf(t, tab, "v"); !reflect.DeepEqual(got, []any{int64(2), int64(3)}) {
		t.Errorf("sibling column out of sync: %v", got)
	}

	again := Apply(tab, step, "x", testNow)
	if again.Message != "Validated years, removed 0 invalid entries" {
		t.Errorf("second run: %q", again.Message)
	}
}

func TestValidateYearsUppercaseFallback(t *testing.T) {
	t.Parallel()
	tab := mustTable(t,
		dataset.NewColumn("Year", dataset.Int, []any{int64(1600), int64(2000)}),
	)
	rec := Apply(tab, plan.ValidateYears{Column: "Year", MinYear: 1750, MaxYear: 2025}, "x", testNow)
	if rec.Status != StatusSuccess || tab.NumRows() != 1 {
		t.Fatalf("record = %+v, rows = %d", rec, tab.NumRows())
	}
}

func TestAddMetadataColumns(t *testing.T) {
	t.Parallel()
	tab := mustTable(t,
		dataset.NewColumn("entity", dataset.String, []any{"France", "Peru"}),
	)
	rec := Apply(tab, plan.AddMetadataColumns{}, "co2_emissions", testNow)

	if rec.Status != StatusSuccess || rec.Message != "Added metadata columns" {
		t.Fatalf("record = %+v", rec)
	}
	if got := cellsOf(t, tab, "data_source"); !reflect.DeepEqual(got, []any{"co2_emissions", "co2_emissions"}) {
		t.Errorf("data_source = %v", got)
	}
	if got := cellsOf(t, tab, "data_quality_flag"); got[0] != "clean" {
		t.Errorf("data_quality_flag = %v", got)
	}
	if got := cellsOf(t, tab, "last_updated"); got[0] != "2026-01-15" {
		t.Errorf("last_updated = %v", got)
	}
}

// TestTotalsAndPercentages drives the electricity metrics: coal 50 + gas 30 +
// solar 20 totals 100, fossil share 80, renewable share 20.
func TestTotalsAndPercentages(t *testing.T) {
	t.Parallel()
	tab := mustTable(t,
		dataset.NewColumn("coal_twh", dataset.Float, []any{50.0}),
		dataset.NewColumn("gas_twh", dataset.Float, []any{30.0}),
		dataset.NewColumn("solar_twh", dataset.Float, []any{20.0}),
	)
	p := config.Default().Planner

	tot := Apply(tab, plan.CalculateTotals{NewColumn: p.TotalColumn, Suffix: p.TotalSuffix, Exclude: p.TotalExclude}, "x", testNow)
	if tot.Message != "Calculated total from 3 sources" {
		t.Fatalf("totals record = %+v", tot)
	}
	if got := cellsOf(t, tab, "total_electricity_twh"); !reflect.DeepEqual(got, []any{100.0}) {
		t.Fatalf("total = %v", got)
	}

	pct := Apply(tab, plan.CalculatePercentages{
		TotalColumn: p.TotalColumn,
		Suffix:      p.TotalSuffix,
		Categories: []plan.Category{
			{Name: "renewable", Sources: p.RenewableMarkers},
			{Name: "fossil", Sources: p.FossilMarkers},
			{Name: "nuclear", Sources: p.NuclearMarkers},
		},
	}, "x", testNow)
	if pct.Status != StatusSuccess {
		t.Fatalf("percentages record = %+v", pct)
	}
	if got := cellsOf(t, tab, "pct_fossil"); !reflect.DeepEqual(got, []any{80.0}) {
		t.Errorf("pct_fossil = %v", got)
	}
	if got := cellsOf(t, tab, "pct_renewable"); !reflect.DeepEqual(got, []any{20.0}) {
		t.Errorf("pct_renewable = %v", got)
	}
	if _, ok := tab.Column("pct_nuclear"); ok {
		t.Error("pct_nuclear created although no nuclear source column exists")
	}
}

func TestTotalsExcludeOwnOutputAndExceptions(t *testing.T) {
	t.Parallel()
	tab := mustTable(t,
		dataset.NewColumn("coal_twh", dataset.Float, []any{50.0}),
		dataset.NewColumn("oil_production_twh", dataset.Float, []any{999.0}),
	)
	step := plan.CalculateTotals{NewColumn: "total_electricity_twh", Suffix: "twh", Exclude: []string{"oil_production_twh"}}

	Apply(tab, step, "x", testNow)
	if got := cellsOf(t, tab, "total_electricity_twh"); !reflect.DeepEqual(got, []any{50.0}) {
		t.Fatalf("total = %v, want excluded oil ignored", got)
	}
	// Re-running must not fold the previous total back in.
	Apply(tab, step, "x", testNow)
	if got := cellsOf(t, tab, "total_electricity_twh"); !reflect.DeepEqual(got, []any{50.0}) {
		t.Errorf("total after rerun = %v, want 50", got)
	}
}

func TestTotalsSkippedWithoutSources(t *testing.T) {
	t.Parallel()
	tab := mustTable(t, dataset.NewColumn("entity", dataset.String, []any{"France"}))
	rec := Apply(tab, plan.CalculateTotals{NewColumn: "total_electricity_twh", Suffix: "twh"}, "x", testNow)
	if rec.Status != StatusSkipped {
		t.Fatalf("record = %+v, want skipped", rec)
	}
}

func TestTotalsTreatNullAsZero(t *testing.T) {
	t.Parallel()
	tab := mustTable(t,
		dataset.NewColumn("coal_twh", dataset.Float, []any{nil, 10.0}),
		dataset.NewColumn("gas_twh", dataset.Float, []any{nil, nil}),
	)
	Apply(tab, plan.CalculateTotals{NewColumn: "total_electricity_twh", Suffix: "twh"}, "x", testNow)
	if got := cellsOf(t, tab, "total_electricity_twh"); !reflect.DeepEqual(got, []any{0.0, 10.0}) {
		t.Errorf("total = %v, want nulls summed as zero", got)
	}
}

func TestPercentagesNullOrZeroTotal(t *testing.T) {
	t.Parallel()
	tab := mustTable(t,
		dataset.NewColumn("coal_twh", dataset.Float, []any{10.0, 10.0, 25.0}),
		dataset.NewColumn("total_electricity_twh", dataset.Float, []any{nil, 0.0, 50.0}),
	)
	rec := Apply(tab, plan.CalculatePercentages{
		TotalColumn: "total_electricity_twh",
		Suffix:      "twh",
		Categories:  []plan.Category{{Name: "fossil", Sources: []string{"coal"}}},
	}, "x", testNow)
	if rec.Status != StatusSuccess {
		t.Fatalf("record = %+v", rec)
	}
	if got := cellsOf(t, tab, "pct_fossil"); !reflect.DeepEqual(got, []any{nil, nil, 50.0}) {
		t.Errorf("pct_fossil = %v, want null for null/zero totals", got)
	}
}

// TestPercentagesSumNearHundred covers the rounding-tolerance property: three
// equal thirds round to 33.33 each and still sum within 0.1 of 100.
func TestPercentagesSumNearHundred(t *testing.T) {
	t.Parallel()
	tab := mustTable(t,
		dataset.NewColumn("solar_twh", dataset.Float, []any{1.0}),
		dataset.NewColumn("coal_twh", dataset.Float, []any{1.0}),
		dataset.NewColumn("nuclear_twh", dataset.Float, []any{1.0}),
	)
	p := config.Default().Planner
	Apply(tab, plan.CalculateTotals{NewColumn: p.TotalColumn, Suffix: p.TotalSuffix}, "x", testNow)
	Apply(tab, plan.CalculatePercentages{
		TotalColumn: p.TotalColumn,
		Suffix:      p.TotalSuffix,
		Categories: []plan.Category{
			{Name: "renewable", Sources: p.RenewableMarkers},
			{Name: "fossil", Sources: p.FossilMarkers},
			{Name: "nuclear", Sources: p.NuclearMarkers},
		},
	}, "x", testNow)

	sum := 0.0
	for _, name := range []string{"pct_renewable", "pct_fossil", "pct_nuclear"} {
		v, ok := dataset.NumericValue(cellsOf(t, tab, name)[0])
		if !ok {
			t.Fatalf("%s is null", name)
		}
		sum += v
	}
	if diff := sum - 100; diff > 0.1 || diff < -0.1 {
		t.Errorf("percentage sum = %v, want within 0.1 of 100", sum)
	}
}

func TestCalculateDifference(t *testing.T) {
	t.Parallel()
	tab := mustTable(t,
		dataset.NewColumn("production_based_energy", dataset.Float, []any{120.0, 200.0, nil}),
		dataset.NewColumn("consumption_based_energy", dataset.Float, []any{150.0, 120.5, 10.0}),
	)
	rec := Apply(tab, plan.CalculateDifference{
		NewColumn:   plan.NetTradeColumn,
		Production:  "production_based_energy",
		Consumption: "consumption_based_energy",
		FlagColumn:  plan.NetExporterColumn,
	}, "x", testNow)

	if rec.Status != StatusSuccess || rec.Message != "Calculated net energy trade" {
		t.Fatalf("record = %+v", rec)
	}
	if got := cellsOf(t, tab, "net_energy_trade_twh"); !reflect.DeepEqual(got, []any{-30.0, 79.5, nil}) {
		t.Errorf("net = %v", got)
	}
	if got := cellsOf(t, tab, "is_net_exporter"); !reflect.DeepEqual(got, []any{false, true, nil}) {
		t.Errorf("flag = %v", got)
	}
}

func TestCalculateDifferenceSkippedWithoutOperands(t *testing.T) {
	t.Parallel()
	tab := mustTable(t, dataset.NewColumn("production_based_energy", dataset.Float, []any{1.0}))
	rec := Apply(tab, plan.CalculateDifference{
		NewColumn:   plan.NetTradeColumn,
		Production:  "production_based_energy",
		Consumption: "consumption_based_energy",
		FlagColumn:  plan.NetExporterColumn,
	}, "x", testNow)
	if rec.Status != StatusSkipped {
		t.Fatalf("record = %+v, want skipped", rec)
	}
}

func TestNormalizeEntities(t *testing.T) {
	t.Parallel()
	aggregates := config.Default().Planner.Aggregates
	tab := mustTable(t,
		dataset.NewColumn("entity", dataset.String, []any{
			"France", "World", "Asia Pacific", "European Union (27)", nil,
		}),
	)
	rec := Apply(tab, plan.NormalizeEntities{NewColumn: plan.EntityTypeColumn, Aggregates: aggregates}, "x", testNow)

	if rec.Status != StatusSuccess || rec.Message != "Added entity_type classification" {
		t.Fatalf("record = %+v", rec)
	}
	want := []any{"country", "aggregate", "aggregate", "aggregate", "country"}
	if got := cellsOf(t, tab, "entity_type"); !reflect.DeepEqual(got, want) {
		t.Errorf("entity_type = %v, want %v", got, want)
	}
}

func TestUnknownStepSkips(t *testing.T) {
	t.Parallel()
	tab := mustTable(t, dataset.NewColumn("v", dataset.Int, []any{int64(1)}))
	rec := Apply(tab, plan.Unknown{Name: "impute_with_model"}, "x", testNow)

	if rec.Status != StatusSkipped || rec.Message != skippedMessage {
		t.Fatalf("record = %+v", rec)
	}
	if rec.Step != "impute_with_model" {
		t.Errorf("Step = %q", rec.Step)
	}
}

// TestApplyRecoversPanic feeds a structurally broken table (unequal column
// lengths) so the duplicate scan indexes out of range; the panic must surface
// as an error record, not crash the run.
func TestApplyRecoversPanic(t *testing.T) {
	t.Parallel()
	tab := &dataset.Table{Columns: []*dataset.Column{
		dataset.NewColumn("a", dataset.Int, []any{int64(1), int64(2)}),
		dataset.NewColumn("b", dataset.Int, []any{int64(1)}),
	}}
	rec := Apply(tab, plan.RemoveDuplicates{}, "x", testNow)

	if rec.Status != StatusError {
		t.Fatalf("record = %+v, want error", rec)
	}
	if rec.Message == "" {
		t.Error("error record carries no message")
	}
}

// TestRunFullPlan exercises the generated plan end to end on an emissions
// shaped table: empty code, sentinel value, duplicate row, wide year range.
func TestRunFullPlan(t *testing.T) {
	t.Parallel()
	tab := mustTable(t,
		dataset.NewColumn("Entity", dataset.String, []any{"France", "World", "France"}),
		dataset.NewColumn("Code", dataset.String, []any{"FRA", "", "FRA"}),
		dataset.NewColumn("Year", dataset.Int, []any{int64(1950), int64(2020), int64(1950)}),
		dataset.NewColumn("Annual CO₂ emissions", dataset.String, []any{"1.2", "NaN", "1.2"}),
	)
	m := &meta.Meta{Columns: map[string]meta.ColumnMeta{
		"Annual CO₂ emissions": {Type: meta.TypeNumeric, Unit: "tonnes"},
	}}
	rep := analyze.AnalyzeDataset("co2_emissions", tab, m, analyze.Options{})
	gen := plan.Generator{Config: config.Default().Planner}
	p := gen.DatasetPlan("co2_emissions", "annual-co2-emissions-per-country.csv", tab, m, rep)

	res := Run(tab, p, "co2_emissions", testNow)

	if want := len(p.Cleaning) + len(p.Transformation); len(res.Records) != want {
		t.Fatalf("records = %d, want one per step (%d)", len(res.Records), want)
	}
	for _, rec := range res.Records {
		if rec.Status != StatusSuccess {
			t.Errorf("step %s: %+v", rec.Step, rec)
		}
	}
	if res.OriginalRows != 3 || res.CleanedRows != 2 {
		t.Errorf("rows = %d -> %d, want 3 -> 2", res.OriginalRows, res.CleanedRows)
	}

	wantCols := []string{
		"entity", "code", "year", "annual_co2_emissions",
		"data_source", "data_quality_flag", "last_updated", "entity_type",
	}
	if got := tab.ColumnNames(); !reflect.DeepEqual(got, wantCols) {
		t.Fatalf("columns = %v, want %v", got, wantCols)
	}
	if got := cellsOf(t, tab, "code"); !reflect.DeepEqual(got, []any{"FRA", nil}) {
		t.Errorf("code = %v", got)
	}
	if got := cellsOf(t, tab, "annual_co2_emissions"); !reflect.DeepEqual(got, []any{1.2, nil}) {
		t.Errorf("emissions = %v", got)
	}
	if got := cellsOf(t, tab, "entity_type"); !reflect.DeepEqual(got, []any{"country", "aggregate"}) {
		t.Errorf("entity_type = %v", got)
	}
}
