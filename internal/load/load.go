// Package load pushes cleaned dataset CSVs into the configured storage
// backend and verifies the resulting row counts against expected totals.
//
// Loading is per-dataset fault isolated: a dataset that fails to read or
// insert is reported and skipped, the rest still load. Verification runs
// after all loads and never aborts anything; the caller decides whether a
// count mismatch is fatal.
package load

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"dq/internal/config"
	"dq/internal/dataset"
	"dq/internal/metrics"
	"dq/internal/parser/csv"
	"dq/internal/storage"
)

var grouped = message.NewPrinter(language.English)

// Loader runs the load stage. The zero value is not usable; construct with
// NewLoader and override seams in tests.
type Loader struct {
	// NewRepository is the backend factory; defaults to storage.New.
	NewRepository func(ctx context.Context, cfg storage.Config) (storage.Repository, error)
	// Out receives progress and verification output; defaults to os.Stdout.
	Out io.Writer
	// Batch is the number of rows per INSERT statement.
	Batch int
}

// NewLoader returns a Loader wired to the real storage registry.
func NewLoader() *Loader {
	return &Loader{
		NewRepository: storage.New,
		Out:           os.Stdout,
		Batch:         1000,
	}
}

// Result records the load and verification outcome for one dataset.
type Result struct {
	Dataset  string
	Table    string
	Rows     int64 // rows inserted
	Expected int64 // configured count, 0 skips verification
	Actual   int64 // post-load table count
	Loaded   bool
	Verified bool // Actual == Expected, only meaningful when Expected > 0
	Err      error
}

// Summary aggregates all dataset results.
type Summary struct {
	Results  []Result
	Loaded   int
	AllMatch bool
}

// Run loads every configured dataset's cleaned CSV and verifies counts.
// The returned error covers repository construction only; per-dataset
// failures live in the summary.
func (l *Loader) Run(ctx context.Context, cfg config.Config) (Summary, error) {
	repo, err := l.NewRepository(ctx, storage.Config{Kind: cfg.Storage.Kind, DSN: cfg.Storage.DSN})
	if err != nil {
		return Summary{}, fmt.Errorf("load: connect %s: %w", cfg.Storage.Kind, err)
	}
	defer repo.Close()

	sum := Summary{Results: make([]Result, 0, len(cfg.Datasets))}
	for _, d := range cfg.Datasets {
		res := l.loadDataset(ctx, repo, cfg.Data.OutDir, d)
		metrics.RecordDataset(d.Name, res.Err)
		if res.Loaded {
			sum.Loaded++
			metrics.RecordRows(d.Name, "loaded", res.Rows)
		}
		sum.Results = append(sum.Results, res)
	}

	fmt.Fprintf(l.Out, "\n✓ Successfully loaded %d/%d datasets\n", sum.Loaded, len(cfg.Datasets))

	sum.AllMatch = l.verify(ctx, repo, sum.Results)
	if sum.AllMatch {
		fmt.Fprintln(l.Out, "\n✓ All data loaded successfully!")
	} else {
		fmt.Fprintln(l.Out, "\n⚠ Warning: Row count mismatch detected")
	}
	return sum, nil
}

// loadDataset reads one cleaned CSV, ensures its table and inserts in
// batches.
func (l *Loader) loadDataset(ctx context.Context, repo storage.Repository, dir string, d config.Dataset) Result {
	res := Result{Dataset: d.Name, Table: d.Table, Expected: d.ExpectedRows}

	path := filepath.Join(dir, d.Name+"_cleaned.csv")
	if _, err := os.Stat(path); err != nil {
		fmt.Fprintf(l.Out, "✗ File not found: %s\n", path)
		res.Err = fmt.Errorf("load: %s: %w", d.Name, err)
		return res
	}

	fmt.Fprintf(l.Out, "Loading %s... ", d.Table)

	t, err := csv.ReadFile(path)
	if err != nil {
		fmt.Fprintf(l.Out, "✗ Error: %v\n", err)
		res.Err = err
		return res
	}
	Coerce(t)

	if err := repo.EnsureTable(ctx, TableSpec(d.Table, t)); err != nil {
		fmt.Fprintf(l.Out, "✗ Error: %v\n", err)
		res.Err = err
		return res
	}

	batch := l.Batch
	if batch <= 0 {
		batch = 1000
	}
	cols := t.ColumnNames()
	for start := 0; start < t.NumRows(); start += batch {
		end := start + batch
		if end > t.NumRows() {
			end = t.NumRows()
		}
		rows := make([][]any, 0, end-start)
		for i := start; i < end; i++ {
			rows = append(rows, t.Row(i))
		}
		n, err := repo.InsertRows(ctx, d.Table, cols, rows)
		if err != nil {
			fmt.Fprintf(l.Out, "✗ Error: %v\n", err)
			res.Err = err
			return res
		}
		res.Rows += n
	}

	grouped.Fprintf(l.Out, "✓ Loaded %d rows\n", res.Rows)
	res.Loaded = true
	return res
}

// verify counts every table and prints the comparison, sorted by table
// name. Datasets with no expected count are skipped. Results are updated
// in place with the actual counts.
func (l *Loader) verify(ctx context.Context, repo storage.Repository, results []Result) bool {
	rule := strings.Repeat("=", 50)
	fmt.Fprintf(l.Out, "\n%s\n", rule)
	fmt.Fprintln(l.Out, "Verifying Data Import")
	fmt.Fprintln(l.Out, rule)
	fmt.Fprintln(l.Out, "\nActual vs Expected Row Counts:")
	fmt.Fprintln(l.Out, strings.Repeat("-", 50))

	order := make([]int, 0, len(results))
	for i, r := range results {
		if r.Expected > 0 {
			order = append(order, i)
		}
	}
	sort.Slice(order, func(a, b int) bool { return results[order[a]].Table < results[order[b]].Table })

	allMatch := true
	for _, i := range order {
		r := &results[i]
		actual, err := repo.CountRows(ctx, r.Table)
		if err != nil {
			fmt.Fprintf(l.Out, "✗ %-25s count failed: %v\n", r.Table, err)
			allMatch = false
			continue
		}
		r.Actual = actual
		r.Verified = actual == r.Expected
		mark := "✓"
		if !r.Verified {
			mark = "✗"
			allMatch = false
		}
		fmt.Fprintf(l.Out, "%s %-25s %6s / %6s\n",
			mark, r.Table, grouped.Sprintf("%d", actual), grouped.Sprintf("%d", r.Expected))
	}
	return allMatch
}

// Coerce applies the by-name column conversions the load stage guarantees:
// year becomes integer, last_updated becomes a date, is_net_exporter
// becomes boolean. Values that do not convert become null.
func Coerce(t *dataset.Table) {
	if c, ok := t.Column("year"); ok {
		coerceCells(c, dataset.Int, func(v any) (any, bool) {
			n, ok := dataset.CoerceInt(v)
			return n, ok
		})
	}
	if c, ok := t.Column("last_updated"); ok {
		coerceCells(c, dataset.Date, func(v any) (any, bool) {
			ts, ok := dataset.CoerceTime(v)
			if !ok {
				return nil, false
			}
			return dataset.DateOnly(ts), true
		})
	}
	if c, ok := t.Column("is_net_exporter"); ok {
		coerceCells(c, dataset.Bool, func(v any) (any, bool) {
			b, ok := dataset.CoerceBool(v)
			return b, ok
		})
	}
}

func coerceCells(c *dataset.Column, kind dataset.Kind, conv func(any) (any, bool)) {
	for i, v := range c.Cells {
		if v == nil || v == "" {
			c.Cells[i] = nil
			continue
		}
		if out, ok := conv(v); ok {
			c.Cells[i] = out
		} else {
			c.Cells[i] = nil
		}
	}
	c.Kind = kind
}

// TableSpec derives the target table schema from the table's column kinds.
// Columns with no null cells are created NOT NULL; the cleaned data is the
// source of truth for what the schema can promise.
func TableSpec(table string, t *dataset.Table) storage.TableSpec {
	cols := make([]storage.ColumnSpec, len(t.Columns))
	for i, c := range t.Columns {
		cols[i] = storage.ColumnSpec{
			Name:     c.Name,
			Type:     columnType(c.Kind),
			Nullable: hasNulls(c),
		}
	}
	return storage.TableSpec{Name: table, Columns: cols}
}

func columnType(k dataset.Kind) storage.ColumnType {
	switch k {
	case dataset.Int:
		return storage.TypeInt
	case dataset.Float:
		return storage.TypeFloat
	case dataset.Bool:
		return storage.TypeBool
	case dataset.Date:
		return storage.TypeDate
	default:
		return storage.TypeText
	}
}

func hasNulls(c *dataset.Column) bool {
	for _, v := range c.Cells {
		if v == nil {
			return true
		}
	}
	return false
}
