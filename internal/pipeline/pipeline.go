// Package pipeline orchestrates a full data-quality run: read the raw
// datasets, analyze them, generate (or reload) the cleaning plan, execute it
// and write the artifact set.
//
// Datasets are independent. Analysis and execution fan out across a bounded
// worker group; steps within one dataset always run sequentially. A dataset
// whose input cannot be read is dropped from the run with its error recorded
// and never aborts the others. Artifact write failures do abort: a run whose
// outputs cannot be persisted has nothing to show.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"dq/internal/analyze"
	"dq/internal/config"
	"dq/internal/dataset"
	"dq/internal/executor"
	"dq/internal/meta"
	"dq/internal/metrics"
	"dq/internal/parser/csv"
	"dq/internal/plan"
	"dq/internal/report"
)

// Artifact file names, all placed under the configured output directory.
const (
	PlanFile         = "et_plan.json"
	ExecutionLogFile = "execution_log.json"
	TextReportFile   = "cleaning_summary_report.txt"
	HTMLReportFile   = "cleaning_summary_report.html"
)

// Runner drives one run. Zero-value fields fall back to real implementations,
// so tests can swap the clock, the ID source and the log sink.
type Runner struct {
	// Log receives progress lines; defaults to the standard logger.
	Log *log.Logger
	// Now is the run clock, stamped into metadata columns and reports.
	Now func() time.Time
	// NewRunID mints the run identifier; defaults to uuid.NewString.
	NewRunID func() string
	// PlanOnly stops the run after writing the plan document.
	PlanOnly bool
	// FromPlan names a previously saved plan document to execute instead of
	// generating a fresh one.
	FromPlan string
}

// RunResult is what a completed (or plan-only) run leaves behind in memory.
type RunResult struct {
	RunID string
	Plan  plan.Document
	// Entries holds one execution log entry per executed dataset, in
	// configuration order.
	Entries []report.Entry
	// InputErrors maps datasets that never executed to the reason.
	InputErrors map[string]error
}

type input struct {
	spec config.Dataset
	tbl  *dataset.Table
	meta *meta.Meta
}

func (r *Runner) logf(format string, a ...any) {
	if r.Log != nil {
		r.Log.Printf(format, a...)
		return
	}
	log.Printf(format, a...)
}

func (r *Runner) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}

func (r *Runner) runID() string {
	if r.NewRunID != nil {
		return r.NewRunID()
	}
	return uuid.NewString()
}

// Run executes the pipeline over every configured dataset.
func (r *Runner) Run(ctx context.Context, cfg config.Config) (RunResult, error) {
	res := RunResult{
		RunID:       r.runID(),
		InputErrors: map[string]error{},
	}
	runTime := r.now()
	workers := cfg.Runtime.Workers
	if workers <= 0 {
		workers = 1
	}
	r.logf("run %s: %d datasets, workers=%d", res.RunID, len(cfg.Datasets), workers)

	if err := os.MkdirAll(cfg.Data.OutDir, 0o755); err != nil {
		return res, fmt.Errorf("pipeline: create output dir: %w", err)
	}

	inputs := r.loadInputs(cfg, res.InputErrors)

	if r.FromPlan != "" {
		doc, err := readPlan(r.FromPlan)
		if err != nil {
			return res, err
		}
		res.Plan = doc
		r.logf("run %s: executing saved plan %s (%d datasets)", res.RunID, r.FromPlan, len(doc.Datasets))
	} else {
		reports, err := r.analyzeAll(ctx, inputs, cfg, workers)
		if err != nil {
			return res, err
		}
		res.Plan = r.buildPlan(inputs, reports, cfg, runTime)

		planPath := filepath.Join(cfg.Data.OutDir, PlanFile)
		if err := writeJSON(planPath, res.Plan); err != nil {
			return res, err
		}
		r.logf("run %s: plan saved to %s", res.RunID, planPath)
	}

	if r.PlanOnly {
		return res, nil
	}

	entries, err := r.executeAll(ctx, inputs, res.Plan, cfg, workers, runTime, res.InputErrors)
	if err != nil {
		return res, err
	}
	res.Entries = entries

	if err := r.writeArtifacts(cfg, inputs, entries, runTime); err != nil {
		return res, err
	}
	r.logf("run %s: complete, %d/%d datasets executed", res.RunID, len(entries), len(cfg.Datasets))
	return res, nil
}

// loadInputs reads every dataset's CSV and optional metadata sidecar.
// Failures are recorded and the dataset is excluded.
func (r *Runner) loadInputs(cfg config.Config, errs map[string]error) []input {
	inputs := make([]input, 0, len(cfg.Datasets))
	for _, d := range cfg.Datasets {
		t, err := csv.ReadFile(filepath.Join(cfg.Data.Dir, d.CSV))
		if err != nil {
			r.logf("%s: %v (dataset excluded)", d.Name, err)
			errs[d.Name] = err
			metrics.RecordDataset(d.Name, err)
			continue
		}
		in := input{spec: d, tbl: t}
		if d.Metadata != "" {
			m, err := meta.Load(filepath.Join(cfg.Data.Dir, d.Metadata))
			if err != nil {
				r.logf("%s: %v (dataset excluded)", d.Name, err)
				errs[d.Name] = err
				metrics.RecordDataset(d.Name, err)
				continue
			}
			in.meta = m
		}
		r.logf("%s: loaded %d rows, %d columns", d.Name, t.NumRows(), t.NumCols())
		inputs = append(inputs, in)
	}
	return inputs
}

// analyzeAll fans the dataset analyzer out across the worker group.
func (r *Runner) analyzeAll(ctx context.Context, inputs []input, cfg config.Config, workers int) ([]analyze.DatasetReport, error) {
	reports := make([]analyze.DatasetReport, len(inputs))
	opts := analyze.Options{
		CountNullUnique:   cfg.Analysis.CountNullUnique,
		OutlierMultiplier: cfg.Analysis.OutlierIQRMultiplier,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i := range inputs {
		i := i
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			in := inputs[i]
			reports[i] = analyze.AnalyzeDataset(in.spec.Name, in.tbl, in.meta, opts)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("pipeline: analyze: %w", err)
	}

	for i, rep := range reports {
		r.logf("%s: analyzed %d rows, %d columns, %d duplicate rows",
			inputs[i].spec.Name, rep.Summary.TotalRows, rep.Summary.TotalColumns, rep.Summary.DuplicateRows)
	}
	return reports, nil
}

// buildPlan assembles the full plan document from the per-dataset reports.
func (r *Runner) buildPlan(inputs []input, reports []analyze.DatasetReport, cfg config.Config, runTime time.Time) plan.Document {
	gen := &plan.Generator{Config: cfg.Planner}
	doc := plan.Document{
		Metadata: plan.DocumentMeta{
			PlanCreated:   runTime.Format("2006-01-02T15:04:05"),
			TotalDatasets: len(inputs),
			PlanVersion:   plan.PlanVersion,
		},
		Datasets: make(map[string]plan.DatasetPlan, len(inputs)),
	}
	for i, in := range inputs {
		doc.Datasets[in.spec.Name] = gen.DatasetPlan(in.spec.Name, in.spec.CSV, in.tbl, in.meta, reports[i])
	}
	doc.Integration = gen.Integration(tablesByName(inputs))
	return doc
}

// executeAll folds each dataset's plan over its table, in parallel across
// datasets. Each step is timed and recorded through the metrics facade.
func (r *Runner) executeAll(ctx context.Context, inputs []input, doc plan.Document, cfg config.Config, workers int, runTime time.Time, errs map[string]error) ([]report.Entry, error) {
	type slot struct {
		entry report.Entry
		ok    bool
	}
	slots := make([]slot, len(inputs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i := range inputs {
		i := i
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			in := inputs[i]
			p, ok := doc.Datasets[in.spec.Name]
			if !ok {
				err := fmt.Errorf("plan has no entry for dataset %q", in.spec.Name)
				r.logf("%s: %v (dataset excluded)", in.spec.Name, err)
				errs[in.spec.Name] = err
				metrics.RecordDataset(in.spec.Name, err)
				return nil
			}

			slots[i].entry = r.executeDataset(in, p, runTime)
			slots[i].ok = true

			out := filepath.Join(cfg.Data.OutDir, in.spec.Name+"_cleaned.csv")
			if err := csv.WriteFile(out, in.tbl); err != nil {
				return err
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("pipeline: execute: %w", err)
	}

	entries := make([]report.Entry, 0, len(slots))
	for _, s := range slots {
		if s.ok {
			entries = append(entries, s.entry)
		}
	}
	return entries, nil
}

// executeDataset applies cleaning then transformation steps in declared
// order, mutating the table in place.
func (r *Runner) executeDataset(in input, p plan.DatasetPlan, runTime time.Time) report.Entry {
	name := in.spec.Name
	entry := report.Entry{Dataset: name, OriginalRows: in.tbl.NumRows()}

	steps := make([]plan.Step, 0, len(p.Cleaning)+len(p.Transformation))
	steps = append(steps, p.Cleaning...)
	steps = append(steps, p.Transformation...)
	for _, s := range steps {
		start := time.Now()
		rec := executor.Apply(in.tbl, s, name, runTime)
		metrics.RecordStep(name, rec.Step, string(rec.Status), time.Since(start))
		entry.Steps = append(entry.Steps, rec)
	}
	entry.CleanedRows = in.tbl.NumRows()

	metrics.RecordRows(name, "cleaned", int64(entry.CleanedRows))
	metrics.RecordRows(name, "removed", int64(entry.OriginalRows-entry.CleanedRows))
	metrics.RecordDataset(name, nil)
	r.logf("%s: executed %d steps, %d -> %d rows", name, len(entry.Steps), entry.OriginalRows, entry.CleanedRows)
	return entry
}

// writeArtifacts persists the execution log and both report renderings.
func (r *Runner) writeArtifacts(cfg config.Config, inputs []input, entries []report.Entry, runTime time.Time) error {
	if err := writeJSON(filepath.Join(cfg.Data.OutDir, ExecutionLogFile), entries); err != nil {
		return err
	}

	tables := tablesByName(inputs)

	txt, err := os.Create(filepath.Join(cfg.Data.OutDir, TextReportFile))
	if err != nil {
		return fmt.Errorf("pipeline: create report: %w", err)
	}
	if err := report.WriteText(txt, entries, tables, runTime); err != nil {
		txt.Close()
		return fmt.Errorf("pipeline: write report: %w", err)
	}
	if err := txt.Close(); err != nil {
		return fmt.Errorf("pipeline: close report: %w", err)
	}

	htm, err := os.Create(filepath.Join(cfg.Data.OutDir, HTMLReportFile))
	if err != nil {
		return fmt.Errorf("pipeline: create html report: %w", err)
	}
	if err := report.WriteHTML(htm, entries, tables, runTime); err != nil {
		htm.Close()
		return fmt.Errorf("pipeline: write html report: %w", err)
	}
	if err := htm.Close(); err != nil {
		return fmt.Errorf("pipeline: close html report: %w", err)
	}

	r.logf("artifacts saved to %s", cfg.Data.OutDir)
	return nil
}

func tablesByName(inputs []input) map[string]*dataset.Table {
	m := make(map[string]*dataset.Table, len(inputs))
	for _, in := range inputs {
		m[in.spec.Name] = in.tbl
	}
	return m
}

func writeJSON(path string, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("pipeline: marshal %s: %w", filepath.Base(path), err)
	}
	b = append(b, '\n')
	if err := os.WriteFile(path, b, 0o644); err != nil {
		return fmt.Errorf("pipeline: write %s: %w", filepath.Base(path), err)
	}
	return nil
}

// readPlan loads a previously saved plan document. Steps of unknown kind
// decode as Unknown and execute as skipped.
func readPlan(path string) (plan.Document, error) {
	var doc plan.Document
	b, err := os.ReadFile(path)
	if err != nil {
		return doc, fmt.Errorf("pipeline: read plan: %w", err)
	}
	if err := json.Unmarshal(b, &doc); err != nil {
		return doc, fmt.Errorf("pipeline: parse plan %s: %w", path, err)
	}
	return doc, nil
}
