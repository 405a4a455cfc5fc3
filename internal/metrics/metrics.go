// Package metrics provides a small, backend-agnostic abstraction for recording
// operational metrics from data-quality runs.
//
// The package is intentionally minimal and opinionated:
//
//   - It exposes a narrow interface (Backend) focused on counters and timing
//     data (histograms).
//   - It provides a global, pluggable backend that defaults to a no-op
//     implementation, so metrics are always safe to call even when no real
//     backend is configured.
//   - It mirrors the storage abstraction pattern used elsewhere in the project
//     (storage.Repository), allowing the rest of the codebase to depend only
//     on this interface while keeping concrete metric systems isolated in
//     subpackages.
//
// The primary use case is instrumentation of the analyze/plan/execute pipeline
// without coupling the core packages to a specific metrics system such as
// Prometheus or Datadog.
package metrics

import "time"

// Labels are string key/value pairs attached to a metric.
type Labels map[string]string

// Backend is the minimal interface for metrics backends.
// It is intentionally generic so we can plug in Prometheus, Datadog, etc.
type Backend interface {
	// IncCounter increments a counter by delta.
	IncCounter(name string, delta float64, labels Labels)
	// ObserveHistogram records a value in a latency/duration style metric.
	ObserveHistogram(name string, value float64, labels Labels)
	// Flush pushes or flushes metrics, if the backend needs it (e.g. Pushgateway).
	Flush() error
}

// nopBackend is used by default so metrics are optional.
type nopBackend struct{}

func (nopBackend) IncCounter(name string, delta float64, labels Labels)       {}
func (nopBackend) ObserveHistogram(name string, value float64, labels Labels) {}
func (nopBackend) Flush() error                                               { return nil }

var backend Backend = nopBackend{}

// SetBackend installs a concrete backend. Passing nil keeps the existing backend.
func SetBackend(b Backend) {
	if b == nil {
		return
	}
	backend = b
}

// Flush delegates to the current backend.
func Flush() error {
	return backend.Flush()
}

// RecordStep is a convenience for the common pattern:
// measure latency + outcome per executed cleaning or transformation step.
//
// Status mirrors the execution log entries: "success", "error" or "skipped".
func RecordStep(dataset, step, status string, d time.Duration) {
	lbls := Labels{
		"dataset": dataset,
		"step":    step,
		"status":  status,
	}

	backend.IncCounter("dq_step_total", 1, lbls)
	backend.ObserveHistogram("dq_step_duration_seconds", d.Seconds(), lbls)
}

// RecordRows increments a row-level counter for the given dataset and kind.
//
// Typical kinds mirror the run summary fields, e.g.:
//   - "original"
//   - "cleaned"
//   - "removed"
//   - "loaded"
func RecordRows(dataset, kind string, delta int64) {
	if delta <= 0 {
		return
	}
	backend.IncCounter("dq_rows_total", float64(delta), Labels{
		"dataset": dataset,
		"kind":    kind,
	})
}

// RecordDataset counts one processed dataset, tagged by outcome.
func RecordDataset(dataset string, err error) {
	status := "success"
	if err != nil {
		status = "failure"
	}
	backend.IncCounter("dq_datasets_total", 1, Labels{
		"dataset": dataset,
		"status":  status,
	})
}
