// Package prompush implements a Prometheus Pushgateway backend for the
// metrics package.
//
// This package adapts the generic metrics.Backend interface to Prometheus by:
//
//   - Using client_golang CounterVec and SummaryVec collectors.
//   - Mapping the pipeline labels (dataset, step, status, kind) onto
//     Prometheus labels.
//   - Pushing collected metrics to a Prometheus Pushgateway instance instead
//     of exposing an HTTP scrape endpoint, which suits batch-style runs.
//
// The package intentionally contains all Prometheus-specific dependencies so
// that the rest of the project remains decoupled from Prometheus and can swap
// to alternative backends (e.g. Datadog) without changes to the core
// pipeline.
package prompush

import (
	"fmt"

	"dq/internal/metrics"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
)

// Backend is a Prometheus Pushgateway metrics backend.
type Backend struct {
	gatewayURL string // e.g. http://pushgateway:9091
	jobName    string // Pushgateway "job" group
	reg        *prometheus.Registry

	// Step-level metrics
	stepCounter  *prometheus.CounterVec // "dq_step_total"
	stepDuration *prometheus.SummaryVec // "dq_step_duration_seconds" (summary)

	// Row and dataset level counters
	rowCounter     *prometheus.CounterVec // "dq_rows_total"
	datasetCounter *prometheus.CounterVec // "dq_datasets_total"
}

// NewBackend constructs a Prometheus Pushgateway backend.
// jobName: the Pushgateway "job" name (often same as pipeline job).
// gatewayURL: base URL of the Pushgateway server.
func NewBackend(jobName, gatewayURL string) (*Backend, error) {
	if gatewayURL == "" {
		return nil, fmt.Errorf("prompush: gateway URL is required")
	}
	if jobName == "" {
		jobName = "dq"
	}

	reg := prometheus.NewRegistry()

	// The Pushgateway "job" grouping key carries the run identity; the
	// dynamic labels carry dataset/step/status dimensions.
	stepCounter := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dq_step_total",
			Help: "Total number of executed cleaning/transformation steps, partitioned by step and status.",
		},
		[]string{"step", "status"},
	)
	stepDuration := prometheus.NewSummaryVec(
		prometheus.SummaryOpts{
			Name:       "dq_step_duration_seconds",
			Help:       "Duration of cleaning/transformation steps in seconds, partitioned by step and status.",
			Objectives: map[float64]float64{0.5: 0.05, 0.9: 0.01, 0.99: 0.001},
		},
		[]string{"step", "status"},
	)

	// ROW metrics: dataset + kind (original, cleaned, removed, loaded).
	rowCounter := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dq_rows_total",
			Help: "Row-level counts per dataset and kind (original, cleaned, removed, loaded).",
		},
		[]string{"dataset", "kind"},
	)

	// DATASET metrics: one increment per processed dataset, by outcome.
	datasetCounter := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dq_datasets_total",
			Help: "Total number of datasets processed, partitioned by outcome status.",
		},
		[]string{"status"},
	)

	if err := reg.Register(stepCounter); err != nil {
		return nil, fmt.Errorf("prompush: register step counter: %w", err)
	}
	if err := reg.Register(stepDuration); err != nil {
		return nil, fmt.Errorf("prompush: register step summary: %w", err)
	}
	if err := reg.Register(rowCounter); err != nil {
		return nil, fmt.Errorf("prompush: register row counter: %w", err)
	}
	if err := reg.Register(datasetCounter); err != nil {
		return nil, fmt.Errorf("prompush: register dataset counter: %w", err)
	}

	return &Backend{
		gatewayURL:     gatewayURL,
		jobName:        jobName,
		reg:            reg,
		stepCounter:    stepCounter,
		stepDuration:   stepDuration,
		rowCounter:     rowCounter,
		datasetCounter: datasetCounter,
	}, nil
}

func (b *Backend) IncCounter(name string, delta float64, labels metrics.Labels) {
	switch name {
	case "dq_step_total":
		if b.stepCounter == nil {
			return
		}
		step := labels["step"]
		status := labels["status"]
		b.stepCounter.WithLabelValues(step, status).Add(delta)

	case "dq_rows_total":
		if b.rowCounter == nil {
			return
		}
		dataset := labels["dataset"]
		kind := labels["kind"]
		b.rowCounter.WithLabelValues(dataset, kind).Add(delta)

	case "dq_datasets_total":
		if b.datasetCounter == nil {
			return
		}
		status := labels["status"]
		b.datasetCounter.WithLabelValues(status).Add(delta)

	default:
		// unknown metric name: ignore
	}
}

func (b *Backend) ObserveHistogram(name string, value float64, labels metrics.Labels) {
	if name != "dq_step_duration_seconds" || b.stepDuration == nil {
		return
	}
	step := labels["step"]
	status := labels["status"]
	b.stepDuration.WithLabelValues(step, status).Observe(value)
}

// Flush pushes the current registry to the Pushgateway.
func (b *Backend) Flush() error {
	return push.New(b.gatewayURL, b.jobName).
		Gatherer(b.reg).
		Push()
}

var _ metrics.Backend = (*Backend)(nil)
