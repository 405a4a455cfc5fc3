// Command dq runs the data-quality pipeline: analyze the configured
// datasets, generate the cleaning plan, execute it and write the artifact
// set (plan, cleaned CSVs, execution log, summary reports).
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"dq/internal/config"
	"dq/internal/metrics"
	"dq/internal/metrics/datadog"
	"dq/internal/metrics/prompush"
	"dq/internal/pipeline"
)

// runner is the pipeline surface the CLI drives.
type runner interface {
	Run(ctx context.Context, cfg config.Config) (pipeline.RunResult, error)
}

// appDeps carries the side-effecting dependencies so tests can run the CLI
// without disk, network or a real pipeline.
type appDeps struct {
	readFile    func(string) ([]byte, error)
	unmarshal   func([]byte, any) error
	newRunner   func(planOnly bool, fromPlan, runID string) runner
	initMetrics func(ctx context.Context, job, backend, gatewayURL string, tags []string) (func(), error)
}

func defaultDeps() appDeps {
	return appDeps{
		readFile:  os.ReadFile,
		unmarshal: json.Unmarshal,
		newRunner: func(planOnly bool, fromPlan, runID string) runner {
			return &pipeline.Runner{
				PlanOnly: planOnly,
				FromPlan: fromPlan,
				NewRunID: func() string { return runID },
			}
		},
		initMetrics: initMetrics,
	}
}

func main() {
	// Optional .env file; absence is not an error.
	_ = godotenv.Load()
	os.Exit(runMain(context.Background(), os.Args[1:], os.Stdout, os.Stderr, defaultDeps()))
}

func runMain(ctx context.Context, args []string, stdout, stderr io.Writer, deps appDeps) int {
	fs := flag.NewFlagSet("dq", flag.ContinueOnError)
	fs.SetOutput(stderr)

	var (
		cfgPath        string
		planOnly       bool
		fromPlan       string
		workers        int
		metricsBackend string
		gatewayURL     string
		validate       bool
	)
	fs.StringVar(&cfgPath, "config", "", "run config JSON path (built-in defaults when empty)")
	fs.BoolVar(&planOnly, "plan-only", false, "write the plan document and exit without executing")
	fs.StringVar(&fromPlan, "from-plan", "", "execute a previously saved plan document")
	fs.IntVar(&workers, "workers", 0, "dataset parallelism (overrides config when positive)")
	fs.StringVar(&metricsBackend, "metrics-backend", "", "metrics backend (none, datadog, pushgateway)")
	fs.StringVar(&gatewayURL, "pushgateway-url", "", "Pushgateway base URL (overrides env PUSHGATEWAY_URL)")
	fs.BoolVar(&validate, "validate", false, "validate the configuration and exit")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if planOnly && fromPlan != "" {
		fmt.Fprintln(stderr, "usage: dq: -plan-only and -from-plan are mutually exclusive")
		return 2
	}

	cfg := config.Default()
	if path := strings.TrimSpace(cfgPath); path != "" {
		b, err := deps.readFile(path)
		if err != nil {
			fmt.Fprintf(stderr, "read config: %v\n", err)
			return 1
		}
		if err := deps.unmarshal(b, &cfg); err != nil {
			fmt.Fprintf(stderr, "parse config: %v\n", err)
			return 1
		}
		cfg.Normalize()
	}
	if workers > 0 {
		cfg.Runtime.Workers = workers
	}

	hasError := false
	for _, iss := range config.Validate(cfg) {
		fmt.Fprintf(stderr, "%s: %s: %s\n", iss.Severity, iss.Path, iss.Message)
		if iss.Severity == config.SeverityError {
			hasError = true
		}
	}
	if hasError {
		fmt.Fprintln(stderr, "invalid configuration")
		return 1
	}
	if validate {
		fmt.Fprintln(stdout, "configuration valid")
		return 0
	}

	runID := uuid.NewString()

	backendName := metricsBackend
	if backendName == "" {
		backendName = cfg.Metrics.Backend
	}
	if backendName == "" {
		backendName = os.Getenv("METRICS_BACKEND")
	}
	gwURL := gatewayURL
	if gwURL == "" {
		gwURL = cfg.Metrics.Gateway
	}
	if gwURL == "" {
		gwURL = os.Getenv("PUSHGATEWAY_URL")
	}
	if gwURL == "" {
		gwURL = "http://localhost:9091"
	}
	tags := append([]string(nil), cfg.Metrics.Tags...)
	tags = append(tags, datadog.ParseTagsCSV(os.Getenv("METRICS_TAGS"))...)
	tags = append(tags, "run:"+runID)

	cleanup, err := deps.initMetrics(ctx, cfg.Metrics.Job, backendName, gwURL, tags)
	if err != nil {
		fmt.Fprintf(stderr, "init metrics: %v\n", err)
		return 1
	}
	defer cleanup()

	res, err := deps.newRunner(planOnly, fromPlan, runID).Run(ctx, cfg)
	if err != nil {
		fmt.Fprintf(stderr, "run: %v\n", err)
		return 1
	}
	if len(cfg.Datasets) > 0 && len(res.InputErrors) == len(cfg.Datasets) {
		fmt.Fprintf(stderr, "run: no dataset processed (%d failures)\n", len(res.InputErrors))
		return 1
	}

	fmt.Fprintln(stdout, "ok")
	return 0
}

// Seams for initMetrics so tests can intercept backend construction and the
// global facade mutation.
type metricsBackend interface {
	Close() error
}

var (
	newDatadogBackend = func(ctx context.Context, opts datadog.Options) (metricsBackend, error) {
		return datadog.NewBackend(ctx, opts)
	}
	newPushBackend = func(job, gatewayURL string) (metrics.Backend, error) {
		return prompush.NewBackend(job, gatewayURL)
	}
	setMetricsBackend = func(b any) {
		if mb, ok := b.(metrics.Backend); ok {
			metrics.SetBackend(mb)
		}
	}
	flushMetrics = func() error { return metrics.Flush() }
	logPrintf    = log.Printf
)

// initMetrics wires the selected backend into the metrics facade. The
// returned cleanup flushes buffered series and is always safe to call.
func initMetrics(ctx context.Context, job, backendName, gatewayURL string, tags []string) (func(), error) {
	switch backendName {
	case "", "none":
		return func() {}, nil

	case "pushgateway":
		b, err := newPushBackend(job, gatewayURL)
		if err != nil {
			return func() {}, fmt.Errorf("pushgateway: %w", err)
		}
		setMetricsBackend(b)
		return func() {
			if err := flushMetrics(); err != nil {
				logPrintf("metrics: flush error: %v", err)
			}
		}, nil

	case "datadog", "dd":
		b, err := newDatadogBackend(ctx, datadog.Options{JobName: job, Tags: tags})
		if err != nil {
			return func() {}, fmt.Errorf("datadog: %w", err)
		}
		setMetricsBackend(b)
		return func() {
			if err := b.Close(); err != nil {
				logPrintf("metrics: datadog close error: %v", err)
			}
		}, nil

	default:
		return func() {}, fmt.Errorf("unknown metrics backend %q (none|datadog|pushgateway)", backendName)
	}
}
