package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultIsValid(t *testing.T) {
	t.Parallel()
	cfg := Default()
	cfg.Normalize()
	for _, iss := range Validate(cfg) {
		if iss.Severity == SeverityError {
			t.Errorf("default config: %s: %s", iss.Path, iss.Message)
		}
	}
	if len(cfg.Datasets) != 5 {
		t.Fatalf("default datasets = %d, want 5", len(cfg.Datasets))
	}
	if got := cfg.Datasets[4].Metadata; got != "" {
		t.Errorf("nymex_gas_prices metadata = %q, want none", got)
	}
	if got := cfg.Datasets[0].ExpectedRows; got != 29384 {
		t.Errorf("co2_emissions expected rows = %d, want 29384", got)
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "dq.json")
	body := `{
		"data": {"dir": "/srv/raw", "out_dir": ""},
		"datasets": [{"name": "prices", "csv": "prices.csv"}],
		"analysis": {"outlier_iqr_multiplier": 1.5},
		"runtime": {"workers": 4}
	}`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Data.Dir != "/srv/raw" {
		t.Errorf("Data.Dir = %q, want /srv/raw", cfg.Data.Dir)
	}
	if cfg.Data.OutDir != "cleaned_data" {
		t.Errorf("Data.OutDir = %q, want cleaned_data (normalized)", cfg.Data.OutDir)
	}
	if len(cfg.Datasets) != 1 {
		t.Fatalf("datasets = %d, want file value to replace defaults", len(cfg.Datasets))
	}
	if cfg.Datasets[0].Table != "prices" {
		t.Errorf("Table = %q, want dataset name fallback", cfg.Datasets[0].Table)
	}
	if cfg.Analysis.OutlierIQRMultiplier != 1.5 {
		t.Errorf("multiplier = %v, want 1.5", cfg.Analysis.OutlierIQRMultiplier)
	}
	if cfg.Runtime.Workers != 4 {
		t.Errorf("workers = %d, want 4", cfg.Runtime.Workers)
	}
	// Fields the file does not mention keep their defaults.
	if cfg.Planner.MinYear != 1750 || cfg.Planner.MaxYear != 2025 {
		t.Errorf("year bounds = [%d,%d], want defaults [1750,2025]", cfg.Planner.MinYear, cfg.Planner.MaxYear)
	}
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()
	if _, err := Load(filepath.Join(t.TempDir(), "absent.json")); err == nil {
		t.Fatal("Load on a missing file: err = nil, want error")
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		mutate   func(*Config)
		path     string
		severity Severity
	}{
		{
			name:     "no datasets",
			mutate:   func(c *Config) { c.Datasets = nil },
			path:     "datasets",
			severity: SeverityError,
		},
		{
			name: "duplicate dataset name",
			mutate: func(c *Config) {
				c.Datasets = append(c.Datasets, Dataset{Name: "co2_emissions", CSV: "dup.csv"})
			},
			path:     "datasets[5].name",
			severity: SeverityError,
		},
		{
			name:     "missing csv",
			mutate:   func(c *Config) { c.Datasets[0].CSV = "" },
			path:     "datasets[0].csv",
			severity: SeverityError,
		},
		{
			name:     "negative expected rows",
			mutate:   func(c *Config) { c.Datasets[1].ExpectedRows = -1 },
			path:     "datasets[1].expected_rows",
			severity: SeverityError,
		},
		{
			name:     "unknown storage kind",
			mutate:   func(c *Config) { c.Storage.Kind = "oracle" },
			path:     "storage.kind",
			severity: SeverityError,
		},
		{
			name:     "unknown metrics backend warns",
			mutate:   func(c *Config) { c.Metrics.Backend = "statsd" },
			path:     "metrics.backend",
			severity: SeverityWarn,
		},
		{
			name:     "inverted year bounds",
			mutate:   func(c *Config) { c.Planner.MinYear, c.Planner.MaxYear = 2025, 1750 },
			path:     "planner",
			severity: SeverityError,
		},
		{
			name:     "tight multiplier warns",
			mutate:   func(c *Config) { c.Analysis.OutlierIQRMultiplier = 0.5 },
			path:     "analysis.outlier_iqr_multiplier",
			severity: SeverityWarn,
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := Default()
			tt.mutate(&cfg)
			found := false
			for _, iss := range Validate(cfg) {
				if iss.Path == tt.path && iss.Severity == tt.severity {
					found = true
				}
			}
			if !found {
				t.Errorf("Validate: no %s issue at %q in %v", tt.severity, tt.path, Validate(cfg))
			}
		})
	}
}

func TestNormalize(t *testing.T) {
	t.Parallel()
	cfg := Config{
		Datasets: []Dataset{{Name: "a", CSV: "a.csv"}, {Name: "b", CSV: "b.csv", Table: "custom"}},
	}
	cfg.Normalize()
	if cfg.Datasets[0].Table != "a" {
		t.Errorf("Table = %q, want name fallback", cfg.Datasets[0].Table)
	}
	if cfg.Datasets[1].Table != "custom" {
		t.Errorf("Table = %q, want explicit value kept", cfg.Datasets[1].Table)
	}
	if cfg.Runtime.Workers != 1 {
		t.Errorf("Workers = %d, want 1", cfg.Runtime.Workers)
	}
	if cfg.Analysis.OutlierIQRMultiplier != 3 {
		t.Errorf("multiplier = %v, want 3", cfg.Analysis.OutlierIQRMultiplier)
	}
}
