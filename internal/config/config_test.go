package config

import (
	"os"
	"path/filepath"
	"slices"
	"testing"
	"time"

	"github.com/eunmann/mkbench/pkg/bench"
	"github.com/eunmann/mkbench/pkg/fixture"
)

func TestDefaultConfigValid(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if !slices.Equal(cfg.BackendNames(), []string{fixture.Memory}) {
		t.Errorf("backends = %v", cfg.BackendNames())
	}
	if !slices.Equal(cfg.CaseNames(), bench.CaseNames) {
		t.Errorf("cases = %v, want all", cfg.CaseNames())
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"no backends", func(c *Config) { c.Backends = nil }},
		{"unknown backend", func(c *Config) { c.Backends = []string{"hbase"} }},
		{"no cases", func(c *Config) { c.Cases = nil }},
		{"unknown case", func(c *Config) { c.Cases = []string{"delete"} }},
		{"negative workers", func(c *Config) { c.Workers = -1 }},
		{"upload without report", func(c *Config) { c.S3URI = "s3://bench/" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mkbench.yaml")
	data := `
backends: [sqlite, pebble]
cases: [read]
workers: 4
runs: 5
seed: 42
out: results.parquet
sqlite:
  synchronous: "OFF"
  busy_timeout_ms: 500
pebble:
  in_memory: true
log:
  human: true
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if !slices.Equal(cfg.BackendNames(), []string{fixture.SQLite, fixture.Pebble}) {
		t.Errorf("backends = %v", cfg.BackendNames())
	}
	if cfg.Workers != 4 || cfg.Runs != 5 || cfg.Seed != 42 {
		t.Errorf("workers/runs/seed = %d/%d/%d", cfg.Workers, cfg.Runs, cfg.Seed)
	}
	// Unset keys keep their defaults.
	if cfg.Warmups != -1 {
		t.Errorf("warmups = %d, want default -1", cfg.Warmups)
	}
	if !cfg.Log.Human {
		t.Error("log.human not loaded")
	}

	fx := cfg.FixtureConfig()
	if fx.SQLite.Synchronous != "OFF" || fx.SQLite.BusyTimeout != 500*time.Millisecond {
		t.Errorf("sqlite = %+v", fx.SQLite)
	}
	if !fx.PebbleInMemory {
		t.Error("pebble in_memory not carried into the fixture config")
	}
}

func TestLoadFromFileErrors(t *testing.T) {
	dir := t.TempDir()
	if _, err := LoadFromFile(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}

	jsonPath := filepath.Join(dir, "mkbench.json")
	if err := os.WriteFile(jsonPath, []byte(`{}`), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadFromFile(jsonPath); err == nil {
		t.Error("expected error for unsupported format")
	}

	badPath := filepath.Join(dir, "bad.yaml")
	if err := os.WriteFile(badPath, []byte("workers: [1"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadFromFile(badPath); err == nil {
		t.Error("expected error for malformed YAML")
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("MKBENCH_BACKENDS", "memory, pebble")
	t.Setenv("MKBENCH_CASES", "all")
	t.Setenv("MKBENCH_WORKERS", "3")
	t.Setenv("MKBENCH_SEED", "99")
	t.Setenv("MKBENCH_DEBUG", "1")

	cfg := DefaultConfig()
	if err := LoadFromEnv(cfg); err != nil {
		t.Fatalf("LoadFromEnv: %v", err)
	}
	if !slices.Equal(cfg.Backends, []string{"memory", "pebble"}) {
		t.Errorf("backends = %v", cfg.Backends)
	}
	if cfg.Workers != 3 || cfg.Seed != 99 || !cfg.Log.Debug {
		t.Errorf("workers/seed/debug = %d/%d/%v", cfg.Workers, cfg.Seed, cfg.Log.Debug)
	}
}

func TestLoadFromEnvInvalidNumber(t *testing.T) {
	t.Setenv("MKBENCH_WORKERS", "many")
	if err := LoadFromEnv(DefaultConfig()); err == nil {
		t.Error("expected error for non-numeric MKBENCH_WORKERS")
	}
}

func TestLoadDotEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, []byte("MKBENCH_RUNS=7\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	// Registers cleanup of the variable godotenv is about to set.
	t.Setenv("MKBENCH_RUNS", "")
	os.Unsetenv("MKBENCH_RUNS")

	if err := LoadDotEnv(filepath.Join(t.TempDir(), "missing.env"), path); err != nil {
		t.Fatalf("LoadDotEnv: %v", err)
	}
	cfg := DefaultConfig()
	if err := LoadFromEnv(cfg); err != nil {
		t.Fatalf("LoadFromEnv: %v", err)
	}
	if cfg.Runs != 7 {
		t.Errorf("runs = %d, want 7 from .env", cfg.Runs)
	}
}
