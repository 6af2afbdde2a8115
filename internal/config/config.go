// Package config provides the run configuration of mkbench: which cases to
// run against which backends, how often, and where the report goes.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/eunmann/mkbench/pkg/bench"
	"github.com/eunmann/mkbench/pkg/fixture"
	"github.com/eunmann/mkbench/pkg/mk/pebblemk"
	"github.com/eunmann/mkbench/pkg/mk/sqlitemk"
)

// All selects every backend or every case.
const All = "all"

// Config holds the configuration of one mkbench invocation.
type Config struct {
	// Backends lists the backends to run against, or ["all"].
	Backends []string `yaml:"backends"`

	// Cases lists the cases to run, or ["all"].
	Cases []string `yaml:"cases"`

	// Workers is the number of concurrent workers. 0 uses one per CPU.
	Workers int `yaml:"workers"`

	// Warmups and Runs override the per-case iteration counts when >= 0.
	Warmups int `yaml:"warmups"`
	Runs    int `yaml:"runs"`

	// Seed derives every worker's random source.
	Seed uint64 `yaml:"seed"`

	// DataDir holds on-disk backend files. Empty uses temporary directories.
	DataDir string `yaml:"data_dir"`

	// Out is the path of the Parquet report. Empty skips the report.
	Out string `yaml:"out"`

	// S3URI uploads the report to S3 when set.
	S3URI string `yaml:"s3_uri"`

	// SQLite holds SQLite backend tuning.
	SQLite SQLiteConfig `yaml:"sqlite"`

	// Pebble holds Pebble backend tuning.
	Pebble PebbleConfig `yaml:"pebble"`

	// Log configures logging.
	Log LogConfig `yaml:"log"`
}

// SQLiteConfig holds SQLite tuning.
type SQLiteConfig struct {
	Synchronous   string `yaml:"synchronous"`
	BusyTimeoutMs int    `yaml:"busy_timeout_ms"`
	CacheSizeKB   int    `yaml:"cache_size_kb"`
}

// PebbleConfig holds Pebble tuning.
type PebbleConfig struct {
	// InMemory keeps the engine on an in-memory filesystem.
	InMemory  bool  `yaml:"in_memory"`
	Sync      bool  `yaml:"sync"`
	CacheSize int64 `yaml:"cache_size"`
}

// LogConfig holds logging options.
type LogConfig struct {
	Debug bool `yaml:"debug"`
	Human bool `yaml:"human"`
}

// DefaultConfig returns the configuration used when nothing is set.
func DefaultConfig() *Config {
	sqlite := sqlitemk.DefaultConfig("")
	pebble := pebblemk.DefaultConfig()
	return &Config{
		Backends: []string{fixture.Memory},
		Cases:    []string{All},
		Warmups:  -1,
		Runs:     -1,
		Seed:     1,
		SQLite: SQLiteConfig{
			Synchronous:   sqlite.Synchronous,
			BusyTimeoutMs: int(sqlite.BusyTimeout.Milliseconds()),
			CacheSizeKB:   sqlite.CacheSizeKB,
		},
		Pebble: PebbleConfig{
			Sync:      pebble.Sync,
			CacheSize: pebble.CacheSize,
		},
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if len(c.Backends) == 0 {
		return fmt.Errorf("at least one backend is required")
	}
	for _, b := range c.Backends {
		if b != All && !slices.Contains(fixture.Names, b) {
			return fmt.Errorf("invalid backend: %s (must be all or one of %v)", b, fixture.Names)
		}
	}
	if len(c.Cases) == 0 {
		return fmt.Errorf("at least one case is required")
	}
	for _, name := range c.Cases {
		if name != All && !slices.Contains(bench.CaseNames, name) {
			return fmt.Errorf("invalid case: %s (must be all or one of %v)", name, bench.CaseNames)
		}
	}
	if c.Workers < 0 {
		return fmt.Errorf("workers must be non-negative, got %d", c.Workers)
	}
	if c.S3URI != "" && c.Out == "" {
		return fmt.Errorf("s3_uri requires out")
	}
	return nil
}

// BackendNames expands "all" into every backend name.
func (c *Config) BackendNames() []string {
	return expand(c.Backends, fixture.Names)
}

// CaseNames expands "all" into every case name.
func (c *Config) CaseNames() []string {
	return expand(c.Cases, bench.CaseNames)
}

func expand(names, all []string) []string {
	if slices.Contains(names, All) {
		return all
	}
	return names
}

// FixtureConfig returns the settings every backend fixture is built from.
func (c *Config) FixtureConfig() fixture.Config {
	sqlite := sqlitemk.DefaultConfig("")
	if c.SQLite.Synchronous != "" {
		sqlite.Synchronous = c.SQLite.Synchronous
	}
	if c.SQLite.BusyTimeoutMs > 0 {
		sqlite.BusyTimeout = time.Duration(c.SQLite.BusyTimeoutMs) * time.Millisecond
	}
	if c.SQLite.CacheSizeKB > 0 {
		sqlite.CacheSizeKB = c.SQLite.CacheSizeKB
	}

	pebble := pebblemk.DefaultConfig()
	pebble.Sync = c.Pebble.Sync
	if c.Pebble.CacheSize > 0 {
		pebble.CacheSize = c.Pebble.CacheSize
	}

	return fixture.Config{
		DataDir:        c.DataDir,
		SQLite:         sqlite,
		Pebble:         pebble,
		PebbleInMemory: c.Pebble.InMemory,
	}
}

// LoadFromFile loads configuration from a YAML file on top of the defaults.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config file format: %s", ext)
	}
	return cfg, nil
}

// LoadDotEnv loads variables from the given .env files into the process
// environment. Missing files are ignored; variables already set win.
func LoadDotEnv(paths ...string) error {
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("failed to load %s: %w", p, err)
		}
	}
	return nil
}

// LoadFromEnv overlays environment variables onto cfg.
// Environment variables use the MKBENCH_ prefix.
func LoadFromEnv(cfg *Config) error {
	if v := os.Getenv("MKBENCH_BACKENDS"); v != "" {
		cfg.Backends = splitList(v)
	}
	if v := os.Getenv("MKBENCH_CASES"); v != "" {
		cfg.Cases = splitList(v)
	}
	if v := os.Getenv("MKBENCH_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("MKBENCH_OUT"); v != "" {
		cfg.Out = v
	}
	if v := os.Getenv("MKBENCH_S3_URI"); v != "" {
		cfg.S3URI = v
	}
	if v := os.Getenv("MKBENCH_SQLITE_SYNCHRONOUS"); v != "" {
		cfg.SQLite.Synchronous = v
	}

	ints := []struct {
		name string
		dst  *int
	}{
		{"MKBENCH_WORKERS", &cfg.Workers},
		{"MKBENCH_WARMUPS", &cfg.Warmups},
		{"MKBENCH_RUNS", &cfg.Runs},
		{"MKBENCH_SQLITE_BUSY_TIMEOUT_MS", &cfg.SQLite.BusyTimeoutMs},
	}
	for _, e := range ints {
		v := os.Getenv(e.name)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", e.name, err)
		}
		*e.dst = n
	}

	if v := os.Getenv("MKBENCH_SEED"); v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid MKBENCH_SEED: %w", err)
		}
		cfg.Seed = n
	}
	if v := os.Getenv("MKBENCH_PEBBLE_IN_MEMORY"); v != "" {
		cfg.Pebble.InMemory = v == "true" || v == "1"
	}
	if v := os.Getenv("MKBENCH_DEBUG"); v != "" {
		cfg.Log.Debug = v == "true" || v == "1"
	}
	return nil
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
