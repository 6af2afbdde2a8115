// Package cli implements the command-line interface for mkbench.
package cli

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/eunmann/mkbench/internal/config"
	"github.com/eunmann/mkbench/internal/logctx"
	"github.com/eunmann/mkbench/pkg/bench"
	"github.com/eunmann/mkbench/pkg/fixture"
	"github.com/eunmann/mkbench/pkg/logging"
	"github.com/eunmann/mkbench/pkg/memdiag"
	"github.com/eunmann/mkbench/pkg/report"
)

// Run executes the CLI with the given arguments.
func Run(args []string) error {
	if len(args) == 0 {
		return errors.New("usage: mkbench <command> [options]\ncommands: run")
	}

	switch args[0] {
	case "run":
		return runBench(args[1:])
	default:
		return fmt.Errorf("unknown command: %s", args[0])
	}
}

func runBench(args []string) error {
	cfg, err := parseRunFlags(args)
	if err != nil {
		return err
	}

	logging.Init(cfg.Log.Debug, cfg.Log.Human)
	logctx.SetDefaultLogger(*logging.L())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	tracker := memdiag.NewTracker(memdiag.DefaultConfig())
	tracker.Start()
	defer tracker.Stop()

	return execute(ctx, cfg, tracker)
}

// parseRunFlags layers the run configuration: defaults, then the config
// file, then .env and MKBENCH_* variables, then explicitly set flags.
func parseRunFlags(args []string) (*config.Config, error) {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	configPath := fs.String("config", "", "YAML run configuration file")
	envFile := fs.String("env-file", ".env", "file of MKBENCH_* variables to load if present")
	backend := fs.String("backend", "", "comma-separated backends: memory, sqlite, pebble or all")
	caseName := fs.String("case", "", "comma-separated cases: add, read, update or all")
	warmups := fs.Int("warmup", -1, "warmup iterations per case (-1 uses the case default)")
	runs := fs.Int("runs", -1, "measured iterations per case (-1 uses the case default)")
	workers := fs.Int("workers", 0, "concurrent workers (0 uses one per CPU)")
	seed := fs.Uint64("seed", 0, "seed of the workers' random sources")
	dataDir := fs.String("data-dir", "", "directory for on-disk backend files")
	out := fs.String("out", "", "path of the Parquet report")
	s3URI := fs.String("s3-uri", "", "S3 URI to upload the report to (s3://bucket/prefix/)")
	debug := fs.Bool("debug", false, "enable debug logging")
	human := fs.Bool("human", false, "human-friendly console logging")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if fs.NArg() > 0 {
		return nil, fmt.Errorf("unexpected arguments: %s", strings.Join(fs.Args(), " "))
	}

	cfg := config.DefaultConfig()
	if *configPath != "" {
		loaded, err := config.LoadFromFile(*configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	if err := config.LoadDotEnv(*envFile); err != nil {
		return nil, err
	}
	if err := config.LoadFromEnv(cfg); err != nil {
		return nil, err
	}

	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "backend":
			cfg.Backends = splitFlag(*backend)
		case "case":
			cfg.Cases = splitFlag(*caseName)
		case "warmup":
			cfg.Warmups = *warmups
		case "runs":
			cfg.Runs = *runs
		case "workers":
			cfg.Workers = *workers
		case "seed":
			cfg.Seed = *seed
		case "data-dir":
			cfg.DataDir = *dataDir
		case "out":
			cfg.Out = *out
		case "s3-uri":
			cfg.S3URI = *s3URI
		case "debug":
			cfg.Log.Debug = *debug
		case "human":
			cfg.Log.Human = *human
		}
	})

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func splitFlag(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// execute measures every selected case on every selected backend, then
// writes and uploads the report. A failing case stops the run, but the
// samples gathered so far are still reported.
func execute(ctx context.Context, cfg *config.Config, tracker *memdiag.Tracker) error {
	log := logging.L()
	runID := uuid.NewString()
	start := time.Now()

	var records []report.Record
	var runErr error

cases:
	for _, backend := range cfg.BackendNames() {
		for _, name := range cfg.CaseNames() {
			fx, err := fixture.New(backend, cfg.FixtureConfig())
			if err != nil {
				return err
			}
			c, err := bench.NewCase(name, cfg.Workers, cfg.Seed)
			if err != nil {
				return err
			}
			warmups, runs := c.Iterations()
			if cfg.Warmups >= 0 {
				warmups = cfg.Warmups
			}
			if cfg.Runs >= 0 {
				runs = cfg.Runs
			}

			clog := logging.WithCase(name, backend)
			clog.Info().
				Int("workers", c.Workers()).
				Int("warmups", warmups).
				Int("runs", runs).
				Msg("measuring case")

			tracker.SetPhase(name + "/" + backend)
			h := &bench.Harness{Fixture: fx, RunID: runID}
			m, err := h.Measure(ctx, c, warmups, runs)
			if m != nil {
				records = append(records, report.FromMeasurement(m, time.Now())...)
			}
			if err != nil {
				clog.Error().Err(err).Msg("case failed, stopping run")
				runErr = fmt.Errorf("%s case on %s: %w", name, backend, err)
				break cases
			}
		}
	}

	if cfg.Out != "" && len(records) > 0 {
		if err := report.WriteParquet(cfg.Out, records); err != nil {
			return errors.Join(runErr, err)
		}
		if cfg.S3URI != "" {
			uploader, err := report.NewUploader(ctx)
			if err != nil {
				return errors.Join(runErr, err)
			}
			if _, err := uploader.Upload(ctx, cfg.Out, cfg.S3URI); err != nil {
				return errors.Join(runErr, err)
			}
		}
	}

	ev := logging.PhaseComplete(*log, "run", time.Since(start)).
		Str("run_id", runID).
		Count("records", int64(len(records)))
	if peak := tracker.PeakHeap(); peak > 0 {
		ev.Bytes("peak_heap", int64(peak))
	}
	ev.Log("benchmark run finished")
	return runErr
}
