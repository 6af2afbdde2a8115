// Package bench runs concurrency benchmark cases against a backend fixture:
// per-iteration setup, a timed concurrent run and an unconditional
// teardown, repeated for warmup and measured iterations.
package bench

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/eunmann/mkbench/internal/logctx"
	"github.com/eunmann/mkbench/pkg/fixture"
	"github.com/eunmann/mkbench/pkg/runner"
)

// Case names accepted by NewCase.
const (
	Add    = "add"
	Read   = "read"
	Update = "update"
)

// CaseNames lists every case in the order --case all runs them.
var CaseNames = []string{Add, Read, Update}

// Case is one concurrency benchmark. SetUp runs untimed before every
// iteration, Run is the timed part and TearDown always follows.
type Case interface {
	Name() string
	// Workers is the number of concurrent workers Run starts.
	Workers() int
	// Iterations returns the default number of warmup and measured
	// iterations.
	Iterations() (warmups, runs int)
	SetUp(ctx context.Context, fx fixture.Fixture) error
	Run(ctx context.Context) error
	TearDown(ctx context.Context) error
}

// Settings holds what every case shares.
type Settings struct {
	// Workers is the number of concurrent workers.
	Workers int
	// Timeout bounds one timed run.
	Timeout time.Duration
	// Warmups and Runs are the default iteration counts.
	Warmups int
	Runs    int
	// Seed derives every worker's random source.
	Seed uint64
}

// Validate checks the shared settings.
func (s *Settings) Validate() error {
	if s.Workers < 1 {
		return fmt.Errorf("Workers must be at least 1, got %d", s.Workers)
	}
	if s.Timeout < 0 {
		return fmt.Errorf("Timeout must be non-negative, got %v", s.Timeout)
	}
	if s.Warmups < 0 || s.Runs < 0 {
		return fmt.Errorf("iteration counts must be non-negative, got %d warmups and %d runs", s.Warmups, s.Runs)
	}
	return nil
}

// DefaultWorkers is the worker count of every case: one per CPU.
func DefaultWorkers() int {
	return runtime.NumCPU()
}

// pool is the part of a case that holds prepared worker tasks between
// SetUp and TearDown.
type pool struct {
	settings Settings
	tasks    []runner.Task
}

func (p *pool) Workers() int { return p.settings.Workers }

func (p *pool) Iterations() (int, int) { return p.settings.Warmups, p.settings.Runs }

// run executes the prepared tasks. Any worker failure fails the run.
func (p *pool) run(ctx context.Context) error {
	if p.tasks == nil {
		return errors.New("run called before setup")
	}
	r := runner.Runner{Timeout: p.settings.Timeout}
	res, err := r.Run(ctx, p.tasks)
	if err != nil {
		return err
	}
	log := logctx.FromContext(ctx)
	log.Debug().
		Dur("elapsed", res.Elapsed).
		Strs("results", res.Values).
		Msg("worker pool finished")
	return nil
}

func (p *pool) TearDown(context.Context) error {
	p.tasks = nil
	return nil
}

// NewCase returns the named case with its default settings and the given
// worker count and seed. workers <= 0 uses DefaultWorkers.
func NewCase(name string, workers int, seed uint64) (Case, error) {
	if workers <= 0 {
		workers = DefaultWorkers()
	}
	switch name {
	case Add:
		cfg := DefaultAddConfig(workers)
		cfg.Seed = seed
		return NewAddCase(cfg)
	case Read:
		cfg := DefaultReadConfig(workers)
		cfg.Seed = seed
		return NewReadCase(cfg)
	case Update:
		cfg := DefaultUpdateConfig(workers)
		cfg.Seed = seed
		return NewUpdateCase(cfg)
	default:
		return nil, fmt.Errorf("unknown case %q (want one of %v)", name, CaseNames)
	}
}
