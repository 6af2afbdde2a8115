package bench

import (
	"context"
	"fmt"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/eunmann/mkbench/internal/logctx"
	"github.com/eunmann/mkbench/pkg/fixture"
	"github.com/eunmann/mkbench/pkg/pathutil"
	"github.com/eunmann/mkbench/pkg/runner"
	"github.com/eunmann/mkbench/pkg/treebuild"
	"github.com/eunmann/mkbench/pkg/workload"
)

// ReadConfig configures the concurrent read case.
type ReadConfig struct {
	Settings
	// SeedRate is the commit rate used to build the initial tree.
	SeedRate int
	// Reader configures every read worker. Its Height and
	// BranchingFactor also describe the initial tree.
	Reader workload.ReaderConfig
}

// DefaultReadConfig returns the reference read workload for workers workers.
func DefaultReadConfig(workers int) ReadConfig {
	return ReadConfig{
		Settings: Settings{
			Workers: workers,
			Timeout: 60 * time.Minute,
			Warmups: 2,
			Runs:    3,
		},
		SeedRate: 1000,
		Reader:   workload.DefaultReaderConfig(),
	}
}

// Validate checks configuration values and returns an error for invalid settings.
func (c *ReadConfig) Validate() error {
	if err := c.Settings.Validate(); err != nil {
		return err
	}
	if err := c.Reader.Validate(); err != nil {
		return err
	}
	spec := c.treeSpec()
	return spec.Validate()
}

func (c *ReadConfig) treeSpec() treebuild.Spec {
	spec := treebuild.NewSpec(pathutil.Root, c.Reader.Height, c.Reader.BranchingFactor, c.SeedRate)
	spec.Prefix = c.Reader.Prefix
	return spec
}

// ReadCase seeds one tree through a throwaway handle, then has every worker
// read random subtrees of it through its own handle, favouring subtree
// worker mod branching factor.
type ReadCase struct {
	pool
	cfg ReadConfig
}

// NewReadCase validates cfg and returns the case.
func NewReadCase(cfg ReadConfig) (*ReadCase, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid read config: %w", err)
	}
	return &ReadCase{pool: pool{settings: cfg.Settings}, cfg: cfg}, nil
}

func (c *ReadCase) Name() string { return Read }

// SetUp builds the tree to read and opens one handle per reader.
func (c *ReadCase) SetUp(ctx context.Context, fx fixture.Fixture) error {
	log := logctx.FromContext(ctx)
	log.Debug().Int("workers", c.cfg.Workers).Msg("creating initial tree")

	seeder, err := fx.CreateHandle(ctx)
	if err != nil {
		return errors.Wrap(err, "create seeding handle")
	}
	if _, err := treebuild.Build(ctx, seeder, c.cfg.treeSpec()); err != nil {
		return errors.Wrap(err, "seed read tree")
	}
	if err := fx.DisposeHandle(seeder); err != nil {
		return errors.Wrap(err, "dispose seeding handle")
	}

	log.Debug().Msg("creating read workers")
	tasks := make([]runner.Task, 0, c.cfg.Workers)
	for i := range c.cfg.Workers {
		k, err := fx.CreateHandle(ctx)
		if err != nil {
			return errors.Wrapf(err, "create handle for worker %d", i)
		}
		reader := workload.NewReader(k, i%c.cfg.Reader.BranchingFactor, workload.NewRand(c.cfg.Seed, i), c.cfg.Reader)
		tasks = append(tasks, func(ctx context.Context) (string, error) {
			return "", reader.Run(ctx)
		})
	}
	c.tasks = tasks
	return nil
}

func (c *ReadCase) Run(ctx context.Context) error {
	return c.run(ctx)
}
