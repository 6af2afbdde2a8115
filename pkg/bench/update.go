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

// UpdateConfig configures the concurrent update case.
type UpdateConfig struct {
	Settings
	// SeedRate is the commit rate used to build the initial tree.
	SeedRate int
	// Updater configures every update worker. Its Height and
	// BranchingFactor also describe the initial tree.
	Updater workload.UpdaterConfig
}

// DefaultUpdateConfig returns the reference update workload for workers
// workers. The tree has one root subtree per worker.
func DefaultUpdateConfig(workers int) UpdateConfig {
	return UpdateConfig{
		Settings: Settings{
			Workers: workers,
			Timeout: 60 * time.Second,
			Warmups: 3,
			Runs:    3,
		},
		SeedRate: 1000,
		Updater:  workload.DefaultUpdaterConfig(workers),
	}
}

// Validate checks configuration values and returns an error for invalid settings.
func (c *UpdateConfig) Validate() error {
	if err := c.Settings.Validate(); err != nil {
		return err
	}
	if err := c.Updater.Validate(); err != nil {
		return err
	}
	if c.Updater.BranchingFactor < c.Workers {
		return fmt.Errorf("Updater.BranchingFactor (%d) must cover every worker (%d)", c.Updater.BranchingFactor, c.Workers)
	}
	spec := c.treeSpec()
	return spec.Validate()
}

func (c *UpdateConfig) treeSpec() treebuild.Spec {
	spec := treebuild.NewSpec(pathutil.Root, c.Updater.Height, c.Updater.BranchingFactor, c.SeedRate)
	spec.Prefix = c.Updater.Prefix
	return spec
}

// UpdateCase seeds one tree, then has every worker add nodes and set
// properties at random positions in it, favouring its own root subtree.
type UpdateCase struct {
	pool
	cfg UpdateConfig
}

// NewUpdateCase validates cfg and returns the case.
func NewUpdateCase(cfg UpdateConfig) (*UpdateCase, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid update config: %w", err)
	}
	return &UpdateCase{pool: pool{settings: cfg.Settings}, cfg: cfg}, nil
}

func (c *UpdateCase) Name() string { return Update }

// SetUp builds the tree to update and opens one handle per updater. The
// seeding handle stays registered until the fixture tears down.
func (c *UpdateCase) SetUp(ctx context.Context, fx fixture.Fixture) error {
	log := logctx.FromContext(ctx)
	log.Debug().Int("workers", c.cfg.Workers).Msg("creating initial tree")

	seeder, err := fx.CreateHandle(ctx)
	if err != nil {
		return errors.Wrap(err, "create seeding handle")
	}
	if _, err := treebuild.Build(ctx, seeder, c.cfg.treeSpec()); err != nil {
		return errors.Wrap(err, "seed update tree")
	}

	log.Debug().Msg("creating update workers")
	counter := workload.NewCounter(int64(c.cfg.Updater.BranchingFactor))
	tasks := make([]runner.Task, 0, c.cfg.Workers)
	for i := range c.cfg.Workers {
		k, err := fx.CreateHandle(ctx)
		if err != nil {
			return errors.Wrapf(err, "create handle for worker %d", i)
		}
		updater := workload.NewUpdater(k, i, workload.NewRand(c.cfg.Seed, i), counter, c.cfg.Updater)
		tasks = append(tasks, updater.Run)
	}
	c.tasks = tasks
	return nil
}

func (c *UpdateCase) Run(ctx context.Context) error {
	return c.run(ctx)
}
