package bench

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/eunmann/mkbench/internal/logctx"
	"github.com/eunmann/mkbench/pkg/changeset"
	"github.com/eunmann/mkbench/pkg/fixture"
	"github.com/eunmann/mkbench/pkg/pathutil"
	"github.com/eunmann/mkbench/pkg/runner"
	"github.com/eunmann/mkbench/pkg/treebuild"
)

// AddConfig configures the concurrent add case.
type AddConfig struct {
	Settings
	// Height and BranchingFactor describe the subtree each worker builds.
	Height          int
	BranchingFactor int
	// CommitRate is the number of add statements per commit.
	CommitRate int
}

// DefaultAddConfig returns the reference add workload for workers workers.
func DefaultAddConfig(workers int) AddConfig {
	return AddConfig{
		Settings: Settings{
			Workers: workers,
			Timeout: 60 * time.Second,
			Warmups: 3,
			Runs:    3,
		},
		Height:          5,
		BranchingFactor: 6,
		CommitRate:      500,
	}
}

// Validate checks configuration values and returns an error for invalid settings.
func (c *AddConfig) Validate() error {
	if err := c.Settings.Validate(); err != nil {
		return err
	}
	spec := treebuild.NewSpec(pathutil.Root, c.Height, c.BranchingFactor, c.CommitRate)
	return spec.Validate()
}

// AddCase has every worker build its own subtree below /node_<i> through
// its own handle. It measures write throughput on disjoint subtrees.
type AddCase struct {
	pool
	cfg AddConfig
}

// NewAddCase validates cfg and returns the case.
func NewAddCase(cfg AddConfig) (*AddCase, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid add config: %w", err)
	}
	return &AddCase{pool: pool{settings: cfg.Settings}, cfg: cfg}, nil
}

func (c *AddCase) Name() string { return Add }

// SetUp opens one handle per worker and commits each worker's subtree root.
func (c *AddCase) SetUp(ctx context.Context, fx fixture.Fixture) error {
	log := logctx.FromContext(ctx)
	perWorker := treebuild.NodeCount(c.cfg.Height, c.cfg.BranchingFactor)
	log.Debug().
		Int("workers", c.cfg.Workers).
		Uint64("nodes_per_worker", perWorker).
		Uint64("nodes_total", perWorker*uint64(c.cfg.Workers)).
		Msg("creating add workers")

	tasks := make([]runner.Task, 0, c.cfg.Workers)
	for i := range c.cfg.Workers {
		k, err := fx.CreateHandle(ctx)
		if err != nil {
			return errors.Wrapf(err, "create handle for worker %d", i)
		}
		name := treebuild.DefaultPrefix + strconv.Itoa(i)
		if _, err := k.Commit(ctx, pathutil.Root, changeset.AddNode(name).String(), "", ""); err != nil {
			return errors.Wrapf(err, "commit subtree root of worker %d", i)
		}
		spec := treebuild.NewSpec(pathutil.Concat(pathutil.Root, name), c.cfg.Height, c.cfg.BranchingFactor, c.cfg.CommitRate)
		tasks = append(tasks, func(ctx context.Context) (string, error) {
			return treebuild.Build(ctx, k, spec)
		})
	}
	c.tasks = tasks
	return nil
}

func (c *AddCase) Run(ctx context.Context) error {
	return c.run(ctx)
}
