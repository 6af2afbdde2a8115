package workload

import (
	"context"
	"fmt"
	"math/rand/v2"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/eunmann/mkbench/internal/logctx"
	"github.com/eunmann/mkbench/pkg/changeset"
	"github.com/eunmann/mkbench/pkg/logging"
	"github.com/eunmann/mkbench/pkg/mk"
	"github.com/eunmann/mkbench/pkg/pathutil"
	"github.com/eunmann/mkbench/pkg/treebuild"
)

// DefaultPropertyValue is the value written by set-property statements.
const DefaultPropertyValue = "abcd"

const propertyPrefix = "property_"

// UpdaterConfig configures one update worker.
type UpdaterConfig struct {
	// Updates is the number of statements; the worker generates Updates+1.
	Updates int
	// LocalityBias is the probability of updating the preferred subtree.
	LocalityBias float64
	// AddNodeBias is the probability of adding a node rather than setting
	// a property.
	AddNodeBias float64
	// CommitRate is the number of statements per commit.
	CommitRate int
	// Height is the number of levels of each subtree, its root included.
	Height int
	// BranchingFactor is the number of subtrees and the fan-out inside them.
	BranchingFactor int
	// Prefix is the node name prefix of the tree and of added nodes.
	Prefix string
	// PropertyValue is the string written by set-property statements.
	PropertyValue string
}

// DefaultUpdaterConfig returns the reference update workload for a tree
// with branching factor b.
func DefaultUpdaterConfig(b int) UpdaterConfig {
	return UpdaterConfig{
		Updates:         5000,
		LocalityBias:    0.8,
		AddNodeBias:     0.5,
		CommitRate:      200,
		Height:          5,
		BranchingFactor: b,
		Prefix:          treebuild.DefaultPrefix,
		PropertyValue:   DefaultPropertyValue,
	}
}

// Validate checks configuration values and returns an error for invalid settings.
func (c *UpdaterConfig) Validate() error {
	if c.Updates < 0 {
		return fmt.Errorf("Updates must be non-negative, got %d", c.Updates)
	}
	if c.LocalityBias < 0 || c.LocalityBias > 1 {
		return fmt.Errorf("LocalityBias must be in [0,1], got %v", c.LocalityBias)
	}
	if c.AddNodeBias < 0 || c.AddNodeBias > 1 {
		return fmt.Errorf("AddNodeBias must be in [0,1], got %v", c.AddNodeBias)
	}
	if c.CommitRate < 1 {
		return fmt.Errorf("CommitRate must be at least 1, got %d", c.CommitRate)
	}
	if c.Height < 1 {
		return fmt.Errorf("Height must be at least 1, got %d", c.Height)
	}
	if c.BranchingFactor < 1 {
		return fmt.Errorf("BranchingFactor must be at least 1, got %d", c.BranchingFactor)
	}
	return nil
}

// NewCounter returns the name counter shared by all updaters of a run.
// Starting at the branching factor keeps generated names clear of the
// tree's own node_0..node_{b-1}.
func NewCounter(start int64) *atomic.Int64 {
	c := new(atomic.Int64)
	c.Store(start)
	return c
}

// Updater generates add-node and set-property statements and commits them
// in batches at the root.
type Updater struct {
	kernel  mk.Kernel
	cfg     UpdaterConfig
	sampler Sampler
	rng     *rand.Rand
	counter *atomic.Int64
}

// NewUpdater creates an updater whose preferred subtree is preferred.
// counter is shared by every updater of the run.
func NewUpdater(k mk.Kernel, preferred int, rng *rand.Rand, counter *atomic.Int64, cfg UpdaterConfig) *Updater {
	return &Updater{
		kernel: k,
		cfg:    cfg,
		sampler: Sampler{
			BranchingFactor: cfg.BranchingFactor,
			Height:          cfg.Height,
			NodeProbability: UpdaterNodeProbability(cfg.Height, cfg.BranchingFactor),
			Preferred:       preferred,
			LocalityBias:    cfg.LocalityBias,
			Prefix:          cfg.Prefix,
		},
		rng:     rng,
		counter: counter,
	}
}

// Next generates one statement relative to the root. The shared counter
// is incremented exactly once per call.
func (u *Updater) Next() changeset.Statement {
	index := u.sampler.PickSubtree(u.rng)
	path := u.sampler.PickPath(u.rng, index)
	nb := strconv.FormatInt(u.counter.Add(1), 10)
	if u.rng.Float64() < u.cfg.AddNodeBias {
		return changeset.AddNode(pathutil.Concat(path, u.cfg.Prefix+nb))
	}
	return changeset.SetProperty(pathutil.Concat(path, propertyPrefix+nb), u.cfg.PropertyValue)
}

// Run generates Updates+1 statements, commits them every CommitRate
// statements and returns the revision of its last commit.
func (u *Updater) Run(ctx context.Context) (string, error) {
	log := logctx.FromContext(ctx)
	start := time.Now()

	batcher := changeset.NewBatcher(u.cfg.CommitRate, func(ctx context.Context, changes string) (string, error) {
		return u.kernel.Commit(ctx, pathutil.Root, changes, "", "")
	})
	for i := 0; i <= u.cfg.Updates; i++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		if err := batcher.Add(ctx, u.Next()); err != nil {
			return "", err
		}
	}
	rev, err := batcher.Flush(ctx)
	if err != nil {
		return "", err
	}

	logging.PhaseComplete(log, "update", time.Since(start)).
		Int("preferred", u.sampler.Preferred).
		Count("statements", int64(batcher.Statements())).
		Rate("statements_per_sec", int64(batcher.Statements())).
		Int("commits", batcher.Commits()).
		Str("revision", rev).
		LogDebug("updater finished")
	return rev, nil
}
