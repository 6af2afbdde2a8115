package workload

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/eunmann/mkbench/internal/logctx"
	"github.com/eunmann/mkbench/pkg/logging"
	"github.com/eunmann/mkbench/pkg/mk"
	"github.com/eunmann/mkbench/pkg/treebuild"
)

// ReaderConfig configures one read worker.
type ReaderConfig struct {
	// Reads is the number of reads; the worker performs Reads+1.
	Reads int
	// LocalityBias is the probability of reading the preferred subtree.
	LocalityBias float64
	// DepthThreshold controls the geometric read depth (see RandomDepth).
	DepthThreshold float64
	// Height is the number of levels of each subtree, its root included.
	Height int
	// BranchingFactor is the number of subtrees and the fan-out inside them.
	BranchingFactor int
	// Prefix is the node name prefix of the tree.
	Prefix string
}

// DefaultReaderConfig returns the reference read workload.
func DefaultReaderConfig() ReaderConfig {
	return ReaderConfig{
		Reads:           5000,
		LocalityBias:    0.8,
		DepthThreshold:  DefaultDepthThreshold,
		Height:          5,
		BranchingFactor: 6,
		Prefix:          treebuild.DefaultPrefix,
	}
}

// Validate checks configuration values and returns an error for invalid settings.
func (c *ReaderConfig) Validate() error {
	if c.Reads < 0 {
		return fmt.Errorf("Reads must be non-negative, got %d", c.Reads)
	}
	if c.LocalityBias < 0 || c.LocalityBias > 1 {
		return fmt.Errorf("LocalityBias must be in [0,1], got %v", c.LocalityBias)
	}
	if c.DepthThreshold < 0 || c.DepthThreshold >= 1 {
		return fmt.Errorf("DepthThreshold must be in [0,1), got %v", c.DepthThreshold)
	}
	if c.Height < 1 {
		return fmt.Errorf("Height must be at least 1, got %d", c.Height)
	}
	if c.BranchingFactor < 1 {
		return fmt.Errorf("BranchingFactor must be at least 1, got %d", c.BranchingFactor)
	}
	return nil
}

// Reader issues random subtree reads through its own handle.
type Reader struct {
	kernel  mk.Kernel
	cfg     ReaderConfig
	sampler Sampler
	rng     *rand.Rand
	reads   int
}

// NewReader creates a reader whose preferred subtree is preferred.
func NewReader(k mk.Kernel, preferred int, rng *rand.Rand, cfg ReaderConfig) *Reader {
	return &Reader{
		kernel: k,
		cfg:    cfg,
		sampler: Sampler{
			BranchingFactor: cfg.BranchingFactor,
			Height:          cfg.Height,
			NodeProbability: ReaderNodeProbability(cfg.Height, cfg.BranchingFactor),
			Preferred:       preferred,
			LocalityBias:    cfg.LocalityBias,
			Prefix:          cfg.Prefix,
		},
		rng: rng,
	}
}

// Next draws the path and depth of the next read.
func (r *Reader) Next() (string, int) {
	index := r.sampler.PickSubtree(r.rng)
	path := "/" + r.sampler.PickPath(r.rng, index)
	return path, RandomDepth(r.rng, r.cfg.DepthThreshold)
}

// Run performs Reads+1 reads at head revision. The first failing read
// aborts the worker.
func (r *Reader) Run(ctx context.Context) error {
	log := logctx.FromContext(ctx)
	start := time.Now()

	for i := 0; i <= r.cfg.Reads; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		path, depth := r.Next()
		if _, err := r.kernel.GetNodes(ctx, path, "", depth, 0, -1, ""); err != nil {
			return err
		}
		r.reads++
	}

	logging.PhaseComplete(log, "read", time.Since(start)).
		Int("preferred", r.sampler.Preferred).
		Count("reads", int64(r.reads)).
		Rate("reads_per_sec", int64(r.reads)).
		LogDebug("reader finished")
	return nil
}

// Reads returns the number of completed reads.
func (r *Reader) Reads() int {
	return r.reads
}
