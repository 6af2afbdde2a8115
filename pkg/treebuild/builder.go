// Package treebuild creates complete trees of a given height and branching
// factor in a backend, in level order and in batched commits.
package treebuild

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/eunmann/mkbench/internal/logctx"
	"github.com/eunmann/mkbench/pkg/changeset"
	"github.com/eunmann/mkbench/pkg/logging"
	"github.com/eunmann/mkbench/pkg/mk"
	"github.com/eunmann/mkbench/pkg/pathutil"
)

// DefaultPrefix prefixes every generated node name.
const DefaultPrefix = "node_"

// MaxNodes bounds the size of a tree a Spec may describe.
const MaxNodes = 1 << 40

// Spec describes a complete tree below Root.
type Spec struct {
	// Root is the absolute path the tree is created under. It must exist.
	Root string
	// Height is the number of levels below Root. 0 builds nothing.
	Height int
	// BranchingFactor is the number of children of every inner node.
	BranchingFactor int
	// BatchRate is the number of statements per commit.
	BatchRate int
	// Prefix is prepended to each child index to form node names.
	Prefix string
}

// NewSpec returns a Spec with the default prefix.
func NewSpec(root string, height, branchingFactor, batchRate int) Spec {
	return Spec{
		Root:            root,
		Height:          height,
		BranchingFactor: branchingFactor,
		BatchRate:       batchRate,
		Prefix:          DefaultPrefix,
	}
}

// Validate checks the spec and returns an error for invalid settings.
func (s *Spec) Validate() error {
	if err := pathutil.Validate(s.Root); err != nil {
		return fmt.Errorf("invalid root: %w", err)
	}
	if s.Height < 0 {
		return fmt.Errorf("Height must be non-negative, got %d", s.Height)
	}
	if s.BranchingFactor < 1 {
		return fmt.Errorf("BranchingFactor must be at least 1, got %d", s.BranchingFactor)
	}
	if s.BatchRate < 1 {
		return fmt.Errorf("BatchRate must be at least 1, got %d", s.BatchRate)
	}
	if strings.Contains(s.Prefix, "/") {
		return fmt.Errorf("Prefix must not contain '/', got %q", s.Prefix)
	}
	if _, ok := nodeCount(s.Height, s.BranchingFactor); !ok {
		return fmt.Errorf("tree of height %d and branching factor %d exceeds %d nodes",
			s.Height, s.BranchingFactor, uint64(MaxNodes))
	}
	return nil
}

// NodeCount returns the number of nodes below the root of a complete tree:
// b + b^2 + ... + b^height. It returns math.MaxUint64 when the count
// exceeds MaxNodes.
func NodeCount(height, b int) uint64 {
	n, ok := nodeCount(height, b)
	if !ok {
		return math.MaxUint64
	}
	return n
}

func nodeCount(height, b int) (uint64, bool) {
	var total, level uint64 = 0, 1
	for range height {
		level *= uint64(b)
		total += level
		if level > MaxNodes || total > MaxNodes {
			return 0, false
		}
	}
	return total, true
}

// LevelSize returns b^level.
func LevelSize(level, b int) uint64 {
	n := uint64(1)
	for range level {
		n *= uint64(b)
	}
	return n
}

// PathAt returns the path relative to Root of the node with the given
// global index within level. Each ancestor's local child index is
// (index / b^(level-i)) % b.
func (s *Spec) PathAt(level int, index uint64) string {
	b := uint64(s.BranchingFactor)
	var sb strings.Builder
	for i := 1; i <= level; i++ {
		local := (index / LevelSize(level-i, s.BranchingFactor)) % b
		if i > 1 {
			sb.WriteByte('/')
		}
		sb.WriteString(s.Prefix)
		sb.WriteString(strconv.FormatUint(local, 10))
	}
	return sb.String()
}

// Walk calls fn for every node in level order, with increasing global index
// within each level.
func (s *Spec) Walk(fn func(level int, index uint64, rel string) error) error {
	for level := 1; level <= s.Height; level++ {
		size := LevelSize(level, s.BranchingFactor)
		for index := uint64(0); index < size; index++ {
			if err := fn(level, index, s.PathAt(level, index)); err != nil {
				return err
			}
		}
	}
	return nil
}

// Build creates the tree described by spec and returns the revision of the
// last commit, or "" when the spec describes no nodes.
func Build(ctx context.Context, k mk.Kernel, spec Spec) (string, error) {
	if err := spec.Validate(); err != nil {
		return "", fmt.Errorf("invalid tree spec: %w", err)
	}

	log := logctx.FromContext(ctx)
	start := time.Now()

	batcher := changeset.NewBatcher(spec.BatchRate, func(ctx context.Context, changes string) (string, error) {
		commitStart := time.Now()
		rev, err := k.Commit(ctx, spec.Root, changes, "", "")
		if err != nil {
			return "", err
		}
		logging.BatchComplete(log, "tree_build", time.Since(commitStart)).
			Str("root", spec.Root).
			Str("revision", rev).
			LogDebug("tree batch committed")
		return rev, nil
	})

	err := spec.Walk(func(_ int, _ uint64, rel string) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		return batcher.Add(ctx, changeset.AddNode(rel))
	})
	if err != nil {
		return "", fmt.Errorf("build tree at %s: %w", spec.Root, err)
	}
	rev, err := batcher.Flush(ctx)
	if err != nil {
		return "", fmt.Errorf("build tree at %s: %w", spec.Root, err)
	}

	logging.PhaseComplete(log, "tree_build", time.Since(start)).
		Str("root", spec.Root).
		Int("height", spec.Height).
		Int("branching_factor", spec.BranchingFactor).
		Count("nodes", int64(batcher.Statements())).
		Int("commits", batcher.Commits()).
		Str("revision", rev).
		Log("tree built")
	return rev, nil
}
