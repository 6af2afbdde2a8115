// Package workload generates the randomized read and update traffic that
// benchmark workers issue against a complete tree.
package workload

import (
	"encoding/binary"
	"math"
	"math/rand/v2"
	"strconv"
	"strings"

	"github.com/zeebo/xxh3"
)

// DefaultDepthThreshold makes RandomDepth geometric: each extra level has
// probability 0.25.
const DefaultDepthThreshold = 0.75

// Sampler picks subtrees of the root and node paths inside them.
type Sampler struct {
	// BranchingFactor is the number of children per node.
	BranchingFactor int
	// Height is the number of levels of a subtree, its root included.
	Height int
	// NodeProbability is the probability of any single node of a subtree;
	// the chance of stopping at level i is NodeProbability * b^i.
	NodeProbability float64
	// Preferred is the index of this worker's own subtree.
	Preferred int
	// LocalityBias is the probability of choosing the preferred subtree.
	LocalityBias float64
	// Prefix is prepended to child indexes to form node names.
	Prefix string
}

// PickSubtree returns the preferred subtree index with probability
// LocalityBias, otherwise a uniformly random other index. With a single
// subtree the preferred one is always returned.
func (s *Sampler) PickSubtree(rng *rand.Rand) int {
	index := s.Preferred
	if s.BranchingFactor > 1 && rng.Float64() >= s.LocalityBias {
		for index == s.Preferred {
			index = rng.IntN(s.BranchingFactor)
		}
	}
	return index
}

// PickPath returns the root-relative path of a node in subtree index,
// descending one level at a time and stopping early in proportion to the
// number of nodes per level.
func (s *Sampler) PickPath(rng *rand.Rand, index int) string {
	var sb strings.Builder
	sb.WriteString(s.Prefix)
	sb.WriteString(strconv.Itoa(index))
	for i := 0; i < s.Height-1; i++ {
		if rng.Float64() < s.NodeProbability*math.Pow(float64(s.BranchingFactor), float64(i)) {
			break
		}
		sb.WriteByte('/')
		sb.WriteString(s.Prefix)
		sb.WriteString(strconv.Itoa(rng.IntN(s.BranchingFactor)))
	}
	return sb.String()
}

// RandomDepth counts draws above threshold before the first draw at or
// below it.
func RandomDepth(rng *rand.Rand, threshold float64) int {
	depth := 0
	for rng.Float64() > threshold {
		depth++
	}
	return depth
}

// geometricSum returns (b^n - 1) / (b - 1), the node count of a complete
// tree with n levels. It is n when b == 1.
func geometricSum(b, n int) float64 {
	if b == 1 {
		return float64(n)
	}
	return (math.Pow(float64(b), float64(n)) - 1) / float64(b-1)
}

// ReaderNodeProbability is 1 over the node count of a subtree of the given
// height.
func ReaderNodeProbability(height, b int) float64 {
	n := geometricSum(b, height)
	if n < 1 {
		return 1
	}
	return 1 / n
}

// UpdaterNodeProbability is 1 over the truncated node count of a tree one
// level taller than the subtree.
func UpdaterNodeProbability(height, b int) float64 {
	n := math.Floor(geometricSum(b, height+1))
	if n < 1 {
		return 1
	}
	return 1 / n
}

// Seed derives the two PCG seed words of a worker from the run seed.
func Seed(runSeed uint64, worker int) (uint64, uint64) {
	var buf [16]byte
	binary.LittleEndian.PutUint64(buf[:8], runSeed)
	binary.LittleEndian.PutUint64(buf[8:], uint64(worker))
	h := xxh3.Hash128(buf[:])
	return h.Hi, h.Lo
}

// NewRand returns the worker's private random source.
func NewRand(runSeed uint64, worker int) *rand.Rand {
	hi, lo := Seed(runSeed, worker)
	return rand.New(rand.NewPCG(hi, lo))
}
