package treebuild

import (
	"context"
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/eunmann/mkbench/pkg/mk"
	"github.com/eunmann/mkbench/pkg/mk/memmk"
)

// countingKernel counts commits and statements on top of a memory store.
type countingKernel struct {
	mk.Kernel
	commits    int
	statements int
}

func (k *countingKernel) Commit(ctx context.Context, path, changes, base, msg string) (string, error) {
	k.commits++
	k.statements += strings.Count(changes, `+"`)
	return k.Kernel.Commit(ctx, path, changes, base, msg)
}

func TestBuildSmallTree(t *testing.T) {
	ctx := context.Background()
	store := memmk.NewStore()
	k := &countingKernel{Kernel: store.Open()}

	rev, err := Build(ctx, k, NewSpec("/", 2, 3, 4))
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if k.statements != 12 {
		t.Errorf("statements = %d, want 12", k.statements)
	}
	if k.commits != 3 {
		t.Errorf("commits = %d, want 3", k.commits)
	}
	if rev != "r3" {
		t.Errorf("revision = %q, want r3", rev)
	}
	if _, err := k.GetNodes(ctx, "/node_1/node_2", "", 0, 0, -1, ""); err != nil {
		t.Errorf("/node_1/node_2 not readable: %v", err)
	}
	if got := store.NodeCount(); got != 13 {
		t.Errorf("NodeCount = %d, want 13", got)
	}
}

func TestBuildUnderSubtree(t *testing.T) {
	ctx := context.Background()
	k := memmk.NewStore().Open()
	if _, err := k.Commit(ctx, "/", `+"node_7":{}`, "", ""); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}

	if _, err := Build(ctx, k, NewSpec("/node_7", 3, 2, 5)); err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	n, err := k.GetNodes(ctx, "/node_7", "", 3, 0, -1, "")
	if err != nil {
		t.Fatalf("GetNodes failed: %v", err)
	}
	if got, want := n.Size()-1, int(NodeCount(3, 2)); got != want {
		t.Errorf("subtree size = %d, want %d", got, want)
	}
}

func TestBuildHeightZero(t *testing.T) {
	k := &countingKernel{Kernel: memmk.NewStore().Open()}
	rev, err := Build(context.Background(), k, NewSpec("/", 0, 6, 10))
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if rev != "" {
		t.Errorf("revision = %q, want empty", rev)
	}
	if k.commits != 0 {
		t.Errorf("commits = %d, want 0", k.commits)
	}
}

func TestBuildMissingRootFails(t *testing.T) {
	k := memmk.NewStore().Open()
	if _, err := Build(context.Background(), k, NewSpec("/absent", 1, 2, 10)); err == nil {
		t.Error("expected error building under a missing root")
	}
}

func TestPathAt(t *testing.T) {
	s := NewSpec("/", 3, 3, 1)
	tests := []struct {
		level int
		index uint64
		want  string
	}{
		{1, 0, "node_0"},
		{1, 2, "node_2"},
		{2, 5, "node_1/node_2"},
		{3, 26, "node_2/node_2/node_2"},
		{3, 9, "node_1/node_0/node_0"},
	}
	for _, tt := range tests {
		if got := s.PathAt(tt.level, tt.index); got != tt.want {
			t.Errorf("PathAt(%d, %d) = %q, want %q", tt.level, tt.index, got, tt.want)
		}
	}
}

func TestSpecValidate(t *testing.T) {
	tests := []struct {
		name    string
		spec    Spec
		wantErr bool
	}{
		{"valid", NewSpec("/", 5, 6, 500), false},
		{"height zero", NewSpec("/", 0, 6, 500), false},
		{"relative root", NewSpec("node_0", 2, 2, 1), true},
		{"negative height", NewSpec("/", -1, 2, 1), true},
		{"zero branching", NewSpec("/", 2, 0, 1), true},
		{"zero rate", NewSpec("/", 2, 2, 0), true},
		{"too large", NewSpec("/", 64, 10, 1), true},
		{"slash in prefix", Spec{Root: "/", Height: 1, BranchingFactor: 1, BatchRate: 1, Prefix: "a/b"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.spec.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestWalkVisitsEveryNodeOnce(t *testing.T) {
	params := gopter.DefaultTestParameters()
	params.MinSuccessfulTests = 50
	properties := gopter.NewProperties(params)

	properties.Property("walk emits NodeCount distinct paths with parents first", prop.ForAll(
		func(height, b int) bool {
			s := NewSpec("/", height, b, 1)
			seen := map[string]bool{"": true}
			ok := true
			_ = s.Walk(func(_ int, _ uint64, rel string) error {
				parent := ""
				if i := strings.LastIndexByte(rel, '/'); i >= 0 {
					parent = rel[:i]
				}
				if seen[rel] || !seen[parent] {
					ok = false
				}
				seen[rel] = true
				return nil
			})
			return ok && uint64(len(seen)-1) == NodeCount(height, b)
		},
		gen.IntRange(0, 4),
		gen.IntRange(1, 5),
	))

	properties.TestingRun(t)
}

func TestBatchingDoesNotChangeShape(t *testing.T) {
	params := gopter.DefaultTestParameters()
	params.MinSuccessfulTests = 20
	properties := gopter.NewProperties(params)

	properties.Property("commits == ceil(nodes/rate) and node count is fixed", prop.ForAll(
		func(rate int) bool {
			store := memmk.NewStore()
			k := &countingKernel{Kernel: store.Open()}
			if _, err := Build(context.Background(), k, NewSpec("/", 3, 3, rate)); err != nil {
				return false
			}
			nodes := int(NodeCount(3, 3))
			return k.commits == (nodes+rate-1)/rate && store.NodeCount() == nodes+1
		},
		gen.IntRange(1, 50),
	))

	properties.TestingRun(t)
}
