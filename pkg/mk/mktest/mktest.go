// Package mktest is a conformance suite every mk.Kernel implementation runs
// from its own tests.
package mktest

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/cockroachdb/errors"

	"github.com/eunmann/mkbench/pkg/changeset"
	"github.com/eunmann/mkbench/pkg/mk"
)

// Opener creates a handle on one backend instance.
type Opener func(ctx context.Context) (mk.Kernel, error)

// Factory returns an Opener on a fresh, empty backend instance. Resources
// it allocates should be released through t.Cleanup.
type Factory func(t *testing.T) Opener

// Run executes the conformance suite.
func Run(t *testing.T, factory Factory) {
	tests := []struct {
		name string
		fn   func(t *testing.T, open Opener)
	}{
		{"InitialRevision", testInitialRevision},
		{"CommitAndRead", testCommitAndRead},
		{"RelativeCommit", testRelativeCommit},
		{"AddExistingConflicts", testAddExistingConflicts},
		{"MissingParentConflicts", testMissingParentConflicts},
		{"SetOnMissingNodeConflicts", testSetOnMissingNodeConflicts},
		{"InvalidChangeset", testInvalidChangeset},
		{"UnknownBaseRevision", testUnknownBaseRevision},
		{"NotFound", testNotFound},
		{"ReadOldRevision", testReadOldRevision},
		{"RemoveProperty", testRemoveProperty},
		{"DepthLimit", testDepthLimit},
		{"Paging", testPaging},
		{"Filter", testFilter},
		{"SharedAcrossHandles", testSharedAcrossHandles},
		{"ConcurrentCommits", testConcurrentCommits},
		{"ClosedHandle", testClosedHandle},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.fn(t, factory(t))
		})
	}
}

func mustOpen(t *testing.T, open Opener) mk.Kernel {
	t.Helper()
	k, err := open(context.Background())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = k.Close() })
	return k
}

func mustCommit(t *testing.T, k mk.Kernel, path, changes string) string {
	t.Helper()
	rev, err := k.Commit(context.Background(), path, changes, "", "")
	if err != nil {
		t.Fatalf("Commit(%q, %q): %v", path, changes, err)
	}
	return rev
}

func mustRead(t *testing.T, k mk.Kernel, path, rev string, depth int) *mk.Node {
	t.Helper()
	n, err := k.GetNodes(context.Background(), path, rev, depth, 0, -1, "")
	if err != nil {
		t.Fatalf("GetNodes(%q, %q): %v", path, rev, err)
	}
	return n
}

func testInitialRevision(t *testing.T, open Opener) {
	k := mustOpen(t, open)
	head, err := k.HeadRevision(context.Background())
	if err != nil {
		t.Fatalf("HeadRevision: %v", err)
	}
	if head != "r0" {
		t.Errorf("head = %q, want r0", head)
	}
	root := mustRead(t, k, "/", "", 1)
	if root.ChildCount != 0 || len(root.Children) != 0 {
		t.Errorf("root has %d children, want 0", root.ChildCount)
	}
}

func testCommitAndRead(t *testing.T, open Opener) {
	k := mustOpen(t, open)
	rev := mustCommit(t, k, "/", `+"a":{} +"a/b":{"x":"1"} ^"a/p": "v"`)
	if rev != "r1" {
		t.Errorf("revision = %q, want r1", rev)
	}

	a := mustRead(t, k, "/a", "", 1)
	if a.Path != "/a" || a.Name != "a" {
		t.Errorf("node = %s (%s), want /a (a)", a.Path, a.Name)
	}
	if got := a.Properties["p"]; got != `"v"` {
		t.Errorf("p = %s, want \"v\"", got)
	}
	if a.ChildCount != 1 {
		t.Fatalf("ChildCount = %d, want 1", a.ChildCount)
	}
	b := a.Child("b")
	if b == nil {
		t.Fatal("child b not materialised")
	}
	if got := b.Properties["x"]; got != `"1"` {
		t.Errorf("x = %s, want \"1\"", got)
	}
}

func testRelativeCommit(t *testing.T, open Opener) {
	k := mustOpen(t, open)
	mustCommit(t, k, "/", `+"a":{}`)
	mustCommit(t, k, "/a", `+"c":{} ^"c/q": "w"`)

	c := mustRead(t, k, "/a/c", "", 0)
	if got := c.Properties["q"]; got != `"w"` {
		t.Errorf("q = %s, want \"w\"", got)
	}
}

func expectCommitError(t *testing.T, err error, mark error) {
	t.Helper()
	if err == nil {
		t.Fatal("expected commit error")
	}
	if !errors.Is(err, mk.ErrCommitFailed) {
		t.Errorf("error %v is not ErrCommitFailed", err)
	}
	if !errors.Is(err, mark) {
		t.Errorf("error %v is not %v", err, mark)
	}
}

func testAddExistingConflicts(t *testing.T, open Opener) {
	k := mustOpen(t, open)
	mustCommit(t, k, "/", `+"a":{}`)

	_, err := k.Commit(context.Background(), "/", `+"x":{} +"a":{}`, "", "")
	expectCommitError(t, err, mk.ErrConflict)

	// The failed changeset applied nothing.
	if _, err := k.GetNodes(context.Background(), "/x", "", 0, 0, -1, ""); !errors.Is(err, mk.ErrNotFound) {
		t.Errorf("/x after failed commit: err = %v, want ErrNotFound", err)
	}
	head, _ := k.HeadRevision(context.Background())
	if head != "r1" {
		t.Errorf("head = %q, want r1", head)
	}
}

func testMissingParentConflicts(t *testing.T, open Opener) {
	k := mustOpen(t, open)
	_, err := k.Commit(context.Background(), "/", `+"a/b":{}`, "", "")
	expectCommitError(t, err, mk.ErrConflict)
}

func testSetOnMissingNodeConflicts(t *testing.T, open Opener) {
	k := mustOpen(t, open)
	_, err := k.Commit(context.Background(), "/", `^"a/p": "v"`, "", "")
	expectCommitError(t, err, mk.ErrConflict)
}

func testInvalidChangeset(t *testing.T, open Opener) {
	k := mustOpen(t, open)
	_, err := k.Commit(context.Background(), "/", `*"a":{}`, "", "")
	expectCommitError(t, err, changeset.ErrInvalidChangeset)
}

func testUnknownBaseRevision(t *testing.T, open Opener) {
	k := mustOpen(t, open)
	_, err := k.Commit(context.Background(), "/", `+"a":{}`, "r42", "")
	expectCommitError(t, err, mk.ErrInvalidRevision)

	rev, err := k.Commit(context.Background(), "/", `+"a":{}`, "r0", "")
	if err != nil {
		t.Fatalf("commit on r0: %v", err)
	}
	if rev != "r1" {
		t.Errorf("revision = %q, want r1", rev)
	}
}

func testNotFound(t *testing.T, open Opener) {
	k := mustOpen(t, open)
	_, err := k.GetNodes(context.Background(), "/missing", "", 1, 0, -1, "")
	if !errors.Is(err, mk.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
	if !errors.Is(err, mk.ErrReadFailed) {
		t.Errorf("err = %v, want ErrReadFailed", err)
	}

	_, err = k.GetNodes(context.Background(), "/", "r9", 0, 0, -1, "")
	if !errors.Is(err, mk.ErrInvalidRevision) {
		t.Errorf("unknown revision: err = %v, want ErrInvalidRevision", err)
	}
}

func testReadOldRevision(t *testing.T, open Opener) {
	k := mustOpen(t, open)
	r1 := mustCommit(t, k, "/", `+"a":{} ^"a/p": "one"`)
	r2 := mustCommit(t, k, "/", `^"a/p": "two" +"b":{}`)

	old := mustRead(t, k, "/", r1, 1)
	if old.ChildCount != 1 {
		t.Errorf("children at %s = %d, want 1", r1, old.ChildCount)
	}
	if got := old.Child("a").Properties["p"]; got != `"one"` {
		t.Errorf("p at %s = %s, want \"one\"", r1, got)
	}

	cur := mustRead(t, k, "/", r2, 1)
	if cur.ChildCount != 2 {
		t.Errorf("children at %s = %d, want 2", r2, cur.ChildCount)
	}
	if got := cur.Child("a").Properties["p"]; got != `"two"` {
		t.Errorf("p at %s = %s, want \"two\"", r2, got)
	}

	if _, err := k.GetNodes(context.Background(), "/b", "r0", 0, 0, -1, ""); !errors.Is(err, mk.ErrNotFound) {
		t.Errorf("/b at r0: err = %v, want ErrNotFound", err)
	}
}

func testRemoveProperty(t *testing.T, open Opener) {
	k := mustOpen(t, open)
	r1 := mustCommit(t, k, "/", `+"a":{"p":"v"}`)
	mustCommit(t, k, "/", `^"a/p": null`)

	if _, ok := mustRead(t, k, "/a", "", 0).Properties["p"]; ok {
		t.Error("p still present at head")
	}
	if got := mustRead(t, k, "/a", r1, 0).Properties["p"]; got != `"v"` {
		t.Errorf("p at %s = %s, want \"v\"", r1, got)
	}
}

func testDepthLimit(t *testing.T, open Opener) {
	k := mustOpen(t, open)
	mustCommit(t, k, "/", `+"a":{} +"a/b":{} +"a/b/c":{}`)

	n := mustRead(t, k, "/", "", 0)
	if n.Children != nil {
		t.Errorf("depth 0 materialised %d children", len(n.Children))
	}
	if n.ChildCount != 1 {
		t.Errorf("ChildCount = %d, want 1", n.ChildCount)
	}

	n = mustRead(t, k, "/", "", 2)
	if got := n.Size(); got != 3 {
		t.Errorf("depth 2 subtree size = %d, want 3", got)
	}
	b := n.Child("a").Child("b")
	if b == nil || b.Children != nil || b.ChildCount != 1 {
		t.Errorf("depth limit node = %+v, want b with 1 unmaterialised child", b)
	}
}

func testPaging(t *testing.T, open Opener) {
	k := mustOpen(t, open)
	var b changeset.Batch
	for i := range 5 {
		b.Add(changeset.AddNode(fmt.Sprintf("n%d", i)))
	}
	mustCommit(t, k, "/", b.String())

	n, err := k.GetNodes(context.Background(), "/", "", 1, 1, 2, "")
	if err != nil {
		t.Fatalf("GetNodes: %v", err)
	}
	if n.ChildCount != 5 {
		t.Errorf("ChildCount = %d, want 5", n.ChildCount)
	}
	var names []string
	for _, c := range n.Children {
		names = append(names, c.Name)
	}
	if fmt.Sprint(names) != "[n1 n2]" {
		t.Errorf("page = %v, want [n1 n2]", names)
	}
}

func testFilter(t *testing.T, open Opener) {
	k := mustOpen(t, open)
	mustCommit(t, k, "/", `+"a":{"title":"t","tag":"x","size":3}`)

	n, err := k.GetNodes(context.Background(), "/a", "", 0, 0, -1, "t*")
	if err != nil {
		t.Fatalf("GetNodes: %v", err)
	}
	if len(n.Properties) != 2 {
		t.Errorf("filtered properties = %v, want title and tag", n.Properties)
	}
	if _, ok := n.Properties["size"]; ok {
		t.Error("size passed filter t*")
	}
}

func testSharedAcrossHandles(t *testing.T, open Opener) {
	w := mustOpen(t, open)
	r := mustOpen(t, open)
	mustCommit(t, w, "/", `+"shared":{}`)

	if n := mustRead(t, r, "/shared", "", 0); n.Name != "shared" {
		t.Errorf("read from second handle = %q", n.Name)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	mustRead(t, r, "/shared", "", 0)
}

func testConcurrentCommits(t *testing.T, open Opener) {
	const workers, perWorker = 4, 5

	var wg sync.WaitGroup
	errs := make(chan error, workers*perWorker)
	for w := range workers {
		k := mustOpen(t, open)
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range perWorker {
				changes := changeset.AddNode(fmt.Sprintf("w%d_%d", w, i)).String()
				if _, err := k.Commit(context.Background(), "/", changes, "", ""); err != nil {
					errs <- err
				}
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("concurrent commit: %v", err)
	}

	k := mustOpen(t, open)
	root := mustRead(t, k, "/", "", 1)
	if root.ChildCount != workers*perWorker {
		t.Errorf("ChildCount = %d, want %d", root.ChildCount, workers*perWorker)
	}
	head, _ := k.HeadRevision(context.Background())
	if want := mk.FormatRevision(workers * perWorker); head != want {
		t.Errorf("head = %q, want %q", head, want)
	}
}

func testClosedHandle(t *testing.T, open Opener) {
	k, err := open(context.Background())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := k.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := k.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
	_, err = k.Commit(context.Background(), "/", `+"a":{}`, "", "")
	if !errors.Is(err, mk.ErrClosed) {
		t.Errorf("commit after close: err = %v, want ErrClosed", err)
	}
	_, err = k.GetNodes(context.Background(), "/", "", 0, 0, -1, "")
	if !errors.Is(err, mk.ErrClosed) {
		t.Errorf("read after close: err = %v, want ErrClosed", err)
	}
}
