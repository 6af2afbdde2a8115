// Package memmk is an in-memory MVCC tree backend. All handles created from
// one Store share its revision history.
package memmk

import (
	"context"
	"sort"
	"sync"

	"github.com/google/btree"

	"github.com/eunmann/mkbench/pkg/mk"
	"github.com/eunmann/mkbench/pkg/pathutil"
)

// childIndexDegree is the B-tree degree of the ordered child index.
const childIndexDegree = 32

// propVersion is one revision of a property value. An empty value marks
// removal.
type propVersion struct {
	rev   uint64
	value string
}

type node struct {
	created uint64
	props   map[string][]propVersion
}

// childItem orders children by (parent, name).
type childItem struct {
	parent  string
	name    string
	created uint64
}

func (c *childItem) Less(than btree.Item) bool {
	o := than.(*childItem)
	if c.parent != o.parent {
		return c.parent < o.parent
	}
	return c.name < o.name
}

// Store holds the revision history shared by every Kernel opened on it.
type Store struct {
	mu       sync.RWMutex
	head     uint64
	nodes    map[string]*node
	children *btree.BTree
}

// NewStore returns a store holding only the root node at revision r0.
func NewStore() *Store {
	s := &Store{children: btree.New(childIndexDegree)}
	s.init()
	return s
}

func (s *Store) init() {
	s.head = mk.InitialRevision
	s.nodes = map[string]*node{
		pathutil.Root: {created: mk.InitialRevision, props: map[string][]propVersion{}},
	}
	s.children.Clear(false)
}

// Reset discards every revision and returns the store to r0.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.init()
}

// Head returns the current head revision number.
func (s *Store) Head() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.head
}

// NodeCount returns the number of nodes at head, root included.
func (s *Store) NodeCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.nodes)
}

// Open returns a new handle on the store.
func (s *Store) Open() *Kernel {
	return &Kernel{store: s}
}

func (s *Store) commit(ctx context.Context, base string, changes []mk.Change) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if base != "" {
		if _, err := mk.ResolveRevision(base, s.head); err != nil {
			return 0, err
		}
	}

	w := &stagedWriter{store: s, added: map[string]bool{}}
	if err := mk.Apply(ctx, w, changes); err != nil {
		return 0, err
	}

	rev := s.head + 1
	for _, op := range w.ops {
		op(rev)
	}
	s.head = rev
	return rev, nil
}

// stagedWriter validates a commit against the store without mutating it;
// the recorded ops are replayed once the whole changeset validated.
type stagedWriter struct {
	store *Store
	added map[string]bool
	ops   []func(rev uint64)
}

func (w *stagedWriter) Exists(_ context.Context, p string) (bool, error) {
	if w.added[p] {
		return true, nil
	}
	_, ok := w.store.nodes[p]
	return ok, nil
}

func (w *stagedWriter) AddNode(_ context.Context, p string, props map[string]string) error {
	w.added[p] = true
	s := w.store
	w.ops = append(w.ops, func(rev uint64) {
		n := &node{created: rev, props: make(map[string][]propVersion, len(props))}
		for k, v := range props {
			n.props[k] = []propVersion{{rev: rev, value: v}}
		}
		s.nodes[p] = n
		s.children.ReplaceOrInsert(&childItem{parent: pathutil.Parent(p), name: pathutil.Name(p), created: rev})
	})
	return nil
}

func (w *stagedWriter) SetProperty(_ context.Context, p, name, value string) error {
	w.record(p, name, value)
	return nil
}

func (w *stagedWriter) RemoveProperty(_ context.Context, p, name string) error {
	w.record(p, name, "")
	return nil
}

func (w *stagedWriter) record(p, name, value string) {
	s := w.store
	w.ops = append(w.ops, func(rev uint64) {
		n := s.nodes[p]
		versions := n.props[name]
		if k := len(versions); k > 0 && versions[k-1].rev == rev {
			versions[k-1].value = value
			return
		}
		n.props[name] = append(versions, propVersion{rev: rev, value: value})
	})
}

// snapshot reads the store as of one revision. Callers hold the read lock.
type snapshot struct {
	store *Store
	rev   uint64
}

func (r snapshot) ReadNode(_ context.Context, p string) (map[string]string, bool, error) {
	n, ok := r.store.nodes[p]
	if !ok || n.created > r.rev {
		return nil, false, nil
	}
	props := make(map[string]string, len(n.props))
	for name, versions := range n.props {
		i := sort.Search(len(versions), func(i int) bool { return versions[i].rev > r.rev })
		if i == 0 {
			continue
		}
		if v := versions[i-1].value; v != "" {
			props[name] = v
		}
	}
	return props, true, nil
}

func (r snapshot) ReadChildren(_ context.Context, p string, offset, count int) ([]string, int, error) {
	var names []string
	total := 0
	r.store.children.AscendGreaterOrEqual(&childItem{parent: p}, func(i btree.Item) bool {
		c := i.(*childItem)
		if c.parent != p {
			return false
		}
		if c.created > r.rev {
			return true
		}
		if total >= offset && (count < 0 || len(names) < count) {
			names = append(names, c.name)
		}
		total++
		return true
	})
	return names, total, nil
}
