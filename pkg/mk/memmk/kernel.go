package memmk

import (
	"context"
	"sync/atomic"

	"github.com/cockroachdb/errors"

	"github.com/eunmann/mkbench/pkg/mk"
	"github.com/eunmann/mkbench/pkg/pathutil"
)

// Kernel is a handle on a Store.
type Kernel struct {
	store  *Store
	closed atomic.Bool
}

var _ mk.Kernel = (*Kernel)(nil)

func (k *Kernel) Commit(ctx context.Context, p, changes, baseRevision, _ string) (string, error) {
	if k.closed.Load() {
		return "", mk.CommitError(mk.ErrClosed, p)
	}
	resolved, err := mk.Resolve(p, changes)
	if err != nil {
		return "", mk.CommitError(err, p)
	}
	rev, err := k.store.commit(ctx, baseRevision, resolved)
	if err != nil {
		return "", mk.CommitError(err, p)
	}
	return mk.FormatRevision(rev), nil
}

func (k *Kernel) GetNodes(ctx context.Context, p, revision string, depth, offset, maxCount int, filter string) (*mk.Node, error) {
	if k.closed.Load() {
		return nil, mk.ReadError(mk.ErrClosed, p)
	}
	if err := pathutil.Validate(p); err != nil {
		return nil, mk.ReadError(err, p)
	}
	f, err := mk.ParseFilter(filter)
	if err != nil {
		return nil, mk.ReadError(err, p)
	}

	k.store.mu.RLock()
	defer k.store.mu.RUnlock()

	rev, err := mk.ResolveRevision(revision, k.store.head)
	if err != nil {
		return nil, mk.ReadError(err, p)
	}
	n, err := mk.Materialize(ctx, snapshot{store: k.store, rev: rev}, p, depth, offset, maxCount, f)
	if err != nil {
		return nil, mk.ReadError(err, p)
	}
	return n, nil
}

func (k *Kernel) HeadRevision(context.Context) (string, error) {
	if k.closed.Load() {
		return "", errors.WithStack(mk.ErrClosed)
	}
	return mk.FormatRevision(k.store.Head()), nil
}

// Close marks the handle closed. The store stays usable by other handles.
func (k *Kernel) Close() error {
	k.closed.Store(true)
	return nil
}
