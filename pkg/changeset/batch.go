package changeset

import (
	"context"
	"strings"
)

// Batch is an ordered sequence of statements flushed by one commit.
type Batch struct {
	stmts []Statement
	sb    strings.Builder
}

// Add appends a statement.
func (b *Batch) Add(s Statement) {
	if len(b.stmts) > 0 {
		b.sb.WriteByte(' ')
	}
	s.appendTo(&b.sb)
	b.stmts = append(b.stmts, s)
}

// Len returns the number of buffered statements.
func (b *Batch) Len() int {
	return len(b.stmts)
}

// Statements returns the buffered statements in insertion order.
func (b *Batch) Statements() []Statement {
	return b.stmts
}

// String returns the encoded changeset.
func (b *Batch) String() string {
	return b.sb.String()
}

// Reset empties the batch.
func (b *Batch) Reset() {
	b.stmts = b.stmts[:0]
	b.sb.Reset()
}

// CommitFunc commits an encoded changeset and returns the new revision.
type CommitFunc func(ctx context.Context, changes string) (string, error)

// Batcher buffers statements and commits them every rate statements.
// It is not safe for concurrent use; each worker owns its own Batcher.
type Batcher struct {
	rate       int
	commit     CommitFunc
	batch      Batch
	revision   string
	commits    int
	statements int
}

// NewBatcher creates a Batcher. Rates below 1 are treated as 1.
func NewBatcher(rate int, commit CommitFunc) *Batcher {
	if rate < 1 {
		rate = 1
	}
	return &Batcher{rate: rate, commit: commit}
}

// Add buffers s and commits the batch once it holds rate statements.
func (b *Batcher) Add(ctx context.Context, s Statement) error {
	b.batch.Add(s)
	b.statements++
	if b.batch.Len() < b.rate {
		return nil
	}
	return b.flush(ctx)
}

// Flush commits any remaining statements and returns the revision of the
// last commit performed, or "" when nothing was ever committed.
func (b *Batcher) Flush(ctx context.Context) (string, error) {
	if b.batch.Len() > 0 {
		if err := b.flush(ctx); err != nil {
			return "", err
		}
	}
	return b.revision, nil
}

func (b *Batcher) flush(ctx context.Context) error {
	rev, err := b.commit(ctx, b.batch.String())
	if err != nil {
		return err
	}
	b.revision = rev
	b.commits++
	b.batch.Reset()
	return nil
}

// Revision returns the revision of the last successful commit.
func (b *Batcher) Revision() string {
	return b.revision
}

// Commits returns the number of successful commits.
func (b *Batcher) Commits() int {
	return b.commits
}

// Statements returns the number of statements added so far.
func (b *Batcher) Statements() int {
	return b.statements
}
