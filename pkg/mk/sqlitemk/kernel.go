package sqlitemk

import (
	"context"
	"database/sql"
	"sync/atomic"

	"github.com/cockroachdb/errors"

	"github.com/eunmann/mkbench/pkg/mk"
	"github.com/eunmann/mkbench/pkg/pathutil"
)

// Kernel is a handle with its own connection pool on the database file.
type Kernel struct {
	db     *sql.DB
	closed atomic.Bool
}

var _ mk.Kernel = (*Kernel)(nil)

// Open creates a handle. The schema must already exist (see Admin).
func Open(ctx context.Context, cfg Config) (*Kernel, error) {
	db, err := openDB(cfg)
	if err != nil {
		return nil, mk.Unavailable(err, "sqlite")
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, mk.Unavailable(err, "sqlite")
	}
	return &Kernel{db: db}, nil
}

func (k *Kernel) Commit(ctx context.Context, p, changes, baseRevision, message string) (string, error) {
	if k.closed.Load() {
		return "", mk.CommitError(mk.ErrClosed, p)
	}
	resolved, err := mk.Resolve(p, changes)
	if err != nil {
		return "", mk.CommitError(err, p)
	}
	rev, err := k.commit(ctx, resolved, baseRevision, message)
	if err != nil {
		return "", mk.CommitError(err, p)
	}
	return mk.FormatRevision(rev), nil
}

func (k *Kernel) commit(ctx context.Context, changes []mk.Change, base, message string) (uint64, error) {
	tx, err := k.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, errors.Wrap(err, "begin transaction")
	}
	defer tx.Rollback()

	head, err := headRevision(ctx, tx)
	if err != nil {
		return 0, err
	}
	if base != "" {
		if _, err := mk.ResolveRevision(base, head); err != nil {
			return 0, err
		}
	}

	rev := head + 1
	if err := mk.Apply(ctx, &txWriter{tx: tx, rev: rev}, changes); err != nil {
		return 0, err
	}
	if _, err := tx.ExecContext(ctx, "INSERT INTO revisions (rev, message) VALUES (?, ?)", rev, message); err != nil {
		return 0, errors.Wrap(err, "record revision")
	}
	if err := tx.Commit(); err != nil {
		return 0, errors.Wrap(err, "commit transaction")
	}
	return rev, nil
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func headRevision(ctx context.Context, q queryer) (uint64, error) {
	var head uint64
	if err := q.QueryRowContext(ctx, "SELECT MAX(rev) FROM revisions").Scan(&head); err != nil {
		return 0, errors.Wrap(err, "read head revision")
	}
	return head, nil
}

// txWriter applies changes inside the commit transaction, which observes
// its own uncommitted rows.
type txWriter struct {
	tx  *sql.Tx
	rev uint64
}

func (w *txWriter) Exists(ctx context.Context, p string) (bool, error) {
	var one int
	err := w.tx.QueryRowContext(ctx, "SELECT 1 FROM nodes WHERE path = ?", p).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, errors.Wrapf(err, "lookup %s", p)
	}
	return true, nil
}

func (w *txWriter) AddNode(ctx context.Context, p string, props map[string]string) error {
	if _, err := w.tx.ExecContext(ctx,
		"INSERT INTO nodes (path, parent, name, created_rev) VALUES (?, ?, ?, ?)",
		p, pathutil.Parent(p), pathutil.Name(p), w.rev); err != nil {
		return errors.Wrapf(err, "insert node %s", p)
	}
	for name, value := range props {
		if err := w.SetProperty(ctx, p, name, value); err != nil {
			return err
		}
	}
	return nil
}

func (w *txWriter) SetProperty(ctx context.Context, p, name, value string) error {
	return w.putProperty(ctx, p, name, value)
}

func (w *txWriter) RemoveProperty(ctx context.Context, p, name string) error {
	return w.putProperty(ctx, p, name, nil)
}

func (w *txWriter) putProperty(ctx context.Context, p, name string, value any) error {
	if _, err := w.tx.ExecContext(ctx,
		"INSERT OR REPLACE INTO properties (path, name, rev, value) VALUES (?, ?, ?, ?)",
		p, name, w.rev, value); err != nil {
		return errors.Wrapf(err, "write property %s of %s", name, p)
	}
	return nil
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
	head, err := headRevision(ctx, k.db)
	if err != nil {
		return nil, mk.ReadError(err, p)
	}
	rev, err := mk.ResolveRevision(revision, head)
	if err != nil {
		return nil, mk.ReadError(err, p)
	}
	// Rows at or below a committed revision never change, so the snapshot
	// needs no transaction.
	n, err := mk.Materialize(ctx, snapshot{db: k.db, rev: rev}, p, depth, offset, maxCount, f)
	if err != nil {
		return nil, mk.ReadError(err, p)
	}
	return n, nil
}

func (k *Kernel) HeadRevision(ctx context.Context) (string, error) {
	if k.closed.Load() {
		return "", errors.WithStack(mk.ErrClosed)
	}
	head, err := headRevision(ctx, k.db)
	if err != nil {
		return "", err
	}
	return mk.FormatRevision(head), nil
}

// Close closes the handle's connection pool. Closing twice is a no-op.
func (k *Kernel) Close() error {
	if k.closed.Swap(true) {
		return nil
	}
	return k.db.Close()
}

type snapshot struct {
	db  *sql.DB
	rev uint64
}

func (s snapshot) ReadNode(ctx context.Context, p string) (map[string]string, bool, error) {
	var created uint64
	err := s.db.QueryRowContext(ctx, "SELECT created_rev FROM nodes WHERE path = ?", p).Scan(&created)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && created > s.rev) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.Wrapf(err, "lookup %s", p)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT p.name, p.value FROM properties p
		WHERE p.path = ? AND p.rev = (
			SELECT MAX(q.rev) FROM properties q
			WHERE q.path = p.path AND q.name = p.name AND q.rev <= ?
		)`, p, s.rev)
	if err != nil {
		return nil, false, errors.Wrapf(err, "read properties of %s", p)
	}
	defer rows.Close()

	props := make(map[string]string)
	for rows.Next() {
		var name string
		var value sql.NullString
		if err := rows.Scan(&name, &value); err != nil {
			return nil, false, errors.Wrap(err, "scan property")
		}
		if value.Valid {
			props[name] = value.String
		}
	}
	return props, true, errors.Wrap(rows.Err(), "iterate properties")
}

func (s snapshot) ReadChildren(ctx context.Context, p string, offset, count int) ([]string, int, error) {
	var total int
	if err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM nodes WHERE parent = ? AND created_rev <= ?", p, s.rev).Scan(&total); err != nil {
		return nil, 0, errors.Wrapf(err, "count children of %s", p)
	}
	if count == 0 || offset >= total {
		return nil, total, nil
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT name FROM nodes WHERE parent = ? AND created_rev <= ? ORDER BY name LIMIT ? OFFSET ?",
		p, s.rev, count, offset)
	if err != nil {
		return nil, 0, errors.Wrapf(err, "list children of %s", p)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, 0, errors.Wrap(err, "scan child")
		}
		names = append(names, name)
	}
	return names, total, errors.Wrap(rows.Err(), "iterate children")
}
