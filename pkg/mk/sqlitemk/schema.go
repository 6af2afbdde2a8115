package sqlitemk

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/cockroachdb/errors"
	_ "github.com/mattn/go-sqlite3"

	"github.com/eunmann/mkbench/pkg/logging"
	"github.com/eunmann/mkbench/pkg/mk"
	"github.com/eunmann/mkbench/pkg/pathutil"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS revisions (
		rev INTEGER PRIMARY KEY,
		message TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE TABLE IF NOT EXISTS nodes (
		path TEXT PRIMARY KEY,
		parent TEXT NOT NULL,
		name TEXT NOT NULL,
		created_rev INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS nodes_parent ON nodes (parent, name)`,
	`CREATE TABLE IF NOT EXISTS properties (
		path TEXT NOT NULL,
		name TEXT NOT NULL,
		rev INTEGER NOT NULL,
		value TEXT,
		PRIMARY KEY (path, name, rev)
	)`,
}

var tables = []string{"properties", "nodes", "revisions"}

// Admin manages the schema of a database file shared by kernel handles.
type Admin struct {
	db  *sql.DB
	cfg Config
}

// OpenAdmin opens the database file for schema management.
func OpenAdmin(cfg Config) (*Admin, error) {
	db, err := openDB(cfg)
	if err != nil {
		return nil, err
	}

	log := logging.WithPhase("sqlite_open")
	log.Info().
		Str("db_path", cfg.DBPath).
		Str("synchronous", cfg.Synchronous).
		Msg("opened SQLite backend")

	return &Admin{db: db, cfg: cfg}, nil
}

func openDB(cfg Config) (*sql.DB, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	db, err := sql.Open("sqlite3", cfg.dsn())
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	for _, pragma := range cfg.pragmas() {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("execute pragma %q: %w", pragma, err)
		}
	}
	return db, nil
}

// EnsureSchema creates the tables if needed and seeds revision r0 holding
// only the root node.
func (a *Admin) EnsureSchema(ctx context.Context) error {
	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, stmt := range schema {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("create schema: %w", err)
		}
	}
	if err := seedRoot(ctx, tx, "INSERT OR IGNORE"); err != nil {
		return err
	}
	return tx.Commit()
}

// Reset deletes every revision and re-seeds r0.
func (a *Admin) Reset(ctx context.Context) error {
	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, table := range tables {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("clear %s: %w", table, err)
		}
	}
	if err := seedRoot(ctx, tx, "INSERT"); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit reset: %w", err)
	}
	return nil
}

// Drop removes the schema.
func (a *Admin) Drop(ctx context.Context) error {
	for _, table := range tables {
		if _, err := a.db.ExecContext(ctx, "DROP TABLE IF EXISTS "+table); err != nil {
			return fmt.Errorf("drop %s: %w", table, err)
		}
	}
	return nil
}

// NodeCount returns the number of nodes at head, root included.
func (a *Admin) NodeCount(ctx context.Context) (int, error) {
	var n int
	if err := a.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM nodes").Scan(&n); err != nil {
		return 0, errors.Wrap(err, "count nodes")
	}
	return n, nil
}

// Close closes the admin connection.
func (a *Admin) Close() error {
	return a.db.Close()
}

func seedRoot(ctx context.Context, tx *sql.Tx, insert string) error {
	if _, err := tx.ExecContext(ctx, insert+" INTO revisions (rev, message) VALUES (?, '')", mk.InitialRevision); err != nil {
		return fmt.Errorf("seed revision: %w", err)
	}
	if _, err := tx.ExecContext(ctx, insert+" INTO nodes (path, parent, name, created_rev) VALUES (?, '', '', ?)",
		pathutil.Root, mk.InitialRevision); err != nil {
		return fmt.Errorf("seed root: %w", err)
	}
	return nil
}
