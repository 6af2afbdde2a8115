package fixture

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/cockroachdb/errors"

	"github.com/eunmann/mkbench/pkg/fileutil"
	"github.com/eunmann/mkbench/pkg/mk"
	"github.com/eunmann/mkbench/pkg/mk/memmk"
	"github.com/eunmann/mkbench/pkg/mk/pebblemk"
	"github.com/eunmann/mkbench/pkg/mk/sqlitemk"
)

// Backend names accepted by New.
const (
	Memory = "memory"
	SQLite = "sqlite"
	Pebble = "pebble"
)

// Names lists every backend in the order --backend all runs them.
var Names = []string{Memory, SQLite, Pebble}

var errNotPrepared = errors.New("backend not prepared")

// Config holds the settings of every fixture variant.
type Config struct {
	// DataDir holds on-disk backend files. Empty uses a temporary
	// directory per iteration.
	DataDir string
	SQLite  sqlitemk.Config
	Pebble  pebblemk.Config
	// PebbleInMemory keeps the Pebble engine on an in-memory filesystem
	// when Pebble.Dir is empty.
	PebbleInMemory bool
}

// New returns the fixture for a backend name.
func New(name string, cfg Config) (*Managed, error) {
	switch name {
	case Memory:
		return NewMemory(), nil
	case SQLite:
		return NewSQLite(cfg), nil
	case Pebble:
		return NewPebble(cfg), nil
	default:
		return nil, fmt.Errorf("unknown backend %q (want one of %v)", name, Names)
	}
}

// NewMemory returns a fixture over a shared in-memory store.
func NewMemory() *Managed {
	return NewManaged(&memoryBackend{})
}

// NewSQLite returns a fixture whose handles share one SQLite file.
func NewSQLite(cfg Config) *Managed {
	return NewManaged(&sqliteBackend{cfg: cfg})
}

// NewPebble returns a fixture whose handles share one Pebble engine.
func NewPebble(cfg Config) *Managed {
	return NewManaged(&pebbleBackend{cfg: cfg})
}

type memoryBackend struct {
	mu    sync.Mutex
	store *memmk.Store
}

func (b *memoryBackend) Name() string { return Memory }

func (b *memoryBackend) Open(context.Context) (mk.Kernel, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.store == nil {
		return nil, mk.Unavailable(errNotPrepared, Memory)
	}
	return b.store.Open(), nil
}

func (b *memoryBackend) Prepare(context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.store == nil {
		b.store = memmk.NewStore()
		return nil
	}
	b.store.Reset()
	return nil
}

func (b *memoryBackend) Reset(context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.store != nil {
		b.store.Reset()
	}
	return nil
}

func (b *memoryBackend) Release() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.store = nil
	return nil
}

type sqliteBackend struct {
	cfg Config

	mu      sync.Mutex
	admin   *sqlitemk.Admin
	dbCfg   sqlitemk.Config
	cleanup func() error
}

func (b *sqliteBackend) Name() string { return SQLite }

func (b *sqliteBackend) Open(ctx context.Context) (mk.Kernel, error) {
	b.mu.Lock()
	prepared, cfg := b.admin != nil, b.dbCfg
	b.mu.Unlock()
	if !prepared {
		return nil, mk.Unavailable(errNotPrepared, SQLite)
	}
	return sqlitemk.Open(ctx, cfg)
}

func (b *sqliteBackend) Prepare(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.admin == nil {
		cfg := b.cfg.SQLite
		if cfg.DBPath == "" {
			dir, cleanup, err := fileutil.ScratchDir(b.cfg.DataDir, SQLite)
			if err != nil {
				return err
			}
			b.cleanup = cleanup
			cfg = sqlitemk.DefaultConfig(filepath.Join(dir, "mk.db"))
		}
		admin, err := sqlitemk.OpenAdmin(cfg)
		if err != nil {
			return err
		}
		b.admin, b.dbCfg = admin, cfg
	}
	if err := b.admin.EnsureSchema(ctx); err != nil {
		return err
	}
	return b.admin.Reset(ctx)
}

func (b *sqliteBackend) Reset(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.admin == nil {
		return nil
	}
	return b.admin.Drop(ctx)
}

func (b *sqliteBackend) Release() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	var err error
	if b.admin != nil {
		err = b.admin.Close()
		b.admin = nil
	}
	if b.cleanup != nil {
		err = errors.CombineErrors(err, b.cleanup())
		b.cleanup = nil
	}
	return err
}

type pebbleBackend struct {
	cfg Config

	mu      sync.Mutex
	engine  *pebblemk.Engine
	cleanup func() error
}

func (b *pebbleBackend) Name() string { return Pebble }

func (b *pebbleBackend) Open(context.Context) (mk.Kernel, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.engine == nil {
		return nil, mk.Unavailable(errNotPrepared, Pebble)
	}
	return b.engine.Open(), nil
}

func (b *pebbleBackend) Prepare(context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.engine == nil {
		cfg := b.cfg.Pebble
		if cfg.Dir == "" && !b.cfg.PebbleInMemory {
			dir, cleanup, err := fileutil.ScratchDir(b.cfg.DataDir, Pebble)
			if err != nil {
				return err
			}
			b.cleanup = cleanup
			cfg.Dir = dir
		}
		engine, err := pebblemk.OpenEngine(cfg)
		if err != nil {
			return err
		}
		b.engine = engine
	}
	return b.engine.Reset()
}

func (b *pebbleBackend) Reset(context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.engine == nil {
		return nil
	}
	return b.engine.Reset()
}

func (b *pebbleBackend) Release() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	var err error
	if b.engine != nil {
		err = b.engine.Close()
		b.engine = nil
	}
	if b.cleanup != nil {
		err = errors.CombineErrors(err, b.cleanup())
		b.cleanup = nil
	}
	return err
}
