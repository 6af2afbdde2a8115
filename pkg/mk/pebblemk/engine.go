// Package pebblemk is a tree backend on a Pebble LSM store. Handles share
// one Engine; revisions are encoded into the keys so readers never block
// committers.
package pebblemk

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
	"github.com/rs/zerolog"

	"github.com/eunmann/mkbench/pkg/logging"
	"github.com/eunmann/mkbench/pkg/mk"
	"github.com/eunmann/mkbench/pkg/pathutil"
)

// Config holds configuration for the Pebble backend.
type Config struct {
	// Dir is the store directory. Empty keeps the store in memory.
	Dir string
	// Sync makes every commit durable before it returns.
	Sync bool
	// CacheSize is the block cache size in bytes; 0 uses Pebble's default.
	CacheSize int64
}

// DefaultConfig returns an in-memory configuration.
func DefaultConfig() Config {
	return Config{}
}

// Validate checks configuration values and returns an error for invalid settings.
func (c *Config) Validate() error {
	if c.CacheSize < 0 {
		return fmt.Errorf("CacheSize must be non-negative, got %d", c.CacheSize)
	}
	return nil
}

// Engine owns the Pebble store shared by every handle opened on it.
// Commits are serialized by the engine. Every store access holds stateMu
// for reading, so Close waits for in-flight operations and later ones fail
// with mk.ErrClosed instead of reaching a closed store.
type Engine struct {
	db        *pebble.DB
	cfg       Config
	writeOpts *pebble.WriteOptions

	stateMu sync.RWMutex
	closed  bool

	commitMu sync.Mutex
	head     atomic.Uint64
}

// OpenEngine opens or creates the store and seeds r0 if it is empty.
func OpenEngine(cfg Config) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	log := logging.WithPhase("pebble_open")

	opts := &pebble.Options{Logger: pebbleLogger{log: log}}
	if cfg.Dir == "" {
		opts.FS = vfs.NewMem()
	}
	if cfg.CacheSize > 0 {
		cache := pebble.NewCache(cfg.CacheSize)
		defer cache.Unref()
		opts.Cache = cache
	}

	db, err := pebble.Open(cfg.Dir, opts)
	if err != nil {
		return nil, errors.Wrap(err, "open pebble store")
	}

	e := &Engine{db: db, cfg: cfg, writeOpts: pebble.NoSync}
	if cfg.Sync {
		e.writeOpts = pebble.Sync
	}

	head, ok, err := e.readHead()
	if err != nil {
		db.Close()
		return nil, err
	}
	if !ok {
		if err := e.seed(); err != nil {
			db.Close()
			return nil, err
		}
	}
	e.head.Store(head)

	log.Info().
		Str("dir", cfg.Dir).
		Bool("in_memory", cfg.Dir == "").
		Str("head", mk.FormatRevision(head)).
		Msg("opened Pebble backend")
	return e, nil
}

func (e *Engine) readHead() (uint64, bool, error) {
	v, closer, err := e.db.Get(headKey)
	if errors.Is(err, pebble.ErrNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, errors.Wrap(err, "read head revision")
	}
	defer closer.Close()
	return decodeRev(v), true, nil
}

func (e *Engine) seed() error {
	b := e.db.NewBatch()
	defer b.Close()
	_ = b.Set(headKey, encodeRev(mk.InitialRevision), nil)
	_ = b.Set(revisionKey(mk.InitialRevision), nil, nil)
	_ = b.Set(nodeKey(pathutil.Root), encodeRev(mk.InitialRevision), nil)
	if err := b.Commit(pebble.Sync); err != nil {
		return errors.Wrap(err, "seed root")
	}
	return nil
}

// Open returns a new handle on the engine.
func (e *Engine) Open() *Kernel {
	return &Kernel{engine: e}
}

// Head returns the current head revision number.
func (e *Engine) Head() uint64 {
	return e.head.Load()
}

// acquire pins the store open for one operation; release must be called
// when the operation is done.
func (e *Engine) acquire() (release func(), err error) {
	e.stateMu.RLock()
	if e.closed {
		e.stateMu.RUnlock()
		return nil, errors.WithStack(mk.ErrClosed)
	}
	return e.stateMu.RUnlock, nil
}

// Reset deletes every key and re-seeds r0.
func (e *Engine) Reset() error {
	release, err := e.acquire()
	if err != nil {
		return err
	}
	defer release()
	e.commitMu.Lock()
	defer e.commitMu.Unlock()

	if err := e.db.DeleteRange([]byte{0}, []byte{0xff}, pebble.Sync); err != nil {
		return errors.Wrap(err, "clear store")
	}
	if err := e.seed(); err != nil {
		return err
	}
	e.head.Store(mk.InitialRevision)
	return nil
}

// NodeCount returns the number of nodes at head, root included.
func (e *Engine) NodeCount() (int, error) {
	release, err := e.acquire()
	if err != nil {
		return 0, err
	}
	defer release()
	iter, err := e.db.NewIter(&pebble.IterOptions{
		LowerBound: nodePrefix,
		UpperBound: prefixEnd(nodePrefix),
	})
	if err != nil {
		return 0, errors.Wrap(err, "open iterator")
	}
	n := 0
	for valid := iter.First(); valid; valid = iter.Next() {
		n++
	}
	return n, errors.CombineErrors(iter.Error(), iter.Close())
}

// Close waits for in-flight operations and closes the store. Handle
// operations after Close fail with mk.ErrClosed. Closing twice is a no-op.
func (e *Engine) Close() error {
	e.stateMu.Lock()
	defer e.stateMu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	return e.db.Close()
}

func (e *Engine) commit(ctx context.Context, base, message string, changes []mk.Change) (uint64, error) {
	release, err := e.acquire()
	if err != nil {
		return 0, err
	}
	defer release()
	e.commitMu.Lock()
	defer e.commitMu.Unlock()

	head := e.head.Load()
	if base != "" {
		if _, err := mk.ResolveRevision(base, head); err != nil {
			return 0, err
		}
	}

	rev := head + 1
	b := e.db.NewIndexedBatch()
	defer b.Close()

	if err := mk.Apply(ctx, &batchWriter{batch: b, rev: rev}, changes); err != nil {
		return 0, err
	}
	if err := b.Set(revisionKey(rev), []byte(message), nil); err != nil {
		return 0, errors.Wrap(err, "record revision")
	}
	if err := b.Set(headKey, encodeRev(rev), nil); err != nil {
		return 0, errors.Wrap(err, "advance head")
	}
	if err := b.Commit(e.writeOpts); err != nil {
		return 0, errors.Wrap(err, "commit batch")
	}
	e.head.Store(rev)
	return rev, nil
}

// batchWriter stages changes in an indexed batch, which reads its own
// writes through to the store.
type batchWriter struct {
	batch *pebble.Batch
	rev   uint64
}

func (w *batchWriter) Exists(_ context.Context, p string) (bool, error) {
	_, closer, err := w.batch.Get(nodeKey(p))
	if errors.Is(err, pebble.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, errors.Wrapf(err, "lookup %s", p)
	}
	return true, closer.Close()
}

func (w *batchWriter) AddNode(_ context.Context, p string, props map[string]string) error {
	rev := encodeRev(w.rev)
	if err := w.batch.Set(nodeKey(p), rev, nil); err != nil {
		return errors.Wrapf(err, "insert node %s", p)
	}
	if err := w.batch.Set(childKey(pathutil.Parent(p), pathutil.Name(p)), rev, nil); err != nil {
		return errors.Wrapf(err, "link node %s", p)
	}
	for name, value := range props {
		if err := w.put(p, name, tagValue, value); err != nil {
			return err
		}
	}
	return nil
}

func (w *batchWriter) SetProperty(_ context.Context, p, name, value string) error {
	return w.put(p, name, tagValue, value)
}

func (w *batchWriter) RemoveProperty(_ context.Context, p, name string) error {
	return w.put(p, name, tagTombstone, "")
}

func (w *batchWriter) put(p, name string, tag byte, value string) error {
	v := make([]byte, 0, len(value)+1)
	v = append(append(v, tag), value...)
	if err := w.batch.Set(propertyKey(p, name, w.rev), v, nil); err != nil {
		return errors.Wrapf(err, "write property %s of %s", name, p)
	}
	return nil
}

// snapshot reads keys at or below rev. Those keys are immutable once
// committed, so no Pebble snapshot is needed.
type snapshot struct {
	db  *pebble.DB
	rev uint64
}

func (s snapshot) ReadNode(_ context.Context, p string) (map[string]string, bool, error) {
	v, closer, err := s.db.Get(nodeKey(p))
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.Wrapf(err, "lookup %s", p)
	}
	created := decodeRev(v)
	if err := closer.Close(); err != nil {
		return nil, false, err
	}
	if created > s.rev {
		return nil, false, nil
	}

	prefix := propertyKeyPrefix(p)
	iter, err := s.db.NewIter(&pebble.IterOptions{LowerBound: prefix, UpperBound: prefixEnd(prefix)})
	if err != nil {
		return nil, false, errors.Wrap(err, "open iterator")
	}
	props := make(map[string]string)
	// Versions of one property are adjacent, newest first; the first one
	// at or below rev wins.
	var current string
	resolved := false
	for valid := iter.First(); valid; valid = iter.Next() {
		name, rev, ok := splitPropertyKey(iter.Key()[len(prefix):])
		if !ok {
			continue
		}
		if name != current {
			current, resolved = name, false
		}
		if resolved || rev > s.rev {
			continue
		}
		resolved = true
		if v := iter.Value(); len(v) > 0 && v[0] == tagValue {
			props[name] = string(v[1:])
		}
	}
	return props, true, errors.CombineErrors(iter.Error(), iter.Close())
}

func (s snapshot) ReadChildren(_ context.Context, p string, offset, count int) ([]string, int, error) {
	prefix := childKeyPrefix(p)
	iter, err := s.db.NewIter(&pebble.IterOptions{LowerBound: prefix, UpperBound: prefixEnd(prefix)})
	if err != nil {
		return nil, 0, errors.Wrap(err, "open iterator")
	}
	var names []string
	total := 0
	for valid := iter.First(); valid; valid = iter.Next() {
		if decodeRev(iter.Value()) > s.rev {
			continue
		}
		if total >= offset && (count < 0 || len(names) < count) {
			names = append(names, string(iter.Key()[len(prefix):]))
		}
		total++
	}
	return names, total, errors.CombineErrors(iter.Error(), iter.Close())
}

// pebbleLogger routes Pebble's internal log lines through zerolog.
type pebbleLogger struct {
	log zerolog.Logger
}

func (l pebbleLogger) Infof(format string, args ...interface{}) {
	l.log.Debug().Msgf(format, args...)
}

func (l pebbleLogger) Errorf(format string, args ...interface{}) {
	l.log.Error().Msgf(format, args...)
}

func (l pebbleLogger) Fatalf(format string, args ...interface{}) {
	l.log.Fatal().Msgf(format, args...)
}
