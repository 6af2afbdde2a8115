// Package fixture manages the lifecycle of storage backend handles around
// benchmark iterations: a registry of live handles, preconditioning before
// an iteration and an exactly-once reset afterwards.
package fixture

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/eunmann/mkbench/pkg/logging"
	"github.com/eunmann/mkbench/pkg/mk"
)

// ErrResourceLeak indicates a handle or shared resource failed to release.
var ErrResourceLeak = errors.New("resource leak")

// Fixture owns every handle created against one backend instance.
type Fixture interface {
	// CreateHandle opens and registers a new handle. It is safe for
	// concurrent use. Failures are mk.ErrBackendUnavailable and register
	// nothing.
	CreateHandle(ctx context.Context) (mk.Kernel, error)
	// DisposeHandle unregisters and closes h. Unregistered handles are
	// ignored.
	DisposeHandle(h mk.Kernel) error
	// SetUpBeforeTest brings the shared backend into a known-empty state.
	SetUpBeforeTest(ctx context.Context) error
	// TearDownAfterTest disposes every registered handle and resets the
	// shared backend exactly once.
	TearDownAfterTest(ctx context.Context) error
	// Name identifies the backend.
	Name() string
}

// Backend is the backend-specific part of a fixture. The fixture calls
// Prepare, Reset and Release from one goroutine; Open may be called
// concurrently between Prepare and Release.
type Backend interface {
	Name() string
	// Open creates a handle on the shared backend.
	Open(ctx context.Context) (mk.Kernel, error)
	// Prepare acquires shared resources if needed and empties the backend.
	Prepare(ctx context.Context) error
	// Reset destroys all shared backend state.
	Reset(ctx context.Context) error
	// Release frees shared resources acquired by Prepare.
	Release() error
}

// Managed implements Fixture over a Backend.
type Managed struct {
	backend Backend

	mu      sync.Mutex
	handles map[mk.Kernel]struct{}
}

var _ Fixture = (*Managed)(nil)

// NewManaged returns a fixture for backend.
func NewManaged(backend Backend) *Managed {
	return &Managed{backend: backend, handles: make(map[mk.Kernel]struct{})}
}

func (m *Managed) Name() string {
	return m.backend.Name()
}

func (m *Managed) CreateHandle(ctx context.Context) (mk.Kernel, error) {
	h, err := m.backend.Open(ctx)
	if err != nil {
		if !errors.Is(err, mk.ErrBackendUnavailable) {
			err = mk.Unavailable(err, m.backend.Name())
		}
		return nil, err
	}

	m.mu.Lock()
	m.handles[h] = struct{}{}
	m.mu.Unlock()
	return h, nil
}

func (m *Managed) DisposeHandle(h mk.Kernel) error {
	m.mu.Lock()
	_, ok := m.handles[h]
	delete(m.handles, h)
	m.mu.Unlock()

	if !ok {
		return nil
	}
	if err := h.Close(); err != nil {
		return errors.Mark(errors.Wrap(err, "close handle"), ErrResourceLeak)
	}
	return nil
}

// Live returns the number of registered handles.
func (m *Managed) Live() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.handles)
}

func (m *Managed) SetUpBeforeTest(ctx context.Context) error {
	start := time.Now()
	if err := m.backend.Prepare(ctx); err != nil {
		return errors.Wrapf(err, "prepare %s backend", m.backend.Name())
	}
	log := logging.WithPhase("fixture_setup")
	logging.PhaseComplete(log, "fixture_setup", time.Since(start)).
		Str("backend", m.backend.Name()).
		LogDebug("backend prepared")
	return nil
}

func (m *Managed) TearDownAfterTest(ctx context.Context) error {
	start := time.Now()

	m.mu.Lock()
	handles := make([]mk.Kernel, 0, len(m.handles))
	for h := range m.handles {
		handles = append(handles, h)
	}
	m.handles = make(map[mk.Kernel]struct{})
	m.mu.Unlock()

	var closeErr error
	for _, h := range handles {
		if err := h.Close(); err != nil {
			closeErr = errors.CombineErrors(closeErr, errors.Wrap(err, "close handle"))
		}
	}

	// The reset goes through the backend's own reference, so it runs even
	// when no handle was ever created.
	resetErr := m.backend.Reset(ctx)
	if resetErr != nil {
		resetErr = errors.Wrapf(resetErr, "reset %s backend", m.backend.Name())
	}
	if err := m.backend.Release(); err != nil {
		closeErr = errors.CombineErrors(closeErr, errors.Wrap(err, "release backend"))
	}
	if closeErr != nil {
		closeErr = errors.Mark(closeErr, ErrResourceLeak)
	}

	log := logging.WithPhase("fixture_teardown")
	logging.PhaseComplete(log, "fixture_teardown", time.Since(start)).
		Str("backend", m.backend.Name()).
		Int("handles_disposed", len(handles)).
		LogDebug("backend torn down")

	return errors.CombineErrors(resetErr, closeErr)
}
