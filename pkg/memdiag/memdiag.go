// Package memdiag provides memory diagnostics for benchmark runs: forcing a
// collection before each iteration so measurements start from a quiet heap,
// and optional periodic heap logging.
//
// Enable periodic logging with MKBENCH_MEM_DEBUG=1
// Enable pprof server with MKBENCH_MEM_PPROF=1 (listens on :6060)
package memdiag

import (
	"fmt"
	"net/http"
	"os"
	"runtime"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	// Registers pprof handlers on DefaultServeMux for the pprof HTTP server.
	_ "net/http/pprof"

	"github.com/rs/zerolog"

	"github.com/eunmann/mkbench/pkg/logging"
	"github.com/eunmann/mkbench/pkg/sysmem"
)

// Config holds configuration for memory diagnostics.
type Config struct {
	// Enabled controls whether periodic memory logging is active.
	Enabled bool

	// PprofEnabled controls whether pprof server is started.
	PprofEnabled bool

	// PprofAddr is the pprof listen address.
	PprofAddr string

	// LogInterval is the interval for periodic memory logging.
	LogInterval time.Duration
}

// DefaultConfig returns the default configuration, reading from environment.
func DefaultConfig() Config {
	return Config{
		Enabled:      os.Getenv("MKBENCH_MEM_DEBUG") == "1",
		PprofEnabled: os.Getenv("MKBENCH_MEM_PPROF") == "1",
		PprofAddr:    ":6060",
		LogInterval:  5 * time.Second,
	}
}

// Stats holds memory statistics from runtime.
type Stats struct {
	// HeapAlloc is bytes allocated on heap and still in use.
	HeapAlloc uint64

	// HeapSys is bytes obtained from OS for heap.
	HeapSys uint64

	// Sys is bytes obtained from OS.
	Sys uint64

	// NumGoroutine is the number of live goroutines.
	NumGoroutine int

	// NumGC is the number of completed GC cycles.
	NumGC uint32

	// SystemAvailable is free system memory, 0 when unknown.
	SystemAvailable uint64

	// SystemTotal is total system memory.
	SystemTotal uint64
}

// Read reads current memory statistics.
func Read() Stats {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return Stats{
		HeapAlloc:       m.HeapAlloc,
		HeapSys:         m.HeapSys,
		Sys:             m.Sys,
		NumGoroutine:    runtime.NumGoroutine(),
		NumGC:           m.NumGC,
		SystemAvailable: sysmem.AvailableBytes(),
		SystemTotal:     sysmem.TotalBytes(),
	}
}

// FormatMB formats bytes as megabytes.
func FormatMB(b uint64) string {
	return fmt.Sprintf("%.1fMB", float64(b)/(1024*1024))
}

// Quiesce runs two full collections, returns freed memory to the OS and
// logs the resulting snapshot at debug level. It is called before every
// benchmark iteration.
func Quiesce(log zerolog.Logger) Stats {
	before := Read()
	runtime.GC()
	runtime.GC()
	debug.FreeOSMemory()
	after := Read()

	freed := int64(before.HeapAlloc) - int64(after.HeapAlloc)
	log.Debug().
		Str("before_heap", FormatMB(before.HeapAlloc)).
		Str("after_heap", FormatMB(after.HeapAlloc)).
		Str("freed", FormatMB(uint64(max(freed, 0)))).
		Str("system_available", FormatMB(after.SystemAvailable)).
		Str("system_total", FormatMB(after.SystemTotal)).
		Int("goroutines", after.NumGoroutine).
		Msg("quiesced before iteration")
	return after
}

// Tracker logs memory usage periodically while a run is in progress.
type Tracker struct {
	config   Config
	stopCh   chan struct{}
	doneCh   chan struct{}
	started  atomic.Bool
	mu       sync.Mutex
	phase    string
	peakHeap uint64
}

// NewTracker creates a new memory tracker.
func NewTracker(config Config) *Tracker {
	return &Tracker{
		config: config,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
		phase:  "init",
	}
}

// Start begins periodic memory logging if enabled.
func (t *Tracker) Start() {
	if !t.config.Enabled {
		return
	}
	if !t.started.CompareAndSwap(false, true) {
		return
	}

	log := logging.L()
	log.Info().Msg("memory diagnostics enabled")

	if t.config.PprofEnabled {
		go func() {
			log.Info().Str("addr", t.config.PprofAddr).Msg("starting pprof server")
			if err := http.ListenAndServe(t.config.PprofAddr, nil); err != nil {
				log.Error().Err(err).Msg("pprof server failed")
			}
		}()
	}

	go t.logLoop()
}

// Stop stops the tracker.
func (t *Tracker) Stop() {
	if !t.started.Load() {
		return
	}
	close(t.stopCh)
	<-t.doneCh
}

// SetPhase sets the current phase for logging context, e.g. the case and
// backend being measured.
func (t *Tracker) SetPhase(phase string) {
	t.mu.Lock()
	t.phase = phase
	t.mu.Unlock()

	if t.config.Enabled {
		t.LogNow("phase_change")
	}
}

// LogNow logs current memory stats immediately.
func (t *Tracker) LogNow(reason string) {
	if !t.config.Enabled {
		return
	}
	stats := Read()

	t.mu.Lock()
	phase := t.phase
	t.peakHeap = max(t.peakHeap, stats.HeapAlloc)
	peakHeap := t.peakHeap
	t.mu.Unlock()

	log := logging.L()
	log.Debug().
		Str("reason", reason).
		Str("phase", phase).
		Str("heap_alloc", FormatMB(stats.HeapAlloc)).
		Str("heap_sys", FormatMB(stats.HeapSys)).
		Str("sys_total", FormatMB(stats.Sys)).
		Str("peak_heap", FormatMB(peakHeap)).
		Int("goroutines", stats.NumGoroutine).
		Uint32("num_gc", stats.NumGC).
		Msg("memory stats")
}

// PeakHeap returns the peak heap allocation seen.
func (t *Tracker) PeakHeap() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.peakHeap
}

func (t *Tracker) logLoop() {
	defer close(t.doneCh)

	ticker := time.NewTicker(t.config.LogInterval)
	defer ticker.Stop()

	for {
		select {
		case <-t.stopCh:
			t.LogNow("shutdown")
			return
		case <-ticker.C:
			t.LogNow("periodic")
		}
	}
}
