package logging

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/eunmann/mkbench/pkg/humanfmt"
)

// etaWindow is how many recent iteration durations feed the ETA.
const etaWindow = 10

// IterationTracker counts the iterations of one measurement and estimates
// the time left from the most recent ones. It is safe for concurrent use.
type IterationTracker struct {
	total     int64
	completed atomic.Int64
	skipped   atomic.Int64

	mu     sync.Mutex
	recent []time.Duration
	next   int
}

// NewIterationTracker tracks total planned iterations.
func NewIterationTracker(total int64) *IterationTracker {
	return &IterationTracker{total: total, recent: make([]time.Duration, 0, etaWindow)}
}

// RecordCompletion records one finished iteration that took d.
func (it *IterationTracker) RecordCompletion(d time.Duration) {
	it.completed.Add(1)

	it.mu.Lock()
	if len(it.recent) < etaWindow {
		it.recent = append(it.recent, d)
	} else {
		it.recent[it.next] = d
		it.next = (it.next + 1) % etaWindow
	}
	it.mu.Unlock()
}

// RecordSkip records n iterations that will not run, e.g. after a failure.
func (it *IterationTracker) RecordSkip(n int64) {
	it.skipped.Add(n)
}

// Remaining returns the iterations neither completed nor skipped.
func (it *IterationTracker) Remaining() int64 {
	return max(it.total-it.completed.Load()-it.skipped.Load(), 0)
}

// ETA extrapolates the mean of the recent durations over the remaining
// iterations. It is zero until one iteration has completed.
func (it *IterationTracker) ETA() time.Duration {
	remaining := it.Remaining()
	if remaining == 0 {
		return 0
	}

	it.mu.Lock()
	defer it.mu.Unlock()
	if len(it.recent) == 0 {
		return 0
	}
	var sum time.Duration
	for _, d := range it.recent {
		sum += d
	}
	return sum / time.Duration(len(it.recent)) * time.Duration(remaining)
}

// CompletionEvent builds one structured "something finished" log line.
// Fields are emitted in the order they were added.
type CompletionEvent struct {
	log     zerolog.Logger
	event   string
	phase   string
	elapsed time.Duration
	fields  []func(*zerolog.Event)
}

func newCompletionEvent(log zerolog.Logger, event, phase string, elapsed time.Duration) *CompletionEvent {
	return &CompletionEvent{log: log, event: event, phase: phase, elapsed: elapsed}
}

func (ce *CompletionEvent) add(f func(*zerolog.Event)) *CompletionEvent {
	ce.fields = append(ce.fields, f)
	return ce
}

// Str adds a string field.
func (ce *CompletionEvent) Str(key, val string) *CompletionEvent {
	return ce.add(func(e *zerolog.Event) { e.Str(key, val) })
}

// Int adds an int field.
func (ce *CompletionEvent) Int(key string, val int) *CompletionEvent {
	return ce.add(func(e *zerolog.Event) { e.Int(key, val) })
}

// Count adds a count, plus a key_h companion in pretty mode.
func (ce *CompletionEvent) Count(key string, n int64) *CompletionEvent {
	return ce.add(func(e *zerolog.Event) {
		e.Int64(key, n)
		if IsPrettyMode() {
			e.Str(key+"_h", humanfmt.Count(n))
		}
	})
}

// Bytes adds a byte size, plus a key_h companion in pretty mode.
func (ce *CompletionEvent) Bytes(key string, n int64) *CompletionEvent {
	return ce.add(func(e *zerolog.Event) {
		e.Int64(key, n)
		if IsPrettyMode() {
			e.Str(key+"_h", humanfmt.Bytes(n))
		}
	})
}

// Rate adds n per second over the event's duration, plus a key_h
// companion in pretty mode. Nothing is added for a zero duration.
func (ce *CompletionEvent) Rate(key string, n int64) *CompletionEvent {
	if ce.elapsed <= 0 {
		return ce
	}
	return ce.add(func(e *zerolog.Event) {
		e.Float64(key, float64(n)/ce.elapsed.Seconds())
		if IsPrettyMode() {
			e.Str(key+"_h", humanfmt.Rate(n, ce.elapsed))
		}
	})
}

// Iterations adds the tracker's counts and, once known, its ETA.
func (ce *CompletionEvent) Iterations(it *IterationTracker) *CompletionEvent {
	completed, skipped, remaining := it.completed.Load(), it.skipped.Load(), it.Remaining()
	eta := it.ETA()
	return ce.add(func(e *zerolog.Event) {
		e.Int64("completed", completed).
			Int64("skipped", skipped).
			Int64("remaining", remaining).
			Int64("total", it.total)
		if eta > 0 {
			e.Int64("eta_ms", eta.Milliseconds())
			if IsPrettyMode() {
				e.Str("eta_h", humanfmt.Duration(eta))
			}
		}
	})
}

// Log emits the event at info level.
func (ce *CompletionEvent) Log(msg string) {
	ce.emit(ce.log.Info(), msg)
}

// LogDebug emits the event at debug level.
func (ce *CompletionEvent) LogDebug(msg string) {
	ce.emit(ce.log.Debug(), msg)
}

func (ce *CompletionEvent) emit(e *zerolog.Event, msg string) {
	if e == nil {
		return
	}
	e.Str("event", ce.event).
		Str("phase", ce.phase).
		Int64("duration_ms", ce.elapsed.Milliseconds())
	if IsPrettyMode() {
		e.Str("duration_h", humanfmt.Duration(ce.elapsed))
	}
	for _, f := range ce.fields {
		f(e)
	}
	e.Msg(msg)
}

// PhaseComplete starts a phase completion event.
func PhaseComplete(log zerolog.Logger, phase string, elapsed time.Duration) *CompletionEvent {
	return newCompletionEvent(log, "phase_completed", phase, elapsed)
}

// IterationComplete starts a warmup or measured iteration completion event.
func IterationComplete(log zerolog.Logger, phase string, elapsed time.Duration) *CompletionEvent {
	return newCompletionEvent(log, "iteration_completed", phase, elapsed)
}

// BatchComplete starts a commit batch completion event.
func BatchComplete(log zerolog.Logger, phase string, elapsed time.Duration) *CompletionEvent {
	return newCompletionEvent(log, "batch_completed", phase, elapsed)
}

// FileCreated starts a file creation event.
func FileCreated(log zerolog.Logger, phase string, elapsed time.Duration) *CompletionEvent {
	return newCompletionEvent(log, "file_created", phase, elapsed)
}

// IterationStarted logs the start of iteration of total.
func IterationStarted(log zerolog.Logger, phase string, iteration, total int64) {
	log.Info().
		Str("event", "iteration_started").
		Str("phase", phase).
		Int64("iteration", iteration).
		Int64("iterations_total", total).
		Msg("iteration started")
}
