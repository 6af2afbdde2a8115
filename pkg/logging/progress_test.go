package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

// decodeLine parses the single JSON log line in buf.
func decodeLine(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var m map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &m); err != nil {
		t.Fatalf("log line is not JSON: %v\n%s", err, buf.String())
	}
	return m
}

func TestIterationTrackerCounts(t *testing.T) {
	it := NewIterationTracker(5)
	it.RecordCompletion(10 * time.Millisecond)
	it.RecordCompletion(30 * time.Millisecond)

	if got := it.Remaining(); got != 3 {
		t.Errorf("Remaining = %d, want 3", got)
	}
	if got := it.ETA(); got != 60*time.Millisecond {
		t.Errorf("ETA = %v, want 60ms", got)
	}

	it.RecordSkip(3)
	if got := it.Remaining(); got != 0 {
		t.Errorf("Remaining after skip = %d, want 0", got)
	}
	if got := it.ETA(); got != 0 {
		t.Errorf("ETA after skip = %v, want 0", got)
	}
}

func TestIterationTrackerETAUsesRecentWindow(t *testing.T) {
	it := NewIterationTracker(100)
	// Slow warmups followed by a full window of fast iterations: only the
	// fast ones count.
	for range 5 {
		it.RecordCompletion(time.Second)
	}
	for range etaWindow {
		it.RecordCompletion(time.Millisecond)
	}

	remaining := int64(100 - 5 - etaWindow)
	if got, want := it.ETA(), time.Duration(remaining)*time.Millisecond; got != want {
		t.Errorf("ETA = %v, want %v", got, want)
	}
}

func TestIterationTrackerNothingCompleted(t *testing.T) {
	it := NewIterationTracker(3)
	if it.ETA() != 0 {
		t.Errorf("ETA before any completion = %v, want 0", it.ETA())
	}
	if NewIterationTracker(0).Remaining() != 0 {
		t.Error("empty tracker reports remaining iterations")
	}
}

func TestCompletionEventFieldsInOrder(t *testing.T) {
	SetPrettyMode(false)
	var buf bytes.Buffer
	PhaseComplete(zerolog.New(&buf), "tree_build", 1500*time.Millisecond).
		Str("root", "/").
		Int("height", 3).
		Count("nodes", 40).
		Log("tree built")

	line := buf.String()
	for _, want := range []string{
		`"event":"phase_completed"`,
		`"phase":"tree_build"`,
		`"duration_ms":1500`,
		`"root":"/","height":3,"nodes":40`,
		`"message":"tree built"`,
	} {
		if !strings.Contains(line, want) {
			t.Errorf("missing %s in %s", want, line)
		}
	}
	if strings.Contains(line, "_h") {
		t.Errorf("human companions emitted outside pretty mode: %s", line)
	}
}

func TestCompletionEventPrettyCompanions(t *testing.T) {
	SetPrettyMode(true)
	t.Cleanup(func() { SetPrettyMode(false) })

	var buf bytes.Buffer
	FileCreated(zerolog.New(&buf), "report", 2*time.Second).
		Bytes("size", 2048).
		Count("records", 1500).
		Rate("records_per_sec", 1500).
		Log("report written")

	m := decodeLine(t, &buf)
	if m["size"] != float64(2048) || m["records"] != float64(1500) {
		t.Errorf("raw values lost: %v", m)
	}
	if m["records_per_sec"] != float64(750) {
		t.Errorf("records_per_sec = %v, want 750", m["records_per_sec"])
	}
	for _, key := range []string{"size_h", "records_h", "records_per_sec_h", "duration_h"} {
		if _, ok := m[key]; !ok {
			t.Errorf("missing %s in pretty mode: %v", key, m)
		}
	}
}

func TestCompletionEventRateSkipsZeroDuration(t *testing.T) {
	var buf bytes.Buffer
	PhaseComplete(zerolog.New(&buf), "read", 0).
		Rate("reads_per_sec", 10).
		Log("done")
	if strings.Contains(buf.String(), "reads_per_sec") {
		t.Errorf("rate emitted for zero duration: %s", buf.String())
	}
}

func TestCompletionEventIterations(t *testing.T) {
	it := NewIterationTracker(4)
	it.RecordCompletion(20 * time.Millisecond)
	it.RecordSkip(2)

	var buf bytes.Buffer
	IterationComplete(zerolog.New(&buf), "measured", 20*time.Millisecond).
		Iterations(it).
		Log("iteration completed")

	m := decodeLine(t, &buf)
	want := map[string]float64{"completed": 1, "skipped": 2, "remaining": 1, "total": 4, "eta_ms": 20}
	for k, v := range want {
		if m[k] != v {
			t.Errorf("%s = %v, want %v", k, m[k], v)
		}
	}
}

func TestCompletionEventLogDebugRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	log := zerolog.New(&buf).Level(zerolog.InfoLevel)
	BatchComplete(log, "update", time.Millisecond).Str("revision", "r3").LogDebug("batch committed")
	if buf.Len() != 0 {
		t.Errorf("debug event written at info level: %s", buf.String())
	}
}

func TestIterationStarted(t *testing.T) {
	var buf bytes.Buffer
	IterationStarted(zerolog.New(&buf), "warmup", 1, 6)

	m := decodeLine(t, &buf)
	if m["event"] != "iteration_started" || m["phase"] != "warmup" {
		t.Errorf("unexpected event: %v", m)
	}
	if m["iteration"] != float64(1) || m["iterations_total"] != float64(6) {
		t.Errorf("unexpected counters: %v", m)
	}
	if _, ok := m["duration_ms"]; ok {
		t.Error("start event carries a duration")
	}
}
