// Package report persists raw benchmark timings: one row per iteration in a
// Parquet file, optionally uploaded to S3.
package report

import (
	"time"

	"github.com/eunmann/mkbench/pkg/bench"
)

// Record is one iteration's raw timing.
type Record struct {
	RunID      string `parquet:"run_id"`
	Case       string `parquet:"case"`
	Backend    string `parquet:"backend"`
	Phase      string `parquet:"phase"`
	Iteration  int32  `parquet:"iteration"`
	DurationNs int64  `parquet:"duration_ns"`
	Workers    int32  `parquet:"workers"`
	// RecordedAt is the Unix time in milliseconds the record was assembled.
	RecordedAt int64 `parquet:"recorded_at_ms"`
}

// Duration returns the iteration's duration.
func (r Record) Duration() time.Duration {
	return time.Duration(r.DurationNs)
}

// FromMeasurement flattens a measurement into records, warmups included.
func FromMeasurement(m *bench.Measurement, at time.Time) []Record {
	out := make([]Record, 0, len(m.Samples))
	for _, s := range m.Samples {
		out = append(out, Record{
			RunID:      m.RunID,
			Case:       m.Case,
			Backend:    m.Backend,
			Phase:      string(s.Phase),
			Iteration:  int32(s.Iteration),
			DurationNs: s.Duration.Nanoseconds(),
			Workers:    int32(m.Workers),
			RecordedAt: at.UnixMilli(),
		})
	}
	return out
}
