package bench

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"

	"github.com/eunmann/mkbench/internal/logctx"
	"github.com/eunmann/mkbench/pkg/fixture"
	"github.com/eunmann/mkbench/pkg/logging"
	"github.com/eunmann/mkbench/pkg/memdiag"
)

// Phase tells warmup iterations from measured ones.
type Phase string

const (
	PhaseWarmup   Phase = "warmup"
	PhaseMeasured Phase = "measured"
)

// Sample is the raw timing of one iteration.
type Sample struct {
	Phase     Phase
	Iteration int
	Duration  time.Duration
}

// Measurement holds every sample of one case on one backend. It carries
// raw durations only; aggregation is left to whoever reads the report.
type Measurement struct {
	RunID   string
	Case    string
	Backend string
	Workers int
	Samples []Sample
}

// Durations returns the measured (non-warmup) durations in order.
func (m *Measurement) Durations() []time.Duration {
	var out []time.Duration
	for _, s := range m.Samples {
		if s.Phase == PhaseMeasured {
			out = append(out, s.Duration)
		}
	}
	return out
}

// Harness runs cases against one fixture.
type Harness struct {
	Fixture fixture.Fixture
	// RunID groups the measurements of one invocation. Empty generates one.
	RunID string
}

// NewHarness returns a harness over fx with a fresh run id.
func NewHarness(fx fixture.Fixture) *Harness {
	return &Harness{Fixture: fx, RunID: uuid.NewString()}
}

// Iteration runs one setup/run/teardown cycle of c and returns the
// duration of c.Run alone. Teardown always happens; its errors are
// combined with any setup or run error.
func (h *Harness) Iteration(ctx context.Context, c Case) (time.Duration, error) {
	log := logctx.FromContext(ctx)
	memdiag.Quiesce(log)

	elapsed, err := h.setUpAndRun(ctx, c)

	log.Debug().Msg("calling teardown")
	if tdErr := c.TearDown(ctx); tdErr != nil {
		err = errors.CombineErrors(err, errors.Wrapf(tdErr, "tear down %s case", c.Name()))
	}
	if tdErr := h.Fixture.TearDownAfterTest(ctx); tdErr != nil {
		err = errors.CombineErrors(err, errors.Wrap(tdErr, "tear down fixture"))
	}
	if err != nil {
		return 0, err
	}
	return elapsed, nil
}

func (h *Harness) setUpAndRun(ctx context.Context, c Case) (time.Duration, error) {
	log := logctx.FromContext(ctx)

	log.Debug().Msg("calling setup")
	if err := h.Fixture.SetUpBeforeTest(ctx); err != nil {
		return 0, errors.Wrap(err, "set up fixture")
	}
	if err := c.SetUp(ctx, h.Fixture); err != nil {
		return 0, errors.Wrapf(err, "set up %s case", c.Name())
	}

	log.Debug().Int("workers", c.Workers()).Msg("starting concurrent worker execution")
	start := time.Now()
	if err := c.Run(ctx); err != nil {
		return 0, errors.Wrapf(err, "run %s case", c.Name())
	}
	elapsed := time.Since(start)
	log.Debug().Msg("all workers are done")
	return elapsed, nil
}

// Measure runs warmups warmup iterations followed by runs measured ones and
// returns every raw sample. The first failing iteration stops the
// measurement; it and the iterations after it are logged as skipped, and
// samples collected so far are returned with the error.
func (h *Harness) Measure(ctx context.Context, c Case, warmups, runs int) (*Measurement, error) {
	if h.RunID == "" {
		h.RunID = uuid.NewString()
	}
	ctx = logctx.WithRun(ctx, h.RunID, c.Name(), h.Fixture.Name())
	log := logctx.FromContext(ctx)

	m := &Measurement{
		RunID:   h.RunID,
		Case:    c.Name(),
		Backend: h.Fixture.Name(),
		Workers: c.Workers(),
	}

	total := int64(warmups + runs)
	it := logging.NewIterationTracker(total)
	start := time.Now()

	for i := range warmups + runs {
		phase, n := PhaseWarmup, i
		if i >= warmups {
			phase, n = PhaseMeasured, i-warmups
		}
		logging.IterationStarted(log, string(phase), int64(i), total)

		d, err := h.Iteration(ctx, c)
		if err != nil {
			it.RecordSkip(total - int64(i))
			logging.PhaseComplete(log, "measure", time.Since(start)).
				Str("error", err.Error()).
				Iterations(it).
				Log("case aborted")
			return m, errors.Wrapf(err, "%s iteration %d", phase, n)
		}
		it.RecordCompletion(d)
		m.Samples = append(m.Samples, Sample{Phase: phase, Iteration: n, Duration: d})

		logging.IterationComplete(log, string(phase), d).
			Int("iteration", n).
			Int("workers", c.Workers()).
			Iterations(it).
			Log("iteration completed")
	}

	logging.PhaseComplete(log, "measure", time.Since(start)).
		Int("warmups", warmups).
		Int("runs", runs).
		Log("case measured")
	return m, nil
}
