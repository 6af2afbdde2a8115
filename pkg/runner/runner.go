// Package runner executes a fixed set of worker tasks on a pool sized to the
// task count, under a wall-clock deadline.
package runner

import (
	"context"
	"fmt"
	"time"

	"github.com/cockroachdb/errors"
	"golang.org/x/sync/errgroup"

	"github.com/eunmann/mkbench/internal/logctx"
)

// ErrPoolTimeout indicates the workers did not finish before the deadline.
var ErrPoolTimeout = errors.New("worker pool timed out")

// DefaultDrain is how long Run waits for cancelled tasks to return when
// Runner.Drain is zero.
const DefaultDrain = 5 * time.Second

// Task is one worker's body. The returned string is the worker's result,
// such as the last revision it committed.
type Task func(ctx context.Context) (string, error)

// Runner runs tasks concurrently.
type Runner struct {
	// Timeout bounds the whole pool. Zero means no deadline.
	Timeout time.Duration
	// Drain bounds the wait for tasks to return once their context is
	// cancelled by a timeout or by the caller. Zero uses DefaultDrain.
	Drain time.Duration
}

// Result holds the per-task outcomes in submission order.
type Result struct {
	Values  []string
	Errors  []error
	Elapsed time.Duration
}

// Run starts every task at once and waits for all of them. A failing task
// does not cancel its siblings. After all tasks finish, results are read
// in submission order: the first error is returned with later ones attached
// as secondary errors, and Result is returned alongside so every failure
// can be inspected. When the deadline passes or ctx is cancelled first, the
// task context is cancelled and Run waits up to Drain for the tasks to
// return, so callers may release shared resources once Run is back. Tasks
// still running after the drain are reported in the error.
func (r *Runner) Run(ctx context.Context, tasks []Task) (*Result, error) {
	if len(tasks) == 0 {
		return &Result{}, nil
	}

	taskCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	res := &Result{
		Values: make([]string, len(tasks)),
		Errors: make([]error, len(tasks)),
	}

	var g errgroup.Group
	g.SetLimit(len(tasks))

	start := time.Now()
	for i, task := range tasks {
		g.Go(func() error {
			wctx := logctx.WithInt(taskCtx, "worker", i)
			v, err := task(wctx)
			// Each slot is written by exactly one goroutine and read only
			// after Wait.
			res.Values[i] = v
			res.Errors[i] = err
			return nil
		})
	}

	done := make(chan struct{})
	go func() {
		_ = g.Wait()
		close(done)
	}()

	var deadline <-chan time.Time
	if r.Timeout > 0 {
		timer := time.NewTimer(r.Timeout)
		defer timer.Stop()
		deadline = timer.C
	}

	select {
	case <-done:
	case <-deadline:
		cancel()
		err := errors.Mark(fmt.Errorf("%d workers not done after %v", len(tasks), r.Timeout), ErrPoolTimeout)
		return nil, r.drain(done, err)
	case <-ctx.Done():
		cancel()
		return nil, r.drain(done, errors.Wrap(ctx.Err(), "worker pool cancelled"))
	}
	res.Elapsed = time.Since(start)

	var first error
	for i, err := range res.Errors {
		if err == nil {
			continue
		}
		err = errors.Wrapf(err, "worker %d", i)
		if first == nil {
			first = err
			continue
		}
		first = errors.WithSecondaryError(first, err)
	}
	return res, first
}

// drain waits for done after the task context was cancelled and returns
// cause, noting when tasks outlived the drain.
func (r *Runner) drain(done <-chan struct{}, cause error) error {
	d := r.Drain
	if d <= 0 {
		d = DefaultDrain
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-done:
		return cause
	case <-timer.C:
		return errors.Wrapf(cause, "workers still running %v after cancel", d)
	}
}
