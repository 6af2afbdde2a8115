package runner

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
)

func TestRunAllSucceed(t *testing.T) {
	const n = 8
	tasks := make([]Task, n)
	for i := range tasks {
		tasks[i] = func(context.Context) (string, error) {
			return fmt.Sprintf("r%d", i), nil
		}
	}

	r := &Runner{Timeout: 10 * time.Second}
	res, err := r.Run(context.Background(), tasks)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	for i, v := range res.Values {
		if want := fmt.Sprintf("r%d", i); v != want {
			t.Errorf("Values[%d] = %q, want %q", i, v, want)
		}
	}
}

func TestRunRunsAllTasksConcurrently(t *testing.T) {
	const n = 6
	var arrived atomic.Int32
	release := make(chan struct{})
	tasks := make([]Task, n)
	for i := range tasks {
		tasks[i] = func(context.Context) (string, error) {
			if arrived.Add(1) == n {
				close(release)
			}
			<-release
			return "", nil
		}
	}

	r := &Runner{Timeout: 10 * time.Second}
	if _, err := r.Run(context.Background(), tasks); err != nil {
		t.Fatalf("Run failed: %v (pool smaller than task count?)", err)
	}
}

func TestRunPropagatesEveryError(t *testing.T) {
	errA := errors.New("commit rejected")
	errB := errors.New("read failed")
	var finished atomic.Int32

	tasks := []Task{
		func(context.Context) (string, error) { finished.Add(1); return "ok", nil },
		func(context.Context) (string, error) { finished.Add(1); return "", errA },
		func(context.Context) (string, error) {
			// A sibling failure does not cancel this worker.
			time.Sleep(20 * time.Millisecond)
			finished.Add(1)
			return "late", nil
		},
		func(context.Context) (string, error) { finished.Add(1); return "", errB },
	}

	r := &Runner{Timeout: 10 * time.Second}
	res, err := r.Run(context.Background(), tasks)
	if !errors.Is(err, errA) {
		t.Fatalf("err = %v, want first error %v", err, errA)
	}
	if got := finished.Load(); got != 4 {
		t.Errorf("finished = %d, want 4", got)
	}
	if res == nil || !errors.Is(res.Errors[3], errB) {
		t.Errorf("second failure not observable in result: %+v", res)
	}
	if res.Values[2] != "late" {
		t.Errorf("Values[2] = %q, want late", res.Values[2])
	}
}

func TestRunTimeout(t *testing.T) {
	var cancelled atomic.Bool
	tasks := []Task{
		func(ctx context.Context) (string, error) {
			<-ctx.Done()
			cancelled.Store(true)
			return "", ctx.Err()
		},
	}

	r := &Runner{Timeout: 20 * time.Millisecond}
	res, err := r.Run(context.Background(), tasks)
	if !errors.Is(err, ErrPoolTimeout) {
		t.Fatalf("err = %v, want ErrPoolTimeout", err)
	}
	if res != nil {
		t.Errorf("partial result returned on timeout: %+v", res)
	}

	deadline := time.Now().Add(time.Second)
	for !cancelled.Load() && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if !cancelled.Load() {
		t.Error("task context not cancelled after timeout")
	}
}

func TestRunTimeoutWaitsForTasks(t *testing.T) {
	var returned atomic.Int32
	tasks := make([]Task, 4)
	for i := range tasks {
		tasks[i] = func(ctx context.Context) (string, error) {
			<-ctx.Done()
			// Simulate a backend call still in flight when cancel lands.
			time.Sleep(10 * time.Millisecond)
			returned.Add(1)
			return "", ctx.Err()
		}
	}

	r := &Runner{Timeout: 20 * time.Millisecond, Drain: time.Second}
	_, err := r.Run(context.Background(), tasks)
	if !errors.Is(err, ErrPoolTimeout) {
		t.Fatalf("err = %v, want ErrPoolTimeout", err)
	}
	if got := returned.Load(); got != int32(len(tasks)) {
		t.Errorf("%d of %d tasks returned before Run did", got, len(tasks))
	}
}

func TestRunTimeoutDrainExpires(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	tasks := []Task{
		func(context.Context) (string, error) {
			<-release
			return "", nil
		},
	}

	r := &Runner{Timeout: 10 * time.Millisecond, Drain: 10 * time.Millisecond}
	start := time.Now()
	_, err := r.Run(context.Background(), tasks)
	if !errors.Is(err, ErrPoolTimeout) {
		t.Fatalf("err = %v, want ErrPoolTimeout", err)
	}
	if !strings.Contains(err.Error(), "still running") {
		t.Errorf("err = %q, want stuck workers reported", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Run blocked %v on a task ignoring cancellation", elapsed)
	}
}

func TestRunCallerCancelWaitsForTasks(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var returned atomic.Int32
	started := make(chan struct{}, 2)
	tasks := make([]Task, 2)
	for i := range tasks {
		tasks[i] = func(ctx context.Context) (string, error) {
			started <- struct{}{}
			<-ctx.Done()
			time.Sleep(10 * time.Millisecond)
			returned.Add(1)
			return "", ctx.Err()
		}
	}

	go func() {
		<-started
		<-started
		cancel()
	}()

	r := &Runner{Drain: time.Second}
	_, err := r.Run(ctx, tasks)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if errors.Is(err, ErrPoolTimeout) {
		t.Errorf("caller cancellation reported as timeout: %v", err)
	}
	if got := returned.Load(); got != int32(len(tasks)) {
		t.Errorf("%d of %d tasks returned before Run did", got, len(tasks))
	}
}

func TestRunNoTasks(t *testing.T) {
	r := &Runner{}
	res, err := r.Run(context.Background(), nil)
	if err != nil || res == nil {
		t.Errorf("Run(nil) = %v, %v", res, err)
	}
}
