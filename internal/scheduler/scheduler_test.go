package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func waitIdle(t *testing.T, s *Scheduler) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.Wait(ctx))
}

func noSleep(s *Scheduler) *[]time.Duration {
	var mu sync.Mutex
	var delays []time.Duration
	s.sleep = func(ctx context.Context, d time.Duration) error {
		mu.Lock()
		delays = append(delays, d)
		mu.Unlock()
		return ctx.Err()
	}
	return &delays
}

func TestBackoffDelay(t *testing.T) {
	b := BackoffConfig{Initial: time.Second, Max: 10 * time.Second}
	tests := []struct {
		retry int
		want  time.Duration
	}{
		{0, 0},
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 8 * time.Second},
		{5, 10 * time.Second},
		{50, 10 * time.Second},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, b.Delay(tt.retry), "retry %d", tt.retry)
	}
	assert.Zero(t, BackoffConfig{}.Delay(3))
}

func TestResultString(t *testing.T) {
	assert.Equal(t, "success", Success.String())
	assert.Equal(t, "retry", Retry.String())
	assert.Equal(t, "failure", Failure.String())
	assert.Equal(t, "Result(0)", Result(0).String())
}

func TestEnqueue_KeepExistingIsSingleFlight(t *testing.T) {
	s := New(context.Background())
	defer s.Close()

	release := make(chan struct{})
	started := make(chan struct{})
	var runs atomic.Int32

	ok := s.Enqueue("sync", KeepExisting, func(ctx context.Context) Result {
		runs.Add(1)
		close(started)
		<-release
		return Success
	})
	require.True(t, ok)
	<-started

	ok = s.Enqueue("sync", KeepExisting, func(ctx context.Context) Result {
		runs.Add(1)
		return Success
	})
	assert.False(t, ok, "second enqueue is dropped while the first runs")

	close(release)
	waitIdle(t, s)
	assert.EqualValues(t, 1, runs.Load())

	// Once idle the name can be scheduled again.
	require.True(t, s.Enqueue("sync", KeepExisting, func(ctx context.Context) Result {
		runs.Add(1)
		return Success
	}))
	waitIdle(t, s)
	assert.EqualValues(t, 2, runs.Load())
}

func TestEnqueue_AppendRunsSequentially(t *testing.T) {
	s := New(context.Background())
	defer s.Close()

	release := make(chan struct{})
	var running, maxRunning atomic.Int32
	var mu sync.Mutex
	var order []int

	job := func(n int) Job {
		return func(ctx context.Context) Result {
			cur := running.Add(1)
			for {
				m := maxRunning.Load()
				if cur <= m || maxRunning.CompareAndSwap(m, cur) {
					break
				}
			}
			if n == 1 {
				<-release
			}
			mu.Lock()
			order = append(order, n)
			mu.Unlock()
			running.Add(-1)
			return Success
		}
	}

	require.True(t, s.Enqueue("survey-sync:s1", Append, job(1)))
	require.True(t, s.Enqueue("survey-sync:s1", Append, job(2)))
	require.True(t, s.Enqueue("survey-sync:s1", Append, job(3)))
	close(release)
	waitIdle(t, s)

	assert.Equal(t, []int{1, 2, 3}, order)
	assert.EqualValues(t, 1, maxRunning.Load())
}

func TestEnqueue_DifferentNamesRunConcurrently(t *testing.T) {
	s := New(context.Background())
	defer s.Close()

	var wg sync.WaitGroup
	wg.Add(2)
	both := make(chan struct{})
	go func() {
		wg.Wait()
		close(both)
	}()

	job := func(ctx context.Context) Result {
		wg.Done()
		select {
		case <-both:
			return Success
		case <-time.After(5 * time.Second):
			return Failure
		}
	}
	var results sync.Map
	s.observer = func(name string, attempt int, r Result, _ time.Duration) {
		results.Store(name, r)
	}

	require.True(t, s.Enqueue("a", KeepExisting, job))
	require.True(t, s.Enqueue("b", KeepExisting, job))
	waitIdle(t, s)

	for _, name := range []string{"a", "b"} {
		r, ok := results.Load(name)
		require.True(t, ok)
		assert.Equal(t, Success, r, name)
	}
}

func TestRetry_BacksOffUntilSuccess(t *testing.T) {
	s := New(context.Background(), WithBackoff(BackoffConfig{Initial: time.Second, Max: 3 * time.Second}))
	defer s.Close()
	delays := noSleep(s)

	var attempts []int
	s.observer = func(_ string, attempt int, _ Result, _ time.Duration) {
		attempts = append(attempts, attempt)
	}

	var runs atomic.Int32
	require.True(t, s.Enqueue("m", KeepExisting, func(ctx context.Context) Result {
		if runs.Add(1) < 4 {
			return Retry
		}
		return Success
	}))
	waitIdle(t, s)

	assert.EqualValues(t, 4, runs.Load())
	assert.Equal(t, []int{1, 2, 3, 4}, attempts)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 3 * time.Second}, *delays)
}

func TestRetry_GivesUpAfterMaxAttempts(t *testing.T) {
	s := New(context.Background(), WithBackoff(BackoffConfig{MaxAttempts: 3}))
	defer s.Close()
	noSleep(s)

	var runs atomic.Int32
	s.Enqueue("m", KeepExisting, func(ctx context.Context) Result {
		runs.Add(1)
		return Retry
	})
	waitIdle(t, s)
	assert.EqualValues(t, 3, runs.Load())
}

func TestFailure_IsNotRetried(t *testing.T) {
	s := New(context.Background())
	defer s.Close()

	var runs atomic.Int32
	s.Enqueue("m", KeepExisting, func(ctx context.Context) Result {
		runs.Add(1)
		return Failure
	})
	waitIdle(t, s)
	assert.EqualValues(t, 1, runs.Load())
}

func TestClose_CancelsRunningWork(t *testing.T) {
	s := New(context.Background(), WithBackoff(BackoffConfig{Initial: time.Hour}))

	started := make(chan struct{})
	var sawCancel atomic.Bool
	s.Enqueue("m", KeepExisting, func(ctx context.Context) Result {
		close(started)
		<-ctx.Done()
		sawCancel.Store(true)
		return Retry
	})
	appended := s.Enqueue("m", Append, func(ctx context.Context) Result {
		t.Error("appended work must not start after Close")
		return Success
	})
	require.True(t, appended)
	<-started

	s.Close()
	assert.True(t, sawCancel.Load())
	assert.False(t, s.Enqueue("m", KeepExisting, func(ctx context.Context) Result { return Success }))
	waitIdle(t, s)
}

func TestWait_HonoursContext(t *testing.T) {
	s := New(context.Background())
	defer s.Close()

	release := make(chan struct{})
	defer close(release)
	s.Enqueue("m", KeepExisting, func(ctx context.Context) Result {
		select {
		case <-release:
		case <-ctx.Done():
		}
		return Success
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, s.Wait(ctx), context.DeadlineExceeded)
}

func TestWait_IdleSchedulerReturnsImmediately(t *testing.T) {
	s := New(context.Background())
	defer s.Close()
	require.NoError(t, s.Wait(context.Background()))
}
