// Package scheduler runs named background work with the guarantees the sync
// workers rely on: at most one running instance per name, queued follow-up work,
// exponential backoff on retry and cancellation through a context.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Result is the outcome a job reports to the scheduler.
type Result int

const (
	// Success ends the job.
	Success Result = iota + 1
	// Retry runs the job again after a backoff delay.
	Retry
	// Failure ends the job without retrying.
	Failure
)

func (r Result) String() string {
	switch r {
	case Success:
		return "success"
	case Retry:
		return "retry"
	case Failure:
		return "failure"
	default:
		return fmt.Sprintf("Result(%d)", int(r))
	}
}

// Policy decides what happens when work is enqueued under a name that already
// has work queued or running.
type Policy int

const (
	// KeepExisting drops the new work.
	KeepExisting Policy = iota + 1
	// Append queues the new work to run after the existing work finishes.
	Append
)

// Job is a unit of background work. It must return promptly once ctx is done.
type Job func(ctx context.Context) Result

// BackoffConfig controls retry delays. The n-th retry waits Initial * 2^(n-1),
// capped at Max. MaxAttempts bounds the total runs of one job; zero is unlimited.
type BackoffConfig struct {
	Initial     time.Duration
	Max         time.Duration
	MaxAttempts int
}

// DefaultBackoff is used when no backoff is configured.
var DefaultBackoff = BackoffConfig{
	Initial: 10 * time.Second,
	Max:     5 * time.Minute,
}

// Delay returns the wait before the given retry (1-based).
func (b BackoffConfig) Delay(retry int) time.Duration {
	if retry < 1 || b.Initial <= 0 {
		return 0
	}
	d := b.Initial
	for i := 1; i < retry; i++ {
		d *= 2
		if b.Max > 0 && d >= b.Max {
			return b.Max
		}
	}
	if b.Max > 0 && d > b.Max {
		return b.Max
	}
	return d
}

// Observer is told about every finished run of a job.
type Observer func(name string, attempt int, result Result, elapsed time.Duration)

// Scheduler runs unique named work. The zero value is not usable; use New.
type Scheduler struct {
	ctx    context.Context
	cancel context.CancelFunc

	backoff  BackoffConfig
	logger   *slog.Logger
	observer Observer
	sleep    func(ctx context.Context, d time.Duration) error

	mu     sync.Mutex
	queues map[string][]Job // pending work per name; present while a runner exists
	closed bool
	idle   chan struct{}  // closed while no runner exists
	wg     sync.WaitGroup // one per runner goroutine
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithBackoff sets the retry policy.
func WithBackoff(b BackoffConfig) Option {
	return func(s *Scheduler) {
		s.backoff = b
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Scheduler) {
		s.logger = logger
	}
}

// WithObserver registers a callback for finished runs.
func WithObserver(o Observer) Option {
	return func(s *Scheduler) {
		s.observer = o
	}
}

// New creates a Scheduler whose jobs run under ctx. Cancelling ctx, or calling
// Close, stops all work.
func New(ctx context.Context, opts ...Option) *Scheduler {
	ctx, cancel := context.WithCancel(ctx)
	idle := make(chan struct{})
	close(idle)
	s := &Scheduler{
		ctx:     ctx,
		cancel:  cancel,
		backoff: DefaultBackoff,
		logger:  slog.Default(),
		sleep:   sleepContext,
		queues:  make(map[string][]Job),
		idle:    idle,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Enqueue schedules job under name. It reports whether the job was accepted:
// KeepExisting drops the job when name already has work, and nothing is accepted
// after Close.
func (s *Scheduler) Enqueue(name string, policy Policy, job Job) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false
	}

	pending, active := s.queues[name]
	if active {
		if policy == KeepExisting {
			s.logger.Debug("work already scheduled, keeping existing", "name", name)
			return false
		}
		s.queues[name] = append(pending, job)
		return true
	}

	if len(s.queues) == 0 {
		s.idle = make(chan struct{})
	}
	s.queues[name] = nil
	s.wg.Add(1)
	go s.run(name, job)
	return true
}

// Wait blocks until no work is queued or running, or ctx is done.
func (s *Scheduler) Wait(ctx context.Context) error {
	s.mu.Lock()
	idle := s.idle
	s.mu.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close cancels all work and waits for the runners to exit. Queued work that has
// not started is dropped.
func (s *Scheduler) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()
}

// run executes job and then every job appended under name, one at a time.
func (s *Scheduler) run(name string, job Job) {
	defer s.wg.Done()

	for {
		s.runWithRetry(name, job)

		s.mu.Lock()
		pending := s.queues[name]
		if len(pending) == 0 || s.ctx.Err() != nil {
			delete(s.queues, name)
			if len(s.queues) == 0 {
				close(s.idle)
			}
			s.mu.Unlock()
			return
		}
		job = pending[0]
		s.queues[name] = pending[1:]
		s.mu.Unlock()
	}
}

func (s *Scheduler) runWithRetry(name string, job Job) {
	for attempt := 1; ; attempt++ {
		if s.ctx.Err() != nil {
			return
		}

		start := time.Now()
		result := job(s.ctx)
		elapsed := time.Since(start)
		if s.observer != nil {
			s.observer(name, attempt, result, elapsed)
		}
		s.logger.Debug("work finished", "name", name, "attempt", attempt, "result", result, "elapsed", elapsed)

		if result != Retry {
			if result == Failure {
				s.logger.Warn("work failed", "name", name, "attempt", attempt)
			}
			return
		}
		if s.backoff.MaxAttempts > 0 && attempt >= s.backoff.MaxAttempts {
			s.logger.Warn("work gave up after retries", "name", name, "attempts", attempt)
			return
		}

		delay := s.backoff.Delay(attempt)
		if err := s.sleep(s.ctx, delay); err != nil {
			return
		}
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
