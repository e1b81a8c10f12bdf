// Package workqueue runs best-effort background tasks on a bounded worker
// pool. Failed tasks are retried with capped backoff; exhausted tasks are
// logged and dropped, never blocking or failing the submitting caller.
package workqueue

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// ErrQueueFull is returned when the queue cannot accept more tasks.
var ErrQueueFull = errors.New("work queue full")

// Task is a unit of background work.
type Task func(ctx context.Context) error

type job struct {
	name    string
	task    Task
	attempt int
}

// Queue is a bounded worker pool with capped retry.
type Queue struct {
	jobs        chan job
	workers     int
	maxRetries  int
	retryDelays []time.Duration
	logger      zerolog.Logger

	wg       sync.WaitGroup
	stopOnce sync.Once
	stopped  chan struct{}
}

// Option configures a Queue.
type Option func(*Queue)

// WithMaxRetries sets how many times a failed task is retried.
func WithMaxRetries(n int) Option {
	return func(q *Queue) { q.maxRetries = n }
}

// WithRetryDelays sets the delay schedule between retries. The last delay
// repeats when attempts outnumber delays.
func WithRetryDelays(delays ...time.Duration) Option {
	return func(q *Queue) { q.retryDelays = delays }
}

// New creates a Queue with the given buffer size and worker count.
func New(logger zerolog.Logger, size, workers int, opts ...Option) *Queue {
	q := &Queue{
		jobs:        make(chan job, size),
		workers:     workers,
		maxRetries:  2,
		retryDelays: []time.Duration{time.Second, 30 * time.Second},
		logger:      logger,
		stopped:     make(chan struct{}),
	}
	for _, o := range opts {
		o(q)
	}
	return q
}

// Start launches the worker goroutines. Workers drain remaining jobs after
// ctx is cancelled, then exit.
func (q *Queue) Start(ctx context.Context) {
	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go q.worker(ctx)
	}
}

func (q *Queue) worker(ctx context.Context) {
	defer q.wg.Done()
	for {
		select {
		case <-q.stopped:
			return
		case j, ok := <-q.jobs:
			if !ok {
				return
			}
			q.run(ctx, j)
		}
	}
}

func (q *Queue) run(ctx context.Context, j job) {
	err := j.task(ctx)
	if err == nil {
		return
	}

	if j.attempt >= q.maxRetries {
		q.logger.Error().Err(err).
			Str("task", j.name).
			Int("attempts", j.attempt+1).
			Msg("background task failed, retries exhausted")
		return
	}

	delay := q.retryDelays[len(q.retryDelays)-1]
	if j.attempt < len(q.retryDelays) {
		delay = q.retryDelays[j.attempt]
	}
	q.logger.Warn().Err(err).
		Str("task", j.name).
		Int("attempt", j.attempt+1).
		Dur("retry_in", delay).
		Msg("background task failed, retrying")

	select {
	case <-ctx.Done():
	case <-q.stopped:
	case <-time.After(delay):
		q.resubmit(job{name: j.name, task: j.task, attempt: j.attempt + 1})
	}
}

func (q *Queue) resubmit(j job) {
	select {
	case q.jobs <- j:
	default:
		q.logger.Error().Str("task", j.name).Msg("work queue full, dropping retry")
	}
}

// Submit enqueues a task without blocking. Returns ErrQueueFull when the
// buffer has no room; callers treat this as a logged best-effort loss.
func (q *Queue) Submit(name string, t Task) error {
	select {
	case <-q.stopped:
		return errors.New("work queue stopped")
	default:
	}
	select {
	case q.jobs <- job{name: name, task: t}:
		return nil
	default:
		return ErrQueueFull
	}
}

// Shutdown stops accepting work and waits for in-flight tasks, up to the
// context deadline.
func (q *Queue) Shutdown(ctx context.Context) error {
	q.stopOnce.Do(func() { close(q.stopped) })

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
