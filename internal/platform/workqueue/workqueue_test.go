package workqueue

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestSubmit_RunsTask(t *testing.T) {
	q := New(zerolog.Nop(), 8, 2)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q.Start(ctx)

	done := make(chan struct{})
	err := q.Submit("test-task", func(context.Context) error {
		close(done)
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected submit error: %v", err)
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("task did not run")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), time.Second)
	defer shutdownCancel()
	if err := q.Shutdown(shutdownCtx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}

func TestSubmit_QueueFull(t *testing.T) {
	q := New(zerolog.Nop(), 1, 1)
	// Not started: the single buffer slot fills and the second submit fails.
	if err := q.Submit("first", func(context.Context) error { return nil }); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := q.Submit("second", func(context.Context) error { return nil }); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("expected ErrQueueFull, got %v", err)
	}
}

func TestRetry_CappedAttempts(t *testing.T) {
	q := New(zerolog.Nop(), 8, 1,
		WithMaxRetries(2),
		WithRetryDelays(time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q.Start(ctx)

	var attempts atomic.Int32
	_ = q.Submit("always-fails", func(context.Context) error {
		attempts.Add(1)
		return errors.New("boom")
	})

	deadline := time.After(2 * time.Second)
	for attempts.Load() < 3 {
		select {
		case <-deadline:
			t.Fatalf("expected 3 attempts, got %d", attempts.Load())
		case <-time.After(10 * time.Millisecond):
		}
	}

	// Give a retry window to prove no 4th attempt happens.
	time.Sleep(50 * time.Millisecond)
	if got := attempts.Load(); got != 3 {
		t.Errorf("expected exactly 3 attempts, got %d", got)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), time.Second)
	defer shutdownCancel()
	_ = q.Shutdown(shutdownCtx)
}

func TestSubmit_AfterShutdown(t *testing.T) {
	q := New(zerolog.Nop(), 8, 1)
	ctx := context.Background()
	q.Start(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := q.Shutdown(shutdownCtx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if err := q.Submit("late", func(context.Context) error { return nil }); err == nil {
		t.Fatal("expected error submitting after shutdown")
	}
}
