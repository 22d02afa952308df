package app

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

type countingCleaner struct {
	calls atomic.Int32
	err   error
}

func (c *countingCleaner) CleanupExpired(context.Context) (int, error) {
	c.calls.Add(1)
	if c.err != nil {
		return 0, c.err
	}
	return 2, nil
}

func TestSweeper_Sweep(t *testing.T) {
	t.Parallel()

	cleaner := &countingCleaner{}
	s := NewSweeper(cleaner, time.Minute, nil)
	n, err := s.Sweep(context.Background())
	if err != nil || n != 2 {
		t.Fatalf("expected 2 removed, got %d, %v", n, err)
	}

	cleaner.err = errors.New("db gone")
	if _, err := s.Sweep(context.Background()); err == nil {
		t.Fatalf("expected sweep error to be returned")
	}
}

func TestSweeper_EnsureScheduled(t *testing.T) {
	t.Parallel()

	cleaner := &countingCleaner{}
	s := NewSweeper(cleaner, 5*time.Millisecond, nil)
	if s.Scheduled() {
		t.Fatalf("sweeper must not run before it is scheduled")
	}

	s.EnsureScheduled()
	s.EnsureScheduled()
	if !s.Scheduled() {
		t.Fatalf("expected sweeper to be scheduled")
	}

	deadline := time.Now().Add(2 * time.Second)
	for cleaner.calls.Load() < 2 {
		if time.Now().After(deadline) {
			t.Fatalf("sweeper did not tick, calls=%d", cleaner.calls.Load())
		}
		time.Sleep(5 * time.Millisecond)
	}

	s.Stop()
	if s.Scheduled() {
		t.Fatalf("expected sweeper to be stopped")
	}
	calls := cleaner.calls.Load()
	time.Sleep(30 * time.Millisecond)
	if cleaner.calls.Load() != calls {
		t.Fatalf("sweeper kept running after Stop")
	}
	s.Stop()
}

func TestSweeper_RunStopsWithContext(t *testing.T) {
	t.Parallel()

	s := NewSweeper(&countingCleaner{}, time.Hour, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("Run did not return after cancel")
	}
}

func TestSweeper_RemovesExpiredHolds(t *testing.T) {
	t.Parallel()

	f := newHoldFixture(t, 5, WithHoldTTL(MinHoldTTL))
	f.hold(t, "s1", "adult", 3)
	f.hold(t, "s2", "adult", 1)
	f.clock.Advance(MinHoldTTL + time.Second)
	f.hold(t, "s3", "adult", 1)

	s := NewSweeper(f.svc, time.Minute, nil)
	n, err := s.Sweep(context.Background())
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 expired holds removed, got %d", n)
	}

	stats, _ := f.svc.Stats(context.Background())
	if stats.ActiveHolds != 1 {
		t.Fatalf("expected the live hold to remain, got %+v", stats)
	}
}
