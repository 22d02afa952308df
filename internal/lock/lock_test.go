package lock

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestKey(t *testing.T) {
	t.Parallel()

	if got := Key(42, "adult"); got != "holds:42:adult" {
		t.Fatalf("unexpected key %q", got)
	}
	if Key(1, "adult") == Key(1, "child") {
		t.Fatalf("expected distinct keys per ticket type")
	}
}

func TestMemoryLocker(t *testing.T) {
	t.Parallel()

	t.Run("times out while held", func(t *testing.T) {
		l := NewMemoryLocker()
		ctx := context.Background()

		lease, err := l.Acquire(ctx, "k", time.Second)
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}

		_, err = l.Acquire(ctx, "k", 20*time.Millisecond)
		if !errors.Is(err, ErrTimeout) {
			t.Fatalf("expected ErrTimeout, got %v", err)
		}

		if err := lease.Release(ctx); err != nil {
			t.Fatalf("release: %v", err)
		}
		second, err := l.Acquire(ctx, "k", 20*time.Millisecond)
		if err != nil {
			t.Fatalf("expected lock after release, got %v", err)
		}
		_ = second.Release(ctx)
	})

	t.Run("independent keys do not block", func(t *testing.T) {
		l := NewMemoryLocker()
		ctx := context.Background()

		a, err := l.Acquire(ctx, Key(1, "adult"), time.Second)
		if err != nil {
			t.Fatalf("acquire a: %v", err)
		}
		defer a.Release(ctx)

		b, err := l.Acquire(ctx, Key(1, "child"), 20*time.Millisecond)
		if err != nil {
			t.Fatalf("expected independent key to be free, got %v", err)
		}
		_ = b.Release(ctx)
	})

	t.Run("double release is reported", func(t *testing.T) {
		l := NewMemoryLocker()
		ctx := context.Background()

		lease, err := l.Acquire(ctx, "k", time.Second)
		if err != nil {
			t.Fatalf("acquire: %v", err)
		}
		if err := lease.Release(ctx); err != nil {
			t.Fatalf("first release: %v", err)
		}
		if err := lease.Release(ctx); !errors.Is(err, ErrAlreadyReleased) {
			t.Fatalf("expected ErrAlreadyReleased, got %v", err)
		}
	})

	t.Run("cancelled context stops waiting", func(t *testing.T) {
		l := NewMemoryLocker()
		lease, err := l.Acquire(context.Background(), "k", time.Second)
		if err != nil {
			t.Fatalf("acquire: %v", err)
		}
		defer lease.Release(context.Background())

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		if _, err := l.Acquire(ctx, "k", time.Second); !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	})

	t.Run("serializes holders", func(t *testing.T) {
		l := NewMemoryLocker()
		ctx := context.Background()

		var inside, maxInside atomic.Int32
		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				lease, err := l.Acquire(ctx, "k", 5*time.Second)
				if err != nil {
					t.Errorf("acquire: %v", err)
					return
				}
				n := inside.Add(1)
				for {
					m := maxInside.Load()
					if n <= m || maxInside.CompareAndSwap(m, n) {
						break
					}
				}
				time.Sleep(time.Millisecond)
				inside.Add(-1)
				_ = lease.Release(ctx)
			}()
		}
		wg.Wait()

		if maxInside.Load() != 1 {
			t.Fatalf("expected one holder at a time, saw %d", maxInside.Load())
		}
		if len(l.slots) != 0 {
			t.Fatalf("expected slots to be cleaned up, got %d", len(l.slots))
		}
	})
}
