package capacity

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cimillas/holdengine/internal/clock"
	"pgregory.net/rapid"
)

func intPtr(v int) *int { return &v }

func TestEffective(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		capacity int
		typeCap  *int
		want     int
	}{
		{name: "no ticket type ceiling", capacity: 40, want: 40},
		{name: "ticket type ceiling is tighter", capacity: 40, typeCap: intPtr(12), want: 12},
		{name: "occurrence capacity is tighter", capacity: 10, typeCap: intPtr(25), want: 10},
		{name: "zero ceiling", capacity: 10, typeCap: intPtr(0), want: 0},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := Effective(tt.capacity, tt.typeCap); got != tt.want {
				t.Fatalf("expected %d, got %d", tt.want, got)
			}
		})
	}
}

func TestRemaining_NeverNegative(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		effective := rapid.IntRange(0, 500).Draw(t, "effective")
		booked := rapid.IntRange(0, 500).Draw(t, "booked")
		held := rapid.IntRange(0, 500).Draw(t, "held")

		got := Remaining(effective, booked, held)
		if got < 0 {
			t.Fatalf("remaining must not be negative, got %d", got)
		}
		if booked+held <= effective && got != effective-booked-held {
			t.Fatalf("expected %d, got %d", effective-booked-held, got)
		}
		if booked+held >= effective && got != 0 {
			t.Fatalf("expected 0 when fully used, got %d", got)
		}
	})
}

func TestCalculator_Available(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

	t.Run("subtracts booked and active holds", func(t *testing.T) {
		src := &fakeSource{
			snap: Snapshot{Capacity: 20, Booked: 5},
			holds: []fakeHold{
				{id: "h1", qty: 3, expiresAt: now.Add(time.Minute)},
				{id: "h2", qty: 4, expiresAt: now.Add(-time.Second)},
			},
		}
		calc := NewCalculator(src, clock.NewFixed(now))

		got, err := calc.Available(context.Background(), 1, "adult", "")
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if got != 12 {
			t.Fatalf("expected 12, got %d", got)
		}
	})

	t.Run("excludes the named hold", func(t *testing.T) {
		src := &fakeSource{
			snap: Snapshot{Capacity: 10},
			holds: []fakeHold{
				{id: "mine", qty: 6, expiresAt: now.Add(time.Minute)},
				{id: "other", qty: 2, expiresAt: now.Add(time.Minute)},
			},
		}
		calc := NewCalculator(src, clock.NewFixed(now))

		got, err := calc.Available(context.Background(), 1, "adult", "mine")
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if got != 8 {
			t.Fatalf("expected 8, got %d", got)
		}
	})

	t.Run("ticket type ceiling governs", func(t *testing.T) {
		src := &fakeSource{
			snap:  Snapshot{Capacity: 100, Booked: 2, TicketTypeCapacity: intPtr(5)},
			holds: []fakeHold{{id: "h1", qty: 1, expiresAt: now.Add(time.Minute)}},
		}
		calc := NewCalculator(src, clock.NewFixed(now))

		got, err := calc.Available(context.Background(), 1, "child", "")
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if got != 2 {
			t.Fatalf("expected 2, got %d", got)
		}
	})

	t.Run("propagates source errors", func(t *testing.T) {
		boom := errors.New("boom")
		calc := NewCalculator(&fakeSource{err: boom}, clock.NewFixed(now))

		if _, err := calc.Available(context.Background(), 1, "adult", ""); !errors.Is(err, boom) {
			t.Fatalf("expected boom, got %v", err)
		}
	})
}

type fakeHold struct {
	id        string
	qty       int
	expiresAt time.Time
}

type fakeSource struct {
	snap  Snapshot
	holds []fakeHold
	err   error
}

func (f *fakeSource) GetCapacitySnapshot(context.Context, int64, string) (Snapshot, error) {
	return f.snap, f.err
}

func (f *fakeSource) SumActiveHolds(_ context.Context, _ int64, _ string, now time.Time, exclude string) (int, error) {
	total := 0
	for _, h := range f.holds {
		if h.id == exclude || !h.expiresAt.After(now) {
			continue
		}
		total += h.qty
	}
	return total, nil
}
