package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cimillas/holdengine/internal/domain"
	"github.com/cimillas/holdengine/internal/testutil"
	"github.com/google/uuid"
)

func TestBookingRepository(t *testing.T) {
	pool := testutil.NewTestPool(t)
	testutil.ApplyMigrations(t, context.Background(), pool)
	repo := NewBookingRepository(pool)
	now := time.Now().UTC()

	t.Run("IncrementBooked stops at capacity", func(t *testing.T) {
		ctx := context.Background()
		testutil.TruncateAll(t, ctx, pool)
		occID := testutil.InsertOccurrence(t, ctx, pool, 5, 3)

		if err := repo.IncrementBooked(ctx, occID, 2); err != nil {
			t.Fatalf("increment: %v", err)
		}
		if err := repo.IncrementBooked(ctx, occID, 1); err != domain.ErrCapacityExceeded {
			t.Fatalf("expected ErrCapacityExceeded, got %v", err)
		}
		if err := repo.IncrementBooked(ctx, occID+1, 1); err != domain.ErrOccurrenceNotFound {
			t.Fatalf("expected ErrOccurrenceNotFound, got %v", err)
		}
	})

	t.Run("CreateBooking rejects a duplicate order line", func(t *testing.T) {
		ctx := context.Background()
		testutil.TruncateAll(t, ctx, pool)
		occID := testutil.InsertOccurrence(t, ctx, pool, 5, 0)

		b := domain.Booking{
			ID:             uuid.NewString(),
			OrderReference: "order-1",
			OccurrenceID:   occID,
			TicketType:     "adult",
			Quantity:       2,
			UnitPrice:      1500,
			Total:          3000,
			Status:         domain.BookingStatusConfirmed,
			CreatedAt:      now,
		}
		if err := repo.CreateBooking(ctx, b); err != nil {
			t.Fatalf("create booking: %v", err)
		}
		b.ID = uuid.NewString()
		if err := repo.CreateBooking(ctx, b); err != domain.ErrBookingExists {
			t.Fatalf("expected ErrBookingExists, got %v", err)
		}

		list, err := repo.ListBookings(ctx, "order-1")
		if err != nil {
			t.Fatalf("list bookings: %v", err)
		}
		if len(list) != 1 || list[0].Total != 3000 || list[0].Status != domain.BookingStatusConfirmed {
			t.Fatalf("unexpected bookings: %+v", list)
		}
	})

	t.Run("rolled back transaction leaves no trace", func(t *testing.T) {
		ctx := context.Background()
		testutil.TruncateAll(t, ctx, pool)
		occID := testutil.InsertOccurrence(t, ctx, pool, 5, 0)
		testutil.InsertHold(t, ctx, pool, domain.Hold{OccurrenceID: occID, TicketType: "adult", Quantity: 2, SessionID: "s1", ExpiresAt: now.Add(time.Hour)})

		boom := errors.New("boom")
		err := repo.WithTx(ctx, func(txCtx context.Context) error {
			holds, err := repo.LockActiveSessionHolds(txCtx, "s1", now)
			if err != nil {
				return err
			}
			if len(holds) != 1 {
				t.Fatalf("expected 1 locked hold, got %d", len(holds))
			}
			if err := repo.IncrementBooked(txCtx, occID, holds[0].Quantity); err != nil {
				return err
			}
			if _, err := repo.DeleteSessionHolds(txCtx, "s1"); err != nil {
				return err
			}
			return boom
		})
		if !errors.Is(err, boom) {
			t.Fatalf("expected boom, got %v", err)
		}

		var booked, holds int
		if err := pool.QueryRow(ctx, `SELECT booked FROM occurrences WHERE id = $1`, occID).Scan(&booked); err != nil {
			t.Fatalf("read booked: %v", err)
		}
		if err := pool.QueryRow(ctx, `SELECT COUNT(*) FROM holds`).Scan(&holds); err != nil {
			t.Fatalf("count holds: %v", err)
		}
		if booked != 0 || holds != 1 {
			t.Fatalf("expected rollback, got booked=%d holds=%d", booked, holds)
		}
	})
}
