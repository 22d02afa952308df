package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cimillas/holdengine/internal/domain"
)

var now = time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

func seed(t *testing.T, s *Store, capacity int) domain.Occurrence {
	t.Helper()
	occ, err := s.CreateOccurrence(context.Background(), domain.Occurrence{Capacity: capacity})
	require.NoError(t, err)
	return occ
}

func hold(id string, occID int64, session string, qty int, expiresAt time.Time) domain.Hold {
	return domain.Hold{
		ID:           id,
		OccurrenceID: occID,
		TicketType:   "adult",
		Quantity:     qty,
		SessionID:    session,
		CreatedAt:    now,
		ExpiresAt:    expiresAt,
	}
}

func TestStore_CreateOccurrenceAssignsIDs(t *testing.T) {
	s := NewStore()
	a := seed(t, s, 5)
	b := seed(t, s, 7)
	assert.Equal(t, int64(1), a.ID)
	assert.Equal(t, int64(2), b.ID)

	list, err := s.ListOccurrences(context.Background())
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, 7, list[1].Capacity)

	_, err = s.GetOccurrence(context.Background(), 99)
	assert.ErrorIs(t, err, domain.ErrOccurrenceNotFound)
}

func TestStore_TicketTypeCapacities(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	occ := seed(t, s, 10)

	err := s.UpsertTicketTypeCapacity(ctx, domain.TicketTypeCapacity{OccurrenceID: 42, TicketType: "child", Capacity: 1})
	assert.ErrorIs(t, err, domain.ErrOccurrenceNotFound)

	require.NoError(t, s.UpsertTicketTypeCapacity(ctx, domain.TicketTypeCapacity{OccurrenceID: occ.ID, TicketType: "child", Capacity: 3}))
	require.NoError(t, s.UpsertTicketTypeCapacity(ctx, domain.TicketTypeCapacity{OccurrenceID: occ.ID, TicketType: "child", Capacity: 4}))

	snap, err := s.GetCapacitySnapshot(ctx, occ.ID, "child")
	require.NoError(t, err)
	require.NotNil(t, snap.TicketTypeCapacity)
	assert.Equal(t, 4, *snap.TicketTypeCapacity)

	snap, err = s.GetCapacitySnapshot(ctx, occ.ID, "adult")
	require.NoError(t, err)
	assert.Nil(t, snap.TicketTypeCapacity)

	caps, err := s.ListTicketTypeCapacities(ctx, occ.ID)
	require.NoError(t, err)
	assert.Len(t, caps, 1)
}

func TestStore_WithTxRollsBack(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	occ := seed(t, s, 10)

	boom := errors.New("boom")
	err := s.WithTx(ctx, func(ctx context.Context) error {
		require.NoError(t, s.CreateHold(ctx, hold("h1", occ.ID, "s1", 3, now.Add(time.Minute))))
		require.NoError(t, s.IncrementBooked(ctx, occ.ID, 2))

		// Visible inside the transaction only.
		n, err := s.SumActiveHolds(ctx, occ.ID, "adult", now, "")
		require.NoError(t, err)
		assert.Equal(t, 3, n)
		n, err = s.SumActiveHolds(context.Background(), occ.ID, "adult", now, "")
		require.NoError(t, err)
		assert.Equal(t, 0, n)
		return boom
	})
	assert.ErrorIs(t, err, boom)

	got, err := s.GetHold(ctx, "h1")
	require.NoError(t, err)
	assert.Nil(t, got)
	o, err := s.GetOccurrence(ctx, occ.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, o.Booked)
}

func TestStore_ActiveHoldQueries(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	occ := seed(t, s, 10)

	require.NoError(t, s.CreateHold(ctx, hold("live", occ.ID, "s1", 3, now.Add(time.Minute))))
	require.NoError(t, s.CreateHold(ctx, hold("stale", occ.ID, "s1", 4, now)))
	require.NoError(t, s.CreateHold(ctx, hold("other", occ.ID, "s2", 2, now.Add(time.Hour))))

	sum, err := s.SumActiveHolds(ctx, occ.ID, "adult", now, "")
	require.NoError(t, err)
	assert.Equal(t, 5, sum)

	sum, err = s.SumActiveHolds(ctx, occ.ID, "adult", now, "live")
	require.NoError(t, err)
	assert.Equal(t, 2, sum)

	found, err := s.FindActiveHold(ctx, "s1", occ.ID, "adult", now)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, "live", found.ID)

	count, err := s.CountActiveSessionHolds(ctx, "s1", now)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	err = s.CreateHold(ctx, hold("orphan", 99, "s1", 1, now.Add(time.Minute)))
	assert.ErrorIs(t, err, domain.ErrOccurrenceNotFound)
}

func TestStore_DeleteExpiredUsesExpiryIndex(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	occ := seed(t, s, 10)

	require.NoError(t, s.CreateHold(ctx, hold("a", occ.ID, "s1", 1, now.Add(-time.Minute))))
	require.NoError(t, s.CreateHold(ctx, hold("b", occ.ID, "s2", 1, now)))
	require.NoError(t, s.CreateHold(ctx, hold("c", occ.ID, "s3", 1, now.Add(time.Minute))))

	// Extending "a" moves it in the index.
	require.NoError(t, s.UpdateHold(ctx, "a", 2, now.Add(time.Hour)))

	deleted, err := s.DeleteExpiredHolds(ctx, now)
	require.NoError(t, err)
	require.Len(t, deleted, 1)
	assert.Equal(t, "b", deleted[0].ID)

	deleted, err = s.DeleteExpiredHolds(ctx, now.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Len(t, deleted, 2)

	err = s.UpdateHold(ctx, "a", 1, now)
	assert.ErrorIs(t, err, domain.ErrHoldNotFound)
}

func TestStore_DeleteHoldChecksSession(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	occ := seed(t, s, 10)
	require.NoError(t, s.CreateHold(ctx, hold("h1", occ.ID, "s1", 1, now.Add(time.Minute))))

	deleted, err := s.DeleteHold(ctx, "h1", "s2")
	require.NoError(t, err)
	assert.Nil(t, deleted)

	deleted, err = s.DeleteHold(ctx, "h1", "s1")
	require.NoError(t, err)
	require.NotNil(t, deleted)
	assert.Equal(t, "h1", deleted.ID)

	deleted, err = s.DeleteHold(ctx, "h1", "")
	require.NoError(t, err)
	assert.Nil(t, deleted)
}

func TestStore_Bookings(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	occ := seed(t, s, 3)

	b := domain.Booking{ID: "b1", OrderReference: "o1", OccurrenceID: occ.ID, TicketType: "adult", Quantity: 2}
	require.NoError(t, s.CreateBooking(ctx, b))
	assert.ErrorIs(t, s.CreateBooking(ctx, b), domain.ErrBookingExists)

	require.NoError(t, s.IncrementBooked(ctx, occ.ID, 2))
	assert.ErrorIs(t, s.IncrementBooked(ctx, occ.ID, 2), domain.ErrCapacityExceeded)
	assert.ErrorIs(t, s.IncrementBooked(ctx, 99, 1), domain.ErrOccurrenceNotFound)

	list, err := s.ListBookings(ctx, "o1")
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestStore_HoldStats(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	occ := seed(t, s, 10)
	require.NoError(t, s.CreateHold(ctx, hold("h1", occ.ID, "s1", 2, now.Add(time.Minute))))
	require.NoError(t, s.CreateHold(ctx, hold("h2", occ.ID, "s2", 3, now.Add(time.Minute))))
	require.NoError(t, s.CreateHold(ctx, hold("h3", occ.ID, "s3", 9, now)))

	stats, err := s.HoldStats(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.ActiveHolds)
	assert.Equal(t, 5, stats.ActiveQuantity)
	require.Len(t, stats.BySession, 2)
	assert.Equal(t, "s1", stats.BySession[0].SessionID)
	require.Len(t, stats.ByTicketType, 1)
	assert.Equal(t, 5, stats.ByTicketType[0].Quantity)
}

func TestStore_Events(t *testing.T) {
	s := NewStore()
	ev := domain.HoldEvent{HoldID: "h1", State: domain.HoldStatePending}
	require.NoError(t, s.Publish(context.Background(), ev))

	events := s.Events()
	require.Len(t, events, 1)
	events[0].HoldID = "mutated"
	assert.Equal(t, "h1", s.Events()[0].HoldID)
}

func TestStore_HoldHistory(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	require.NoError(t, s.Publish(ctx,
		domain.HoldEvent{HoldID: "h1", State: domain.HoldStatePending},
		domain.HoldEvent{HoldID: "h2", State: domain.HoldStatePending},
		domain.HoldEvent{HoldID: "h1", State: domain.HoldStateReleased},
	))

	history, err := s.HoldHistory(ctx, "h1")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, domain.HoldStatePending, history[0].State)
	assert.Equal(t, domain.HoldStateReleased, history[1].State)

	none, err := s.HoldHistory(ctx, "missing")
	require.NoError(t, err)
	assert.Empty(t, none)
}
