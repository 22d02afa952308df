// Package capacity computes how much of an occurrence is still bookable for
// a ticket type, combining confirmed bookings with active holds.
package capacity

import (
	"context"
	"time"

	"github.com/cimillas/holdengine/internal/clock"
)

// Snapshot is the confirmed side of an occurrence as seen by one read.
type Snapshot struct {
	Capacity           int
	Booked             int
	TicketTypeCapacity *int
}

// Effective returns the governing bound for a ticket type: the smaller of
// the occurrence capacity and the ticket type's own ceiling, when it has one.
func Effective(capacity int, ticketTypeCapacity *int) int {
	if ticketTypeCapacity != nil && *ticketTypeCapacity < capacity {
		return *ticketTypeCapacity
	}
	return capacity
}

// Remaining returns max(0, effective - booked - held).
func Remaining(effective, booked, held int) int {
	left := effective - booked - held
	if left < 0 {
		return 0
	}
	return left
}

// Remaining applies Effective and Remaining to the snapshot.
func (s Snapshot) Remaining(held int) int {
	return Remaining(Effective(s.Capacity, s.TicketTypeCapacity), s.Booked, held)
}

// Source supplies the inputs of a capacity decision. Implementations read
// through the transaction carried by ctx when there is one.
type Source interface {
	GetCapacitySnapshot(ctx context.Context, occurrenceID int64, ticketType string) (Snapshot, error)
	SumActiveHolds(ctx context.Context, occurrenceID int64, ticketType string, now time.Time, excludeHoldID string) (int, error)
}

type Calculator struct {
	src   Source
	clock clock.Clock
}

func NewCalculator(src Source, clk clock.Clock) *Calculator {
	return &Calculator{src: src, clock: clk}
}

// Available returns the quantity that can still be held for the pair.
// Holds with expires_at <= now never count, whether or not the sweeper has
// removed them yet. excludeHoldID leaves one hold out of the sum, which is
// how a hold being enlarged is re-validated without counting it twice.
func (c *Calculator) Available(ctx context.Context, occurrenceID int64, ticketType, excludeHoldID string) (int, error) {
	snap, err := c.src.GetCapacitySnapshot(ctx, occurrenceID, ticketType)
	if err != nil {
		return 0, err
	}
	held, err := c.src.SumActiveHolds(ctx, occurrenceID, ticketType, c.clock.Now(), excludeHoldID)
	if err != nil {
		return 0, err
	}
	return snap.Remaining(held), nil
}
