package domain

import "time"

// Occurrence is one bookable time slot. Booked only grows through conversion.
type Occurrence struct {
	ID        int64
	StartsAt  time.Time
	EndsAt    time.Time
	Capacity  int
	Booked    int
	CreatedAt time.Time
}

// TicketTypeCapacity is an optional ceiling for a single ticket type on an
// occurrence. It is independent of the other types' ceilings.
type TicketTypeCapacity struct {
	OccurrenceID int64
	TicketType   string
	Capacity     int
}
