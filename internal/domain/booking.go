package domain

import "time"

type BookingStatus string

const BookingStatusConfirmed BookingStatus = "confirmed"

// Booking is the durable record produced when a hold is converted at
// checkout. Prices are in minor currency units.
type Booking struct {
	ID             string
	OrderReference string
	OccurrenceID   int64
	TicketType     string
	Quantity       int
	UnitPrice      int64
	Total          int64
	Status         BookingStatus
	CreatedAt      time.Time
}
