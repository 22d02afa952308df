package domain

import "time"

// Hold is a provisional, time-limited reservation of capacity on an
// occurrence for one ticket type. A hold exists only while it is a row in
// the ledger; converted, released and expired holds are deleted.
type Hold struct {
	ID           string
	OccurrenceID int64
	TicketType   string
	Quantity     int
	SessionID    string
	UserID       string
	ClientIP     string
	CreatedAt    time.Time
	ExpiresAt    time.Time
}

// ActiveAt reports whether the hold still counts against capacity at now.
func (h Hold) ActiveAt(now time.Time) bool {
	return h.ExpiresAt.After(now)
}

type HoldState string

const (
	HoldStatePending   HoldState = "pending"
	HoldStateExtended  HoldState = "extended"
	HoldStateConverted HoldState = "converted"
	HoldStateReleased  HoldState = "released"
	HoldStateExpired   HoldState = "expired"
)

// HoldEvent records one lifecycle transition of a hold.
type HoldEvent struct {
	HoldID       string
	OccurrenceID int64
	TicketType   string
	SessionID    string
	State        HoldState
	Quantity     int
	Reason       string
	OccurredAt   time.Time
}

// NewHoldEvent builds the event for a transition of h.
func NewHoldEvent(h Hold, state HoldState, reason string, at time.Time) HoldEvent {
	return HoldEvent{
		HoldID:       h.ID,
		OccurrenceID: h.OccurrenceID,
		TicketType:   h.TicketType,
		SessionID:    h.SessionID,
		State:        state,
		Quantity:     h.Quantity,
		Reason:       reason,
		OccurredAt:   at,
	}
}
