package domain

// HoldStats summarizes the active (non-expired) part of the ledger.
type HoldStats struct {
	ActiveHolds    int
	ActiveQuantity int
	BySession      []SessionHoldStats
	ByTicketType   []TicketTypeHoldStats
}

type SessionHoldStats struct {
	SessionID string
	Holds     int
	Quantity  int
}

type TicketTypeHoldStats struct {
	OccurrenceID int64
	TicketType   string
	Holds        int
	Quantity     int
}
