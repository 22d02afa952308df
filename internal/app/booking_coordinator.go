package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/cimillas/holdengine/internal/domain"
)

// TicketLine is one ticket type and quantity of a booking request.
type TicketLine struct {
	TicketType string
	Quantity   int
}

type ReserveInput struct {
	OccurrenceID int64
	SessionID    string
	UserID       string
	ClientIP     string
	Lines        []TicketLine
}

type ReserveResult struct {
	SessionID string
	Holds     []CreateHoldResult
}

// LineError reports which ticket type of a booking request failed. The
// holds created for the other lines have already been rolled back.
type LineError struct {
	TicketType string
	Err        error
}

func (e *LineError) Error() string {
	return fmt.Sprintf("ticket type %q: %v", e.TicketType, e.Err)
}

func (e *LineError) Unwrap() error { return e.Err }

// BookingCoordinator holds several ticket types for one customer request.
// The lines live under independent locks, so atomicity is provided by
// compensation: when a line fails, every hold created or extended earlier
// in the same request is undone in reverse order.
type BookingCoordinator struct {
	holds  *HoldService
	logger *slog.Logger
}

func NewBookingCoordinator(holds *HoldService, logger *slog.Logger) *BookingCoordinator {
	return &BookingCoordinator{holds: holds, logger: orDiscard(logger)}
}

type compensation struct {
	name   string
	action func(ctx context.Context) error
}

func (c *BookingCoordinator) Reserve(ctx context.Context, in ReserveInput) (ReserveResult, error) {
	lines := make([]TicketLine, 0, len(in.Lines))
	for _, l := range in.Lines {
		if l.Quantity < 0 {
			return ReserveResult{}, &LineError{TicketType: l.TicketType, Err: domain.InvalidParameter("quantity must not be negative")}
		}
		if l.Quantity > 0 {
			lines = append(lines, l)
		}
	}
	if len(lines) == 0 {
		return ReserveResult{}, domain.InvalidParameter("at least one ticket type with quantity > 0 is required")
	}

	sessionID := strings.TrimSpace(in.SessionID)
	if sessionID == "" {
		sessionID = c.holds.sessions.NewSession()
	}

	result := ReserveResult{SessionID: sessionID}
	var compensations []compensation

	for _, line := range lines {
		res, err := c.holds.CreateHold(ctx, CreateHoldInput{
			OccurrenceID: in.OccurrenceID,
			TicketType:   line.TicketType,
			Quantity:     line.Quantity,
			SessionID:    sessionID,
			UserID:       in.UserID,
			ClientIP:     in.ClientIP,
		})
		if err != nil {
			c.logger.Warn("booking line failed, rolling back",
				slog.Int64("occurrence_id", in.OccurrenceID),
				slog.String("ticket_type", line.TicketType),
				slog.Int("compensations", len(compensations)),
				slog.String("error", err.Error()),
			)
			c.compensate(ctx, compensations)
			return ReserveResult{}, &LineError{TicketType: line.TicketType, Err: err}
		}
		result.Holds = append(result.Holds, res)
		compensations = append(compensations, c.undo(res, sessionID))
	}
	return result, nil
}

func (c *BookingCoordinator) undo(res CreateHoldResult, sessionID string) compensation {
	if res.Merged && res.previous != nil {
		prev := *res.previous
		return compensation{
			name: "restore_hold " + prev.ID,
			action: func(ctx context.Context) error {
				return c.holds.restoreHold(ctx, prev)
			},
		}
	}
	holdID := res.Hold.ID
	return compensation{
		name: "release_hold " + holdID,
		action: func(ctx context.Context) error {
			_, err := c.holds.ReleaseHold(ctx, holdID, sessionID, "booking_rollback")
			return err
		},
	}
}

func (c *BookingCoordinator) compensate(ctx context.Context, compensations []compensation) {
	// Compensation must run even if the request context is already done.
	ctx = context.WithoutCancel(ctx)
	for i := len(compensations) - 1; i >= 0; i-- {
		comp := compensations[i]
		if err := comp.action(ctx); err != nil {
			c.logger.Error("compensation failed",
				slog.String("action", comp.name),
				slog.String("error", err.Error()),
			)
		}
	}
}
