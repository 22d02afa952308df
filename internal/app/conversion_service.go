package app

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/cimillas/holdengine/internal/clock"
	"github.com/cimillas/holdengine/internal/domain"
)

type ConversionRepository interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
	LockActiveSessionHolds(ctx context.Context, sessionID string, now time.Time) ([]domain.Hold, error)
	CreateBooking(ctx context.Context, booking domain.Booking) error
	IncrementBooked(ctx context.Context, occurrenceID int64, quantity int) error
	DeleteSessionHolds(ctx context.Context, sessionID string) ([]domain.Hold, error)
	ListBookings(ctx context.Context, orderReference string) ([]domain.Booking, error)
}

// LineItem is the order line a hold is paid by.
type LineItem struct {
	UnitPrice int64
}

// LineItemResolver maps a hold onto the line item of the order that paid
// for it. ok is false when the order has no line for the hold.
type LineItemResolver interface {
	ResolveLineItem(ctx context.Context, orderReference string, hold domain.Hold) (item LineItem, ok bool, err error)
}

// StaticLineItems resolves line items from a fixed table keyed by
// occurrence and ticket type.
type StaticLineItems map[LineKey]LineItem

type LineKey struct {
	OccurrenceID int64
	TicketType   string
}

func (s StaticLineItems) ResolveLineItem(_ context.Context, _ string, hold domain.Hold) (LineItem, bool, error) {
	item, ok := s[LineKey{OccurrenceID: hold.OccurrenceID, TicketType: hold.TicketType}]
	return item, ok, nil
}

// ConversionService turns a session's active holds into bookings.
type ConversionService struct {
	repo   ConversionRepository
	clock  clock.Clock
	events EventPublisher
	logger *slog.Logger
}

func NewConversionService(repo ConversionRepository, clk clock.Clock, events EventPublisher, logger *slog.Logger) *ConversionService {
	if events == nil {
		events = nopPublisher{}
	}
	return &ConversionService{
		repo:   repo,
		clock:  clk,
		events: events,
		logger: orDiscard(logger),
	}
}

type ConversionResult struct {
	Bookings []domain.Booking
	// Skipped holds had no line item on the order; they are deleted with
	// the rest of the session's holds.
	Skipped []domain.Hold
}

// Convert books every active hold of the session against the order and
// deletes all of the session's holds, in one transaction. Either every
// hold is converted or nothing changes. A session without active holds
// converts to an empty result, so retries are harmless.
func (s *ConversionService) Convert(ctx context.Context, sessionID, orderReference string, resolver LineItemResolver) (ConversionResult, error) {
	sessionID = strings.TrimSpace(sessionID)
	orderReference = strings.TrimSpace(orderReference)
	if sessionID == "" {
		return ConversionResult{}, domain.InvalidParameter("session_id is required")
	}
	if orderReference == "" {
		return ConversionResult{}, domain.InvalidParameter("order_reference is required")
	}
	if resolver == nil {
		return ConversionResult{}, domain.InvalidParameter("line item resolver is required")
	}

	now := s.clock.Now()
	var (
		result   ConversionResult
		consumed []domain.Hold
	)

	err := s.repo.WithTx(ctx, func(txCtx context.Context) error {
		result = ConversionResult{}
		consumed = nil

		holds, err := s.repo.LockActiveSessionHolds(txCtx, sessionID, now)
		if err != nil {
			return err
		}
		if len(holds) == 0 {
			return nil
		}

		for _, h := range holds {
			item, ok, err := resolver.ResolveLineItem(txCtx, orderReference, h)
			if err != nil {
				return err
			}
			if !ok {
				result.Skipped = append(result.Skipped, h)
				continue
			}

			booking := domain.Booking{
				ID:             newUUID(),
				OrderReference: orderReference,
				OccurrenceID:   h.OccurrenceID,
				TicketType:     h.TicketType,
				Quantity:       h.Quantity,
				UnitPrice:      item.UnitPrice,
				Total:          item.UnitPrice * int64(h.Quantity),
				Status:         domain.BookingStatusConfirmed,
				CreatedAt:      now,
			}
			if err := s.repo.CreateBooking(txCtx, booking); err != nil {
				return err
			}
			if err := s.repo.IncrementBooked(txCtx, h.OccurrenceID, h.Quantity); err != nil {
				return err
			}
			result.Bookings = append(result.Bookings, booking)
			consumed = append(consumed, h)
		}

		_, err = s.repo.DeleteSessionHolds(txCtx, sessionID)
		return err
	})
	if err != nil {
		s.logger.Error("conversion rolled back",
			slog.String("session_id", sessionID),
			slog.String("order_reference", orderReference),
			slog.String("error", err.Error()),
		)
		return ConversionResult{}, txError(err)
	}

	events := make([]domain.HoldEvent, 0, len(consumed)+len(result.Skipped))
	for _, h := range consumed {
		events = append(events, domain.NewHoldEvent(h, domain.HoldStateConverted, orderReference, now))
	}
	for _, h := range result.Skipped {
		events = append(events, domain.NewHoldEvent(h, domain.HoldStateReleased, "no line item", now))
	}
	publish(ctx, s.logger, s.events, events...)

	s.logger.Info("session converted",
		slog.String("session_id", sessionID),
		slog.String("order_reference", orderReference),
		slog.Int("bookings", len(result.Bookings)),
		slog.Int("skipped", len(result.Skipped)),
	)
	return result, nil
}

// Bookings lists the bookings created for an order.
func (s *ConversionService) Bookings(ctx context.Context, orderReference string) ([]domain.Booking, error) {
	if strings.TrimSpace(orderReference) == "" {
		return nil, domain.InvalidParameter("order_reference is required")
	}
	return s.repo.ListBookings(ctx, orderReference)
}
