package app

import (
	"context"
	"log/slog"

	"github.com/cimillas/holdengine/internal/domain"
)

// EventPublisher receives hold lifecycle events after the transition has
// been committed. Publishing is best effort; failures are logged by the
// caller and never undo the transition.
type EventPublisher interface {
	Publish(ctx context.Context, events ...domain.HoldEvent) error
}

// LogPublisher writes every event to a structured logger.
type LogPublisher struct {
	logger *slog.Logger
}

func NewLogPublisher(logger *slog.Logger) *LogPublisher {
	return &LogPublisher{logger: orDiscard(logger)}
}

func (p *LogPublisher) Publish(ctx context.Context, events ...domain.HoldEvent) error {
	for _, ev := range events {
		p.logger.LogAttrs(ctx, slog.LevelInfo, "hold event",
			slog.String("hold_id", ev.HoldID),
			slog.String("state", string(ev.State)),
			slog.Int64("occurrence_id", ev.OccurrenceID),
			slog.String("ticket_type", ev.TicketType),
			slog.String("session_id", ev.SessionID),
			slog.Int("quantity", ev.Quantity),
			slog.String("reason", ev.Reason),
		)
	}
	return nil
}

// MultiPublisher fans events out to several publishers and returns the
// first error after trying all of them.
type MultiPublisher []EventPublisher

func (m MultiPublisher) Publish(ctx context.Context, events ...domain.HoldEvent) error {
	var first error
	for _, p := range m {
		if err := p.Publish(ctx, events...); err != nil && first == nil {
			first = err
		}
	}
	return first
}

type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, ...domain.HoldEvent) error { return nil }

func orDiscard(logger *slog.Logger) *slog.Logger {
	if logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return logger
}

func publish(ctx context.Context, logger *slog.Logger, pub EventPublisher, events ...domain.HoldEvent) {
	if len(events) == 0 {
		return
	}
	if err := pub.Publish(ctx, events...); err != nil {
		logger.Warn("publish hold events failed",
			slog.Int("events", len(events)),
			slog.String("error", err.Error()),
		)
	}
}
