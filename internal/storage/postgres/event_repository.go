package postgres

import (
	"context"
	"fmt"

	"github.com/cimillas/holdengine/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// EventRepository is the append-only audit log of hold transitions. The
// ledger itself only knows whether a hold exists; this table records how
// each one ended.
type EventRepository struct {
	db
}

func NewEventRepository(pool *pgxpool.Pool) *EventRepository {
	return &EventRepository{db: db{pool: pool, iso: pgx.RepeatableRead}}
}

// Publish appends events in a single batch.
func (r *EventRepository) Publish(ctx context.Context, events ...domain.HoldEvent) error {
	if len(events) == 0 {
		return nil
	}

	const stmt = `
INSERT INTO hold_events (hold_id, occurrence_id, ticket_type, session_id, state, quantity, reason, occurred_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	batch := &pgx.Batch{}
	for _, ev := range events {
		batch.Queue(stmt, ev.HoldID, ev.OccurrenceID, ev.TicketType, ev.SessionID, string(ev.State), ev.Quantity, ev.Reason, ev.OccurredAt)
	}
	if err := r.on(ctx).SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("append hold events: %w", err)
	}
	return nil
}

// HoldHistory returns the recorded transitions of one hold, oldest first.
func (r *EventRepository) HoldHistory(ctx context.Context, holdID string) ([]domain.HoldEvent, error) {
	rows, err := r.query(ctx, `
SELECT hold_id, occurrence_id, ticket_type, session_id, state, quantity, reason, occurred_at
FROM hold_events
WHERE hold_id = $1
ORDER BY occurred_at, id`, holdID)
	if err != nil {
		if isInvalidUUID(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("hold history: %w", err)
	}
	events, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.HoldEvent, error) {
		var (
			ev    domain.HoldEvent
			state string
		)
		err := row.Scan(&ev.HoldID, &ev.OccurrenceID, &ev.TicketType, &ev.SessionID, &state, &ev.Quantity, &ev.Reason, &ev.OccurredAt)
		ev.State = domain.HoldState(state)
		return ev, err
	})
	if err != nil {
		if isInvalidUUID(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("hold history: %w", err)
	}
	return events, nil
}
