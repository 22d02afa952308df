package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cimillas/holdengine/internal/capacity"
	"github.com/cimillas/holdengine/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const holdColumns = `id, occurrence_id, ticket_type, quantity, session_id, user_id, client_ip, created_at, expires_at`

// HoldRepository is the hold ledger and the capacity source backed by the
// holds and occurrences tables.
type HoldRepository struct {
	db
}

func NewHoldRepository(pool *pgxpool.Pool) *HoldRepository {
	return &HoldRepository{db: db{pool: pool, iso: pgx.RepeatableRead}}
}

func scanHold(row pgx.CollectableRow) (domain.Hold, error) {
	var h domain.Hold
	err := row.Scan(&h.ID, &h.OccurrenceID, &h.TicketType, &h.Quantity, &h.SessionID, &h.UserID, &h.ClientIP, &h.CreatedAt, &h.ExpiresAt)
	return h, err
}

func (r *HoldRepository) GetCapacitySnapshot(ctx context.Context, occurrenceID int64, ticketType string) (capacity.Snapshot, error) {
	const query = `
SELECT o.capacity, o.booked, t.capacity
FROM occurrences o
LEFT JOIN occurrence_ticket_types t ON t.occurrence_id = o.id AND t.ticket_type = $2
WHERE o.id = $1`

	var snap capacity.Snapshot
	err := r.queryRow(ctx, query, occurrenceID, ticketType).Scan(&snap.Capacity, &snap.Booked, &snap.TicketTypeCapacity)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return capacity.Snapshot{}, domain.ErrOccurrenceNotFound
		}
		return capacity.Snapshot{}, fmt.Errorf("get capacity snapshot: %w", err)
	}
	return snap, nil
}

func (r *HoldRepository) SumActiveHolds(ctx context.Context, occurrenceID int64, ticketType string, now time.Time, excludeHoldID string) (int, error) {
	const query = `
SELECT COALESCE(SUM(quantity), 0)
FROM holds
WHERE occurrence_id = $1 AND ticket_type = $2 AND expires_at > $3 AND id::text <> $4`

	var total int
	if err := r.queryRow(ctx, query, occurrenceID, ticketType, now, excludeHoldID).Scan(&total); err != nil {
		return 0, fmt.Errorf("sum active holds: %w", err)
	}
	return total, nil
}

func (r *HoldRepository) FindActiveHold(ctx context.Context, sessionID string, occurrenceID int64, ticketType string, now time.Time) (*domain.Hold, error) {
	query := `
SELECT ` + holdColumns + `
FROM holds
WHERE session_id = $1 AND occurrence_id = $2 AND ticket_type = $3 AND expires_at > $4
ORDER BY created_at
LIMIT 1
FOR UPDATE`

	rows, err := r.query(ctx, query, sessionID, occurrenceID, ticketType, now)
	if err != nil {
		return nil, fmt.Errorf("find active hold: %w", err)
	}
	h, err := pgx.CollectOneRow(rows, scanHold)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("find active hold: %w", err)
	}
	return &h, nil
}

func (r *HoldRepository) CountActiveSessionHolds(ctx context.Context, sessionID string, now time.Time) (int, error) {
	const query = `SELECT COUNT(*) FROM holds WHERE session_id = $1 AND expires_at > $2`

	var n int
	if err := r.queryRow(ctx, query, sessionID, now).Scan(&n); err != nil {
		return 0, fmt.Errorf("count session holds: %w", err)
	}
	return n, nil
}

func (r *HoldRepository) CreateHold(ctx context.Context, hold domain.Hold) error {
	const stmt = `
INSERT INTO holds (id, occurrence_id, ticket_type, quantity, session_id, user_id, client_ip, created_at, expires_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err := r.exec(ctx, stmt,
		hold.ID,
		hold.OccurrenceID,
		hold.TicketType,
		hold.Quantity,
		hold.SessionID,
		hold.UserID,
		hold.ClientIP,
		hold.CreatedAt,
		hold.ExpiresAt,
	)
	if err != nil {
		if isForeignKeyViolation(err) {
			return domain.ErrOccurrenceNotFound
		}
		if isInvalidUUID(err) {
			return domain.InvalidParameter("hold id %q is not a UUID", hold.ID)
		}
		return fmt.Errorf("create hold: %w", err)
	}
	return nil
}

func (r *HoldRepository) UpdateHold(ctx context.Context, holdID string, quantity int, expiresAt time.Time) error {
	const stmt = `UPDATE holds SET quantity = $2, expires_at = $3 WHERE id = $1`

	tag, err := r.exec(ctx, stmt, holdID, quantity, expiresAt)
	if err != nil {
		if isInvalidUUID(err) {
			return domain.ErrHoldNotFound
		}
		return fmt.Errorf("update hold: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrHoldNotFound
	}
	return nil
}

func (r *HoldRepository) GetHold(ctx context.Context, holdID string) (*domain.Hold, error) {
	rows, err := r.query(ctx, `SELECT `+holdColumns+` FROM holds WHERE id = $1`, holdID)
	if err != nil {
		if isInvalidUUID(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("get hold: %w", err)
	}
	h, err := pgx.CollectOneRow(rows, scanHold)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) || isInvalidUUID(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("get hold: %w", err)
	}
	return &h, nil
}

// DeleteHold deletes the hold and returns it, or nil when no row matched.
// A blank sessionID matches any owner.
func (r *HoldRepository) DeleteHold(ctx context.Context, holdID, sessionID string) (*domain.Hold, error) {
	rows, err := r.query(ctx, `
DELETE FROM holds
WHERE id = $1 AND ($2::text = '' OR session_id = $2)
RETURNING `+holdColumns, holdID, sessionID)
	if err != nil {
		if isInvalidUUID(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("delete hold: %w", err)
	}
	h, err := pgx.CollectOneRow(rows, scanHold)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) || isInvalidUUID(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("delete hold: %w", err)
	}
	return &h, nil
}

func (r *HoldRepository) DeleteSessionHolds(ctx context.Context, sessionID string) ([]domain.Hold, error) {
	return deleteSessionHolds(ctx, r.db, sessionID)
}

func deleteSessionHolds(ctx context.Context, d db, sessionID string) ([]domain.Hold, error) {
	rows, err := d.query(ctx, `DELETE FROM holds WHERE session_id = $1 RETURNING `+holdColumns, sessionID)
	if err != nil {
		return nil, fmt.Errorf("delete session holds: %w", err)
	}
	holds, err := pgx.CollectRows(rows, scanHold)
	if err != nil {
		return nil, fmt.Errorf("delete session holds: %w", err)
	}
	return holds, nil
}

func (r *HoldRepository) ListSessionHolds(ctx context.Context, sessionID string, now time.Time) ([]domain.Hold, error) {
	return listSessionHolds(ctx, r.db, sessionID, now, false)
}

func listSessionHolds(ctx context.Context, d db, sessionID string, now time.Time, forUpdate bool) ([]domain.Hold, error) {
	query := `
SELECT ` + holdColumns + `
FROM holds
WHERE session_id = $1 AND expires_at > $2
ORDER BY created_at, id`
	if forUpdate {
		query += ` FOR UPDATE`
	}

	rows, err := d.query(ctx, query, sessionID, now)
	if err != nil {
		return nil, fmt.Errorf("list session holds: %w", err)
	}
	holds, err := pgx.CollectRows(rows, scanHold)
	if err != nil {
		return nil, fmt.Errorf("list session holds: %w", err)
	}
	return holds, nil
}

// DeleteExpiredHolds removes every hold with expires_at <= now. Rows that
// are deleted concurrently are simply not returned.
func (r *HoldRepository) DeleteExpiredHolds(ctx context.Context, now time.Time) ([]domain.Hold, error) {
	rows, err := r.query(ctx, `DELETE FROM holds WHERE expires_at <= $1 RETURNING `+holdColumns, now)
	if err != nil {
		return nil, fmt.Errorf("delete expired holds: %w", err)
	}
	holds, err := pgx.CollectRows(rows, scanHold)
	if err != nil {
		return nil, fmt.Errorf("delete expired holds: %w", err)
	}
	return holds, nil
}

func (r *HoldRepository) HoldStats(ctx context.Context, now time.Time) (domain.HoldStats, error) {
	var stats domain.HoldStats

	err := r.queryRow(ctx, `SELECT COUNT(*), COALESCE(SUM(quantity), 0) FROM holds WHERE expires_at > $1`, now).
		Scan(&stats.ActiveHolds, &stats.ActiveQuantity)
	if err != nil {
		return domain.HoldStats{}, fmt.Errorf("hold totals: %w", err)
	}

	rows, err := r.query(ctx, `
SELECT session_id, COUNT(*), SUM(quantity)
FROM holds
WHERE expires_at > $1
GROUP BY session_id
ORDER BY session_id`, now)
	if err != nil {
		return domain.HoldStats{}, fmt.Errorf("holds by session: %w", err)
	}
	stats.BySession, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.SessionHoldStats, error) {
		var s domain.SessionHoldStats
		err := row.Scan(&s.SessionID, &s.Holds, &s.Quantity)
		return s, err
	})
	if err != nil {
		return domain.HoldStats{}, fmt.Errorf("holds by session: %w", err)
	}

	rows, err = r.query(ctx, `
SELECT occurrence_id, ticket_type, COUNT(*), SUM(quantity)
FROM holds
WHERE expires_at > $1
GROUP BY occurrence_id, ticket_type
ORDER BY occurrence_id, ticket_type`, now)
	if err != nil {
		return domain.HoldStats{}, fmt.Errorf("holds by ticket type: %w", err)
	}
	stats.ByTicketType, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.TicketTypeHoldStats, error) {
		var s domain.TicketTypeHoldStats
		err := row.Scan(&s.OccurrenceID, &s.TicketType, &s.Holds, &s.Quantity)
		return s, err
	})
	if err != nil {
		return domain.HoldStats{}, fmt.Errorf("holds by ticket type: %w", err)
	}
	return stats, nil
}
