package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/cimillas/holdengine/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type AdminRepository struct {
	db
}

func NewAdminRepository(pool *pgxpool.Pool) *AdminRepository {
	return &AdminRepository{db: db{pool: pool, iso: pgx.RepeatableRead}}
}

const occurrenceColumns = `id, starts_at, ends_at, capacity, booked, created_at`

func scanOccurrence(row pgx.CollectableRow) (domain.Occurrence, error) {
	var o domain.Occurrence
	err := row.Scan(&o.ID, &o.StartsAt, &o.EndsAt, &o.Capacity, &o.Booked, &o.CreatedAt)
	return o, err
}

func (r *AdminRepository) CreateOccurrence(ctx context.Context, occ domain.Occurrence) (domain.Occurrence, error) {
	rows, err := r.query(ctx, `
INSERT INTO occurrences (starts_at, ends_at, capacity, created_at)
VALUES ($1, $2, $3, $4)
RETURNING `+occurrenceColumns, occ.StartsAt, occ.EndsAt, occ.Capacity, occ.CreatedAt)
	if err != nil {
		return domain.Occurrence{}, fmt.Errorf("create occurrence: %w", err)
	}
	created, err := pgx.CollectOneRow(rows, scanOccurrence)
	if err != nil {
		if isCheckViolation(err) {
			return domain.Occurrence{}, domain.ErrInvalidSchedule
		}
		return domain.Occurrence{}, fmt.Errorf("create occurrence: %w", err)
	}
	return created, nil
}

func (r *AdminRepository) GetOccurrence(ctx context.Context, occurrenceID int64) (domain.Occurrence, error) {
	rows, err := r.query(ctx, `SELECT `+occurrenceColumns+` FROM occurrences WHERE id = $1`, occurrenceID)
	if err != nil {
		return domain.Occurrence{}, fmt.Errorf("get occurrence: %w", err)
	}
	occ, err := pgx.CollectOneRow(rows, scanOccurrence)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Occurrence{}, domain.ErrOccurrenceNotFound
		}
		return domain.Occurrence{}, fmt.Errorf("get occurrence: %w", err)
	}
	return occ, nil
}

func (r *AdminRepository) ListOccurrences(ctx context.Context) ([]domain.Occurrence, error) {
	rows, err := r.query(ctx, `SELECT `+occurrenceColumns+` FROM occurrences ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list occurrences: %w", err)
	}
	occs, err := pgx.CollectRows(rows, scanOccurrence)
	if err != nil {
		return nil, fmt.Errorf("list occurrences: %w", err)
	}
	return occs, nil
}

func (r *AdminRepository) UpsertTicketTypeCapacity(ctx context.Context, c domain.TicketTypeCapacity) error {
	const stmt = `
INSERT INTO occurrence_ticket_types (occurrence_id, ticket_type, capacity)
VALUES ($1, $2, $3)
ON CONFLICT (occurrence_id, ticket_type) DO UPDATE SET capacity = EXCLUDED.capacity`

	if _, err := r.exec(ctx, stmt, c.OccurrenceID, c.TicketType, c.Capacity); err != nil {
		if isForeignKeyViolation(err) {
			return domain.ErrOccurrenceNotFound
		}
		if isCheckViolation(err) {
			return domain.ErrInvalidCapacity
		}
		return fmt.Errorf("upsert ticket type capacity: %w", err)
	}
	return nil
}

func (r *AdminRepository) ListTicketTypeCapacities(ctx context.Context, occurrenceID int64) ([]domain.TicketTypeCapacity, error) {
	var exists bool
	if err := r.queryRow(ctx, `SELECT EXISTS (SELECT 1 FROM occurrences WHERE id = $1)`, occurrenceID).Scan(&exists); err != nil {
		return nil, fmt.Errorf("check occurrence: %w", err)
	}
	if !exists {
		return nil, domain.ErrOccurrenceNotFound
	}

	rows, err := r.query(ctx, `
SELECT occurrence_id, ticket_type, capacity
FROM occurrence_ticket_types
WHERE occurrence_id = $1
ORDER BY ticket_type`, occurrenceID)
	if err != nil {
		return nil, fmt.Errorf("list ticket type capacities: %w", err)
	}
	caps, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.TicketTypeCapacity, error) {
		var c domain.TicketTypeCapacity
		err := row.Scan(&c.OccurrenceID, &c.TicketType, &c.Capacity)
		return c, err
	})
	if err != nil {
		return nil, fmt.Errorf("list ticket type capacities: %w", err)
	}
	return caps, nil
}
