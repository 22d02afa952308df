package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/cimillas/holdengine/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// BookingRepository converts holds into bookings and maintains the booked
// counter of occurrences. Its transactions run at read committed: the
// booked counter is bumped by a guarded UPDATE that re-reads the latest
// row, so concurrent checkouts on one occurrence do not conflict.
type BookingRepository struct {
	db
}

func NewBookingRepository(pool *pgxpool.Pool) *BookingRepository {
	return &BookingRepository{db: db{pool: pool, iso: pgx.ReadCommitted}}
}

// LockActiveSessionHolds returns the session's active holds and locks them
// until the surrounding transaction ends.
func (r *BookingRepository) LockActiveSessionHolds(ctx context.Context, sessionID string, now time.Time) ([]domain.Hold, error) {
	return listSessionHolds(ctx, r.db, sessionID, now, true)
}

func (r *BookingRepository) DeleteSessionHolds(ctx context.Context, sessionID string) ([]domain.Hold, error) {
	return deleteSessionHolds(ctx, r.db, sessionID)
}

func (r *BookingRepository) CreateBooking(ctx context.Context, b domain.Booking) error {
	const stmt = `
INSERT INTO bookings (id, order_reference, occurrence_id, ticket_type, quantity, unit_price, total, status, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err := r.exec(ctx, stmt,
		b.ID,
		b.OrderReference,
		b.OccurrenceID,
		b.TicketType,
		b.Quantity,
		b.UnitPrice,
		b.Total,
		string(b.Status),
		b.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrBookingExists
		}
		if isForeignKeyViolation(err) {
			return domain.ErrOccurrenceNotFound
		}
		return fmt.Errorf("create booking: %w", err)
	}
	return nil
}

// IncrementBooked adds quantity to the occurrence's booked count, refusing
// to go past its capacity.
func (r *BookingRepository) IncrementBooked(ctx context.Context, occurrenceID int64, quantity int) error {
	const stmt = `UPDATE occurrences SET booked = booked + $2 WHERE id = $1 AND booked + $2 <= capacity`

	tag, err := r.exec(ctx, stmt, occurrenceID, quantity)
	if err != nil {
		if isCheckViolation(err) {
			return domain.ErrCapacityExceeded
		}
		return fmt.Errorf("increment booked: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	var exists bool
	if err := r.queryRow(ctx, `SELECT EXISTS (SELECT 1 FROM occurrences WHERE id = $1)`, occurrenceID).Scan(&exists); err != nil {
		return fmt.Errorf("check occurrence: %w", err)
	}
	if !exists {
		return domain.ErrOccurrenceNotFound
	}
	return domain.ErrCapacityExceeded
}

func (r *BookingRepository) ListBookings(ctx context.Context, orderReference string) ([]domain.Booking, error) {
	const query = `
SELECT id, order_reference, occurrence_id, ticket_type, quantity, unit_price, total, status, created_at
FROM bookings
WHERE order_reference = $1
ORDER BY occurrence_id, ticket_type`

	rows, err := r.query(ctx, query, orderReference)
	if err != nil {
		return nil, fmt.Errorf("list bookings: %w", err)
	}
	bookings, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.Booking, error) {
		var (
			b      domain.Booking
			status string
		)
		err := row.Scan(&b.ID, &b.OrderReference, &b.OccurrenceID, &b.TicketType, &b.Quantity, &b.UnitPrice, &b.Total, &status, &b.CreatedAt)
		b.Status = domain.BookingStatus(status)
		return b, err
	})
	if err != nil {
		return nil, fmt.Errorf("list bookings: %w", err)
	}
	return bookings, nil
}
