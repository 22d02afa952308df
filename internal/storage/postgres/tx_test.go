package postgres

import (
	"context"
	"errors"
	"testing"

	"github.com/cimillas/holdengine/internal/testutil"
	"github.com/jackc/pgx/v5"
)

func TestWithTx_RetriesSerializationFailure(t *testing.T) {
	pool := testutil.NewTestPool(t)
	ctx := context.Background()
	testutil.ApplyMigrations(t, ctx, pool)
	testutil.TruncateAll(t, ctx, pool)
	occID := testutil.InsertOccurrence(t, ctx, pool, 10, 0)

	d := db{pool: pool, iso: pgx.RepeatableRead}
	attempts := 0
	err := d.WithTx(ctx, func(txCtx context.Context) error {
		attempts++
		var booked int
		if err := d.queryRow(txCtx, `SELECT booked FROM occurrences WHERE id = $1`, occID).Scan(&booked); err != nil {
			return err
		}
		if attempts == 1 {
			// Another session changes the row after our snapshot.
			if _, err := pool.Exec(ctx, `UPDATE occurrences SET booked = booked + 1 WHERE id = $1`, occID); err != nil {
				return err
			}
		}
		_, err := d.exec(txCtx, `UPDATE occurrences SET booked = booked + 1 WHERE id = $1`, occID)
		return err
	})
	if err != nil {
		t.Fatalf("expected the retry to commit, got %v", err)
	}
	if attempts != 2 {
		t.Fatalf("expected 2 attempts, got %d", attempts)
	}

	var booked int
	if err := pool.QueryRow(ctx, `SELECT booked FROM occurrences WHERE id = $1`, occID).Scan(&booked); err != nil {
		t.Fatalf("read booked: %v", err)
	}
	if booked != 2 {
		t.Fatalf("expected booked 2, got %d", booked)
	}
}

func TestWithTx_DoesNotRetryOtherErrors(t *testing.T) {
	pool := testutil.NewTestPool(t)
	d := db{pool: pool, iso: pgx.RepeatableRead}

	boom := errors.New("boom")
	attempts := 0
	err := d.WithTx(context.Background(), func(context.Context) error {
		attempts++
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if attempts != 1 {
		t.Fatalf("expected a single attempt, got %d", attempts)
	}
}

func TestWithTx_GivesUpAfterMaxAttempts(t *testing.T) {
	pool := testutil.NewTestPool(t)
	ctx := context.Background()
	testutil.ApplyMigrations(t, ctx, pool)
	testutil.TruncateAll(t, ctx, pool)
	occID := testutil.InsertOccurrence(t, ctx, pool, 10, 0)

	d := db{pool: pool, iso: pgx.RepeatableRead}
	attempts := 0
	err := d.WithTx(ctx, func(txCtx context.Context) error {
		attempts++
		var booked int
		if err := d.queryRow(txCtx, `SELECT booked FROM occurrences WHERE id = $1`, occID).Scan(&booked); err != nil {
			return err
		}
		if _, err := pool.Exec(ctx, `UPDATE occurrences SET booked = booked + 1 WHERE id = $1`, occID); err != nil {
			return err
		}
		_, err := d.exec(txCtx, `UPDATE occurrences SET booked = booked + 1 WHERE id = $1`, occID)
		return err
	})
	if !isSerializationFailure(err) {
		t.Fatalf("expected a serialization failure, got %v", err)
	}
	if attempts != maxTxAttempts {
		t.Fatalf("expected %d attempts, got %d", maxTxAttempts, attempts)
	}
}
