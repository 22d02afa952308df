package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	maxTxAttempts = 3
	txRetryDelay  = 20 * time.Millisecond
)

type (
	txKey   struct{}
	connKey struct{}
)

// withTx runs fn in a transaction carried by the context. A nested call
// joins the transaction already in ctx. When ctx carries a connection bound
// by a lock lease the transaction runs on it, so locked work never waits
// for a second pooled connection. Serialization failures and deadlocks are
// retried a bounded number of times; fn must be safe to run again.
func withTx(ctx context.Context, pool *pgxpool.Pool, iso pgx.TxIsoLevel, fn func(ctx context.Context) error) error {
	if txFromContext(ctx) != nil {
		return fn(ctx)
	}

	for attempt := 1; ; attempt++ {
		err := runTx(ctx, pool, iso, fn)
		if err == nil || !isSerializationFailure(err) || attempt == maxTxAttempts {
			return err
		}
		select {
		case <-ctx.Done():
			return err
		case <-time.After(time.Duration(attempt) * txRetryDelay):
		}
	}
}

func runTx(ctx context.Context, pool *pgxpool.Pool, iso pgx.TxIsoLevel, fn func(ctx context.Context) error) error {
	opts := pgx.TxOptions{IsoLevel: iso}

	var (
		tx  pgx.Tx
		err error
	)
	if conn := connFromContext(ctx); conn != nil {
		tx, err = conn.BeginTx(ctx, opts)
	} else {
		tx, err = pool.BeginTx(ctx, opts)
	}
	if err != nil {
		return err
	}

	txCtx := context.WithValue(ctx, txKey{}, tx)
	if err := fn(txCtx); err != nil {
		_ = tx.Rollback(context.WithoutCancel(ctx))
		return err
	}
	return tx.Commit(ctx)
}

func txFromContext(ctx context.Context) pgx.Tx {
	tx, _ := ctx.Value(txKey{}).(pgx.Tx)
	return tx
}

func withConn(ctx context.Context, conn *pgxpool.Conn) context.Context {
	return context.WithValue(ctx, connKey{}, conn)
}

func connFromContext(ctx context.Context) *pgxpool.Conn {
	conn, _ := ctx.Value(connKey{}).(*pgxpool.Conn)
	return conn
}

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// db routes statements through the transaction in ctx, the connection
// bound to ctx, or the pool, in that order.
type db struct {
	pool *pgxpool.Pool
	iso  pgx.TxIsoLevel
}

func (d db) on(ctx context.Context) querier {
	if tx := txFromContext(ctx); tx != nil {
		return tx
	}
	if conn := connFromContext(ctx); conn != nil {
		return conn
	}
	return d.pool
}

func (d db) exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	return d.on(ctx).Exec(ctx, sql, args...)
}

func (d db) queryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	return d.on(ctx).QueryRow(ctx, sql, args...)
}

func (d db) query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return d.on(ctx).Query(ctx, sql, args...)
}

func (d db) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return withTx(ctx, d.pool, d.iso, fn)
}

func pgCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

// isSerializationFailure reports serialization_failure and deadlock_detected.
func isSerializationFailure(err error) bool {
	code := pgCode(err)
	return code == "40001" || code == "40P01"
}

func isUniqueViolation(err error) bool { return pgCode(err) == "23505" }

func isInvalidUUID(err error) bool { return pgCode(err) == "22P02" }

func isForeignKeyViolation(err error) bool { return pgCode(err) == "23503" }

func isCheckViolation(err error) bool { return pgCode(err) == "23514" }
