package postgres

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cimillas/holdengine/internal/lock"
	"github.com/jackc/pgx/v5/pgxpool"
)

const defaultLockPollInterval = 10 * time.Millisecond

// AdvisoryLocker implements lock.Locker with session-level Postgres
// advisory locks, so every server process sharing the database sees the
// same named locks. Waiters borrow a pooled connection only for each
// attempt. A granted lease keeps its connection, and work bound to the
// lease runs its transaction on that same connection.
type AdvisoryLocker struct {
	pool         *pgxpool.Pool
	pollInterval time.Duration
}

func NewAdvisoryLocker(pool *pgxpool.Pool) *AdvisoryLocker {
	return &AdvisoryLocker{pool: pool, pollInterval: defaultLockPollInterval}
}

func (l *AdvisoryLocker) Acquire(ctx context.Context, key string, timeout time.Duration) (lock.Lease, error) {
	deadline := time.Now().Add(timeout)

	for {
		conn, err := l.try(ctx, key, deadline)
		if err != nil {
			if ctx.Err() == nil && !time.Now().Before(deadline) {
				return nil, lock.ErrTimeout
			}
			return nil, err
		}
		if conn != nil {
			return &advisoryLease{conn: conn, key: key}, nil
		}
		if !time.Now().Before(deadline) {
			return nil, lock.ErrTimeout
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(l.pollInterval):
		}
	}
}

// try makes one attempt. It returns the connection holding the lock, or
// nil when another session holds it.
func (l *AdvisoryLocker) try(ctx context.Context, key string, deadline time.Time) (*pgxpool.Conn, error) {
	attemptCtx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	conn, err := l.pool.Acquire(attemptCtx)
	if err != nil {
		return nil, fmt.Errorf("acquire lock connection: %w", err)
	}

	var ok bool
	if err := conn.QueryRow(attemptCtx, `SELECT pg_try_advisory_lock(hashtextextended($1, 0))`, key).Scan(&ok); err != nil {
		conn.Release()
		return nil, fmt.Errorf("try advisory lock: %w", err)
	}
	if !ok {
		conn.Release()
		return nil, nil
	}
	return conn, nil
}

type advisoryLease struct {
	conn *pgxpool.Conn
	key  string
	once sync.Once
}

func (a *advisoryLease) Key() string { return a.key }

// Bind routes statements and transactions issued with the returned context
// through the connection that holds the lock.
func (a *advisoryLease) Bind(ctx context.Context) context.Context {
	return withConn(ctx, a.conn)
}

func (a *advisoryLease) Release(ctx context.Context) error {
	err := lock.ErrAlreadyReleased
	a.once.Do(func() {
		err = nil
		var unlocked bool
		qerr := a.conn.QueryRow(ctx, `SELECT pg_advisory_unlock(hashtextextended($1, 0))`, a.key).Scan(&unlocked)
		if qerr != nil || !unlocked {
			// The session still holds the lock; closing the connection
			// is the only way to free it.
			_ = a.conn.Conn().Close(context.WithoutCancel(ctx))
			if qerr != nil {
				err = fmt.Errorf("advisory unlock: %w", qerr)
			}
		}
		a.conn.Release()
	})
	return err
}
