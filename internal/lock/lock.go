// Package lock provides named mutual exclusion with bounded waits.
//
// Capacity-affecting work on one (occurrence, ticket type) pair runs under
// the lock named by Key. Acquisition fails closed: when the wait exceeds the
// timeout the caller gets ErrTimeout and must not touch the ledger.
package lock

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"
)

var (
	ErrTimeout         = errors.New("lock: acquisition timed out")
	ErrAlreadyReleased = errors.New("lock: lease already released")
)

// Locker acquires named locks. Implementations backed by a shared store
// coordinate across processes; MemoryLocker only within one process.
type Locker interface {
	Acquire(ctx context.Context, key string, timeout time.Duration) (Lease, error)
}

// Lease is a held lock. Release must be called exactly once, on every path.
// Work done under the lock uses the context returned by Bind, which carries
// whatever the lease pins, such as the database connection holding it.
type Lease interface {
	Key() string
	Bind(ctx context.Context) context.Context
	Release(ctx context.Context) error
}

// Key names the lock guarding capacity of one ticket type on one occurrence.
func Key(occurrenceID int64, ticketType string) string {
	return "holds:" + strconv.FormatInt(occurrenceID, 10) + ":" + ticketType
}

// MemoryLocker is an in-process Locker for single-instance deployments
// and tests.
type MemoryLocker struct {
	mu    sync.Mutex
	slots map[string]*slot
}

type slot struct {
	ch   chan struct{}
	refs int
}

func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{slots: make(map[string]*slot)}
}

func (l *MemoryLocker) Acquire(ctx context.Context, key string, timeout time.Duration) (Lease, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s := l.ref(key)

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case s.ch <- struct{}{}:
		return &memoryLease{locker: l, key: key, slot: s}, nil
	case <-timer.C:
		l.unref(key)
		return nil, ErrTimeout
	case <-ctx.Done():
		l.unref(key)
		return nil, ctx.Err()
	}
}

func (l *MemoryLocker) ref(key string) *slot {
	l.mu.Lock()
	defer l.mu.Unlock()
	s, ok := l.slots[key]
	if !ok {
		s = &slot{ch: make(chan struct{}, 1)}
		l.slots[key] = s
	}
	s.refs++
	return s
}

func (l *MemoryLocker) unref(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	s, ok := l.slots[key]
	if !ok {
		return
	}
	s.refs--
	if s.refs == 0 {
		delete(l.slots, key)
	}
}

type memoryLease struct {
	locker *MemoryLocker
	key    string
	slot   *slot

	once sync.Once
}

func (m *memoryLease) Key() string { return m.key }

func (m *memoryLease) Bind(ctx context.Context) context.Context { return ctx }

func (m *memoryLease) Release(context.Context) error {
	released := false
	m.once.Do(func() {
		<-m.slot.ch
		m.locker.unref(m.key)
		released = true
	})
	if !released {
		return ErrAlreadyReleased
	}
	return nil
}
