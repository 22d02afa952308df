// Package memory is an in-process implementation of the occurrence store,
// hold ledger and booking records, for single-instance deployments and tests.
//
// Every write produces a new copy of the state and swaps it in, so readers
// always see a committed snapshot. Transactions run on a private copy that
// is swapped in on success and dropped on error.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/cimillas/holdengine/internal/capacity"
	"github.com/cimillas/holdengine/internal/domain"
	"github.com/google/btree"
)

const btreeDegree = 16

type capKey struct {
	occurrenceID int64
	ticketType   string
}

type bookingKey struct {
	orderReference string
	occurrenceID   int64
	ticketType     string
}

// expiryEntry orders holds by expiry so sweeps only visit expired rows.
type expiryEntry struct {
	expiresAt time.Time
	holdID    string
}

func expiryLess(a, b expiryEntry) bool {
	if !a.expiresAt.Equal(b.expiresAt) {
		return a.expiresAt.Before(b.expiresAt)
	}
	return a.holdID < b.holdID
}

type state struct {
	nextOccurrenceID int64
	occurrences      map[int64]domain.Occurrence
	typeCaps         map[capKey]int
	holds            map[string]domain.Hold
	expiry           *btree.BTreeG[expiryEntry]
	bookings         map[bookingKey]domain.Booking
}

func newState() *state {
	return &state{
		nextOccurrenceID: 1,
		occurrences:      make(map[int64]domain.Occurrence),
		typeCaps:         make(map[capKey]int),
		holds:            make(map[string]domain.Hold),
		expiry:           btree.NewG[expiryEntry](btreeDegree, expiryLess),
		bookings:         make(map[bookingKey]domain.Booking),
	}
}

func (s *state) clone() *state {
	c := &state{
		nextOccurrenceID: s.nextOccurrenceID,
		occurrences:      make(map[int64]domain.Occurrence, len(s.occurrences)),
		typeCaps:         make(map[capKey]int, len(s.typeCaps)),
		holds:            make(map[string]domain.Hold, len(s.holds)),
		expiry:           s.expiry.Clone(),
		bookings:         make(map[bookingKey]domain.Booking, len(s.bookings)),
	}
	for k, v := range s.occurrences {
		c.occurrences[k] = v
	}
	for k, v := range s.typeCaps {
		c.typeCaps[k] = v
	}
	for k, v := range s.holds {
		c.holds[k] = v
	}
	for k, v := range s.bookings {
		c.bookings[k] = v
	}
	return c
}

func (s *state) putHold(h domain.Hold) {
	if old, ok := s.holds[h.ID]; ok {
		s.expiry.Delete(expiryEntry{expiresAt: old.ExpiresAt, holdID: old.ID})
	}
	s.holds[h.ID] = h
	s.expiry.ReplaceOrInsert(expiryEntry{expiresAt: h.ExpiresAt, holdID: h.ID})
}

func (s *state) deleteHold(id string) (domain.Hold, bool) {
	h, ok := s.holds[id]
	if !ok {
		return domain.Hold{}, false
	}
	delete(s.holds, id)
	s.expiry.Delete(expiryEntry{expiresAt: h.ExpiresAt, holdID: h.ID})
	return h, true
}

type txKey struct{}

// Store implements the repositories used by the app package.
type Store struct {
	writeMu sync.Mutex // serializes writers and transactions

	mu  sync.RWMutex
	cur *state

	eventsMu sync.Mutex
	events   []domain.HoldEvent
}

func NewStore() *Store {
	return &Store{cur: newState()}
}

// WithTx runs fn against a private copy of the state and commits it when fn
// returns nil. Nested calls join the outer transaction.
func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(txKey{}).(*state); ok {
		return fn(ctx)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	work := s.snapshot().clone()
	if err := fn(context.WithValue(ctx, txKey{}, work)); err != nil {
		return err
	}
	s.mu.Lock()
	s.cur = work
	s.mu.Unlock()
	return nil
}

func (s *Store) snapshot() *state {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cur
}

// view returns the state a read should see: the transaction's copy when ctx
// carries one, the last committed state otherwise.
func (s *Store) view(ctx context.Context) *state {
	if st, ok := ctx.Value(txKey{}).(*state); ok {
		return st
	}
	return s.snapshot()
}

// update applies fn inside the caller's transaction, or in a transaction of
// its own.
func (s *Store) update(ctx context.Context, fn func(st *state) error) error {
	if st, ok := ctx.Value(txKey{}).(*state); ok {
		return fn(st)
	}
	return s.WithTx(ctx, func(txCtx context.Context) error {
		return fn(s.view(txCtx))
	})
}

// Occurrence store

func (s *Store) CreateOccurrence(ctx context.Context, occ domain.Occurrence) (domain.Occurrence, error) {
	err := s.update(ctx, func(st *state) error {
		occ.ID = st.nextOccurrenceID
		st.nextOccurrenceID++
		occ.Booked = 0
		st.occurrences[occ.ID] = occ
		return nil
	})
	if err != nil {
		return domain.Occurrence{}, err
	}
	return occ, nil
}

func (s *Store) GetOccurrence(ctx context.Context, occurrenceID int64) (domain.Occurrence, error) {
	occ, ok := s.view(ctx).occurrences[occurrenceID]
	if !ok {
		return domain.Occurrence{}, domain.ErrOccurrenceNotFound
	}
	return occ, nil
}

func (s *Store) ListOccurrences(ctx context.Context) ([]domain.Occurrence, error) {
	st := s.view(ctx)
	out := make([]domain.Occurrence, 0, len(st.occurrences))
	for _, occ := range st.occurrences {
		out = append(out, occ)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) UpsertTicketTypeCapacity(ctx context.Context, c domain.TicketTypeCapacity) error {
	return s.update(ctx, func(st *state) error {
		if _, ok := st.occurrences[c.OccurrenceID]; !ok {
			return domain.ErrOccurrenceNotFound
		}
		st.typeCaps[capKey{c.OccurrenceID, c.TicketType}] = c.Capacity
		return nil
	})
}

func (s *Store) ListTicketTypeCapacities(ctx context.Context, occurrenceID int64) ([]domain.TicketTypeCapacity, error) {
	st := s.view(ctx)
	if _, ok := st.occurrences[occurrenceID]; !ok {
		return nil, domain.ErrOccurrenceNotFound
	}
	var out []domain.TicketTypeCapacity
	for k, v := range st.typeCaps {
		if k.occurrenceID == occurrenceID {
			out = append(out, domain.TicketTypeCapacity{OccurrenceID: k.occurrenceID, TicketType: k.ticketType, Capacity: v})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TicketType < out[j].TicketType })
	return out, nil
}

// Capacity source

func (s *Store) GetCapacitySnapshot(ctx context.Context, occurrenceID int64, ticketType string) (capacity.Snapshot, error) {
	st := s.view(ctx)
	occ, ok := st.occurrences[occurrenceID]
	if !ok {
		return capacity.Snapshot{}, domain.ErrOccurrenceNotFound
	}
	snap := capacity.Snapshot{Capacity: occ.Capacity, Booked: occ.Booked}
	if c, ok := st.typeCaps[capKey{occurrenceID, ticketType}]; ok {
		snap.TicketTypeCapacity = &c
	}
	return snap, nil
}

func (s *Store) SumActiveHolds(ctx context.Context, occurrenceID int64, ticketType string, now time.Time, excludeHoldID string) (int, error) {
	total := 0
	for _, h := range s.view(ctx).holds {
		if h.OccurrenceID != occurrenceID || h.TicketType != ticketType || h.ID == excludeHoldID {
			continue
		}
		if h.ActiveAt(now) {
			total += h.Quantity
		}
	}
	return total, nil
}

// Hold ledger

func (s *Store) FindActiveHold(ctx context.Context, sessionID string, occurrenceID int64, ticketType string, now time.Time) (*domain.Hold, error) {
	for _, h := range s.view(ctx).holds {
		if h.SessionID == sessionID && h.OccurrenceID == occurrenceID && h.TicketType == ticketType && h.ActiveAt(now) {
			found := h
			return &found, nil
		}
	}
	return nil, nil
}

func (s *Store) CountActiveSessionHolds(ctx context.Context, sessionID string, now time.Time) (int, error) {
	n := 0
	for _, h := range s.view(ctx).holds {
		if h.SessionID == sessionID && h.ActiveAt(now) {
			n++
		}
	}
	return n, nil
}

func (s *Store) CreateHold(ctx context.Context, hold domain.Hold) error {
	return s.update(ctx, func(st *state) error {
		if _, ok := st.occurrences[hold.OccurrenceID]; !ok {
			return domain.ErrOccurrenceNotFound
		}
		st.putHold(hold)
		return nil
	})
}

func (s *Store) UpdateHold(ctx context.Context, holdID string, quantity int, expiresAt time.Time) error {
	return s.update(ctx, func(st *state) error {
		h, ok := st.holds[holdID]
		if !ok {
			return domain.ErrHoldNotFound
		}
		h.Quantity = quantity
		h.ExpiresAt = expiresAt
		st.putHold(h)
		return nil
	})
}

func (s *Store) GetHold(ctx context.Context, holdID string) (*domain.Hold, error) {
	h, ok := s.view(ctx).holds[holdID]
	if !ok {
		return nil, nil
	}
	return &h, nil
}

func (s *Store) DeleteHold(ctx context.Context, holdID, sessionID string) (*domain.Hold, error) {
	var deleted *domain.Hold
	err := s.update(ctx, func(st *state) error {
		h, ok := st.holds[holdID]
		if !ok || (sessionID != "" && h.SessionID != sessionID) {
			return nil
		}
		st.deleteHold(holdID)
		deleted = &h
		return nil
	})
	return deleted, err
}

func (s *Store) DeleteSessionHolds(ctx context.Context, sessionID string) ([]domain.Hold, error) {
	var deleted []domain.Hold
	err := s.update(ctx, func(st *state) error {
		deleted = nil
		for id, h := range st.holds {
			if h.SessionID == sessionID {
				st.deleteHold(id)
				deleted = append(deleted, h)
			}
		}
		return nil
	})
	sortHolds(deleted)
	return deleted, err
}

func (s *Store) ListSessionHolds(ctx context.Context, sessionID string, now time.Time) ([]domain.Hold, error) {
	var out []domain.Hold
	for _, h := range s.view(ctx).holds {
		if h.SessionID == sessionID && h.ActiveAt(now) {
			out = append(out, h)
		}
	}
	sortHolds(out)
	return out, nil
}

// DeleteExpiredHolds removes holds with expires_at <= now, walking the
// expiry index from the oldest entry.
func (s *Store) DeleteExpiredHolds(ctx context.Context, now time.Time) ([]domain.Hold, error) {
	var deleted []domain.Hold
	err := s.update(ctx, func(st *state) error {
		deleted = nil
		var expired []string
		st.expiry.Ascend(func(e expiryEntry) bool {
			if e.expiresAt.After(now) {
				return false
			}
			expired = append(expired, e.holdID)
			return true
		})
		for _, id := range expired {
			if h, ok := st.deleteHold(id); ok {
				deleted = append(deleted, h)
			}
		}
		return nil
	})
	return deleted, err
}

func (s *Store) HoldStats(ctx context.Context, now time.Time) (domain.HoldStats, error) {
	var stats domain.HoldStats
	bySession := make(map[string]*domain.SessionHoldStats)
	byPair := make(map[capKey]*domain.TicketTypeHoldStats)

	for _, h := range s.view(ctx).holds {
		if !h.ActiveAt(now) {
			continue
		}
		stats.ActiveHolds++
		stats.ActiveQuantity += h.Quantity

		ss, ok := bySession[h.SessionID]
		if !ok {
			ss = &domain.SessionHoldStats{SessionID: h.SessionID}
			bySession[h.SessionID] = ss
		}
		ss.Holds++
		ss.Quantity += h.Quantity

		key := capKey{h.OccurrenceID, h.TicketType}
		ps, ok := byPair[key]
		if !ok {
			ps = &domain.TicketTypeHoldStats{OccurrenceID: h.OccurrenceID, TicketType: h.TicketType}
			byPair[key] = ps
		}
		ps.Holds++
		ps.Quantity += h.Quantity
	}

	for _, ss := range bySession {
		stats.BySession = append(stats.BySession, *ss)
	}
	sort.Slice(stats.BySession, func(i, j int) bool {
		return stats.BySession[i].SessionID < stats.BySession[j].SessionID
	})
	for _, ps := range byPair {
		stats.ByTicketType = append(stats.ByTicketType, *ps)
	}
	sort.Slice(stats.ByTicketType, func(i, j int) bool {
		a, b := stats.ByTicketType[i], stats.ByTicketType[j]
		if a.OccurrenceID != b.OccurrenceID {
			return a.OccurrenceID < b.OccurrenceID
		}
		return a.TicketType < b.TicketType
	})
	return stats, nil
}

// Conversion

func (s *Store) LockActiveSessionHolds(ctx context.Context, sessionID string, now time.Time) ([]domain.Hold, error) {
	return s.ListSessionHolds(ctx, sessionID, now)
}

func (s *Store) CreateBooking(ctx context.Context, booking domain.Booking) error {
	return s.update(ctx, func(st *state) error {
		key := bookingKey{booking.OrderReference, booking.OccurrenceID, booking.TicketType}
		if _, ok := st.bookings[key]; ok {
			return domain.ErrBookingExists
		}
		st.bookings[key] = booking
		return nil
	})
}

func (s *Store) IncrementBooked(ctx context.Context, occurrenceID int64, quantity int) error {
	return s.update(ctx, func(st *state) error {
		occ, ok := st.occurrences[occurrenceID]
		if !ok {
			return domain.ErrOccurrenceNotFound
		}
		if occ.Booked+quantity > occ.Capacity {
			return domain.ErrCapacityExceeded
		}
		occ.Booked += quantity
		st.occurrences[occurrenceID] = occ
		return nil
	})
}

func (s *Store) ListBookings(ctx context.Context, orderReference string) ([]domain.Booking, error) {
	var out []domain.Booking
	for _, b := range s.view(ctx).bookings {
		if b.OrderReference == orderReference {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].OccurrenceID != out[j].OccurrenceID {
			return out[i].OccurrenceID < out[j].OccurrenceID
		}
		return out[i].TicketType < out[j].TicketType
	})
	return out, nil
}

// Audit log

func (s *Store) Publish(_ context.Context, events ...domain.HoldEvent) error {
	s.eventsMu.Lock()
	s.events = append(s.events, events...)
	s.eventsMu.Unlock()
	return nil
}

// HoldHistory returns the published transitions of one hold, oldest first.
func (s *Store) HoldHistory(_ context.Context, holdID string) ([]domain.HoldEvent, error) {
	s.eventsMu.Lock()
	defer s.eventsMu.Unlock()

	var out []domain.HoldEvent
	for _, ev := range s.events {
		if ev.HoldID == holdID {
			out = append(out, ev)
		}
	}
	return out, nil
}

// Events returns a copy of every published hold event, oldest first.
func (s *Store) Events() []domain.HoldEvent {
	s.eventsMu.Lock()
	defer s.eventsMu.Unlock()
	return append([]domain.HoldEvent(nil), s.events...)
}

func sortHolds(holds []domain.Hold) {
	sort.Slice(holds, func(i, j int) bool {
		if !holds[i].CreatedAt.Equal(holds[j].CreatedAt) {
			return holds[i].CreatedAt.Before(holds[j].CreatedAt)
		}
		return holds[i].ID < holds[j].ID
	})
}
