package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cimillas/holdengine/internal/capacity"
	"github.com/cimillas/holdengine/internal/clock"
	"github.com/cimillas/holdengine/internal/domain"
	"github.com/cimillas/holdengine/internal/lock"
)

type HoldRepository interface {
	capacity.Source
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
	FindActiveHold(ctx context.Context, sessionID string, occurrenceID int64, ticketType string, now time.Time) (*domain.Hold, error)
	CountActiveSessionHolds(ctx context.Context, sessionID string, now time.Time) (int, error)
	CreateHold(ctx context.Context, hold domain.Hold) error
	UpdateHold(ctx context.Context, holdID string, quantity int, expiresAt time.Time) error
	GetHold(ctx context.Context, holdID string) (*domain.Hold, error)
	DeleteHold(ctx context.Context, holdID, sessionID string) (*domain.Hold, error)
	DeleteSessionHolds(ctx context.Context, sessionID string) ([]domain.Hold, error)
	ListSessionHolds(ctx context.Context, sessionID string, now time.Time) ([]domain.Hold, error)
	DeleteExpiredHolds(ctx context.Context, now time.Time) ([]domain.Hold, error)
	HoldStats(ctx context.Context, now time.Time) (domain.HoldStats, error)
}

// CleanupScheduler makes sure expired holds are swept periodically.
// EnsureScheduled must be idempotent.
type CleanupScheduler interface {
	EnsureScheduled()
}

const (
	defaultHoldTTL         = 15 * time.Minute
	MinHoldTTL             = 5 * time.Minute
	MaxHoldTTL             = 120 * time.Minute
	defaultLockTimeout     = 5 * time.Second
	defaultMaxQuantity     = 50
	defaultMaxSessionHolds = 10
)

// HoldService creates, merges and releases holds. Every capacity decision
// that leads to a write is taken under the named lock of the
// (occurrence, ticket type) pair, inside a transaction opened after the
// lock is held.
type HoldService struct {
	repo      HoldRepository
	calc      *capacity.Calculator
	locker    lock.Locker
	clock     clock.Clock
	sessions  SessionProvider
	events    EventPublisher
	scheduler CleanupScheduler
	convert   *ConversionService
	logger    *slog.Logger

	holdTTL         time.Duration
	lockTimeout     time.Duration
	maxQuantity     int
	maxSessionHolds int
}

func NewHoldService(repo HoldRepository, locker lock.Locker, clk clock.Clock, opts ...HoldServiceOption) *HoldService {
	svc := &HoldService{
		repo:            repo,
		calc:            capacity.NewCalculator(repo, clk),
		locker:          locker,
		clock:           clk,
		sessions:        GuestSessions(),
		events:          nopPublisher{},
		logger:          orDiscard(nil),
		holdTTL:         defaultHoldTTL,
		lockTimeout:     defaultLockTimeout,
		maxQuantity:     defaultMaxQuantity,
		maxSessionHolds: defaultMaxSessionHolds,
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc
}

type HoldServiceOption func(*HoldService)

// WithHoldTTL overrides the default TTL for new holds. The value is clamped
// to [MinHoldTTL, MaxHoldTTL].
func WithHoldTTL(d time.Duration) HoldServiceOption {
	return func(s *HoldService) {
		if d > 0 {
			s.holdTTL = ClampHoldTTL(d)
		}
	}
}

// WithLockTimeout bounds how long CreateHold waits for the pair lock.
func WithLockTimeout(d time.Duration) HoldServiceOption {
	return func(s *HoldService) {
		if d > 0 {
			s.lockTimeout = d
		}
	}
}

// WithMaxQuantity caps the quantity accepted by a single request.
func WithMaxQuantity(n int) HoldServiceOption {
	return func(s *HoldService) {
		if n > 0 {
			s.maxQuantity = n
		}
	}
}

// WithMaxHoldsPerSession caps the number of active holds one session may own.
func WithMaxHoldsPerSession(n int) HoldServiceOption {
	return func(s *HoldService) {
		if n > 0 {
			s.maxSessionHolds = n
		}
	}
}

func WithSessionProvider(p SessionProvider) HoldServiceOption {
	return func(s *HoldService) {
		if p != nil {
			s.sessions = p
		}
	}
}

func WithEventPublisher(p EventPublisher) HoldServiceOption {
	return func(s *HoldService) {
		if p != nil {
			s.events = p
		}
	}
}

func WithCleanupScheduler(cs CleanupScheduler) HoldServiceOption {
	return func(s *HoldService) {
		s.scheduler = cs
	}
}

// WithConversion lets the hold service hand checkouts to c.
func WithConversion(c *ConversionService) HoldServiceOption {
	return func(s *HoldService) {
		s.convert = c
	}
}

func WithLogger(logger *slog.Logger) HoldServiceOption {
	return func(s *HoldService) {
		s.logger = orDiscard(logger)
	}
}

// ClampHoldTTL limits d to [MinHoldTTL, MaxHoldTTL].
func ClampHoldTTL(d time.Duration) time.Duration {
	if d < MinHoldTTL {
		return MinHoldTTL
	}
	if d > MaxHoldTTL {
		return MaxHoldTTL
	}
	return d
}

type CreateHoldInput struct {
	OccurrenceID int64
	TicketType   string
	Quantity     int
	SessionID    string
	UserID       string
	ClientIP     string
}

type CreateHoldResult struct {
	Hold              domain.Hold
	SessionID         string
	RemainingCapacity int
	Merged            bool

	// previous is the hold as it was before a merge; used to undo it.
	previous *domain.Hold
}

func (s *HoldService) validate(in *CreateHoldInput) error {
	in.TicketType = strings.TrimSpace(in.TicketType)
	if in.OccurrenceID <= 0 {
		return domain.InvalidParameter("occurrence_id must be positive")
	}
	if in.TicketType == "" {
		return domain.InvalidParameter("ticket_type is required")
	}
	if in.Quantity <= 0 || in.Quantity > s.maxQuantity {
		return domain.InvalidParameter("quantity must be between 1 and %d", s.maxQuantity)
	}
	return nil
}

// CreateHold reserves quantity of a ticket type on an occurrence for the
// session. A second request from the same session for the same pair is
// merged into the existing hold. A blank SessionID is replaced by a new
// guest session, returned in the result.
func (s *HoldService) CreateHold(ctx context.Context, in CreateHoldInput) (CreateHoldResult, error) {
	if err := s.validate(&in); err != nil {
		return CreateHoldResult{}, err
	}
	in.SessionID = strings.TrimSpace(in.SessionID)
	if in.SessionID == "" {
		in.SessionID = s.sessions.NewSession()
	}

	// Advisory check; the authoritative one runs under the lock.
	available, err := s.calc.Available(ctx, in.OccurrenceID, in.TicketType, "")
	if err != nil {
		return CreateHoldResult{}, err
	}
	if in.Quantity > available {
		return CreateHoldResult{}, &domain.CapacityError{Requested: in.Quantity, Available: available}
	}

	lease, err := s.locker.Acquire(ctx, lock.Key(in.OccurrenceID, in.TicketType), s.lockTimeout)
	if err != nil {
		if errors.Is(err, lock.ErrTimeout) {
			s.logger.Warn("hold lock timeout",
				slog.Int64("occurrence_id", in.OccurrenceID),
				slog.String("ticket_type", in.TicketType),
				slog.Duration("timeout", s.lockTimeout),
			)
			return CreateHoldResult{}, domain.ErrLockTimeout
		}
		return CreateHoldResult{}, fmt.Errorf("%w: acquire lock: %w", domain.ErrDatabase, err)
	}

	// Locked work runs on whatever the lease pins and the lock is gone
	// before the event is published.
	result, err := func() (CreateHoldResult, error) {
		defer s.releaseLease(lease)
		return s.createLocked(lease.Bind(ctx), in)
	}()
	if err != nil {
		return CreateHoldResult{}, err
	}

	state := domain.HoldStatePending
	if result.Merged {
		state = domain.HoldStateExtended
	}
	publish(ctx, s.logger, s.events, domain.NewHoldEvent(result.Hold, state, "", s.clock.Now()))
	if s.scheduler != nil {
		s.scheduler.EnsureScheduled()
	}

	s.logger.Info("hold created",
		slog.String("hold_id", result.Hold.ID),
		slog.Int64("occurrence_id", result.Hold.OccurrenceID),
		slog.String("ticket_type", result.Hold.TicketType),
		slog.Int("quantity", result.Hold.Quantity),
		slog.Bool("merged", result.Merged),
		slog.Int("remaining", result.RemainingCapacity),
	)
	return result, nil
}

func (s *HoldService) createLocked(ctx context.Context, in CreateHoldInput) (CreateHoldResult, error) {
	var result CreateHoldResult

	err := s.repo.WithTx(ctx, func(txCtx context.Context) error {
		now := s.clock.Now()
		expiresAt := now.Add(s.holdTTL)

		existing, err := s.repo.FindActiveHold(txCtx, in.SessionID, in.OccurrenceID, in.TicketType, now)
		if err != nil {
			return err
		}

		if existing != nil {
			available, err := s.calc.Available(txCtx, in.OccurrenceID, in.TicketType, existing.ID)
			if err != nil {
				return err
			}
			total := existing.Quantity + in.Quantity
			if total > available {
				return &domain.CapacityError{Requested: total, Available: available, ForUpdate: true}
			}
			if existing.ExpiresAt.After(expiresAt) {
				expiresAt = existing.ExpiresAt
			}
			if err := s.repo.UpdateHold(txCtx, existing.ID, total, expiresAt); err != nil {
				return err
			}

			previous := *existing
			merged := *existing
			merged.Quantity = total
			merged.ExpiresAt = expiresAt
			result = CreateHoldResult{
				Hold:              merged,
				SessionID:         in.SessionID,
				RemainingCapacity: available - total,
				Merged:            true,
				previous:          &previous,
			}
			return nil
		}

		count, err := s.repo.CountActiveSessionHolds(txCtx, in.SessionID, now)
		if err != nil {
			return err
		}
		if count >= s.maxSessionHolds {
			return domain.ErrMaxHoldsExceeded
		}

		available, err := s.calc.Available(txCtx, in.OccurrenceID, in.TicketType, "")
		if err != nil {
			return err
		}
		if in.Quantity > available {
			return &domain.CapacityError{Requested: in.Quantity, Available: available}
		}

		hold := domain.Hold{
			ID:           newUUID(),
			OccurrenceID: in.OccurrenceID,
			TicketType:   in.TicketType,
			Quantity:     in.Quantity,
			SessionID:    in.SessionID,
			UserID:       in.UserID,
			ClientIP:     in.ClientIP,
			CreatedAt:    now,
			ExpiresAt:    expiresAt,
		}
		if err := s.repo.CreateHold(txCtx, hold); err != nil {
			return err
		}

		result = CreateHoldResult{
			Hold:              hold,
			SessionID:         in.SessionID,
			RemainingCapacity: available - in.Quantity,
		}
		return nil
	})
	if err != nil {
		return CreateHoldResult{}, txError(err)
	}
	return result, nil
}

func (s *HoldService) releaseLease(lease lock.Lease) {
	// The caller's context may already be cancelled; the lock must still go.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := lease.Release(ctx); err != nil {
		s.logger.Error("release hold lock",
			slog.String("key", lease.Key()),
			slog.String("error", err.Error()),
		)
	}
}

// restoreHold puts a merged hold back to its state before the merge. Used
// when a multi-line booking request is rolled back.
func (s *HoldService) restoreHold(ctx context.Context, prev domain.Hold) error {
	lease, err := s.locker.Acquire(ctx, lock.Key(prev.OccurrenceID, prev.TicketType), s.lockTimeout)
	if err != nil {
		if errors.Is(err, lock.ErrTimeout) {
			return domain.ErrLockTimeout
		}
		return fmt.Errorf("%w: acquire lock: %w", domain.ErrDatabase, err)
	}

	err = func() error {
		defer s.releaseLease(lease)
		return s.repo.WithTx(lease.Bind(ctx), func(txCtx context.Context) error {
			return s.repo.UpdateHold(txCtx, prev.ID, prev.Quantity, prev.ExpiresAt)
		})
	}()
	if err != nil {
		return txError(err)
	}
	publish(ctx, s.logger, s.events, domain.NewHoldEvent(prev, domain.HoldStateExtended, "restored", s.clock.Now()))
	return nil
}

// ErrConversionUnavailable is returned by ConvertToBookings when the hold
// service was built without WithConversion.
var ErrConversionUnavailable = errors.New("app: conversion is not configured")

// ConvertToBookings turns the session's active holds into bookings for the
// order. See ConversionService.Convert.
func (s *HoldService) ConvertToBookings(ctx context.Context, sessionID, orderReference string, resolver LineItemResolver) (ConversionResult, error) {
	if s.convert == nil {
		return ConversionResult{}, ErrConversionUnavailable
	}
	return s.convert.Convert(ctx, sessionID, orderReference, resolver)
}

// ReleaseHold deletes a hold. When sessionID is set the hold is only
// deleted if it belongs to that session. It reports whether a hold was
// deleted; releasing an unknown hold is not an error.
func (s *HoldService) ReleaseHold(ctx context.Context, holdID, sessionID, reason string) (bool, error) {
	if strings.TrimSpace(holdID) == "" {
		return false, domain.InvalidParameter("hold_id is required")
	}
	now := s.clock.Now()

	before, err := s.repo.GetHold(ctx, holdID)
	if err != nil {
		return false, err
	}
	if before == nil {
		s.logger.Info("release of unknown hold", slog.String("hold_id", holdID), slog.String("reason", reason))
		return false, nil
	}
	if sessionID != "" && before.SessionID != sessionID {
		s.logger.Warn("release refused for foreign session",
			slog.String("hold_id", holdID),
			slog.String("session_id", sessionID),
		)
		return false, nil
	}
	s.logger.Info("releasing hold",
		slog.String("hold_id", before.ID),
		slog.String("session_id", before.SessionID),
		slog.Int("quantity", before.Quantity),
		slog.Bool("expired", !before.ActiveAt(now)),
		slog.String("reason", reason),
	)

	deleted, err := s.repo.DeleteHold(ctx, holdID, sessionID)
	if err != nil {
		return false, err
	}
	if deleted == nil {
		// Converted, swept or released concurrently.
		s.logger.Info("hold already gone", slog.String("hold_id", holdID))
		return false, nil
	}

	s.logger.Info("hold released", slog.String("hold_id", deleted.ID), slog.String("reason", reason))
	publish(ctx, s.logger, s.events, domain.NewHoldEvent(*deleted, domain.HoldStateReleased, reason, now))
	return true, nil
}

// ReleaseSessionHolds deletes every hold of the session and returns how
// many were deleted.
func (s *HoldService) ReleaseSessionHolds(ctx context.Context, sessionID, reason string) (int, error) {
	if strings.TrimSpace(sessionID) == "" {
		return 0, domain.InvalidParameter("session_id is required")
	}
	deleted, err := s.repo.DeleteSessionHolds(ctx, sessionID)
	if err != nil {
		return 0, err
	}

	now := s.clock.Now()
	events := make([]domain.HoldEvent, 0, len(deleted))
	for _, h := range deleted {
		events = append(events, domain.NewHoldEvent(h, domain.HoldStateReleased, reason, now))
	}
	publish(ctx, s.logger, s.events, events...)

	s.logger.Info("session holds released",
		slog.String("session_id", sessionID),
		slog.Int("count", len(deleted)),
		slog.String("reason", reason),
	)
	return len(deleted), nil
}

// CleanupExpired deletes every hold whose expiry has passed. Holds that are
// converted or released concurrently are simply not part of the result.
func (s *HoldService) CleanupExpired(ctx context.Context) (int, error) {
	now := s.clock.Now()
	deleted, err := s.repo.DeleteExpiredHolds(ctx, now)
	if err != nil {
		return 0, err
	}

	events := make([]domain.HoldEvent, 0, len(deleted))
	for _, h := range deleted {
		events = append(events, domain.NewHoldEvent(h, domain.HoldStateExpired, "ttl", now))
	}
	publish(ctx, s.logger, s.events, events...)

	if len(deleted) > 0 {
		s.logger.Info("expired holds removed", slog.Int("count", len(deleted)))
	}
	return len(deleted), nil
}

// Available returns the capacity that can still be held for the pair.
func (s *HoldService) Available(ctx context.Context, occurrenceID int64, ticketType string) (int, error) {
	ticketType = strings.TrimSpace(ticketType)
	if occurrenceID <= 0 || ticketType == "" {
		return 0, domain.InvalidParameter("occurrence_id and ticket_type are required")
	}
	return s.calc.Available(ctx, occurrenceID, ticketType, "")
}

// SessionHolds lists the active holds of a session.
func (s *HoldService) SessionHolds(ctx context.Context, sessionID string) ([]domain.Hold, error) {
	if strings.TrimSpace(sessionID) == "" {
		return nil, domain.InvalidParameter("session_id is required")
	}
	return s.repo.ListSessionHolds(ctx, sessionID, s.clock.Now())
}

// Stats summarizes the active holds for dashboards.
func (s *HoldService) Stats(ctx context.Context) (domain.HoldStats, error) {
	return s.repo.HoldStats(ctx, s.clock.Now())
}

// txError passes domain errors through and reports anything else that
// aborted a transaction as ErrTransactionFailed.
func txError(err error) error {
	switch domain.Code(err) {
	case "database_error", "transaction_failed":
		if errors.Is(err, domain.ErrTransactionFailed) {
			return err
		}
		return fmt.Errorf("%w: %w", domain.ErrTransactionFailed, err)
	}
	return err
}
