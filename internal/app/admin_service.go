package app

import (
	"context"
	"strings"
	"time"

	"github.com/cimillas/holdengine/internal/clock"
	"github.com/cimillas/holdengine/internal/domain"
)

type AdminRepository interface {
	CreateOccurrence(ctx context.Context, occ domain.Occurrence) (domain.Occurrence, error)
	GetOccurrence(ctx context.Context, occurrenceID int64) (domain.Occurrence, error)
	ListOccurrences(ctx context.Context) ([]domain.Occurrence, error)
	UpsertTicketTypeCapacity(ctx context.Context, c domain.TicketTypeCapacity) error
	ListTicketTypeCapacities(ctx context.Context, occurrenceID int64) ([]domain.TicketTypeCapacity, error)
}

// AdminService maintains the occurrences holds are taken against.
type AdminService struct {
	repo  AdminRepository
	clock clock.Clock
}

func NewAdminService(repo AdminRepository, clk clock.Clock) *AdminService {
	return &AdminService{
		repo:  repo,
		clock: clk,
	}
}

type CreateOccurrenceInput struct {
	StartsAt *time.Time
	EndsAt   *time.Time
	Capacity int
}

const defaultOccurrenceLength = time.Hour

func (s *AdminService) CreateOccurrence(ctx context.Context, in CreateOccurrenceInput) (domain.Occurrence, error) {
	if in.Capacity < 0 {
		return domain.Occurrence{}, domain.ErrInvalidCapacity
	}
	startsAt := s.clock.Now()
	if in.StartsAt != nil {
		startsAt = in.StartsAt.UTC()
	}
	endsAt := startsAt.Add(defaultOccurrenceLength)
	if in.EndsAt != nil {
		endsAt = in.EndsAt.UTC()
	}
	if !endsAt.After(startsAt) {
		return domain.Occurrence{}, domain.ErrInvalidSchedule
	}

	return s.repo.CreateOccurrence(ctx, domain.Occurrence{
		StartsAt:  startsAt,
		EndsAt:    endsAt,
		Capacity:  in.Capacity,
		CreatedAt: s.clock.Now(),
	})
}

func (s *AdminService) GetOccurrence(ctx context.Context, occurrenceID int64) (domain.Occurrence, error) {
	if occurrenceID <= 0 {
		return domain.Occurrence{}, domain.InvalidParameter("occurrence_id must be positive")
	}
	return s.repo.GetOccurrence(ctx, occurrenceID)
}

func (s *AdminService) ListOccurrences(ctx context.Context) ([]domain.Occurrence, error) {
	return s.repo.ListOccurrences(ctx)
}

type SetTicketTypeCapacityInput struct {
	OccurrenceID int64
	TicketType   string
	Capacity     int
}

// SetTicketTypeCapacity sets the ceiling of one ticket type. Ceilings of
// different ticket types are independent and may add up to more than the
// occurrence capacity; the occurrence capacity still bounds each of them.
func (s *AdminService) SetTicketTypeCapacity(ctx context.Context, in SetTicketTypeCapacityInput) (domain.TicketTypeCapacity, error) {
	in.TicketType = strings.TrimSpace(in.TicketType)
	if in.OccurrenceID <= 0 {
		return domain.TicketTypeCapacity{}, domain.InvalidParameter("occurrence_id must be positive")
	}
	if in.TicketType == "" {
		return domain.TicketTypeCapacity{}, domain.InvalidParameter("ticket_type is required")
	}
	if in.Capacity < 0 {
		return domain.TicketTypeCapacity{}, domain.ErrInvalidCapacity
	}

	c := domain.TicketTypeCapacity{
		OccurrenceID: in.OccurrenceID,
		TicketType:   in.TicketType,
		Capacity:     in.Capacity,
	}
	if err := s.repo.UpsertTicketTypeCapacity(ctx, c); err != nil {
		return domain.TicketTypeCapacity{}, err
	}
	return c, nil
}

func (s *AdminService) ListTicketTypeCapacities(ctx context.Context, occurrenceID int64) ([]domain.TicketTypeCapacity, error) {
	if occurrenceID <= 0 {
		return nil, domain.InvalidParameter("occurrence_id must be positive")
	}
	return s.repo.ListTicketTypeCapacities(ctx, occurrenceID)
}
