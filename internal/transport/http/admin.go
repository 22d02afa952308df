package http

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/cimillas/holdengine/internal/app"
	"github.com/cimillas/holdengine/internal/domain"
)

// AdminManager is the minimal interface needed for the admin endpoints.
type AdminManager interface {
	CreateOccurrence(ctx context.Context, in app.CreateOccurrenceInput) (domain.Occurrence, error)
	GetOccurrence(ctx context.Context, occurrenceID int64) (domain.Occurrence, error)
	ListOccurrences(ctx context.Context) ([]domain.Occurrence, error)
	SetTicketTypeCapacity(ctx context.Context, in app.SetTicketTypeCapacityInput) (domain.TicketTypeCapacity, error)
	ListTicketTypeCapacities(ctx context.Context, occurrenceID int64) ([]domain.TicketTypeCapacity, error)
}

// HoldHistory reads the audit log of hold transitions.
type HoldHistory interface {
	HoldHistory(ctx context.Context, holdID string) ([]domain.HoldEvent, error)
}

type adminHandler struct {
	svc     AdminManager
	history HoldHistory
	logger  *slog.Logger
}

type createOccurrenceRequest struct {
	StartsAt string `json:"starts_at"`
	EndsAt   string `json:"ends_at"`
	Capacity *int   `json:"capacity"`
}

type ticketTypeResponse struct {
	TicketType string `json:"ticket_type"`
	Capacity   int    `json:"capacity"`
}

type occurrenceResponse struct {
	ID          int64                `json:"id"`
	StartsAt    time.Time            `json:"starts_at"`
	EndsAt      time.Time            `json:"ends_at"`
	Capacity    int                  `json:"capacity"`
	Booked      int                  `json:"booked"`
	CreatedAt   time.Time            `json:"created_at"`
	TicketTypes []ticketTypeResponse `json:"ticket_types,omitempty"`
}

func toOccurrenceResponse(o domain.Occurrence) occurrenceResponse {
	return occurrenceResponse{
		ID:        o.ID,
		StartsAt:  o.StartsAt,
		EndsAt:    o.EndsAt,
		Capacity:  o.Capacity,
		Booked:    o.Booked,
		CreatedAt: o.CreatedAt,
	}
}

func parseOptionalTime(field, raw string) (*time.Time, error) {
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, domain.InvalidParameter("invalid %s format, want RFC3339", field)
	}
	return &t, nil
}

func (h *adminHandler) createOccurrence(w http.ResponseWriter, r *http.Request) {
	var req createOccurrenceRequest
	if err := parseJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidRequestBody, err.Error())
		return
	}
	if req.Capacity == nil {
		writeError(w, http.StatusBadRequest, codeInvalidParameters, "capacity is required")
		return
	}
	startsAt, err := parseOptionalTime("starts_at", req.StartsAt)
	if err != nil {
		writeServiceError(w, h.logger, r, err)
		return
	}
	endsAt, err := parseOptionalTime("ends_at", req.EndsAt)
	if err != nil {
		writeServiceError(w, h.logger, r, err)
		return
	}

	occ, err := h.svc.CreateOccurrence(r.Context(), app.CreateOccurrenceInput{
		StartsAt: startsAt,
		EndsAt:   endsAt,
		Capacity: *req.Capacity,
	})
	if err != nil {
		writeServiceError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toOccurrenceResponse(occ))
}

func (h *adminHandler) listOccurrences(w http.ResponseWriter, r *http.Request) {
	occs, err := h.svc.ListOccurrences(r.Context())
	if err != nil {
		writeServiceError(w, h.logger, r, err)
		return
	}
	resp := make([]occurrenceResponse, 0, len(occs))
	for _, o := range occs {
		resp = append(resp, toOccurrenceResponse(o))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *adminHandler) getOccurrence(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "occurrenceID")
	if !ok {
		return
	}
	occ, err := h.svc.GetOccurrence(r.Context(), id)
	if err != nil {
		writeServiceError(w, h.logger, r, err)
		return
	}
	caps, err := h.svc.ListTicketTypeCapacities(r.Context(), id)
	if err != nil {
		writeServiceError(w, h.logger, r, err)
		return
	}

	resp := toOccurrenceResponse(occ)
	for _, c := range caps {
		resp.TicketTypes = append(resp.TicketTypes, ticketTypeResponse{TicketType: c.TicketType, Capacity: c.Capacity})
	}
	writeJSON(w, http.StatusOK, resp)
}

type setTicketTypeRequest struct {
	Capacity *int `json:"capacity"`
}

func (h *adminHandler) setTicketType(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "occurrenceID")
	if !ok {
		return
	}
	var req setTicketTypeRequest
	if err := parseJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidRequestBody, err.Error())
		return
	}
	if req.Capacity == nil {
		writeError(w, http.StatusBadRequest, codeInvalidParameters, "capacity is required")
		return
	}

	c, err := h.svc.SetTicketTypeCapacity(r.Context(), app.SetTicketTypeCapacityInput{
		OccurrenceID: id,
		TicketType:   chi.URLParam(r, "ticketType"),
		Capacity:     *req.Capacity,
	})
	if err != nil {
		writeServiceError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ticketTypeResponse{TicketType: c.TicketType, Capacity: c.Capacity})
}

type holdEventResponse struct {
	HoldID       string    `json:"hold_id"`
	OccurrenceID int64     `json:"occurrence_id"`
	TicketType   string    `json:"ticket_type"`
	SessionID    string    `json:"session_id"`
	State        string    `json:"state"`
	Quantity     int       `json:"quantity"`
	Reason       string    `json:"reason,omitempty"`
	OccurredAt   time.Time `json:"occurred_at"`
}

// holdHistory handles GET /admin/holds/{holdID}/history. Unknown holds have
// an empty history.
func (h *adminHandler) holdHistory(w http.ResponseWriter, r *http.Request) {
	events, err := h.history.HoldHistory(r.Context(), chi.URLParam(r, "holdID"))
	if err != nil {
		writeServiceError(w, h.logger, r, err)
		return
	}
	resp := make([]holdEventResponse, 0, len(events))
	for _, ev := range events {
		resp = append(resp, holdEventResponse{
			HoldID:       ev.HoldID,
			OccurrenceID: ev.OccurrenceID,
			TicketType:   ev.TicketType,
			SessionID:    ev.SessionID,
			State:        string(ev.State),
			Quantity:     ev.Quantity,
			Reason:       ev.Reason,
			OccurredAt:   ev.OccurredAt,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}
