package http

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/cimillas/holdengine/internal/app"
	"github.com/cimillas/holdengine/internal/domain"
)

// HoldManager is the part of the hold manager the HTTP surface needs.
type HoldManager interface {
	CreateHold(ctx context.Context, in app.CreateHoldInput) (app.CreateHoldResult, error)
	ReleaseHold(ctx context.Context, holdID, sessionID, reason string) (bool, error)
	ReleaseSessionHolds(ctx context.Context, sessionID, reason string) (int, error)
	SessionHolds(ctx context.Context, sessionID string) ([]domain.Hold, error)
	Available(ctx context.Context, occurrenceID int64, ticketType string) (int, error)
	Stats(ctx context.Context) (domain.HoldStats, error)
}

// Sweeper removes expired holds on demand.
type Sweeper interface {
	Sweep(ctx context.Context) (int, error)
}

const releaseReasonCustomer = "customer"

type holdHandler struct {
	svc     HoldManager
	sweeper Sweeper
	logger  *slog.Logger
}

type createHoldRequest struct {
	OccurrenceID int64  `json:"occurrence_id"`
	TicketType   string `json:"ticket_type"`
	Quantity     int    `json:"quantity"`
}

type holdResponse struct {
	ID           string    `json:"id"`
	OccurrenceID int64     `json:"occurrence_id"`
	TicketType   string    `json:"ticket_type"`
	Quantity     int       `json:"quantity"`
	SessionID    string    `json:"session_id"`
	CreatedAt    time.Time `json:"created_at"`
	ExpiresAt    time.Time `json:"expires_at"`
}

type createHoldResponse struct {
	Hold              holdResponse `json:"hold"`
	SessionID         string       `json:"session_id"`
	RemainingCapacity int          `json:"remaining_capacity"`
	Merged            bool         `json:"merged"`
}

func toHoldResponse(h domain.Hold) holdResponse {
	return holdResponse{
		ID:           h.ID,
		OccurrenceID: h.OccurrenceID,
		TicketType:   h.TicketType,
		Quantity:     h.Quantity,
		SessionID:    h.SessionID,
		CreatedAt:    h.CreatedAt,
		ExpiresAt:    h.ExpiresAt,
	}
}

func toCreateHoldResponse(res app.CreateHoldResult) createHoldResponse {
	return createHoldResponse{
		Hold:              toHoldResponse(res.Hold),
		SessionID:         res.SessionID,
		RemainingCapacity: res.RemainingCapacity,
		Merged:            res.Merged,
	}
}

// create handles POST /holds. A merge into an existing hold answers 200,
// a new hold 201.
func (h *holdHandler) create(w http.ResponseWriter, r *http.Request) {
	var req createHoldRequest
	if err := parseJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidRequestBody, err.Error())
		return
	}

	res, err := h.svc.CreateHold(r.Context(), app.CreateHoldInput{
		OccurrenceID: req.OccurrenceID,
		TicketType:   req.TicketType,
		Quantity:     req.Quantity,
		SessionID:    sessionFromRequest(r),
		UserID:       r.Header.Get(userHeader),
		ClientIP:     clientIP(r),
	})
	if err != nil {
		writeServiceError(w, h.logger, r, err)
		return
	}

	rememberSession(w, r, res.SessionID)
	status := http.StatusCreated
	if res.Merged {
		status = http.StatusOK
	}
	writeJSON(w, status, toCreateHoldResponse(res))
}

// release handles DELETE /holds/{holdID}. Only holds of the caller's
// session are released.
func (h *holdHandler) release(w http.ResponseWriter, r *http.Request) {
	sessionID := sessionFromRequest(r)
	if sessionID == "" {
		writeError(w, http.StatusBadRequest, codeInvalidParameters, "session is required")
		return
	}

	released, err := h.svc.ReleaseHold(r.Context(), chi.URLParam(r, "holdID"), sessionID, releaseReasonCustomer)
	if err != nil {
		writeServiceError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"released": released})
}

func (h *holdHandler) listSession(w http.ResponseWriter, r *http.Request) {
	holds, err := h.svc.SessionHolds(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		writeServiceError(w, h.logger, r, err)
		return
	}
	resp := make([]holdResponse, 0, len(holds))
	for _, hold := range holds {
		resp = append(resp, toHoldResponse(hold))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *holdHandler) releaseSession(w http.ResponseWriter, r *http.Request) {
	n, err := h.svc.ReleaseSessionHolds(r.Context(), chi.URLParam(r, "sessionID"), releaseReasonCustomer)
	if err != nil {
		writeServiceError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"released": n})
}

type availabilityResponse struct {
	OccurrenceID int64  `json:"occurrence_id"`
	TicketType   string `json:"ticket_type"`
	Available    int    `json:"available"`
}

func (h *holdHandler) availability(w http.ResponseWriter, r *http.Request) {
	occurrenceID, ok := pathID(w, r, "occurrenceID")
	if !ok {
		return
	}
	ticketType := r.URL.Query().Get("ticket_type")

	n, err := h.svc.Available(r.Context(), occurrenceID, ticketType)
	if err != nil {
		writeServiceError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, availabilityResponse{
		OccurrenceID: occurrenceID,
		TicketType:   ticketType,
		Available:    n,
	})
}

type sessionStatsResponse struct {
	SessionID string `json:"session_id"`
	Holds     int    `json:"holds"`
	Quantity  int    `json:"quantity"`
}

type ticketTypeStatsResponse struct {
	OccurrenceID int64  `json:"occurrence_id"`
	TicketType   string `json:"ticket_type"`
	Holds        int    `json:"holds"`
	Quantity     int    `json:"quantity"`
}

type statsResponse struct {
	ActiveHolds    int                       `json:"active_holds"`
	ActiveQuantity int                       `json:"active_quantity"`
	BySession      []sessionStatsResponse    `json:"by_session"`
	ByTicketType   []ticketTypeStatsResponse `json:"by_ticket_type"`
}

func (h *holdHandler) stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.svc.Stats(r.Context())
	if err != nil {
		writeServiceError(w, h.logger, r, err)
		return
	}

	resp := statsResponse{
		ActiveHolds:    stats.ActiveHolds,
		ActiveQuantity: stats.ActiveQuantity,
		BySession:      make([]sessionStatsResponse, 0, len(stats.BySession)),
		ByTicketType:   make([]ticketTypeStatsResponse, 0, len(stats.ByTicketType)),
	}
	for _, s := range stats.BySession {
		resp.BySession = append(resp.BySession, sessionStatsResponse(s))
	}
	for _, s := range stats.ByTicketType {
		resp.ByTicketType = append(resp.ByTicketType, ticketTypeStatsResponse(s))
	}
	writeJSON(w, http.StatusOK, resp)
}

// sweep handles POST /admin/sweep.
func (h *holdHandler) sweep(w http.ResponseWriter, r *http.Request) {
	n, err := h.sweeper.Sweep(r.Context())
	if err != nil {
		writeServiceError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"removed": n})
}

func pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	raw := chi.URLParam(r, name)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, codeInvalidParameters, "invalid "+name+": "+strconv.Quote(raw))
		return 0, false
	}
	return id, true
}
