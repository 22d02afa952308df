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

// Reserver holds several ticket types for one request, all or nothing.
type Reserver interface {
	Reserve(ctx context.Context, in app.ReserveInput) (app.ReserveResult, error)
}

// Converter turns a session's holds into bookings.
type Converter interface {
	ConvertToBookings(ctx context.Context, sessionID, orderReference string, resolver app.LineItemResolver) (app.ConversionResult, error)
}

type bookingHandler struct {
	reserver  Reserver
	converter Converter
	logger    *slog.Logger
}

type reserveLine struct {
	TicketType string `json:"ticket_type"`
	Quantity   int    `json:"quantity"`
}

type reserveRequest struct {
	OccurrenceID int64         `json:"occurrence_id"`
	Lines        []reserveLine `json:"lines"`
}

type reserveResponse struct {
	SessionID string               `json:"session_id"`
	Holds     []createHoldResponse `json:"holds"`
}

// reserve handles POST /bookings/reserve.
func (h *bookingHandler) reserve(w http.ResponseWriter, r *http.Request) {
	var req reserveRequest
	if err := parseJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidRequestBody, err.Error())
		return
	}

	lines := make([]app.TicketLine, 0, len(req.Lines))
	for _, l := range req.Lines {
		lines = append(lines, app.TicketLine{TicketType: l.TicketType, Quantity: l.Quantity})
	}

	res, err := h.reserver.Reserve(r.Context(), app.ReserveInput{
		OccurrenceID: req.OccurrenceID,
		SessionID:    sessionFromRequest(r),
		UserID:       r.Header.Get(userHeader),
		ClientIP:     clientIP(r),
		Lines:        lines,
	})
	if err != nil {
		writeServiceError(w, h.logger, r, err)
		return
	}

	rememberSession(w, r, res.SessionID)
	resp := reserveResponse{SessionID: res.SessionID, Holds: make([]createHoldResponse, 0, len(res.Holds))}
	for _, hr := range res.Holds {
		resp.Holds = append(resp.Holds, toCreateHoldResponse(hr))
	}
	writeJSON(w, http.StatusCreated, resp)
}

type lineItemRequest struct {
	OccurrenceID int64  `json:"occurrence_id"`
	TicketType   string `json:"ticket_type"`
	UnitPrice    int64  `json:"unit_price"`
}

type convertRequest struct {
	OrderReference string            `json:"order_reference"`
	LineItems      []lineItemRequest `json:"line_items"`
}

type bookingResponse struct {
	ID             string    `json:"id"`
	OrderReference string    `json:"order_reference"`
	OccurrenceID   int64     `json:"occurrence_id"`
	TicketType     string    `json:"ticket_type"`
	Quantity       int       `json:"quantity"`
	UnitPrice      int64     `json:"unit_price"`
	Total          int64     `json:"total"`
	Status         string    `json:"status"`
	CreatedAt      time.Time `json:"created_at"`
}

type convertResponse struct {
	Bookings []bookingResponse `json:"bookings"`
	Skipped  []holdResponse    `json:"skipped"`
}

func toBookingResponse(b domain.Booking) bookingResponse {
	return bookingResponse{
		ID:             b.ID,
		OrderReference: b.OrderReference,
		OccurrenceID:   b.OccurrenceID,
		TicketType:     b.TicketType,
		Quantity:       b.Quantity,
		UnitPrice:      b.UnitPrice,
		Total:          b.Total,
		Status:         string(b.Status),
		CreatedAt:      b.CreatedAt,
	}
}

// convert handles POST /sessions/{sessionID}/convert. The order's line items
// travel in the body; holds without a matching line are skipped.
func (h *bookingHandler) convert(w http.ResponseWriter, r *http.Request) {
	var req convertRequest
	if err := parseJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidRequestBody, err.Error())
		return
	}

	items := make(app.StaticLineItems, len(req.LineItems))
	for _, li := range req.LineItems {
		if li.UnitPrice < 0 {
			writeError(w, http.StatusBadRequest, codeInvalidParameters, "unit_price must not be negative")
			return
		}
		items[app.LineKey{OccurrenceID: li.OccurrenceID, TicketType: li.TicketType}] = app.LineItem{UnitPrice: li.UnitPrice}
	}

	res, err := h.converter.ConvertToBookings(r.Context(), chi.URLParam(r, "sessionID"), req.OrderReference, items)
	if err != nil {
		writeServiceError(w, h.logger, r, err)
		return
	}

	resp := convertResponse{
		Bookings: make([]bookingResponse, 0, len(res.Bookings)),
		Skipped:  make([]holdResponse, 0, len(res.Skipped)),
	}
	for _, b := range res.Bookings {
		resp.Bookings = append(resp.Bookings, toBookingResponse(b))
	}
	for _, hold := range res.Skipped {
		resp.Skipped = append(resp.Skipped, toHoldResponse(hold))
	}
	writeJSON(w, http.StatusOK, resp)
}
