package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/cimillas/holdengine/internal/app"
	"github.com/cimillas/holdengine/internal/domain"
)

const (
	codeMethodNotAllowed   = "method_not_allowed"
	codeNotFound           = "not_found"
	codeInvalidRequestBody = "invalid_request_body"
	codeInvalidParameters  = "invalid_parameters"
	codeForbidden          = "forbidden"
	codeInternalError      = "internal_error"
)

type errorResponse struct {
	Error      string `json:"error"`
	Code       string `json:"code"`
	Retryable  bool   `json:"retryable,omitempty"`
	TicketType string `json:"ticket_type,omitempty"`
	Requested  *int   `json:"requested,omitempty"`
	Available  *int   `json:"available,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	payload, err := json.Marshal(v)
	if err != nil {
		_, _ = w.Write([]byte(`{"error":"internal error","code":"internal_error"}`))
		return
	}
	_, _ = w.Write(payload)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, errorResponse{Error: msg, Code: code})
}

// parseJSON decodes a JSON request body into v, rejecting unknown fields.
func parseJSON(r *http.Request, v any) error {
	ct := r.Header.Get("Content-Type")
	if ct != "" && !strings.HasPrefix(ct, "application/json") {
		return fmt.Errorf("content type must be application/json")
	}
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

// statusFor maps an error code onto the HTTP status it is reported with.
func statusFor(code string) int {
	switch code {
	case "invalid_parameters", "invalid_capacity", "invalid_schedule":
		return http.StatusBadRequest
	case "occurrence_not_found", "hold_not_found":
		return http.StatusNotFound
	case "insufficient_capacity", "insufficient_capacity_for_update",
		"max_holds_exceeded", "capacity_exceeded", "booking_exists":
		return http.StatusConflict
	case "lock_timeout", "transaction_failed":
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeServiceError reports an error returned by the engine. Storage
// failures are logged and their details kept out of the response.
func writeServiceError(w http.ResponseWriter, logger *slog.Logger, r *http.Request, err error) {
	code := domain.Code(err)
	status := statusFor(code)
	resp := errorResponse{
		Error:     err.Error(),
		Code:      code,
		Retryable: domain.Retryable(err),
	}

	var lineErr *app.LineError
	if errors.As(err, &lineErr) {
		resp.TicketType = lineErr.TicketType
	}
	var capErr *domain.CapacityError
	if errors.As(err, &capErr) {
		resp.Requested = &capErr.Requested
		resp.Available = &capErr.Available
	}

	if status >= http.StatusInternalServerError {
		logger.Error("request failed",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.String("code", code),
			slog.String("error", err.Error()),
		)
		resp.Error = "internal error"
		if status == http.StatusServiceUnavailable {
			resp.Error = "temporarily unavailable, retry"
		}
	}
	if resp.Retryable {
		w.Header().Set("Retry-After", "1")
	}
	writeJSON(w, status, resp)
}
