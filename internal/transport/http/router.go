// Package http exposes the hold engine over a JSON HTTP API.
package http

import (
	"log/slog"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Services bundles what the router dispatches to. Ping is optional; the
// history route is only registered when History is set.
type Services struct {
	Holds      HoldManager
	Bookings   Reserver
	Conversion Converter
	Sweeper    Sweeper
	Admin      AdminManager
	History    HoldHistory
	Ping       Pinger
}

// NewRouter registers every route with request ids, real client addresses,
// request logging, panic recovery and CORS.
func NewRouter(svc Services, corsOrigins []string, logger *slog.Logger) chi.Router {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(RequestLogger(logger))
	r.Use(middleware.Recoverer)
	r.Use(CORS(corsOrigins))

	r.NotFound(NotFoundHandler().ServeHTTP)
	r.MethodNotAllowed(MethodNotAllowedHandler().ServeHTTP)

	holds := &holdHandler{svc: svc.Holds, sweeper: svc.Sweeper, logger: logger}
	bookings := &bookingHandler{reserver: svc.Bookings, converter: svc.Conversion, logger: logger}
	admin := &adminHandler{svc: svc.Admin, history: svc.History, logger: logger}

	r.Get("/healthz", HealthHandler(svc.Ping))

	r.Post("/holds", holds.create)
	r.Delete("/holds/{holdID}", holds.release)

	r.Route("/sessions/{sessionID}", func(r chi.Router) {
		r.Use(requireSessionOwner)
		r.Get("/holds", holds.listSession)
		r.Delete("/holds", holds.releaseSession)
		r.Post("/convert", bookings.convert)
	})

	r.Post("/bookings/reserve", bookings.reserve)
	r.Get("/occurrences/{occurrenceID}/availability", holds.availability)

	r.Route("/admin", func(r chi.Router) {
		r.Post("/sweep", holds.sweep)
		r.Get("/stats/holds", holds.stats)
		r.Post("/occurrences", admin.createOccurrence)
		r.Get("/occurrences", admin.listOccurrences)
		r.Get("/occurrences/{occurrenceID}", admin.getOccurrence)
		r.Put("/occurrences/{occurrenceID}/ticket-types/{ticketType}", admin.setTicketType)
		if svc.History != nil {
			r.Get("/holds/{holdID}/history", admin.holdHistory)
		}
	})

	return r
}
