package http

import (
	"context"
	stdhttp "net/http"
	"time"
)

// Pinger checks that a backing store is reachable.
type Pinger func(ctx context.Context) error

// HealthHandler reports liveness. When ping is set, an unreachable store
// turns the response into a 503.
func HealthHandler(ping Pinger) stdhttp.HandlerFunc {
	return func(w stdhttp.ResponseWriter, r *stdhttp.Request) {
		if ping != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := ping(ctx); err != nil {
				writeJSON(w, stdhttp.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
				return
			}
		}
		writeJSON(w, stdhttp.StatusOK, map[string]string{"status": "ok"})
	}
}
