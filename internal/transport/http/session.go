package http

import (
	"net"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
)

const (
	sessionHeader = "X-Session-ID"
	userHeader    = "X-User-ID"
	sessionCookie = "hold_session"
)

// sessionFromRequest returns the caller's session id from the X-Session-ID
// header or, failing that, the hold_session cookie.
func sessionFromRequest(r *http.Request) string {
	if id := strings.TrimSpace(r.Header.Get(sessionHeader)); id != "" {
		return id
	}
	if c, err := r.Cookie(sessionCookie); err == nil {
		return strings.TrimSpace(c.Value)
	}
	return ""
}

// requireSessionOwner guards /sessions/{sessionID} routes: the caller's own
// session must be the one named in the path.
func requireSessionOwner(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		caller := sessionFromRequest(r)
		if caller == "" {
			writeError(w, http.StatusBadRequest, codeInvalidParameters, "session is required")
			return
		}
		if caller != strings.TrimSpace(chi.URLParam(r, "sessionID")) {
			writeError(w, http.StatusForbidden, codeForbidden, "session belongs to another caller")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// rememberSession echoes the session id and sets the cookie when the
// request did not already carry it.
func rememberSession(w http.ResponseWriter, r *http.Request, sessionID string) {
	if sessionID == "" {
		return
	}
	w.Header().Set(sessionHeader, sessionID)
	if sessionFromRequest(r) == sessionID {
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    sessionID,
		Path:     "/",
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteLaxMode,
	})
}

func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
