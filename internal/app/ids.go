package app

import "github.com/google/uuid"

func newUUID() string {
	return uuid.New().String()
}

// SessionProvider issues session identifiers for callers that arrive
// without one. The identifier must be kept by the caller for the rest of
// the booking flow, since holds are grouped, converted and released by it.
type SessionProvider interface {
	NewSession() string
}

type guestSessions struct{}

// GuestSessions returns a SessionProvider that issues random guest tokens.
func GuestSessions() SessionProvider {
	return guestSessions{}
}

func (guestSessions) NewSession() string {
	return "guest_" + uuid.New().String()
}
