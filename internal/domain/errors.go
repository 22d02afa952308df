package domain

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidParameters             = errors.New("invalid parameters")
	ErrLockTimeout                   = errors.New("lock timeout")
	ErrInsufficientCapacity          = errors.New("insufficient capacity")
	ErrInsufficientCapacityForUpdate = errors.New("insufficient capacity for update")
	ErrMaxHoldsExceeded              = errors.New("max holds exceeded")
	ErrDatabase                      = errors.New("database error")
	ErrTransactionFailed             = errors.New("transaction failed")
	ErrOccurrenceNotFound            = errors.New("occurrence not found")
	ErrHoldNotFound                  = errors.New("hold not found")
	ErrCapacityExceeded              = errors.New("booked count would exceed capacity")
	ErrBookingExists                 = errors.New("booking already exists")
	ErrInvalidCapacity               = errors.New("invalid capacity")
	ErrInvalidSchedule               = errors.New("occurrence must end after it starts")
)

// CapacityError reports a rejected hold together with what was available
// when the decision was made.
type CapacityError struct {
	Requested int
	Available int
	ForUpdate bool
}

func (e *CapacityError) Error() string {
	if e.ForUpdate {
		return fmt.Sprintf("insufficient capacity for update: requested %d, available %d", e.Requested, e.Available)
	}
	return fmt.Sprintf("insufficient capacity: requested %d, available %d", e.Requested, e.Available)
}

func (e *CapacityError) Is(target error) bool {
	if e.ForUpdate {
		return target == ErrInsufficientCapacityForUpdate
	}
	return target == ErrInsufficientCapacity
}

// InvalidParameter returns an ErrInvalidParameters naming the offending field.
func InvalidParameter(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidParameters, fmt.Sprintf(format, args...))
}

// Code maps err onto the stable error code reported to callers.
func Code(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidParameters):
		return "invalid_parameters"
	case errors.Is(err, ErrLockTimeout):
		return "lock_timeout"
	case errors.Is(err, ErrInsufficientCapacityForUpdate):
		return "insufficient_capacity_for_update"
	case errors.Is(err, ErrInsufficientCapacity):
		return "insufficient_capacity"
	case errors.Is(err, ErrMaxHoldsExceeded):
		return "max_holds_exceeded"
	case errors.Is(err, ErrOccurrenceNotFound):
		return "occurrence_not_found"
	case errors.Is(err, ErrHoldNotFound):
		return "hold_not_found"
	case errors.Is(err, ErrCapacityExceeded):
		return "capacity_exceeded"
	case errors.Is(err, ErrBookingExists):
		return "booking_exists"
	case errors.Is(err, ErrInvalidCapacity):
		return "invalid_capacity"
	case errors.Is(err, ErrInvalidSchedule):
		return "invalid_schedule"
	case errors.Is(err, ErrTransactionFailed):
		return "transaction_failed"
	case errors.Is(err, ErrDatabase):
		return "database_error"
	default:
		return "database_error"
	}
}

// Retryable reports whether the same request may succeed if sent again
// unchanged. Quota errors clear only after the caller releases holds and are
// not counted here.
func Retryable(err error) bool {
	switch Code(err) {
	case "lock_timeout", "transaction_failed", "database_error":
		return true
	}
	return false
}
