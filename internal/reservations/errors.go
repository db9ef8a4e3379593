package reservations

import (
	"errors"
	"fmt"
)

var (
	ErrSlotConflict              = errors.New("slot conflict")
	ErrSlotNotFound              = errors.New("slot not found")
	ErrChargerNotFound           = errors.New("charger not found")
	ErrInvalidTransition         = errors.New("invalid transition")
	ErrUnauthorized              = errors.New("unauthorized")
	ErrCancellationWindowExpired = errors.New("cancellation window expired")
	ErrPaymentNotCompleted       = errors.New("payment not completed")
	ErrProcessorUnavailable      = errors.New("external processor unavailable")
	ErrNotFound                  = errors.New("not found")

	// request validation
	ErrInvalidWindow       = errors.New("invalid window")
	ErrStartInPast         = errors.New("window starts in the past")
	ErrResourceUnavailable = errors.New("resource unavailable")
	ErrUnknownCategory     = errors.New("unknown unit category")
)

// ConflictError names the reservation that already holds the window.
type ConflictError struct {
	ReservationID string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("slot conflict with reservation %s", e.ReservationID)
}

func (e *ConflictError) Is(target error) bool { return target == ErrSlotConflict }

// ErrIntentMismatch marks a completion signal for an intent that is not the
// one bound to the reservation.
var ErrIntentMismatch = errors.New("payment intent does not match reservation")
