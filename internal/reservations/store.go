package reservations

import (
	"context"
	"time"
)

// StatusChange is the status write of one transition. Only these columns
// are touched, so a concurrent payment write is never overwritten.
type StatusChange struct {
	From         Status
	To           Status
	Cancellation *Cancellation
	CompletedAt  *time.Time
	At           time.Time
	// Guard, when non-empty, re-runs the conflict check against these
	// statuses under the same lock as the write.
	Guard []Status
}

// Store persists reservations. Insert and guarded UpdateStatus must be
// atomic with their conflict check for the reservation's scope.
type Store interface {
	// Insert stores r if no reservation of the same resource with a status
	// in blocking collides with r.Window. Returns *ConflictError otherwise.
	Insert(ctx context.Context, r *Reservation, blocking []Status) error
	Get(ctx context.Context, id string) (*Reservation, error)
	// UpdateStatus is a compare-and-swap on status. ErrInvalidTransition
	// when the persisted status is no longer ch.From.
	UpdateStatus(ctx context.Context, id string, ch StatusChange) (*Reservation, error)
	// BindIntent sets the intent ref while payment is pending (or reopens a
	// failed payment when reopen is set). Returns the stored reservation.
	BindIntent(ctx context.Context, id, intentRef string, reopen bool, at time.Time) (*Reservation, error)
	// SettlePayment moves payment from pending to outcome if the intent
	// matches and the reservation is not terminal. changed=false means the
	// write was a no-op; the current row is returned either way.
	SettlePayment(ctx context.Context, id, intentRef string, outcome PaymentStatus, at time.Time) (r *Reservation, changed bool, err error)
	HasCompletedBooking(ctx context.Context, subjectRef, resourceRef string) (bool, error)
}
