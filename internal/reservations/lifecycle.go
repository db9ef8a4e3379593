package reservations

import (
	"context"
	"errors"

	"github.com/ariefcatur/evcharge-reservations/internal/catalog"
	"go.uber.org/zap"
)

type TransitionData struct {
	Reason string `json:"reason,omitempty"`
}

// Transition moves a reservation to target on behalf of actor.
//
// Checks run in this order: the edge must exist in the kind's table (so a
// terminal reservation rejects everything regardless of actor), the actor
// must be the subject, the resource owner or an administrator, and a
// subject acting alone may only cancel a reservation that has not started,
// and only before the lead time.
func (e *Engine) Transition(ctx context.Context, id string, target Status, actor Actor, aux TransitionData) (*Reservation, error) {
	r, err := e.Store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !r.Machine().CanTransition(r.Status, target) {
		return nil, ErrInvalidTransition
	}
	if err := e.authorize(ctx, r, target, actor); err != nil {
		return nil, err
	}
	return e.apply(ctx, r, target, aux)
}

// ConfirmFromPayment promotes a paid pending booking to confirmed. It is the
// payment path's system transition and skips the actor check.
func (e *Engine) ConfirmFromPayment(ctx context.Context, r *Reservation) (*Reservation, error) {
	if r.Kind != KindBooking || r.Status != StatusPending {
		return r, nil
	}
	return e.apply(ctx, r, StatusConfirmed, TransitionData{})
}

func (e *Engine) authorize(ctx context.Context, r *Reservation, target Status, actor Actor) error {
	if actor.Admin {
		return nil
	}
	owner, err := e.ownerOf(ctx, r)
	if err != nil {
		return err
	}
	if actor.ID != "" && actor.ID == owner {
		return nil
	}
	if actor.ID == "" || actor.ID != r.SubjectRef || target != StatusCancelled {
		return ErrUnauthorized
	}
	// once the window is running only the owner or an admin can end it
	if !beforeStart(r.Status) {
		return ErrUnauthorized
	}
	lead := e.Policy.MinCancelLead
	if r.Window.Start.Sub(e.now()) < lead {
		return ErrCancellationWindowExpired
	}
	return nil
}

func beforeStart(s Status) bool {
	return s == StatusPending || s == StatusConfirmed || s == StatusApproved
}

func (e *Engine) ownerOf(ctx context.Context, r *Reservation) (string, error) {
	if r.Kind == KindRental {
		u, err := e.Directory.RentalUnit(ctx, r.ResourceRef)
		if errors.Is(err, catalog.ErrUnitNotFound) {
			return "", nil
		}
		if err != nil {
			return "", err
		}
		return u.OwnerRef, nil
	}
	st, err := e.Directory.Station(ctx, r.ResourceRef)
	if errors.Is(err, catalog.ErrStationNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return st.OwnerRef, nil
}

// apply writes the transition as a compare-and-swap against r.Status. A
// promotion into a blocking status re-checks conflicts in the same write.
func (e *Engine) apply(ctx context.Context, r *Reservation, target Status, aux TransitionData) (*Reservation, error) {
	m := r.Machine()
	now := e.now()
	ch := StatusChange{From: r.Status, To: target, At: now}
	switch target {
	case StatusCancelled:
		ch.Cancellation = &Cancellation{Reason: aux.Reason, At: now}
	case StatusCompleted:
		ch.CompletedAt = &now
	}
	if m.Blocking(target) && !m.Blocking(r.Status) {
		ch.Guard = m.BlockingStatuses()
	}

	updated, err := e.Store.UpdateStatus(ctx, r.ID, ch)
	if err != nil {
		return nil, err
	}
	e.log().Info("reservation transitioned",
		zap.String("reservation_id", r.ID),
		zap.String("from", string(r.Status)),
		zap.String("to", string(target)),
	)
	e.emitter().Emit(ctx, StatusChanged{
		ReservationID: updated.ID,
		Kind:          updated.Kind,
		ResourceRef:   updated.ResourceRef,
		OldStatus:     r.Status,
		NewStatus:     updated.Status,
		At:            now,
	})
	return updated, nil
}
