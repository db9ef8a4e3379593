package payments

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ariefcatur/evcharge-reservations/internal/reservations"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Deduper remembers processed webhook event ids. A false negative only costs
// a redundant, idempotent reconciliation.
type Deduper interface {
	Seen(ctx context.Context, eventID string) (bool, error)
	// Forget clears the mark of an event whose apply failed, so the
	// processor's redelivery is applied.
	Forget(ctx context.Context, eventID string) error
}

// StatusInvalidator drops a cached reservation status. Payment-only writes
// emit no status event, so the coordinator invalidates them itself.
type StatusInvalidator interface {
	Invalidate(ctx context.Context, reservationID string) error
}

// Coordinator ties reservations to processor intents and applies payment
// outcomes from both the client confirm call and the webhook.
type Coordinator struct {
	Engine    *reservations.Engine
	Processor Processor
	Currency  string
	// Timeout bounds every processor call.
	Timeout time.Duration
	Dedup   Deduper
	Cache   StatusInvalidator
	Log     *zap.Logger

	confirms singleflight.Group
}

type Binding struct {
	ReservationID string  `json:"reservation_id"`
	IntentRef     string  `json:"intent_ref"`
	ClientSecret  string  `json:"client_secret,omitempty"`
	Amount        float64 `json:"amount"`
	AmountMinor   int64   `json:"amount_minor"`
	PaymentStatus string  `json:"payment_status"`
}

func (c *Coordinator) log() *zap.Logger {
	if c.Log == nil {
		return zap.NewNop()
	}
	return c.Log
}

func (c *Coordinator) invalidate(ctx context.Context, id string) {
	if c.Cache == nil {
		return
	}
	if err := c.Cache.Invalidate(ctx, id); err != nil {
		c.log().Warn("status cache invalidate failed", zap.String("reservation_id", id), zap.Error(err))
	}
}

func (c *Coordinator) callCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	t := c.Timeout
	if t <= 0 {
		t = 10 * time.Second
	}
	return context.WithTimeout(ctx, t)
}

func (c *Coordinator) currency() string {
	if c.Currency == "" {
		return "usd"
	}
	return c.Currency
}

// BindIntent creates or reuses the processor intent for a reservation. The
// intent ref is stored only after the processor call returned.
func (c *Coordinator) BindIntent(ctx context.Context, id string, actor reservations.Actor) (*Binding, error) {
	r, err := c.Engine.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !actor.Admin && actor.ID != r.SubjectRef {
		return nil, reservations.ErrUnauthorized
	}
	b := &Binding{
		ReservationID: r.ID,
		IntentRef:     r.PaymentIntentRef,
		Amount:        r.Amount,
		AmountMinor:   MinorUnits(r.Amount),
		PaymentStatus: string(r.PaymentStatus),
	}
	if r.PaymentStatus == reservations.PaymentPaid {
		return b, nil
	}
	if r.Terminal() {
		return nil, reservations.ErrInvalidTransition
	}

	var intent *Intent
	if r.PaymentIntentRef != "" {
		intent, err = c.retrieve(ctx, r.PaymentIntentRef)
	} else {
		intent, err = c.create(ctx, r, b.AmountMinor)
	}
	if err != nil {
		return nil, err
	}

	reopen := r.PaymentStatus == reservations.PaymentFailed
	updated, err := c.Engine.Store.BindIntent(ctx, r.ID, intent.Ref, reopen, c.Engine.Now())
	if err != nil {
		return nil, err
	}
	c.invalidate(ctx, r.ID)
	c.log().Info("payment intent bound",
		zap.String("reservation_id", r.ID),
		zap.String("intent_ref", intent.Ref),
		zap.Int64("amount_minor", b.AmountMinor),
		zap.Bool("reopened", reopen),
	)
	b.IntentRef = intent.Ref
	b.ClientSecret = intent.ClientSecret
	b.PaymentStatus = string(updated.PaymentStatus)
	return b, nil
}

func (c *Coordinator) create(ctx context.Context, r *reservations.Reservation, minor int64) (*Intent, error) {
	cctx, cancel := c.callCtx(ctx)
	defer cancel()
	intent, err := c.Processor.CreateIntent(cctx, IntentParams{
		AmountMinor: minor,
		Currency:    c.currency(),
		Metadata: map[string]string{
			MetaReservationKind: string(r.Kind),
			MetaReservationID:   r.ID,
		},
		IdempotencyKey: "bind-" + r.ID,
	})
	return intent, unavailable(err)
}

func (c *Coordinator) retrieve(ctx context.Context, ref string) (*Intent, error) {
	cctx, cancel := c.callCtx(ctx)
	defer cancel()
	intent, err := c.Processor.RetrieveIntent(cctx, ref)
	return intent, unavailable(err)
}

// ConfirmByClient checks the intent with the processor and applies a
// success. Concurrent confirms for one intent share a single round trip.
func (c *Coordinator) ConfirmByClient(ctx context.Context, intentRef string) (*reservations.Reservation, error) {
	v, err, _ := c.confirms.Do(intentRef, func() (any, error) {
		intent, err := c.retrieve(ctx, intentRef)
		if err != nil {
			return nil, err
		}
		if intent.Status != IntentSucceeded {
			return nil, reservations.ErrPaymentNotCompleted
		}
		id := intent.Metadata[MetaReservationID]
		if id == "" {
			return nil, fmt.Errorf("%w: intent %s carries no reservation", reservations.ErrNotFound, intentRef)
		}
		return c.applyOutcome(ctx, id, intentRef, reservations.PaymentPaid)
	})
	if err != nil {
		return nil, err
	}
	return v.(*reservations.Reservation).Clone(), nil
}

// ReconcileFromWebhook verifies and applies a processor notification.
// Only a bad signature is reported back; events that cannot be matched to a
// reservation are logged and dropped.
func (c *Coordinator) ReconcileFromWebhook(ctx context.Context, payload []byte, signature string) error {
	ev, err := c.Processor.ParseEvent(payload, signature)
	if err != nil {
		c.log().Warn("webhook rejected", zap.Error(err))
		return err
	}
	if ev.Type == EventIgnored {
		return nil
	}
	marked := false
	if c.Dedup != nil && ev.ID != "" {
		seen, err := c.Dedup.Seen(ctx, ev.ID)
		switch {
		case err != nil:
			c.log().Warn("webhook dedup unavailable", zap.String("event_id", ev.ID), zap.Error(err))
		case seen:
			c.log().Debug("webhook duplicate skipped", zap.String("event_id", ev.ID))
			return nil
		default:
			marked = true
		}
	}

	id := ev.Intent.Metadata[MetaReservationID]
	if id == "" {
		c.log().Warn("webhook without reservation metadata", zap.String("intent_ref", ev.Intent.Ref))
		return nil
	}
	outcome := reservations.PaymentPaid
	if ev.Type == EventFailed {
		outcome = reservations.PaymentFailed
	}
	_, err = c.applyOutcome(ctx, id, ev.Intent.Ref, outcome)
	switch {
	case errors.Is(err, reservations.ErrNotFound), errors.Is(err, reservations.ErrIntentMismatch):
		c.log().Warn("webhook dropped",
			zap.String("event_id", ev.ID),
			zap.String("reservation_id", id),
			zap.String("intent_ref", ev.Intent.Ref),
			zap.Error(err),
		)
		return nil
	case err != nil:
		if marked {
			if ferr := c.Dedup.Forget(ctx, ev.ID); ferr != nil {
				c.log().Warn("webhook dedup forget failed", zap.String("event_id", ev.ID), zap.Error(ferr))
			}
		}
		return err
	}
	return nil
}

// applyOutcome is the single reconciliation write used by both signal paths.
// A paid pending booking is promoted to confirmed even when the payment
// write itself was a no-op, so a crash between the two steps heals on the
// next delivery.
func (c *Coordinator) applyOutcome(ctx context.Context, id, intentRef string, outcome reservations.PaymentStatus) (*reservations.Reservation, error) {
	r, changed, err := c.Engine.Store.SettlePayment(ctx, id, intentRef, outcome, c.Engine.Now())
	if err != nil {
		return nil, err
	}
	if !changed {
		c.log().Debug("payment signal already applied",
			zap.String("reservation_id", id),
			zap.String("payment_status", string(r.PaymentStatus)),
			zap.String("status", string(r.Status)),
		)
	} else {
		c.invalidate(ctx, id)
		c.log().Info("payment settled",
			zap.String("reservation_id", id),
			zap.String("intent_ref", intentRef),
			zap.String("payment_status", string(r.PaymentStatus)),
		)
	}
	if r.PaymentStatus != reservations.PaymentPaid {
		return r, nil
	}

	confirmed, err := c.Engine.ConfirmFromPayment(ctx, r)
	switch {
	case errors.Is(err, reservations.ErrSlotConflict):
		c.log().Warn("paid booking collides with a confirmed one, left pending",
			zap.String("reservation_id", id), zap.Error(err))
		return r, nil
	case errors.Is(err, reservations.ErrInvalidTransition):
		// the other signal path confirmed it first
		return c.Engine.Get(ctx, id)
	case err != nil:
		return nil, err
	}
	return confirmed, nil
}

func unavailable(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, reservations.ErrProcessorUnavailable) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", reservations.ErrProcessorUnavailable, err)
	}
	return err
}
