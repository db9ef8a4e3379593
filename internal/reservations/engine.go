package reservations

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ariefcatur/evcharge-reservations/internal/catalog"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Actor is the acting party as resolved by the auth layer.
type Actor struct {
	ID    string
	Admin bool
}

type Policy struct {
	// MinCancelLead is how long before window start a subject may still
	// cancel on their own.
	MinCancelLead    time.Duration
	DefaultUnitPrice float64
	SlotLocation     *time.Location
}

func DefaultPolicy() Policy {
	return Policy{MinCancelLead: time.Hour, DefaultUnitPrice: 10}
}

// Engine admits reservations and drives their lifecycle.
type Engine struct {
	Store     Store
	Directory catalog.Directory
	Events    Emitter
	Clock     Clock
	Policy    Policy
	Log       *zap.Logger
}

// Now reads the engine clock in UTC.
func (e *Engine) Now() time.Time { return e.now() }

func (e *Engine) now() time.Time {
	if e.Clock == nil {
		return SystemClock.Now()
	}
	return e.Clock.Now().UTC()
}

func (e *Engine) emitter() Emitter {
	if e.Events == nil {
		return nopEmitter{}
	}
	return e.Events
}

func (e *Engine) log() *zap.Logger {
	if e.Log == nil {
		return zap.NewNop()
	}
	return e.Log
}

type IntervalRequest struct {
	StationID string    `json:"station_id"`
	Start     time.Time `json:"start"`
	End       time.Time `json:"end"`
	// AllowPast lets an administrator re-enter a booking that already started.
	AllowPast bool `json:"allow_past,omitempty"`
}

// ReserveInterval prices and admits a continuous booking in pending.
func (e *Engine) ReserveInterval(ctx context.Context, actor Actor, req IntervalRequest) (*Reservation, error) {
	if !req.Start.Before(req.End) {
		return nil, ErrInvalidWindow
	}
	if req.AllowPast && !actor.Admin {
		return nil, ErrUnauthorized
	}
	now := e.now()
	if !req.AllowPast && req.Start.Before(now) {
		return nil, ErrStartInPast
	}
	st, err := e.station(ctx, req.StationID)
	if err != nil {
		return nil, err
	}

	r := e.draft(KindBooking, actor.ID, st.ID, StatusPending, now)
	r.Window = Window{Start: req.Start.UTC(), End: req.End.UTC()}
	r.Amount = BookingAmount(req.Start, req.End, st.PowerKW, st.PricePerKWh)

	resolver := IntervalResolver{Store: e.Store}
	if err := resolver.CheckAndReserve(ctx, r, bookingMachine.BlockingStatuses()); err != nil {
		return nil, err
	}
	e.created(ctx, r)
	return r, nil
}

// ReserveSlot admits a slot booking directly in confirmed: a published
// catalogue slot counts as pre-approved.
func (e *Engine) ReserveSlot(ctx context.Context, actor Actor, req SlotRequest) (*Reservation, error) {
	st, err := e.station(ctx, req.StationID)
	if err != nil {
		return nil, err
	}
	now := e.now()
	r := e.draft(KindBooking, actor.ID, st.ID, StatusConfirmed, now)

	resolver := SlotResolver{
		Store:            e.Store,
		DefaultUnitPrice: e.Policy.DefaultUnitPrice,
		Location:         e.Policy.SlotLocation,
	}
	w, _, err := resolver.Resolve(st, req)
	if err != nil {
		return nil, err
	}
	if w.Start.Before(now) {
		return nil, ErrStartInPast
	}
	if _, err := resolver.CheckAndReserve(ctx, st, r, req); err != nil {
		return nil, err
	}
	e.created(ctx, r)
	return r, nil
}

type RentalRequest struct {
	UnitID    string    `json:"unit_id"`
	StartDate time.Time `json:"start_date"`
	EndDate   time.Time `json:"end_date"`
}

// RequestRental prices a multi-day rental and admits it in pending.
func (e *Engine) RequestRental(ctx context.Context, actor Actor, req RentalRequest) (*Reservation, error) {
	start, end := DayOf(req.StartDate), DayOf(req.EndDate)
	if !start.Before(end) {
		return nil, ErrInvalidWindow
	}
	now := e.now()
	if start.Before(DayOf(now)) {
		return nil, ErrStartInPast
	}
	u, err := e.Directory.RentalUnit(ctx, req.UnitID)
	if errors.Is(err, catalog.ErrUnitNotFound) {
		return nil, fmt.Errorf("%w: rental unit %s", ErrNotFound, req.UnitID)
	}
	if err != nil {
		return nil, err
	}
	if !u.Available {
		return nil, ErrResourceUnavailable
	}
	q, err := RentalAmount(u.Category, start, end)
	if err != nil {
		return nil, err
	}

	r := e.draft(KindRental, actor.ID, u.ID, StatusPending, now)
	r.Window = Window{Start: start, End: end}
	r.Amount = q.TotalAmount
	r.Deposit = q.Deposit

	resolver := IntervalResolver{Store: e.Store}
	if err := resolver.CheckAndReserve(ctx, r, rentalMachine.BlockingStatuses()); err != nil {
		return nil, err
	}
	e.created(ctx, r)
	return r, nil
}

func (e *Engine) Get(ctx context.Context, id string) (*Reservation, error) {
	return e.Store.Get(ctx, id)
}

// HasCompletedBooking is the precondition the rating layer checks before
// accepting a review.
func (e *Engine) HasCompletedBooking(ctx context.Context, subjectRef, stationID string) (bool, error) {
	return e.Store.HasCompletedBooking(ctx, subjectRef, stationID)
}

func (e *Engine) station(ctx context.Context, id string) (*catalog.Station, error) {
	st, err := e.Directory.Station(ctx, id)
	if errors.Is(err, catalog.ErrStationNotFound) {
		return nil, fmt.Errorf("%w: station %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	if !st.Available {
		return nil, ErrResourceUnavailable
	}
	return st, nil
}

func (e *Engine) draft(kind Kind, subject, resource string, status Status, now time.Time) *Reservation {
	return &Reservation{
		ID:            uuid.NewString(),
		Kind:          kind,
		SubjectRef:    subject,
		ResourceRef:   resource,
		Status:        status,
		PaymentStatus: PaymentPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

func (e *Engine) created(ctx context.Context, r *Reservation) {
	e.log().Info("reservation created",
		zap.String("reservation_id", r.ID),
		zap.String("kind", string(r.Kind)),
		zap.String("resource_ref", r.ResourceRef),
		zap.String("status", string(r.Status)),
		zap.Float64("amount", r.Amount),
	)
	e.emitter().Emit(ctx, StatusChanged{
		ReservationID: r.ID,
		Kind:          r.Kind,
		ResourceRef:   r.ResourceRef,
		NewStatus:     r.Status,
		At:            r.CreatedAt,
	})
}
