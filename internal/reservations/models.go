package reservations

import "time"

type PaymentStatus string

const (
	PaymentPending  PaymentStatus = "pending"
	PaymentPaid     PaymentStatus = "paid"
	PaymentFailed   PaymentStatus = "failed"
	PaymentRefunded PaymentStatus = "refunded"
)

func (p PaymentStatus) Terminal() bool { return p != PaymentPending }

// Window is the time span a reservation occupies. Every reservation carries
// Start/End (half-open). Slot bookings additionally carry Slot, and conflict
// by slot identity instead of by interval overlap.
type Window struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
	Slot  *SlotRef  `json:"slot,omitempty"`
}

// SlotRef identifies one discrete slot of one charger.
type SlotRef struct {
	ChargerID  string    `json:"charger_id"`
	Date       time.Time `json:"date"` // midnight UTC of the calendar day
	StartLabel string    `json:"start_label"`
	EndLabel   string    `json:"end_label"`
}

// Overlaps uses half-open intervals: [a,b) and [c,d) intersect iff a<d && c<b.
func (w Window) Overlaps(o Window) bool {
	return w.Start.Before(o.End) && o.Start.Before(w.End)
}

// SameSlot compares slot identity; dates compare by calendar day.
func (w Window) SameSlot(o Window) bool {
	if w.Slot == nil || o.Slot == nil {
		return false
	}
	return w.Slot.ChargerID == o.Slot.ChargerID &&
		SameDay(w.Slot.Date, o.Slot.Date) &&
		w.Slot.StartLabel == o.Slot.StartLabel
}

// Collides is the conflict predicate used by both resolvers. Slot windows
// only collide with slot windows; interval/range windows with each other.
func (w Window) Collides(o Window) bool {
	if w.Slot != nil || o.Slot != nil {
		return w.SameSlot(o)
	}
	return w.Overlaps(o)
}

type Cancellation struct {
	Reason string    `json:"reason,omitempty"`
	At     time.Time `json:"at"`
}

// Reservation generalizes interval bookings, slot bookings and rentals.
type Reservation struct {
	ID               string        `json:"id"`
	Kind             Kind          `json:"kind"`
	SubjectRef       string        `json:"subject_ref"`
	ResourceRef      string        `json:"resource_ref"`
	Window           Window        `json:"window"`
	Amount           float64       `json:"amount"`
	Deposit          float64       `json:"deposit,omitempty"`
	Status           Status        `json:"status"`
	PaymentStatus    PaymentStatus `json:"payment_status"`
	PaymentIntentRef string        `json:"payment_intent_ref,omitempty"`
	Cancellation     *Cancellation `json:"cancellation,omitempty"`
	CompletedAt      *time.Time    `json:"completed_at,omitempty"`
	CreatedAt        time.Time     `json:"created_at"`
	UpdatedAt        time.Time     `json:"updated_at"`
}

func (r *Reservation) Machine() Machine { return MachineFor(r.Kind) }

func (r *Reservation) Terminal() bool { return r.Machine().IsTerminal(r.Status) }

// Clone returns a deep copy so stores never hand out shared pointers.
func (r *Reservation) Clone() *Reservation {
	cp := *r
	if r.Window.Slot != nil {
		s := *r.Window.Slot
		cp.Window.Slot = &s
	}
	if r.Cancellation != nil {
		c := *r.Cancellation
		cp.Cancellation = &c
	}
	if r.CompletedAt != nil {
		t := *r.CompletedAt
		cp.CompletedAt = &t
	}
	return &cp
}

// DayOf truncates t to midnight UTC of its calendar day.
func DayOf(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func SameDay(a, b time.Time) bool { return DayOf(a).Equal(DayOf(b)) }
