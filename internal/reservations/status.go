package reservations

type Status string

const (
	StatusPending    Status = "pending"
	StatusConfirmed  Status = "confirmed"
	StatusInProgress Status = "in-progress"
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
	StatusNoShow     Status = "no-show"

	// rental vocabulary
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
	StatusActive   Status = "active"
)

// Kind selects which transition table governs a reservation.
type Kind string

const (
	KindBooking Kind = "booking"
	KindRental  Kind = "rental"
)

// Machine is a finite-state controller over a transition table. Both
// reservation kinds go through the same Machine code; only the table differs.
type Machine struct {
	next     map[Status]map[Status]bool
	blocking map[Status]bool
}

func newMachine(next map[Status][]Status, blocking ...Status) Machine {
	m := Machine{next: map[Status]map[Status]bool{}, blocking: map[Status]bool{}}
	for from, tos := range next {
		m.next[from] = map[Status]bool{}
		for _, to := range tos {
			m.next[from][to] = true
		}
	}
	for _, s := range blocking {
		m.blocking[s] = true
	}
	return m
}

var bookingMachine = newMachine(map[Status][]Status{
	StatusPending:    {StatusConfirmed, StatusCancelled},
	StatusConfirmed:  {StatusInProgress, StatusCancelled, StatusNoShow},
	StatusInProgress: {StatusCompleted, StatusCancelled},
	StatusCompleted:  {},
	StatusCancelled:  {},
	StatusNoShow:     {},
}, StatusConfirmed, StatusInProgress)

var rentalMachine = newMachine(map[Status][]Status{
	StatusPending:   {StatusApproved, StatusRejected},
	StatusApproved:  {StatusActive, StatusCancelled},
	StatusActive:    {StatusCompleted, StatusCancelled},
	StatusRejected:  {},
	StatusCompleted: {},
	StatusCancelled: {},
}, StatusApproved, StatusActive)

// MachineFor returns the transition table for a kind.
func MachineFor(k Kind) Machine {
	if k == KindRental {
		return rentalMachine
	}
	return bookingMachine
}

func (m Machine) Known(s Status) bool {
	_, ok := m.next[s]
	return ok
}

// CanTransition reports whether to is a direct successor of from. Self-loops
// are never listed, so they are always rejected.
func (m Machine) CanTransition(from, to Status) bool {
	return m.next[from][to]
}

func (m Machine) IsTerminal(s Status) bool {
	return len(m.next[s]) == 0
}

// Blocking reports whether reservations in s occupy their window.
func (m Machine) Blocking(s Status) bool {
	return m.blocking[s]
}

// BlockingStatuses lists the statuses that occupy a window, in a stable order.
func (m Machine) BlockingStatuses() []Status {
	if m.blocking[StatusApproved] {
		return []Status{StatusApproved, StatusActive}
	}
	return []Status{StatusConfirmed, StatusInProgress}
}
