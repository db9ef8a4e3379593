package reservations

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps reservations in process. One mutex serializes every
// check-then-write, which is the in-process form of the per-scope lock the
// Postgres store takes.
type MemoryStore struct {
	mu   sync.Mutex
	byID map[string]*Reservation
	// insertion order, for deterministic conflict reporting
	order []string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byID: map[string]*Reservation{}}
}

func (s *MemoryStore) conflict(r *Reservation, blocking []Status) string {
	if len(blocking) == 0 {
		return ""
	}
	set := make(map[Status]bool, len(blocking))
	for _, b := range blocking {
		set[b] = true
	}
	for _, id := range s.order {
		o := s.byID[id]
		if o.ID == r.ID || o.ResourceRef != r.ResourceRef || o.Kind != r.Kind || !set[o.Status] {
			continue
		}
		if o.Window.Collides(r.Window) {
			return o.ID
		}
	}
	return ""
}

func (s *MemoryStore) Insert(_ context.Context, r *Reservation, blocking []Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id := s.conflict(r, blocking); id != "" {
		return &ConflictError{ReservationID: id}
	}
	s.byID[r.ID] = r.Clone()
	s.order = append(s.order, r.ID)
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	return r.Clone(), nil
}

func (s *MemoryStore) UpdateStatus(_ context.Context, id string, ch StatusChange) (*Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	if r.Status != ch.From {
		return nil, ErrInvalidTransition
	}
	if id := s.conflict(r, ch.Guard); id != "" {
		return nil, &ConflictError{ReservationID: id}
	}
	r.Status = ch.To
	if ch.Cancellation != nil {
		c := *ch.Cancellation
		r.Cancellation = &c
	}
	if ch.CompletedAt != nil {
		t := *ch.CompletedAt
		r.CompletedAt = &t
	}
	r.UpdatedAt = ch.At
	return r.Clone(), nil
}

func (s *MemoryStore) BindIntent(_ context.Context, id, intentRef string, reopen bool, at time.Time) (*Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	if r.Terminal() {
		return nil, ErrInvalidTransition
	}
	switch {
	case r.PaymentStatus == PaymentPending:
	case r.PaymentStatus == PaymentFailed && reopen:
		r.PaymentStatus = PaymentPending
	default:
		return nil, ErrInvalidTransition
	}
	r.PaymentIntentRef = intentRef
	r.UpdatedAt = at
	return r.Clone(), nil
}

func (s *MemoryStore) SettlePayment(_ context.Context, id, intentRef string, outcome PaymentStatus, at time.Time) (*Reservation, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.byID[id]
	if !ok {
		return nil, false, ErrNotFound
	}
	if r.PaymentIntentRef != intentRef {
		return r.Clone(), false, ErrIntentMismatch
	}
	if r.PaymentStatus != PaymentPending || r.Terminal() {
		return r.Clone(), false, nil
	}
	r.PaymentStatus = outcome
	r.UpdatedAt = at
	return r.Clone(), true, nil
}

func (s *MemoryStore) HasCompletedBooking(_ context.Context, subjectRef, resourceRef string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.byID {
		if r.Kind == KindBooking && r.SubjectRef == subjectRef && r.ResourceRef == resourceRef && r.Status == StatusCompleted {
			return true, nil
		}
	}
	return false, nil
}
