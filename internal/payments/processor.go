package payments

import (
	"context"
	"errors"
	"math"
)

var ErrInvalidSignature = errors.New("invalid webhook signature")

type IntentStatus string

const (
	IntentPending   IntentStatus = "pending"
	IntentSucceeded IntentStatus = "succeeded"
	IntentFailed    IntentStatus = "failed"
)

// Metadata keys stamped on every intent at bind time.
const (
	MetaReservationKind = "reservation_kind"
	MetaReservationID   = "reservation_id"
)

type Intent struct {
	Ref          string
	Status       IntentStatus
	ClientSecret string
	AmountMinor  int64
	Metadata     map[string]string
}

type IntentParams struct {
	AmountMinor    int64
	Currency       string
	Metadata       map[string]string
	IdempotencyKey string
}

type EventType string

const (
	EventSucceeded EventType = "succeeded"
	EventFailed    EventType = "failed"
	EventIgnored   EventType = "ignored"
)

// Event is a verified processor notification.
type Event struct {
	ID     string
	Type   EventType
	Intent Intent
}

// Processor is the external payment provider.
type Processor interface {
	CreateIntent(ctx context.Context, p IntentParams) (*Intent, error)
	RetrieveIntent(ctx context.Context, ref string) (*Intent, error)
	// ParseEvent verifies the signature header before decoding payload.
	ParseEvent(payload []byte, signature string) (*Event, error)
}

// MinorUnits converts a currency amount to cents. Processors reject zero
// charges so the result is at least 1.
func MinorUnits(amount float64) int64 {
	m := int64(math.Round(amount * 100))
	if m < 1 {
		return 1
	}
	return m
}
