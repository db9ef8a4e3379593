package reservations

import (
	"context"
	"encoding/json"
	"time"
)

const EventStatusChanged = "ReservationStatusChanged"

// StatusChanged is emitted after every committed transition.
type StatusChanged struct {
	ReservationID string    `json:"reservation_id"`
	Kind          Kind      `json:"kind"`
	ResourceRef   string    `json:"resource_ref"`
	OldStatus     Status    `json:"old_status"`
	NewStatus     Status    `json:"new_status"`
	At            time.Time `json:"at"`
}

// Emitter delivers domain events best-effort. Implementations must not block
// the caller and must not report delivery failures back into the engine.
type Emitter interface {
	Emit(ctx context.Context, ev StatusChanged)
}

type nopEmitter struct{}

func (nopEmitter) Emit(context.Context, StatusChanged) {}

// Envelope wraps every event put on the wire.
type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	EventVersion  int             `json:"event_version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Producer      string          `json:"producer"`
	CorrelationID string          `json:"correlation_id,omitempty"` // reservation id
	Payload       json.RawMessage `json:"payload"`
}
