package events

import (
	"context"
	"time"

	kafkax "github.com/ariefcatur/evcharge-reservations/internal/kafka"
	"github.com/ariefcatur/evcharge-reservations/internal/reservations"
	"github.com/google/uuid"
	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

type Publisher interface {
	Publish(key, value []byte, headers ...kafkago.Header) bool
}

// KafkaEmitter puts status changes on the reservation topic keyed by
// resourceRef, so one resource's events keep their order.
type KafkaEmitter struct {
	Producer Publisher
	Service  string
	Log      *zap.Logger
}

func (e KafkaEmitter) Emit(_ context.Context, ev reservations.StatusChanged) {
	env := reservations.Envelope{
		EventID:       uuid.NewString(),
		EventType:     reservations.EventStatusChanged,
		EventVersion:  1,
		OccurredAt:    time.Now().UTC(),
		Producer:      e.Service,
		CorrelationID: ev.ReservationID,
		Payload:       kafkax.MustMarshal(ev),
	}
	ok := e.Producer.Publish(reservations.PartitionKey(ev.ResourceRef), kafkax.MustMarshal(env),
		kafkago.Header{Key: "x-event-type", Value: []byte(reservations.EventStatusChanged)},
		kafkago.Header{Key: "x-event-version", Value: []byte("1")},
	)
	if !ok && e.Log != nil {
		e.Log.Warn("status event not queued",
			zap.String("reservation_id", ev.ReservationID),
			zap.String("new_status", string(ev.NewStatus)),
		)
	}
}
