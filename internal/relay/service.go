package relay

import (
	"context"
	"encoding/json"

	kafkax "github.com/ariefcatur/evcharge-reservations/internal/kafka"
	"github.com/ariefcatur/evcharge-reservations/internal/redisx"
	"github.com/ariefcatur/evcharge-reservations/internal/reservations"
	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

type Deduper interface {
	Seen(ctx context.Context, id string) (bool, error)
	Forget(ctx context.Context, id string) error
}

type Broadcaster interface {
	Broadcast(ctx context.Context, channel string, msg []byte) error
}

// Service fans reservation status events out to one channel per resource.
type Service struct {
	Dedup         Deduper
	Out           Broadcaster
	ChannelPrefix string
	Log           *zap.Logger
}

// Message is what subscribers of a resource channel receive.
type Message struct {
	EventID string `json:"event_id"`
	reservations.StatusChanged
}

// HandleStatusChanged is installed as the consumer handler.
func (s *Service) HandleStatusChanged(ctx context.Context, m kafkago.Message) error {
	var env reservations.Envelope
	if err := json.Unmarshal(m.Value, &env); err != nil {
		// poison message, commit and move on
		s.Log.Warn("relay: undecodable envelope", zap.Error(err))
		return nil
	}
	if env.EventType != reservations.EventStatusChanged {
		return nil
	}

	seen, err := s.Dedup.Seen(ctx, env.EventID)
	if err != nil {
		return err
	}
	if seen {
		return nil
	}

	ev, err := kafkax.UnwrapPayload[reservations.StatusChanged](env.Payload)
	if err != nil {
		s.Log.Warn("relay: bad payload", zap.String("event_id", env.EventID), zap.Error(err))
		return nil
	}
	prefix := s.ChannelPrefix
	if prefix == "" {
		prefix = redisx.ChannelResourcePrefix
	}
	channel := prefix + ev.ResourceRef
	if err := s.Out.Broadcast(ctx, channel, kafkax.MustMarshal(Message{EventID: env.EventID, StatusChanged: ev})); err != nil {
		if ferr := s.Dedup.Forget(ctx, env.EventID); ferr != nil {
			s.Log.Warn("relay: dedup forget failed", zap.String("event_id", env.EventID), zap.Error(ferr))
		}
		return err
	}
	s.Log.Debug("relayed",
		zap.String("event_id", env.EventID),
		zap.String("channel", channel),
		zap.String("new_status", string(ev.NewStatus)),
	)
	return nil
}
