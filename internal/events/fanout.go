package events

import (
	"context"

	"github.com/ariefcatur/evcharge-reservations/internal/redisx"
	"github.com/ariefcatur/evcharge-reservations/internal/reservations"
	"go.uber.org/zap"
)

// Fanout hands every event to each emitter in turn.
type Fanout []reservations.Emitter

func (f Fanout) Emit(ctx context.Context, ev reservations.StatusChanged) {
	for _, e := range f {
		e.Emit(ctx, ev)
	}
}

// CacheInvalidator drops the cached status of a reservation once it moves.
type CacheInvalidator struct {
	Cache redisx.StatusCache
	Log   *zap.Logger
}

func (c CacheInvalidator) Emit(ctx context.Context, ev reservations.StatusChanged) {
	if ev.OldStatus == "" {
		return
	}
	if err := c.Cache.Invalidate(ctx, ev.ReservationID); err != nil && c.Log != nil {
		c.Log.Warn("status cache invalidate failed",
			zap.String("reservation_id", ev.ReservationID), zap.Error(err))
	}
}
