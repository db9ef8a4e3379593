package redisx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// CachedStatus is the read model behind GET /v1/reservations/{id}/status.
type CachedStatus struct {
	Status        string    `json:"status"`
	PaymentStatus string    `json:"payment_status"`
	UpdatedAt     time.Time `json:"updated_at"`
}

type StatusCache struct {
	Redis redis.Cmdable
}

// Get reports ok=false on a miss.
func (c StatusCache) Get(ctx context.Context, reservationID string) (CachedStatus, bool, error) {
	var cs CachedStatus
	b, err := c.Redis.Get(ctx, fmt.Sprintf(KeyReservationStatus, reservationID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return cs, false, nil
	}
	if err != nil {
		return cs, false, err
	}
	if err := json.Unmarshal(b, &cs); err != nil {
		return cs, false, err
	}
	return cs, true, nil
}

func (c StatusCache) Put(ctx context.Context, reservationID string, cs CachedStatus) error {
	b, err := json.Marshal(cs)
	if err != nil {
		return err
	}
	return c.Redis.Set(ctx, fmt.Sprintf(KeyReservationStatus, reservationID), b, TTLStatusCache).Err()
}

func (c StatusCache) Invalidate(ctx context.Context, reservationID string) error {
	return c.Redis.Del(ctx, fmt.Sprintf(KeyReservationStatus, reservationID)).Err()
}
