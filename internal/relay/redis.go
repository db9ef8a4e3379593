package relay

import (
	"context"

	"github.com/ariefcatur/evcharge-reservations/internal/redisx"
	"github.com/redis/go-redis/v9"
)

type RedisBroadcaster struct{ Redis redis.Cmdable }

func (b RedisBroadcaster) Broadcast(ctx context.Context, channel string, msg []byte) error {
	return redisx.Publish(ctx, b.Redis, channel, msg)
}
