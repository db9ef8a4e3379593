package redisx

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

func New(addr string) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})
}

// Deduper marks ids as seen with SETNX so two racing consumers agree on a
// single first delivery.
type Deduper struct {
	Redis   redis.Cmdable
	Service string
}

func (d Deduper) Seen(ctx context.Context, id string) (bool, error) {
	ok, err := d.Redis.SetNX(ctx, fmt.Sprintf(KeyDedup, d.Service, id), "1", TTLDedup).Result()
	if err != nil {
		return false, err
	}
	return !ok, nil
}

// Forget clears a mark so a failed delivery can be retried.
func (d Deduper) Forget(ctx context.Context, id string) error {
	return d.Redis.Del(ctx, fmt.Sprintf(KeyDedup, d.Service, id)).Err()
}

// Publish sends msg on a pub/sub channel.
func Publish(ctx context.Context, rdb redis.Cmdable, channel string, msg []byte) error {
	return rdb.Publish(ctx, channel, msg).Err()
}
