package cache

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/sundayezeilo/shortlink/internal/errx"
)

// Redis is a Cache backed by a go-redis client. Pool acquisition is bounded
// by the client's PoolTimeout.
type Redis struct {
	client redis.UniversalClient
}

func NewRedis(client redis.UniversalClient) *Redis {
	return &Redis{client: client}
}

func (r *Redis) Get(ctx context.Context, key string) (string, bool, error) {
	const op = "cache.redis.Get"

	val, err := r.client.Get(ctx, key).Result()
	switch {
	case errors.Is(err, redis.Nil):
		return "", false, nil
	case err != nil:
		return "", false, errx.E(op, errx.Unavailable, err)
	}
	return val, true, nil
}

func (r *Redis) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	const op = "cache.redis.Set"

	if err := r.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return errx.E(op, errx.Unavailable, err)
	}
	return nil
}

func (r *Redis) Delete(ctx context.Context, key string) error {
	const op = "cache.redis.Delete"

	if err := r.client.Del(ctx, key).Err(); err != nil {
		return errx.E(op, errx.Unavailable, err)
	}
	return nil
}

func (r *Redis) Ping(ctx context.Context) error {
	const op = "cache.redis.Ping"
	return errx.E(op, errx.Unavailable, r.client.Ping(ctx).Err())
}
