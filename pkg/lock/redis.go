package lock

import (
	"context"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"
)

const keyPrefix = "autoflow:lock:"

// Redis is a Locker shared by every instance pointing at the same Redis.
type Redis struct {
	client redis.UniversalClient
	owner  string
}

// NewRedis creates a Redis-backed locker. owner identifies this instance in the stored value.
func NewRedis(client redis.UniversalClient, owner string) *Redis {
	return &Redis{client: client, owner: owner}
}

// NewRedisFromURL parses a redis:// URL and pings the server.
func NewRedisFromURL(ctx context.Context, url, owner string) (*Redis, error) {
	options, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}

	client := redis.NewClient(options)

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()

		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	return NewRedis(client, owner), nil
}

func (r *Redis) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		return false, ErrInvalidTTL
	}

	acquired, err := r.client.SetNX(ctx, keyPrefix+key, r.owner, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to acquire lock %s: %w", key, err)
	}

	return acquired, nil
}

// Close releases the redis client.
func (r *Redis) Close() error {
	return r.client.Close()
}
