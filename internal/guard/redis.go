package guard

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "linegw:replied:"

// Redis is the shared guard for multi-instance deployments. SET NX PX gives
// the atomic conditional write: exactly one gateway instance acquires the
// marker for an event ID.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedis connects to Redis and verifies the connection.
func NewRedis(url string, ttl time.Duration) (*Redis, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Redis{client: client, ttl: ttl}, nil
}

// Acquire returns true if this caller set the marker, false if any instance
// already holds it.
func (r *Redis) Acquire(ctx context.Context, eventID string) (bool, error) {
	ok, err := r.client.SetNX(ctx, redisKeyPrefix+eventID, "handled", r.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("guard setnx: %w", err)
	}
	return ok, nil
}

// Close closes the underlying Redis client.
func (r *Redis) Close() error {
	if r.client == nil {
		return nil
	}
	return r.client.Close()
}
