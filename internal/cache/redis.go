package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis stores JSON encoded values in Redis, so that every replica of a
// service sees the same entries. Expiry is enforced by Redis.
type Redis[T any] struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedis creates a Redis-backed cache. Keys are stored under prefix, and
// expire after ttl.
func NewRedis[T any](client *redis.Client, prefix string, ttl time.Duration) *Redis[T] {
	return &Redis[T]{
		client: client,
		prefix: prefix,
		ttl:    ttl,
	}
}

func (r *Redis[T]) Get(ctx context.Context, key string) (T, bool, error) {
	return r.decode(r.client.Get(ctx, r.prefix+key))
}

// Take uses GETDEL, so the read and the removal are a single command.
func (r *Redis[T]) Take(ctx context.Context, key string) (T, bool, error) {
	return r.decode(r.client.GetDel(ctx, r.prefix+key))
}

func (r *Redis[T]) decode(cmd *redis.StringCmd) (T, bool, error) {
	var zero T

	data, err := cmd.Bytes()
	if errors.Is(err, redis.Nil) {
		return zero, false, nil
	}
	if err != nil {
		return zero, false, fmt.Errorf("failed to get cached value: %w", err)
	}

	var value T
	if err := json.Unmarshal(data, &value); err != nil {
		return zero, false, fmt.Errorf("failed to unmarshal cached value: %w", err)
	}

	return value, true, nil
}

func (r *Redis[T]) Set(ctx context.Context, key string, value T) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal value: %w", err)
	}

	if err := r.client.Set(ctx, r.prefix+key, data, r.ttl).Err(); err != nil {
		return fmt.Errorf("failed to set cached value: %w", err)
	}
	return nil
}

func (r *Redis[T]) Invalidate(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, r.prefix+key).Err(); err != nil {
		return fmt.Errorf("failed to invalidate cached value: %w", err)
	}
	return nil
}

// Close closes the Redis client.
func (r *Redis[T]) Close() error {
	return r.client.Close()
}
