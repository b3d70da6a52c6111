package cache

import (
	"context"
	"crypto/tls"
	"fmt"

	"github.com/chinmina/ghapp/internal/config"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// NewFromConfig creates a cache implementation based on the provided configuration.
//
// The cache type must be either "memory" or "redis". Any other value returns
// an error. For "redis", the server is pinged so that a misconfiguration is
// reported at startup rather than on the first request.
func NewFromConfig[T any](ctx context.Context, cacheConfig config.CacheConfig) (Cache[T], error) {
	switch cacheConfig.Type {
	case "redis":
		log.Info().
			Str("cache_type", "redis").
			Str("address", cacheConfig.Redis.Address).
			Bool("tls", cacheConfig.Redis.TLS).
			Msg("initializing distributed cache")

		if cacheConfig.Redis.Address == "" {
			return nil, fmt.Errorf("redis address is required when cache type is redis")
		}

		opts := &redis.Options{
			Addr:     cacheConfig.Redis.Address,
			Username: cacheConfig.Redis.Username,
			Password: cacheConfig.Redis.Password,
			DB:       cacheConfig.Redis.DB,
		}
		if cacheConfig.Redis.TLS {
			opts.TLSConfig = &tls.Config{
				MinVersion: tls.VersionTLS12,
			}
		}

		client := redis.NewClient(opts)
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}

		distributed := NewRedis[T](client, cacheConfig.Redis.KeyPrefix, cacheConfig.StateTTL)
		return NewInstrumented(distributed, "redis"), nil

	case "memory":
		log.Info().
			Str("cache_type", "memory").
			Msg("initializing in-memory cache")

		memory, err := NewMemory[T](cacheConfig.StateTTL, cacheConfig.MaxMemoryEntries)
		if err != nil {
			return nil, fmt.Errorf("failed to create memory cache: %w", err)
		}

		return NewInstrumented(memory, "memory"), nil

	default:
		return nil, fmt.Errorf("invalid cache type %q: must be either \"memory\" or \"redis\"", cacheConfig.Type)
	}
}
