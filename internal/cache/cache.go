// Package cache stores short-lived values, such as OAuth authorization state,
// that must survive between requests. Entries expire after a fixed TTL.
package cache

import (
	"context"
)

// Cache defines the interface for cache implementations. The generic type T
// is the type of the cached values: implementations that leave the process
// store T as JSON.
type Cache[T any] interface {
	// Get retrieves a value from the cache.
	// Returns the value, whether it was found, and any error.
	Get(ctx context.Context, key string) (T, bool, error)

	// Set stores a value in the cache.
	Set(ctx context.Context, key string, value T) error

	// Invalidate removes a value from the cache.
	Invalidate(ctx context.Context, key string) error

	// Take retrieves and removes a value in a single step. Of any number of
	// concurrent calls for a key, only one finds the value.
	Take(ctx context.Context, key string) (T, bool, error)

	// Close releases any resources held by the cache.
	Close() error
}
