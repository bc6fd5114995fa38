// Package cache provides snapshot stores that keep the last successful payload
// of a query across process restarts.
package cache

import (
	"context"
	"errors"
)

// ErrCacheMiss is returned (wrapped) when a key has no cached value.
var ErrCacheMiss = errors.New("cache miss")

// Cache is a generic interface for a caching layer.
type Cache[K comparable, V any] interface {
	// FetchFromCache retrieves an item from the cache.
	FetchFromCache(ctx context.Context, key K) (V, error)
	// WriteToCache adds an item to the cache.
	WriteToCache(ctx context.Context, key K, value V) error
	// Close releases any connection held by the cache.
	Close() error
}
