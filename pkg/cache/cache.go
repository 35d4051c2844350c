// Package cache provides the caching layer used by the corpus validator
// and the readiness checks: an in-process LRU by default, Redis when a
// shared cache is configured.
package cache

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound indicates a cache miss.
var ErrNotFound = errors.New("cache: not found")

// Cache is a typed-by-JSON key/value cache.
type Cache interface {
	// Get decodes the cached value for key into value. Returns
	// ErrNotFound on a miss.
	Get(ctx context.Context, key string, value interface{}) error
	// Set stores value under key for ttl (0 means no expiry).
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	// Delete removes key.
	Delete(ctx context.Context, key string) error
	// Flush removes everything.
	Flush(ctx context.Context) error
}
