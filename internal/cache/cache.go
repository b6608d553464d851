// Package cache provides the shared TTL'd key-value abstraction behind the
// user-validation cache and the order response cache. Store failures are a
// recoverable condition; callers fall through to the authoritative source and
// never fail an RPC on cache errors.
package cache

import (
	"context"
	"errors"
	"time"
)

// ErrUnavailable marks a cache store failure. Always recoverable.
var ErrUnavailable = errors.New("cache: store unavailable")

// Store is a TTL'd string map. An entry whose deadline has passed is absent.
type Store interface {
	// Get returns the value and whether it was present and fresh.
	Get(ctx context.Context, key string) (string, bool, error)
	// Set writes the value with the given lifetime.
	Set(ctx context.Context, key string, value string, ttl time.Duration) error
}
