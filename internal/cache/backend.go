// Package cache provides the keyed counter backends behind the counter store.
//
// A Backend exposes the small subset of cache primitives the auth guard needs:
// atomic increment with first-write expiry, plain get/set with TTL, TTL lookup,
// delete and ping. Implementations must make IncrWithExpire atomic at the
// storage layer so concurrent callers never lose updates.
package cache

import (
	"context"
	"errors"
	"time"
)

// ErrNoTTL is returned by TTL when the key is missing or has no expiry
var ErrNoTTL = errors.New("cache: key missing or has no expiry")

// Backend is a keyed counter/value store with per-key expiry
type Backend interface {
	// IncrWithExpire atomically increments key and returns the new value.
	// When the new value is 1 the key expires after ttl.
	IncrWithExpire(ctx context.Context, key string, ttl time.Duration) (int64, error)
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	TTL(ctx context.Context, key string) (time.Duration, error)
	Del(ctx context.Context, keys ...string) error
	Ping(ctx context.Context) error
	Close() error
}
