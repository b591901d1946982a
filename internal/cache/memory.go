package cache

import (
	"context"
	"fmt"
	"strconv"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// MemoryBackend is a process-local Backend built on go-cache.
// It is used in development and tests, and when no Redis address is configured.
type MemoryBackend struct {
	cache *gocache.Cache
}

// NewMemoryBackend creates a MemoryBackend whose janitor purges expired keys every cleanupInterval
func NewMemoryBackend(cleanupInterval time.Duration) *MemoryBackend {
	return &MemoryBackend{
		cache: gocache.New(gocache.NoExpiration, cleanupInterval),
	}
}

// IncrWithExpire increments key, creating it with ttl when absent or expired.
// go-cache serialises Add and IncrementInt64 under its own lock, so a failed Add
// means the key exists and the increment is applied atomically.
func (m *MemoryBackend) IncrWithExpire(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	for {
		if err := ctx.Err(); err != nil {
			return 0, err
		}

		if err := m.cache.Add(key, int64(1), expiration(ttl)); err == nil {
			return 1, nil
		}

		n, err := m.cache.IncrementInt64(key, 1)
		if err == nil {
			return n, nil
		}

		// Still present means the stored value is not an int64
		if _, found := m.cache.Get(key); found {
			return 0, fmt.Errorf("cache: increment %q: %w", key, err)
		}
		// Expired between Add and IncrementInt64; retry and recreate
	}
}

// Get returns the string form of the value stored at key
func (m *MemoryBackend) Get(ctx context.Context, key string) (string, bool, error) {
	v, found := m.cache.Get(key)
	if !found {
		return "", false, nil
	}

	switch val := v.(type) {
	case string:
		return val, true, nil
	case int64:
		return strconv.FormatInt(val, 10), true, nil
	default:
		return "", false, fmt.Errorf("cache: unexpected value type %T at %q", v, key)
	}
}

// Set stores value at key with the given ttl (zero means no expiry)
func (m *MemoryBackend) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	m.cache.Set(key, value, expiration(ttl))
	return nil
}

// TTL returns the remaining lifetime of key
func (m *MemoryBackend) TTL(ctx context.Context, key string) (time.Duration, error) {
	_, expiresAt, found := m.cache.GetWithExpiration(key)
	if !found || expiresAt.IsZero() {
		return 0, ErrNoTTL
	}

	remaining := time.Until(expiresAt)
	if remaining <= 0 {
		return 0, ErrNoTTL
	}
	return remaining, nil
}

// Del removes the given keys; missing keys are ignored
func (m *MemoryBackend) Del(ctx context.Context, keys ...string) error {
	for _, key := range keys {
		m.cache.Delete(key)
	}
	return nil
}

// Ping always succeeds for the in-process backend
func (m *MemoryBackend) Ping(ctx context.Context) error {
	return nil
}

// Close flushes all keys
func (m *MemoryBackend) Close() error {
	m.cache.Flush()
	return nil
}

func expiration(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return gocache.NoExpiration
	}
	return ttl
}
