package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/BradenHooton/authguard/internal/cache"
	"github.com/BradenHooton/authguard/internal/metrics"
)

// DefaultCounterTimeout bounds every backend call made on the auth path
const DefaultCounterTimeout = 100 * time.Millisecond

// CounterStore provides keyed counters with TTL over a cache backend.
// Every call carries a short timeout. When the backend fails, reads and
// increments fail open (zero, "no prior attempts") and the failure is logged
// and counted so operators can see degraded mode.
type CounterStore struct {
	backend    cache.Backend
	timeout    time.Duration
	defaultTTL time.Duration
	logger     *slog.Logger
}

// NewCounterStore creates a CounterStore. A non-positive timeout selects DefaultCounterTimeout.
func NewCounterStore(backend cache.Backend, timeout, defaultTTL time.Duration, logger *slog.Logger) *CounterStore {
	if timeout <= 0 {
		timeout = DefaultCounterTimeout
	}
	return &CounterStore{
		backend:    backend,
		timeout:    timeout,
		defaultTTL: defaultTTL,
		logger:     logger,
	}
}

// Increment increments key using the store's default TTL for new counters
func (s *CounterStore) Increment(ctx context.Context, key string) int64 {
	return s.IncrementWindow(ctx, key, s.defaultTTL)
}

// IncrementWindow atomically increments key and returns the new value. The first
// increment (value 1) starts a window of length ttl. Returns 0 when the backend is unavailable.
func (s *CounterStore) IncrementWindow(ctx context.Context, key string, ttl time.Duration) int64 {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	n, err := s.backend.IncrWithExpire(ctx, key, ttl)
	if err != nil {
		s.degraded("increment", key, err)
		return 0
	}
	return n
}

// Get returns the current value of key, or 0 when missing or unavailable
func (s *CounterStore) Get(ctx context.Context, key string) int64 {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	raw, found, err := s.backend.Get(ctx, key)
	if err != nil {
		s.degraded("get", key, err)
		return 0
	}
	if !found {
		return 0
	}

	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		s.logger.Warn("counter holds non-integer value", slog.String("key", keyPrefix(key)))
		return 0
	}
	return n
}

// Reset deletes key
func (s *CounterStore) Reset(ctx context.Context, key string) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if err := s.backend.Del(ctx, key); err != nil {
		s.degraded("reset", key, err)
		return fmt.Errorf("failed to reset counter: %w", err)
	}
	return nil
}

// TTL returns the remaining lifetime of key, or a non-positive duration when it
// has none or the backend is unavailable
func (s *CounterStore) TTL(ctx context.Context, key string) time.Duration {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	ttl, err := s.backend.TTL(ctx, key)
	if err != nil {
		if !errors.Is(err, cache.ErrNoTTL) {
			s.degraded("ttl", key, err)
		}
		return -1
	}
	return ttl
}

// TTLSeconds returns the remaining lifetime of key in whole seconds, or -1
func (s *CounterStore) TTLSeconds(ctx context.Context, key string) int64 {
	ttl := s.TTL(ctx, key)
	if ttl <= 0 {
		return -1
	}
	return int64(ttl.Round(time.Second) / time.Second)
}

// SetJSON stores v as JSON at key with the given ttl
func (s *CounterStore) SetJSON(ctx context.Context, key string, v interface{}, ttl time.Duration) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", keyPrefix(key), err)
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if err := s.backend.Set(ctx, key, string(payload), ttl); err != nil {
		s.degraded("set", key, err)
		return fmt.Errorf("failed to store %s: %w", keyPrefix(key), err)
	}
	return nil
}

// GetJSON decodes the JSON value at key into dst. It reports false when the key
// is missing, undecodable, or the backend is unavailable.
func (s *CounterStore) GetJSON(ctx context.Context, key string, dst interface{}) bool {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	raw, found, err := s.backend.Get(ctx, key)
	if err != nil {
		s.degraded("get", key, err)
		return false
	}
	if !found {
		return false
	}

	if err := json.Unmarshal([]byte(raw), dst); err != nil {
		s.logger.Warn("discarding undecodable cache value",
			slog.String("key", keyPrefix(key)),
			slog.Any("error", err))
		return false
	}
	return true
}

// Ping checks backend reachability
func (s *CounterStore) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.backend.Ping(ctx)
}

func (s *CounterStore) degraded(op, key string, err error) {
	metrics.IncCounterDegraded(op)
	s.logger.Warn("counter store degraded",
		slog.String("op", op),
		slog.String("key", keyPrefix(key)),
		slog.Bool("degraded", true),
		slog.Any("error", err))
}

// keyPrefix drops the identity part of a key so emails and IPs stay out of logs
func keyPrefix(key string) string {
	if i := strings.LastIndex(key, ":"); i >= 0 {
		return key[:i]
	}
	return key
}
