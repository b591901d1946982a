package services

import (
	"context"
	"log/slog"
	"time"

	"github.com/BradenHooton/authguard/internal/metrics"
	"github.com/BradenHooton/authguard/internal/models"
)

// Rate limited actions
const (
	ActionLogin         = "login"
	ActionRegister      = "register"
	ActionPasswordReset = "password_reset"
)

// RateLimitPolicy is the limit applied to one action
type RateLimitPolicy struct {
	Limit  int
	Window time.Duration
}

// RateLimitService implements fixed-window request counting per (subject, action).
//
// The window starts at the first request and the counter resets entirely when it
// expires. A client can therefore send up to 2x the limit across a window edge;
// that burst is accepted in exchange for one atomic counter per subject. A
// sliding-window or token-bucket limiter can replace it behind CheckRateLimit.
type RateLimitService struct {
	counters *CounterStore
	policies map[string]RateLimitPolicy
	logger   *slog.Logger
	now      func() time.Time
}

// NewRateLimitService creates a new RateLimitService with per-action policies
func NewRateLimitService(counters *CounterStore, policies map[string]RateLimitPolicy, logger *slog.Logger) *RateLimitService {
	if policies == nil {
		policies = make(map[string]RateLimitPolicy)
	}
	return &RateLimitService{
		counters: counters,
		policies: policies,
		logger:   logger,
		now:      time.Now,
	}
}

// CheckRateLimit counts one request by subject for action and reports whether it is blocked.
// If the backend is unavailable the request is counted as the first in its window (fail open).
func (s *RateLimitService) CheckRateLimit(ctx context.Context, subject, action string, limit int, window time.Duration) *models.RateLimitResult {
	key := rateLimitKey(action, subject)
	now := s.now()

	count := s.counters.IncrementWindow(ctx, key, window)

	// Remaining TTL may be gone if the window expired between INCR and TTL.
	// A zero count means the backend is down, so the lookup is skipped.
	resetTime := now.Add(window)
	if count > 0 {
		if ttl := s.counters.TTL(ctx, key); ttl > 0 {
			resetTime = now.Add(ttl)
		}
	}

	result := &models.RateLimitResult{
		Subject:   subject,
		Action:    action,
		Count:     count,
		Limit:     limit,
		ResetTime: resetTime,
		Blocked:   count > int64(limit),
	}

	if result.Blocked {
		metrics.IncRateLimitBlocked(action)
		s.logger.Warn("rate limit exceeded",
			slog.String("action", action),
			slog.String("subject", subject),
			slog.Int64("count", count),
			slog.Int("limit", limit),
			slog.Time("reset_time", resetTime))
	}

	return result
}

// CheckAction applies the configured policy for action. Actions without a policy are allowed
// and not counted.
func (s *RateLimitService) CheckAction(ctx context.Context, subject, action string) *models.RateLimitResult {
	policy, ok := s.policies[action]
	if !ok || policy.Limit <= 0 {
		return &models.RateLimitResult{Subject: subject, Action: action, ResetTime: s.now()}
	}
	return s.CheckRateLimit(ctx, subject, action, policy.Limit, policy.Window)
}

// ResetRateLimit clears the window for subject and action
func (s *RateLimitService) ResetRateLimit(ctx context.Context, subject, action string) error {
	return s.counters.Reset(ctx, rateLimitKey(action, subject))
}

func rateLimitKey(action, subject string) string {
	return "rate_limit:" + action + ":" + subject
}
