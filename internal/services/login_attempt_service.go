package services

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/BradenHooton/authguard/internal/models"
	pkglogger "github.com/BradenHooton/authguard/pkg/logger"
)

// DefaultLoginAttemptWindow is how long failed attempts are remembered
const DefaultLoginAttemptWindow = 15 * time.Minute

// LoginAttemptService tracks failed login attempts per identity in the counter store
type LoginAttemptService struct {
	counters    *CounterStore
	window      time.Duration
	maxAttempts int
	logger      *slog.Logger
}

// NewLoginAttemptService creates a new LoginAttemptService
func NewLoginAttemptService(counters *CounterStore, window time.Duration, maxAttempts int, logger *slog.Logger) *LoginAttemptService {
	if window <= 0 {
		window = DefaultLoginAttemptWindow
	}
	return &LoginAttemptService{
		counters:    counters,
		window:      window,
		maxAttempts: maxAttempts,
		logger:      logger,
	}
}

// IncrementLoginAttempts records a failed attempt in the default window and returns the new count
func (s *LoginAttemptService) IncrementLoginAttempts(ctx context.Context, email string) int {
	return s.IncrementLoginAttemptsWithin(ctx, email, s.window)
}

// IncrementLoginAttemptsWithin records a failed attempt; the counter expires window after the first failure
func (s *LoginAttemptService) IncrementLoginAttemptsWithin(ctx context.Context, email string, window time.Duration) int {
	count := int(s.counters.IncrementWindow(ctx, loginAttemptKey(email), window))

	s.logger.Debug("failed login attempt counted",
		slog.String("email", pkglogger.SanitizedEmail(email)),
		slog.Int("attempts", count))

	return count
}

// GetLoginAttempts returns the number of failed attempts in the current window
func (s *LoginAttemptService) GetLoginAttempts(ctx context.Context, email string) int {
	return int(s.counters.Get(ctx, loginAttemptKey(email)))
}

// ResetLoginAttempts clears the counter after a successful login or password reset
func (s *LoginAttemptService) ResetLoginAttempts(ctx context.Context, email string) error {
	return s.counters.Reset(ctx, loginAttemptKey(email))
}

// MaxAttempts returns the configured threshold at which callers lock the account
func (s *LoginAttemptService) MaxAttempts() int {
	return s.maxAttempts
}

// ThresholdReached reports whether count has reached the lockout threshold
func (s *LoginAttemptService) ThresholdReached(count int) bool {
	return s.maxAttempts > 0 && count >= s.maxAttempts
}

// GetStats returns the counter and its remaining window for an identity
func (s *LoginAttemptService) GetStats(ctx context.Context, email string) *models.LoginAttemptStats {
	key := loginAttemptKey(email)
	return &models.LoginAttemptStats{
		Email:       normalizeIdentity(email),
		Attempts:    int(s.counters.Get(ctx, key)),
		TTLSeconds:  s.counters.TTLSeconds(ctx, key),
		MaxAttempts: s.maxAttempts,
	}
}

func loginAttemptKey(email string) string {
	return "login_attempts:" + normalizeIdentity(email)
}

func normalizeIdentity(identity string) string {
	return strings.ToLower(strings.TrimSpace(identity))
}
