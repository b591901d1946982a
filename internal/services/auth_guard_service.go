package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/BradenHooton/authguard/internal/auth"
	"github.com/BradenHooton/authguard/internal/models"
	pkglogger "github.com/BradenHooton/authguard/pkg/logger"
)

// LockoutReasonFailedLogins is recorded when repeated failures lock an account
const LockoutReasonFailedLogins = "too many failed login attempts"

// PasswordVerifier checks a password against a stored digest
type PasswordVerifier interface {
	Verify(password, digest string) bool
}

// LoginAttempt carries one login request as seen by the guard
type LoginAttempt struct {
	Email     string
	Password  string
	IPAddress string
	UserAgent string
}

// LoginDecision tells the login flow whether to proceed and, if not, what to
// show the user ("temporarily locked, retry after X")
type LoginDecision struct {
	Allowed     bool                    `json:"allowed"`
	Attempts    int                     `json:"attempts,omitempty"`
	RetryAfter  time.Duration           `json:"retry_after,omitempty"`
	LockedUntil *time.Time              `json:"locked_until,omitempty"`
	Reason      string                  `json:"reason,omitempty"`
	RateLimit   *models.RateLimitResult `json:"rate_limit,omitempty"`
}

// AuthGuardService composes rate limiting, attempt tracking, lockout and event
// recording for the login, registration and password reset flows
type AuthGuardService struct {
	rateLimits *RateLimitService
	attempts   *LoginAttemptService
	lockouts   *LockoutService
	events     EventRecorder
	verifier   PasswordVerifier
	timing     *auth.TimingDelay
	logger     *slog.Logger
	now        func() time.Time
}

// NewAuthGuardService creates a new AuthGuardService. timing may be nil.
func NewAuthGuardService(
	rateLimits *RateLimitService,
	attempts *LoginAttemptService,
	lockouts *LockoutService,
	events EventRecorder,
	verifier PasswordVerifier,
	timing *auth.TimingDelay,
	logger *slog.Logger,
) *AuthGuardService {
	return &AuthGuardService{
		rateLimits: rateLimits,
		attempts:   attempts,
		lockouts:   lockouts,
		events:     events,
		verifier:   verifier,
		timing:     timing,
		logger:     logger,
		now:        time.Now,
	}
}

// CheckLogin runs the pre-verification gates: per-IP rate limit, then account lockout.
// Blocked attempts are recorded as failed LOGIN_ATTEMPT events.
func (s *AuthGuardService) CheckLogin(ctx context.Context, email, ipAddress, userAgent string) (*LoginDecision, error) {
	if ipAddress != "" {
		rl := s.rateLimits.CheckAction(ctx, ipAddress, ActionLogin)
		if rl.Blocked {
			s.recordLogin(ctx, nil, email, ipAddress, userAgent, false, models.EventDetails{"reason": "rate_limited"})
			return &LoginDecision{
				RetryAfter: nonNegative(rl.ResetTime.Sub(s.now())),
				Reason:     "rate limit exceeded",
				RateLimit:  rl,
			}, models.ErrRateLimitExceeded
		}
	}

	status := s.lockouts.IsLocked(ctx, email)
	if status.Locked {
		s.recordLogin(ctx, nil, email, ipAddress, userAgent, false, models.EventDetails{"reason": "account_locked"})
		return &LoginDecision{
			RetryAfter:  status.RetryAfter(s.now()),
			LockedUntil: status.Until,
			Reason:      status.Reason,
		}, models.ErrAccountLocked
	}

	return &LoginDecision{Allowed: true}, nil
}

// RecordLoginFailure counts a failed login and locks the account once the
// attempt threshold is reached
func (s *AuthGuardService) RecordLoginFailure(ctx context.Context, email, ipAddress, userAgent, reason string) *LoginDecision {
	count := s.attempts.IncrementLoginAttempts(ctx, email)

	s.recordLogin(ctx, nil, email, ipAddress, userAgent, false, models.EventDetails{
		"reason":   reason,
		"attempts": count,
	})

	decision := &LoginDecision{Attempts: count, Reason: reason}
	if !s.attempts.ThresholdReached(count) {
		return decision
	}

	record, ok := s.lockouts.LockAccount(ctx, email, LockoutReasonFailedLogins, ipAddress)
	if !ok {
		return decision
	}

	// The lockout now gates the account; start counting afresh once it lifts
	if err := s.attempts.ResetLoginAttempts(ctx, email); err != nil {
		s.logger.Warn("failed to reset login attempts after lockout",
			slog.String("email", pkglogger.SanitizedEmail(email)),
			slog.Any("error", err))
	}

	until := record.LockoutUntil
	decision.LockedUntil = &until
	decision.RetryAfter = nonNegative(until.Sub(s.now()))
	decision.Reason = record.Reason
	return decision
}

// RecordLoginSuccess clears the failure counter and records the login
func (s *AuthGuardService) RecordLoginSuccess(ctx context.Context, userID, email, ipAddress, userAgent string) {
	if err := s.attempts.ResetLoginAttempts(ctx, email); err != nil {
		s.logger.Warn("failed to reset login attempts",
			slog.String("email", pkglogger.SanitizedEmail(email)),
			slog.Any("error", err))
	}
	s.recordLogin(ctx, stringPtr(userID), email, ipAddress, userAgent, true, nil)
}

// Authenticate runs the full guarded login: gates, password verification and
// outcome recording. digest is empty when the account does not exist. Every
// failure is padded to the same duration.
func (s *AuthGuardService) Authenticate(ctx context.Context, attempt LoginAttempt, userID, digest string) (*LoginDecision, error) {
	start := time.Now()

	decision, err := s.CheckLogin(ctx, attempt.Email, attempt.IPAddress, attempt.UserAgent)
	if err != nil {
		s.timing.WaitFrom(start, false)
		return decision, err
	}

	if !s.verifier.Verify(attempt.Password, digest) {
		decision = s.RecordLoginFailure(ctx, attempt.Email, attempt.IPAddress, attempt.UserAgent, "invalid_credentials")
		s.timing.WaitFrom(start, false)
		return decision, models.ErrInvalidCredentials
	}

	s.RecordLoginSuccess(ctx, userID, attempt.Email, attempt.IPAddress, attempt.UserAgent)
	s.timing.WaitFrom(start, true)
	return &LoginDecision{Allowed: true}, nil
}

// CheckRegistration applies the per-IP registration rate limit
func (s *AuthGuardService) CheckRegistration(ctx context.Context, ipAddress string) (*models.RateLimitResult, error) {
	rl := s.rateLimits.CheckAction(ctx, ipAddress, ActionRegister)
	if rl.Blocked {
		return rl, models.ErrRateLimitExceeded
	}
	return rl, nil
}

// RecordRegistration records a registration outcome
func (s *AuthGuardService) RecordRegistration(ctx context.Context, userID, email, ipAddress, userAgent string, success bool) {
	s.events.Record(ctx, &models.SecurityEvent{
		UserID:    stringPtr(userID),
		Email:     stringPtr(normalizeIdentity(email)),
		EventType: models.EventTypeRegistration,
		Success:   success,
		IPAddress: ipAddress,
		UserAgent: userAgent,
	})
}

// RecordPasswordResetRequest applies the per-IP reset rate limit and records the
// request. accountExists is stored as the event outcome.
func (s *AuthGuardService) RecordPasswordResetRequest(ctx context.Context, email, ipAddress, userAgent string, accountExists bool) (*models.RateLimitResult, error) {
	rl := s.rateLimits.CheckAction(ctx, ipAddress, ActionPasswordReset)

	details := models.EventDetails{}
	if rl.Blocked {
		details["reason"] = "rate_limited"
	}
	s.events.Record(ctx, &models.SecurityEvent{
		Email:     stringPtr(normalizeIdentity(email)),
		EventType: models.EventTypePasswordResetRequest,
		Success:   accountExists && !rl.Blocked,
		IPAddress: ipAddress,
		UserAgent: userAgent,
		Details:   details,
	})

	if rl.Blocked {
		return rl, models.ErrRateLimitExceeded
	}
	return rl, nil
}

// CompletePasswordReset clears failed attempts and any lockout for the account.
// Counter backend failures are logged and the reset is still recorded.
func (s *AuthGuardService) CompletePasswordReset(ctx context.Context, userID, email, ipAddress, userAgent string) {
	if err := s.attempts.ResetLoginAttempts(ctx, email); err != nil {
		s.logger.Warn("failed to reset login attempts after password reset",
			slog.String("email", pkglogger.SanitizedEmail(email)),
			slog.Any("error", err))
	}
	if err := s.lockouts.ClearLockout(ctx, email, "password_reset"); err != nil {
		s.logger.Warn("failed to clear lockout after password reset",
			slog.String("email", pkglogger.SanitizedEmail(email)),
			slog.Any("error", err))
	}

	s.events.Record(ctx, &models.SecurityEvent{
		UserID:    stringPtr(userID),
		Email:     stringPtr(normalizeIdentity(email)),
		EventType: models.EventTypePasswordResetComplete,
		Success:   true,
		IPAddress: ipAddress,
		UserAgent: userAgent,
	})
}

// RecordTokenEvent records token and session lifecycle events
func (s *AuthGuardService) RecordTokenEvent(ctx context.Context, eventType models.EventType, userID, email, ipAddress, userAgent string, details models.EventDetails) error {
	switch eventType {
	case models.EventTypeTokenGenerated, models.EventTypeTokenUsed,
		models.EventTypeSessionCreated, models.EventTypeSessionExpired:
	default:
		return fmt.Errorf("event type %s is not a token event: %w", eventType, models.ErrBadRequest)
	}

	s.events.Record(ctx, &models.SecurityEvent{
		UserID:    stringPtr(userID),
		Email:     stringPtr(normalizeIdentity(email)),
		EventType: eventType,
		Success:   true,
		IPAddress: ipAddress,
		UserAgent: userAgent,
		Details:   details,
	})
	return nil
}

func (s *AuthGuardService) recordLogin(ctx context.Context, userID *string, email, ipAddress, userAgent string, success bool, details models.EventDetails) {
	s.events.Record(ctx, &models.SecurityEvent{
		UserID:    userID,
		Email:     stringPtr(normalizeIdentity(email)),
		EventType: models.EventTypeLoginAttempt,
		Success:   success,
		IPAddress: ipAddress,
		UserAgent: userAgent,
		Details:   details,
	})
}

func nonNegative(d time.Duration) time.Duration {
	if d < 0 {
		return 0
	}
	return d
}
