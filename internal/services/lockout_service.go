package services

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/BradenHooton/authguard/internal/metrics"
	"github.com/BradenHooton/authguard/internal/models"
	pkglogger "github.com/BradenHooton/authguard/pkg/logger"
)

// EventRecorder appends security events
type EventRecorder interface {
	Record(ctx context.Context, event *models.SecurityEvent)
}

// UserNotifier notifies an account owner
type UserNotifier interface {
	NotifyUser(ctx context.Context, email, title, body, ipAddress string) error
}

// LockoutConfig holds lockout duration settings
type LockoutConfig struct {
	BaseDuration time.Duration
	// ProgressiveMultiplier scales each repeat lockout within RepeatWindow (1 disables)
	ProgressiveMultiplier float64
	MaxDuration           time.Duration
	RepeatWindow          time.Duration
	NotifyTimeout         time.Duration
}

// DefaultLockoutConfig returns a 30 minute lockout growing 1.5x per repeat, capped at 24 hours
func DefaultLockoutConfig() LockoutConfig {
	return LockoutConfig{
		BaseDuration:          30 * time.Minute,
		ProgressiveMultiplier: 1.5,
		MaxDuration:           24 * time.Hour,
		RepeatWindow:          24 * time.Hour,
		NotifyTimeout:         10 * time.Second,
	}
}

// LockoutService is the per-identity lockout state machine (UNLOCKED / LOCKED until, reason).
// Records live in the counter backend with a TTL equal to the lock duration, but
// IsLocked always compares LockoutUntil with the clock: backend TTL granularity
// does not line up with the exact unlock instant.
type LockoutService struct {
	counters *CounterStore
	events   EventRecorder
	notifier UserNotifier
	config   LockoutConfig
	logger   *slog.Logger
	now      func() time.Time

	// pending tracks in-flight owner notifications
	pending sync.WaitGroup
}

// NewLockoutService creates a new LockoutService. notifier may be nil.
func NewLockoutService(counters *CounterStore, events EventRecorder, notifier UserNotifier, config LockoutConfig, logger *slog.Logger) *LockoutService {
	if config.BaseDuration <= 0 {
		config.BaseDuration = DefaultLockoutConfig().BaseDuration
	}
	if config.MaxDuration < config.BaseDuration {
		config.MaxDuration = config.BaseDuration
	}
	if config.NotifyTimeout <= 0 {
		config.NotifyTimeout = DefaultLockoutConfig().NotifyTimeout
	}
	return &LockoutService{
		counters: counters,
		events:   events,
		notifier: notifier,
		config:   config,
		logger:   logger,
		now:      time.Now,
	}
}

// LockAccount locks identity for a duration derived from how many times it was
// locked recently: base * multiplier^(n-1), capped at MaxDuration.
func (s *LockoutService) LockAccount(ctx context.Context, identity, reason, ipAddress string) (*models.LockoutRecord, bool) {
	repeat := s.counters.IncrementWindow(ctx, lockoutCountKey(identity), s.repeatWindow())
	duration := s.lockoutDuration(repeat)
	return s.SetAccountLockout(ctx, identity, s.now().Add(duration), reason, ipAddress)
}

// SetAccountLockout locks identity until the given instant. Lockouts that are
// already expired are not stored and report false. Recording the event and
// notifying the owner never fail the lockout.
func (s *LockoutService) SetAccountLockout(ctx context.Context, identity string, until time.Time, reason, ipAddress string) (*models.LockoutRecord, bool) {
	now := s.now()
	ttl := until.Sub(now)
	if ttl <= 0 {
		return nil, false
	}

	record := &models.LockoutRecord{
		Identity:     normalizeIdentity(identity),
		LockoutUntil: until.UTC(),
		Reason:       reason,
		LockedAt:     now.UTC(),
	}

	if err := s.counters.SetJSON(ctx, lockoutKey(identity), record, ttl); err != nil {
		s.logger.Error("failed to store account lockout",
			slog.String("email", pkglogger.SanitizedEmail(identity)),
			slog.Any("error", err))
		return nil, false
	}

	metrics.IncLockout()
	s.logger.Warn("account locked",
		slog.String("email", pkglogger.SanitizedEmail(identity)),
		slog.Time("lockout_until", record.LockoutUntil),
		slog.String("reason", reason))

	s.events.Record(ctx, &models.SecurityEvent{
		Email:     stringPtr(record.Identity),
		EventType: models.EventTypeAccountLockout,
		Success:   true,
		IPAddress: ipAddress,
		Details: models.EventDetails{
			"reason":          reason,
			"lockout_until":   record.LockoutUntil.Format(time.RFC3339),
			"durationMinutes": int(math.Ceil(ttl.Minutes())),
		},
	})

	s.notifyOwner(ctx, record, ipAddress)

	return record, true
}

// IsLocked reports the lockout state of identity at read time
func (s *LockoutService) IsLocked(ctx context.Context, identity string) models.LockoutStatus {
	var record models.LockoutRecord
	if !s.counters.GetJSON(ctx, lockoutKey(identity), &record) {
		return models.LockoutStatus{}
	}

	// Lazy expiry: a record past its instant is unlocked even if the key survives
	if !record.LockoutUntil.After(s.now()) {
		return models.LockoutStatus{}
	}

	until := record.LockoutUntil
	return models.LockoutStatus{
		Locked: true,
		Until:  &until,
		Reason: record.Reason,
	}
}

// ClearLockout removes a lockout (manual admin unlock or password reset)
func (s *LockoutService) ClearLockout(ctx context.Context, identity, clearedBy string) error {
	if err := s.counters.Reset(ctx, lockoutKey(identity)); err != nil {
		return fmt.Errorf("failed to clear lockout: %w", err)
	}

	s.logger.Info("account unlocked",
		slog.String("email", pkglogger.SanitizedEmail(identity)),
		slog.String("cleared_by", clearedBy))

	s.events.Record(ctx, &models.SecurityEvent{
		Email:     stringPtr(normalizeIdentity(identity)),
		EventType: models.EventTypeAccountUnlock,
		Success:   true,
		Details:   models.EventDetails{"cleared_by": clearedBy},
	})
	return nil
}

// Wait blocks until in-flight owner notifications finish. Call during shutdown.
func (s *LockoutService) Wait() {
	s.pending.Wait()
}

func (s *LockoutService) notifyOwner(ctx context.Context, record *models.LockoutRecord, ipAddress string) {
	if s.notifier == nil {
		return
	}

	title := "Your account has been temporarily locked"
	body := fmt.Sprintf("Your account was locked at %s because of %s. You can sign in again after %s. If this was not you, reset your password.",
		record.LockedAt.Format(time.RFC1123), record.Reason, record.LockoutUntil.Format(time.RFC1123))

	// Delivery runs off the auth path; it keeps request values but not its cancellation
	notifyCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.config.NotifyTimeout)
	s.pending.Add(1)
	go func() {
		defer s.pending.Done()
		defer cancel()

		if err := s.notifier.NotifyUser(notifyCtx, record.Identity, title, body, ipAddress); err != nil {
			s.logger.Error("failed to send lockout notification",
				slog.String("email", pkglogger.SanitizedEmail(record.Identity)),
				slog.Any("error", err))
		}
	}()
}

func (s *LockoutService) lockoutDuration(repeat int64) time.Duration {
	scaled := float64(s.config.BaseDuration)
	if repeat > 1 && s.config.ProgressiveMultiplier > 1 {
		scaled *= math.Pow(s.config.ProgressiveMultiplier, float64(repeat-1))
	}

	// Cap in float space so large repeat counts cannot overflow Duration
	if scaled >= float64(s.config.MaxDuration) {
		return s.config.MaxDuration
	}
	return time.Duration(scaled)
}

func (s *LockoutService) repeatWindow() time.Duration {
	if s.config.RepeatWindow > 0 {
		return s.config.RepeatWindow
	}
	return 24 * time.Hour
}

func lockoutKey(identity string) string {
	return "lockout:" + normalizeIdentity(identity)
}

func lockoutCountKey(identity string) string {
	return "lockout_count:" + normalizeIdentity(identity)
}
