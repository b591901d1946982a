package main

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/BradenHooton/authguard/internal/cache"
	"github.com/BradenHooton/authguard/internal/config"
	"github.com/BradenHooton/authguard/internal/database"
	"github.com/BradenHooton/authguard/internal/repositories"
	"github.com/BradenHooton/authguard/internal/services"
)

// stack holds the services a command operates on. Alert notifications are
// written to the log; the server owns real delivery.
type stack struct {
	cfg      *config.Config
	db       *database.DB
	backend  cache.Backend
	events   *services.SecurityEventService
	scanner  *services.SuspiciousActivityService
	alerts   *services.AlertService
	lockouts *services.LockoutService
	attempts *services.LoginAttemptService
}

func withStack(action func(c *cli.Context, s *stack) error) cli.ActionFunc {
	return func(c *cli.Context) error {
		s, err := openStack(c)
		if err != nil {
			return err
		}
		defer s.Close()
		return action(c, s)
	}
}

func openStack(c *cli.Context) (*stack, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	logger := slog.Default()
	s := &stack{cfg: cfg}

	var repo services.SecurityEventRepository
	if cfg.Monitoring.EventStore == config.EventStorePostgres {
		s.db, err = database.NewConnection(c.Context, &cfg.Database, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		if err := database.Migrate(c.Context, s.db.Pool, logger); err != nil {
			s.Close()
			return nil, err
		}
		repo = repositories.NewSecurityEventRepository(s.db)
	} else {
		logger.Warn("EVENT_STORE=memory: guardctl sees an empty event store")
		repo = repositories.NewMemorySecurityEventRepository()
	}

	if cfg.Cache.Backend == config.CacheBackendRedis {
		s.backend, err = cache.NewRedisBackend(c.Context, cache.RedisConfig{
			Addr:         cfg.Cache.RedisAddr,
			Password:     cfg.Cache.RedisPassword,
			DB:           cfg.Cache.RedisDB,
			DialTimeout:  2 * time.Second,
			ReadTimeout:  time.Second,
			WriteTimeout: time.Second,
		})
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("failed to connect to counter backend: %w", err)
		}
	} else {
		logger.Warn("CACHE_BACKEND=memory: lockout state lives in the server process and is not visible here")
		s.backend = cache.NewMemoryBackend(time.Minute)
	}

	counters := services.NewCounterStore(s.backend, time.Second, cfg.Security.LoginAttemptWindow, logger)
	notifier := services.NewNotificationService(services.NewLogAlertSender(logger), cfg.Notification.AdminEmails, nil, logger)

	s.events = services.NewSecurityEventService(repo, time.Second, logger)
	s.scanner = services.NewSuspiciousActivityService(s.events, services.DefaultPatternDetectors(), logger)
	s.alerts = services.NewAlertService(s.events, notifier, nil, cfg.Monitoring.MaxActiveAlerts, logger)
	s.attempts = services.NewLoginAttemptService(counters, cfg.Security.LoginAttemptWindow, cfg.Security.MaxLoginAttempts, logger)
	s.lockouts = services.NewLockoutService(counters, s.events, nil, services.LockoutConfig{
		BaseDuration:          cfg.Security.LockoutDuration,
		ProgressiveMultiplier: cfg.Security.LockoutMultiplier,
		MaxDuration:           cfg.Security.MaxLockoutDuration,
	}, logger)

	overrides, err := config.LoadThresholdOverrides(cfg.Monitoring.ThresholdsFile)
	if err != nil {
		s.Close()
		return nil, err
	}
	for _, o := range overrides {
		s.alerts.UpdateAlertThreshold(o.Name, o.AlertThresholdUpdate)
	}

	return s, nil
}

func (s *stack) Close() {
	if s.backend != nil {
		_ = s.backend.Close()
	}
	if s.db != nil {
		s.db.Close()
	}
}
