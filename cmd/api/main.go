package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/BradenHooton/authguard/internal/auth"
	"github.com/BradenHooton/authguard/internal/background"
	"github.com/BradenHooton/authguard/internal/cache"
	"github.com/BradenHooton/authguard/internal/config"
	"github.com/BradenHooton/authguard/internal/database"
	"github.com/BradenHooton/authguard/internal/handlers"
	"github.com/BradenHooton/authguard/internal/metrics"
	middlewareCustom "github.com/BradenHooton/authguard/internal/middleware"
	"github.com/BradenHooton/authguard/internal/repositories"
	"github.com/BradenHooton/authguard/internal/routes"
	"github.com/BradenHooton/authguard/internal/services"
	pkgauth "github.com/BradenHooton/authguard/pkg/auth"
	pkghttp "github.com/BradenHooton/authguard/pkg/http"
	pkglogger "github.com/BradenHooton/authguard/pkg/logger"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}

	logger, logCloser := pkglogger.New(pkglogger.Options{Level: cfg.Server.LogLevel, File: cfg.Server.LogFile})
	defer logCloser.Close()
	slog.SetDefault(logger)

	logger.Info("configuration loaded",
		slog.String("env", cfg.Server.Env),
		slog.String("event_store", cfg.Monitoring.EventStore),
		slog.String("cache_backend", cfg.Cache.Backend))

	if err := run(cfg, logger); err != nil {
		logger.Error("server exited with error", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("server stopped gracefully")
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	healthChecks := map[string]handlers.Pinger{}

	// Counter backend
	backend, err := newCounterBackend(ctx, cfg.Cache)
	if err != nil {
		return err
	}
	defer backend.Close()
	healthChecks["cache"] = backend

	// Security event store
	var eventRepo services.SecurityEventRepository
	switch cfg.Monitoring.EventStore {
	case config.EventStorePostgres:
		db, err := database.NewConnection(ctx, &cfg.Database, logger)
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		defer db.Close()

		if err := database.Migrate(ctx, db.Pool, logger); err != nil {
			return err
		}
		eventRepo = repositories.NewSecurityEventRepository(db)
		healthChecks["database"] = db
	default:
		logger.Warn("using in-memory security event store; events will not survive a restart")
		eventRepo = repositories.NewMemorySecurityEventRepository()
	}

	counters := services.NewCounterStore(backend, cfg.Cache.OpTimeout, cfg.Security.LoginAttemptWindow, logger)
	events := services.NewSecurityEventService(eventRepo, cfg.Monitoring.EventWriteTimeout, logger)

	// Notification fan-out: e-mail to admins plus chat/webhook channels
	notifier, err := newNotificationService(ctx, cfg.Notification, logger)
	if err != nil {
		return err
	}

	// Inline auth-path components
	rateLimits := services.NewRateLimitService(counters, map[string]services.RateLimitPolicy{
		services.ActionLogin:         {Limit: cfg.Security.LoginRateLimit, Window: cfg.Security.LoginRateWindow},
		services.ActionRegister:      {Limit: cfg.Security.RegisterRateLimit, Window: cfg.Security.RegisterRateWindow},
		services.ActionPasswordReset: {Limit: cfg.Security.ResetRateLimit, Window: cfg.Security.ResetRateWindow},
	}, logger)
	attempts := services.NewLoginAttemptService(counters, cfg.Security.LoginAttemptWindow, cfg.Security.MaxLoginAttempts, logger)
	lockouts := services.NewLockoutService(counters, events, notifier, services.LockoutConfig{
		BaseDuration:          cfg.Security.LockoutDuration,
		ProgressiveMultiplier: cfg.Security.LockoutMultiplier,
		MaxDuration:           cfg.Security.MaxLockoutDuration,
		RepeatWindow:          24 * time.Hour,
	}, logger)
	timing := auth.NewTimingDelay(auth.TimingConfig{
		BaseDelay:   cfg.Security.TimingBaseDelay,
		RandomDelay: cfg.Security.TimingRandomDelay,
	})
	guard := services.NewAuthGuardService(rateLimits, attempts, lockouts, events,
		pkgauth.NewBcryptHasher(cfg.Security.BcryptCost), timing, logger)

	// Detection and alerting
	scanner := services.NewSuspiciousActivityService(events, services.DefaultPatternDetectors(), logger)
	alerts := services.NewAlertService(events, notifier, nil, cfg.Monitoring.MaxActiveAlerts, logger)
	if err := applyThresholdOverrides(alerts, cfg.Monitoring.ThresholdsFile, logger); err != nil {
		return err
	}

	monitor := background.NewMonitor(scanner, alerts, cfg.Monitoring.DetectionWindow, logger)
	if cfg.Monitoring.AutoStart {
		monitor.Start(cfg.Monitoring.Interval)
	}

	cleanupManager := background.NewCleanupManager(events, cfg.Monitoring.RetentionDays, logger, cfg.Monitoring.CleanupInterval)
	go cleanupManager.Start(ctx)

	// Metrics
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics.Register(registry)

	// Operator tokens
	tokenManager, err := auth.NewTokenManager(cfg.Admin.JWTSecret, cfg.Admin.TokenExpiry)
	if err != nil {
		return err
	}

	ipConfig, err := pkghttp.NewIPConfig(cfg.Server.TrustedProxies)
	if err != nil {
		return fmt.Errorf("invalid TRUSTED_PROXIES: %w", err)
	}

	// Setup router
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middlewareCustom.ClientIP(ipConfig))
	router.Use(middlewareCustom.SecurityHeaders(middlewareCustom.SecurityHeadersConfig{Env: cfg.Server.Env}))
	router.Use(middlewareCustom.SecureLogger(logger))
	router.Use(middleware.Recoverer)
	router.Use(middleware.Timeout(60 * time.Second))

	edgeLimit := middlewareCustom.RateLimitConfig{RequestsPerMinute: cfg.Security.EdgeRateLimit}
	router.Use(middlewareCustom.RateLimitByIP(edgeLimit))

	routes.RegisterRoutes(
		router,
		handlers.NewSecurityHandler(events, scanner, alerts, monitor, lockouts, attempts, logger),
		handlers.NewGuardHandler(guard, logger),
		handlers.NewHealthHandler(healthChecks),
		promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		tokenManager,
		edgeLimit,
	)

	// Create server
	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("starting server", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	// Graceful shutdown: stop intake first, then background work
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", slog.Any("error", err))
	}

	monitor.Stop()
	cleanupManager.Stop()
	lockouts.Wait()
	return nil
}

func newCounterBackend(ctx context.Context, cfg config.CacheConfig) (cache.Backend, error) {
	if cfg.Backend != config.CacheBackendRedis {
		return cache.NewMemoryBackend(time.Minute), nil
	}

	connectCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	backend, err := cache.NewRedisBackend(connectCtx, cache.RedisConfig{
		Addr:         cfg.RedisAddr,
		Password:     cfg.RedisPassword,
		DB:           cfg.RedisDB,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  cfg.OpTimeout,
		WriteTimeout: cfg.OpTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to counter backend: %w", err)
	}
	return backend, nil
}

func newNotificationService(ctx context.Context, cfg config.NotificationConfig, logger *slog.Logger) (*services.NotificationService, error) {
	var sender services.AlertSender = services.NewLogAlertSender(logger)
	if cfg.AWSRegion != "" && cfg.FromAddress != "" {
		ses, err := services.NewSESAlertSender(ctx, cfg.AWSRegion, cfg.FromAddress, cfg.SendRate, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize alert e-mail: %w", err)
		}
		sender = ses
	} else {
		logger.Warn("AWS_REGION or EMAIL_FROM_ADDRESS not set; alert e-mails will be logged only")
	}

	channels := make([]services.AlertChannel, 0, len(cfg.NotifyURLs))
	for i, url := range cfg.NotifyURLs {
		scheme, _, ok := strings.Cut(url, "://")
		if !ok {
			return nil, fmt.Errorf("NOTIFY_URLS entry %d is not a URL", i)
		}
		channels = append(channels, services.NewShoutrrrChannel(fmt.Sprintf("%s-%d", scheme, i), url))
	}

	return services.NewNotificationService(sender, cfg.AdminEmails, channels, logger), nil
}

func applyThresholdOverrides(alerts *services.AlertService, path string, logger *slog.Logger) error {
	overrides, err := config.LoadThresholdOverrides(path)
	if err != nil {
		return err
	}

	for _, o := range overrides {
		if !alerts.UpdateAlertThreshold(o.Name, o.AlertThresholdUpdate) {
			logger.Warn("ignoring override for unknown alert threshold", slog.String("name", o.Name))
			continue
		}
		logger.Info("alert threshold overridden", slog.String("name", o.Name))
	}
	return nil
}
