package background

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// EventCleaner deletes security events past their retention
type EventCleaner interface {
	CleanupOlderThan(ctx context.Context, days int) (int64, error)
}

// CleanupManager periodically enforces security event retention
type CleanupManager struct {
	events        EventCleaner
	logger        *slog.Logger
	interval      time.Duration
	retentionDays int
	stopCh        chan struct{}
	stopOnce      sync.Once
}

// NewCleanupManager creates a new cleanup manager
func NewCleanupManager(
	events EventCleaner,
	retentionDays int,
	logger *slog.Logger,
	interval time.Duration,
) *CleanupManager {
	return &CleanupManager{
		events:        events,
		logger:        logger,
		interval:      interval,
		retentionDays: retentionDays,
		stopCh:        make(chan struct{}),
	}
}

// Start begins the periodic cleanup task. It blocks until Stop or ctx cancellation.
func (cm *CleanupManager) Start(ctx context.Context) {
	ticker := time.NewTicker(cm.interval)
	defer ticker.Stop()

	// Run immediately on startup
	cm.RunOnce(ctx)

	for {
		select {
		case <-ticker.C:
			cm.RunOnce(ctx)
		case <-cm.stopCh:
			cm.logger.Info("cleanup manager stopped")
			return
		case <-ctx.Done():
			cm.logger.Info("cleanup manager context cancelled")
			return
		}
	}
}

// RunOnce deletes events older than the retention period
func (cm *CleanupManager) RunOnce(ctx context.Context) int64 {
	cm.logger.Info("starting security event retention cleanup", slog.Int("retention_days", cm.retentionDays))

	cleanupCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	rowsDeleted, err := cm.events.CleanupOlderThan(cleanupCtx, cm.retentionDays)
	if err != nil {
		cm.logger.Error("failed to cleanup security events", slog.Any("error", err))
		return 0
	}

	if rowsDeleted > 0 {
		cm.logger.Info("security event cleanup completed", slog.Int64("rows_deleted", rowsDeleted))
	}
	return rowsDeleted
}

// Stop signals the cleanup manager to stop. Safe to call more than once.
func (cm *CleanupManager) Stop() {
	cm.stopOnce.Do(func() { close(cm.stopCh) })
}
