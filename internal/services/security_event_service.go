package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/BradenHooton/authguard/internal/metrics"
	"github.com/BradenHooton/authguard/internal/models"
	pkglogger "github.com/BradenHooton/authguard/pkg/logger"
	"github.com/google/uuid"
)

// Query limits for security event reads
const (
	DefaultEventQueryLimit = models.DefaultEventLimit
	MaxEventQueryLimit     = models.MaxEventLimit
)

// MaxScanEventsPerType caps how many events of one type a window scan loads
const MaxScanEventsPerType = 500000

// DefaultEventWriteTimeout bounds a single event insert on the auth path
const DefaultEventWriteTimeout = 50 * time.Millisecond

// SecurityEventRepository defines persistence for security events
type SecurityEventRepository interface {
	Create(ctx context.Context, event *models.SecurityEvent) error
	Query(ctx context.Context, filter models.EventFilter) ([]*models.SecurityEvent, error)
	Count(ctx context.Context, filter models.EventFilter) (int64, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// SecurityEventService records and queries security events with a dual-write
// pattern: every event goes to slog immediately and is then persisted.
// Persistence failures never reach the caller; the event is logged and dropped.
type SecurityEventService struct {
	repo         SecurityEventRepository
	logger       *slog.Logger
	writeTimeout time.Duration
	now          func() time.Time
}

// NewSecurityEventService creates a new SecurityEventService
func NewSecurityEventService(repo SecurityEventRepository, writeTimeout time.Duration, logger *slog.Logger) *SecurityEventService {
	if writeTimeout <= 0 {
		writeTimeout = DefaultEventWriteTimeout
	}
	return &SecurityEventService{
		repo:         repo,
		logger:       logger,
		writeTimeout: writeTimeout,
		now:          time.Now,
	}
}

// Record appends an event. ID and Timestamp are assigned when unset.
func (s *SecurityEventService) Record(ctx context.Context, event *models.SecurityEvent) {
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = s.now().UTC()
	}
	if event.Details == nil {
		event.Details = models.EventDetails{}
	}

	attrs := []slog.Attr{
		slog.String("event_type", string(event.EventType)),
		slog.Bool("success", event.Success),
		slog.String("ip_address", event.IPAddress),
	}
	if event.Email != nil {
		attrs = append(attrs, slog.String("email", pkglogger.SanitizedEmail(*event.Email)))
	}
	if event.UserID != nil {
		attrs = append(attrs, slog.String("user_id", *event.UserID))
	}

	level := slog.LevelInfo
	if !event.Success {
		level = slog.LevelWarn
	}
	s.logger.LogAttrs(ctx, level, "security event", attrs...)

	// Persist with a bounded wait so the auth path is never held up
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.writeTimeout)
	defer cancel()

	if err := s.repo.Create(writeCtx, event); err != nil {
		metrics.IncEventDropped()
		s.logger.ErrorContext(ctx, "failed to persist security event",
			slog.String("event_type", string(event.EventType)),
			slog.String("event_id", event.ID.String()),
			slog.Any("error", err))
	}
}

// Query returns events matching filter ordered by timestamp descending
func (s *SecurityEventService) Query(ctx context.Context, filter models.EventFilter) ([]*models.SecurityEvent, error) {
	events, err := s.repo.Query(ctx, filter.Paged())
	if err != nil {
		return nil, fmt.Errorf("failed to query security events: %w", err)
	}
	return events, nil
}

// Count returns the number of events matching filter
func (s *SecurityEventService) Count(ctx context.Context, filter models.EventFilter) (int64, error) {
	count, err := s.repo.Count(ctx, filter)
	if err != nil {
		return 0, fmt.Errorf("failed to count security events: %w", err)
	}
	return count, nil
}

// Since returns every event recorded within the last window. With types set,
// only those event types are loaded, each paged separately so a flood of one
// type cannot push another out of the scan.
func (s *SecurityEventService) Since(ctx context.Context, window time.Duration, types ...models.EventType) ([]*models.SecurityEvent, error) {
	end := s.now()
	start := end.Add(-window)
	base := models.EventFilter{StartDate: &start, EndDate: &end}

	if len(types) == 0 {
		return s.scan(ctx, base)
	}

	var events []*models.SecurityEvent
	for _, eventType := range types {
		filter := base
		filter.EventType = &eventType
		page, err := s.scan(ctx, filter)
		if err != nil {
			return nil, err
		}
		events = append(events, page...)
	}
	return events, nil
}

// scan pages through every event matching filter, newest first.
// EndDate pins the result set so concurrent inserts do not shift pages.
func (s *SecurityEventService) scan(ctx context.Context, filter models.EventFilter) ([]*models.SecurityEvent, error) {
	var events []*models.SecurityEvent
	filter.Limit = MaxEventQueryLimit
	for filter.Offset = 0; ; filter.Offset += MaxEventQueryLimit {
		page, err := s.Query(ctx, filter)
		if err != nil {
			return nil, err
		}
		events = append(events, page...)
		if len(page) < MaxEventQueryLimit {
			return events, nil
		}
		if len(events) >= MaxScanEventsPerType {
			attrs := []any{slog.Int("loaded", len(events))}
			if filter.EventType != nil {
				attrs = append(attrs, slog.String("event_type", string(*filter.EventType)))
			}
			s.logger.Warn("event scan truncated", attrs...)
			return events, nil
		}
	}
}

// CleanupOlderThan deletes events older than days and returns how many were removed
func (s *SecurityEventService) CleanupOlderThan(ctx context.Context, days int) (int64, error) {
	if days <= 0 {
		return 0, fmt.Errorf("retention must be at least one day: %w", models.ErrBadRequest)
	}

	cutoff := s.now().Add(-time.Duration(days) * 24 * time.Hour)
	deleted, err := s.repo.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup security events: %w", err)
	}

	if deleted > 0 {
		s.logger.Info("security event retention cleanup",
			slog.Int("retention_days", days),
			slog.Int64("deleted", deleted))
	}
	return deleted, nil
}

func stringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
