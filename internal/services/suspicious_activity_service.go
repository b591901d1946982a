package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/BradenHooton/authguard/internal/metrics"
	"github.com/BradenHooton/authguard/internal/models"
)

// DefaultDetectionWindow is the look-back used when callers pass a non-positive window
const DefaultDetectionWindow = 60 * time.Minute

// EventSource reads recent events and records new ones
type EventSource interface {
	EventRecorder
	Since(ctx context.Context, window time.Duration, types ...models.EventType) ([]*models.SecurityEvent, error)
}

// SuspiciousActivityService runs the pattern detectors over recent events
type SuspiciousActivityService struct {
	events    EventSource
	detectors []PatternDetector
	logger    *slog.Logger
	now       func() time.Time
}

// NewSuspiciousActivityService creates a new SuspiciousActivityService.
// A nil detector list selects DefaultPatternDetectors.
func NewSuspiciousActivityService(events EventSource, detectors []PatternDetector, logger *slog.Logger) *SuspiciousActivityService {
	if detectors == nil {
		detectors = DefaultPatternDetectors()
	}
	return &SuspiciousActivityService{
		events:    events,
		detectors: detectors,
		logger:    logger,
		now:       time.Now,
	}
}

// Detect scans events from the last window and returns every pattern found,
// highest severity first. Each pattern is also recorded as a SUSPICIOUS_ACTIVITY event.
// A failing detector is logged and skipped.
func (s *SuspiciousActivityService) Detect(ctx context.Context, window time.Duration) ([]*models.SuspiciousActivityPattern, error) {
	if window <= 0 {
		window = DefaultDetectionWindow
	}

	events, err := s.events.Since(ctx, window, s.eventTypes()...)
	if err != nil {
		return nil, fmt.Errorf("failed to load events for detection: %w", err)
	}

	detectedAt := s.now().UTC()
	var patterns []*models.SuspiciousActivityPattern
	for _, d := range s.detectors {
		found := s.runDetector(d, events, window)
		for _, p := range found {
			p.DetectedAt = detectedAt
			if p.Details == nil {
				p.Details = map[string]interface{}{}
			}
		}
		patterns = append(patterns, found...)
	}

	sortPatterns(patterns)

	for _, p := range patterns {
		metrics.IncPatternDetected(string(p.Type))
		s.recordPattern(ctx, p)
	}

	if len(patterns) > 0 {
		s.logger.Warn("suspicious activity detected",
			slog.Int("patterns", len(patterns)),
			slog.Int("events_scanned", len(events)),
			slog.Duration("window", window))
	}

	return patterns, nil
}

// eventTypes is the union of the detectors' event types, or nil when any
// detector reads every event
func (s *SuspiciousActivityService) eventTypes() []models.EventType {
	seen := make(map[models.EventType]bool)
	var types []models.EventType
	for _, d := range s.detectors {
		if len(d.EventTypes) == 0 {
			return nil
		}
		for _, t := range d.EventTypes {
			if !seen[t] {
				seen[t] = true
				types = append(types, t)
			}
		}
	}
	return types
}

func (s *SuspiciousActivityService) runDetector(d PatternDetector, events []*models.SecurityEvent, window time.Duration) (found []*models.SuspiciousActivityPattern) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("pattern detector panicked",
				slog.String("detector", string(d.Name)),
				slog.Any("panic", r))
			found = nil
		}
	}()
	return d.Detect(events, window)
}

func (s *SuspiciousActivityService) recordPattern(ctx context.Context, p *models.SuspiciousActivityPattern) {
	details := models.EventDetails{
		"patternType": string(p.Type),
		"severity":    string(p.Severity),
		"description": p.Description,
		"count":       p.Count,
		"timeWindow":  p.TimeWindow,
	}
	for k, v := range p.Details {
		details[k] = v
	}

	event := &models.SecurityEvent{
		UserID:    p.UserID,
		Email:     p.Email,
		EventType: models.EventTypeSuspiciousActivity,
		Success:   false,
		Details:   details,
	}
	if p.IPAddress != nil {
		event.IPAddress = *p.IPAddress
	}
	s.events.Record(ctx, event)
}
