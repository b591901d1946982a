package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/BradenHooton/authguard/internal/metrics"
	"github.com/BradenHooton/authguard/internal/models"
	"github.com/google/uuid"
)

// DefaultMaxActiveAlerts bounds the in-memory active alert set
const DefaultMaxActiveAlerts = 1000

// EventCounter counts stored events matching a filter
type EventCounter interface {
	Count(ctx context.Context, filter models.EventFilter) (int64, error)
}

// AdminNotifier fans an alert out to the configured admin recipients and
// returns how many deliveries succeeded
type AdminNotifier interface {
	NotifyAdmins(ctx context.Context, title, body, ipAddress string) int
}

// DefaultAlertThresholds returns the built-in alerting rules
func DefaultAlertThresholds() []models.AlertThreshold {
	loginAttempt := models.EventTypeLoginAttempt
	resetRequest := models.EventTypePasswordResetRequest
	registration := models.EventTypeRegistration
	lockout := models.EventTypeAccountLockout
	suspicious := models.EventTypeSuspiciousActivity
	failed := false

	return []models.AlertThreshold{
		{
			Name:              "brute_force_detection",
			EventType:         &loginAttempt,
			Success:           &failed,
			Condition:         models.ConditionCountExceeds,
			Threshold:         10,
			TimeWindowMinutes: 15,
			Severity:          models.SeverityHigh,
			Enabled:           true,
		},
		{
			Name:              "password_reset_abuse",
			EventType:         &resetRequest,
			Condition:         models.ConditionCountExceeds,
			Threshold:         5,
			TimeWindowMinutes: 60,
			Severity:          models.SeverityMedium,
			Enabled:           true,
		},
		{
			Name:              "rapid_registration",
			EventType:         &registration,
			Condition:         models.ConditionRateExceeds,
			Threshold:         10,
			TimeWindowMinutes: 60,
			Severity:          models.SeverityMedium,
			Enabled:           true,
		},
		{
			Name:              "account_lockout_spike",
			EventType:         &lockout,
			Condition:         models.ConditionCountExceeds,
			Threshold:         5,
			TimeWindowMinutes: 30,
			Severity:          models.SeverityHigh,
			Enabled:           true,
		},
		{
			Name:              "suspicious_activity_spike",
			EventType:         &suspicious,
			Condition:         models.ConditionCountExceeds,
			Threshold:         3,
			TimeWindowMinutes: 15,
			Severity:          models.SeverityCritical,
			Enabled:           true,
		},
	}
}

// AlertService evaluates thresholds over stored events and tracks raised alerts.
// Thresholds and the active alert set share one mutex; notification happens
// outside it.
type AlertService struct {
	counter   EventCounter
	notifier  AdminNotifier
	logger    *slog.Logger
	now       func() time.Time
	maxActive int

	mu         sync.RWMutex
	thresholds []models.AlertThreshold
	alerts     map[string]*models.SecurityAlert
}

// NewAlertService creates a new AlertService. A nil thresholds slice selects
// DefaultAlertThresholds; a non-positive maxActive selects DefaultMaxActiveAlerts.
func NewAlertService(counter EventCounter, notifier AdminNotifier, thresholds []models.AlertThreshold, maxActive int, logger *slog.Logger) *AlertService {
	if thresholds == nil {
		thresholds = DefaultAlertThresholds()
	}
	if maxActive <= 0 {
		maxActive = DefaultMaxActiveAlerts
	}
	return &AlertService{
		counter:    counter,
		notifier:   notifier,
		logger:     logger,
		now:        time.Now,
		maxActive:  maxActive,
		thresholds: cloneThresholds(thresholds),
		alerts:     make(map[string]*models.SecurityAlert),
	}
}

// CheckAlertThresholds evaluates every enabled threshold and returns the alerts raised.
// A threshold whose count query fails is skipped; the failures are joined into the error
// while alerts from the other thresholds are still returned.
func (s *AlertService) CheckAlertThresholds(ctx context.Context) ([]*models.SecurityAlert, error) {
	var (
		raised []*models.SecurityAlert
		errs   []error
	)

	for _, t := range s.GetAlertThresholds() {
		if !t.Enabled {
			continue
		}

		count, err := s.countFor(ctx, t)
		if err != nil {
			s.logger.Error("alert threshold check failed",
				slog.String("threshold", t.Name),
				slog.Any("error", err))
			errs = append(errs, fmt.Errorf("threshold %s: %w", t.Name, err))
			continue
		}

		if !t.Exceeded(count) {
			continue
		}

		alert := s.newAlert(t, count)
		s.addAlert(alert)
		metrics.IncAlertRaised(alert.Type)

		s.logger.Warn("security alert raised",
			slog.String("alert_id", alert.ID),
			slog.String("type", alert.Type),
			slog.String("severity", string(alert.Severity)),
			slog.Int64("count", count))

		if s.notifier != nil {
			s.notifier.NotifyAdmins(ctx, alert.Title, alert.Description, "")
		}

		raised = append(raised, copyAlert(alert))
	}

	return raised, errors.Join(errs...)
}

// GetActiveAlerts returns the active alerts, newest first
func (s *AlertService) GetActiveAlerts() []*models.SecurityAlert {
	s.mu.RLock()
	defer s.mu.RUnlock()

	alerts := make([]*models.SecurityAlert, 0, len(s.alerts))
	for _, a := range s.alerts {
		alerts = append(alerts, copyAlert(a))
	}
	sort.Slice(alerts, func(i, j int) bool {
		if alerts[i].DetectedAt.Equal(alerts[j].DetectedAt) {
			return alerts[i].ID < alerts[j].ID
		}
		return alerts[i].DetectedAt.After(alerts[j].DetectedAt)
	})
	return alerts
}

// AcknowledgeAlert marks an alert acknowledged. Returns false when id is unknown.
// Acknowledging twice keeps the first acknowledger.
func (s *AlertService) AcknowledgeAlert(id, acknowledgedBy string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	alert, ok := s.alerts[id]
	if !ok {
		return false
	}
	if alert.Acknowledged {
		return true
	}

	now := s.now().UTC()
	alert.Acknowledged = true
	alert.AcknowledgedBy = &acknowledgedBy
	alert.AcknowledgedAt = &now

	s.logger.Info("security alert acknowledged",
		slog.String("alert_id", id),
		slog.String("acknowledged_by", acknowledgedBy))
	return true
}

// ClearAcknowledged drops acknowledged alerts and returns how many were removed
func (s *AlertService) ClearAcknowledged() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, a := range s.alerts {
		if a.Acknowledged {
			delete(s.alerts, id)
			removed++
		}
	}
	return removed
}

// GetStats summarises the active alert set
func (s *AlertService) GetStats() *models.AlertStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := &models.AlertStats{
		BySeverity: make(map[models.Severity]int),
		ByType:     make(map[string]int),
	}
	for _, a := range s.alerts {
		stats.Total++
		if a.Acknowledged {
			stats.Acknowledged++
		} else {
			stats.Unacknowledged++
		}
		stats.BySeverity[a.Severity]++
		stats.ByType[a.Type]++
	}
	return stats
}

// UpdateAlertThreshold applies a partial update to the named threshold.
// Returns false when no threshold has that name.
func (s *AlertService) UpdateAlertThreshold(name string, update models.AlertThresholdUpdate) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.thresholds {
		if s.thresholds[i].Name == name {
			update.Apply(&s.thresholds[i])
			s.logger.Info("alert threshold updated",
				slog.String("threshold", name),
				slog.Float64("value", s.thresholds[i].Threshold),
				slog.Bool("enabled", s.thresholds[i].Enabled))
			return true
		}
	}
	return false
}

// GetAlertThresholds returns a copy of the configured thresholds
func (s *AlertService) GetAlertThresholds() []models.AlertThreshold {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneThresholds(s.thresholds)
}

func (s *AlertService) countFor(ctx context.Context, t models.AlertThreshold) (int64, error) {
	start := s.now().Add(-time.Duration(t.TimeWindowMinutes) * time.Minute)
	return s.counter.Count(ctx, models.EventFilter{
		EventType: t.EventType,
		Success:   t.Success,
		StartDate: &start,
	})
}

func (s *AlertService) newAlert(t models.AlertThreshold, count int64) *models.SecurityAlert {
	eventType := "any"
	if t.EventType != nil {
		eventType = string(*t.EventType)
	}

	description := fmt.Sprintf("%d %s events in the last %d minutes (threshold: %s %g)",
		count, eventType, t.TimeWindowMinutes, t.Condition, t.Threshold)

	details := map[string]interface{}{
		"eventType":         eventType,
		"condition":         string(t.Condition),
		"threshold":         t.Threshold,
		"timeWindowMinutes": t.TimeWindowMinutes,
	}
	if t.TimeWindowMinutes > 0 {
		details["ratePerMinute"] = round2(float64(count) / float64(t.TimeWindowMinutes))
	}

	return &models.SecurityAlert{
		ID:          uuid.New().String(),
		Type:        t.Name,
		Severity:    t.Severity,
		Title:       fmt.Sprintf("[%s] Security alert: %s", t.Severity, t.Name),
		Description: description,
		Count:       count,
		DetectedAt:  s.now().UTC(),
		Details:     details,
	}
}

// addAlert stores alert, evicting when the set is full: the oldest acknowledged
// alert goes first, otherwise the oldest alert overall
func (s *AlertService) addAlert(alert *models.SecurityAlert) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for len(s.alerts) >= s.maxActive {
		victim := s.oldestAlert(true)
		if victim == nil {
			victim = s.oldestAlert(false)
			s.logger.Warn("active alert set full, evicting unacknowledged alert",
				slog.String("alert_id", victim.ID),
				slog.String("type", victim.Type))
		}
		delete(s.alerts, victim.ID)
	}

	s.alerts[alert.ID] = alert
}

func (s *AlertService) oldestAlert(acknowledgedOnly bool) *models.SecurityAlert {
	var oldest *models.SecurityAlert
	for _, a := range s.alerts {
		if acknowledgedOnly && !a.Acknowledged {
			continue
		}
		if oldest == nil || a.DetectedAt.Before(oldest.DetectedAt) ||
			(a.DetectedAt.Equal(oldest.DetectedAt) && a.ID < oldest.ID) {
			oldest = a
		}
	}
	return oldest
}

func copyAlert(a *models.SecurityAlert) *models.SecurityAlert {
	c := *a
	if a.Details != nil {
		c.Details = make(map[string]interface{}, len(a.Details))
		for k, v := range a.Details {
			c.Details[k] = v
		}
	}
	return &c
}

func cloneThresholds(in []models.AlertThreshold) []models.AlertThreshold {
	out := make([]models.AlertThreshold, len(in))
	for i, t := range in {
		if t.EventType != nil {
			et := *t.EventType
			t.EventType = &et
		}
		if t.Success != nil {
			ok := *t.Success
			t.Success = &ok
		}
		out[i] = t
	}
	return out
}
