package services_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/BradenHooton/authguard/internal/models"
	"github.com/BradenHooton/authguard/internal/repositories"
	"github.com/BradenHooton/authguard/internal/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// MockEventCounter implements EventCounter for testing
type MockEventCounter struct {
	CountFunc func(ctx context.Context, filter models.EventFilter) (int64, error)
}

func (m *MockEventCounter) Count(ctx context.Context, filter models.EventFilter) (int64, error) {
	if m.CountFunc != nil {
		return m.CountFunc(ctx, filter)
	}
	return 0, nil
}

func constantCount(n int64) *MockEventCounter {
	return &MockEventCounter{
		CountFunc: func(ctx context.Context, filter models.EventFilter) (int64, error) {
			return n, nil
		},
	}
}

func singleThreshold(name string, threshold float64) []models.AlertThreshold {
	return []models.AlertThreshold{{
		Name:              name,
		Condition:         models.ConditionCountExceeds,
		Threshold:         threshold,
		TimeWindowMinutes: 15,
		Severity:          models.SeverityHigh,
		Enabled:           true,
	}}
}

func TestAlertService_BruteForceThreshold(t *testing.T) {
	ctx := context.Background()
	events := services.NewSecurityEventService(repositories.NewMemorySecurityEventRepository(), 0, testLogger())
	for i := 0; i < 15; i++ {
		events.Record(ctx, &models.SecurityEvent{
			EventType: models.EventTypeLoginAttempt,
			Email:     stringRef("alice@example.com"),
			IPAddress: "203.0.113.5",
			Success:   false,
		})
	}
	notifier := &MockAdminNotifier{}
	service := services.NewAlertService(events, notifier, nil, 0, testLogger())

	alerts, err := service.CheckAlertThresholds(ctx)

	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.Equal(t, "brute_force_detection", alerts[0].Type)
	assert.Equal(t, models.SeverityHigh, alerts[0].Severity)
	assert.Equal(t, int64(15), alerts[0].Count)
	assert.False(t, alerts[0].Acknowledged)
	assert.Equal(t, "[HIGH] Security alert: brute_force_detection", alerts[0].Title)
	assert.Equal(t, 1, notifier.Count())

	active := service.GetActiveAlerts()
	require.Len(t, active, 1)
	assert.Equal(t, alerts[0].ID, active[0].ID)
}

func TestAlertService_RateExceeds(t *testing.T) {
	// 700 registrations over 60 minutes is 11.67/min, above the rate of 10
	service := services.NewAlertService(&MockEventCounter{
		CountFunc: func(ctx context.Context, filter models.EventFilter) (int64, error) {
			if filter.EventType != nil && *filter.EventType == models.EventTypeRegistration {
				return 700, nil
			}
			return 0, nil
		},
	}, nil, nil, 0, testLogger())

	alerts, err := service.CheckAlertThresholds(context.Background())

	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.Equal(t, "rapid_registration", alerts[0].Type)
	assert.InDelta(t, 11.67, alerts[0].Details["ratePerMinute"], 0.001)
}

func TestAlertService_CountWindowMatchesThreshold(t *testing.T) {
	clock := newFixedClock()
	var filter models.EventFilter
	counter := &MockEventCounter{
		CountFunc: func(ctx context.Context, f models.EventFilter) (int64, error) {
			filter = f
			return 0, nil
		},
	}
	service := services.NewAlertService(counter, nil, singleThreshold("custom", 1), 0, testLogger())
	services.SetAlertClock(service, clock.Now)

	_, err := service.CheckAlertThresholds(context.Background())

	require.NoError(t, err)
	require.NotNil(t, filter.StartDate)
	assert.Equal(t, clock.Now().Add(-15*time.Minute), *filter.StartDate)
}

func TestAlertService_DisabledThresholdsRaiseNothing(t *testing.T) {
	notifier := &MockAdminNotifier{}
	service := services.NewAlertService(constantCount(1000), notifier, nil, 0, testLogger())

	disabled := false
	for _, threshold := range service.GetAlertThresholds() {
		require.True(t, service.UpdateAlertThreshold(threshold.Name, models.AlertThresholdUpdate{Enabled: &disabled}))
	}

	alerts, err := service.CheckAlertThresholds(context.Background())

	require.NoError(t, err)
	assert.Empty(t, alerts)
	assert.Equal(t, 0, notifier.Count())
	assert.Empty(t, service.GetActiveAlerts())
}

func TestAlertService_CountErrorSkipsThreshold(t *testing.T) {
	counter := &MockEventCounter{
		CountFunc: func(ctx context.Context, filter models.EventFilter) (int64, error) {
			if filter.EventType != nil && *filter.EventType == models.EventTypeAccountLockout {
				return 0, errors.New("statement timeout")
			}
			return 100, nil
		},
	}
	service := services.NewAlertService(counter, nil, nil, 0, testLogger())

	alerts, err := service.CheckAlertThresholds(context.Background())

	assert.Error(t, err)
	assert.Contains(t, err.Error(), "account_lockout_spike")
	// rapid_registration stays under its rate at this count
	assert.Len(t, alerts, 3)
}

func TestAlertService_EachCheckRaisesNewAlert(t *testing.T) {
	service := services.NewAlertService(constantCount(5), nil, singleThreshold("custom", 1), 0, testLogger())

	first, err := service.CheckAlertThresholds(context.Background())
	require.NoError(t, err)
	second, err := service.CheckAlertThresholds(context.Background())
	require.NoError(t, err)

	require.Len(t, first, 1)
	require.Len(t, second, 1)
	assert.NotEqual(t, first[0].ID, second[0].ID)
	assert.Len(t, service.GetActiveAlerts(), 2)
}

func TestAlertService_AcknowledgeAlert(t *testing.T) {
	clock := newFixedClock()
	service := services.NewAlertService(constantCount(5), nil, singleThreshold("custom", 1), 0, testLogger())
	services.SetAlertClock(service, clock.Now)

	alerts, err := service.CheckAlertThresholds(context.Background())
	require.NoError(t, err)
	require.Len(t, alerts, 1)

	assert.False(t, service.AcknowledgeAlert("unknown-id", "admin-1"))
	assert.True(t, service.AcknowledgeAlert(alerts[0].ID, "admin-1"))
	assert.True(t, service.AcknowledgeAlert(alerts[0].ID, "admin-2"))

	active := service.GetActiveAlerts()
	require.Len(t, active, 1)
	assert.True(t, active[0].Acknowledged)
	require.NotNil(t, active[0].AcknowledgedBy)
	assert.Equal(t, "admin-1", *active[0].AcknowledgedBy)
	require.NotNil(t, active[0].AcknowledgedAt)
	assert.Equal(t, clock.Now().UTC(), *active[0].AcknowledgedAt)
}

func TestAlertService_ReturnedAlertsAreCopies(t *testing.T) {
	service := services.NewAlertService(constantCount(5), nil, singleThreshold("custom", 1), 0, testLogger())

	alerts, err := service.CheckAlertThresholds(context.Background())
	require.NoError(t, err)
	require.Len(t, alerts, 1)

	alerts[0].Acknowledged = true
	alerts[0].Details["threshold"] = -1

	active := service.GetActiveAlerts()
	assert.False(t, active[0].Acknowledged)
	assert.Equal(t, 1.0, active[0].Details["threshold"])
}

func TestAlertService_UpdateAlertThreshold(t *testing.T) {
	service := services.NewAlertService(constantCount(0), nil, nil, 0, testLogger())

	value := 42.0
	severity := models.SeverityCritical
	assert.False(t, service.UpdateAlertThreshold("no_such_rule", models.AlertThresholdUpdate{Threshold: &value}))
	assert.True(t, service.UpdateAlertThreshold("password_reset_abuse", models.AlertThresholdUpdate{
		Threshold: &value,
		Severity:  &severity,
	}))

	for _, threshold := range service.GetAlertThresholds() {
		if threshold.Name == "password_reset_abuse" {
			assert.Equal(t, 42.0, threshold.Threshold)
			assert.Equal(t, models.SeverityCritical, threshold.Severity)
			assert.Equal(t, 60, threshold.TimeWindowMinutes)
			assert.True(t, threshold.Enabled)
		}
	}
}

func TestAlertService_GetAlertThresholdsIsACopy(t *testing.T) {
	service := services.NewAlertService(constantCount(0), nil, nil, 0, testLogger())

	thresholds := service.GetAlertThresholds()
	require.NotEmpty(t, thresholds)
	thresholds[0].Threshold = 9999
	*thresholds[0].EventType = models.EventTypeRegistration

	fresh := service.GetAlertThresholds()
	assert.Equal(t, 10.0, fresh[0].Threshold)
	assert.Equal(t, models.EventTypeLoginAttempt, *fresh[0].EventType)
}

func TestAlertService_BoundedActiveSet(t *testing.T) {
	clock := newFixedClock()
	service := services.NewAlertService(constantCount(5), nil, singleThreshold("custom", 1), 3, testLogger())
	services.SetAlertClock(service, clock.Now)

	var ids []string
	for i := 0; i < 3; i++ {
		alerts, err := service.CheckAlertThresholds(context.Background())
		require.NoError(t, err)
		ids = append(ids, alerts[0].ID)
		clock.Advance(time.Minute)
	}

	// The acknowledged alert is evicted before any older unacknowledged one
	require.True(t, service.AcknowledgeAlert(ids[1], "admin-1"))
	_, err := service.CheckAlertThresholds(context.Background())
	require.NoError(t, err)

	active := service.GetActiveAlerts()
	require.Len(t, active, 3)
	for _, a := range active {
		assert.NotEqual(t, ids[1], a.ID)
	}

	// With nothing acknowledged the oldest alert goes
	clock.Advance(time.Minute)
	_, err = service.CheckAlertThresholds(context.Background())
	require.NoError(t, err)

	active = service.GetActiveAlerts()
	require.Len(t, active, 3)
	for _, a := range active {
		assert.NotEqual(t, ids[0], a.ID)
	}
}

func TestAlertService_ClearAcknowledgedAndStats(t *testing.T) {
	service := services.NewAlertService(constantCount(5), nil, singleThreshold("custom", 1), 0, testLogger())

	var ids []string
	for i := 0; i < 3; i++ {
		alerts, err := service.CheckAlertThresholds(context.Background())
		require.NoError(t, err)
		ids = append(ids, alerts[0].ID)
	}
	require.True(t, service.AcknowledgeAlert(ids[0], "admin-1"))

	stats := service.GetStats()
	assert.Equal(t, 3, stats.Total)
	assert.Equal(t, 1, stats.Acknowledged)
	assert.Equal(t, 2, stats.Unacknowledged)
	assert.Equal(t, 3, stats.BySeverity[models.SeverityHigh])
	assert.Equal(t, 3, stats.ByType["custom"])

	assert.Equal(t, 1, service.ClearAcknowledged())
	assert.Equal(t, 0, service.ClearAcknowledged())
	assert.Equal(t, 2, service.GetStats().Total)
}

func TestAlertService_ConcurrentAccess(t *testing.T) {
	service := services.NewAlertService(constantCount(5), &MockAdminNotifier{}, singleThreshold("custom", 1), 50, testLogger())

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(3)
		go func() {
			defer wg.Done()
			_, _ = service.CheckAlertThresholds(context.Background())
		}()
		go func() {
			defer wg.Done()
			for _, a := range service.GetActiveAlerts() {
				service.AcknowledgeAlert(a.ID, "admin-1")
			}
		}()
		go func() {
			defer wg.Done()
			value := 2.0
			service.UpdateAlertThreshold("custom", models.AlertThresholdUpdate{Threshold: &value})
			_ = service.GetStats()
		}()
	}
	wg.Wait()

	assert.Len(t, service.GetActiveAlerts(), 10)
}

func stringRef(s string) *string {
	return &s
}
