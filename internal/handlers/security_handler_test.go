package handlers_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BradenHooton/authguard/internal/auth"
	"github.com/BradenHooton/authguard/internal/background"
	"github.com/BradenHooton/authguard/internal/handlers"
	"github.com/BradenHooton/authguard/internal/models"
)

// mockEventQuerier implements handlers.EventQuerier for testing
type mockEventQuerier struct {
	QueryFunc func(ctx context.Context, filter models.EventFilter) ([]*models.SecurityEvent, error)
	CountFunc func(ctx context.Context, filter models.EventFilter) (int64, error)
}

func (m *mockEventQuerier) Query(ctx context.Context, filter models.EventFilter) ([]*models.SecurityEvent, error) {
	if m.QueryFunc == nil {
		return nil, nil
	}
	return m.QueryFunc(ctx, filter)
}

func (m *mockEventQuerier) Count(ctx context.Context, filter models.EventFilter) (int64, error) {
	if m.CountFunc == nil {
		return 0, nil
	}
	return m.CountFunc(ctx, filter)
}

// mockPatternScanner implements handlers.PatternScanner for testing
type mockPatternScanner struct {
	DetectFunc func(ctx context.Context, window time.Duration) ([]*models.SuspiciousActivityPattern, error)
}

func (m *mockPatternScanner) Detect(ctx context.Context, window time.Duration) ([]*models.SuspiciousActivityPattern, error) {
	if m.DetectFunc == nil {
		return nil, nil
	}
	return m.DetectFunc(ctx, window)
}

// mockAlertManager implements handlers.AlertManager for testing
type mockAlertManager struct {
	CheckFunc       func(ctx context.Context) ([]*models.SecurityAlert, error)
	ActiveFunc      func() []*models.SecurityAlert
	AcknowledgeFunc func(id, by string) bool
	ClearFunc       func() int
	StatsFunc       func() *models.AlertStats
	UpdateFunc      func(name string, update models.AlertThresholdUpdate) bool
	ThresholdsFunc  func() []models.AlertThreshold
}

func (m *mockAlertManager) CheckAlertThresholds(ctx context.Context) ([]*models.SecurityAlert, error) {
	if m.CheckFunc == nil {
		return nil, nil
	}
	return m.CheckFunc(ctx)
}

func (m *mockAlertManager) GetActiveAlerts() []*models.SecurityAlert {
	if m.ActiveFunc == nil {
		return []*models.SecurityAlert{}
	}
	return m.ActiveFunc()
}

func (m *mockAlertManager) AcknowledgeAlert(id, by string) bool {
	if m.AcknowledgeFunc == nil {
		return false
	}
	return m.AcknowledgeFunc(id, by)
}

func (m *mockAlertManager) ClearAcknowledged() int {
	if m.ClearFunc == nil {
		return 0
	}
	return m.ClearFunc()
}

func (m *mockAlertManager) GetStats() *models.AlertStats {
	if m.StatsFunc == nil {
		return &models.AlertStats{}
	}
	return m.StatsFunc()
}

func (m *mockAlertManager) UpdateAlertThreshold(name string, update models.AlertThresholdUpdate) bool {
	if m.UpdateFunc == nil {
		return false
	}
	return m.UpdateFunc(name, update)
}

func (m *mockAlertManager) GetAlertThresholds() []models.AlertThreshold {
	if m.ThresholdsFunc == nil {
		return nil
	}
	return m.ThresholdsFunc()
}

// mockMonitor implements handlers.MonitorController for testing
type mockMonitor struct {
	running  bool
	interval time.Duration
	runs     int
}

func (m *mockMonitor) Start(interval time.Duration) bool {
	if m.running {
		return false
	}
	m.running, m.interval = true, interval
	return true
}

func (m *mockMonitor) Stop() bool {
	if !m.running {
		return false
	}
	m.running = false
	return true
}

func (m *mockMonitor) Status() background.MonitorStatus {
	return background.MonitorStatus{IsRunning: m.running, IntervalMinutes: m.interval.Minutes()}
}

func (m *mockMonitor) RunNow(ctx context.Context) background.CycleResult {
	m.runs++
	return background.CycleResult{Patterns: 2, Alerts: 1}
}

// mockLockouts implements handlers.LockoutManager for testing
type mockLockouts struct {
	IsLockedFunc     func(ctx context.Context, identity string) models.LockoutStatus
	ClearLockoutFunc func(ctx context.Context, identity, clearedBy string) error
}

func (m *mockLockouts) IsLocked(ctx context.Context, identity string) models.LockoutStatus {
	if m.IsLockedFunc == nil {
		return models.LockoutStatus{}
	}
	return m.IsLockedFunc(ctx, identity)
}

func (m *mockLockouts) ClearLockout(ctx context.Context, identity, clearedBy string) error {
	if m.ClearLockoutFunc == nil {
		return nil
	}
	return m.ClearLockoutFunc(ctx, identity, clearedBy)
}

// mockAttempts implements handlers.AttemptTracker for testing
type mockAttempts struct {
	GetStatsFunc func(ctx context.Context, email string) *models.LoginAttemptStats
	ResetFunc    func(ctx context.Context, email string) error
}

func (m *mockAttempts) GetStats(ctx context.Context, email string) *models.LoginAttemptStats {
	if m.GetStatsFunc == nil {
		return &models.LoginAttemptStats{Email: email}
	}
	return m.GetStatsFunc(ctx, email)
}

func (m *mockAttempts) ResetLoginAttempts(ctx context.Context, email string) error {
	if m.ResetFunc == nil {
		return nil
	}
	return m.ResetFunc(ctx, email)
}

type handlerDeps struct {
	events   *mockEventQuerier
	scanner  *mockPatternScanner
	alerts   *mockAlertManager
	monitor  *mockMonitor
	lockouts *mockLockouts
	attempts *mockAttempts
}

func newHandler(d *handlerDeps) *handlers.SecurityHandler {
	if d.events == nil {
		d.events = &mockEventQuerier{}
	}
	if d.scanner == nil {
		d.scanner = &mockPatternScanner{}
	}
	if d.alerts == nil {
		d.alerts = &mockAlertManager{}
	}
	if d.monitor == nil {
		d.monitor = &mockMonitor{}
	}
	if d.lockouts == nil {
		d.lockouts = &mockLockouts{}
	}
	if d.attempts == nil {
		d.attempts = &mockAttempts{}
	}
	return handlers.NewSecurityHandler(d.events, d.scanner, d.alerts, d.monitor, d.lockouts, d.attempts, testLogger())
}

// withURLParams attaches chi route params and admin claims to req
func withURLParams(req *http.Request, params map[string]string) *http.Request {
	rctx := chi.NewRouteContext()
	for k, v := range params {
		rctx.URLParams.Add(k, v)
	}
	ctx := context.WithValue(req.Context(), chi.RouteCtxKey, rctx)
	ctx = context.WithValue(ctx, auth.UserContextKey, &models.TokenClaims{UserID: "op-1", Role: models.RoleAdmin})
	return req.WithContext(ctx)
}

func TestListEvents_BuildsFilter(t *testing.T) {
	var got models.EventFilter
	deps := &handlerDeps{events: &mockEventQuerier{
		QueryFunc: func(ctx context.Context, filter models.EventFilter) ([]*models.SecurityEvent, error) {
			got = filter
			return []*models.SecurityEvent{{EventType: models.EventTypeLoginAttempt}}, nil
		},
		CountFunc: func(ctx context.Context, filter models.EventFilter) (int64, error) {
			assert.Zero(t, filter.Limit)
			return 42, nil
		},
	}}
	h := newHandler(deps)

	req := httptest.NewRequest(http.MethodGet,
		"/admin/security/events?event_type=login_attempt&success=false&ip_address=10.0.0.1&limit=10&offset=20&start_date=2026-01-01T00:00:00Z", nil)
	w := httptest.NewRecorder()
	h.ListEvents(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	require.NotNil(t, got.EventType)
	assert.Equal(t, models.EventTypeLoginAttempt, *got.EventType)
	require.NotNil(t, got.Success)
	assert.False(t, *got.Success)
	assert.Equal(t, "10.0.0.1", *got.IPAddress)
	assert.Equal(t, 10, got.Limit)
	assert.Equal(t, 20, got.Offset)
	require.NotNil(t, got.StartDate)

	var resp handlers.EventListResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Len(t, resp.Events, 1)
	assert.Equal(t, int64(42), resp.Total)
}

func TestListEvents_ReportsEffectiveLimit(t *testing.T) {
	var got models.EventFilter
	deps := &handlerDeps{events: &mockEventQuerier{
		QueryFunc: func(ctx context.Context, filter models.EventFilter) ([]*models.SecurityEvent, error) {
			got = filter
			return nil, nil
		},
	}}
	h := newHandler(deps)

	w := httptest.NewRecorder()
	h.ListEvents(w, httptest.NewRequest(http.MethodGet, "/admin/security/events", nil))

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, models.DefaultEventLimit, got.Limit)

	var resp handlers.EventListResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, models.DefaultEventLimit, resp.Limit)
	assert.Equal(t, 0, resp.Offset)
	assert.Empty(t, resp.Events)
}

func TestListEvents_RejectsInvalidFilters(t *testing.T) {
	queries := []string{
		"event_type=NOT_A_TYPE",
		"email=not-an-email",
		"ip_address=999.1.1.1",
		"success=maybe",
		"limit=abc",
		"limit=-1",
		"limit=20000",
		"start_date=yesterday",
		"start_date=2026-02-01T00:00:00Z&end_date=2026-01-01T00:00:00Z",
	}

	h := newHandler(&handlerDeps{})
	for _, q := range queries {
		t.Run(q, func(t *testing.T) {
			w := httptest.NewRecorder()
			h.ListEvents(w, httptest.NewRequest(http.MethodGet, "/admin/security/events?"+q, nil))
			assert.Equal(t, http.StatusBadRequest, w.Code)
		})
	}
}

func TestListEvents_StoreError(t *testing.T) {
	h := newHandler(&handlerDeps{events: &mockEventQuerier{
		QueryFunc: func(ctx context.Context, filter models.EventFilter) ([]*models.SecurityEvent, error) {
			return nil, errors.New("connection reset")
		},
	}})

	w := httptest.NewRecorder()
	h.ListEvents(w, httptest.NewRequest(http.MethodGet, "/admin/security/events", nil))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotContains(t, w.Body.String(), "connection reset")
}

func TestScanPatterns(t *testing.T) {
	var window time.Duration
	h := newHandler(&handlerDeps{scanner: &mockPatternScanner{
		DetectFunc: func(ctx context.Context, w time.Duration) ([]*models.SuspiciousActivityPattern, error) {
			window = w
			return []*models.SuspiciousActivityPattern{{Type: models.PatternBruteForce, Severity: models.SeverityMedium, Count: 15}}, nil
		},
	}})

	w := httptest.NewRecorder()
	h.ScanPatterns(w, httptest.NewRequest(http.MethodGet, "/admin/security/patterns?window=30", nil))

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 30*time.Minute, window)

	var resp handlers.PatternScanResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Patterns, 1)
	assert.Equal(t, 30, resp.WindowMinutes)

	w = httptest.NewRecorder()
	h.ScanPatterns(w, httptest.NewRequest(http.MethodGet, "/admin/security/patterns", nil))
	assert.Equal(t, time.Hour, window)

	for _, bad := range []string{"0", "-5", "abc", "1441"} {
		w = httptest.NewRecorder()
		h.ScanPatterns(w, httptest.NewRequest(http.MethodGet, "/admin/security/patterns?window="+bad, nil))
		assert.Equal(t, http.StatusBadRequest, w.Code, bad)
	}
}

func TestAcknowledgeAlert(t *testing.T) {
	var ackBy string
	h := newHandler(&handlerDeps{alerts: &mockAlertManager{
		AcknowledgeFunc: func(id, by string) bool {
			ackBy = by
			return id == "alert-1"
		},
	}})

	req := withURLParams(httptest.NewRequest(http.MethodPost, "/admin/security/alerts/alert-1/acknowledge", nil), map[string]string{"id": "alert-1"})
	w := httptest.NewRecorder()
	h.AcknowledgeAlert(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "op-1", ackBy)

	req = withURLParams(httptest.NewRequest(http.MethodPost, "/admin/security/alerts/unknown/acknowledge", nil), map[string]string{"id": "unknown"})
	w = httptest.NewRecorder()
	h.AcknowledgeAlert(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCheckAlerts_PartialFailureStillReturnsAlerts(t *testing.T) {
	h := newHandler(&handlerDeps{alerts: &mockAlertManager{
		CheckFunc: func(ctx context.Context) ([]*models.SecurityAlert, error) {
			return []*models.SecurityAlert{{ID: "a1", Type: "brute_force_detection"}}, errors.New("threshold account_lockout_spike: timeout")
		},
	}})

	w := httptest.NewRecorder()
	h.CheckAlerts(w, withURLParams(httptest.NewRequest(http.MethodPost, "/admin/security/alerts/check", nil), nil))

	require.Equal(t, http.StatusOK, w.Code)
	var resp handlers.AlertListResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.Count)
}

func TestUpdateThreshold(t *testing.T) {
	stored := models.AlertThreshold{Name: "password_reset_abuse", Threshold: 5, Enabled: true}
	h := newHandler(&handlerDeps{alerts: &mockAlertManager{
		UpdateFunc: func(name string, update models.AlertThresholdUpdate) bool {
			if name != stored.Name {
				return false
			}
			update.Apply(&stored)
			return true
		},
		ThresholdsFunc: func() []models.AlertThreshold { return []models.AlertThreshold{stored} },
	}})

	body := `{"threshold": 12, "severity": "HIGH", "event_type": "password_reset_request"}`
	req := withURLParams(httptest.NewRequest(http.MethodPatch, "/admin/security/thresholds/password_reset_abuse", strings.NewReader(body)),
		map[string]string{"name": "password_reset_abuse"})
	w := httptest.NewRecorder()
	h.UpdateThreshold(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 12.0, stored.Threshold)
	assert.Equal(t, models.SeverityHigh, stored.Severity)
	require.NotNil(t, stored.EventType)
	assert.Equal(t, models.EventTypePasswordResetRequest, *stored.EventType)
	assert.True(t, stored.Enabled)

	req = withURLParams(httptest.NewRequest(http.MethodPatch, "/admin/security/thresholds/nope", strings.NewReader(`{"enabled": false}`)),
		map[string]string{"name": "nope"})
	w = httptest.NewRecorder()
	h.UpdateThreshold(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestUpdateThreshold_Validation(t *testing.T) {
	h := newHandler(&handlerDeps{alerts: &mockAlertManager{
		UpdateFunc: func(name string, update models.AlertThresholdUpdate) bool { return true },
	}})

	bodies := []string{
		`{"threshold": -1}`,
		`{"severity": "URGENT"}`,
		`{"condition": "count_below"}`,
		`{"time_window_minutes": 0}`,
		`{"event_type": "LOGOUT"}`,
		`{"unknown_field": true}`,
		`not json`,
	}
	for _, body := range bodies {
		req := withURLParams(httptest.NewRequest(http.MethodPatch, "/admin/security/thresholds/x", strings.NewReader(body)),
			map[string]string{"name": "x"})
		w := httptest.NewRecorder()
		h.UpdateThreshold(w, req)
		assert.Equal(t, http.StatusBadRequest, w.Code, body)
	}
}

func TestMonitorEndpoints(t *testing.T) {
	monitor := &mockMonitor{}
	h := newHandler(&handlerDeps{monitor: monitor})

	req := withURLParams(httptest.NewRequest(http.MethodPost, "/admin/security/monitor/start", strings.NewReader(`{"interval_minutes": 10}`)), nil)
	w := httptest.NewRecorder()
	h.StartMonitor(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 10*time.Minute, monitor.interval)

	var resp handlers.MonitorActionResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Changed)
	assert.True(t, resp.Status.IsRunning)

	w = httptest.NewRecorder()
	h.StartMonitor(w, withURLParams(httptest.NewRequest(http.MethodPost, "/admin/security/monitor/start", nil), nil))
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.False(t, resp.Changed)

	w = httptest.NewRecorder()
	h.RunMonitor(w, withURLParams(httptest.NewRequest(http.MethodPost, "/admin/security/monitor/run", nil), nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, monitor.runs)

	w = httptest.NewRecorder()
	h.StopMonitor(w, withURLParams(httptest.NewRequest(http.MethodPost, "/admin/security/monitor/stop", nil), nil))
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Changed)
	assert.False(t, resp.Status.IsRunning)

	req = withURLParams(httptest.NewRequest(http.MethodPost, "/admin/security/monitor/start", strings.NewReader(`{"interval_minutes": 5000}`)), nil)
	w = httptest.NewRecorder()
	h.StartMonitor(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetLockout(t *testing.T) {
	until := time.Now().Add(20 * time.Minute)
	h := newHandler(&handlerDeps{lockouts: &mockLockouts{
		IsLockedFunc: func(ctx context.Context, identity string) models.LockoutStatus {
			return models.LockoutStatus{Locked: true, Until: &until, Reason: "too many failed login attempts"}
		},
	}})

	req := withURLParams(httptest.NewRequest(http.MethodGet, "/admin/security/lockouts/user@example.com", nil), map[string]string{"email": "user@example.com"})
	w := httptest.NewRecorder()
	h.GetLockout(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var resp handlers.LockoutResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Locked)
	assert.Equal(t, "user@example.com", resp.Email)
	assert.Greater(t, resp.RetryAfterSeconds, int64(1100))

	req = withURLParams(httptest.NewRequest(http.MethodGet, "/admin/security/lockouts/bogus", nil), map[string]string{"email": "bogus"})
	w = httptest.NewRecorder()
	h.GetLockout(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestClearLockout(t *testing.T) {
	var clearedBy string
	h := newHandler(&handlerDeps{lockouts: &mockLockouts{
		ClearLockoutFunc: func(ctx context.Context, identity, by string) error {
			clearedBy = by
			return nil
		},
	}})

	req := withURLParams(httptest.NewRequest(http.MethodDelete, "/admin/security/lockouts/user@example.com", nil), map[string]string{"email": "user@example.com"})
	w := httptest.NewRecorder()
	h.ClearLockout(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "op-1", clearedBy)
}

func TestAttemptsEndpoints(t *testing.T) {
	reset := ""
	h := newHandler(&handlerDeps{attempts: &mockAttempts{
		GetStatsFunc: func(ctx context.Context, email string) *models.LoginAttemptStats {
			return &models.LoginAttemptStats{Email: email, Attempts: 3, MaxAttempts: 5, TTLSeconds: 600}
		},
		ResetFunc: func(ctx context.Context, email string) error {
			reset = email
			return nil
		},
	}})

	params := map[string]string{"email": "user@example.com"}
	w := httptest.NewRecorder()
	h.GetAttempts(w, withURLParams(httptest.NewRequest(http.MethodGet, "/", nil), params))
	require.Equal(t, http.StatusOK, w.Code)

	var stats models.LoginAttemptStats
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &stats))
	assert.Equal(t, 3, stats.Attempts)

	w = httptest.NewRecorder()
	h.ResetAttempts(w, withURLParams(httptest.NewRequest(http.MethodDelete, "/", nil), params))
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "user@example.com", reset)
}
