package handlers

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/BradenHooton/authguard/internal/auth"
	"github.com/BradenHooton/authguard/internal/background"
	"github.com/BradenHooton/authguard/internal/middleware"
	"github.com/BradenHooton/authguard/internal/models"
	pkghttp "github.com/BradenHooton/authguard/pkg/http"
	pkglogger "github.com/BradenHooton/authguard/pkg/logger"
)

// Default and maximum look-back for an on-demand pattern scan, in minutes
const (
	DefaultScanWindowMinutes = 60
	MaxScanWindowMinutes     = 24 * 60
)

// EventQuerier reads the security event store
type EventQuerier interface {
	Query(ctx context.Context, filter models.EventFilter) ([]*models.SecurityEvent, error)
	Count(ctx context.Context, filter models.EventFilter) (int64, error)
}

// PatternScanner runs suspicious activity detection
type PatternScanner interface {
	Detect(ctx context.Context, window time.Duration) ([]*models.SuspiciousActivityPattern, error)
}

// AlertManager is the alert engine surface exposed to operators
type AlertManager interface {
	CheckAlertThresholds(ctx context.Context) ([]*models.SecurityAlert, error)
	GetActiveAlerts() []*models.SecurityAlert
	AcknowledgeAlert(id, acknowledgedBy string) bool
	ClearAcknowledged() int
	GetStats() *models.AlertStats
	UpdateAlertThreshold(name string, update models.AlertThresholdUpdate) bool
	GetAlertThresholds() []models.AlertThreshold
}

// MonitorController controls the monitoring scheduler
type MonitorController interface {
	Start(interval time.Duration) bool
	Stop() bool
	Status() background.MonitorStatus
	RunNow(ctx context.Context) background.CycleResult
}

// LockoutManager reads and clears account lockouts
type LockoutManager interface {
	IsLocked(ctx context.Context, identity string) models.LockoutStatus
	ClearLockout(ctx context.Context, identity, clearedBy string) error
}

// AttemptTracker reads and resets failed login counters
type AttemptTracker interface {
	GetStats(ctx context.Context, email string) *models.LoginAttemptStats
	ResetLoginAttempts(ctx context.Context, email string) error
}

// SecurityHandler serves the admin security API
type SecurityHandler struct {
	events   EventQuerier
	scanner  PatternScanner
	alerts   AlertManager
	monitor  MonitorController
	lockouts LockoutManager
	attempts AttemptTracker
	audit    *pkglogger.AuditLogger
	logger   *slog.Logger
}

// NewSecurityHandler creates a new SecurityHandler
func NewSecurityHandler(
	events EventQuerier,
	scanner PatternScanner,
	alerts AlertManager,
	monitor MonitorController,
	lockouts LockoutManager,
	attempts AttemptTracker,
	logger *slog.Logger,
) *SecurityHandler {
	return &SecurityHandler{
		events:   events,
		scanner:  scanner,
		alerts:   alerts,
		monitor:  monitor,
		lockouts: lockouts,
		attempts: attempts,
		audit:    pkglogger.NewAuditLogger(logger),
		logger:   logger,
	}
}

// EventQueryParams are the accepted filters for GET /admin/security/events
type EventQueryParams struct {
	EventType string `validate:"omitempty,event_type"`
	Email     string `validate:"omitempty,email"`
	UserID    string `validate:"omitempty,max=255"`
	IPAddress string `validate:"omitempty,ip"`
	Success   string `validate:"omitempty,oneof=true false"`
	Limit     int    `validate:"gte=0,lte=10000"`
	Offset    int    `validate:"gte=0"`
}

// EventListResponse is a page of security events
type EventListResponse struct {
	Events []*models.SecurityEvent `json:"events"`
	Total  int64                   `json:"total"`
	Limit  int                     `json:"limit"`
	Offset int                     `json:"offset"`
}

// PatternScanResponse is the result of an on-demand scan
type PatternScanResponse struct {
	Patterns      []*models.SuspiciousActivityPattern `json:"patterns"`
	WindowMinutes int                                 `json:"window_minutes"`
}

// AlertListResponse lists alerts
type AlertListResponse struct {
	Alerts []*models.SecurityAlert `json:"alerts"`
	Count  int                     `json:"count"`
}

// UpdateThresholdRequest is a partial threshold update; omitted fields are unchanged
type UpdateThresholdRequest struct {
	EventType         *string  `json:"event_type,omitempty" validate:"omitempty,event_type"`
	Success           *bool    `json:"success,omitempty"`
	Condition         *string  `json:"condition,omitempty" validate:"omitempty,oneof=count_exceeds rate_exceeds"`
	Threshold         *float64 `json:"threshold,omitempty" validate:"omitempty,gt=0"`
	TimeWindowMinutes *int     `json:"time_window_minutes,omitempty" validate:"omitempty,gte=1,lte=10080"`
	Severity          *string  `json:"severity,omitempty" validate:"omitempty,oneof=LOW MEDIUM HIGH CRITICAL"`
	Enabled           *bool    `json:"enabled,omitempty"`
}

// StartMonitorRequest optionally overrides the monitoring interval
type StartMonitorRequest struct {
	IntervalMinutes int `json:"interval_minutes" validate:"omitempty,gte=1,lte=1440"`
}

// MonitorActionResponse reports a start/stop outcome
type MonitorActionResponse struct {
	Changed bool                     `json:"changed"`
	Status  background.MonitorStatus `json:"status"`
}

// LockoutResponse reports the lockout state of an account
type LockoutResponse struct {
	Email             string `json:"email"`
	RetryAfterSeconds int64  `json:"retry_after_seconds"`
	models.LockoutStatus
}

// ListEvents handles GET /admin/security/events
func (h *SecurityHandler) ListEvents(w http.ResponseWriter, r *http.Request) {
	filter, err := parseEventFilter(r.URL.Query())
	if err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}
	filter = filter.Paged()

	events, err := h.events.Query(r.Context(), filter)
	if err != nil {
		h.logger.Error("failed to query security events", slog.Any("error", err))
		pkghttp.WriteModelError(w, err)
		return
	}

	countFilter := filter
	countFilter.Limit, countFilter.Offset = 0, 0
	total, err := h.events.Count(r.Context(), countFilter)
	if err != nil {
		h.logger.Error("failed to count security events", slog.Any("error", err))
		pkghttp.WriteModelError(w, err)
		return
	}

	if events == nil {
		events = []*models.SecurityEvent{}
	}
	pkghttp.WriteJSON(w, http.StatusOK, EventListResponse{
		Events: events,
		Total:  total,
		Limit:  filter.Limit,
		Offset: filter.Offset,
	})
}

// ScanPatterns handles GET /admin/security/patterns?window=60
func (h *SecurityHandler) ScanPatterns(w http.ResponseWriter, r *http.Request) {
	window := DefaultScanWindowMinutes
	if raw := r.URL.Query().Get("window"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > MaxScanWindowMinutes {
			pkghttp.WriteBadRequest(w, fmt.Sprintf("window must be between 1 and %d minutes", MaxScanWindowMinutes))
			return
		}
		window = n
	}

	patterns, err := h.scanner.Detect(r.Context(), time.Duration(window)*time.Minute)
	if err != nil {
		h.logger.Error("on-demand pattern scan failed", slog.Any("error", err))
		pkghttp.WriteModelError(w, err)
		return
	}

	if patterns == nil {
		patterns = []*models.SuspiciousActivityPattern{}
	}
	pkghttp.WriteJSON(w, http.StatusOK, PatternScanResponse{Patterns: patterns, WindowMinutes: window})
}

// ListAlerts handles GET /admin/security/alerts
func (h *SecurityHandler) ListAlerts(w http.ResponseWriter, r *http.Request) {
	alerts := h.alerts.GetActiveAlerts()
	pkghttp.WriteJSON(w, http.StatusOK, AlertListResponse{Alerts: alerts, Count: len(alerts)})
}

// AlertStats handles GET /admin/security/alerts/stats
func (h *SecurityHandler) AlertStats(w http.ResponseWriter, r *http.Request) {
	pkghttp.WriteJSON(w, http.StatusOK, h.alerts.GetStats())
}

// CheckAlerts handles POST /admin/security/alerts/check.
// Alerts raised before a partial failure are still returned.
func (h *SecurityHandler) CheckAlerts(w http.ResponseWriter, r *http.Request) {
	raised, err := h.alerts.CheckAlertThresholds(r.Context())
	h.auditAction(r, "alerts.check", "", err == nil, map[string]string{"raised": strconv.Itoa(len(raised))})

	if err != nil {
		h.logger.Error("alert threshold check reported errors", slog.Any("error", err))
		if len(raised) == 0 {
			pkghttp.WriteModelError(w, err)
			return
		}
	}

	if raised == nil {
		raised = []*models.SecurityAlert{}
	}
	pkghttp.WriteJSON(w, http.StatusOK, AlertListResponse{Alerts: raised, Count: len(raised)})
}

// AcknowledgeAlert handles POST /admin/security/alerts/{id}/acknowledge
func (h *SecurityHandler) AcknowledgeAlert(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		pkghttp.WriteBadRequest(w, "alert id is required")
		return
	}

	ok := h.alerts.AcknowledgeAlert(id, auth.ActorID(r))
	h.auditAction(r, "alert.acknowledge", id, ok, nil)
	if !ok {
		pkghttp.WriteNotFound(w, "alert not found")
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, map[string]interface{}{"acknowledged": true, "id": id})
}

// ClearAcknowledged handles DELETE /admin/security/alerts/acknowledged
func (h *SecurityHandler) ClearAcknowledged(w http.ResponseWriter, r *http.Request) {
	removed := h.alerts.ClearAcknowledged()
	h.auditAction(r, "alerts.clear_acknowledged", "", true, map[string]string{"removed": strconv.Itoa(removed)})
	pkghttp.WriteJSON(w, http.StatusOK, map[string]int{"removed": removed})
}

// ListThresholds handles GET /admin/security/thresholds
func (h *SecurityHandler) ListThresholds(w http.ResponseWriter, r *http.Request) {
	pkghttp.WriteJSON(w, http.StatusOK, map[string]interface{}{"thresholds": h.alerts.GetAlertThresholds()})
}

// UpdateThreshold handles PATCH /admin/security/thresholds/{name}
func (h *SecurityHandler) UpdateThreshold(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	var req UpdateThresholdRequest
	if err := pkghttp.DecodeJSON(r, &req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	update := req.toModel()
	ok := h.alerts.UpdateAlertThreshold(name, update)
	h.auditAction(r, "threshold.update", name, ok, nil)
	if !ok {
		pkghttp.WriteNotFound(w, "threshold not found")
		return
	}

	for _, t := range h.alerts.GetAlertThresholds() {
		if t.Name == name {
			pkghttp.WriteJSON(w, http.StatusOK, t)
			return
		}
	}
	pkghttp.WriteNotFound(w, "threshold not found")
}

// MonitorStatus handles GET /admin/security/monitor
func (h *SecurityHandler) MonitorStatus(w http.ResponseWriter, r *http.Request) {
	pkghttp.WriteJSON(w, http.StatusOK, h.monitor.Status())
}

// StartMonitor handles POST /admin/security/monitor/start
func (h *SecurityHandler) StartMonitor(w http.ResponseWriter, r *http.Request) {
	var req StartMonitorRequest
	if r.ContentLength > 0 {
		if err := pkghttp.DecodeJSON(r, &req); err != nil {
			pkghttp.WriteBadRequest(w, err.Error())
			return
		}
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	changed := h.monitor.Start(time.Duration(req.IntervalMinutes) * time.Minute)
	h.auditAction(r, "monitor.start", "", true, map[string]string{"changed": strconv.FormatBool(changed)})
	pkghttp.WriteJSON(w, http.StatusOK, MonitorActionResponse{Changed: changed, Status: h.monitor.Status()})
}

// StopMonitor handles POST /admin/security/monitor/stop
func (h *SecurityHandler) StopMonitor(w http.ResponseWriter, r *http.Request) {
	changed := h.monitor.Stop()
	h.auditAction(r, "monitor.stop", "", true, map[string]string{"changed": strconv.FormatBool(changed)})
	pkghttp.WriteJSON(w, http.StatusOK, MonitorActionResponse{Changed: changed, Status: h.monitor.Status()})
}

// RunMonitor handles POST /admin/security/monitor/run
func (h *SecurityHandler) RunMonitor(w http.ResponseWriter, r *http.Request) {
	result := h.monitor.RunNow(r.Context())
	h.auditAction(r, "monitor.run", "", len(result.Errors) == 0, nil)
	pkghttp.WriteJSON(w, http.StatusOK, result)
}

// GetLockout handles GET /admin/security/lockouts/{email}
func (h *SecurityHandler) GetLockout(w http.ResponseWriter, r *http.Request) {
	email, ok := emailParam(w, r)
	if !ok {
		return
	}

	status := h.lockouts.IsLocked(r.Context(), email)
	pkghttp.WriteJSON(w, http.StatusOK, LockoutResponse{
		Email:             email,
		RetryAfterSeconds: int64(status.RetryAfter(time.Now()).Seconds()),
		LockoutStatus:     status,
	})
}

// ClearLockout handles DELETE /admin/security/lockouts/{email}
func (h *SecurityHandler) ClearLockout(w http.ResponseWriter, r *http.Request) {
	email, ok := emailParam(w, r)
	if !ok {
		return
	}

	err := h.lockouts.ClearLockout(r.Context(), email, auth.ActorID(r))
	h.auditAction(r, "lockout.clear", pkglogger.SanitizedEmail(email), err == nil, nil)
	if err != nil {
		h.logger.Error("failed to clear lockout", slog.Any("error", err))
		pkghttp.WriteModelError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// GetAttempts handles GET /admin/security/attempts/{email}
func (h *SecurityHandler) GetAttempts(w http.ResponseWriter, r *http.Request) {
	email, ok := emailParam(w, r)
	if !ok {
		return
	}
	pkghttp.WriteJSON(w, http.StatusOK, h.attempts.GetStats(r.Context(), email))
}

// ResetAttempts handles DELETE /admin/security/attempts/{email}
func (h *SecurityHandler) ResetAttempts(w http.ResponseWriter, r *http.Request) {
	email, ok := emailParam(w, r)
	if !ok {
		return
	}

	err := h.attempts.ResetLoginAttempts(r.Context(), email)
	h.auditAction(r, "attempts.reset", pkglogger.SanitizedEmail(email), err == nil, nil)
	if err != nil {
		h.logger.Error("failed to reset login attempts", slog.Any("error", err))
		pkghttp.WriteModelError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *SecurityHandler) auditAction(r *http.Request, action, target string, success bool, metadata map[string]string) {
	h.audit.LogAdminAction(r.Context(), pkglogger.AdminAction{
		Action:    action,
		ActorID:   auth.ActorID(r),
		Target:    target,
		IPAddress: middleware.GetClientIP(r),
		Success:   success,
		Metadata:  metadata,
	})
}

func (req UpdateThresholdRequest) toModel() models.AlertThresholdUpdate {
	update := models.AlertThresholdUpdate{
		Success:           req.Success,
		Threshold:         req.Threshold,
		TimeWindowMinutes: req.TimeWindowMinutes,
		Enabled:           req.Enabled,
	}
	if req.EventType != nil {
		et, _ := models.ParseEventType(*req.EventType)
		update.EventType = &et
	}
	if req.Condition != nil {
		c := models.AlertCondition(*req.Condition)
		update.Condition = &c
	}
	if req.Severity != nil {
		s := models.Severity(*req.Severity)
		update.Severity = &s
	}
	return update
}

func emailParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	email, err := url.PathUnescape(chi.URLParam(r, "email"))
	if err == nil {
		email = strings.TrimSpace(email)
		err = validate.Var(email, "required,email")
	}
	if err != nil {
		pkghttp.WriteBadRequest(w, "a valid email address is required")
		return "", false
	}
	return email, true
}

func parseEventFilter(q url.Values) (models.EventFilter, error) {
	params := EventQueryParams{
		EventType: q.Get("event_type"),
		Email:     q.Get("email"),
		UserID:    q.Get("user_id"),
		IPAddress: q.Get("ip_address"),
		Success:   q.Get("success"),
	}

	var err error
	if params.Limit, err = intParam(q, "limit"); err != nil {
		return models.EventFilter{}, err
	}
	if params.Offset, err = intParam(q, "offset"); err != nil {
		return models.EventFilter{}, err
	}
	if err := ValidateRequest(params); err != nil {
		return models.EventFilter{}, err
	}

	filter := models.EventFilter{Limit: params.Limit, Offset: params.Offset}
	if params.EventType != "" {
		et, _ := models.ParseEventType(params.EventType)
		filter.EventType = &et
	}
	if params.Email != "" {
		filter.Email = &params.Email
	}
	if params.UserID != "" {
		filter.UserID = &params.UserID
	}
	if params.IPAddress != "" {
		filter.IPAddress = &params.IPAddress
	}
	if params.Success != "" {
		success := params.Success == "true"
		filter.Success = &success
	}

	if filter.StartDate, err = timeParam(q, "start_date"); err != nil {
		return models.EventFilter{}, err
	}
	if filter.EndDate, err = timeParam(q, "end_date"); err != nil {
		return models.EventFilter{}, err
	}
	if filter.StartDate != nil && filter.EndDate != nil && filter.EndDate.Before(*filter.StartDate) {
		return models.EventFilter{}, fmt.Errorf("validation failed: end_date: must not be before start_date")
	}

	return filter, nil
}

func intParam(q url.Values, key string) (int, error) {
	raw := q.Get(key)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("validation failed: %s: must be an integer", key)
	}
	return n, nil
}

func timeParam(q url.Values, key string) (*time.Time, error) {
	raw := q.Get(key)
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, fmt.Errorf("validation failed: %s: must be an RFC3339 timestamp", key)
	}
	return &t, nil
}
