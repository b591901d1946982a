package models

import "time"

// AlertCondition selects how a threshold compares its event count
type AlertCondition string

const (
	// ConditionCountExceeds fires when the raw count in the window is above the threshold
	ConditionCountExceeds AlertCondition = "count_exceeds"
	// ConditionRateExceeds fires when count/windowMinutes is above the threshold
	ConditionRateExceeds AlertCondition = "rate_exceeds"
)

// AlertThreshold is a named, runtime-mutable alerting rule
type AlertThreshold struct {
	Name              string         `json:"name" yaml:"name"`
	EventType         *EventType     `json:"event_type,omitempty" yaml:"event_type,omitempty"`
	Success           *bool          `json:"success,omitempty" yaml:"success,omitempty"`
	Condition         AlertCondition `json:"condition" yaml:"condition"`
	Threshold         float64        `json:"threshold" yaml:"threshold"`
	TimeWindowMinutes int            `json:"time_window_minutes" yaml:"time_window_minutes"`
	Severity          Severity       `json:"severity" yaml:"severity"`
	Enabled           bool           `json:"enabled" yaml:"enabled"`
}

// Exceeded evaluates the threshold condition against a count observed in its window
func (t AlertThreshold) Exceeded(count int64) bool {
	switch t.Condition {
	case ConditionRateExceeds:
		if t.TimeWindowMinutes <= 0 {
			return false
		}
		return float64(count)/float64(t.TimeWindowMinutes) > t.Threshold
	default:
		return float64(count) > t.Threshold
	}
}

// AlertThresholdUpdate is a partial update; nil fields are left unchanged
type AlertThresholdUpdate struct {
	EventType         *EventType      `json:"event_type,omitempty" yaml:"event_type,omitempty"`
	Success           *bool           `json:"success,omitempty" yaml:"success,omitempty"`
	Condition         *AlertCondition `json:"condition,omitempty" yaml:"condition,omitempty"`
	Threshold         *float64        `json:"threshold,omitempty" yaml:"threshold,omitempty"`
	TimeWindowMinutes *int            `json:"time_window_minutes,omitempty" yaml:"time_window_minutes,omitempty"`
	Severity          *Severity       `json:"severity,omitempty" yaml:"severity,omitempty"`
	Enabled           *bool           `json:"enabled,omitempty" yaml:"enabled,omitempty"`
}

// Apply copies the set fields of u onto t
func (u AlertThresholdUpdate) Apply(t *AlertThreshold) {
	if u.EventType != nil {
		et := *u.EventType
		t.EventType = &et
	}
	if u.Success != nil {
		s := *u.Success
		t.Success = &s
	}
	if u.Condition != nil {
		t.Condition = *u.Condition
	}
	if u.Threshold != nil {
		t.Threshold = *u.Threshold
	}
	if u.TimeWindowMinutes != nil {
		t.TimeWindowMinutes = *u.TimeWindowMinutes
	}
	if u.Severity != nil {
		t.Severity = *u.Severity
	}
	if u.Enabled != nil {
		t.Enabled = *u.Enabled
	}
}

// SecurityAlert is raised when a threshold is exceeded
type SecurityAlert struct {
	ID             string                 `json:"id"`
	Type           string                 `json:"type"`
	Severity       Severity               `json:"severity"`
	Title          string                 `json:"title"`
	Description    string                 `json:"description"`
	IPAddress      *string                `json:"ip_address,omitempty"`
	UserID         *string                `json:"user_id,omitempty"`
	Email          *string                `json:"email,omitempty"`
	Count          int64                  `json:"count"`
	DetectedAt     time.Time              `json:"detected_at"`
	Acknowledged   bool                   `json:"acknowledged"`
	AcknowledgedBy *string                `json:"acknowledged_by,omitempty"`
	AcknowledgedAt *time.Time             `json:"acknowledged_at,omitempty"`
	Details        map[string]interface{} `json:"details,omitempty"`
}

// AlertStats summarises the active alert set
type AlertStats struct {
	Total          int              `json:"total"`
	Acknowledged   int              `json:"acknowledged"`
	Unacknowledged int              `json:"unacknowledged"`
	BySeverity     map[Severity]int `json:"by_severity"`
	ByType         map[string]int   `json:"by_type"`
}
