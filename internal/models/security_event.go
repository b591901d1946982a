package models

import (
	"database/sql/driver"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
)

// EventType classifies an auth-relevant security event
type EventType string

const (
	EventTypeLoginAttempt          EventType = "LOGIN_ATTEMPT"
	EventTypeRegistration          EventType = "REGISTRATION"
	EventTypePasswordChange        EventType = "PASSWORD_CHANGE"
	EventTypePasswordResetRequest  EventType = "PASSWORD_RESET_REQUEST"
	EventTypePasswordResetComplete EventType = "PASSWORD_RESET_COMPLETE"
	EventTypeEmailVerification     EventType = "EMAIL_VERIFICATION"
	EventTypeAccountLockout        EventType = "ACCOUNT_LOCKOUT"
	EventTypeAccountUnlock         EventType = "ACCOUNT_UNLOCK"
	EventTypeSuspiciousActivity    EventType = "SUSPICIOUS_ACTIVITY"
	EventTypeSessionCreated        EventType = "SESSION_CREATED"
	EventTypeSessionExpired        EventType = "SESSION_EXPIRED"
	EventTypeTokenGenerated        EventType = "TOKEN_GENERATED"
	EventTypeTokenUsed             EventType = "TOKEN_USED"
)

var knownEventTypes = map[EventType]bool{
	EventTypeLoginAttempt:          true,
	EventTypeRegistration:          true,
	EventTypePasswordChange:        true,
	EventTypePasswordResetRequest:  true,
	EventTypePasswordResetComplete: true,
	EventTypeEmailVerification:     true,
	EventTypeAccountLockout:        true,
	EventTypeAccountUnlock:         true,
	EventTypeSuspiciousActivity:    true,
	EventTypeSessionCreated:        true,
	EventTypeSessionExpired:        true,
	EventTypeTokenGenerated:        true,
	EventTypeTokenUsed:             true,
}

// Valid reports whether t is one of the known event types
func (t EventType) Valid() bool {
	return knownEventTypes[t]
}

// ParseEventType converts a case-insensitive name into an EventType
func ParseEventType(s string) (EventType, bool) {
	t := EventType(strings.ToUpper(strings.TrimSpace(s)))
	return t, t.Valid()
}

// SecurityEvent is an append-only record of an auth-relevant action
type SecurityEvent struct {
	ID        uuid.UUID    `db:"id" json:"id"`
	UserID    *string      `db:"user_id" json:"user_id,omitempty"`
	Email     *string      `db:"email" json:"email,omitempty"`
	EventType EventType    `db:"event_type" json:"event_type"`
	Success   bool         `db:"success" json:"success"`
	IPAddress string       `db:"ip_address" json:"ip_address"`
	UserAgent string       `db:"user_agent" json:"user_agent"`
	Details   EventDetails `db:"details" json:"details,omitempty"`
	Timestamp time.Time    `db:"created_at" json:"timestamp"`
}

// EmailValue returns the event email or an empty string
func (e *SecurityEvent) EmailValue() string {
	if e.Email == nil {
		return ""
	}
	return *e.Email
}

// EventFilter narrows a security event query. Nil fields are not filtered on.
type EventFilter struct {
	UserID    *string
	Email     *string
	EventType *EventType
	Success   *bool
	IPAddress *string
	StartDate *time.Time
	EndDate   *time.Time
	Limit     int
	Offset    int
}

// Page sizes for event queries
const (
	DefaultEventLimit = 100
	MaxEventLimit     = 10000
)

// Paged returns f with Limit defaulted and clamped and a non-negative Offset
func (f EventFilter) Paged() EventFilter {
	if f.Limit <= 0 {
		f.Limit = DefaultEventLimit
	}
	if f.Limit > MaxEventLimit {
		f.Limit = MaxEventLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return f
}

// Matches reports whether the event satisfies every set field of the filter.
// Limit and Offset are ignored.
func (f EventFilter) Matches(e *SecurityEvent) bool {
	if f.UserID != nil && (e.UserID == nil || *e.UserID != *f.UserID) {
		return false
	}
	if f.Email != nil && !strings.EqualFold(e.EmailValue(), *f.Email) {
		return false
	}
	if f.EventType != nil && e.EventType != *f.EventType {
		return false
	}
	if f.Success != nil && e.Success != *f.Success {
		return false
	}
	if f.IPAddress != nil && e.IPAddress != *f.IPAddress {
		return false
	}
	if f.StartDate != nil && e.Timestamp.Before(*f.StartDate) {
		return false
	}
	if f.EndDate != nil && e.Timestamp.After(*f.EndDate) {
		return false
	}
	return true
}

// EventDetails holds free-form context for a security event
type EventDetails map[string]interface{}

// Scan implements sql.Scanner for JSONB
func (d *EventDetails) Scan(value interface{}) error {
	if value == nil {
		*d = make(EventDetails)
		return nil
	}

	var raw []byte
	switch v := value.(type) {
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return ErrBadRequest
	}

	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return err
	}
	*d = EventDetails(m)
	return nil
}

// Value implements driver.Valuer for JSONB
func (d EventDetails) Value() (driver.Value, error) {
	if d == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(map[string]interface{}(d))
}
