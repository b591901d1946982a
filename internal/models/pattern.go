package models

import "time"

// PatternType names a class of automated abuse
type PatternType string

const (
	PatternBruteForce         PatternType = "brute_force"
	PatternCredentialStuffing PatternType = "credential_stuffing"
	PatternPasswordSpray      PatternType = "password_spray"
	PatternAccountEnumeration PatternType = "account_enumeration"
	PatternRapidRegistration  PatternType = "rapid_registration"
	PatternTokenAbuse         PatternType = "token_abuse"
)

// Severity ranks patterns and alerts
type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// Rank orders severities from LOW (1) to CRITICAL (4); unknown values rank 0
func (s Severity) Rank() int {
	switch s {
	case SeverityLow:
		return 1
	case SeverityMedium:
		return 2
	case SeverityHigh:
		return 3
	case SeverityCritical:
		return 4
	}
	return 0
}

// Valid reports whether s is a known severity
func (s Severity) Valid() bool {
	return s.Rank() > 0
}

// SuspiciousActivityPattern is a heuristically classified cluster of events.
// Patterns are recomputed on every detection cycle and only persisted as
// SUSPICIOUS_ACTIVITY events.
type SuspiciousActivityPattern struct {
	Type        PatternType            `json:"type"`
	Severity    Severity               `json:"severity"`
	Description string                 `json:"description"`
	IPAddress   *string                `json:"ip_address,omitempty"`
	UserID      *string                `json:"user_id,omitempty"`
	Email       *string                `json:"email,omitempty"`
	Count       int                    `json:"count"`
	TimeWindow  string                 `json:"time_window"`
	Details     map[string]interface{} `json:"details"`
	DetectedAt  time.Time              `json:"detected_at"`
}
