package models

import "time"

// RateLimitResult is the outcome of one fixed-window rate limit check
type RateLimitResult struct {
	Subject   string    `json:"subject"`
	Action    string    `json:"action"`
	Count     int64     `json:"count"`
	Limit     int       `json:"limit"`
	ResetTime time.Time `json:"reset_time"`
	Blocked   bool      `json:"blocked"`
}

// Remaining returns how many more requests fit in the current window
func (r RateLimitResult) Remaining() int64 {
	if rem := int64(r.Limit) - r.Count; rem > 0 {
		return rem
	}
	return 0
}

// LoginAttemptStats reports the failed-attempt counter for an identity
type LoginAttemptStats struct {
	Email       string `json:"email"`
	Attempts    int    `json:"attempts"`
	TTLSeconds  int64  `json:"ttl_seconds"`
	MaxAttempts int    `json:"max_attempts"`
}
