package models

import "time"

// LockoutRecord is stored in the counter backend while an identity is locked.
// A record whose LockoutUntil has passed is logically unlocked even if the key
// has not yet expired.
type LockoutRecord struct {
	Identity     string    `json:"identity"`
	LockoutUntil time.Time `json:"lockout_until"`
	Reason       string    `json:"reason"`
	LockedAt     time.Time `json:"locked_at"`
}

// LockoutStatus is the read-time view of an identity's lockout state
type LockoutStatus struct {
	Locked bool       `json:"locked"`
	Until  *time.Time `json:"until,omitempty"`
	Reason string     `json:"reason,omitempty"`
}

// RetryAfter returns how long until the lockout lifts, or zero when unlocked
func (s LockoutStatus) RetryAfter(now time.Time) time.Duration {
	if !s.Locked || s.Until == nil {
		return 0
	}
	if d := s.Until.Sub(now); d > 0 {
		return d
	}
	return 0
}
