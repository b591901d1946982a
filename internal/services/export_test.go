package services

import "time"

// Clock hooks for tests in services_test

func SetRateLimitClock(s *RateLimitService, now func() time.Time)         { s.now = now }
func SetLockoutClock(s *LockoutService, now func() time.Time)             { s.now = now }
func SetEventClock(s *SecurityEventService, now func() time.Time)         { s.now = now }
func SetDetectorClock(s *SuspiciousActivityService, now func() time.Time) { s.now = now }
func SetAlertClock(s *AlertService, now func() time.Time)                 { s.now = now }
func SetAuthGuardClock(s *AuthGuardService, now func() time.Time)         { s.now = now }

func SetShoutrrrSend(c *ShoutrrrChannel, send func(url, message string) error) { c.send = send }
