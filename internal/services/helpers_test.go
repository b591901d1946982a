package services_test

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/BradenHooton/authguard/internal/cache"
	"github.com/BradenHooton/authguard/internal/models"
	"github.com/BradenHooton/authguard/internal/services"
)

var errBackendDown = errors.New("connection refused")

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestCounterStore(t *testing.T) *services.CounterStore {
	t.Helper()
	backend := cache.NewMemoryBackend(time.Minute)
	t.Cleanup(func() { _ = backend.Close() })
	return services.NewCounterStore(backend, 0, 15*time.Minute, testLogger())
}

// FailingBackend simulates an unreachable cache
type FailingBackend struct{}

func (FailingBackend) IncrWithExpire(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	return 0, errBackendDown
}
func (FailingBackend) Get(ctx context.Context, key string) (string, bool, error) {
	return "", false, errBackendDown
}
func (FailingBackend) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return errBackendDown
}
func (FailingBackend) TTL(ctx context.Context, key string) (time.Duration, error) {
	return 0, errBackendDown
}
func (FailingBackend) Del(ctx context.Context, keys ...string) error { return errBackendDown }
func (FailingBackend) Ping(ctx context.Context) error                { return errBackendDown }
func (FailingBackend) Close() error                                  { return nil }

// CountingBackend is a FailingBackend that counts TTL lookups
type CountingBackend struct {
	FailingBackend
	ttlCalls atomic.Int32
}

func (b *CountingBackend) TTL(ctx context.Context, key string) (time.Duration, error) {
	b.ttlCalls.Add(1)
	return 0, errBackendDown
}

// SlowBackend blocks every call until its context is done
type SlowBackend struct{ FailingBackend }

func (SlowBackend) IncrWithExpire(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	<-ctx.Done()
	return 0, ctx.Err()
}

// MockEventRecorder captures recorded events
type MockEventRecorder struct {
	mu     sync.Mutex
	events []*models.SecurityEvent
}

func (m *MockEventRecorder) Record(ctx context.Context, event *models.SecurityEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
}

func (m *MockEventRecorder) ByType(eventType models.EventType) []*models.SecurityEvent {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*models.SecurityEvent
	for _, e := range m.events {
		if e.EventType == eventType {
			out = append(out, e)
		}
	}
	return out
}

// MockAlertSender implements AlertSender for testing
type MockAlertSender struct {
	mu                    sync.Mutex
	sent                  []string
	SendSecurityAlertFunc func(ctx context.Context, toEmail, title, body, ipAddress, sourceName string) error
}

func (m *MockAlertSender) SendSecurityAlert(ctx context.Context, toEmail, title, body, ipAddress, sourceName string) error {
	m.mu.Lock()
	m.sent = append(m.sent, toEmail)
	m.mu.Unlock()

	if m.SendSecurityAlertFunc != nil {
		return m.SendSecurityAlertFunc(ctx, toEmail, title, body, ipAddress, sourceName)
	}
	return nil
}

func (m *MockAlertSender) Sent() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.sent...)
}

// MockUserNotifier implements UserNotifier for testing
type MockUserNotifier struct {
	mu             sync.Mutex
	calls          int
	NotifyUserFunc func(ctx context.Context, email, title, body, ipAddress string) error
}

func (m *MockUserNotifier) NotifyUser(ctx context.Context, email, title, body, ipAddress string) error {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()

	if m.NotifyUserFunc != nil {
		return m.NotifyUserFunc(ctx, email, title, body, ipAddress)
	}
	return nil
}

func (m *MockUserNotifier) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// MockAdminNotifier implements AdminNotifier for testing
type MockAdminNotifier struct {
	mu     sync.Mutex
	titles []string
}

func (m *MockAdminNotifier) NotifyAdmins(ctx context.Context, title, body, ipAddress string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.titles = append(m.titles, title)
	return 1
}

func (m *MockAdminNotifier) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.titles)
}

// MockSecurityEventRepository implements SecurityEventRepository for testing
type MockSecurityEventRepository struct {
	CreateFunc          func(ctx context.Context, event *models.SecurityEvent) error
	QueryFunc           func(ctx context.Context, filter models.EventFilter) ([]*models.SecurityEvent, error)
	CountFunc           func(ctx context.Context, filter models.EventFilter) (int64, error)
	DeleteOlderThanFunc func(ctx context.Context, cutoff time.Time) (int64, error)
}

func (m *MockSecurityEventRepository) Create(ctx context.Context, event *models.SecurityEvent) error {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, event)
	}
	return nil
}

func (m *MockSecurityEventRepository) Query(ctx context.Context, filter models.EventFilter) ([]*models.SecurityEvent, error) {
	if m.QueryFunc != nil {
		return m.QueryFunc(ctx, filter)
	}
	return []*models.SecurityEvent{}, nil
}

func (m *MockSecurityEventRepository) Count(ctx context.Context, filter models.EventFilter) (int64, error) {
	if m.CountFunc != nil {
		return m.CountFunc(ctx, filter)
	}
	return 0, nil
}

func (m *MockSecurityEventRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	if m.DeleteOlderThanFunc != nil {
		return m.DeleteOlderThanFunc(ctx, cutoff)
	}
	return 0, nil
}

// fixedClock is a manually advanced clock
type fixedClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFixedClock() *fixedClock {
	return &fixedClock{now: time.Now()}
}

func (c *fixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fixedClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}
