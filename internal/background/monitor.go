package background

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/BradenHooton/authguard/internal/metrics"
	"github.com/BradenHooton/authguard/internal/models"
	"github.com/robfig/cron/v3"
)

// DefaultMonitorInterval is used when Start is given a non-positive interval
const DefaultMonitorInterval = 5 * time.Minute

// PatternDetector scans recent events for attack patterns
type PatternDetector interface {
	Detect(ctx context.Context, window time.Duration) ([]*models.SuspiciousActivityPattern, error)
}

// AlertChecker evaluates alert thresholds
type AlertChecker interface {
	CheckAlertThresholds(ctx context.Context) ([]*models.SecurityAlert, error)
}

// CycleResult summarises one monitoring cycle
type CycleResult struct {
	StartedAt time.Time `json:"started_at"`
	Duration  string    `json:"duration"`
	Patterns  int       `json:"patterns"`
	Alerts    int       `json:"alerts"`
	Errors    []string  `json:"errors,omitempty"`
}

// MonitorStatus is the scheduler state reported to operators
type MonitorStatus struct {
	IsRunning       bool         `json:"is_running"`
	IntervalMinutes float64      `json:"interval_minutes"`
	NextRunTime     *time.Time   `json:"next_run_time,omitempty"`
	LastCycle       *CycleResult `json:"last_cycle,omitempty"`
}

// Monitor periodically runs pattern detection followed by the alert check.
// Cycles never overlap. Errors and panics inside a cycle are logged and the
// schedule continues.
type Monitor struct {
	detector        PatternDetector
	alerts          AlertChecker
	detectionWindow time.Duration
	cycleTimeout    time.Duration
	logger          *slog.Logger

	mu       sync.Mutex
	cron     *cron.Cron
	entryID  cron.EntryID
	interval time.Duration
	running  bool
	last     *CycleResult
	// initial tracks the first cycle of the current run
	initial *sync.WaitGroup

	cycleMu sync.Mutex
}

// NewMonitor creates a stopped Monitor
func NewMonitor(detector PatternDetector, alerts AlertChecker, detectionWindow time.Duration, logger *slog.Logger) *Monitor {
	return &Monitor{
		detector:        detector,
		alerts:          alerts,
		detectionWindow: detectionWindow,
		cycleTimeout:    2 * time.Minute,
		logger:          logger,
	}
}

// Start runs one cycle immediately and then every interval. Starting a running
// monitor is a no-op and reports false.
func (m *Monitor) Start(interval time.Duration) bool {
	if interval <= 0 {
		interval = DefaultMonitorInterval
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		m.logger.Info("security monitor already running", slog.Duration("interval", m.interval))
		return false
	}

	cl := cronLogger{logger: m.logger}
	c := cron.New(
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	m.entryID = c.Schedule(cron.Every(interval), cron.FuncJob(func() {
		m.RunNow(context.Background())
	}))
	c.Start()

	initial := &sync.WaitGroup{}
	initial.Add(1)
	go func() {
		defer initial.Done()
		m.RunNow(context.Background())
	}()

	m.cron = c
	m.interval = interval
	m.running = true
	m.initial = initial

	m.logger.Info("security monitor started", slog.Duration("interval", interval))
	return true
}

// Stop cancels future cycles and waits for an in-flight cycle to finish.
// Stopping a stopped monitor is a no-op and reports false.
func (m *Monitor) Stop() bool {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return false
	}
	c, initial := m.cron, m.initial
	m.cron, m.initial = nil, nil
	m.running = false
	m.mu.Unlock()

	<-c.Stop().Done()
	initial.Wait()

	m.logger.Info("security monitor stopped")
	return true
}

// Status reports whether the monitor is running and when it runs next
func (m *Monitor) Status() MonitorStatus {
	m.mu.Lock()
	defer m.mu.Unlock()

	status := MonitorStatus{IsRunning: m.running}
	if m.last != nil {
		last := *m.last
		status.LastCycle = &last
	}
	if !m.running {
		return status
	}

	status.IntervalMinutes = m.interval.Minutes()
	if next := m.cron.Entry(m.entryID).Next; !next.IsZero() {
		status.NextRunTime = &next
	}
	return status
}

// RunNow runs one cycle immediately, waiting for any cycle already in progress
func (m *Monitor) RunNow(ctx context.Context) CycleResult {
	m.cycleMu.Lock()
	defer m.cycleMu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, m.cycleTimeout)
	defer cancel()

	result := CycleResult{StartedAt: time.Now().UTC()}
	var errs []error

	patterns, err := safeCall(func() ([]*models.SuspiciousActivityPattern, error) {
		return m.detector.Detect(ctx, m.detectionWindow)
	})
	if err != nil {
		errs = append(errs, fmt.Errorf("detection: %w", err))
	}
	result.Patterns = len(patterns)

	raised, err := safeCall(func() ([]*models.SecurityAlert, error) {
		return m.alerts.CheckAlertThresholds(ctx)
	})
	if err != nil {
		errs = append(errs, fmt.Errorf("alert check: %w", err))
	}
	result.Alerts = len(raised)
	result.Duration = time.Since(result.StartedAt).String()

	for _, e := range errs {
		result.Errors = append(result.Errors, e.Error())
	}

	if len(errs) > 0 {
		metrics.IncMonitorCycle("error")
		m.logger.Error("security monitoring cycle failed",
			slog.Int("patterns", result.Patterns),
			slog.Int("alerts", result.Alerts),
			slog.Any("error", errors.Join(errs...)))
	} else {
		metrics.IncMonitorCycle("success")
		m.logger.Info("security monitoring cycle completed",
			slog.Int("patterns", result.Patterns),
			slog.Int("alerts", result.Alerts),
			slog.String("duration", result.Duration))
	}

	m.mu.Lock()
	last := result
	m.last = &last
	m.mu.Unlock()

	return result
}

// safeCall converts a panic in fn into an error
func safeCall[T any](fn func() (T, error)) (out T, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn()
}

// cronLogger routes cron's internal logging to slog
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
