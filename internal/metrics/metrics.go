package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	counterDegradedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "authguard_counter_degraded_total",
		Help: "Counter store operations that failed open because the cache backend was unavailable",
	}, []string{"op"})
	rateLimitBlockedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "authguard_rate_limit_blocked_total",
		Help: "Requests blocked by the fixed-window rate limiter",
	}, []string{"action"})
	lockoutsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "authguard_lockouts_total",
		Help: "Accounts transitioned to the locked state",
	})
	eventsDroppedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "authguard_events_dropped_total",
		Help: "Security events dropped because persistence failed",
	})
	patternsDetectedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "authguard_patterns_detected_total",
		Help: "Suspicious activity patterns detected",
	}, []string{"type"})
	alertsRaisedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "authguard_alerts_raised_total",
		Help: "Security alerts raised by threshold evaluation",
	}, []string{"type"})
	notificationsFailedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "authguard_notifications_failed_total",
		Help: "Alert notifications that could not be delivered",
	}, []string{"channel"})
	monitorCyclesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "authguard_monitor_cycles_total",
		Help: "Monitoring cycles executed, by result",
	}, []string{"result"})
)

// Register registers Prometheus collectors. Call once at startup.
func Register(registry prometheus.Registerer) {
	registry.MustRegister(
		counterDegradedTotal,
		rateLimitBlockedTotal,
		lockoutsTotal,
		eventsDroppedTotal,
		patternsDetectedTotal,
		alertsRaisedTotal,
		notificationsFailedTotal,
		monitorCyclesTotal,
	)
}

// IncCounterDegraded counts a fail-open counter store operation.
func IncCounterDegraded(op string) { counterDegradedTotal.WithLabelValues(op).Inc() }

// IncRateLimitBlocked counts a blocked rate limit decision.
func IncRateLimitBlocked(action string) { rateLimitBlockedTotal.WithLabelValues(action).Inc() }

// IncLockout counts a new account lockout.
func IncLockout() { lockoutsTotal.Inc() }

// IncEventDropped counts a security event that could not be persisted.
func IncEventDropped() { eventsDroppedTotal.Inc() }

// IncPatternDetected counts a detected pattern.
func IncPatternDetected(patternType string) { patternsDetectedTotal.WithLabelValues(patternType).Inc() }

// IncAlertRaised counts a raised alert.
func IncAlertRaised(alertType string) { alertsRaisedTotal.WithLabelValues(alertType).Inc() }

// IncNotificationFailed counts an undeliverable notification.
func IncNotificationFailed(channel string) { notificationsFailedTotal.WithLabelValues(channel).Inc() }

// IncMonitorCycle counts a monitoring cycle outcome ("ok", "error", "panic").
func IncMonitorCycle(result string) { monitorCyclesTotal.WithLabelValues(result).Inc() }
