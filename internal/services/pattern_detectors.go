package services

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/BradenHooton/authguard/internal/models"
)

// Detection thresholds
const (
	BruteForceMinAttempts       = 10
	BruteForceHighAttempts      = 25
	BruteForceCriticalAttempts  = 50
	CredentialStuffingMinEmails = 40
	CredentialStuffingCritical  = 100
	PasswordSprayMinEmails      = 20
	PasswordSprayMaxPerEmail    = 3
	PasswordSprayMinGap         = 30 * time.Second
	EnumerationMinEmails        = 25
	RapidRegistrationMinCount   = 10
	RapidRegistrationMinRate    = 2.0
	RapidRegistrationHighRate   = 10.0
	TokenAbuseMinCount          = 60
)

// DetectorFunc classifies a batch of events into zero or more patterns.
// Detectors must not retain or mutate events.
type DetectorFunc func(events []*models.SecurityEvent, window time.Duration) []*models.SuspiciousActivityPattern

// PatternDetector is a named detector. EventTypes lists the event types it
// reads; an empty list means it needs every event in the window.
type PatternDetector struct {
	Name       models.PatternType
	EventTypes []models.EventType
	Detect     DetectorFunc
}

var loginEvents = []models.EventType{models.EventTypeLoginAttempt}

// DefaultPatternDetectors returns the built-in detectors
func DefaultPatternDetectors() []PatternDetector {
	return []PatternDetector{
		{Name: models.PatternBruteForce, EventTypes: loginEvents, Detect: DetectBruteForce},
		{Name: models.PatternCredentialStuffing, EventTypes: loginEvents, Detect: DetectCredentialStuffing},
		{Name: models.PatternPasswordSpray, EventTypes: loginEvents, Detect: DetectPasswordSpray},
		{Name: models.PatternAccountEnumeration, EventTypes: []models.EventType{models.EventTypePasswordResetRequest}, Detect: DetectAccountEnumeration},
		{Name: models.PatternRapidRegistration, EventTypes: []models.EventType{models.EventTypeRegistration}, Detect: DetectRapidRegistration},
		{Name: models.PatternTokenAbuse, EventTypes: []models.EventType{models.EventTypeTokenGenerated}, Detect: DetectTokenAbuse},
	}
}

// DetectBruteForce flags IPs with many failed logins
func DetectBruteForce(events []*models.SecurityEvent, window time.Duration) []*models.SuspiciousActivityPattern {
	var patterns []*models.SuspiciousActivityPattern

	for ip, group := range groupByIP(events, models.EventTypeLoginAttempt, isFailure) {
		if len(group.events) < BruteForceMinAttempts {
			continue
		}

		count := len(group.events)
		severity := models.SeverityMedium
		switch {
		case count >= BruteForceCriticalAttempts:
			severity = models.SeverityCritical
		case count >= BruteForceHighAttempts:
			severity = models.SeverityHigh
		}

		patterns = append(patterns, &models.SuspiciousActivityPattern{
			Type:        models.PatternBruteForce,
			Severity:    severity,
			Description: fmt.Sprintf("%d failed login attempts from %s", count, ip),
			IPAddress:   stringPtr(ip),
			Count:       count,
			TimeWindow:  formatWindow(window),
			Details: map[string]interface{}{
				"uniqueEmailsTargeted": group.uniqueEmails(),
				"attemptsPerMinute":    round2(group.perMinute()),
				"firstAttempt":         group.first.UTC().Format(time.RFC3339),
				"lastAttempt":          group.last.UTC().Format(time.RFC3339),
			},
		})
	}

	return patterns
}

// DetectCredentialStuffing flags IPs whose failed logins spread over many distinct emails
func DetectCredentialStuffing(events []*models.SecurityEvent, window time.Duration) []*models.SuspiciousActivityPattern {
	var patterns []*models.SuspiciousActivityPattern

	for ip, group := range groupByIP(events, models.EventTypeLoginAttempt, nil) {
		failed := group.filter(isFailure)
		unique := failed.uniqueEmails()
		if unique < CredentialStuffingMinEmails {
			continue
		}

		severity := models.SeverityHigh
		if unique >= CredentialStuffingCritical {
			severity = models.SeverityCritical
		}

		patterns = append(patterns, &models.SuspiciousActivityPattern{
			Type:        models.PatternCredentialStuffing,
			Severity:    severity,
			Description: fmt.Sprintf("failed logins against %d distinct accounts from %s", unique, ip),
			IPAddress:   stringPtr(ip),
			Count:       len(failed.events),
			TimeWindow:  formatWindow(window),
			Details: map[string]interface{}{
				"uniqueEmailsTargeted": unique,
				"successfulLogins":     len(group.events) - len(failed.events),
				"attemptsPerMinute":    round2(failed.perMinute()),
			},
		})
	}

	return patterns
}

// DetectPasswordSpray flags IPs trying few passwords against many accounts at a slow cadence
func DetectPasswordSpray(events []*models.SecurityEvent, window time.Duration) []*models.SuspiciousActivityPattern {
	var patterns []*models.SuspiciousActivityPattern

	for ip, group := range groupByIP(events, models.EventTypeLoginAttempt, isFailure) {
		unique := group.uniqueEmails()
		if unique < PasswordSprayMinEmails {
			continue
		}
		if group.maxPerEmail() > PasswordSprayMaxPerEmail {
			continue
		}
		gap := group.averageGap()
		if gap < PasswordSprayMinGap {
			continue
		}

		patterns = append(patterns, &models.SuspiciousActivityPattern{
			Type:        models.PatternPasswordSpray,
			Severity:    models.SeverityHigh,
			Description: fmt.Sprintf("slow login attempts against %d distinct accounts from %s", unique, ip),
			IPAddress:   stringPtr(ip),
			Count:       len(group.events),
			TimeWindow:  formatWindow(window),
			Details: map[string]interface{}{
				"uniqueEmailsTargeted":   unique,
				"maxAttemptsPerEmail":    group.maxPerEmail(),
				"averageIntervalSeconds": round2(gap.Seconds()),
			},
		})
	}

	return patterns
}

// DetectAccountEnumeration flags IPs requesting password resets for many accounts
func DetectAccountEnumeration(events []*models.SecurityEvent, window time.Duration) []*models.SuspiciousActivityPattern {
	var patterns []*models.SuspiciousActivityPattern

	for ip, group := range groupByIP(events, models.EventTypePasswordResetRequest, isSuccess) {
		unique := group.uniqueEmails()
		if unique < EnumerationMinEmails {
			continue
		}

		patterns = append(patterns, &models.SuspiciousActivityPattern{
			Type:        models.PatternAccountEnumeration,
			Severity:    models.SeverityHigh,
			Description: fmt.Sprintf("password reset requested for %d distinct accounts from %s", unique, ip),
			IPAddress:   stringPtr(ip),
			Count:       len(group.events),
			TimeWindow:  formatWindow(window),
			Details: map[string]interface{}{
				"uniqueEmailsTargeted": unique,
				"requestsPerMinute":    round2(group.perMinute()),
			},
		})
	}

	return patterns
}

// DetectRapidRegistration flags IPs creating accounts faster than a person would
func DetectRapidRegistration(events []*models.SecurityEvent, window time.Duration) []*models.SuspiciousActivityPattern {
	var patterns []*models.SuspiciousActivityPattern

	for ip, group := range groupByIP(events, models.EventTypeRegistration, nil) {
		count := len(group.events)
		if count < RapidRegistrationMinCount {
			continue
		}

		rate := group.perMinute()
		if rate <= RapidRegistrationMinRate {
			continue
		}

		severity := models.SeverityMedium
		if rate > RapidRegistrationHighRate {
			severity = models.SeverityHigh
		}

		patterns = append(patterns, &models.SuspiciousActivityPattern{
			Type:        models.PatternRapidRegistration,
			Severity:    severity,
			Description: fmt.Sprintf("%d registrations from %s", count, ip),
			IPAddress:   stringPtr(ip),
			Count:       count,
			TimeWindow:  formatWindow(window),
			Details: map[string]interface{}{
				"registrationsPerMinute": round2(rate),
				"uniqueEmails":           group.uniqueEmails(),
			},
		})
	}

	return patterns
}

// DetectTokenAbuse flags IPs generating tokens in bulk
func DetectTokenAbuse(events []*models.SecurityEvent, window time.Duration) []*models.SuspiciousActivityPattern {
	var patterns []*models.SuspiciousActivityPattern

	for ip, group := range groupByIP(events, models.EventTypeTokenGenerated, nil) {
		count := len(group.events)
		if count < TokenAbuseMinCount {
			continue
		}

		patterns = append(patterns, &models.SuspiciousActivityPattern{
			Type:        models.PatternTokenAbuse,
			Severity:    models.SeverityHigh,
			Description: fmt.Sprintf("%d tokens generated from %s", count, ip),
			IPAddress:   stringPtr(ip),
			Count:       count,
			TimeWindow:  formatWindow(window),
			Details: map[string]interface{}{
				"abuseType":        "excessive_generation",
				"uniqueEmails":     group.uniqueEmails(),
				"tokensPerMinute":  round2(group.perMinute()),
				"firstGeneratedAt": group.first.UTC().Format(time.RFC3339),
				"lastGeneratedAt":  group.last.UTC().Format(time.RFC3339),
			},
		})
	}

	return patterns
}

// eventGroup is the events of one IP in time order
type eventGroup struct {
	events      []*models.SecurityEvent
	first, last time.Time
}

func groupByIP(events []*models.SecurityEvent, eventType models.EventType, keep func(*models.SecurityEvent) bool) map[string]*eventGroup {
	groups := make(map[string]*eventGroup)
	for _, e := range events {
		if e.EventType != eventType || e.IPAddress == "" {
			continue
		}
		if keep != nil && !keep(e) {
			continue
		}

		g, ok := groups[e.IPAddress]
		if !ok {
			g = &eventGroup{}
			groups[e.IPAddress] = g
		}
		g.add(e)
	}

	for _, g := range groups {
		sort.SliceStable(g.events, func(i, j int) bool {
			return g.events[i].Timestamp.Before(g.events[j].Timestamp)
		})
	}
	return groups
}

func (g *eventGroup) add(e *models.SecurityEvent) {
	if len(g.events) == 0 || e.Timestamp.Before(g.first) {
		g.first = e.Timestamp
	}
	if len(g.events) == 0 || e.Timestamp.After(g.last) {
		g.last = e.Timestamp
	}
	g.events = append(g.events, e)
}

func (g *eventGroup) filter(keep func(*models.SecurityEvent) bool) *eventGroup {
	out := &eventGroup{}
	for _, e := range g.events {
		if keep(e) {
			out.add(e)
		}
	}
	return out
}

func (g *eventGroup) uniqueEmails() int {
	seen := make(map[string]struct{})
	for _, e := range g.events {
		if email := normalizeIdentity(e.EmailValue()); email != "" {
			seen[email] = struct{}{}
		}
	}
	return len(seen)
}

func (g *eventGroup) maxPerEmail() int {
	counts := make(map[string]int)
	highest := 0
	for _, e := range g.events {
		email := normalizeIdentity(e.EmailValue())
		counts[email]++
		if counts[email] > highest {
			highest = counts[email]
		}
	}
	return highest
}

// perMinute is the event rate over the span first..last, floored at one minute
func (g *eventGroup) perMinute() float64 {
	minutes := g.last.Sub(g.first).Minutes()
	if minutes < 1 {
		minutes = 1
	}
	return float64(len(g.events)) / minutes
}

func (g *eventGroup) averageGap() time.Duration {
	if len(g.events) < 2 {
		return 0
	}
	return g.last.Sub(g.first) / time.Duration(len(g.events)-1)
}

func isFailure(e *models.SecurityEvent) bool { return !e.Success }

func isSuccess(e *models.SecurityEvent) bool { return e.Success }

func formatWindow(window time.Duration) string {
	return fmt.Sprintf("%d minutes", int(window.Minutes()))
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// sortPatterns orders patterns by severity (highest first), then type, then IP
func sortPatterns(patterns []*models.SuspiciousActivityPattern) {
	sort.SliceStable(patterns, func(i, j int) bool {
		a, b := patterns[i], patterns[j]
		if a.Severity.Rank() != b.Severity.Rank() {
			return a.Severity.Rank() > b.Severity.Rank()
		}
		if a.Type != b.Type {
			return a.Type < b.Type
		}
		return derefString(a.IPAddress) < derefString(b.IPAddress)
	})
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
