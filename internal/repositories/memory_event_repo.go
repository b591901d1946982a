package repositories

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/BradenHooton/authguard/internal/models"
)

// MemorySecurityEventRepository keeps security events in process memory.
// Used when EVENT_STORE=memory and in tests.
type MemorySecurityEventRepository struct {
	mu     sync.RWMutex
	events []*models.SecurityEvent
}

// NewMemorySecurityEventRepository creates an empty in-memory repository
func NewMemorySecurityEventRepository() *MemorySecurityEventRepository {
	return &MemorySecurityEventRepository{}
}

// Create appends a copy of event
func (r *MemorySecurityEventRepository) Create(ctx context.Context, event *models.SecurityEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	stored := *event
	r.mu.Lock()
	r.events = append(r.events, &stored)
	r.mu.Unlock()
	return nil
}

// Query returns matching events ordered by timestamp descending
func (r *MemorySecurityEventRepository) Query(ctx context.Context, filter models.EventFilter) ([]*models.SecurityEvent, error) {
	matched := r.matching(filter)

	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].Timestamp.After(matched[j].Timestamp)
	})

	if filter.Offset >= len(matched) {
		return []*models.SecurityEvent{}, nil
	}
	matched = matched[filter.Offset:]
	if filter.Limit > 0 && filter.Limit < len(matched) {
		matched = matched[:filter.Limit]
	}
	return matched, nil
}

// Count returns the number of matching events
func (r *MemorySecurityEventRepository) Count(ctx context.Context, filter models.EventFilter) (int64, error) {
	return int64(len(r.matching(filter))), nil
}

// DeleteOlderThan removes events recorded before cutoff
func (r *MemorySecurityEventRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	kept := r.events[:0]
	var deleted int64
	for _, e := range r.events {
		if e.Timestamp.Before(cutoff) {
			deleted++
			continue
		}
		kept = append(kept, e)
	}
	for i := len(kept); i < len(r.events); i++ {
		r.events[i] = nil
	}
	r.events = kept
	return deleted, nil
}

func (r *MemorySecurityEventRepository) matching(filter models.EventFilter) []*models.SecurityEvent {
	r.mu.RLock()
	defer r.mu.RUnlock()

	matched := make([]*models.SecurityEvent, 0)
	for _, e := range r.events {
		if filter.Matches(e) {
			c := *e
			matched = append(matched, &c)
		}
	}
	return matched
}
