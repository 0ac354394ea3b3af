// Package observability provides capture statistics for history tracking.
package observability

import (
	"sort"
	"sync"
	"time"
)

// Event is a kind of history capture outcome.
type Event string

const (
	EventCreated      Event = "created"
	EventChanged      Event = "changed"
	EventDeduplicated Event = "deduplicated"
	EventSkipped      Event = "skipped"
	EventRemoved      Event = "removed"
	EventLinked       Event = "linked"
	EventBackfilled   Event = "backfilled"
)

// CaptureStats counts capture outcomes per historical model.
type CaptureStats struct {
	mu     sync.RWMutex
	models map[string]*ModelStats
	window time.Duration
}

// ModelStats holds the counters of one historical model.
type ModelStats struct {
	Model    string
	Total    int64
	LastSeen time.Time
	Events   map[Event]int64
}

// NewCaptureStats creates a new tracker.
// window: time duration for pruning idle models (e.g., 1 hour)
func NewCaptureStats(window time.Duration) *CaptureStats {
	return &CaptureStats{
		models: make(map[string]*ModelStats),
		window: window,
	}
}

// Record counts one event for model.
// This method is O(1) and thread-safe.
func (c *CaptureStats) Record(model string, ev Event) {
	c.RecordN(model, ev, 1)
}

// RecordN counts n events for model. Non-positive n is ignored.
func (c *CaptureStats) RecordN(model string, ev Event, n int64) {
	if n <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	stats, exists := c.models[model]
	if !exists {
		stats = &ModelStats{
			Model:  model,
			Events: make(map[Event]int64),
		}
		c.models[model] = stats
	}

	stats.Total += n
	stats.LastSeen = time.Now()
	stats.Events[ev] += n
}

// Get returns a copy of model's counters.
func (c *CaptureStats) Get(model string) (ModelStats, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	s, ok := c.models[model]
	if !ok {
		return ModelStats{}, false
	}
	return s.copy(), true
}

// Top returns the top N models by total events.
// Returns a copy of the stats sorted by total (descending), then by name.
func (c *CaptureStats) Top(n int) []ModelStats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if n <= 0 || len(c.models) == 0 {
		return []ModelStats{}
	}

	stats := make([]ModelStats, 0, len(c.models))
	for _, s := range c.models {
		stats = append(stats, s.copy())
	}

	sort.Slice(stats, func(i, j int) bool {
		if stats[i].Total != stats[j].Total {
			return stats[i].Total > stats[j].Total
		}
		return stats[i].Model < stats[j].Model
	})

	if n > len(stats) {
		n = len(stats)
	}
	return stats[:n]
}

// Prune removes models where time.Since(LastSeen) > window.
func (c *CaptureStats) Prune() {
	c.mu.Lock()
	defer c.mu.Unlock()

	threshold := time.Now().Add(-c.window)
	for model, stats := range c.models {
		if stats.LastSeen.Before(threshold) {
			delete(c.models, model)
		}
	}
}

func (s *ModelStats) copy() ModelStats {
	cp := ModelStats{
		Model:    s.Model,
		Total:    s.Total,
		LastSeen: s.LastSeen,
		Events:   make(map[Event]int64, len(s.Events)),
	}
	for ev, n := range s.Events {
		cp.Events[ev] = n
	}
	return cp
}
