// Package ingestlog keeps a bounded in-memory record of recent ingest
// outcomes (one per downloaded or skipped video) plus rolling throughput
// stats, grounded on the teacher's internal/service/logs circular-buffer
// service: a capacity-bounded slice evicted from the front, per-key
// counters, and a rate computed against wall-clock elapsed time.
package ingestlog

import (
	"sync"
	"time"

	"github.com/biliarchive/biliarchive/internal/pipeline"
)

// DefaultCapacity bounds the ring to the most recent events.
const DefaultCapacity = 200

// Stats summarizes the ring's current contents.
type Stats struct {
	Total            int64
	ByStatus         map[string]int64
	ThroughputPerMin float64
	OldestEventAt    *time.Time
	NewestEventAt    *time.Time
}

// Ring is a bounded, mutex-guarded buffer of ingest events implementing
// pipeline.IngestLogger. The counters track totals across the ring's
// entire lifetime, not just the events currently retained, so throughput
// reflects the process's whole run rather than resetting as old entries
// are evicted.
type Ring struct {
	mu        sync.Mutex
	capacity  int
	events    []pipeline.IngestEvent
	total     int64
	byStatus  map[string]int64
	startTime time.Time
}

// New builds a Ring with the given capacity. A non-positive capacity
// falls back to DefaultCapacity.
func New(capacity int) *Ring {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Ring{
		capacity:  capacity,
		events:    make([]pipeline.IngestEvent, 0, capacity),
		byStatus:  make(map[string]int64),
		startTime: time.Now(),
	}
}

// Record appends event to the ring, evicting the oldest entry once
// capacity is reached.
func (r *Ring) Record(event pipeline.IngestEvent) {
	if event.At.IsZero() {
		event.At = time.Now()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.total++
	r.byStatus[event.Status]++

	if len(r.events) >= r.capacity {
		r.events = r.events[1:]
	}
	r.events = append(r.events, event)
}

// Recent returns up to limit of the most recently recorded events,
// newest last. limit <= 0 returns every retained event.
func (r *Ring) Recent(limit int) []pipeline.IngestEvent {
	r.mu.Lock()
	defer r.mu.Unlock()

	if limit <= 0 || limit > len(r.events) {
		limit = len(r.events)
	}
	start := len(r.events) - limit

	out := make([]pipeline.IngestEvent, limit)
	copy(out, r.events[start:])
	return out
}

// Stats computes current totals and a throughput estimate over the
// process's lifetime so far.
func (r *Ring) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()

	stats := Stats{
		Total:    r.total,
		ByStatus: make(map[string]int64, len(r.byStatus)),
	}
	for status, count := range r.byStatus {
		stats.ByStatus[status] = count
	}

	if elapsed := time.Since(r.startTime).Minutes(); elapsed > 0 {
		stats.ThroughputPerMin = float64(r.total) / elapsed
	}

	if len(r.events) > 0 {
		oldest := r.events[0].At
		newest := r.events[len(r.events)-1].At
		stats.OldestEventAt = &oldest
		stats.NewestEventAt = &newest
	}

	return stats
}

var _ pipeline.IngestLogger = (*Ring)(nil)
