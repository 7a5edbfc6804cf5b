package ingest

import (
	"sync"
	"time"
)

// Dedup is a bounded, time-windowed set of already-processed job ids. It is a
// performance optimization only: correctness comes from the per-task jobId
// match in the task store, so losing entries on restart or eviction is safe.
type Dedup struct {
	mu   sync.Mutex
	seen map[string]time.Time
	ttl  time.Duration
	max  int
}

const (
	defaultDedupTTL = 30 * time.Minute
	defaultDedupMax = 10000
)

// NewDedup creates a Dedup with the given window and size bound. Zero values
// select the defaults.
func NewDedup(ttl time.Duration, max int) *Dedup {
	if ttl <= 0 {
		ttl = defaultDedupTTL
	}
	if max <= 0 {
		max = defaultDedupMax
	}
	return &Dedup{
		seen: make(map[string]time.Time),
		ttl:  ttl,
		max:  max,
	}
}

// Seen reports whether jobID was marked within the window. Expired entries
// are pruned on each call. Checking never marks: only a durably applied
// result consumes a slot, so a delivery that failed mid-processing stays
// reprocessable on redelivery.
func (d *Dedup) Seen(jobID string, now time.Time) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.prune(now)
	_, ok := d.seen[jobID]
	return ok
}

// Mark records jobID as processed. When the set exceeds its bound the oldest
// entries are evicted.
func (d *Dedup) Mark(jobID string, now time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.prune(now)
	d.seen[jobID] = now

	for len(d.seen) > d.max {
		oldestID := ""
		var oldestAt time.Time
		for id, at := range d.seen {
			if oldestID == "" || at.Before(oldestAt) {
				oldestID, oldestAt = id, at
			}
		}
		delete(d.seen, oldestID)
	}
}

func (d *Dedup) prune(now time.Time) {
	cutoff := now.Add(-d.ttl)
	for id, at := range d.seen {
		if at.Before(cutoff) {
			delete(d.seen, id)
		}
	}
}

// Len reports the current number of tracked job ids.
func (d *Dedup) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.seen)
}
