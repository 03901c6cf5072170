package cache

import (
	"sync"
	"time"
)

// Entry represents a single cached value with its bookkeeping. A zero TTL
// means the entry never expires.
type Entry[V any] struct {
	Value        V
	CreatedAt    time.Time
	LastAccessed time.Time
	AccessCount  int64
	TTL          time.Duration
	Size         int64
}

// IsExpired reports whether the entry has outlived its TTL at the given
// instant.
func (e *Entry[V]) IsExpired(now time.Time) bool {
	if e.TTL <= 0 {
		return false
	}
	return now.After(e.CreatedAt.Add(e.TTL))
}

// Touch records an access at the given instant.
func (e *Entry[V]) Touch(now time.Time) {
	e.LastAccessed = now
	e.AccessCount++
}

// AccessTracker keeps a sliding window of access timestamps per key. It
// drives promotion decisions: a key with enough recent accesses is hot
// enough to deserve an L1 slot.
type AccessTracker struct {
	mu       sync.Mutex
	window   time.Duration
	accesses map[string][]time.Time
}

// NewAccessTracker creates a tracker with the given sliding window. The
// window is capped at one hour so tracking state stays bounded.
func NewAccessTracker(window time.Duration) *AccessTracker {
	if window <= 0 || window > time.Hour {
		window = time.Hour
	}
	return &AccessTracker{
		window:   window,
		accesses: make(map[string][]time.Time),
	}
}

// Record notes an access to key at the given instant, pruning anything
// outside the window as it goes.
func (t *AccessTracker) Record(key string, now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	cutoff := now.Add(-t.window)
	kept := pruneBefore(t.accesses[key], cutoff)
	t.accesses[key] = append(kept, now)
}

// Count returns the number of in-window accesses for key.
func (t *AccessTracker) Count(key string, now time.Time) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	cutoff := now.Add(-t.window)
	kept := pruneBefore(t.accesses[key], cutoff)
	if len(kept) == 0 {
		delete(t.accesses, key)
	} else {
		t.accesses[key] = kept
	}
	return len(kept)
}

// FrequentKeys returns up to limit keys with at least threshold in-window
// accesses, most-accessed first.
func (t *AccessTracker) FrequentKeys(threshold, limit int, now time.Time) []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	cutoff := now.Add(-t.window)

	type keyCount struct {
		key   string
		count int
	}
	candidates := make([]keyCount, 0)
	for key, times := range t.accesses {
		kept := pruneBefore(times, cutoff)
		if len(kept) == 0 {
			delete(t.accesses, key)
			continue
		}
		t.accesses[key] = kept
		if len(kept) >= threshold {
			candidates = append(candidates, keyCount{key: key, count: len(kept)})
		}
	}

	// Sort by count descending; candidate lists are small.
	for i := 0; i < len(candidates)-1; i++ {
		for j := i + 1; j < len(candidates); j++ {
			if candidates[i].count < candidates[j].count {
				candidates[i], candidates[j] = candidates[j], candidates[i]
			}
		}
	}

	if limit > 0 && len(candidates) > limit {
		candidates = candidates[:limit]
	}

	keys := make([]string, len(candidates))
	for i, c := range candidates {
		keys[i] = c.key
	}
	return keys
}

// Forget drops tracking state for a single key.
func (t *AccessTracker) Forget(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.accesses, key)
}

// Clear drops all tracking state.
func (t *AccessTracker) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.accesses = make(map[string][]time.Time)
}

func pruneBefore(times []time.Time, cutoff time.Time) []time.Time {
	idx := 0
	for idx < len(times) && !times[idx].After(cutoff) {
		idx++
	}
	if idx == 0 {
		return times
	}
	return append([]time.Time(nil), times[idx:]...)
}
