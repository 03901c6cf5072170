package cache

import (
	"fmt"
	"testing"
	"time"
)

func TestEntryIsExpired(t *testing.T) {
	base := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		ttl     time.Duration
		at      time.Time
		expired bool
	}{
		{"zero ttl never expires", 0, base.Add(100 * 365 * 24 * time.Hour), false},
		{"negative ttl never expires", -time.Second, base.Add(time.Hour), false},
		{"within ttl", time.Minute, base.Add(30 * time.Second), false},
		{"exactly at ttl", time.Minute, base.Add(time.Minute), false},
		{"past ttl", time.Minute, base.Add(61 * time.Second), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := Entry[string]{Value: "v", CreatedAt: base, TTL: tt.ttl}
			if got := e.IsExpired(tt.at); got != tt.expired {
				t.Errorf("IsExpired = %v, want %v", got, tt.expired)
			}
		})
	}
}

func TestEntryTouch(t *testing.T) {
	base := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	e := Entry[string]{Value: "v", CreatedAt: base}

	e.Touch(base.Add(time.Second))
	e.Touch(base.Add(2 * time.Second))

	if e.AccessCount != 2 {
		t.Errorf("expected access count 2, got %d", e.AccessCount)
	}
	if !e.LastAccessed.Equal(base.Add(2 * time.Second)) {
		t.Errorf("expected last accessed updated, got %v", e.LastAccessed)
	}
}

func TestAccessTrackerWindow(t *testing.T) {
	tracker := NewAccessTracker(time.Minute)
	base := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

	tracker.Record("k", base)
	tracker.Record("k", base.Add(10*time.Second))
	tracker.Record("k", base.Add(20*time.Second))

	if got := tracker.Count("k", base.Add(30*time.Second)); got != 3 {
		t.Errorf("expected 3 in-window accesses, got %d", got)
	}

	// The first two accesses fall out of the window.
	if got := tracker.Count("k", base.Add(75*time.Second)); got != 1 {
		t.Errorf("expected 1 in-window access, got %d", got)
	}

	// All accesses age out.
	if got := tracker.Count("k", base.Add(5*time.Minute)); got != 0 {
		t.Errorf("expected 0 in-window accesses, got %d", got)
	}
}

func TestAccessTrackerWindowCap(t *testing.T) {
	tests := []struct {
		name   string
		window time.Duration
		want   time.Duration
	}{
		{"zero window capped to an hour", 0, time.Hour},
		{"oversized window capped to an hour", 24 * time.Hour, time.Hour},
		{"in-range window kept", 30 * time.Second, 30 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tracker := NewAccessTracker(tt.window)
			if tracker.window != tt.want {
				t.Errorf("window = %v, want %v", tracker.window, tt.want)
			}
		})
	}
}

func TestAccessTrackerFrequentKeys(t *testing.T) {
	tracker := NewAccessTracker(time.Hour)
	base := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

	record := func(key string, n int) {
		for i := 0; i < n; i++ {
			tracker.Record(key, base.Add(time.Duration(i)*time.Second))
		}
	}
	record("hot", 5)
	record("warm", 3)
	record("cold", 1)

	now := base.Add(time.Minute)

	keys := tracker.FrequentKeys(3, 0, now)
	if len(keys) != 2 {
		t.Fatalf("expected 2 keys over threshold, got %v", keys)
	}
	if keys[0] != "hot" || keys[1] != "warm" {
		t.Errorf("expected [hot warm] most-accessed first, got %v", keys)
	}

	limited := tracker.FrequentKeys(3, 1, now)
	if len(limited) != 1 || limited[0] != "hot" {
		t.Errorf("expected limit to keep only [hot], got %v", limited)
	}
}

func TestAccessTrackerForget(t *testing.T) {
	tracker := NewAccessTracker(time.Hour)
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

	tracker.Record("k", now)
	tracker.Forget("k")

	if got := tracker.Count("k", now); got != 0 {
		t.Errorf("expected 0 after Forget, got %d", got)
	}
}

func TestAccessTrackerBoundedState(t *testing.T) {
	tracker := NewAccessTracker(time.Minute)
	base := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 100; i++ {
		tracker.Record(fmt.Sprintf("key-%d", i), base)
	}

	// Counting after the window drains per-key state as a side effect.
	later := base.Add(10 * time.Minute)
	for i := 0; i < 100; i++ {
		tracker.Count(fmt.Sprintf("key-%d", i), later)
	}

	tracker.mu.Lock()
	remaining := len(tracker.accesses)
	tracker.mu.Unlock()
	if remaining != 0 {
		t.Errorf("expected tracker state drained, %d keys remain", remaining)
	}
}
