package orchestrator

import (
	"testing"
	"time"

	"github.com/fastpath/fastpath/pkg/types"
)

func snapshotsWithAvg(avgs ...time.Duration) []types.PerformanceSnapshot {
	out := make([]types.PerformanceSnapshot, len(avgs))
	for i, avg := range avgs {
		out[i] = types.PerformanceSnapshot{AvgResponseTime: avg}
	}
	return out
}

func TestSnapshotRingBoundedFIFO(t *testing.T) {
	ring := newSnapshotRing(3)

	for i := 1; i <= 5; i++ {
		ring.append(types.PerformanceSnapshot{RequestsProcessed: uint64(i)})
	}

	if ring.len() != 3 {
		t.Fatalf("expected ring bounded at 3, got %d", ring.len())
	}

	got := ring.last(0)
	if got[0].RequestsProcessed != 3 || got[2].RequestsProcessed != 5 {
		t.Errorf("expected oldest entries dropped, got %+v", got)
	}
}

func TestSnapshotRingLast(t *testing.T) {
	ring := newSnapshotRing(10)
	for i := 1; i <= 4; i++ {
		ring.append(types.PerformanceSnapshot{RequestsProcessed: uint64(i)})
	}

	got := ring.last(2)
	if len(got) != 2 {
		t.Fatalf("expected 2 snapshots, got %d", len(got))
	}
	if got[0].RequestsProcessed != 3 || got[1].RequestsProcessed != 4 {
		t.Errorf("expected the two most recent oldest-first, got %+v", got)
	}

	if len(ring.last(100)) != 4 {
		t.Error("expected oversized request clamped to ring length")
	}
}

func TestSnapshotRingDefaultCapacity(t *testing.T) {
	ring := newSnapshotRing(0)
	if ring.capacity != 1000 {
		t.Errorf("expected default capacity 1000, got %d", ring.capacity)
	}
}

func TestRegressionCondition(t *testing.T) {
	target := 2 * time.Millisecond

	tests := []struct {
		name    string
		recent  []types.PerformanceSnapshot
		current time.Duration
		want    bool
	}{
		{
			name:    "spike over quiet history",
			recent:  snapshotsWithAvg(time.Millisecond, time.Millisecond, time.Millisecond),
			current: 20 * time.Millisecond,
			want:    true,
		},
		{
			name:    "current below target never alarms",
			recent:  snapshotsWithAvg(time.Microsecond),
			current: time.Millisecond,
			want:    false,
		},
		{
			name:    "empty window never alarms",
			recent:  nil,
			current: 20 * time.Millisecond,
			want:    false,
		},
		{
			name:    "all-zero window never alarms",
			recent:  snapshotsWithAvg(0, 0, 0),
			current: 20 * time.Millisecond,
			want:    false,
		},
		{
			name:    "above target but within factor of history",
			recent:  snapshotsWithAvg(3*time.Millisecond, 3*time.Millisecond),
			current: 4 * time.Millisecond,
			want:    false,
		},
		{
			name:    "idle intervals excluded from the window average",
			recent:  snapshotsWithAvg(0, 0, time.Millisecond),
			current: 20 * time.Millisecond,
			want:    true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := regressionCondition(tt.recent, tt.current, target, 1.5)
			if got != tt.want {
				t.Errorf("regressionCondition = %v, want %v", got, tt.want)
			}
		})
	}
}
