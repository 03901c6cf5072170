package orchestrator

import (
	"sync"
	"time"

	"github.com/fastpath/fastpath/pkg/types"
)

// snapshotRing is a bounded FIFO of performance snapshots. When full, the
// oldest snapshot is dropped.
type snapshotRing struct {
	mu       sync.Mutex
	buf      []types.PerformanceSnapshot
	capacity int
}

func newSnapshotRing(capacity int) *snapshotRing {
	if capacity <= 0 {
		capacity = 1000
	}
	return &snapshotRing{capacity: capacity}
}

func (r *snapshotRing) append(s types.PerformanceSnapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.buf = append(r.buf, s)
	if len(r.buf) > r.capacity {
		r.buf = r.buf[len(r.buf)-r.capacity:]
	}
}

// last returns up to n most recent snapshots, oldest first.
func (r *snapshotRing) last(n int) []types.PerformanceSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	if n <= 0 || n > len(r.buf) {
		n = len(r.buf)
	}
	out := make([]types.PerformanceSnapshot, n)
	copy(out, r.buf[len(r.buf)-n:])
	return out
}

func (r *snapshotRing) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.buf)
}

// regressionCondition evaluates the monitoring loop's alarm: the current
// interval average must exceed the regression factor times the
// recent-window average AND the response-time target. Both clauses are
// required so startup noise and an already-met target never alarm.
func regressionCondition(recent []types.PerformanceSnapshot, current time.Duration, target time.Duration, factor float64) bool {
	if current <= target || len(recent) == 0 {
		return false
	}

	var total time.Duration
	counted := 0
	for _, s := range recent {
		if s.AvgResponseTime > 0 {
			total += s.AvgResponseTime
			counted++
		}
	}
	if counted == 0 {
		return false
	}

	windowAvg := total / time.Duration(counted)
	return float64(current) > factor*float64(windowAvg)
}
