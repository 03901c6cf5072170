package types

import (
	"context"
	"time"
)

// ComplianceValidator gates sensitive operations with an opaque token check.
// It is external to this subsystem; implementations are expected to answer
// in well under a millisecond. Any error is treated as a failed validation
// (fail closed).
type ComplianceValidator interface {
	Validate(ctx context.Context, token string) (bool, error)
}

// CacheMetrics holds pre-aggregated counters for the multi-tier cache.
// All fields are plain data so the struct serializes directly for an
// external monitoring endpoint.
type CacheMetrics struct {
	L1Hits      uint64 `json:"l1_hits"`
	L1Misses    uint64 `json:"l1_misses"`
	L2Hits      uint64 `json:"l2_hits"`
	L2Misses    uint64 `json:"l2_misses"`
	Promotions  uint64 `json:"promotions"`
	Evictions   uint64 `json:"evictions"`
	Expirations uint64 `json:"expirations"`
	L2Errors    uint64 `json:"l2_errors"`

	TotalAccessTime time.Duration `json:"total_access_time"`
	AccessCount     uint64        `json:"access_count"`

	L1Entries int `json:"l1_entries"`
}

// HitRate returns the overall hit rate across both tiers. With zero
// accesses it returns 1.0 so that a freshly started cache never trips a
// false regression alarm.
func (m CacheMetrics) HitRate() float64 {
	hits := m.L1Hits + m.L2Hits
	total := hits + m.L2Misses
	if total == 0 {
		return 1.0
	}
	return float64(hits) / float64(total)
}

// L1HitRate returns the hit rate of the in-process tier alone.
func (m CacheMetrics) L1HitRate() float64 {
	total := m.L1Hits + m.L1Misses
	if total == 0 {
		return 1.0
	}
	return float64(m.L1Hits) / float64(total)
}

// AverageAccessTime returns the mean cache access latency, 0 with no
// recorded accesses.
func (m CacheMetrics) AverageAccessTime() time.Duration {
	if m.AccessCount == 0 {
		return 0
	}
	return m.TotalAccessTime / time.Duration(m.AccessCount)
}

// PoolMetrics holds pre-aggregated counters for a connection pool.
type PoolMetrics struct {
	TotalAcquisitions      uint64 `json:"total_acquisitions"`
	SuccessfulAcquisitions uint64 `json:"successful_acquisitions"`
	FailedAcquisitions     uint64 `json:"failed_acquisitions"`

	TotalAcquisitionTime time.Duration `json:"total_acquisition_time"`

	CurrentConnections  int    `json:"current_connections"`
	PeakConnections     int    `json:"peak_connections"`
	IdleConnections     int    `json:"idle_connections"`
	HealthCheckFailures uint64 `json:"health_check_failures"`
}

// SuccessRate returns the acquisition success rate, 1.0 with no attempts.
func (m PoolMetrics) SuccessRate() float64 {
	if m.TotalAcquisitions == 0 {
		return 1.0
	}
	return float64(m.SuccessfulAcquisitions) / float64(m.TotalAcquisitions)
}

// AverageAcquisitionTime returns the mean time spent acquiring a
// connection, 0 with no successful acquisitions.
func (m PoolMetrics) AverageAcquisitionTime() time.Duration {
	if m.SuccessfulAcquisitions == 0 {
		return 0
	}
	return m.TotalAcquisitionTime / time.Duration(m.SuccessfulAcquisitions)
}

// HealthStatus is the common shape of component health reports.
type HealthStatus struct {
	Healthy   bool              `json:"healthy"`
	Details   map[string]string `json:"details,omitempty"`
	CheckedAt time.Time         `json:"checked_at"`
}

// CacheHealth reports per-tier cache health. L2 being down degrades the
// cache but does not make it unhealthy overall.
type CacheHealth struct {
	Healthy   bool      `json:"healthy"`
	L1Healthy bool      `json:"l1_healthy"`
	L2Healthy bool      `json:"l2_healthy"`
	CheckedAt time.Time `json:"checked_at"`
}

// PerformanceSnapshot is a timestamped aggregate of cache metrics, pool
// health, and orchestrator counters, stored in a bounded FIFO ring.
type PerformanceSnapshot struct {
	Timestamp time.Time `json:"timestamp"`

	Cache CacheMetrics           `json:"cache"`
	Pools map[string]PoolMetrics `json:"pools"`

	RequestsProcessed   uint64        `json:"requests_processed"`
	RequestsFailed      uint64        `json:"requests_failed"`
	CacheServedRequests uint64        `json:"cache_served_requests"`
	AvgResponseTime     time.Duration `json:"avg_response_time"`
}

// OptimizationReport describes actions taken by an optimization pass and
// any recommendations left for the operator.
type OptimizationReport struct {
	Timestamp       time.Time `json:"timestamp"`
	Actions         []string  `json:"actions"`
	Recommendations []string  `json:"recommendations"`
}
