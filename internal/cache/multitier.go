package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/fastpath/fastpath/pkg/logging"
	"github.com/fastpath/fastpath/pkg/types"
)

// healthCheckKey is the synthetic key round-tripped by HealthCheck.
const healthCheckKey = "__fastpath_health__"

// MultiTierConfig configures the composed cache.
type MultiTierConfig struct {
	L1 *MemoryCacheConfig `yaml:"l1"`

	// DefaultTTL applies when neither an explicit TTL nor a category
	// match is given.
	DefaultTTL time.Duration `yaml:"default_ttl"`

	// TTLByCategory maps a payload category to its TTL: long for
	// rarely-changing categories, short for high-churn ones.
	TTLByCategory map[string]time.Duration `yaml:"ttl_by_category"`

	// PromotionThreshold is the number of in-window L2-served accesses
	// after which a key is copied into L1.
	PromotionThreshold int           `yaml:"promotion_threshold"`
	PromotionWindow    time.Duration `yaml:"promotion_window"`
	PromotionTTL       time.Duration `yaml:"promotion_ttl"`

	// Optimization targets, checked only by the background pass.
	TargetHitRate     float64       `yaml:"target_hit_rate"`
	TargetAccessTime  time.Duration `yaml:"target_access_time"`
	OptimizeBatchSize int           `yaml:"optimize_batch_size"`
}

// DefaultMultiTierConfig returns the default cache configuration.
func DefaultMultiTierConfig() *MultiTierConfig {
	return &MultiTierConfig{
		L1:         DefaultMemoryCacheConfig(),
		DefaultTTL: 5 * time.Minute,
		TTLByCategory: map[string]time.Duration{
			"static":   time.Hour,
			"volatile": 30 * time.Second,
		},
		PromotionThreshold: 3,
		PromotionWindow:    time.Hour,
		PromotionTTL:       5 * time.Minute,
		TargetHitRate:      0.95,
		TargetAccessTime:   5 * time.Millisecond,
		OptimizeBatchSize:  10,
	}
}

// MultiTierCache composes the in-process L1 tier with the shared remote L2
// tier. Reads check L1 first, then L2; keys served repeatedly from L2 are
// promoted into L1 once their in-window access count crosses the
// promotion threshold.
type MultiTierCache[V any] struct {
	config  *MultiTierConfig
	l1      *MemoryCache[V]
	l2      *RemoteCache[V]
	tracker *AccessTracker
	logger  *logging.Logger

	statsMu sync.Mutex
	stats   tierCounters

	now func() time.Time
}

// tierCounters are the cache's pre-aggregated metrics. Updated under
// statsMu; counts must be exact because they drive optimization decisions.
type tierCounters struct {
	l1Hits     uint64
	l1Misses   uint64
	l2Hits     uint64
	l2Misses   uint64
	promotions uint64

	totalAccessTime time.Duration
	accessCount     uint64
}

// SetOptions carries the optional arguments of Set.
type SetOptions struct {
	// TTL overrides the policy-derived TTL when positive.
	TTL time.Duration
	// Category selects a TTL from the policy table when TTL is unset.
	Category string
}

// NewMultiTierCache creates the composed cache. The L2 tier may be nil, in
// which case the cache runs on L1 alone.
func NewMultiTierCache[V any](config *MultiTierConfig, l2 *RemoteCache[V], logger *logging.Logger) *MultiTierCache[V] {
	if config == nil {
		config = DefaultMultiTierConfig()
	}
	if config.PromotionThreshold <= 0 {
		config.PromotionThreshold = 3
	}
	if config.DefaultTTL <= 0 {
		config.DefaultTTL = 5 * time.Minute
	}
	if config.PromotionTTL <= 0 {
		config.PromotionTTL = config.DefaultTTL
	}
	if config.OptimizeBatchSize <= 0 {
		config.OptimizeBatchSize = 10
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}

	return &MultiTierCache[V]{
		config:  config,
		l1:      NewMemoryCache[V](config.L1),
		l2:      l2,
		tracker: NewAccessTracker(config.PromotionWindow),
		logger:  logger.WithComponent("cache"),
		now:     time.Now,
	}
}

// Get retrieves a value, checking L1 then L2. An L2 hit records the access
// for promotion tracking and promotes the key once it is demonstrably hot.
func (c *MultiTierCache[V]) Get(ctx context.Context, key string) (V, bool) {
	start := c.now()
	defer func() {
		elapsed := c.now().Sub(start)
		c.statsMu.Lock()
		c.stats.totalAccessTime += elapsed
		c.stats.accessCount++
		c.statsMu.Unlock()
	}()

	if value, ok := c.l1.Get(key); ok {
		c.statsMu.Lock()
		c.stats.l1Hits++
		c.statsMu.Unlock()
		return value, true
	}
	c.statsMu.Lock()
	c.stats.l1Misses++
	c.statsMu.Unlock()

	var zero V
	if c.l2 == nil {
		c.statsMu.Lock()
		c.stats.l2Misses++
		c.statsMu.Unlock()
		return zero, false
	}

	value, ok := c.l2.Get(ctx, key)
	if !ok {
		c.statsMu.Lock()
		c.stats.l2Misses++
		c.statsMu.Unlock()
		return zero, false
	}

	c.statsMu.Lock()
	c.stats.l2Hits++
	c.statsMu.Unlock()

	now := c.now()
	c.tracker.Record(key, now)
	if c.tracker.Count(key, now) >= c.config.PromotionThreshold {
		c.promote(key, value)
	}

	return value, true
}

// Set writes a value to L1 and, best-effort, to L2. L2 write failures are
// logged and counted but never fail the call; concurrent writers to the
// same key race and the last write to complete wins.
func (c *MultiTierCache[V]) Set(ctx context.Context, key string, value V, opts SetOptions) {
	ttl := c.resolveTTL(opts)

	c.l1.Set(key, value, ttl)

	if c.l2 != nil {
		if err := c.l2.Set(ctx, key, value, ttl); err != nil {
			c.logger.Warn("best-effort L2 write failed",
				logging.F("key", key), logging.F("error", err.Error()))
		}
	}
}

// Delete removes a key from both tiers. Idempotent: returns true unless an
// error (not mere absence) occurred on the remote tier.
func (c *MultiTierCache[V]) Delete(ctx context.Context, key string) bool {
	c.l1.Delete(key)
	c.tracker.Forget(key)

	if c.l2 != nil {
		if err := c.l2.Delete(ctx, key); err != nil {
			c.logger.Warn("L2 delete failed",
				logging.F("key", key), logging.F("error", err.Error()))
			return false
		}
	}
	return true
}

// ClearAll empties both tiers and the access tracker. Explicit maintenance
// operation; never invoked by background loops.
func (c *MultiTierCache[V]) ClearAll(ctx context.Context) error {
	c.l1.Clear()
	c.tracker.Clear()

	if c.l2 != nil {
		if err := c.l2.Flush(ctx); err != nil {
			return fmt.Errorf("flush remote tier: %w", err)
		}
	}
	return nil
}

// HealthCheck round-trips a synthetic key on each tier. An L1 failure
// makes the cache unhealthy; an L2 failure only degrades it.
func (c *MultiTierCache[V]) HealthCheck(ctx context.Context) types.CacheHealth {
	health := types.CacheHealth{CheckedAt: c.now()}

	var probe V
	health.L1Healthy = c.l1.Probe(healthCheckKey, probe)

	health.L2Healthy = true
	if c.l2 != nil {
		if err := c.l2.Ping(ctx); err != nil {
			health.L2Healthy = false
			c.logger.Warn("L2 health probe failed", logging.F("error", err.Error()))
		}
	}

	// Graceful degradation: the cache stays healthy on L1 alone.
	health.Healthy = health.L1Healthy
	return health
}

// GetPerformanceMetrics returns the pre-aggregated counters. O(1); no
// scans. Safe to call from monitoring loops at any frequency.
func (c *MultiTierCache[V]) GetPerformanceMetrics() types.CacheMetrics {
	c.statsMu.Lock()
	counters := c.stats
	c.statsMu.Unlock()

	l1Stats := c.l1.Stats()

	metrics := types.CacheMetrics{
		L1Hits:          counters.l1Hits,
		L1Misses:        counters.l1Misses,
		L2Hits:          counters.l2Hits,
		L2Misses:        counters.l2Misses,
		Promotions:      counters.promotions,
		Evictions:       l1Stats.Evictions,
		Expirations:     l1Stats.Expirations,
		TotalAccessTime: counters.totalAccessTime,
		AccessCount:     counters.accessCount,
		L1Entries:       l1Stats.Entries,
	}
	if c.l2 != nil {
		metrics.L2Errors = c.l2.ErrorCount()
	}
	return metrics
}

// OptimizePerformance purges expired L1 entries and, when the cache is
// missing its targets, promotes a bounded batch of frequent L2 keys.
// Invoked only from the background optimization loop, never on the hot
// path.
func (c *MultiTierCache[V]) OptimizePerformance(ctx context.Context) types.OptimizationReport {
	report := types.OptimizationReport{Timestamp: c.now()}

	if purged := c.l1.PurgeExpired(); purged > 0 {
		report.Actions = append(report.Actions,
			fmt.Sprintf("purged %d expired L1 entries", purged))
	}

	metrics := c.GetPerformanceMetrics()
	hitRate := metrics.HitRate()
	avgAccess := metrics.AverageAccessTime()

	belowTarget := hitRate < c.config.TargetHitRate ||
		(c.config.TargetAccessTime > 0 && avgAccess > c.config.TargetAccessTime)
	if !belowTarget {
		return report
	}

	if c.l2 != nil {
		keys := c.tracker.FrequentKeys(c.config.PromotionThreshold, c.config.OptimizeBatchSize, c.now())
		promoted := 0
		for _, key := range keys {
			if c.l1.Contains(key) {
				continue
			}
			if value, ok := c.l2.Get(ctx, key); ok {
				c.promote(key, value)
				promoted++
			}
		}
		if promoted > 0 {
			report.Actions = append(report.Actions,
				fmt.Sprintf("promoted %d frequent keys to L1", promoted))
		}
	}

	if hitRate < c.config.TargetHitRate {
		report.Recommendations = append(report.Recommendations,
			fmt.Sprintf("hit rate %.3f below target %.3f; consider raising l1 max_entries",
				hitRate, c.config.TargetHitRate))
	}
	if c.config.TargetAccessTime > 0 && avgAccess > c.config.TargetAccessTime {
		report.Recommendations = append(report.Recommendations,
			fmt.Sprintf("average access time %s above target %s",
				avgAccess, c.config.TargetAccessTime))
	}

	return report
}

// Close releases the remote tier client.
func (c *MultiTierCache[V]) Close() error {
	if c.l2 != nil {
		return c.l2.Close()
	}
	return nil
}

// promote copies a hot key into L1 with the promotion TTL. Set is
// idempotent, so two callers promoting the same key concurrently simply
// race last-write-wins.
func (c *MultiTierCache[V]) promote(key string, value V) {
	c.l1.Set(key, value, c.config.PromotionTTL)
	c.tracker.Forget(key)

	c.statsMu.Lock()
	c.stats.promotions++
	c.statsMu.Unlock()

	c.logger.Debug("promoted key to L1", logging.F("key", key))
}

// resolveTTL applies the static TTL policy: explicit TTL wins, then the
// category table, then the default.
func (c *MultiTierCache[V]) resolveTTL(opts SetOptions) time.Duration {
	if opts.TTL > 0 {
		return opts.TTL
	}
	if opts.Category != "" {
		if ttl, ok := c.config.TTLByCategory[opts.Category]; ok {
			return ttl
		}
	}
	return c.config.DefaultTTL
}
