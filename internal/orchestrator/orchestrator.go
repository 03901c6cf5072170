// Package orchestrator wires the multi-tier cache, the connection pool
// manager, and the compliance validator into the end-to-end request path,
// and runs the monitoring and optimization loops that keep the data plane
// inside its latency budget without operator intervention.
package orchestrator

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fastpath/fastpath/internal/cache"
	"github.com/fastpath/fastpath/internal/pool"
	fperrors "github.com/fastpath/fastpath/pkg/errors"
	"github.com/fastpath/fastpath/pkg/logging"
	"github.com/fastpath/fastpath/pkg/types"
)

// Request is a unit of work submitted by a caller.
type Request struct {
	// ID is assigned when empty.
	ID string `json:"id"`

	// Token is the opaque compliance token gating the request.
	Token string `json:"token"`

	// Operation names the unit of work.
	Operation string `json:"operation"`

	// Params is the canonical request content the cache key derives
	// from.
	Params map[string]string `json:"params,omitempty"`

	// Category selects the cache TTL policy class for the result.
	Category string `json:"category,omitempty"`
}

// Response annotates the result with performance metadata.
type Response struct {
	RequestID string        `json:"request_id"`
	Value     []byte        `json:"value"`
	Cached    bool          `json:"cached"`
	Validated bool          `json:"validated"`
	Elapsed   time.Duration `json:"elapsed"`
}

// WorkFunc executes the unit of work on a cache miss. conn is nil when the
// orchestrator is configured without a pool.
type WorkFunc func(ctx context.Context, req *Request, conn pool.Conn) ([]byte, error)

// Config configures the orchestrator.
type Config struct {
	// PoolName selects the pool used for units of work; empty means work
	// runs without a pooled connection.
	PoolName string `yaml:"pool_name"`

	MonitorInterval  time.Duration `yaml:"monitor_interval"`
	OptimizeInterval time.Duration `yaml:"optimize_interval"`
	HistorySize      int           `yaml:"history_size"`

	// TargetResponseTime is the P95 response-time target; the regression
	// warning requires the current average to exceed both this and
	// RegressionFactor times the recent-window average.
	TargetResponseTime time.Duration `yaml:"target_response_time"`
	RegressionFactor   float64       `yaml:"regression_factor"`
	RegressionWindow   int           `yaml:"regression_window"`

	TargetSuccessRate float64 `yaml:"target_success_rate"`
	TargetHitRate     float64 `yaml:"target_hit_rate"`
}

// DefaultConfig returns the default orchestrator configuration.
func DefaultConfig() *Config {
	return &Config{
		MonitorInterval:    10 * time.Second,
		OptimizeInterval:   60 * time.Second,
		HistorySize:        1000,
		TargetResponseTime: 2 * time.Millisecond,
		RegressionFactor:   1.5,
		RegressionWindow:   10,
		TargetSuccessRate:  0.99,
		TargetHitRate:      0.95,
	}
}

// Orchestrator is the composition root's façade over the data plane. One
// instance is constructed at startup, passed to consumers explicitly, and
// closed at shutdown; there is no process-wide state.
type Orchestrator struct {
	config    *Config
	cache     *cache.MultiTierCache[[]byte]
	pools     *pool.Manager
	validator types.ComplianceValidator
	work      WorkFunc
	logger    *logging.Logger

	statsMu           sync.Mutex
	requestsProcessed uint64
	requestsFailed    uint64
	cacheServed       uint64
	totalResponseTime time.Duration

	// Interval accounting for per-tick snapshot averages.
	intervalTime  time.Duration
	intervalCount uint64

	history *snapshotRing

	optimizeMu   sync.Mutex
	optimizeRuns uint64
	lastOptimize time.Time

	startMu sync.Mutex
	started bool
	stopCh  chan struct{}
	wg      sync.WaitGroup

	now func() time.Time
}

// Summary aggregates component metrics and whether each target is
// currently met. Plain data, serializable for an external monitoring
// endpoint.
type Summary struct {
	Timestamp time.Time `json:"timestamp"`

	Cache types.CacheMetrics           `json:"cache"`
	Pools map[string]types.PoolMetrics `json:"pools"`

	RequestsProcessed   uint64        `json:"requests_processed"`
	RequestsFailed      uint64        `json:"requests_failed"`
	CacheServedRequests uint64        `json:"cache_served_requests"`
	AvgResponseTime     time.Duration `json:"avg_response_time"`

	OptimizeRuns uint64    `json:"optimize_runs"`
	LastOptimize time.Time `json:"last_optimize"`

	ResponseTimeTargetMet bool `json:"response_time_target_met"`
	SuccessRateTargetMet  bool `json:"success_rate_target_met"`
	HitRateTargetMet      bool `json:"hit_rate_target_met"`
}

// New creates the orchestrator. cache and validator are required; pools
// may be nil when no unit of work needs the backing store.
func New(config *Config, c *cache.MultiTierCache[[]byte], pools *pool.Manager, validator types.ComplianceValidator, work WorkFunc, logger *logging.Logger) *Orchestrator {
	if config == nil {
		config = DefaultConfig()
	}
	if config.RegressionFactor <= 1 {
		config.RegressionFactor = 1.5
	}
	if config.RegressionWindow <= 0 {
		config.RegressionWindow = 10
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}

	return &Orchestrator{
		config:    config,
		cache:     c,
		pools:     pools,
		validator: validator,
		work:      work,
		logger:    logger.WithComponent("orchestrator"),
		history:   newSnapshotRing(config.HistorySize),
		stopCh:    make(chan struct{}),
		now:       time.Now,
	}
}

// Start launches the monitoring and optimization loops. They run on fixed
// intervals, independent of request traffic.
func (o *Orchestrator) Start() error {
	o.startMu.Lock()
	defer o.startMu.Unlock()

	if o.started {
		return fperrors.NewError(fperrors.ErrCodeAlreadyStarted, "orchestrator already started").
			WithComponent("orchestrator")
	}
	o.started = true

	o.wg.Add(2)
	go o.monitorLoop()
	go o.optimizeLoop()
	return nil
}

// Process runs one request end-to-end: validate, derive the cache key,
// serve from cache on a hit, otherwise execute the unit of work and cache
// the result. The response carries elapsed time, cache status, and
// validation status.
func (o *Orchestrator) Process(ctx context.Context, req *Request) (*Response, error) {
	start := o.now()

	if req == nil {
		return nil, fperrors.NewError(fperrors.ErrCodeKeyInvalid, "nil request").
			WithComponent("orchestrator")
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}

	ok, err := o.validator.Validate(ctx, req.Token)
	if err != nil || !ok {
		// Fail closed; a validation failure fails this request and is
		// never retried.
		o.chargeFailure(start)
		vErr := fperrors.NewError(fperrors.ErrCodeValidationFailed, "compliance validation failed").
			WithComponent("orchestrator").WithRequestID(req.ID)
		if err != nil {
			vErr = vErr.WithCause(err)
		}
		return nil, vErr
	}

	key := CacheKey(req)

	if value, hit := o.cache.Get(ctx, key); hit {
		elapsed := o.chargeSuccess(start, true)
		return &Response{
			RequestID: req.ID,
			Value:     value,
			Cached:    true,
			Validated: true,
			Elapsed:   elapsed,
		}, nil
	}

	value, err := o.execute(ctx, req)
	if err != nil {
		o.chargeFailure(start)
		return nil, err
	}

	o.cache.Set(ctx, key, value, cache.SetOptions{Category: req.Category})

	elapsed := o.chargeSuccess(start, false)
	return &Response{
		RequestID: req.ID,
		Value:     value,
		Cached:    false,
		Validated: true,
		Elapsed:   elapsed,
	}, nil
}

// execute runs the unit of work, acquiring a pooled connection when one is
// configured. The connection is released on every exit path.
func (o *Orchestrator) execute(ctx context.Context, req *Request) ([]byte, error) {
	var conn pool.Conn

	if o.config.PoolName != "" && o.pools != nil {
		h, err := o.pools.AcquireConnection(ctx, o.config.PoolName)
		if err != nil {
			// Backing-store degradation propagates; no silent masking.
			return nil, err
		}
		defer func() {
			if relErr := o.pools.ReleaseConnection(o.config.PoolName, h); relErr != nil {
				o.logger.Error("release failed", logging.F("error", relErr.Error()))
			}
		}()
		conn = h.Conn()
	}

	if o.work == nil {
		return nil, fperrors.NewError(fperrors.ErrCodeInternalError, "no work function configured").
			WithComponent("orchestrator").WithRequestID(req.ID)
	}
	return o.work(ctx, req, conn)
}

// GetPerformanceSummary aggregates component metrics and target status.
func (o *Orchestrator) GetPerformanceSummary() Summary {
	o.statsMu.Lock()
	processed := o.requestsProcessed
	failed := o.requestsFailed
	served := o.cacheServed
	totalTime := o.totalResponseTime
	o.statsMu.Unlock()

	o.optimizeMu.Lock()
	optimizeRuns := o.optimizeRuns
	lastOptimize := o.lastOptimize
	o.optimizeMu.Unlock()

	var avg time.Duration
	if processed > 0 {
		avg = totalTime / time.Duration(processed)
	}

	successRate := 1.0
	if total := processed + failed; total > 0 {
		successRate = float64(processed) / float64(total)
	}

	cacheMetrics := o.cache.GetPerformanceMetrics()

	summary := Summary{
		Timestamp:           o.now(),
		Cache:               cacheMetrics,
		RequestsProcessed:   processed,
		RequestsFailed:      failed,
		CacheServedRequests: served,
		AvgResponseTime:     avg,
		OptimizeRuns:        optimizeRuns,
		LastOptimize:        lastOptimize,

		ResponseTimeTargetMet: avg <= o.config.TargetResponseTime,
		SuccessRateTargetMet:  successRate >= o.config.TargetSuccessRate,
		HitRateTargetMet:      cacheMetrics.HitRate() >= o.config.TargetHitRate,
	}
	if o.pools != nil {
		summary.Pools = o.pools.MetricsAll()
	}
	return summary
}

// History returns up to n recent snapshots, oldest first.
func (o *Orchestrator) History(n int) []types.PerformanceSnapshot {
	return o.history.last(n)
}

// Close cancels both loops, waiting for in-flight ticks, then closes the
// cache and the pool manager in that order.
func (o *Orchestrator) Close() error {
	o.startMu.Lock()
	if o.started {
		close(o.stopCh)
		o.started = false
	}
	o.startMu.Unlock()

	o.wg.Wait()

	if err := o.cache.Close(); err != nil {
		o.logger.Warn("cache close failed", logging.F("error", err.Error()))
	}
	if o.pools != nil {
		return o.pools.CloseAll()
	}
	return nil
}

// CacheKey derives a deterministic key from canonical request content:
// the operation plus its parameters in sorted order. Every component is
// length-prefixed so no parameter content can collide with the field
// framing. The token is excluded; authorization must never shard the
// cache.
func CacheKey(req *Request) string {
	h := sha256.New()
	writeField := func(s string) {
		var length [8]byte
		binary.BigEndian.PutUint64(length[:], uint64(len(s)))
		h.Write(length[:])
		h.Write([]byte(s))
	}

	writeField(req.Operation)

	keys := make([]string, 0, len(req.Params))
	for k := range req.Params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		writeField(k)
		writeField(req.Params[k])
	}

	return hex.EncodeToString(h.Sum(nil))
}

// Internal accounting.

func (o *Orchestrator) chargeSuccess(start time.Time, cached bool) time.Duration {
	elapsed := o.now().Sub(start)
	o.statsMu.Lock()
	o.requestsProcessed++
	o.totalResponseTime += elapsed
	o.intervalTime += elapsed
	o.intervalCount++
	if cached {
		o.cacheServed++
	}
	o.statsMu.Unlock()
	return elapsed
}

func (o *Orchestrator) chargeFailure(start time.Time) {
	elapsed := o.now().Sub(start)
	o.statsMu.Lock()
	o.requestsFailed++
	o.intervalTime += elapsed
	o.intervalCount++
	o.statsMu.Unlock()
}

// Background loops.

func (o *Orchestrator) monitorLoop() {
	defer o.wg.Done()

	ticker := time.NewTicker(o.config.MonitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-o.stopCh:
			return
		case <-ticker.C:
			o.safeTick("monitor", o.monitorTick)
		}
	}
}

func (o *Orchestrator) optimizeLoop() {
	defer o.wg.Done()

	ticker := time.NewTicker(o.config.OptimizeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-o.stopCh:
			return
		case <-ticker.C:
			o.safeTick("optimize", o.optimizeTick)
		}
	}
}

// safeTick isolates a loop body so a panic is logged and the loop
// continues on its next tick.
func (o *Orchestrator) safeTick(name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("background tick panicked",
				logging.F("loop", name), logging.F("panic", fmt.Sprintf("%v", r)))
		}
	}()
	fn()
}

// monitorTick samples component metrics into a snapshot, appends it to the
// bounded history, and evaluates the regression condition.
func (o *Orchestrator) monitorTick() {
	snapshot := o.takeSnapshot()
	recent := o.history.last(o.config.RegressionWindow)
	o.history.append(snapshot)

	if regressionCondition(recent, snapshot.AvgResponseTime, o.config.TargetResponseTime, o.config.RegressionFactor) {
		// Non-fatal: operators alert on this; traffic keeps flowing.
		o.logger.Warn("performance regression detected",
			logging.F("avg_response_time", snapshot.AvgResponseTime.String()),
			logging.F("target", o.config.TargetResponseTime.String()))
	}
}

// takeSnapshot drains the interval accumulators into a snapshot.
func (o *Orchestrator) takeSnapshot() types.PerformanceSnapshot {
	o.statsMu.Lock()
	var intervalAvg time.Duration
	if o.intervalCount > 0 {
		intervalAvg = o.intervalTime / time.Duration(o.intervalCount)
	}
	o.intervalTime = 0
	o.intervalCount = 0
	processed := o.requestsProcessed
	failed := o.requestsFailed
	served := o.cacheServed
	o.statsMu.Unlock()

	snapshot := types.PerformanceSnapshot{
		Timestamp:           o.now(),
		Cache:               o.cache.GetPerformanceMetrics(),
		RequestsProcessed:   processed,
		RequestsFailed:      failed,
		CacheServedRequests: served,
		AvgResponseTime:     intervalAvg,
	}
	if o.pools != nil {
		snapshot.Pools = o.pools.MetricsAll()
	}
	return snapshot
}

// optimizeTick runs the self-tuning pass over the cache and every pool.
func (o *Orchestrator) optimizeTick() {
	ctx, cancel := context.WithTimeout(context.Background(), o.config.OptimizeInterval)
	defer cancel()

	report := o.cache.OptimizePerformance(ctx)
	for _, action := range report.Actions {
		o.logger.Info("cache optimization", logging.F("action", action))
	}

	if o.pools != nil {
		for name, poolReport := range o.pools.OptimizeAllPools(ctx) {
			for _, action := range poolReport.Actions {
				o.logger.Info("pool optimization",
					logging.F("pool", name), logging.F("action", action))
			}
		}
	}

	o.optimizeMu.Lock()
	o.optimizeRuns++
	o.lastOptimize = o.now()
	o.optimizeMu.Unlock()
}
