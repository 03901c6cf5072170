package pool

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fastpath/fastpath/internal/circuit"
	fperrors "github.com/fastpath/fastpath/pkg/errors"
	"github.com/fastpath/fastpath/pkg/logging"
	"github.com/fastpath/fastpath/pkg/types"
)

// PoolState tracks the lifecycle of a pool.
type PoolState int32

const (
	PoolUninitialized PoolState = iota
	PoolInitializing
	PoolReady
	PoolDegraded
	PoolClosed
)

// String returns the string representation of a pool state.
func (s PoolState) String() string {
	switch s {
	case PoolUninitialized:
		return "uninitialized"
	case PoolInitializing:
		return "initializing"
	case PoolReady:
		return "ready"
	case PoolDegraded:
		return "degraded"
	case PoolClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Config configures a connection pool.
type Config struct {
	Name    string `yaml:"name"`
	Address string `yaml:"address"`

	MinSize int `yaml:"min_size"`
	MaxSize int `yaml:"max_size"`

	// AcquireTimeout bounds how long Acquire may block. The latency
	// budget targets 1ms; exceeding it returns ACQUISITION_TIMEOUT.
	AcquireTimeout time.Duration `yaml:"acquire_timeout"`

	// ProbeTimeout bounds the ping round-trip used during pre-warm and
	// health checks.
	ProbeTimeout time.Duration `yaml:"probe_timeout"`

	// TargetAcquisitionTime is the average-latency goal checked by the
	// optimization pass.
	TargetAcquisitionTime time.Duration `yaml:"target_acquisition_time"`

	// ComplianceToken is checked once during Initialize.
	ComplianceToken string `yaml:"compliance_token"`

	Breaker circuit.Config `yaml:"breaker"`
}

// Validate checks the configuration for caller mistakes.
func (c *Config) Validate() error {
	if c.Address == "" {
		return fperrors.NewError(fperrors.ErrCodeInvalidConfig, "pool address is required").
			WithComponent("pool")
	}
	if c.MinSize <= 0 {
		return fperrors.NewError(fperrors.ErrCodeInvalidConfig, "min_size must be positive").
			WithComponent("pool").WithDetail("min_size", c.MinSize)
	}
	if c.MaxSize < c.MinSize {
		return fperrors.NewError(fperrors.ErrCodeInvalidConfig, "max_size must be >= min_size").
			WithComponent("pool").
			WithDetail("min_size", c.MinSize).WithDetail("max_size", c.MaxSize)
	}
	return nil
}

// applyDefaults fills zero values with defaults.
func (c *Config) applyDefaults() {
	if c.AcquireTimeout <= 0 {
		c.AcquireTimeout = time.Millisecond
	}
	if c.ProbeTimeout <= 0 {
		c.ProbeTimeout = 100 * time.Millisecond
	}
	if c.TargetAcquisitionTime <= 0 {
		c.TargetAcquisitionTime = time.Millisecond
	}
}

// ConnectionPool maintains a bounded set of pre-warmed connections to the
// backing store. Connections are probed before first use so first-use
// latency spikes never land on the critical path.
type ConnectionPool struct {
	config    Config
	driver    Driver
	validator types.ComplianceValidator
	logger    *logging.Logger
	breaker   *circuit.Breaker

	state int32 // PoolState, accessed atomically

	mu          sync.Mutex
	idle        chan *pooledConn
	currentSize int // live connections, idle plus leased; never exceeds MaxSize
	leased      int

	statsMu sync.Mutex
	stats   poolCounters
}

type poolCounters struct {
	totalAcquisitions      uint64
	successfulAcquisitions uint64
	failedAcquisitions     uint64
	totalAcquisitionTime   time.Duration
	peakConnections        int
	healthCheckFailures    uint64
}

// NewConnectionPool creates an uninitialized pool. Call Initialize before
// acquiring connections.
func NewConnectionPool(config Config, driver Driver, validator types.ComplianceValidator, logger *logging.Logger) *ConnectionPool {
	config.applyDefaults()
	if logger == nil {
		logger = logging.NewNopLogger()
	}

	return &ConnectionPool{
		config:    config,
		driver:    driver,
		validator: validator,
		logger:    logger.WithComponent("pool").WithField("pool", config.Name),
		breaker:   circuit.New(config.Name, config.Breaker),
		idle:      make(chan *pooledConn, config.MaxSize),
	}
}

// Initialize validates the configuration, performs the one-time compliance
// check, then opens and probes exactly MinSize connections so the pool is
// warm before the first caller arrives.
func (p *ConnectionPool) Initialize(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&p.state, int32(PoolUninitialized), int32(PoolInitializing)) {
		return fperrors.NewError(fperrors.ErrCodeAlreadyStarted, "pool already initialized").
			WithComponent("pool").WithContext("pool", p.config.Name)
	}

	if err := p.config.Validate(); err != nil {
		atomic.StoreInt32(&p.state, int32(PoolUninitialized))
		return err
	}

	if p.validator != nil {
		ok, err := p.validator.Validate(ctx, p.config.ComplianceToken)
		if err != nil || !ok {
			// Fail closed: a validator error counts as non-compliant.
			atomic.StoreInt32(&p.state, int32(PoolUninitialized))
			e := fperrors.NewError(fperrors.ErrCodeValidationFailed, "pool compliance check failed").
				WithComponent("pool").WithContext("pool", p.config.Name)
			if err != nil {
				e = e.WithCause(err)
			}
			return e
		}
	}

	for i := 0; i < p.config.MinSize; i++ {
		if !p.reserveSlot() {
			break
		}
		pc, err := p.openConn(ctx)
		if err != nil {
			p.unreserveSlot()
			p.drainIdle()
			atomic.StoreInt32(&p.state, int32(PoolUninitialized))
			return fperrors.NewError(fperrors.ErrCodeBackendUnavailable, "pre-warm failed").
				WithComponent("pool").WithOperation("initialize").
				WithContext("pool", p.config.Name).WithCause(err)
		}
		p.idle <- pc
	}

	atomic.StoreInt32(&p.state, int32(PoolReady))
	p.logger.Info("pool ready",
		logging.F("min_size", p.config.MinSize),
		logging.F("max_size", p.config.MaxSize))
	return nil
}

// Acquire leases a connection, bounded by the configured deadline. It
// never blocks indefinitely and never creates more than MaxSize live
// connections.
func (p *ConnectionPool) Acquire(ctx context.Context) (*Handle, error) {
	start := time.Now()

	switch p.State() {
	case PoolClosed:
		return nil, p.chargeFailure(fperrors.NewError(fperrors.ErrCodePoolClosed, "pool is closed").
			WithComponent("pool").WithContext("pool", p.config.Name))
	case PoolUninitialized, PoolInitializing:
		return nil, p.chargeFailure(fperrors.NewError(fperrors.ErrCodeNotInitialized, "pool not initialized").
			WithComponent("pool").WithContext("pool", p.config.Name))
	}

	if err := p.breaker.Allow(); err != nil {
		return nil, p.chargeFailure(err)
	}

	// Fast path: an idle pre-warmed connection.
	select {
	case pc := <-p.idle:
		p.breaker.RecordSuccess()
		return p.lease(pc, start), nil
	default:
	}

	// Growth path: open a new connection while under MaxSize.
	if p.reserveSlot() {
		pc, err := p.openConn(ctx)
		if err != nil {
			p.unreserveSlot()
			p.breaker.RecordFailure()
			return nil, p.chargeFailure(fperrors.NewError(fperrors.ErrCodeBackendUnavailable, "open connection failed").
				WithComponent("pool").WithOperation("acquire").
				WithContext("pool", p.config.Name).WithCause(err))
		}
		p.breaker.RecordSuccess()
		return p.lease(pc, start), nil
	}

	// Saturated: wait for a release, bounded by the acquire deadline.
	timeout := p.config.AcquireTimeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < timeout {
			timeout = remaining
		}
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case pc := <-p.idle:
		p.breaker.RecordSuccess()
		return p.lease(pc, start), nil
	case <-timer.C:
		return nil, p.chargeFailure(fperrors.NewError(fperrors.ErrCodeAcquisitionTimeout, "no connection available within deadline").
			WithComponent("pool").WithOperation("acquire").
			WithContext("pool", p.config.Name).
			WithDetail("timeout", timeout.String()))
	case <-ctx.Done():
		return nil, p.chargeFailure(fperrors.NewError(fperrors.ErrCodeAcquisitionTimeout, "acquire canceled").
			WithComponent("pool").WithOperation("acquire").
			WithContext("pool", p.config.Name).WithCause(ctx.Err()))
	}
}

// Release returns a leased connection to the idle set. Double releases and
// handles from a foreign pool are logged no-ops; pool state is never
// corrupted by a misbehaving caller.
func (p *ConnectionPool) Release(h *Handle) {
	if h == nil {
		return
	}
	if h.owner != p {
		p.logger.Error("release of foreign handle ignored",
			logging.F("handle", h.ID),
			logging.F("code", string(fperrors.ErrCodeForeignHandle)))
		return
	}
	if !h.markReleased() {
		p.logger.Error("double release ignored",
			logging.F("handle", h.ID),
			logging.F("code", string(fperrors.ErrCodeDoubleRelease)))
		return
	}

	p.mu.Lock()
	p.leased--
	p.mu.Unlock()

	if p.State() == PoolClosed {
		p.destroy(h.pc)
		return
	}

	h.pc.setState(ConnIdle)
	h.pc.lastUsed = time.Now()

	select {
	case p.idle <- h.pc:
	default:
		// Idle set full; should not happen while sizes are consistent.
		p.destroy(h.pc)
	}
}

// HealthCheck performs one acquire+probe+release cycle. A probe failure
// destroys the probed connection, increments the failure counter, and
// degrades the pool; the pool keeps serving from its remaining healthy
// connections.
func (p *ConnectionPool) HealthCheck(ctx context.Context) types.HealthStatus {
	status := types.HealthStatus{
		CheckedAt: time.Now(),
		Details:   map[string]string{"pool": p.config.Name, "state": p.State().String()},
	}

	if p.State() == PoolClosed {
		status.Details["reason"] = "pool closed"
		return status
	}

	probeCtx, cancel := context.WithTimeout(ctx, p.config.ProbeTimeout)
	defer cancel()

	h, err := p.Acquire(probeCtx)
	if err != nil {
		p.recordHealthFailure()
		status.Details["reason"] = err.Error()
		return status
	}

	if err := h.Conn().Ping(probeCtx); err != nil {
		// Drop the bad connection rather than returning it to idle.
		p.recordHealthFailure()
		p.discard(h)
		p.breaker.RecordFailure()
		status.Details["reason"] = fmt.Sprintf("probe failed: %v", err)
		if p.liveSize() < p.config.MinSize {
			status.Details["below_min_size"] = "true"
		}
		return status
	}

	p.Release(h)
	p.breaker.RecordSuccess()

	if p.liveSize() < p.config.MinSize {
		// Below min_size is unhealthy; re-warming is the optimizer's
		// job, not an automatic restart.
		atomic.CompareAndSwapInt32(&p.state, int32(PoolReady), int32(PoolDegraded))
		status.Details["below_min_size"] = "true"
		return status
	}

	atomic.CompareAndSwapInt32(&p.state, int32(PoolDegraded), int32(PoolReady))
	status.Healthy = true
	status.Details["state"] = p.State().String()
	return status
}

// OptimizePerformance re-pre-warms the pool when average acquisition time
// exceeds its target or the pool has shrunk below MinSize. Idempotent and
// bounded by MaxSize.
func (p *ConnectionPool) OptimizePerformance(ctx context.Context) types.OptimizationReport {
	report := types.OptimizationReport{Timestamp: time.Now()}

	if p.State() == PoolClosed {
		return report
	}

	metrics := p.Metrics()
	needsWarm := p.liveSize() < p.config.MinSize ||
		metrics.AverageAcquisitionTime() > p.config.TargetAcquisitionTime
	if !needsWarm {
		return report
	}

	opened := 0
	for p.liveSize() < p.config.MinSize {
		if !p.reserveSlot() {
			break
		}
		pc, err := p.openConn(ctx)
		if err != nil {
			p.unreserveSlot()
			report.Recommendations = append(report.Recommendations,
				fmt.Sprintf("re-pre-warm stopped: %v", err))
			break
		}
		p.idle <- pc
		opened++
	}

	if opened > 0 {
		report.Actions = append(report.Actions,
			fmt.Sprintf("re-pre-warmed %d connections", opened))
		atomic.CompareAndSwapInt32(&p.state, int32(PoolDegraded), int32(PoolReady))
	}
	if avg := metrics.AverageAcquisitionTime(); avg > p.config.TargetAcquisitionTime {
		report.Recommendations = append(report.Recommendations,
			fmt.Sprintf("average acquisition time %s above target %s",
				avg, p.config.TargetAcquisitionTime))
	}
	return report
}

// Close drains idle connections and marks the pool closed. Subsequent
// acquires fail fast; leased connections are destroyed on release.
func (p *ConnectionPool) Close() error {
	prev := PoolState(atomic.SwapInt32(&p.state, int32(PoolClosed)))
	if prev == PoolClosed {
		return nil
	}

	p.drainIdle()
	p.logger.Info("pool closed")
	return nil
}

// Metrics returns a snapshot of the pool's counters.
func (p *ConnectionPool) Metrics() types.PoolMetrics {
	p.statsMu.Lock()
	counters := p.stats
	p.statsMu.Unlock()

	p.mu.Lock()
	leased := p.leased
	p.mu.Unlock()

	return types.PoolMetrics{
		TotalAcquisitions:      counters.totalAcquisitions,
		SuccessfulAcquisitions: counters.successfulAcquisitions,
		FailedAcquisitions:     counters.failedAcquisitions,
		TotalAcquisitionTime:   counters.totalAcquisitionTime,
		CurrentConnections:     leased,
		PeakConnections:        counters.peakConnections,
		IdleConnections:        len(p.idle),
		HealthCheckFailures:    counters.healthCheckFailures,
	}
}

// State returns the pool's lifecycle state.
func (p *ConnectionPool) State() PoolState {
	return PoolState(atomic.LoadInt32(&p.state))
}

// Name returns the pool name.
func (p *ConnectionPool) Name() string {
	return p.config.Name
}

// BreakerState exposes the circuit breaker state for monitoring.
func (p *ConnectionPool) BreakerState() circuit.State {
	return p.breaker.GetState()
}

// Internal helpers.

// openConn opens and probes a new connection. The probe removes the
// first-use latency spike from the critical path.
func (p *ConnectionPool) openConn(ctx context.Context) (*pooledConn, error) {
	conn, err := p.driver.Open(ctx, p.config.Address)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", p.config.Address, err)
	}

	pc := &pooledConn{
		conn:      conn,
		createdAt: time.Now(),
		lastUsed:  time.Now(),
	}
	pc.setState(ConnWarming)

	probeCtx, cancel := context.WithTimeout(ctx, p.config.ProbeTimeout)
	defer cancel()
	if err := conn.Ping(probeCtx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("probe %s: %w", p.config.Address, err)
	}

	pc.setState(ConnIdle)
	return pc, nil
}

// lease hands a connection to a caller and charges a successful
// acquisition.
func (p *ConnectionPool) lease(pc *pooledConn, start time.Time) *Handle {
	pc.setState(ConnInUse)
	pc.lastUsed = time.Now()

	p.mu.Lock()
	p.leased++
	leased := p.leased
	p.mu.Unlock()

	p.statsMu.Lock()
	p.stats.totalAcquisitions++
	p.stats.successfulAcquisitions++
	p.stats.totalAcquisitionTime += time.Since(start)
	if leased > p.stats.peakConnections {
		p.stats.peakConnections = leased
	}
	p.statsMu.Unlock()

	return newHandle(pc, p)
}

// chargeFailure counts a failed acquisition and passes the error through.
func (p *ConnectionPool) chargeFailure(err error) error {
	p.statsMu.Lock()
	p.stats.totalAcquisitions++
	p.stats.failedAcquisitions++
	p.statsMu.Unlock()
	return err
}

func (p *ConnectionPool) recordHealthFailure() {
	p.statsMu.Lock()
	p.stats.healthCheckFailures++
	p.statsMu.Unlock()
	atomic.CompareAndSwapInt32(&p.state, int32(PoolReady), int32(PoolDegraded))
}

// reserveSlot claims capacity for a new live connection.
func (p *ConnectionPool) reserveSlot() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.currentSize >= p.config.MaxSize {
		return false
	}
	p.currentSize++
	return true
}

func (p *ConnectionPool) unreserveSlot() {
	p.mu.Lock()
	p.currentSize--
	p.mu.Unlock()
}

func (p *ConnectionPool) liveSize() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.currentSize
}

// discard removes a leased connection from the pool entirely.
func (p *ConnectionPool) discard(h *Handle) {
	if !h.markReleased() {
		return
	}
	p.mu.Lock()
	p.leased--
	p.mu.Unlock()
	p.destroy(h.pc)
}

// destroy closes a connection and gives back its capacity slot.
func (p *ConnectionPool) destroy(pc *pooledConn) {
	pc.setState(ConnClosed)
	_ = pc.conn.Close()
	p.mu.Lock()
	p.currentSize--
	p.mu.Unlock()
}

// drainIdle closes everything currently idle.
func (p *ConnectionPool) drainIdle() {
	for {
		select {
		case pc := <-p.idle:
			pc.setState(ConnDraining)
			p.destroy(pc)
		default:
			return
		}
	}
}
