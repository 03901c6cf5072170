package pool

import (
	"context"
	"sync"
	"time"

	"github.com/fastpath/fastpath/internal/circuit"
	fperrors "github.com/fastpath/fastpath/pkg/errors"
	"github.com/fastpath/fastpath/pkg/logging"
	"github.com/fastpath/fastpath/pkg/types"
)

// ManagerConfig configures the pool registry.
type ManagerConfig struct {
	// SweepInterval is how often the background sweep health-checks
	// every registered pool.
	SweepInterval time.Duration `yaml:"sweep_interval"`

	// Pool carries the defaults applied to every created pool.
	AcquireTimeout        time.Duration  `yaml:"acquire_timeout"`
	ProbeTimeout          time.Duration  `yaml:"probe_timeout"`
	TargetAcquisitionTime time.Duration  `yaml:"target_acquisition_time"`
	ComplianceToken       string         `yaml:"compliance_token"`
	Breaker               circuit.Config `yaml:"breaker"`
}

// DefaultManagerConfig returns the default registry configuration.
func DefaultManagerConfig() *ManagerConfig {
	return &ManagerConfig{
		SweepInterval: 30 * time.Second,
	}
}

// Manager is the named registry of connection pools. A background sweep
// aggregates pool health and logs degraded transitions; it never holds
// more than one pool's lock at a time.
type Manager struct {
	config    *ManagerConfig
	driver    Driver
	validator types.ComplianceValidator
	logger    *logging.Logger

	mu          sync.RWMutex
	pools       map[string]*ConnectionPool
	lastHealthy map[string]bool

	stopCh  chan struct{}
	doneCh  chan struct{}
	started bool
	closed  bool
}

// NewManager creates a pool registry. The driver and validator are shared
// by every pool the manager creates.
func NewManager(config *ManagerConfig, driver Driver, validator types.ComplianceValidator, logger *logging.Logger) *Manager {
	if config == nil {
		config = DefaultManagerConfig()
	}
	if config.SweepInterval <= 0 {
		config.SweepInterval = 30 * time.Second
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}

	return &Manager{
		config:      config,
		driver:      driver,
		validator:   validator,
		logger:      logger.WithComponent("pool.manager"),
		pools:       make(map[string]*ConnectionPool),
		lastHealthy: make(map[string]bool),
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
	}
}

// CreatePool creates, initializes, and registers a pool. Creating a pool
// under an existing name is a caller error; the existing pool is never
// silently replaced.
func (m *Manager) CreatePool(ctx context.Context, name, address string, minSize, maxSize int) (*ConnectionPool, error) {
	m.mu.Lock()
	if _, exists := m.pools[name]; exists {
		m.mu.Unlock()
		return nil, fperrors.NewError(fperrors.ErrCodePoolExists, "pool name already registered").
			WithComponent("pool.manager").WithContext("pool", name)
	}
	m.mu.Unlock()

	p := NewConnectionPool(Config{
		Name:                  name,
		Address:               address,
		MinSize:               minSize,
		MaxSize:               maxSize,
		AcquireTimeout:        m.config.AcquireTimeout,
		ProbeTimeout:          m.config.ProbeTimeout,
		TargetAcquisitionTime: m.config.TargetAcquisitionTime,
		ComplianceToken:       m.config.ComplianceToken,
		Breaker:               m.config.Breaker,
	}, m.driver, m.validator, m.logger)

	if err := p.Initialize(ctx); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.pools[name]; exists {
		// Lost a race to another creator; the initialized pool is ours
		// to clean up.
		_ = p.Close()
		return nil, fperrors.NewError(fperrors.ErrCodePoolExists, "pool name already registered").
			WithComponent("pool.manager").WithContext("pool", name)
	}
	m.pools[name] = p
	m.lastHealthy[name] = true
	return p, nil
}

// GetPool returns a registered pool by name.
func (m *Manager) GetPool(name string) (*ConnectionPool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, exists := m.pools[name]
	if !exists {
		return nil, fperrors.NewError(fperrors.ErrCodePoolNotFound, "pool not registered").
			WithComponent("pool.manager").WithContext("pool", name)
	}
	return p, nil
}

// AcquireConnection acquires from the named pool.
func (m *Manager) AcquireConnection(ctx context.Context, name string) (*Handle, error) {
	p, err := m.GetPool(name)
	if err != nil {
		return nil, err
	}
	return p.Acquire(ctx)
}

// ReleaseConnection releases a handle back to the named pool.
func (m *Manager) ReleaseConnection(name string, h *Handle) error {
	p, err := m.GetPool(name)
	if err != nil {
		return err
	}
	p.Release(h)
	return nil
}

// HealthCheckAll runs one health cycle against every pool and returns the
// per-pool results.
func (m *Manager) HealthCheckAll(ctx context.Context) map[string]types.HealthStatus {
	results := make(map[string]types.HealthStatus)
	for _, p := range m.snapshot() {
		results[p.Name()] = p.HealthCheck(ctx)
	}
	return results
}

// OptimizeAllPools runs the optimization pass on every pool.
func (m *Manager) OptimizeAllPools(ctx context.Context) map[string]types.OptimizationReport {
	reports := make(map[string]types.OptimizationReport)
	for _, p := range m.snapshot() {
		reports[p.Name()] = p.OptimizePerformance(ctx)
	}
	return reports
}

// MetricsAll returns a metrics snapshot for every pool.
func (m *Manager) MetricsAll() map[string]types.PoolMetrics {
	metrics := make(map[string]types.PoolMetrics)
	for _, p := range m.snapshot() {
		metrics[p.Name()] = p.Metrics()
	}
	return metrics
}

// Start launches the periodic health sweep. A manager that has been shut
// down stays shut down; Start after CloseAll is rejected.
func (m *Manager) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return fperrors.NewError(fperrors.ErrCodeShutdownInProgress, "manager already shut down").
			WithComponent("pool.manager")
	}
	if m.started {
		return fperrors.NewError(fperrors.ErrCodeAlreadyStarted, "manager sweep already running").
			WithComponent("pool.manager")
	}
	m.started = true
	go m.sweepLoop()
	return nil
}

// CloseAll stops the sweep and closes every pool. The manager cannot be
// restarted afterwards.
func (m *Manager) CloseAll() error {
	m.mu.Lock()
	m.closed = true
	if m.started {
		close(m.stopCh)
		m.started = false
		m.mu.Unlock()
		<-m.doneCh
	} else {
		m.mu.Unlock()
	}

	for _, p := range m.snapshot() {
		_ = p.Close()
	}
	return nil
}

// snapshot copies the pool list so sweeps and aggregations touch one
// pool's locks at a time, never the registry lock and a pool lock
// together.
func (m *Manager) snapshot() []*ConnectionPool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	pools := make([]*ConnectionPool, 0, len(m.pools))
	for _, p := range m.pools {
		pools = append(pools, p)
	}
	return pools
}

func (m *Manager) sweepLoop() {
	defer close(m.doneCh)

	ticker := time.NewTicker(m.config.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.sweep()
		}
	}
}

// sweep health-checks every pool and logs transitions in and out of
// degraded service.
func (m *Manager) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), m.config.SweepInterval)
	defer cancel()

	for _, p := range m.snapshot() {
		status := p.HealthCheck(ctx)

		m.mu.Lock()
		wasHealthy, known := m.lastHealthy[p.Name()]
		m.lastHealthy[p.Name()] = status.Healthy
		m.mu.Unlock()

		switch {
		case known && wasHealthy && !status.Healthy:
			m.logger.Warn("pool degraded",
				logging.F("pool", p.Name()),
				logging.F("details", status.Details))
		case known && !wasHealthy && status.Healthy:
			m.logger.Info("pool recovered", logging.F("pool", p.Name()))
		}
	}
}
