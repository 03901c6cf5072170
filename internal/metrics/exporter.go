// Package metrics exposes the data plane's pre-aggregated counters
// through a Prometheus registry and an optional HTTP endpoint. The
// exporter only reads metric snapshots; it never reaches into component
// internals.
package metrics

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/fastpath/fastpath/pkg/logging"
	"github.com/fastpath/fastpath/pkg/types"
)

// Config represents exporter configuration.
type Config struct {
	Enabled        bool          `yaml:"enabled"`
	Port           int           `yaml:"port"`
	Path           string        `yaml:"path"`
	Namespace      string        `yaml:"namespace"`
	UpdateInterval time.Duration `yaml:"update_interval"`
}

// DefaultConfig returns the default exporter configuration.
func DefaultConfig() *Config {
	return &Config{
		Enabled:        true,
		Port:           9190,
		Path:           "/metrics",
		Namespace:      "fastpath",
		UpdateInterval: 15 * time.Second,
	}
}

// CacheMetricsFunc supplies the current cache counters.
type CacheMetricsFunc func() types.CacheMetrics

// PoolMetricsFunc supplies the current per-pool counters.
type PoolMetricsFunc func() map[string]types.PoolMetrics

// Exporter bridges component metric snapshots into Prometheus gauges on a
// fixed interval.
type Exporter struct {
	config *Config
	logger *logging.Logger

	cacheSource CacheMetricsFunc
	poolSource  PoolMetricsFunc

	registry *prometheus.Registry

	cacheHitRate    prometheus.Gauge
	cacheEntries    prometheus.Gauge
	cacheAccessTime prometheus.Gauge
	cacheEvents     *prometheus.GaugeVec
	poolStats       *prometheus.GaugeVec

	server *http.Server
	stopCh chan struct{}
	doneCh chan struct{}
}

// NewExporter creates a metrics exporter. Either source may be nil, in
// which case that family is skipped.
func NewExporter(config *Config, cacheSource CacheMetricsFunc, poolSource PoolMetricsFunc, logger *logging.Logger) (*Exporter, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}

	e := &Exporter{
		config:      config,
		logger:      logger.WithComponent("metrics"),
		cacheSource: cacheSource,
		poolSource:  poolSource,
		registry:    prometheus.NewRegistry(),
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
	}

	if !config.Enabled {
		return e, nil
	}

	e.initMetrics()
	if err := e.registerMetrics(); err != nil {
		return nil, fmt.Errorf("register metrics: %w", err)
	}
	return e, nil
}

// Start launches the HTTP endpoint and the update loop.
func (e *Exporter) Start() error {
	if !e.config.Enabled {
		close(e.doneCh)
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle(e.config.Path, promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{}))

	e.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", e.config.Port),
		Handler:           mux,
		ReadHeaderTimeout: 30 * time.Second,
	}

	go func() {
		if err := e.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			e.logger.Error("metrics server error", logging.F("error", err.Error()))
		}
	}()

	go e.updateLoop()
	return nil
}

// Stop shuts down the update loop and the HTTP endpoint.
func (e *Exporter) Stop(ctx context.Context) error {
	if !e.config.Enabled {
		return nil
	}

	close(e.stopCh)
	<-e.doneCh

	if e.server != nil {
		return e.server.Shutdown(ctx)
	}
	return nil
}

// Registry exposes the underlying registry so owning applications can add
// their own collectors.
func (e *Exporter) Registry() *prometheus.Registry {
	return e.registry
}

func (e *Exporter) initMetrics() {
	ns := e.config.Namespace

	e.cacheHitRate = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: ns,
		Name:      "cache_hit_rate",
		Help:      "Overall cache hit rate across both tiers",
	})
	e.cacheEntries = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: ns,
		Name:      "cache_l1_entries",
		Help:      "Current number of entries in the L1 tier",
	})
	e.cacheAccessTime = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: ns,
		Name:      "cache_avg_access_seconds",
		Help:      "Average cache access time in seconds",
	})
	e.cacheEvents = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: ns,
		Name:      "cache_events_total",
		Help:      "Cumulative cache events by kind",
	}, []string{"event"})
	e.poolStats = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: ns,
		Name:      "pool_stat",
		Help:      "Connection pool statistics by pool and stat",
	}, []string{"pool", "stat"})
}

func (e *Exporter) registerMetrics() error {
	collectors := []prometheus.Collector{
		e.cacheHitRate,
		e.cacheEntries,
		e.cacheAccessTime,
		e.cacheEvents,
		e.poolStats,
	}
	for _, c := range collectors {
		if err := e.registry.Register(c); err != nil {
			return err
		}
	}
	return nil
}

func (e *Exporter) updateLoop() {
	defer close(e.doneCh)

	ticker := time.NewTicker(e.config.UpdateInterval)
	defer ticker.Stop()

	for {
		select {
		case <-e.stopCh:
			return
		case <-ticker.C:
			e.update()
		}
	}
}

func (e *Exporter) update() {
	if e.cacheSource != nil {
		m := e.cacheSource()
		e.cacheHitRate.Set(m.HitRate())
		e.cacheEntries.Set(float64(m.L1Entries))
		e.cacheAccessTime.Set(m.AverageAccessTime().Seconds())
		e.cacheEvents.WithLabelValues("l1_hit").Set(float64(m.L1Hits))
		e.cacheEvents.WithLabelValues("l1_miss").Set(float64(m.L1Misses))
		e.cacheEvents.WithLabelValues("l2_hit").Set(float64(m.L2Hits))
		e.cacheEvents.WithLabelValues("l2_miss").Set(float64(m.L2Misses))
		e.cacheEvents.WithLabelValues("promotion").Set(float64(m.Promotions))
		e.cacheEvents.WithLabelValues("eviction").Set(float64(m.Evictions))
		e.cacheEvents.WithLabelValues("expiration").Set(float64(m.Expirations))
		e.cacheEvents.WithLabelValues("l2_error").Set(float64(m.L2Errors))
	}

	if e.poolSource != nil {
		for name, m := range e.poolSource() {
			e.poolStats.WithLabelValues(name, "total_acquisitions").Set(float64(m.TotalAcquisitions))
			e.poolStats.WithLabelValues(name, "failed_acquisitions").Set(float64(m.FailedAcquisitions))
			e.poolStats.WithLabelValues(name, "success_rate").Set(m.SuccessRate())
			e.poolStats.WithLabelValues(name, "avg_acquisition_seconds").Set(m.AverageAcquisitionTime().Seconds())
			e.poolStats.WithLabelValues(name, "current_connections").Set(float64(m.CurrentConnections))
			e.poolStats.WithLabelValues(name, "peak_connections").Set(float64(m.PeakConnections))
			e.poolStats.WithLabelValues(name, "idle_connections").Set(float64(m.IdleConnections))
			e.poolStats.WithLabelValues(name, "health_check_failures").Set(float64(m.HealthCheckFailures))
		}
	}
}
