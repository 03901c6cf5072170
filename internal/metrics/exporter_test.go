package metrics

import (
	"context"
	"testing"
	"time"

	dto "github.com/prometheus/client_model/go"

	"github.com/fastpath/fastpath/pkg/types"
)

func gaugeValue(t *testing.T, e *Exporter, name string, labels map[string]string) float64 {
	t.Helper()

	families, err := e.registry.Gather()
	if err != nil {
		t.Fatalf("gather failed: %v", err)
	}

	for _, family := range families {
		if family.GetName() != name {
			continue
		}
	next:
		for _, m := range family.GetMetric() {
			for k, v := range labels {
				if !hasLabel(m, k, v) {
					continue next
				}
			}
			return m.GetGauge().GetValue()
		}
	}
	t.Fatalf("metric %s%v not found", name, labels)
	return 0
}

func hasLabel(m *dto.Metric, key, value string) bool {
	for _, pair := range m.GetLabel() {
		if pair.GetName() == key && pair.GetValue() == value {
			return true
		}
	}
	return false
}

func TestNewExporter(t *testing.T) {
	t.Run("nil config uses defaults", func(t *testing.T) {
		e, err := NewExporter(nil, nil, nil, nil)
		if err != nil {
			t.Fatalf("NewExporter() error = %v, want nil", err)
		}
		if e.config.Port != 9190 {
			t.Errorf("default port = %d, want 9190", e.config.Port)
		}
		if e.config.Path != "/metrics" {
			t.Errorf("default path = %q, want /metrics", e.config.Path)
		}
		if e.config.Namespace != "fastpath" {
			t.Errorf("default namespace = %q, want fastpath", e.config.Namespace)
		}
		if e.registry == nil {
			t.Error("registry is nil")
		}
	})

	t.Run("disabled exporter registers nothing", func(t *testing.T) {
		e, err := NewExporter(&Config{Enabled: false}, nil, nil, nil)
		if err != nil {
			t.Fatalf("NewExporter() error = %v", err)
		}
		families, err := e.registry.Gather()
		if err != nil {
			t.Fatalf("gather failed: %v", err)
		}
		if len(families) != 0 {
			t.Errorf("expected empty registry, got %d families", len(families))
		}
		if err := e.Start(); err != nil {
			t.Fatalf("start failed: %v", err)
		}
		if err := e.Stop(context.Background()); err != nil {
			t.Fatalf("stop failed: %v", err)
		}
	})
}

func TestExporterUpdateBridgesCacheMetrics(t *testing.T) {
	cacheSource := func() types.CacheMetrics {
		return types.CacheMetrics{
			L1Hits:          8,
			L1Misses:        4,
			L2Hits:          2,
			L2Misses:        2,
			Promotions:      1,
			TotalAccessTime: 12 * time.Millisecond,
			AccessCount:     12,
			L1Entries:       5,
		}
	}

	e, err := NewExporter(DefaultConfig(), cacheSource, nil, nil)
	if err != nil {
		t.Fatalf("NewExporter() error = %v", err)
	}

	e.update()

	if got := gaugeValue(t, e, "fastpath_cache_l1_entries", nil); got != 5 {
		t.Errorf("l1 entries = %f, want 5", got)
	}
	// 10 hits out of 12 lookups.
	want := 10.0 / 12.0
	if got := gaugeValue(t, e, "fastpath_cache_hit_rate", nil); got != want {
		t.Errorf("hit rate = %f, want %f", got, want)
	}
	if got := gaugeValue(t, e, "fastpath_cache_events_total", map[string]string{"event": "promotion"}); got != 1 {
		t.Errorf("promotions = %f, want 1", got)
	}
	if got := gaugeValue(t, e, "fastpath_cache_events_total", map[string]string{"event": "l1_hit"}); got != 8 {
		t.Errorf("l1 hits = %f, want 8", got)
	}
}

func TestExporterUpdateBridgesPoolMetrics(t *testing.T) {
	poolSource := func() map[string]types.PoolMetrics {
		return map[string]types.PoolMetrics{
			"primary": {
				TotalAcquisitions:      10,
				SuccessfulAcquisitions: 9,
				FailedAcquisitions:     1,
				CurrentConnections:     3,
				IdleConnections:        2,
			},
		}
	}

	e, err := NewExporter(DefaultConfig(), nil, poolSource, nil)
	if err != nil {
		t.Fatalf("NewExporter() error = %v", err)
	}

	e.update()

	labels := map[string]string{"pool": "primary", "stat": "current_connections"}
	if got := gaugeValue(t, e, "fastpath_pool_stat", labels); got != 3 {
		t.Errorf("current connections = %f, want 3", got)
	}
	labels["stat"] = "success_rate"
	if got := gaugeValue(t, e, "fastpath_pool_stat", labels); got != 0.9 {
		t.Errorf("success rate = %f, want 0.9", got)
	}
}
