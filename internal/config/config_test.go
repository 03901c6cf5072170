package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	fperrors "github.com/fastpath/fastpath/pkg/errors"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fastpath.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadEmptyPathYieldsDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "INFO", cfg.Logging.Level)
	assert.Equal(t, 3, cfg.Cache.PromotionThreshold)
	assert.Equal(t, "localhost:6379", cfg.Remote.Addr)
	assert.NotNil(t, cfg.Orchestrator)
	assert.True(t, cfg.Metrics.Enabled)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load("/nonexistent/fastpath.yaml")
	require.Error(t, err)
	assert.True(t, fperrors.IsCode(err, fperrors.ErrCodeConfigLoad))
}

func TestLoadMalformedYAML(t *testing.T) {
	path := writeConfigFile(t, "logging: [not: a: mapping")
	_, err := Load(path)
	require.Error(t, err)
	assert.True(t, fperrors.IsCode(err, fperrors.ErrCodeConfigLoad))
}

func TestLoadAppliesDocumentValues(t *testing.T) {
	path := writeConfigFile(t, `
logging:
  level: debug
  format: json
cache:
  promotion_threshold: 5
remote:
  addr: cache.internal:6379
  key_prefix: "svc:"
pools:
  - name: primary
    address: store-1:9000
    min_size: 2
    max_size: 8
orchestrator:
  pool_name: primary
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, 5, cfg.Cache.PromotionThreshold)
	assert.Equal(t, "cache.internal:6379", cfg.Remote.Addr)
	require.Len(t, cfg.Pools, 1)
	assert.Equal(t, "primary", cfg.Pools[0].Name)
	assert.Equal(t, 8, cfg.Pools[0].MaxSize)
	assert.Equal(t, "primary", cfg.Orchestrator.PoolName)
}

func TestLoadFillsOmittedSections(t *testing.T) {
	path := writeConfigFile(t, `
logging:
  level: warn
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	require.NotNil(t, cfg.Cache)
	require.NotNil(t, cfg.Remote)
	require.NotNil(t, cfg.PoolManager)
	require.NotNil(t, cfg.Orchestrator)
	require.NotNil(t, cfg.Metrics)
	assert.Equal(t, "text", cfg.Logging.Format)
}

func TestValidateRejections(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{
			name: "pool without name",
			yaml: `
pools:
  - address: store:9000
    min_size: 1
    max_size: 2
`,
		},
		{
			name: "duplicate pool names",
			yaml: `
pools:
  - name: a
    address: store-1:9000
    min_size: 1
    max_size: 2
  - name: a
    address: store-2:9000
    min_size: 1
    max_size: 2
`,
		},
		{
			name: "pool without address",
			yaml: `
pools:
  - name: a
    min_size: 1
    max_size: 2
`,
		},
		{
			name: "zero min size",
			yaml: `
pools:
  - name: a
    address: store:9000
    min_size: 0
    max_size: 2
`,
		},
		{
			name: "max below min",
			yaml: `
pools:
  - name: a
    address: store:9000
    min_size: 4
    max_size: 2
`,
		},
		{
			name: "hit rate target out of range",
			yaml: `
cache:
  target_hit_rate: 1.5
`,
		},
		{
			name: "orchestrator pool not declared",
			yaml: `
pools:
  - name: a
    address: store:9000
    min_size: 1
    max_size: 2
orchestrator:
  pool_name: missing
`,
		},
		{
			name: "metrics port out of range",
			yaml: `
metrics:
  enabled: true
  port: 70000
`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfigFile(t, tt.yaml)
			_, err := Load(path)
			require.Error(t, err)
			assert.True(t, fperrors.IsCode(err, fperrors.ErrCodeConfigValidation),
				"expected CONFIG_VALIDATION, got %v", err)
		})
	}
}

func TestBuildLogger(t *testing.T) {
	cfg := Default()
	cfg.Logging.Level = "error"
	cfg.Logging.Format = "json"

	logger := cfg.BuildLogger()
	require.NotNil(t, logger)

	cfg.Logging.Format = "text"
	require.NotNil(t, cfg.BuildLogger())
}
