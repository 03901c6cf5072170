// Package config loads and validates the top-level fastpath configuration
// from YAML, composing the per-component configs with sane defaults so an
// empty file yields a runnable setup.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/fastpath/fastpath/internal/cache"
	"github.com/fastpath/fastpath/internal/metrics"
	"github.com/fastpath/fastpath/internal/orchestrator"
	"github.com/fastpath/fastpath/internal/pool"
	fperrors "github.com/fastpath/fastpath/pkg/errors"
	"github.com/fastpath/fastpath/pkg/logging"
)

// LoggingConfig is the YAML-facing logger configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// PoolDefinition declares one connection pool to create at startup.
type PoolDefinition struct {
	Name    string `yaml:"name"`
	Address string `yaml:"address"`
	MinSize int    `yaml:"min_size"`
	MaxSize int    `yaml:"max_size"`
}

// Config is the root configuration document.
type Config struct {
	Logging LoggingConfig `yaml:"logging"`

	Cache  *cache.MultiTierConfig `yaml:"cache"`
	Remote *cache.RemoteConfig    `yaml:"remote"`

	Pools        []PoolDefinition     `yaml:"pools"`
	PoolManager  *pool.ManagerConfig  `yaml:"pool_manager"`
	Orchestrator *orchestrator.Config `yaml:"orchestrator"`
	Metrics      *metrics.Config      `yaml:"metrics"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Logging:      LoggingConfig{Level: "INFO", Format: "text"},
		Cache:        cache.DefaultMultiTierConfig(),
		Remote:       cache.DefaultRemoteConfig(),
		PoolManager:  pool.DefaultManagerConfig(),
		Orchestrator: orchestrator.DefaultConfig(),
		Metrics:      metrics.DefaultConfig(),
	}
}

// Load reads a YAML configuration file, applies defaults for omitted
// sections, and validates the result. An empty path yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fperrors.NewError(fperrors.ErrCodeConfigLoad, "read config file").
			WithComponent("config").WithContext("path", path).WithCause(err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fperrors.NewError(fperrors.ErrCodeConfigLoad, "parse config file").
			WithComponent("config").WithContext("path", path).WithCause(err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyDefaults fills sections the document omitted entirely.
func (c *Config) applyDefaults() {
	if c.Cache == nil {
		c.Cache = cache.DefaultMultiTierConfig()
	}
	if c.Remote == nil {
		c.Remote = cache.DefaultRemoteConfig()
	}
	if c.PoolManager == nil {
		c.PoolManager = pool.DefaultManagerConfig()
	}
	if c.Orchestrator == nil {
		c.Orchestrator = orchestrator.DefaultConfig()
	}
	if c.Metrics == nil {
		c.Metrics = metrics.DefaultConfig()
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "INFO"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
}

// Validate checks cross-field constraints that YAML decoding cannot.
func (c *Config) Validate() error {
	seen := make(map[string]bool, len(c.Pools))
	for i, def := range c.Pools {
		if def.Name == "" {
			return validationError(fmt.Sprintf("pools[%d]: name is required", i))
		}
		if seen[def.Name] {
			return validationError(fmt.Sprintf("pools[%d]: duplicate pool name %q", i, def.Name))
		}
		seen[def.Name] = true
		if def.Address == "" {
			return validationError(fmt.Sprintf("pool %q: address is required", def.Name))
		}
		if def.MinSize <= 0 {
			return validationError(fmt.Sprintf("pool %q: min_size must be positive", def.Name))
		}
		if def.MaxSize < def.MinSize {
			return validationError(fmt.Sprintf("pool %q: max_size must be >= min_size", def.Name))
		}
	}

	if c.Cache != nil {
		if c.Cache.TargetHitRate < 0 || c.Cache.TargetHitRate > 1 {
			return validationError("cache: target_hit_rate must be within [0, 1]")
		}
		for category, ttl := range c.Cache.TTLByCategory {
			if ttl <= 0 {
				return validationError(fmt.Sprintf("cache: ttl for category %q must be positive", category))
			}
		}
	}

	if c.Orchestrator != nil {
		if c.Orchestrator.RegressionFactor != 0 && c.Orchestrator.RegressionFactor <= 1 {
			return validationError("orchestrator: regression_factor must exceed 1")
		}
		if c.Orchestrator.TargetSuccessRate < 0 || c.Orchestrator.TargetSuccessRate > 1 {
			return validationError("orchestrator: target_success_rate must be within [0, 1]")
		}
		if c.Orchestrator.PoolName != "" && len(c.Pools) > 0 && !seen[c.Orchestrator.PoolName] {
			return validationError(fmt.Sprintf("orchestrator: pool_name %q is not a declared pool", c.Orchestrator.PoolName))
		}
	}

	if c.Metrics != nil && c.Metrics.Enabled {
		if c.Metrics.Port <= 0 || c.Metrics.Port > 65535 {
			return validationError("metrics: port must be within [1, 65535]")
		}
		if c.Metrics.UpdateInterval < time.Second {
			return validationError("metrics: update_interval must be at least 1s")
		}
	}

	return nil
}

// BuildLogger constructs the process logger from the logging section.
func (c *Config) BuildLogger() *logging.Logger {
	format := logging.FormatText
	if c.Logging.Format == "json" {
		format = logging.FormatJSON
	}
	return logging.NewLogger(&logging.Config{
		Level:  logging.ParseLevel(c.Logging.Level),
		Output: os.Stdout,
		Format: format,
	})
}

func validationError(msg string) error {
	return fperrors.NewError(fperrors.ErrCodeConfigValidation, msg).WithComponent("config")
}
