// Package config handles configuration loading and management for Warden.
// It supports XDG config paths, project-level overrides, and environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"

	"github.com/ShayCichocki/warden/pkg/models"
)

// Config holds all configuration for Warden.
type Config struct {
	Store        StoreConfig        `mapstructure:"store" yaml:"store"`
	Orchestrator OrchestratorConfig `mapstructure:"orchestrator" yaml:"orchestrator"`
	RateLimit    RateLimitConfig    `mapstructure:"rate_limit" yaml:"rate_limit"`
	Breaker      BreakerConfig      `mapstructure:"breaker" yaml:"breaker"`
	Quotas       QuotasConfig       `mapstructure:"quotas" yaml:"quotas"`
}

// StoreConfig holds task store settings.
type StoreConfig struct {
	// Path is the SQLite database path. Empty means the XDG default.
	Path string `mapstructure:"path" yaml:"path"`
	// Retention is how long terminal records are kept before cleanup.
	Retention time.Duration `mapstructure:"retention" yaml:"retention"`
}

// OrchestratorConfig holds orchestrator tuning.
type OrchestratorConfig struct {
	// ReclaimInterval is how often the orphan reclaimer scans.
	ReclaimInterval time.Duration `mapstructure:"reclaim_interval" yaml:"reclaim_interval"`
	// EventBuffer is the capacity of the lifecycle events channel.
	EventBuffer int `mapstructure:"event_buffer" yaml:"event_buffer"`
}

// RateLimitConfig holds spawn rate limiter settings.
type RateLimitConfig struct {
	// Capacity is the token bucket size per requester.
	Capacity float64 `mapstructure:"capacity" yaml:"capacity"`
	// RefillRate is tokens added per second.
	RefillRate float64 `mapstructure:"refill_rate" yaml:"refill_rate"`
	// MaxWait bounds how long a spawn may wait for refill.
	MaxWait time.Duration `mapstructure:"max_wait" yaml:"max_wait"`
}

// BreakerConfig holds circuit breaker settings.
type BreakerConfig struct {
	// FailureThreshold is the consecutive failure count that opens the circuit.
	FailureThreshold int `mapstructure:"failure_threshold" yaml:"failure_threshold"`
	// ResetTimeout is how long the circuit stays open before probing.
	ResetTimeout time.Duration `mapstructure:"reset_timeout" yaml:"reset_timeout"`
	// HalfOpenMaxCalls is the number of probes half-open admits.
	HalfOpenMaxCalls int `mapstructure:"half_open_max_calls" yaml:"half_open_max_calls"`
}

// QuotaConfig holds one resource quota.
type QuotaConfig struct {
	MaxConcurrentAgents   int `mapstructure:"max_concurrent_agents" yaml:"max_concurrent_agents"`
	MaxSpawnDepth         int `mapstructure:"max_spawn_depth" yaml:"max_spawn_depth"`
	MaxSubAgentsPerParent int `mapstructure:"max_subagents_per_parent" yaml:"max_subagents_per_parent"`
}

// ToQuota converts to the model type.
func (q QuotaConfig) ToQuota() models.ResourceQuota {
	return models.ResourceQuota{
		MaxConcurrentAgents:   q.MaxConcurrentAgents,
		MaxSpawnDepth:         q.MaxSpawnDepth,
		MaxSubAgentsPerParent: q.MaxSubAgentsPerParent,
	}
}

// QuotasConfig holds the default quota and per-requester overrides.
type QuotasConfig struct {
	Default    QuotaConfig            `mapstructure:"default" yaml:"default"`
	Requesters map[string]QuotaConfig `mapstructure:"requesters" yaml:"requesters,omitempty"`
}

// Load loads configuration from XDG paths, project overrides, and environment variables.
// Precedence (highest to lowest):
// 1. Environment variables (WARDEN_DB_PATH)
// 2. Project config (.warden.yaml in current directory or parent)
// 3. User config (~/.config/warden/config.yaml)
// 4. Built-in defaults
func Load() (*Config, error) {
	v := viper.New()

	// Set defaults
	setDefaults(v)

	// Load user config from XDG path
	userConfigDir := getUserConfigDir()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(userConfigDir)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading user config: %w", err)
		}
	}

	// Load project config if present
	projectConfig := findProjectConfig()
	if projectConfig != "" {
		projectViper := viper.New()
		projectViper.SetConfigFile(projectConfig)
		if err := projectViper.ReadInConfig(); err == nil {
			// Merge project config (takes precedence)
			if err := v.MergeConfigMap(projectViper.AllSettings()); err != nil {
				return nil, fmt.Errorf("merging project config: %w", err)
			}
		}
	}

	// Environment variable overrides
	v.AutomaticEnv()
	v.BindEnv("store.path", "WARDEN_DB_PATH")

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	cfg.Store.Path = os.ExpandEnv(cfg.Store.Path)

	return cfg, nil
}

// LoadFromPath loads configuration from a specific path.
func LoadFromPath(path string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	cfg.Store.Path = os.ExpandEnv(cfg.Store.Path)

	return cfg, nil
}

// GetUserConfigPath returns the path to the user config file.
func GetUserConfigPath() string {
	return filepath.Join(getUserConfigDir(), "config.yaml")
}

// GetProjectConfigPath returns the path to the project config file if it exists.
func GetProjectConfigPath() string {
	return findProjectConfig()
}

// setDefaults configures default values.
func setDefaults(v *viper.Viper) {
	// Store defaults
	v.SetDefault("store.path", "")
	v.SetDefault("store.retention", "168h")

	// Orchestrator defaults
	v.SetDefault("orchestrator.reclaim_interval", "30s")
	v.SetDefault("orchestrator.event_buffer", 100)

	// Rate limiter defaults
	v.SetDefault("rate_limit.capacity", 10)
	v.SetDefault("rate_limit.refill_rate", 2)
	v.SetDefault("rate_limit.max_wait", "5s")

	// Breaker defaults
	v.SetDefault("breaker.failure_threshold", 5)
	v.SetDefault("breaker.reset_timeout", "30s")
	v.SetDefault("breaker.half_open_max_calls", 3)

	// Quota defaults
	v.SetDefault("quotas.default.max_concurrent_agents", 10)
	v.SetDefault("quotas.default.max_spawn_depth", 3)
	v.SetDefault("quotas.default.max_subagents_per_parent", 5)
}

// getUserConfigDir returns the XDG config directory for Warden.
func getUserConfigDir() string {
	// Check XDG_CONFIG_HOME first
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "warden")
	}

	// Fall back to ~/.config/warden
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".config", "warden")
	}
	return filepath.Join(home, ".config", "warden")
}

// findProjectConfig searches for .warden.yaml in the current directory and parents.
func findProjectConfig() string {
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}

	for {
		configPath := filepath.Join(cwd, ".warden.yaml")
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}

		parent := filepath.Dir(cwd)
		if parent == cwd {
			break
		}
		cwd = parent
	}

	return ""
}

// Validate checks that the configuration is internally consistent.
func (c *Config) Validate() error {
	if err := c.Quotas.Default.ToQuota().Validate(); err != nil {
		return fmt.Errorf("quotas.default: %w", err)
	}
	for key, q := range c.Quotas.Requesters {
		if err := q.ToQuota().Validate(); err != nil {
			return fmt.Errorf("quotas.requesters.%s: %w", key, err)
		}
	}
	if c.RateLimit.Capacity <= 0 {
		return fmt.Errorf("rate_limit.capacity must be positive")
	}
	if c.Breaker.FailureThreshold <= 0 {
		return fmt.Errorf("breaker.failure_threshold must be positive")
	}
	return nil
}

// Default returns a Config with default values.
func Default() *Config {
	return &Config{
		Store: StoreConfig{
			Path:      "",
			Retention: 168 * time.Hour,
		},
		Orchestrator: OrchestratorConfig{
			ReclaimInterval: 30 * time.Second,
			EventBuffer:     100,
		},
		RateLimit: RateLimitConfig{
			Capacity:   10,
			RefillRate: 2,
			MaxWait:    5 * time.Second,
		},
		Breaker: BreakerConfig{
			FailureThreshold: 5,
			ResetTimeout:     30 * time.Second,
			HalfOpenMaxCalls: 3,
		},
		Quotas: QuotasConfig{
			Default: QuotaConfig{
				MaxConcurrentAgents:   10,
				MaxSpawnDepth:         3,
				MaxSubAgentsPerParent: 5,
			},
		},
	}
}
