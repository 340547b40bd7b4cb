// Package config loads and validates the steamwatch configuration.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level steamwatch configuration.
type Config struct {
	Steam   SteamConfig   `yaml:"steam"`
	Tiers   TiersConfig   `yaml:"tiers"`
	Engine  EngineConfig  `yaml:"engine"`
	Session SessionConfig `yaml:"session"`
	Metrics MetricsConfig `yaml:"metrics"`
	Otel    OtelConfig    `yaml:"otel"`
	Health  HealthConfig  `yaml:"health"`
}

// SteamConfig identifies the backend and the player being monitored.
type SteamConfig struct {
	APIKey  string `yaml:"api_key"`
	SteamID string `yaml:"steam_id"`
}

// TiersConfig holds the per-tier polling intervals.
type TiersConfig struct {
	FastInterval   time.Duration `yaml:"fast_interval"`
	MediumInterval time.Duration `yaml:"medium_interval"`
	SlowInterval   time.Duration `yaml:"slow_interval"`
}

// EngineConfig holds scheduler-level settings.
type EngineConfig struct {
	StaggerDelta   time.Duration `yaml:"stagger_delta"`
	GateTimeout    time.Duration `yaml:"gate_timeout"`
	CollectTimeout time.Duration `yaml:"collect_timeout"`
}

// SessionConfig holds session tracker settings.
type SessionConfig struct {
	HistoryCapacity int `yaml:"history_capacity"`
}

// MetricsConfig configures the Prometheus metrics endpoint.
type MetricsConfig struct {
	Enabled *bool  `yaml:"enabled"` // pointer to distinguish unset from false; default true
	Addr    string `yaml:"addr"`
}

// MetricsEnabled returns whether the metrics server should run.
func (m MetricsConfig) MetricsEnabled() bool {
	if m.Enabled == nil {
		return true
	}
	return *m.Enabled
}

// OtelConfig configures OpenTelemetry export.
type OtelConfig struct {
	Enabled      bool   `yaml:"enabled"`
	ExporterType string `yaml:"exporter_type"` // "none", "stdout", "otlp-grpc", "otlp-http"
	Endpoint     string `yaml:"endpoint"`
	Insecure     bool   `yaml:"insecure"`
}

// HealthConfig configures self-resource sampling.
type HealthConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Interval time.Duration `yaml:"interval"`
}

// Default returns a configuration with all defaults applied and no backend
// identity. Callers must fill in Steam before Validate passes.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// Load reads a YAML configuration file, applies defaults and validates the
// result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks the configuration for fatal errors. A missing backend
// identity is a startup error; the engine must never enter the running state
// without one.
func (c *Config) Validate() error {
	if c.Steam.APIKey == "" {
		return fmt.Errorf("config: steam.api_key is required")
	}
	if c.Steam.SteamID == "" {
		return fmt.Errorf("config: steam.steam_id is required")
	}
	if c.Tiers.FastInterval <= 0 || c.Tiers.MediumInterval <= 0 || c.Tiers.SlowInterval <= 0 {
		return fmt.Errorf("config: tier intervals must be positive")
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.Tiers.FastInterval == 0 {
		c.Tiers.FastInterval = DefaultFastInterval
	}
	if c.Tiers.MediumInterval == 0 {
		c.Tiers.MediumInterval = DefaultMediumInterval
	}
	if c.Tiers.SlowInterval == 0 {
		c.Tiers.SlowInterval = DefaultSlowInterval
	}
	if c.Engine.StaggerDelta == 0 {
		c.Engine.StaggerDelta = DefaultStaggerDelta
	}
	if c.Engine.GateTimeout == 0 {
		c.Engine.GateTimeout = DefaultGateTimeout
	}
	if c.Engine.CollectTimeout == 0 {
		c.Engine.CollectTimeout = DefaultCollectTimeout
	}
	if c.Session.HistoryCapacity == 0 {
		c.Session.HistoryCapacity = DefaultHistoryCapacity
	}
	if c.Metrics.Addr == "" {
		c.Metrics.Addr = DefaultMetricsAddr
	}
	if c.Otel.ExporterType == "" {
		c.Otel.ExporterType = "none"
	}
	if c.Health.Interval == 0 {
		c.Health.Interval = DefaultHealthInterval
	}
}
