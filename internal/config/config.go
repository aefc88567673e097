// Package config handles YAML configuration parsing, defaults, validation,
// and hot reload for the plugin permission engine.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration for the permission engine.
type Config struct {
	Listen   ListenConfig   `yaml:"listen"`
	Database DatabaseConfig `yaml:"database"`
	Cache    CacheConfig    `yaml:"cache"`
	Manifest ManifestConfig `yaml:"manifest"`
	Logging  LoggingConfig  `yaml:"logging"`
	Reload   ReloadConfig   `yaml:"reload"`
}

// ListenConfig defines the observability listener (metrics and health).
type ListenConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// DatabaseConfig selects the permission repository backend.
type DatabaseConfig struct {
	Driver string `yaml:"driver"` // "memory" or "postgres"
	DSN    string `yaml:"dsn"`
}

// CacheConfig controls the compiled capability cache.
type CacheConfig struct {
	Backend   string   `yaml:"backend"` // "memory" or "redis"
	TTL       Duration `yaml:"ttl"`
	RedisAddr string   `yaml:"redis_addr"`
}

// ManifestConfig controls JWS signature verification for plugin manifests.
type ManifestConfig struct {
	RequireSignature bool     `yaml:"require_signature"`
	TrustedJWKSURLs  []string `yaml:"trusted_jwks_urls"`
	JWKSCacheTTL     Duration `yaml:"jwks_cache_ttl"`
}

// LoggingConfig defines log output format and audit behavior.
type LoggingConfig struct {
	Level  string      `yaml:"level"`
	Format string      `yaml:"format"`
	Output string      `yaml:"output"`
	Audit  AuditConfig `yaml:"audit"`
}

// AuditConfig controls audit log sampling, throttling, and redaction.
type AuditConfig struct {
	SamplingRate     float64  `yaml:"sampling_rate"`
	DenySamplingRate float64  `yaml:"deny_sampling_rate"`
	RatePerSecond    float64  `yaml:"rate_per_second"` // 0 disables throttling
	RedactPaths      []string `yaml:"redact_paths"`
}

// ReloadConfig controls config hot-reload behavior (SIGHUP and file watching).
type ReloadConfig struct {
	Enabled   bool     `yaml:"enabled"`    // default true
	WatchFile bool     `yaml:"watch_file"` // default true
	Debounce  Duration `yaml:"debounce"`   // default 2s
}

// Duration is a time.Duration that supports YAML string parsing (e.g., "60s", "5m").
type Duration struct {
	time.Duration
}

// UnmarshalYAML implements yaml.Unmarshaler for Duration, parsing strings like "60s" or "5m".
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	dur, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	d.Duration = dur
	return nil
}

// MarshalYAML implements yaml.Marshaler for Duration.
func (d Duration) MarshalYAML() (interface{}, error) {
	return d.Duration.String(), nil
}

// Load reads, parses, applies defaults, and validates a configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}
