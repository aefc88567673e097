package config

import (
	"fmt"
	"net/url"
	"strings"
)

// Validate checks the configuration for errors. It collects ALL errors
// rather than stopping at the first one, returning them as a joined message.
func Validate(cfg *Config) error {
	var errs []string

	// ── Listen ──
	if cfg.Listen.Port < 1 || cfg.Listen.Port > 65535 {
		errs = append(errs, fmt.Sprintf("listen.port must be 1-65535 (got %d)", cfg.Listen.Port))
	}

	// ── Database ──
	if !isValidDriver(cfg.Database.Driver) {
		errs = append(errs, fmt.Sprintf("database.driver must be one of: memory, postgres (got %q)", cfg.Database.Driver))
	}
	if cfg.Database.Driver == "postgres" && cfg.Database.DSN == "" {
		errs = append(errs, "database.dsn is required when database.driver is postgres")
	}

	// ── Cache ──
	if !isValidCacheBackend(cfg.Cache.Backend) {
		errs = append(errs, fmt.Sprintf("cache.backend must be one of: memory, redis (got %q)", cfg.Cache.Backend))
	}
	if cfg.Cache.TTL.Duration < 0 {
		errs = append(errs, fmt.Sprintf("cache.ttl must be positive (got %s)", cfg.Cache.TTL.Duration))
	}
	if cfg.Cache.Backend == "redis" && cfg.Cache.RedisAddr == "" {
		errs = append(errs, "cache.redis_addr is required when cache.backend is redis")
	}

	// ── Manifest ──
	if cfg.Manifest.RequireSignature && len(cfg.Manifest.TrustedJWKSURLs) == 0 {
		errs = append(errs, "manifest.trusted_jwks_urls must not be empty when manifest.require_signature is true")
	}
	for i, u := range cfg.Manifest.TrustedJWKSURLs {
		if parsed, err := url.Parse(u); err != nil || parsed.Host == "" {
			errs = append(errs, fmt.Sprintf("manifest.trusted_jwks_urls[%d]: must be a valid URL (got %q)", i, u))
		}
	}

	// ── Logging ──
	if !isValidLogLevel(cfg.Logging.Level) {
		errs = append(errs, fmt.Sprintf("logging.level must be one of: debug, info, warn, error (got %q)", cfg.Logging.Level))
	}
	if !isValidLogFormat(cfg.Logging.Format) {
		errs = append(errs, fmt.Sprintf("logging.format must be one of: json, text (got %q)", cfg.Logging.Format))
	}

	// ── Audit ──
	if cfg.Logging.Audit.SamplingRate < 0 || cfg.Logging.Audit.SamplingRate > 1.0 {
		errs = append(errs, fmt.Sprintf("logging.audit.sampling_rate must be between 0.0 and 1.0 (got %f)", cfg.Logging.Audit.SamplingRate))
	}
	if cfg.Logging.Audit.DenySamplingRate < 0 || cfg.Logging.Audit.DenySamplingRate > 1.0 {
		errs = append(errs, fmt.Sprintf("logging.audit.deny_sampling_rate must be between 0.0 and 1.0 (got %f)", cfg.Logging.Audit.DenySamplingRate))
	}
	if cfg.Logging.Audit.RatePerSecond < 0 {
		errs = append(errs, fmt.Sprintf("logging.audit.rate_per_second must not be negative (got %f)", cfg.Logging.Audit.RatePerSecond))
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func isValidDriver(d string) bool {
	switch d {
	case "memory", "postgres":
		return true
	}
	return false
}

func isValidCacheBackend(b string) bool {
	switch b {
	case "memory", "redis":
		return true
	}
	return false
}

func isValidLogLevel(l string) bool {
	switch l {
	case "debug", "info", "warn", "error":
		return true
	}
	return false
}

func isValidLogFormat(f string) bool {
	switch f {
	case "json", "text":
		return true
	}
	return false
}
