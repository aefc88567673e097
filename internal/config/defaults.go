package config

import "time"

// ApplyDefaults fills zero-valued fields with the engine defaults.
// It is called after YAML parsing and before validation.
func ApplyDefaults(cfg *Config) {
	// ── Listen ──
	if cfg.Listen.Host == "" {
		cfg.Listen.Host = "127.0.0.1"
	}
	if cfg.Listen.Port == 0 {
		cfg.Listen.Port = 9090
	}

	// ── Database ──
	if cfg.Database.Driver == "" {
		cfg.Database.Driver = "memory"
	}

	// ── Cache ──
	if cfg.Cache.Backend == "" {
		cfg.Cache.Backend = "memory"
	}
	if cfg.Cache.TTL.Duration == 0 {
		cfg.Cache.TTL.Duration = 60 * time.Second
	}
	if cfg.Cache.RedisAddr == "" {
		cfg.Cache.RedisAddr = "127.0.0.1:6379"
	}

	// ── Manifest ──
	// require_signature defaults to false; plain JSON manifests are accepted
	// until trust anchors are configured.
	if cfg.Manifest.JWKSCacheTTL.Duration == 0 {
		cfg.Manifest.JWKSCacheTTL.Duration = 3600 * time.Second
	}

	// ── Logging ──
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Logging.Output == "" {
		cfg.Logging.Output = "stdout"
	}
	applyAuditDefaults(&cfg.Logging.Audit)

	// ── Reload ──
	if cfg.Reload.Debounce.Duration == 0 {
		cfg.Reload.Debounce.Duration = 2 * time.Second
	}
}

func applyAuditDefaults(a *AuditConfig) {
	if a.SamplingRate == 0 {
		a.SamplingRate = 1.0
	}
	if a.DenySamplingRate == 0 {
		a.DenySamplingRate = 1.0
	}
	// rate_per_second zero means unthrottled; no default applied.
}
