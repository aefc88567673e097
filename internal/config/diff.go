package config

import "reflect"

// Change describes a single configuration field that differs between two configs.
type Change struct {
	Field      string      // dot-separated field path (e.g., "logging.audit.sampling_rate")
	OldValue   interface{} // previous value
	NewValue   interface{} // new value
	Reloadable bool        // whether this change can be applied without restart
}

// Diff compares two Config values and returns a list of changes.
// Each change is annotated with whether it is reloadable at runtime.
func Diff(old, new *Config) []Change {
	var changes []Change

	// ── Non-reloadable: listen ──
	diffField(&changes, "listen.host", old.Listen.Host, new.Listen.Host, false)
	diffField(&changes, "listen.port", old.Listen.Port, new.Listen.Port, false)

	// ── Non-reloadable: database ──
	diffField(&changes, "database.driver", old.Database.Driver, new.Database.Driver, false)
	diffField(&changes, "database.dsn", old.Database.DSN, new.Database.DSN, false)

	// ── Cache: backend and address need a restart, TTL does not ──
	diffField(&changes, "cache.backend", old.Cache.Backend, new.Cache.Backend, false)
	diffField(&changes, "cache.redis_addr", old.Cache.RedisAddr, new.Cache.RedisAddr, false)
	diffField(&changes, "cache.ttl", old.Cache.TTL.Duration, new.Cache.TTL.Duration, true)

	// ── Non-reloadable: manifest verification is fixed at construction ──
	diffField(&changes, "manifest.require_signature", old.Manifest.RequireSignature, new.Manifest.RequireSignature, false)
	diffStringSlice(&changes, "manifest.trusted_jwks_urls", old.Manifest.TrustedJWKSURLs, new.Manifest.TrustedJWKSURLs, false)
	diffField(&changes, "manifest.jwks_cache_ttl", old.Manifest.JWKSCacheTTL.Duration, new.Manifest.JWKSCacheTTL.Duration, false)

	// ── Logging and audit: the handler format needs a restart, the rest
	// is applied live ──
	diffField(&changes, "logging.level", old.Logging.Level, new.Logging.Level, true)
	diffField(&changes, "logging.format", old.Logging.Format, new.Logging.Format, false)
	diffField(&changes, "logging.audit.sampling_rate", old.Logging.Audit.SamplingRate, new.Logging.Audit.SamplingRate, true)
	diffField(&changes, "logging.audit.deny_sampling_rate", old.Logging.Audit.DenySamplingRate, new.Logging.Audit.DenySamplingRate, true)
	diffField(&changes, "logging.audit.rate_per_second", old.Logging.Audit.RatePerSecond, new.Logging.Audit.RatePerSecond, true)
	diffStringSlice(&changes, "logging.audit.redact_paths", old.Logging.Audit.RedactPaths, new.Logging.Audit.RedactPaths, true)

	return changes
}

// diffField appends a Change if old != new using reflect.DeepEqual for comparison.
func diffField(changes *[]Change, field string, oldVal, newVal interface{}, reloadable bool) {
	if !reflect.DeepEqual(oldVal, newVal) {
		*changes = append(*changes, Change{
			Field:      field,
			OldValue:   oldVal,
			NewValue:   newVal,
			Reloadable: reloadable,
		})
	}
}

// diffStringSlice compares two string slices and appends a Change if they differ.
func diffStringSlice(changes *[]Change, field string, oldVal, newVal []string, reloadable bool) {
	if !reflect.DeepEqual(oldVal, newVal) {
		*changes = append(*changes, Change{
			Field:      field,
			OldValue:   oldVal,
			NewValue:   newVal,
			Reloadable: reloadable,
		})
	}
}
