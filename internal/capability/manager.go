package capability

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// CacheMetrics records capability cache events (hit, miss, invalidate).
// *audit.Metrics satisfies it.
type CacheMetrics interface {
	CacheEvent(event string)
}

// Manager front-ends the cache with lazy compilation: Get serves the
// cached map or compiles and stores a fresh one; Warm always recompiles.
// The cache is eventually consistent: mutation paths call Invalidate
// and a stale read in between is bounded by the TTL.
type Manager struct {
	cache    Cache
	compiler *Compiler
	ttl      time.Duration
	logger   *slog.Logger
	metrics  CacheMetrics

	mu sync.RWMutex // guards ttl updates from config reload
}

// NewManager creates a Manager over the given cache and compiler.
// metrics may be nil.
func NewManager(cache Cache, compiler *Compiler, ttl time.Duration, logger *slog.Logger, metrics CacheMetrics) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{cache: cache, compiler: compiler, ttl: ttl, logger: logger, metrics: metrics}
}

// Get returns the plugin's capability map, compiling it on a miss.
// Cache read errors degrade to a recompile rather than failing the
// check; compile errors propagate (the caller fails closed).
func (m *Manager) Get(ctx context.Context, pluginID string) (*Capabilities, error) {
	caps, ok, err := m.cache.Get(ctx, pluginID)
	if err != nil {
		m.logger.Warn("capability cache read failed, recompiling", "plugin", pluginID, "error", err)
	} else if ok {
		m.event("hit")
		return caps, nil
	}
	m.event("miss")
	return m.Warm(ctx, pluginID)
}

// Warm compiles the plugin's capability map and stores it. Cache write
// failures are logged only; the freshly compiled map is still returned.
func (m *Manager) Warm(ctx context.Context, pluginID string) (*Capabilities, error) {
	caps, err := m.compiler.Compile(ctx, pluginID)
	if err != nil {
		return nil, err
	}
	if err := m.cache.Put(ctx, caps, m.TTL()); err != nil {
		m.logger.Warn("capability cache write failed", "plugin", pluginID, "error", err)
	}
	return caps, nil
}

// Invalidate drops the plugin's cached map. Must be called after any
// ingestion or deactivation affecting the plugin.
func (m *Manager) Invalidate(ctx context.Context, pluginID string) {
	m.event("invalidate")
	if err := m.cache.Invalidate(ctx, pluginID); err != nil {
		m.logger.Warn("capability cache invalidation failed", "plugin", pluginID, "error", err)
	}
}

func (m *Manager) event(name string) {
	if m.metrics != nil {
		m.metrics.CacheEvent(name)
	}
}

// TTL returns the current cache TTL.
func (m *Manager) TTL() time.Duration {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.ttl
}

// SetTTL updates the TTL applied to future cache writes (config reload).
func (m *Manager) SetTTL(ttl time.Duration) {
	m.mu.Lock()
	m.ttl = ttl
	m.mu.Unlock()
}
