package capability

import (
	"context"
	"sync"
	"time"
)

// Cache stores compiled capability maps keyed by plugin id. A zero TTL
// means entries never expire and live until invalidated.
type Cache interface {
	Get(ctx context.Context, pluginID string) (*Capabilities, bool, error)
	Put(ctx context.Context, caps *Capabilities, ttl time.Duration) error
	Invalidate(ctx context.Context, pluginID string) error
}

type memoryEntry struct {
	caps      *Capabilities
	expiresAt time.Time // zero = no expiry
}

// MemoryCache is an in-process Cache guarded by an RWMutex.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	now     func() time.Time
}

// NewMemoryCache creates an empty in-memory cache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{
		entries: make(map[string]memoryEntry),
		now:     time.Now,
	}
}

// Get returns the cached map for a plugin, treating expired entries as
// misses.
func (c *MemoryCache) Get(_ context.Context, pluginID string) (*Capabilities, bool, error) {
	c.mu.RLock()
	e, ok := c.entries[pluginID]
	c.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}
	if !e.expiresAt.IsZero() && c.now().After(e.expiresAt) {
		c.mu.Lock()
		delete(c.entries, pluginID)
		c.mu.Unlock()
		return nil, false, nil
	}
	return e.caps, true, nil
}

// Put stores a compiled map with the given TTL.
func (c *MemoryCache) Put(_ context.Context, caps *Capabilities, ttl time.Duration) error {
	e := memoryEntry{caps: caps}
	if ttl > 0 {
		e.expiresAt = c.now().Add(ttl)
	}
	c.mu.Lock()
	c.entries[caps.PluginID] = e
	c.mu.Unlock()
	return nil
}

// Invalidate drops the entry for a plugin.
func (c *MemoryCache) Invalidate(_ context.Context, pluginID string) error {
	c.mu.Lock()
	delete(c.entries, pluginID)
	c.mu.Unlock()
	return nil
}
