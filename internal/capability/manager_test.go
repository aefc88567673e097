package capability

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/timeax/fortiplugin/internal/permission"
	"github.com/timeax/fortiplugin/internal/repo"
)

// faultyCache wraps a MemoryCache and fails selected operations.
type faultyCache struct {
	*MemoryCache
	failGet bool
	failPut bool
}

func (c *faultyCache) Get(ctx context.Context, pluginID string) (*Capabilities, bool, error) {
	if c.failGet {
		return nil, false, errors.New("backend down")
	}
	return c.MemoryCache.Get(ctx, pluginID)
}

func (c *faultyCache) Put(ctx context.Context, caps *Capabilities, ttl time.Duration) error {
	if c.failPut {
		return errors.New("backend down")
	}
	return c.MemoryCache.Put(ctx, caps, ttl)
}

func newTestManager(t *testing.T, cache Cache) (*Manager, *repo.MemoryRepository) {
	t.Helper()
	r := repo.NewMemoryRepository()
	seedNetworkRow(t, r, "plug-1", "api.example.com", repo.AssignMeta{Active: true})
	m := NewManager(cache, NewCompiler(r, fixedNow, nil), time.Minute, nil, nil)
	return m, r
}

// recordingCacheMetrics counts cache events by name.
type recordingCacheMetrics struct {
	events map[string]int
}

func (m *recordingCacheMetrics) CacheEvent(event string) {
	if m.events == nil {
		m.events = map[string]int{}
	}
	m.events[event]++
}

func TestManager_GetCompilesOnMiss(t *testing.T) {
	ctx := context.Background()
	cache := NewMemoryCache()
	m, _ := newTestManager(t, cache)

	caps, err := m.Get(ctx, "plug-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(caps.Grants(permission.TypeNetwork)) != 1 {
		t.Fatalf("grants = %+v", caps.ByType)
	}

	// The compiled map is now cached.
	if _, ok, _ := cache.Get(ctx, "plug-1"); !ok {
		t.Error("compiled map was not stored")
	}
}

func TestManager_GetServesCached(t *testing.T) {
	ctx := context.Background()
	cache := NewMemoryCache()
	m, r := newTestManager(t, cache)

	first, err := m.Get(ctx, "plug-1")
	if err != nil {
		t.Fatal(err)
	}

	// Mutating the store does not show through the cache until
	// invalidation.
	seedNetworkRow(t, r, "plug-1", "cdn.example.com", repo.AssignMeta{Active: true})
	cached, err := m.Get(ctx, "plug-1")
	if err != nil {
		t.Fatal(err)
	}
	if cached.ETag != first.ETag {
		t.Error("cached map should be served as-is")
	}

	m.Invalidate(ctx, "plug-1")
	fresh, err := m.Get(ctx, "plug-1")
	if err != nil {
		t.Fatal(err)
	}
	if fresh.ETag == first.ETag {
		t.Error("invalidation should force a recompile")
	}
	if len(fresh.Grants(permission.TypeNetwork)) != 2 {
		t.Errorf("fresh grants = %d, want 2", len(fresh.Grants(permission.TypeNetwork)))
	}
}

func TestManager_CacheReadFailureRecompiles(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t, &faultyCache{MemoryCache: NewMemoryCache(), failGet: true})

	caps, err := m.Get(ctx, "plug-1")
	if err != nil {
		t.Fatalf("cache faults must degrade to recompilation: %v", err)
	}
	if len(caps.Grants(permission.TypeNetwork)) != 1 {
		t.Errorf("grants = %+v", caps.ByType)
	}
}

func TestManager_CacheWriteFailureStillReturns(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t, &faultyCache{MemoryCache: NewMemoryCache(), failPut: true})

	caps, err := m.Warm(ctx, "plug-1")
	if err != nil {
		t.Fatalf("cache write faults must not fail the compile: %v", err)
	}
	if caps == nil || len(caps.Grants(permission.TypeNetwork)) != 1 {
		t.Errorf("caps = %+v", caps)
	}
}

func TestManager_RecordsCacheEvents(t *testing.T) {
	ctx := context.Background()
	r := repo.NewMemoryRepository()
	seedNetworkRow(t, r, "plug-1", "api.example.com", repo.AssignMeta{Active: true})
	rec := &recordingCacheMetrics{}
	m := NewManager(NewMemoryCache(), NewCompiler(r, fixedNow, nil), time.Minute, nil, rec)

	if _, err := m.Get(ctx, "plug-1"); err != nil {
		t.Fatal(err)
	}
	if rec.events["miss"] != 1 || rec.events["hit"] != 0 {
		t.Fatalf("after cold read: events = %v", rec.events)
	}

	if _, err := m.Get(ctx, "plug-1"); err != nil {
		t.Fatal(err)
	}
	if rec.events["hit"] != 1 {
		t.Errorf("warm read not recorded as hit: %v", rec.events)
	}

	m.Invalidate(ctx, "plug-1")
	if rec.events["invalidate"] != 1 {
		t.Errorf("invalidation not recorded: %v", rec.events)
	}
	if _, err := m.Get(ctx, "plug-1"); err != nil {
		t.Fatal(err)
	}
	if rec.events["miss"] != 2 {
		t.Errorf("read after invalidation should miss: %v", rec.events)
	}
}

func TestManager_CacheReadFailureCountsAsMiss(t *testing.T) {
	ctx := context.Background()
	r := repo.NewMemoryRepository()
	seedNetworkRow(t, r, "plug-1", "api.example.com", repo.AssignMeta{Active: true})
	rec := &recordingCacheMetrics{}
	m := NewManager(&faultyCache{MemoryCache: NewMemoryCache(), failGet: true},
		NewCompiler(r, fixedNow, nil), time.Minute, nil, rec)

	if _, err := m.Get(ctx, "plug-1"); err != nil {
		t.Fatal(err)
	}
	if rec.events["miss"] != 1 || rec.events["hit"] != 0 {
		t.Errorf("faulted read should count as miss: %v", rec.events)
	}
}

func TestManager_SetTTL(t *testing.T) {
	m := NewManager(NewMemoryCache(), nil, time.Minute, nil, nil)
	if m.TTL() != time.Minute {
		t.Fatalf("ttl = %v", m.TTL())
	}
	m.SetTTL(5 * time.Minute)
	if m.TTL() != 5*time.Minute {
		t.Errorf("ttl = %v, want 5m", m.TTL())
	}
}
