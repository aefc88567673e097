package capability

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// redisKeyPrefix namespaces capability entries in a shared Redis.
const redisKeyPrefix = "fortiplugin:caps:"

// RedisCache stores compiled capability maps as JSON values in Redis so
// multiple host nodes share one warm cache. Invalidation is a DEL; TTL
// rides on the key.
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache wraps an existing Redis client.
func NewRedisCache(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

// ConnectRedis dials Redis at addr and pings it.
func ConnectRedis(ctx context.Context, addr string) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("pinging redis at %s: %w", addr, err)
	}
	return &RedisCache{client: client}, nil
}

// Close releases the underlying client.
func (c *RedisCache) Close() error { return c.client.Close() }

func redisKey(pluginID string) string { return redisKeyPrefix + pluginID }

// Get returns the cached map for a plugin. A corrupt entry is dropped
// and treated as a miss rather than poisoning every check.
func (c *RedisCache) Get(ctx context.Context, pluginID string) (*Capabilities, bool, error) {
	data, err := c.client.Get(ctx, redisKey(pluginID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("reading capability cache: %w", err)
	}
	var caps Capabilities
	if err := json.Unmarshal(data, &caps); err != nil {
		_ = c.client.Del(ctx, redisKey(pluginID)).Err()
		return nil, false, nil
	}
	return &caps, true, nil
}

// Put stores a compiled map with the given TTL.
func (c *RedisCache) Put(ctx context.Context, caps *Capabilities, ttl time.Duration) error {
	data, err := json.Marshal(caps)
	if err != nil {
		return fmt.Errorf("encoding capability map: %w", err)
	}
	if err := c.client.Set(ctx, redisKey(caps.PluginID), data, ttl).Err(); err != nil {
		return fmt.Errorf("writing capability cache: %w", err)
	}
	return nil
}

// Invalidate drops the entry for a plugin.
func (c *RedisCache) Invalidate(ctx context.Context, pluginID string) error {
	if err := c.client.Del(ctx, redisKey(pluginID)).Err(); err != nil {
		return fmt.Errorf("invalidating capability cache: %w", err)
	}
	return nil
}
