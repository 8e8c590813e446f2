package embedding

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// redisCache is an optional shared L2 tier in front of the per-process
// diskCache: content-hash -> vector, shared across every mcp-server
// replica pointed at the same Redis instance, so a cold replica's first
// request for a text another replica already embedded is still a cache
// hit. Adapted from the teacher's internal/skills/redis_cache.go (a
// Redis-backed prompt/metadata cache keyed by tenant/project/generation)
// narrowed to a flat hash->vector keyspace and without that file's
// enterprise build tag, since embedding caching is core to every
// deployment of this server, not an add-on.
type redisCache struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// newRedisCache connects to addr when enabled is true. Returns nil (with
// no error) when disabled, so callers can treat a nil *redisCache as "no
// shared tier configured" without a type switch.
func newRedisCache(enabled bool, addr, modelName string) (*redisCache, error) {
	if !enabled || addr == "" {
		return nil, nil
	}
	opts := &redis.Options{Addr: addr}
	client := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis embedding cache ping: %w", err)
	}
	return &redisCache{
		client: client,
		prefix: "embed:" + sanitisePattern.ReplaceAllString(modelName, "_") + ":",
		ttl:    7 * 24 * time.Hour,
	}, nil
}

func (c *redisCache) key(hash string) string {
	return c.prefix + hash
}

func (c *redisCache) get(ctx context.Context, hash string) ([]float32, bool) {
	if c == nil || c.client == nil {
		return nil, false
	}
	val, err := c.client.Get(ctx, c.key(hash)).Result()
	if err != nil {
		return nil, false
	}
	var vec []float32
	if err := json.Unmarshal([]byte(val), &vec); err != nil {
		return nil, false
	}
	return vec, true
}

func (c *redisCache) put(ctx context.Context, hash string, vec []float32) {
	if c == nil || c.client == nil {
		return
	}
	data, err := json.Marshal(vec)
	if err != nil {
		return
	}
	_ = c.client.Set(ctx, c.key(hash), data, c.ttl).Err()
}

func (c *redisCache) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}
