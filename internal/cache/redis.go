package cache

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/go-redis/redis/v8"
)

// RedisCache is the shared-store ResponseCache backend, selected when a redis
// URL is configured. Keys follow the scheme cache:<tier>:<hash>. Any redis
// error degrades to a miss; the cache is an optimization, not a safety control.
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache connects to redis using a URL like redis://localhost:6379.
func NewRedisCache(url string) (*RedisCache, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	return &RedisCache{client: redis.NewClient(opts)}, nil
}

func (c *RedisCache) Lookup(ctx context.Context, fp Fingerprints) (*Entry, string, bool) {
	for _, tk := range fp.tiers() {
		val, err := c.client.Get(ctx, "cache:"+tk[0]+":"+tk[1]).Result()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			log.Printf("⚠️ Cache lookup failed, treating as miss: %v", err)
			return nil, "", false
		}
		var entry Entry
		if err := json.Unmarshal([]byte(val), &entry); err != nil {
			continue
		}
		return &entry, tk[0], true
	}
	return nil, "", false
}

func (c *RedisCache) Store(ctx context.Context, fp Fingerprints, entry Entry, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	if entry.StoredAt.IsZero() {
		entry.StoredAt = time.Now()
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return
	}
	for _, tk := range fp.tiers() {
		if err := c.client.Set(ctx, "cache:"+tk[0]+":"+tk[1], data, ttl).Err(); err != nil {
			log.Printf("⚠️ Cache store failed: %v", err)
			return
		}
	}
}

// Close releases the redis connection.
func (c *RedisCache) Close() error {
	return c.client.Close()
}
