package tracking

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

const cacheKeyPrefix = "track17:info:"

// Cache stores tracking lookups in Redis. A nil *Cache, or one built without
// a client, misses on every Get and drops every Set.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewCache pings client and returns a cache that degrades to no caching
// when Redis is unreachable.
func NewCache(ctx context.Context, client *redis.Client, ttl time.Duration) *Cache {
	if client == nil {
		return &Cache{ttl: ttl}
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		return &Cache{ttl: ttl}
	}
	return &Cache{client: client, ttl: ttl}
}

// Enabled reports whether lookups are cached.
func (c *Cache) Enabled() bool { return c != nil && c.client != nil }

// Get returns the cached info for number. ok is false on a miss.
func (c *Cache) Get(ctx context.Context, number string) (info TrackInfo, ok bool, err error) {
	if !c.Enabled() {
		return TrackInfo{}, false, nil
	}
	data, err := c.client.Get(ctx, cacheKeyPrefix+number).Bytes()
	if errors.Is(err, redis.Nil) {
		return TrackInfo{}, false, nil
	}
	if err != nil {
		return TrackInfo{}, false, err
	}
	if err := json.Unmarshal(data, &info); err != nil {
		return TrackInfo{}, false, err
	}
	return info, true, nil
}

// Set caches info under its number.
func (c *Cache) Set(ctx context.Context, info TrackInfo) error {
	if !c.Enabled() {
		return nil
	}
	data, err := json.Marshal(info)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, cacheKeyPrefix+info.Number, data, c.ttl).Err()
}

// Invalidate drops the cached info for number.
func (c *Cache) Invalidate(ctx context.Context, number string) error {
	if !c.Enabled() {
		return nil
	}
	return c.client.Del(ctx, cacheKeyPrefix+number).Err()
}
