// Package tokencache implements the two-tier token cache shared by the
// Token Exchanger, Client Credentials Service, and External IdP Provider
// (§4.3-§4.5): an in-process map backed optionally by a shared Redis tier.
// On shared-cache read or write failure the in-process map still serves the
// request (§4.3).
package tokencache

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"goa.design/tools-provider/internal/telemetry"
)

// Entry is the cache entry shape shared by every token service (§3
// TokenCacheEntry).
type Entry struct {
	AccessToken string    `json:"access_token"`
	ExpiresAt   time.Time `json:"expires_at"`
	TokenType   string    `json:"token_type"`
	Scope       string    `json:"scope,omitempty"`
}

// Expired reports whether the entry is expired given buffer (default 60s):
// considered expired when now + buffer >= expires_at (§3).
func (e Entry) Expired(now time.Time, buffer time.Duration) bool {
	return !now.Add(buffer).Before(e.ExpiresAt)
}

// Cache is the two-tier cache. The Redis client is optional; a nil client
// degrades to in-process only.
type Cache struct {
	redis     *redis.Client
	keyPrefix string
	logger    telemetry.Logger

	mu   sync.Mutex
	data map[string]Entry
}

// New constructs a Cache. redisClient may be nil to disable the shared tier.
func New(redisClient *redis.Client, keyPrefix string, logger telemetry.Logger) *Cache {
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	return &Cache{redis: redisClient, keyPrefix: keyPrefix, logger: logger, data: make(map[string]Entry)}
}

// Get returns the cached entry for key if present and not expired by the
// given buffer. It checks the in-process map first, then falls back to the
// shared tier, populating the in-process map on a shared-tier hit.
func (c *Cache) Get(ctx context.Context, key string, buffer time.Duration) (Entry, bool) {
	c.mu.Lock()
	if e, ok := c.data[key]; ok {
		c.mu.Unlock()
		if !e.Expired(time.Now(), buffer) {
			return e, true
		}
		c.mu.Lock()
		delete(c.data, key)
	}
	c.mu.Unlock()

	if c.redis == nil {
		return Entry{}, false
	}

	raw, err := c.redis.Get(ctx, c.keyPrefix+key).Result()
	if err != nil {
		if err != redis.Nil {
			c.logger.Warn(ctx, "shared token cache read failed, serving from in-process map only", "err", err)
		}
		return Entry{}, false
	}
	var e Entry
	if err := json.Unmarshal([]byte(raw), &e); err != nil {
		c.logger.Warn(ctx, "shared token cache entry undecodable", "err", err)
		return Entry{}, false
	}
	if e.Expired(time.Now(), buffer) {
		return Entry{}, false
	}

	c.mu.Lock()
	c.data[key] = e
	c.mu.Unlock()
	return e, true
}

// Set stores the entry in both tiers. A shared-tier write failure is logged
// and otherwise ignored; the in-process write always succeeds.
func (c *Cache) Set(ctx context.Context, key string, e Entry, minTTL time.Duration) {
	c.mu.Lock()
	c.data[key] = e
	c.mu.Unlock()

	if c.redis == nil {
		return
	}
	ttl := time.Until(e.ExpiresAt)
	if ttl < minTTL {
		ttl = minTTL
	}
	raw, err := json.Marshal(e)
	if err != nil {
		c.logger.Warn(ctx, "marshal token cache entry failed", "err", err)
		return
	}
	if err := c.redis.Set(ctx, c.keyPrefix+key, raw, ttl).Err(); err != nil {
		c.logger.Warn(ctx, "shared token cache write failed", "err", err)
	}
}

// Clear removes every in-process and shared-tier (best-effort, by prefix
// pattern) entry. Used for global cache-clear admin operations.
func (c *Cache) Clear(ctx context.Context) {
	c.mu.Lock()
	c.data = make(map[string]Entry)
	c.mu.Unlock()

	if c.redis == nil {
		return
	}
	iter := c.redis.Scan(ctx, 0, c.keyPrefix+"*", 0).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if len(keys) > 0 {
		if err := c.redis.Del(ctx, keys...).Err(); err != nil {
			c.logger.Warn(ctx, "shared token cache clear failed", "err", err)
		}
	}
}

// Evict removes a single key from both tiers.
func (c *Cache) Evict(ctx context.Context, key string) {
	c.mu.Lock()
	delete(c.data, key)
	c.mu.Unlock()

	if c.redis == nil {
		return
	}
	if err := c.redis.Del(ctx, c.keyPrefix+key).Err(); err != nil {
		c.logger.Warn(ctx, "shared token cache evict failed", "err", err)
	}
}
