// Package cache provides best-effort response caching over Redis,
// grounded on the teacher's db/repository/redis.go RedisRepository.
// Every operation degrades silently when Redis is unavailable or
// unconfigured: a cache miss or a transport error is never surfaced as
// a failure to the caller, since the persistence layer remains the
// single source of truth.
package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// Cache wraps a Redis client. A nil client (no URL configured, or the
// initial ping failed) makes every operation a silent no-op.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
	log    *logrus.Entry
}

// New connects to url if non-empty and reachable; otherwise returns a
// Cache that no-ops every operation. Connection failure is logged, not
// returned, since caching is explicitly best-effort per spec.md section
// 6's configuration note.
func New(url string, ttl time.Duration, log *logrus.Entry) *Cache {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	log = log.WithField("component", "cache")
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	if url == "" {
		log.Info("no cache URL configured, caching disabled")
		return &Cache{ttl: ttl, log: log}
	}

	opts, err := redis.ParseURL(url)
	if err != nil {
		log.WithError(err).Warn("invalid cache URL, caching disabled")
		return &Cache{ttl: ttl, log: log}
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		log.WithError(err).Warn("cache unreachable at startup, caching disabled")
		return &Cache{ttl: ttl, log: log}
	}

	return &Cache{client: client, ttl: ttl, log: log}
}

// Enabled reports whether this instance has a live Redis connection.
func (c *Cache) Enabled() bool { return c.client != nil }

// Set stores value under key, silently doing nothing on any failure.
func (c *Cache) Set(ctx context.Context, key string, value any) {
	if c.client == nil {
		return
	}
	data, err := json.Marshal(value)
	if err != nil {
		c.log.WithError(err).Debug("cache set: encode failed")
		return
	}
	if err := c.client.Set(ctx, cacheKey(key), data, c.ttl).Err(); err != nil {
		c.log.WithError(err).Debug("cache set: redis call failed")
	}
}

// Get decodes the cached value for key into dest, reporting whether a
// valid entry was found. A miss or an unreachable cache are both "not
// found"; neither is an error.
func (c *Cache) Get(ctx context.Context, key string, dest any) bool {
	if c.client == nil {
		return false
	}
	data, err := c.client.Get(ctx, cacheKey(key)).Bytes()
	if err != nil {
		return false
	}
	if err := json.Unmarshal(data, dest); err != nil {
		c.log.WithError(err).Debug("cache get: decode failed")
		return false
	}
	return true
}

// Invalidate removes key, silently doing nothing on failure.
func (c *Cache) Invalidate(ctx context.Context, key string) {
	if c.client == nil {
		return
	}
	if err := c.client.Del(ctx, cacheKey(key)).Err(); err != nil {
		c.log.WithError(err).Debug("cache invalidate: redis call failed")
	}
}

// Close releases the underlying connection, if any.
func (c *Cache) Close() error {
	if c.client == nil {
		return nil
	}
	return c.client.Close()
}

func cacheKey(key string) string { return "mcs:cache:" + key }
