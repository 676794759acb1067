package cache

import (
	"crypto/sha256"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// Entry is a cached value with the time it was stored
type Entry[T any] struct {
	Value     T
	Timestamp time.Time
}

// GenerateCacheKey generates a cache key from its parts
func GenerateCacheKey(parts ...string) string {
	h := sha256.New()
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{0})
	}
	return fmt.Sprintf("%x", h.Sum(nil))
}

// TTL is a concurrency-safe cache whose entries expire after a fixed age
type TTL[T any] struct {
	ttl     time.Duration
	entries sync.Map
	group   singleflight.Group
	now     func() time.Time
	logger  *slog.Logger
}

// New creates a cache. A non-positive ttl disables expiry.
func New[T any](ttl time.Duration, logger *slog.Logger) *TTL[T] {
	if logger == nil {
		logger = slog.Default()
	}
	return &TTL[T]{ttl: ttl, now: time.Now, logger: logger}
}

// Get returns the cached value for key unless it is missing or stale
func (c *TTL[T]) Get(key string) (T, bool) {
	var zero T
	val, ok := c.entries.Load(key)
	if !ok {
		return zero, false
	}
	entry := val.(Entry[T])
	if c.ttl > 0 && c.now().Sub(entry.Timestamp) >= c.ttl {
		c.entries.CompareAndDelete(key, val)
		return zero, false
	}
	c.logger.Debug("cache hit", "key", short(key))
	return entry.Value, true
}

// Set stores value under key
func (c *TTL[T]) Set(key string, value T) {
	c.entries.Store(key, Entry[T]{Value: value, Timestamp: c.now()})
}

// Do returns the cached value for key, or calls fn once for all concurrent
// callers of the same key and caches its result. Errors are not cached.
func (c *TTL[T]) Do(key string, fn func() (T, error)) (T, error) {
	if v, ok := c.Get(key); ok {
		return v, nil
	}

	v, err, shared := c.group.Do(key, func() (any, error) {
		if v, ok := c.Get(key); ok {
			return v, nil
		}
		v, err := fn()
		if err != nil {
			return v, err
		}
		c.Set(key, v)
		c.logger.Debug("cached value", "key", short(key))
		return v, nil
	})
	if shared {
		c.logger.Debug("shared in-flight lookup", "key", short(key))
	}
	if err != nil {
		var zero T
		return zero, err
	}
	return v.(T), nil
}

// Purge drops every entry
func (c *TTL[T]) Purge() {
	c.entries.Clear()
}

func short(key string) string {
	if len(key) > 16 {
		return key[:16]
	}
	return key
}
