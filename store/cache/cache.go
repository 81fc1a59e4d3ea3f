// Package cache provides the in-memory TTL cache the store uses for schema
// introspection results.
package cache

import (
	"context"
	"strings"
	"sync"
	"time"
)

// Config configures a Cache.
type Config struct {
	DefaultTTL      time.Duration
	CleanupInterval time.Duration
	// MaxItems bounds the cache. When full, the entry closest to expiry is evicted.
	MaxItems int
	// OnEviction is called for entries removed by expiry or capacity.
	OnEviction func(key string, value any)
}

type item struct {
	value     any
	expiresAt time.Time
}

func (i item) expired(now time.Time) bool {
	return !i.expiresAt.IsZero() && now.After(i.expiresAt)
}

// Cache is a concurrency-safe TTL cache.
type Cache struct {
	config Config
	mu     sync.RWMutex
	items  map[string]item
	stop   chan struct{}
	once   sync.Once
	now    func() time.Time
}

// New creates a cache and starts its janitor when CleanupInterval is positive.
func New(config Config) *Cache {
	c := &Cache{
		config: config,
		items:  make(map[string]item),
		stop:   make(chan struct{}),
		now:    time.Now,
	}
	if config.CleanupInterval > 0 {
		go c.janitor(config.CleanupInterval)
	}
	return c
}

func (c *Cache) janitor(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.deleteExpired()
		case <-c.stop:
			return
		}
	}
}

func (c *Cache) deleteExpired() {
	now := c.now()
	var evicted []struct {
		key   string
		value any
	}
	c.mu.Lock()
	for k, it := range c.items {
		if it.expired(now) {
			delete(c.items, k)
			evicted = append(evicted, struct {
				key   string
				value any
			}{k, it.value})
		}
	}
	c.mu.Unlock()
	if c.config.OnEviction != nil {
		for _, e := range evicted {
			c.config.OnEviction(e.key, e.value)
		}
	}
}

// Get returns the value for key if present and not expired.
func (c *Cache) Get(_ context.Context, key string) (any, bool) {
	c.mu.RLock()
	it, ok := c.items[key]
	c.mu.RUnlock()
	if !ok || it.expired(c.now()) {
		return nil, false
	}
	return it.value, true
}

// Set stores value under key with the default TTL.
func (c *Cache) Set(ctx context.Context, key string, value any) {
	c.SetWithTTL(ctx, key, value, c.config.DefaultTTL)
}

// SetWithTTL stores value under key. A non-positive ttl never expires.
func (c *Cache) SetWithTTL(_ context.Context, key string, value any, ttl time.Duration) {
	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = c.now().Add(ttl)
	}

	var evictedKey string
	var evictedValue any
	c.mu.Lock()
	if _, exists := c.items[key]; !exists && c.config.MaxItems > 0 && len(c.items) >= c.config.MaxItems {
		evictedKey, evictedValue = c.evictOneLocked()
	}
	c.items[key] = item{value: value, expiresAt: expiresAt}
	c.mu.Unlock()

	if evictedKey != "" && c.config.OnEviction != nil {
		c.config.OnEviction(evictedKey, evictedValue)
	}
}

// evictOneLocked removes the entry expiring soonest; entries without expiry go last.
func (c *Cache) evictOneLocked() (string, any) {
	var (
		victim string
		best   time.Time
		found  bool
	)
	for k, it := range c.items {
		if !found {
			victim, best, found = k, it.expiresAt, true
			continue
		}
		if it.expiresAt.IsZero() {
			continue
		}
		if best.IsZero() || it.expiresAt.Before(best) {
			victim, best = k, it.expiresAt
		}
	}
	if !found {
		return "", nil
	}
	value := c.items[victim].value
	delete(c.items, victim)
	return victim, value
}

// Delete removes key.
func (c *Cache) Delete(_ context.Context, key string) {
	c.mu.Lock()
	delete(c.items, key)
	c.mu.Unlock()
}

// DeletePrefix removes every key starting with prefix.
func (c *Cache) DeletePrefix(_ context.Context, prefix string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for k := range c.items {
		if strings.HasPrefix(k, prefix) {
			delete(c.items, k)
			n++
		}
	}
	return n
}

// Clear removes every entry.
func (c *Cache) Clear(_ context.Context) {
	c.mu.Lock()
	c.items = make(map[string]item)
	c.mu.Unlock()
}

// Size returns the number of stored entries, including expired ones not yet collected.
func (c *Cache) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// Close stops the janitor. It is safe to call more than once.
func (c *Cache) Close() error {
	c.once.Do(func() { close(c.stop) })
	return nil
}
