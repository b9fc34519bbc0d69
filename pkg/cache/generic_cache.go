package cache

import (
	"context"
	"sync"
	"time"
)

const (
	// DefaultTTL is the default time-to-live for cache items.
	DefaultTTL = 5 * time.Minute
	// DefaultCleanupInterval is the default interval for cleaning up expired items.
	DefaultCleanupInterval = 10 * time.Minute
)

// item represents a cached value, including its expiration time and an
// approximate in-memory cost in bytes.
type item[V any] struct {
	value     V
	expiresAt time.Time
	cost      int64
}

// Cache is a thread-safe, generic cache with expiration, cleanup, and
// approximate memory accounting.
type Cache[K comparable, V any] struct {
	mu              sync.RWMutex
	items           map[K]item[V]
	approxBytes     int64
	defaultTTL      time.Duration
	cleanupInterval time.Duration
	stopCleanup     chan struct{}
	stopOnce        sync.Once
	clock           func() time.Time
}

// Option is a functional option for configuring the cache.
type Option[K comparable, V any] func(*Cache[K, V])

// New creates a new cache with the given options.
func New[K comparable, V any](opts ...Option[K, V]) *Cache[K, V] {
	c := &Cache[K, V]{
		items:           make(map[K]item[V]),
		defaultTTL:      DefaultTTL,
		cleanupInterval: DefaultCleanupInterval,
		stopCleanup:     make(chan struct{}),
		clock:           time.Now,
	}

	for _, opt := range opts {
		opt(c)
	}

	go c.cleanupLoop()

	return c
}

// WithDefaultTTL sets the default time-to-live for cache items.
func WithDefaultTTL[K comparable, V any](ttl time.Duration) Option[K, V] {
	return func(c *Cache[K, V]) {
		c.defaultTTL = ttl
	}
}

// WithCleanupInterval sets the interval for cleaning up expired items.
func WithCleanupInterval[K comparable, V any](interval time.Duration) Option[K, V] {
	return func(c *Cache[K, V]) {
		c.cleanupInterval = interval
	}
}

// WithClock overrides the time source. Tests use this to simulate TTL
// expiry without sleeping.
func WithClock[K comparable, V any](clock func() time.Time) Option[K, V] {
	return func(c *Cache[K, V]) {
		c.clock = clock
	}
}

// Set adds an item to the cache, overwriting any existing item.
// If ttl is 0, the default TTL is used.
func (c *Cache[K, V]) Set(ctx context.Context, key K, value V, ttl time.Duration) {
	c.SetWithCost(ctx, key, value, ttl, 0)
}

// SetWithCost is Set with an explicit approximate size in bytes, counted
// toward ApproxBytes.
func (c *Cache[K, V]) SetWithCost(ctx context.Context, key K, value V, ttl time.Duration, cost int64) {
	if ttl == 0 {
		ttl = c.defaultTTL
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if prev, found := c.items[key]; found {
		c.approxBytes -= prev.cost
	}
	c.items[key] = item[V]{
		value:     value,
		expiresAt: c.clock().Add(ttl),
		cost:      cost,
	}
	c.approxBytes += cost
}

// Get retrieves an item from the cache. It returns the value and true if
// the item was found and has not expired.
func (c *Cache[K, V]) Get(ctx context.Context, key K) (V, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	cachedItem, found := c.items[key]
	if !found || c.clock().After(cachedItem.expiresAt) {
		// Expired items are left for the cleanup goroutine to avoid a
		// lock upgrade here.
		var zeroV V
		return zeroV, false
	}

	return cachedItem.value, true
}

// Delete removes an item from the cache.
func (c *Cache[K, V]) Delete(ctx context.Context, key K) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.delete(key)
}

// DeleteFunc removes every item whose key matches the predicate and
// returns the number removed.
func (c *Cache[K, V]) DeleteFunc(ctx context.Context, match func(K) bool) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for key := range c.items {
		if match(key) {
			c.delete(key)
			removed++
		}
	}
	return removed
}

func (c *Cache[K, V]) delete(key K) {
	if existing, found := c.items[key]; found {
		c.approxBytes -= existing.cost
		delete(c.items, key)
	}
}

// Count returns the number of items in the cache, including any expired
// items not yet collected.
func (c *Cache[K, V]) Count() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// ApproxBytes returns the summed cost of all items.
func (c *Cache[K, V]) ApproxBytes() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.approxBytes
}

// Clear removes all items from the cache.
func (c *Cache[K, V]) Clear(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[K]item[V])
	c.approxBytes = 0
}

// Stop terminates the cleanup goroutine.
func (c *Cache[K, V]) Stop() {
	c.stopOnce.Do(func() {
		close(c.stopCleanup)
	})
}

func (c *Cache[K, V]) cleanupLoop() {
	ticker := time.NewTicker(c.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.deleteExpired()
		case <-c.stopCleanup:
			return
		}
	}
}

func (c *Cache[K, V]) deleteExpired() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock()
	for key, cachedItem := range c.items {
		if now.After(cachedItem.expiresAt) {
			c.delete(key)
		}
	}
}
