// Package cache provides a thread-safe TTL cache with bounded size and
// lazy expiry, used as the backing store for tool-result caching.
package cache

import (
	"sync"
	"sync/atomic"
	"time"
)

// TTLCache is a thread-safe cache with per-entry expiration.
// Expired entries are treated as absent on read and removed lazily;
// an optional background cleanup loop reclaims memory.
type TTLCache[K comparable, V any] struct {
	mu         sync.RWMutex
	entries    map[K]*entry[V]
	defaultTTL time.Duration
	maxSize    int
	sizeOf     func(V) int
	bytes      int64
	stopCh     chan struct{}
	stopped    atomic.Bool

	hits   atomic.Uint64
	misses atomic.Uint64
	evicts atomic.Uint64
}

type entry[V any] struct {
	value     V
	expiresAt time.Time
	createdAt time.Time
	size      int
}

// Config configures a TTL cache.
type Config[V any] struct {
	// DefaultTTL is the default time-to-live for entries.
	DefaultTTL time.Duration

	// MaxSize limits the number of entries (0 = unlimited). When full,
	// inserting a new key evicts the oldest inserted entry.
	MaxSize int

	// CleanupInterval sets how often to scan for expired entries
	// (0 = lazy expiry only).
	CleanupInterval time.Duration

	// SizeOf reports the byte size of a value for Stats accounting.
	// Optional; when nil, byte size is reported as zero.
	SizeOf func(V) int
}

// New creates a TTL cache with the given configuration.
func New[K comparable, V any](config Config[V]) *TTLCache[K, V] {
	if config.DefaultTTL <= 0 {
		config.DefaultTTL = 5 * time.Minute
	}

	c := &TTLCache[K, V]{
		entries:    make(map[K]*entry[V]),
		defaultTTL: config.DefaultTTL,
		maxSize:    config.MaxSize,
		sizeOf:     config.SizeOf,
		stopCh:     make(chan struct{}),
	}

	if config.CleanupInterval > 0 {
		go c.cleanupLoop(config.CleanupInterval)
	}

	return c
}

// Set stores a value with the default TTL.
func (c *TTLCache[K, V]) Set(key K, value V) {
	c.SetWithTTL(key, value, c.defaultTTL)
}

// SetWithTTL stores a value with a custom TTL.
func (c *TTLCache[K, V]) SetWithTTL(key K, value V, ttl time.Duration) {
	now := time.Now()
	e := &entry[V]{
		value:     value,
		expiresAt: now.Add(ttl),
		createdAt: now,
	}
	if c.sizeOf != nil {
		e.size = c.sizeOf(value)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if old, ok := c.entries[key]; ok {
		c.bytes -= int64(old.size)
	} else if c.maxSize > 0 && len(c.entries) >= c.maxSize {
		c.evictOldest()
	}

	c.entries[key] = e
	c.bytes += int64(e.size)
}

// Get retrieves a value from the cache.
// Returns the value and true if found and not expired. An expired entry is
// deleted and reported as a miss.
func (c *TTLCache[K, V]) Get(key K) (V, bool) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()

	if !ok {
		c.misses.Add(1)
		var zero V
		return zero, false
	}

	if time.Now().After(e.expiresAt) {
		c.misses.Add(1)
		c.mu.Lock()
		if cur, ok := c.entries[key]; ok && cur == e {
			delete(c.entries, key)
			c.bytes -= int64(e.size)
		}
		c.mu.Unlock()
		var zero V
		return zero, false
	}

	c.hits.Add(1)
	return e.value, true
}

// Contains checks if a key exists and is not expired.
func (c *TTLCache[K, V]) Contains(key K) bool {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	return ok && time.Now().Before(e.expiresAt)
}

// Delete removes a key from the cache.
func (c *TTLCache[K, V]) Delete(key K) {
	c.mu.Lock()
	if e, ok := c.entries[key]; ok {
		delete(c.entries, key)
		c.bytes -= int64(e.size)
	}
	c.mu.Unlock()
}

// Clear removes all entries from the cache.
func (c *TTLCache[K, V]) Clear() {
	c.mu.Lock()
	c.entries = make(map[K]*entry[V])
	c.bytes = 0
	c.mu.Unlock()
}

// Len prunes expired entries and returns the number of live entries.
func (c *TTLCache[K, V]) Len() int {
	c.prune()
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Stats returns cache statistics. Expired entries are pruned first so the
// reported size and byte counts reflect live entries only.
func (c *TTLCache[K, V]) Stats() Stats {
	c.prune()

	c.mu.RLock()
	size := len(c.entries)
	bytes := c.bytes
	c.mu.RUnlock()

	hits := c.hits.Load()
	misses := c.misses.Load()

	var hitRate float64
	if total := hits + misses; total > 0 {
		hitRate = float64(hits) / float64(total)
	}

	return Stats{
		Size:    size,
		Bytes:   bytes,
		MaxSize: c.maxSize,
		Hits:    hits,
		Misses:  misses,
		Evicts:  c.evicts.Load(),
		HitRate: hitRate,
	}
}

// Stats contains cache statistics.
type Stats struct {
	Size    int
	Bytes   int64
	MaxSize int
	Hits    uint64
	Misses  uint64
	Evicts  uint64
	HitRate float64
}

// Stop stops the background cleanup goroutine.
func (c *TTLCache[K, V]) Stop() {
	if c.stopped.CompareAndSwap(false, true) {
		close(c.stopCh)
	}
}

// prune removes expired entries.
func (c *TTLCache[K, V]) prune() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	removed := 0
	for key, e := range c.entries {
		if now.After(e.expiresAt) {
			delete(c.entries, key)
			c.bytes -= int64(e.size)
			removed++
		}
	}
	return removed
}

// evictOldest removes the oldest inserted entry. Must be called with mu held.
func (c *TTLCache[K, V]) evictOldest() {
	var oldestKey K
	var oldestTime time.Time
	first := true

	for key, e := range c.entries {
		if first || e.createdAt.Before(oldestTime) {
			oldestKey = key
			oldestTime = e.createdAt
			first = false
		}
	}

	if !first {
		c.bytes -= int64(c.entries[oldestKey].size)
		delete(c.entries, oldestKey)
		c.evicts.Add(1)
	}
}

func (c *TTLCache[K, V]) cleanupLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.prune()
		case <-c.stopCh:
			return
		}
	}
}
