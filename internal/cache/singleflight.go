package cache

import (
	"sync"
	"time"
)

// LoadingCache wraps TTLCache with single-flight value loading: only one
// goroutine fetches a missing key while the rest wait for its result.
//
// The tool-result cache deliberately does not use this wrapper. Two identical
// tool calls racing on a cold key may both execute; cacheable tools are cheap
// and idempotent, so the duplicate work is preferred over serializing reads.
type LoadingCache[K comparable, V any] struct {
	cache    *TTLCache[K, V]
	loading  map[K]chan struct{}
	loadingM sync.Mutex
}

// NewLoading creates a single-flight loading cache.
func NewLoading[K comparable, V any](config Config[V]) *LoadingCache[K, V] {
	return &LoadingCache[K, V]{
		cache:   New[K, V](config),
		loading: make(map[K]chan struct{}),
	}
}

// Get retrieves a value, calling loader to populate a missing key.
// Concurrent callers for the same key share one loader invocation.
func (c *LoadingCache[K, V]) Get(key K, loader func(K) (V, error)) (V, error) {
	return c.GetWithTTL(key, loader, c.cache.defaultTTL)
}

// GetWithTTL retrieves a value with a custom TTL for freshly loaded entries.
func (c *LoadingCache[K, V]) GetWithTTL(key K, loader func(K) (V, error), ttl time.Duration) (V, error) {
	if value, ok := c.cache.Get(key); ok {
		return value, nil
	}

	c.loadingM.Lock()

	if value, ok := c.cache.Get(key); ok {
		c.loadingM.Unlock()
		return value, nil
	}

	if ch, ok := c.loading[key]; ok {
		c.loadingM.Unlock()
		<-ch
		if value, ok := c.cache.Get(key); ok {
			return value, nil
		}
		// The other loader failed; try again ourselves.
		return c.GetWithTTL(key, loader, ttl)
	}

	ch := make(chan struct{})
	c.loading[key] = ch
	c.loadingM.Unlock()

	value, err := loader(key)

	c.loadingM.Lock()
	delete(c.loading, key)
	close(ch)
	c.loadingM.Unlock()

	if err != nil {
		var zero V
		return zero, err
	}

	c.cache.SetWithTTL(key, value, ttl)
	return value, nil
}

// Set stores a value directly.
func (c *LoadingCache[K, V]) Set(key K, value V) {
	c.cache.Set(key, value)
}

// Delete removes a key.
func (c *LoadingCache[K, V]) Delete(key K) {
	c.cache.Delete(key)
}

// Stats returns cache statistics.
func (c *LoadingCache[K, V]) Stats() Stats {
	return c.cache.Stats()
}

// Stop stops background cleanup.
func (c *LoadingCache[K, V]) Stop() {
	c.cache.Stop()
}
