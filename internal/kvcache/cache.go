// Package kvcache is the local key/value cache that mirrors remote state for
// fast reads. Values are opaque strings.
package kvcache

import (
	"context"
	"sync"
)

// Cache is a synchronous string key/value store.
type Cache interface {
	Get(key string) (string, bool)
	Set(key, value string) error
	Delete(key string) error
}

// Change describes a value written to the cache by any writer.
type Change struct {
	Key     string
	Value   string
	Deleted bool
}

// Watchable caches report writes, including writes from other processes
// sharing the same backing storage.
type Watchable interface {
	Cache
	Watch(ctx context.Context, fn func(Change)) error
}

// MemoryCache is a process-local Cache. Watchers observe every write.
type MemoryCache struct {
	mu       sync.RWMutex
	values   map[string]string
	watchers map[int]func(Change)
	nextID   int
}

// NewMemoryCache returns an empty MemoryCache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{
		values:   make(map[string]string),
		watchers: make(map[int]func(Change)),
	}
}

func (c *MemoryCache) Get(key string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.values[key]
	return v, ok
}

func (c *MemoryCache) Set(key, value string) error {
	c.mu.Lock()
	c.values[key] = value
	watchers := c.snapshotWatchers()
	c.mu.Unlock()

	for _, fn := range watchers {
		fn(Change{Key: key, Value: value})
	}
	return nil
}

func (c *MemoryCache) Delete(key string) error {
	c.mu.Lock()
	delete(c.values, key)
	watchers := c.snapshotWatchers()
	c.mu.Unlock()

	for _, fn := range watchers {
		fn(Change{Key: key, Deleted: true})
	}
	return nil
}

// Watch calls fn for every write until ctx is done. It returns immediately.
func (c *MemoryCache) Watch(ctx context.Context, fn func(Change)) error {
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.watchers[id] = fn
	c.mu.Unlock()

	go func() {
		<-ctx.Done()
		c.mu.Lock()
		delete(c.watchers, id)
		c.mu.Unlock()
	}()
	return nil
}

func (c *MemoryCache) snapshotWatchers() []func(Change) {
	out := make([]func(Change), 0, len(c.watchers))
	for _, fn := range c.watchers {
		out = append(out, fn)
	}
	return out
}
