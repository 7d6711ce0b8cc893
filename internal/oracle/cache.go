package oracle

import (
	"context"
	"sync"
)

// Cache stores travel times by query key. Entries do not expire; Clear
// drops everything, e.g. when a road network is reloaded. Implementations
// must be safe for concurrent use.
type Cache interface {
	Get(ctx context.Context, key string) (TravelTime, bool, error)
	Set(ctx context.Context, key string, tt TravelTime) error
	Clear(ctx context.Context) error
}

// MemoryCache is a process-local Cache.
type MemoryCache struct {
	mu sync.RWMutex
	m  map[string]TravelTime
}

// NewMemoryCache constructs an empty MemoryCache.
func NewMemoryCache() *MemoryCache { return &MemoryCache{m: map[string]TravelTime{}} }

func (c *MemoryCache) Get(_ context.Context, key string) (TravelTime, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	tt, ok := c.m[key]
	return tt, ok, nil
}

func (c *MemoryCache) Set(_ context.Context, key string, tt TravelTime) error {
	c.mu.Lock()
	c.m[key] = tt
	c.mu.Unlock()
	return nil
}

func (c *MemoryCache) Clear(context.Context) error {
	c.mu.Lock()
	c.m = map[string]TravelTime{}
	c.mu.Unlock()
	return nil
}

// Len is the number of cached entries.
func (c *MemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.m)
}
