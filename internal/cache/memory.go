package cache

import "sync"

// MemoryCache is the in-memory fallback used when the durable store is
// unavailable. Counts are lost on restart; the engine logs the downgrade
// once and carries on.
type MemoryCache struct {
	mu     sync.RWMutex
	totals map[string]int64
}

// NewMemory creates an empty in-memory cache.
func NewMemory() *MemoryCache {
	return &MemoryCache{totals: make(map[string]int64)}
}

// Get returns the stored total for a user, or ErrNotFound.
func (c *MemoryCache) Get(userID string) (int64, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	seconds, ok := c.totals[userID]
	if !ok {
		return 0, ErrNotFound
	}
	return seconds, nil
}

// Set overwrites the stored total for a user.
func (c *MemoryCache) Set(userID string, seconds int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.totals[userID] = seconds
	return nil
}

// Close is a no-op.
func (c *MemoryCache) Close() error { return nil }
