package embedding

import (
	"context"
	"sync"
	"time"
)

// Cache stores embedding vectors keyed by content fingerprint. Writes are
// idempotent by key: re-deriving the same fingerprint is safe to overwrite,
// and under concurrent misses the last write wins.
type Cache interface {
	Get(ctx context.Context, fingerprint string) ([]float32, bool, error)
	Set(ctx context.Context, fingerprint string, vector []float32, ttl time.Duration) error
	Type() string
}

type memoryEntry struct {
	vector    []float32
	expiresAt time.Time
}

// MemoryCache is the in-process fallback used when redis is not configured,
// and in tests. Expired entries are dropped lazily on read and swept
// periodically on write.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	writes  int
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[string]memoryEntry)}
}

func (c *MemoryCache) Type() string { return "memory" }

func (c *MemoryCache) Get(_ context.Context, fingerprint string) ([]float32, bool, error) {
	c.mu.RLock()
	entry, ok := c.entries[fingerprint]
	c.mu.RUnlock()

	if !ok {
		return nil, false, nil
	}
	if !entry.expiresAt.IsZero() && entry.expiresAt.Before(time.Now()) {
		c.mu.Lock()
		delete(c.entries, fingerprint)
		c.mu.Unlock()
		return nil, false, nil
	}

	vector := make([]float32, len(entry.vector))
	copy(vector, entry.vector)
	return vector, true, nil
}

func (c *MemoryCache) Set(_ context.Context, fingerprint string, vector []float32, ttl time.Duration) error {
	stored := make([]float32, len(vector))
	copy(stored, vector)

	entry := memoryEntry{vector: stored}
	if ttl > 0 {
		entry.expiresAt = time.Now().Add(ttl)
	}

	c.mu.Lock()
	c.entries[fingerprint] = entry
	c.writes++
	if c.writes%256 == 0 {
		c.sweep(time.Now())
	}
	c.mu.Unlock()

	return nil
}

// sweep must be called with c.mu held.
func (c *MemoryCache) sweep(now time.Time) {
	for fingerprint, entry := range c.entries {
		if !entry.expiresAt.IsZero() && entry.expiresAt.Before(now) {
			delete(c.entries, fingerprint)
		}
	}
}

func (c *MemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
