package ratelimit

import (
	"context"
	"sync"
	"time"
)

// MemoryCounter is an in-process Counter for tests and single-instance
// deployments. State is local to the process, so it cannot enforce a
// global limit across replicas.
type MemoryCounter struct {
	mu      sync.Mutex
	entries map[string]*memoryEntry
	now     func() time.Time
}

type memoryEntry struct {
	count     int64
	expiresAt time.Time
}

// NewMemoryCounter creates an empty in-memory counter.
func NewMemoryCounter() *MemoryCounter {
	return &MemoryCounter{
		entries: make(map[string]*memoryEntry),
		now:     time.Now,
	}
}

// IncrWithTTL increments key under a single lock, which serializes
// concurrent callers per process.
func (c *MemoryCounter) IncrWithTTL(_ context.Context, key string, ttl time.Duration) (int64, error) {
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok || now.After(entry.expiresAt) {
		entry = &memoryEntry{expiresAt: now.Add(ttl)}
		c.entries[key] = entry
	}
	entry.count++

	// Opportunistic sweep keeps the map from accumulating dead windows.
	if len(c.entries) > 1024 {
		for k, e := range c.entries {
			if now.After(e.expiresAt) {
				delete(c.entries, k)
			}
		}
	}

	return entry.count, nil
}
