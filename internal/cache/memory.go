package cache

import (
	"context"
	"sync"
	"time"
)

const purgeInterval = time.Minute

type memoryItem struct {
	entry     Entry
	expiresAt time.Time
}

// MemoryCache is the default single-process ResponseCache. TTL is checked on
// read; a background purge bounds memory for keys that are never read again.
type MemoryCache struct {
	mu     sync.RWMutex
	items  map[string]memoryItem
	now    func() time.Time
	stopCh chan struct{}
}

// NewMemoryCache creates a MemoryCache and starts its purge loop.
func NewMemoryCache() *MemoryCache {
	c := &MemoryCache{
		items:  make(map[string]memoryItem),
		now:    time.Now,
		stopCh: make(chan struct{}),
	}
	go c.purgeLoop()
	return c
}

func (c *MemoryCache) Lookup(_ context.Context, fp Fingerprints) (*Entry, string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for _, tk := range fp.tiers() {
		item, ok := c.items[tk[1]]
		if !ok {
			continue
		}
		if c.now().After(item.expiresAt) {
			continue // purge loop removes it
		}
		entry := item.entry
		return &entry, tk[0], true
	}
	return nil, "", false
}

func (c *MemoryCache) Store(_ context.Context, fp Fingerprints, entry Entry, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	if entry.StoredAt.IsZero() {
		entry.StoredAt = c.now()
	}
	expires := c.now().Add(ttl)

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, tk := range fp.tiers() {
		c.items[tk[1]] = memoryItem{entry: entry, expiresAt: expires}
	}
}

// Stop terminates the purge loop.
func (c *MemoryCache) Stop() {
	close(c.stopCh)
}

func (c *MemoryCache) purgeLoop() {
	ticker := time.NewTicker(purgeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.purge()
		case <-c.stopCh:
			return
		}
	}
}

func (c *MemoryCache) purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	for key, item := range c.items {
		if now.After(item.expiresAt) {
			delete(c.items, key)
		}
	}
}
