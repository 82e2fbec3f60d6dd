package tools

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sync"
	"time"

	"github.com/capitalize-ai/compliance-intelligence/internal/model"
)

// Cache stores raw tool responses keyed by (tool, argument hash).
// Implementations must be safe for concurrent use; a Set over an existing
// key is a plain upsert.
type Cache interface {
	Get(key string) ([]byte, bool)
	Set(key string, value []byte, ttl time.Duration)
}

// CacheKey builds the cache key for a tool invocation. Arguments are hashed
// from their JSON encoding, which orders map keys.
func CacheKey(facet model.Facet, args Args) string {
	data, _ := json.Marshal(args)
	sum := sha256.Sum256(data)
	return string(facet) + ":" + hex.EncodeToString(sum[:])
}

type memoryItem struct {
	value     []byte
	expiresAt time.Time
}

// MemoryCache is an in-process TTL cache.
type MemoryCache struct {
	items map[string]memoryItem
	mu    sync.RWMutex
	now   func() time.Time
}

// NewMemoryCache creates an empty in-process cache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{
		items: make(map[string]memoryItem),
		now:   time.Now,
	}
}

// Get returns a live entry.
func (c *MemoryCache) Get(key string) ([]byte, bool) {
	c.mu.RLock()
	item, ok := c.items[key]
	c.mu.RUnlock()

	if !ok || !c.now().Before(item.expiresAt) {
		return nil, false
	}
	return item.value, true
}

// Set upserts an entry.
func (c *MemoryCache) Set(key string, value []byte, ttl time.Duration) {
	c.mu.Lock()
	c.items[key] = memoryItem{value: value, expiresAt: c.now().Add(ttl)}
	c.mu.Unlock()
}

// Purge drops expired entries and returns how many were removed.
func (c *MemoryCache) Purge() int {
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for k, item := range c.items {
		if !now.Before(item.expiresAt) {
			delete(c.items, k)
			removed++
		}
	}
	return removed
}
