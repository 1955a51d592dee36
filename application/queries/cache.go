package queries

import (
	"sync"
	"time"

	"github.com/justineapere-tech/KabSulit-main-sub000/domain/core/entities"
)

// LookupCache keeps joined lookup rows (profiles) for a TTL so screens that share authors do
// not refetch them. A nil *LookupCache caches nothing.
type LookupCache struct {
	mu    sync.RWMutex
	items map[string]cacheItem
	ttl   time.Duration
	now   func() time.Time
}

type cacheItem struct {
	value     entities.Record
	expiresAt time.Time
}

// NewLookupCache creates a cache whose entries live for ttl.
func NewLookupCache(ttl time.Duration) *LookupCache {
	return &LookupCache{
		items: make(map[string]cacheItem),
		ttl:   ttl,
		now:   time.Now,
	}
}

func cacheKey(table, key string) string {
	return table + "/" + key
}

// Get retrieves a row
func (c *LookupCache) Get(table, key string) (entities.Record, bool) {
	if c == nil {
		return entities.Record{}, false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	item, exists := c.items[cacheKey(table, key)]
	if !exists || c.now().After(item.expiresAt) {
		return entities.Record{}, false
	}
	return item.value.Clone(), true
}

// Set stores a row
func (c *LookupCache) Set(table, key string, rec entities.Record) {
	if c == nil || c.ttl <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items[cacheKey(table, key)] = cacheItem{value: rec.Clone(), expiresAt: c.now().Add(c.ttl)}
}

// Invalidate drops a row, e.g. after a profile change event
func (c *LookupCache) Invalidate(table, key string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.items, cacheKey(table, key))
}

// Purge removes expired rows and returns how many were dropped
func (c *LookupCache) Purge() int {
	if c == nil {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	n := 0
	for key, item := range c.items {
		if now.After(item.expiresAt) {
			delete(c.items, key)
			n++
		}
	}
	return n
}

// Len returns the number of cached rows, expired ones included
func (c *LookupCache) Len() int {
	if c == nil {
		return 0
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}
