package dashboard

import (
	"strings"
	"sync"
	"time"

	"carbon-scribe/ghg-reporting/internal/inventory"
	"carbon-scribe/ghg-reporting/internal/metrics"
)

// InventoryCache provides in-memory caching for built inventories
type InventoryCache struct {
	data    map[string]*cacheEntry
	ttl     time.Duration
	mu      sync.RWMutex
	cleanup *time.Ticker
	done    chan struct{}
	once    sync.Once

	// generations counts DeleteByPrefix calls per prefix
	generations map[string]uint64
}

// cacheEntry represents a cache entry with expiration
type cacheEntry struct {
	value      *inventory.Inventory
	expiration time.Time
}

// NewInventoryCache creates a new inventory cache
func NewInventoryCache(ttl time.Duration) *InventoryCache {
	cache := &InventoryCache{
		data:        make(map[string]*cacheEntry),
		ttl:         ttl,
		cleanup:     time.NewTicker(time.Minute),
		done:        make(chan struct{}),
		generations: make(map[string]uint64),
	}

	go cache.cleanupLoop()

	return cache
}

// Get retrieves an inventory from the cache and records the lookup
func (c *InventoryCache) Get(key string) (*inventory.Inventory, bool) {
	c.mu.RLock()
	entry, ok := c.data[key]
	c.mu.RUnlock()

	if !ok || time.Now().After(entry.expiration) {
		metrics.InventoryCacheLookups.WithLabelValues("miss").Inc()
		return nil, false
	}

	metrics.InventoryCacheLookups.WithLabelValues("hit").Inc()
	return entry.value, true
}

// Set stores an inventory in the cache
func (c *InventoryCache) Set(key string, value *inventory.Inventory) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.data[key] = &cacheEntry{
		value:      value,
		expiration: time.Now().Add(c.ttl),
	}
}

// Delete removes an inventory from the cache
func (c *InventoryCache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.data, key)
}

// DeleteByPrefix removes all entries with keys starting with the given prefix
// and returns how many were removed. Values still being computed under the
// prefix by GetOrSet are not stored.
func (c *InventoryCache) DeleteByPrefix(prefix string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.generations[prefix]++
	removed := 0
	for key := range c.data {
		if strings.HasPrefix(key, prefix) {
			delete(c.data, key)
			removed++
		}
	}
	return removed
}

// Size returns the number of entries in the cache
func (c *InventoryCache) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return len(c.data)
}

// GetOrSet retrieves an inventory from the cache, or computes and stores it
// if not present. group is the prefix the key is invalidated by; a value
// whose group was invalidated during compute is returned but not stored.
func (c *InventoryCache) GetOrSet(group, key string, compute func() (*inventory.Inventory, error)) (*inventory.Inventory, error) {
	if value, ok := c.Get(key); ok {
		return value, nil
	}

	c.mu.RLock()
	generation := c.generations[group]
	c.mu.RUnlock()

	value, err := compute()
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.generations[group] == generation {
		c.data[key] = &cacheEntry{
			value:      value,
			expiration: time.Now().Add(c.ttl),
		}
	}
	return value, nil
}

// cleanupLoop periodically removes expired entries
func (c *InventoryCache) cleanupLoop() {
	for {
		select {
		case <-c.cleanup.C:
			c.removeExpired()
		case <-c.done:
			return
		}
	}
}

func (c *InventoryCache) removeExpired() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	for key, entry := range c.data {
		if now.After(entry.expiration) {
			delete(c.data, key)
		}
	}
}

// Stop stops the cleanup goroutine
func (c *InventoryCache) Stop() {
	c.once.Do(func() {
		c.cleanup.Stop()
		close(c.done)
	})
}
