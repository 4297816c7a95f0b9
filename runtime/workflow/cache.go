package workflow

import (
	"sync"
)

type (
	// Cache is the per-workflow scoped cache available to nodes that opt in.
	// Entries are keyed by (node name, input fingerprint). The cache is
	// shared by all executions of one workflow and internally synchronized;
	// it is never visible across workflows.
	Cache struct {
		mu      sync.RWMutex
		entries map[cacheKey]any
	}

	cacheKey struct {
		node        string
		fingerprint string
	}
)

// NewCache constructs an empty workflow cache.
func NewCache() *Cache {
	return &Cache{entries: make(map[cacheKey]any)}
}

// Get returns the cached value for the node and input fingerprint.
func (c *Cache) Get(node, fingerprint string) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.entries[cacheKey{node: node, fingerprint: fingerprint}]
	return v, ok
}

// Put stores a value for the node and input fingerprint.
func (c *Cache) Put(node, fingerprint string, v any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[cacheKey{node: node, fingerprint: fingerprint}] = v
}
