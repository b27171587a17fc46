// Package kvcache is the advisory front-layer cache sitting in front of
// the Postgres registry: endpoint lookups, verkey/routing-key indexes,
// and global settings are all read-through cached here with a per-kind
// TTL, and Postgres remains the only ground truth when an entry is
// missing or stale.
package kvcache

import (
	"sync"
	"time"
)

// Cache is a namespaced, TTL-expiring in-process cache. One Cache
// instance is shared by the registry across all of its lookup kinds;
// namespaces keep their key spaces from colliding.
type Cache struct {
	mu  sync.RWMutex
	ttl map[string]time.Duration
	kv  map[string]entry
}

type entry struct {
	value   []byte
	expires time.Time
}

// New builds a Cache. ttl maps namespace ("endpoints", "endpoints_verkeys",
// "endpoints_routingkeys", "settings", ...) to that namespace's time-to-live.
func New(ttl map[string]time.Duration) *Cache {
	return &Cache{ttl: ttl, kv: make(map[string]entry)}
}

func namespacedKey(namespace, key string) string {
	return namespace + ":" + key
}

// Get returns (value, true) if key is present in namespace and not
// expired.
func (c *Cache) Get(namespace, key string) ([]byte, bool) {
	c.mu.RLock()
	e, ok := c.kv[namespacedKey(namespace, key)]
	c.mu.RUnlock()
	if !ok || time.Now().After(e.expires) {
		return nil, false
	}
	return e.value, true
}

// Set stores value under namespace:key using namespace's configured TTL.
// An unconfigured namespace falls back to a 1 minute TTL.
func (c *Cache) Set(namespace, key string, value []byte) {
	ttl, ok := c.ttl[namespace]
	if !ok {
		ttl = time.Minute
	}
	c.mu.Lock()
	c.kv[namespacedKey(namespace, key)] = entry{value: value, expires: time.Now().Add(ttl)}
	c.mu.Unlock()
}

// Invalidate drops a single key from namespace — used after a write to
// the registry so subsequent reads don't serve stale data until the TTL
// would otherwise have expired it.
func (c *Cache) Invalidate(namespace, key string) {
	c.mu.Lock()
	delete(c.kv, namespacedKey(namespace, key))
	c.mu.Unlock()
}

// Sweep removes every expired entry. Intended to be run on a ticker by
// the caller; Get already treats expired entries as absent, so Sweep is
// purely a memory-bound, not a correctness concern.
func (c *Cache) Sweep() int {
	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	removed := 0
	for k, e := range c.kv {
		if now.After(e.expires) {
			delete(c.kv, k)
			removed++
		}
	}
	return removed
}
