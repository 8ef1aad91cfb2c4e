// Package cache implements the process-wide in-memory TTL cache that
// fronts the spreadsheet registry. Eviction is lazy: a Get past the
// entry's expiry behaves as a miss and removes the entry. Cleanup sweeps
// never-read keys so memory stays bounded.
package cache

import (
	"sync"
	"time"
)

type entry struct {
	value     any
	createdAt time.Time
	expiresAt time.Time
}

// Cache is a mutex-guarded key/value store with per-entry expiry. Safe
// for concurrent use. The zero value is not usable; call New.
type Cache struct {
	mu      sync.Mutex
	entries map[string]entry
	gens    map[string]uint64
	epoch   uint64
	now     func() time.Time
}

// New returns an empty cache using the wall clock.
func New() *Cache {
	return NewWithClock(time.Now)
}

// NewWithClock returns an empty cache reading time from now. Tests use
// this to advance time without sleeping.
func NewWithClock(now func() time.Time) *Cache {
	return &Cache{
		entries: make(map[string]entry),
		gens:    make(map[string]uint64),
		now:     now,
	}
}

// Set stores value under key for ttl, unconditionally replacing any
// existing entry.
func (c *Cache) Set(key string, value any, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	c.entries[key] = entry{
		value:     value,
		createdAt: now,
		expiresAt: now.Add(ttl),
	}
}

// Get returns the value stored under key, or false if the key is absent
// or expired. An expired entry is removed before returning, so stale
// data can never be resurrected.
func (c *Cache) Get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if c.now().After(e.expiresAt) {
		delete(c.entries, key)
		return nil, false
	}

	return e.value, true
}

// Delete removes key and advances its generation so a rebuild that
// started before the delete cannot store its result. Deleting an absent
// key is a no-op for the entry but still advances the generation.
func (c *Cache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.entries, key)
	c.gens[key]++
}

// Clear removes every entry and advances every key's generation.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[string]entry)
	c.epoch++
}

// Cleanup evicts every expired entry and returns how many were removed.
// Not required for correctness (Get evicts lazily), but bounds growth
// from keys that are written and never read again.
func (c *Cache) Cleanup() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	evicted := 0
	for key, e := range c.entries {
		if now.After(e.expiresAt) {
			delete(c.entries, key)
			evicted++
		}
	}

	return evicted
}

// Generation reports the invalidation generation of key. Delete and
// Clear advance it. A caller rebuilding an entry from a slow source
// captures the generation first and hands it to SetIfGeneration, so an
// invalidation that lands mid-rebuild wins over the rebuilt value.
func (c *Cache) Generation(key string) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.epoch + c.gens[key]
}

// SetIfGeneration stores value under key only if no invalidation of key
// happened since gen was captured, and reports whether it stored.
func (c *Cache) SetIfGeneration(key string, value any, ttl time.Duration, gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.epoch+c.gens[key] != gen {
		return false
	}

	now := c.now()
	c.entries[key] = entry{
		value:     value,
		createdAt: now,
		expiresAt: now.Add(ttl),
	}

	return true
}

// Len reports the number of entries currently held, expired or not.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.entries)
}
