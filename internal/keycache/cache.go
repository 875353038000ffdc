// Package keycache holds unlocked key handles for the life of a session.
//
// A Cache is created by the application root, filled by successful unlocks
// and emptied by LockKey or LockAllKeys. Handles are wiped when they leave
// the cache. Nothing in this package touches disk.
package keycache

import (
	"sort"
	"sync"
	"time"

	"sealroom/internal/domain"
)

type entry struct {
	handle   *domain.UnlockedKeyHandle
	lastUsed time.Time
}

// Cache is a concurrency-safe map from fingerprint to unlocked handle.
type Cache struct {
	mu   sync.RWMutex
	keys map[domain.Fingerprint]*entry

	idle time.Duration
	now  func() time.Time
}

// Option configures a Cache.
type Option func(*Cache)

// WithIdleTimeout locks a key that has not been read for d. Zero disables it.
func WithIdleTimeout(d time.Duration) Option {
	return func(c *Cache) { c.idle = d }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// New returns an empty cache.
func New(opts ...Option) *Cache {
	c := &Cache{
		keys: make(map[domain.Fingerprint]*entry),
		now:  time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// StoreUnlockedKey caches h under its fingerprint. A second store for the
// same fingerprint replaces the first; the replaced handle is left to its
// current holders.
func (c *Cache) StoreUnlockedKey(h *domain.UnlockedKeyHandle) {
	if h == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.keys[h.Fingerprint] = &entry{handle: h, lastUsed: c.now()}
}

// GetUnlockedKey returns the cached handle for fpr.
func (c *Cache) GetUnlockedKey(fpr domain.Fingerprint) (*domain.UnlockedKeyHandle, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.keys[fpr]
	if !ok {
		return nil, false
	}
	now := c.now()
	if c.idle > 0 && now.Sub(e.lastUsed) > c.idle {
		e.handle.Wipe()
		delete(c.keys, fpr)
		return nil, false
	}
	e.lastUsed = now
	return e.handle, true
}

// LockKey wipes and forgets the handle for fpr.
func (c *Cache) LockKey(fpr domain.Fingerprint) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.keys[fpr]; ok {
		e.handle.Wipe()
		delete(c.keys, fpr)
	}
}

// LockAllKeys wipes and forgets every handle.
func (c *Cache) LockAllKeys() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for fpr, e := range c.keys {
		e.handle.Wipe()
		delete(c.keys, fpr)
	}
}

// ListUnlockedFingerprints returns the cached fingerprints in sorted order.
func (c *Cache) ListUnlockedFingerprints() []domain.Fingerprint {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]domain.Fingerprint, 0, len(c.keys))
	for fpr := range c.keys {
		out = append(out, fpr)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Compile-time assertion that Cache implements domain.KeyCache.
var _ domain.KeyCache = (*Cache)(nil)
