package auth

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/tetherchat/tether/internal/metrics"
	"github.com/tetherchat/tether/internal/models"
)

// KeyStore is the external accessor the cache falls back to on miss.
// Lookup returns (nil, nil) when the key does not exist or is inactive.
type KeyStore interface {
	LookupKey(ctx context.Context, rawKey string) (*models.ResolvedKey, error)
}

const (
	// DefaultCacheSize bounds the number of cached key resolutions per
	// process instance.
	DefaultCacheSize = 1000
	// DefaultCacheTTL bounds staleness: a revoked key keeps
	// authenticating for at most this long on instances that cached it.
	DefaultCacheTTL = 15 * time.Minute
)

// KeyCache is a bounded, time-expiring cache in front of a KeyStore.
// Eviction is least-recently-used first, combined with a hard per-entry
// TTL, whichever triggers first. The cache is process-local and makes
// no cross-instance coherency promise.
type KeyCache struct {
	store KeyStore
	ttl   time.Duration
	max   int
	now   func() time.Time

	mu      sync.Mutex
	entries map[string]*list.Element
	order   *list.List // front = most recently used
}

type cacheEntry struct {
	rawKey   string
	resolved *models.ResolvedKey
	storedAt time.Time
}

// NewKeyCache creates a cache over store with the given bounds. A
// non-positive maxEntries or ttl falls back to the defaults.
func NewKeyCache(store KeyStore, maxEntries int, ttl time.Duration) *KeyCache {
	if maxEntries <= 0 {
		maxEntries = DefaultCacheSize
	}
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &KeyCache{
		store:   store,
		ttl:     ttl,
		max:     maxEntries,
		now:     time.Now,
		entries: make(map[string]*list.Element),
		order:   list.New(),
	}
}

// SetClock replaces the cache's time source. Tests use this to drive
// TTL expiry deterministically.
func (c *KeyCache) SetClock(now func() time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
}

// Resolve returns the resolution for rawKey, consulting the store on
// miss and writing the result back before returning. Not-found results
// are never cached, so a freshly issued key is visible on the very next
// call.
//
// Concurrent misses for the same key each hit the store independently;
// lookups are idempotent single-row reads, so no single-flight
// collapsing is done here.
func (c *KeyCache) Resolve(ctx context.Context, rawKey string) (*models.ResolvedKey, error) {
	if resolved := c.get(rawKey); resolved != nil {
		metrics.KeyCacheLookups.WithLabelValues("hit").Inc()
		return resolved, nil
	}
	metrics.KeyCacheLookups.WithLabelValues("miss").Inc()

	resolved, err := c.store.LookupKey(ctx, rawKey)
	if err != nil {
		return nil, err
	}
	if resolved == nil {
		return nil, nil
	}

	c.put(rawKey, resolved)
	return resolved, nil
}

// Evict removes rawKey from the cache if present. Key revocation calls
// this so the local instance stops honoring the key immediately rather
// than after a TTL.
func (c *KeyCache) Evict(rawKey string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if elem, ok := c.entries[rawKey]; ok {
		c.remove(elem)
	}
}

// Len returns the number of live entries, counting expired-but-not-yet
// -collected ones.
func (c *KeyCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

func (c *KeyCache) get(rawKey string) *models.ResolvedKey {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.entries[rawKey]
	if !ok {
		return nil
	}
	entry := elem.Value.(*cacheEntry)
	if c.now().Sub(entry.storedAt) > c.ttl {
		c.remove(elem)
		return nil
	}
	c.order.MoveToFront(elem)
	return entry.resolved
}

func (c *KeyCache) put(rawKey string, resolved *models.ResolvedKey) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.entries[rawKey]; ok {
		entry := elem.Value.(*cacheEntry)
		entry.resolved = resolved
		entry.storedAt = c.now()
		c.order.MoveToFront(elem)
		return
	}

	elem := c.order.PushFront(&cacheEntry{
		rawKey:   rawKey,
		resolved: resolved,
		storedAt: c.now(),
	})
	c.entries[rawKey] = elem

	for c.order.Len() > c.max {
		c.remove(c.order.Back())
	}
}

// remove must be called with c.mu held.
func (c *KeyCache) remove(elem *list.Element) {
	entry := elem.Value.(*cacheEntry)
	delete(c.entries, entry.rawKey)
	c.order.Remove(elem)
}
