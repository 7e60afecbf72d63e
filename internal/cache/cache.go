package cache

import (
	"strings"
	"sync"
	"time"

	"github.com/civicpulse/engine/internal/observability"
)

// Cache is the engine's only shared mutable local state. Entries carry their
// own TTL; expiry is lazy (checked on Get, no background sweep).
type Cache struct {
	mu         sync.RWMutex
	defaultTTL time.Duration
	m          map[string]entry

	metrics *observability.Prom
}

type entry struct {
	val any
	exp time.Time
}

func New(defaultTTL time.Duration) *Cache {
	if defaultTTL <= 0 {
		defaultTTL = 30 * time.Second
	}

	return &Cache{
		defaultTTL: defaultTTL,
		m:          make(map[string]entry),
	}
}

// SetMetrics attaches hit/miss counters. Safe to leave unset; tests and
// embedded uses run without any registry.
func (c *Cache) SetMetrics(p *observability.Prom) {
	c.metrics = p
}

func (c *Cache) Get(key string) (any, bool) {
	now := time.Now()
	c.mu.RLock()
	e, ok := c.m[key]
	c.mu.RUnlock()
	if !ok {
		c.observe(key, false)
		return nil, false
	}

	if now.After(e.exp) {
		c.mu.Lock()
		delete(c.m, key)
		c.mu.Unlock()
		c.observe(key, false)
		return nil, false
	}

	c.observe(key, true)
	return e.val, true
}

// observe buckets by namespace prefix ("issues/7" counts under "issues") so
// the label set stays tiny.
func (c *Cache) observe(key string, hit bool) {
	if c.metrics == nil {
		return
	}

	ns := key
	if i := strings.IndexByte(key, '/'); i > 0 {
		ns = key[:i]
	}

	if hit {
		c.metrics.CacheHits.WithLabelValues(ns).Inc()
	} else {
		c.metrics.CacheMisses.WithLabelValues(ns).Inc()
	}
}

// Set stores val under key for ttl. A non-positive ttl falls back to the
// cache default.
func (c *Cache) Set(key string, val any, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}
	c.mu.Lock()
	c.m[key] = entry{val: val, exp: time.Now().Add(ttl)}
	c.mu.Unlock()
}

func (c *Cache) Clear(key string) {
	c.mu.Lock()
	delete(c.m, key)
	c.mu.Unlock()
}

// ClearPrefix removes every entry under a namespace prefix, e.g. "issues/".
func (c *Cache) ClearPrefix(prefix string) {
	c.mu.Lock()
	for k := range c.m {
		if strings.HasPrefix(k, prefix) {
			delete(c.m, k)
		}
	}
	c.mu.Unlock()
}

// ClearAll wipes the whole cache. Called once, on logout, so no caller has
// to enumerate namespaces.
func (c *Cache) ClearAll() {
	c.mu.Lock()
	c.m = make(map[string]entry)
	c.mu.Unlock()
}

// Len is used by tests; it does not count expired-but-unswept entries out.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.m)
}
