// Package cache is the TTL decision cache keyed by call fingerprint.
package cache

import (
	"sort"
	"sync"
	"time"

	"github.com/clawsec/core/pkg/contracts"
)

// Soft capacity bound. When an insert would exceed it, expired entries go
// first, then the oldest tenth by creation time.
const maxEntries = 10000

// DefaultTTL bounds how long a decision stays valid without re-analysis.
const DefaultTTL = 5 * time.Minute

type entry struct {
	result    *contracts.AnalysisResult
	createdAt time.Time
	expiresAt time.Time
}

// Cache maps call fingerprints to analysis results. Safe for concurrent
// use.
type Cache struct {
	mu      sync.Mutex
	entries map[string]entry
	ttl     time.Duration
	clock   func() time.Time
}

// New creates a cache. A non-positive ttl uses DefaultTTL.
func New(ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{
		entries: make(map[string]entry),
		ttl:     ttl,
		clock:   time.Now,
	}
}

// WithClock overrides the clock for deterministic testing.
func (c *Cache) WithClock(clock func() time.Time) *Cache {
	c.clock = clock
	return c
}

// Get returns a deep copy of the cached result marked Cached, or nil on
// miss. Expired entries are removed on probe.
func (c *Cache) Get(fingerprint string) *contracts.AnalysisResult {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[fingerprint]
	if !ok {
		return nil
	}
	if c.clock().After(e.expiresAt) {
		delete(c.entries, fingerprint)
		return nil
	}

	out := e.result.Clone()
	out.Cached = true
	return out
}

// Put stores a copy of the result. The caller keeps ownership of its
// value; later mutations do not leak into the cache.
func (c *Cache) Put(fingerprint string, result *contracts.AnalysisResult) {
	if result == nil {
		return
	}
	now := c.clock()

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[fingerprint]; !exists && len(c.entries) >= maxEntries {
		c.evictLocked(now)
	}
	c.entries[fingerprint] = entry{
		result:    result.Clone(),
		createdAt: now,
		expiresAt: now.Add(c.ttl),
	}
}

// evictLocked drops expired entries, then the oldest 10% by creation time
// if the map is still full. Caller holds mu.
func (c *Cache) evictLocked(now time.Time) {
	for k, e := range c.entries {
		if now.After(e.expiresAt) {
			delete(c.entries, k)
		}
	}
	if len(c.entries) < maxEntries {
		return
	}

	type aged struct {
		key       string
		createdAt time.Time
	}
	all := make([]aged, 0, len(c.entries))
	for k, e := range c.entries {
		all = append(all, aged{k, e.createdAt})
	}
	sort.Slice(all, func(i, j int) bool { return all[i].createdAt.Before(all[j].createdAt) })

	drop := len(all) / 10
	if drop == 0 {
		drop = 1
	}
	for _, a := range all[:drop] {
		delete(c.entries, a.key)
	}
}

// Invalidate removes one entry.
func (c *Cache) Invalidate(fingerprint string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, fingerprint)
}

// Len reports the current entry count.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
