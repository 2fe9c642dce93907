// Copyright 2025 Certnode Project
//
// The query cache: a TTL+LRU cache keyed by the canonical serialisation of
// a triple pattern, with selective invalidation driven by the coordinator.
package store

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/certnode/factledger/pkg/dag"
)

// CacheConfig controls the TTL+LRU discipline described in spec §4.3.
type CacheConfig struct {
	TTL             time.Duration
	MaxSize         int
	PruneThreshold  int // prune down to MaxSize/2 once size exceeds this
}

// DefaultCacheConfig matches the spec's defaults: 300s TTL, 10,000 max
// entries, pruning once 80% (8,000) full.
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		TTL:            300 * time.Second,
		MaxSize:        10_000,
		PruneThreshold: 8_000,
	}
}

type cacheEntry struct {
	pattern    dag.Pattern
	rows       []dag.Row
	insertedAt time.Time
	lastAccess time.Time
}

// queryCache implements the cache described in spec §3 ("Query-cache
// entry") and §4.3 ("Cache discipline").
type queryCache struct {
	mu      sync.Mutex
	cfg     CacheConfig
	entries map[string]*cacheEntry
}

func newQueryCache(cfg CacheConfig) *queryCache {
	return &queryCache{cfg: cfg, entries: make(map[string]*cacheEntry)}
}

// canonicalKey serialises a pattern deterministically; "*" stands for a
// wildcard component.
func canonicalKey(p dag.Pattern) string {
	comp := func(s *string) string {
		if s == nil {
			return "*"
		}
		return *s
	}
	var b strings.Builder
	b.WriteString(comp(p.Subject))
	b.WriteByte('\x1f')
	b.WriteString(comp(p.Predicate))
	b.WriteByte('\x1f')
	b.WriteString(comp(p.Object))
	return b.String()
}

// get returns the cached rows for pattern if present and not expired.
// Expired entries are dropped eagerly.
func (c *queryCache) get(p dag.Pattern) ([]dag.Row, bool) {
	key := canonicalKey(p)

	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if time.Since(e.insertedAt) > c.cfg.TTL {
		delete(c.entries, key)
		return nil, false
	}
	e.lastAccess = time.Now()
	return e.rows, true
}

// put inserts or refreshes the cached result for pattern, then prunes the
// cache if it has grown past the configured threshold.
func (c *queryCache) put(p dag.Pattern, rows []dag.Row) {
	key := canonicalKey(p)
	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[key] = &cacheEntry{pattern: p, rows: rows, insertedAt: now, lastAccess: now}
	if len(c.entries) > c.cfg.PruneThreshold {
		c.pruneLocked()
	}
}

// pruneLocked evicts least-recently-accessed entries until size is back
// down to MaxSize/2. Callers must hold c.mu.
func (c *queryCache) pruneLocked() {
	if len(c.entries) <= c.cfg.PruneThreshold {
		return
	}
	target := c.cfg.MaxSize / 2
	if target >= len(c.entries) {
		return
	}

	type kv struct {
		key        string
		lastAccess time.Time
	}
	all := make([]kv, 0, len(c.entries))
	for k, e := range c.entries {
		all = append(all, kv{k, e.lastAccess})
	}
	sort.Slice(all, func(i, j int) bool { return all[i].lastAccess.Before(all[j].lastAccess) })

	toEvict := len(c.entries) - target
	for i := 0; i < toEvict; i++ {
		delete(c.entries, all[i].key)
	}
}

// invalidateMatching drops every cached entry whose pattern "could have
// matched" the mutation described by matches, an over-approximating
// predicate supplied by the coordinator. Correctness over precision, per
// spec §4.3.
func (c *queryCache) invalidateMatching(matches func(p dag.Pattern) bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, e := range c.entries {
		if matches(e.pattern) {
			delete(c.entries, k)
		}
	}
}

// size reports the current entry count, for metrics.
func (c *queryCache) size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
