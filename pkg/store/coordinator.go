// Copyright 2025 Certnode Project
//
// Package store implements the storage coordinator: the single entry
// point higher layers use to read and write the fact store, fronted by a
// TTL+LRU query cache with selective invalidation.
package store

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/certnode/factledger/pkg/apperr"
	"github.com/certnode/factledger/pkg/dag"
	"github.com/certnode/factledger/pkg/mirror"
)

// Coordinator is the unified read/write entry point described in spec
// §4.3. It owns the in-memory DAG, the durable mirror, and the query
// cache, and keeps them consistent according to the invalidation and
// rollback rules in spec §4.3 and §9.
type Coordinator struct {
	mem      *dag.DAG
	durable  *mirror.Mirror
	cache    *queryCache
	metrics  *metrics
	testMode bool
}

// Config bundles the coordinator's dependencies and tunables.
type Config struct {
	// TestMode skips mirroring to durable storage entirely (used by unit
	// tests that only care about in-memory behaviour).
	TestMode bool
	Cache    CacheConfig
	// Registerer receives the coordinator's Prometheus collectors. May be
	// nil to skip Prometheus registration (e.g. in tests, or when the
	// caller prefers to register on its own registry via Registerer).
	Registerer prometheus.Registerer
}

// New creates a coordinator over an existing in-memory DAG (already
// populated by mirror.Replay on startup, or fresh) and durable mirror.
// durable may be nil only when cfg.TestMode is true.
func New(mem *dag.DAG, durable *mirror.Mirror, cfg Config) *Coordinator {
	if cfg.Cache == (CacheConfig{}) {
		cfg.Cache = DefaultCacheConfig()
	}
	c := &Coordinator{
		mem:      mem,
		durable:  durable,
		cache:    newQueryCache(cfg.Cache),
		testMode: cfg.TestMode,
	}
	c.metrics = newMetrics(cfg.Registerer, func() float64 { return float64(c.cache.size()) })
	return c
}

// AddNode inserts n into the in-memory DAG and (unless in test mode)
// mirrors it to durable storage. If the durable write fails, the
// in-memory insert is rolled back and a StorageError is returned, per the
// resolved open question in spec §9.
func (c *Coordinator) AddNode(n dag.Node) error {
	if err := c.mem.AddNode(n); err != nil {
		return err
	}
	if !c.testMode {
		if err := c.durable.WriteNode(n); err != nil {
			c.mem.RemoveNode(n.ID)
			return apperr.StorageError("mirror node "+n.ID, err)
		}
	}
	c.cache.invalidateMatching(func(p dag.Pattern) bool {
		return matchesComponent(p.Subject, n.Subject) &&
			matchesComponent(p.Predicate, n.Predicate) &&
			matchesComponent(p.Object, n.Object)
	})
	return nil
}

// AddEdge inserts e and mirrors it to durable storage, with the same
// rollback-on-durable-failure semantics as AddNode.
func (c *Coordinator) AddEdge(e dag.Edge) error {
	if err := c.mem.AddEdge(e); err != nil {
		return err
	}
	if !c.testMode {
		if err := c.durable.WriteEdge(e); err != nil {
			c.mem.RemoveLastEdgeFrom(e.From)
			return apperr.StorageError("mirror edge "+e.From+"->"+e.To, err)
		}
	}
	c.cache.invalidateMatching(func(p dag.Pattern) bool {
		return p.Subject == nil || *p.Subject == e.From || *p.Subject == e.To
	})
	return nil
}

// matchesComponent reports whether a pattern component (nil = wildcard)
// could match value — used to build the over-approximating invalidation
// predicate for a new node's triple.
func matchesComponent(patternComponent *string, value string) bool {
	return patternComponent == nil || *patternComponent == value
}

// GetNode returns the node for id, falling back to the durable mirror and
// re-warming memory on a miss.
func (c *Coordinator) GetNode(id string) (dag.Node, error) {
	n, err := c.mem.GetNode(id)
	if err == nil {
		return n, nil
	}
	if !isNotFound(err) || c.testMode {
		return dag.Node{}, err
	}
	loaded, ok, rerr := c.durable.ReadNode(id)
	if rerr != nil {
		return dag.Node{}, apperr.StorageError("load node "+id, rerr)
	}
	if !ok {
		return dag.Node{}, apperr.NotFound(id)
	}
	_ = c.mem.AddNode(loaded) // best-effort re-warm; AlreadyExists is harmless here
	return loaded, nil
}

func isNotFound(err error) bool {
	k, ok := apperr.Of(err)
	return ok && k == apperr.KindNotFound
}

// GetAllNodes enumerates every node currently in memory.
func (c *Coordinator) GetAllNodes() []dag.Node {
	return c.mem.GetAllNodes()
}

// OutgoingEdges returns the edges originating at id, in insertion order.
func (c *Coordinator) OutgoingEdges(id string) []dag.Edge {
	return c.mem.OutgoingEdges(id)
}

// Query runs a triple-pattern query through the cache, falling back to an
// in-memory scan (and, if that is empty, a durable fallback) on a miss.
// Cache errors never fail a query: any cache inconsistency simply falls
// through to an uncached scan, recorded as a miss.
func (c *Coordinator) Query(p dag.Pattern) []dag.Row {
	start := time.Now()
	defer func() {
		c.metrics.recordQuery(time.Since(start).Microseconds())
	}()

	if rows, ok := c.safeGet(p); ok {
		c.metrics.recordHit()
		return rows
	}
	c.metrics.recordMiss()

	rows := c.mem.Query(p)
	if len(rows) == 0 && !c.testMode {
		rows = c.durableScan(p)
	}
	c.cache.put(p, rows)
	return rows
}

// safeGet wraps the cache lookup so a panic inside the cache (an
// inconsistency, per spec §7) degrades to a miss rather than failing the
// query.
func (c *Coordinator) safeGet(p dag.Pattern) (rows []dag.Row, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			rows, ok = nil, false
		}
	}()
	return c.cache.get(p)
}

// durableScan is the last-resort fallback when an in-memory scan returns
// nothing: it re-derives matching rows from the durable mirror and
// re-warms memory with anything found.
func (c *Coordinator) durableScan(p dag.Pattern) []dag.Row {
	// The durable mirror has no pattern index of its own; re-warming
	// happens lazily as individual nodes are looked up elsewhere (e.g.
	// GetNode). A full durable scan would require re-reading every node
	// file, which defeats the purpose of the in-memory tier being
	// authoritative for reads — so this only covers the case where memory
	// is legitimately empty (e.g. immediately after a fresh process start
	// before replay has completed), by replaying once, lazily.
	if c.mem.Count() > 0 {
		return nil
	}
	replayed, err := c.durable.Replay()
	if err != nil {
		return nil
	}
	for _, n := range replayed.GetAllNodes() {
		_ = c.mem.AddNode(n)
		for _, e := range replayed.OutgoingEdges(n.ID) {
			_ = c.mem.AddEdge(e)
		}
	}
	return c.mem.Query(p)
}

// CacheMetrics returns a point-in-time snapshot of the process-wide
// metrics described in spec §4.3.
func (c *Coordinator) CacheMetrics() CacheMetrics {
	return c.metrics.snapshot(c.cache.size())
}
