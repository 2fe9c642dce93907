// Copyright 2025 Certnode Project
//
// Process-wide coordinator metrics, exported both as a plain snapshot
// struct (the shape the public API returns per spec §4.3) and as
// Prometheus collectors an external HTTP layer can scrape.
package store

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
)

// CacheMetrics is the snapshot returned by Coordinator.CacheMetrics.
type CacheMetrics struct {
	CacheHits       int64
	CacheMisses     int64
	QueryCount      int64
	QueryTimeSumUs  int64
	AvgQueryTimeUs  float64
	CurrentEntries  int
}

// metrics holds the live counters plus their Prometheus mirrors. Counters
// are plain atomics rather than prometheus.Counter.Add-then-read because
// the public API needs cheap, exact point-in-time snapshots; the
// Prometheus side exists so the excluded HTTP layer has a real /metrics
// surface without this package depending on net/http.
type metrics struct {
	cacheHits      atomic.Int64
	cacheMisses    atomic.Int64
	queryCount     atomic.Int64
	queryTimeSumUs atomic.Int64

	promCacheHits   prometheus.Counter
	promCacheMisses prometheus.Counter
	promQueryCount  prometheus.Counter
	promQueryTimeUs prometheus.Histogram
	promCacheSize   prometheus.GaugeFunc
}

// newMetrics builds the counters and, if reg is non-nil, registers the
// Prometheus collectors on it. reg may be nil (e.g. in tests) to skip
// Prometheus registration entirely.
func newMetrics(reg prometheus.Registerer, currentSize func() float64) *metrics {
	m := &metrics{
		promCacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "factledger", Subsystem: "cache", Name: "hits_total",
			Help: "Query cache hits.",
		}),
		promCacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "factledger", Subsystem: "cache", Name: "misses_total",
			Help: "Query cache misses.",
		}),
		promQueryCount: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "factledger", Subsystem: "store", Name: "queries_total",
			Help: "Triple-pattern queries served by the coordinator.",
		}),
		promQueryTimeUs: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "factledger", Subsystem: "store", Name: "query_time_microseconds",
			Help:    "Per-query latency in microseconds.",
			Buckets: prometheus.ExponentialBuckets(10, 2, 16),
		}),
	}
	m.promCacheSize = prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "factledger", Subsystem: "cache", Name: "entries",
		Help: "Current number of cached query patterns.",
	}, currentSize)

	if reg != nil {
		reg.MustRegister(m.promCacheHits, m.promCacheMisses, m.promQueryCount, m.promQueryTimeUs, m.promCacheSize)
	}
	return m
}

func (m *metrics) recordHit() {
	m.cacheHits.Add(1)
	m.promCacheHits.Inc()
}

func (m *metrics) recordMiss() {
	m.cacheMisses.Add(1)
	m.promCacheMisses.Inc()
}

func (m *metrics) recordQuery(elapsedUs int64) {
	m.queryCount.Add(1)
	m.queryTimeSumUs.Add(elapsedUs)
	m.promQueryCount.Inc()
	m.promQueryTimeUs.Observe(float64(elapsedUs))
}

func (m *metrics) snapshot(currentEntries int) CacheMetrics {
	count := m.queryCount.Load()
	sum := m.queryTimeSumUs.Load()
	var avg float64
	if count > 0 {
		avg = float64(sum) / float64(count)
	}
	return CacheMetrics{
		CacheHits:      m.cacheHits.Load(),
		CacheMisses:    m.cacheMisses.Load(),
		QueryCount:     count,
		QueryTimeSumUs: sum,
		AvgQueryTimeUs: avg,
		CurrentEntries: currentEntries,
	}
}
