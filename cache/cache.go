// Package cache implements the graph-level computed-result cache: a bounded
// set of values produced by node computations, with pluggable LRU and LFU
// eviction. Entries are keyed by a stable fingerprint of the value rather
// than the value itself, so policies track compact 64-bit keys and large
// values hash once on insertion.
//
// The result cache is not a per-node memoization table (each node's
// precision store is); it records that some node in the graph has produced
// a given value.
package cache

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/polyglot-support/flowgraph/metric"
)

// Fingerprint computes the stable cache key for a value. Equal values yield
// equal keys; the rendering includes the dynamic type so that, e.g., int(1)
// and uint(1) do not collide within a heterogeneous test corpus.
func Fingerprint[V comparable](v V) Key {
	return xxhash.Sum64String(fmt.Sprintf("%T\x00%v", v, v))
}

// ResultCache is a bounded, policy-driven set of computed values. All
// methods are safe for concurrent use; the eviction policy is serialized
// under the cache mutex.
type ResultCache[V comparable] struct {
	mu     sync.Mutex
	policy Policy
	values map[Key]V

	// Statistics (atomic).
	hits      int64
	misses    int64
	evictions int64

	metrics *cacheMetrics
}

type cacheMetrics struct {
	hits      prometheus.Counter
	misses    prometheus.Counter
	evictions prometheus.Counter
	size      prometheus.Gauge
}

// Option configures a ResultCache.
type Option[V comparable] func(*ResultCache[V])

// WithMetrics exposes cache statistics as Prometheus metrics under the
// given component prefix.
func WithMetrics[V comparable](reg *metric.Registry, prefix string) Option[V] {
	return func(c *ResultCache[V]) {
		if reg == nil || prefix == "" {
			return
		}
		m := &cacheMetrics{
			hits: prometheus.NewCounter(prometheus.CounterOpts{
				Name:        "flowgraph_cache_hits_total",
				ConstLabels: prometheus.Labels{"component": prefix},
				Help:        "Total result cache hits",
			}),
			misses: prometheus.NewCounter(prometheus.CounterOpts{
				Name:        "flowgraph_cache_misses_total",
				ConstLabels: prometheus.Labels{"component": prefix},
				Help:        "Total result cache misses",
			}),
			evictions: prometheus.NewCounter(prometheus.CounterOpts{
				Name:        "flowgraph_cache_evictions_total",
				ConstLabels: prometheus.Labels{"component": prefix},
				Help:        "Total result cache evictions",
			}),
			size: prometheus.NewGauge(prometheus.GaugeOpts{
				Name:        "flowgraph_cache_size",
				ConstLabels: prometheus.Labels{"component": prefix},
				Help:        "Current number of cached results",
			}),
		}
		if reg.Register(prefix, "cache_hits_total", m.hits) != nil ||
			reg.Register(prefix, "cache_misses_total", m.misses) != nil ||
			reg.Register(prefix, "cache_evictions_total", m.evictions) != nil ||
			reg.Register(prefix, "cache_size", m.size) != nil {
			return
		}
		c.metrics = m
	}
}

// New creates a result cache governed by the given policy. A nil policy
// makes the cache unbounded.
func New[V comparable](policy Policy, opts ...Option[V]) *ResultCache[V] {
	c := &ResultCache[V]{
		policy: policy,
		values: make(map[Key]V),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Add records a computed value. An already-present value counts as a hit
// and refreshes the policy's access state. When the policy reports the
// cache full, a victim is evicted first; if the policy can name no victim
// (zero capacity), the value is not cached. Add reports whether a new entry
// was inserted.
func (c *ResultCache[V]) Add(value V) bool {
	key := Fingerprint(value)

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.values[key]; ok {
		atomic.AddInt64(&c.hits, 1)
		if c.policy != nil {
			c.policy.OnAccess(key)
		}
		if c.metrics != nil {
			c.metrics.hits.Inc()
		}
		return false
	}

	atomic.AddInt64(&c.misses, 1)
	if c.metrics != nil {
		c.metrics.misses.Inc()
	}

	if c.policy != nil && !c.policy.ShouldCache(key) {
		victim, ok := c.policy.SelectVictim()
		if !ok {
			return false
		}
		delete(c.values, victim)
		atomic.AddInt64(&c.evictions, 1)
		if c.metrics != nil {
			c.metrics.evictions.Inc()
		}
	}

	if c.policy != nil {
		c.policy.OnInsert(key)
	}
	c.values[key] = value
	if c.metrics != nil {
		c.metrics.size.Set(float64(len(c.values)))
	}
	return true
}

// Contains reports whether a value is cached, refreshing the policy's
// access state on a hit.
func (c *ResultCache[V]) Contains(value V) bool {
	key := Fingerprint(value)

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.values[key]; !ok {
		atomic.AddInt64(&c.misses, 1)
		if c.metrics != nil {
			c.metrics.misses.Inc()
		}
		return false
	}
	atomic.AddInt64(&c.hits, 1)
	if c.policy != nil {
		c.policy.OnAccess(key)
	}
	if c.metrics != nil {
		c.metrics.hits.Inc()
	}
	return true
}

// Len returns the current number of cached values.
func (c *ResultCache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.values)
}

// Clear removes all entries. Policy state for removed entries is rebuilt
// naturally as values are re-inserted.
func (c *ResultCache[V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.values = make(map[Key]V)
	if c.policy != nil {
		for {
			if _, ok := c.policy.SelectVictim(); !ok {
				break
			}
		}
	}
	if c.metrics != nil {
		c.metrics.size.Set(0)
	}
}

// Stats returns a snapshot of cache statistics.
func (c *ResultCache[V]) Stats() Stats {
	c.mu.Lock()
	size := len(c.values)
	c.mu.Unlock()
	return Stats{
		Size:      size,
		Hits:      atomic.LoadInt64(&c.hits),
		Misses:    atomic.LoadInt64(&c.misses),
		Evictions: atomic.LoadInt64(&c.evictions),
	}
}

// Stats is a point-in-time snapshot of cache activity.
type Stats struct {
	Size      int
	Hits      int64
	Misses    int64
	Evictions int64
}
