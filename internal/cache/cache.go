package cache

import (
	"context"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// cacheTracerName is the OpenTelemetry tracer name for cache operations.
const cacheTracerName = "enforcer/cache"

// Stats contains cache statistics.
type Stats struct {
	// Hits is the number of cache hits.
	Hits int64

	// Misses is the number of cache misses.
	Misses int64

	// Size is the current number of entries in the cache.
	Size int64
}

// HitRate returns the cache hit rate as a percentage.
func (s Stats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total) * 100
}

// LRU is a size bounded cache whose entries expire a fixed time after
// their last access.
type LRU[K comparable, V any] struct {
	name   string
	lru    *lru.LRU[K, V]
	hits   atomic.Int64
	misses atomic.Int64
}

// NewLRU creates a cache holding at most size entries, each expiring ttl
// after it was last read or written. A ttl of zero disables expiry.
func NewLRU[K comparable, V any](name string, size int, ttl time.Duration) *LRU[K, V] {
	if size <= 0 {
		size = 1
	}

	metrics := GetCacheMetrics()
	c := &LRU[K, V]{name: name}
	c.lru = lru.NewLRU[K, V](size, func(K, V) {
		metrics.evictionsTotal.WithLabelValues(name).Inc()
	}, ttl)

	metrics.sizeGauge.WithLabelValues(name).Set(0)
	return c
}

// Name returns the cache name used as the metrics label.
func (c *LRU[K, V]) Name() string {
	return c.name
}

// Get returns the value stored for key and refreshes its lifetime.
func (c *LRU[K, V]) Get(ctx context.Context, key K) (V, bool) {
	_, span := otel.Tracer(cacheTracerName).Start(ctx, "cache.Get",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attribute.String("cache.name", c.name)),
	)
	defer span.End()

	metrics := GetCacheMetrics()
	value, ok := c.lru.Get(key)
	if !ok {
		c.misses.Add(1)
		metrics.missesTotal.WithLabelValues(c.name).Inc()
		span.SetAttributes(attribute.Bool("cache.hit", false))
		return value, false
	}

	// Re-adding an existing key resets its expiry without evicting.
	c.lru.Add(key, value)

	c.hits.Add(1)
	metrics.hitsTotal.WithLabelValues(c.name).Inc()
	span.SetAttributes(attribute.Bool("cache.hit", true))
	return value, true
}

// Contains reports whether key is present without touching recency or
// lifetime.
func (c *LRU[K, V]) Contains(key K) bool {
	return c.lru.Contains(key)
}

// Peek returns the value for key without refreshing it.
func (c *LRU[K, V]) Peek(key K) (V, bool) {
	return c.lru.Peek(key)
}

// Add stores value under key, evicting the least recently used entry if
// the cache is full.
func (c *LRU[K, V]) Add(_ context.Context, key K, value V) {
	c.lru.Add(key, value)
	GetCacheMetrics().sizeGauge.WithLabelValues(c.name).Set(float64(c.lru.Len()))
}

// Remove deletes key and reports whether it was present.
func (c *LRU[K, V]) Remove(_ context.Context, key K) bool {
	removed := c.lru.Remove(key)
	GetCacheMetrics().sizeGauge.WithLabelValues(c.name).Set(float64(c.lru.Len()))
	return removed
}

// Len returns the number of live entries.
func (c *LRU[K, V]) Len() int {
	return c.lru.Len()
}

// Purge removes every entry.
func (c *LRU[K, V]) Purge() {
	c.lru.Purge()
	GetCacheMetrics().sizeGauge.WithLabelValues(c.name).Set(0)
}

// Stats returns cache statistics.
func (c *LRU[K, V]) Stats() Stats {
	return Stats{
		Hits:   c.hits.Load(),
		Misses: c.misses.Load(),
		Size:   int64(c.lru.Len()),
	}
}
