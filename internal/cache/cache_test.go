package cache

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLRU_GetAdd(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	c := NewLRU[string, int]("test-get-add", 10, time.Minute)

	_, ok := c.Get(ctx, "a")
	assert.False(t, ok)

	c.Add(ctx, "a", 1)
	v, ok := c.Get(ctx, "a")
	require.True(t, ok)
	assert.Equal(t, 1, v)

	stats := c.Stats()
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.Equal(t, int64(1), stats.Size)
	assert.InDelta(t, 50.0, stats.HitRate(), 0.001)
	assert.Equal(t, "test-get-add", c.Name())
}

func TestLRU_EvictsLeastRecentlyUsed(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	c := NewLRU[string, int]("test-evict", 2, time.Minute)

	c.Add(ctx, "a", 1)
	c.Add(ctx, "b", 2)
	_, _ = c.Get(ctx, "a")
	c.Add(ctx, "c", 3)

	assert.True(t, c.Contains("a"))
	assert.False(t, c.Contains("b"))
	assert.True(t, c.Contains("c"))
	assert.Equal(t, 2, c.Len())
}

func TestLRU_ExpiresEntries(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	c := NewLRU[string, string]("test-expire", 10, 50*time.Millisecond)

	c.Add(ctx, "k", "v")
	assert.Eventually(t, func() bool {
		_, ok := c.Peek("k")
		return !ok
	}, time.Second, 10*time.Millisecond)
}

func TestLRU_RemoveAndPurge(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	c := NewLRU[int, string]("test-remove", 10, 0)

	c.Add(ctx, 1, "one")
	c.Add(ctx, 2, "two")

	assert.True(t, c.Remove(ctx, 1))
	assert.False(t, c.Remove(ctx, 1))
	assert.Equal(t, 1, c.Len())

	c.Purge()
	assert.Equal(t, 0, c.Len())
}

func TestLRU_NonPositiveSize(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	c := NewLRU[string, int]("test-size", 0, time.Minute)
	c.Add(ctx, "a", 1)
	c.Add(ctx, "b", 2)
	assert.Equal(t, 1, c.Len())
}

func TestLRU_Concurrent(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	c := NewLRU[string, int]("test-concurrent", 100, time.Minute)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			key := fmt.Sprintf("k%d", n%5)
			c.Add(ctx, key, n)
			_, _ = c.Get(ctx, key)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 5, c.Len())
}

func TestCacheMetrics(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	m := GetCacheMetrics()
	assert.Same(t, m, GetCacheMetrics())

	m.Init("test-metrics")
	c := NewLRU[string, int]("test-metrics", 10, time.Minute)
	c.Add(ctx, "a", 1)
	_, _ = c.Get(ctx, "a")
	_, _ = c.Get(ctx, "missing")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.hitsTotal.WithLabelValues("test-metrics")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.missesTotal.WithLabelValues("test-metrics")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.sizeGauge.WithLabelValues("test-metrics")))

	reg := prometheus.NewRegistry()
	assert.NotPanics(t, func() { m.MustRegister(reg) })
}
