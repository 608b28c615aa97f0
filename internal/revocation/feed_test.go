package revocation

import (
	"context"
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vyrodovalexey/enforcer/internal/config"
)

func newTestFeed(t *testing.T, mr *miniredis.Miniredis) (*RedisFeed, *Store, *Metrics) {
	t.Helper()

	cfg := config.DefaultConfig().Revocation
	cfg.Address = mr.Addr()
	cfg.Retry = config.RetryConfig{
		MaxRetries:     1,
		InitialBackoff: config.Duration(5 * time.Millisecond),
		MaxBackoff:     config.Duration(20 * time.Millisecond),
	}
	cfg.BreakerThreshold = 2
	cfg.BreakerTimeout = config.Duration(time.Minute)

	client := NewRedisClient(cfg)
	t.Cleanup(func() { _ = client.Close() })

	store := NewStore()
	metrics := NewMetricsWithRegisterer("test", prometheus.NewRegistry())
	return NewRedisFeed(client, store, cfg, WithMetrics(metrics)), store, metrics
}

func futureExpiry() string {
	return strconv.FormatInt(time.Now().Add(time.Hour).Unix(), 10)
}

func TestRedisFeed_BootstrapAndFollow(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	require.NoError(t, mr.Set(config.DefaultRevocationKeyPrefix+"jti-boot", futureExpiry()))
	require.NoError(t, mr.Set(config.DefaultRevocationKeyPrefix+"bad-expiry", "soon"))
	require.NoError(t, mr.Set("unrelated:key", futureExpiry()))

	feed, store, metrics := newTestFeed(t, mr)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- feed.Run(ctx) }()

	require.Eventually(t, feed.Ready, 2*time.Second, 10*time.Millisecond)
	assert.True(t, store.IsRevoked("jti-boot"))
	assert.False(t, store.IsRevoked("bad-expiry"))
	assert.False(t, store.IsRevoked("unrelated:key"))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.resyncs.WithLabelValues("success")))

	mr.Publish(config.DefaultRevocationChannel, "jti-live"+MessageSeparator+futureExpiry())
	mr.Publish(config.DefaultRevocationChannel, "garbage")

	assert.Eventually(t, func() bool {
		return store.IsRevoked("jti-live")
	}, 2*time.Second, 10*time.Millisecond)
	assert.Eventually(t, func() bool {
		return testutil.ToFloat64(metrics.messages.WithLabelValues("malformed")) == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.revokedTokens))

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("feed did not stop after cancellation")
	}
	assert.False(t, feed.Ready())
}

func TestRedisFeed_HandleMessage(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	feed, store, _ := newTestFeed(t, mr)

	tests := []struct {
		name    string
		payload string
		wantErr bool
	}{
		{name: "valid", payload: "jti-1_##_1999999999"},
		{name: "no separator", payload: "jti-1", wantErr: true},
		{name: "empty id", payload: "_##_1999999999", wantErr: true},
		{name: "bad expiry", payload: "jti-2_##_tomorrow", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := feed.handleMessage(tt.payload)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrMalformedMessage)
				return
			}
			assert.NoError(t, err)
		})
	}
	assert.True(t, store.IsRevoked("jti-1"))
	assert.False(t, store.IsRevoked("jti-2"))
}

func TestRedisFeed_ResyncOpensBreaker(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	feed, _, metrics := newTestFeed(t, mr)
	mr.Close()

	ctx := context.Background()
	require.Error(t, feed.Resync(ctx))
	require.Error(t, feed.Resync(ctx))
	assert.Equal(t, gobreaker.StateOpen, feed.BreakerState())

	err := feed.Resync(ctx)
	require.Error(t, err)
	assert.True(t, errors.Is(err, gobreaker.ErrOpenState))
	assert.Equal(t, 3.0, testutil.ToFloat64(metrics.resyncs.WithLabelValues("error")))
}

func TestRedisFeed_CleanupLoop(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	feed, store, _ := newTestFeed(t, mr)
	feed.cleanupInterval = 10 * time.Millisecond

	store.Add("old", time.Now().Add(-time.Minute))
	store.Add("new", time.Now().Add(time.Hour))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go feed.cleanupLoop(ctx)

	assert.Eventually(t, func() bool {
		return !store.IsRevoked("old")
	}, time.Second, 10*time.Millisecond)
	assert.True(t, store.IsRevoked("new"))
}

func TestNewRedisFeed_Defaults(t *testing.T) {
	t.Parallel()

	feed := NewRedisFeed(nil, NewStore(), config.RevocationConfig{},
		WithMetrics(NewMetricsWithRegisterer("defaults", prometheus.NewRegistry())))
	assert.Equal(t, config.DefaultRevocationChannel, feed.channel)
	assert.Equal(t, config.DefaultRevocationKeyPrefix, feed.keyPrefix)
	assert.Equal(t, config.DefaultRevocationCleanup, feed.cleanupInterval)
	assert.Equal(t, gobreaker.StateClosed, feed.BreakerState())
}
