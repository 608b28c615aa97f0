package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastConfig(retries int) *Config {
	return &Config{MaxRetries: retries, InitialBackoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond}
}

func TestDo_SucceedsAfterFailures(t *testing.T) {
	t.Parallel()

	calls := 0
	var retried []int
	err := Do(context.Background(), fastConfig(3), func() error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	}, &Options{OnRetry: func(attempt int, _ error, _ time.Duration) { retried = append(retried, attempt) }})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []int{1, 2}, retried)
}

func TestDo_ExhaustsRetries(t *testing.T) {
	t.Parallel()

	calls := 0
	want := errors.New("down")
	err := Do(context.Background(), fastConfig(2), func() error {
		calls++
		return want
	}, nil)

	assert.ErrorIs(t, err, want)
	assert.Equal(t, 3, calls)
}

func TestDo_PermanentStops(t *testing.T) {
	t.Parallel()

	calls := 0
	want := errors.New("bad password")
	err := Do(context.Background(), fastConfig(5), func() error {
		calls++
		return Permanent(want)
	}, nil)

	assert.Equal(t, want, err)
	assert.Equal(t, 1, calls)
}

func TestDo_ShouldRetryFalse(t *testing.T) {
	t.Parallel()

	calls := 0
	err := Do(context.Background(), fastConfig(5), func() error {
		calls++
		return errors.New("nope")
	}, &Options{ShouldRetry: func(error) bool { return false }})

	assert.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestDo_ContextCancelled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Do(ctx, nil, func() error { return nil }, nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestPermanent_Nil(t *testing.T) {
	t.Parallel()

	assert.NoError(t, Permanent(nil))
}

func TestCalculateBackoff(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		attempt int
		min     time.Duration
		max     time.Duration
	}{
		{name: "first attempt", attempt: 0, min: 100 * time.Millisecond, max: 125 * time.Millisecond},
		{name: "third attempt", attempt: 2, min: 400 * time.Millisecond, max: 500 * time.Millisecond},
		{name: "capped", attempt: 20, min: time.Second, max: time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := CalculateBackoff(tt.attempt, 100*time.Millisecond, time.Second, 0.25)
			assert.GreaterOrEqual(t, got, tt.min)
			assert.LessOrEqual(t, got, tt.max)
		})
	}
}

func TestConfigDefaults(t *testing.T) {
	t.Parallel()

	var nilCfg *Config
	assert.Equal(t, DefaultMaxRetries, nilCfg.maxRetries())
	assert.Equal(t, DefaultInitialBackoff, nilCfg.initialBackoff())
	assert.Equal(t, DefaultMaxBackoff, nilCfg.maxBackoff())
	assert.Equal(t, DefaultJitterFactor, nilCfg.jitterFactor())
	assert.Equal(t, MaxJitterFactor, (&Config{JitterFactor: 4}).jitterFactor())
}
