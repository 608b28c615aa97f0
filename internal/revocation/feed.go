package revocation

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"

	"github.com/vyrodovalexey/enforcer/internal/config"
	"github.com/vyrodovalexey/enforcer/internal/observability"
	"github.com/vyrodovalexey/enforcer/internal/retry"
)

// MessageSeparator divides the identifier from the expiry in feed messages.
const MessageSeparator = "_##_"

const scanBatchSize = 100

// ErrMalformedMessage indicates a feed message that is not "<id>_##_<expiry>".
var ErrMalformedMessage = errors.New("malformed revocation message")

// RedisFeed keeps a Store in sync with Redis.
type RedisFeed struct {
	client          *redis.Client
	store           *Store
	channel         string
	keyPrefix       string
	cleanupInterval time.Duration
	retry           *retry.Config
	breaker         *gobreaker.CircuitBreaker
	logger          observability.Logger
	metrics         *Metrics
	ready           atomic.Bool
}

// FeedOption configures a RedisFeed.
type FeedOption func(*RedisFeed)

// WithLogger sets the feed logger.
func WithLogger(logger observability.Logger) FeedOption {
	return func(f *RedisFeed) {
		f.logger = logger
	}
}

// WithMetrics sets the feed metrics.
func WithMetrics(metrics *Metrics) FeedOption {
	return func(f *RedisFeed) {
		f.metrics = metrics
	}
}

// NewRedisClient creates the Redis client described by cfg.
func NewRedisClient(cfg config.RevocationConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Username: cfg.Username,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
}

// NewRedisFeed creates a feed that fills store from client.
func NewRedisFeed(client *redis.Client, store *Store, cfg config.RevocationConfig, opts ...FeedOption) *RedisFeed {
	f := &RedisFeed{
		client:          client,
		store:           store,
		channel:         cfg.Channel,
		keyPrefix:       cfg.KeyPrefix,
		cleanupInterval: cfg.CleanupInterval.Duration(),
		retry: &retry.Config{
			MaxRetries:     cfg.Retry.MaxRetries,
			InitialBackoff: cfg.Retry.InitialBackoff.Duration(),
			MaxBackoff:     cfg.Retry.MaxBackoff.Duration(),
		},
		logger: observability.NopLogger(),
	}
	if f.channel == "" {
		f.channel = config.DefaultRevocationChannel
	}
	if f.keyPrefix == "" {
		f.keyPrefix = config.DefaultRevocationKeyPrefix
	}
	if f.cleanupInterval <= 0 {
		f.cleanupInterval = config.DefaultRevocationCleanup
	}

	for _, opt := range opts {
		opt(f)
	}
	if f.metrics == nil {
		f.metrics = NewMetrics("enforcer")
	}

	f.breaker = newBreaker(cfg.BreakerThreshold, cfg.BreakerTimeout.Duration(), f.logger)
	return f
}

func newBreaker(threshold int, timeout time.Duration, logger observability.Logger) *gobreaker.CircuitBreaker {
	if threshold <= 0 {
		threshold = 5
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	failures := uint32(threshold) //nolint:gosec // bounded above zero

	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "revocation-resync",
		MaxRequests: 1,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Info("circuit breaker state change",
				observability.String("name", name),
				observability.String("from", from.String()),
				observability.String("to", to.String()),
			)
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
	})
}

// Ready reports whether the feed is subscribed and the initial bootstrap
// completed.
func (f *RedisFeed) Ready() bool {
	return f.ready.Load()
}

// BreakerState returns the state of the resync circuit breaker.
func (f *RedisFeed) BreakerState() gobreaker.State {
	return f.breaker.State()
}

// Run subscribes to the revocation channel, bootstraps the store and
// follows the channel until ctx is cancelled. Connection failures trigger a
// resubscribe and a full resync, since messages published while
// disconnected are lost.
func (f *RedisFeed) Run(ctx context.Context) error {
	go f.cleanupLoop(ctx)

	attempt := 0
	for {
		err := f.follow(ctx)
		f.ready.Store(false)
		if ctx.Err() != nil {
			return nil
		}

		backoff := retry.CalculateBackoff(attempt, f.retryInitial(), f.retryMax(), retry.DefaultJitterFactor)
		f.logger.Warn("revocation feed interrupted, reconnecting",
			observability.Error(err),
			observability.Duration("backoff", backoff),
		)
		attempt++

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
	}
}

func (f *RedisFeed) retryInitial() time.Duration {
	if f.retry.InitialBackoff > 0 {
		return f.retry.InitialBackoff
	}
	return retry.DefaultInitialBackoff
}

func (f *RedisFeed) retryMax() time.Duration {
	if f.retry.MaxBackoff > 0 {
		return f.retry.MaxBackoff
	}
	return retry.DefaultMaxBackoff
}

// follow runs one subscription session.
func (f *RedisFeed) follow(ctx context.Context) error {
	pubsub := f.client.Subscribe(ctx, f.channel)
	defer pubsub.Close()

	// Blocking reads do not observe cancellation, so closing the
	// subscription is what unblocks ReceiveMessage on shutdown.
	sessionDone := make(chan struct{})
	defer close(sessionDone)
	go func() {
		select {
		case <-ctx.Done():
			_ = pubsub.Close()
		case <-sessionDone:
		}
	}()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", f.channel, err)
	}
	f.logger.Info("subscribed to revocation channel", observability.String("channel", f.channel))

	if err := f.Resync(ctx); err != nil {
		return err
	}
	f.ready.Store(true)

	for {
		msg, err := pubsub.ReceiveMessage(ctx)
		if err != nil {
			return err
		}
		if err := f.handleMessage(msg.Payload); err != nil {
			f.metrics.RecordMessage("malformed")
			f.logger.Warn("ignoring revocation message",
				observability.String("channel", msg.Channel),
				observability.Error(err),
			)
			continue
		}
		f.metrics.RecordMessage("applied")
	}
}

// Resync loads every revoked identifier stored under the key prefix. It is
// guarded by a circuit breaker so a failing Redis is not hammered.
func (f *RedisFeed) Resync(ctx context.Context) error {
	_, err := f.breaker.Execute(func() (interface{}, error) {
		return nil, retry.Do(ctx, f.retry, func() error {
			return f.scan(ctx)
		}, &retry.Options{
			OnRetry: func(attempt int, err error, backoff time.Duration) {
				f.logger.Debug("retrying revocation resync",
					observability.Int("attempt", attempt),
					observability.Error(err),
					observability.Duration("backoff", backoff),
				)
			},
		})
	})
	if err != nil {
		f.metrics.RecordResync("error")
		return fmt.Errorf("revocation resync failed: %w", err)
	}
	f.metrics.RecordResync("success")
	return nil
}

func (f *RedisFeed) scan(ctx context.Context) error {
	var cursor uint64
	loaded := 0
	for {
		keys, next, err := f.client.Scan(ctx, cursor, f.keyPrefix+"*", scanBatchSize).Result()
		if err != nil {
			return err
		}
		if len(keys) > 0 {
			values, err := f.client.MGet(ctx, keys...).Result()
			if err != nil {
				return err
			}
			for i, key := range keys {
				raw, ok := values[i].(string)
				if !ok {
					continue
				}
				expiry, err := parseExpiry(raw)
				if err != nil {
					f.logger.Warn("ignoring revoked token key with invalid expiry",
						observability.String("key", key),
						observability.Error(err),
					)
					continue
				}
				f.store.Add(strings.TrimPrefix(key, f.keyPrefix), expiry)
				loaded++
			}
		}

		cursor = next
		if cursor == 0 {
			break
		}
	}

	f.metrics.SetRevoked(f.store.Len())
	f.logger.Info("revoked tokens loaded", observability.Int("count", loaded))
	return nil
}

func (f *RedisFeed) handleMessage(payload string) error {
	id, rawExpiry, found := strings.Cut(payload, MessageSeparator)
	if !found || id == "" {
		return ErrMalformedMessage
	}
	expiry, err := parseExpiry(rawExpiry)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrMalformedMessage, err)
	}

	f.store.Add(id, expiry)
	f.metrics.SetRevoked(f.store.Len())
	f.logger.Debug("token revoked", observability.String("token_id", observability.MaskToken(id)))
	return nil
}

func (f *RedisFeed) cleanupLoop(ctx context.Context) {
	ticker := time.NewTicker(f.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if removed := f.store.Cleanup(now); removed > 0 {
				f.metrics.RecordCleanup(removed)
				f.metrics.SetRevoked(f.store.Len())
				f.logger.Debug("expired revocations removed", observability.Int("count", removed))
			}
		}
	}
}

func parseExpiry(raw string) (time.Time, error) {
	secs, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid expiry %q: %w", raw, err)
	}
	return time.Unix(secs, 0), nil
}
