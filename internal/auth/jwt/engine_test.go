package jwt

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vyrodovalexey/enforcer/internal/auth"
	"github.com/vyrodovalexey/enforcer/internal/auth/jwt/jwttest"
	"github.com/vyrodovalexey/enforcer/internal/config"
	"github.com/vyrodovalexey/enforcer/internal/revocation"
	"github.com/vyrodovalexey/enforcer/internal/subscription"
)

const testOrg = "carbon.super"

type mapResolver map[string]*subscription.IssuerBinding

func (m mapResolver) ResolveIssuer(_, issuer, _ string) (*subscription.IssuerBinding, bool) {
	b, ok := m[issuer]
	return b, ok
}

type engineFixture struct {
	key       *jwttest.Key
	validator *jwttest.Validator
	caches    *CacheRegistry
	metrics   *Metrics
	now       time.Time
	engine    *Engine
}

func newEngineFixture(t *testing.T, cached bool, opts ...EngineOption) *engineFixture {
	t.Helper()

	f := &engineFixture{
		key:       jwttest.NewKey(t),
		validator: &jwttest.Validator{},
		metrics:   NewMetricsWithRegisterer("test", prometheus.NewRegistry()),
		now:       time.Now(),
	}
	resolver := mapResolver{
		jwttest.Issuer: {KeyManager: "Resident Key Manager", Issuer: jwttest.Issuer, Validator: f.validator},
	}

	base := []EngineOption{
		WithMetrics(f.metrics),
		WithClockSkew(5 * time.Second),
		WithClock(func() time.Time { return f.now }),
	}
	if cached {
		size := config.CacheSizeConfig{MaxSize: 100, ExpireAfterAccess: config.Duration(time.Hour)}
		f.caches = NewCacheRegistry("token", size, size)
		base = append(base, WithCaches(f.caches))
	}
	f.engine = NewEngine(resolver, append(base, opts...)...)
	return f
}

// token signs claims and configures the validator to return them.
func (f *engineFixture) token(t *testing.T, jti string, ttl time.Duration) string {
	t.Helper()
	claims := jwttest.Claims(jti, ttl)
	f.validator.Claims = claims
	return f.key.Sign(t, claims, "")
}

func TestEngine_CachedResultSkipsValidator(t *testing.T) {
	t.Parallel()

	f := newEngineFixture(t, true)
	token := f.token(t, "jti-1", time.Hour)

	first, err := f.engine.Validate(context.Background(), token, testOrg, "Default")
	require.NoError(t, err)
	second, err := f.engine.Validate(context.Background(), token, testOrg, "Default")
	require.NoError(t, err)

	assert.Equal(t, 1, f.validator.Calls())
	assert.Same(t, first, second)
	assert.Equal(t, "jti-1", first.Identifier)
	assert.Equal(t, "Resident Key Manager", first.KeyManager)
	assert.Equal(t, "consumer-key-1", first.ConsumerKey)
	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.validationsTotal.WithLabelValues(resultValid)))
	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.validationsTotal.WithLabelValues(resultCached)))
}

func TestEngine_CachingDisabledValidatesEveryTime(t *testing.T) {
	t.Parallel()

	f := newEngineFixture(t, false)
	token := f.token(t, "jti-1", time.Hour)

	for i := 0; i < 3; i++ {
		_, err := f.engine.Validate(context.Background(), token, testOrg, "Default")
		require.NoError(t, err)
	}
	assert.Equal(t, 3, f.validator.Calls())
}

func TestEngine_TamperedTokenLeavesCacheUntouched(t *testing.T) {
	t.Parallel()

	f := newEngineFixture(t, true)
	genuine := f.token(t, "shared-jti", time.Hour)
	_, err := f.engine.Validate(context.Background(), genuine, testOrg, "Default")
	require.NoError(t, err)

	forgedClaims := jwttest.Claims("shared-jti", time.Hour)
	forgedClaims["sub"] = "attacker"
	forged := f.key.Sign(t, forgedClaims, "")
	require.NotEqual(t, genuine, forged)

	_, err = f.engine.Validate(context.Background(), forged, testOrg, "Default")
	require.Error(t, err)
	assert.Equal(t, auth.KindInvalidCredential, auth.KindOf(err))

	caches := f.caches.For(testOrg)
	entry, ok := caches.Valid.Peek("shared-jti")
	require.True(t, ok)
	assert.Equal(t, genuine, entry.Token)
	assert.False(t, caches.Invalid.Contains("shared-jti"))

	_, err = f.engine.Validate(context.Background(), genuine, testOrg, "Default")
	require.NoError(t, err)
	assert.Equal(t, 1, f.validator.Calls())
	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.validationsTotal.WithLabelValues(resultTampered)))
}

func TestEngine_ExpiredTokenIsCachedAsInvalid(t *testing.T) {
	t.Parallel()

	f := newEngineFixture(t, true)
	token := f.token(t, "old", -time.Minute)

	_, err := f.engine.Validate(context.Background(), token, testOrg, "Default")
	require.Error(t, err)
	assert.Equal(t, auth.KindExpired, auth.KindOf(err))

	caches := f.caches.For(testOrg)
	rejected, ok := caches.Invalid.Peek("old")
	require.True(t, ok)
	assert.Equal(t, auth.KindExpired, rejected.Kind)

	_, err = f.engine.Validate(context.Background(), token, testOrg, "Default")
	require.Error(t, err)
	assert.Equal(t, auth.KindInvalidCredential, auth.KindOf(err))
	assert.Equal(t, 1, f.validator.Calls())
}

func TestEngine_ValidatorReportsExpiry(t *testing.T) {
	t.Parallel()

	f := newEngineFixture(t, true)
	token := f.token(t, "exp", time.Hour)
	f.validator.Err = subscription.ErrTokenExpired

	_, err := f.engine.Validate(context.Background(), token, testOrg, "Default")
	require.Error(t, err)
	assert.Equal(t, auth.KindExpired, auth.KindOf(err))
	assert.True(t, f.caches.For(testOrg).Invalid.Contains("exp"))
}

func TestEngine_ExpiryWithinSkewIsAccepted(t *testing.T) {
	t.Parallel()

	f := newEngineFixture(t, true)
	token := f.token(t, "skew", -2*time.Second)

	_, err := f.engine.Validate(context.Background(), token, testOrg, "Default")
	assert.NoError(t, err)
}

func TestEngine_CachedEntryExpires(t *testing.T) {
	t.Parallel()

	f := newEngineFixture(t, true)
	token := f.token(t, "later", time.Minute)

	_, err := f.engine.Validate(context.Background(), token, testOrg, "Default")
	require.NoError(t, err)

	f.now = f.now.Add(2 * time.Minute)
	_, err = f.engine.Validate(context.Background(), token, testOrg, "Default")
	require.Error(t, err)
	assert.Equal(t, auth.KindExpired, auth.KindOf(err))

	caches := f.caches.For(testOrg)
	assert.False(t, caches.Valid.Contains("later"))
	assert.True(t, caches.Invalid.Contains("later"))
	assert.Equal(t, 1, f.validator.Calls())
}

func TestEngine_CachedResultMatchesDirectValidation(t *testing.T) {
	t.Parallel()

	f := newEngineFixture(t, true)
	token := f.token(t, "", time.Hour)

	direct := NewEngine(mapResolver{jwttest.Issuer: {Issuer: jwttest.Issuer, Validator: f.validator}},
		WithMetrics(f.metrics))
	want, err := direct.Validate(context.Background(), token, testOrg, "Default")
	require.NoError(t, err)

	_, err = f.engine.Validate(context.Background(), token, testOrg, "Default")
	require.NoError(t, err)
	got, ok := f.caches.For(testOrg).Valid.Peek(want.Identifier)
	require.True(t, ok)

	assert.Equal(t, want.Identifier, got.Identifier)
	assert.Equal(t, want.ExpiresAt, got.ExpiresAt)
	assert.Equal(t, want.Claims, got.Claims)
	assert.Equal(t, want.Scopes, got.Scopes)
}

func TestEngine_SignatureIsIdentifierWithoutJTI(t *testing.T) {
	t.Parallel()

	f := newEngineFixture(t, true)
	token := f.token(t, "", time.Hour)

	result, err := f.engine.Validate(context.Background(), token, testOrg, "Default")
	require.NoError(t, err)

	id, err := Identifier(token)
	require.NoError(t, err)
	assert.Equal(t, id, result.Identifier)
	assert.Equal(t, token[len(token)-len(id):], id)
}

func TestEngine_UnknownIssuerIsNotCached(t *testing.T) {
	t.Parallel()

	f := newEngineFixture(t, true)
	claims := jwttest.Claims("foreign", time.Hour)
	claims["iss"] = "https://unknown.example.com"
	token := f.key.Sign(t, claims, "")

	_, err := f.engine.Validate(context.Background(), token, testOrg, "Default")
	require.Error(t, err)
	assert.Equal(t, auth.KindInvalidCredential, auth.KindOf(err))
	assert.True(t, errors.Is(err, ErrUnknownIssuer))
	assert.Equal(t, 0, f.caches.For(testOrg).Invalid.Len())
	assert.Equal(t, 0, f.validator.Calls())
}

func TestEngine_SignatureFailureIsCached(t *testing.T) {
	t.Parallel()

	f := newEngineFixture(t, true)
	token := f.token(t, "bad", time.Hour)
	f.validator.Err = errors.New("crypto/rsa: verification error")

	_, err := f.engine.Validate(context.Background(), token, testOrg, "Default")
	require.Error(t, err)
	assert.Equal(t, auth.KindInvalidCredential, auth.KindOf(err))

	_, err = f.engine.Validate(context.Background(), token, testOrg, "Default")
	require.Error(t, err)
	assert.Equal(t, 1, f.validator.Calls())
}

func TestEngine_RevokedTokenRejectedBeforeCache(t *testing.T) {
	t.Parallel()

	revoked := revocation.NewStore()
	f := newEngineFixture(t, true, WithRevocation(revoked))
	token := f.token(t, "revoked-jti", time.Hour)

	_, err := f.engine.Validate(context.Background(), token, testOrg, "Default")
	require.NoError(t, err)

	revoked.Add("revoked-jti", time.Now().Add(time.Hour))
	_, err = f.engine.Validate(context.Background(), token, testOrg, "Default")
	require.Error(t, err)
	assert.Equal(t, auth.KindInvalidCredential, auth.KindOf(err))
	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.validationsTotal.WithLabelValues(resultRevoked)))
}

func TestEngine_MalformedToken(t *testing.T) {
	t.Parallel()

	f := newEngineFixture(t, true)
	for _, token := range []string{"", "abc", "a.b", "a.b.c", "a.b.c.d"} {
		_, err := f.engine.Validate(context.Background(), token, testOrg, "Default")
		require.Error(t, err, token)
		assert.Equal(t, auth.KindUnauthenticated, auth.KindOf(err), token)
		assert.Equal(t, MessageNotJWT, auth.AsSecurityError(err).Message)
	}
	assert.Equal(t, 0, f.validator.Calls())
}

func TestEngine_ConcurrentValidationsShareOneCall(t *testing.T) {
	t.Parallel()

	f := newEngineFixture(t, true)
	token := f.token(t, "busy", time.Hour)
	f.validator.Block = make(chan struct{})

	const workers = 8
	var wg sync.WaitGroup
	results := make([]*ValidationResult, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := f.engine.Validate(context.Background(), token, testOrg, "Default")
			assert.NoError(t, err)
			results[i] = res
		}(i)
	}

	require.Eventually(t, func() bool { return f.validator.Calls() == 1 }, time.Second, time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	close(f.validator.Block)
	wg.Wait()

	assert.Equal(t, 1, f.validator.Calls())
	for _, res := range results {
		assert.Same(t, results[0], res)
	}
}

func TestEngine_CancelledValidationWritesNothing(t *testing.T) {
	t.Parallel()

	f := newEngineFixture(t, true)
	token := f.token(t, "cancel", time.Hour)
	f.validator.Block = make(chan struct{})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := f.engine.Validate(ctx, token, testOrg, "Default")
	require.Error(t, err)
	assert.Equal(t, auth.KindInternalError, auth.KindOf(err))

	caches := f.caches.For(testOrg)
	require.Eventually(t, func() bool { return f.validator.Calls() == 1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 0, caches.Valid.Len())
	assert.Equal(t, 0, caches.Invalid.Len())
}

func TestStaticResolver(t *testing.T) {
	t.Parallel()

	binding := &subscription.IssuerBinding{Issuer: "internal"}
	r := NewStaticResolver(binding)

	got, ok := r.ResolveIssuer("any", "internal", "env")
	assert.True(t, ok)
	assert.Same(t, binding, got)

	_, ok = r.ResolveIssuer("any", "other", "env")
	assert.False(t, ok)

	_, ok = NewStaticResolver(&subscription.IssuerBinding{}).ResolveIssuer("any", "whatever", "env")
	assert.True(t, ok)
}
