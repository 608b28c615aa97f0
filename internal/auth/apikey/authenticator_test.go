package apikey

import (
	"context"
	"sync"
	"testing"
	"time"

	gojwt "github.com/golang-jwt/jwt/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vyrodovalexey/enforcer/internal/auth"
	"github.com/vyrodovalexey/enforcer/internal/auth/jwt"
	"github.com/vyrodovalexey/enforcer/internal/auth/jwt/jwttest"
	"github.com/vyrodovalexey/enforcer/internal/authz"
	"github.com/vyrodovalexey/enforcer/internal/config"
	"github.com/vyrodovalexey/enforcer/internal/observability"
	"github.com/vyrodovalexey/enforcer/internal/subscription"
)

const testOrg = "carbon.super"

func testRegistry(status string) *subscription.Registry {
	registry := subscription.NewRegistry()
	registry.Apply(map[string]*subscription.Snapshot{
		testOrg: subscription.NewSnapshot(subscription.Data{
			Applications: []subscription.Application{
				{UUID: "app-1", Name: "PizzaApp", Owner: "admin"},
			},
			ApplicationMappings: []subscription.ApplicationMapping{
				{UUID: "m-1", ApplicationRef: "app-1", SubscriptionRef: "sub-1"},
			},
			Subscriptions: []subscription.Subscription{
				{
					UUID: "sub-1", APIUUID: "api-1", ApplicationUUID: "app-1",
					SubscribedAPI: subscription.SubscribedAPI{Name: "PizzaShack", Version: "1.0.0"},
					Status: status, RatelimitTier: "Gold",
				},
			},
		}),
	})
	return registry
}

type fixture struct {
	key    *jwttest.Key
	auth   *Authenticator
	mu     sync.Mutex
	events []string
}

func (f *fixture) recorded() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.events...)
}

func (f *fixture) securityEvents() *observability.SecurityEventLogger {
	return observability.NewSecurityEventLogger(nil, 0, 0,
		observability.WithSecurityEventHook(func(event string) {
			f.mu.Lock()
			f.events = append(f.events, event)
			f.mu.Unlock()
		}))
}

func newFixture(t *testing.T, status string, opts ...Option) *fixture {
	t.Helper()

	f := &fixture{key: jwttest.NewKey(t)}
	engine, err := NewEngine("", f.key.CertificatePEM,
		jwt.WithMetrics(jwt.NewMetricsWithRegisterer("test", prometheus.NewRegistry())),
		jwt.WithCaches(jwt.NewCacheRegistry("internalKey",
			config.CacheSizeConfig{MaxSize: 10},
			config.CacheSizeConfig{MaxSize: 10})),
	)
	require.NoError(t, err)

	keyValidator := authz.NewKeyValidator(testRegistry(status),
		authz.WithMetrics(authz.NewMetricsWithRegisterer("test", prometheus.NewRegistry())))
	f.auth = New(engine, keyValidator, append([]Option{WithSecurityEvents(f.securityEvents())}, opts...)...)
	return f
}

func testAPI() *auth.APIConfig {
	return &auth.APIConfig{
		UUID:         "api-1",
		Name:         "PizzaShack",
		Version:      "1.0.0",
		BasePath:     "/pizzashack/1.0.0",
		Organization: testOrg,
		Environment:  "Default",
		EnvType:      config.EnvTypeProduction,
	}
}

func request(token string) *auth.RequestContext {
	res := &auth.ResourceConfig{
		Path:        "/menu",
		Method:      "GET",
		InternalKey: &auth.InternalKeySecurity{Header: config.DefaultInternalKeyHeader},
	}
	headers := map[string]string{}
	if token != "" {
		headers[config.DefaultInternalKeyHeader] = token
	}
	return auth.NewRequestContext(testAPI(), []*auth.ResourceConfig{res}, headers, nil)
}

func internalKeyClaims(t *testing.T) gojwt.MapClaims {
	claims := jwttest.Claims("ik-"+t.Name(), time.Hour)
	claims[jwt.ClaimTokenType] = TokenTypeInternalKey
	claims[jwt.ClaimApplication] = map[string]any{"uuid": "app-1", "name": "PizzaApp"}
	return claims
}

func subscribedTo(entries ...map[string]any) []any {
	out := make([]any, 0, len(entries))
	for _, e := range entries {
		out = append(out, e)
	}
	return out
}

func TestAuthenticator_Descriptor(t *testing.T) {
	t.Parallel()

	a := New(nil, nil)
	assert.Equal(t, auth.NameInternalKey, a.Name())
	assert.Equal(t, auth.PriorityInternalKey, a.Priority())
	assert.Empty(t, a.ChallengeString())
}

func TestAuthenticator_CanAuthenticate(t *testing.T) {
	t.Parallel()

	a := New(nil, nil)
	assert.True(t, a.CanAuthenticate(request("a.b.c")))
	assert.False(t, a.CanAuthenticate(request("")))
	assert.False(t, a.CanAuthenticate(request("opaque")))
	assert.False(t, a.CanAuthenticate(request("a.b.c.d")))

	rc := auth.NewRequestContext(testAPI(), []*auth.ResourceConfig{{Path: "/"}},
		map[string]string{config.DefaultInternalKeyHeader: "a.b.c"}, nil)
	assert.False(t, a.CanAuthenticate(rc))
}

func TestAuthenticator_SubscribedAPIs(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		entries []any
		wantErr bool
	}{
		{
			name:    "exact version",
			entries: subscribedTo(map[string]any{"name": "PizzaShack", "version": "1.0.0", "subscriptionTier": "Gold"}),
		},
		{
			name:    "any version",
			entries: subscribedTo(map[string]any{"name": "PizzaShack", "version": "*"}),
		},
		{
			name: "second entry",
			entries: subscribedTo(
				map[string]any{"name": "Other", "version": "1.0.0"},
				map[string]any{"name": "PizzaShack", "version": "1.0.0"},
			),
		},
		{
			name:    "other version",
			entries: subscribedTo(map[string]any{"name": "PizzaShack", "version": "2.0.0"}),
			wantErr: true,
		},
		{
			name:    "other api",
			entries: subscribedTo(map[string]any{"name": "Other", "version": "*"}),
			wantErr: true,
		},
		{
			name:    "empty list",
			entries: []any{},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			f := newFixture(t, subscription.StatusActive)
			claims := internalKeyClaims(t)
			claims[jwt.ClaimSubscribedAPIs] = tt.entries
			token := f.key.Sign(t, claims, "")

			authCtx, err := f.auth.Authenticate(context.Background(), request(token))
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, auth.ErrForbidden)
				return
			}
			require.NoError(t, err)
			assert.True(t, authCtx.Authenticated)
			assert.Equal(t, auth.NameInternalKey, authCtx.TokenType)
			assert.Equal(t, KeyManager, authCtx.KeyManager)
			assert.Equal(t, "PizzaApp", authCtx.ApplicationName)
			assert.Equal(t, "app-1", authCtx.ApplicationUUID)
			assert.Equal(t, "ik-"+t.Name(), authCtx.TokenID)
		})
	}
}

func TestAuthenticator_ApplicationSubscription(t *testing.T) {
	t.Parallel()

	f := newFixture(t, subscription.StatusActive)
	authCtx, err := f.auth.Authenticate(context.Background(), request(f.key.Sign(t, internalKeyClaims(t), "")))
	require.NoError(t, err)
	assert.Equal(t, "sub-1", authCtx.SubscriptionUUID)
	assert.Equal(t, "admin", authCtx.ApplicationOwner)
	assert.Equal(t, "Gold", authCtx.Tier)

	inactive := newFixture(t, subscription.StatusInactive)
	_, err = inactive.auth.Authenticate(context.Background(), request(inactive.key.Sign(t, internalKeyClaims(t), "")))
	require.Error(t, err)
	assert.Equal(t, auth.CodeSubscriptionInactive, auth.AsSecurityError(err).Code)

	noApp := internalKeyClaims(t)
	delete(noApp, jwt.ClaimApplication)
	noApp[jwt.ClaimJWTID] = "ik-no-application"
	_, err = f.auth.Authenticate(context.Background(), request(f.key.Sign(t, noApp, "")))
	assert.ErrorIs(t, err, auth.ErrForbidden)
}

func TestAuthenticator_WrongTokenType(t *testing.T) {
	t.Parallel()

	f := &fixture{key: jwttest.NewKey(t)}
	validator := &jwttest.Validator{Claims: map[string]any{}}
	engine := jwt.NewEngine(jwt.NewStaticResolver(&subscription.IssuerBinding{Validator: validator}),
		jwt.WithMetrics(jwt.NewMetricsWithRegisterer("test", prometheus.NewRegistry())))
	f.auth = New(engine, nil, WithSecurityEvents(f.securityEvents()))

	for _, tokenType := range []string{"", "Bearer", "internalkey"} {
		claims := internalKeyClaims(t)
		claims[jwt.ClaimTokenType] = tokenType
		_, err := f.auth.Authenticate(context.Background(), request(f.key.Sign(t, claims, "")))
		require.Error(t, err)
		assert.ErrorIs(t, err, auth.ErrInvalidCredential)
	}

	assert.Zero(t, validator.Calls())
	assert.Equal(t, []string{
		observability.SecurityEventTokenTypeMiss,
		observability.SecurityEventTokenTypeMiss,
		observability.SecurityEventTokenTypeMiss,
	}, f.recorded())
}

func TestAuthenticator_ForeignSignature(t *testing.T) {
	t.Parallel()

	f := newFixture(t, subscription.StatusActive)
	other := jwttest.NewKey(t)

	_, err := f.auth.Authenticate(context.Background(), request(other.Sign(t, internalKeyClaims(t), "")))
	assert.ErrorIs(t, err, auth.ErrInvalidCredential)
}

func TestAuthenticator_BackendJWT(t *testing.T) {
	t.Parallel()

	cfg := config.DefaultConfig().BackendJWT
	cfg.Enabled = true
	cfg.SigningAlgorithm = "NONE"
	generator, err := jwt.NewBackendGenerator(cfg, nil,
		jwt.WithBackendMetrics(jwt.NewMetricsWithRegisterer("test", prometheus.NewRegistry())))
	require.NoError(t, err)

	f := newFixture(t, subscription.StatusActive, WithBackendGenerator(generator))
	rc := request(f.key.Sign(t, internalKeyClaims(t), ""))

	authCtx, err := f.auth.Authenticate(context.Background(), rc)
	require.NoError(t, err)
	assert.NotEmpty(t, rc.AddHeaders[config.DefaultBackendJWTHeader])
	assert.Equal(t, authCtx.BackendToken, rc.AddHeaders[config.DefaultBackendJWTHeader])
}

func TestNewEngine_InvalidCertificate(t *testing.T) {
	t.Parallel()

	_, err := NewEngine("", []byte("not a certificate"))
	assert.Error(t, err)
}

func TestSubscribedAPIs(t *testing.T) {
	t.Parallel()

	apis, present := SubscribedAPIs(map[string]any{})
	assert.False(t, present)
	assert.Nil(t, apis)

	apis, present = SubscribedAPIs(map[string]any{jwt.ClaimSubscribedAPIs: "PizzaShack"})
	assert.True(t, present)
	assert.Empty(t, apis)

	apis, present = SubscribedAPIs(map[string]any{jwt.ClaimSubscribedAPIs: []any{
		"garbage",
		map[string]any{"name": "PizzaShack", "version": "*", "subscriptionTier": "Bronze"},
	}})
	assert.True(t, present)
	require.Len(t, apis, 1)
	assert.Equal(t, SubscribedAPI{Name: "PizzaShack", Version: "*", Tier: "Bronze"}, apis[0])
	assert.True(t, apis[0].Covers("PizzaShack", "3.1.4"))
	assert.False(t, apis[0].Covers("Pizza", "3.1.4"))
}
