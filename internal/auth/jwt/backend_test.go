package jwt

import (
	"context"
	"testing"
	"time"

	gojwt "github.com/golang-jwt/jwt/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vyrodovalexey/enforcer/internal/auth/jwt/jwttest"
	"github.com/vyrodovalexey/enforcer/internal/config"
)

func backendConfig() config.BackendJWTConfig {
	cfg := config.DefaultConfig().BackendJWT
	cfg.Enabled = true
	cfg.KeyID = "gateway"
	cfg.CustomClaims = map[string]string{"region": "eu"}
	return cfg
}

func testClaims() *BackendClaims {
	return &BackendClaims{
		Subject:         "admin",
		ApplicationUUID: "app-uuid",
		ApplicationName: "PizzaApp",
		APIName:         "PizzaShack",
		APIContext:      "/pizzashack/1.0.0",
		Version:         "1.0.0",
		Organization:    testOrg,
	}
}

func TestBackendGenerator_SignsClaims(t *testing.T) {
	t.Parallel()

	key := jwttest.NewKey(t)
	g, err := NewBackendGenerator(backendConfig(), key.Private,
		WithBackendMetrics(NewMetricsWithRegisterer("test", prometheus.NewRegistry())))
	require.NoError(t, err)
	assert.Equal(t, config.DefaultBackendJWTHeader, g.Header())

	signed, err := g.Token(context.Background(), testOrg, "id-1", testClaims())
	require.NoError(t, err)

	claims := gojwt.MapClaims{}
	token, err := gojwt.ParseWithClaims(signed, claims, func(*gojwt.Token) (any, error) {
		return &key.Private.PublicKey, nil
	})
	require.NoError(t, err)

	assert.Equal(t, "gateway", token.Header["kid"])
	assert.Equal(t, DefaultBackendIssuer, claims["iss"])
	assert.Equal(t, "PizzaShack", claims["http://wso2.org/claims/apiname"])
	assert.Equal(t, "PRODUCTION", claims["http://wso2.org/claims/keytype"])
	assert.Equal(t, "app-uuid", claims["http://wso2.org/claims/applicationUUId"])
	assert.Equal(t, "eu", claims["region"])
	assert.Equal(t, "admin", claims["sub"])
	assert.NotEmpty(t, claims["jti"])
}

func TestBackendGenerator_ReusesCachedToken(t *testing.T) {
	t.Parallel()

	now := time.Now()
	cfg := backendConfig()
	cfg.TTL = config.Duration(time.Minute)

	g, err := NewBackendGenerator(cfg, jwttest.NewKey(t).Private,
		WithBackendCache(config.CacheSizeConfig{MaxSize: 10}),
		WithBackendClockSkew(5*time.Second),
		WithBackendClock(func() time.Time { return now }),
		WithBackendMetrics(NewMetricsWithRegisterer("test", prometheus.NewRegistry())),
	)
	require.NoError(t, err)

	first, err := g.Token(context.Background(), testOrg, "id-1", testClaims())
	require.NoError(t, err)
	second, err := g.Token(context.Background(), testOrg, "id-1", testClaims())
	require.NoError(t, err)
	assert.Equal(t, first, second)

	other, err := g.Token(context.Background(), "other-org", "id-1", testClaims())
	require.NoError(t, err)
	assert.NotEqual(t, first, other)

	// Within the skew of its expiry the cached token is replaced.
	now = now.Add(56 * time.Second)
	third, err := g.Token(context.Background(), testOrg, "id-1", testClaims())
	require.NoError(t, err)
	assert.NotEqual(t, first, third)
}

func TestBackendGenerator_Unsigned(t *testing.T) {
	t.Parallel()

	cfg := backendConfig()
	cfg.SigningAlgorithm = "NONE"
	cfg.ClaimsDialect = "/"

	g, err := NewBackendGenerator(cfg, nil,
		WithBackendMetrics(NewMetricsWithRegisterer("test", prometheus.NewRegistry())))
	require.NoError(t, err)

	signed, err := g.Token(context.Background(), testOrg, "id", testClaims())
	require.NoError(t, err)

	claims := gojwt.MapClaims{}
	_, err = gojwt.ParseWithClaims(signed, claims, func(*gojwt.Token) (any, error) {
		return gojwt.UnsafeAllowNoneSignatureType, nil
	}, gojwt.WithValidMethods([]string{"none"}))
	require.NoError(t, err)
	assert.Equal(t, "PizzaShack", claims["apiname"])
}

func TestBackendGenerator_Errors(t *testing.T) {
	t.Parallel()

	_, err := NewBackendGenerator(backendConfig(), nil)
	assert.ErrorIs(t, err, ErrNoVerificationKey)

	cfg := backendConfig()
	cfg.SigningAlgorithm = "HS256"
	_, err = NewBackendGenerator(cfg, jwttest.NewKey(t).Private)
	assert.Error(t, err)
}
