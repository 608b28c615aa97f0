package jwt

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	gojwt "github.com/golang-jwt/jwt/v5"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vyrodovalexey/enforcer/internal/auth/jwt/jwttest"
	"github.com/vyrodovalexey/enforcer/internal/subscription"
)

func jwksDocument(t *testing.T, key *jwttest.Key, kid string) []byte {
	t.Helper()

	jwkKey, err := jwk.FromRaw(key.Private.Public())
	require.NoError(t, err)
	require.NoError(t, jwkKey.Set(jwk.KeyIDKey, kid))

	set := jwk.NewSet()
	require.NoError(t, set.AddKey(jwkKey))

	data, err := json.Marshal(set)
	require.NoError(t, err)
	return data
}

func TestCertificateValidator(t *testing.T) {
	t.Parallel()

	key := jwttest.NewKey(t)
	v, err := NewCertificateValidator(jwttest.Issuer, key.CertificatePEM, WithLeeway(time.Second))
	require.NoError(t, err)

	t.Run("valid token", func(t *testing.T) {
		claims, err := v.ValidateToken(context.Background(), key.Sign(t, jwttest.Claims("a", time.Hour), ""))
		require.NoError(t, err)
		assert.Equal(t, "a", claims["jti"])
	})

	t.Run("expired token", func(t *testing.T) {
		_, err := v.ValidateToken(context.Background(), key.Sign(t, jwttest.Claims("b", -time.Hour), ""))
		require.Error(t, err)
		assert.True(t, errors.Is(err, subscription.ErrTokenExpired))
	})

	t.Run("wrong issuer", func(t *testing.T) {
		claims := jwttest.Claims("c", time.Hour)
		claims["iss"] = "someone-else"
		_, err := v.ValidateToken(context.Background(), key.Sign(t, claims, ""))
		require.Error(t, err)
		assert.False(t, errors.Is(err, subscription.ErrTokenExpired))
	})

	t.Run("missing expiry", func(t *testing.T) {
		claims := jwttest.Claims("d", time.Hour)
		delete(claims, "exp")
		_, err := v.ValidateToken(context.Background(), key.Sign(t, claims, ""))
		require.Error(t, err)
	})

	t.Run("other key", func(t *testing.T) {
		other := jwttest.NewKey(t)
		_, err := v.ValidateToken(context.Background(), other.Sign(t, jwttest.Claims("e", time.Hour), ""))
		require.Error(t, err)
	})

	t.Run("symmetric algorithm rejected", func(t *testing.T) {
		token := gojwt.NewWithClaims(gojwt.SigningMethodHS256, jwttest.Claims("f", time.Hour))
		signed, err := token.SignedString([]byte("secret"))
		require.NoError(t, err)
		_, err = v.ValidateToken(context.Background(), signed)
		require.Error(t, err)
	})

	t.Run("cancelled context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := v.ValidateToken(ctx, key.Sign(t, jwttest.Claims("g", time.Hour), ""))
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestCertificateValidator_BadPEM(t *testing.T) {
	t.Parallel()

	_, err := NewCertificateValidator("iss", []byte("not a pem"))
	assert.Error(t, err)
}

func TestJWKSValidator(t *testing.T) {
	t.Parallel()

	key := jwttest.NewKey(t)
	v, err := NewJWKSValidator(jwttest.Issuer, jwksDocument(t, key, "kid-1"))
	require.NoError(t, err)

	_, err = v.ValidateToken(context.Background(), key.Sign(t, jwttest.Claims("a", time.Hour), "kid-1"))
	assert.NoError(t, err)

	// A single key set also serves tokens without kid.
	_, err = v.ValidateToken(context.Background(), key.Sign(t, jwttest.Claims("b", time.Hour), ""))
	assert.NoError(t, err)

	_, err = v.ValidateToken(context.Background(), key.Sign(t, jwttest.Claims("c", time.Hour), "kid-2"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrKeyNotFound))
}

func TestJWKSValidator_Invalid(t *testing.T) {
	t.Parallel()

	_, err := NewJWKSValidator("iss", []byte("{"))
	assert.Error(t, err)

	_, err = NewJWKSValidator("iss", []byte(`{"keys":[]}`))
	assert.ErrorIs(t, err, ErrNoVerificationKey)
}

func TestValidatorFactory(t *testing.T) {
	t.Parallel()

	key := jwttest.NewKey(t)
	dir := t.TempDir()
	certFile := filepath.Join(dir, "cert.pem")
	require.NoError(t, os.WriteFile(certFile, key.CertificatePEM, 0o600))
	jwksFile := filepath.Join(dir, "jwks.json")
	require.NoError(t, os.WriteFile(jwksFile, jwksDocument(t, key, "k"), 0o600))

	factory := NewValidatorFactory()
	token := key.Sign(t, jwttest.Claims("a", time.Hour), "k")

	specs := map[string]subscription.IssuerSpec{
		"inline certificate": {Issuer: jwttest.Issuer, Certificate: string(key.CertificatePEM)},
		"certificate file":   {Issuer: jwttest.Issuer, CertificateFile: certFile},
		"inline jwks":        {Issuer: jwttest.Issuer, JWKS: string(jwksDocument(t, key, "k"))},
		"jwks file":          {Issuer: jwttest.Issuer, JWKSFile: jwksFile},
	}
	for name, spec := range specs {
		t.Run(name, func(t *testing.T) {
			v, err := factory(testOrg, spec)
			require.NoError(t, err)
			_, err = v.ValidateToken(context.Background(), token)
			assert.NoError(t, err)
		})
	}

	_, err := factory(testOrg, subscription.IssuerSpec{Issuer: "x"})
	assert.ErrorIs(t, err, ErrNoVerificationKey)

	_, err = factory(testOrg, subscription.IssuerSpec{Issuer: "x", CertificateFile: filepath.Join(dir, "missing")})
	assert.Error(t, err)
}
