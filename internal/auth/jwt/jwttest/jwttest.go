// Package jwttest mints keys, certificates and tokens for tests.
package jwttest

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"sync"
	"testing"
	"time"

	gojwt "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

// Issuer is the iss claim used by Claims.
const Issuer = "https://idp.example.com/oauth2/token"

// Key is an RSA key pair with a self-signed certificate.
type Key struct {
	Private        *rsa.PrivateKey
	Certificate    *x509.Certificate
	CertificatePEM []byte
}

// NewKey generates a 2048 bit key and a certificate valid for a day.
func NewKey(t testing.TB) *Key {
	t.Helper()

	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(time.Now().UnixNano()),
		Subject:      pkix.Name{CommonName: "enforcer-test"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(24 * time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth},
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &priv.PublicKey, priv)
	require.NoError(t, err)
	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)

	return &Key{
		Private:        priv,
		Certificate:    cert,
		CertificatePEM: pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}),
	}
}

// Sign signs claims with RS256. A non-empty kid is set in the header.
func (k *Key) Sign(t testing.TB, claims gojwt.MapClaims, kid string) string {
	t.Helper()

	token := gojwt.NewWithClaims(gojwt.SigningMethodRS256, claims)
	if kid != "" {
		token.Header["kid"] = kid
	}
	signed, err := token.SignedString(k.Private)
	require.NoError(t, err)
	return signed
}

// Claims returns claims issued by Issuer that expire after ttl.
func Claims(jti string, ttl time.Duration) gojwt.MapClaims {
	now := time.Now()
	claims := gojwt.MapClaims{
		"iss": Issuer,
		"sub": "admin@carbon.super",
		"iat": now.Unix(),
		"exp": now.Add(ttl).Unix(),
		"azp": "consumer-key-1",
	}
	if jti != "" {
		claims["jti"] = jti
	}
	return claims
}

// Validator is a subscription.TokenValidator returning preset claims and
// counting its invocations.
type Validator struct {
	Claims map[string]any
	Err    error

	// Block, when set, is waited on before returning.
	Block chan struct{}

	mu    sync.Mutex
	calls int
}

// ValidateToken returns the preset claims.
func (v *Validator) ValidateToken(ctx context.Context, _ string) (map[string]any, error) {
	v.mu.Lock()
	v.calls++
	v.mu.Unlock()

	if v.Block != nil {
		select {
		case <-v.Block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if v.Err != nil {
		return nil, v.Err
	}
	return v.Claims, nil
}

// Calls returns the number of ValidateToken invocations.
func (v *Validator) Calls() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.calls
}
