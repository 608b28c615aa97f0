package jwt

import (
	"context"
	"crypto"
	"errors"
	"fmt"
	"time"

	gojwt "github.com/golang-jwt/jwt/v5"
	"github.com/lestrrat-go/jwx/v2/jwk"

	"github.com/vyrodovalexey/enforcer/internal/keys"
	"github.com/vyrodovalexey/enforcer/internal/subscription"
)

var (
	// ErrNoVerificationKey indicates an issuer without certificate or JWKS.
	ErrNoVerificationKey = errors.New("no verification key configured")

	// ErrKeyNotFound indicates that no key in the JWK set matches the token.
	ErrKeyNotFound = errors.New("signing key not found")
)

// DefaultAlgorithms are the signature algorithms accepted from issuers.
// Symmetric algorithms are never accepted since issuers publish public keys.
var DefaultAlgorithms = []string{
	"RS256", "RS384", "RS512",
	"PS256", "PS384", "PS512",
	"ES256", "ES384", "ES512",
}

// IssuerOption configures an IssuerValidator.
type IssuerOption func(*IssuerValidator)

// WithLeeway sets the tolerance for time based claims.
func WithLeeway(leeway time.Duration) IssuerOption {
	return func(v *IssuerValidator) {
		v.leeway = leeway
	}
}

// WithAlgorithms restricts the accepted signature algorithms.
func WithAlgorithms(algorithms ...string) IssuerOption {
	return func(v *IssuerValidator) {
		if len(algorithms) > 0 {
			v.algorithms = algorithms
		}
	}
}

// IssuerValidator verifies the tokens of one issuer against a public key or
// a static JWK set. It implements subscription.TokenValidator.
type IssuerValidator struct {
	issuer     string
	key        crypto.PublicKey
	keySet     jwk.Set
	leeway     time.Duration
	algorithms []string
}

func newIssuerValidator(issuer string, opts []IssuerOption) *IssuerValidator {
	v := &IssuerValidator{
		issuer:     issuer,
		algorithms: DefaultAlgorithms,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// NewCertificateValidator creates a validator from a PEM certificate or
// public key. An empty issuer skips the iss check.
func NewCertificateValidator(issuer string, pemData []byte, opts ...IssuerOption) (*IssuerValidator, error) {
	key, err := keys.ParsePublicKey(pemData)
	if err != nil {
		return nil, err
	}
	v := newIssuerValidator(issuer, opts)
	v.key = key
	return v, nil
}

// NewJWKSValidator creates a validator from a JWK set document.
func NewJWKSValidator(issuer string, document []byte, opts ...IssuerOption) (*IssuerValidator, error) {
	set, err := jwk.Parse(document)
	if err != nil {
		return nil, fmt.Errorf("failed to parse JWKS: %w", err)
	}
	if set.Len() == 0 {
		return nil, fmt.Errorf("%w: JWKS has no keys", ErrNoVerificationKey)
	}
	v := newIssuerValidator(issuer, opts)
	v.keySet = set
	return v, nil
}

// ValidateToken implements subscription.TokenValidator. Expired tokens fail
// with subscription.ErrTokenExpired.
func (v *IssuerValidator) ValidateToken(ctx context.Context, token string) (map[string]any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	parserOpts := []gojwt.ParserOption{
		gojwt.WithValidMethods(v.algorithms),
		gojwt.WithLeeway(v.leeway),
		gojwt.WithExpirationRequired(),
	}
	if v.issuer != "" {
		parserOpts = append(parserOpts, gojwt.WithIssuer(v.issuer))
	}

	claims := gojwt.MapClaims{}
	if _, err := gojwt.ParseWithClaims(token, claims, v.keyFunc, parserOpts...); err != nil {
		if errors.Is(err, gojwt.ErrTokenExpired) {
			return nil, fmt.Errorf("%w: %w", subscription.ErrTokenExpired, err)
		}
		return nil, err
	}
	return claims, nil
}

func (v *IssuerValidator) keyFunc(token *gojwt.Token) (any, error) {
	if v.keySet == nil {
		return v.key, nil
	}

	var (
		key jwk.Key
		ok  bool
	)
	kid, _ := token.Header["kid"].(string)
	switch {
	case kid != "":
		key, ok = v.keySet.LookupKeyID(kid)
	case v.keySet.Len() == 1:
		key, ok = v.keySet.Key(0)
	}
	if !ok {
		return nil, fmt.Errorf("%w: kid %q", ErrKeyNotFound, kid)
	}

	var raw any
	if err := key.Raw(&raw); err != nil {
		return nil, fmt.Errorf("failed to export key %q: %w", kid, err)
	}
	return raw, nil
}

// NewValidatorFactory returns the factory the subscription loader uses to
// build issuer validators. Inline key material wins over files.
func NewValidatorFactory(opts ...IssuerOption) subscription.ValidatorFactory {
	return func(_ string, spec subscription.IssuerSpec) (subscription.TokenValidator, error) {
		switch {
		case spec.Certificate != "":
			return NewCertificateValidator(spec.Issuer, []byte(spec.Certificate), opts...)
		case spec.CertificateFile != "":
			data, err := keys.FileSource{Path: spec.CertificateFile}.Load(context.Background())
			if err != nil {
				return nil, err
			}
			return NewCertificateValidator(spec.Issuer, data, opts...)
		case spec.JWKS != "":
			return NewJWKSValidator(spec.Issuer, []byte(spec.JWKS), opts...)
		case spec.JWKSFile != "":
			data, err := keys.FileSource{Path: spec.JWKSFile}.Load(context.Background())
			if err != nil {
				return nil, err
			}
			return NewJWKSValidator(spec.Issuer, data, opts...)
		default:
			return nil, ErrNoVerificationKey
		}
	}
}
