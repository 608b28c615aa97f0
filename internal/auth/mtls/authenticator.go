package mtls

import (
	"context"
	"crypto/x509"
	"errors"

	"github.com/vyrodovalexey/enforcer/internal/auth"
	"github.com/vyrodovalexey/enforcer/internal/observability"
	"github.com/vyrodovalexey/enforcer/internal/subscription"
)

// Authenticator accepts requests whose client certificate is trusted by the
// API. It works on the connection, so the filter treats its decision as
// final when mutual TLS is mandatory.
type Authenticator struct {
	validator *Validator
	header    string
	logger    observability.Logger
}

// Option configures an Authenticator.
type Option func(*Authenticator)

// WithCertificateHeader reads the certificate from header when the
// connection did not carry one, as when TLS terminates at the proxy.
func WithCertificateHeader(header string) Option {
	return func(a *Authenticator) {
		a.header = header
	}
}

// WithLogger sets the logger.
func WithLogger(logger observability.Logger) Option {
	return func(a *Authenticator) {
		a.logger = logger
	}
}

// New creates the mutual TLS authenticator.
func New(validator *Validator, opts ...Option) *Authenticator {
	a := &Authenticator{
		validator: validator,
		logger:    observability.NopLogger(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Name implements auth.Authenticator.
func (*Authenticator) Name() string { return auth.NameMutualSSL }

// Priority implements auth.Authenticator.
func (*Authenticator) Priority() int { return auth.PriorityMutualSSL }

// ChallengeString implements auth.Authenticator.
func (*Authenticator) ChallengeString() string { return "" }

// Transport implements auth.TransportAuthenticator.
func (*Authenticator) Transport() bool { return true }

// CanAuthenticate reports whether a client certificate was presented.
func (a *Authenticator) CanAuthenticate(rc *auth.RequestContext) bool {
	return rc.ClientCertificate != nil || (a.header != "" && rc.Header(a.header) != "")
}

// Authenticate validates the client certificate against the certificates
// configured for the API.
func (a *Authenticator) Authenticate(ctx context.Context, rc *auth.RequestContext) (*auth.AuthenticationContext, error) {
	cert, err := a.certificate(rc)
	if err != nil {
		return nil, err
	}

	info, err := a.validator.Validate(ctx, cert, rc.API.ClientCertificates)
	if err != nil {
		a.logger.Debug("client certificate rejected",
			observability.String("subject", cert.Subject.String()),
			observability.Error(err),
		)
		return nil, auth.InvalidCredential(auth.MessageInvalidCredentials).WithCause(err)
	}

	return &auth.AuthenticationContext{
		Authenticated: true,
		Username:      info.SubjectDN,
		TokenType:     auth.NameMutualSSL,
		TokenID:       info.Fingerprint,
		KeyType:       rc.API.EnvType,
		Organization:  rc.API.Organization,
		Tier:          subscription.UnlimitedTier,
	}, nil
}

func (a *Authenticator) certificate(rc *auth.RequestContext) (*x509.Certificate, error) {
	if rc.ClientCertificate != nil {
		return rc.ClientCertificate, nil
	}
	if a.header == "" {
		return nil, auth.Unauthenticated(auth.MessageMissingCredentials)
	}
	cert, err := ParseHeaderCertificate(rc.Header(a.header))
	if errors.Is(err, ErrNoCertificate) {
		return nil, auth.Unauthenticated(auth.MessageMissingCredentials)
	}
	if err != nil {
		return nil, auth.InvalidCredential(auth.MessageInvalidCredentials).WithCause(err)
	}
	return cert, nil
}
