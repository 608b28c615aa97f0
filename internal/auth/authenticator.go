package auth

import "context"

// Authenticator names. They are also the token types recorded for downstream
// interceptors.
const (
	NameOAuth2      = "Oauth2"
	NameInternalKey = "Internal Key"
	NameMutualSSL   = "MutualSSL"
	NameUnsecured   = "Unsecured"
)

// Authenticator priorities. Lower values run first.
const (
	PriorityMutualSSL   = -20
	PriorityInternalKey = -10
	PriorityOAuth2      = 10
	PriorityUnsecured   = 100
)

// Authenticator validates one credential scheme.
type Authenticator interface {
	// Name identifies the scheme in logs, metrics and metadata.
	Name() string

	// Priority orders the chain; lower runs first.
	Priority() int

	// ChallengeString is the WWW-Authenticate fragment of the scheme. It may be empty.
	ChallengeString() string

	// CanAuthenticate reports whether the request carries a credential of
	// this scheme. It must be cheap and must not validate the credential.
	CanAuthenticate(rc *RequestContext) bool

	// Authenticate validates the credential. Failures are returned as *SecurityError.
	Authenticate(ctx context.Context, rc *RequestContext) (*AuthenticationContext, error)
}

// TransportAuthenticator is implemented by authenticators working on the
// connection rather than on request headers, such as mutual TLS.
type TransportAuthenticator interface {
	Authenticator
	Transport() bool
}

func isTransport(a Authenticator) bool {
	t, ok := a.(TransportAuthenticator)
	return ok && t.Transport()
}

// Outcome is the result of running one authenticator in the chain.
type Outcome struct {
	// Authenticated is true when the authenticator accepted the request.
	Authenticated bool
	// Mandatory is true when the decision of this authenticator cannot be
	// overridden by a later one.
	Mandatory bool
	// Terminal stops the chain after this authenticator.
	Terminal bool
}

// UnsecuredAuthenticator accepts requests to resources with security disabled.
type UnsecuredAuthenticator struct{}

// NewUnsecuredAuthenticator creates the unsecured authenticator.
func NewUnsecuredAuthenticator() *UnsecuredAuthenticator {
	return &UnsecuredAuthenticator{}
}

// Name implements Authenticator.
func (*UnsecuredAuthenticator) Name() string { return NameUnsecured }

// Priority implements Authenticator.
func (*UnsecuredAuthenticator) Priority() int { return PriorityUnsecured }

// ChallengeString implements Authenticator.
func (*UnsecuredAuthenticator) ChallengeString() string { return "" }

// CanAuthenticate is true only when every matched resource has security
// disabled and mutual TLS is not mandatory for the API.
func (*UnsecuredAuthenticator) CanAuthenticate(rc *RequestContext) bool {
	if rc.API == nil || len(rc.Resources) == 0 {
		return false
	}
	if _, mandatory := rc.API.MutualSSLEnabled(); mandatory {
		return false
	}
	for _, res := range rc.Resources {
		if !res.SecurityDisabled {
			return false
		}
	}
	return true
}

// Authenticate always succeeds with an anonymous identity.
func (*UnsecuredAuthenticator) Authenticate(_ context.Context, rc *RequestContext) (*AuthenticationContext, error) {
	return UnauthenticatedContext(rc.API), nil
}
