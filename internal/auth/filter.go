package auth

import (
	"context"
	"sort"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/vyrodovalexey/enforcer/internal/observability"
)

// HeaderWWWAuthenticate carries the challenge of a rejected request.
const HeaderWWWAuthenticate = "WWW-Authenticate"

const challengeSuffix = `, error="invalid_token", error_description="The provided token is invalid"`

// Filter runs the authenticator chain of one API.
type Filter struct {
	api                *APIConfig
	authenticators     []Authenticator
	clientCertHeader   string
	forwardCertificate bool
	mutualSSLMandatory bool
	oauth2Mandatory    bool
	apiKeyMandatory    bool
	logger             observability.Logger
	metrics            *Metrics
	tracer             trace.Tracer
}

// FilterOption configures a Filter.
type FilterOption func(*Filter)

// WithAuthenticators adds authenticators to the chain. Transport
// authenticators are dropped when mutual TLS does not apply to the API.
func WithAuthenticators(authenticators ...Authenticator) FilterOption {
	return func(f *Filter) {
		f.authenticators = append(f.authenticators, authenticators...)
	}
}

// WithClientCertificateHeader sets the header carrying the client
// certificate and whether it is forwarded upstream.
func WithClientCertificateHeader(header string, forward bool) FilterOption {
	return func(f *Filter) {
		f.clientCertHeader = header
		f.forwardCertificate = forward
	}
}

// WithFilterLogger sets the logger.
func WithFilterLogger(logger observability.Logger) FilterOption {
	return func(f *Filter) {
		f.logger = logger
	}
}

// WithFilterMetrics sets the metrics.
func WithFilterMetrics(metrics *Metrics) FilterOption {
	return func(f *Filter) {
		f.metrics = metrics
	}
}

// NewFilter builds the chain for api. The unsecured authenticator is always
// part of the chain. Authenticators are ordered by priority; equal
// priorities keep the order they were given in.
func NewFilter(api *APIConfig, opts ...FilterOption) *Filter {
	f := &Filter{
		api:    api,
		logger: observability.NopLogger(),
		tracer: otel.Tracer("enforcer/auth"),
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.metrics == nil {
		f.metrics = NewMetrics("enforcer")
	}

	mtlsEnabled, mtlsMandatory := api.MutualSSLEnabled()
	f.mutualSSLMandatory = mtlsMandatory
	f.oauth2Mandatory = api.OAuth2Mandatory()
	f.apiKeyMandatory = api.APIKeyMandatory()

	chain := make([]Authenticator, 0, len(f.authenticators)+1)
	hasUnsecured := false
	for _, a := range f.authenticators {
		if isTransport(a) && !mtlsEnabled {
			continue
		}
		if _, ok := a.(*UnsecuredAuthenticator); ok {
			hasUnsecured = true
		}
		chain = append(chain, a)
	}
	if !hasUnsecured {
		chain = append(chain, NewUnsecuredAuthenticator())
	}
	sort.SliceStable(chain, func(i, j int) bool {
		return chain[i].Priority() < chain[j].Priority()
	})
	f.authenticators = chain

	return f
}

// Authenticators returns the ordered chain.
func (f *Filter) Authenticators() []Authenticator {
	return f.authenticators
}

// Authenticate runs the chain for rc and reports whether the request may be
// forwarded. On success rc carries the authentication context; on failure it
// carries the error and the WWW-Authenticate challenge.
func (f *Filter) Authenticate(ctx context.Context, rc *RequestContext) bool {
	start := time.Now()
	ctx, span := f.tracer.Start(ctx, "auth.Filter.Authenticate",
		trace.WithAttributes(
			attribute.String("enforcer.api", f.api.Name),
			attribute.String("enforcer.api_version", f.api.Version),
			observability.OrgAttribute(f.api.Organization),
		),
	)
	defer span.End()

	logger := f.logger.WithContext(ctx).With(
		observability.String("api", f.api.Name),
		observability.String("api_version", f.api.Version),
		observability.String("request_id", rc.RequestID),
	)

	f.removeCredentialHeaders(rc)
	f.addAPIMetadata(rc)

	if f.api.LifecycleState == LifecyclePrototyped && !f.api.Mocked {
		f.metrics.RecordDecision("bypass", time.Since(start))
		return true
	}

	authenticated := false
	// attempted stays false when no application level credential was
	// presented; mutual TLS does not count.
	attempted := false

	for _, a := range f.authenticators {
		transport := isTransport(a)

		if !a.CanAuthenticate(rc) {
			if transport && f.mutualSSLMandatory {
				logger.Debug("mandatory mutual TLS credential missing")
				authenticated = false
				break
			}
			if !transport && (f.oauth2Mandatory || f.apiKeyMandatory) {
				// A mandatory scheme without a credential fails the request
				// unless a later authenticator succeeds.
				authenticated = false
			}
			continue
		}

		if !transport {
			attempted = true
		}
		outcome := f.run(ctx, a, rc, logger)
		authenticated = outcome.Authenticated
		if outcome.Terminal {
			break
		}
	}

	if authenticated {
		rc.setError(nil)
		f.metrics.RecordDecision("allow", time.Since(start))
		return true
	}

	if rc.Error() == nil {
		if attempted {
			rc.setError(InvalidCredential(MessageInvalidCredentials))
		} else {
			rc.setError(Unauthenticated(MessageMissingCredentials))
		}
	}
	rc.ResponseHeaders[HeaderWWWAuthenticate] = f.challenge()

	secErr := rc.Error()
	span.SetAttributes(
		attribute.String("enforcer.auth.failure", secErr.Kind.String()),
		attribute.Int("enforcer.auth.code", secErr.Code),
	)
	f.metrics.RecordFailure(secErr.Kind)
	f.metrics.RecordDecision("deny", time.Since(start))
	logger.Debug("none of the authenticators accepted the request",
		observability.String("kind", secErr.Kind.String()),
		observability.Int("code", secErr.Code),
	)
	return false
}

// run invokes one authenticator and interprets its result.
func (f *Filter) run(ctx context.Context, a Authenticator, rc *RequestContext, logger observability.Logger) Outcome {
	transport := isTransport(a)

	authCtx, err := a.Authenticate(ctx, rc)
	if err == nil && authCtx == nil {
		err = Internal(nil)
	}
	if authCtx != nil {
		rc.authContext = authCtx
		f.addAuthMetadata(a, rc, authCtx)
	}

	success := err == nil && authCtx.Authenticated
	f.metrics.RecordAttempt(a.Name(), success)

	if success {
		logger.Debug("authentication succeeded", observability.String("authenticator", a.Name()))
		if transport {
			// Mutual TLS alone is enough unless the resource also requires a
			// mandatory application level credential.
			appSecurityEnabled := len(rc.Resources) > 0 && !rc.Resources[0].SecurityDisabled
			return Outcome{
				Authenticated: true,
				Mandatory:     f.mutualSSLMandatory,
				Terminal:      !(appSecurityEnabled && (f.oauth2Mandatory || f.apiKeyMandatory)),
			}
		}
		return Outcome{
			Authenticated: true,
			Mandatory:     f.oauth2Mandatory && f.apiKeyMandatory,
			Terminal:      true,
		}
	}

	if err != nil {
		secErr := AsSecurityError(err)
		rc.setError(secErr)
		fields := []observability.Field{
			observability.String("authenticator", a.Name()),
			observability.String("kind", secErr.Kind.String()),
			observability.Int("code", secErr.Code),
		}
		if secErr.Kind == KindInternalError {
			logger.Error("authenticator failed unexpectedly", append(fields, observability.Error(err))...)
		} else {
			logger.Debug("authentication failed", append(fields, observability.Error(err))...)
		}
	}

	if transport {
		return Outcome{Authenticated: false, Mandatory: f.mutualSSLMandatory, Terminal: true}
	}
	return Outcome{Authenticated: false, Mandatory: f.oauth2Mandatory || f.mutualSSLMandatory}
}

func (f *Filter) challenge() string {
	var sb strings.Builder
	for _, a := range f.authenticators {
		sb.WriteString(a.ChallengeString())
		sb.WriteByte(' ')
	}
	return strings.TrimSpace(sb.String()) + challengeSuffix
}

// removeCredentialHeaders queues credentials that must not reach the upstream.
func (f *Filter) removeCredentialHeaders(rc *RequestContext) {
	for _, res := range rc.Resources {
		if res.OAuth2 != nil && !res.OAuth2.SendTokenToUpstream {
			rc.RemoveHeader(res.OAuth2.Header)
		}
		if res.InternalKey != nil {
			rc.RemoveHeader(res.InternalKey.Header)
		}
		for _, key := range res.APIKeys {
			if key.SendTokenToUpstream {
				continue
			}
			switch key.In {
			case InHeader:
				rc.RemoveHeader(key.Name)
			case InQuery:
				rc.RemoveQueryParam(key.Name)
			}
		}
	}
	if f.clientCertHeader != "" && !f.forwardCertificate {
		rc.RemoveHeader(f.clientCertHeader)
	}
}

func (f *Filter) addAPIMetadata(rc *RequestContext) {
	rc.AddMetadata(MetadataAPIBasePath, f.api.BasePath)
	rc.AddMetadata(MetadataAPIVersion, f.api.Version)
	rc.AddMetadata(MetadataAPIName, f.api.Name)
	rc.AddMetadata(MetadataAPIVhost, f.api.Vhost)
	rc.AddMetadata(MetadataOrganizationID, f.api.Organization)
	rc.AddMetadata(MetadataEnvironment, f.api.Environment)
}

func (f *Filter) addAuthMetadata(a Authenticator, rc *RequestContext, authCtx *AuthenticationContext) {
	rc.AddMetadata(MetadataTokenType, a.Name())
	rc.AddMetadata(MetadataToken, authCtx.RawToken)
	rc.AddMetadata(MetadataKeyType, f.api.EnvType)
}
