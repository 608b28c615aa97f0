package jwt

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	gojwt "github.com/golang-jwt/jwt/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"github.com/vyrodovalexey/enforcer/internal/auth"
	"github.com/vyrodovalexey/enforcer/internal/observability"
	"github.com/vyrodovalexey/enforcer/internal/subscription"
)

const engineTracerName = "enforcer/jwt"

// Engine error messages returned to clients.
const (
	MessageNotJWT        = "Not a JWT token. Failed to decode the token header"
	MessageInvalidJWT    = "Invalid JWT token"
	MessageMissingExpiry = "Invalid JWT token. Expiry claim is missing"
)

// ErrUnknownIssuer is the cause attached when no validator is bound to the
// token's issuer.
var ErrUnknownIssuer = errors.New("no validator registered for issuer")

// Resolver finds the validator bound to a token issuer.
type Resolver interface {
	ResolveIssuer(org, issuer, env string) (*subscription.IssuerBinding, bool)
}

// RevocationChecker reports whether a token identifier has been revoked.
type RevocationChecker interface {
	IsRevoked(id string) bool
}

// RegistryResolver resolves issuers from the subscription registry.
type RegistryResolver struct {
	registry *subscription.Registry
}

// NewRegistryResolver creates a resolver backed by registry.
func NewRegistryResolver(registry *subscription.Registry) *RegistryResolver {
	return &RegistryResolver{registry: registry}
}

// ResolveIssuer implements Resolver.
func (r *RegistryResolver) ResolveIssuer(org, issuer, env string) (*subscription.IssuerBinding, bool) {
	store, ok := r.registry.Store(org)
	if !ok {
		return nil, false
	}
	return store.Issuer(issuer, env)
}

// StaticResolver serves a single binding for every organization. It backs
// keys signed by the enforcer's own control plane.
type StaticResolver struct {
	binding *subscription.IssuerBinding
}

// NewStaticResolver creates a resolver for binding. When the binding names
// an issuer only tokens carrying that issuer resolve.
func NewStaticResolver(binding *subscription.IssuerBinding) *StaticResolver {
	return &StaticResolver{binding: binding}
}

// ResolveIssuer implements Resolver.
func (r *StaticResolver) ResolveIssuer(_, issuer, _ string) (*subscription.IssuerBinding, bool) {
	if r.binding == nil {
		return nil, false
	}
	if r.binding.Issuer != "" && r.binding.Issuer != issuer {
		return nil, false
	}
	return r.binding, true
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithCaches enables result caching. Without caches every call performs a
// full validation.
func WithCaches(caches *CacheRegistry) EngineOption {
	return func(e *Engine) {
		e.caches = caches
	}
}

// WithRevocation sets the revoked-token set consulted before any cache.
func WithRevocation(checker RevocationChecker) EngineOption {
	return func(e *Engine) {
		e.revoked = checker
	}
}

// WithClockSkew sets the tolerance applied to expiry checks.
func WithClockSkew(skew time.Duration) EngineOption {
	return func(e *Engine) {
		if skew >= 0 {
			e.skew = skew
		}
	}
}

// WithLogger sets the engine logger.
func WithLogger(logger observability.Logger) EngineOption {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithSecurityEvents sets the logger for tamper and revocation events.
func WithSecurityEvents(events *observability.SecurityEventLogger) EngineOption {
	return func(e *Engine) {
		e.events = events
	}
}

// WithMetrics sets the engine metrics.
func WithMetrics(metrics *Metrics) EngineOption {
	return func(e *Engine) {
		e.metrics = metrics
	}
}

// WithClock overrides the wall clock.
func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// Engine validates tokens cache-first. It is safe for concurrent use.
type Engine struct {
	resolver Resolver
	caches   *CacheRegistry
	revoked  RevocationChecker
	skew     time.Duration
	logger   observability.Logger
	events   *observability.SecurityEventLogger
	metrics  *Metrics
	now      func() time.Time
	tracer   trace.Tracer
	flight   singleflight.Group
}

// NewEngine creates an engine resolving issuers with resolver.
func NewEngine(resolver Resolver, opts ...EngineOption) *Engine {
	e := &Engine{
		resolver: resolver,
		logger:   observability.NopLogger(),
		now:      time.Now,
		tracer:   otel.Tracer(engineTracerName),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.metrics == nil {
		e.metrics = NewMetrics("enforcer")
	}
	return e
}

// ClockSkew returns the configured expiry tolerance.
func (e *Engine) ClockSkew() time.Duration {
	return e.skew
}

// Validate checks token for org in env and returns the validation result.
// Every failure is an *auth.SecurityError.
func (e *Engine) Validate(ctx context.Context, token, org, env string) (*ValidationResult, error) {
	ctx, span := e.tracer.Start(ctx, "jwt.Engine.Validate",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(observability.OrgAttribute(org)),
	)
	defer span.End()

	result, err := e.validate(ctx, token, org, env)
	if err != nil {
		observability.RecordSpanError(span, err)
	}
	return result, err
}

func (e *Engine) validate(ctx context.Context, token, org, env string) (*ValidationResult, error) {
	parsed, err := parseToken(token)
	if err != nil {
		e.metrics.recordValidation(resultInvalid)
		return nil, auth.NewSecurityError(auth.KindUnauthenticated, auth.CodeInvalidCredentials, MessageNotJWT).
			WithCause(err)
	}

	if e.revoked != nil && e.revoked.IsRevoked(parsed.id) {
		e.metrics.recordValidation(resultRevoked)
		e.events.Report(observability.SecurityEventRevokedToken, "revoked token presented",
			observability.String("organization", org),
			observability.String("token", observability.MaskToken(token)),
		)
		return nil, auth.InvalidCredential(MessageInvalidJWT)
	}

	var caches *Caches
	if e.caches != nil {
		caches = e.caches.For(org)
		if result, hit, err := e.lookup(ctx, caches, parsed, org); hit {
			return result, err
		}
	}

	return e.validateOnce(ctx, parsed, org, env, caches)
}

// lookup serves a request from the caches. hit is false when a full
// validation is required.
func (e *Engine) lookup(ctx context.Context, caches *Caches, p *parsedToken, org string) (*ValidationResult, bool, error) {
	cached, ok := caches.Valid.Peek(p.id)
	if ok {
		if cached.Token != p.raw {
			// A known identifier with a different body. Nothing is written so
			// the forged token can never displace the genuine entry.
			e.metrics.recordValidation(resultTampered)
			e.events.Report(observability.SecurityEventTamperedToken, "token identifier presented with a different body",
				observability.String("organization", org),
				observability.String("token", observability.MaskToken(p.raw)),
			)
			return nil, true, auth.InvalidCredential(MessageInvalidJWT)
		}

		caches.Valid.Get(ctx, p.id)
		if cached.Expired(e.now(), e.skew) {
			caches.Valid.Remove(ctx, p.id)
			caches.Invalid.Add(ctx, p.id, Rejection{Token: p.raw, Kind: auth.KindExpired})
			e.metrics.recordValidation(resultExpired)
			e.logger.Debug("cached token expired",
				observability.String("organization", org),
				observability.String("token", observability.MaskToken(p.raw)),
			)
			return nil, true, auth.Expired()
		}

		e.metrics.recordValidation(resultCached)
		return cached, true, nil
	}

	if rejected, ok := caches.Invalid.Get(ctx, p.id); ok && rejected.Token == p.raw {
		e.metrics.recordValidation(resultInvalid)
		e.logger.Debug("token found in invalid cache",
			observability.String("organization", org),
			observability.String("reason", rejected.Kind.String()),
		)
		return nil, true, auth.InvalidCredential(auth.MessageInvalidCredentials)
	}

	return nil, false, nil
}

// validateOnce collapses concurrent validations of the same token into one
// call to the issuer's validator.
func (e *Engine) validateOnce(
	ctx context.Context,
	p *parsedToken,
	org, env string,
	caches *Caches,
) (*ValidationResult, error) {
	ch := e.flight.DoChan(org+"\x00"+p.raw, func() (any, error) {
		return e.verify(ctx, p, org, env, caches)
	})

	select {
	case <-ctx.Done():
		return nil, auth.Internal(ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			if isContextError(res.Err) {
				// The caller that started the flight gave up. Retry on our
				// own context if it is still alive.
				if ctx.Err() == nil {
					return e.verify(ctx, p, org, env, caches)
				}
				return nil, auth.Internal(res.Err)
			}
			return nil, res.Err
		}
		return res.Val.(*ValidationResult), nil
	}
}

func (e *Engine) verify(
	ctx context.Context,
	p *parsedToken,
	org, env string,
	caches *Caches,
) (*ValidationResult, error) {
	binding, ok := e.resolver.ResolveIssuer(org, p.issuer, env)
	if !ok || binding.Validator == nil {
		// Not cached: the issuer may be bound by the next snapshot.
		e.metrics.recordValidation(resultInvalid)
		e.logger.Debug("no validator for token issuer",
			observability.String("organization", org),
			observability.String("issuer", p.issuer),
			observability.String("environment", env),
		)
		return nil, auth.InvalidCredential(auth.MessageInvalidCredentials).
			WithCause(fmt.Errorf("%w: %q", ErrUnknownIssuer, p.issuer))
	}

	start := time.Now()
	claims, err := binding.Validator.ValidateToken(ctx, p.raw)
	e.metrics.observeDuration(time.Since(start))

	if ctxErr := ctx.Err(); ctxErr != nil {
		e.metrics.recordValidation(resultError)
		return nil, ctxErr
	}

	if err != nil {
		if errors.Is(err, subscription.ErrTokenExpired) {
			e.reject(ctx, caches, p, auth.KindExpired)
			return nil, auth.Expired().WithCause(err)
		}
		e.reject(ctx, caches, p, auth.KindInvalidCredential)
		e.logger.Debug("token signature validation failed",
			observability.String("organization", org),
			observability.String("issuer", p.issuer),
			observability.Error(err),
		)
		return nil, auth.InvalidCredential(auth.MessageInvalidCredentials).WithCause(err)
	}

	result := newResult(p, binding, claims)
	if result.ExpiresAt.IsZero() {
		e.reject(ctx, caches, p, auth.KindInvalidCredential)
		return nil, auth.InvalidCredential(MessageMissingExpiry)
	}
	if result.Expired(e.now(), e.skew) {
		e.reject(ctx, caches, p, auth.KindExpired)
		return nil, auth.Expired()
	}

	if caches != nil {
		caches.Valid.Add(ctx, p.id, result)
	}
	e.metrics.recordValidation(resultValid)
	return result, nil
}

func (e *Engine) reject(ctx context.Context, caches *Caches, p *parsedToken, kind auth.Kind) {
	if kind == auth.KindExpired {
		e.metrics.recordValidation(resultExpired)
	} else {
		e.metrics.recordValidation(resultInvalid)
	}
	if caches != nil {
		caches.Invalid.Add(ctx, p.id, Rejection{Token: p.raw, Kind: kind})
	}
}

func newResult(p *parsedToken, binding *subscription.IssuerBinding, claims map[string]any) *ValidationResult {
	consumerKeyClaim := binding.ConsumerKeyClaim
	if consumerKeyClaim == "" {
		consumerKeyClaim = ClaimAuthorizedParty
	}
	consumerKey := ClaimString(claims, consumerKeyClaim)
	if consumerKey == "" && binding.ConsumerKeyClaim == "" {
		consumerKey = ClaimString(claims, ClaimClientID)
	}

	scopesClaim := binding.ScopesClaim
	if scopesClaim == "" {
		scopesClaim = ClaimScope
	}

	return &ValidationResult{
		Valid:       true,
		Token:       p.raw,
		Identifier:  p.id,
		Issuer:      p.issuer,
		KeyManager:  binding.KeyManager,
		Subject:     ClaimString(claims, ClaimSubject),
		ConsumerKey: consumerKey,
		Scopes:      ClaimStrings(claims, scopesClaim),
		Claims:      claims,
		ExpiresAt:   ClaimTime(claims, ClaimExpiry),
	}
}

type parsedToken struct {
	raw    string
	id     string
	issuer string
	claims map[string]any
}

// parseToken decodes the token without verifying it to find its identifier
// and issuer.
func parseToken(token string) (*parsedToken, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return nil, gojwt.ErrTokenMalformed
	}

	claims := gojwt.MapClaims{}
	if _, _, err := gojwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil, err
	}

	id := ClaimString(claims, ClaimJWTID)
	if id == "" {
		id = parts[2]
	}
	return &parsedToken{
		raw:    token,
		id:     id,
		issuer: ClaimString(claims, ClaimIssuer),
		claims: claims,
	}, nil
}

// Identifier returns the stable identifier of token: its jti claim or its
// signature segment.
func Identifier(token string) (string, error) {
	p, err := parseToken(token)
	if err != nil {
		return "", err
	}
	return p.id, nil
}

// UnverifiedClaims decodes the claims of token without checking its
// signature. They must only drive decisions that reject a token.
func UnverifiedClaims(token string) (map[string]any, error) {
	p, err := parseToken(token)
	if err != nil {
		return nil, err
	}
	return p.claims, nil
}

func isContextError(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
