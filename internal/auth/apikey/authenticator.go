package apikey

import (
	"context"
	"fmt"
	"strings"

	"github.com/vyrodovalexey/enforcer/internal/auth"
	"github.com/vyrodovalexey/enforcer/internal/auth/jwt"
	"github.com/vyrodovalexey/enforcer/internal/authz"
	"github.com/vyrodovalexey/enforcer/internal/config"
	"github.com/vyrodovalexey/enforcer/internal/observability"
	"github.com/vyrodovalexey/enforcer/internal/subscription"
)

// TokenTypeInternalKey is the token_type claim every internal key carries.
const TokenTypeInternalKey = "InternalKey"

// KeyManager is the key manager name recorded for internal keys.
const KeyManager = "Internal Key"

// Authenticator validates internal keys: JWTs signed by the gateway itself
// and presented in a dedicated header.
type Authenticator struct {
	engine       *jwt.Engine
	keyValidator *authz.KeyValidator
	backend      *jwt.BackendGenerator
	logger       observability.Logger
	events       *observability.SecurityEventLogger
}

// Option configures an Authenticator.
type Option func(*Authenticator)

// WithBackendGenerator enables backend JWT generation for accepted requests.
func WithBackendGenerator(generator *jwt.BackendGenerator) Option {
	return func(a *Authenticator) {
		a.backend = generator
	}
}

// WithLogger sets the logger.
func WithLogger(logger observability.Logger) Option {
	return func(a *Authenticator) {
		a.logger = logger
	}
}

// WithSecurityEvents sets the logger for token type mismatches.
func WithSecurityEvents(events *observability.SecurityEventLogger) Option {
	return func(a *Authenticator) {
		a.events = events
	}
}

// NewEngine builds the validation engine for internal keys. Keys are
// verified against the gateway's own certificate; issuer may be empty to
// accept any iss claim.
func NewEngine(issuer string, certificatePEM []byte, opts ...jwt.EngineOption) (*jwt.Engine, error) {
	validator, err := jwt.NewCertificateValidator(issuer, certificatePEM)
	if err != nil {
		return nil, fmt.Errorf("internal key certificate: %w", err)
	}
	return jwt.NewEngine(jwt.NewStaticResolver(&subscription.IssuerBinding{
		KeyManager: KeyManager,
		Issuer:     issuer,
		Validator:  validator,
	}), opts...), nil
}

// New creates the internal key authenticator.
func New(engine *jwt.Engine, keyValidator *authz.KeyValidator, opts ...Option) *Authenticator {
	a := &Authenticator{
		engine:       engine,
		keyValidator: keyValidator,
		logger:       observability.NopLogger(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Name implements auth.Authenticator.
func (*Authenticator) Name() string { return auth.NameInternalKey }

// Priority implements auth.Authenticator.
func (*Authenticator) Priority() int { return auth.PriorityInternalKey }

// ChallengeString implements auth.Authenticator. Internal keys have no
// challenge.
func (*Authenticator) ChallengeString() string { return "" }

// CanAuthenticate reports whether the internal key header holds a
// three-segment token.
func (*Authenticator) CanAuthenticate(rc *auth.RequestContext) bool {
	_, ok := internalKey(rc)
	return ok
}

// Authenticate validates the internal key and checks that it grants access
// to the requested API.
func (a *Authenticator) Authenticate(ctx context.Context, rc *auth.RequestContext) (*auth.AuthenticationContext, error) {
	token, ok := internalKey(rc)
	if !ok {
		return nil, auth.Unauthenticated(auth.MessageMissingCredentials)
	}
	api := rc.API

	// The type is checked before the signature so that an OAuth2 token
	// replayed into this header never reaches the caches.
	unverified, err := jwt.UnverifiedClaims(token)
	if err != nil {
		return nil, auth.InvalidCredential(auth.MessageInvalidCredentials).WithCause(err)
	}
	if tokenType := jwt.ClaimString(unverified, jwt.ClaimTokenType); tokenType != TokenTypeInternalKey {
		a.events.Report(observability.SecurityEventTokenTypeMiss, "token presented as internal key is not one",
			observability.String("token_type", tokenType),
			observability.String("token", observability.MaskToken(token)),
		)
		return nil, auth.InvalidCredential(auth.MessageInvalidCredentials)
	}

	result, err := a.engine.Validate(ctx, token, api.Organization, api.Environment)
	if err != nil {
		return nil, err
	}

	authCtx := &auth.AuthenticationContext{
		Authenticated: true,
		Username:      result.Subject,
		TokenType:     auth.NameInternalKey,
		RawToken:      token,
		TokenID:       result.Identifier,
		KeyType:       api.EnvType,
		KeyManager:    result.KeyManager,
		Issuer:        result.Issuer,
		Organization:  api.Organization,
	}

	if err := a.authorize(ctx, api, result.Claims, authCtx); err != nil {
		return nil, err
	}

	if a.backend != nil {
		backendToken, err := a.backend.Token(ctx, api.Organization, result.Identifier, &jwt.BackendClaims{
			Subject:          authCtx.Username,
			EndUser:          authCtx.Username,
			Subscriber:       authCtx.ApplicationOwner,
			ApplicationUUID:  authCtx.ApplicationUUID,
			ApplicationName:  authCtx.ApplicationName,
			APIName:          api.Name,
			APIContext:       api.BasePath,
			Version:          api.Version,
			SubscriptionTier: authCtx.Tier,
			KeyType:          api.EnvType,
			Organization:     api.Organization,
		})
		if err != nil {
			return nil, auth.Internal(err)
		}
		authCtx.BackendToken = backendToken
		rc.AddHeaders[a.backend.Header()] = backendToken
	}

	a.logger.Debug("internal key accepted",
		observability.String("api", api.Name),
		observability.String("subject", authCtx.Username),
	)
	return authCtx, nil
}

// authorize checks the subscribedAPIs claim, or the embedded application
// reference when the key has no such claim.
func (a *Authenticator) authorize(
	ctx context.Context,
	api *auth.APIConfig,
	claims map[string]any,
	authCtx *auth.AuthenticationContext,
) error {
	if subscribed, present := SubscribedAPIs(claims); present {
		for _, s := range subscribed {
			if s.Covers(api.Name, api.Version) {
				authCtx.ApplicationName = jwt.ClaimString(applicationClaim(claims), "name")
				authCtx.ApplicationUUID = jwt.ApplicationUUID(claims)
				authCtx.Tier = s.Tier
				return nil
			}
		}
		a.logger.Debug("internal key is not valid for the api",
			observability.String("api", api.Name),
			observability.String("version", api.Version),
		)
		return auth.Forbidden(auth.CodeForbidden, auth.MessageForbidden)
	}

	if jwt.ApplicationUUID(claims) == "" {
		return auth.Forbidden(auth.CodeForbidden, auth.MessageForbidden)
	}
	sub, err := a.keyValidator.ValidateSubscription(ctx, api.Organization, api.UUID, claims)
	if err != nil {
		return err
	}
	authCtx.ApplicationUUID = sub.ApplicationUUID
	authCtx.ApplicationID = sub.ApplicationUUID
	authCtx.ApplicationName = sub.ApplicationName
	authCtx.ApplicationOwner = sub.Subscriber
	authCtx.SubscriptionUUID = sub.SubscriptionUUID
	authCtx.Tier = sub.Tier
	return nil
}

func applicationClaim(claims map[string]any) map[string]any {
	app, _ := claims[jwt.ClaimApplication].(map[string]any)
	return app
}

// internalKey returns the token in the internal key header of the first
// matched resource.
func internalKey(rc *auth.RequestContext) (string, bool) {
	if len(rc.Resources) == 0 || rc.Resources[0].InternalKey == nil {
		return "", false
	}
	header := rc.Resources[0].InternalKey.Header
	if header == "" {
		header = config.DefaultInternalKeyHeader
	}
	token := strings.TrimSpace(rc.Header(header))
	if token == "" || strings.Count(token, ".") != 2 {
		return "", false
	}
	return token, true
}
