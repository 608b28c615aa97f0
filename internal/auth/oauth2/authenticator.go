package oauth2

import (
	"context"
	"strings"

	"github.com/vyrodovalexey/enforcer/internal/auth"
	"github.com/vyrodovalexey/enforcer/internal/auth/jwt"
	"github.com/vyrodovalexey/enforcer/internal/authz"
	"github.com/vyrodovalexey/enforcer/internal/config"
	"github.com/vyrodovalexey/enforcer/internal/observability"
	"github.com/vyrodovalexey/enforcer/internal/subscription"
)

// DefaultKeyManager names the key manager of anonymous applications when
// the issuer binding does not carry one.
const DefaultKeyManager = "Default"

const (
	bearerPrefix        = "bearer"
	challenge           = `Bearer realm="APK"`
	anonymousAppPrefix  = "anon:"
	messageInvalidKey   = "Invalid key type."
	messageNoConsumerID = "Invalid JWT token. Error while extracting consumer key from token"
)

// Authenticator validates bearer JWTs issued by registered key managers.
type Authenticator struct {
	engine              *jwt.Engine
	keyValidator        *authz.KeyValidator
	backend             *jwt.BackendGenerator
	mandateSubscription bool
	logger              observability.Logger
	events              *observability.SecurityEventLogger
}

// Option configures an Authenticator.
type Option func(*Authenticator)

// WithBackendGenerator enables backend JWT generation for accepted requests.
func WithBackendGenerator(generator *jwt.BackendGenerator) Option {
	return func(a *Authenticator) {
		a.backend = generator
	}
}

// WithMandatorySubscriptionValidation forces subscription validation for
// every API, whatever the API itself declares.
func WithMandatorySubscriptionValidation(mandate bool) Option {
	return func(a *Authenticator) {
		a.mandateSubscription = mandate
	}
}

// WithLogger sets the logger.
func WithLogger(logger observability.Logger) Option {
	return func(a *Authenticator) {
		a.logger = logger
	}
}

// WithSecurityEvents sets the logger for key type mismatches.
func WithSecurityEvents(events *observability.SecurityEventLogger) Option {
	return func(a *Authenticator) {
		a.events = events
	}
}

// New creates the OAuth2 authenticator.
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
func (*Authenticator) Name() string { return auth.NameOAuth2 }

// Priority implements auth.Authenticator.
func (*Authenticator) Priority() int { return auth.PriorityOAuth2 }

// ChallengeString implements auth.Authenticator.
func (*Authenticator) ChallengeString() string { return challenge }

// CanAuthenticate reports whether the token header holds something shaped
// like "Bearer <header>.<payload>.<signature>".
func (*Authenticator) CanAuthenticate(rc *auth.RequestContext) bool {
	_, ok := bearerToken(rc)
	return ok
}

// Authenticate validates the bearer token, then authorizes the request
// against subscriptions and scopes.
func (a *Authenticator) Authenticate(ctx context.Context, rc *auth.RequestContext) (*auth.AuthenticationContext, error) {
	token, ok := bearerToken(rc)
	if !ok {
		return nil, auth.Unauthenticated(auth.MessageMissingCredentials)
	}
	api := rc.API

	result, err := a.engine.Validate(ctx, token, api.Organization, api.Environment)
	if err != nil {
		return nil, err
	}

	if keyType := jwt.ClaimString(result.Claims, jwt.ClaimKeyType); keyType != "" && !strings.EqualFold(keyType, api.EnvType) {
		a.events.Report(observability.SecurityEventKeyTypeReplay, "token key type does not match the api",
			observability.String("key_type", keyType),
			observability.String("api_key_type", api.EnvType),
			observability.String("token", observability.MaskToken(token)),
		)
		return nil, auth.InvalidCredential(messageInvalidKey)
	}

	authCtx := &auth.AuthenticationContext{
		Authenticated: true,
		Username:      result.Subject,
		TokenType:     auth.NameOAuth2,
		RawToken:      token,
		TokenID:       result.Identifier,
		KeyType:       api.EnvType,
		ConsumerKey:   result.ConsumerKey,
		Scopes:        result.Scopes,
		KeyManager:    result.KeyManager,
		Issuer:        result.Issuer,
		Organization:  api.Organization,
	}

	if !api.SystemAPI && (a.mandateSubscription || api.SubscriptionValidation) {
		if result.ConsumerKey == "" {
			return nil, auth.InvalidCredential(messageNoConsumerID)
		}
		sub, err := a.keyValidator.ValidateSubscriptionUsingConsumerKey(ctx, &authz.ValidationInfo{
			Organization:   api.Organization,
			APIName:        api.Name,
			APIVersion:     api.Version,
			APIContext:     api.BasePath,
			ConsumerKey:    result.ConsumerKey,
			SecurityScheme: auth.SchemeOAuth2,
			KeyType:        api.EnvType,
			Environment:    api.Environment,
		})
		if err != nil {
			return nil, err
		}
		applySubscription(authCtx, sub)
	} else {
		keyManager := result.KeyManager
		if keyManager == "" {
			keyManager = DefaultKeyManager
		}
		authCtx.ApplicationName = anonymousAppPrefix + keyManager
		authCtx.Tier = subscription.UnlimitedTier
	}

	if err := a.keyValidator.ValidateScopes(ctx, rc.Resources, result.Scopes); err != nil {
		return nil, err
	}

	if a.backend != nil {
		backendToken, err := a.backend.Token(ctx, api.Organization, result.Identifier, backendClaims(api, authCtx))
		if err != nil {
			return nil, auth.Internal(err)
		}
		authCtx.BackendToken = backendToken
		rc.AddHeaders[a.backend.Header()] = backendToken
	}

	a.addRateLimitMetadata(rc, result.ConsumerKey)

	a.logger.Debug("oauth2 token accepted",
		observability.String("application", authCtx.ApplicationName),
		observability.String("key_manager", result.KeyManager),
	)
	return authCtx, nil
}

// addRateLimitMetadata records the rate-limit policy of every limited
// subscription of the application owning the consumer key.
func (a *Authenticator) addRateLimitMetadata(rc *auth.RequestContext, consumerKey string) {
	if consumerKey == "" {
		return
	}
	api := rc.API
	key := subscription.NewKeyMappingKey(consumerKey, api.EnvType, auth.SchemeOAuth2, api.Environment)
	app, subs := a.keyValidator.SubscriptionsForConsumerKey(api.Organization, key)
	if app == nil {
		return
	}
	for _, sub := range subs {
		if sub.RatelimitTier == "" || sub.RatelimitTier == subscription.UnlimitedTier {
			continue
		}
		rc.AddMetadata(auth.MetadataRateLimitSubscription, sub.SubscribedAPI.Name+":"+app.UUID)
		rc.AddMetadata(auth.MetadataRateLimitUsagePolicy, sub.RatelimitTier)
		rc.AddMetadata(auth.MetadataRateLimitOrganization, sub.Organization)
		rc.AddMetadata(auth.MetadataRateLimitOrganizationPolicy, sub.Organization+"-"+sub.RatelimitTier)
	}
}

func applySubscription(authCtx *auth.AuthenticationContext, sub *authz.SubscriptionResult) {
	authCtx.ApplicationUUID = sub.ApplicationUUID
	authCtx.ApplicationID = sub.ApplicationUUID
	authCtx.ApplicationName = sub.ApplicationName
	authCtx.ApplicationOwner = sub.Subscriber
	authCtx.SubscriptionUUID = sub.SubscriptionUUID
	authCtx.Tier = sub.Tier
}

func backendClaims(api *auth.APIConfig, authCtx *auth.AuthenticationContext) *jwt.BackendClaims {
	return &jwt.BackendClaims{
		Subject:          authCtx.Username,
		Subscriber:       authCtx.ApplicationOwner,
		EndUser:          authCtx.Username,
		ApplicationID:    authCtx.ApplicationID,
		ApplicationUUID:  authCtx.ApplicationUUID,
		ApplicationName:  authCtx.ApplicationName,
		APIName:          api.Name,
		APIContext:       api.BasePath,
		Version:          api.Version,
		SubscriptionTier: authCtx.Tier,
		KeyType:          api.EnvType,
		Organization:     api.Organization,
	}
}

// bearerToken extracts the JWT from the token header of the first matched
// resource. The value must be the bearer keyword followed by exactly one
// three-segment token.
func bearerToken(rc *auth.RequestContext) (string, bool) {
	if len(rc.Resources) == 0 || rc.Resources[0].OAuth2 == nil {
		return "", false
	}
	header := rc.Resources[0].OAuth2.Header
	if header == "" {
		header = config.DefaultTokenHeader
	}

	value := strings.TrimSpace(rc.Header(header))
	if len(value) < len(bearerPrefix) || !strings.EqualFold(value[:len(bearerPrefix)], bearerPrefix) {
		return "", false
	}
	fields := strings.Fields(value)
	if len(fields) != 2 || !strings.EqualFold(fields[0], bearerPrefix) {
		return "", false
	}
	if strings.Count(fields[1], ".") != 2 {
		return "", false
	}
	return fields[1], true
}
