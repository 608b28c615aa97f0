package authz

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/vyrodovalexey/enforcer/internal/auth"
	"github.com/vyrodovalexey/enforcer/internal/auth/jwt"
	"github.com/vyrodovalexey/enforcer/internal/observability"
	"github.com/vyrodovalexey/enforcer/internal/subscription"
)

// authzTracer is the OTEL tracer used for authorization checks.
var authzTracer = otel.Tracer("enforcer/authz")

// ValidationInfo identifies the API being called and the credential used.
type ValidationInfo struct {
	Organization   string
	APIName        string
	APIVersion     string
	APIContext     string
	ConsumerKey    string
	SecurityScheme string
	KeyType        string
	Environment    string
}

// SubscriptionResult describes the application and subscription that
// authorized a call.
type SubscriptionResult struct {
	ApplicationUUID  string
	ApplicationName  string
	Subscriber       string
	Attributes       map[string]string
	SubscriptionUUID string
	Tier             string
}

// KeyValidator performs scope and subscription checks against the
// subscription registry. It holds no per-request state.
type KeyValidator struct {
	registry *subscription.Registry
	logger   observability.Logger
	metrics  *Metrics
}

// Option configures a KeyValidator.
type Option func(*KeyValidator)

// WithLogger sets the logger.
func WithLogger(logger observability.Logger) Option {
	return func(v *KeyValidator) {
		v.logger = logger
	}
}

// WithMetrics sets the metrics.
func WithMetrics(metrics *Metrics) Option {
	return func(v *KeyValidator) {
		v.metrics = metrics
	}
}

// NewKeyValidator creates a validator reading from registry.
func NewKeyValidator(registry *subscription.Registry, opts ...Option) *KeyValidator {
	v := &KeyValidator{
		registry: registry,
		logger:   observability.NopLogger(),
	}
	for _, opt := range opts {
		opt(v)
	}
	if v.metrics == nil {
		v.metrics = NewMetrics("enforcer")
	}
	return v
}

// ValidateScopes requires every resource that declares scopes to share at
// least one with granted. The first failing resource is named in the error.
func (v *KeyValidator) ValidateScopes(ctx context.Context, resources []*auth.ResourceConfig, granted []string) error {
	_, span := authzTracer.Start(ctx, "authz.ValidateScopes",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attribute.Int("authz.resources", len(resources))),
	)
	defer span.End()

	err := validateScopes(resources, granted)
	v.metrics.record(checkScopes, err)
	if err != nil {
		observability.RecordSpanError(span, err)
		v.logger.Debug("scope validation failed", observability.Error(err))
	}
	return err
}

func validateScopes(resources []*auth.ResourceConfig, granted []string) error {
	have := make(map[string]struct{}, len(granted))
	for _, scope := range granted {
		have[scope] = struct{}{}
	}

	for _, res := range resources {
		if len(res.Scopes) == 0 {
			continue
		}
		matched := false
		for _, scope := range res.Scopes {
			if _, ok := have[scope]; ok {
				matched = true
				break
			}
		}
		if !matched {
			return auth.Forbidden(auth.CodeInvalidScope, fmt.Sprintf(messageInvalidScope, res.Path))
		}
	}
	return nil
}

// ValidateSubscriptionUsingConsumerKey resolves the application owning the
// consumer key and the subscription covering the requested API version.
func (v *KeyValidator) ValidateSubscriptionUsingConsumerKey(ctx context.Context, info *ValidationInfo) (*SubscriptionResult, error) {
	_, span := authzTracer.Start(ctx, "authz.ValidateSubscription",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			observability.OrgAttribute(info.Organization),
			attribute.String("authz.api", info.APIName),
			attribute.String("authz.version", info.APIVersion),
			attribute.String("authz.mode", checkConsumerKey),
		),
	)
	defer span.End()

	result, err := v.byConsumerKey(info)
	v.metrics.record(checkConsumerKey, err)
	if err != nil {
		observability.RecordSpanError(span, err)
	}
	return result, err
}

func (v *KeyValidator) byConsumerKey(info *ValidationInfo) (*SubscriptionResult, error) {
	store, ok := v.registry.Store(info.Organization)
	if !ok {
		v.logger.Error("subscription data store not found",
			observability.String("organization", info.Organization))
		return nil, auth.Internal(fmt.Errorf("%w: %s", ErrNoSubscriptionStore, info.Organization))
	}

	key := subscription.NewKeyMappingKey(info.ConsumerKey, info.KeyType, info.SecurityScheme, info.Environment)
	mapping, ok := store.KeyMapping(key)
	if !ok {
		v.logger.Debug("application key mapping not found",
			observability.String("consumer_key", info.ConsumerKey),
			observability.String("key_type", info.KeyType),
			observability.String("security_scheme", info.SecurityScheme),
		)
		return nil, forbidden()
	}

	app, ok := store.Application(mapping.ApplicationUUID)
	if !ok {
		v.logger.Debug("application not found",
			observability.String("application_uuid", mapping.ApplicationUUID))
		return nil, forbidden()
	}

	for _, sub := range store.SubscriptionsOf(app.UUID) {
		if sub.Matches(info.APIName, info.APIVersion) {
			return checkSubscription(app, sub)
		}
	}

	v.logger.Debug("no subscription matches the requested api",
		observability.String("application", app.Name),
		observability.String("application_uuid", app.UUID),
		observability.String("api", info.APIName),
		observability.String("version", info.APIVersion),
	)
	return nil, forbidden()
}

// ValidateSubscription authorizes a self-contained key whose claims embed
// the application reference. The subscription is looked up directly by
// application and API uuid.
func (v *KeyValidator) ValidateSubscription(ctx context.Context, org, apiUUID string, claims map[string]any) (*SubscriptionResult, error) {
	_, span := authzTracer.Start(ctx, "authz.ValidateSubscription",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			observability.OrgAttribute(org),
			attribute.String("authz.api_uuid", apiUUID),
			attribute.String("authz.mode", checkSelfContained),
		),
	)
	defer span.End()

	result, err := v.byApplicationClaim(org, apiUUID, claims)
	v.metrics.record(checkSelfContained, err)
	if err != nil {
		observability.RecordSpanError(span, err)
	}
	return result, err
}

func (v *KeyValidator) byApplicationClaim(org, apiUUID string, claims map[string]any) (*SubscriptionResult, error) {
	store, ok := v.registry.Store(org)
	if !ok {
		return nil, auth.Internal(fmt.Errorf("%w: %s", ErrNoSubscriptionStore, org))
	}

	appUUID := jwt.ApplicationUUID(claims)
	if appUUID == "" {
		v.logger.Debug("application claim not found in key")
		return nil, forbidden()
	}

	app, ok := store.Application(appUUID)
	if !ok {
		v.logger.Debug("application not found", observability.String("application_uuid", appUUID))
		return nil, forbidden()
	}

	sub, ok := store.SubscriptionFor(app.UUID, apiUUID)
	if !ok {
		v.logger.Debug("subscription not found for key",
			observability.String("application_uuid", app.UUID),
			observability.String("api_uuid", apiUUID),
		)
		return nil, forbidden()
	}
	return checkSubscription(app, sub)
}

// SubscriptionsForConsumerKey returns every subscription of the application
// owning the consumer key. It is used to attach rate-limit metadata and
// returns nil when anything along the way is missing.
func (v *KeyValidator) SubscriptionsForConsumerKey(org string, key subscription.KeyMappingKey) (*subscription.Application, []*subscription.Subscription) {
	store, ok := v.registry.Store(org)
	if !ok {
		return nil, nil
	}
	mapping, ok := store.KeyMapping(key)
	if !ok {
		return nil, nil
	}
	app, ok := store.Application(mapping.ApplicationUUID)
	if !ok {
		return nil, nil
	}
	return app, store.SubscriptionsOf(app.UUID)
}

func checkSubscription(app *subscription.Application, sub *subscription.Subscription) (*SubscriptionResult, error) {
	switch {
	case sub.IsInactive():
		return nil, auth.Forbidden(auth.CodeSubscriptionInactive, auth.MessageSubscriptionInactive)
	case sub.IsBlocked():
		return nil, auth.ServiceUnavailable(auth.MessageAPIBlocked)
	}

	return &SubscriptionResult{
		ApplicationUUID:  app.UUID,
		ApplicationName:  app.Name,
		Subscriber:       app.Owner,
		Attributes:       app.Attributes,
		SubscriptionUUID: sub.UUID,
		Tier:             sub.RatelimitTier,
	}, nil
}

func forbidden() error {
	return auth.Forbidden(auth.CodeForbidden, auth.MessageForbidden)
}
