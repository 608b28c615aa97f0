package subscription

import (
	"context"
	"errors"
	"regexp"
	"strings"
)

// Subscription states.
const (
	StatusActive   = "ACTIVE"
	StatusInactive = "INACTIVE"
	StatusBlocked  = "BLOCKED"
)

// UnlimitedTier is the rate-limit tier that carries no rate-limit metadata.
const UnlimitedTier = "Unlimited"

// AllEnvironments matches any gateway environment in key mappings and
// issuer bindings.
const AllEnvironments = "*"

// ErrTokenExpired is returned by a TokenValidator when the token is well
// formed and correctly signed but past its expiry.
var ErrTokenExpired = errors.New("token expired")

// TokenValidator verifies a token issued by one key manager and returns its
// claims.
type TokenValidator interface {
	ValidateToken(ctx context.Context, token string) (map[string]any, error)
}

// Application is a consumer application registered in the developer portal.
type Application struct {
	UUID       string            `yaml:"uuid"`
	Name       string            `yaml:"name"`
	Owner      string            `yaml:"owner"`
	Attributes map[string]string `yaml:"attributes"`
}

// ApplicationKeyMapping binds a consumer key to an application for one key
// type, security scheme and environment.
type ApplicationKeyMapping struct {
	ApplicationUUID       string `yaml:"applicationUUID"`
	ApplicationIdentifier string `yaml:"applicationIdentifier"`
	KeyType               string `yaml:"keyType"`
	SecurityScheme        string `yaml:"securityScheme"`
	EnvID                 string `yaml:"envID"`
}

// Key returns the lookup key of the mapping.
func (m *ApplicationKeyMapping) Key() KeyMappingKey {
	return NewKeyMappingKey(m.ApplicationIdentifier, m.KeyType, m.SecurityScheme, m.EnvID)
}

// KeyMappingKey identifies an ApplicationKeyMapping.
type KeyMappingKey struct {
	ConsumerKey    string
	KeyType        string
	SecurityScheme string
	Environment    string
}

// NewKeyMappingKey builds a key. Key type and security scheme compare
// case-insensitively.
func NewKeyMappingKey(consumerKey, keyType, securityScheme, environment string) KeyMappingKey {
	return KeyMappingKey{
		ConsumerKey:    consumerKey,
		KeyType:        strings.ToUpper(keyType),
		SecurityScheme: strings.ToUpper(securityScheme),
		Environment:    environment,
	}
}

// ApplicationMapping links an application to one of its subscriptions.
type ApplicationMapping struct {
	UUID            string `yaml:"uuid"`
	ApplicationRef  string `yaml:"applicationRef"`
	SubscriptionRef string `yaml:"subscriptionRef"`
}

// SubscribedAPI names the API a subscription covers. Version is a regular
// expression matched against the whole requested version.
type SubscribedAPI struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

// Subscription grants an application access to an API at a rate-limit tier.
type Subscription struct {
	UUID            string        `yaml:"uuid"`
	APIUUID         string        `yaml:"apiUUID"`
	ApplicationUUID string        `yaml:"applicationUUID"`
	Organization    string        `yaml:"organization"`
	SubscribedAPI   SubscribedAPI `yaml:"subscribedAPI"`
	Status          string        `yaml:"status"`
	RatelimitTier   string        `yaml:"ratelimitTier"`

	versionPattern *regexp.Regexp
}

// compile prepares the version pattern. A pattern that does not compile
// leaves the subscription unable to match any version.
func (s *Subscription) compile() {
	pattern, err := regexp.Compile("^(?:" + s.SubscribedAPI.Version + ")$")
	if err != nil {
		s.versionPattern = nil
		return
	}
	s.versionPattern = pattern
}

// Matches reports whether the subscription covers the named API version.
func (s *Subscription) Matches(apiName, version string) bool {
	if s.SubscribedAPI.Name != apiName || s.versionPattern == nil {
		return false
	}
	return s.versionPattern.MatchString(version)
}

// IsInactive reports whether the subscription is switched off.
func (s *Subscription) IsInactive() bool {
	return strings.EqualFold(s.Status, StatusInactive)
}

// IsBlocked reports whether the subscription is administratively blocked.
func (s *Subscription) IsBlocked() bool {
	return strings.EqualFold(s.Status, StatusBlocked)
}

// IssuerBinding associates a token issuer with the validator that verifies
// its tokens in a set of environments.
type IssuerBinding struct {
	// KeyManager is the display name of the key manager.
	KeyManager string

	// Issuer is the expected iss claim.
	Issuer string

	// Environments lists the gateway environments the binding applies to.
	// Empty or "*" applies everywhere.
	Environments []string

	// ConsumerKeyClaim names the claim carrying the consumer key.
	ConsumerKeyClaim string

	// ScopesClaim names the claim carrying granted scopes.
	ScopesClaim string

	Validator TokenValidator
}

// AppliesTo reports whether the binding serves environment.
func (b *IssuerBinding) AppliesTo(environment string) bool {
	if len(b.Environments) == 0 {
		return true
	}
	for _, env := range b.Environments {
		if env == AllEnvironments || env == environment {
			return true
		}
	}
	return false
}
