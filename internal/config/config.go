package config

import "time"

// Defaults for the enforcer configuration.
const (
	DefaultAdminAddress            = ":9091"
	DefaultCacheMaxSize            = 10000
	DefaultCacheExpireAfterAccess  = 15 * time.Minute
	DefaultClockSkew               = 5 * time.Second
	DefaultTokenHeader             = "Authorization"
	DefaultInternalKeyHeader       = "Internal-Key"
	DefaultClientCertificateHeader = "X-WSO2-CLIENT-CERTIFICATE"
	DefaultBackendJWTHeader        = "X-JWT-Assertion"
	DefaultBackendJWTTTL           = 15 * time.Minute
	DefaultClaimsDialect           = "http://wso2.org/claims"
	DefaultRevocationChannel       = "wso2-apk-revoked-tokens-channel"
	DefaultRevocationKeyPrefix     = "wso2:apk:revoked_token:"
	DefaultRevocationCleanup       = time.Hour
	DefaultSecurityEventRate       = 10.0
	DefaultSecurityEventBurst      = 20
	DefaultWatchDebounce           = 100 * time.Millisecond
)

// EnforcerConfig is the root configuration of the enforcer process.
type EnforcerConfig struct {
	Logging          LoggingConfig          `yaml:"logging" json:"logging"`
	Tracing          TracingConfig          `yaml:"tracing" json:"tracing"`
	Admin            AdminConfig            `yaml:"admin" json:"admin"`
	Cache            CacheConfig            `yaml:"cache" json:"cache"`
	Security         SecurityConfig         `yaml:"security" json:"security"`
	BackendJWT       BackendJWTConfig       `yaml:"backendJWT" json:"backendJWT"`
	InternalKey      InternalKeyConfig      `yaml:"internalKey" json:"internalKey"`
	Revocation       RevocationConfig       `yaml:"revocation" json:"revocation"`
	Vault            VaultConfig            `yaml:"vault" json:"vault"`
	SubscriptionData SubscriptionDataConfig `yaml:"subscriptionData" json:"subscriptionData"`
	APIs             []APIDefinition        `yaml:"apis" json:"apis"`
}

// LoggingConfig configures the process logger.
type LoggingConfig struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"`
	Output string `yaml:"output" json:"output"`
}

// TracingConfig configures OpenTelemetry export.
type TracingConfig struct {
	Enabled      bool    `yaml:"enabled" json:"enabled"`
	ServiceName  string  `yaml:"serviceName" json:"serviceName"`
	OTLPEndpoint string  `yaml:"otlpEndpoint" json:"otlpEndpoint"`
	SamplingRate float64 `yaml:"samplingRate" json:"samplingRate"`
}

// AdminConfig configures the health and metrics listener.
type AdminConfig struct {
	Address string `yaml:"address" json:"address"`
}

// CacheSizeConfig bounds one cache.
type CacheSizeConfig struct {
	MaxSize           int      `yaml:"maxSize" json:"maxSize"`
	ExpireAfterAccess Duration `yaml:"expireAfterAccess" json:"expireAfterAccess"`
}

// CacheConfig configures the token validation caches. When Enabled is false
// every token is fully validated on every request.
type CacheConfig struct {
	Enabled            bool            `yaml:"enabled" json:"enabled"`
	Token              CacheSizeConfig `yaml:"token" json:"token"`
	InvalidToken       CacheSizeConfig `yaml:"invalidToken" json:"invalidToken"`
	InternalKey        CacheSizeConfig `yaml:"internalKey" json:"internalKey"`
	InvalidInternalKey CacheSizeConfig `yaml:"invalidInternalKey" json:"invalidInternalKey"`
	BackendJWT         CacheSizeConfig `yaml:"backendJWT" json:"backendJWT"`
}

// SecurityConfig holds request authentication settings shared by all APIs.
type SecurityConfig struct {
	ClockSkew                       Duration `yaml:"clockSkew" json:"clockSkew"`
	MandateSubscriptionValidation   bool     `yaml:"mandateSubscriptionValidation" json:"mandateSubscriptionValidation"`
	TokenHeader                     string   `yaml:"tokenHeader" json:"tokenHeader"`
	InternalKeyHeader               string   `yaml:"internalKeyHeader" json:"internalKeyHeader"`
	ClientCertificateHeader         string   `yaml:"clientCertificateHeader" json:"clientCertificateHeader"`
	EnableOutboundCertificateHeader bool     `yaml:"enableOutboundCertificateHeader" json:"enableOutboundCertificateHeader"`
	SecurityEventRate               float64  `yaml:"securityEventRate" json:"securityEventRate"`
	SecurityEventBurst              int      `yaml:"securityEventBurst" json:"securityEventBurst"`
}

// KeySourceConfig points at PEM encoded key material, either a local file or a Vault KV secret.
type KeySourceConfig struct {
	File       string `yaml:"file,omitempty" json:"file,omitempty"`
	VaultPath  string `yaml:"vaultPath,omitempty" json:"vaultPath,omitempty"`
	VaultField string `yaml:"vaultField,omitempty" json:"vaultField,omitempty"`
}

// IsEmpty reports whether no source is configured.
func (k KeySourceConfig) IsEmpty() bool {
	return k.File == "" && k.VaultPath == ""
}

// BackendJWTConfig configures the token forwarded to upstream services.
type BackendJWTConfig struct {
	Enabled          bool              `yaml:"enabled" json:"enabled"`
	Header           string            `yaml:"header" json:"header"`
	Issuer           string            `yaml:"issuer" json:"issuer"`
	TTL              Duration          `yaml:"ttl" json:"ttl"`
	ClaimsDialect    string            `yaml:"claimsDialect" json:"claimsDialect"`
	SigningAlgorithm string            `yaml:"signingAlgorithm" json:"signingAlgorithm"`
	KeyID            string            `yaml:"keyId" json:"keyId"`
	PrivateKey       KeySourceConfig   `yaml:"privateKey" json:"privateKey"`
	CustomClaims     map[string]string `yaml:"customClaims" json:"customClaims"`
}

// InternalKeyConfig configures verification of locally issued internal keys.
type InternalKeyConfig struct {
	Issuer      string          `yaml:"issuer" json:"issuer"`
	Certificate KeySourceConfig `yaml:"certificate" json:"certificate"`
}

// RetryConfig configures retries of network calls.
type RetryConfig struct {
	MaxRetries     int      `yaml:"maxRetries" json:"maxRetries"`
	InitialBackoff Duration `yaml:"initialBackoff" json:"initialBackoff"`
	MaxBackoff     Duration `yaml:"maxBackoff" json:"maxBackoff"`
}

// RevocationConfig configures the Redis revoked-token feed.
type RevocationConfig struct {
	Enabled          bool        `yaml:"enabled" json:"enabled"`
	Address          string      `yaml:"address" json:"address"`
	Username         string      `yaml:"username" json:"username"`
	Password         string      `yaml:"password" json:"password"`
	DB               int         `yaml:"db" json:"db"`
	Channel          string      `yaml:"channel" json:"channel"`
	KeyPrefix        string      `yaml:"keyPrefix" json:"keyPrefix"`
	CleanupInterval  Duration    `yaml:"cleanupInterval" json:"cleanupInterval"`
	Retry            RetryConfig `yaml:"retry" json:"retry"`
	BreakerThreshold int         `yaml:"breakerThreshold" json:"breakerThreshold"`
	BreakerTimeout   Duration    `yaml:"breakerTimeout" json:"breakerTimeout"`
}

// VaultConfig configures the Vault client used as a key source.
type VaultConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Address string `yaml:"address" json:"address"`
	Token   string `yaml:"token" json:"token"`
	KVMount string `yaml:"kvMount" json:"kvMount"`
}

// SubscriptionDataConfig locates the subscription snapshot file.
type SubscriptionDataConfig struct {
	Path          string   `yaml:"path" json:"path"`
	Watch         bool     `yaml:"watch" json:"watch"`
	DebounceDelay Duration `yaml:"debounceDelay" json:"debounceDelay"`
}

// APIDefinition describes a deployed API and its resources.
type APIDefinition struct {
	UUID                   string               `yaml:"uuid" json:"uuid"`
	Name                   string               `yaml:"name" json:"name"`
	Version                string               `yaml:"version" json:"version"`
	BasePath               string               `yaml:"basePath" json:"basePath"`
	Vhost                  string               `yaml:"vhost" json:"vhost"`
	Organization           string               `yaml:"organization" json:"organization"`
	Environment            string               `yaml:"environment" json:"environment"`
	EnvType                string               `yaml:"envType" json:"envType"`
	APIType                string               `yaml:"apiType" json:"apiType"`
	LifecycleState         string               `yaml:"lifecycleState" json:"lifecycleState"`
	Mocked                 bool                 `yaml:"mocked" json:"mocked"`
	SystemAPI              bool                 `yaml:"systemAPI" json:"systemAPI"`
	SubscriptionValidation bool                 `yaml:"subscriptionValidation" json:"subscriptionValidation"`
	TransportSecurity      bool                 `yaml:"transportSecurity" json:"transportSecurity"`
	MutualSSL              string               `yaml:"mutualSSL" json:"mutualSSL"`
	ApplicationSecurity    map[string]bool      `yaml:"applicationSecurity" json:"applicationSecurity"`
	ClientCertificates     []string             `yaml:"clientCertificates" json:"clientCertificates"`
	Resources              []ResourceDefinition `yaml:"resources" json:"resources"`
}

// ResourceDefinition describes one resource (path and method) of an API.
type ResourceDefinition struct {
	Path             string             `yaml:"path" json:"path"`
	Method           string             `yaml:"method" json:"method"`
	Scopes           []string           `yaml:"scopes" json:"scopes"`
	SecurityDisabled bool               `yaml:"securityDisabled" json:"securityDisabled"`
	OAuth2           *OAuth2Definition  `yaml:"oauth2,omitempty" json:"oauth2,omitempty"`
	InternalKey      *HeaderDefinition  `yaml:"internalKey,omitempty" json:"internalKey,omitempty"`
	APIKeys          []APIKeyDefinition `yaml:"apiKeys,omitempty" json:"apiKeys,omitempty"`
}

// OAuth2Definition configures the bearer token header of a resource.
type OAuth2Definition struct {
	Header              string `yaml:"header" json:"header"`
	SendTokenToUpstream bool   `yaml:"sendTokenToUpstream" json:"sendTokenToUpstream"`
}

// HeaderDefinition names a credential header.
type HeaderDefinition struct {
	Header string `yaml:"header" json:"header"`
}

// APIKeyDefinition configures an API key delivered in a header or a query parameter.
type APIKeyDefinition struct {
	Name                string `yaml:"name" json:"name"`
	In                  string `yaml:"in" json:"in"`
	SendTokenToUpstream bool   `yaml:"sendTokenToUpstream" json:"sendTokenToUpstream"`
}

// DefaultConfig returns a configuration populated with defaults.
func DefaultConfig() *EnforcerConfig {
	cacheSize := CacheSizeConfig{
		MaxSize:           DefaultCacheMaxSize,
		ExpireAfterAccess: Duration(DefaultCacheExpireAfterAccess),
	}

	return &EnforcerConfig{
		Logging: LoggingConfig{Level: "info", Format: "json", Output: "stdout"},
		Tracing: TracingConfig{ServiceName: "enforcer", SamplingRate: 1.0},
		Admin:   AdminConfig{Address: DefaultAdminAddress},
		Cache: CacheConfig{
			Enabled:            true,
			Token:              cacheSize,
			InvalidToken:       cacheSize,
			InternalKey:        cacheSize,
			InvalidInternalKey: cacheSize,
			BackendJWT:         cacheSize,
		},
		Security: SecurityConfig{
			ClockSkew:               Duration(DefaultClockSkew),
			TokenHeader:             DefaultTokenHeader,
			InternalKeyHeader:       DefaultInternalKeyHeader,
			ClientCertificateHeader: DefaultClientCertificateHeader,
			SecurityEventRate:       DefaultSecurityEventRate,
			SecurityEventBurst:      DefaultSecurityEventBurst,
		},
		BackendJWT: BackendJWTConfig{
			Header:           DefaultBackendJWTHeader,
			TTL:              Duration(DefaultBackendJWTTTL),
			ClaimsDialect:    DefaultClaimsDialect,
			SigningAlgorithm: "RS256",
		},
		Revocation: RevocationConfig{
			Channel:          DefaultRevocationChannel,
			KeyPrefix:        DefaultRevocationKeyPrefix,
			CleanupInterval:  Duration(DefaultRevocationCleanup),
			BreakerThreshold: 5,
			BreakerTimeout:   Duration(30 * time.Second),
		},
		Vault:            VaultConfig{KVMount: "secret"},
		SubscriptionData: SubscriptionDataConfig{DebounceDelay: Duration(DefaultWatchDebounce)},
	}
}
