package auth

import (
	"crypto/x509"
	"net/textproto"
	"strings"
)

// Security scheme names used in APIConfig.ApplicationSecurity.
const (
	SchemeOAuth2 = "OAuth2"
	SchemeAPIKey = "APIKey"
)

// LifecyclePrototyped is the lifecycle state of prototype APIs.
const LifecyclePrototyped = "PROTOTYPED"

// Metadata keys written for downstream interceptors.
const (
	MetadataAPIBasePath    = "basePath"
	MetadataAPIVersion     = "version"
	MetadataAPIName        = "name"
	MetadataAPIVhost       = "vhost"
	MetadataOrganizationID = "orgId"
	MetadataEnvironment    = "environment"

	MetadataTokenType = "tokenType"
	MetadataToken     = "token"
	MetadataKeyType   = "keyType"

	MetadataRateLimitSubscription       = "ratelimit:subscription"
	MetadataRateLimitUsagePolicy        = "ratelimit:usage-policy"
	MetadataRateLimitOrganization       = "ratelimit:organization"
	MetadataRateLimitOrganizationPolicy = "ratelimit:organization-and-rlpolicy"
)

// APIKeyLocation values.
const (
	InHeader = "Header"
	InQuery  = "Query"
)

// APIConfig describes the API matched for a request. It is built once per
// deployed API and shared read-only by every request for it.
type APIConfig struct {
	UUID                   string
	Name                   string
	Version                string
	BasePath               string
	Vhost                  string
	Organization           string
	Environment            string
	EnvType                string
	APIType                string
	LifecycleState         string
	Mocked                 bool
	SystemAPI              bool
	SubscriptionValidation bool
	TransportSecurity      bool
	MutualSSL              string
	ApplicationSecurity    map[string]bool
	ClientCertificates     []*x509.Certificate
	Resources              []*ResourceConfig
}

// OAuth2Mandatory reports whether OAuth2 is mandatory. It is unless the API
// explicitly marks it optional.
func (a *APIConfig) OAuth2Mandatory() bool {
	if v, ok := a.ApplicationSecurity[SchemeOAuth2]; ok {
		return v
	}
	return true
}

// APIKeyMandatory reports whether API key security is mandatory. It is
// optional unless the API says otherwise.
func (a *APIConfig) APIKeyMandatory() bool {
	return a.ApplicationSecurity[SchemeAPIKey]
}

// ApplicationSecurityMandatory reports whether any application level scheme is mandatory.
func (a *APIConfig) ApplicationSecurityMandatory() bool {
	return a.OAuth2Mandatory() || a.APIKeyMandatory()
}

// MutualSSLEnabled reports whether mutual TLS applies to the API, and whether it is mandatory.
func (a *APIConfig) MutualSSLEnabled() (enabled, mandatory bool) {
	if !a.TransportSecurity {
		return false, false
	}
	switch strings.ToLower(a.MutualSSL) {
	case "mandatory":
		return true, true
	case "optional":
		return true, false
	default:
		return false, false
	}
}

// ResourceConfig describes one resource of an API.
type ResourceConfig struct {
	Path             string
	Method           string
	Scopes           []string
	SecurityDisabled bool
	OAuth2           *OAuth2Security
	InternalKey      *InternalKeySecurity
	APIKeys          []APIKeySecurity
}

// OAuth2Security configures the bearer token header of a resource.
type OAuth2Security struct {
	Header              string
	SendTokenToUpstream bool
}

// InternalKeySecurity configures the internal key header of a resource.
type InternalKeySecurity struct {
	Header string
}

// APIKeySecurity configures an API key sent in a header or query parameter.
type APIKeySecurity struct {
	Name                string
	In                  string
	SendTokenToUpstream bool
}

// RequestContext carries one request through the filter. It is owned by the
// goroutine handling the request and must not be shared.
type RequestContext struct {
	RequestID string
	API       *APIConfig
	// Resources are the resources matched for the request. GraphQL requests
	// may match several.
	Resources []*ResourceConfig
	// ClientCertificate is the certificate presented on the TLS connection, if any.
	ClientCertificate *x509.Certificate

	headers     map[string]string
	queryParams map[string]string

	// Metadata is consumed by downstream interceptors and rate limiting.
	Metadata map[string]string
	// RemoveHeaders lists headers to strip before forwarding upstream.
	RemoveHeaders []string
	// RemoveQueryParams lists query parameters to strip before forwarding upstream.
	RemoveQueryParams []string
	// AddHeaders are set on the upstream request.
	AddHeaders map[string]string
	// ResponseHeaders are set on the client response when the request is rejected.
	ResponseHeaders map[string]string

	authContext *AuthenticationContext
	err         *SecurityError
}

// NewRequestContext creates a request context. Header names are matched
// case-insensitively.
func NewRequestContext(api *APIConfig, resources []*ResourceConfig, headers, queryParams map[string]string) *RequestContext {
	rc := &RequestContext{
		API:             api,
		Resources:       resources,
		headers:         make(map[string]string, len(headers)),
		queryParams:     queryParams,
		Metadata:        make(map[string]string),
		AddHeaders:      make(map[string]string),
		ResponseHeaders: make(map[string]string),
	}
	for k, v := range headers {
		rc.headers[textproto.CanonicalMIMEHeaderKey(k)] = v
	}
	if rc.queryParams == nil {
		rc.queryParams = make(map[string]string)
	}
	return rc
}

// Header returns the value of the named request header.
func (rc *RequestContext) Header(name string) string {
	return rc.headers[textproto.CanonicalMIMEHeaderKey(name)]
}

// QueryParam returns the value of the named query parameter.
func (rc *RequestContext) QueryParam(name string) string {
	return rc.queryParams[name]
}

// AddMetadata records a metadata entry.
func (rc *RequestContext) AddMetadata(key, value string) {
	rc.Metadata[key] = value
}

// RemoveHeader queues a header for removal from the upstream request.
func (rc *RequestContext) RemoveHeader(name string) {
	if name == "" {
		return
	}
	for _, h := range rc.RemoveHeaders {
		if strings.EqualFold(h, name) {
			return
		}
	}
	rc.RemoveHeaders = append(rc.RemoveHeaders, name)
}

// RemoveQueryParam queues a query parameter for removal from the upstream request.
func (rc *RequestContext) RemoveQueryParam(name string) {
	if name == "" {
		return
	}
	for _, p := range rc.RemoveQueryParams {
		if p == name {
			return
		}
	}
	rc.RemoveQueryParams = append(rc.RemoveQueryParams, name)
}

// AuthenticationContext returns the authentication result, or nil.
func (rc *RequestContext) AuthenticationContext() *AuthenticationContext {
	return rc.authContext
}

// Error returns the failure recorded for the request, or nil.
func (rc *RequestContext) Error() *SecurityError {
	return rc.err
}

func (rc *RequestContext) setError(err *SecurityError) {
	rc.err = err
}

// AuthenticationContext is the identity established for a request. It is
// not modified after the filter stores it.
type AuthenticationContext struct {
	Authenticated bool
	Username      string
	// TokenType is the name of the authenticator that produced the context.
	TokenType string
	// RawToken is the credential presented by the client.
	RawToken string
	// TokenID is the stable identifier of the credential (jti or signature).
	TokenID     string
	KeyType     string
	ConsumerKey string
	Scopes      []string
	KeyManager  string
	Issuer      string

	ApplicationUUID  string
	ApplicationID    string
	ApplicationName  string
	ApplicationOwner string

	SubscriptionUUID string
	Tier             string
	Organization     string

	// BackendToken is the token generated for the upstream service, if any.
	BackendToken string
}

// UnauthenticatedContext returns the identity used for unsecured resources.
func UnauthenticatedContext(api *APIConfig) *AuthenticationContext {
	return &AuthenticationContext{
		Authenticated:   true,
		Username:        "anon",
		TokenType:       NameUnsecured,
		KeyType:         api.EnvType,
		ApplicationName: "anon",
		Organization:    api.Organization,
		Tier:            "Unlimited",
	}
}
