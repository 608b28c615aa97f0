package jwt

import (
	"context"
	"crypto/rsa"
	"fmt"
	"strings"
	"sync"
	"time"

	gojwt "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/vyrodovalexey/enforcer/internal/cache"
	"github.com/vyrodovalexey/enforcer/internal/config"
)

// DefaultBackendIssuer is the iss claim of backend tokens when none is configured.
const DefaultBackendIssuer = "wso2.org/products/am"

const userTypeApplicationUser = "APPLICATION_USER"

// BackendClaims describes the caller to the upstream service.
type BackendClaims struct {
	Subject               string
	Subscriber            string
	EndUser               string
	ApplicationID         string
	ApplicationUUID       string
	ApplicationName       string
	ApplicationTier       string
	ApplicationAttributes map[string]string
	APIName               string
	APIContext            string
	Version               string
	SubscriptionTier      string
	KeyType               string
	Organization          string
}

type backendToken struct {
	token     string
	expiresAt time.Time
}

// BackendOption configures a BackendGenerator.
type BackendOption func(*BackendGenerator)

// WithBackendCache caches generated tokens per organization.
func WithBackendCache(size config.CacheSizeConfig) BackendOption {
	return func(g *BackendGenerator) {
		g.cacheSize = &size
	}
}

// WithBackendClockSkew sets how long before its expiry a cached token is
// still reused.
func WithBackendClockSkew(skew time.Duration) BackendOption {
	return func(g *BackendGenerator) {
		g.skew = skew
	}
}

// WithBackendClock overrides the wall clock.
func WithBackendClock(now func() time.Time) BackendOption {
	return func(g *BackendGenerator) {
		if now != nil {
			g.now = now
		}
	}
}

// WithBackendMetrics sets the metrics for generated tokens.
func WithBackendMetrics(metrics *Metrics) BackendOption {
	return func(g *BackendGenerator) {
		g.metrics = metrics
	}
}

// BackendGenerator issues the token forwarded to upstream services.
type BackendGenerator struct {
	cfg       config.BackendJWTConfig
	key       *rsa.PrivateKey
	method    gojwt.SigningMethod
	dialect   string
	ttl       time.Duration
	skew      time.Duration
	now       func() time.Time
	metrics   *Metrics
	cacheSize *config.CacheSizeConfig

	mu     sync.Mutex
	caches map[string]*cache.LRU[string, backendToken]
}

// NewBackendGenerator creates a generator. key is required unless the
// configured algorithm is NONE.
func NewBackendGenerator(cfg config.BackendJWTConfig, key *rsa.PrivateKey, opts ...BackendOption) (*BackendGenerator, error) {
	g := &BackendGenerator{
		cfg:    cfg,
		key:    key,
		ttl:    cfg.TTL.Duration(),
		now:    time.Now,
		caches: make(map[string]*cache.LRU[string, backendToken]),
	}

	switch strings.ToUpper(cfg.SigningAlgorithm) {
	case "", "RS256", "SHA256WITHRSA":
		if key == nil {
			return nil, fmt.Errorf("backend jwt: %w", ErrNoVerificationKey)
		}
		g.method = gojwt.SigningMethodRS256
	case "NONE":
		g.method = gojwt.SigningMethodNone
	default:
		return nil, fmt.Errorf("backend jwt: unsupported signing algorithm %q", cfg.SigningAlgorithm)
	}

	if g.ttl <= 0 {
		g.ttl = config.DefaultBackendJWTTTL
	}
	g.dialect = cfg.ClaimsDialect
	if g.dialect != "" && g.dialect != "/" && !strings.HasSuffix(g.dialect, "/") {
		g.dialect += "/"
	}
	if g.dialect == "/" {
		g.dialect = ""
	}

	for _, opt := range opts {
		opt(g)
	}
	if g.metrics == nil {
		g.metrics = NewMetrics("enforcer")
	}
	return g, nil
}

// Header returns the outbound header carrying the token.
func (g *BackendGenerator) Header() string {
	if g.cfg.Header == "" {
		return config.DefaultBackendJWTHeader
	}
	return g.cfg.Header
}

// Token returns a backend token for claims, reusing a cached one issued for
// the same client token identifier while it stays valid.
func (g *BackendGenerator) Token(ctx context.Context, org, identifier string, claims *BackendClaims) (string, error) {
	key := claims.APIContext + ":" + claims.Version + ":" + identifier
	c := g.cacheFor(org)
	if c != nil {
		if cached, ok := c.Get(ctx, key); ok && g.now().Add(g.skew).Before(cached.expiresAt) {
			g.metrics.recordBackendToken("cached")
			return cached.token, nil
		}
	}

	token, expiresAt, err := g.generate(claims)
	if err != nil {
		return "", err
	}
	if c != nil {
		c.Add(ctx, key, backendToken{token: token, expiresAt: expiresAt})
	}
	g.metrics.recordBackendToken("generated")
	return token, nil
}

func (g *BackendGenerator) cacheFor(org string) *cache.LRU[string, backendToken] {
	if g.cacheSize == nil {
		return nil
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	c, ok := g.caches[org]
	if !ok {
		c = cache.NewLRU[string, backendToken]("backend_jwt", g.cacheSize.MaxSize, g.cacheSize.ExpireAfterAccess.Duration())
		g.caches[org] = c
	}
	return c
}

func (g *BackendGenerator) generate(in *BackendClaims) (string, time.Time, error) {
	now := g.now()
	expiresAt := now.Add(g.ttl)

	issuer := g.cfg.Issuer
	if issuer == "" {
		issuer = DefaultBackendIssuer
	}

	keyType := in.KeyType
	if keyType == "" {
		keyType = config.EnvTypeProduction
	}

	claims := gojwt.MapClaims{
		"iss": issuer,
		"iat": now.Unix(),
		"exp": expiresAt.Unix(),
		"jti": uuid.NewString(),
	}
	g.put(claims, "keytype", keyType)
	g.put(claims, "usertype", userTypeApplicationUser)
	g.put(claims, "subscriber", in.Subscriber)
	g.put(claims, "enduser", in.EndUser)
	g.put(claims, "applicationid", in.ApplicationID)
	g.put(claims, "applicationUUId", in.ApplicationUUID)
	g.put(claims, "applicationname", in.ApplicationName)
	g.put(claims, "applicationtier", in.ApplicationTier)
	g.put(claims, "apiname", in.APIName)
	g.put(claims, "apicontext", in.APIContext)
	g.put(claims, "version", in.Version)
	g.put(claims, "tier", in.SubscriptionTier)
	if len(in.ApplicationAttributes) > 0 {
		claims[g.dialect+"applicationAttributes"] = in.ApplicationAttributes
	}
	if in.Subject != "" {
		claims["sub"] = in.Subject
	}
	if in.Organization != "" {
		claims["organizations"] = []string{in.Organization}
	}
	for name, value := range g.cfg.CustomClaims {
		claims[name] = value
	}

	token := gojwt.NewWithClaims(g.method, claims)
	if g.cfg.KeyID != "" {
		token.Header["kid"] = g.cfg.KeyID
	}

	var signingKey any = g.key
	if g.method == gojwt.SigningMethodNone {
		signingKey = gojwt.UnsafeAllowNoneSignatureType
	}
	signed, err := token.SignedString(signingKey)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign backend jwt: %w", err)
	}
	return signed, expiresAt, nil
}

func (g *BackendGenerator) put(claims gojwt.MapClaims, name, value string) {
	if value != "" {
		claims[g.dialect+name] = value
	}
}
