package main

import (
	"context"
	"crypto/rsa"
	"fmt"
	"net/http"
	"strings"

	vaultapi "github.com/hashicorp/vault/api"
	"github.com/redis/go-redis/v9"

	"github.com/vyrodovalexey/enforcer/internal/auth"
	"github.com/vyrodovalexey/enforcer/internal/auth/apikey"
	"github.com/vyrodovalexey/enforcer/internal/auth/jwt"
	"github.com/vyrodovalexey/enforcer/internal/auth/mtls"
	"github.com/vyrodovalexey/enforcer/internal/auth/oauth2"
	"github.com/vyrodovalexey/enforcer/internal/authz"
	"github.com/vyrodovalexey/enforcer/internal/config"
	"github.com/vyrodovalexey/enforcer/internal/health"
	"github.com/vyrodovalexey/enforcer/internal/keys"
	"github.com/vyrodovalexey/enforcer/internal/observability"
	"github.com/vyrodovalexey/enforcer/internal/revocation"
	"github.com/vyrodovalexey/enforcer/internal/subscription"
)

const metricsNamespace = "enforcer"

// application holds all application components.
type application struct {
	config        *config.EnforcerConfig
	logger        observability.Logger
	tracer        *observability.Tracer
	healthChecker *health.Checker
	adminServer   *http.Server
	vaultClient   *vaultapi.Client

	registry *subscription.Registry
	loader   *subscription.Loader
	watcher  *config.Watcher

	revoked     *revocation.Store
	redisClient *redis.Client
	feed        *revocation.RedisFeed

	authMetrics *auth.Metrics
	events      *observability.SecurityEventLogger
	engine      *jwt.Engine
	keyEngine   *jwt.Engine
	backend     *jwt.BackendGenerator

	authenticators []auth.Authenticator
	filters        map[string]*auth.Filter
}

// newApplication wires every component from cfg. Nothing is started.
func newApplication(ctx context.Context, cfg *config.EnforcerConfig, logger observability.Logger) (*application, error) {
	tracer, err := observability.NewTracer(ctx, observability.TracerConfig{
		ServiceName:  cfg.Tracing.ServiceName,
		OTLPEndpoint: cfg.Tracing.OTLPEndpoint,
		SamplingRate: cfg.Tracing.SamplingRate,
		Enabled:      cfg.Tracing.Enabled,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tracer: %w", err)
	}

	app := &application{
		config:        cfg,
		logger:        logger,
		tracer:        tracer,
		healthChecker: health.NewChecker(version),
		registry:      subscription.NewRegistry(),
		revoked:       revocation.NewStore(),
		authMetrics:   auth.NewMetrics(metricsNamespace),
	}
	app.authMetrics.Init()

	if cfg.Vault.Enabled {
		app.vaultClient, err = keys.NewVaultClient(cfg.Vault)
		if err != nil {
			return nil, fmt.Errorf("failed to create vault client: %w", err)
		}
	}

	skew := cfg.Security.ClockSkew.Duration()
	app.loader = subscription.NewLoader(app.registry,
		jwt.NewValidatorFactory(jwt.WithLeeway(skew)),
		subscription.WithLogger(logger),
	)

	if cfg.Revocation.Enabled {
		app.redisClient = revocation.NewRedisClient(cfg.Revocation)
		app.feed = revocation.NewRedisFeed(app.redisClient, app.revoked, cfg.Revocation,
			revocation.WithLogger(logger),
			revocation.WithMetrics(revocation.NewMetrics(metricsNamespace)),
		)
	}

	app.events = observability.NewSecurityEventLogger(logger,
		cfg.Security.SecurityEventRate,
		cfg.Security.SecurityEventBurst,
		observability.WithSecurityEventHook(app.authMetrics.RecordSecurityEvent),
	)

	if err := app.initAuthenticators(ctx); err != nil {
		return nil, err
	}
	if err := app.initFilters(); err != nil {
		return nil, err
	}

	app.registerHealthChecks()
	app.adminServer = newAdminServer(cfg.Admin.Address, app.healthChecker, logger)
	return app, nil
}

// initAuthenticators builds the validation engines and the authenticators
// shared by every API.
func (a *application) initAuthenticators(ctx context.Context) error {
	cfg := a.config
	jwtMetrics := jwt.NewMetrics(metricsNamespace)
	jwtMetrics.Init()

	engineOpts := func(name string, valid, invalid config.CacheSizeConfig) []jwt.EngineOption {
		opts := []jwt.EngineOption{
			jwt.WithRevocation(a.revoked),
			jwt.WithClockSkew(cfg.Security.ClockSkew.Duration()),
			jwt.WithLogger(a.logger),
			jwt.WithSecurityEvents(a.events),
			jwt.WithMetrics(jwtMetrics),
		}
		if cfg.Cache.Enabled {
			opts = append(opts, jwt.WithCaches(jwt.NewCacheRegistry(name, valid, invalid)))
		}
		return opts
	}

	a.engine = jwt.NewEngine(jwt.NewRegistryResolver(a.registry),
		engineOpts("token", cfg.Cache.Token, cfg.Cache.InvalidToken)...)

	if cfg.BackendJWT.Enabled {
		backend, err := a.initBackendGenerator(ctx, jwtMetrics)
		if err != nil {
			return err
		}
		a.backend = backend
	}

	authzMetrics := authz.NewMetrics(metricsNamespace)
	authzMetrics.Init()
	keyValidator := authz.NewKeyValidator(a.registry,
		authz.WithLogger(a.logger),
		authz.WithMetrics(authzMetrics),
	)

	oauth2Opts := []oauth2.Option{
		oauth2.WithMandatorySubscriptionValidation(cfg.Security.MandateSubscriptionValidation),
		oauth2.WithLogger(a.logger),
		oauth2.WithSecurityEvents(a.events),
	}
	if a.backend != nil {
		oauth2Opts = append(oauth2Opts, oauth2.WithBackendGenerator(a.backend))
	}
	a.authenticators = append(a.authenticators, oauth2.New(a.engine, keyValidator, oauth2Opts...))

	if !cfg.InternalKey.Certificate.IsEmpty() {
		certificate, err := a.loadKeyMaterial(ctx, cfg.InternalKey.Certificate)
		if err != nil {
			return fmt.Errorf("failed to load internal key certificate: %w", err)
		}
		a.keyEngine, err = apikey.NewEngine(cfg.InternalKey.Issuer, certificate,
			engineOpts("internalKey", cfg.Cache.InternalKey, cfg.Cache.InvalidInternalKey)...)
		if err != nil {
			return err
		}
		apikeyOpts := []apikey.Option{
			apikey.WithLogger(a.logger),
			apikey.WithSecurityEvents(a.events),
		}
		if a.backend != nil {
			apikeyOpts = append(apikeyOpts, apikey.WithBackendGenerator(a.backend))
		}
		a.authenticators = append(a.authenticators, apikey.New(a.keyEngine, keyValidator, apikeyOpts...))
	} else {
		a.logger.Info("internal key certificate not configured, internal keys are disabled")
	}

	mtlsMetrics := mtls.NewMetrics(metricsNamespace)
	mtlsMetrics.Init()
	a.authenticators = append(a.authenticators, mtls.New(
		mtls.NewValidator(
			mtls.WithValidatorLogger(a.logger),
			mtls.WithValidatorMetrics(mtlsMetrics),
		),
		mtls.WithCertificateHeader(cfg.Security.ClientCertificateHeader),
		mtls.WithLogger(a.logger),
	))
	return nil
}

func (a *application) initBackendGenerator(ctx context.Context, metrics *jwt.Metrics) (*jwt.BackendGenerator, error) {
	cfg := a.config
	var key *rsa.PrivateKey
	if !strings.EqualFold(cfg.BackendJWT.SigningAlgorithm, "NONE") {
		data, err := a.loadKeyMaterial(ctx, cfg.BackendJWT.PrivateKey)
		if err != nil {
			return nil, fmt.Errorf("failed to load backend jwt signing key: %w", err)
		}
		key, err = keys.ParseRSAPrivateKey(data)
		if err != nil {
			return nil, fmt.Errorf("failed to parse backend jwt signing key: %w", err)
		}
	}

	opts := []jwt.BackendOption{
		jwt.WithBackendClockSkew(cfg.Security.ClockSkew.Duration()),
		jwt.WithBackendMetrics(metrics),
	}
	if cfg.Cache.Enabled {
		opts = append(opts, jwt.WithBackendCache(cfg.Cache.BackendJWT))
	}
	return jwt.NewBackendGenerator(cfg.BackendJWT, key, opts...)
}

func (a *application) loadKeyMaterial(ctx context.Context, source config.KeySourceConfig) ([]byte, error) {
	src, err := keys.NewSource(source, a.vaultClient, a.config.Vault.KVMount)
	if err != nil {
		return nil, err
	}
	return src.Load(ctx)
}

// initFilters builds one authentication filter per configured API, keyed by
// API UUID.
func (a *application) initFilters() error {
	cfg := a.config
	a.filters = make(map[string]*auth.Filter, len(cfg.APIs))
	for i := range cfg.APIs {
		api, err := auth.ConvertAPIDefinition(&cfg.APIs[i], &cfg.Security)
		if err != nil {
			return fmt.Errorf("api %s: %w", cfg.APIs[i].Name, err)
		}
		a.filters[api.UUID] = auth.NewFilter(api,
			auth.WithAuthenticators(a.authenticators...),
			auth.WithClientCertificateHeader(cfg.Security.ClientCertificateHeader,
				cfg.Security.EnableOutboundCertificateHeader),
			auth.WithFilterLogger(a.logger),
			auth.WithFilterMetrics(a.authMetrics),
		)
		a.logger.Debug("api filter built",
			observability.String("api", api.Name),
			observability.String("version", api.Version),
			observability.Int("authenticators", len(a.filters[api.UUID].Authenticators())),
		)
	}
	return nil
}

// Filter returns the filter of the API with the given UUID.
func (a *application) Filter(apiUUID string) (*auth.Filter, bool) {
	f, ok := a.filters[apiUUID]
	return f, ok
}

func (a *application) registerHealthChecks() {
	if a.config.SubscriptionData.Path != "" {
		a.healthChecker.RegisterCheck("subscription_data",
			health.ReadyCheck(a.registry.Ready, "subscription data not loaded"))
	}
	if a.feed != nil {
		a.healthChecker.RegisterCheck("revocation_feed",
			health.ReadyCheck(a.feed.Ready, "revocation feed not synchronized"))
	}
}

// start loads the subscription snapshot, starts the revocation feed and
// the admin server.
func (a *application) start(ctx context.Context) error {
	if err := a.startSubscriptionData(ctx); err != nil {
		return err
	}

	if a.feed != nil {
		go func() {
			if err := a.feed.Run(ctx); err != nil {
				a.logger.Error("revocation feed stopped", observability.Error(err))
			}
		}()
	}

	go runAdminServer(a.adminServer, a.logger)
	a.logger.Info("enforcer started",
		observability.Int("apis", len(a.filters)),
		observability.Int("authenticators", len(a.authenticators)),
	)
	return nil
}

func (a *application) startSubscriptionData(ctx context.Context) error {
	data := a.config.SubscriptionData
	if data.Path == "" {
		a.logger.Warn("no subscription data configured, subscription validation will fail")
		return nil
	}

	if !data.Watch {
		return a.loader.LoadFile(data.Path)
	}

	watcher, err := config.NewWatcher(data.Path, a.loader.LoadFile,
		config.WithDebounceDelay(data.DebounceDelay.Duration()),
		config.WithLogger(a.logger),
		config.WithErrorCallback(func(err error) {
			a.logger.Error("failed to reload subscription data, keeping previous snapshot",
				observability.Error(err))
		}),
	)
	if err != nil {
		return fmt.Errorf("failed to create subscription data watcher: %w", err)
	}
	if err := watcher.Start(ctx); err != nil {
		return fmt.Errorf("failed to load subscription data: %w", err)
	}
	a.watcher = watcher
	return nil
}
