// Package jwt validates bearer tokens for the enforcer.
//
// Engine is the validation path shared by every JWT based authenticator.
// It checks the revocation set, consults the per-organization valid and
// invalid result caches, and only then asks the issuer's validator to
// verify the signature. Concurrent validations of the same token are
// collapsed into one.
//
//	engine := jwt.NewEngine(jwt.NewRegistryResolver(registry),
//	    jwt.WithCaches(jwt.NewCacheRegistry("token", cfg.Cache.Token, cfg.Cache.InvalidToken)),
//	    jwt.WithRevocation(revoked),
//	    jwt.WithClockSkew(cfg.Security.ClockSkew.Duration()),
//	)
//	result, err := engine.Validate(ctx, token, org, env)
//
// IssuerValidator verifies tokens of one key manager against a PEM
// certificate or a static JWK set, and BackendGenerator signs the token
// forwarded to upstream services.
package jwt
