// Package cache provides bounded, expiring in-memory caches used by the
// token validation engines.
//
// Every cache is an LRU over hashicorp/golang-lru expirable with:
//
//   - A maximum entry count
//   - Expire-after-access semantics (a hit refreshes the entry's lifetime)
//   - OpenTelemetry spans for lookups
//   - Prometheus hit, miss, eviction and size metrics labelled by cache name
//
// # Example Usage
//
//	tokens := cache.NewLRU[string, *Result]("token", 10000, 15*time.Minute)
//	tokens.Add(ctx, "jti-1", result)
//	if r, ok := tokens.Get(ctx, "jti-1"); ok {
//	    ...
//	}
//
// # Thread Safety
//
// All caches are safe for concurrent use.
package cache
