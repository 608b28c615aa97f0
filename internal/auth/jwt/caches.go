package jwt

import (
	"sync"

	"github.com/vyrodovalexey/enforcer/internal/auth"
	"github.com/vyrodovalexey/enforcer/internal/cache"
	"github.com/vyrodovalexey/enforcer/internal/config"
)

// Caches holds the validation caches of one organization, both keyed by the
// token identifier.
type Caches struct {
	Valid   *cache.LRU[string, *ValidationResult]
	Invalid *cache.LRU[string, Rejection]
}

// Rejection records a token that failed validation. Like valid results it
// only applies to the exact token it was computed for, so a forged token
// reusing an identifier cannot get the genuine token rejected.
type Rejection struct {
	Token string
	Kind  auth.Kind
}

// CacheRegistry lazily creates Caches per organization so that identifiers
// issued by different tenants never collide.
type CacheRegistry struct {
	name    string
	valid   config.CacheSizeConfig
	invalid config.CacheSizeConfig

	mu    sync.Mutex
	byOrg map[string]*Caches
}

// NewCacheRegistry creates a registry. name prefixes the cache metric labels.
func NewCacheRegistry(name string, valid, invalid config.CacheSizeConfig) *CacheRegistry {
	return &CacheRegistry{
		name:    name,
		valid:   valid,
		invalid: invalid,
		byOrg:   make(map[string]*Caches),
	}
}

// For returns the caches of org, creating them on first use.
func (r *CacheRegistry) For(org string) *Caches {
	r.mu.Lock()
	defer r.mu.Unlock()

	if c, ok := r.byOrg[org]; ok {
		return c
	}
	c := &Caches{
		Valid: cache.NewLRU[string, *ValidationResult](
			r.name, r.valid.MaxSize, r.valid.ExpireAfterAccess.Duration()),
		Invalid: cache.NewLRU[string, Rejection](
			"invalid_"+r.name, r.invalid.MaxSize, r.invalid.ExpireAfterAccess.Duration()),
	}
	r.byOrg[org] = c
	return c
}

// Purge clears every organization's caches.
func (r *CacheRegistry) Purge() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, c := range r.byOrg {
		c.Valid.Purge()
		c.Invalid.Purge()
	}
}
