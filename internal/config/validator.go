package config

import (
	"fmt"
	"strings"
)

// Environment types accepted for APIs and key mappings.
const (
	EnvTypeProduction = "PRODUCTION"
	EnvTypeSandbox    = "SANDBOX"
)

// Mutual TLS optionality values.
const (
	Mandatory = "mandatory"
	Optional  = "optional"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Path    string
	Message string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("%s: %s", e.Path, e.Message)
	}
	return e.Message
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

// Error implements the error interface.
func (e ValidationErrors) Error() string {
	if len(e) == 1 {
		return e[0].Error()
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%d validation errors:\n", len(e))
	for i := range e {
		fmt.Fprintf(&sb, "  %d. %s\n", i+1, e[i].Error())
	}
	return sb.String()
}

// Validator collects validation errors for an EnforcerConfig.
type Validator struct {
	errors ValidationErrors
}

// Validate validates cfg and returns ValidationErrors when anything is wrong.
func Validate(cfg *EnforcerConfig) error {
	v := &Validator{}
	if cfg == nil {
		v.addError("", "configuration is nil")
		return v.errors
	}

	v.validateCache(&cfg.Cache)
	v.validateSecurity(&cfg.Security)
	v.validateBackendJWT(&cfg.BackendJWT)
	v.validateRevocation(&cfg.Revocation)
	v.validateVault(cfg)
	v.validateAPIs(cfg.APIs)

	if len(v.errors) > 0 {
		return v.errors
	}
	return nil
}

func (v *Validator) addError(path, message string) {
	v.errors = append(v.errors, ValidationError{Path: path, Message: message})
}

func (v *Validator) validateCache(c *CacheConfig) {
	if !c.Enabled {
		return
	}
	sizes := map[string]CacheSizeConfig{
		"cache.token":              c.Token,
		"cache.invalidToken":       c.InvalidToken,
		"cache.internalKey":        c.InternalKey,
		"cache.invalidInternalKey": c.InvalidInternalKey,
		"cache.backendJWT":         c.BackendJWT,
	}
	for path, size := range sizes {
		if size.MaxSize <= 0 {
			v.addError(path+".maxSize", "must be greater than zero when caching is enabled")
		}
		if size.ExpireAfterAccess < 0 {
			v.addError(path+".expireAfterAccess", "must not be negative")
		}
	}
}

func (v *Validator) validateSecurity(s *SecurityConfig) {
	if s.ClockSkew < 0 {
		v.addError("security.clockSkew", "must not be negative")
	}
}

func (v *Validator) validateBackendJWT(b *BackendJWTConfig) {
	if !b.Enabled {
		return
	}
	if b.Header == "" {
		v.addError("backendJWT.header", "header is required")
	}
	switch strings.ToUpper(b.SigningAlgorithm) {
	case "RS256", "SHA256WITHRSA":
		if b.PrivateKey.IsEmpty() {
			v.addError("backendJWT.privateKey", "a key source is required for signed backend tokens")
		}
	case "NONE":
	default:
		v.addError("backendJWT.signingAlgorithm", "must be RS256 or NONE")
	}
}

func (v *Validator) validateRevocation(r *RevocationConfig) {
	if !r.Enabled {
		return
	}
	if r.Address == "" {
		v.addError("revocation.address", "address is required when revocation is enabled")
	}
	if r.Channel == "" {
		v.addError("revocation.channel", "channel is required")
	}
}

func (v *Validator) validateVault(cfg *EnforcerConfig) {
	usesVault := cfg.BackendJWT.PrivateKey.VaultPath != "" || cfg.InternalKey.Certificate.VaultPath != ""
	if usesVault && !cfg.Vault.Enabled {
		v.addError("vault.enabled", "vault must be enabled when a key source uses vaultPath")
	}
	if cfg.Vault.Enabled && cfg.Vault.Address == "" {
		v.addError("vault.address", "address is required when vault is enabled")
	}
}

func (v *Validator) validateAPIs(apis []APIDefinition) {
	seen := make(map[string]bool, len(apis))
	for i := range apis {
		api := &apis[i]
		path := fmt.Sprintf("apis[%d]", i)

		switch {
		case api.UUID == "":
			v.addError(path+".uuid", "uuid is required")
		case seen[api.UUID]:
			v.addError(path+".uuid", fmt.Sprintf("duplicate api uuid: %s", api.UUID))
		default:
			seen[api.UUID] = true
		}
		if api.Name == "" {
			v.addError(path+".name", "name is required")
		}
		if api.Organization == "" {
			v.addError(path+".organization", "organization is required")
		}
		if t := strings.ToUpper(api.EnvType); t != "" && t != EnvTypeProduction && t != EnvTypeSandbox {
			v.addError(path+".envType", "must be PRODUCTION or SANDBOX")
		}
		if m := strings.ToLower(api.MutualSSL); m != "" && m != Mandatory && m != Optional {
			v.addError(path+".mutualSSL", "must be mandatory or optional")
		}
		if len(api.Resources) == 0 {
			v.addError(path+".resources", "at least one resource is required")
		}
		for j, res := range api.Resources {
			for k, key := range res.APIKeys {
				if key.In != "Header" && key.In != "Query" {
					v.addError(fmt.Sprintf("%s.resources[%d].apiKeys[%d].in", path, j, k), "must be Header or Query")
				}
			}
		}
	}
}
