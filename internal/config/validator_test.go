package config

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validAPI() APIDefinition {
	return APIDefinition{
		UUID:         "api-1",
		Name:         "PetStore",
		Organization: "org1",
		EnvType:      EnvTypeProduction,
		Resources:    []ResourceDefinition{{Path: "/pets", Method: "GET"}},
	}
}

func TestValidate_Defaults(t *testing.T) {
	t.Parallel()

	assert.NoError(t, Validate(DefaultConfig()))
}

func TestValidate_Nil(t *testing.T) {
	t.Parallel()

	err := Validate(nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "configuration is nil")
}

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		mutate   func(cfg *EnforcerConfig)
		wantPath string
	}{
		{
			name:     "cache size zero",
			mutate:   func(cfg *EnforcerConfig) { cfg.Cache.Token.MaxSize = 0 },
			wantPath: "cache.token.maxSize",
		},
		{
			name:     "negative skew",
			mutate:   func(cfg *EnforcerConfig) { cfg.Security.ClockSkew = -1 },
			wantPath: "security.clockSkew",
		},
		{
			name: "signed backend jwt without key",
			mutate: func(cfg *EnforcerConfig) {
				cfg.BackendJWT.Enabled = true
			},
			wantPath: "backendJWT.privateKey",
		},
		{
			name: "unknown backend algorithm",
			mutate: func(cfg *EnforcerConfig) {
				cfg.BackendJWT.Enabled = true
				cfg.BackendJWT.SigningAlgorithm = "HS256"
			},
			wantPath: "backendJWT.signingAlgorithm",
		},
		{
			name:     "revocation without address",
			mutate:   func(cfg *EnforcerConfig) { cfg.Revocation.Enabled = true },
			wantPath: "revocation.address",
		},
		{
			name: "vault path without vault",
			mutate: func(cfg *EnforcerConfig) {
				cfg.InternalKey.Certificate.VaultPath = "enforcer/internal-key"
			},
			wantPath: "vault.enabled",
		},
		{
			name: "duplicate api uuid",
			mutate: func(cfg *EnforcerConfig) {
				cfg.APIs = []APIDefinition{validAPI(), validAPI()}
			},
			wantPath: "apis[1].uuid",
		},
		{
			name: "bad env type",
			mutate: func(cfg *EnforcerConfig) {
				api := validAPI()
				api.EnvType = "STAGING"
				cfg.APIs = []APIDefinition{api}
			},
			wantPath: "apis[0].envType",
		},
		{
			name: "bad mutual ssl",
			mutate: func(cfg *EnforcerConfig) {
				api := validAPI()
				api.MutualSSL = "sometimes"
				cfg.APIs = []APIDefinition{api}
			},
			wantPath: "apis[0].mutualSSL",
		},
		{
			name: "api key location",
			mutate: func(cfg *EnforcerConfig) {
				api := validAPI()
				api.Resources[0].APIKeys = []APIKeyDefinition{{Name: "apikey", In: "Cookie"}}
				cfg.APIs = []APIDefinition{api}
			},
			wantPath: "apis[0].resources[0].apiKeys[0].in",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := DefaultConfig()
			tt.mutate(cfg)

			err := Validate(cfg)
			require.Error(t, err)

			var verrs ValidationErrors
			require.True(t, errors.As(err, &verrs))
			paths := make([]string, 0, len(verrs))
			for _, e := range verrs {
				paths = append(paths, e.Path)
			}
			assert.Contains(t, paths, tt.wantPath)
		})
	}
}

func TestValidationErrors_Error(t *testing.T) {
	t.Parallel()

	single := ValidationErrors{{Path: "a", Message: "broken"}}
	assert.Equal(t, "a: broken", single.Error())

	multi := ValidationErrors{{Path: "a", Message: "x"}, {Message: "y"}}
	assert.Contains(t, multi.Error(), "2 validation errors")
	assert.Contains(t, multi.Error(), "2. y")
}
