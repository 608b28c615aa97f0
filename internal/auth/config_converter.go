package auth

import (
	"fmt"
	"strings"

	"github.com/vyrodovalexey/enforcer/internal/config"
	"github.com/vyrodovalexey/enforcer/internal/keys"
)

// ConvertAPIDefinition converts a configured API into the APIConfig used by
// the filter. Client certificates are parsed from their PEM form.
func ConvertAPIDefinition(def *config.APIDefinition, security *config.SecurityConfig) (*APIConfig, error) {
	if def == nil {
		return nil, nil
	}

	api := &APIConfig{
		UUID:                   def.UUID,
		Name:                   def.Name,
		Version:                def.Version,
		BasePath:               def.BasePath,
		Vhost:                  def.Vhost,
		Organization:           def.Organization,
		Environment:            def.Environment,
		EnvType:                strings.ToUpper(def.EnvType),
		APIType:                def.APIType,
		LifecycleState:         def.LifecycleState,
		Mocked:                 def.Mocked,
		SystemAPI:              def.SystemAPI,
		SubscriptionValidation: def.SubscriptionValidation,
		TransportSecurity:      def.TransportSecurity,
		MutualSSL:              def.MutualSSL,
		ApplicationSecurity:    convertApplicationSecurity(def.ApplicationSecurity),
	}
	if api.EnvType == "" {
		api.EnvType = config.EnvTypeProduction
	}

	for i, pemData := range def.ClientCertificates {
		certs, err := keys.ParseCertificates([]byte(pemData))
		if err != nil {
			return nil, fmt.Errorf("api %s: client certificate %d: %w", def.UUID, i, err)
		}
		api.ClientCertificates = append(api.ClientCertificates, certs...)
	}

	tokenHeader, internalKeyHeader := config.DefaultTokenHeader, config.DefaultInternalKeyHeader
	if security != nil {
		if security.TokenHeader != "" {
			tokenHeader = security.TokenHeader
		}
		if security.InternalKeyHeader != "" {
			internalKeyHeader = security.InternalKeyHeader
		}
	}

	for i := range def.Resources {
		api.Resources = append(api.Resources, convertResource(&def.Resources[i], tokenHeader, internalKeyHeader))
	}
	return api, nil
}

// convertApplicationSecurity maps configured scheme names onto SchemeOAuth2
// and SchemeAPIKey regardless of case.
func convertApplicationSecurity(src map[string]bool) map[string]bool {
	out := make(map[string]bool, len(src))
	for k, v := range src {
		switch {
		case strings.EqualFold(k, SchemeOAuth2):
			out[SchemeOAuth2] = v
		case strings.EqualFold(k, SchemeAPIKey):
			out[SchemeAPIKey] = v
		default:
			out[k] = v
		}
	}
	return out
}

func convertResource(src *config.ResourceDefinition, tokenHeader, internalKeyHeader string) *ResourceConfig {
	res := &ResourceConfig{
		Path:             src.Path,
		Method:           strings.ToUpper(src.Method),
		Scopes:           src.Scopes,
		SecurityDisabled: src.SecurityDisabled,
	}
	if res.SecurityDisabled {
		return res
	}

	res.OAuth2 = &OAuth2Security{Header: tokenHeader}
	if src.OAuth2 != nil {
		if src.OAuth2.Header != "" {
			res.OAuth2.Header = src.OAuth2.Header
		}
		res.OAuth2.SendTokenToUpstream = src.OAuth2.SendTokenToUpstream
	}

	res.InternalKey = &InternalKeySecurity{Header: internalKeyHeader}
	if src.InternalKey != nil && src.InternalKey.Header != "" {
		res.InternalKey.Header = src.InternalKey.Header
	}

	for _, key := range src.APIKeys {
		res.APIKeys = append(res.APIKeys, APIKeySecurity{
			Name:                key.Name,
			In:                  key.In,
			SendTokenToUpstream: key.SendTokenToUpstream,
		})
	}
	return res
}
