package apikey

import "github.com/vyrodovalexey/enforcer/internal/auth/jwt"

// AnyVersion in a subscribedAPIs entry covers every version of the API.
const AnyVersion = "*"

// SubscribedAPI is one entry of the subscribedAPIs claim.
type SubscribedAPI struct {
	Name    string
	Version string
	Tier    string
}

// Covers reports whether the entry grants access to the API version.
func (s SubscribedAPI) Covers(name, version string) bool {
	return s.Name == name && (s.Version == version || s.Version == AnyVersion)
}

// SubscribedAPIs decodes the subscribedAPIs claim. present is false when the
// key carries no such claim; malformed entries are skipped.
func SubscribedAPIs(claims map[string]any) (apis []SubscribedAPI, present bool) {
	raw, ok := claims[jwt.ClaimSubscribedAPIs]
	if !ok || raw == nil {
		return nil, false
	}
	entries, ok := raw.([]any)
	if !ok {
		return nil, true
	}
	for _, e := range entries {
		entry, ok := e.(map[string]any)
		if !ok {
			continue
		}
		apis = append(apis, SubscribedAPI{
			Name:    jwt.ClaimString(entry, "name"),
			Version: jwt.ClaimString(entry, "version"),
			Tier:    jwt.ClaimString(entry, "subscriptionTier"),
		})
	}
	return apis, true
}
