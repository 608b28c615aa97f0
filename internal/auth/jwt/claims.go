package jwt

import (
	"strings"
	"time"
)

// Claim names.
const (
	ClaimIssuer          = "iss"
	ClaimSubject         = "sub"
	ClaimExpiry          = "exp"
	ClaimJWTID           = "jti"
	ClaimScope           = "scope"
	ClaimAuthorizedParty = "azp"
	ClaimClientID        = "client_id"
	ClaimKeyType         = "keytype"
	ClaimTokenType       = "token_type"
	ClaimApplication     = "application"
	ClaimSubscribedAPIs  = "subscribedAPIs"
)

// ClaimString returns the string value of a claim.
func ClaimString(claims map[string]any, name string) string {
	s, _ := claims[name].(string)
	return s
}

// ClaimStrings returns a claim holding either a list of strings or a single
// space delimited string.
func ClaimStrings(claims map[string]any, name string) []string {
	switch v := claims[name].(type) {
	case string:
		return strings.Fields(v)
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

// ClaimTime returns a NumericDate claim. The zero time is returned when the
// claim is absent or not a number.
func ClaimTime(claims map[string]any, name string) time.Time {
	switch v := claims[name].(type) {
	case float64:
		return time.Unix(int64(v), 0)
	case int64:
		return time.Unix(v, 0)
	case int:
		return time.Unix(int64(v), 0)
	default:
		return time.Time{}
	}
}

// ApplicationUUID returns the uuid of the "application" claim of
// self-contained tokens.
func ApplicationUUID(claims map[string]any) string {
	app, ok := claims[ClaimApplication].(map[string]any)
	if !ok {
		return ""
	}
	uuid, _ := app["uuid"].(string)
	return uuid
}
