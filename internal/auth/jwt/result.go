package jwt

import "time"

// ValidationResult is the outcome of a successful signature and claim check.
// Results are cached, so they are treated as immutable once built.
type ValidationResult struct {
	Valid bool

	// Token is the raw token the result was computed for. A cached result is
	// served only to a request presenting exactly the same token.
	Token string

	// Identifier is the jti claim or, when absent, the signature segment.
	Identifier string

	Issuer      string
	KeyManager  string
	Subject     string
	ConsumerKey string
	Scopes      []string
	Claims      map[string]any
	ExpiresAt   time.Time

	// Code is the error code attached when the result records a failure.
	Code int
}

// Expired reports whether the token is past its expiry, allowing skew.
func (r *ValidationResult) Expired(now time.Time, skew time.Duration) bool {
	if r.ExpiresAt.IsZero() {
		return true
	}
	return now.After(r.ExpiresAt.Add(skew))
}
