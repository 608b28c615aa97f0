// Package auth provides the request authentication chain of the enforcer.
//
// A Filter is built once per deployed API. It holds the authenticators that
// apply to the API, ordered by priority, and runs them for every request:
//
//	filter := auth.NewFilter(api,
//	    auth.WithAuthenticators(mtlsAuth, internalKeyAuth, oauth2Auth),
//	    auth.WithFilterLogger(logger),
//	)
//
//	rc := auth.NewRequestContext(api, matched, headers, query)
//	if !filter.Authenticate(ctx, rc) {
//	    secErr := rc.Error()
//	    // reject with secErr.Status() and rc.ResponseHeaders
//	}
//
// # Chain semantics
//
// Authenticators that find no credential of their scheme are skipped. A
// skipped mandatory mutual TLS authenticator rejects the request at once,
// and a skipped application level scheme fails the request when OAuth2 or
// API key security is mandatory, unless a later authenticator succeeds.
// Mutual TLS stops the chain on failure and, on success, continues only when
// a mandatory application level credential is also required. Any other
// authenticator stops the chain on success.
//
// # Errors
//
// Failures are reported as *SecurityError with a Kind that maps onto the
// HTTP status returned to the client. Errors that are not already
// classified become KindInternalError with a generic message.
package auth
