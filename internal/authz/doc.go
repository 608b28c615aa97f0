// Package authz decides whether an authenticated caller may use an API.
//
// KeyValidator checks two things once a token is known to be genuine:
//   - scopes: every matched resource that declares scopes must share at
//     least one of them with the token
//   - subscription: the calling application must hold an active
//     subscription to the requested API name and version
//
// Subscriptions are resolved from the per-organization subscription store,
// either through the consumer key of an OAuth2 token or directly through an
// application claim embedded in self-contained keys.
package authz
