// Package oauth2 authenticates requests carrying a bearer JWT issued by one
// of the key managers registered for the organization.
//
// Tokens are validated by the shared jwt.Engine. The application owning the
// consumer key must then hold an active subscription to the API, unless
// subscription validation is off for the API, and the token must grant one
// of the scopes each matched resource declares.
package oauth2
