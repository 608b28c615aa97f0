// Package apikey authenticates internal keys.
//
// An internal key is a JWT issued and signed by the gateway runtime, sent in
// its own header and verified against the runtime's certificate. Its
// token_type claim must be "InternalKey", which keeps ordinary OAuth2 tokens
// out of this header. Access is granted by the key's subscribedAPIs claim
// or, when the key has none, by the subscription of the application it
// embeds.
package apikey
