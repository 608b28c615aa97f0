// Package keys loads PEM encoded key material for token verification and
// backend token signing. Material comes from a local file or from a Vault
// KV v2 secret.
package keys
