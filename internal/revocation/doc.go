// Package revocation tracks token identifiers that were revoked before their
// natural expiry.
//
// The Store is the in-process set consulted on every validation. RedisFeed
// keeps it current: it bootstraps from keys under a common prefix whose
// values are expiry timestamps, then follows a pub/sub channel carrying
// "<identifier>_##_<expiry>" messages. Entries are dropped once the token
// they describe has expired anyway.
package revocation
