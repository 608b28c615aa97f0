// Package subscription holds the read-mostly view of applications, their
// keys and their API subscriptions, indexed per organization.
//
// The authentication core only reads from a Store. Data is replaced
// wholesale by loading a snapshot file; each organization's snapshot is
// swapped atomically so readers never observe a partially applied update.
package subscription
