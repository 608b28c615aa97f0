// Package health serves the enforcer's liveness and readiness probes.
//
// Readiness aggregates named checks registered by the components that must
// be usable before traffic is accepted: the subscription snapshot, the
// revocation feed and the signing keys.
package health
