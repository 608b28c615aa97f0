package auth

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds Prometheus metrics for request authentication.
type Metrics struct {
	requestsTotal  *prometheus.CounterVec
	decisionsTotal *prometheus.CounterVec
	failuresTotal  *prometheus.CounterVec
	duration       prometheus.Histogram
	securityEvents *prometheus.CounterVec
	registerer     prometheus.Registerer
}

// NewMetrics creates a new Metrics instance registered with
// prometheus.DefaultRegisterer.
func NewMetrics(namespace string) *Metrics {
	return NewMetricsWithRegisterer(namespace, prometheus.DefaultRegisterer)
}

// NewMetricsWithRegisterer creates a new Metrics instance with a custom registerer.
// This is useful for testing where a private registry is preferred.
func NewMetricsWithRegisterer(namespace string, registerer prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = "enforcer"
	}

	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		registerer: registerer,
	}

	m.requestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "auth",
			Name:      "requests_total",
			Help:      "Authenticator invocations by authenticator and result",
		},
		[]string{"authenticator", "result"},
	)

	m.decisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "auth",
			Name:      "decisions_total",
			Help:      "Final filter decisions by result",
		},
		[]string{"result"},
	)

	m.failuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "auth",
			Name:      "failures_total",
			Help:      "Rejected requests by failure kind",
		},
		[]string{"kind"},
	)

	m.duration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "auth",
			Name:      "duration_seconds",
			Help:      "Time spent authenticating a request in seconds",
			Buckets:   []float64{.0001, .0005, .001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
	)

	m.securityEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "security_events_total",
			Help:      "Adversarial signals such as tampered or revoked tokens",
		},
		[]string{"event"},
	)

	// Filters of every API share one registry; later instances reuse the
	// collectors registered first.
	m.requestsTotal = register(registerer, m.requestsTotal)
	m.decisionsTotal = register(registerer, m.decisionsTotal)
	m.failuresTotal = register(registerer, m.failuresTotal)
	m.duration = register(registerer, m.duration)
	m.securityEvents = register(registerer, m.securityEvents)

	return m
}

func register[C prometheus.Collector](registerer prometheus.Registerer, c C) C {
	if err := registerer.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing
			}
		}
	}
	return c
}

// Init pre-initializes label combinations so that series appear in /metrics
// before the first request.
func (m *Metrics) Init() {
	for _, name := range []string{NameMutualSSL, NameInternalKey, NameOAuth2, NameUnsecured} {
		for _, result := range []string{"success", "failure"} {
			m.requestsTotal.WithLabelValues(name, result)
		}
	}
	for _, result := range []string{"allow", "deny", "bypass"} {
		m.decisionsTotal.WithLabelValues(result)
	}
	for _, kind := range []Kind{
		KindUnauthenticated, KindInvalidCredential, KindExpired,
		KindForbidden, KindServiceUnavailable, KindInternalError,
	} {
		m.failuresTotal.WithLabelValues(kind.String())
	}
}

// RecordAttempt records one authenticator invocation.
func (m *Metrics) RecordAttempt(authenticator string, success bool) {
	result := "failure"
	if success {
		result = "success"
	}
	m.requestsTotal.WithLabelValues(authenticator, result).Inc()
}

// RecordDecision records the final decision and its latency.
func (m *Metrics) RecordDecision(result string, duration time.Duration) {
	m.decisionsTotal.WithLabelValues(result).Inc()
	m.duration.Observe(duration.Seconds())
}

// RecordFailure records a rejected request.
func (m *Metrics) RecordFailure(kind Kind) {
	m.failuresTotal.WithLabelValues(kind.String()).Inc()
}

// RecordSecurityEvent counts a security event. It has the signature expected
// by observability.WithSecurityEventHook.
func (m *Metrics) RecordSecurityEvent(event string) {
	m.securityEvents.WithLabelValues(event).Inc()
}
