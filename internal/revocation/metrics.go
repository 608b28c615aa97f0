package revocation

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds Prometheus metrics for the revocation feed.
type Metrics struct {
	revokedTokens prometheus.Gauge
	messages      *prometheus.CounterVec
	resyncs       *prometheus.CounterVec
	cleanups      prometheus.Counter
}

// NewMetrics creates metrics registered with the default registerer.
func NewMetrics(namespace string) *Metrics {
	return NewMetricsWithRegisterer(namespace, prometheus.DefaultRegisterer)
}

// NewMetricsWithRegisterer creates metrics registered with registerer.
// Collectors that are already registered are reused.
func NewMetricsWithRegisterer(namespace string, registerer prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = "enforcer"
	}
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		revokedTokens: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "revoked_tokens",
			Help:      "Number of revoked token identifiers currently tracked",
		}),
		messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "revocation",
			Name:      "messages_total",
			Help:      "Revocation messages received, by result",
		}, []string{"result"}),
		resyncs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "revocation",
			Name:      "resyncs_total",
			Help:      "Full revocation resyncs from Redis, by result",
		}, []string{"result"}),
		cleanups: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "revocation",
			Name:      "expired_removed_total",
			Help:      "Revoked identifiers removed after their expiry",
		}),
	}

	m.revokedTokens = register(registerer, m.revokedTokens)
	m.messages = register(registerer, m.messages)
	m.resyncs = register(registerer, m.resyncs)
	m.cleanups = register(registerer, m.cleanups)
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

// SetRevoked records the current number of revoked identifiers.
func (m *Metrics) SetRevoked(n int) {
	m.revokedTokens.Set(float64(n))
}

// RecordMessage records the result of handling a feed message.
func (m *Metrics) RecordMessage(result string) {
	m.messages.WithLabelValues(result).Inc()
}

// RecordResync records the result of a full resync.
func (m *Metrics) RecordResync(result string) {
	m.resyncs.WithLabelValues(result).Inc()
}

// RecordCleanup records identifiers removed by cleanup.
func (m *Metrics) RecordCleanup(n int) {
	m.cleanups.Add(float64(n))
}
