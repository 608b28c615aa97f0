package authz

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

// Check names.
const (
	checkScopes        = "scopes"
	checkConsumerKey   = "consumer_key"
	checkSelfContained = "self_contained"
)

// Metrics contains authorization metrics.
type Metrics struct {
	// checksTotal counts authorization checks by check and result.
	checksTotal *prometheus.CounterVec
}

// NewMetrics creates metrics registered with prometheus.DefaultRegisterer.
func NewMetrics(namespace string) *Metrics {
	return NewMetricsWithRegisterer(namespace, prometheus.DefaultRegisterer)
}

// NewMetricsWithRegisterer creates metrics registered with registerer.
// A collector that is already registered is reused.
func NewMetricsWithRegisterer(namespace string, registerer prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = "enforcer"
	}
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	checks := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "authz",
			Name:      "checks_total",
			Help:      "Scope and subscription checks by check and result",
		},
		[]string{"check", "result"},
	)
	if err := registerer.Register(checks); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				checks = existing
			}
		}
	}

	return &Metrics{checksTotal: checks}
}

// Init pre-initializes label combinations.
func (m *Metrics) Init() {
	for _, check := range []string{checkScopes, checkConsumerKey, checkSelfContained} {
		for _, result := range []string{"allowed", "denied"} {
			m.checksTotal.WithLabelValues(check, result)
		}
	}
}

func (m *Metrics) record(check string, err error) {
	result := "allowed"
	if err != nil {
		result = "denied"
	}
	m.checksTotal.WithLabelValues(check, result).Inc()
}
