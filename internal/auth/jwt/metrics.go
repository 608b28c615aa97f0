package jwt

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Validation results.
const (
	resultValid    = "valid"
	resultCached   = "cached"
	resultInvalid  = "invalid"
	resultExpired  = "expired"
	resultRevoked  = "revoked"
	resultTampered = "tampered"
	resultError    = "error"
)

// Metrics holds Prometheus metrics for token validation.
type Metrics struct {
	validationsTotal   *prometheus.CounterVec
	validationDuration prometheus.Histogram
	backendTokensTotal *prometheus.CounterVec
}

// NewMetrics creates metrics registered with prometheus.DefaultRegisterer.
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
		validationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "token_validations_total",
			Help:      "Token validations by result",
		}, []string{"result"}),
		validationDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "jwt",
			Name:      "validation_duration_seconds",
			Help:      "Duration of full signature validations in seconds",
			Buckets:   []float64{.0001, .0005, .001, .005, .01, .025, .05, .1},
		}),
		backendTokensTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "jwt",
			Name:      "backend_tokens_total",
			Help:      "Backend tokens served, by source",
		}, []string{"source"}),
	}

	m.validationsTotal = register(registerer, m.validationsTotal)
	m.validationDuration = register(registerer, m.validationDuration)
	m.backendTokensTotal = register(registerer, m.backendTokensTotal)
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

// Init pre-initializes label combinations.
func (m *Metrics) Init() {
	for _, r := range []string{
		resultValid, resultCached, resultInvalid, resultExpired,
		resultRevoked, resultTampered, resultError,
	} {
		m.validationsTotal.WithLabelValues(r)
	}
	for _, s := range []string{"generated", "cached"} {
		m.backendTokensTotal.WithLabelValues(s)
	}
}

func (m *Metrics) recordValidation(result string) {
	m.validationsTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) observeDuration(d time.Duration) {
	m.validationDuration.Observe(d.Seconds())
}

func (m *Metrics) recordBackendToken(source string) {
	m.backendTokensTotal.WithLabelValues(source).Inc()
}
