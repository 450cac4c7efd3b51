package realm

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Label constants for metrics.
const (
	LabelOutcome   = "outcome"
	LabelOperation = "operation"
)

// Outcome constants for realm operations.
const (
	OutcomeSuccess            = "success"
	OutcomeUnknownUser        = "unknown_user"
	OutcomeInvalidCredentials = "invalid_credentials"
	OutcomeUnsupportedToken   = "unsupported_token"
	OutcomeDirectoryError     = "directory_error"
)

// Operation constants for the duration histogram.
const (
	OperationAuthenticate = "authenticate"
	OperationRoles        = "roles"
)

const (
	metricsNamespace = "ldaprealm"
	metricsSubsystem = "realm"
)

// Metrics provides Prometheus metrics for realm operations. A nil *Metrics
// records nothing.
type Metrics struct {
	authentications   *prometheus.CounterVec
	roleResolutions   *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
}

// NewMetrics creates realm metrics and registers them with registry.
// If registry is nil, metrics are created but not registered.
func NewMetrics(registry prometheus.Registerer) *Metrics {
	m := &Metrics{
		authentications: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: metricsSubsystem,
				Name:      "authentications_total",
				Help:      "Total number of authentication attempts by outcome",
			},
			[]string{LabelOutcome},
		),
		roleResolutions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: metricsSubsystem,
				Name:      "role_resolutions_total",
				Help:      "Total number of role resolutions by outcome",
			},
			[]string{LabelOutcome},
		),
		operationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: metricsSubsystem,
				Name:      "operation_duration_seconds",
				Help:      "Duration of realm operations including directory round-trips",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 10},
			},
			[]string{LabelOperation},
		),
	}

	if registry != nil {
		registry.MustRegister(
			m.authentications,
			m.roleResolutions,
			m.operationDuration,
		)
	}

	return m
}

// ObserveAuthentication records one authentication attempt.
func (m *Metrics) ObserveAuthentication(outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.authentications.WithLabelValues(outcome).Inc()
	m.operationDuration.WithLabelValues(OperationAuthenticate).Observe(duration.Seconds())
}

// ObserveRoleResolution records one role resolution.
func (m *Metrics) ObserveRoleResolution(outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.roleResolutions.WithLabelValues(outcome).Inc()
	m.operationDuration.WithLabelValues(OperationRoles).Observe(duration.Seconds())
}
