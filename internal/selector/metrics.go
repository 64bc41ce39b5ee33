package selector

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"marketfetcher/internal/breaker"
)

const (
	attemptSuccess = "success"
	attemptEmpty   = "empty"
	attemptError   = "error"
	attemptSkipped = "skipped"
	attemptCached  = "cached"
)

// Metrics exports selection and provider health to Prometheus.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	selections         *prometheus.CounterVec
	providerAttempts   *prometheus.CounterVec
	providerQuality    *prometheus.HistogramVec
	breakerTransitions *prometheus.CounterVec
}

// NewMetrics creates the selector metrics and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		selections: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "marketfetcher_selections_total",
				Help: "Completed selections by decision",
			},
			[]string{"decision"},
		),
		providerAttempts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "marketfetcher_provider_attempts_total",
				Help: "Provider calls by provider and result",
			},
			[]string{"provider", "result"},
		),
		providerQuality: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "marketfetcher_provider_quality",
				Help:    "Aggregate quality score of provider responses",
				Buckets: []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.85, 0.9, 0.95, 1},
			},
			[]string{"provider"},
		),
		breakerTransitions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "marketfetcher_breaker_transitions_total",
				Help: "Circuit breaker state changes by dependency and target state",
			},
			[]string{"dependency", "to"},
		),
	}
}

// BreakerStateChanged matches breaker.StateChangeFunc so it can be passed
// to breaker.WithStateChangeHandler.
func (m *Metrics) BreakerStateChanged(name string, _, to breaker.State) {
	if m == nil {
		return
	}
	m.breakerTransitions.WithLabelValues(name, to.String()).Inc()
}

func (m *Metrics) selection(d Decision) {
	if m == nil {
		return
	}
	m.selections.WithLabelValues(string(d)).Inc()
}

func (m *Metrics) attempt(provider, result string) {
	if m == nil {
		return
	}
	m.providerAttempts.WithLabelValues(provider, result).Inc()
}

func (m *Metrics) observeQuality(provider string, q float64) {
	if m == nil {
		return
	}
	m.providerQuality.WithLabelValues(provider).Observe(q)
}
