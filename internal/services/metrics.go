package services

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the engine's Prometheus collectors. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	recommendationRequests *prometheus.CounterVec
	recommendationLatency  *prometheus.HistogramVec
	explanations           *prometheus.CounterVec
	degradedVectors        *prometheus.CounterVec
	weightNormalizations   *prometheus.CounterVec
	cachedVectors          *prometheus.GaugeVec
	generatorRequests      *prometheus.CounterVec
	generatorBreakerState  prometheus.Gauge
	inventoryEvents        *prometheus.CounterVec
}

// NewMetrics registers the engine collectors with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		recommendationRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "carmatch_recommendation_requests_total",
			Help: "Total number of recommendation requests by operation and outcome",
		}, []string{"operation", "outcome"}),

		recommendationLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "carmatch_recommendation_latency_seconds",
			Help:    "Recommendation request latency in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1.0, 2.0, 5.0, 10.0},
		}, []string{"operation"}),

		explanations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "carmatch_explanations_total",
			Help: "Explanations produced by source",
		}, []string{"source"}),

		degradedVectors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "carmatch_degraded_vectors_total",
			Help: "Feature vectors that fell back to the hash representation",
		}, []string{"owner_kind"}),

		weightNormalizations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "carmatch_weight_normalizations_total",
			Help: "Scoring weight corrections by outcome",
		}, []string{"outcome"}),

		cachedVectors: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "carmatch_cached_vectors",
			Help: "Feature vectors held in memory by owner kind",
		}, []string{"owner_kind"}),

		generatorRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "carmatch_text_generator_requests_total",
			Help: "Text generation calls by outcome",
		}, []string{"outcome"}),

		generatorBreakerState: factory.NewGauge(prometheus.GaugeOpts{
			Name: "carmatch_text_generator_breaker_state",
			Help: "Text generation circuit breaker state (0 = closed, 1 = half-open, 2 = open)",
		}),

		inventoryEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "carmatch_inventory_events_total",
			Help: "Inventory events applied by type and outcome",
		}, []string{"event_type", "outcome"}),
	}
}

func (m *Metrics) recordRequest(operation, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.recommendationRequests.WithLabelValues(operation, outcome).Inc()
	m.recommendationLatency.WithLabelValues(operation).Observe(elapsed.Seconds())
}

func (m *Metrics) recordExplanation(source string) {
	if m == nil {
		return
	}
	m.explanations.WithLabelValues(source).Inc()
}

func (m *Metrics) recordDegradedVector(ownerKind string) {
	if m == nil {
		return
	}
	m.degradedVectors.WithLabelValues(ownerKind).Inc()
}

func (m *Metrics) recordWeightNormalization(outcome string) {
	if m == nil {
		return
	}
	m.weightNormalizations.WithLabelValues(outcome).Inc()
}

func (m *Metrics) setCachedVectors(ownerKind string, n int) {
	if m == nil {
		return
	}
	m.cachedVectors.WithLabelValues(ownerKind).Set(float64(n))
}

func (m *Metrics) recordGeneratorRequest(outcome string) {
	if m == nil {
		return
	}
	m.generatorRequests.WithLabelValues(outcome).Inc()
}

func (m *Metrics) setBreakerState(state float64) {
	if m == nil {
		return
	}
	m.generatorBreakerState.Set(state)
}

// RecordInventoryEvent counts an applied inventory event.
func (m *Metrics) RecordInventoryEvent(eventType, outcome string) {
	if m == nil {
		return
	}
	m.inventoryEvents.WithLabelValues(eventType, outcome).Inc()
}
