// SPDX-License-Identifier: MIT

// Package metrics registers the Prometheus collectors for the service.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	circuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "submaker_circuit_breaker_state",
		Help: "Circuit breaker state by provider (closed/half-open/open as 0|1)",
	}, []string{"provider", "state"})

	circuitBreakerTrips = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "submaker_circuit_breaker_trips_total",
		Help: "Total number of circuit breaker trips (transitions to open state)",
	}, []string{"provider", "reason"})

	providerSearchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "submaker_provider_search_duration_seconds",
		Help:    "Per-provider search latency within the fan-out",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 4, 8, 12, 20, 30},
	}, []string{"provider", "outcome"})

	providerResults = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "submaker_provider_results_total",
		Help: "Descriptors returned per provider before deduplication",
	}, []string{"provider"})

	providerSkipped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "submaker_provider_skipped_total",
		Help: "Providers skipped during fan-out by reason",
	}, []string{"provider", "reason"})

	loginLockWait = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "submaker_login_lock_wait_seconds",
		Help:    "Time spent waiting for the distributed login cooldown lock",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 45},
	})

	translationBatches = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "submaker_translation_batches_total",
		Help: "Translation batches persisted by outcome",
	}, []string{"outcome"})

	translationBuilds = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "submaker_translation_builds_total",
		Help: "Translation singleflight builds started by scope",
	}, []string{"scope"})

	sseListeners = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "submaker_sse_listeners",
		Help: "Currently connected SSE listeners across all config channels",
	})

	storeOperations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "submaker_store_operations_total",
		Help: "Storage adapter operations by backend, op and outcome",
	}, []string{"backend", "op", "outcome"})
)

var circuitStates = []string{"closed", "half-open", "open"}

// SetCircuitBreakerState records the active circuit breaker state for a provider.
func SetCircuitBreakerState(provider, state string) {
	for _, s := range circuitStates {
		value := 0.0
		if s == state {
			value = 1.0
		}
		circuitBreakerState.WithLabelValues(provider, s).Set(value)
	}
}

// RecordCircuitBreakerTrip increments the trip counter when a breaker opens.
func RecordCircuitBreakerTrip(provider, reason string) {
	circuitBreakerTrips.WithLabelValues(provider, reason).Inc()
}

// ObserveProviderSearch records one provider leg of a fan-out.
func ObserveProviderSearch(provider, outcome string, d time.Duration, results int) {
	providerSearchDuration.WithLabelValues(provider, outcome).Observe(d.Seconds())
	if results > 0 {
		providerResults.WithLabelValues(provider).Add(float64(results))
	}
}

// RecordProviderSkipped counts a provider excluded from a fan-out.
func RecordProviderSkipped(provider, reason string) {
	providerSkipped.WithLabelValues(provider, reason).Inc()
}

// ObserveLoginLockWait records how long a login waited on the cooldown lock.
func ObserveLoginLockWait(d time.Duration) {
	loginLockWait.Observe(d.Seconds())
}

// RecordTranslationBatch counts one persisted (or failed) translation batch.
func RecordTranslationBatch(outcome string) {
	translationBatches.WithLabelValues(outcome).Inc()
}

// RecordTranslationBuild counts a started singleflight build.
func RecordTranslationBuild(scope string) {
	translationBuilds.WithLabelValues(scope).Inc()
}

// SSEListenerConnected / SSEListenerDisconnected track the live listener count.
func SSEListenerConnected()    { sseListeners.Inc() }
func SSEListenerDisconnected() { sseListeners.Dec() }

// RecordStoreOperation counts a storage adapter call.
func RecordStoreOperation(backend, op, outcome string) {
	storeOperations.WithLabelValues(backend, op, outcome).Inc()
}
