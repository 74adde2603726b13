// Resonance - Session-Scoped Music Recommendation Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/resonance

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Label values for RecommendationsServed "source".
const (
	SourceScored   = "scored"
	SourceProbe    = "probe"
	SourceFallback = "fallback"
)

var (
	// Model Metrics
	CatalogTracks = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "resonance_catalog_tracks",
			Help: "Number of tracks in the loaded catalog",
		},
	)

	ClusterCount = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "resonance_clusters",
			Help: "Number of clusters in the active model",
		},
	)

	ClusterFitDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "resonance_cluster_fit_duration_seconds",
			Help:    "Duration of k-means fitting plus neighborhood cache build",
			Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120, 300, 600},
		},
	)

	ModelRefits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "resonance_model_refits_total",
			Help: "Total number of scheduled model refits",
		},
		[]string{"result"}, // "success", "failure", "skipped"
	)

	ModelLastRefit = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "resonance_model_last_refit_timestamp",
			Help: "Unix timestamp of the last successful model swap",
		},
	)

	// Session Metrics
	ActiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "resonance_active_sessions",
			Help: "Current number of registered listening sessions",
		},
	)

	RecommendationsServed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "resonance_recommendations_served_total",
			Help: "Total number of tracks recommended",
		},
		[]string{"mode", "source"},
	)

	RecommendationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "resonance_recommendation_duration_seconds",
			Help:    "Time to produce a recommendation or batch",
			Buckets: []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		},
		[]string{"operation"}, // "next_track", "next_batch"
	)

	RecoveryFallbacks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "resonance_recovery_fallbacks_total",
			Help: "Total number of empty-pool recoveries by stage",
		},
		[]string{"stage"}, // "explore", "relax", "catalog", "random"
	)

	RecommendationsExhausted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "resonance_recommendations_exhausted_total",
			Help: "Total number of requests refused because the catalog is exhausted",
		},
	)

	FeedbackTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "resonance_feedback_total",
			Help: "Total number of feedback signals by engagement class",
		},
		[]string{"engagement"},
	)

	ClusterSwitches = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "resonance_cluster_switches_total",
			Help: "Total number of exhaustion-triggered cluster switches",
		},
	)

	StaleStateResets = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "resonance_stale_state_resets_total",
			Help: "Total number of taste vectors reset after a degenerate update",
		},
	)

	// Affinity Store Metrics
	AffinityOpDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "resonance_affinity_operation_duration_seconds",
			Help:    "Duration of affinity store operations",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"backend", "operation"},
	)

	AffinityOpErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "resonance_affinity_operation_errors_total",
			Help: "Total number of failed affinity store operations",
		},
		[]string{"backend", "operation"},
	)

	AffinityRetryQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "resonance_affinity_retry_queue_depth",
			Help: "Current number of affinity writes waiting for retry",
		},
	)

	AffinityRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "resonance_affinity_retries_total",
			Help: "Total number of queued affinity write retries",
		},
		[]string{"result"}, // "success", "failure", "dropped"
	)

	// Circuit Breaker Metrics
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	CircuitBreakerRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_requests_total",
			Help: "Total number of requests through circuit breaker",
		},
		[]string{"name", "result"}, // result: "success", "failure", "rejected"
	)

	CircuitBreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_state_transitions_total",
			Help: "Total number of circuit breaker state transitions",
		},
		[]string{"name", "from_state", "to_state"},
	)

	// Event Metrics
	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "resonance_events_published_total",
			Help: "Total number of interaction events published",
		},
		[]string{"action"},
	)

	EventPublishErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "resonance_event_publish_errors_total",
			Help: "Total number of interaction events that failed to publish",
		},
	)

	EventSinkWritten = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "resonance_event_sink_written_total",
			Help: "Total number of interaction events persisted by the sink",
		},
	)

	EventSinkFlushDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "resonance_event_sink_flush_duration_seconds",
			Help:    "Duration of interaction log batch flushes",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		},
	)

	// Operations HTTP Metrics
	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "resonance_http_requests_total",
			Help: "Total number of operations HTTP requests",
		},
		[]string{"route", "code"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "resonance_http_request_duration_seconds",
			Help:    "Operations HTTP request duration",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)
)

// RecordRecommendation records a served track.
func RecordRecommendation(mode, source string) {
	RecommendationsServed.WithLabelValues(mode, source).Inc()
}

// ObserveRecommendation records the latency of a recommendation call.
func ObserveRecommendation(operation string, duration time.Duration) {
	RecommendationDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordFallback records an empty-pool recovery stage.
func RecordFallback(stage string) {
	RecoveryFallbacks.WithLabelValues(stage).Inc()
}

// RecordFeedback records a classified feedback signal.
func RecordFeedback(engagement string) {
	FeedbackTotal.WithLabelValues(engagement).Inc()
}

// RecordAffinityOp records an affinity store call.
func RecordAffinityOp(backend, operation string, duration time.Duration, err error) {
	AffinityOpDuration.WithLabelValues(backend, operation).Observe(duration.Seconds())
	if err != nil {
		AffinityOpErrors.WithLabelValues(backend, operation).Inc()
	}
}

// RecordAffinityRetry records the outcome of a queued write retry.
func RecordAffinityRetry(result string) {
	AffinityRetries.WithLabelValues(result).Inc()
}

// RecordRefit records a scheduled refit outcome.
func RecordRefit(result string) {
	ModelRefits.WithLabelValues(result).Inc()
	if result == "success" {
		ModelLastRefit.Set(float64(time.Now().Unix()))
	}
}

// RecordBreakerTransition records a circuit breaker state change.
// States are reported as 0=closed, 1=half-open, 2=open.
func RecordBreakerTransition(name, from, to string, toValue float64) {
	CircuitBreakerTransitions.WithLabelValues(name, from, to).Inc()
	CircuitBreakerState.WithLabelValues(name).Set(toValue)
}

// RecordEventPublished records a published interaction event.
func RecordEventPublished(action string, err error) {
	if err != nil {
		EventPublishErrors.Inc()
		return
	}
	EventsPublished.WithLabelValues(action).Inc()
}

// RecordSinkFlush records a batch written by the interaction log sink.
func RecordSinkFlush(n int, duration time.Duration) {
	EventSinkWritten.Add(float64(n))
	EventSinkFlushDuration.Observe(duration.Seconds())
}

// RecordHTTPRequest records one operations HTTP request. route is the
// matched route pattern, never the raw path.
func RecordHTTPRequest(route, code string, duration time.Duration) {
	HTTPRequests.WithLabelValues(route, code).Inc()
	HTTPRequestDuration.WithLabelValues(route).Observe(duration.Seconds())
}
