// Resonance - Session-Scoped Music Recommendation Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/resonance

/*
Package metrics provides Prometheus metrics collection and export for observability.

Collectors are registered with the default registry through promauto at package
init and exposed by the ops server at /metrics.

# Available Metrics

Model Metrics:
  - resonance_catalog_tracks: Tracks in the loaded catalog (gauge)
  - resonance_clusters: Clusters in the active model (gauge)
  - resonance_cluster_fit_duration_seconds: k-means plus neighborhood build (histogram)
  - resonance_model_refits_total: Scheduled refits (counter)
    Labels: result (success, failure, skipped)

Session Metrics:
  - resonance_active_sessions: Registered sessions (gauge)
  - resonance_recommendations_served_total: Served tracks (counter)
    Labels: mode (exploit, explore), source (scored, probe, fallback)
  - resonance_recovery_fallbacks_total: Empty-pool recoveries (counter)
    Labels: stage (explore, relax, catalog, random)
  - resonance_feedback_total: Feedback signals (counter)
    Labels: engagement
  - resonance_cluster_switches_total: Exhaustion-triggered switches (counter)

Affinity Store Metrics:
  - resonance_affinity_operation_duration_seconds (histogram)
    Labels: backend, operation
  - resonance_affinity_retry_queue_depth (gauge)
  - circuit_breaker_state (gauge)
    Labels: name
    Values: 0=closed, 1=half-open, 2=open

Event Metrics:
  - resonance_events_published_total (counter)
    Labels: action (served, feedback)
  - resonance_event_sink_written_total (counter)

# Cardinality Management

User and session IDs are never used as label values. Engagement classes, modes
and stages are closed sets.

Example PromQL queries:

	# Share of recommendations served by exploration
	sum(rate(resonance_recommendations_served_total{mode="explore"}[5m]))
	  / sum(rate(resonance_recommendations_served_total[5m]))

	# p95 next-track latency
	histogram_quantile(0.95, rate(resonance_recommendation_duration_seconds_bucket{operation="next_track"}[5m]))
*/
package metrics
