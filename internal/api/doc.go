// Resonance - Session-Scoped Music Recommendation Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/resonance

/*
Package api provides the operations HTTP surface using the Chi router.

Recommendations are an in-process API; this package only exposes what an
operator or orchestrator needs:

	GET /metrics          Prometheus exposition (promhttp)
	GET /healthz          liveness, always 200 while the process runs
	GET /readyz           readiness, 503 without a model or with the affinity breaker open
	GET /api/v1/status    model version, catalog size, clusters, sessions, affinity state

# Middleware

Every request gets an X-Request-ID (honoring an upstream one) and a fresh
correlation ID in its logging context, is recovered from panics, and is
counted in resonance_http_requests_total by route pattern.
*/
package api
