// Resonance - Session-Scoped Music Recommendation Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/resonance

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/tomtom215/resonance/internal/recommend"
)

// ModelSource exposes the serving model. Satisfied by *recommend.Engine.
type ModelSource interface {
	Model() *recommend.Model
	ActiveSessions() int
}

// BreakerSource exposes the affinity circuit breaker. Satisfied by
// *affinity.Resilient.
type BreakerSource interface {
	State() string
}

// Deps are the components the operations endpoints report on. Affinity
// may be nil when persistence is disabled.
type Deps struct {
	Engine   ModelSource
	Affinity BreakerSource
	Backend  string
	Version  string
}

// Router serves the operations endpoints.
type Router struct {
	deps      Deps
	mw        *MiddlewareConfig
	logger    zerolog.Logger
	startTime time.Time
}

// NewRouter creates a router over deps. A nil mw selects
// DefaultMiddlewareConfig.
//
//nolint:gocritic // zerolog.Logger is designed to be passed by value
func NewRouter(deps Deps, mw *MiddlewareConfig, logger zerolog.Logger) *Router {
	if mw == nil {
		mw = DefaultMiddlewareConfig()
	}
	return &Router{
		deps:      deps,
		mw:        mw,
		logger:    logger.With().Str("component", "api").Logger(),
		startTime: time.Now(),
	}
}

// Handler builds the chi handler tree.
func (router *Router) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(RequestIDWithLogging(router.logger))
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(RouteMetrics)

	r.Get("/healthz", router.HealthLive)
	r.Get("/readyz", router.HealthReady)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(router.mw.CORS())
		r.Use(router.mw.RateLimit())
		r.Get("/status", router.Status)
	})

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		respondError(w, http.StatusNotFound, "NOT_FOUND", "Not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		respondError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed")
	})
	return r
}
