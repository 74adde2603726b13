// Resonance - Session-Scoped Music Recommendation Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/resonance

package api

import (
	"net/http"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/resonance/internal/logging"
)

// Response is the envelope of every JSON response.
type Response struct {
	Status    string      `json:"status"`
	Data      interface{} `json:"data,omitempty"`
	Error     *Error      `json:"error,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// Error describes a failed request.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// StatusReport is the body of /api/v1/status.
type StatusReport struct {
	Version         string  `json:"version"`
	ModelVersion    string  `json:"model_version,omitempty"`
	Tracks          int     `json:"tracks"`
	Dim             int     `json:"dim"`
	Clusters        int     `json:"clusters"`
	FittedAt        string  `json:"fitted_at,omitempty"`
	ActiveSessions  int     `json:"active_sessions"`
	AffinityBackend string  `json:"affinity_backend"`
	AffinityState   string  `json:"affinity_state"`
	UptimeSeconds   float64 `json:"uptime_seconds"`
}

func respondJSON(w http.ResponseWriter, status int, response *Response) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")

	data, err := json.Marshal(response)
	if err != nil {
		logging.Error().Err(err).Msg("Failed to marshal JSON response")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.WriteHeader(status)
	if _, err := w.Write(data); err != nil {
		logging.Error().Err(err).Msg("Failed to write JSON response")
	}
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, &Response{
		Status:    "error",
		Error:     &Error{Code: code, Message: message},
		Timestamp: time.Now(),
	})
}

// HealthLive reports that the process is alive, regardless of dependencies.
func (router *Router) HealthLive(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, &Response{
		Status: "success",
		Data: map[string]interface{}{
			"alive":  true,
			"uptime": time.Since(router.startTime).Seconds(),
		},
		Timestamp: time.Now(),
	})
}

// HealthReady reports 200 only when a model is loaded and the affinity
// breaker is not open. A half-open breaker counts as ready.
func (router *Router) HealthReady(w http.ResponseWriter, r *http.Request) {
	checks := map[string]string{"model": "ok", "affinity": "ok"}
	ready := true

	if router.deps.Engine == nil || router.deps.Engine.Model() == nil {
		checks["model"] = "missing"
		ready = false
	}
	if router.deps.Affinity != nil {
		if state := router.deps.Affinity.State(); state == "open" {
			checks["affinity"] = state
			ready = false
		}
	} else {
		checks["affinity"] = "disabled"
	}

	status, code := "ready", http.StatusOK
	if !ready {
		status, code = "not_ready", http.StatusServiceUnavailable
		logging.Ctx(r.Context()).Warn().Interface("checks", checks).Msg("Readiness check failed")
	}
	respondJSON(w, code, &Response{
		Status:    "success",
		Data:      map[string]interface{}{"status": status, "checks": checks},
		Timestamp: time.Now(),
	})
}

// Status reports the serving model and session registry.
func (router *Router) Status(w http.ResponseWriter, _ *http.Request) {
	report := StatusReport{
		Version:         router.deps.Version,
		AffinityBackend: router.deps.Backend,
		AffinityState:   "disabled",
		UptimeSeconds:   time.Since(router.startTime).Seconds(),
	}
	if router.deps.Affinity != nil {
		report.AffinityState = router.deps.Affinity.State()
	}
	if router.deps.Engine != nil {
		report.ActiveSessions = router.deps.Engine.ActiveSessions()
		if m := router.deps.Engine.Model(); m != nil {
			report.ModelVersion = m.Version()
			report.Tracks = m.Catalog.Len()
			report.Dim = m.Catalog.Dim()
			report.Clusters = m.Clusters.K()
			report.FittedAt = m.Clusters.FittedAt().UTC().Format(time.RFC3339)
		}
	}
	respondJSON(w, http.StatusOK, &Response{Status: "success", Data: report, Timestamp: time.Now()})
}
