// Resonance - Session-Scoped Music Recommendation Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/resonance

package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// HTTPServer is the lifecycle subset of *http.Server.
type HTTPServer interface {
	ListenAndServe() error
	Shutdown(ctx context.Context) error
}

// HTTPServerService keeps the ops endpoints (/metrics, /healthz, /readyz,
// /api/v1/status) up under the api layer.
//
//	server := &http.Server{Addr: ":9464", Handler: api.NewRouter(deps, nil, logger).Handler()}
//	tree.AddAPIService(services.NewHTTPServerService(server, 15*time.Second, logger))
type HTTPServerService struct {
	server          HTTPServer
	shutdownTimeout time.Duration
	logger          zerolog.Logger
	name            string
}

// NewHTTPServerService wraps server. A non-positive shutdownTimeout selects 10s.
//
//nolint:gocritic // zerolog.Logger is designed to be passed by value
func NewHTTPServerService(server HTTPServer, shutdownTimeout time.Duration, logger zerolog.Logger) *HTTPServerService {
	if shutdownTimeout <= 0 {
		shutdownTimeout = 10 * time.Second
	}
	logger = logger.With().Str("service", "http-server").Logger()
	if s, ok := server.(*http.Server); ok {
		logger = logger.With().Str("addr", s.Addr).Logger()
	}
	return &HTTPServerService{
		server:          server,
		shutdownTimeout: shutdownTimeout,
		logger:          logger,
		name:            "http-server",
	}
}

// Serve implements suture.Service. A listener failure is returned wrapped so
// the supervisor restarts the server; after cancellation in-flight scrapes
// get shutdownTimeout to finish and ctx.Err() is returned.
func (h *HTTPServerService) Serve(ctx context.Context) error {
	listenErr := make(chan error, 1)
	go func() {
		err := h.server.ListenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		listenErr <- err
	}()
	h.logger.Info().Msg("Ops HTTP server listening")

	select {
	case err := <-listenErr:
		if err == nil {
			return nil
		}
		h.logger.Error().Err(err).Msg("Ops HTTP server stopped")
		return fmt.Errorf("http server failed: %w", err)
	case <-ctx.Done():
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), h.shutdownTimeout)
	defer cancel()
	if err := h.server.Shutdown(stopCtx); err != nil {
		return fmt.Errorf("http server shutdown failed: %w", err)
	}
	<-listenErr
	h.logger.Info().Msg("Ops HTTP server shut down")
	return ctx.Err()
}

// String implements fmt.Stringer for supervisor event logs.
func (h *HTTPServerService) String() string {
	return h.name
}
