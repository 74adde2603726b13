// Resonance - Session-Scoped Music Recommendation Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/resonance

package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/tomtom215/resonance/internal/affinity"
	"github.com/tomtom215/resonance/internal/api"
	"github.com/tomtom215/resonance/internal/config"
	"github.com/tomtom215/resonance/internal/events"
	"github.com/tomtom215/resonance/internal/logging"
	"github.com/tomtom215/resonance/internal/recommend"
	"github.com/tomtom215/resonance/internal/refit"
	"github.com/tomtom215/resonance/internal/supervisor"
	"github.com/tomtom215/resonance/internal/supervisor/services"
)

func newServeCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the recommendation engine and its background services",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, a.cfg, logging.Logger())
		},
	}
}

// closers runs cleanup functions in reverse order of registration.
type closers []func()

func (c *closers) add(fn func()) { *c = append(*c, fn) }

func (c closers) run() {
	for i := len(c) - 1; i >= 0; i-- {
		c[i]()
	}
}

//nolint:gocritic,gocyclo // zerolog.Logger is designed to be passed by value; sequential setup
func runServe(ctx context.Context, cfg *config.Config, logger zerolog.Logger) error {
	logger.Info().
		Str("version", version).
		Str("catalog", cfg.Catalog.Path).
		Str("affinity_backend", cfg.Affinity.Backend).
		Bool("events", cfg.Events.Enabled).
		Bool("refit", cfg.Scheduler.RefitEnabled).
		Msg("Starting Resonance with supervisor tree")

	var cleanup closers
	defer cleanup.run()

	builder := refit.NewBuilder(refit.SourceFromConfig(cfg), logger)
	model, err := builder.Build(ctx, true)
	if err != nil {
		return fmt.Errorf("build model: %w", err)
	}

	store, err := affinity.Open(ctx, cfg.Affinity, logger)
	if err != nil {
		return fmt.Errorf("open affinity store: %w", err)
	}
	cleanup.add(func() {
		if err := store.Close(); err != nil {
			logger.Error().Err(err).Msg("Error closing affinity store")
		}
	})

	var (
		bus  *events.Bus
		pub  events.Publisher
		sink *events.DuckDBSink
	)
	if cfg.Events.Enabled {
		bus, err = events.Open(cfg.Events, logger)
		if err != nil {
			return fmt.Errorf("open event bus: %w", err)
		}
		cleanup.add(func() {
			if err := bus.Close(); err != nil {
				logger.Error().Err(err).Msg("Error closing event bus")
			}
		})
		pub = bus

		if cfg.Events.Sink.Enabled {
			sink, err = events.OpenDuckDBSink(ctx, cfg.Events.Sink, logger)
			if err != nil {
				return fmt.Errorf("open interaction log: %w", err)
			}
			cleanup.add(func() {
				if err := sink.Close(); err != nil {
					logger.Error().Err(err).Msg("Error closing interaction log")
				}
			})
		}
	}

	engine, err := recommend.NewEngine(cfg.Recommend, model, store, pub, logger)
	if err != nil {
		return fmt.Errorf("create engine: %w", err)
	}
	cleanup.add(engine.Close)

	tree, err := supervisor.NewSupervisorTree(logging.NewSlogLogger(logger), supervisor.DefaultTreeConfig())
	if err != nil {
		return fmt.Errorf("create supervisor tree: %w", err)
	}

	tree.AddStorageService(services.NewAffinityRetryService(affinity.NewRetryWorker(store), 0, logger))
	if sink != nil {
		tree.AddStorageService(services.NewInteractionLogService(bus, sink, logger))
	}

	if cfg.Scheduler.RefitEnabled {
		refitter := refit.NewRefitter(builder, engine)
		tree.AddModelService(services.NewRefitService(refitter, services.RefitServiceConfig{
			Schedule: cfg.Scheduler.RefitSchedule,
			Timeout:  cfg.Scheduler.RefitTimeout,
		}, logger))
	}

	if cfg.Server.Enabled {
		router := api.NewRouter(api.Deps{
			Engine:   engine,
			Affinity: store,
			Backend:  cfg.Affinity.Backend,
			Version:  version,
		}, &api.MiddlewareConfig{
			CORSAllowedOrigins: cfg.Server.CORSOrigins,
			CORSMaxAge:         api.DefaultMiddlewareConfig().CORSMaxAge,
			RateLimitRequests:  cfg.Server.RateLimitRequests,
			RateLimitWindow:    cfg.Server.RateLimitWindow,
		}, logger)
		server := &http.Server{
			Addr:              net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port)),
			Handler:           router.Handler(),
			ReadHeaderTimeout: cfg.Server.ReadTimeout,
			ReadTimeout:       cfg.Server.ReadTimeout,
			WriteTimeout:      cfg.Server.WriteTimeout,
		}
		tree.AddAPIService(services.NewHTTPServerService(server, cfg.Server.ShutdownTimeout, logger))
	}

	logger.Info().Msg("Supervisor tree starting")
	err = tree.Serve(ctx)

	if report, rerr := tree.UnstoppedServiceReport(); rerr == nil && len(report) > 0 {
		for _, svc := range report {
			logger.Warn().Str("service", svc.Name).Msg("Service did not stop within timeout")
		}
	}
	if err != nil && ctx.Err() == nil {
		return fmt.Errorf("supervisor tree: %w", err)
	}
	logger.Info().Msg("Resonance stopped")
	return nil
}
