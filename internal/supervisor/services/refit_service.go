// Resonance - Session-Scoped Music Recommendation Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/resonance

package services

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/thejerf/suture/v4"

	"github.com/tomtom215/resonance/internal/logging"
	"github.com/tomtom215/resonance/internal/validation"
)

// Refitter rebuilds and installs the recommendation model.
// Satisfied by *refit.Refitter.
type Refitter interface {
	Refit(ctx context.Context) error
}

// RefitServiceConfig holds configuration for the refit service.
type RefitServiceConfig struct {
	// Schedule is a cron spec or descriptor such as @daily or @every 6h.
	Schedule string

	// Timeout bounds one refit. Default: 30m.
	Timeout time.Duration

	// RefitOnStartup runs one refit as soon as the service starts.
	RefitOnStartup bool
}

// RefitService runs model refits on a cron schedule under suture.
// A refit still running when the next one is due is skipped.
type RefitService struct {
	refitter Refitter
	config   RefitServiceConfig
	logger   zerolog.Logger
	name     string
}

// NewRefitService creates a new refit service.
//
//nolint:gocritic // zerolog.Logger is designed to be passed by value
func NewRefitService(refitter Refitter, cfg RefitServiceConfig, logger zerolog.Logger) *RefitService {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Minute
	}
	return &RefitService{
		refitter: refitter,
		config:   cfg,
		logger:   logger.With().Str("service", "refit").Logger(),
		name:     "refit-service",
	}
}

// Serve implements the suture.Service interface.
func (s *RefitService) Serve(ctx context.Context) error {
	cronLogger := logging.NewCronAdapter(s.logger)
	c := cron.New(
		cron.WithParser(validation.CronParser),
		cron.WithLogger(cronLogger),
		cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)),
	)
	if _, err := c.AddFunc(s.config.Schedule, func() { s.refit(ctx) }); err != nil {
		// A bad schedule will not fix itself; stop without restart.
		s.logger.Error().Err(err).Str("schedule", s.config.Schedule).Msg("invalid refit schedule")
		return fmt.Errorf("refit schedule %q: %v: %w", s.config.Schedule, err, suture.ErrDoNotRestart)
	}

	s.logger.Info().
		Str("schedule", s.config.Schedule).
		Bool("refit_on_startup", s.config.RefitOnStartup).
		Msg("refit service starting")

	c.Start()
	if s.config.RefitOnStartup {
		s.refit(ctx)
	}

	<-ctx.Done()
	s.logger.Info().Msg("refit service shutting down")
	// Stop returns a context that is done once running jobs finish; they
	// observe the canceled ctx.
	<-c.Stop().Done()
	return ctx.Err()
}

// refit performs a refit cycle with its own timeout.
func (s *RefitService) refit(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	refitCtx, cancel := context.WithTimeout(ctx, s.config.Timeout)
	defer cancel()

	start := time.Now()
	s.logger.Info().Msg("starting model refit")
	if err := s.refitter.Refit(refitCtx); err != nil {
		s.logger.Warn().Err(err).Dur("duration", time.Since(start)).Msg("model refit failed")
		return
	}
	s.logger.Info().Dur("duration", time.Since(start)).Msg("model refit complete")
}

// String returns the service name for logging.
func (s *RefitService) String() string {
	return s.name
}
