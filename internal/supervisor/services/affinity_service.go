// Resonance - Session-Scoped Music Recommendation Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/resonance

package services

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// RetryRunner replays queued affinity writes.
// Satisfied by *affinity.RetryWorker:
//   - Run(ctx) blocks, draining the queue periodically until ctx is done
//   - Drain(ctx) makes a single pass and reports how many writes applied
type RetryRunner interface {
	Run(ctx context.Context) error
	Drain(ctx context.Context) (int, error)
}

// AffinityRetryService wraps the affinity retry worker as a supervised
// service. On shutdown it makes one last bounded pass so writes queued
// during the final seconds of a session are not left for the next start.
type AffinityRetryService struct {
	worker       RetryRunner
	drainTimeout time.Duration
	logger       zerolog.Logger
	name         string
}

// NewAffinityRetryService creates a new retry service.
//
//nolint:gocritic // zerolog.Logger is designed to be passed by value
func NewAffinityRetryService(worker RetryRunner, drainTimeout time.Duration, logger zerolog.Logger) *AffinityRetryService {
	if drainTimeout <= 0 {
		drainTimeout = 5 * time.Second
	}
	return &AffinityRetryService{
		worker:       worker,
		drainTimeout: drainTimeout,
		logger:       logger.With().Str("service", "affinity-retry").Logger(),
		name:         "affinity-retry",
	}
}

// Serve implements suture.Service.
func (s *AffinityRetryService) Serve(ctx context.Context) error {
	err := s.worker.Run(ctx)
	if ctx.Err() == nil {
		// Worker exited on its own: let the supervisor restart it.
		return err
	}

	// The original context is canceled; drain on a fresh one.
	drainCtx, cancel := context.WithTimeout(context.Background(), s.drainTimeout)
	defer cancel()
	applied, derr := s.worker.Drain(drainCtx)
	if derr != nil {
		s.logger.Warn().Err(derr).Int("applied", applied).Msg("final affinity drain incomplete")
	} else if applied > 0 {
		s.logger.Info().Int("applied", applied).Msg("final affinity drain complete")
	}
	return ctx.Err()
}

// String implements fmt.Stringer for logging.
func (s *AffinityRetryService) String() string {
	return s.name
}
