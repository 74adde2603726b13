// Resonance - Session-Scoped Music Recommendation Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/resonance

package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/rs/zerolog"
)

// ErrSubscriptionClosed is returned when the event stream ends while the
// service is still meant to run.
var ErrSubscriptionClosed = errors.New("interaction subscription closed")

// EventSubscriber opens the interaction event stream.
// Satisfied by *events.Bus.
type EventSubscriber interface {
	Subscribe(ctx context.Context) (<-chan *message.Message, error)
}

// EventSink consumes the interaction event stream.
// Satisfied by *events.DuckDBSink.
type EventSink interface {
	Run(ctx context.Context, msgs <-chan *message.Message) error
}

// InteractionLogService feeds interaction events from the bus into the
// interaction log. Each (re)start opens a fresh subscription.
type InteractionLogService struct {
	sub    EventSubscriber
	sink   EventSink
	logger zerolog.Logger
	name   string
}

// NewInteractionLogService creates a new interaction log service.
//
//nolint:gocritic // zerolog.Logger is designed to be passed by value
func NewInteractionLogService(sub EventSubscriber, sink EventSink, logger zerolog.Logger) *InteractionLogService {
	return &InteractionLogService{
		sub:    sub,
		sink:   sink,
		logger: logger.With().Str("service", "interaction-log").Logger(),
		name:   "interaction-log",
	}
}

// Serve implements suture.Service.
func (s *InteractionLogService) Serve(ctx context.Context) error {
	msgs, err := s.sub.Subscribe(ctx)
	if err != nil {
		return fmt.Errorf("subscribe to interactions: %w", err)
	}
	s.logger.Info().Msg("interaction log consuming events")

	err = s.sink.Run(ctx, msgs)
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if err == nil {
		return ErrSubscriptionClosed
	}
	return err
}

// String implements fmt.Stringer for logging.
func (s *InteractionLogService) String() string {
	return s.name
}
