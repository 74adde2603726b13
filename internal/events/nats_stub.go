// Resonance - Session-Scoped Music Recommendation Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/resonance

//go:build !nats

package events

import (
	"errors"

	"github.com/rs/zerolog"
)

// ErrNATSUnavailable is returned by the nats backend in builds without -tags=nats.
var ErrNATSUnavailable = errors.New("NATS event bus not available: build with -tags=nats")

//nolint:gocritic // zerolog.Logger is designed to be passed by value
func openNATS(Config, zerolog.Logger) (*Bus, error) {
	return nil, ErrNATSUnavailable
}
