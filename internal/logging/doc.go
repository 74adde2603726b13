// Resonance - Session-Scoped Music Recommendation Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/resonance

// Package logging provides centralized zerolog-based structured logging.
//
// The process logger is configured once from the logging section of the
// configuration file and then handed to components by value. Components derive
// children tagged with their name:
//
//	log := logger.With().Str("component", "affinity").Logger()
//
// Sessions attach their identity with SessionLogger so every line they emit
// carries session_id, user_id and collection_id.
//
// # Adapters
//
// Two adapters route third-party logging through zerolog:
//
//   - SlogHandler implements slog.Handler for sutureslog
//   - WatermillAdapter implements watermill.LoggerAdapter for the event bus
//
// # Correlation IDs
//
// Scheduled jobs and CLI commands start with ContextWithNewCorrelationID;
// Ctx and Annotate copy the ID into log lines.
//
// # Best Practices
//
// Always terminate log chains with .Msg() or .Send():
//
//	logger.Info().Int("k", k).Msg("Catalog clustered")  // Correct
//	logger.Info().Int("k", k)                           // WRONG - never emitted
package logging
