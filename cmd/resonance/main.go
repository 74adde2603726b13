// Resonance - Session-Scoped Music Recommendation Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/resonance

// Package main is the entry point for the resonance command.
//
// Resonance serves per-user, session-scoped track recommendations over an
// embedded catalog. The binary has four subcommands:
//
//	resonance serve      run the engine under a supervisor tree with the ops HTTP server
//	resonance fit        load the catalog, fit clusters and write the snapshot
//	resonance simulate   drive one session with a scripted listener and print the trace
//	resonance search     substring search over the catalog
//
// # Configuration
//
// Configuration is loaded via Koanf v2 with layered sources (highest priority wins):
//   - Environment variables (CATALOG_PATH, AFFINITY_BACKEND, HTTP_PORT, ...)
//   - Config file (--config, CONFIG_PATH, or ./config.yaml)
//   - Built-in defaults
//
// # Signal Handling
//
// serve shuts down on SIGINT and SIGTERM: the supervisor stops the HTTP
// server, flushes the interaction log sink and drains queued affinity writes
// before the stores are closed.
package main

import (
	"os"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}
