// Resonance - Session-Scoped Music Recommendation Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/resonance

/*
Package config provides centralized configuration management for Resonance.

Configuration is layered with Koanf v2:
  - Built-in defaults (defaultConfig)
  - An optional YAML file (CONFIG_PATH, ./config.yaml or /etc/resonance/config.yaml)
  - Environment variables, mapped explicitly (LOG_LEVEL, AFFINITY_BACKEND, HTTP_PORT, ...)

The result is validated with go-playground/validator struct tags, then with
cross-field checks the tags cannot express.

# Configuration Structure

  - Logging: level, format and caller annotation
  - Catalog: JSON file or DuckDB table holding the track catalog
  - Cluster: k-means fit and neighborhood settings
  - Snapshot: persisted cluster model
  - Recommend: engine tuning (thresholds, learning rates, probes, sessions)
  - Affinity: long-term per-user store (memory, badger, sql or redis)
  - Events: interaction event bus and DuckDB interaction log
  - Scheduler: cron-driven catalog reload and refit
  - Server: operations HTTP server (metrics and health)

# Usage Example

	cfg, err := config.Load()
	if err != nil {
	    log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	logging.Init(cfg.Logging.Logging())

# Thread Safety

Config is read-only after Load and safe for concurrent reads.
*/
package config
