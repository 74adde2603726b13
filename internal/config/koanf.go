// Resonance - Session-Scoped Music Recommendation Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/resonance

package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists the paths where config files are searched in order of priority.
// The first file found will be used.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/resonance/config.yaml",
	"/etc/resonance/config.yml",
}

// ConfigPathEnvVar is the environment variable that can override the config file path.
const ConfigPathEnvVar = "CONFIG_PATH"

// Load loads configuration with layered sources:
//  1. Defaults: Built-in defaults
//  2. Config File: Optional YAML config file (if exists)
//  3. Environment Variables: Override any mapped setting
//
// Precedence is ENV > File > Defaults. The result is validated.
func Load() (*Config, error) {
	return LoadFile(findConfigFile())
}

// LoadFile is Load with an explicit config file. An empty path skips the
// file layer; a missing file is an error.
func LoadFile(path string) (*Config, error) {
	k := koanf.New(".")

	// Layer 1: Load defaults from struct
	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	// Layer 2: Load config file (optional)
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	// Layer 3: Load environment variables (highest priority)
	// RESONANCE_LOG_LEVEL -> logging.level
	// AFFINITY_BACKEND -> affinity.backend
	if err := k.Load(env.Provider("", ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// findConfigFile searches for a config file in the default paths.
// Returns the path to the first file found, or empty string if none found.
func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}

	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// envMappings maps environment variable names (lower-cased) to koanf paths.
// Unmapped variables are ignored so unrelated environment does not leak
// into the configuration.
var envMappings = map[string]string{
	// Logging
	"log_level":  "logging.level",
	"log_format": "logging.format",
	"log_caller": "logging.caller",

	// Catalog
	"catalog_source":        "catalog.source",
	"catalog_path":          "catalog.path",
	"catalog_table":         "catalog.table",
	"catalog_load_timeout":  "catalog.load_timeout",
	"catalog_collection_id": "catalog.collection_id",

	// Clustering
	"cluster_k":        "cluster.k",
	"cluster_seed":     "cluster.seed",
	"cluster_restarts": "cluster.restarts",
	"cluster_workers":  "cluster.workers",
	"snapshot_enabled": "snapshot.enabled",
	"snapshot_path":    "snapshot.path",

	// Recommendation
	"recommend_seed":                "recommend.seed",
	"recommend_session_ttl":         "recommend.session_ttl",
	"recommend_min_candidate_pool":  "recommend.min_candidate_pool",
	"recommend_exploit_probability": "recommend.exploit_probability",
	"recommend_probe_count":         "recommend.probe_count",
	"recommend_max_batch_size":      "recommend.max_batch_size",

	// Affinity storage
	"affinity_backend":         "affinity.backend",
	"affinity_badger_path":     "affinity.badger.path",
	"affinity_badger_inmemory": "affinity.badger.in_memory",
	"affinity_sql_driver":      "affinity.sql.driver",
	"affinity_sql_dsn":         "affinity.sql.dsn",
	"affinity_redis_addr":      "affinity.redis.addr",
	"affinity_redis_password":  "affinity.redis.password",
	"affinity_redis_db":        "affinity.redis.db",
	"affinity_queue_path":      "affinity.queue.path",

	// Events
	"events_enabled":       "events.enabled",
	"events_backend":       "events.backend",
	"events_topic":         "events.topic",
	"nats_url":             "events.nats.url",
	"nats_embedded":        "events.nats.embedded",
	"interaction_log":      "events.sink.enabled",
	"interaction_log_path": "events.sink.path",

	// Scheduler
	"refit_enabled":  "scheduler.refit_enabled",
	"refit_schedule": "scheduler.refit_schedule",
	"refit_timeout":  "scheduler.refit_timeout",

	// Operations server
	"http_enabled": "server.enabled",
	"http_host":    "server.host",
	"http_port":    "server.port",
	"cors_origins": "server.cors_origins",
}

// envTransformFunc transforms environment variable names to koanf config paths.
// A RESONANCE_ prefix is accepted and stripped.
//
// Examples:
//   - LOG_LEVEL -> logging.level
//   - RESONANCE_AFFINITY_BACKEND -> affinity.backend
//   - HTTP_PORT -> server.port
func envTransformFunc(key string) string {
	key = strings.TrimPrefix(strings.ToLower(key), "resonance_")
	if mapped, ok := envMappings[key]; ok {
		return mapped
	}
	return ""
}
