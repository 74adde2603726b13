// Resonance - Session-Scoped Music Recommendation Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/resonance

package config

import (
	"time"

	"github.com/tomtom215/resonance/internal/affinity"
	"github.com/tomtom215/resonance/internal/cluster"
	"github.com/tomtom215/resonance/internal/events"
	"github.com/tomtom215/resonance/internal/logging"
	"github.com/tomtom215/resonance/internal/recommend"
)

// Config holds all application configuration.
//
// Configuration Loading Order (Koanf v2):
//  1. Defaults: Built-in defaults for every setting
//  2. Config File: Optional YAML file (config.yaml or CONFIG_PATH)
//  3. Environment Variables: Override any mapped setting
//
// Config is immutable after Load and safe for concurrent reads.
type Config struct {
	Logging   LoggingConfig    `koanf:"logging"`
	Catalog   CatalogConfig    `koanf:"catalog"`
	Cluster   cluster.Config   `koanf:"cluster"`
	Snapshot  SnapshotConfig   `koanf:"snapshot"`
	Recommend recommend.Config `koanf:"recommend"`
	Affinity  affinity.Config  `koanf:"affinity"`
	Events    events.Config    `koanf:"events"`
	Scheduler SchedulerConfig  `koanf:"scheduler"`
	Server    ServerConfig     `koanf:"server"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is trace, debug, info, warn, error, fatal, panic or disabled.
	// Default: info.
	Level string `koanf:"level" validate:"oneof=trace debug info warn warning error fatal panic disabled"`

	// Format is json or console. Default: json.
	Format string `koanf:"format" validate:"oneof=json console"`

	// Caller adds file:line to every entry. Default: false.
	Caller bool `koanf:"caller"`
}

// Logging converts the section into a logging.Config.
func (c LoggingConfig) Logging() logging.Config {
	lc := logging.DefaultConfig()
	lc.Level = c.Level
	lc.Format = c.Format
	lc.Caller = c.Caller
	return lc
}

// Catalog sources.
const (
	CatalogJSON   = "json"
	CatalogDuckDB = "duckdb"
)

// CatalogConfig locates the track catalog.
type CatalogConfig struct {
	// Source is json or duckdb. Default: json.
	Source string `koanf:"source" validate:"oneof=json duckdb"`

	// Path is the JSON file or DuckDB database. Default: /data/catalog.json.
	Path string `koanf:"path" validate:"required"`

	// Table is the DuckDB table holding tracks. Default: tracks.
	Table string `koanf:"table"`

	// LoadTimeout bounds catalog loading. Default: 2m.
	LoadTimeout time.Duration `koanf:"load_timeout" validate:"gt=0"`

	// CollectionID is the collection sessions belong to unless a caller
	// names another. Default: default.
	CollectionID string `koanf:"collection_id" validate:"required"`
}

// SnapshotConfig controls cluster snapshot persistence.
type SnapshotConfig struct {
	// Enabled loads the snapshot at startup and writes one after every fit.
	// Default: true.
	Enabled bool `koanf:"enabled"`

	// Path is the snapshot file. Default: /data/clusters.snapshot.
	Path string `koanf:"path" validate:"required_if=Enabled true"`
}

// SchedulerConfig controls periodic model refits.
type SchedulerConfig struct {
	// RefitEnabled schedules catalog reloads and cluster refits. Default: false.
	RefitEnabled bool `koanf:"refit_enabled"`

	// RefitSchedule is a cron spec or descriptor. Default: @daily.
	RefitSchedule string `koanf:"refit_schedule" validate:"required_if=RefitEnabled true,omitempty,cronspec"`

	// RefitTimeout bounds one refit. Default: 30m.
	RefitTimeout time.Duration `koanf:"refit_timeout" validate:"gt=0"`
}

// ServerConfig configures the operations HTTP server.
type ServerConfig struct {
	// Enabled starts the server. Default: true.
	Enabled bool `koanf:"enabled"`

	// Host is the bind address. Default: 0.0.0.0.
	Host string `koanf:"host"`

	// Port is the listen port. Default: 9464.
	Port int `koanf:"port" validate:"gte=1,lte=65535"`

	// ReadTimeout bounds request reads. Default: 10s.
	ReadTimeout time.Duration `koanf:"read_timeout" validate:"gt=0"`

	// WriteTimeout bounds response writes. Default: 10s.
	WriteTimeout time.Duration `koanf:"write_timeout" validate:"gt=0"`

	// ShutdownTimeout bounds graceful shutdown. Default: 15s.
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout" validate:"gt=0"`

	// CORSOrigins may read /api/v1 cross-origin. Default: none.
	CORSOrigins []string `koanf:"cors_origins"`

	// RateLimitRequests per RateLimitWindow and client IP on /api/v1.
	// Zero disables limiting. Default: 60 per minute.
	RateLimitRequests int           `koanf:"rate_limit_requests" validate:"gte=0"`
	RateLimitWindow   time.Duration `koanf:"rate_limit_window" validate:"required_with=RateLimitRequests"`
}

// defaultConfig returns a Config with every default applied. Defaults are
// loaded first, then overridden by the config file and the environment.
func defaultConfig() *Config {
	return &Config{
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
		Catalog: CatalogConfig{
			Source:       CatalogJSON,
			Path:         "/data/catalog.json",
			Table:        "tracks",
			LoadTimeout:  2 * time.Minute,
			CollectionID: "default",
		},
		Cluster: cluster.DefaultConfig(),
		Snapshot: SnapshotConfig{
			Enabled: true,
			Path:    "/data/clusters.snapshot",
		},
		Recommend: recommend.DefaultConfig(),
		Affinity:  affinity.DefaultConfig(),
		Events:    events.DefaultConfig(),
		Scheduler: SchedulerConfig{
			RefitEnabled:  false,
			RefitSchedule: "@daily",
			RefitTimeout:  30 * time.Minute,
		},
		Server: ServerConfig{
			Enabled:         true,
			Host:            "0.0.0.0",
			Port:            9464,
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    10 * time.Second,
			ShutdownTimeout: 15 * time.Second,

			RateLimitRequests: 60,
			RateLimitWindow:   time.Minute,
		},
	}
}

// Default returns the built-in configuration without reading any source.
func Default() *Config {
	return defaultConfig()
}
