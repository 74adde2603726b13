// Resonance - Session-Scoped Music Recommendation Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/resonance

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/tomtom215/resonance/internal/affinity"
	"github.com/tomtom215/resonance/internal/events"
)

// TestDefaultConfig verifies that defaultConfig() returns proper defaults
func TestDefaultConfig(t *testing.T) {
	cfg := defaultConfig()

	if cfg.Logging.Level != "info" || cfg.Logging.Format != "json" {
		t.Errorf("Logging = %+v, want info/json", cfg.Logging)
	}
	if cfg.Catalog.Source != CatalogJSON {
		t.Errorf("Catalog.Source = %q, want json", cfg.Catalog.Source)
	}
	if cfg.Catalog.Path != "/data/catalog.json" {
		t.Errorf("Catalog.Path = %q, want /data/catalog.json", cfg.Catalog.Path)
	}
	if cfg.Cluster.K != 20 {
		t.Errorf("Cluster.K = %d, want 20", cfg.Cluster.K)
	}
	if cfg.Affinity.Backend != affinity.BackendBadger {
		t.Errorf("Affinity.Backend = %q, want badger", cfg.Affinity.Backend)
	}
	if cfg.Events.Backend != events.BackendChannel {
		t.Errorf("Events.Backend = %q, want gochannel", cfg.Events.Backend)
	}
	if cfg.Scheduler.RefitEnabled {
		t.Error("Scheduler.RefitEnabled should be false by default")
	}
	if cfg.Scheduler.RefitSchedule != "@daily" {
		t.Errorf("Scheduler.RefitSchedule = %q, want @daily", cfg.Scheduler.RefitSchedule)
	}
	if cfg.Server.Port != 9464 {
		t.Errorf("Server.Port = %d, want 9464", cfg.Server.Port)
	}
	if cfg.Server.ShutdownTimeout != 15*time.Second {
		t.Errorf("Server.ShutdownTimeout = %v, want 15s", cfg.Server.ShutdownTimeout)
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}

func TestLoadFileOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
logging:
  level: debug
  format: console
catalog:
  path: /srv/music/catalog.json
cluster:
  k: 8
recommend:
  exploit_probability: 0.6
affinity:
  backend: sql
  sql:
    driver: sqlite
    dsn: /srv/music/affinity.db
server:
  port: 8088
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile() error = %v", err)
	}

	if cfg.Logging.Level != "debug" || cfg.Logging.Format != "console" {
		t.Errorf("Logging = %+v", cfg.Logging)
	}
	if cfg.Catalog.Path != "/srv/music/catalog.json" {
		t.Errorf("Catalog.Path = %q", cfg.Catalog.Path)
	}
	if cfg.Cluster.K != 8 {
		t.Errorf("Cluster.K = %d, want 8", cfg.Cluster.K)
	}
	if cfg.Recommend.ExploitProbability != 0.6 {
		t.Errorf("Recommend.ExploitProbability = %v, want 0.6", cfg.Recommend.ExploitProbability)
	}
	if cfg.Affinity.Backend != affinity.BackendSQL || cfg.Affinity.SQL.Driver != affinity.DriverSQLite {
		t.Errorf("Affinity = %s/%s", cfg.Affinity.Backend, cfg.Affinity.SQL.Driver)
	}
	if cfg.Server.Port != 8088 {
		t.Errorf("Server.Port = %d, want 8088", cfg.Server.Port)
	}

	// Untouched sections keep their defaults.
	if cfg.Cluster.Restarts != defaultConfig().Cluster.Restarts {
		t.Errorf("Cluster.Restarts = %d, want default", cfg.Cluster.Restarts)
	}
	if cfg.Events.Topic != events.DefaultTopic {
		t.Errorf("Events.Topic = %q, want default", cfg.Events.Topic)
	}
}

func TestLoadFileMissing(t *testing.T) {
	if _, err := LoadFile(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("LoadFile() should fail for a missing file")
	}
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("server:\n  port: 8088\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	t.Setenv(ConfigPathEnvVar, path)
	t.Setenv("HTTP_PORT", "9999")
	t.Setenv("RESONANCE_LOG_LEVEL", "warn")
	t.Setenv("CLUSTER_K", "12")
	t.Setenv("REFIT_ENABLED", "true")
	t.Setenv("REFIT_SCHEDULE", "0 3 * * *")
	t.Setenv("UNRELATED_SETTING", "ignored")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 9999 {
		t.Errorf("Server.Port = %d, want 9999 from env", cfg.Server.Port)
	}
	if cfg.Logging.Level != "warn" {
		t.Errorf("Logging.Level = %q, want warn", cfg.Logging.Level)
	}
	if cfg.Cluster.K != 12 {
		t.Errorf("Cluster.K = %d, want 12", cfg.Cluster.K)
	}
	if !cfg.Scheduler.RefitEnabled || cfg.Scheduler.RefitSchedule != "0 3 * * *" {
		t.Errorf("Scheduler = %+v", cfg.Scheduler)
	}
}

func TestEnvTransformFunc(t *testing.T) {
	tests := []struct {
		key  string
		want string
	}{
		{"LOG_LEVEL", "logging.level"},
		{"RESONANCE_LOG_LEVEL", "logging.level"},
		{"AFFINITY_SQL_DSN", "affinity.sql.dsn"},
		{"NATS_URL", "events.nats.url"},
		{"HTTP_PORT", "server.port"},
		{"PATH", ""},
		{"HOME", ""},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			if got := envTransformFunc(tt.key); got != tt.want {
				t.Errorf("envTransformFunc(%q) = %q, want %q", tt.key, got, tt.want)
			}
		})
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{
			name:   "defaults",
			mutate: func(_ *Config) {},
		},
		{
			name: "invalid cron",
			mutate: func(c *Config) {
				c.Scheduler.RefitEnabled = true
				c.Scheduler.RefitSchedule = "every tuesday"
			},
			wantErr: "refit_schedule",
		},
		{
			name: "sql without dsn",
			mutate: func(c *Config) {
				c.Affinity.Backend = affinity.BackendSQL
				c.Affinity.SQL.DSN = ""
			},
			wantErr: "affinity.sql.dsn",
		},
		{
			name: "badger without path",
			mutate: func(c *Config) {
				c.Affinity.Badger.Path = ""
			},
			wantErr: "affinity.badger.path",
		},
		{
			name: "in-memory badger without path",
			mutate: func(c *Config) {
				c.Affinity.Badger.Path = ""
				c.Affinity.Badger.InMemory = true
			},
		},
		{
			name: "duckdb catalog without table",
			mutate: func(c *Config) {
				c.Catalog.Source = CatalogDuckDB
				c.Catalog.Table = ""
			},
			wantErr: "catalog.table",
		},
		{
			name: "unknown log format",
			mutate: func(c *Config) {
				c.Logging.Format = "xml"
			},
			wantErr: "format",
		},
		{
			name: "port out of range",
			mutate: func(c *Config) {
				c.Server.Port = 70000
			},
			wantErr: "port",
		},
		{
			name: "snapshot enabled without path",
			mutate: func(c *Config) {
				c.Snapshot.Path = ""
			},
			wantErr: "path",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() error = %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("Validate() should fail with %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want mention of %q", err, tt.wantErr)
			}
		})
	}
}
