// Resonance - Session-Scoped Music Recommendation Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/resonance

package affinity

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/tomtom215/resonance/internal/logging"
)

func TestOpen(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name        string
		mutate      func(t *testing.T, c *Config)
		wantBackend string
		wantErr     error
	}{
		{
			name:        "memory",
			mutate:      func(_ *testing.T, c *Config) { c.Backend = BackendMemory },
			wantBackend: "memory",
		},
		{
			name: "badger with durable queue",
			mutate: func(t *testing.T, c *Config) {
				c.Backend = BackendBadger
				c.Badger = BadgerConfig{InMemory: true, MaxConflictRetries: 10}
				c.Queue.Path = filepath.Join(t.TempDir(), "queue")
			},
			wantBackend: "badger",
		},
		{
			name: "sqlite",
			mutate: func(t *testing.T, c *Config) {
				c.Backend = BackendSQL
				c.SQL = SQLConfig{
					Driver:       DriverSQLite,
					DSN:          filepath.Join(t.TempDir(), "affinity.db"),
					AutoMigrate:  true,
					MaxOpenConns: 1,
				}
			},
			wantBackend: "sql",
		},
		{
			name:    "unknown backend",
			mutate:  func(_ *testing.T, c *Config) { c.Backend = "cassandra" },
			wantErr: ErrInvalidArgument,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(t, &cfg)

			r, err := Open(ctx, cfg, logging.Nop())
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("Open() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Open() error = %v", err)
			}
			defer func() { _ = r.Close() }()

			if got := BackendName(r.Store()); got != tt.wantBackend {
				t.Errorf("backend = %s, want %s", got, tt.wantBackend)
			}
			if err := r.UpsertClusterAffinity(ctx, "alice", 1, "default", 30, true); err != nil {
				t.Fatalf("UpsertClusterAffinity() error = %v", err)
			}
			got, err := r.GetUserClusterHistory(ctx, "alice", "default", 5)
			if err != nil || len(got) != 1 || got[0].TotalListenSeconds != 30 {
				t.Errorf("GetUserClusterHistory() = %+v, %v", got, err)
			}
		})
	}
}
