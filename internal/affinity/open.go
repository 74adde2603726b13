// Resonance - Session-Scoped Music Recommendation Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/resonance

package affinity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// Store backends.
const (
	BackendMemory = "memory"
	BackendBadger = "badger"
	BackendSQL    = "sql"
	BackendRedis  = "redis"
)

// Config selects and configures the affinity backend.
type Config struct {
	// Backend is memory, badger, sql or redis. Default: badger.
	Backend string `json:"backend" koanf:"backend" validate:"oneof=memory badger sql redis"`

	// Badger configures the badger backend.
	Badger BadgerConfig `json:"badger" koanf:"badger"`

	// SQL configures the sql backend.
	SQL SQLConfig `json:"sql" koanf:"sql"`

	// Redis configures the redis backend.
	Redis RedisConfig `json:"redis" koanf:"redis"`

	// Resilience tunes the circuit breaker and the retry worker.
	Resilience ResilienceConfig `json:"resilience" koanf:"resilience"`

	// Queue configures the retry queue of failed writes.
	Queue QueueConfig `json:"queue" koanf:"queue"`
}

// QueueConfig configures the retry queue. An empty Path keeps pending
// writes in memory.
type QueueConfig struct {
	// Path is the badger directory of a durable queue.
	Path string `json:"path" koanf:"path"`

	// MaxItems bounds the queue; the oldest write is dropped when full.
	// Default: 10000.
	MaxItems int `json:"max_items" koanf:"max_items" validate:"gte=1"`

	// TTL expires durable entries that were never applied. Default: 24h.
	TTL time.Duration `json:"ttl" koanf:"ttl" validate:"gte=0"`
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		Backend:    BackendBadger,
		Badger:     DefaultBadgerConfig(),
		SQL:        DefaultSQLConfig(),
		Redis:      DefaultRedisConfig(),
		Resilience: DefaultResilienceConfig(),
		Queue: QueueConfig{
			MaxItems: 10000,
			TTL:      24 * time.Hour,
		},
	}
}

// Open connects the configured backend and wraps it with a circuit breaker
// and a retry queue.
//
//nolint:gocritic // zerolog.Logger is designed to be passed by value
func Open(ctx context.Context, cfg Config, logger zerolog.Logger) (*Resilient, error) {
	store, err := openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	var queue Queue
	if cfg.Queue.Path != "" {
		bq, err := OpenBadgerQueue(cfg.Queue.Path, cfg.Queue.MaxItems, cfg.Queue.TTL)
		if err != nil {
			return nil, errors.Join(fmt.Errorf("open retry queue: %w", err), store.Close())
		}
		queue = bq
	} else {
		queue = NewMemoryQueue(cfg.Queue.MaxItems)
	}

	return NewResilient(store, queue, cfg.Resilience, logger), nil
}

func openStore(ctx context.Context, cfg Config) (Store, error) {
	switch cfg.Backend {
	case BackendMemory:
		return NewMemoryStore(), nil
	case BackendBadger, "":
		return OpenBadger(cfg.Badger)
	case BackendSQL:
		return OpenSQL(ctx, cfg.SQL)
	case BackendRedis:
		return OpenRedis(ctx, cfg.Redis)
	default:
		return nil, errors.Join(ErrInvalidArgument, fmt.Errorf("unknown affinity backend %q", cfg.Backend))
	}
}
