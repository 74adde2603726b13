// Resonance - Session-Scoped Music Recommendation Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/resonance

// Package refit builds recommendation models from the configured catalog
// source and installs refitted models into a running engine.
//
// A build loads the catalog, restores the cluster snapshot when it matches
// the catalog fingerprint, and otherwise fits k-means from scratch and
// writes a fresh snapshot.
package refit

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/tomtom215/resonance/internal/catalog"
	"github.com/tomtom215/resonance/internal/cluster"
	"github.com/tomtom215/resonance/internal/config"
	"github.com/tomtom215/resonance/internal/metrics"
	"github.com/tomtom215/resonance/internal/recommend"
)

// ErrRefitInProgress is returned when a refit is requested while another runs.
var ErrRefitInProgress = errors.New("refit already in progress")

// Source describes where models come from.
type Source struct {
	Catalog  config.CatalogConfig
	Cluster  cluster.Config
	Snapshot config.SnapshotConfig
}

// SourceFromConfig extracts the model source from the application config.
func SourceFromConfig(cfg *config.Config) Source {
	return Source{Catalog: cfg.Catalog, Cluster: cfg.Cluster, Snapshot: cfg.Snapshot}
}

// Builder loads catalogs and produces models.
type Builder struct {
	src    Source
	logger zerolog.Logger
}

// NewBuilder creates a builder for src.
//
//nolint:gocritic // zerolog.Logger is designed to be passed by value
func NewBuilder(src Source, logger zerolog.Logger) *Builder {
	return &Builder{src: src, logger: logger.With().Str("component", "refit").Logger()}
}

// LoadCatalog reads the catalog from the configured source.
func (b *Builder) LoadCatalog(ctx context.Context) (*catalog.Catalog, error) {
	if b.src.Catalog.LoadTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.src.Catalog.LoadTimeout)
		defer cancel()
	}

	var l catalog.Loader
	switch b.src.Catalog.Source {
	case config.CatalogDuckDB:
		l = catalog.DuckDBLoader{Path: b.src.Catalog.Path, Table: b.src.Catalog.Table, Timeout: b.src.Catalog.LoadTimeout}
	default:
		l = catalog.JSONLoader{Path: b.src.Catalog.Path}
	}

	start := time.Now()
	cat, err := catalog.Load(ctx, l)
	if err != nil {
		return nil, fmt.Errorf("load catalog from %s: %w", b.src.Catalog.Path, err)
	}
	b.logger.Info().
		Str("source", b.src.Catalog.Source).
		Int("tracks", cat.Len()).
		Int("dim", cat.Dim()).
		Dur("duration", time.Since(start)).
		Msg("Catalog loaded")
	return cat, nil
}

// Build loads the catalog and returns a model. With restore set and
// snapshots enabled, a matching snapshot is used instead of a fresh fit.
func (b *Builder) Build(ctx context.Context, restore bool) (*recommend.Model, error) {
	cat, err := b.LoadCatalog(ctx)
	if err != nil {
		return nil, err
	}
	return b.BuildFrom(ctx, cat, restore)
}

// BuildFrom is Build over an already loaded catalog.
func (b *Builder) BuildFrom(ctx context.Context, cat *catalog.Catalog, restore bool) (*recommend.Model, error) {
	if restore && b.src.Snapshot.Enabled {
		m, meta, err := cluster.LoadSnapshot(ctx, b.src.Snapshot.Path, cat)
		switch {
		case err == nil:
			b.logger.Info().
				Str("path", b.src.Snapshot.Path).
				Int("k", meta.K).
				Time("fitted_at", meta.FittedAt).
				Msg("Cluster snapshot restored")
			return recommend.NewModel(m)
		case errors.Is(err, os.ErrNotExist):
			b.logger.Info().Str("path", b.src.Snapshot.Path).Msg("No cluster snapshot, fitting")
		default:
			b.logger.Warn().Err(err).Str("path", b.src.Snapshot.Path).Msg("Cluster snapshot unusable, fitting")
		}
	}

	m, err := cluster.Fit(ctx, cat, b.src.Cluster, b.logger)
	if err != nil {
		return nil, fmt.Errorf("fit clusters: %w", err)
	}

	if b.src.Snapshot.Enabled {
		meta, err := m.SaveSnapshot(ctx, b.src.Snapshot.Path)
		if err != nil {
			// The fitted model is still usable; the next start refits.
			b.logger.Warn().Err(err).Str("path", b.src.Snapshot.Path).Msg("Failed to write cluster snapshot")
		} else {
			b.logger.Info().
				Str("path", b.src.Snapshot.Path).
				Int64("bytes", meta.SizeBytes).
				Msg("Cluster snapshot written")
		}
	}
	return recommend.NewModel(m)
}

// ModelInstaller receives refitted models.
type ModelInstaller interface {
	SwapModel(m *recommend.Model) error
}

// Refitter rebuilds the model and installs it. Concurrent calls are
// rejected rather than queued.
type Refitter struct {
	builder *Builder
	target  ModelInstaller
	mu      sync.Mutex
	running bool
}

// NewRefitter creates a refitter installing into target.
func NewRefitter(builder *Builder, target ModelInstaller) *Refitter {
	return &Refitter{builder: builder, target: target}
}

// Refit reloads the catalog, fits fresh clusters and swaps them in.
func (r *Refitter) Refit(ctx context.Context) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		metrics.RecordRefit("skipped")
		return ErrRefitInProgress
	}
	r.running = true
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		r.running = false
		r.mu.Unlock()
	}()

	m, err := r.builder.Build(ctx, false)
	if err != nil {
		metrics.RecordRefit("failure")
		return err
	}
	if err := r.target.SwapModel(m); err != nil {
		metrics.RecordRefit("failure")
		return fmt.Errorf("install model: %w", err)
	}
	metrics.RecordRefit("success")
	return nil
}
