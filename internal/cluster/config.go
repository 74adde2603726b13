// Resonance - Session-Scoped Music Recommendation Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/resonance

package cluster

import (
	"errors"
	"fmt"
	"runtime"
)

// ErrInvalidK is returned when the cluster count is not usable for the catalog.
var ErrInvalidK = errors.New("invalid cluster count")

// Config controls clustering and the neighborhood-density cache.
type Config struct {
	// K is the number of clusters.
	// Default: 20.
	K int `json:"k" koanf:"k" validate:"min=1"`

	// Seed makes fitting reproducible. Zero selects a time-derived seed,
	// which makes Fit non-deterministic.
	// Default: 42.
	Seed int64 `json:"seed" koanf:"seed"`

	// MaxIterations bounds Lloyd iterations per restart.
	// Default: 100.
	MaxIterations int `json:"max_iterations" koanf:"max_iterations" validate:"min=1"`

	// Restarts is the number of independent k-means++ initializations.
	// The run with the lowest inertia wins.
	// Default: 3.
	Restarts int `json:"restarts" koanf:"restarts" validate:"min=1"`

	// Tolerance stops iterating once total squared centroid movement falls below it.
	// Default: 1e-6.
	Tolerance float64 `json:"tolerance" koanf:"tolerance" validate:"gte=0"`

	// NeighborMinSimilarity is the lower bound of the similarity band counted
	// by the neighborhood cache. The upper bound is fixed at NearDuplicateSimilarity.
	// Default: 0.82.
	NeighborMinSimilarity float64 `json:"neighbor_min_similarity" koanf:"neighbor_min_similarity" validate:"gte=-1,lt=1"`

	// NeighborChunkSize is the number of rows processed per work unit while
	// building the neighborhood cache. Bounds peak memory per worker.
	// Default: 256.
	NeighborChunkSize int `json:"neighbor_chunk_size" koanf:"neighbor_chunk_size" validate:"min=1"`

	// Workers caps concurrent neighborhood chunks. Zero uses GOMAXPROCS.
	Workers int `json:"workers" koanf:"workers" validate:"gte=0"`

	// OutlierStdDevs marks a member as an outlier when its centroid distance
	// exceeds mean + OutlierStdDevs * std for its cluster.
	// Default: 2.0.
	OutlierStdDevs float64 `json:"outlier_std_devs" koanf:"outlier_std_devs" validate:"gt=0"`

	// DenseClusterMinDensity is the density threshold used by DenseClusters.
	// Default: 0.5.
	DenseClusterMinDensity float64 `json:"dense_cluster_min_density" koanf:"dense_cluster_min_density" validate:"gte=0"`
}

// NearDuplicateSimilarity is the exclusive upper bound of the neighborhood band.
// Pairs at or above it are treated as duplicates, not neighbors.
const NearDuplicateSimilarity = 0.999

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		K:                      20,
		Seed:                   42,
		MaxIterations:          100,
		Restarts:               3,
		Tolerance:              1e-6,
		NeighborMinSimilarity:  0.82,
		NeighborChunkSize:      256,
		Workers:                0,
		OutlierStdDevs:         2.0,
		DenseClusterMinDensity: 0.5,
	}
}

// Validate checks the configuration against a catalog of n tracks.
func (c Config) Validate(n int) error {
	if c.K < 1 {
		return fmt.Errorf("%w: k must be positive, got %d", ErrInvalidK, c.K)
	}
	if c.K > n {
		return fmt.Errorf("%w: k=%d exceeds catalog size %d", ErrInvalidK, c.K, n)
	}
	if c.MaxIterations < 1 {
		return fmt.Errorf("max_iterations must be positive, got %d", c.MaxIterations)
	}
	if c.NeighborMinSimilarity >= NearDuplicateSimilarity {
		return fmt.Errorf("neighbor_min_similarity must be below %v, got %v", NearDuplicateSimilarity, c.NeighborMinSimilarity)
	}
	return nil
}

func (c Config) workers() int {
	if c.Workers > 0 {
		return c.Workers
	}
	return runtime.GOMAXPROCS(0)
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxIterations <= 0 {
		c.MaxIterations = d.MaxIterations
	}
	if c.Restarts <= 0 {
		c.Restarts = d.Restarts
	}
	if c.NeighborChunkSize <= 0 {
		c.NeighborChunkSize = d.NeighborChunkSize
	}
	if c.OutlierStdDevs <= 0 {
		c.OutlierStdDevs = d.OutlierStdDevs
	}
	return c
}
