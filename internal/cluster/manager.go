// Resonance - Session-Scoped Music Recommendation Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/resonance

// Package cluster partitions the catalog into K clusters and precomputes the
// per-track neighborhood-density cache used to gate exploration anchors.
//
// A Manager is immutable once built and safe for concurrent reads from any
// number of sessions. Refitting produces a new Manager.
package cluster

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/stat"

	"github.com/tomtom215/resonance/internal/catalog"
	"github.com/tomtom215/resonance/internal/metrics"
	"github.com/tomtom215/resonance/internal/vector"
)

// NoCluster marks the absence of a cluster ID.
const NoCluster = -1

// Cluster is one partition of the catalog.
type Cluster struct {
	ID       int       `json:"id"`
	Centroid []float64 `json:"centroid"`
	// Members are ordered by ascending distance to Centroid, ties by track ID.
	Members []string `json:"members"`
}

// Size returns the member count.
func (c *Cluster) Size() int { return len(c.Members) }

// Manager is a fitted clustering of a catalog.
type Manager struct {
	cfg      Config
	catalog  *catalog.Catalog
	clusters []Cluster

	// Indexed by catalog position.
	assign       []int
	centroidDist []float64
	outlier      []bool
	neighborhood []NeighborhoodEntry

	density     []float64
	fingerprint string
	fittedAt    time.Time
}

// Fit clusters cat with k-means and builds the neighborhood cache.
func Fit(ctx context.Context, cat *catalog.Catalog, cfg Config, logger zerolog.Logger) (*Manager, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(cat.Len()); err != nil {
		return nil, err
	}

	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	rng := rand.New(rand.NewPCG(uint64(seed), uint64(seed)>>1|1)) //nolint:gosec // clustering does not need crypto randomness

	start := time.Now()
	vecs := make([][]float64, cat.Len())
	for i := range vecs {
		vecs[i] = cat.Vector(i)
	}

	res, err := kmeans(ctx, vecs, cfg.K, cfg, rng)
	if err != nil {
		return nil, fmt.Errorf("kmeans: %w", err)
	}
	logger.Info().
		Int("tracks", cat.Len()).
		Int("k", cfg.K).
		Float64("inertia", res.inertia).
		Dur("duration", time.Since(start)).
		Msg("Catalog clustered")

	m, err := build(ctx, cat, cfg, res.assign, res.centroids, nil)
	if err != nil {
		return nil, err
	}
	metrics.ClusterFitDuration.Observe(time.Since(start).Seconds())
	return m, nil
}

// FromAssignments builds a Manager from a precomputed partition, where
// assign[i] is the cluster of the catalog track at position i. Centroids are
// recomputed as member means. Used to restore snapshots and to pin
// deterministic layouts.
func FromAssignments(ctx context.Context, cat *catalog.Catalog, cfg Config, assign []int) (*Manager, error) {
	cfg = cfg.withDefaults()
	if len(assign) != cat.Len() {
		return nil, fmt.Errorf("assignment covers %d tracks, catalog has %d", len(assign), cat.Len())
	}
	for i, c := range assign {
		if c < 0 || c >= cfg.K {
			return nil, fmt.Errorf("%w: track %d assigned to cluster %d outside [0,%d)", ErrInvalidK, i, c, cfg.K)
		}
	}
	if err := cfg.Validate(cat.Len()); err != nil {
		return nil, err
	}
	return build(ctx, cat, cfg, assign, nil, nil)
}

// build finalizes a Manager. Missing centroids are derived from members; a nil
// neighborhood is recomputed.
func build(ctx context.Context, cat *catalog.Catalog, cfg Config, assign []int, centroids [][]float64, hood []NeighborhoodEntry) (*Manager, error) {
	n := cat.Len()
	m := &Manager{
		cfg:          cfg,
		catalog:      cat,
		clusters:     make([]Cluster, cfg.K),
		assign:       append([]int(nil), assign...),
		centroidDist: make([]float64, n),
		outlier:      make([]bool, n),
		density:      make([]float64, cfg.K),
		fingerprint:  Fingerprint(cat),
		fittedAt:     time.Now(),
	}

	members := make([][]int, cfg.K)
	for i, c := range assign {
		members[c] = append(members[c], i)
	}

	for c := 0; c < cfg.K; c++ {
		var cent []float64
		if centroids != nil {
			cent = vector.Clone(centroids[c])
		} else if len(members[c]) > 0 {
			vs := make([][]float64, len(members[c]))
			for j, idx := range members[c] {
				vs[j] = cat.Vector(idx)
			}
			cent = vector.Mean(vs)
		} else {
			cent = make([]float64, cat.Dim())
		}
		m.clusters[c] = Cluster{ID: c, Centroid: cent}
	}

	for c := 0; c < cfg.K; c++ {
		idx := members[c]
		for _, i := range idx {
			m.centroidDist[i] = vector.Distance(cat.Vector(i), m.clusters[c].Centroid)
		}
		sort.Slice(idx, func(a, b int) bool {
			da, db := m.centroidDist[idx[a]], m.centroidDist[idx[b]]
			if da != db {
				return da < db
			}
			return cat.At(idx[a]).ID < cat.At(idx[b]).ID
		})
		ids := make([]string, len(idx))
		for j, i := range idx {
			ids[j] = cat.At(i).ID
		}
		m.clusters[c].Members = ids
		m.markOutliers(c, idx)
	}

	if hood == nil {
		var err error
		hood, err = buildNeighborhood(ctx, cat, cfg)
		if err != nil {
			return nil, fmt.Errorf("build neighborhood cache: %w", err)
		}
	}
	m.neighborhood = hood

	return m, nil
}

// markOutliers flags members farther than mean + OutlierStdDevs*std from the
// centroid and records the cluster density 1/(mean+0.01). Clusters with fewer
// than three members have no outliers.
func (m *Manager) markOutliers(c int, idx []int) {
	if len(idx) == 0 {
		return
	}
	d := make([]float64, len(idx))
	for j, i := range idx {
		d[j] = m.centroidDist[i]
	}
	mean, variance := stat.PopMeanVariance(d, nil)
	m.density[c] = 1 / (mean + 0.01)
	if len(idx) < 3 {
		return
	}
	limit := mean + m.cfg.OutlierStdDevs*math.Sqrt(variance)
	for j, i := range idx {
		if d[j] > limit {
			m.outlier[i] = true
		}
	}
}

// K returns the number of clusters.
func (m *Manager) K() int { return len(m.clusters) }

// Catalog returns the catalog this Manager was fitted on.
func (m *Manager) Catalog() *catalog.Catalog { return m.catalog }

// Config returns the configuration used to build the Manager.
func (m *Manager) Config() Config { return m.cfg }

// FittedAt returns when the Manager was built.
func (m *Manager) FittedAt() time.Time { return m.fittedAt }

// Fingerprint returns the catalog fingerprint the Manager was built against.
func (m *Manager) Fingerprint() string { return m.fingerprint }

// Cluster returns the cluster with the given ID.
func (m *Manager) Cluster(id int) (*Cluster, bool) {
	if id < 0 || id >= len(m.clusters) {
		return nil, false
	}
	return &m.clusters[id], true
}

// Members returns the member IDs of a cluster, nearest to the centroid first.
// The returned slice must not be modified.
func (m *Manager) Members(id int) []string {
	c, ok := m.Cluster(id)
	if !ok {
		return nil
	}
	return c.Members
}

// Representatives returns up to limit member IDs ordered by ascending
// distance to the centroid, ties broken by ascending track ID.
func (m *Manager) Representatives(id, limit int) []string {
	members := m.Members(id)
	if limit <= 0 || limit > len(members) {
		limit = len(members)
	}
	out := make([]string, limit)
	copy(out, members[:limit])
	return out
}

// ClusterOf returns the cluster containing trackID.
func (m *Manager) ClusterOf(trackID string) (int, bool) {
	i := m.catalog.Index(trackID)
	if i < 0 {
		return NoCluster, false
	}
	return m.assign[i], true
}

// Sizes returns member counts indexed by cluster ID.
func (m *Manager) Sizes() []int {
	out := make([]int, len(m.clusters))
	for i := range m.clusters {
		out[i] = len(m.clusters[i].Members)
	}
	return out
}

// FindBestAlignedCluster returns the cluster whose centroid has the largest
// dot product with v, skipping excluded IDs. Ties resolve to the lowest ID.
// The boolean is false when every cluster is excluded.
func (m *Manager) FindBestAlignedCluster(v []float64, exclude map[int]struct{}) (int, bool) {
	best, bestScore := NoCluster, math.Inf(-1)
	for i := range m.clusters {
		if _, skip := exclude[i]; skip {
			continue
		}
		if s := vector.Dot(v, m.clusters[i].Centroid); s > bestScore {
			best, bestScore = i, s
		}
	}
	return best, best != NoCluster
}

// NearestCluster returns the cluster whose centroid is closest to v in
// Euclidean distance. Ties resolve to the lowest ID.
func (m *Manager) NearestCluster(v []float64) int {
	best, bestD := 0, math.Inf(1)
	for i := range m.clusters {
		if d := vector.Distance(v, m.clusters[i].Centroid); d < bestD {
			best, bestD = i, d
		}
	}
	return best
}

// IsOutlier reports whether trackID lies unusually far from its centroid.
func (m *Manager) IsOutlier(trackID string) bool {
	i := m.catalog.Index(trackID)
	return i >= 0 && m.outlier[i]
}

// Density returns 1/(mean centroid distance + 0.01) for a cluster.
func (m *Manager) Density(id int) float64 {
	if id < 0 || id >= len(m.density) {
		return 0
	}
	return m.density[id]
}

// DenseClusters returns the non-empty clusters whose density exceeds the
// configured threshold. When none qualify every non-empty cluster is returned.
func (m *Manager) DenseClusters() []int {
	var dense, all []int
	for i := range m.clusters {
		if len(m.clusters[i].Members) == 0 {
			continue
		}
		all = append(all, i)
		if m.density[i] > m.cfg.DenseClusterMinDensity {
			dense = append(dense, i)
		}
	}
	if len(dense) == 0 {
		return all
	}
	return dense
}
