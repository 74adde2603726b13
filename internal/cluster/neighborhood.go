// Resonance - Session-Scoped Music Recommendation Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/resonance

package cluster

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/tomtom215/resonance/internal/catalog"
	"github.com/tomtom215/resonance/internal/vector"
)

// NeighborhoodEntry summarizes the close neighbors of one track.
type NeighborhoodEntry struct {
	// Count is the number of other tracks with similarity in
	// [NeighborMinSimilarity, NearDuplicateSimilarity).
	Count int `json:"count"`

	// AvgSimilarity is the mean similarity of those neighbors, 0 when Count is 0.
	AvgSimilarity float64 `json:"avg_similarity"`
}

// buildNeighborhood computes one entry per catalog track. Rows are split into
// chunks of NeighborChunkSize and processed concurrently; each chunk writes a
// disjoint range of the result so no locking is needed.
func buildNeighborhood(ctx context.Context, cat *catalog.Catalog, cfg Config) ([]NeighborhoodEntry, error) {
	n := cat.Len()
	out := make([]NeighborhoodEntry, n)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.workers())

	for start := 0; start < n; start += cfg.NeighborChunkSize {
		lo, hi := start, min(start+cfg.NeighborChunkSize, n)
		g.Go(func() error {
			for i := lo; i < hi; i++ {
				if err := gctx.Err(); err != nil {
					return err
				}
				vi := cat.Vector(i)
				count, sum := 0, 0.0
				for j := 0; j < n; j++ {
					if j == i {
						continue
					}
					// Embeddings are unit vectors, so the dot product is the cosine.
					s := vector.Dot(vi, cat.Vector(j))
					if s >= cfg.NeighborMinSimilarity && s < NearDuplicateSimilarity {
						count++
						sum += s
					}
				}
				if count > 0 {
					out[i] = NeighborhoodEntry{Count: count, AvgSimilarity: sum / float64(count)}
				}
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// Neighborhood returns the cached entry for trackID.
func (m *Manager) Neighborhood(trackID string) (NeighborhoodEntry, bool) {
	i := m.catalog.Index(trackID)
	if i < 0 {
		return NeighborhoodEntry{}, false
	}
	return m.neighborhood[i], true
}

// ValidateNeighborhoodDensity reports whether trackID has at least
// minNeighbors cached neighbors whose mean similarity is at least
// minSimilarity. It also returns the cached count and mean. Unknown tracks
// are never valid.
func (m *Manager) ValidateNeighborhoodDensity(trackID string, minNeighbors int, minSimilarity float64) (valid bool, count int, avg float64) {
	e, ok := m.Neighborhood(trackID)
	if !ok {
		return false, 0, 0
	}
	return e.Count >= minNeighbors && e.AvgSimilarity >= minSimilarity, e.Count, e.AvgSimilarity
}
