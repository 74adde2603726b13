// Resonance - Session-Scoped Music Recommendation Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/resonance

package cluster

import (
	"context"
	"testing"

	"github.com/tomtom215/resonance/internal/catalog"
	"github.com/tomtom215/resonance/internal/catalog/catalogtest"
	"github.com/tomtom215/resonance/internal/vector"
)

// bruteNeighborhood is the single-threaded reference for buildNeighborhood.
func bruteNeighborhood(cat *catalog.Catalog, minSim float64) []NeighborhoodEntry {
	out := make([]NeighborhoodEntry, cat.Len())
	for i := 0; i < cat.Len(); i++ {
		sum, n := 0.0, 0
		for j := 0; j < cat.Len(); j++ {
			if i == j {
				continue
			}
			s := vector.Cosine(cat.Vector(i), cat.Vector(j))
			if s >= minSim && s < NearDuplicateSimilarity {
				sum += s
				n++
			}
		}
		if n > 0 {
			out[i] = NeighborhoodEntry{Count: n, AvgSimilarity: sum / float64(n)}
		}
	}
	return out
}

func TestBuildNeighborhoodMatchesBruteForce(t *testing.T) {
	cat := catalogtest.New(t, catalogtest.Spec{Groups: 3, PerGroup: 25, Dim: 8, Spread: 0.1, Seed: 11})

	for _, chunk := range []int{1, 7, 256} {
		cfg := testConfig(3)
		cfg.NeighborChunkSize = chunk
		got, err := buildNeighborhood(context.Background(), cat, cfg)
		if err != nil {
			t.Fatalf("chunk %d: %v", chunk, err)
		}
		want := bruteNeighborhood(cat, cfg.NeighborMinSimilarity)
		for i := range want {
			if got[i].Count != want[i].Count {
				t.Fatalf("chunk %d track %d: count %d, want %d", chunk, i, got[i].Count, want[i].Count)
			}
			if d := got[i].AvgSimilarity - want[i].AvgSimilarity; d > 1e-9 || d < -1e-9 {
				t.Fatalf("chunk %d track %d: avg %v, want %v", chunk, i, got[i].AvgSimilarity, want[i].AvgSimilarity)
			}
		}
	}
}

func TestNeighborhoodExcludesNearDuplicates(t *testing.T) {
	tracks := []catalog.Track{
		{ID: "a", Embedding: []float64{1, 0}},
		{ID: "a-copy", Embedding: []float64{1, 0}},
		{ID: "b", Embedding: []float64{1, 0.5}},
	}
	cat, err := catalog.New(tracks)
	if err != nil {
		t.Fatal(err)
	}
	m, err := FromAssignments(context.Background(), cat, testConfig(1), []int{0, 0, 0})
	if err != nil {
		t.Fatal(err)
	}

	// cos(a, b) = 0.894 counts; cos(a, a-copy) = 1 does not.
	e, ok := m.Neighborhood("a")
	if !ok || e.Count != 1 {
		t.Errorf("Neighborhood(a) = %+v, want one neighbor", e)
	}
}

func TestValidateNeighborhoodDensity(t *testing.T) {
	// One tight group of four: every member has exactly three neighbors.
	spec := catalogtest.Spec{Groups: 3, Dim: 16, Spread: 0.02, Seed: 5, Sizes: []int{4, 30, 30}}
	cat := catalogtest.New(t, spec)
	m, err := FromAssignments(context.Background(), cat, testConfig(3), catalogtest.Assignments(cat))
	if err != nil {
		t.Fatal(err)
	}

	id := catalogtest.ID(0, 0)

	valid, count, avg := m.ValidateNeighborhoodDensity(id, 20, 0.82)
	if valid {
		t.Error("sparse track passed a 20-neighbor gate")
	}
	if count != 3 {
		t.Errorf("count = %d, want 3", count)
	}
	if avg < 0.82 {
		t.Errorf("avg = %v, want >= 0.82", avg)
	}

	if valid, _, _ := m.ValidateNeighborhoodDensity(id, 3, 0.82); !valid {
		t.Error("track with three neighbors failed a 3-neighbor gate")
	}
	if valid, _, _ := m.ValidateNeighborhoodDensity(id, 3, 0.9999); valid {
		t.Error("gate ignored the similarity threshold")
	}

	dense := catalogtest.ID(1, 0)
	if valid, count, _ := m.ValidateNeighborhoodDensity(dense, 20, 0.82); !valid {
		t.Errorf("dense track failed the gate with %d neighbors", count)
	}

	if valid, count, _ := m.ValidateNeighborhoodDensity("unknown", 0, 0); valid || count != 0 {
		t.Error("unknown track passed the gate")
	}
}
