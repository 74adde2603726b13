// Resonance - Session-Scoped Music Recommendation Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/resonance

package cluster

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/rs/zerolog"

	"github.com/tomtom215/resonance/internal/catalog"
	"github.com/tomtom215/resonance/internal/catalog/catalogtest"
	"github.com/tomtom215/resonance/internal/vector"
)

func testConfig(k int) Config {
	cfg := DefaultConfig()
	cfg.K = k
	cfg.Workers = 2
	cfg.NeighborChunkSize = 16
	return cfg
}

func fitDefault(t *testing.T) (*catalog.Catalog, *Manager) {
	t.Helper()
	cat := catalogtest.New(t, catalogtest.Default())
	m, err := Fit(context.Background(), cat, testConfig(4), zerolog.Nop())
	if err != nil {
		t.Fatalf("Fit() error = %v", err)
	}
	return cat, m
}

func TestFitMembership(t *testing.T) {
	cat, m := fitDefault(t)

	if m.K() != 4 {
		t.Fatalf("K() = %d, want 4", m.K())
	}

	seen := make(map[string]int)
	total := 0
	for c := 0; c < m.K(); c++ {
		for _, id := range m.Members(c) {
			if prev, dup := seen[id]; dup {
				t.Fatalf("track %s in clusters %d and %d", id, prev, c)
			}
			seen[id] = c
			total++
		}
	}
	if total != cat.Len() {
		t.Errorf("membership sum = %d, want %d", total, cat.Len())
	}

	for id, c := range seen {
		got, ok := m.ClusterOf(id)
		if !ok || got != c {
			t.Errorf("ClusterOf(%s) = %d,%v, want %d", id, got, ok, c)
		}
	}
}

func TestFitRecoversGroups(t *testing.T) {
	_, m := fitDefault(t)

	for c := 0; c < m.K(); c++ {
		members := m.Members(c)
		if len(members) == 0 {
			t.Fatalf("cluster %d is empty", c)
		}
		want := catalogtest.GroupOf(members[0])
		for _, id := range members {
			if g := catalogtest.GroupOf(id); g != want {
				t.Errorf("cluster %d mixes groups %d and %d", c, want, g)
			}
		}
	}
}

func TestFitDeterministic(t *testing.T) {
	cat := catalogtest.New(t, catalogtest.Default())

	a, err := Fit(context.Background(), cat, testConfig(4), zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	b, err := Fit(context.Background(), cat, testConfig(4), zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}

	for i := 0; i < cat.Len(); i++ {
		id := cat.At(i).ID
		ca, _ := a.ClusterOf(id)
		cb, _ := b.ClusterOf(id)
		if ca != cb {
			t.Fatalf("track %s assigned to %d then %d", id, ca, cb)
		}
	}
}

func TestFitInvalidK(t *testing.T) {
	cat := catalogtest.New(t, catalogtest.Spec{Groups: 2, PerGroup: 3, Dim: 4, Spread: 0.05, Seed: 1})

	for _, k := range []int{0, -1, 7} {
		_, err := Fit(context.Background(), cat, testConfig(k), zerolog.Nop())
		if !errors.Is(err, ErrInvalidK) {
			t.Errorf("Fit(k=%d) error = %v, want ErrInvalidK", k, err)
		}
	}
}

func TestFitCancelled(t *testing.T) {
	cat := catalogtest.New(t, catalogtest.Default())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Fit(ctx, cat, testConfig(4), zerolog.Nop())
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Fit() error = %v, want context.Canceled", err)
	}
}

func TestFitKEqualsN(t *testing.T) {
	cat := catalogtest.New(t, catalogtest.Spec{Groups: 3, PerGroup: 1, Dim: 3, Spread: 0.01, Seed: 3})
	m, err := Fit(context.Background(), cat, testConfig(3), zerolog.Nop())
	if err != nil {
		t.Fatalf("Fit() error = %v", err)
	}
	for c, size := range m.Sizes() {
		if size != 1 {
			t.Errorf("cluster %d size = %d, want 1", c, size)
		}
	}
}

func TestRepresentativesOrder(t *testing.T) {
	cat, m := fitDefault(t)

	for c := 0; c < m.K(); c++ {
		cl, _ := m.Cluster(c)
		reps := m.Representatives(c, 10)
		if len(reps) != 10 {
			t.Fatalf("cluster %d: %d representatives, want 10", c, len(reps))
		}
		prev := -1.0
		prevID := ""
		for _, id := range reps {
			tr, _ := cat.Lookup(id)
			d := vector.Distance(tr.Embedding, cl.Centroid)
			if d < prev || (d == prev && id < prevID) {
				t.Errorf("cluster %d: %s (d=%v) after %s (d=%v)", c, id, d, prevID, prev)
			}
			prev, prevID = d, id
		}
	}

	if got := m.Representatives(0, 0); len(got) != len(m.Members(0)) {
		t.Errorf("limit 0 returned %d, want all %d", len(got), len(m.Members(0)))
	}
	if got := m.Representatives(99, 5); len(got) != 0 {
		t.Errorf("unknown cluster returned %v", got)
	}
}

func TestRepresentativesTieBreakByID(t *testing.T) {
	tracks := []catalog.Track{
		{ID: "c", Embedding: []float64{1, 0}},
		{ID: "a", Embedding: []float64{1, 0}},
		{ID: "b", Embedding: []float64{1, 0}},
	}
	cat, err := catalog.New(tracks)
	if err != nil {
		t.Fatal(err)
	}
	m, err := FromAssignments(context.Background(), cat, testConfig(1), []int{0, 0, 0})
	if err != nil {
		t.Fatal(err)
	}
	got := m.Representatives(0, 3)
	want := []string{"a", "b", "c"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Representatives() = %v, want %v", got, want)
		}
	}
}

func TestFindBestAlignedCluster(t *testing.T) {
	cat, m := fitDefault(t)

	axis := make([]float64, cat.Dim())
	axis[2] = 1
	best, ok := m.FindBestAlignedCluster(axis, nil)
	if !ok {
		t.Fatal("no cluster returned")
	}
	if g := catalogtest.GroupOf(m.Members(best)[0]); g != 2 {
		t.Errorf("best aligned cluster holds group %d, want 2", g)
	}

	next, ok := m.FindBestAlignedCluster(axis, map[int]struct{}{best: {}})
	if !ok || next == best {
		t.Errorf("exclusion ignored: got %d", next)
	}

	all := map[int]struct{}{0: {}, 1: {}, 2: {}, 3: {}}
	if id, ok := m.FindBestAlignedCluster(axis, all); ok || id != NoCluster {
		t.Errorf("all excluded: got %d,%v", id, ok)
	}
}

func TestFindBestAlignedClusterTieBreak(t *testing.T) {
	tracks := []catalog.Track{
		{ID: "a", Embedding: []float64{1, 0}},
		{ID: "b", Embedding: []float64{1, 0}},
	}
	cat, err := catalog.New(tracks)
	if err != nil {
		t.Fatal(err)
	}
	m, err := FromAssignments(context.Background(), cat, testConfig(2), []int{1, 0})
	if err != nil {
		t.Fatal(err)
	}
	if got, _ := m.FindBestAlignedCluster([]float64{1, 0}, nil); got != 0 {
		t.Errorf("tie resolved to %d, want 0", got)
	}
	if got := m.NearestCluster([]float64{1, 0}); got != 0 {
		t.Errorf("NearestCluster tie resolved to %d, want 0", got)
	}
}

func TestFromAssignmentsErrors(t *testing.T) {
	cat := catalogtest.New(t, catalogtest.Spec{Groups: 2, PerGroup: 2, Dim: 4, Spread: 0.05, Seed: 1})

	if _, err := FromAssignments(context.Background(), cat, testConfig(2), []int{0, 1}); err == nil {
		t.Error("short assignment accepted")
	}
	if _, err := FromAssignments(context.Background(), cat, testConfig(2), []int{0, 1, 2, 0}); !errors.Is(err, ErrInvalidK) {
		t.Errorf("out-of-range cluster error = %v, want ErrInvalidK", err)
	}
}

func TestOutliersAndDensity(t *testing.T) {
	tracks := []catalog.Track{{ID: "odd", Embedding: []float64{1, 1, 0}}}
	for i := 0; i < 10; i++ {
		tracks = append(tracks, catalog.Track{ID: catalogtest.ID(0, i), Embedding: []float64{1, 0, 0}})
	}
	tracks = append(tracks,
		catalog.Track{ID: "p1", Embedding: []float64{0, 0, 1}},
		catalog.Track{ID: "p2", Embedding: []float64{0, 0.01, 1}},
	)
	cat, err := catalog.New(tracks)
	if err != nil {
		t.Fatal(err)
	}

	assign := make([]int, cat.Len())
	for i := range assign {
		if id := cat.At(i).ID; id == "p1" || id == "p2" {
			assign[i] = 1
		}
	}
	m, err := FromAssignments(context.Background(), cat, testConfig(2), assign)
	if err != nil {
		t.Fatal(err)
	}

	if !m.IsOutlier("odd") {
		t.Error("odd should be an outlier")
	}
	if m.IsOutlier(catalogtest.ID(0, 0)) {
		t.Error("core member flagged as outlier")
	}
	if m.IsOutlier("p1") || m.IsOutlier("p2") {
		t.Error("clusters under three members must not have outliers")
	}

	for c := 0; c < 2; c++ {
		cl, _ := m.Cluster(c)
		sum := 0.0
		for _, id := range cl.Members {
			tr, _ := cat.Lookup(id)
			sum += vector.Distance(tr.Embedding, cl.Centroid)
		}
		want := 1 / (sum/float64(len(cl.Members)) + 0.01)
		if got := m.Density(c); math.Abs(got-want) > 1e-9 {
			t.Errorf("Density(%d) = %v, want %v", c, got, want)
		}
	}
	if m.Density(5) != 0 {
		t.Error("unknown cluster density should be 0")
	}
}

func TestDenseClusters(t *testing.T) {
	_, m := fitDefault(t)

	dense := m.DenseClusters()
	if len(dense) == 0 {
		t.Fatal("DenseClusters() returned nothing")
	}

	m.cfg.DenseClusterMinDensity = math.Inf(1)
	if got := m.DenseClusters(); len(got) != m.K() {
		t.Errorf("fallback returned %d clusters, want all %d", len(got), m.K())
	}
}
