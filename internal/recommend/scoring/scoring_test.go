// Resonance - Session-Scoped Music Recommendation Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/resonance

package scoring

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"testing"

	"github.com/tomtom215/resonance/internal/catalog"
	"github.com/tomtom215/resonance/internal/vector"
)

func track(id string, v ...float64) *catalog.Track {
	u, _ := vector.Normalize(v)
	return &catalog.Track{ID: id, Embedding: u}
}

func unit(v ...float64) []float64 {
	u, _ := vector.Normalize(v)
	return u
}

func randomUnit(rng *rand.Rand, dim int) []float64 {
	v := make([]float64, dim)
	for i := range v {
		v[i] = rng.NormFloat64()
	}
	u, _ := vector.Normalize(v)
	return u
}

func ids(scored []Scored) []string {
	out := make([]string, len(scored))
	for i, s := range scored {
		out[i] = s.Track.ID
	}
	return out
}

func TestScoreOrdering(t *testing.T) {
	s := New(DefaultConfig())
	cands := []*catalog.Track{
		track("far", 0, 1, 0),
		track("b-exact", 1, 0, 0),
		track("a-exact", 1, 0, 0),
		track("near", 1, 0.2, 0),
	}

	got := s.Score(cands, Request{Targets: [][]float64{unit(1, 0, 0)}})
	want := []string{"a-exact", "b-exact", "near", "far"}
	if fmt.Sprint(ids(got)) != fmt.Sprint(want) {
		t.Fatalf("order = %v, want %v", ids(got), want)
	}
	if got[0].Score != 1 || got[0].Penalty != 0 {
		t.Errorf("exact match scored %+v", got[0])
	}
	for i := 1; i < len(got); i++ {
		if got[i].Score > got[i-1].Score {
			t.Fatalf("scores not descending at %d", i)
		}
	}
}

func TestScoreSkipLimitAndMismatch(t *testing.T) {
	s := New(DefaultConfig())
	cands := []*catalog.Track{
		track("a", 1, 0, 0),
		track("b", 0.9, 0.1, 0),
		track("c", 0.8, 0.2, 0),
		track("short", 1, 0),
		nil,
	}
	got := s.Score(cands, Request{
		Targets: [][]float64{unit(1, 0, 0)},
		Skip:    map[string]struct{}{"a": {}},
		Limit:   1,
	})
	if len(got) != 1 || got[0].Track.ID != "b" {
		t.Fatalf("got %v, want [b]", ids(got))
	}

	if got := s.Score(cands, Request{}); got != nil {
		t.Errorf("no target scored %d candidates", len(got))
	}
}

func TestHardFilterLaw(t *testing.T) {
	rng := rand.New(rand.NewPCG(5, 5))
	cfg := DefaultConfig()
	s := New(cfg)

	for trial := 0; trial < 50; trial++ {
		dim := 6
		var cands []*catalog.Track
		for i := 0; i < 60; i++ {
			cands = append(cands, &catalog.Track{ID: fmt.Sprintf("t%03d", i), Embedding: randomUnit(rng, dim)})
		}
		// A negative right next to the target must still knock out its twins.
		tgt := randomUnit(rng, dim)
		negs := [][]float64{tgt, randomUnit(rng, dim), randomUnit(rng, dim)}
		cands = append(cands, &catalog.Track{ID: "twin", Embedding: tgt})

		got := s.Score(cands, Request{
			Targets:   [][]float64{tgt},
			Negatives: negs,
			Likes:     [][]float64{tgt, randomUnit(rng, dim)},
		})
		for _, sc := range got {
			for _, n := range negs {
				if vector.Cosine(n, sc.Track.Embedding) > cfg.HardThreshold {
					t.Fatalf("trial %d: %s has cosine %.3f to a negative", trial, sc.Track.ID, vector.Cosine(n, sc.Track.Embedding))
				}
			}
		}
	}
}

func TestHardThresholdOverride(t *testing.T) {
	s := New(DefaultConfig())
	neg := unit(1, 0)
	// cos(cand, neg) is about 0.894: filtered at 0.88, kept at 0.92.
	cand := track("c", 2, 1)

	req := Request{Targets: [][]float64{unit(1, 0)}, Negatives: [][]float64{neg}}
	if got := s.Score([]*catalog.Track{cand}, req); len(got) != 0 {
		t.Fatalf("candidate survived the default threshold")
	}
	req.HardThreshold = 0.92
	if got := s.Score([]*catalog.Track{cand}, req); len(got) != 1 {
		t.Fatalf("candidate filtered after relaxing")
	}
}

func TestNegativeWindow(t *testing.T) {
	cfg := DefaultConfig()
	cfg.NegativeWindow = 2
	s := New(cfg)

	cand := track("c", 1, 0, 0)
	negs := [][]float64{unit(1, 0, 0), unit(0, 1, 0), unit(0, 0, 1)}
	got := s.Score([]*catalog.Track{cand}, Request{Targets: [][]float64{unit(1, 0, 0)}, Negatives: negs})
	if len(got) != 1 {
		t.Fatal("negative outside the window filtered the candidate")
	}

	if !HardFiltered(cand.Embedding, negs, 3, 0.88) {
		t.Error("HardFiltered missed a negative inside the window")
	}
	if HardFiltered(cand.Embedding, negs, 2, 0.88) {
		t.Error("HardFiltered used a negative outside the window")
	}
}

func TestSoftPenalty(t *testing.T) {
	cfg := DefaultConfig()
	s := New(cfg)
	neg := unit(1, 0)

	tests := []struct {
		name    string
		cand    *catalog.Track
		penalty bool
	}{
		{"below band", track("x", 1, 1.5), false},
		{"inside band", track("y", 1, 0.6), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sim := vector.Cosine(neg, tt.cand.Embedding)
			got := s.Score([]*catalog.Track{tt.cand}, Request{Targets: [][]float64{tt.cand.Embedding}, Negatives: [][]float64{neg}})
			if len(got) != 1 {
				t.Fatalf("candidate (sim %.3f) was filtered", sim)
			}
			if !tt.penalty {
				if got[0].Penalty != 0 {
					t.Errorf("penalty %.4f outside the band (sim %.3f)", got[0].Penalty, sim)
				}
				return
			}
			d := 1 - sim
			want := math.Exp(-(d*d)/(2*0.08*0.08)) * 3
			if math.Abs(got[0].Penalty-want) > 1e-12 {
				t.Errorf("penalty = %v, want %v", got[0].Penalty, want)
			}
			if math.Abs(got[0].Score-(got[0].Similarity-want)) > 1e-12 {
				t.Errorf("score %v != similarity - penalty", got[0].Score)
			}
		})
	}
}

func TestVarianceSelection(t *testing.T) {
	s := New(DefaultConfig())
	a, b := unit(1, 0), unit(0, 1)

	tests := []struct {
		name  string
		req   Request
		sigma float64
	}{
		{"default", Request{Targets: [][]float64{a}}, 1},
		{"explicit", Request{Targets: [][]float64{a}, Variance: 0.25}, 0.5},
		{"tiny floored to min sigma", Request{Targets: [][]float64{a}, Variance: 1e-6}, 0.05},
		{"single like", Request{Targets: [][]float64{a}, Likes: [][]float64{a}}, math.Sqrt(0.15)},
		{"forced ignores likes", Request{Targets: [][]float64{a}, Likes: [][]float64{a}, ForceTarget: true, Variance: 0.05}, math.Sqrt(0.05)},
		{"two likes", Request{Likes: [][]float64{a, b}}, math.Sqrt(0.5)},
		{"identical likes floored", Request{Likes: [][]float64{a, a}}, 0.1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tgt, ok := s.prepare(tt.req)
			if !ok {
				t.Fatal("prepare failed")
			}
			if math.Abs(tgt.sigma-tt.sigma) > 1e-9 {
				t.Errorf("sigma = %v, want %v", tgt.sigma, tt.sigma)
			}
		})
	}
}

func TestFeatureWeights(t *testing.T) {
	s := New(DefaultConfig())
	likes := [][]float64{unit(1, 0.1, 0.5), unit(1, 0.1, -0.5), unit(1, 0.1, 0)}
	w := s.featureWeights(likes)

	var sum float64
	for _, x := range w {
		sum += x
	}
	if math.Abs(sum/float64(len(w))-1) > 1e-9 {
		t.Errorf("mean weight = %v, want 1", sum/float64(len(w)))
	}
	if w[2] >= w[0] {
		t.Errorf("varying dimension weight %v should be below consistent %v", w[2], w[0])
	}

	// Straying along a consistent dimension costs more than straying along
	// the varying one.
	offVarying := track("varying", 1, 0.1, 0.3)
	offConsistent := track("consistent", 1, 0.4, 0)
	got := s.Score([]*catalog.Track{offConsistent, offVarying}, Request{Likes: likes})
	if got[0].Track.ID != "varying" {
		t.Errorf("order = %v, want varying first", ids(got))
	}
}

func TestTasteBlend(t *testing.T) {
	s := New(DefaultConfig())
	like := unit(1, 0)
	taste := unit(0, 1)
	tgt, _ := s.prepare(Request{Likes: [][]float64{like}, Taste: taste})
	if math.Abs(tgt.mean[0]-0.8) > 1e-12 || math.Abs(tgt.mean[1]-0.2) > 1e-12 {
		t.Errorf("blended target = %v, want [0.8 0.2]", tgt.mean)
	}
}

func TestOverlapBoost(t *testing.T) {
	s := New(DefaultConfig())
	targets := [][]float64{unit(1, 0, 0), unit(1, 0.1, 0), unit(0, 0, 1)}
	cand := track("c", 1, 0.05, 0)

	boosted := s.Score([]*catalog.Track{cand}, Request{Targets: targets})
	plain := s.Score([]*catalog.Track{cand}, Request{Targets: targets, ForceTarget: true})
	diff := boosted[0].Score - plain[0].Score
	want := 2.0 / 3.0 * 0.2
	if math.Abs(diff-want) > 1e-12 {
		t.Errorf("boost = %v, want %v", diff, want)
	}
}

func TestCheckPool(t *testing.T) {
	if err := CheckPool(make([]Scored, 9), 10); !errors.Is(err, ErrEmptyCandidatePool) {
		t.Errorf("CheckPool(9, 10) = %v, want ErrEmptyCandidatePool", err)
	}
	if err := CheckPool(make([]Scored, 10), 10); err != nil {
		t.Errorf("CheckPool(10, 10) = %v", err)
	}
}
