// Resonance - Session-Scoped Music Recommendation Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/resonance

package bandit

import (
	"math"
	"math/rand/v2"
	"testing"
)

func newTestSelector(k int) *Selector {
	return New(k, rand.New(rand.NewPCG(1, 2)))
}

func TestNewStartsAtPrior(t *testing.T) {
	s := newTestSelector(3)
	if s.K() != 3 {
		t.Fatalf("K() = %d, want 3", s.K())
	}
	for i, a := range s.Arms() {
		if a.Alpha != Prior || a.Beta != Prior {
			t.Errorf("arm %d = %+v, want prior", i, a)
		}
	}
	if _, ok := s.Arm(3); ok {
		t.Error("Arm(3) should not exist")
	}
}

func TestUpdate(t *testing.T) {
	tests := []struct {
		name      string
		positive  bool
		strength  float64
		wantAlpha float64
		wantBeta  float64
	}{
		{"positive", true, 1.5, 2.5, 1},
		{"negative", false, 0.5, 1, 1.5},
		{"zero ignored", true, 0, 1, 1},
		{"negative strength ignored", true, -2, 1, 1},
		{"nan ignored", false, math.NaN(), 1, 1},
		{"inf ignored", true, math.Inf(1), 1, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestSelector(2)
			s.Update(1, tt.positive, tt.strength)
			a, _ := s.Arm(1)
			if a.Alpha != tt.wantAlpha || a.Beta != tt.wantBeta {
				t.Errorf("arm = %+v, want {%v %v}", a, tt.wantAlpha, tt.wantBeta)
			}
		})
	}

	s := newTestSelector(2)
	s.Update(-1, true, 1)
	s.Update(2, true, 1)
	for _, a := range s.Arms() {
		if a.Alpha != Prior {
			t.Error("out-of-range update changed an arm")
		}
	}
}

func TestAlphaMonotone(t *testing.T) {
	s := newTestSelector(4)
	rng := rand.New(rand.NewPCG(9, 9))
	prev := s.Arms()

	for i := 0; i < 500; i++ {
		id := rng.IntN(4)
		strength := rng.NormFloat64()
		s.Update(id, rng.IntN(2) == 0, strength)
		if i%7 == 0 {
			s.Boost(id, rng.Float64()*3)
		}
		cur := s.Arms()
		for c := range cur {
			if cur[c].Alpha < prev[c].Alpha || cur[c].Beta < prev[c].Beta {
				t.Fatalf("step %d: arm %d decreased from %+v to %+v", i, c, prev[c], cur[c])
			}
			if cur[c].Alpha < Prior || cur[c].Beta < Prior {
				t.Fatalf("arm %d fell below the prior: %+v", c, cur[c])
			}
		}
		prev = cur
	}
}

func TestWarmStart(t *testing.T) {
	s := newTestSelector(8)
	history := []HistoryScore{
		{ClusterID: 0, Score: 1},
		{ClusterID: 1, Score: 100},
		{ClusterID: 2, Score: 2},
		{ClusterID: 3, Score: 3},
		{ClusterID: 4, Score: 4},
		{ClusterID: 5, Score: 0.5},
		{ClusterID: 42, Score: 50},
	}

	best := s.WarmStart(history, DefaultWarmStartConfig())
	if best != 1 {
		t.Errorf("best = %d, want 1", best)
	}

	want := map[int]float64{
		1: Prior + 25,
		4: Prior + 20,
		3: Prior + 15,
		2: Prior + 10,
		0: Prior,
		5: Prior,
	}
	for id, alpha := range want {
		a, _ := s.Arm(id)
		if a.Alpha != alpha {
			t.Errorf("arm %d alpha = %v, want %v", id, a.Alpha, alpha)
		}
	}
}

func TestWarmStartEmpty(t *testing.T) {
	s := newTestSelector(2)
	if best := s.WarmStart(nil, DefaultWarmStartConfig()); best != -1 {
		t.Errorf("best = %d, want -1", best)
	}
}

func TestSelectFavorsStrongArm(t *testing.T) {
	s := newTestSelector(4)
	for id := 0; id < 4; id++ {
		s.Update(id, false, 200)
	}
	s.Update(2, true, 400)

	for i := 0; i < 200; i++ {
		if got := s.Select(); got != 2 {
			t.Fatalf("draw %d selected %d, want 2", i, got)
		}
	}
}

func TestSelectFrom(t *testing.T) {
	s := newTestSelector(4)
	s.Update(2, true, 1000)

	for i := 0; i < 100; i++ {
		got := s.SelectFrom([]int{3, 0, 0, 9})
		if got != 0 && got != 3 {
			t.Fatalf("SelectFrom returned %d outside candidates", got)
		}
	}
	if got := s.SelectFrom(nil); got != -1 {
		t.Errorf("SelectFrom(nil) = %d, want -1", got)
	}
	if got := New(0, rand.New(rand.NewPCG(1, 1))).Select(); got != -1 {
		t.Errorf("Select() on no arms = %d, want -1", got)
	}
}

func TestSelectDeterministic(t *testing.T) {
	a := New(5, rand.New(rand.NewPCG(3, 4)))
	b := New(5, rand.New(rand.NewPCG(3, 4)))
	for i := 0; i < 50; i++ {
		if x, y := a.Select(), b.Select(); x != y {
			t.Fatalf("draw %d: %d vs %d", i, x, y)
		}
	}
}

func TestTopByAlpha(t *testing.T) {
	s := newTestSelector(5)
	s.Boost(3, 4)
	s.Boost(1, 4)
	s.Boost(4, 1)

	got := s.TopByAlpha(3)
	want := []int{1, 3, 4}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("TopByAlpha(3) = %v, want %v", got, want)
		}
	}
	if all := s.TopByAlpha(-1); len(all) != 5 {
		t.Errorf("TopByAlpha(-1) returned %d ids, want 5", len(all))
	}
}
