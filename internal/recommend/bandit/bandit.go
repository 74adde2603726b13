// Resonance - Session-Scoped Music Recommendation Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/resonance

// Package bandit implements Beta-Bernoulli Thompson sampling over clusters.
//
// Each cluster is an arm with a Beta(Alpha, Beta) posterior. Positive feedback
// adds to Alpha, negative feedback to Beta. Both start at Prior and only grow.
// A Selector is owned by one session and is not safe for concurrent use.
package bandit

import (
	"math"
	"math/rand/v2"
	"sort"

	"gonum.org/v1/gonum/stat/distuv"
)

// Prior is the initial value of both Beta parameters.
const Prior = 1.0

// Arm is the posterior of one cluster.
type Arm struct {
	Alpha float64 `json:"alpha"`
	Beta  float64 `json:"beta"`
}

// Mean returns the posterior mean Alpha/(Alpha+Beta).
func (a Arm) Mean() float64 { return a.Alpha / (a.Alpha + a.Beta) }

// HistoryScore is a historical engagement score for one cluster.
type HistoryScore struct {
	ClusterID int
	Score     float64
}

// WarmStartConfig bounds the prior boost taken from history.
type WarmStartConfig struct {
	// TopN is the number of highest-scoring clusters boosted. Default: 5.
	TopN int `json:"top_n" koanf:"top_n" validate:"gte=0"`

	// BoostFactor multiplies a history score into an Alpha increment. Default: 5.
	BoostFactor float64 `json:"boost_factor" koanf:"boost_factor" validate:"gte=0"`

	// Cap bounds a single Alpha increment. Default: 25.
	Cap float64 `json:"cap" koanf:"cap" validate:"gte=0"`
}

// DefaultWarmStartConfig returns production defaults.
func DefaultWarmStartConfig() WarmStartConfig {
	return WarmStartConfig{TopN: 5, BoostFactor: 5, Cap: 25}
}

// Selector holds one arm per cluster.
type Selector struct {
	arms []Arm
	rng  *rand.Rand
}

// New creates k arms at the prior. rng drives Select and must not be shared
// with another goroutine.
func New(k int, rng *rand.Rand) *Selector {
	arms := make([]Arm, k)
	for i := range arms {
		arms[i] = Arm{Alpha: Prior, Beta: Prior}
	}
	return &Selector{arms: arms, rng: rng}
}

// K returns the number of arms.
func (s *Selector) K() int { return len(s.arms) }

// Arm returns the posterior of cluster id.
func (s *Selector) Arm(id int) (Arm, bool) {
	if id < 0 || id >= len(s.arms) {
		return Arm{}, false
	}
	return s.arms[id], true
}

// Arms returns a copy of every arm indexed by cluster ID.
func (s *Selector) Arms() []Arm {
	out := make([]Arm, len(s.arms))
	copy(out, s.arms)
	return out
}

// WarmStart boosts Alpha of the TopN clusters with the highest history scores
// by min(score*BoostFactor, Cap). Unknown cluster IDs and non-positive scores
// are ignored. It returns the best-scoring known cluster, or -1.
func (s *Selector) WarmStart(history []HistoryScore, cfg WarmStartConfig) int {
	sorted := make([]HistoryScore, len(history))
	copy(sorted, history)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Score > sorted[j].Score })
	if cfg.TopN >= 0 && len(sorted) > cfg.TopN {
		sorted = sorted[:cfg.TopN]
	}

	best := -1
	for _, h := range sorted {
		if h.ClusterID < 0 || h.ClusterID >= len(s.arms) || !(h.Score > 0) {
			continue
		}
		s.arms[h.ClusterID].Alpha += math.Min(h.Score*cfg.BoostFactor, cfg.Cap)
		if best == -1 {
			best = h.ClusterID
		}
	}
	return best
}

// Update adds strength to Alpha when positive and to Beta otherwise.
// Non-positive or NaN strengths and unknown IDs are ignored.
func (s *Selector) Update(id int, positive bool, strength float64) {
	if id < 0 || id >= len(s.arms) || !(strength > 0) || math.IsInf(strength, 0) {
		return
	}
	if positive {
		s.arms[id].Alpha += strength
	} else {
		s.arms[id].Beta += strength
	}
}

// Boost adds amount to Alpha of cluster id.
func (s *Selector) Boost(id int, amount float64) {
	s.Update(id, true, amount)
}

// Select draws θ ~ Beta(α, β) for every arm and returns the argmax.
// Ties resolve to the lowest cluster ID. Returns -1 when there are no arms.
func (s *Selector) Select() int {
	best, bestTheta := -1, math.Inf(-1)
	for id := range s.arms {
		if theta := s.sample(id); theta > bestTheta {
			best, bestTheta = id, theta
		}
	}
	return best
}

// SelectFrom is Select restricted to ids. Unknown IDs are skipped; ties
// resolve to the lowest ID. Returns -1 when no candidate is valid.
func (s *Selector) SelectFrom(ids []int) int {
	sorted := make([]int, 0, len(ids))
	for _, id := range ids {
		if id >= 0 && id < len(s.arms) {
			sorted = append(sorted, id)
		}
	}
	sort.Ints(sorted)

	best, bestTheta := -1, math.Inf(-1)
	for i, id := range sorted {
		if i > 0 && sorted[i-1] == id {
			continue
		}
		if theta := s.sample(id); theta > bestTheta {
			best, bestTheta = id, theta
		}
	}
	return best
}

func (s *Selector) sample(id int) float64 {
	a := s.arms[id]
	return distuv.Beta{Alpha: a.Alpha, Beta: a.Beta, Src: s.rng}.Rand()
}

// TopByAlpha returns up to n cluster IDs ordered by descending Alpha, ties by
// ascending ID.
func (s *Selector) TopByAlpha(n int) []int {
	ids := make([]int, len(s.arms))
	for i := range ids {
		ids[i] = i
	}
	sort.SliceStable(ids, func(i, j int) bool {
		return s.arms[ids[i]].Alpha > s.arms[ids[j]].Alpha
	})
	if n >= 0 && n < len(ids) {
		ids = ids[:n]
	}
	return ids
}
