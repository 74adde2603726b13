// Resonance - Session-Scoped Music Recommendation Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/resonance

// Package scoring ranks candidate tracks against a target in embedding space.
//
// Scoring runs in three stages:
//   - Hard filter: candidates too similar to a recent negative are removed.
//   - Gaussian score: similarity to the target, narrowed by how consistent
//     the session's likes are and weighted per dimension.
//   - Soft penalty: negatives that are close but below the hard threshold
//     subtract a sharp Gaussian penalty.
//
// A Scorer is stateless and safe for concurrent use.
package scoring

import (
	"errors"
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/tomtom215/resonance/internal/catalog"
	"github.com/tomtom215/resonance/internal/vector"
)

// ErrEmptyCandidatePool reports that fewer candidates survived filtering than
// the caller requires. It never leaves the recommend package.
var ErrEmptyCandidatePool = errors.New("candidate pool exhausted")

// Config holds the scoring constants.
type Config struct {
	// HardThreshold removes candidates whose cosine to a recent negative
	// exceeds it. Default: 0.88.
	HardThreshold float64 `json:"hard_threshold" koanf:"hard_threshold" validate:"gt=0,lte=1"`

	// SoftThreshold is the lower bound of the soft penalty band. Default: 0.65.
	SoftThreshold float64 `json:"soft_threshold" koanf:"soft_threshold" validate:"gte=0,ltefield=HardThreshold"`

	// NegativeWindow is the number of most recent negatives considered. Default: 20.
	NegativeWindow int `json:"negative_window" koanf:"negative_window" validate:"gte=1"`

	// SoftPenaltySigma is the width of the penalty bell. Default: 0.08.
	SoftPenaltySigma float64 `json:"soft_penalty_sigma" koanf:"soft_penalty_sigma" validate:"gt=0"`

	// SoftPenaltyScale multiplies the penalty bell. Default: 3.
	SoftPenaltyScale float64 `json:"soft_penalty_scale" koanf:"soft_penalty_scale" validate:"gte=0"`

	// SingleLikeVariance is used when exactly one like exists. Default: 0.15.
	SingleLikeVariance float64 `json:"single_like_variance" koanf:"single_like_variance" validate:"gt=0"`

	// MinVariance floors the variance estimated from likes. Default: 0.01.
	MinVariance float64 `json:"min_variance" koanf:"min_variance" validate:"gt=0"`

	// DefaultVariance is used when neither likes nor the request give one. Default: 1.0.
	DefaultVariance float64 `json:"default_variance" koanf:"default_variance" validate:"gt=0"`

	// MinSigma floors the Gaussian width. Default: 0.05.
	MinSigma float64 `json:"min_sigma" koanf:"min_sigma" validate:"gt=0"`

	// WeightEpsilon is added to per-dimension std before inversion. Default: 1e-6.
	WeightEpsilon float64 `json:"weight_epsilon" koanf:"weight_epsilon" validate:"gt=0"`

	// TasteBlend is the taste vector's share of the likes target. Default: 0.2.
	TasteBlend float64 `json:"taste_blend" koanf:"taste_blend" validate:"gte=0,lte=1"`

	// OverlapSimilarity marks a candidate as close to a target. Default: 0.85.
	OverlapSimilarity float64 `json:"overlap_similarity" koanf:"overlap_similarity" validate:"gt=0,lte=1"`

	// OverlapCoverage is the fraction of close targets above which the boost
	// applies. Default: 0.5.
	OverlapCoverage float64 `json:"overlap_coverage" koanf:"overlap_coverage" validate:"gte=0,lte=1"`

	// OverlapBoost scales the coverage boost. Default: 0.2.
	OverlapBoost float64 `json:"overlap_boost" koanf:"overlap_boost" validate:"gte=0"`
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		HardThreshold:      0.88,
		SoftThreshold:      0.65,
		NegativeWindow:     20,
		SoftPenaltySigma:   0.08,
		SoftPenaltyScale:   3,
		SingleLikeVariance: 0.15,
		MinVariance:        0.01,
		DefaultVariance:    1.0,
		MinSigma:           0.05,
		WeightEpsilon:      1e-6,
		TasteBlend:         0.2,
		OverlapSimilarity:  0.85,
		OverlapCoverage:    0.5,
		OverlapBoost:       0.2,
	}
}

// Request describes one scoring pass. Vectors are expected to be unit-norm.
type Request struct {
	// Targets are the anchor vectors. Their mean is the target when the
	// likes statistics are not used.
	Targets [][]float64

	// Likes are the session likes, oldest first.
	Likes [][]float64

	// Taste is the session taste vector, or nil.
	Taste []float64

	// Negatives are the active negatives, oldest first. Only the last
	// NegativeWindow are considered.
	Negatives [][]float64

	// Skip holds track IDs that are never returned.
	Skip map[string]struct{}

	// ForceTarget scores around the mean of Targets with Variance, ignoring
	// likes statistics and feature weights.
	ForceTarget bool

	// Variance overrides DefaultVariance when the likes statistics are not
	// used. Zero means unset.
	Variance float64

	// HardThreshold overrides Config.HardThreshold when positive.
	HardThreshold float64

	// Limit truncates the result when positive.
	Limit int
}

// Scored is a candidate with its final score.
type Scored struct {
	Track      *catalog.Track
	Score      float64
	Similarity float64
	Penalty    float64
}

// Scorer ranks candidates.
type Scorer struct {
	cfg Config
}

// New returns a Scorer using cfg.
func New(cfg Config) *Scorer {
	return &Scorer{cfg: cfg}
}

// Config returns the scoring constants.
func (s *Scorer) Config() Config { return s.cfg }

// target is the prepared target of one request.
type target struct {
	mean     []float64
	sigma    float64
	weights  []float64
	overlap  bool
	negs     [][]float64
	hard     float64
	variance float64
}

func (s *Scorer) prepare(req Request) (*target, bool) {
	t := &target{hard: s.cfg.HardThreshold}
	if req.HardThreshold > 0 {
		t.hard = req.HardThreshold
	}
	negs := req.Negatives
	if w := s.cfg.NegativeWindow; w > 0 && len(negs) > w {
		negs = negs[len(negs)-w:]
	}
	t.negs = negs

	switch {
	case !req.ForceTarget && len(req.Likes) > 0:
		t.mean = vector.Mean(req.Likes)
		if len(req.Likes) > 1 {
			t.variance = meanSquaredDistance(req.Likes, t.mean)
			t.variance = math.Max(t.variance, s.cfg.MinVariance)
			t.weights = s.featureWeights(req.Likes)
		} else {
			t.variance = s.cfg.SingleLikeVariance
		}
		if req.Taste != nil && len(req.Taste) == len(t.mean) {
			t.mean = vector.Blend(t.mean, 1-s.cfg.TasteBlend, req.Taste, s.cfg.TasteBlend)
		}
	case len(req.Targets) > 0:
		t.mean = vector.Mean(req.Targets)
		t.variance = req.Variance
		if !(t.variance > 0) {
			t.variance = s.cfg.DefaultVariance
		}
	default:
		return nil, false
	}
	t.overlap = !req.ForceTarget && len(req.Targets) > 1
	t.sigma = math.Max(s.cfg.MinSigma, math.Sqrt(t.variance))
	return t, true
}

func meanSquaredDistance(vs [][]float64, mean []float64) float64 {
	var sum float64
	for _, v := range vs {
		sum += vector.SquaredDistance(v, mean)
	}
	return sum / float64(len(vs))
}

// featureWeights returns 1/(std_d+eps) renormalized to mean 1.
func (s *Scorer) featureWeights(likes [][]float64) []float64 {
	dim := len(likes[0])
	col := make([]float64, len(likes))
	w := make([]float64, dim)
	for d := 0; d < dim; d++ {
		for i, l := range likes {
			col[i] = l[d]
		}
		_, variance := stat.PopMeanVariance(col, nil)
		w[d] = 1 / (math.Sqrt(math.Max(variance, 0)) + s.cfg.WeightEpsilon)
	}
	floats.Scale(float64(dim)/floats.Sum(w), w)
	return w
}

// Score filters and ranks candidates. The result is sorted by score
// descending, ties by track ID ascending. Candidates in req.Skip, candidates
// with a dimension mismatch and candidates caught by the hard filter never
// appear. An empty Targets with no likes yields nil.
func (s *Scorer) Score(candidates []*catalog.Track, req Request) []Scored {
	t, ok := s.prepare(req)
	if !ok {
		return nil
	}

	out := make([]Scored, 0, len(candidates))
	for _, c := range candidates {
		if c == nil || len(c.Embedding) != len(t.mean) {
			continue
		}
		if _, skip := req.Skip[c.ID]; skip {
			continue
		}
		sc, keep := s.scoreOne(c.Embedding, t, req.Targets)
		if !keep {
			continue
		}
		sc.Track = c
		out = append(out, sc)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Track.ID < out[j].Track.ID
	})
	if req.Limit > 0 && len(out) > req.Limit {
		out = out[:req.Limit]
	}
	return out
}

func (s *Scorer) scoreOne(v []float64, t *target, targets [][]float64) (Scored, bool) {
	var penalty float64
	for _, n := range t.negs {
		sim := vector.Cosine(n, v)
		if sim > t.hard {
			return Scored{}, false
		}
		if sim > s.cfg.SoftThreshold {
			d := 1 - sim
			penalty += math.Exp(-(d*d)/(2*s.cfg.SoftPenaltySigma*s.cfg.SoftPenaltySigma)) * s.cfg.SoftPenaltyScale
		}
	}

	var dist float64
	for d := range v {
		diff := v[d] - t.mean[d]
		if t.weights != nil {
			dist += t.weights[d] * diff * diff
		} else {
			dist += diff * diff
		}
	}
	sim := math.Exp(-dist / (2 * t.sigma * t.sigma))
	score := sim - penalty

	if t.overlap {
		near := 0
		for _, tv := range targets {
			if vector.Cosine(tv, v) > s.cfg.OverlapSimilarity {
				near++
			}
		}
		if coverage := float64(near) / float64(len(targets)); coverage > s.cfg.OverlapCoverage {
			score += coverage * s.cfg.OverlapBoost
		}
	}
	return Scored{Score: score, Similarity: sim, Penalty: penalty}, true
}

// HardFiltered reports whether v is within threshold of any of the last window
// negatives.
func HardFiltered(v []float64, negatives [][]float64, window int, threshold float64) bool {
	if window > 0 && len(negatives) > window {
		negatives = negatives[len(negatives)-window:]
	}
	for _, n := range negatives {
		if vector.Cosine(n, v) > threshold {
			return true
		}
	}
	return false
}

// CheckPool returns ErrEmptyCandidatePool when fewer than minimum candidates
// were scored.
func CheckPool(scored []Scored, minimum int) error {
	if len(scored) < minimum {
		return ErrEmptyCandidatePool
	}
	return nil
}
