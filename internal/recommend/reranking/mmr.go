// Resonance - Session-Scoped Music Recommendation Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/resonance

package reranking

import (
	"context"
	"math"

	"github.com/tomtom215/resonance/internal/recommend/scoring"
	"github.com/tomtom215/resonance/internal/vector"
)

// Reranker reorders an already scored candidate list.
type Reranker interface {
	Name() string
	Rerank(ctx context.Context, items []scoring.Scored, k int) []scoring.Scored
}

// MMR is Maximal Marginal Relevance over track embeddings:
//
//	next = argmax_i  lambda*score(i) - (1-lambda)*max_{s in picked} cos(i, s)
//
// Lambda 1 is pure relevance, 0 pure diversity. See Carbonell and Goldstein,
// SIGIR 1998.
type MMR struct {
	lambda float64
}

// NewMMR creates an MMR reranker with lambda clamped to [0,1].
func NewMMR(lambda float64) *MMR {
	return &MMR{lambda: math.Max(0, math.Min(1, lambda))}
}

// Name returns "mmr".
func (m *MMR) Name() string { return "mmr" }

// Rerank picks k items by MMR. Earlier input positions win ties, so a list
// already sorted by score keeps its head when lambda is 1.
//
// The closest-picked similarity of every candidate is updated incrementally
// after each pick, which keeps the cost at O(k*n) similarity evaluations.
func (m *MMR) Rerank(ctx context.Context, items []scoring.Scored, k int) []scoring.Scored {
	if len(items) == 0 || k <= 0 {
		return items
	}
	k = min(k, len(items))
	if m.lambda >= 1 {
		return items[:k]
	}

	closest := make([]float64, len(items))
	used := make([]bool, len(items))
	out := make([]scoring.Scored, 0, k)

	for len(out) < k && ctx.Err() == nil {
		best, bestVal := -1, math.Inf(-1)
		for i := range items {
			if used[i] {
				continue
			}
			if v := m.lambda*items[i].Score - (1-m.lambda)*closest[i]; v > bestVal {
				best, bestVal = i, v
			}
		}
		if best < 0 {
			break
		}

		used[best] = true
		out = append(out, items[best])

		pick := embedding(&items[best])
		for i := range items {
			if used[i] {
				continue
			}
			if sim := vector.Cosine(embedding(&items[i]), pick); sim > closest[i] {
				closest[i] = sim
			}
		}
	}
	return out
}

func embedding(s *scoring.Scored) []float64 {
	if s.Track == nil {
		return nil
	}
	return s.Track.Embedding
}

var _ Reranker = (*MMR)(nil)
