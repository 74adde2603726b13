// Resonance - Session-Scoped Music Recommendation Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/resonance

package reranking

import (
	"github.com/tomtom215/resonance/internal/recommend/scoring"
	"github.com/tomtom215/resonance/internal/vector"
)

// SuppressDuplicates drops items whose cosine similarity to any vector in
// recent exceeds threshold. When every item would be dropped the input is
// returned unchanged, together with false.
func SuppressDuplicates(items []scoring.Scored, recent [][]float64, threshold float64) ([]scoring.Scored, bool) {
	if len(items) == 0 || len(recent) == 0 {
		return items, true
	}

	kept := make([]scoring.Scored, 0, len(items))
	for i := range items {
		if !IsDuplicate(embedding(&items[i]), recent, threshold) {
			kept = append(kept, items[i])
		}
	}
	if len(kept) == 0 {
		return items, false
	}
	return kept, true
}

// IsDuplicate reports whether v is within threshold of any vector in recent.
func IsDuplicate(v []float64, recent [][]float64, threshold float64) bool {
	for _, r := range recent {
		if len(r) == len(v) && vector.Cosine(v, r) > threshold {
			return true
		}
	}
	return false
}
