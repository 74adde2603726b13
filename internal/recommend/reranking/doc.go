// Resonance - Session-Scoped Music Recommendation Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/resonance

// Package reranking thins and reorders scored candidates before they are
// served.
//
// SuppressDuplicates drops candidates that are near copies (cosine above
// recommend.Config.DuplicateSimilarity, 0.95 by default) of the last tracks
// served in the session. It never empties the pool: if every candidate is a
// duplicate the pool is returned as is.
//
// MMR picks a batch that trades score against similarity to the tracks
// already picked. Exploration batches use lambda 0.7.
//
//	scored, _ = reranking.SuppressDuplicates(scored, recent, 0.95)
//	batch := reranking.NewMMR(0.7).Rerank(ctx, scored, 5)
//
// Both are stateless and safe for concurrent use.
package reranking
