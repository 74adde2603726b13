// Resonance - Session-Scoped Music Recommendation Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/resonance

// Package recommend implements the session-scoped recommendation engine.
//
// # Architecture
//
// An Engine owns the current Model (catalog plus fitted clusters) and a
// registry of live Sessions. Each Session learns from one listener:
//
//   - Bandit: Thompson sampling over clusters (subpackage bandit)
//   - Taste: a unit vector pulled towards likes, pushed from dislikes (taste)
//   - Scoring: Gaussian similarity with hard and soft negatives (scoring)
//   - Diversity: MMR and duplicate suppression (reranking)
//
// # Modes
//
// Every selection runs in one of two modes:
//
//   - EXPLOIT targets the locked cluster, anchored on a recent like while a
//     streak holds and on the taste vector otherwise. Radial probes slip in
//     dense neighbors of the latest like.
//   - EXPLORE picks a cluster (bandit, historical favorites or a dense
//     cluster for cold starts) and scores around one of its representatives.
//
// When a pool runs dry the session falls back from EXPLOIT to EXPLORE, then
// relaxes the hard negative threshold, widens to the whole catalog and finally
// serves a random available track. ErrRecommendationsExhausted is returned
// only once every track has been played or disliked.
//
// # Feedback
//
// Listen time is classified against the track length (disliked, skipped,
// good, liked, finished). Feedback moves the taste vector and the bandit,
// tracks drift and exhaustion, and is written to the affinity store and the
// interaction event bus. Guest sessions are never persisted.
//
// # Usage
//
//	engine, err := recommend.NewEngine(cfg, model, store, bus, logger)
//	session, err := engine.CreateSession(ctx, userID, collectionID)
//
//	rec, err := session.NextTrack(ctx)
//	_, err = session.RecordFeedback(ctx, recommend.Feedback{
//	    TrackID:         rec.Track.ID,
//	    ListenedSeconds: 95,
//	})
//
// # Thread Safety
//
// The engine is safe for concurrent use. Each session serializes its own
// operations with a mutex; sessions never share mutable state. Refits swap
// the model atomically and only affect sessions created afterwards.
package recommend
