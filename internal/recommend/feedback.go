// Resonance - Session-Scoped Music Recommendation Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/resonance

package recommend

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/tomtom215/resonance/internal/catalog"
	"github.com/tomtom215/resonance/internal/cluster"
	"github.com/tomtom215/resonance/internal/events"
	"github.com/tomtom215/resonance/internal/metrics"
	"github.com/tomtom215/resonance/internal/recommend/scoring"
	"github.com/tomtom215/resonance/internal/recommend/taste"
)

// RecordFeedback applies one listen to the session and persists it. The
// listened duration is classified against the track length; Explicit
// overrides or lifts the class. Persistence failures are logged and never
// returned.
func (s *Session) RecordFeedback(ctx context.Context, fb Feedback) (Engagement, error) {
	t, ok := s.model.Catalog.Lookup(fb.TrackID)
	if !ok {
		return EngagementSkipped, fmt.Errorf("%w: %s", ErrUnknownTrack, fb.TrackID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	d := s.listened(t, fb.ListenedSeconds)
	eng := s.classify(t, d, fb.Explicit)
	positive := eng.Positive()

	c, served := s.served[t.ID]
	if !served {
		c = cluster.NoCluster
		if id, ok := s.model.Clusters.ClusterOf(t.ID); ok {
			c = id
		}
	}

	direction := 1
	if !positive {
		direction = -1
	}
	if err := s.taste.Update(t.Embedding, direction, d); err != nil {
		if errors.Is(err, taste.ErrStaleState) {
			metrics.StaleStateResets.Inc()
		}
		s.logger.Warn().Err(err).Str("track_id", t.ID).Msg("Taste vector reset")
	}

	strength := s.strength(eng)
	if s.failCount > s.cfg.FailThreshold {
		strength *= s.cfg.FailStrengthMultiplier
	}
	s.bandit.Update(c, positive, strength)
	s.markPlayed(t.ID)

	e := entry{id: t.ID, vec: t.Embedding, cluster: c}
	if positive {
		switch {
		case d >= s.cfg.DriftResetSeconds:
			s.drift = 0
		case d >= s.cfg.DriftRecoverySeconds:
			s.drift = math.Max(0, s.drift-s.cfg.DriftRecovery)
		}
		s.likes.push(e)
		s.streak++
		s.failCount = 0
	} else {
		s.drift = math.Min(1, s.drift+s.cfg.DriftStep)
		s.dislikes.push(e)
		s.addGlobalDislike(t.ID)
		s.streak = 0
		s.afterNegative(ctx)
	}

	if eng == EngagementDisliked && c != cluster.NoCluster {
		s.loadNegatives(ctx, c)
		s.negatives[c] = append(s.negatives[c], e)
	}
	s.persist(ctx, c, t, d, positive, eng == EngagementDisliked)

	metrics.RecordFeedback(eng.String())
	s.logger.Debug().
		Str("track_id", t.ID).
		Str("engagement", eng.String()).
		Float64("listened_seconds", d).
		Int("cluster", c).
		Int("streak", s.streak).
		Int("fail_count", s.failCount).
		Float64("drift", s.drift).
		Msg("Feedback recorded")

	ev := events.NewInteractionEvent(events.ActionFeedback, s.id, s.userID, s.collectionID, t.ID, c)
	ev.ListenedSeconds = d
	ev.Engagement = eng.String()
	ev.Positive = positive
	s.publish(ctx, ev)
	return eng, nil
}

// listened sanitizes a reported listen time: negative or NaN becomes zero,
// infinite becomes the full track.
func (s *Session) listened(t *catalog.Track, reported float64) float64 {
	switch {
	case math.IsNaN(reported) || reported < 0:
		return 0
	case math.IsInf(reported, 1):
		return s.duration(t)
	default:
		return reported
	}
}

func (s *Session) duration(t *catalog.Track) float64 {
	if t.DurationSeconds > 0 {
		return t.DurationSeconds
	}
	return s.cfg.Engagement.DefaultDuration
}

// classify maps a listen of d seconds to the strongest matching class.
func (s *Session) classify(t *catalog.Track, d float64, explicit Explicit) Engagement {
	ec := s.cfg.Engagement
	pct := d / s.duration(t)

	var eng Engagement
	switch {
	case pct >= ec.FinishFraction || d >= ec.FinishSeconds:
		eng = EngagementFinished
	case d >= ec.LikeSeconds || pct >= ec.LikeFraction:
		eng = EngagementLiked
	case d >= ec.GoodSeconds || pct >= ec.GoodFraction:
		eng = EngagementGood
	case d < ec.DislikeSeconds:
		eng = EngagementDisliked
	default:
		eng = EngagementSkipped
	}

	switch explicit {
	case ExplicitDislike:
		eng = EngagementDisliked
	case ExplicitLike:
		if eng < EngagementLiked {
			eng = EngagementLiked
		}
	}
	return eng
}

func (s *Session) strength(eng Engagement) float64 {
	st := s.cfg.Strengths
	switch eng {
	case EngagementGood:
		return st.Good
	case EngagementLiked:
		return st.Liked
	case EngagementFinished:
		return st.Finished
	case EngagementSkipped:
		return st.Skipped
	case EngagementDisliked:
		return st.Disliked
	default:
		return 0
	}
}

// afterNegative counts the failure and switches clusters once the locked
// cluster has too few tracks left that match the updated taste.
func (s *Session) afterNegative(ctx context.Context) {
	s.failCount++

	if s.failCount >= s.cfg.FailThreshold && !s.taste.IsNull() && s.currentCluster != cluster.NoCluster {
		aligned := 0
		for _, id := range s.model.Clusters.Members(s.currentCluster) {
			if s.isExcluded(id) {
				continue
			}
			if t, ok := s.model.Catalog.Lookup(id); ok && s.taste.Similarity(t.Embedding) >= s.cfg.AlignmentThreshold {
				aligned++
			}
		}

		if aligned < s.cfg.MinAlignedCandidates {
			if best, ok := s.switchTarget(ctx); ok {
				s.logger.Info().
					Int("from", s.currentCluster).
					Int("to", best).
					Int("aligned", aligned).
					Int("fail_count", s.failCount).
					Msg("Cluster exhausted; switching")
				metrics.ClusterSwitches.Inc()
				s.switches++
				s.currentCluster = best
				s.failCount = 0
				s.streak = 0
				s.pendingSwitch = true
			}
		}
	}

	if s.failCount > s.cfg.FailCeiling {
		s.drift = 1
	}
}

// switchTarget walks the clusters in order of taste alignment and returns
// the first one whose hard-filtered pool holds MinCandidatePool tracks.
// Failing that it settles for the best-aligned cluster with any filtered
// candidate, then for one that only serves under the relaxed threshold. It
// reports false when no other cluster can serve a track at all.
func (s *Session) switchTarget(ctx context.Context) (int, bool) {
	tv := s.taste.Value()
	exclude := map[int]struct{}{s.currentCluster: {}}
	strict, relaxed := cluster.NoCluster, cluster.NoCluster
	for {
		c, ok := s.model.Clusters.FindBestAlignedCluster(tv, exclude)
		if !ok {
			break
		}
		exclude[c] = struct{}{}

		members := s.available(s.model.Clusters.Members(c))
		if len(members) == 0 {
			continue
		}
		s.loadNegatives(ctx, c)
		req := scoring.Request{
			Targets:     [][]float64{tv},
			ForceTarget: true,
			Negatives:   s.negativeVectors(c),
			Skip:        s.excluded,
		}
		n := len(s.scorer.Score(members, req))
		if n >= s.cfg.MinCandidatePool {
			return c, true
		}
		if n > 0 && strict == cluster.NoCluster {
			strict = c
		}
		if n == 0 && relaxed == cluster.NoCluster {
			req.HardThreshold = s.cfg.Scoring.HardThreshold + s.cfg.HardThresholdRelaxStep
			if len(s.scorer.Score(members, req)) > 0 {
				relaxed = c
			}
		}
	}
	if strict != cluster.NoCluster {
		return strict, true
	}
	return relaxed, relaxed != cluster.NoCluster
}

// persist writes the feedback to the affinity store. Guests are never
// persisted.
func (s *Session) persist(ctx context.Context, c int, t *catalog.Track, d float64, positive, disliked bool) {
	if s.guest || s.store == nil || c == cluster.NoCluster {
		return
	}
	if err := s.store.UpsertClusterAffinity(ctx, s.userID, c, s.collectionID, d, positive); err != nil {
		s.logger.Warn().Err(err).Int("cluster", c).Msg("Affinity update failed")
	}
	if !disliked {
		return
	}
	if err := s.store.AddClusterNegative(ctx, s.userID, c, s.collectionID, t.Embedding, t.ID); err != nil {
		s.logger.Warn().Err(err).Int("cluster", c).Str("track_id", t.ID).Msg("Negative exemplar write failed")
	}
}
