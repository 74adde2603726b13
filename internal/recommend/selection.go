// Resonance - Session-Scoped Music Recommendation Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/resonance

package recommend

import (
	"context"

	"github.com/tomtom215/resonance/internal/catalog"
	"github.com/tomtom215/resonance/internal/cluster"
	"github.com/tomtom215/resonance/internal/metrics"
	"github.com/tomtom215/resonance/internal/recommend/reranking"
	"github.com/tomtom215/resonance/internal/recommend/scoring"
	"github.com/tomtom215/resonance/internal/vector"
)

// slot positions one selection inside a NextTrack or NextBatch call.
type slot struct {
	index int
	batch bool
	// probe is served instead of a regular candidate when the slot exploits.
	probe *probe
}

// probe is a radial probe candidate with the like it was found around.
type probe struct {
	scoring.Scored
	anchorID string
}

// plan is one scoring attempt.
type plan struct {
	mode     Mode
	reason   Reason
	cluster  int
	anchorID string
	pool     []*catalog.Track
	req      scoring.Request
}

// next selects one recommendation without committing it. The caller holds mu.
func (s *Session) next(ctx context.Context, sl slot) (Recommendation, error) {
	if s.exhausted() {
		metrics.RecommendationsExhausted.Inc()
		return Recommendation{}, ErrRecommendationsExhausted
	}

	if s.selectMode() == ModeExploit {
		if !s.pendingSwitch {
			if p := s.slotProbe(ctx, sl); p != nil {
				return s.probeRecommendation(p), nil
			}
		}
		p := s.exploitPlan(ctx, sl)
		if rec, ok := s.attempt(p, s.cfg.MinCandidatePool); ok {
			return rec, nil
		}
		if rec, ok := s.switchFallback(p); ok {
			return rec, nil
		}
		metrics.RecordFallback("explore")
		s.logger.Debug().Int("cluster", s.currentCluster).Msg("Exploit pool exhausted; exploring")
	}

	p := s.explorePlan(ctx)
	if rec, ok := s.attempt(p, s.cfg.MinCandidatePool); ok {
		return rec, nil
	}

	metrics.RecordFallback("relax")
	p.req.HardThreshold = s.cfg.Scoring.HardThreshold + s.cfg.HardThresholdRelaxStep
	p.reason = ReasonRelaxed
	if rec, ok := s.attempt(p, s.cfg.MinCandidatePool); ok {
		return rec, nil
	}

	metrics.RecordFallback("catalog")
	p.pool = s.allAvailable()
	p.cluster = cluster.NoCluster
	p.reason = ReasonWidened
	if rec, ok := s.attempt(p, 1); ok {
		return rec, nil
	}

	metrics.RecordFallback("random")
	return s.randomRecommendation()
}

// switchFallback serves from the cluster just switched to when its pool is
// below the usual minimum: any strictly filtered candidate first, then the
// relaxed threshold. Recovery never leaves the new cluster before this.
//
//nolint:gocritic // hugeParam: plan is copied once per served track
func (s *Session) switchFallback(p plan) (Recommendation, bool) {
	if !s.pendingSwitch || p.cluster == cluster.NoCluster {
		return Recommendation{}, false
	}
	if rec, ok := s.attempt(p, 1); ok {
		return rec, true
	}
	metrics.RecordFallback("relax")
	p.req.HardThreshold = s.cfg.Scoring.HardThreshold + s.cfg.HardThresholdRelaxStep
	p.reason = ReasonRelaxed
	return s.attempt(p, 1)
}

// selectMode picks EXPLOIT or EXPLORE for the next slot.
func (s *Session) selectMode() Mode {
	if s.taste.IsNull() {
		return ModeExplore
	}
	if s.pendingSwitch {
		return ModeExploit
	}
	p := s.cfg.ExploitProbability
	switch {
	case s.streak >= 1:
		p = 1
	case s.drift > s.cfg.DriftThreshold && s.failCount > 1:
		p = s.cfg.DriftExploitProbability
	}
	if s.rng.Float64() < p {
		return ModeExploit
	}
	return ModeExplore
}

// attempt scores p and returns its best candidate when at least minimum
// candidates survive.
func (s *Session) attempt(p plan, minimum int) (Recommendation, bool) {
	if len(p.pool) == 0 {
		return Recommendation{}, false
	}
	scored := s.scorer.Score(p.pool, p.req)
	if err := scoring.CheckPool(scored, minimum); err != nil {
		return Recommendation{}, false
	}
	scored, _ = reranking.SuppressDuplicates(scored, s.history.vectors(), s.cfg.DuplicateSimilarity)
	return s.recommendation(p, scored[0]), true
}

//nolint:gocritic // hugeParam: plan is copied once per served track
func (s *Session) recommendation(p plan, sc scoring.Scored) Recommendation {
	c := p.cluster
	if c == cluster.NoCluster {
		if id, ok := s.model.Clusters.ClusterOf(sc.Track.ID); ok {
			c = id
		}
	}
	return Recommendation{
		Track:     sc.Track,
		Mode:      p.mode,
		ClusterID: c,
		AnchorID:  p.anchorID,
		Score:     sc.Score,
		Reason:    p.reason,
	}
}

// exploitPlan targets the locked cluster around a recent like or the taste.
// An anchored slot locks onto the anchor's cluster, so a session with likes
// in several clusters is served from each of them.
func (s *Session) exploitPlan(ctx context.Context, sl slot) plan {
	p := plan{mode: ModeExploit, cluster: cluster.NoCluster, reason: ReasonTaste}
	recent := s.likes.recent(s.cfg.RecentLikesWindow)
	c := s.currentCluster

	var anchor *entry
	if s.streak >= 1 && len(recent) > 0 {
		var a entry
		if sl.batch {
			a = recent[len(recent)-1-sl.index%len(recent)]
		} else {
			a = s.drawAnchor(recent)
		}
		anchor = &a
		if a.cluster != cluster.NoCluster {
			c = a.cluster
		}
	}

	if c != cluster.NoCluster {
		s.loadNegatives(ctx, c)
		members := s.available(s.model.Clusters.Members(c))
		if len(members) >= s.cfg.MinCandidatePool || (s.pendingSwitch && len(members) > 0) {
			p.pool = members
			p.cluster = c
		}
	}
	if p.pool == nil {
		p.pool = s.allAvailable()
	}
	negs := s.negativeVectors(c)

	if anchor != nil {
		variance := s.cfg.StreakAnchorVariance
		if s.failCount > 0 {
			variance = s.cfg.RecoveryAnchorVariance
		}
		p.anchorID = anchor.id
		p.reason = ReasonRecentLike
		p.req = scoring.Request{
			Targets:     [][]float64{anchor.vec},
			ForceTarget: true,
			Variance:    variance,
			Negatives:   negs,
			Skip:        s.excluded,
		}
	} else {
		targets := make([][]float64, 0, len(recent))
		for _, e := range recent {
			targets = append(targets, e.vec)
		}
		tv := s.taste.Value()
		if len(targets) == 0 {
			targets = append(targets, tv)
		}
		p.req = scoring.Request{
			Targets:   targets,
			Likes:     s.likes.vectors(),
			Taste:     tv,
			Negatives: negs,
			Skip:      s.excluded,
		}
	}
	if s.pendingSwitch {
		p.reason = ReasonClusterSwitch
	}
	return p
}

// drawAnchor picks one of the recent likes uniformly, so a track liked twice
// is anchored twice as often.
func (s *Session) drawAnchor(recent []entry) entry {
	return recent[s.rng.IntN(len(recent))]
}

// slotProbe returns the probe a slot should serve, if any.
func (s *Session) slotProbe(ctx context.Context, sl slot) *probe {
	if sl.batch {
		if sl.probe != nil && !s.isExcluded(sl.probe.Track.ID) {
			return sl.probe
		}
		return nil
	}
	if s.cfg.ProbeCount == 0 || s.rng.Float64() >= s.cfg.ProbeProbability {
		return nil
	}
	probes := s.probeCandidates(ctx)
	return s.nextProbe(&probes)
}

// probeCandidates finds tracks just outside the session's safe zone: dense,
// non-outlier neighbors of the most recent like that sits in a dense region.
func (s *Session) probeCandidates(ctx context.Context) []probe {
	if s.cfg.ProbeCount == 0 || ctx.Err() != nil {
		return nil
	}
	clusters := s.model.Clusters

	var anchor *entry
	for i := s.likes.len() - 1; i >= 0; i-- {
		e := s.likes.items[i]
		if ok, _, _ := clusters.ValidateNeighborhoodDensity(e.id, s.cfg.ProbeMinNeighbors, s.cfg.ProbeMinSimilarity); ok {
			anchor = &e
			break
		}
	}
	if anchor == nil {
		return nil
	}

	cat := s.model.Catalog
	var cands []*catalog.Track
	for i := 0; i < cat.Len(); i++ {
		t := cat.At(i)
		if s.isExcluded(t.ID) || clusters.IsOutlier(t.ID) {
			continue
		}
		if vector.Cosine(anchor.vec, t.Embedding) < s.cfg.ProbeSimilarity {
			continue
		}
		if ok, _, _ := clusters.ValidateNeighborhoodDensity(t.ID, s.cfg.ProbeMinNeighbors, s.cfg.ProbeMinSimilarity); !ok {
			continue
		}
		cands = append(cands, t)
	}
	if len(cands) == 0 {
		return nil
	}

	// Probes may cross into a neighboring cluster, so the hard filter covers
	// the persisted negatives of every cluster a candidate belongs to. The
	// anchor's cluster goes last to stay inside the negative window.
	var touched []int
	seen := map[int]bool{anchor.cluster: true}
	for _, t := range cands {
		if c, ok := clusters.ClusterOf(t.ID); ok && !seen[c] {
			seen[c] = true
			touched = append(touched, c)
		}
	}
	touched = append(touched, anchor.cluster)
	for _, c := range touched {
		s.loadNegatives(ctx, c)
	}

	scored := s.scorer.Score(cands, scoring.Request{
		Targets:     [][]float64{anchor.vec},
		ForceTarget: true,
		Variance:    s.cfg.ProbeVariance,
		Negatives:   s.negativeVectors(touched...),
		Skip:        s.excluded,
	})
	scored, _ = reranking.SuppressDuplicates(scored, s.history.vectors(), s.cfg.DuplicateSimilarity)
	if len(scored) > s.cfg.ProbeCount {
		scored = scored[:s.cfg.ProbeCount]
	}

	out := make([]probe, len(scored))
	for i, sc := range scored {
		out[i] = probe{Scored: sc, anchorID: anchor.id}
	}
	return out
}

// nextProbe pops the first probe that is still available.
func (s *Session) nextProbe(probes *[]probe) *probe {
	for len(*probes) > 0 {
		p := (*probes)[0]
		*probes = (*probes)[1:]
		if !s.isExcluded(p.Track.ID) {
			return &p
		}
	}
	return nil
}

func (s *Session) probeRecommendation(p *probe) Recommendation {
	rec := s.recommendation(plan{
		mode:     ModeExploit,
		reason:   ReasonProbe,
		cluster:  cluster.NoCluster,
		anchorID: p.anchorID,
	}, p.Scored)
	rec.Probe = true
	return rec
}

// explorePlan picks a cluster and anchors on one of its representatives.
func (s *Session) explorePlan(ctx context.Context) plan {
	clusters := s.model.Clusters
	c, reason := s.exploreCluster()
	p := plan{mode: ModeExplore, reason: reason, cluster: c}
	if c == cluster.NoCluster {
		p.pool = s.allAvailable()
		return p
	}
	s.loadNegatives(ctx, c)

	var reps []string
	for _, id := range clusters.Representatives(c, s.cfg.RepresentativeLimit) {
		if _, disliked := s.globalDislikes[id]; disliked || clusters.IsOutlier(id) {
			continue
		}
		reps = append(reps, id)
	}

	var target []float64
	variance := s.cfg.CentroidVariance
	if len(reps) > 0 {
		id := reps[s.rng.IntN(len(reps))]
		t, _ := s.model.Catalog.Lookup(id)
		target = t.Embedding
		variance = s.cfg.RepresentativeVariance
		p.anchorID = id
	} else if cl, ok := clusters.Cluster(c); ok {
		target = cl.Centroid
	}

	p.pool = s.available(clusters.Members(c))
	p.req = scoring.Request{
		Targets:     [][]float64{target},
		ForceTarget: true,
		Variance:    variance,
		Negatives:   s.negativeVectors(c),
		Skip:        s.excluded,
	}
	return p
}

// exploreCluster chooses the cluster to explore among those with unplayed
// tracks: Thompson sampling once the session has likes, a weighted draw over
// the historical favorites otherwise, and a uniform draw over dense clusters
// for a cold start.
func (s *Session) exploreCluster() (int, Reason) {
	clusters := s.model.Clusters
	open := make(map[int]bool)
	var ids []int
	for c := 0; c < clusters.K(); c++ {
		for _, id := range clusters.Members(c) {
			if !s.isExcluded(id) {
				open[c] = true
				ids = append(ids, c)
				break
			}
		}
	}
	if len(ids) == 0 {
		return cluster.NoCluster, ReasonRandomFallback
	}

	if s.likes.len() > 0 {
		if c := s.bandit.SelectFrom(ids); c >= 0 {
			return c, ReasonBandit
		}
	}

	if s.hasHistory {
		var top []int
		var total float64
		for _, c := range s.bandit.TopByAlpha(s.cfg.SmartStartClusters) {
			if open[c] {
				top = append(top, c)
				a, _ := s.bandit.Arm(c)
				total += a.Alpha
			}
		}
		if len(top) > 0 {
			r := s.rng.Float64() * total
			for _, c := range top {
				a, _ := s.bandit.Arm(c)
				if r < a.Alpha {
					return c, ReasonSmartStart
				}
				r -= a.Alpha
			}
			return top[len(top)-1], ReasonSmartStart
		}
	}

	var dense []int
	for _, c := range clusters.DenseClusters() {
		if open[c] {
			dense = append(dense, c)
		}
	}
	if len(dense) == 0 {
		dense = ids
	}
	return dense[s.rng.IntN(len(dense))], ReasonColdStart
}

// exploreBatch fills a batch for a session without any signal yet: one
// exploratory pool, diversified by MMR so the first batch spans the cluster.
// It returns nil when the pool is too small, leaving the batch to per-slot
// selection.
func (s *Session) exploreBatch(ctx context.Context, n int) []Recommendation {
	p := s.explorePlan(ctx)
	if len(p.pool) == 0 {
		return nil
	}
	scored := s.scorer.Score(p.pool, p.req)
	if err := scoring.CheckPool(scored, max(s.cfg.MinCandidatePool, n)); err != nil {
		return nil
	}
	scored, _ = reranking.SuppressDuplicates(scored, s.history.vectors(), s.cfg.DuplicateSimilarity)
	if limit := 4 * n; len(scored) > limit {
		scored = scored[:limit]
	}

	picks := reranking.NewMMR(s.cfg.BatchMMRLambda).Rerank(ctx, scored, n)
	out := make([]Recommendation, 0, len(picks))
	for _, sc := range picks {
		rec := s.recommendation(p, sc)
		s.commit(ctx, rec)
		out = append(out, rec)
	}
	return out
}

// randomRecommendation serves a uniformly random available track.
func (s *Session) randomRecommendation() (Recommendation, error) {
	all := s.allAvailable()
	if len(all) == 0 {
		metrics.RecommendationsExhausted.Inc()
		return Recommendation{}, ErrRecommendationsExhausted
	}
	t := all[s.rng.IntN(len(all))]
	return s.recommendation(plan{
		mode:    ModeExplore,
		reason:  ReasonRandomFallback,
		cluster: cluster.NoCluster,
	}, scoring.Scored{Track: t}), nil
}
