// Resonance - Session-Scoped Music Recommendation Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/resonance

package recommend

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/tomtom215/resonance/internal/affinity"
	"github.com/tomtom215/resonance/internal/catalog"
	"github.com/tomtom215/resonance/internal/cluster"
	"github.com/tomtom215/resonance/internal/events"
	"github.com/tomtom215/resonance/internal/metrics"
	"github.com/tomtom215/resonance/internal/recommend/bandit"
	"github.com/tomtom215/resonance/internal/recommend/scoring"
	"github.com/tomtom215/resonance/internal/recommend/taste"
)

// entry is a track remembered by the session.
type entry struct {
	id      string
	vec     []float64
	cluster int
}

// trail is a bounded FIFO of entries, oldest first.
type trail struct {
	items []entry
	limit int
}

func newTrail(limit int) trail {
	return trail{items: make([]entry, 0, limit), limit: limit}
}

func (t *trail) push(e entry) {
	if len(t.items) >= t.limit {
		copy(t.items, t.items[1:])
		t.items = t.items[:len(t.items)-1]
	}
	t.items = append(t.items, e)
}

func (t *trail) len() int { return len(t.items) }

// recent returns up to n entries, oldest first.
func (t *trail) recent(n int) []entry {
	if n >= len(t.items) {
		return t.items
	}
	return t.items[len(t.items)-n:]
}

func (t *trail) vectors() [][]float64 {
	out := make([][]float64, len(t.items))
	for i, e := range t.items {
		out[i] = e.vec
	}
	return out
}

// sessionDeps carries what the engine hands to a new session.
type sessionDeps struct {
	id, userID, collectionID string

	cfg    Config
	model  *Model
	store  affinity.Store
	pub    events.Publisher
	rng    *rand.Rand
	logger zerolog.Logger
}

// Session is the recommendation state of one listening session. All methods
// are safe for concurrent use; operations on one session are serialized.
type Session struct {
	id           string
	userID       string
	collectionID string
	guest        bool
	createdAt    time.Time

	cfg    Config
	model  *Model
	store  affinity.Store
	pub    events.Publisher
	scorer *scoring.Scorer
	logger zerolog.Logger

	mu  sync.Mutex
	rng *rand.Rand

	taste    *taste.Vector
	likes    trail
	dislikes trail
	history  trail

	played         map[string]struct{}
	globalDislikes map[string]struct{}
	// excluded is played ∪ globalDislikes; exhaustedCount counts its members
	// that are in the catalog.
	excluded       map[string]struct{}
	exhaustedCount int

	bandit         *bandit.Selector
	hasHistory     bool
	currentCluster int
	streak         int
	failCount      int
	drift          float64
	pendingSwitch  bool
	switches       int
	lastMode       Mode
	served         map[string]int

	negatives map[int][]entry
	loaded    map[int]bool
}

func newSession(d sessionDeps) *Session {
	return &Session{
		id:             d.id,
		userID:         d.userID,
		collectionID:   d.collectionID,
		guest:          affinity.IsGuest(d.userID),
		createdAt:      time.Now(),
		cfg:            d.cfg,
		model:          d.model,
		store:          d.store,
		pub:            d.pub,
		scorer:         scoring.New(d.cfg.Scoring),
		logger:         d.logger,
		rng:            d.rng,
		taste:          taste.New(d.cfg.Taste),
		likes:          newTrail(d.cfg.LikesCapacity),
		dislikes:       newTrail(d.cfg.DislikesCapacity),
		history:        newTrail(d.cfg.HistorySize),
		played:         make(map[string]struct{}),
		globalDislikes: make(map[string]struct{}),
		excluded:       make(map[string]struct{}),
		bandit:         bandit.New(d.model.Clusters.K(), d.rng),
		currentCluster: cluster.NoCluster,
		served:         make(map[string]int),
		negatives:      make(map[int][]entry),
		loaded:         make(map[int]bool),
	}
}

// ID returns the session ID.
func (s *Session) ID() string { return s.id }

// UserID returns the owning user, GuestUserID for anonymous sessions.
func (s *Session) UserID() string { return s.userID }

// CollectionID returns the catalog collection of the session.
func (s *Session) CollectionID() string { return s.collectionID }

// Guest reports whether the session is never persisted.
func (s *Session) Guest() bool { return s.guest }

// Model returns the model the session was created with.
func (s *Session) Model() *Model { return s.model }

func (s *Session) exclude(id string) {
	if _, ok := s.excluded[id]; ok {
		return
	}
	s.excluded[id] = struct{}{}
	if _, ok := s.model.Catalog.Lookup(id); ok {
		s.exhaustedCount++
	}
}

func (s *Session) markPlayed(id string) {
	s.played[id] = struct{}{}
	s.exclude(id)
}

func (s *Session) addGlobalDislike(id string) {
	s.globalDislikes[id] = struct{}{}
	s.exclude(id)
}

func (s *Session) isExcluded(id string) bool {
	_, ok := s.excluded[id]
	return ok
}

// exhausted reports whether every catalog track is played or disliked.
func (s *Session) exhausted() bool {
	return s.exhaustedCount >= s.model.Catalog.Len()
}

// available returns the unexcluded tracks of ids.
func (s *Session) available(ids []string) []*catalog.Track {
	out := make([]*catalog.Track, 0, len(ids))
	for _, id := range ids {
		if s.isExcluded(id) {
			continue
		}
		if t, ok := s.model.Catalog.Lookup(id); ok {
			out = append(out, t)
		}
	}
	return out
}

// allAvailable returns every unexcluded catalog track in catalog order.
func (s *Session) allAvailable() []*catalog.Track {
	cat := s.model.Catalog
	out := make([]*catalog.Track, 0, cat.Len()-s.exhaustedCount)
	for i := 0; i < cat.Len(); i++ {
		t := cat.At(i)
		if !s.isExcluded(t.ID) {
			out = append(out, t)
		}
	}
	return out
}

// loadNegatives fetches the persisted negatives of cluster c once per
// session. Failures leave the cluster unloaded so a later call retries.
func (s *Session) loadNegatives(ctx context.Context, c int) {
	if c == cluster.NoCluster || s.loaded[c] {
		return
	}
	if s.guest || s.store == nil {
		s.loaded[c] = true
		return
	}
	exemplars, err := s.store.GetClusterNegatives(ctx, s.userID, c, s.collectionID, s.cfg.NegativeLimit)
	if err != nil {
		s.logger.Warn().Err(err).Int("cluster", c).Msg("Cluster negatives unavailable")
		return
	}
	// Stored newest first; kept oldest first so scoring windows the newest.
	loaded := make([]entry, 0, len(exemplars)+len(s.negatives[c]))
	for i := len(exemplars) - 1; i >= 0; i-- {
		ex := exemplars[i]
		loaded = append(loaded, entry{id: ex.TrackID, vec: ex.Vector, cluster: c})
	}
	s.negatives[c] = append(loaded, s.negatives[c]...)
	s.loaded[c] = true
}

// negativeVectors merges the active negatives of clusters cs with the session
// dislikes, oldest first, one vector per track.
func (s *Session) negativeVectors(cs ...int) [][]float64 {
	seen := make(map[string]struct{})
	var out [][]float64
	add := func(e entry) {
		if _, dup := seen[e.id]; dup && e.id != "" {
			return
		}
		seen[e.id] = struct{}{}
		out = append(out, e.vec)
	}
	for _, c := range cs {
		for _, e := range s.negatives[c] {
			add(e)
		}
	}
	for _, e := range s.dislikes.items {
		add(e)
	}
	return out
}

// NextTrack returns the next recommendation.
func (s *Session) NextTrack(ctx context.Context) (Recommendation, error) {
	start := time.Now()
	defer func() { metrics.ObserveRecommendation("next_track", time.Since(start)) }()

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.next(ctx, slot{})
	if err != nil {
		return Recommendation{}, err
	}
	s.commit(ctx, rec)
	return rec, nil
}

// NextBatch returns up to n recommendations. Slots rotate over the recent
// likes so one batch spans several anchors. A batch is shorter than n only
// when the catalog runs out mid-batch.
func (s *Session) NextBatch(ctx context.Context, n int) ([]Recommendation, error) {
	start := time.Now()
	defer func() { metrics.ObserveRecommendation("next_batch", time.Since(start)) }()

	if n <= 0 {
		return nil, fmt.Errorf("batch size must be positive, got %d", n)
	}
	if n > s.cfg.MaxBatchSize {
		n = s.cfg.MaxBatchSize
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.exhausted() {
		metrics.RecommendationsExhausted.Inc()
		return nil, ErrRecommendationsExhausted
	}

	out := make([]Recommendation, 0, n)
	if s.likes.len() == 0 && s.taste.IsNull() {
		out = s.exploreBatch(ctx, n)
	}

	var probes []probe
	probeSlots := min(s.cfg.ProbeCount, n-1)
	if probeSlots > 0 {
		probes = s.probeCandidates(ctx)
	}

	for k := len(out); k < n; k++ {
		sl := slot{index: k, batch: true}
		if k >= n-probeSlots && len(probes) > 0 {
			sl.probe = s.nextProbe(&probes)
		}
		rec, err := s.next(ctx, sl)
		if err != nil {
			if IsTerminal(err) && len(out) > 0 {
				break
			}
			return out, err
		}
		s.commit(ctx, rec)
		out = append(out, rec)
	}
	return out, nil
}

// commit records a served recommendation.
func (s *Session) commit(ctx context.Context, rec Recommendation) {
	t := rec.Track
	s.markPlayed(t.ID)
	s.history.push(entry{id: t.ID, vec: t.Embedding, cluster: rec.ClusterID})
	s.served[t.ID] = rec.ClusterID
	s.lastMode = rec.Mode
	if rec.ClusterID != cluster.NoCluster {
		s.currentCluster = rec.ClusterID
	}
	if rec.Mode == ModeExploit {
		s.pendingSwitch = false
	}

	metrics.RecordRecommendation(rec.Mode.String(), string(rec.Reason))
	s.logger.Debug().
		Str("track_id", t.ID).
		Str("mode", rec.Mode.String()).
		Str("reason", string(rec.Reason)).
		Int("cluster", rec.ClusterID).
		Bool("probe", rec.Probe).
		Float64("score", rec.Score).
		Msg("Track served")

	e := events.NewInteractionEvent(events.ActionServed, s.id, s.userID, s.collectionID, t.ID, rec.ClusterID)
	e.Mode = rec.Mode.String()
	e.Reason = string(rec.Reason)
	e.AnchorID = rec.AnchorID
	e.Probe = rec.Probe
	e.Score = rec.Score
	s.publish(ctx, e)
}

func (s *Session) publish(ctx context.Context, e *events.InteractionEvent) {
	if err := s.pub.Publish(ctx, e); err != nil {
		s.logger.Warn().Err(err).Str("action", string(e.Action)).Msg("Interaction event dropped")
	}
}

// Search returns catalog tracks whose metadata contains query.
func (s *Session) Search(query string) []*catalog.Track {
	return s.model.Catalog.Search(query, s.cfg.SearchLimit)
}

// SetSeed pins the session to trackID: the taste becomes the track, the
// recent likes are flooded with it and the cluster lock moves to its
// nearest cluster with a boosted arm.
func (s *Session) SetSeed(ctx context.Context, trackID string) (*catalog.Track, error) {
	t, ok := s.model.Catalog.Lookup(trackID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTrack, trackID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.model.Clusters.NearestCluster(t.Embedding)
	s.taste.Set(t.Embedding)
	for i := 0; i < s.cfg.SeedCopies; i++ {
		s.likes.push(entry{id: t.ID, vec: t.Embedding, cluster: c})
	}
	s.streak = s.cfg.SeedStreak
	s.failCount = 0
	s.drift = 0
	s.currentCluster = c
	s.bandit.Boost(c, s.cfg.SeedBoost)
	s.markPlayed(t.ID)
	s.pendingSwitch = false
	s.loadNegatives(ctx, c)

	s.logger.Info().Str("track_id", t.ID).Int("cluster", c).Msg("Session seeded")
	s.publish(ctx, events.NewInteractionEvent(events.ActionSeed, s.id, s.userID, s.collectionID, t.ID, c))
	return t, nil
}

// Stats reports convergence metrics of the session.
func (s *Session) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Stats{
		SessionID:      s.id,
		Likes:          s.likes.len(),
		Dislikes:       s.dislikes.len(),
		Played:         len(s.played),
		ClusterRatios:  make(map[int]float64),
		Stability:      1 - s.drift,
		Confidence:     math.Min(1, 0.1*float64(s.streak)+0.05*float64(s.likes.len())),
		Streak:         s.streak,
		Drift:          s.drift,
		FailCount:      s.failCount,
		CurrentCluster: s.currentCluster,
		LastMode:       s.lastMode.String(),
		Arms:           s.bandit.Arms(),
	}

	if n := s.likes.len(); n > 0 {
		counts := make(map[int]int)
		for _, e := range s.likes.items {
			counts[e.cluster]++
		}
		ids := make([]int, 0, len(counts))
		for c := range counts {
			ids = append(ids, c)
		}
		sort.Ints(ids)
		for _, c := range ids {
			p := float64(counts[c]) / float64(n)
			st.ClusterRatios[c] = p
			st.Entropy -= p * math.Log2(p)
		}
		if k := s.model.Clusters.K(); k > 1 {
			st.NormalizedEntropy = st.Entropy / math.Log2(float64(k))
		}
	}
	return st
}
