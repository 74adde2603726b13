// Resonance - Session-Scoped Music Recommendation Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/resonance

package recommend

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
	"github.com/rs/zerolog"

	"github.com/tomtom215/resonance/internal/affinity"
	"github.com/tomtom215/resonance/internal/catalog"
	"github.com/tomtom215/resonance/internal/cluster"
	"github.com/tomtom215/resonance/internal/events"
	"github.com/tomtom215/resonance/internal/logging"
	"github.com/tomtom215/resonance/internal/metrics"
	"github.com/tomtom215/resonance/internal/recommend/bandit"
)

// Model is an immutable catalog with its fitted clusters.
type Model struct {
	Catalog  *catalog.Catalog
	Clusters *cluster.Manager
}

// NewModel pairs a catalog with clusters fitted on it.
func NewModel(clusters *cluster.Manager) (*Model, error) {
	if clusters == nil || clusters.Catalog() == nil {
		return nil, ErrNoModel
	}
	return &Model{Catalog: clusters.Catalog(), Clusters: clusters}, nil
}

// Version identifies the model by catalog fingerprint and fit time.
func (m *Model) Version() string {
	return fmt.Sprintf("%s@%d", m.Clusters.Fingerprint(), m.Clusters.FittedAt().Unix())
}

// Engine owns the current model and the registry of live sessions.
//
// The model sits behind an atomic pointer. SwapModel replaces it for new
// sessions; existing sessions keep the model they were created with.
type Engine struct {
	cfg      Config
	model    atomic.Pointer[Model]
	store    affinity.Store
	pub      events.Publisher
	sessions *cache.Cache
	logger   zerolog.Logger
	seeds    atomic.Uint64
}

// NewEngine creates an engine serving model. A nil store disables
// persistence; a nil publisher discards interaction events.
//
//nolint:gocritic // zerolog.Logger is designed to be passed by value
func NewEngine(cfg Config, model *Model, store affinity.Store, pub events.Publisher, logger zerolog.Logger) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if model == nil {
		return nil, ErrNoModel
	}
	if pub == nil {
		pub = events.Nop{}
	}

	e := &Engine{
		cfg:    cfg,
		store:  store,
		pub:    pub,
		logger: logger.With().Str("component", "recommend").Logger(),
	}
	e.sessions = cache.New(cfg.SessionTTL, cfg.CleanupInterval)
	e.sessions.OnEvicted(func(id string, _ interface{}) {
		metrics.ActiveSessions.Dec()
		e.logger.Debug().Str("session_id", id).Msg("Session evicted")
	})
	e.seeds.Store(uint64(cfg.Seed)) //nolint:gosec // seed bits only
	e.model.Store(model)

	e.logger.Info().
		Int("tracks", model.Catalog.Len()).
		Int("clusters", model.Clusters.K()).
		Str("version", model.Version()).
		Msg("Recommendation engine ready")
	return e, nil
}

// Config returns the engine configuration.
func (e *Engine) Config() Config { return e.cfg }

// Model returns the current model.
func (e *Engine) Model() *Model { return e.model.Load() }

// SwapModel installs a refitted model for sessions created from now on.
func (e *Engine) SwapModel(m *Model) error {
	if m == nil {
		return ErrNoModel
	}
	old := e.model.Swap(m)
	metrics.CatalogTracks.Set(float64(m.Catalog.Len()))
	metrics.ClusterCount.Set(float64(m.Clusters.K()))
	e.logger.Info().
		Str("old_version", old.Version()).
		Str("new_version", m.Version()).
		Msg("Model swapped")
	return nil
}

// CreateSession starts a session for userID in collectionID. Affinity
// history warm-starts the bandit and previously disliked tracks are
// excluded. An unavailable store degrades to a cold session.
func (e *Engine) CreateSession(ctx context.Context, userID, collectionID string) (*Session, error) {
	if affinity.IsGuest(userID) {
		userID = affinity.GuestUserID
	}
	id := uuid.NewString()
	model := e.model.Load()

	s := newSession(sessionDeps{
		id:           id,
		userID:       userID,
		collectionID: collectionID,
		cfg:          e.cfg,
		model:        model,
		store:        e.store,
		pub:          e.pub,
		rng:          e.newRand(),
		logger:       logging.SessionLogger(e.logger, id, userID, collectionID),
	})

	if !s.guest && e.store != nil {
		e.warmStart(ctx, s)
	}

	e.sessions.Set(id, s, cache.DefaultExpiration)
	metrics.ActiveSessions.Inc()
	s.logger.Info().
		Bool("guest", s.guest).
		Bool("warm", s.hasHistory).
		Int("global_dislikes", len(s.globalDislikes)).
		Msg("Session created")
	return s, nil
}

func (e *Engine) warmStart(ctx context.Context, s *Session) {
	records, err := e.store.GetUserClusterHistory(ctx, s.userID, s.collectionID, e.cfg.HistoryLimit)
	if err != nil {
		s.logger.Warn().Err(err).Msg("Affinity history unavailable; starting cold")
	} else if len(records) > 0 {
		history := make([]bandit.HistoryScore, 0, len(records))
		for _, r := range records {
			history = append(history, bandit.HistoryScore{ClusterID: r.ClusterID, Score: r.TotalListenSeconds})
		}
		if best := s.bandit.WarmStart(history, e.cfg.WarmStart); best >= 0 {
			s.hasHistory = true
			s.logger.Debug().Int("best_cluster", best).Int("records", len(records)).Msg("Bandit warm-started")
		}
	}

	disliked, err := e.store.ListDislikedTracks(ctx, s.userID, s.collectionID)
	if err != nil {
		s.logger.Warn().Err(err).Msg("Disliked tracks unavailable")
		return
	}
	for _, id := range disliked {
		s.addGlobalDislike(id)
	}
}

func (e *Engine) newRand() *rand.Rand {
	if e.cfg.Seed == 0 {
		now := uint64(time.Now().UnixNano()) //nolint:gosec // seed bits only
		return rand.New(rand.NewPCG(now, e.seeds.Add(1)))
	}
	n := e.seeds.Add(1)
	return rand.New(rand.NewPCG(n, n^0x9e3779b97f4a7c15)) //nolint:gosec // recommendations are not security sensitive
}

// Session returns a live session and extends its idle TTL.
func (e *Engine) Session(id string) (*Session, error) {
	v, ok := e.sessions.Get(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	s, ok := v.(*Session)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	e.sessions.Set(id, s, cache.DefaultExpiration)
	return s, nil
}

// EndSession removes a session from the registry.
func (e *Engine) EndSession(id string) error {
	if _, ok := e.sessions.Get(id); !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	e.sessions.Delete(id)
	return nil
}

// ActiveSessions returns the number of registered sessions, including
// expired ones the janitor has not yet removed.
func (e *Engine) ActiveSessions() int { return e.sessions.ItemCount() }

// Close drops every session.
func (e *Engine) Close() {
	n := e.sessions.ItemCount()
	e.sessions.Flush()
	metrics.ActiveSessions.Sub(float64(n))
}

// IsTerminal reports whether err ends a session's recommendations.
func IsTerminal(err error) bool {
	return errors.Is(err, ErrRecommendationsExhausted)
}
