// Resonance - Session-Scoped Music Recommendation Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/resonance

package affinity

import (
	"context"
	"sort"
	"sync"
	"time"
)

type recordKey struct {
	user       string
	collection string
	cluster    int
}

type negativeKey = recordKey

// MemoryStore is an in-process Store. State is lost on restart.
type MemoryStore struct {
	mu        sync.RWMutex
	records   map[recordKey]*Record
	negatives map[negativeKey][]NegativeExemplar
	now       func() time.Time
	closed    bool
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records:   make(map[recordKey]*Record),
		negatives: make(map[negativeKey][]NegativeExemplar),
		now:       time.Now,
	}
}

// GetUserClusterHistory implements Store.
func (s *MemoryStore) GetUserClusterHistory(ctx context.Context, userID, collectionID string, limit int) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}

	var out []Record
	for k, r := range s.records {
		if k.user == userID && k.collection == collectionID {
			out = append(out, *r)
		}
	}
	return sortHistory(out, historyLimit(limit)), nil
}

// GetClusterNegatives implements Store.
func (s *MemoryStore) GetClusterNegatives(ctx context.Context, userID string, clusterID int, collectionID string, limit int) ([]NegativeExemplar, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}

	list := s.negatives[negativeKey{userID, collectionID, clusterID}]
	n := min(len(list), negativeLimit(limit))
	out := make([]NegativeExemplar, 0, n)
	for i := len(list) - 1; i >= 0 && len(out) < n; i-- {
		ex := list[i]
		ex.Vector = cloneVector(ex.Vector)
		out = append(out, ex)
	}
	return out, nil
}

// UpsertClusterAffinity implements Store.
func (s *MemoryStore) UpsertClusterAffinity(ctx context.Context, userID string, clusterID int, collectionID string, deltaListenSeconds float64, positive bool) error {
	if err := validateUser(userID); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	k := recordKey{userID, collectionID, clusterID}
	r, ok := s.records[k]
	if !ok {
		r = &Record{UserID: userID, ClusterID: clusterID, CollectionID: collectionID}
		s.records[k] = r
	}
	r.apply(deltaListenSeconds, positive, s.now().UTC())
	return nil
}

// AddClusterNegative implements Store.
func (s *MemoryStore) AddClusterNegative(ctx context.Context, userID string, clusterID int, collectionID string, vec []float64, trackID string) error {
	if err := validateNegative(userID, vec, trackID); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	k := negativeKey{userID, collectionID, clusterID}
	s.negatives[k] = append(s.negatives[k], NegativeExemplar{
		UserID:       userID,
		ClusterID:    clusterID,
		CollectionID: collectionID,
		Vector:       cloneVector(vec),
		TrackID:      trackID,
		CreatedAt:    s.now().UTC(),
	})
	return nil
}

// ListDislikedTracks implements Store.
func (s *MemoryStore) ListDislikedTracks(ctx context.Context, userID, collectionID string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}

	seen := make(map[string]struct{})
	for k, list := range s.negatives {
		if k.user != userID || k.collection != collectionID {
			continue
		}
		for _, ex := range list {
			seen[ex.TrackID] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}

// Close implements Store.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
