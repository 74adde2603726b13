// Resonance - Session-Scoped Music Recommendation Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/resonance

// Package affinity persists per-user cluster affinity and negative exemplars.
//
// Affinity records are cumulative counters keyed by (user, collection, cluster)
// and are only ever incremented. Negative exemplars are append-only and read
// back newest first. Every backend serializes concurrent writes for the same
// user at the storage layer:
//
//   - MemoryStore: a mutex (tests and single-process deployments)
//   - BadgerStore: read-modify-write inside a badger transaction, retried on conflict
//   - SQLStore: INSERT ... ON CONFLICT DO UPDATE with column increments (gorm)
//   - RedisStore: HINCRBY/HINCRBYFLOAT inside a transaction pipeline
//
// Resilient wraps any Store with a circuit breaker and an asynchronous retry
// queue so the recommendation path never blocks on an unavailable backend.
package affinity

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"
)

// Sentinel errors.
var (
	// ErrUnavailable reports that the backend could not be reached. Reads
	// degrade to an empty history; writes are queued for retry.
	ErrUnavailable = errors.New("affinity store unavailable")

	// ErrInvalidArgument reports a malformed request.
	ErrInvalidArgument = errors.New("invalid affinity argument")

	// ErrClosed reports use of a closed store.
	ErrClosed = errors.New("affinity store closed")
)

const (
	// DefaultHistoryLimit bounds GetUserClusterHistory when limit <= 0.
	DefaultHistoryLimit = 5

	// DefaultNegativeLimit bounds GetClusterNegatives when limit <= 0.
	DefaultNegativeLimit = 50

	// GuestUserID is the reserved ID of anonymous sessions.
	GuestUserID = "guest"
)

// IsGuest reports whether userID belongs to a session that is never persisted.
func IsGuest(userID string) bool {
	return userID == "" || strings.EqualFold(userID, GuestUserID)
}

// Record is the cumulative affinity of one user for one cluster.
type Record struct {
	UserID             string    `json:"user_id"`
	ClusterID          int       `json:"cluster_id"`
	CollectionID       string    `json:"collection_id"`
	PositiveSignals    int64     `json:"positive_signals"`
	TotalListenSeconds float64   `json:"total_listen_seconds"`
	TrackCount         int64     `json:"track_count"`
	RejectionCount     int64     `json:"rejection_count"`
	LastPositiveAt     time.Time `json:"last_positive_at,omitzero"`
}

// AvgListenSeconds returns TotalListenSeconds per track.
func (r Record) AvgListenSeconds() float64 {
	if r.TrackCount == 0 {
		return 0
	}
	return r.TotalListenSeconds / float64(r.TrackCount)
}

// apply adds one feedback signal to r.
func (r *Record) apply(deltaListenSeconds float64, positive bool, now time.Time) {
	r.TotalListenSeconds += deltaListenSeconds
	r.TrackCount++
	if positive {
		r.PositiveSignals++
		r.LastPositiveAt = now
	} else {
		r.RejectionCount++
	}
}

// NegativeExemplar is a track vector the user rejected inside a cluster.
type NegativeExemplar struct {
	UserID       string    `json:"user_id"`
	ClusterID    int       `json:"cluster_id"`
	CollectionID string    `json:"collection_id"`
	Vector       []float64 `json:"vector"`
	TrackID      string    `json:"track_id"`
	CreatedAt    time.Time `json:"created_at"`
}

// Store is the persisted affinity contract.
type Store interface {
	// GetUserClusterHistory returns up to limit records ordered by
	// TotalListenSeconds descending, ties by ClusterID ascending.
	GetUserClusterHistory(ctx context.Context, userID, collectionID string, limit int) ([]Record, error)

	// GetClusterNegatives returns up to limit exemplars, newest first.
	GetClusterNegatives(ctx context.Context, userID string, clusterID int, collectionID string, limit int) ([]NegativeExemplar, error)

	// UpsertClusterAffinity adds one feedback signal to the record.
	UpsertClusterAffinity(ctx context.Context, userID string, clusterID int, collectionID string, deltaListenSeconds float64, positive bool) error

	// AddClusterNegative appends a negative exemplar.
	AddClusterNegative(ctx context.Context, userID string, clusterID int, collectionID string, vec []float64, trackID string) error

	// ListDislikedTracks returns the distinct track IDs of every negative
	// exemplar of the user in the collection, sorted ascending.
	ListDislikedTracks(ctx context.Context, userID, collectionID string) ([]string, error)

	// Close releases backend resources.
	Close() error
}

func validateUser(userID string) error {
	if userID == "" {
		return errors.Join(ErrInvalidArgument, errors.New("user id is empty"))
	}
	return nil
}

func validateNegative(userID string, vec []float64, trackID string) error {
	if err := validateUser(userID); err != nil {
		return err
	}
	if len(vec) == 0 {
		return errors.Join(ErrInvalidArgument, errors.New("negative vector is empty"))
	}
	if trackID == "" {
		return errors.Join(ErrInvalidArgument, errors.New("track id is empty"))
	}
	return nil
}

func historyLimit(limit int) int {
	if limit <= 0 {
		return DefaultHistoryLimit
	}
	return limit
}

func negativeLimit(limit int) int {
	if limit <= 0 {
		return DefaultNegativeLimit
	}
	return limit
}

// sortHistory orders records by TotalListenSeconds descending, ClusterID
// ascending, and truncates to limit.
func sortHistory(records []Record, limit int) []Record {
	sort.Slice(records, func(i, j int) bool {
		if records[i].TotalListenSeconds != records[j].TotalListenSeconds {
			return records[i].TotalListenSeconds > records[j].TotalListenSeconds
		}
		return records[i].ClusterID < records[j].ClusterID
	})
	if len(records) > limit {
		records = records[:limit]
	}
	return records
}

func cloneVector(v []float64) []float64 {
	out := make([]float64, len(v))
	copy(out, v)
	return out
}
