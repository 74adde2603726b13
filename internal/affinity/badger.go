// Resonance - Session-Scoped Music Recommendation Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/resonance

package affinity

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"

	"github.com/tomtom215/resonance/internal/logging"
)

// Key layout. Components are separated by NUL so user and collection IDs may
// contain any printable character.
const (
	prefixRecord   = "aff\x00"
	prefixNegative = "neg\x00"
	sequenceKey    = "seq\x00negatives"
	keySep         = "\x00"
)

// BadgerConfig configures a BadgerStore.
type BadgerConfig struct {
	// Path is the database directory. Ignored when InMemory is set.
	Path string `json:"path" koanf:"path"`

	// InMemory keeps all data in memory. Default: false.
	InMemory bool `json:"in_memory" koanf:"in_memory"`

	// SyncWrites fsyncs every commit. Default: true.
	SyncWrites bool `json:"sync_writes" koanf:"sync_writes"`

	// MaxConflictRetries bounds transaction retries on badger.ErrConflict.
	// Default: 10.
	MaxConflictRetries int `json:"max_conflict_retries" koanf:"max_conflict_retries" validate:"gte=0"`
}

// DefaultBadgerConfig returns production defaults.
func DefaultBadgerConfig() BadgerConfig {
	return BadgerConfig{
		Path:               "/data/affinity",
		SyncWrites:         true,
		MaxConflictRetries: 10,
	}
}

// BadgerStore persists affinity in an embedded BadgerDB.
type BadgerStore struct {
	db  *badger.DB
	seq *badger.Sequence
	cfg BadgerConfig
	now func() time.Time

	mu     sync.RWMutex
	closed bool
}

// OpenBadger opens (or creates) a BadgerStore.
func OpenBadger(cfg BadgerConfig) (*BadgerStore, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.Join(ErrInvalidArgument, errors.New("badger path is empty"))
	}

	opts := badger.DefaultOptions(cfg.Path)
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	}
	opts.SyncWrites = cfg.SyncWrites
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open BadgerDB: %w", err)
	}
	seq, err := db.GetSequence([]byte(sequenceKey), 128)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("negative sequence: %w", err)
	}

	logging.Info().
		Str("path", cfg.Path).
		Bool("in_memory", cfg.InMemory).
		Bool("sync_writes", cfg.SyncWrites).
		Msg("Affinity store opened")

	return &BadgerStore{db: db, seq: seq, cfg: cfg, now: time.Now}, nil
}

func recordPrefix(userID, collectionID string) []byte {
	return []byte(prefixRecord + userID + keySep + collectionID + keySep)
}

func recordKeyBytes(userID, collectionID string, clusterID int) []byte {
	return append(recordPrefix(userID, collectionID), strconv.Itoa(clusterID)...)
}

func negativeUserPrefix(userID, collectionID string) []byte {
	return []byte(prefixNegative + userID + keySep + collectionID + keySep)
}

func negativeClusterPrefix(userID, collectionID string, clusterID int) []byte {
	p := negativeUserPrefix(userID, collectionID)
	p = append(p, strconv.Itoa(clusterID)...)
	return append(p, keySep...)
}

func (s *BadgerStore) checkOpen() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	return nil
}

// GetUserClusterHistory implements Store.
func (s *BadgerStore) GetUserClusterHistory(ctx context.Context, userID, collectionID string, limit int) ([]Record, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	var out []Record
	prefix := recordPrefix(userID, collectionID)
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			var r Record
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &r)
			}); err != nil {
				return fmt.Errorf("decode affinity record: %w", err)
			}
			out = append(out, r)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return sortHistory(out, historyLimit(limit)), nil
}

// GetClusterNegatives implements Store.
func (s *BadgerStore) GetClusterNegatives(ctx context.Context, userID string, clusterID int, collectionID string, limit int) ([]NegativeExemplar, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	limit = negativeLimit(limit)
	prefix := negativeClusterPrefix(userID, collectionID, clusterID)
	out := make([]NegativeExemplar, 0, limit)
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		seek := append(append([]byte{}, prefix...), 0xFF)
		for it.Seek(seek); it.ValidForPrefix(prefix) && len(out) < limit; it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			var ex NegativeExemplar
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &ex)
			}); err != nil {
				return fmt.Errorf("decode negative exemplar: %w", err)
			}
			out = append(out, ex)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// UpsertClusterAffinity implements Store. The read-modify-write runs in a
// single transaction and is retried when a concurrent writer commits first.
func (s *BadgerStore) UpsertClusterAffinity(ctx context.Context, userID string, clusterID int, collectionID string, deltaListenSeconds float64, positive bool) error {
	if err := validateUser(userID); err != nil {
		return err
	}
	if err := s.checkOpen(); err != nil {
		return err
	}

	key := recordKeyBytes(userID, collectionID, clusterID)
	update := func(txn *badger.Txn) error {
		r := Record{UserID: userID, ClusterID: clusterID, CollectionID: collectionID}
		item, err := txn.Get(key)
		switch {
		case errors.Is(err, badger.ErrKeyNotFound):
		case err != nil:
			return err
		default:
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &r)
			}); err != nil {
				return fmt.Errorf("decode affinity record: %w", err)
			}
		}
		r.apply(deltaListenSeconds, positive, s.now().UTC())
		data, err := json.Marshal(&r)
		if err != nil {
			return fmt.Errorf("marshal affinity record: %w", err)
		}
		return txn.Set(key, data)
	}

	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := s.db.Update(update)
		if err == nil {
			return nil
		}
		if !errors.Is(err, badger.ErrConflict) || attempt >= s.cfg.MaxConflictRetries {
			return fmt.Errorf("upsert affinity: %w", err)
		}
	}
}

// AddClusterNegative implements Store. Keys end in a big-endian sequence
// number so a reverse scan yields newest first.
func (s *BadgerStore) AddClusterNegative(ctx context.Context, userID string, clusterID int, collectionID string, vec []float64, trackID string) error {
	if err := validateNegative(userID, vec, trackID); err != nil {
		return err
	}
	if err := s.checkOpen(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	n, err := s.seq.Next()
	if err != nil {
		return fmt.Errorf("negative sequence: %w", err)
	}
	key := negativeClusterPrefix(userID, collectionID, clusterID)
	key = binary.BigEndian.AppendUint64(key, n)

	data, err := json.Marshal(&NegativeExemplar{
		UserID:       userID,
		ClusterID:    clusterID,
		CollectionID: collectionID,
		Vector:       vec,
		TrackID:      trackID,
		CreatedAt:    s.now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("marshal negative exemplar: %w", err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, data)
	})
}

// ListDislikedTracks implements Store.
func (s *BadgerStore) ListDislikedTracks(ctx context.Context, userID, collectionID string) ([]string, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	seen := make(map[string]struct{})
	prefix := negativeUserPrefix(userID, collectionID)
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			var ex struct {
				TrackID string `json:"track_id"`
			}
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &ex)
			}); err != nil {
				return fmt.Errorf("decode negative exemplar: %w", err)
			}
			seen[ex.TrackID] = struct{}{}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	out := make([]string, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}

// Close implements Store.
func (s *BadgerStore) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	var errs []error
	if err := s.seq.Release(); err != nil {
		errs = append(errs, fmt.Errorf("release sequence: %w", err))
	}
	if err := s.db.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close BadgerDB: %w", err))
	}
	return errors.Join(errs...)
}
