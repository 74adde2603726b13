// Resonance - Session-Scoped Music Recommendation Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/resonance

package affinity

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/tomtom215/resonance/internal/logging"
	"github.com/tomtom215/resonance/internal/metrics"
)

// ErrQueueFull reports that a bounded queue rejected a write.
var ErrQueueFull = errors.New("affinity retry queue full")

// WriteKind identifies a queued write.
type WriteKind string

// Queued write kinds.
const (
	WriteUpsert   WriteKind = "upsert"
	WriteNegative WriteKind = "negative"
)

// PendingWrite is a write that failed and waits for retry.
type PendingWrite struct {
	ID                 string    `json:"id"`
	Kind               WriteKind `json:"kind"`
	UserID             string    `json:"user_id"`
	ClusterID          int       `json:"cluster_id"`
	CollectionID       string    `json:"collection_id"`
	DeltaListenSeconds float64   `json:"delta_listen_seconds,omitempty"`
	Positive           bool      `json:"positive,omitempty"`
	Vector             []float64 `json:"vector,omitempty"`
	TrackID            string    `json:"track_id,omitempty"`
	Attempts           int       `json:"attempts"`
	EnqueuedAt         time.Time `json:"enqueued_at"`
	LastError          string    `json:"last_error,omitempty"`
}

// apply replays w against s.
func (w *PendingWrite) apply(ctx context.Context, s Store) error {
	switch w.Kind {
	case WriteUpsert:
		return s.UpsertClusterAffinity(ctx, w.UserID, w.ClusterID, w.CollectionID, w.DeltaListenSeconds, w.Positive)
	case WriteNegative:
		return s.AddClusterNegative(ctx, w.UserID, w.ClusterID, w.CollectionID, w.Vector, w.TrackID)
	default:
		return errors.Join(ErrInvalidArgument, fmt.Errorf("unknown write kind %q", w.Kind))
	}
}

// Queue holds pending writes in FIFO order.
type Queue interface {
	// Push appends w, assigning an ID when empty.
	Push(ctx context.Context, w PendingWrite) error

	// Peek returns up to n writes, oldest first.
	Peek(ctx context.Context, n int) ([]PendingWrite, error)

	// Update replaces a queued write with the same ID.
	Update(ctx context.Context, w PendingWrite) error

	// Remove deletes the write with id. Removing a missing ID is not an error.
	Remove(ctx context.Context, id string) error

	// Len returns the number of queued writes.
	Len() int

	// Close releases queue resources.
	Close() error
}

// MemoryQueue is a bounded in-process Queue. When full, the oldest write is
// dropped to make room.
type MemoryQueue struct {
	mu    sync.Mutex
	items []PendingWrite
	max   int
}

// NewMemoryQueue creates a queue holding at most maxItems writes.
func NewMemoryQueue(maxItems int) *MemoryQueue {
	return &MemoryQueue{max: maxItems}
}

// Push implements Queue.
func (q *MemoryQueue) Push(_ context.Context, w PendingWrite) error {
	if w.ID == "" {
		w.ID = uuid.NewString()
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.max > 0 && len(q.items) >= q.max {
		dropped := q.items[0]
		q.items = q.items[1:]
		metrics.RecordAffinityRetry("dropped")
		logging.Warn().Str("write_id", dropped.ID).Str("user_id", dropped.UserID).Msg("Affinity retry queue full, dropped oldest write")
	}
	q.items = append(q.items, w)
	metrics.AffinityRetryQueueDepth.Set(float64(len(q.items)))
	return nil
}

// Peek implements Queue.
func (q *MemoryQueue) Peek(_ context.Context, n int) ([]PendingWrite, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	n = min(n, len(q.items))
	out := make([]PendingWrite, n)
	copy(out, q.items[:n])
	return out, nil
}

// Update implements Queue.
func (q *MemoryQueue) Update(_ context.Context, w PendingWrite) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i := range q.items {
		if q.items[i].ID == w.ID {
			q.items[i] = w
			return nil
		}
	}
	return nil
}

// Remove implements Queue.
func (q *MemoryQueue) Remove(_ context.Context, id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i := range q.items {
		if q.items[i].ID == id {
			q.items = append(q.items[:i], q.items[i+1:]...)
			break
		}
	}
	metrics.AffinityRetryQueueDepth.Set(float64(len(q.items)))
	return nil
}

// Len implements Queue.
func (q *MemoryQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Close implements Queue.
func (q *MemoryQueue) Close() error { return nil }

const prefixPending = "pending\x00"

// BadgerQueue is a durable Queue. Pending writes survive restarts and are
// retried by the next process. Entries older than TTL expire on their own.
type BadgerQueue struct {
	db  *badger.DB
	seq *badger.Sequence
	ttl time.Duration
	max int

	mu    sync.Mutex
	count int
}

// OpenBadgerQueue opens a durable queue at path. A zero ttl keeps entries
// until they are retried or dropped.
func OpenBadgerQueue(path string, maxItems int, ttl time.Duration) (*BadgerQueue, error) {
	opts := badger.DefaultOptions(path)
	opts.SyncWrites = true
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open BadgerDB: %w", err)
	}
	seq, err := db.GetSequence([]byte("seq\x00pending"), 64)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("pending sequence: %w", err)
	}

	q := &BadgerQueue{db: db, seq: seq, ttl: ttl, max: maxItems}
	if err := db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		prefix := []byte(prefixPending)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			q.count++
		}
		return nil
	}); err != nil {
		_ = q.Close()
		return nil, fmt.Errorf("count pending writes: %w", err)
	}

	metrics.AffinityRetryQueueDepth.Set(float64(q.count))
	logging.Info().Str("path", path).Int("pending", q.count).Msg("Affinity retry queue opened")
	return q, nil
}

func pendingKey(id string) []byte {
	return []byte(prefixPending + id)
}

// Push implements Queue. IDs are hex-encoded sequence numbers so key order is
// insertion order.
func (q *BadgerQueue) Push(_ context.Context, w PendingWrite) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.max > 0 && q.count >= q.max {
		return ErrQueueFull
	}

	n, err := q.seq.Next()
	if err != nil {
		return fmt.Errorf("pending sequence: %w", err)
	}
	w.ID = hex.EncodeToString(binary.BigEndian.AppendUint64(nil, n))
	if err := q.write(w); err != nil {
		return err
	}
	q.count++
	metrics.AffinityRetryQueueDepth.Set(float64(q.count))
	return nil
}

func (q *BadgerQueue) write(w PendingWrite) error {
	data, err := json.Marshal(&w)
	if err != nil {
		return fmt.Errorf("marshal pending write: %w", err)
	}
	return q.db.Update(func(txn *badger.Txn) error {
		e := badger.NewEntry(pendingKey(w.ID), data)
		if q.ttl > 0 {
			e = e.WithTTL(q.ttl)
		}
		return txn.SetEntry(e)
	})
}

// Peek implements Queue.
func (q *BadgerQueue) Peek(ctx context.Context, n int) ([]PendingWrite, error) {
	var out []PendingWrite
	err := q.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := []byte(prefixPending)
		for it.Seek(prefix); it.ValidForPrefix(prefix) && len(out) < n; it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			var w PendingWrite
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &w)
			}); err != nil {
				return fmt.Errorf("decode pending write: %w", err)
			}
			out = append(out, w)
		}
		return nil
	})
	return out, err
}

// Update implements Queue.
func (q *BadgerQueue) Update(_ context.Context, w PendingWrite) error {
	return q.write(w)
}

// Remove implements Queue.
func (q *BadgerQueue) Remove(_ context.Context, id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	removed := false
	err := q.db.Update(func(txn *badger.Txn) error {
		_, err := txn.Get(pendingKey(id))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		removed = true
		return txn.Delete(pendingKey(id))
	})
	if err != nil {
		return fmt.Errorf("remove pending write: %w", err)
	}
	if removed && q.count > 0 {
		q.count--
	}
	metrics.AffinityRetryQueueDepth.Set(float64(q.count))
	return nil
}

// Len implements Queue.
func (q *BadgerQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.count
}

// Close implements Queue.
func (q *BadgerQueue) Close() error {
	return errors.Join(q.seq.Release(), q.db.Close())
}
