// Resonance - Session-Scoped Music Recommendation Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/resonance

package affinity

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tomtom215/resonance/internal/logging"
)

var errBackendDown = errors.New("backend down")

// flakyStore delegates to a MemoryStore and fails every call while down is set.
type flakyStore struct {
	inner *MemoryStore
	down  atomic.Bool
	calls atomic.Int64
}

func newFlakyStore() *flakyStore {
	return &flakyStore{inner: NewMemoryStore()}
}

func (f *flakyStore) check() error {
	f.calls.Add(1)
	if f.down.Load() {
		return errBackendDown
	}
	return nil
}

func (f *flakyStore) GetUserClusterHistory(ctx context.Context, userID, collectionID string, limit int) ([]Record, error) {
	if err := f.check(); err != nil {
		return nil, err
	}
	return f.inner.GetUserClusterHistory(ctx, userID, collectionID, limit)
}

func (f *flakyStore) GetClusterNegatives(ctx context.Context, userID string, clusterID int, collectionID string, limit int) ([]NegativeExemplar, error) {
	if err := f.check(); err != nil {
		return nil, err
	}
	return f.inner.GetClusterNegatives(ctx, userID, clusterID, collectionID, limit)
}

func (f *flakyStore) UpsertClusterAffinity(ctx context.Context, userID string, clusterID int, collectionID string, delta float64, positive bool) error {
	if err := f.check(); err != nil {
		return err
	}
	return f.inner.UpsertClusterAffinity(ctx, userID, clusterID, collectionID, delta, positive)
}

func (f *flakyStore) AddClusterNegative(ctx context.Context, userID string, clusterID int, collectionID string, vec []float64, trackID string) error {
	if err := f.check(); err != nil {
		return err
	}
	return f.inner.AddClusterNegative(ctx, userID, clusterID, collectionID, vec, trackID)
}

func (f *flakyStore) ListDislikedTracks(ctx context.Context, userID, collectionID string) ([]string, error) {
	if err := f.check(); err != nil {
		return nil, err
	}
	return f.inner.ListDislikedTracks(ctx, userID, collectionID)
}

func (f *flakyStore) Close() error { return f.inner.Close() }

// ackLostStore commits upserts but reports a timeout while lost is set.
type ackLostStore struct {
	*flakyStore
	lost atomic.Bool
}

func (a *ackLostStore) UpsertClusterAffinity(ctx context.Context, userID string, clusterID int, collectionID string, delta float64, positive bool) error {
	if err := a.inner.UpsertClusterAffinity(ctx, userID, clusterID, collectionID, delta, positive); err != nil {
		return err
	}
	if a.lost.Load() {
		return context.DeadlineExceeded
	}
	return nil
}

func testResilienceConfig(name string) ResilienceConfig {
	cfg := DefaultResilienceConfig()
	cfg.Name = name
	cfg.FailureThreshold = 2
	cfg.OpenTimeout = 30 * time.Millisecond
	cfg.CallTimeout = time.Second
	cfg.RetryRate = 1000
	cfg.RetryBurst = 100
	cfg.MaxAttempts = 3
	return cfg
}

func TestResilientPassThrough(t *testing.T) {
	ctx := context.Background()
	fs := newFlakyStore()
	r := NewResilient(fs, NewMemoryQueue(10), testResilienceConfig("test-pass"), logging.Nop())
	defer r.Close()

	if err := r.UpsertClusterAffinity(ctx, "alice", 1, "default", 30, true); err != nil {
		t.Fatalf("UpsertClusterAffinity() error = %v", err)
	}
	hist, err := r.GetUserClusterHistory(ctx, "alice", "default", 5)
	if err != nil {
		t.Fatalf("GetUserClusterHistory() error = %v", err)
	}
	if len(hist) != 1 || hist[0].PositiveSignals != 1 {
		t.Errorf("history = %+v, want one record with one positive", hist)
	}
	if r.Queue().Len() != 0 {
		t.Errorf("queue length = %d, want 0", r.Queue().Len())
	}
	if r.State() != "closed" {
		t.Errorf("State() = %s, want closed", r.State())
	}
}

func TestResilientReadsDegrade(t *testing.T) {
	ctx := context.Background()
	fs := newFlakyStore()
	fs.down.Store(true)
	r := NewResilient(fs, NewMemoryQueue(10), testResilienceConfig("test-reads"), logging.Nop())
	defer r.Close()

	if _, err := r.GetUserClusterHistory(ctx, "alice", "default", 5); !errors.Is(err, ErrUnavailable) {
		t.Errorf("GetUserClusterHistory() error = %v, want ErrUnavailable", err)
	}
	if _, err := r.GetClusterNegatives(ctx, "alice", 0, "default", 5); !errors.Is(err, ErrUnavailable) {
		t.Errorf("GetClusterNegatives() error = %v, want ErrUnavailable", err)
	}
	if r.State() != "open" {
		t.Fatalf("State() = %s after 2 failures, want open", r.State())
	}

	before := fs.calls.Load()
	if _, err := r.ListDislikedTracks(ctx, "alice", "default"); !errors.Is(err, ErrUnavailable) {
		t.Errorf("ListDislikedTracks() error = %v, want ErrUnavailable", err)
	}
	if fs.calls.Load() != before {
		t.Error("open breaker forwarded a call to the backend")
	}
}

func TestResilientQueuesFailedWrites(t *testing.T) {
	ctx := context.Background()
	fs := newFlakyStore()
	fs.down.Store(true)
	q := NewMemoryQueue(10)
	r := NewResilient(fs, q, testResilienceConfig("test-queue"), logging.Nop())
	defer r.Close()

	if err := r.UpsertClusterAffinity(ctx, "alice", 2, "default", 45, true); err != nil {
		t.Fatalf("UpsertClusterAffinity() error = %v, want nil (queued)", err)
	}
	if err := r.AddClusterNegative(ctx, "alice", 2, "default", []float64{1, 0}, "t-1"); err != nil {
		t.Fatalf("AddClusterNegative() error = %v, want nil (queued)", err)
	}
	// Breaker is open now; writes still queue.
	if err := r.UpsertClusterAffinity(ctx, "alice", 2, "default", 1, false); err != nil {
		t.Fatalf("UpsertClusterAffinity() on open breaker error = %v", err)
	}
	if q.Len() != 3 {
		t.Fatalf("queue length = %d, want 3", q.Len())
	}

	pending, _ := q.Peek(ctx, 10)
	if pending[0].Kind != WriteUpsert || pending[1].Kind != WriteNegative {
		t.Errorf("queued kinds = %s, %s; want upsert, negative", pending[0].Kind, pending[1].Kind)
	}
	if pending[0].LastError == "" || pending[0].EnqueuedAt.IsZero() {
		t.Errorf("queued write missing diagnostics: %+v", pending[0])
	}

	// Invalid writes are rejected, never queued.
	if err := r.UpsertClusterAffinity(ctx, "", 2, "default", 1, true); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("invalid upsert error = %v, want ErrInvalidArgument", err)
	}
	if q.Len() != 3 {
		t.Errorf("queue length after invalid write = %d, want 3", q.Len())
	}
}

func TestRetryWorkerDrainsAfterRecovery(t *testing.T) {
	ctx := context.Background()
	fs := newFlakyStore()
	fs.down.Store(true)
	q := NewMemoryQueue(10)
	r := NewResilient(fs, q, testResilienceConfig("test-drain"), logging.Nop())
	defer r.Close()
	w := NewRetryWorker(r)

	_ = r.UpsertClusterAffinity(ctx, "alice", 1, "default", 60, true)
	_ = r.UpsertClusterAffinity(ctx, "alice", 1, "default", 30, true)
	_ = r.AddClusterNegative(ctx, "alice", 1, "default", []float64{0, 1}, "t-9")

	// Still down: nothing applies and attempts are recorded.
	applied, err := w.Drain(ctx)
	if err != nil {
		t.Fatalf("Drain() error = %v", err)
	}
	if applied != 0 || q.Len() != 3 {
		t.Fatalf("Drain() while down applied %d, queue %d; want 0, 3", applied, q.Len())
	}
	pending, _ := q.Peek(ctx, 1)
	if pending[0].Attempts != 1 {
		t.Errorf("Attempts = %d, want 1", pending[0].Attempts)
	}

	fs.down.Store(false)
	time.Sleep(50 * time.Millisecond)

	applied, err = w.Drain(ctx)
	if err != nil {
		t.Fatalf("Drain() error = %v", err)
	}
	if applied != 3 {
		t.Errorf("Drain() applied = %d, want 3", applied)
	}
	if q.Len() != 0 {
		t.Errorf("queue length = %d, want 0", q.Len())
	}

	hist, err := r.GetUserClusterHistory(ctx, "alice", "default", 5)
	if err != nil {
		t.Fatalf("GetUserClusterHistory() error = %v", err)
	}
	if len(hist) != 1 || hist[0].TotalListenSeconds != 90 || hist[0].PositiveSignals != 2 {
		t.Errorf("history = %+v, want 90s and 2 positives", hist)
	}
	disliked, _ := r.ListDislikedTracks(ctx, "alice", "default")
	if len(disliked) != 1 || disliked[0] != "t-9" {
		t.Errorf("ListDislikedTracks() = %v, want [t-9]", disliked)
	}
}

func TestRetryReplayIsAtLeastOnce(t *testing.T) {
	ctx := context.Background()
	as := &ackLostStore{flakyStore: newFlakyStore()}
	as.lost.Store(true)
	q := NewMemoryQueue(10)
	r := NewResilient(as, q, testResilienceConfig("test-at-least-once"), logging.Nop())
	defer r.Close()

	if err := r.UpsertClusterAffinity(ctx, "alice", 3, "default", 40, true); err != nil {
		t.Fatalf("UpsertClusterAffinity() error = %v, want nil (queued)", err)
	}
	if q.Len() != 1 {
		t.Fatalf("queue length = %d, want 1", q.Len())
	}

	as.lost.Store(false)
	applied, err := NewRetryWorker(r).Drain(ctx)
	if err != nil || applied != 1 {
		t.Fatalf("Drain() = %d, %v; want 1, nil", applied, err)
	}

	hist, err := as.inner.GetUserClusterHistory(ctx, "alice", "default", 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(hist) != 1 || hist[0].TotalListenSeconds != 80 || hist[0].PositiveSignals != 2 {
		t.Errorf("history = %+v, want the committed write applied twice", hist)
	}
}

func TestRetryWorkerDropsAfterMaxAttempts(t *testing.T) {
	ctx := context.Background()
	fs := newFlakyStore()
	fs.down.Store(true)
	q := NewMemoryQueue(10)
	cfg := testResilienceConfig("test-max")
	cfg.FailureThreshold = 1000
	r := NewResilient(fs, q, cfg, logging.Nop())
	defer r.Close()
	w := NewRetryWorker(r)

	_ = r.UpsertClusterAffinity(ctx, "alice", 1, "default", 60, true)
	for i := range cfg.MaxAttempts {
		if _, err := w.Drain(ctx); err != nil {
			t.Fatalf("Drain() round %d error = %v", i, err)
		}
	}
	if q.Len() != 0 {
		t.Errorf("queue length after %d failed rounds = %d, want 0", cfg.MaxAttempts, q.Len())
	}
}

func TestRetryWorkerRunStopsOnCancel(t *testing.T) {
	fs := newFlakyStore()
	cfg := testResilienceConfig("test-run")
	cfg.RetryInterval = 5 * time.Millisecond
	r := NewResilient(fs, NewMemoryQueue(10), cfg, logging.Nop())
	defer r.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- NewRetryWorker(r).Run(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Run() error = %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run() did not stop after cancel")
	}
}
