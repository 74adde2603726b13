// Resonance - Session-Scoped Music Recommendation Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/resonance

package affinity

import (
	"context"
	"errors"
	"math"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

// storeFactory opens a fresh, empty store for one subtest.
type storeFactory func(t *testing.T) Store

func openMemory(t *testing.T) Store {
	t.Helper()
	s := NewMemoryStore()
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func openBadgerInMemory(t *testing.T) Store {
	t.Helper()
	s, err := OpenBadger(BadgerConfig{InMemory: true, MaxConflictRetries: 50})
	if err != nil {
		t.Fatalf("OpenBadger() error = %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func openSQLite(t *testing.T) Store {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "affinity.db") + "?_busy_timeout=5000&_journal_mode=WAL"
	s, err := OpenSQL(context.Background(), SQLConfig{
		Driver:       DriverSQLite,
		DSN:          dsn,
		AutoMigrate:  true,
		MaxOpenConns: 1,
	})
	if err != nil {
		t.Fatalf("OpenSQL() error = %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStoreContract(t *testing.T) {
	backends := []struct {
		name string
		open storeFactory
	}{
		{"memory", openMemory},
		{"badger", openBadgerInMemory},
		{"sqlite", openSQLite},
	}
	for _, b := range backends {
		t.Run(b.name, func(t *testing.T) {
			runStoreContract(t, b.open)
		})
	}
}

// runStoreContract exercises the behavior every Store must share.
func runStoreContract(t *testing.T, open storeFactory) {
	ctx := context.Background()

	t.Run("empty history", func(t *testing.T) {
		s := open(t)
		got, err := s.GetUserClusterHistory(ctx, "alice", "default", 5)
		if err != nil {
			t.Fatalf("GetUserClusterHistory() error = %v", err)
		}
		if len(got) != 0 {
			t.Errorf("len(history) = %d, want 0", len(got))
		}
	})

	t.Run("upsert accumulates counters", func(t *testing.T) {
		s := open(t)
		mustUpsert(t, s, "alice", 3, "default", 60, true)
		mustUpsert(t, s, "alice", 3, "default", 2, false)
		mustUpsert(t, s, "alice", 3, "default", 90, true)

		got, err := s.GetUserClusterHistory(ctx, "alice", "default", 5)
		if err != nil {
			t.Fatalf("GetUserClusterHistory() error = %v", err)
		}
		if len(got) != 1 {
			t.Fatalf("len(history) = %d, want 1", len(got))
		}
		r := got[0]
		if r.ClusterID != 3 || r.UserID != "alice" || r.CollectionID != "default" {
			t.Errorf("record key = (%s, %s, %d), want (alice, default, 3)", r.UserID, r.CollectionID, r.ClusterID)
		}
		if r.PositiveSignals != 2 {
			t.Errorf("PositiveSignals = %d, want 2", r.PositiveSignals)
		}
		if r.RejectionCount != 1 {
			t.Errorf("RejectionCount = %d, want 1", r.RejectionCount)
		}
		if r.TrackCount != 3 {
			t.Errorf("TrackCount = %d, want 3", r.TrackCount)
		}
		if math.Abs(r.TotalListenSeconds-152) > 1e-9 {
			t.Errorf("TotalListenSeconds = %v, want 152", r.TotalListenSeconds)
		}
		if r.LastPositiveAt.IsZero() {
			t.Error("LastPositiveAt is zero after a positive signal")
		}
		if avg := r.AvgListenSeconds(); math.Abs(avg-152.0/3) > 1e-9 {
			t.Errorf("AvgListenSeconds() = %v, want %v", avg, 152.0/3)
		}
	})

	t.Run("negative only leaves last positive unset", func(t *testing.T) {
		s := open(t)
		mustUpsert(t, s, "bob", 1, "default", 1, false)
		got, err := s.GetUserClusterHistory(ctx, "bob", "default", 5)
		if err != nil {
			t.Fatalf("GetUserClusterHistory() error = %v", err)
		}
		if len(got) != 1 || !got[0].LastPositiveAt.IsZero() {
			t.Errorf("history = %+v, want one record with zero LastPositiveAt", got)
		}
	})

	t.Run("history ordering and limit", func(t *testing.T) {
		s := open(t)
		mustUpsert(t, s, "alice", 0, "default", 10, true)
		mustUpsert(t, s, "alice", 1, "default", 300, true)
		mustUpsert(t, s, "alice", 2, "default", 50, true)
		mustUpsert(t, s, "alice", 4, "default", 50, true)
		mustUpsert(t, s, "alice", 5, "default", 5, false)
		mustUpsert(t, s, "alice", 6, "default", 1, false)
		// Other users and collections are invisible.
		mustUpsert(t, s, "carol", 7, "default", 999, true)
		mustUpsert(t, s, "alice", 8, "other", 999, true)

		got, err := s.GetUserClusterHistory(ctx, "alice", "default", 4)
		if err != nil {
			t.Fatalf("GetUserClusterHistory() error = %v", err)
		}
		want := []int{1, 2, 4, 0}
		if len(got) != len(want) {
			t.Fatalf("len(history) = %d, want %d", len(got), len(want))
		}
		for i, id := range want {
			if got[i].ClusterID != id {
				t.Errorf("history[%d].ClusterID = %d, want %d", i, got[i].ClusterID, id)
			}
		}

		def, err := s.GetUserClusterHistory(ctx, "alice", "default", 0)
		if err != nil {
			t.Fatalf("GetUserClusterHistory() error = %v", err)
		}
		if len(def) != DefaultHistoryLimit {
			t.Errorf("len(history) with default limit = %d, want %d", len(def), DefaultHistoryLimit)
		}
	})

	t.Run("negatives newest first", func(t *testing.T) {
		s := open(t)
		for i := range 6 {
			vec := []float64{float64(i), 1}
			if err := s.AddClusterNegative(ctx, "alice", 2, "default", vec, trackName(i)); err != nil {
				t.Fatalf("AddClusterNegative(%d) error = %v", i, err)
			}
			// SQL orders by created_at first; keep timestamps distinct.
			time.Sleep(2 * time.Millisecond)
		}
		if err := s.AddClusterNegative(ctx, "alice", 9, "default", []float64{9, 9}, "elsewhere"); err != nil {
			t.Fatalf("AddClusterNegative() error = %v", err)
		}

		got, err := s.GetClusterNegatives(ctx, "alice", 2, "default", 4)
		if err != nil {
			t.Fatalf("GetClusterNegatives() error = %v", err)
		}
		if len(got) != 4 {
			t.Fatalf("len(negatives) = %d, want 4", len(got))
		}
		for i, ex := range got {
			want := trackName(5 - i)
			if ex.TrackID != want {
				t.Errorf("negatives[%d].TrackID = %s, want %s", i, ex.TrackID, want)
			}
			if ex.ClusterID != 2 {
				t.Errorf("negatives[%d].ClusterID = %d, want 2", i, ex.ClusterID)
			}
			if len(ex.Vector) != 2 || math.Abs(ex.Vector[0]-float64(5-i)) > 1e-6 {
				t.Errorf("negatives[%d].Vector = %v, want [%d 1]", i, ex.Vector, 5-i)
			}
		}
	})

	t.Run("disliked tracks distinct and sorted", func(t *testing.T) {
		s := open(t)
		add := func(cluster int, id string) {
			t.Helper()
			if err := s.AddClusterNegative(ctx, "alice", cluster, "default", []float64{1, 0}, id); err != nil {
				t.Fatalf("AddClusterNegative(%s) error = %v", id, err)
			}
		}
		add(0, "t-c")
		add(1, "t-a")
		add(0, "t-c")
		add(2, "t-b")
		if err := s.AddClusterNegative(ctx, "bob", 0, "default", []float64{1, 0}, "t-z"); err != nil {
			t.Fatalf("AddClusterNegative() error = %v", err)
		}

		got, err := s.ListDislikedTracks(ctx, "alice", "default")
		if err != nil {
			t.Fatalf("ListDislikedTracks() error = %v", err)
		}
		want := []string{"t-a", "t-b", "t-c"}
		if len(got) != len(want) {
			t.Fatalf("ListDislikedTracks() = %v, want %v", got, want)
		}
		for i := range want {
			if got[i] != want[i] {
				t.Errorf("ListDislikedTracks()[%d] = %s, want %s", i, got[i], want[i])
			}
		}
	})

	t.Run("invalid arguments", func(t *testing.T) {
		s := open(t)
		tests := []struct {
			name string
			call func() error
		}{
			{"upsert empty user", func() error {
				return s.UpsertClusterAffinity(ctx, "", 0, "default", 1, true)
			}},
			{"negative empty user", func() error {
				return s.AddClusterNegative(ctx, "", 0, "default", []float64{1}, "t")
			}},
			{"negative empty vector", func() error {
				return s.AddClusterNegative(ctx, "alice", 0, "default", nil, "t")
			}},
			{"negative empty track", func() error {
				return s.AddClusterNegative(ctx, "alice", 0, "default", []float64{1}, "")
			}},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				if err := tt.call(); !errors.Is(err, ErrInvalidArgument) {
					t.Errorf("error = %v, want ErrInvalidArgument", err)
				}
			})
		}
	})

	t.Run("concurrent upserts never lose increments", func(t *testing.T) {
		s := open(t)
		const writers, perWriter = 8, 10
		var wg sync.WaitGroup
		errs := make(chan error, writers*perWriter)
		for w := range writers {
			wg.Add(1)
			go func(w int) {
				defer wg.Done()
				for range perWriter {
					errs <- s.UpsertClusterAffinity(ctx, "alice", 1, "default", 1.5, w%2 == 0)
				}
			}(w)
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			if err != nil {
				t.Fatalf("UpsertClusterAffinity() error = %v", err)
			}
		}

		got, err := s.GetUserClusterHistory(ctx, "alice", "default", 1)
		if err != nil {
			t.Fatalf("GetUserClusterHistory() error = %v", err)
		}
		if len(got) != 1 {
			t.Fatalf("len(history) = %d, want 1", len(got))
		}
		r := got[0]
		total := int64(writers * perWriter)
		if r.TrackCount != total {
			t.Errorf("TrackCount = %d, want %d", r.TrackCount, total)
		}
		if r.PositiveSignals+r.RejectionCount != total {
			t.Errorf("PositiveSignals+RejectionCount = %d, want %d", r.PositiveSignals+r.RejectionCount, total)
		}
		if r.PositiveSignals != total/2 {
			t.Errorf("PositiveSignals = %d, want %d", r.PositiveSignals, total/2)
		}
		if math.Abs(r.TotalListenSeconds-1.5*float64(total)) > 1e-6 {
			t.Errorf("TotalListenSeconds = %v, want %v", r.TotalListenSeconds, 1.5*float64(total))
		}
	})
}

func mustUpsert(t *testing.T, s Store, user string, cluster int, coll string, delta float64, positive bool) {
	t.Helper()
	if err := s.UpsertClusterAffinity(context.Background(), user, cluster, coll, delta, positive); err != nil {
		t.Fatalf("UpsertClusterAffinity(%s, %d) error = %v", user, cluster, err)
	}
}

func trackName(i int) string {
	return "track-" + string(rune('a'+i))
}

func TestClosedStores(t *testing.T) {
	ctx := context.Background()

	mem := NewMemoryStore()
	_ = mem.Close()
	if _, err := mem.GetUserClusterHistory(ctx, "alice", "default", 5); !errors.Is(err, ErrClosed) {
		t.Errorf("memory GetUserClusterHistory() after Close error = %v, want ErrClosed", err)
	}

	bdb, err := OpenBadger(BadgerConfig{InMemory: true})
	if err != nil {
		t.Fatalf("OpenBadger() error = %v", err)
	}
	if err := bdb.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := bdb.Close(); err != nil {
		t.Errorf("second Close() error = %v, want nil", err)
	}
	if err := bdb.UpsertClusterAffinity(ctx, "alice", 0, "default", 1, true); !errors.Is(err, ErrClosed) {
		t.Errorf("badger UpsertClusterAffinity() after Close error = %v, want ErrClosed", err)
	}
}

func TestBadgerStorePersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	s, err := OpenBadger(BadgerConfig{Path: dir, SyncWrites: true, MaxConflictRetries: 10})
	if err != nil {
		t.Fatalf("OpenBadger() error = %v", err)
	}
	mustUpsert(t, s, "alice", 4, "default", 120, true)
	if err := s.AddClusterNegative(ctx, "alice", 4, "default", []float64{0.5, 0.5}, "t-1"); err != nil {
		t.Fatalf("AddClusterNegative() error = %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	s, err = OpenBadger(BadgerConfig{Path: dir, SyncWrites: true, MaxConflictRetries: 10})
	if err != nil {
		t.Fatalf("reopen OpenBadger() error = %v", err)
	}
	defer s.Close()

	hist, err := s.GetUserClusterHistory(ctx, "alice", "default", 5)
	if err != nil {
		t.Fatalf("GetUserClusterHistory() error = %v", err)
	}
	if len(hist) != 1 || hist[0].TotalListenSeconds != 120 {
		t.Errorf("history after reopen = %+v, want one record with 120s", hist)
	}
	if err := s.AddClusterNegative(ctx, "alice", 4, "default", []float64{1, 0}, "t-2"); err != nil {
		t.Fatalf("AddClusterNegative() error = %v", err)
	}
	negs, err := s.GetClusterNegatives(ctx, "alice", 4, "default", 10)
	if err != nil {
		t.Fatalf("GetClusterNegatives() error = %v", err)
	}
	if len(negs) != 2 || negs[0].TrackID != "t-2" {
		t.Errorf("negatives after reopen = %+v, want t-2 first of 2", negs)
	}
}

func TestOpenBadgerRequiresPath(t *testing.T) {
	if _, err := OpenBadger(BadgerConfig{}); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("OpenBadger() error = %v, want ErrInvalidArgument", err)
	}
}

func TestOpenSQLUnknownDriver(t *testing.T) {
	_, err := OpenSQL(context.Background(), SQLConfig{Driver: "oracle"})
	if !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("OpenSQL() error = %v, want ErrInvalidArgument", err)
	}
}

func TestIsGuest(t *testing.T) {
	tests := []struct {
		user string
		want bool
	}{
		{"", true},
		{"guest", true},
		{"Guest", true},
		{"GUEST", true},
		{"alice", false},
		{"guesthouse", false},
	}
	for _, tt := range tests {
		if got := IsGuest(tt.user); got != tt.want {
			t.Errorf("IsGuest(%q) = %v, want %v", tt.user, got, tt.want)
		}
	}
}

func TestBackendName(t *testing.T) {
	if got := BackendName(NewMemoryStore()); got != "memory" {
		t.Errorf("BackendName(memory) = %s", got)
	}
	if got := BackendName(&flakyStore{}); got != "custom" {
		t.Errorf("BackendName(custom) = %s", got)
	}
}
