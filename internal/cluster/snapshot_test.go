// Resonance - Session-Scoped Music Recommendation Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/resonance

package cluster

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/tomtom215/resonance/internal/catalog/catalogtest"
)

func TestSnapshotRoundTrip(t *testing.T) {
	cat, m := fitDefault(t)
	path := filepath.Join(t.TempDir(), "models", "clusters.gob.gz")

	meta, err := m.SaveSnapshot(context.Background(), path)
	if err != nil {
		t.Fatalf("SaveSnapshot() error = %v", err)
	}
	if meta.K != 4 || meta.Tracks != cat.Len() || meta.Checksum == "" || meta.SizeBytes == 0 {
		t.Errorf("metadata = %+v", meta)
	}

	restored, rmeta, err := LoadSnapshot(context.Background(), path, cat)
	if err != nil {
		t.Fatalf("LoadSnapshot() error = %v", err)
	}
	if rmeta.Checksum != meta.Checksum {
		t.Errorf("checksum %s, want %s", rmeta.Checksum, meta.Checksum)
	}
	if !restored.FittedAt().Equal(m.FittedAt()) {
		t.Errorf("FittedAt %v, want %v", restored.FittedAt(), m.FittedAt())
	}

	for c := 0; c < m.K(); c++ {
		want, got := m.Members(c), restored.Members(c)
		if len(want) != len(got) {
			t.Fatalf("cluster %d: %d members, want %d", c, len(got), len(want))
		}
		for i := range want {
			if want[i] != got[i] {
				t.Fatalf("cluster %d member %d: %s, want %s", c, i, got[i], want[i])
			}
		}
	}
	for i := 0; i < cat.Len(); i++ {
		id := cat.At(i).ID
		a, _ := m.Neighborhood(id)
		b, _ := restored.Neighborhood(id)
		if a != b {
			t.Fatalf("neighborhood of %s: %+v, want %+v", id, b, a)
		}
		if m.IsOutlier(id) != restored.IsOutlier(id) {
			t.Fatalf("outlier flag of %s differs", id)
		}
	}
}

func TestSnapshotFingerprintMismatch(t *testing.T) {
	_, m := fitDefault(t)
	path := filepath.Join(t.TempDir(), "clusters.gob.gz")
	if _, err := m.SaveSnapshot(context.Background(), path); err != nil {
		t.Fatal(err)
	}

	spec := catalogtest.Default()
	spec.Seed++
	other := catalogtest.New(t, spec)

	_, _, err := LoadSnapshot(context.Background(), path, other)
	if !errors.Is(err, ErrSnapshotFingerprint) {
		t.Fatalf("LoadSnapshot() error = %v, want ErrSnapshotFingerprint", err)
	}
}

func TestSnapshotMissingAndCorrupt(t *testing.T) {
	cat := catalogtest.New(t, catalogtest.Default())
	dir := t.TempDir()

	if _, _, err := LoadSnapshot(context.Background(), filepath.Join(dir, "missing"), cat); err == nil {
		t.Error("missing snapshot loaded")
	}

	bad := filepath.Join(dir, "bad.gob.gz")
	if err := os.WriteFile(bad, []byte("not a snapshot"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, _, err := LoadSnapshot(context.Background(), bad, cat); err == nil {
		t.Error("corrupt snapshot loaded")
	}
}

func TestFingerprintStable(t *testing.T) {
	a := catalogtest.New(t, catalogtest.Default())
	b := catalogtest.New(t, catalogtest.Default())
	if Fingerprint(a) != Fingerprint(b) {
		t.Error("identical catalogs have different fingerprints")
	}
	if len(Fingerprint(a)) != 32 {
		t.Errorf("fingerprint length = %d, want 32", len(Fingerprint(a)))
	}
}
