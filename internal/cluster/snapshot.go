// Resonance - Session-Scoped Music Recommendation Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/resonance

package cluster

import (
	"bytes"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/gob"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"

	"github.com/tomtom215/resonance/internal/catalog"
)

// Snapshot errors.
var (
	ErrSnapshotChecksum    = errors.New("snapshot checksum mismatch")
	ErrSnapshotFingerprint = errors.New("snapshot was built for a different catalog")
)

// SnapshotMetadata describes a stored model.
type SnapshotMetadata struct {
	Fingerprint string
	K           int
	Tracks      int
	FittedAt    time.Time
	SavedAt     time.Time
	Checksum    string
	SizeBytes   int64
}

// snapshotState is the gob payload.
type snapshotState struct {
	Config       Config
	Assign       []int
	Centroids    [][]float64
	Neighborhood []NeighborhoodEntry
}

// snapshotFile is the on-disk envelope.
type snapshotFile struct {
	Metadata       SnapshotMetadata
	CompressedData []byte
}

// Fingerprint identifies a catalog by its track IDs and embeddings.
func Fingerprint(cat *catalog.Catalog) string {
	h := sha256.New()
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(cat.Dim()))
	h.Write(buf[:])
	for i := 0; i < cat.Len(); i++ {
		t := cat.At(i)
		h.Write([]byte(t.ID))
		h.Write([]byte{0})
		for _, x := range t.Embedding {
			binary.LittleEndian.PutUint64(buf[:], math.Float64bits(x))
			h.Write(buf[:])
		}
	}
	return hex.EncodeToString(h.Sum(nil)[:16])
}

func lockPath(path string) string { return path + ".lock" }

// SaveSnapshot writes m to path. The write goes to a temporary file that is
// renamed into place while an exclusive file lock is held, so concurrent
// writers and readers in other processes never observe a partial file.
func (m *Manager) SaveSnapshot(ctx context.Context, path string) (*SnapshotMetadata, error) {
	state := snapshotState{
		Config:    m.cfg,
		Assign:    m.assign,
		Centroids: make([][]float64, len(m.clusters)),
	}
	for i := range m.clusters {
		state.Centroids[i] = m.clusters[i].Centroid
	}
	state.Neighborhood = m.neighborhood

	var raw bytes.Buffer
	if err := gob.NewEncoder(&raw).Encode(state); err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}
	sum := sha256.Sum256(raw.Bytes())

	var compressed bytes.Buffer
	gzw := gzip.NewWriter(&compressed)
	if _, err := gzw.Write(raw.Bytes()); err != nil {
		return nil, fmt.Errorf("compress snapshot: %w", err)
	}
	if err := gzw.Close(); err != nil {
		return nil, fmt.Errorf("finalize compression: %w", err)
	}

	meta := SnapshotMetadata{
		Fingerprint: m.fingerprint,
		K:           len(m.clusters),
		Tracks:      len(m.assign),
		FittedAt:    m.fittedAt,
		SavedAt:     time.Now(),
		Checksum:    hex.EncodeToString(sum[:]),
		SizeBytes:   int64(compressed.Len()),
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("create snapshot directory: %w", err)
	}

	lock := flock.New(lockPath(path))
	locked, err := lock.TryLockContext(ctx, 50*time.Millisecond)
	if err != nil {
		return nil, fmt.Errorf("lock snapshot: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("lock snapshot: %s is held by another process", lockPath(path))
	}
	defer lock.Unlock() //nolint:errcheck // lock file is reused

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return nil, fmt.Errorf("create snapshot file: %w", err)
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck // gone after a successful rename

	if err := gob.NewEncoder(tmp).Encode(snapshotFile{Metadata: meta, CompressedData: compressed.Bytes()}); err != nil {
		_ = tmp.Close()
		return nil, fmt.Errorf("write snapshot file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return nil, fmt.Errorf("sync snapshot file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return nil, fmt.Errorf("close snapshot file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return nil, fmt.Errorf("install snapshot file: %w", err)
	}
	return &meta, nil
}

// LoadSnapshot restores a Manager saved by SaveSnapshot for the same catalog.
// The neighborhood cache is taken from the file, so no O(n²) pass runs.
func LoadSnapshot(ctx context.Context, path string, cat *catalog.Catalog) (*Manager, *SnapshotMetadata, error) {
	lock := flock.New(lockPath(path))
	locked, err := lock.TryRLockContext(ctx, 50*time.Millisecond)
	if err != nil {
		return nil, nil, fmt.Errorf("lock snapshot: %w", err)
	}
	if !locked {
		return nil, nil, fmt.Errorf("lock snapshot: %s is held by another process", lockPath(path))
	}
	defer lock.Unlock() //nolint:errcheck // shared lock

	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return nil, nil, fmt.Errorf("open snapshot: %w", err)
	}
	defer f.Close() //nolint:errcheck // read-only file

	var sf snapshotFile
	if err := gob.NewDecoder(f).Decode(&sf); err != nil {
		return nil, nil, fmt.Errorf("read snapshot file: %w", err)
	}

	if fp := Fingerprint(cat); fp != sf.Metadata.Fingerprint {
		return nil, nil, fmt.Errorf("%w: file %s, catalog %s", ErrSnapshotFingerprint, sf.Metadata.Fingerprint, fp)
	}

	gzr, err := gzip.NewReader(bytes.NewReader(sf.CompressedData))
	if err != nil {
		return nil, nil, fmt.Errorf("decompress snapshot: %w", err)
	}
	defer gzr.Close() //nolint:errcheck // in-memory reader

	raw, err := io.ReadAll(gzr)
	if err != nil {
		return nil, nil, fmt.Errorf("read decompressed snapshot: %w", err)
	}
	sum := sha256.Sum256(raw)
	if got := hex.EncodeToString(sum[:]); got != sf.Metadata.Checksum {
		return nil, nil, fmt.Errorf("%w: expected %s, got %s", ErrSnapshotChecksum, sf.Metadata.Checksum, got)
	}

	var state snapshotState
	if err := gob.NewDecoder(bytes.NewReader(raw)).Decode(&state); err != nil {
		return nil, nil, fmt.Errorf("decode snapshot: %w", err)
	}
	if len(state.Assign) != cat.Len() || len(state.Neighborhood) != cat.Len() || len(state.Centroids) != state.Config.K {
		return nil, nil, fmt.Errorf("%w: inconsistent snapshot dimensions", ErrSnapshotChecksum)
	}

	m, err := build(ctx, cat, state.Config, state.Assign, state.Centroids, state.Neighborhood)
	if err != nil {
		return nil, nil, err
	}
	m.fittedAt = sf.Metadata.FittedAt
	return m, &sf.Metadata, nil
}
