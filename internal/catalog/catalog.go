// Resonance - Session-Scoped Music Recommendation Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/resonance

// Package catalog holds the immutable in-memory index of track embeddings.
//
// A Catalog is built once per process from a loader (JSON file or DuckDB table)
// and shared read-only by every session. Embeddings are unit-normalized at
// construction so downstream cosine and Euclidean comparisons agree.
package catalog

import (
	"errors"
	"fmt"
	"sort"

	"github.com/tomtom215/resonance/internal/vector"
)

// Configuration errors. All of them wrap ErrConfiguration so callers can treat
// the whole class as fatal with a single errors.Is check.
var (
	ErrConfiguration     = errors.New("catalog configuration error")
	ErrEmptyCatalog      = fmt.Errorf("%w: catalog is empty", ErrConfiguration)
	ErrDimensionMismatch = fmt.Errorf("%w: embedding dimension mismatch", ErrConfiguration)
	ErrDuplicateTrack    = fmt.Errorf("%w: duplicate track id", ErrConfiguration)
	ErrZeroVector        = fmt.Errorf("%w: embedding has zero or non-finite norm", ErrConfiguration)
	ErrMissingID         = fmt.Errorf("%w: track id is empty", ErrConfiguration)
)

// DefaultDurationSeconds is assumed for tracks whose duration is unknown.
const DefaultDurationSeconds = 180.0

// Metadata is display information carried alongside an embedding.
type Metadata struct {
	Title    string `json:"title,omitempty"`
	Artist   string `json:"artist,omitempty"`
	Album    string `json:"album,omitempty"`
	Genre    string `json:"genre,omitempty"`
	Filename string `json:"filename,omitempty"`
}

// Track is a single catalog entry.
type Track struct {
	ID              string    `json:"id"`
	Embedding       []float64 `json:"embedding"`
	DurationSeconds float64   `json:"duration_seconds,omitempty"`
	Metadata        Metadata  `json:"metadata"`
}

// Duration returns the track length in seconds, or DefaultDurationSeconds when unknown.
func (t *Track) Duration() float64 {
	if t.DurationSeconds > 0 {
		return t.DurationSeconds
	}
	return DefaultDurationSeconds
}

// DisplayName returns a human readable label for logs and CLI output.
func (t *Track) DisplayName() string {
	switch {
	case t.Metadata.Artist != "" && t.Metadata.Title != "":
		return t.Metadata.Artist + " - " + t.Metadata.Title
	case t.Metadata.Title != "":
		return t.Metadata.Title
	case t.Metadata.Filename != "":
		return t.Metadata.Filename
	default:
		return t.ID
	}
}

// Catalog is an immutable, ID-ordered index of tracks.
// It is safe for concurrent reads.
type Catalog struct {
	tracks []Track
	index  map[string]int
	dim    int
}

// New validates and indexes tracks. The input slice is copied and each
// embedding is normalized to unit length; callers may reuse their slice.
func New(tracks []Track) (*Catalog, error) {
	if len(tracks) == 0 {
		return nil, ErrEmptyCatalog
	}

	dim := len(tracks[0].Embedding)
	if dim == 0 {
		return nil, fmt.Errorf("track %q: %w", tracks[0].ID, ErrDimensionMismatch)
	}

	owned := make([]Track, len(tracks))
	index := make(map[string]int, len(tracks))
	for i := range tracks {
		t := tracks[i]
		if t.ID == "" {
			return nil, fmt.Errorf("track at position %d: %w", i, ErrMissingID)
		}
		if _, dup := index[t.ID]; dup {
			return nil, fmt.Errorf("track %q: %w", t.ID, ErrDuplicateTrack)
		}
		if len(t.Embedding) != dim {
			return nil, fmt.Errorf("track %q has %d dimensions, expected %d: %w",
				t.ID, len(t.Embedding), dim, ErrDimensionMismatch)
		}
		unit, ok := vector.Normalize(t.Embedding)
		if !ok || !vector.IsFinite(unit) {
			return nil, fmt.Errorf("track %q: %w", t.ID, ErrZeroVector)
		}
		t.Embedding = unit
		owned[i] = t
		index[t.ID] = i
	}

	sort.Slice(owned, func(i, j int) bool { return owned[i].ID < owned[j].ID })
	for i := range owned {
		index[owned[i].ID] = i
	}

	return &Catalog{tracks: owned, index: index, dim: dim}, nil
}

// Len returns the number of tracks.
func (c *Catalog) Len() int { return len(c.tracks) }

// Dim returns the embedding dimension.
func (c *Catalog) Dim() int { return c.dim }

// At returns the track at position i in ID order. The returned pointer
// refers to catalog-owned memory and must not be modified.
func (c *Catalog) At(i int) *Track { return &c.tracks[i] }

// Lookup returns the track with the given ID.
func (c *Catalog) Lookup(id string) (*Track, bool) {
	i, ok := c.index[id]
	if !ok {
		return nil, false
	}
	return &c.tracks[i], true
}

// Index returns the position of id in ID order, or -1 when absent.
func (c *Catalog) Index(id string) int {
	if i, ok := c.index[id]; ok {
		return i
	}
	return -1
}

// Vector returns the unit embedding of the track at position i.
func (c *Catalog) Vector(i int) []float64 { return c.tracks[i].Embedding }

// IDs returns all track IDs in ascending order.
func (c *Catalog) IDs() []string {
	ids := make([]string, len(c.tracks))
	for i := range c.tracks {
		ids[i] = c.tracks[i].ID
	}
	return ids
}
