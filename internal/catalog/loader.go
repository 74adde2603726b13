// Resonance - Session-Scoped Music Recommendation Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/resonance

package catalog

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/goccy/go-json"
)

// Loader produces the raw track list for a catalog.
type Loader interface {
	Load(ctx context.Context) ([]Track, error)
}

// Load runs l and builds a validated Catalog from its output.
func Load(ctx context.Context, l Loader) (*Catalog, error) {
	tracks, err := l.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load tracks: %w", err)
	}
	return New(tracks)
}

// JSONLoader reads a JSON array of tracks from a file.
type JSONLoader struct {
	Path string
}

// Load implements Loader.
func (l JSONLoader) Load(ctx context.Context) ([]Track, error) {
	f, err := os.Open(filepath.Clean(l.Path))
	if err != nil {
		return nil, fmt.Errorf("open catalog file: %w", err)
	}
	defer f.Close() //nolint:errcheck // read-only file

	return DecodeJSON(ctx, f)
}

// LoadJSONFile builds a Catalog from a JSON file.
func LoadJSONFile(ctx context.Context, path string) (*Catalog, error) {
	return Load(ctx, JSONLoader{Path: path})
}

// DecodeJSON decodes a JSON array of tracks from r.
func DecodeJSON(ctx context.Context, r io.Reader) ([]Track, error) {
	var tracks []Track
	if err := json.NewDecoder(r).DecodeContext(ctx, &tracks); err != nil {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}
	return tracks, nil
}

// EncodeJSON writes tracks as a JSON array to w.
func EncodeJSON(w io.Writer, tracks []Track) error {
	if err := json.NewEncoder(w).Encode(tracks); err != nil {
		return fmt.Errorf("encode catalog: %w", err)
	}
	return nil
}
