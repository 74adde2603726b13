// Resonance - Session-Scoped Music Recommendation Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/resonance

package catalog

import (
	"fmt"
	"testing"
)

func searchFixture(t *testing.T) *Catalog {
	t.Helper()
	tracks := []Track{
		{ID: "t1", Embedding: []float64{1, 0}, Metadata: Metadata{Title: "Blue in Green", Artist: "Miles Davis", Album: "Kind of Blue", Genre: "Jazz"}},
		{ID: "t2", Embedding: []float64{0, 1}, Metadata: Metadata{Title: "Master of Puppets", Artist: "Metallica", Genre: "Metal"}},
		{ID: "t3", Embedding: []float64{1, 1}, Metadata: Metadata{Filename: "blues_jam_take2.wav"}},
		{ID: "t4", Embedding: []float64{1, 2}, Metadata: Metadata{Title: "So What", Artist: "Miles Davis", Album: "Kind of Blue", Genre: "Jazz"}},
	}
	cat, err := New(tracks)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return cat
}

func TestSearch(t *testing.T) {
	cat := searchFixture(t)

	tests := []struct {
		name  string
		query string
		limit int
		want  []string
	}{
		{"title substring", "puppets", 0, []string{"t2"}},
		{"case insensitive artist", "MILES", 0, []string{"t1", "t4"}},
		{"album", "kind of", 0, []string{"t1", "t4"}},
		{"genre", "metal", 0, []string{"t2"}},
		{"filename", "jam_take", 0, []string{"t3"}},
		{"spans fields in catalog order", "blue", 0, []string{"t1", "t3", "t4"}},
		{"limit", "blue", 2, []string{"t1", "t3"}},
		{"no match", "polka", 0, nil},
		{"empty query", "   ", 0, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := cat.Search(tt.query, tt.limit)
			if len(got) != len(tt.want) {
				t.Fatalf("Search(%q) returned %d tracks, want %d", tt.query, len(got), len(tt.want))
			}
			for i, tr := range got {
				if tr.ID != tt.want[i] {
					t.Errorf("result[%d] = %s, want %s", i, tr.ID, tt.want[i])
				}
			}
		})
	}
}

func TestSearchDefaultLimit(t *testing.T) {
	tracks := make([]Track, 50)
	for i := range tracks {
		tracks[i] = Track{
			ID:        fmt.Sprintf("t%02d", i),
			Embedding: []float64{1, float64(i)},
			Metadata:  Metadata{Genre: "ambient"},
		}
	}
	cat, err := New(tracks)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if got := cat.Search("ambient", 0); len(got) != DefaultSearchLimit {
		t.Errorf("Search() returned %d tracks, want %d", len(got), DefaultSearchLimit)
	}
}
