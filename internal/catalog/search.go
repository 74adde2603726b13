// Resonance - Session-Scoped Music Recommendation Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/resonance

package catalog

import "strings"

// DefaultSearchLimit caps Search results when the caller passes a non-positive limit.
const DefaultSearchLimit = 20

// Search returns up to limit tracks whose metadata contains query as a
// case-insensitive substring, in catalog order. An empty query matches nothing.
func (c *Catalog) Search(query string, limit int) []*Track {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return nil
	}
	if limit <= 0 {
		limit = DefaultSearchLimit
	}

	var out []*Track
	for i := range c.tracks {
		t := &c.tracks[i]
		if t.matches(q) {
			out = append(out, t)
			if len(out) >= limit {
				break
			}
		}
	}
	return out
}

func (t *Track) matches(q string) bool {
	m := t.Metadata
	for _, field := range [...]string{m.Title, m.Artist, m.Album, m.Genre, m.Filename} {
		if field != "" && strings.Contains(strings.ToLower(field), q) {
			return true
		}
	}
	return false
}
