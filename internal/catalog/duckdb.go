// Resonance - Session-Scoped Music Recommendation Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/resonance

package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"time"

	_ "github.com/duckdb/duckdb-go/v2" // DuckDB driver registration
)

// DefaultTable is the table DuckDBLoader reads when Table is empty.
const DefaultTable = "tracks"

var tableNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// DuckDBLoader reads tracks from a DuckDB table produced by the vectorization
// pipeline. The table must expose the columns
//
//	id VARCHAR, embedding DOUBLE[], duration_seconds DOUBLE,
//	title VARCHAR, artist VARCHAR, album VARCHAR, genre VARCHAR, filename VARCHAR
//
// FLOAT[] embeddings are accepted as well.
type DuckDBLoader struct {
	// Path is the database file. Use ":memory:" only in tests.
	Path string

	// Table is the source table name. Default: "tracks".
	Table string

	// Timeout bounds the whole load. Default: 2m.
	Timeout time.Duration
}

// Load implements Loader.
func (l DuckDBLoader) Load(ctx context.Context) ([]Track, error) {
	table := l.Table
	if table == "" {
		table = DefaultTable
	}
	if !tableNamePattern.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	timeout := l.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}

	connStr := fmt.Sprintf("%s?access_mode=read_only&autoinstall_known_extensions=false&autoload_known_extensions=false", l.Path)
	db, err := sql.Open("duckdb", connStr)
	if err != nil {
		return nil, fmt.Errorf("open duckdb: %w", err)
	}
	defer db.Close() //nolint:errcheck // read-only connection

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	//nolint:gosec // table name validated against tableNamePattern
	query := fmt.Sprintf(`
		SELECT
			id,
			embedding,
			COALESCE(duration_seconds, 0),
			COALESCE(title, ''),
			COALESCE(artist, ''),
			COALESCE(album, ''),
			COALESCE(genre, ''),
			COALESCE(filename, '')
		FROM %s
		ORDER BY id
	`, table)

	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query tracks: %w", err)
	}
	defer rows.Close()

	var tracks []Track
	for rows.Next() {
		var (
			t   Track
			raw any
		)
		if err := rows.Scan(&t.ID, &raw, &t.DurationSeconds,
			&t.Metadata.Title, &t.Metadata.Artist, &t.Metadata.Album,
			&t.Metadata.Genre, &t.Metadata.Filename); err != nil {
			return nil, fmt.Errorf("scan track: %w", err)
		}
		emb, err := embeddingFromList(raw)
		if err != nil {
			return nil, fmt.Errorf("track %q: %w", t.ID, err)
		}
		t.Embedding = emb
		tracks = append(tracks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tracks: %w", err)
	}

	return tracks, nil
}

// embeddingFromList converts a DuckDB LIST value into a float64 slice.
func embeddingFromList(raw any) ([]float64, error) {
	list, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf("embedding column has type %T, expected list", raw)
	}
	out := make([]float64, len(list))
	for i, v := range list {
		switch x := v.(type) {
		case float64:
			out[i] = x
		case float32:
			out[i] = float64(x)
		case nil:
			return nil, fmt.Errorf("embedding element %d is NULL", i)
		default:
			return nil, fmt.Errorf("embedding element %d has type %T", i, v)
		}
	}
	return out, nil
}
