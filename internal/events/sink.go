// Resonance - Session-Scoped Music Recommendation Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/resonance

package events

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	_ "github.com/duckdb/duckdb-go/v2" // DuckDB driver registration
	"github.com/rs/zerolog"

	"github.com/tomtom215/resonance/internal/metrics"
)

// SinkConfig configures the DuckDB interaction log.
type SinkConfig struct {
	// Enabled starts the sink. Default: true.
	Enabled bool `json:"enabled" koanf:"enabled"`

	// Path is the DuckDB database file. Default: /data/interactions.duckdb.
	Path string `json:"path" koanf:"path"`

	// BatchSize flushes once this many events are buffered. Default: 256.
	BatchSize int `json:"batch_size" koanf:"batch_size" validate:"gte=1"`

	// FlushInterval flushes a partial batch. Default: 5s.
	FlushInterval time.Duration `json:"flush_interval" koanf:"flush_interval" validate:"gt=0"`
}

// DefaultSinkConfig returns production defaults.
func DefaultSinkConfig() SinkConfig {
	return SinkConfig{
		Enabled:       true,
		Path:          "/data/interactions.duckdb",
		BatchSize:     256,
		FlushInterval: 5 * time.Second,
	}
}

const createInteractions = `CREATE TABLE IF NOT EXISTS interactions (
	event_id         VARCHAR PRIMARY KEY,
	ts               TIMESTAMP NOT NULL,
	session_id       VARCHAR NOT NULL,
	user_id          VARCHAR,
	collection_id    VARCHAR,
	action           VARCHAR NOT NULL,
	track_id         VARCHAR NOT NULL,
	cluster_id       INTEGER,
	mode             VARCHAR,
	reason           VARCHAR,
	anchor_id        VARCHAR,
	probe            BOOLEAN,
	score            DOUBLE,
	listened_seconds DOUBLE,
	engagement       VARCHAR,
	positive         BOOLEAN
)`

const insertInteraction = `INSERT INTO interactions (
	event_id, ts, session_id, user_id, collection_id, action, track_id, cluster_id,
	mode, reason, anchor_id, probe, score, listened_seconds, engagement, positive
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT DO NOTHING`

// DuckDBSink buffers interaction events and appends them to DuckDB in
// batches. Flushes are serialized so rows land in arrival order.
type DuckDBSink struct {
	db     *sql.DB
	cfg    SinkConfig
	logger zerolog.Logger

	mu     sync.Mutex
	buffer []*InteractionEvent

	flushMu sync.Mutex
}

// OpenDuckDBSink opens (or creates) the interaction log at cfg.Path.
//
//nolint:gocritic // zerolog.Logger is designed to be passed by value
func OpenDuckDBSink(ctx context.Context, cfg SinkConfig, logger zerolog.Logger) (*DuckDBSink, error) {
	def := DefaultSinkConfig()
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = def.FlushInterval
	}

	db, err := sql.Open("duckdb", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("open duckdb: %w", err)
	}
	if _, err := db.ExecContext(ctx, createInteractions); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create interactions table: %w", err)
	}

	s := &DuckDBSink{
		db:     db,
		cfg:    cfg,
		logger: logger.With().Str("component", "interaction-log").Logger(),
		buffer: make([]*InteractionEvent, 0, cfg.BatchSize),
	}
	s.logger.Info().Str("path", cfg.Path).Int("batch_size", cfg.BatchSize).Msg("Interaction log opened")
	return s, nil
}

// Append buffers e and reports whether a batch is full.
func (s *DuckDBSink) Append(e *InteractionEvent) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buffer = append(s.buffer, e)
	return len(s.buffer) >= s.cfg.BatchSize
}

// Buffered returns the number of events waiting for a flush.
func (s *DuckDBSink) Buffered() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.buffer)
}

// Flush writes all buffered events in one transaction. On failure the events
// are put back at the front of the buffer.
func (s *DuckDBSink) Flush(ctx context.Context) error {
	s.flushMu.Lock()
	defer s.flushMu.Unlock()

	s.mu.Lock()
	batch := s.buffer
	s.buffer = make([]*InteractionEvent, 0, s.cfg.BatchSize)
	s.mu.Unlock()
	if len(batch) == 0 {
		return nil
	}

	start := time.Now()
	if err := s.write(ctx, batch); err != nil {
		s.mu.Lock()
		s.buffer = append(batch, s.buffer...)
		s.mu.Unlock()
		return err
	}
	metrics.RecordSinkFlush(len(batch), time.Since(start))
	s.logger.Debug().Int("events", len(batch)).Dur("duration", time.Since(start)).Msg("Interaction batch flushed")
	return nil
}

func (s *DuckDBSink) write(ctx context.Context, batch []*InteractionEvent) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	stmt, err := tx.PrepareContext(ctx, insertInteraction)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close() //nolint:errcheck

	for _, e := range batch {
		if _, err := stmt.ExecContext(ctx,
			e.EventID, e.Timestamp, e.SessionID, e.UserID, e.CollectionID,
			string(e.Action), e.TrackID, e.ClusterID,
			e.Mode, e.Reason, e.AnchorID, e.Probe, e.Score,
			e.ListenedSeconds, e.Engagement, e.Positive,
		); err != nil {
			return fmt.Errorf("insert event %s: %w", e.EventID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit interactions: %w", err)
	}
	return nil
}

// Run consumes msgs until ctx is done or the channel closes, flushing full
// batches immediately and partial ones every FlushInterval. Undecodable
// messages are acknowledged and dropped.
func (s *DuckDBSink) Run(ctx context.Context, msgs <-chan *message.Message) error {
	ticker := time.NewTicker(s.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.finalFlush()
			return ctx.Err()

		case msg, ok := <-msgs:
			if !ok {
				s.finalFlush()
				return nil
			}
			e, err := Unmarshal(msg.Payload)
			if err != nil {
				s.logger.Warn().Err(err).Str("message_id", msg.UUID).Msg("Dropping undecodable interaction event")
				msg.Ack()
				continue
			}
			full := s.Append(e)
			msg.Ack()
			if full {
				if err := s.Flush(ctx); err != nil {
					s.logger.Error().Err(err).Msg("Interaction batch flush failed")
				}
			}

		case <-ticker.C:
			if err := s.Flush(ctx); err != nil {
				s.logger.Error().Err(err).Msg("Interaction batch flush failed")
			}
		}
	}
}

func (s *DuckDBSink) finalFlush() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := s.Flush(ctx); err != nil {
		s.logger.Error().Err(err).Int("dropped", s.Buffered()).Msg("Final interaction flush failed")
	}
}

// ActionCounts returns the number of logged events per action.
func (s *DuckDBSink) ActionCounts(ctx context.Context) (map[Action]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT action, COUNT(*) FROM interactions GROUP BY action`)
	if err != nil {
		return nil, fmt.Errorf("count interactions: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	out := make(map[Action]int)
	for rows.Next() {
		var (
			action string
			n      int
		)
		if err := rows.Scan(&action, &n); err != nil {
			return nil, fmt.Errorf("scan interaction count: %w", err)
		}
		out[Action(action)] = n
	}
	return out, rows.Err()
}

// Close flushes pending events and closes the database.
func (s *DuckDBSink) Close() error {
	s.finalFlush()
	return s.db.Close()
}
