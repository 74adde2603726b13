// Resonance - Session-Scoped Music Recommendation Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/resonance

package affinity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/pgvector/pgvector-go"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"github.com/tomtom215/resonance/internal/logging"
)

// SQL drivers.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// SQLConfig configures a SQLStore.
type SQLConfig struct {
	// Driver is "postgres" or "sqlite". Default: postgres.
	Driver string `json:"driver" koanf:"driver" validate:"oneof=postgres sqlite"`

	// DSN is the driver connection string.
	DSN string `json:"-" koanf:"dsn"`

	// AutoMigrate creates the tables on open. On Postgres it also creates the
	// vector extension. Default: true.
	AutoMigrate bool `json:"auto_migrate" koanf:"auto_migrate"`

	// MaxOpenConns bounds the connection pool. Default: 10.
	MaxOpenConns int `json:"max_open_conns" koanf:"max_open_conns" validate:"gte=1"`
}

// DefaultSQLConfig returns production defaults.
func DefaultSQLConfig() SQLConfig {
	return SQLConfig{
		Driver:       DriverPostgres,
		AutoMigrate:  true,
		MaxOpenConns: 10,
	}
}

// affinityRow is the cluster_affinity table.
type affinityRow struct {
	UserID             string     `gorm:"primaryKey;size:255"`
	CollectionID       string     `gorm:"primaryKey;size:255"`
	ClusterID          int        `gorm:"primaryKey;autoIncrement:false"`
	PositiveSignals    int64      `gorm:"not null;default:0"`
	TotalListenSeconds float64    `gorm:"not null;default:0"`
	TrackCount         int64      `gorm:"not null;default:0"`
	RejectionCount     int64      `gorm:"not null;default:0"`
	LastPositiveAt     *time.Time
}

func (affinityRow) TableName() string { return "cluster_affinity" }

func (r *affinityRow) record() Record {
	out := Record{
		UserID:             r.UserID,
		ClusterID:          r.ClusterID,
		CollectionID:       r.CollectionID,
		PositiveSignals:    r.PositiveSignals,
		TotalListenSeconds: r.TotalListenSeconds,
		TrackCount:         r.TrackCount,
		RejectionCount:     r.RejectionCount,
	}
	if r.LastPositiveAt != nil {
		out.LastPositiveAt = r.LastPositiveAt.UTC()
	}
	return out
}

// negativeRow is the cluster_negatives table. Vectors are stored as pgvector
// values, which SQLite keeps as their text form.
type negativeRow struct {
	ID           uint64          `gorm:"primaryKey;autoIncrement"`
	UserID       string          `gorm:"size:255;not null;index:idx_cluster_negatives_lookup,priority:1"`
	CollectionID string          `gorm:"size:255;not null;index:idx_cluster_negatives_lookup,priority:2"`
	ClusterID    int             `gorm:"not null;index:idx_cluster_negatives_lookup,priority:3"`
	Vector       pgvector.Vector `gorm:"type:vector"`
	TrackID      string          `gorm:"size:255;not null"`
	CreatedAt    time.Time       `gorm:"not null"`
}

func (negativeRow) TableName() string { return "cluster_negatives" }

func (r *negativeRow) exemplar() NegativeExemplar {
	src := r.Vector.Slice()
	vec := make([]float64, len(src))
	for i, x := range src {
		vec[i] = float64(x)
	}
	return NegativeExemplar{
		UserID:       r.UserID,
		ClusterID:    r.ClusterID,
		CollectionID: r.CollectionID,
		Vector:       vec,
		TrackID:      r.TrackID,
		CreatedAt:    r.CreatedAt.UTC(),
	}
}

func toPGVector(v []float64) pgvector.Vector {
	f := make([]float32, len(v))
	for i, x := range v {
		f[i] = float32(x)
	}
	return pgvector.NewVector(f)
}

// SQLStore persists affinity through gorm on Postgres (with pgvector) or
// SQLite. Negative vectors round-trip at float32 precision.
type SQLStore struct {
	db     *gorm.DB
	driver string
	now    func() time.Time
}

// OpenSQL connects to the configured database.
func OpenSQL(ctx context.Context, cfg SQLConfig) (*SQLStore, error) {
	var dialector gorm.Dialector
	switch cfg.Driver {
	case DriverPostgres, "":
		cfg.Driver = DriverPostgres
		dialector = postgres.Open(cfg.DSN)
	case DriverSQLite:
		dialector = sqlite.Open(cfg.DSN)
	default:
		return nil, errors.Join(ErrInvalidArgument, fmt.Errorf("unknown sql driver %q", cfg.Driver))
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", ErrUnavailable, cfg.Driver, err)
	}
	if cfg.MaxOpenConns > 0 {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
		}
	}

	s := &SQLStore{db: db, driver: cfg.Driver, now: time.Now}
	if cfg.AutoMigrate {
		if err := s.Migrate(ctx); err != nil {
			_ = s.Close()
			return nil, err
		}
	}

	logging.Info().Str("driver", cfg.Driver).Bool("auto_migrate", cfg.AutoMigrate).Msg("Affinity store opened")
	return s, nil
}

// NewSQLStore wraps an existing gorm handle. The caller owns migrations.
func NewSQLStore(db *gorm.DB) *SQLStore {
	return &SQLStore{db: db, driver: db.Dialector.Name(), now: time.Now}
}

// Migrate creates the tables and, on Postgres, the vector extension.
func (s *SQLStore) Migrate(ctx context.Context) error {
	db := s.db.WithContext(ctx)
	if s.driver == DriverPostgres {
		if err := db.Exec("CREATE EXTENSION IF NOT EXISTS vector").Error; err != nil {
			return fmt.Errorf("create vector extension: %w", err)
		}
	}
	if err := db.AutoMigrate(&affinityRow{}, &negativeRow{}); err != nil {
		return fmt.Errorf("migrate affinity tables: %w", err)
	}
	return nil
}

// GetUserClusterHistory implements Store.
func (s *SQLStore) GetUserClusterHistory(ctx context.Context, userID, collectionID string, limit int) ([]Record, error) {
	var rows []affinityRow
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND collection_id = ?", userID, collectionID).
		Order("total_listen_seconds DESC").
		Order("cluster_id ASC").
		Limit(historyLimit(limit)).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("query cluster history: %w", err)
	}
	out := make([]Record, len(rows))
	for i := range rows {
		out[i] = rows[i].record()
	}
	return out, nil
}

// GetClusterNegatives implements Store.
func (s *SQLStore) GetClusterNegatives(ctx context.Context, userID string, clusterID int, collectionID string, limit int) ([]NegativeExemplar, error) {
	var rows []negativeRow
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND collection_id = ? AND cluster_id = ?", userID, collectionID, clusterID).
		Order("created_at DESC").
		Order("id DESC").
		Limit(negativeLimit(limit)).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("query cluster negatives: %w", err)
	}
	out := make([]NegativeExemplar, len(rows))
	for i := range rows {
		out[i] = rows[i].exemplar()
	}
	return out, nil
}

// UpsertClusterAffinity implements Store as a single INSERT ... ON CONFLICT
// statement, so concurrent writers for the same user never lose an increment.
func (s *SQLStore) UpsertClusterAffinity(ctx context.Context, userID string, clusterID int, collectionID string, deltaListenSeconds float64, positive bool) error {
	if err := validateUser(userID); err != nil {
		return err
	}

	now := s.now().UTC()
	row := affinityRow{
		UserID:             userID,
		CollectionID:       collectionID,
		ClusterID:          clusterID,
		TotalListenSeconds: deltaListenSeconds,
		TrackCount:         1,
	}
	updates := map[string]any{
		"total_listen_seconds": gorm.Expr("cluster_affinity.total_listen_seconds + ?", deltaListenSeconds),
		"track_count":          gorm.Expr("cluster_affinity.track_count + 1"),
	}
	if positive {
		row.PositiveSignals = 1
		row.LastPositiveAt = &now
		updates["positive_signals"] = gorm.Expr("cluster_affinity.positive_signals + 1")
		updates["last_positive_at"] = now
	} else {
		row.RejectionCount = 1
		updates["rejection_count"] = gorm.Expr("cluster_affinity.rejection_count + 1")
	}

	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}, {Name: "collection_id"}, {Name: "cluster_id"}},
		DoUpdates: clause.Assignments(updates),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("upsert cluster affinity: %w", err)
	}
	return nil
}

// AddClusterNegative implements Store.
func (s *SQLStore) AddClusterNegative(ctx context.Context, userID string, clusterID int, collectionID string, vec []float64, trackID string) error {
	if err := validateNegative(userID, vec, trackID); err != nil {
		return err
	}
	row := negativeRow{
		UserID:       userID,
		CollectionID: collectionID,
		ClusterID:    clusterID,
		Vector:       toPGVector(vec),
		TrackID:      trackID,
		CreatedAt:    s.now().UTC(),
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("insert cluster negative: %w", err)
	}
	return nil
}

// ListDislikedTracks implements Store.
func (s *SQLStore) ListDislikedTracks(ctx context.Context, userID, collectionID string) ([]string, error) {
	var ids []string
	err := s.db.WithContext(ctx).
		Model(&negativeRow{}).
		Distinct("track_id").
		Where("user_id = ? AND collection_id = ?", userID, collectionID).
		Order("track_id ASC").
		Pluck("track_id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("query disliked tracks: %w", err)
	}
	return ids, nil
}

// Close implements Store.
func (s *SQLStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
