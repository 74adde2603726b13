// Resonance - Session-Scoped Music Recommendation Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/resonance

package affinity

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/goccy/go-json"
	goredis "github.com/redis/go-redis/v9"

	"github.com/tomtom215/resonance/internal/logging"
)

// Hash fields of an affinity record.
const (
	fieldPositive     = "positive_signals"
	fieldListen       = "total_listen_seconds"
	fieldTracks       = "track_count"
	fieldRejections   = "rejection_count"
	fieldLastPositive = "last_positive_at"
)

// RedisConfig configures a RedisStore.
type RedisConfig struct {
	// Addr is host:port. Default: localhost:6379.
	Addr string `json:"addr" koanf:"addr" validate:"required"`

	// Password is the AUTH password.
	Password string `json:"-" koanf:"password"`

	// DB is the logical database number. Default: 0.
	DB int `json:"db" koanf:"db" validate:"gte=0"`

	// KeyPrefix namespaces every key. Default: resonance.
	KeyPrefix string `json:"key_prefix" koanf:"key_prefix"`

	// MaxNegatives caps the stored exemplars per cluster. Default: 500.
	MaxNegatives int `json:"max_negatives" koanf:"max_negatives" validate:"gte=1"`

	// DialTimeout bounds connection setup. Default: 5s.
	DialTimeout time.Duration `json:"dial_timeout" koanf:"dial_timeout"`
}

// DefaultRedisConfig returns production defaults.
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:         "localhost:6379",
		KeyPrefix:    "resonance",
		MaxNegatives: 500,
		DialTimeout:  5 * time.Second,
	}
}

// RedisStore persists affinity in Redis. Counters are updated with
// HINCRBY/HINCRBYFLOAT in a MULTI/EXEC pipeline; negatives are capped lists.
type RedisStore struct {
	rdb *goredis.Client
	cfg RedisConfig
	now func() time.Time
}

// OpenRedis connects and pings the server.
func OpenRedis(ctx context.Context, cfg RedisConfig) (*RedisStore, error) {
	rdb := goredis.NewClient(&goredis.Options{
		Addr:        cfg.Addr,
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: cfg.DialTimeout,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("%w: redis ping: %v", ErrUnavailable, err)
	}

	logging.Info().Str("addr", cfg.Addr).Int("db", cfg.DB).Msg("Affinity store opened")
	return NewRedisStore(rdb, cfg), nil
}

// NewRedisStore wraps an existing client.
func NewRedisStore(rdb *goredis.Client, cfg RedisConfig) *RedisStore {
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "resonance"
	}
	if cfg.MaxNegatives <= 0 {
		cfg.MaxNegatives = DefaultRedisConfig().MaxNegatives
	}
	return &RedisStore{rdb: rdb, cfg: cfg, now: time.Now}
}

func (s *RedisStore) recordKey(userID, collectionID string, clusterID int) string {
	return fmt.Sprintf("%s:aff:{%s}:%s:%d", s.cfg.KeyPrefix, userID, collectionID, clusterID)
}

// indexKey is the set of cluster IDs with a record.
func (s *RedisStore) indexKey(userID, collectionID string) string {
	return fmt.Sprintf("%s:affidx:{%s}:%s", s.cfg.KeyPrefix, userID, collectionID)
}

func (s *RedisStore) negativeKey(userID, collectionID string, clusterID int) string {
	return fmt.Sprintf("%s:neg:{%s}:%s:%d", s.cfg.KeyPrefix, userID, collectionID, clusterID)
}

func (s *RedisStore) dislikedKey(userID, collectionID string) string {
	return fmt.Sprintf("%s:dis:{%s}:%s", s.cfg.KeyPrefix, userID, collectionID)
}

// GetUserClusterHistory implements Store.
func (s *RedisStore) GetUserClusterHistory(ctx context.Context, userID, collectionID string, limit int) ([]Record, error) {
	members, err := s.rdb.SMembers(ctx, s.indexKey(userID, collectionID)).Result()
	if err != nil {
		return nil, fmt.Errorf("read cluster index: %w", err)
	}
	if len(members) == 0 {
		return nil, nil
	}

	ids := make([]int, 0, len(members))
	for _, m := range members {
		id, err := strconv.Atoi(m)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	sort.Ints(ids)

	pipe := s.rdb.Pipeline()
	cmds := make([]*goredis.MapStringStringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.HGetAll(ctx, s.recordKey(userID, collectionID, id))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, goredis.Nil) {
		return nil, fmt.Errorf("read cluster records: %w", err)
	}

	out := make([]Record, 0, len(ids))
	for i, id := range ids {
		fields, err := cmds[i].Result()
		if err != nil || len(fields) == 0 {
			continue
		}
		out = append(out, parseRecordHash(userID, collectionID, id, fields))
	}
	return sortHistory(out, historyLimit(limit)), nil
}

func parseRecordHash(userID, collectionID string, clusterID int, f map[string]string) Record {
	r := Record{UserID: userID, ClusterID: clusterID, CollectionID: collectionID}
	r.PositiveSignals, _ = strconv.ParseInt(f[fieldPositive], 10, 64)
	r.TotalListenSeconds, _ = strconv.ParseFloat(f[fieldListen], 64)
	r.TrackCount, _ = strconv.ParseInt(f[fieldTracks], 10, 64)
	r.RejectionCount, _ = strconv.ParseInt(f[fieldRejections], 10, 64)
	if ts, err := strconv.ParseInt(f[fieldLastPositive], 10, 64); err == nil && ts > 0 {
		r.LastPositiveAt = time.Unix(0, ts).UTC()
	}
	return r
}

// GetClusterNegatives implements Store.
func (s *RedisStore) GetClusterNegatives(ctx context.Context, userID string, clusterID int, collectionID string, limit int) ([]NegativeExemplar, error) {
	raw, err := s.rdb.LRange(ctx, s.negativeKey(userID, collectionID, clusterID), 0, int64(negativeLimit(limit))-1).Result()
	if err != nil {
		return nil, fmt.Errorf("read cluster negatives: %w", err)
	}
	out := make([]NegativeExemplar, 0, len(raw))
	for _, item := range raw {
		var ex NegativeExemplar
		if err := json.Unmarshal([]byte(item), &ex); err != nil {
			logging.Warn().Err(err).Str("user_id", userID).Int("cluster_id", clusterID).Msg("Skipping undecodable negative exemplar")
			continue
		}
		out = append(out, ex)
	}
	return out, nil
}

// UpsertClusterAffinity implements Store.
func (s *RedisStore) UpsertClusterAffinity(ctx context.Context, userID string, clusterID int, collectionID string, deltaListenSeconds float64, positive bool) error {
	if err := validateUser(userID); err != nil {
		return err
	}

	key := s.recordKey(userID, collectionID, clusterID)
	_, err := s.rdb.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.HIncrByFloat(ctx, key, fieldListen, deltaListenSeconds)
		pipe.HIncrBy(ctx, key, fieldTracks, 1)
		if positive {
			pipe.HIncrBy(ctx, key, fieldPositive, 1)
			pipe.HSet(ctx, key, fieldLastPositive, s.now().UnixNano())
		} else {
			pipe.HIncrBy(ctx, key, fieldRejections, 1)
		}
		pipe.SAdd(ctx, s.indexKey(userID, collectionID), clusterID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("upsert cluster affinity: %w", err)
	}
	return nil
}

// AddClusterNegative implements Store.
func (s *RedisStore) AddClusterNegative(ctx context.Context, userID string, clusterID int, collectionID string, vec []float64, trackID string) error {
	if err := validateNegative(userID, vec, trackID); err != nil {
		return err
	}
	data, err := json.Marshal(&NegativeExemplar{
		UserID:       userID,
		ClusterID:    clusterID,
		CollectionID: collectionID,
		Vector:       vec,
		TrackID:      trackID,
		CreatedAt:    s.now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("marshal negative exemplar: %w", err)
	}

	key := s.negativeKey(userID, collectionID, clusterID)
	_, err = s.rdb.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.LPush(ctx, key, data)
		pipe.LTrim(ctx, key, 0, int64(s.cfg.MaxNegatives)-1)
		pipe.SAdd(ctx, s.dislikedKey(userID, collectionID), trackID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("add cluster negative: %w", err)
	}
	return nil
}

// ListDislikedTracks implements Store.
func (s *RedisStore) ListDislikedTracks(ctx context.Context, userID, collectionID string) ([]string, error) {
	ids, err := s.rdb.SMembers(ctx, s.dislikedKey(userID, collectionID)).Result()
	if err != nil {
		return nil, fmt.Errorf("read disliked tracks: %w", err)
	}
	sort.Strings(ids)
	return ids, nil
}

// Close implements Store.
func (s *RedisStore) Close() error {
	return s.rdb.Close()
}
