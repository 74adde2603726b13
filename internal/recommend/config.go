// Resonance - Session-Scoped Music Recommendation Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/resonance

package recommend

import (
	"fmt"
	"time"

	"github.com/tomtom215/resonance/internal/recommend/bandit"
	"github.com/tomtom215/resonance/internal/recommend/scoring"
	"github.com/tomtom215/resonance/internal/recommend/taste"
	"github.com/tomtom215/resonance/internal/validation"
)

// Config holds every tuned constant of the session controller.
type Config struct {
	// Scoring configures the candidate scorer.
	Scoring scoring.Config `json:"scoring" koanf:"scoring"`

	// Taste configures the reinforcement-learned taste vector.
	Taste taste.Config `json:"taste" koanf:"taste"`

	// WarmStart bounds the bandit prior boost taken from affinity history.
	WarmStart bandit.WarmStartConfig `json:"warm_start" koanf:"warm_start"`

	// Engagement holds the listen-time classification thresholds.
	Engagement EngagementConfig `json:"engagement" koanf:"engagement"`

	// Strengths holds the bandit update strength per engagement class.
	Strengths StrengthConfig `json:"strengths" koanf:"strengths"`

	// MinCandidatePool is the smallest scored pool accepted before recovery.
	// Default: 10.
	MinCandidatePool int `json:"min_candidate_pool" koanf:"min_candidate_pool" validate:"gte=1"`

	// RecentLikesWindow is the number of most recent likes used as anchors.
	// Default: 5.
	RecentLikesWindow int `json:"recent_likes_window" koanf:"recent_likes_window" validate:"gte=1"`

	// LikesCapacity bounds the session like history.
	// Default: 100.
	LikesCapacity int `json:"likes_capacity" koanf:"likes_capacity" validate:"gte=1"`

	// DislikesCapacity bounds the session dislike history.
	// Default: 100.
	DislikesCapacity int `json:"dislikes_capacity" koanf:"dislikes_capacity" validate:"gte=1"`

	// HistorySize bounds the served-track history used for duplicate suppression.
	// Default: 50.
	HistorySize int `json:"history_size" koanf:"history_size" validate:"gte=1"`

	// HistoryLimit is the number of affinity records read for warm start.
	// Default: 5.
	HistoryLimit int `json:"history_limit" koanf:"history_limit" validate:"gte=1"`

	// NegativeLimit is the number of persisted negatives loaded per cluster.
	// Default: 50.
	NegativeLimit int `json:"negative_limit" koanf:"negative_limit" validate:"gte=1"`

	// ExploitProbability is the default chance of EXPLOIT once a taste exists.
	// Default: 0.8.
	ExploitProbability float64 `json:"exploit_probability" koanf:"exploit_probability" validate:"gte=0,lte=1"`

	// DriftExploitProbability replaces ExploitProbability when boredom is detected.
	// Default: 0.4.
	DriftExploitProbability float64 `json:"drift_exploit_probability" koanf:"drift_exploit_probability" validate:"gte=0,lte=1"`

	// DriftThreshold is the drift above which boredom is detected.
	// Default: 0.7.
	DriftThreshold float64 `json:"drift_threshold" koanf:"drift_threshold" validate:"gte=0,lte=1"`

	// StreakAnchorVariance is the variance around a recent-like anchor.
	// Default: 0.05.
	StreakAnchorVariance float64 `json:"streak_anchor_variance" koanf:"streak_anchor_variance" validate:"gt=0"`

	// RecoveryAnchorVariance replaces StreakAnchorVariance while failures accumulate.
	// Default: 0.2.
	RecoveryAnchorVariance float64 `json:"recovery_anchor_variance" koanf:"recovery_anchor_variance" validate:"gt=0"`

	// ProbeMinNeighbors is the neighbor count a probe anchor or candidate needs.
	// Default: 15.
	ProbeMinNeighbors int `json:"probe_min_neighbors" koanf:"probe_min_neighbors" validate:"gte=0"`

	// ProbeMinSimilarity is the average neighbor similarity a probe needs.
	// Default: 0.82.
	ProbeMinSimilarity float64 `json:"probe_min_similarity" koanf:"probe_min_similarity" validate:"gte=-1,lte=1"`

	// ProbeSimilarity is the minimum cosine of a probe candidate to its anchor.
	// Default: 0.85.
	ProbeSimilarity float64 `json:"probe_similarity" koanf:"probe_similarity" validate:"gte=-1,lte=1"`

	// ProbeVariance is the variance used to score probe candidates.
	// Default: 0.25.
	ProbeVariance float64 `json:"probe_variance" koanf:"probe_variance" validate:"gt=0"`

	// ProbeCount is the number of probe candidates kept.
	// Default: 2.
	ProbeCount int `json:"probe_count" koanf:"probe_count" validate:"gte=0"`

	// ProbeProbability is the chance a single NextTrack serves a probe.
	// Default: 0.25.
	ProbeProbability float64 `json:"probe_probability" koanf:"probe_probability" validate:"gte=0,lte=1"`

	// RepresentativeLimit is the number of representatives considered as an
	// EXPLORE anchor.
	// Default: 10.
	RepresentativeLimit int `json:"representative_limit" koanf:"representative_limit" validate:"gte=1"`

	// RepresentativeVariance is the variance around a representative anchor.
	// Default: 0.8.
	RepresentativeVariance float64 `json:"representative_variance" koanf:"representative_variance" validate:"gt=0"`

	// CentroidVariance is the variance around a centroid anchor.
	// Default: 1.0.
	CentroidVariance float64 `json:"centroid_variance" koanf:"centroid_variance" validate:"gt=0"`

	// SmartStartClusters is the number of top clusters by alpha considered
	// when history exists but the session has no likes.
	// Default: 3.
	SmartStartClusters int `json:"smart_start_clusters" koanf:"smart_start_clusters" validate:"gte=1"`

	// HardThresholdRelaxStep is added to the hard threshold during recovery.
	// Default: 0.04.
	HardThresholdRelaxStep float64 `json:"hard_threshold_relax_step" koanf:"hard_threshold_relax_step" validate:"gte=0"`

	// DuplicateSimilarity drops candidates this close to a recently served track.
	// Default: 0.95.
	DuplicateSimilarity float64 `json:"duplicate_similarity" koanf:"duplicate_similarity" validate:"gt=0,lte=1"`

	// FailThreshold is the consecutive failure count that triggers the
	// exhaustion check and the strength multiplier.
	// Default: 3.
	FailThreshold int `json:"fail_threshold" koanf:"fail_threshold" validate:"gte=1"`

	// FailCeiling forces drift to 1 once exceeded.
	// Default: 5.
	FailCeiling int `json:"fail_ceiling" koanf:"fail_ceiling" validate:"gte=1"`

	// AlignmentThreshold is the taste cosine a remaining member needs to count
	// as aligned.
	// Default: 0.70.
	AlignmentThreshold float64 `json:"alignment_threshold" koanf:"alignment_threshold" validate:"gte=-1,lte=1"`

	// MinAlignedCandidates is the aligned member count below which the locked
	// cluster counts as exhausted.
	// Default: 10.
	MinAlignedCandidates int `json:"min_aligned_candidates" koanf:"min_aligned_candidates" validate:"gte=0"`

	// FailStrengthMultiplier scales bandit updates once failures exceed
	// FailThreshold.
	// Default: 2.
	FailStrengthMultiplier float64 `json:"fail_strength_multiplier" koanf:"fail_strength_multiplier" validate:"gte=1"`

	// DriftStep is added to drift on each negative.
	// Default: 0.15.
	DriftStep float64 `json:"drift_step" koanf:"drift_step" validate:"gte=0,lte=1"`

	// DriftRecovery is subtracted from drift on a moderate positive.
	// Default: 0.2.
	DriftRecovery float64 `json:"drift_recovery" koanf:"drift_recovery" validate:"gte=0,lte=1"`

	// DriftRecoverySeconds is the listen time of a moderate positive.
	// Default: 30.
	DriftRecoverySeconds float64 `json:"drift_recovery_seconds" koanf:"drift_recovery_seconds" validate:"gte=0"`

	// DriftResetSeconds is the listen time that clears drift.
	// Default: 60.
	DriftResetSeconds float64 `json:"drift_reset_seconds" koanf:"drift_reset_seconds" validate:"gtefield=DriftRecoverySeconds"`

	// SeedCopies is the number of like copies SetSeed writes.
	// Default: 5.
	SeedCopies int `json:"seed_copies" koanf:"seed_copies" validate:"gte=1"`

	// SeedStreak is the streak SetSeed sets.
	// Default: 5.
	SeedStreak int `json:"seed_streak" koanf:"seed_streak" validate:"gte=1"`

	// SeedBoost is added to the seed cluster's alpha.
	// Default: 5.
	SeedBoost float64 `json:"seed_boost" koanf:"seed_boost" validate:"gte=0"`

	// SearchLimit bounds Search results.
	// Default: 20.
	SearchLimit int `json:"search_limit" koanf:"search_limit" validate:"gte=1"`

	// BatchMMRLambda is the relevance weight of exploratory batch diversity.
	// Default: 0.7.
	BatchMMRLambda float64 `json:"batch_mmr_lambda" koanf:"batch_mmr_lambda" validate:"gte=0,lte=1"`

	// MaxBatchSize bounds NextBatch.
	// Default: 50.
	MaxBatchSize int `json:"max_batch_size" koanf:"max_batch_size" validate:"gte=1"`

	// SessionTTL expires idle sessions from the registry.
	// Default: 24h.
	SessionTTL time.Duration `json:"session_ttl" koanf:"session_ttl" validate:"gt=0"`

	// CleanupInterval is the registry janitor period.
	// Default: 10m.
	CleanupInterval time.Duration `json:"cleanup_interval" koanf:"cleanup_interval" validate:"gt=0"`

	// Seed seeds per-session random sources. Zero seeds from the clock.
	Seed int64 `json:"seed" koanf:"seed"`
}

// EngagementConfig classifies a listen by duration.
type EngagementConfig struct {
	// DislikeSeconds: listens shorter than this are dislikes. Default: 5.
	DislikeSeconds float64 `json:"dislike_seconds" koanf:"dislike_seconds" validate:"gte=0"`

	// GoodSeconds: listens at least this long are good. Default: 20.
	GoodSeconds float64 `json:"good_seconds" koanf:"good_seconds" validate:"gtefield=DislikeSeconds"`

	// GoodFraction: listens covering this share of the track are good. Default: 0.15.
	GoodFraction float64 `json:"good_fraction" koanf:"good_fraction" validate:"gte=0,lte=1"`

	// LikeSeconds: listens at least this long are likes. Default: 45.
	LikeSeconds float64 `json:"like_seconds" koanf:"like_seconds" validate:"gtefield=GoodSeconds"`

	// LikeFraction: listens covering this share of the track are likes. Default: 0.40.
	LikeFraction float64 `json:"like_fraction" koanf:"like_fraction" validate:"gtefield=GoodFraction,lte=1"`

	// FinishSeconds: listens at least this long count as finished. Default: 120.
	FinishSeconds float64 `json:"finish_seconds" koanf:"finish_seconds" validate:"gtefield=LikeSeconds"`

	// FinishFraction: listens covering this share count as finished. Default: 0.90.
	FinishFraction float64 `json:"finish_fraction" koanf:"finish_fraction" validate:"gtefield=LikeFraction,lte=1"`

	// DefaultDuration is used for tracks without a known duration. Default: 180.
	DefaultDuration float64 `json:"default_duration" koanf:"default_duration" validate:"gt=0"`
}

// StrengthConfig maps engagement classes to bandit update strengths.
type StrengthConfig struct {
	// Good is the positive strength of a good listen. Default: 0.5.
	Good float64 `json:"good" koanf:"good" validate:"gte=0"`

	// Liked is the positive strength of a like. Default: 1.0.
	Liked float64 `json:"liked" koanf:"liked" validate:"gte=0"`

	// Finished is the positive strength of a finished track. Default: 1.5.
	Finished float64 `json:"finished" koanf:"finished" validate:"gte=0"`

	// Skipped is the negative strength of a skip. Default: 0.5.
	Skipped float64 `json:"skipped" koanf:"skipped" validate:"gte=0"`

	// Disliked is the negative strength of a dislike. Default: 1.0.
	Disliked float64 `json:"disliked" koanf:"disliked" validate:"gte=0"`
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		Scoring:   scoring.DefaultConfig(),
		Taste:     taste.DefaultConfig(),
		WarmStart: bandit.DefaultWarmStartConfig(),
		Engagement: EngagementConfig{
			DislikeSeconds:  5,
			GoodSeconds:     20,
			GoodFraction:    0.15,
			LikeSeconds:     45,
			LikeFraction:    0.40,
			FinishSeconds:   120,
			FinishFraction:  0.90,
			DefaultDuration: 180,
		},
		Strengths: StrengthConfig{
			Good:     0.5,
			Liked:    1.0,
			Finished: 1.5,
			Skipped:  0.5,
			Disliked: 1.0,
		},
		MinCandidatePool:        10,
		RecentLikesWindow:       5,
		LikesCapacity:           100,
		DislikesCapacity:        100,
		HistorySize:             50,
		HistoryLimit:            5,
		NegativeLimit:           50,
		ExploitProbability:      0.8,
		DriftExploitProbability: 0.4,
		DriftThreshold:          0.7,
		StreakAnchorVariance:    0.05,
		RecoveryAnchorVariance:  0.2,
		ProbeMinNeighbors:       15,
		ProbeMinSimilarity:      0.82,
		ProbeSimilarity:         0.85,
		ProbeVariance:           0.25,
		ProbeCount:              2,
		ProbeProbability:        0.25,
		RepresentativeLimit:     10,
		RepresentativeVariance:  0.8,
		CentroidVariance:        1.0,
		SmartStartClusters:      3,
		HardThresholdRelaxStep:  0.04,
		DuplicateSimilarity:     0.95,
		FailThreshold:           3,
		FailCeiling:             5,
		AlignmentThreshold:      0.70,
		MinAlignedCandidates:    10,
		FailStrengthMultiplier:  2,
		DriftStep:               0.15,
		DriftRecovery:           0.2,
		DriftRecoverySeconds:    30,
		DriftResetSeconds:       60,
		SeedCopies:              5,
		SeedStreak:              5,
		SeedBoost:               5,
		SearchLimit:             20,
		BatchMMRLambda:          0.7,
		MaxBatchSize:            50,
		SessionTTL:              24 * time.Hour,
		CleanupInterval:         10 * time.Minute,
	}
}

// Validate checks field ranges and cross-field constraints.
func (c *Config) Validate() error {
	if err := validation.ValidateStruct(c); err != nil {
		return fmt.Errorf("recommend config: %w", err)
	}
	if c.FailCeiling < c.FailThreshold {
		return fmt.Errorf("recommend.fail_ceiling (%d) must be at least fail_threshold (%d)", c.FailCeiling, c.FailThreshold)
	}
	if c.RecentLikesWindow > c.LikesCapacity {
		return fmt.Errorf("recommend.recent_likes_window (%d) exceeds likes_capacity (%d)", c.RecentLikesWindow, c.LikesCapacity)
	}
	if c.SeedCopies > c.LikesCapacity {
		return fmt.Errorf("recommend.seed_copies (%d) exceeds likes_capacity (%d)", c.SeedCopies, c.LikesCapacity)
	}
	if c.Scoring.HardThreshold+c.HardThresholdRelaxStep > 1 {
		return fmt.Errorf("recommend.hard_threshold_relax_step %v pushes scoring.hard_threshold %v above 1",
			c.HardThresholdRelaxStep, c.Scoring.HardThreshold)
	}
	return nil
}
