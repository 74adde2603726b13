// Resonance - Session-Scoped Music Recommendation Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/resonance

package recommend

import (
	"errors"

	"github.com/tomtom215/resonance/internal/catalog"
	"github.com/tomtom215/resonance/internal/recommend/bandit"
)

// Sentinel errors.
var (
	// ErrRecommendationsExhausted is returned once every catalog track has
	// been played or disliked in the session.
	ErrRecommendationsExhausted = errors.New("recommendations exhausted")

	// ErrUnknownTrack reports a track ID that is not in the session catalog.
	ErrUnknownTrack = errors.New("unknown track")

	// ErrSessionNotFound reports an unknown or expired session ID.
	ErrSessionNotFound = errors.New("session not found")

	// ErrNoModel reports an engine without a fitted model.
	ErrNoModel = errors.New("no model loaded")
)

// Mode is the selection strategy of one recommendation.
type Mode int

const (
	// ModeExplore picks a cluster and probes around one of its representatives.
	ModeExplore Mode = iota
	// ModeExploit targets the session taste or a recent like.
	ModeExploit
)

// String returns the lowercase mode name.
func (m Mode) String() string {
	switch m {
	case ModeExploit:
		return "exploit"
	case ModeExplore:
		return "explore"
	default:
		return "unknown"
	}
}

// Engagement classifies one listen.
type Engagement int

const (
	// EngagementSkipped is a listen between a dislike and a good listen.
	EngagementSkipped Engagement = iota
	// EngagementDisliked is a near-immediate skip or an explicit dislike.
	EngagementDisliked
	// EngagementGood is a short but real listen.
	EngagementGood
	// EngagementLiked is a substantial listen or an explicit like.
	EngagementLiked
	// EngagementFinished is a listen to (almost) the end.
	EngagementFinished
)

// String returns the lowercase engagement name.
func (e Engagement) String() string {
	switch e {
	case EngagementSkipped:
		return "skipped"
	case EngagementDisliked:
		return "disliked"
	case EngagementGood:
		return "good"
	case EngagementLiked:
		return "liked"
	case EngagementFinished:
		return "finished"
	default:
		return "unknown"
	}
}

// Positive reports whether e counts as a positive signal.
func (e Engagement) Positive() bool {
	return e >= EngagementGood
}

// Explicit is an optional explicit rating attached to feedback.
type Explicit int

const (
	// ExplicitNone leaves classification to the listen time.
	ExplicitNone Explicit = iota
	// ExplicitLike lifts the class to at least EngagementLiked.
	ExplicitLike
	// ExplicitDislike forces EngagementDisliked.
	ExplicitDislike
)

// Reason explains why a track was chosen.
type Reason string

// Recommendation reasons.
const (
	ReasonTaste          Reason = "taste"
	ReasonRecentLike     Reason = "recent_like"
	ReasonProbe          Reason = "radial_probe"
	ReasonClusterSwitch  Reason = "cluster_switch"
	ReasonBandit         Reason = "bandit"
	ReasonSmartStart     Reason = "smart_start"
	ReasonColdStart      Reason = "cold_start"
	ReasonRelaxed        Reason = "relaxed_threshold"
	ReasonWidened        Reason = "widened_pool"
	ReasonRandomFallback Reason = "random_fallback"
)

// Recommendation is one served track.
type Recommendation struct {
	Track     *catalog.Track `json:"track"`
	Mode      Mode           `json:"mode"`
	ClusterID int            `json:"cluster_id"`
	// AnchorID is the track the candidate was scored around, empty for
	// centroid and taste targets.
	AnchorID string  `json:"anchor_id,omitempty"`
	Probe    bool    `json:"probe"`
	Score    float64 `json:"score"`
	Reason   Reason  `json:"reason"`
}

// Feedback is one listen reported by the client.
type Feedback struct {
	TrackID         string   `json:"track_id"`
	ListenedSeconds float64  `json:"listened_seconds"`
	Explicit        Explicit `json:"explicit"`
}

// Stats summarizes how far a session has converged.
type Stats struct {
	SessionID string `json:"session_id"`
	Likes     int    `json:"likes"`
	Dislikes  int    `json:"dislikes"`
	Played    int    `json:"played"`

	// ClusterRatios is the share of likes per cluster.
	ClusterRatios map[int]float64 `json:"cluster_ratios"`

	// Entropy is the Shannon entropy of ClusterRatios in bits.
	Entropy float64 `json:"entropy"`

	// NormalizedEntropy is Entropy divided by its maximum, in [0,1].
	NormalizedEntropy float64 `json:"normalized_entropy"`

	Stability  float64 `json:"stability"`
	Confidence float64 `json:"confidence"`

	Streak         int          `json:"streak"`
	Drift          float64      `json:"drift"`
	FailCount      int          `json:"fail_count"`
	CurrentCluster int          `json:"current_cluster"`
	LastMode       string       `json:"last_mode"`
	Arms           []bandit.Arm `json:"arms"`
}
