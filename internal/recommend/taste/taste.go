// Resonance - Session-Scoped Music Recommendation Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/resonance

// Package taste maintains a session's unit-norm preference vector.
//
// Updates are asymmetric: positive feedback pulls the vector toward a track
// faster than negative feedback pushes it away, and longer listens weigh more.
package taste

import (
	"errors"
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/tomtom215/resonance/internal/vector"
)

// ErrStaleState reports that an update produced a degenerate vector. The
// vector has been reset and the session continues without a taste.
var ErrStaleState = errors.New("taste vector degenerated; reset")

// Config holds the learning rates.
type Config struct {
	// PositiveRate scales updates toward liked tracks. Default: 0.25.
	PositiveRate float64 `json:"positive_rate" koanf:"positive_rate" validate:"gt=0,lte=1"`

	// NegativeRate scales updates away from disliked tracks. Default: 0.12.
	NegativeRate float64 `json:"negative_rate" koanf:"negative_rate" validate:"gt=0,lte=1"`

	// EngagementUnitSeconds is the listen time that yields a positive scale of 1.
	// Default: 60.
	EngagementUnitSeconds float64 `json:"engagement_unit_seconds" koanf:"engagement_unit_seconds" validate:"gt=0"`

	// MaxPositiveScale caps the engagement multiplier. Default: 2.
	MaxPositiveScale float64 `json:"max_positive_scale" koanf:"max_positive_scale" validate:"gt=0"`

	// QuickRejectSeconds marks negatives shorter than this as weak. Default: 3.
	QuickRejectSeconds float64 `json:"quick_reject_seconds" koanf:"quick_reject_seconds" validate:"gte=0"`

	// QuickRejectScale multiplies weak negatives. Default: 0.5.
	QuickRejectScale float64 `json:"quick_reject_scale" koanf:"quick_reject_scale" validate:"gt=0,lte=1"`
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		PositiveRate:          0.25,
		NegativeRate:          0.12,
		EngagementUnitSeconds: 60,
		MaxPositiveScale:      2,
		QuickRejectSeconds:    3,
		QuickRejectScale:      0.5,
	}
}

// Vector is a nullable unit-norm taste vector. The zero value is null.
type Vector struct {
	cfg Config
	v   []float64
}

// New returns a null vector.
func New(cfg Config) *Vector {
	return &Vector{cfg: cfg}
}

// IsNull reports whether no positive signal has initialized the vector.
func (t *Vector) IsNull() bool { return t.v == nil }

// Value returns a copy of the vector, or nil when null.
func (t *Vector) Value() []float64 { return vector.Clone(t.v) }

// Set replaces the vector with normalize(v). A degenerate v makes it null.
func (t *Vector) Set(v []float64) {
	u, ok := vector.Normalize(v)
	if !ok {
		t.v = nil
		return
	}
	t.v = u
}

// Reset makes the vector null.
func (t *Vector) Reset() { t.v = nil }

// Update moves the vector toward (direction > 0) or away from (direction <= 0)
// vec, weighted by engagementSeconds.
//
// A null vector is initialized to normalize(vec) by a positive update and left
// null by a negative one. If the update yields a zero or non-finite vector the
// vector is reset to null and ErrStaleState is returned.
func (t *Vector) Update(vec []float64, direction int, engagementSeconds float64) error {
	if t.v == nil {
		if direction > 0 {
			t.Set(vec)
			if t.v == nil {
				return ErrStaleState
			}
		}
		return nil
	}
	if len(vec) != len(t.v) {
		return nil
	}

	delta := make([]float64, len(vec))
	floats.SubTo(delta, vec, t.v)

	var step float64
	if direction > 0 {
		scale := math.Min(engagementSeconds/t.cfg.EngagementUnitSeconds, t.cfg.MaxPositiveScale)
		step = t.cfg.PositiveRate * math.Max(scale, 0)
	} else {
		scale := 1.0
		if engagementSeconds < t.cfg.QuickRejectSeconds {
			scale = t.cfg.QuickRejectScale
		}
		step = -t.cfg.NegativeRate * scale
	}

	next := vector.Clone(t.v)
	floats.AddScaled(next, step, delta)

	u, ok := vector.Normalize(next)
	if !ok || !vector.IsFinite(u) {
		t.v = nil
		return ErrStaleState
	}
	t.v = u
	return nil
}

// Similarity returns the cosine between the vector and v, or 0 when null.
func (t *Vector) Similarity(v []float64) float64 {
	if t.v == nil {
		return 0
	}
	return vector.Cosine(t.v, v)
}
