// Resonance - Session-Scoped Music Recommendation Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/resonance

// Package vector provides the small set of dense-vector helpers shared by the
// catalog, clustering and scoring packages. All functions treat their inputs as
// read-only and allocate new slices for results.
package vector

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

// Dot returns the dot product of a and b.
// Returns 0 if the lengths differ or either vector is empty.
func Dot(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	return floats.Dot(a, b)
}

// Norm returns the Euclidean length of v.
func Norm(v []float64) float64 {
	if len(v) == 0 {
		return 0
	}
	return floats.Norm(v, 2)
}

// Cosine returns the cosine similarity of a and b.
// Zero-length or zero-norm inputs yield 0.
func Cosine(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	na := floats.Norm(a, 2)
	nb := floats.Norm(b, 2)
	if na == 0 || nb == 0 {
		return 0
	}
	return floats.Dot(a, b) / (na * nb)
}

// Distance returns the Euclidean distance between a and b.
// Mismatched lengths yield +Inf so callers never select them as nearest.
func Distance(a, b []float64) float64 {
	if len(a) != len(b) {
		return math.Inf(1)
	}
	return floats.Distance(a, b, 2)
}

// SquaredDistance returns the squared Euclidean distance between a and b.
func SquaredDistance(a, b []float64) float64 {
	d := Distance(a, b)
	return d * d
}

// Normalize returns a unit-length copy of v.
// The boolean is false when v has zero or non-finite norm, in which case the
// returned slice is nil.
func Normalize(v []float64) ([]float64, bool) {
	n := Norm(v)
	if n == 0 || math.IsNaN(n) || math.IsInf(n, 0) {
		return nil, false
	}
	out := Clone(v)
	floats.Scale(1/n, out)
	return out, true
}

// Clone returns a copy of v.
func Clone(v []float64) []float64 {
	if v == nil {
		return nil
	}
	out := make([]float64, len(v))
	copy(out, v)
	return out
}

// Mean returns the element-wise mean of vs.
// Returns nil for an empty input. All vectors must share the same length.
func Mean(vs [][]float64) []float64 {
	if len(vs) == 0 {
		return nil
	}
	out := make([]float64, len(vs[0]))
	for _, v := range vs {
		floats.Add(out, v)
	}
	floats.Scale(1/float64(len(vs)), out)
	return out
}

// Blend returns wa*a + wb*b.
func Blend(a []float64, wa float64, b []float64, wb float64) []float64 {
	out := make([]float64, len(a))
	floats.AddScaled(out, wa, a)
	floats.AddScaled(out, wb, b)
	return out
}

// IsFinite reports whether every component of v is a finite number.
func IsFinite(v []float64) bool {
	for _, x := range v {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return false
		}
	}
	return true
}

// IsUnit reports whether v has unit norm within tol.
func IsUnit(v []float64, tol float64) bool {
	return math.Abs(Norm(v)-1) <= tol
}
