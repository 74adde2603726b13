// Resonance - Session-Scoped Music Recommendation Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/resonance

package cluster

import (
	"context"
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/floats"
)

// kmeansResult is one converged k-means run.
type kmeansResult struct {
	assign    []int
	centroids [][]float64
	inertia   float64
}

// kmeans partitions vecs into k clusters with greedy k-means++ seeding and
// Lloyd iterations, keeping the lowest-inertia run out of restarts.
//
// Greedy seeding samples 2+ln(k) candidates per step and keeps the one that
// reduces the potential the most, which avoids placing two seeds in the same
// well-separated group.
func kmeans(ctx context.Context, vecs [][]float64, k int, cfg Config, rng *rand.Rand) (*kmeansResult, error) {
	var best *kmeansResult
	for r := 0; r < cfg.Restarts; r++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		centroids := seedPlusPlus(vecs, k, rng)
		res, err := lloyd(ctx, vecs, centroids, cfg.MaxIterations, cfg.Tolerance)
		if err != nil {
			return nil, err
		}
		if best == nil || res.inertia < best.inertia {
			best = res
		}
	}
	return best, nil
}

func seedPlusPlus(vecs [][]float64, k int, rng *rand.Rand) [][]float64 {
	n := len(vecs)
	centroids := make([][]float64, 0, k)
	centroids = append(centroids, cloneVec(vecs[rng.IntN(n)]))

	// closest[i] is the squared distance from vecs[i] to its nearest chosen seed.
	closest := make([]float64, n)
	for i, v := range vecs {
		closest[i] = sqDist(v, centroids[0])
	}

	trials := 2 + int(math.Log(float64(k)))
	for len(centroids) < k {
		potential := floats.Sum(closest)
		bestIdx, bestPot := -1, math.Inf(1)
		for t := 0; t < trials; t++ {
			cand := sampleProportional(closest, potential, rng)
			pot := 0.0
			for i, v := range vecs {
				pot += math.Min(closest[i], sqDist(v, vecs[cand]))
			}
			if pot < bestPot {
				bestIdx, bestPot = cand, pot
			}
		}
		c := cloneVec(vecs[bestIdx])
		centroids = append(centroids, c)
		for i, v := range vecs {
			if d := sqDist(v, c); d < closest[i] {
				closest[i] = d
			}
		}
	}
	return centroids
}

// sampleProportional draws an index with probability weights[i]/total.
// Falls back to a uniform draw when every weight is zero (duplicate points).
func sampleProportional(weights []float64, total float64, rng *rand.Rand) int {
	if total <= 0 {
		return rng.IntN(len(weights))
	}
	target := rng.Float64() * total
	acc := 0.0
	for i, w := range weights {
		acc += w
		if acc >= target {
			return i
		}
	}
	return len(weights) - 1
}

func lloyd(ctx context.Context, vecs [][]float64, centroids [][]float64, maxIter int, tol float64) (*kmeansResult, error) {
	n, k := len(vecs), len(centroids)
	dim := len(vecs[0])
	assign := make([]int, n)
	dists := make([]float64, n)
	for i := range assign {
		assign[i] = -1
	}

	for iter := 0; iter < maxIter; iter++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		changed := assignNearest(vecs, centroids, assign, dists)

		sums := make([][]float64, k)
		counts := make([]int, k)
		for c := range sums {
			sums[c] = make([]float64, dim)
		}
		for i, v := range vecs {
			floats.Add(sums[assign[i]], v)
			counts[assign[i]]++
		}

		for c := 0; c < k; c++ {
			if counts[c] == 0 {
				// Re-seed an empty cluster with the worst-fit point.
				far := argmax(dists)
				old := assign[far]
				counts[old]--
				floats.Sub(sums[old], vecs[far])
				assign[far] = c
				dists[far] = 0
				counts[c] = 1
				copy(sums[c], vecs[far])
				changed = true
			}
		}

		shift := 0.0
		for c := 0; c < k; c++ {
			if counts[c] == 0 {
				continue
			}
			next := sums[c]
			floats.Scale(1/float64(counts[c]), next)
			shift += sqDist(next, centroids[c])
			centroids[c] = next
		}

		if !changed || shift <= tol {
			break
		}
	}

	assignNearest(vecs, centroids, assign, dists)
	inertia := floats.Sum(dists)
	return &kmeansResult{assign: assign, centroids: centroids, inertia: inertia}, nil
}

// assignNearest updates assign and dists in place and reports whether any
// assignment changed. Ties resolve to the lowest cluster index.
func assignNearest(vecs, centroids [][]float64, assign []int, dists []float64) bool {
	changed := false
	for i, v := range vecs {
		best, bestD := 0, math.Inf(1)
		for c, cent := range centroids {
			if d := sqDist(v, cent); d < bestD {
				best, bestD = c, d
			}
		}
		if assign[i] != best {
			assign[i] = best
			changed = true
		}
		dists[i] = bestD
	}
	return changed
}

func sqDist(a, b []float64) float64 {
	d := floats.Distance(a, b, 2)
	return d * d
}

func argmax(xs []float64) int {
	best := 0
	for i, x := range xs {
		if x > xs[best] {
			best = i
		}
	}
	return best
}

func cloneVec(v []float64) []float64 {
	out := make([]float64, len(v))
	copy(out, v)
	return out
}
