package ml

import (
	"sort"
)

// DBSCANParams is one candidate parameterization emitted by the auto-tuner.
type DBSCANParams struct {
	Eps        float64 `json:"eps"`
	MinSamples int     `json:"min_samples"`
}

// Eps scale sweep around the detected elbow. The elbow of a noisy
// k-distance curve is ambiguous, so several parameterizations are handed
// to the evaluator instead of trusting a single point; the composite
// scorer picks the winner.
var epsScales = []float64{0.8, 1.0, 1.2}

// SearchDBSCANParams derives candidate {eps, min_samples} pairs from the
// k-distance profile of X: the distance of every point to its k-th nearest
// neighbor, sorted ascending. The elbow is the index of the maximum second
// difference of that curve (discrete curvature maximum). Policy note: the
// upstream analysis only eyeballed this curve on a plot; maximum second
// difference is the concrete rule adopted here because a plain gradient
// argmax degenerates to the curve's tail.
func SearchDBSCANParams(X [][]float64, k int) []DBSCANParams {
	if len(X) == 0 {
		return nil
	}
	if k < 2 {
		k = 4
	}
	if k >= len(X) {
		k = len(X) - 1
	}
	if k < 1 {
		return nil
	}

	kDistances := kDistanceCurve(X, k)
	eps := elbowValue(kDistances)
	if eps <= 0 {
		// Flat profile: fall back to the largest k-distance so a single
		// dense blob still clusters.
		eps = kDistances[len(kDistances)-1]
	}
	if eps <= 0 {
		return nil
	}

	var params []DBSCANParams
	seen := map[DBSCANParams]bool{}
	for _, scale := range epsScales {
		for _, minSamples := range []int{k, k + 1} {
			p := DBSCANParams{Eps: eps * scale, MinSamples: minSamples}
			if p.Eps > 0 && !seen[p] {
				seen[p] = true
				params = append(params, p)
			}
		}
	}
	return params
}

// kDistanceCurve returns the sorted distances of each point to its k-th
// nearest neighbor.
func kDistanceCurve(X [][]float64, k int) []float64 {
	out := make([]float64, 0, len(X))
	dists := make([]float64, 0, len(X)-1)
	for i := range X {
		dists = dists[:0]
		for j := range X {
			if i == j {
				continue
			}
			dists = append(dists, euclidean(X[i], X[j]))
		}
		sort.Float64s(dists)
		idx := k - 1
		if idx >= len(dists) {
			idx = len(dists) - 1
		}
		out = append(out, dists[idx])
	}
	sort.Float64s(out)
	return out
}

// elbowValue returns the curve value at the maximum second difference.
func elbowValue(curve []float64) float64 {
	if len(curve) < 3 {
		return curve[len(curve)-1]
	}
	bestIdx, bestCurvature := len(curve)-1, 0.0
	for i := 1; i < len(curve)-1; i++ {
		curvature := curve[i+1] - 2*curve[i] + curve[i-1]
		if curvature > bestCurvature {
			bestCurvature = curvature
			bestIdx = i
		}
	}
	return curve[bestIdx]
}
