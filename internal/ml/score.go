package ml

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"time"
)

// ErrInvalidWeights is returned for an unparsable or malformed weight map.
// Weights naming unknown metrics are NOT invalid; unknown names are
// ignored.
var ErrInvalidWeights = errors.New("invalid metric weights")

// RankedRun is the scorer's view of a candidate: just enough to order it.
type RankedRun struct {
	RunID     string
	Algorithm string
	TrainedAt time.Time
	Metrics   MetricVector
	Score     float64
}

// Metrics whose "better" direction is inverted: lower is better. These are
// sign-flipped during normalization so every weighted term is
// higher-is-better.
var lowerIsBetter = map[string]bool{
	MetricRMSE:          true,
	MetricMAE:           true,
	MetricCVR2Std:       true,
	MetricDaviesBouldin: true,
}

// Recognized weight keys per family; anything else in a weight map is
// ignored.
var knownMetrics = map[string]map[string]bool{
	FamilyRegression: {
		MetricR2: true, MetricRMSE: true, MetricMAE: true,
		MetricCVR2Mean: true, MetricCVR2Std: true,
	},
	FamilyClustering: {
		MetricSilhouette: true, MetricDaviesBouldin: true,
		MetricCalinskiHarabasz: true, MetricNoiseRatio: true,
	},
}

// PrimaryMetric is the default ranking metric of a family.
func PrimaryMetric(family string) string {
	if family == FamilyClustering {
		return MetricSilhouette
	}
	return MetricR2
}

// ValidateWeights rejects malformed weight maps: non-finite or negative
// values, or a map whose recognized weights are all zero. Unknown metric
// names alone never make a map invalid.
func ValidateWeights(weights map[string]float64, family string) error {
	if len(weights) == 0 {
		return nil
	}
	known := knownMetrics[family]
	anyRecognized := false
	for name, w := range weights {
		if math.IsNaN(w) || math.IsInf(w, 0) {
			return fmt.Errorf("%w: weight %q is not finite", ErrInvalidWeights, name)
		}
		if w < 0 {
			return fmt.Errorf("%w: weight %q is negative", ErrInvalidWeights, name)
		}
		if known[name] && w > 0 {
			anyRecognized = true
		}
	}
	if !anyRecognized {
		return fmt.Errorf("%w: no recognized metric carries a positive weight", ErrInvalidWeights)
	}
	return nil
}

// Rank orders candidate runs best-first. Without weights the order is the
// family's primary metric descending, ties broken by trained_at then
// run_id descending. With weights each run's composite score is the
// weighted sum of min-max-normalized metrics, lower-is-better metrics
// flipped. The ranking is pure: no wall clock beyond the tie-break fields.
func Rank(runs []RankedRun, weights map[string]float64, family string) ([]RankedRun, error) {
	out := make([]RankedRun, len(runs))
	copy(out, runs)

	if len(weights) == 0 {
		primary := PrimaryMetric(family)
		sort.SliceStable(out, func(a, b int) bool {
			return lessByMetric(out[a], out[b], primary)
		})
		for i := range out {
			if v, ok := out[i].Metrics[PrimaryMetric(family)]; ok {
				out[i].Score = v
			}
		}
		return out, nil
	}

	if err := ValidateWeights(weights, family); err != nil {
		return nil, err
	}

	known := knownMetrics[family]
	for name := range weights {
		if !known[name] {
			continue
		}
		lo, hi, any := metricRange(out, name)
		for i := range out {
			v, ok := out[i].Metrics[name]
			if !ok {
				continue
			}
			var norm float64
			if !any || hi == lo {
				norm = 1
			} else {
				norm = (v - lo) / (hi - lo)
			}
			if lowerIsBetter[name] {
				norm = 1 - norm
			}
			out[i].Score += weights[name] * norm
		}
	}

	sort.SliceStable(out, func(a, b int) bool {
		if out[a].Score != out[b].Score {
			return out[a].Score > out[b].Score
		}
		return laterRun(out[a], out[b])
	})
	return out, nil
}

// lessByMetric implements the default order: metric descending, missing
// metric sorts last, ties by recency then run id.
func lessByMetric(a, b RankedRun, metric string) bool {
	va, oka := a.Metrics[metric]
	vb, okb := b.Metrics[metric]
	if oka != okb {
		return oka
	}
	if oka && va != vb {
		return va > vb
	}
	return laterRun(a, b)
}

func laterRun(a, b RankedRun) bool {
	if !a.TrainedAt.Equal(b.TrainedAt) {
		return a.TrainedAt.After(b.TrainedAt)
	}
	return a.RunID > b.RunID
}

func metricRange(runs []RankedRun, name string) (lo, hi float64, any bool) {
	lo, hi = math.Inf(1), math.Inf(-1)
	for _, r := range runs {
		if v, ok := r.Metrics[name]; ok {
			any = true
			if v < lo {
				lo = v
			}
			if v > hi {
				hi = v
			}
		}
	}
	return lo, hi, any
}
