package ml

import (
	"fmt"
	"math"
	"math/rand"
	"time"
)

// Temporal feature names shared by training and inference. Day of week
// follows the upstream scraper's convention: 0=Monday .. 6=Sunday.
const (
	FeatureDayOfWeek = "day_of_week"
	FeatureHour      = "hour"
	FeatureMonth     = "month"
)

// TemporalFeatureNames returns the regression feature order.
func TemporalFeatureNames() []string {
	return []string{FeatureDayOfWeek, FeatureHour, FeatureMonth}
}

// TemporalFeatures derives the feature map from a timestamp.
func TemporalFeatures(t time.Time) map[string]float64 {
	return map[string]float64{
		FeatureDayOfWeek: float64((int(t.Weekday()) + 6) % 7), // Go Sunday=0 -> Monday=0
		FeatureHour:      float64(t.Hour()),
		FeatureMonth:     float64(int(t.Month())),
	}
}

// ParseDateFeatures derives features from a YYYY-MM-DD date. The hour is
// fixed at 23 (end of day), matching the training-data convention for
// daily snapshots.
func ParseDateFeatures(date string) (map[string]float64, error) {
	t, err := time.Parse("2006-01-02", date)
	if err != nil {
		return nil, fmt.Errorf("invalid date %q, expected YYYY-MM-DD: %w", date, err)
	}
	f := TemporalFeatures(t)
	f[FeatureHour] = 23
	return f, nil
}

// ParseDateFeaturesToday derives features for the current date with the
// same end-of-day hour convention.
func ParseDateFeaturesToday() map[string]float64 {
	f := TemporalFeatures(time.Now())
	f[FeatureHour] = 23
	return f
}

// TrainTestSplit returns deterministic shuffled train/test index sets.
// One split is shared by all candidates of a training call so their
// metrics are comparable.
func TrainTestSplit(n int, testSize float64, seed int64) (trainIdx, testIdx []int) {
	if testSize <= 0 || testSize >= 1 {
		testSize = 0.2
	}
	perm := rand.New(rand.NewSource(seed)).Perm(n)
	nTest := int(math.Round(float64(n) * testSize))
	if nTest < 1 && n > 1 {
		nTest = 1
	}
	testIdx = perm[:nTest]
	trainIdx = perm[nTest:]
	return trainIdx, testIdx
}

// StandardScaler centers and scales columns to zero mean and unit
// variance. Stored beside clustering artifacts so new points can be
// transformed with the training-time statistics.
type StandardScaler struct {
	Mean []float64 `json:"mean"`
	Std  []float64 `json:"std"`
}

// FitScaler computes column statistics over X.
func FitScaler(X [][]float64) *StandardScaler {
	if len(X) == 0 {
		return &StandardScaler{}
	}
	d := len(X[0])
	mean := make([]float64, d)
	std := make([]float64, d)
	for _, row := range X {
		for j, v := range row {
			mean[j] += v
		}
	}
	for j := range mean {
		mean[j] /= float64(len(X))
	}
	for _, row := range X {
		for j, v := range row {
			dv := v - mean[j]
			std[j] += dv * dv
		}
	}
	for j := range std {
		std[j] = math.Sqrt(std[j] / float64(len(X)))
		if std[j] == 0 {
			std[j] = 1
		}
	}
	return &StandardScaler{Mean: mean, Std: std}
}

// Transform scales every row of X.
func (s *StandardScaler) Transform(X [][]float64) [][]float64 {
	out := make([][]float64, len(X))
	for i, row := range X {
		out[i] = s.TransformRow(row)
	}
	return out
}

// TransformRow scales one row.
func (s *StandardScaler) TransformRow(x []float64) []float64 {
	out := make([]float64, len(x))
	for j, v := range x {
		if j < len(s.Mean) {
			out[j] = (v - s.Mean[j]) / s.Std[j]
		} else {
			out[j] = v
		}
	}
	return out
}

// subset selects rows of X and y by index.
func subset(X [][]float64, y []float64, idx []int) ([][]float64, []float64) {
	Xs := make([][]float64, len(idx))
	ys := make([]float64, len(idx))
	for i, k := range idx {
		Xs[i] = X[k]
		ys[i] = y[k]
	}
	return Xs, ys
}

func euclidean(a, b []float64) float64 {
	var sum float64
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return math.Sqrt(sum)
}
