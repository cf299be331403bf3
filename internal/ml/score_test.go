package ml

import (
	"errors"
	"math"
	"testing"
	"time"
)

func rankedFixture() []RankedRun {
	base := time.Date(2025, 7, 1, 12, 0, 0, 0, time.UTC)
	return []RankedRun{
		{RunID: "run-a", Algorithm: AlgoLinearRegression, TrainedAt: base,
			Metrics: MetricVector{MetricR2: 0.90, MetricRMSE: 12, MetricMAE: 9}},
		{RunID: "run-b", Algorithm: AlgoRandomForest, TrainedAt: base,
			Metrics: MetricVector{MetricR2: 0.95, MetricRMSE: 20, MetricMAE: 15}},
		{RunID: "run-c", Algorithm: AlgoKNN, TrainedAt: base,
			Metrics: MetricVector{MetricR2: 0.40, MetricRMSE: 5, MetricMAE: 4}},
	}
}

func TestRankDefaultUsesPrimaryMetric(t *testing.T) {
	ranked, err := Rank(rankedFixture(), nil, FamilyRegression)
	if err != nil {
		t.Fatalf("Rank: %v", err)
	}
	want := []string{"run-b", "run-a", "run-c"}
	for i, id := range want {
		if ranked[i].RunID != id {
			t.Errorf("rank %d = %s, want %s", i, ranked[i].RunID, id)
		}
	}
}

func TestRankSingleWeightOnLowerIsBetter(t *testing.T) {
	// Full weight on RMSE flips the order: run-c has the lowest error.
	ranked, err := Rank(rankedFixture(), map[string]float64{MetricRMSE: 1}, FamilyRegression)
	if err != nil {
		t.Fatalf("Rank: %v", err)
	}
	if ranked[0].RunID != "run-c" {
		t.Errorf("rank 0 = %s, want run-c", ranked[0].RunID)
	}
	if ranked[2].RunID != "run-b" {
		t.Errorf("rank 2 = %s, want run-b", ranked[2].RunID)
	}
}

func TestRankFullPrimaryWeightMatchesDefault(t *testing.T) {
	// A weight map carrying only the primary metric degenerates to the
	// default ranking: min-max normalization is monotone, so the whole
	// order must agree, not just the winner.
	def, err := Rank(rankedFixture(), nil, FamilyRegression)
	if err != nil {
		t.Fatalf("Rank default: %v", err)
	}
	weighted, err := Rank(rankedFixture(), map[string]float64{PrimaryMetric(FamilyRegression): 1}, FamilyRegression)
	if err != nil {
		t.Fatalf("Rank weighted: %v", err)
	}
	if len(def) != len(weighted) {
		t.Fatalf("lengths differ: %d vs %d", len(def), len(weighted))
	}
	for i := range def {
		if def[i].RunID != weighted[i].RunID {
			t.Errorf("rank %d: default %s, primary-weighted %s", i, def[i].RunID, weighted[i].RunID)
		}
	}
}

func TestRankMissingPrimarySortsLast(t *testing.T) {
	runs := rankedFixture()
	delete(runs[1].Metrics, MetricR2) // run-b loses its primary metric

	ranked, err := Rank(runs, nil, FamilyRegression)
	if err != nil {
		t.Fatalf("Rank: %v", err)
	}
	if ranked[len(ranked)-1].RunID != "run-b" {
		t.Errorf("last = %s, want run-b (missing primary metric)", ranked[len(ranked)-1].RunID)
	}
}

func TestRankTieBreaksByRecency(t *testing.T) {
	base := time.Date(2025, 7, 1, 12, 0, 0, 0, time.UTC)
	runs := []RankedRun{
		{RunID: "old", TrainedAt: base, Metrics: MetricVector{MetricR2: 0.5}},
		{RunID: "new", TrainedAt: base.Add(time.Hour), Metrics: MetricVector{MetricR2: 0.5}},
	}
	ranked, err := Rank(runs, nil, FamilyRegression)
	if err != nil {
		t.Fatalf("Rank: %v", err)
	}
	if ranked[0].RunID != "new" {
		t.Errorf("rank 0 = %s, want new (recency tie-break)", ranked[0].RunID)
	}
}

func TestRankIgnoresUnknownWeightNames(t *testing.T) {
	weights := map[string]float64{MetricR2: 1, "bogus_metric": 5}
	ranked, err := Rank(rankedFixture(), weights, FamilyRegression)
	if err != nil {
		t.Fatalf("Rank: %v", err)
	}
	if ranked[0].RunID != "run-b" {
		t.Errorf("rank 0 = %s, want run-b", ranked[0].RunID)
	}
}

func TestRankDoesNotMutateInput(t *testing.T) {
	runs := rankedFixture()
	if _, err := Rank(runs, nil, FamilyRegression); err != nil {
		t.Fatalf("Rank: %v", err)
	}
	if runs[0].RunID != "run-a" {
		t.Error("Rank reordered its input slice")
	}
}

func TestValidateWeights(t *testing.T) {
	cases := []struct {
		name    string
		weights map[string]float64
		wantErr bool
	}{
		{"nil is default ranking", nil, false},
		{"valid single", map[string]float64{MetricR2: 1}, false},
		{"valid mixed with unknown", map[string]float64{MetricR2: 1, "bogus": 3}, false},
		{"negative", map[string]float64{MetricR2: -1}, true},
		{"nan", map[string]float64{MetricR2: math.NaN()}, true},
		{"inf", map[string]float64{MetricRMSE: math.Inf(1)}, true},
		{"all recognized zero", map[string]float64{MetricR2: 0, MetricRMSE: 0}, true},
		{"only unknown names", map[string]float64{"bogus": 1}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateWeights(tc.weights, FamilyRegression)
			if tc.wantErr && !errors.Is(err, ErrInvalidWeights) {
				t.Errorf("err = %v, want ErrInvalidWeights", err)
			}
			if !tc.wantErr && err != nil {
				t.Errorf("err = %v, want nil", err)
			}
		})
	}
}

func TestPrimaryMetricPerFamily(t *testing.T) {
	if got := PrimaryMetric(FamilyRegression); got != MetricR2 {
		t.Errorf("regression primary = %s, want %s", got, MetricR2)
	}
	if got := PrimaryMetric(FamilyClustering); got != MetricSilhouette {
		t.Errorf("clustering primary = %s, want %s", got, MetricSilhouette)
	}
}
