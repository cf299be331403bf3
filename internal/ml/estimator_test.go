package ml

import (
	"errors"
	"math"
	"testing"
)

// linearData builds y = 2*x0 - 3*x1 + 5 without noise.
func linearData() ([][]float64, []float64) {
	var X [][]float64
	var y []float64
	for i := 0; i < 20; i++ {
		x0 := float64(i)
		x1 := float64(i % 7)
		X = append(X, []float64{x0, x1})
		y = append(y, 2*x0-3*x1+5)
	}
	return X, y
}

func TestLinearRegressionExactFit(t *testing.T) {
	X, y := linearData()
	m := NewLinearRegression()
	if err := m.Fit(X, y); err != nil {
		t.Fatalf("Fit: %v", err)
	}

	pred, err := m.Predict([]float64{10, 3})
	if err != nil {
		t.Fatalf("Predict: %v", err)
	}
	want := 2.0*10 - 3.0*3 + 5
	if math.Abs(pred-want) > 1e-6 {
		t.Errorf("Predict = %v, want %v", pred, want)
	}
}

func TestRidgeShrinksTowardZero(t *testing.T) {
	X, y := linearData()

	ols := NewLinearRegression()
	if err := ols.Fit(X, y); err != nil {
		t.Fatalf("Fit ols: %v", err)
	}
	ridge := NewRidge(100)
	if err := ridge.Fit(X, y); err != nil {
		t.Fatalf("Fit ridge: %v", err)
	}

	norm := func(coef []float64) float64 {
		var s float64
		for _, c := range coef {
			s += c * c
		}
		return math.Sqrt(s)
	}
	if norm(ridge.state.Coef) > norm(ols.state.Coef)+1e-9 {
		t.Errorf("ridge coef norm %v exceeds ols norm %v", norm(ridge.state.Coef), norm(ols.state.Coef))
	}
}

func TestPredictRejectsWrongDimension(t *testing.T) {
	X, y := linearData()
	m := NewLinearRegression()
	if err := m.Fit(X, y); err != nil {
		t.Fatalf("Fit: %v", err)
	}
	if _, err := m.Predict([]float64{1, 2, 3}); !errors.Is(err, ErrContractMismatch) {
		t.Errorf("err = %v, want ErrContractMismatch", err)
	}
}

func TestDecisionTreeFitsStepFunction(t *testing.T) {
	var X [][]float64
	var y []float64
	for i := 0; i < 40; i++ {
		v := float64(i)
		X = append(X, []float64{v})
		if v < 20 {
			y = append(y, 10)
		} else {
			y = append(y, 50)
		}
	}

	m := NewDecisionTree(6, 2)
	if err := m.Fit(X, y); err != nil {
		t.Fatalf("Fit: %v", err)
	}
	for _, tc := range []struct{ x, want float64 }{{5, 10}, {35, 50}} {
		pred, err := m.Predict([]float64{tc.x})
		if err != nil {
			t.Fatalf("Predict(%v): %v", tc.x, err)
		}
		if math.Abs(pred-tc.want) > 1e-9 {
			t.Errorf("Predict(%v) = %v, want %v", tc.x, pred, tc.want)
		}
	}
}

func TestKNNPredictsNeighborMean(t *testing.T) {
	X := [][]float64{{0}, {1}, {2}, {10}, {11}, {12}}
	y := []float64{1, 2, 3, 100, 110, 120}

	m := NewKNN(3)
	if err := m.Fit(X, y); err != nil {
		t.Fatalf("Fit: %v", err)
	}
	pred, err := m.Predict([]float64{11})
	if err != nil {
		t.Fatalf("Predict: %v", err)
	}
	if math.Abs(pred-110) > 1e-9 {
		t.Errorf("Predict = %v, want 110", pred)
	}
}

func TestRandomForestDeterministicAcrossFits(t *testing.T) {
	X, y := linearData()

	a := NewRandomForest(20, 4, 2, 42)
	b := NewRandomForest(20, 4, 2, 42)
	if err := a.Fit(X, y); err != nil {
		t.Fatalf("Fit a: %v", err)
	}
	if err := b.Fit(X, y); err != nil {
		t.Fatalf("Fit b: %v", err)
	}

	pa, _ := a.Predict([]float64{9, 2})
	pb, _ := b.Predict([]float64{9, 2})
	if pa != pb {
		t.Errorf("same seed, different predictions: %v vs %v", pa, pb)
	}
}

func TestRegressionArtifactRoundTrip(t *testing.T) {
	X, y := linearData()
	contract := FeatureContract{Features: []string{"a", "b"}, Target: "followers"}

	for _, factory := range []func() Estimator{
		func() Estimator { return NewLinearRegression() },
		func() Estimator { return NewRidge(1.0) },
		func() Estimator { return NewDecisionTree(6, 2) },
		func() Estimator { return NewRandomForest(10, 4, 2, 42) },
		func() Estimator { return NewKNN(5) },
	} {
		est := factory()
		t.Run(est.Name(), func(t *testing.T) {
			if err := est.Fit(X, y); err != nil {
				t.Fatalf("Fit: %v", err)
			}
			want, err := est.Predict([]float64{7, 4})
			if err != nil {
				t.Fatalf("Predict: %v", err)
			}

			data, err := EncodeRegressionArtifact(est, contract)
			if err != nil {
				t.Fatalf("encode: %v", err)
			}
			restored, gotContract, err := DecodeRegressionArtifact(data)
			if err != nil {
				t.Fatalf("decode: %v", err)
			}
			if gotContract.Target != "followers" || len(gotContract.Features) != 2 {
				t.Errorf("contract lost in round trip: %+v", gotContract)
			}
			got, err := restored.Predict([]float64{7, 4})
			if err != nil {
				t.Fatalf("restored Predict: %v", err)
			}
			if math.Abs(got-want) > 1e-12 {
				t.Errorf("restored prediction %v differs from original %v", got, want)
			}
		})
	}
}

func TestClusteringArtifactRoundTrip(t *testing.T) {
	X := [][]float64{{0, 0}, {0.1, 0}, {0, 0.1}, {5, 5}, {5.1, 5}, {5, 5.1}}
	scaler := FitScaler(X)
	Xs := scaler.Transform(X)
	contract := FeatureContract{Features: []string{"engagement_rate", "views"}}

	km := NewKMeans(2)
	if _, err := km.FitPredict(Xs); err != nil {
		t.Fatalf("FitPredict: %v", err)
	}
	want := km.Assign(scaler.TransformRow([]float64{4.9, 5.2}))

	data, err := EncodeClusteringArtifact(km, scaler, contract)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	restored, restoredScaler, gotContract, err := DecodeClusteringArtifact(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(gotContract.Features) != 2 {
		t.Errorf("contract lost in round trip: %+v", gotContract)
	}
	got := restored.Assign(restoredScaler.TransformRow([]float64{4.9, 5.2}))
	if got != want {
		t.Errorf("restored assignment %d differs from original %d", got, want)
	}
}

func TestDecodeUnknownAlgorithm(t *testing.T) {
	if _, _, err := DecodeRegressionArtifact([]byte(`{"algorithm":"svm","state":{}}`)); err == nil {
		t.Error("decoding unknown algorithm succeeded, want error")
	}
}
