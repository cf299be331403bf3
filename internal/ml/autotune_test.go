package ml

import (
	"testing"
)

func TestSearchDBSCANParams(t *testing.T) {
	params := SearchDBSCANParams(twoBlobs(), 4)
	if len(params) == 0 {
		t.Fatal("no candidate parameterizations")
	}

	seen := map[DBSCANParams]bool{}
	for _, p := range params {
		if p.Eps <= 0 {
			t.Errorf("non-positive eps: %+v", p)
		}
		if p.MinSamples != 4 && p.MinSamples != 5 {
			t.Errorf("min_samples = %d, want 4 or 5", p.MinSamples)
		}
		if seen[p] {
			t.Errorf("duplicate parameterization: %+v", p)
		}
		seen[p] = true
	}
}

func TestSearchDBSCANParamsCandidatesCluster(t *testing.T) {
	// At least one proposed parameterization should recover both blobs.
	X := twoBlobs()
	params := SearchDBSCANParams(X, 4)

	found := false
	for _, p := range params {
		labels, err := NewDBSCAN(p.Eps, p.MinSamples).FitPredict(X)
		if err != nil {
			continue
		}
		clusters := map[int]bool{}
		for _, l := range labels {
			if l != Noise {
				clusters[l] = true
			}
		}
		if len(clusters) == 2 {
			found = true
			break
		}
	}
	if !found {
		t.Error("no candidate parameterization recovers the two blobs")
	}
}

func TestSearchDBSCANParamsDegenerateInput(t *testing.T) {
	if params := SearchDBSCANParams(nil, 4); params != nil {
		t.Errorf("params for empty input = %v, want nil", params)
	}
	if params := SearchDBSCANParams([][]float64{{1, 1}}, 4); params != nil {
		t.Errorf("params for single point = %v, want nil", params)
	}
}
