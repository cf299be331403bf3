package ml

import (
	"testing"
)

func TestDBSCANFindsClustersAndNoise(t *testing.T) {
	X := append(twoBlobs(), []float64{50, 50}) // one far outlier

	m := NewDBSCAN(1.0, 3)
	labels, err := m.FitPredict(X)
	if err != nil {
		t.Fatalf("FitPredict: %v", err)
	}

	if labels[len(labels)-1] != Noise {
		t.Errorf("outlier labeled %d, want Noise", labels[len(labels)-1])
	}

	clusters := map[int]bool{}
	for _, l := range labels {
		if l != Noise {
			clusters[l] = true
		}
	}
	if len(clusters) != 2 {
		t.Errorf("found %d clusters, want 2", len(clusters))
	}
}

func TestDBSCANAssign(t *testing.T) {
	X := twoBlobs()
	m := NewDBSCAN(1.0, 3)
	labels, err := m.FitPredict(X)
	if err != nil {
		t.Fatalf("FitPredict: %v", err)
	}

	if got := m.Assign([]float64{0.15, 0.15}); got != labels[0] {
		t.Errorf("Assign near blob 1 = %d, want %d", got, labels[0])
	}
	if got := m.Assign([]float64{8.15, 8.15}); got != labels[5] {
		t.Errorf("Assign near blob 2 = %d, want %d", got, labels[5])
	}
	// Beyond eps of every core point: noise.
	if got := m.Assign([]float64{100, 100}); got != Noise {
		t.Errorf("Assign far point = %d, want Noise", got)
	}
}

func TestDBSCANInvalidParams(t *testing.T) {
	if _, err := NewDBSCAN(0, 3).FitPredict(twoBlobs()); err == nil {
		t.Error("eps=0 accepted, want error")
	}
	if _, err := NewDBSCAN(1, 0).FitPredict(twoBlobs()); err == nil {
		t.Error("min_samples=0 accepted, want error")
	}
}
