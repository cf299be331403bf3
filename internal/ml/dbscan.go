package ml

import (
	"encoding/json"
	"errors"
)

// Noise is the label DBSCAN assigns to points that belong to no cluster.
const Noise = -1

// DBSCAN is density-based clustering: a point with at least MinSamples
// neighbors (itself included) within Eps is a core point; clusters are the
// connected components of core points plus their border points.
type DBSCAN struct {
	eps        float64
	minSamples int
	state      dbscanState
}

type dbscanState struct {
	Eps        float64     `json:"eps"`
	MinSamples int         `json:"min_samples"`
	CorePoints [][]float64 `json:"core_points"`
	CoreLabels []int       `json:"core_labels"`
}

func NewDBSCAN(eps float64, minSamples int) *DBSCAN {
	return &DBSCAN{eps: eps, minSamples: minSamples}
}

func (m *DBSCAN) Name() string { return AlgoDBSCAN }

func (m *DBSCAN) Hyperparameters() map[string]any {
	return map[string]any{"eps": m.eps, "min_samples": m.minSamples}
}

func (m *DBSCAN) FitPredict(X [][]float64) ([]int, error) {
	if len(X) == 0 {
		return nil, errors.New("empty training data")
	}
	if m.eps <= 0 || m.minSamples < 1 {
		return nil, errors.New("invalid dbscan parameters")
	}

	n := len(X)
	labels := make([]int, n)
	for i := range labels {
		labels[i] = Noise
	}
	visited := make([]bool, n)
	cluster := 0

	for i := 0; i < n; i++ {
		if visited[i] {
			continue
		}
		visited[i] = true

		neighbors := m.regionQuery(X, i)
		if len(neighbors) < m.minSamples {
			continue // stays noise unless later reached as a border point
		}

		labels[i] = cluster
		// Expand the cluster over the density-reachable set.
		for qi := 0; qi < len(neighbors); qi++ {
			j := neighbors[qi]
			if !visited[j] {
				visited[j] = true
				jNeighbors := m.regionQuery(X, j)
				if len(jNeighbors) >= m.minSamples {
					neighbors = append(neighbors, jNeighbors...)
				}
			}
			if labels[j] == Noise {
				labels[j] = cluster
			}
		}
		cluster++
	}

	// Retain core points so new observations can be assigned later.
	var corePoints [][]float64
	var coreLabels []int
	for i := 0; i < n; i++ {
		if labels[i] == Noise {
			continue
		}
		if len(m.regionQuery(X, i)) >= m.minSamples {
			corePoints = append(corePoints, X[i])
			coreLabels = append(coreLabels, labels[i])
		}
	}
	m.state = dbscanState{Eps: m.eps, MinSamples: m.minSamples, CorePoints: corePoints, CoreLabels: coreLabels}

	return labels, nil
}

// Assign labels a new point: the cluster of the nearest core point within
// Eps, or Noise.
func (m *DBSCAN) Assign(x []float64) int {
	best := Noise
	bestDist := m.state.Eps
	for i, core := range m.state.CorePoints {
		if d := euclidean(x, core); d <= bestDist {
			bestDist = d
			best = m.state.CoreLabels[i]
		}
	}
	return best
}

func (m *DBSCAN) MarshalState() ([]byte, error) { return json.Marshal(m.state) }

func (m *DBSCAN) UnmarshalState(data []byte) error {
	if err := json.Unmarshal(data, &m.state); err != nil {
		return err
	}
	m.eps = m.state.Eps
	m.minSamples = m.state.MinSamples
	return nil
}

func (m *DBSCAN) regionQuery(X [][]float64, i int) []int {
	var neighbors []int
	for j := range X {
		if euclidean(X[i], X[j]) <= m.eps {
			neighbors = append(neighbors, j)
		}
	}
	return neighbors
}
