package ml

import (
	"encoding/json"
	"errors"
	"math"
)

const kmeansMaxIterations = 100

// KMeans partitions points into K clusters by Euclidean distance.
// Initialization is deterministic farthest-point seeding: the first
// centroid is the first point, each further centroid the point farthest
// from all chosen ones, so repeated training calls produce identical
// clusterings.
type KMeans struct {
	k     int
	state kmeansState
}

type kmeansState struct {
	K         int         `json:"k"`
	Centroids [][]float64 `json:"centroids"`
	Inertia   float64     `json:"inertia"`
}

func NewKMeans(k int) *KMeans { return &KMeans{k: k} }

func (m *KMeans) Name() string { return AlgoKMeans }

func (m *KMeans) Hyperparameters() map[string]any {
	return map[string]any{"n_clusters": m.k}
}

func (m *KMeans) FitPredict(X [][]float64) ([]int, error) {
	if len(X) == 0 {
		return nil, errors.New("empty training data")
	}
	k := m.k
	if k < 1 {
		k = 1
	}
	if k > len(X) {
		k = len(X)
	}

	centroids := farthestPointInit(X, k)
	labels := make([]int, len(X))

	for iter := 0; iter < kmeansMaxIterations; iter++ {
		changed := false
		for i, p := range X {
			best := nearestCentroid(p, centroids)
			if labels[i] != best {
				labels[i] = best
				changed = true
			}
		}

		counts := make([]int, k)
		next := make([][]float64, k)
		for c := range next {
			next[c] = make([]float64, len(X[0]))
		}
		for i, p := range X {
			counts[labels[i]]++
			for j, v := range p {
				next[labels[i]][j] += v
			}
		}
		for c := range next {
			if counts[c] == 0 {
				// Empty cluster keeps its previous centroid.
				next[c] = centroids[c]
				continue
			}
			for j := range next[c] {
				next[c][j] /= float64(counts[c])
			}
		}
		centroids = next

		if !changed && iter > 0 {
			break
		}
	}

	var inertia float64
	for i, p := range X {
		d := euclidean(p, centroids[labels[i]])
		inertia += d * d
	}

	m.state = kmeansState{K: k, Centroids: centroids, Inertia: inertia}
	return labels, nil
}

// Assign returns the nearest centroid's label for a new point.
func (m *KMeans) Assign(x []float64) int {
	if len(m.state.Centroids) == 0 {
		return -1
	}
	return nearestCentroid(x, m.state.Centroids)
}

func (m *KMeans) MarshalState() ([]byte, error) { return json.Marshal(m.state) }

func (m *KMeans) UnmarshalState(data []byte) error {
	if err := json.Unmarshal(data, &m.state); err != nil {
		return err
	}
	m.k = m.state.K
	return nil
}

func farthestPointInit(X [][]float64, k int) [][]float64 {
	centroids := make([][]float64, 0, k)
	centroids = append(centroids, X[0])
	for len(centroids) < k {
		bestIdx, bestDist := 0, -1.0
		for i, p := range X {
			d := math.Inf(1)
			for _, c := range centroids {
				if dist := euclidean(p, c); dist < d {
					d = dist
				}
			}
			if d > bestDist {
				bestDist = d
				bestIdx = i
			}
		}
		centroids = append(centroids, X[bestIdx])
	}
	return centroids
}

func nearestCentroid(p []float64, centroids [][]float64) int {
	best, bestDist := 0, math.Inf(1)
	for c, centroid := range centroids {
		if d := euclidean(p, centroid); d < bestDist {
			bestDist = d
			best = c
		}
	}
	return best
}
