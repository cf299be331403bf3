package ml

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
)

// KNN is a k-nearest-neighbors regressor: the prediction is the mean
// target of the k training rows closest in Euclidean distance. The
// distance-based capability variant; the fitted state is the training set
// itself.
type KNN struct {
	k     int
	state knnState
}

type knnState struct {
	K int         `json:"k"`
	X [][]float64 `json:"x"`
	Y []float64   `json:"y"`
}

func NewKNN(k int) *KNN { return &KNN{k: k} }

func (m *KNN) Name() string { return AlgoKNN }

func (m *KNN) Hyperparameters() map[string]any {
	return map[string]any{"n_neighbors": m.k}
}

func (m *KNN) Fit(X [][]float64, y []float64) error {
	if len(X) == 0 || len(X) != len(y) {
		return errors.New("empty or mismatched training data")
	}
	k := m.k
	if k > len(X) {
		k = len(X)
	}
	m.state = knnState{K: k, X: X, Y: y}
	return nil
}

func (m *KNN) Predict(x []float64) (float64, error) {
	if len(m.state.X) == 0 {
		return 0, errors.New("model not fitted")
	}
	if len(x) != len(m.state.X[0]) {
		return 0, fmt.Errorf("%w: expected %d features, got %d",
			ErrContractMismatch, len(m.state.X[0]), len(x))
	}

	type neighbor struct {
		dist float64
		y    float64
	}
	neighbors := make([]neighbor, len(m.state.X))
	for i, row := range m.state.X {
		neighbors[i] = neighbor{dist: euclidean(x, row), y: m.state.Y[i]}
	}
	sort.Slice(neighbors, func(a, b int) bool { return neighbors[a].dist < neighbors[b].dist })

	var sum float64
	for i := 0; i < m.state.K; i++ {
		sum += neighbors[i].y
	}
	return sum / float64(m.state.K), nil
}

func (m *KNN) MarshalState() ([]byte, error) { return json.Marshal(m.state) }

func (m *KNN) UnmarshalState(data []byte) error {
	if err := json.Unmarshal(data, &m.state); err != nil {
		return err
	}
	m.k = m.state.K
	return nil
}
