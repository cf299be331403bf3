package ml

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sort"
)

// DecisionTree is a CART regressor: binary splits chosen by sum-of-squared
// -error reduction, leaf values are target means.
type DecisionTree struct {
	maxDepth int
	minLeaf  int
	state    treeState
}

// RandomForest averages bootstrap-sampled decision trees. Sampling is
// driven by a fixed seed so repeated training calls are reproducible.
type RandomForest struct {
	nTrees   int
	maxDepth int
	minLeaf  int
	seed     int64
	state    forestState
}

type treeNode struct {
	Feature   int     `json:"feature"`
	Threshold float64 `json:"threshold"`
	Left      int     `json:"left"`
	Right     int     `json:"right"`
	Value     float64 `json:"value"`
	Leaf      bool    `json:"leaf"`
}

type treeState struct {
	Nodes    []treeNode `json:"nodes"`
	MaxDepth int        `json:"max_depth"`
	MinLeaf  int        `json:"min_leaf"`
}

type forestState struct {
	Trees    []treeState `json:"trees"`
	MaxDepth int         `json:"max_depth"`
	MinLeaf  int         `json:"min_leaf"`
	Seed     int64       `json:"seed"`
}

func NewDecisionTree(maxDepth, minLeaf int) *DecisionTree {
	return &DecisionTree{maxDepth: maxDepth, minLeaf: minLeaf}
}

func NewRandomForest(nTrees, maxDepth, minLeaf int, seed int64) *RandomForest {
	return &RandomForest{nTrees: nTrees, maxDepth: maxDepth, minLeaf: minLeaf, seed: seed}
}

func (m *DecisionTree) Name() string { return AlgoDecisionTree }

func (m *DecisionTree) Hyperparameters() map[string]any {
	return map[string]any{"max_depth": m.maxDepth, "min_samples_leaf": m.minLeaf}
}

func (m *DecisionTree) Fit(X [][]float64, y []float64) error {
	if len(X) == 0 || len(X) != len(y) {
		return errors.New("empty or mismatched training data")
	}
	idx := make([]int, len(X))
	for i := range idx {
		idx[i] = i
	}
	m.state = treeState{MaxDepth: m.maxDepth, MinLeaf: m.minLeaf}
	growTree(&m.state, X, y, idx, 0, m.maxDepth, m.minLeaf)
	return nil
}

func (m *DecisionTree) Predict(x []float64) (float64, error) {
	return predictTree(m.state, x)
}

func (m *DecisionTree) MarshalState() ([]byte, error) { return json.Marshal(m.state) }

func (m *DecisionTree) UnmarshalState(data []byte) error {
	if err := json.Unmarshal(data, &m.state); err != nil {
		return err
	}
	m.maxDepth = m.state.MaxDepth
	m.minLeaf = m.state.MinLeaf
	return nil
}

func (m *RandomForest) Name() string { return AlgoRandomForest }

func (m *RandomForest) Hyperparameters() map[string]any {
	return map[string]any{
		"n_estimators":     m.nTrees,
		"max_depth":        m.maxDepth,
		"min_samples_leaf": m.minLeaf,
		"random_state":     m.seed,
	}
}

func (m *RandomForest) Fit(X [][]float64, y []float64) error {
	if len(X) == 0 || len(X) != len(y) {
		return errors.New("empty or mismatched training data")
	}
	rng := rand.New(rand.NewSource(m.seed))
	m.state = forestState{MaxDepth: m.maxDepth, MinLeaf: m.minLeaf, Seed: m.seed}
	m.state.Trees = make([]treeState, 0, m.nTrees)
	n := len(X)
	for t := 0; t < m.nTrees; t++ {
		idx := make([]int, n)
		for i := range idx {
			idx[i] = rng.Intn(n)
		}
		ts := treeState{MaxDepth: m.maxDepth, MinLeaf: m.minLeaf}
		growTree(&ts, X, y, idx, 0, m.maxDepth, m.minLeaf)
		m.state.Trees = append(m.state.Trees, ts)
	}
	return nil
}

func (m *RandomForest) Predict(x []float64) (float64, error) {
	if len(m.state.Trees) == 0 {
		return 0, errors.New("model not fitted")
	}
	var sum float64
	for i := range m.state.Trees {
		p, err := predictTree(m.state.Trees[i], x)
		if err != nil {
			return 0, err
		}
		sum += p
	}
	return sum / float64(len(m.state.Trees)), nil
}

func (m *RandomForest) MarshalState() ([]byte, error) { return json.Marshal(m.state) }

func (m *RandomForest) UnmarshalState(data []byte) error {
	if err := json.Unmarshal(data, &m.state); err != nil {
		return err
	}
	m.nTrees = len(m.state.Trees)
	m.maxDepth = m.state.MaxDepth
	m.minLeaf = m.state.MinLeaf
	m.seed = m.state.Seed
	return nil
}

// growTree appends the subtree over idx to st.Nodes and returns its root
// index.
func growTree(st *treeState, X [][]float64, y []float64, idx []int, depth, maxDepth, minLeaf int) int {
	mean := meanAt(y, idx)

	if depth >= maxDepth || len(idx) < 2*minLeaf || constantAt(y, idx) {
		st.Nodes = append(st.Nodes, treeNode{Leaf: true, Value: mean})
		return len(st.Nodes) - 1
	}

	feature, threshold, ok := bestSplit(X, y, idx, minLeaf)
	if !ok {
		st.Nodes = append(st.Nodes, treeNode{Leaf: true, Value: mean})
		return len(st.Nodes) - 1
	}

	var leftIdx, rightIdx []int
	for _, i := range idx {
		if X[i][feature] <= threshold {
			leftIdx = append(leftIdx, i)
		} else {
			rightIdx = append(rightIdx, i)
		}
	}

	// Reserve the node slot before recursing so child indexes are stable.
	nodeID := len(st.Nodes)
	st.Nodes = append(st.Nodes, treeNode{Feature: feature, Threshold: threshold, Value: mean})
	left := growTree(st, X, y, leftIdx, depth+1, maxDepth, minLeaf)
	right := growTree(st, X, y, rightIdx, depth+1, maxDepth, minLeaf)
	st.Nodes[nodeID].Left = left
	st.Nodes[nodeID].Right = right
	return nodeID
}

// bestSplit scans every feature for the threshold minimizing the combined
// SSE of the two sides.
func bestSplit(X [][]float64, y []float64, idx []int, minLeaf int) (int, float64, bool) {
	bestSSE := math.Inf(1)
	bestFeature, bestThreshold := -1, 0.0

	d := len(X[idx[0]])
	order := make([]int, len(idx))
	for f := 0; f < d; f++ {
		copy(order, idx)
		sort.Slice(order, func(a, b int) bool { return X[order[a]][f] < X[order[b]][f] })

		// Prefix sums over the sorted order allow O(1) SSE per cut.
		var sumL, sqL float64
		sumR, sqR := 0.0, 0.0
		for _, i := range order {
			sumR += y[i]
			sqR += y[i] * y[i]
		}
		nL, nR := 0, len(order)
		for k := 0; k < len(order)-1; k++ {
			i := order[k]
			sumL += y[i]
			sqL += y[i] * y[i]
			sumR -= y[i]
			sqR -= y[i] * y[i]
			nL++
			nR--
			if X[order[k]][f] == X[order[k+1]][f] {
				continue
			}
			if nL < minLeaf || nR < minLeaf {
				continue
			}
			sse := (sqL - sumL*sumL/float64(nL)) + (sqR - sumR*sumR/float64(nR))
			if sse < bestSSE {
				bestSSE = sse
				bestFeature = f
				bestThreshold = (X[order[k]][f] + X[order[k+1]][f]) / 2
			}
		}
	}

	return bestFeature, bestThreshold, bestFeature >= 0
}

func predictTree(st treeState, x []float64) (float64, error) {
	if len(st.Nodes) == 0 {
		return 0, errors.New("model not fitted")
	}
	node := st.Nodes[0]
	for !node.Leaf {
		if node.Feature >= len(x) {
			return 0, fmt.Errorf("%w: feature index %d out of range", ErrContractMismatch, node.Feature)
		}
		if x[node.Feature] <= node.Threshold {
			node = st.Nodes[node.Left]
		} else {
			node = st.Nodes[node.Right]
		}
	}
	return node.Value, nil
}

func meanAt(y []float64, idx []int) float64 {
	if len(idx) == 0 {
		return 0
	}
	var sum float64
	for _, i := range idx {
		sum += y[i]
	}
	return sum / float64(len(idx))
}

func constantAt(y []float64, idx []int) bool {
	for _, i := range idx[1:] {
		if y[i] != y[idx[0]] {
			return false
		}
	}
	return true
}
