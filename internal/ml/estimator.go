package ml

import (
	"encoding/json"
	"fmt"
)

// Model families served per account. Each family keeps its own active
// artifact.
const (
	FamilyRegression = "regression"
	FamilyClustering = "clustering"
)

// Regression algorithm names. These are the persisted identifiers; an
// artifact is only decodable through the name it was trained under.
const (
	AlgoLinearRegression = "linear_regression"
	AlgoRidge            = "ridge"
	AlgoDecisionTree     = "decision_tree"
	AlgoRandomForest     = "random_forest"
	AlgoKNN              = "knn"
	AlgoKMeans           = "kmeans"
	AlgoDBSCAN           = "dbscan"
)

// Estimator is the capability interface for the regression family: fit on
// a feature matrix, predict a single target value per row.
type Estimator interface {
	Name() string
	Fit(X [][]float64, y []float64) error
	Predict(x []float64) (float64, error)
	Hyperparameters() map[string]any
	MarshalState() ([]byte, error)
	UnmarshalState(data []byte) error
}

// Clusterer is the capability interface for the clustering family. Assign
// labels a new point with the fitted model; density-based variants return
// -1 for noise.
type Clusterer interface {
	Name() string
	FitPredict(X [][]float64) ([]int, error)
	Assign(x []float64) int
	Hyperparameters() map[string]any
	MarshalState() ([]byte, error)
	UnmarshalState(data []byte) error
}

// artifact is the serialized form written to the artifact store. The
// feature contract is embedded beside the fitted state so a loaded model
// can never be fed inputs in the wrong order.
type artifact struct {
	Algorithm string          `json:"algorithm"`
	Contract  FeatureContract `json:"feature_contract"`
	Scaler    *StandardScaler `json:"scaler,omitempty"`
	State     json.RawMessage `json:"state"`
}

// EncodeRegressionArtifact serializes a fitted estimator with its contract.
func EncodeRegressionArtifact(e Estimator, contract FeatureContract) ([]byte, error) {
	state, err := e.MarshalState()
	if err != nil {
		return nil, fmt.Errorf("marshal %s state: %w", e.Name(), err)
	}
	return json.Marshal(artifact{Algorithm: e.Name(), Contract: contract, State: state})
}

// DecodeRegressionArtifact restores a fitted estimator and its contract.
func DecodeRegressionArtifact(data []byte) (Estimator, FeatureContract, error) {
	var a artifact
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, FeatureContract{}, fmt.Errorf("decode artifact: %w", err)
	}
	e, err := newEstimator(a.Algorithm)
	if err != nil {
		return nil, FeatureContract{}, err
	}
	if err := e.UnmarshalState(a.State); err != nil {
		return nil, FeatureContract{}, fmt.Errorf("decode %s state: %w", a.Algorithm, err)
	}
	return e, a.Contract, nil
}

// EncodeClusteringArtifact serializes a fitted clusterer, the scaler used
// at training time, and the contract.
func EncodeClusteringArtifact(c Clusterer, scaler *StandardScaler, contract FeatureContract) ([]byte, error) {
	state, err := c.MarshalState()
	if err != nil {
		return nil, fmt.Errorf("marshal %s state: %w", c.Name(), err)
	}
	return json.Marshal(artifact{Algorithm: c.Name(), Contract: contract, Scaler: scaler, State: state})
}

// DecodeClusteringArtifact restores a fitted clusterer, its scaler and
// contract.
func DecodeClusteringArtifact(data []byte) (Clusterer, *StandardScaler, FeatureContract, error) {
	var a artifact
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, nil, FeatureContract{}, fmt.Errorf("decode artifact: %w", err)
	}
	var c Clusterer
	switch a.Algorithm {
	case AlgoKMeans:
		c = &KMeans{}
	case AlgoDBSCAN:
		c = &DBSCAN{}
	default:
		return nil, nil, FeatureContract{}, fmt.Errorf("unknown clustering algorithm %q", a.Algorithm)
	}
	if err := c.UnmarshalState(a.State); err != nil {
		return nil, nil, FeatureContract{}, fmt.Errorf("decode %s state: %w", a.Algorithm, err)
	}
	return c, a.Scaler, a.Contract, nil
}

func newEstimator(algorithm string) (Estimator, error) {
	switch algorithm {
	case AlgoLinearRegression:
		return NewLinearRegression(), nil
	case AlgoRidge:
		return NewRidge(1.0), nil
	case AlgoDecisionTree:
		return NewDecisionTree(6, 2), nil
	case AlgoRandomForest:
		return NewRandomForest(50, 6, 2, 42), nil
	case AlgoKNN:
		return NewKNN(5), nil
	default:
		return nil, fmt.Errorf("unknown regression algorithm %q", algorithm)
	}
}
