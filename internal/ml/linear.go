package ml

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
)

// LinearRegression fits ordinary least squares through the normal
// equations. The feature space here is small (a handful of temporal
// features), so direct solving is cheap and exact.
type LinearRegression struct {
	state linearState
}

// Ridge is least squares with L2 regularization strength Lambda. The
// intercept column is not penalized.
type Ridge struct {
	lambda float64
	state  linearState
}

type linearState struct {
	Coef      []float64 `json:"coef"`
	Intercept float64   `json:"intercept"`
	Lambda    float64   `json:"lambda,omitempty"`
}

func NewLinearRegression() *LinearRegression { return &LinearRegression{} }

func NewRidge(lambda float64) *Ridge { return &Ridge{lambda: lambda} }

func (m *LinearRegression) Name() string { return AlgoLinearRegression }

func (m *LinearRegression) Hyperparameters() map[string]any {
	return map[string]any{"fit_intercept": true}
}

func (m *LinearRegression) Fit(X [][]float64, y []float64) error {
	st, err := solveLeastSquares(X, y, 0)
	if err != nil {
		return err
	}
	m.state = st
	return nil
}

func (m *LinearRegression) Predict(x []float64) (float64, error) {
	return predictLinear(m.state, x)
}

func (m *LinearRegression) MarshalState() ([]byte, error) { return json.Marshal(m.state) }

func (m *LinearRegression) UnmarshalState(data []byte) error {
	return json.Unmarshal(data, &m.state)
}

func (m *Ridge) Name() string { return AlgoRidge }

func (m *Ridge) Hyperparameters() map[string]any {
	return map[string]any{"alpha": m.lambda}
}

func (m *Ridge) Fit(X [][]float64, y []float64) error {
	st, err := solveLeastSquares(X, y, m.lambda)
	if err != nil {
		return err
	}
	st.Lambda = m.lambda
	m.state = st
	return nil
}

func (m *Ridge) Predict(x []float64) (float64, error) {
	return predictLinear(m.state, x)
}

func (m *Ridge) MarshalState() ([]byte, error) { return json.Marshal(m.state) }

func (m *Ridge) UnmarshalState(data []byte) error {
	if err := json.Unmarshal(data, &m.state); err != nil {
		return err
	}
	m.lambda = m.state.Lambda
	return nil
}

func predictLinear(st linearState, x []float64) (float64, error) {
	if len(st.Coef) == 0 {
		return 0, errors.New("model not fitted")
	}
	if len(x) != len(st.Coef) {
		return 0, fmt.Errorf("%w: expected %d features, got %d", ErrContractMismatch, len(st.Coef), len(x))
	}
	pred := st.Intercept
	for i, v := range x {
		pred += st.Coef[i] * v
	}
	return pred, nil
}

// solveLeastSquares solves (A'A + lambda*I) w = A'y for the augmented
// design matrix A = [X | 1]. The intercept term is never regularized.
func solveLeastSquares(X [][]float64, y []float64, lambda float64) (linearState, error) {
	n := len(X)
	if n == 0 || n != len(y) {
		return linearState{}, errors.New("empty or mismatched training data")
	}
	d := len(X[0]) + 1 // augmented with intercept column

	// Normal matrix and right-hand side.
	ata := make([][]float64, d)
	for i := range ata {
		ata[i] = make([]float64, d)
	}
	aty := make([]float64, d)
	row := make([]float64, d)
	for i := 0; i < n; i++ {
		copy(row, X[i])
		row[d-1] = 1
		for a := 0; a < d; a++ {
			aty[a] += row[a] * y[i]
			for b := 0; b < d; b++ {
				ata[a][b] += row[a] * row[b]
			}
		}
	}
	for a := 0; a < d-1; a++ {
		ata[a][a] += lambda
	}

	w, err := solveGaussian(ata, aty)
	if err != nil {
		return linearState{}, err
	}
	return linearState{Coef: w[:d-1], Intercept: w[d-1]}, nil
}

// solveGaussian solves a dense symmetric system with partial pivoting.
func solveGaussian(a [][]float64, b []float64) ([]float64, error) {
	n := len(a)
	for col := 0; col < n; col++ {
		pivot := col
		for r := col + 1; r < n; r++ {
			if math.Abs(a[r][col]) > math.Abs(a[pivot][col]) {
				pivot = r
			}
		}
		if math.Abs(a[pivot][col]) < 1e-12 {
			return nil, errors.New("singular design matrix")
		}
		a[col], a[pivot] = a[pivot], a[col]
		b[col], b[pivot] = b[pivot], b[col]

		inv := 1 / a[col][col]
		for r := col + 1; r < n; r++ {
			f := a[r][col] * inv
			if f == 0 {
				continue
			}
			for c := col; c < n; c++ {
				a[r][c] -= f * a[col][c]
			}
			b[r] -= f * b[col]
		}
	}

	x := make([]float64, n)
	for r := n - 1; r >= 0; r-- {
		sum := b[r]
		for c := r + 1; c < n; c++ {
			sum -= a[r][c] * x[c]
		}
		x[r] = sum / a[r][r]
	}
	return x, nil
}
