package ml

import (
	"errors"
	"fmt"
)

// ErrContractMismatch is returned when inference input does not satisfy the
// feature contract bound to a trained artifact. This is a hard error: input
// is never padded, truncated or reordered best-effort.
var ErrContractMismatch = errors.New("feature contract mismatch")

// FeatureContract is the ordered list of named numeric inputs a trained
// artifact requires, plus the target variable it predicts. It is bound to
// the artifact at training time and never mutated afterwards.
type FeatureContract struct {
	Features []string `json:"features"`
	Target   string   `json:"target"`
}

// Vectorize maps named inputs into the contract's feature order. Every
// contract feature must be present; extra keys are rejected as a shape
// mismatch rather than silently dropped.
func (fc FeatureContract) Vectorize(input map[string]float64) ([]float64, error) {
	if len(input) != len(fc.Features) {
		return nil, fmt.Errorf("%w: expected %d features %v, got %d",
			ErrContractMismatch, len(fc.Features), fc.Features, len(input))
	}
	out := make([]float64, len(fc.Features))
	for i, name := range fc.Features {
		v, ok := input[name]
		if !ok {
			return nil, fmt.Errorf("%w: missing feature %q, required %v",
				ErrContractMismatch, name, fc.Features)
		}
		out[i] = v
	}
	return out, nil
}
