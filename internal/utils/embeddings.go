package utils

import (
	"errors"
	"fmt"
	"math"
)

var ErrEmptyVector = errors.New("vectors cannot be empty")

// CosineSimilarity returns the cosine of the angle between two embeddings.
// Accumulation is done in float64 so long 768-dim vectors do not lose precision.
func CosineSimilarity(vec1, vec2 []float32) (float64, error) {
	if len(vec1) == 0 || len(vec2) == 0 {
		return 0, ErrEmptyVector
	}
	if len(vec1) != len(vec2) {
		return 0, fmt.Errorf("vectors must have the same dimension (%d != %d)", len(vec1), len(vec2))
	}

	var dot, sum1, sum2 float64
	for i := range vec1 {
		a, b := float64(vec1[i]), float64(vec2[i])
		dot += a * b
		sum1 += a * a
		sum2 += b * b
	}

	if sum1 == 0 || sum2 == 0 {
		return 0, nil
	}
	return dot / (math.Sqrt(sum1) * math.Sqrt(sum2)), nil
}
