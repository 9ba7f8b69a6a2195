package testutil

import (
	"context"
	"errors"

	"github.com/hupe1980/conclave/core"
)

// SimilarityMatrix is a symmetric lookup table for similarity scores. Pairs
// not listed score 1 when identical and 0 otherwise.
type SimilarityMatrix map[[2]string]float64

// Set records the score for a and b in both orders.
func (m SimilarityMatrix) Set(a, b string, score float64) SimilarityMatrix {
	m[[2]string{a, b}] = score
	m[[2]string{b, a}] = score
	return m
}

// Func adapts the matrix to a core.SimilarityFunc.
func (m SimilarityMatrix) Func() core.SimilarityFunc {
	return func(_ context.Context, a, b string) (float64, error) {
		if s, ok := m[[2]string{a, b}]; ok {
			return s, nil
		}
		if a == b {
			return 1, nil
		}
		return 0, nil
	}
}

// ConstantSimilarity scores every pair with s.
func ConstantSimilarity(s float64) core.SimilarityFunc {
	return func(context.Context, string, string) (float64, error) { return s, nil }
}

// FailingSimilarity always returns an error.
func FailingSimilarity(context.Context, string, string) (float64, error) {
	return 0, errors.New("similarity backend unavailable")
}
