package ml

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// StandardScaler standardizes features to zero mean and unit variance.
// Standard deviations are population (ddof 0).
type StandardScaler struct {
	Means []float64 `json:"means"`
	Stds  []float64 `json:"stds"`
}

// FitScaler computes per-feature means and standard deviations of X
func FitScaler(X [][]float64) (StandardScaler, error) {
	if len(X) == 0 {
		return StandardScaler{}, fmt.Errorf("%w: no samples to fit", ErrInvalidInput)
	}
	width := len(X[0])
	if width == 0 {
		return StandardScaler{}, fmt.Errorf("%w: samples have no features", ErrInvalidInput)
	}
	flat := make([]float64, 0, len(X)*width)
	for i, row := range X {
		if len(row) != width {
			return StandardScaler{}, fmt.Errorf("%w: row %d has %d features, expected %d", ErrInvalidInput, i, len(row), width)
		}
		for j, v := range row {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return StandardScaler{}, fmt.Errorf("%w: row %d feature %d is not finite", ErrInvalidInput, i, j)
			}
		}
		flat = append(flat, row...)
	}

	m := mat.NewDense(len(X), width, flat)
	means := make([]float64, width)
	stds := make([]float64, width)
	col := make([]float64, len(X))
	for j := 0; j < width; j++ {
		mat.Col(col, j, m)
		mean, std := stat.PopMeanStdDev(col, nil)
		if !(std > 0) {
			std = 0
		}
		means[j], stds[j] = mean, std
	}
	return StandardScaler{Means: means, Stds: stds}, nil
}

// Transform standardizes x. Zero-variance features map to 0.
func (s StandardScaler) Transform(x []float64) []float64 {
	out := make([]float64, len(x))
	for j, v := range x {
		if j >= len(s.Means) || s.Stds[j] == 0 {
			continue
		}
		out[j] = (v - s.Means[j]) / s.Stds[j]
	}
	return out
}

// Varying returns the indices of features with non-zero variance
func (s StandardScaler) Varying() []int {
	var idx []int
	for j, sd := range s.Stds {
		if sd > 0 {
			idx = append(idx, j)
		}
	}
	return idx
}
