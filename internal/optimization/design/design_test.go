package design

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLatinHypercubeGeneratePoints(t *testing.T) {
	const dim, npts = 2, 10

	lhd := NewLatinHypercube(dim, npts, 42)
	points := lhd.GeneratePoints()

	rows, cols := points.Dims()
	require.Equal(t, npts, rows)
	require.Equal(t, dim, cols)

	// All points lie in the unit box
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			v := points.At(i, j)
			assert.GreaterOrEqual(t, v, 0.0)
			assert.Less(t, v, 1.0)
		}
	}

	// Stratification: exactly one point per bin in every dimension
	for j := 0; j < cols; j++ {
		bins := make([]bool, npts)
		for i := 0; i < rows; i++ {
			bin := int(points.At(i, j) * float64(npts))
			if bin >= npts {
				bin = npts - 1
			}
			assert.False(t, bins[bin], "should have only one point per bin")
			bins[bin] = true
		}
	}
}

func TestLatinHypercubeAccessors(t *testing.T) {
	lhd := NewLatinHypercube(3, 7, 1)
	assert.Equal(t, 3, lhd.Dim())
	assert.Equal(t, 7, lhd.NumPoints())
}

func TestLatinHypercubeInvalidArgs(t *testing.T) {
	assert.Panics(t, func() { NewLatinHypercube(0, 5, 1) })
	assert.Panics(t, func() { NewLatinHypercube(2, 0, 1) })
}

func TestSymmetricLatinHypercubeGeneratePoints(t *testing.T) {
	tests := []struct {
		name string
		dim  int
		npts int
	}{
		{"even point count", 3, 8},
		{"odd point count", 2, 7},
		{"one dimension", 1, 6},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			slhd := NewSymmetricLatinHypercube(tt.dim, tt.npts, 42)
			points := slhd.GeneratePoints()

			rows, cols := points.Dims()
			require.Equal(t, tt.npts, rows)
			require.Equal(t, tt.dim, cols)

			for i := 0; i < rows; i++ {
				for j := 0; j < cols; j++ {
					v := points.At(i, j)
					assert.Greater(t, v, 0.0)
					assert.Less(t, v, 1.0)
				}
			}

			// Symmetry about the center of the unit box
			for i := 0; i < rows/2; i++ {
				for j := 0; j < cols; j++ {
					sum := points.At(i, j) + points.At(rows-1-i, j)
					assert.InDelta(t, 1.0, sum, 1e-12,
						"rows %d and %d should mirror in dimension %d", i, rows-1-i, j)
				}
			}

			// Latin property: one point per bin in every dimension
			for j := 0; j < cols; j++ {
				bins := make([]bool, tt.npts)
				for i := 0; i < rows; i++ {
					bin := int(points.At(i, j) * float64(tt.npts))
					if bin >= tt.npts {
						bin = tt.npts - 1
					}
					assert.False(t, bins[bin], "should have only one point per bin")
					bins[bin] = true
				}
			}
		})
	}
}

func TestSymmetricLatinHypercubeInvalidArgs(t *testing.T) {
	assert.Panics(t, func() { NewSymmetricLatinHypercube(0, 6, 1) })
	assert.Panics(t, func() { NewSymmetricLatinHypercube(2, 1, 1) })
}
