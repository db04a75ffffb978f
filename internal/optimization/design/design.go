// Package design provides experimental designs that seed a strategy with
// an initial space-filling sample. All designs produce points in the unit
// hypercube [0,1]^dim; the strategy maps them onto the problem bounds.
package design

import (
	"fmt"
	"math/rand"

	"gonum.org/v1/gonum/mat"
)

// LatinHypercube is a stratified random design: each dimension is split
// into npts bins and every bin receives exactly one point.
type LatinHypercube struct {
	dim  int
	npts int
	rng  *rand.Rand
}

// NewLatinHypercube creates a Latin hypercube design with the given
// dimension and number of points.
func NewLatinHypercube(dim, npts int, seed int64) *LatinHypercube {
	if dim < 1 {
		panic(fmt.Sprintf("dim must be positive, got %d", dim))
	}
	if npts < 1 {
		panic(fmt.Sprintf("npts must be positive, got %d", npts))
	}
	return &LatinHypercube{
		dim:  dim,
		npts: npts,
		rng:  rand.New(rand.NewSource(seed)),
	}
}

// GeneratePoints returns an (npts x dim) matrix of stratified samples.
func (lhd *LatinHypercube) GeneratePoints() *mat.Dense {
	points := mat.NewDense(lhd.npts, lhd.dim, nil)

	for j := 0; j < lhd.dim; j++ {
		// One jittered sample per bin, then shuffle the column
		col := make([]float64, lhd.npts)
		for i := 0; i < lhd.npts; i++ {
			col[i] = (float64(i) + lhd.rng.Float64()) / float64(lhd.npts)
		}
		lhd.rng.Shuffle(lhd.npts, func(k, l int) {
			col[k], col[l] = col[l], col[k]
		})
		for i := 0; i < lhd.npts; i++ {
			points.Set(i, j, col[i])
		}
	}

	return points
}

// NumPoints returns the number of points the design produces.
func (lhd *LatinHypercube) NumPoints() int { return lhd.npts }

// Dim returns the dimension of the design.
func (lhd *LatinHypercube) Dim() int { return lhd.dim }

// SymmetricLatinHypercube is a Latin hypercube whose points are symmetric
// about the center of the unit box, which improves space-filling for
// surrogate construction.
type SymmetricLatinHypercube struct {
	dim  int
	npts int
	rng  *rand.Rand
}

// NewSymmetricLatinHypercube creates a symmetric Latin hypercube design.
func NewSymmetricLatinHypercube(dim, npts int, seed int64) *SymmetricLatinHypercube {
	if dim < 1 {
		panic(fmt.Sprintf("dim must be positive, got %d", dim))
	}
	if npts < 2 {
		panic(fmt.Sprintf("npts must be at least 2, got %d", npts))
	}
	return &SymmetricLatinHypercube{
		dim:  dim,
		npts: npts,
		rng:  rand.New(rand.NewSource(seed)),
	}
}

// GeneratePoints returns an (npts x dim) matrix with the symmetry property
// points[i] + points[npts-1-i] == 1 in every dimension.
func (slhd *SymmetricLatinHypercube) GeneratePoints() *mat.Dense {
	n := slhd.npts
	d := slhd.dim

	// Integer levels 1..n, assigned so that row i and row n-1-i use
	// mirrored levels
	levels := mat.NewDense(n, d, nil)
	for j := 0; j < d; j++ {
		for i := 0; i < n; i++ {
			levels.Set(i, j, float64(i+1))
		}
	}

	middle := n / 2
	if n%2 == 1 {
		center := float64(n+1) / 2.0
		for j := 0; j < d; j++ {
			levels.Set(middle, j, center)
		}
	}

	// Randomly flip each upper-half entry against its mirror
	for j := 1; j < d; j++ {
		for i := 0; i < middle; i++ {
			if slhd.rng.Float64() < 0.5 {
				levels.Set(i, j, float64(n-i))
			} else {
				levels.Set(i, j, float64(i+1))
			}
			levels.Set(n-1-i, j, float64(n+1)-levels.At(i, j))
		}
	}

	// Shuffle the upper half row-wise per column to decorrelate dimensions
	for j := 1; j < d; j++ {
		for i := middle - 1; i > 0; i-- {
			k := slhd.rng.Intn(i + 1)
			vi, vk := levels.At(i, j), levels.At(k, j)
			levels.Set(i, j, vk)
			levels.Set(k, j, vi)
			levels.Set(n-1-i, j, float64(n+1)-levels.At(i, j))
			levels.Set(n-1-k, j, float64(n+1)-levels.At(k, j))
		}
	}

	// Map levels to the unit box: (level - 0.5) / n
	points := mat.NewDense(n, d, nil)
	for i := 0; i < n; i++ {
		for j := 0; j < d; j++ {
			points.Set(i, j, (levels.At(i, j)-0.5)/float64(n))
		}
	}

	return points
}

// NumPoints returns the number of points the design produces.
func (slhd *SymmetricLatinHypercube) NumPoints() int { return slhd.npts }

// Dim returns the dimension of the design.
func (slhd *SymmetricLatinHypercube) Dim() int { return slhd.dim }
