package optimization

import (
	"fmt"
	"math"
)

// Problem describes a bounded continuous optimization problem.
// Integer-constrained dimensions are rounded to the nearest feasible
// integer before a point is evaluated.
type Problem struct {
	// Dim is the number of dimensions
	Dim int

	// LowerBounds and UpperBounds hold the box constraints, one entry
	// per dimension
	LowerBounds []float64
	UpperBounds []float64

	// IntVars holds the indices of integer-constrained dimensions
	IntVars []int
}

// Validate checks that the problem descriptor is internally consistent.
func (p *Problem) Validate() error {
	if p.Dim < 1 {
		return NewErrorf("dimension must be positive, got %d", p.Dim).
			WithComponent("problem").WithOperation("Validate")
	}
	if len(p.LowerBounds) != p.Dim || len(p.UpperBounds) != p.Dim {
		return NewErrorf("bounds length mismatch: dim=%d, lb=%d, ub=%d",
			p.Dim, len(p.LowerBounds), len(p.UpperBounds)).
			WithComponent("problem").WithOperation("Validate")
	}
	for i := 0; i < p.Dim; i++ {
		if p.LowerBounds[i] >= p.UpperBounds[i] {
			return NewErrorf("invalid bounds for dimension %d: [%v, %v]",
				i, p.LowerBounds[i], p.UpperBounds[i]).
				WithComponent("problem").WithOperation("Validate")
		}
	}
	for _, idx := range p.IntVars {
		if idx < 0 || idx >= p.Dim {
			return NewErrorf("integer variable index %d out of range [0, %d)", idx, p.Dim).
				WithComponent("problem").WithOperation("Validate")
		}
	}
	return nil
}

// FromUnitBox maps a point from the unit hypercube [0,1]^d onto the
// problem's bounding box.
func (p *Problem) FromUnitBox(x []float64) []float64 {
	out := make([]float64, len(x))
	for i := range x {
		out[i] = p.LowerBounds[i] + x[i]*(p.UpperBounds[i]-p.LowerBounds[i])
	}
	return out
}

// RoundVars rounds the integer-constrained dimensions of x to the nearest
// integer and clamps the result back into the bounding box. The input is
// not modified.
func (p *Problem) RoundVars(x []float64) []float64 {
	out := append([]float64(nil), x...)
	for _, idx := range p.IntVars {
		out[idx] = math.Round(out[idx])
		out[idx] = math.Max(p.LowerBounds[idx], math.Min(out[idx], p.UpperBounds[idx]))
	}
	return out
}

// CheckDim verifies that a point produced by a collaborator has the
// problem's dimension. A mismatch is a fatal precondition violation.
func (p *Problem) CheckDim(cols int, source string) error {
	if cols != p.Dim {
		return NewErrorf("dimension mismatch: problem has dim %d but %s produced points of dim %d",
			p.Dim, source, cols).WithComponent("problem").WithOperation("CheckDim")
	}
	return nil
}

// String returns a short human-readable description of the problem.
func (p *Problem) String() string {
	return fmt.Sprintf("Problem{dim=%d, int_vars=%d}", p.Dim, len(p.IntVars))
}
