package optimization

import (
	"gonum.org/v1/gonum/mat"
)

// ExperimentalDesign generates the initial space-filling sample for a
// strategy. Points are returned in the unit hypercube; the strategy maps
// them onto the problem bounds.
type ExperimentalDesign interface {
	// GeneratePoints returns an (npts x dim) matrix of sample points
	GeneratePoints() *mat.Dense

	// NumPoints returns the number of points the design produces
	NumPoints() int

	// Dim returns the dimension of the design
	Dim() int
}

// Surrogate is an incrementally-fit response-surface model of the
// objective. It is called only from the strategy's control thread and
// need not be thread-safe.
type Surrogate interface {
	// Reset discards all fitted data
	Reset()

	// AddPoint feeds one confirmed (point, value) pair into the model
	AddPoint(x []float64, fx float64)

	// Eval returns the predicted value at x
	Eval(x []float64) float64

	// NumPoints returns the number of fitted points
	NumPoints() int
}

// SamplerArgs carries the strategy state an adaptive sampler may consult
// when synthesizing new candidate points.
type SamplerArgs struct {
	// Surrogate is the current response-surface model
	Surrogate Surrogate

	// X and FX hold the completed points and their values
	X  *mat.Dense
	FX []float64

	// Xpend holds the points of all non-terminal proposals
	Xpend *mat.Dense

	// XBest is the best point found so far (nil before the first completion)
	XBest []float64

	// SamplingRadius controls the perturbation scale around XBest
	SamplingRadius float64
}

// AdaptiveSampler proposes new candidate points from surrogate state.
// It is a pure function of its arguments; the core contract requires no
// memory of past calls.
type AdaptiveSampler interface {
	// MakePoints returns an (npts x dim) matrix of new candidate points
	MakePoints(npts int, args SamplerArgs) (*mat.Dense, error)
}

// StoppingCriterion is an optional value-based stopping predicate. It is
// evaluated on every completed value; returning true requests termination.
type StoppingCriterion func(value float64) bool
