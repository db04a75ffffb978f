package surrogate

import "math"

// RadialKernel represents a radial basis function phi(r) used by the
// RBF interpolant.
type RadialKernel interface {
	// Eval computes phi(r) for a distance r >= 0
	Eval(r float64) float64

	// Order returns the order of the polynomial tail the kernel requires
	Order() int

	// Name returns the kernel's identifier
	Name() string
}

// CubicKernel implements phi(r) = r^3.
type CubicKernel struct{}

// Eval computes the cubic kernel value for a distance r.
func (CubicKernel) Eval(r float64) float64 { return r * r * r }

// Order returns the required polynomial tail order.
func (CubicKernel) Order() int { return 2 }

// Name returns the kernel's identifier.
func (CubicKernel) Name() string { return "cubic" }

// TPSKernel implements the thin-plate spline kernel phi(r) = r^2 log(r).
type TPSKernel struct{}

// Eval computes the thin-plate spline kernel value for a distance r.
func (TPSKernel) Eval(r float64) float64 {
	if r <= 0 {
		return 0
	}
	return r * r * math.Log(r)
}

// Order returns the required polynomial tail order.
func (TPSKernel) Order() int { return 2 }

// Name returns the kernel's identifier.
func (TPSKernel) Name() string { return "thin_plate" }
