// Package surrogate provides incrementally-fit response-surface models.
package surrogate

import (
	"math"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"

	"github.com/copyleftdev/SORREL/internal/optimization"
)

// RBFInterpolant is a radial basis function interpolant with a linear
// polynomial tail. Points are added incrementally; the coefficients are
// refit lazily on the next prediction.
//
// The interpolant solves the augmented system
//
//	| Phi + eta*I  P | | lambda |   | f |
//	| P^T          0 | |   c    | = | 0 |
//
// where Phi_ij = phi(||x_i - x_j||) and P = [1 x].
type RBFInterpolant struct {
	dim    int
	kernel RadialKernel

	// Damping added to the Phi diagonal for numerical stability
	damping float64

	// Fitted data
	points [][]float64
	values []float64

	// Coefficients: lambda (len n) followed by the tail c (len dim+1)
	coeffs []float64
	dirty  bool

	logger *zap.Logger
}

// NewRBFInterpolant creates an RBF interpolant for the given dimension.
// A nil logger disables logging.
func NewRBFInterpolant(dim int, kernel RadialKernel, logger *zap.Logger) *RBFInterpolant {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RBFInterpolant{
		dim:     dim,
		kernel:  kernel,
		damping: 1e-8,
		logger:  logger.Named("rbf_interpolant"),
	}
}

// Reset discards all fitted data.
func (rbf *RBFInterpolant) Reset() {
	rbf.points = nil
	rbf.values = nil
	rbf.coeffs = nil
	rbf.dirty = false
	rbf.logger.Debug("Surrogate reset")
}

// AddPoint feeds one confirmed (point, value) pair into the model.
// The refit is deferred to the next call to Eval.
func (rbf *RBFInterpolant) AddPoint(x []float64, fx float64) {
	rbf.points = append(rbf.points, append([]float64(nil), x...))
	rbf.values = append(rbf.values, fx)
	rbf.dirty = true
}

// NumPoints returns the number of fitted points.
func (rbf *RBFInterpolant) NumPoints() int { return len(rbf.points) }

// Eval returns the predicted value at x, refitting first if points were
// added since the last prediction. With fewer points than the tail needs,
// the prediction falls back to the mean of the observed values.
func (rbf *RBFInterpolant) Eval(x []float64) float64 {
	if rbf.dirty {
		if err := rbf.fit(); err != nil {
			rbf.logger.Warn("RBF fit failed, using mean prediction", zap.Error(err))
			rbf.coeffs = nil
		}
		rbf.dirty = false
	}

	if rbf.coeffs == nil {
		return rbf.meanValue()
	}

	n := len(rbf.points)
	pred := 0.0
	for i := 0; i < n; i++ {
		pred += rbf.coeffs[i] * rbf.kernel.Eval(distance(x, rbf.points[i]))
	}
	pred += rbf.coeffs[n]
	for j := 0; j < rbf.dim; j++ {
		pred += rbf.coeffs[n+1+j] * x[j]
	}
	return pred
}

// fit solves the augmented interpolation system.
func (rbf *RBFInterpolant) fit() error {
	const op = "RBFInterpolant.fit"

	n := len(rbf.points)
	ntail := rbf.dim + 1
	if n < ntail {
		// Underdetermined tail; stay on the mean fallback
		rbf.coeffs = nil
		return nil
	}

	size := n + ntail
	A := mat.NewDense(size, size, nil)
	b := mat.NewVecDense(size, nil)

	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			v := rbf.kernel.Eval(distance(rbf.points[i], rbf.points[j]))
			if i == j {
				v += rbf.damping
			}
			A.Set(i, j, v)
			A.Set(j, i, v)
		}
		A.Set(i, n, 1)
		A.Set(n, i, 1)
		for j := 0; j < rbf.dim; j++ {
			A.Set(i, n+1+j, rbf.points[i][j])
			A.Set(n+1+j, i, rbf.points[i][j])
		}
		b.SetVec(i, rbf.values[i])
	}

	var sol mat.VecDense
	if err := sol.SolveVec(A, b); err != nil {
		return optimization.WrapError(err, "interpolation system is singular").
			WithComponent("surrogate").WithOperation(op)
	}

	rbf.coeffs = make([]float64, size)
	copy(rbf.coeffs, sol.RawVector().Data)

	rbf.logger.Debug("Fitted RBF interpolant",
		zap.Int("points", n),
		zap.String("kernel", rbf.kernel.Name()),
	)
	return nil
}

func (rbf *RBFInterpolant) meanValue() float64 {
	if len(rbf.values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range rbf.values {
		sum += v
	}
	return sum / float64(len(rbf.values))
}

func distance(a, b []float64) float64 {
	sumSq := 0.0
	for i := range a {
		diff := a[i] - b[i]
		sumSq += diff * diff
	}
	return math.Sqrt(sumSq)
}
