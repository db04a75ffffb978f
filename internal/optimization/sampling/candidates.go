// Package sampling provides adaptive candidate-point samplers that
// propose new evaluation points from surrogate state.
package sampling

import (
	"math"
	"math/rand"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/copyleftdev/SORREL/internal/optimization"
)

// meritWeights cycle through candidate batches, trading off exploitation
// (surrogate value) against exploration (distance to known points).
var meritWeights = []float64{0.3, 0.5, 0.8, 0.95}

// minDistTol is the minimum scaled distance a candidate must keep from
// every evaluated or pending point.
const minDistTol = 1e-3

// CandidateSRBF samples candidates by Gaussian perturbation of the best
// point and selects winners by a weighted surrogate-value / distance merit.
type CandidateSRBF struct {
	problem   *optimization.Problem
	numCand   int
	rng       *rand.Rand
	weightIdx int
	logger    *zap.Logger
}

// NewCandidateSRBF creates an SRBF candidate sampler for the problem.
// A nil logger disables logging.
func NewCandidateSRBF(problem *optimization.Problem, seed int64, logger *zap.Logger) *CandidateSRBF {
	if logger == nil {
		logger = zap.NewNop()
	}
	numCand := 100 * problem.Dim
	if numCand > 5000 {
		numCand = 5000
	}
	return &CandidateSRBF{
		problem: problem,
		numCand: numCand,
		rng:     rand.New(rand.NewSource(seed)),
		logger:  logger.Named("candidate_srbf"),
	}
}

// MakePoints returns npts new candidate points.
func (s *CandidateSRBF) MakePoints(npts int, args optimization.SamplerArgs) (*mat.Dense, error) {
	if npts < 1 {
		return nil, optimization.NewErrorf("npts must be positive, got %d", npts).
			WithComponent("sampling").WithOperation("CandidateSRBF.MakePoints")
	}
	cands := s.generate(args)
	return selectByMerit(s.problem, cands, npts, args, s.nextWeights(npts), s.logger)
}

// generate draws the raw candidate cloud around the best point.
func (s *CandidateSRBF) generate(args optimization.SamplerArgs) *mat.Dense {
	d := s.problem.Dim
	cands := mat.NewDense(s.numCand, d, nil)

	if args.XBest == nil {
		// No completed evaluation yet: sample the whole box uniformly
		for i := 0; i < s.numCand; i++ {
			for j := 0; j < d; j++ {
				lb, ub := s.problem.LowerBounds[j], s.problem.UpperBounds[j]
				cands.Set(i, j, lb+s.rng.Float64()*(ub-lb))
			}
			setRow(cands, i, s.problem.RoundVars(mat.Row(nil, i, cands)))
		}
		return cands
	}

	for i := 0; i < s.numCand; i++ {
		row := make([]float64, d)
		for j := 0; j < d; j++ {
			lb, ub := s.problem.LowerBounds[j], s.problem.UpperBounds[j]
			v := args.XBest[j] + s.gauss(args.SamplingRadius*(ub-lb))
			row[j] = math.Max(lb, math.Min(v, ub))
		}
		setRow(cands, i, s.problem.RoundVars(row))
	}
	return cands
}

func (s *CandidateSRBF) gauss(sigma float64) float64 {
	n := distuv.Normal{Mu: 0, Sigma: sigma, Src: randSource{s.rng}}
	return n.Rand()
}

func (s *CandidateSRBF) nextWeights(npts int) []float64 {
	ws := make([]float64, npts)
	for i := range ws {
		ws[i] = meritWeights[s.weightIdx%len(meritWeights)]
		s.weightIdx++
	}
	return ws
}

// CandidateDYCORS perturbs only a decaying random subset of dimensions,
// which keeps high-dimensional search local as the budget is consumed.
type CandidateDYCORS struct {
	srbf     *CandidateSRBF
	problem  *optimization.Problem
	maxEvals int
	rng      *rand.Rand
	logger   *zap.Logger
}

// NewCandidateDYCORS creates a DYCORS candidate sampler. maxEvals is the
// total evaluation budget used to schedule the perturbation probability.
func NewCandidateDYCORS(problem *optimization.Problem, maxEvals int, seed int64, logger *zap.Logger) *CandidateDYCORS {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CandidateDYCORS{
		srbf:     NewCandidateSRBF(problem, seed, logger),
		problem:  problem,
		maxEvals: maxEvals,
		rng:      rand.New(rand.NewSource(seed + 1)),
		logger:   logger.Named("candidate_dycors"),
	}
}

// MakePoints returns npts new candidate points.
func (c *CandidateDYCORS) MakePoints(npts int, args optimization.SamplerArgs) (*mat.Dense, error) {
	if npts < 1 {
		return nil, optimization.NewErrorf("npts must be positive, got %d", npts).
			WithComponent("sampling").WithOperation("CandidateDYCORS.MakePoints")
	}
	if args.XBest == nil {
		return c.srbf.MakePoints(npts, args)
	}

	d := c.problem.Dim
	numEval := len(args.FX)

	// Perturbation probability decays with the consumed budget
	prob := math.Min(20.0/float64(d), 1.0)
	if c.maxEvals > 1 && numEval > 0 {
		prob *= 1.0 - math.Log(float64(numEval))/math.Log(float64(c.maxEvals))
	}
	prob = math.Max(prob, 1.0/float64(d))

	cands := mat.NewDense(c.srbf.numCand, d, nil)
	for i := 0; i < c.srbf.numCand; i++ {
		row := append([]float64(nil), args.XBest...)
		perturbed := false
		for j := 0; j < d; j++ {
			if c.rng.Float64() < prob {
				perturbed = true
				lb, ub := c.problem.LowerBounds[j], c.problem.UpperBounds[j]
				v := row[j] + c.srbf.gauss(args.SamplingRadius*(ub-lb))
				row[j] = math.Max(lb, math.Min(v, ub))
			}
		}
		if !perturbed {
			// Always move in at least one dimension
			j := c.rng.Intn(d)
			lb, ub := c.problem.LowerBounds[j], c.problem.UpperBounds[j]
			v := row[j] + c.srbf.gauss(args.SamplingRadius*(ub-lb))
			row[j] = math.Max(lb, math.Min(v, ub))
		}
		setRow(cands, i, c.problem.RoundVars(row))
	}

	return selectByMerit(c.problem, cands, npts, args, c.srbf.nextWeights(npts), c.logger)
}

// selectByMerit ranks candidates by a weighted combination of scaled
// surrogate value and scaled distance to the known point cloud, then picks
// npts winners that keep a minimum distance from the cloud and each other.
func selectByMerit(problem *optimization.Problem, cands *mat.Dense, npts int,
	args optimization.SamplerArgs, weights []float64, logger *zap.Logger) (*mat.Dense, error) {

	n, d := cands.Dims()

	// Known cloud: completed plus pending points
	var cloud [][]float64
	appendRows := func(m *mat.Dense) {
		if m == nil {
			return
		}
		r, _ := m.Dims()
		for i := 0; i < r; i++ {
			cloud = append(cloud, mat.Row(nil, i, m))
		}
	}
	appendRows(args.X)
	appendRows(args.Xpend)

	// Surrogate values, scaled to [0,1] across the candidate cloud
	vals := make([]float64, n)
	minVal, maxVal := math.Inf(1), math.Inf(-1)
	for i := 0; i < n; i++ {
		vals[i] = args.Surrogate.Eval(mat.Row(nil, i, cands))
		minVal = math.Min(minVal, vals[i])
		maxVal = math.Max(maxVal, vals[i])
	}

	boxDiag := boxDiagonal(problem)
	dists := make([]float64, n)
	maxDist := 0.0
	for i := 0; i < n; i++ {
		dists[i] = nearestDistance(mat.Row(nil, i, cands), cloud)
		if math.IsInf(dists[i], 1) {
			// Nothing evaluated or pending yet
			dists[i] = boxDiag
		}
		maxDist = math.Max(maxDist, dists[i])
	}
	selected := mat.NewDense(npts, d, nil)
	taken := make([]bool, n)

	for k := 0; k < npts; k++ {
		w := weights[k]
		bestIdx, bestScore := -1, math.Inf(1)
		for i := 0; i < n; i++ {
			if taken[i] {
				continue
			}
			if dists[i] < minDistTol*boxDiag {
				continue
			}
			score := w*scale01(vals[i], minVal, maxVal) + (1.0-w)*(1.0-scale01(dists[i], 0, maxDist))
			if score < bestScore {
				bestScore = score
				bestIdx = i
			}
		}
		if bestIdx < 0 {
			return nil, optimization.NewError("no candidate point is far enough from the evaluated set").
				WithComponent("sampling").WithOperation("selectByMerit")
		}
		taken[bestIdx] = true
		winner := mat.Row(nil, bestIdx, cands)
		setRow(selected, k, winner)

		// Later picks must also keep distance from this winner
		for i := 0; i < n; i++ {
			if taken[i] {
				continue
			}
			dd := pointDistance(mat.Row(nil, i, cands), winner)
			if dd < dists[i] {
				dists[i] = dd
			}
		}
	}

	logger.Debug("Selected candidate points",
		zap.Int("npts", npts),
		zap.Int("candidates", n),
	)
	return selected, nil
}

func scale01(v, lo, hi float64) float64 {
	if hi <= lo {
		return 0.5
	}
	return (v - lo) / (hi - lo)
}

func nearestDistance(x []float64, cloud [][]float64) float64 {
	if len(cloud) == 0 {
		return math.Inf(1)
	}
	best := math.Inf(1)
	for _, p := range cloud {
		if d := pointDistance(x, p); d < best {
			best = d
		}
	}
	return best
}

func pointDistance(a, b []float64) float64 {
	sumSq := 0.0
	for i := range a {
		diff := a[i] - b[i]
		sumSq += diff * diff
	}
	return math.Sqrt(sumSq)
}

func boxDiagonal(p *optimization.Problem) float64 {
	sumSq := 0.0
	for i := 0; i < p.Dim; i++ {
		diff := p.UpperBounds[i] - p.LowerBounds[i]
		sumSq += diff * diff
	}
	return math.Sqrt(sumSq)
}

func setRow(m *mat.Dense, i int, row []float64) {
	for j, v := range row {
		m.Set(i, j, v)
	}
}

// randSource adapts math/rand to gonum's distuv source interface.
type randSource struct{ rng *rand.Rand }

func (s randSource) Uint64() uint64 { return s.rng.Uint64() }

func (s randSource) Seed(seed uint64) { s.rng.Seed(int64(seed)) }
