package strategy

import (
	"math"
	"time"

	"github.com/copyleftdev/SORREL/internal/optimization"
)

// Phase identifies which point source feeds the strategy.
type Phase string

const (
	// PhaseInitial consumes the experimental design
	PhaseInitial Phase = "initial"
	// PhaseAdaptive samples from the surrogate-driven candidate policy
	PhaseAdaptive Phase = "adaptive"
)

// UnlimitedEvals is the evaluation-count sentinel used when the run is
// bounded by wall-clock time instead.
const UnlimitedEvals = math.MaxInt32

// State is the persisted unit of a strategy: the completed history, the
// pending set, the batch queue and every counter the budget and phase
// bookkeeping depends on. It is created once at strategy construction,
// mutated exclusively by the strategy's event handlers, and persisted or
// restored wholesale by the CheckpointStore.
type State struct {
	// Completed evaluations, insertion order == completion order
	X  [][]float64
	FX []float64

	// Points of all non-terminal proposals, one row each
	Xpend [][]float64

	// Best completed point and value; FBest is +Inf until the first
	// completion
	XBest []float64
	FBest float64

	Phase Phase

	// Not-yet-proposed points (initial design, or an unconsumed
	// synchronous adaptive batch)
	BatchQueue [][]float64

	// Budgeting
	NumEval      int
	MaxEvals     int
	FevalBudget  int
	FevalPending int
	InitPending  int

	AcceptedCount   int
	RejectedCount   int
	ProposalCounter int

	// Event counters
	EvLast    int
	EvAdjust  int
	EvRestart int

	Terminate  bool
	StartTime  time.Time
	TimeBudget time.Duration
}

// newState builds the initial state for a budget configuration.
// A negative maxEvals is interpreted as a time budget in seconds, as in
// the evaluation-count XOR wall-clock contract.
func newState(maxEvals int, start time.Time) *State {
	st := &State{
		Phase:     PhaseInitial,
		FBest:     math.Inf(1),
		StartTime: start,
	}
	if maxEvals < 0 {
		st.MaxEvals = UnlimitedEvals
		st.TimeBudget = time.Duration(-maxEvals) * time.Second
	} else {
		st.MaxEvals = maxEvals
	}
	st.FevalBudget = st.MaxEvals
	return st
}

// nextEv returns a fresh monotonically increasing event identifier.
func (st *State) nextEv() int {
	st.EvLast++
	return st.EvLast
}

// timeExceeded reports whether the wall-clock budget, if any, has run out.
func (st *State) timeExceeded(now time.Time) bool {
	return st.TimeBudget > 0 && now.Sub(st.StartTime) >= st.TimeBudget
}

// appendPending adds a copy of x to the pending set.
func (st *State) appendPending(x []float64) {
	st.Xpend = append(st.Xpend, append([]float64(nil), x...))
}

// removePending removes the first pending row equal to x. Every point in
// the pending set is removed exactly once, at its proposal's terminal
// transition.
func (st *State) removePending(x []float64) {
	for i, row := range st.Xpend {
		if pointsEqual(row, x) {
			st.Xpend = append(st.Xpend[:i], st.Xpend[i+1:]...)
			return
		}
	}
}

// recordCompletion appends a completed (point, value) pair and updates
// the best tracking.
func (st *State) recordCompletion(x []float64, fx float64) {
	st.X = append(st.X, append([]float64(nil), x...))
	st.FX = append(st.FX, fx)
	if fx < st.FBest {
		st.FBest = fx
		st.XBest = append([]float64(nil), x...)
	}
}

// checkInvariants verifies the conservation properties that must hold
// after every state transition.
func (st *State) checkInvariants() error {
	if st.FevalBudget+st.NumEval+st.FevalPending != st.MaxEvals {
		return optimization.NewErrorf(
			"budget conservation violated: budget=%d + numeval=%d + pending=%d != max_evals=%d",
			st.FevalBudget, st.NumEval, st.FevalPending, st.MaxEvals).
			WithComponent("strategy").WithOperation("checkInvariants")
	}
	if len(st.Xpend) != st.FevalPending {
		return optimization.NewErrorf(
			"pending set inconsistent: rows(Xpend)=%d != feval_pending=%d",
			len(st.Xpend), st.FevalPending).
			WithComponent("strategy").WithOperation("checkInvariants")
	}
	if len(st.X) != st.NumEval || len(st.FX) != st.NumEval {
		return optimization.NewErrorf(
			"completed set inconsistent: rows(X)=%d rows(fX)=%d numeval=%d",
			len(st.X), len(st.FX), st.NumEval).
			WithComponent("strategy").WithOperation("checkInvariants")
	}
	if st.NumEval > 0 {
		minFX := math.Inf(1)
		for _, v := range st.FX {
			minFX = math.Min(minFX, v)
		}
		if st.FBest != minFX {
			return optimization.NewErrorf("best tracking inconsistent: fbest=%v min(fX)=%v",
				st.FBest, minFX).
				WithComponent("strategy").WithOperation("checkInvariants")
		}
	}
	if st.InitPending < 0 || st.FevalPending < 0 {
		return optimization.NewErrorf("negative pending count: init=%d feval=%d",
			st.InitPending, st.FevalPending).
			WithComponent("strategy").WithOperation("checkInvariants")
	}
	return nil
}

// Best returns the best point and value found so far. The value is +Inf
// before the first completed evaluation.
func (st *State) Best() ([]float64, float64) {
	return st.XBest, st.FBest
}

func pointsEqual(a, b []float64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
