package strategy

import (
	"math"

	"go.uber.org/zap"
)

const (
	sigmaInit = 0.2
	sigmaMax  = 0.2
	// six halvings of the initial radius
	sigmaMin = 0.2 * 0.5 * 0.5 * 0.5 * 0.5 * 0.5 * 0.5

	succTolerance    = 3
	maxFailTolFactor = 4

	// improvementTol is the relative decrease in the best value that
	// counts as a success for the step control.
	improvementTol = 1e-3
)

// StepControl tracks consecutive improvement and failure of the adaptive
// phase and shrinks or grows the sampling radius accordingly. Too many
// failures in a row trigger a full restart from a fresh experimental
// design.
type StepControl struct {
	Sigma      float64
	SigmaInit  float64
	SigmaMin   float64
	SigmaMax   float64
	SuccTol    int
	FailTol    int
	MaxFailTol int

	// Status counts consecutive successes (positive) or failures
	// (negative) of the last adjustment windows.
	Status    int
	FailCount int

	// baseline is the best value at the start of the current window;
	// fBestNew tracks the best completed value observed inside it.
	baseline float64
	fBestNew float64
	hasNew   bool
}

// NewSRBFStrategy creates a global strategy with the stochastic-RBF step
// control attached: the sampling radius handed to the adaptive sampler
// follows the trust-region schedule instead of staying fixed.
func NewSRBFStrategy(cfg Config) (*GlobalStrategy, error) {
	s, err := NewGlobalStrategy(cfg)
	if err != nil {
		return nil, err
	}
	s.step = newStepControl(s.problem.Dim, s.batchSize, s.asynchronous)
	return s, nil
}

func newStepControl(dim, batchSize int, asynchronous bool) *StepControl {
	failTol := dim
	if failTol < 4 {
		failTol = 4
	}
	if !asynchronous && batchSize > 1 {
		failTol = failTol / batchSize
		if failTol < 1 {
			failTol = 1
		}
	}
	return &StepControl{
		Sigma:      sigmaInit,
		SigmaInit:  sigmaInit,
		SigmaMin:   sigmaMin,
		SigmaMax:   sigmaMax,
		SuccTol:    succTolerance,
		FailTol:    failTol,
		MaxFailTol: maxFailTolFactor * failTol,
		baseline:   math.Inf(1),
		fBestNew:   math.Inf(1),
	}
}

// onAdaptCompleted feeds a completed adaptive evaluation into the step
// control. In asynchronous mode the adjustment happens here, once per
// completion, skipping evaluations proposed before the last adjustment;
// in synchronous mode only the window statistics are collected and the
// adjustment runs at the batch boundary.
func (sc *StepControl) onAdaptCompleted(s *GlobalStrategy, rec *Record) {
	if rec.EvID < s.st.EvRestart {
		return
	}
	if rec.Value < sc.fBestNew {
		sc.fBestNew = rec.Value
		sc.hasNew = true
	}
	if s.asynchronous && rec.EvID >= s.st.EvAdjust {
		sc.adjust(s)
	}
}

// adjust closes the current window: classify it as success or failure,
// resize sigma, and restart from a fresh design once the radius has
// collapsed or failures have piled up.
func (sc *StepControl) adjust(s *GlobalStrategy) {
	if !sc.hasNew {
		return
	}
	if math.IsInf(sc.baseline, 1) {
		// First window after construction or restart seeds the baseline
		sc.baseline = sc.fBestNew
		sc.fBestNew = math.Inf(1)
		sc.hasNew = false
		s.st.EvAdjust = s.st.EvLast + 1
		return
	}

	improved := sc.fBestNew < sc.baseline-improvementTol*math.Abs(sc.baseline)
	if improved {
		if sc.Status < 0 {
			sc.Status = 0
		}
		sc.Status++
		sc.FailCount = 0
	} else {
		if sc.Status > 0 {
			sc.Status = 0
		}
		sc.Status--
		sc.FailCount++
	}

	if sc.Status <= -sc.FailTol {
		sc.Status = 0
		sc.Sigma /= 2
		s.logger.Info("Shrinking sampling radius", zap.Float64("sigma", sc.Sigma))
	} else if sc.Status >= sc.SuccTol {
		sc.Status = 0
		sc.Sigma = math.Min(2*sc.Sigma, sc.SigmaMax)
		s.logger.Info("Growing sampling radius", zap.Float64("sigma", sc.Sigma))
	}

	if sc.fBestNew < sc.baseline {
		sc.baseline = sc.fBestNew
	}
	sc.fBestNew = math.Inf(1)
	sc.hasNew = false
	s.st.EvAdjust = s.st.EvLast + 1

	if sc.FailCount >= sc.MaxFailTol || sc.Sigma <= sc.SigmaMin {
		sc.restart(s)
	}
}

// restart resets the step control and queues a fresh experimental
// design. Evaluations proposed before this point no longer influence
// the new window.
func (sc *StepControl) restart(s *GlobalStrategy) {
	s.logger.Info("Restarting from a fresh design",
		zap.Int("fail_count", sc.FailCount),
		zap.Float64("sigma", sc.Sigma),
	)
	sc.Sigma = sc.SigmaInit
	sc.Status = 0
	sc.FailCount = 0
	sc.baseline = math.Inf(1)
	sc.fBestNew = math.Inf(1)
	sc.hasNew = false

	s.st.EvRestart = s.st.EvLast + 1
	s.st.EvAdjust = s.st.EvRestart
	s.st.BatchQueue = nil
	if err := s.sampleInitial(); err != nil {
		s.logger.Error("Restart design failed", zap.Error(err))
	}
}
