package strategy

import (
	"time"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"

	"github.com/copyleftdev/SORREL/internal/optimization"
)

// defaultSamplingRadius is the perturbation scale handed to the adaptive
// sampler when no step control adjusts it.
const defaultSamplingRadius = 0.2

// GlobalStrategy owns the budget and phase bookkeeping for one run: it
// pulls points from the experimental design while in the initial phase,
// from the adaptive sampler afterwards, and applies the outcome of every
// accept/reject/complete/abort event to the counters.
//
// Once the evaluation budget has been assigned, no further evaluations
// are issued; a TERMINATE proposal follows as soon as the pending set
// drains.
type GlobalStrategy struct {
	problem   *optimization.Problem
	expDesign optimization.ExperimentalDesign
	surrogate optimization.Surrogate
	sampler   optimization.AdaptiveSampler
	stopping  optimization.StoppingCriterion

	asynchronous bool
	batchSize    int

	// step, when set, turns this into the trust-region SRBF variant
	step *StepControl

	st      *State
	open    map[int]*Proposal
	pending map[int]*Record
	fevals  []*Record

	store  *CheckpointStore
	strict bool
	logger *zap.Logger
	now    nowFunc
	done   bool
}

// NewGlobalStrategy creates a plain global strategy and queues its
// initial experimental design.
func NewGlobalStrategy(cfg Config) (*GlobalStrategy, error) {
	s, err := newStrategy(cfg)
	if err != nil {
		return nil, err
	}
	if err := s.sampleInitial(); err != nil {
		return nil, err
	}
	return s, nil
}

// newStrategy builds the strategy without drawing the initial design;
// used by both fresh construction and checkpoint resume.
func newStrategy(cfg Config) (*GlobalStrategy, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	cfg = cfg.withDefaults()

	s := &GlobalStrategy{
		problem:      cfg.Problem,
		expDesign:    cfg.ExpDesign,
		surrogate:    cfg.Surrogate,
		sampler:      cfg.Sampler,
		stopping:     cfg.Stopping,
		asynchronous: cfg.Asynchronous,
		batchSize:    cfg.BatchSize,
		st:           newState(cfg.MaxEvals, time.Now()),
		open:         make(map[int]*Proposal),
		pending:      make(map[int]*Record),
		strict:       cfg.Strict,
		logger:       cfg.Logger.Named("strategy"),
		now:          time.Now,
	}
	if cfg.CheckpointPath != "" {
		s.store = NewCheckpointStore(cfg.CheckpointPath, cfg.Logger)
	}
	return s, nil
}

// sampleInitial draws the experimental design, maps it onto the problem
// bounds and queues every point. It also resets the surrogate, which is
// what a restart needs.
func (s *GlobalStrategy) sampleInitial() error {
	const op = "GlobalStrategy.sampleInitial"

	s.logger.Info("Queueing experimental design",
		zap.Int("points", s.expDesign.NumPoints()),
		zap.Bool("restart", s.st.NumEval > 0),
	)
	s.surrogate.Reset()
	s.st.Phase = PhaseInitial

	points := s.expDesign.GeneratePoints()
	rows, cols := points.Dims()
	if rows < 1 {
		return optimization.NewError("experimental design produced no points").
			WithComponent("strategy").WithOperation(op)
	}
	if err := s.problem.CheckDim(cols, "experimental design"); err != nil {
		return err
	}

	for i := 0; i < rows; i++ {
		x := s.problem.RoundVars(s.problem.FromUnitBox(mat.Row(nil, i, points)))
		s.st.BatchQueue = append(s.st.BatchQueue, x)
	}
	return nil
}

// ProposeAction decides the next action for a worker-pool request.
// A nil proposal means no action: work is still in flight and the caller
// should ask again after the next event.
func (s *GlobalStrategy) ProposeAction() (*Proposal, error) {
	st := s.st

	if st.FevalBudget <= 0 || st.Terminate || st.timeExceeded(s.now()) {
		if st.FevalPending == 0 {
			return s.terminateProposal(), nil
		}
		return nil, nil // drain in-flight work first
	}

	if s.asynchronous {
		if len(st.BatchQueue) > 0 {
			return s.initProposal(), nil
		}
		return s.adaptProposalAsync()
	}

	// Synchronous batch mode
	if len(st.BatchQueue) > 0 {
		if st.Phase == PhaseInitial {
			return s.initProposal(), nil
		}
		return s.adaptProposalSync(), nil
	}
	if st.FevalPending == 0 {
		if st.Phase == PhaseAdaptive && s.step != nil {
			if s.step.adjust(s); st.Phase == PhaseInitial {
				// The step control restarted the design
				return s.initProposal(), nil
			}
		}
		st.Phase = PhaseAdaptive
		if err := s.makeBatch(); err != nil {
			return nil, err
		}
		if len(st.BatchQueue) == 0 {
			return nil, nil
		}
		return s.adaptProposalSync(), nil
	}
	return nil, nil
}

// terminateProposal issues the termination signal to the worker pool.
func (s *GlobalStrategy) terminateProposal() *Proposal {
	p := &Proposal{Kind: ProposalTerminate, EvID: s.st.nextEv()}
	s.open[p.EvID] = p
	s.logger.Info("Proposing termination",
		zap.Int("numeval", s.st.NumEval),
		zap.Float64("fbest", s.st.FBest),
	)
	return p
}

// makeProposal creates an EVAL proposal and applies the construction-time
// accounting: the budget is committed the moment the proposal exists.
func (s *GlobalStrategy) makeProposal(x []float64, initial bool) *Proposal {
	st := s.st
	st.FevalBudget--
	st.FevalPending++
	st.appendPending(x)

	p := &Proposal{
		Kind:    ProposalEval,
		Point:   append([]float64(nil), x...),
		EvID:    st.nextEv(),
		initial: initial,
	}
	if initial {
		st.InitPending++
	}
	s.open[p.EvID] = p
	s.assertInvariants()
	return p
}

// initProposal pops the next experimental-design point off the queue.
func (s *GlobalStrategy) initProposal() *Proposal {
	st := s.st
	x := st.BatchQueue[0]
	st.BatchQueue = st.BatchQueue[1:]
	return s.makeProposal(x, true)
}

// adaptProposalSync pops the next point of an already-generated batch.
func (s *GlobalStrategy) adaptProposalSync() *Proposal {
	st := s.st
	st.ProposalCounter++
	x := st.BatchQueue[0]
	st.BatchQueue = st.BatchQueue[1:]
	p := s.makeProposal(x, false)
	pred := s.surrogate.Eval(x)
	p.PredVal = &pred
	return p
}

// adaptProposalAsync asks the sampler for a single fresh candidate.
func (s *GlobalStrategy) adaptProposalAsync() (*Proposal, error) {
	st := s.st
	st.Phase = PhaseAdaptive
	st.ProposalCounter++

	points, err := s.sampler.MakePoints(1, s.samplerArgs())
	if err != nil {
		return nil, err
	}
	_, cols := points.Dims()
	if err := s.problem.CheckDim(cols, "adaptive sampler"); err != nil {
		return nil, err
	}

	x := mat.Row(nil, 0, points)
	p := s.makeProposal(x, false)
	pred := s.surrogate.Eval(x)
	p.PredVal = &pred
	return p, nil
}

// makeBatch requests a full synchronous batch from the adaptive sampler.
// The sampler is never invoked with a non-positive count.
func (s *GlobalStrategy) makeBatch() error {
	st := s.st
	nsamples := s.batchSize
	if nsamples > st.FevalBudget {
		nsamples = st.FevalBudget
	}
	if nsamples <= 0 {
		return nil
	}

	points, err := s.sampler.MakePoints(nsamples, s.samplerArgs())
	if err != nil {
		return err
	}
	rows, cols := points.Dims()
	if err := s.problem.CheckDim(cols, "adaptive sampler"); err != nil {
		return err
	}
	for i := 0; i < rows; i++ {
		st.BatchQueue = append(st.BatchQueue, mat.Row(nil, i, points))
	}
	return nil
}

// samplerArgs packages the current state for the adaptive sampler.
func (s *GlobalStrategy) samplerArgs() optimization.SamplerArgs {
	return optimization.SamplerArgs{
		Surrogate:      s.surrogate,
		X:              toDense(s.st.X, s.problem.Dim),
		FX:             s.st.FX,
		Xpend:          toDense(s.st.Xpend, s.problem.Dim),
		XBest:          s.st.XBest,
		SamplingRadius: s.samplingRadius(),
	}
}

func (s *GlobalStrategy) samplingRadius() float64 {
	if s.step != nil {
		return s.step.Sigma
	}
	return defaultSamplingRadius
}

// AcceptProposal resolves a proposal as accepted. For EVAL proposals it
// creates the Record tracking the now in-flight evaluation; no counters
// besides the accept count change, completion is a separate event.
func (s *GlobalStrategy) AcceptProposal(evID int) (*Record, error) {
	p, ok := s.open[evID]
	if !ok {
		return nil, optimization.NewErrorf("proposal %d is unknown or already resolved", evID).
			WithComponent("strategy").WithOperation("AcceptProposal")
	}
	delete(s.open, evID)

	if p.Kind == ProposalTerminate {
		s.done = true
		s.logger.Info("Termination acknowledged by worker pool")
		return nil, nil
	}

	s.st.AcceptedCount++
	rec := &Record{
		Point:   p.Point,
		EvID:    p.EvID,
		Status:  RecordPending,
		PredVal: p.PredVal,
		initial: p.initial,
	}
	s.pending[evID] = rec
	s.assertInvariants()
	return rec, nil
}

// RejectProposal resolves a proposal as rejected and restores the budget
// committed at construction. Initial-design points are re-queued (they
// must eventually be evaluated); adaptive candidates are discarded and
// the sampler will synthesize a fresh one next cycle.
func (s *GlobalStrategy) RejectProposal(evID int) error {
	p, ok := s.open[evID]
	if !ok {
		return optimization.NewErrorf("proposal %d is unknown or already resolved", evID).
			WithComponent("strategy").WithOperation("RejectProposal")
	}
	delete(s.open, evID)

	if p.Kind == ProposalTerminate {
		return nil
	}

	st := s.st
	st.RejectedCount++
	st.FevalBudget++
	st.FevalPending--
	if p.initial {
		st.InitPending--
		st.BatchQueue = append(st.BatchQueue, p.Point)
	}
	st.removePending(p.Point)

	s.logger.Debug("Proposal rejected",
		zap.Int("event_id", evID),
		zap.Bool("initial", p.initial),
	)
	s.assertInvariants()
	return nil
}

// CompleteRecord resolves an in-flight evaluation with its value: the
// point joins the completed history, feeds the surrogate and the best
// tracking, and the stopping predicate gets a look at the value.
func (s *GlobalStrategy) CompleteRecord(evID int, value float64) error {
	rec, ok := s.pending[evID]
	if !ok {
		return optimization.NewErrorf("record %d is unknown or already terminal", evID).
			WithComponent("strategy").WithOperation("CompleteRecord")
	}
	delete(s.pending, evID)

	st := s.st
	if s.stopping != nil && s.stopping(value) {
		st.Terminate = true
	}

	st.NumEval++
	st.FevalPending--
	if rec.initial {
		st.InitPending--
	}
	rec.Status = RecordCompleted
	rec.Value = value
	rec.Feasible = true
	rec.WorkerNumEval = st.NumEval

	st.recordCompletion(rec.Point, value)
	s.surrogate.AddPoint(rec.Point, value)
	st.removePending(rec.Point)

	s.fevals = append(s.fevals, rec)
	s.logger.Info("Evaluation completed",
		zap.Int("numeval", st.NumEval),
		zap.Float64("value", value),
		zap.Float64("fbest", st.FBest),
	)

	if s.step != nil && !rec.initial {
		s.step.onAdaptCompleted(s, rec)
	}
	s.assertInvariants()
	return nil
}

// AbortRecord resolves an in-flight evaluation that died or was
// cancelled: budget and pending accounting are restored unconditionally,
// and initial-design points go back on the queue.
func (s *GlobalStrategy) AbortRecord(evID int) error {
	rec, ok := s.pending[evID]
	if !ok {
		return optimization.NewErrorf("record %d is unknown or already terminal", evID).
			WithComponent("strategy").WithOperation("AbortRecord")
	}
	delete(s.pending, evID)

	st := s.st
	st.FevalBudget++
	st.FevalPending--
	if rec.initial {
		st.InitPending--
		st.BatchQueue = append(st.BatchQueue, rec.Point)
	}
	rec.Status = RecordAborted
	st.removePending(rec.Point)

	s.logger.Warn("Evaluation aborted",
		zap.Int("event_id", evID),
		zap.Bool("initial", rec.initial),
	)
	s.assertInvariants()
	return nil
}

// Save persists the strategy state through the checkpoint store.
func (s *GlobalStrategy) Save() error {
	if s.store == nil {
		return optimization.NewError("no checkpoint path configured").
			WithComponent("strategy").WithOperation("Save")
	}
	return s.store.Save(s.st, s.step)
}

// Resume restores a strategy from the checkpoint at cfg.CheckpointPath.
// The snapshot decides the variant: a run saved with step control comes
// back as SRBF regardless of how the resume was requested. In-flight
// bookkeeping was reset by the store; the surrogate is refit from the
// completed history.
func Resume(cfg Config) (*GlobalStrategy, error) {
	s, err := newStrategy(cfg)
	if err != nil {
		return nil, err
	}
	if s.store == nil {
		return nil, optimization.NewError("a checkpoint path is required to resume").
			WithComponent("strategy").WithOperation("Resume")
	}

	st, step, err := s.store.Load()
	if err != nil {
		return nil, err
	}
	s.st = st
	if step != nil {
		sc := newStepControl(s.problem.Dim, s.batchSize, s.asynchronous)
		sc.Sigma = step.Sigma
		sc.Status = step.Status
		sc.FailCount = step.FailCount
		if step.Baseline != nil {
			sc.baseline = *step.Baseline
		}
		if step.FBestNew != nil {
			sc.fBestNew = *step.FBestNew
		}
		sc.hasNew = step.HasNew
		s.step = sc
	}

	s.surrogate.Reset()
	for i, x := range st.X {
		s.surrogate.AddPoint(x, st.FX[i])
	}
	s.logger.Info("Resumed from checkpoint",
		zap.Int("numeval", st.NumEval),
		zap.Float64("fbest", st.FBest),
		zap.Bool("srbf", s.step != nil),
	)
	s.assertInvariants()
	return s, nil
}

// State exposes the strategy state; callers must not mutate it.
func (s *GlobalStrategy) State() *State { return s.st }

// Fevals returns the completed-evaluation log in completion order.
func (s *GlobalStrategy) Fevals() []*Record { return s.fevals }

// Done reports whether the worker pool has acknowledged termination.
func (s *GlobalStrategy) Done() bool { return s.done }

// assertInvariants fails loudly on a conservation violation: always
// logged, and a panic in strict (testing) builds.
func (s *GlobalStrategy) assertInvariants() {
	if err := s.st.checkInvariants(); err != nil {
		s.logger.Error("State invariant violated", zap.Error(err))
		if s.strict {
			panic(err)
		}
	}
}

// toDense copies rows into a gonum matrix; nil when there are no rows.
func toDense(rows [][]float64, dim int) *mat.Dense {
	if len(rows) == 0 {
		return nil
	}
	m := mat.NewDense(len(rows), dim, nil)
	for i, row := range rows {
		for j, v := range row {
			m.Set(i, j, v)
		}
	}
	return m
}
