package strategy

import (
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/copyleftdev/SORREL/internal/optimization"
)

// CheckpointStore persists strategy state as JSON. Writes go through a
// temp file followed by a rename, so the file at path is always either
// the previous snapshot or the new one, never a torn write.
type CheckpointStore struct {
	path   string
	logger *zap.Logger
}

// NewCheckpointStore creates a store writing snapshots to path.
func NewCheckpointStore(path string, logger *zap.Logger) *CheckpointStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CheckpointStore{path: path, logger: logger.Named("checkpoint")}
}

// Variant names written into checkpoints so a resumed run rebuilds the
// same strategy flavor that saved it.
const (
	variantGlobal = "global"
	variantSRBF   = "srbf"
)

// stepCheckpoint mirrors the dynamic step-control fields. The tolerances
// are derived from the run configuration and rebuilt on resume.
type stepCheckpoint struct {
	Sigma     float64  `json:"sigma"`
	Status    int      `json:"status"`
	FailCount int      `json:"fail_count"`
	Baseline  *float64 `json:"baseline,omitempty"`
	FBestNew  *float64 `json:"f_best_new,omitempty"`
	HasNew    bool     `json:"has_new,omitempty"`
}

// checkpointState mirrors State for serialization. JSON cannot encode
// Inf, so FBest travels as a nullable field that is absent until the
// first completed evaluation.
type checkpointState struct {
	Variant string          `json:"variant"`
	Step    *stepCheckpoint `json:"step,omitempty"`

	X  [][]float64 `json:"x"`
	FX []float64   `json:"fx"`

	XBest []float64 `json:"x_best,omitempty"`
	FBest *float64  `json:"f_best,omitempty"`

	Phase      Phase       `json:"phase"`
	BatchQueue [][]float64 `json:"batch_queue,omitempty"`

	NumEval  int  `json:"num_eval"`
	MaxEvals int  `json:"max_evals"`
	TimeOnly bool `json:"time_only,omitempty"`

	AcceptedCount   int `json:"accepted_count"`
	RejectedCount   int `json:"rejected_count"`
	ProposalCounter int `json:"proposal_counter"`

	EvLast    int `json:"ev_last"`
	EvAdjust  int `json:"ev_adjust"`
	EvRestart int `json:"ev_restart"`

	Terminate      bool      `json:"terminate"`
	StartTime      time.Time `json:"start_time"`
	TimeBudgetSecs float64   `json:"time_budget_secs,omitempty"`
}

// Save writes an atomic snapshot of st. A non-nil step marks the
// snapshot as an SRBF run and persists the trust-region bookkeeping.
func (cs *CheckpointStore) Save(st *State, step *StepControl) error {
	const op = "CheckpointStore.Save"

	snap := checkpointState{
		Variant:         variantGlobal,
		X:               st.X,
		FX:              st.FX,
		XBest:           st.XBest,
		Phase:           st.Phase,
		BatchQueue:      st.BatchQueue,
		NumEval:         st.NumEval,
		MaxEvals:        st.MaxEvals,
		TimeOnly:        st.TimeBudget > 0,
		AcceptedCount:   st.AcceptedCount,
		RejectedCount:   st.RejectedCount,
		ProposalCounter: st.ProposalCounter,
		EvLast:          st.EvLast,
		EvAdjust:        st.EvAdjust,
		EvRestart:       st.EvRestart,
		Terminate:       st.Terminate,
		StartTime:       st.StartTime,
		TimeBudgetSecs:  st.TimeBudget.Seconds(),
	}
	snap.FBest = finitePtr(st.FBest)
	if step != nil {
		snap.Variant = variantSRBF
		snap.Step = &stepCheckpoint{
			Sigma:     step.Sigma,
			Status:    step.Status,
			FailCount: step.FailCount,
			Baseline:  finitePtr(step.baseline),
			FBestNew:  finitePtr(step.fBestNew),
			HasNew:    step.hasNew,
		}
	}

	data, err := json.MarshalIndent(&snap, "", "  ")
	if err != nil {
		return optimization.WrapError(err, "failed to serialize checkpoint").
			WithComponent("checkpoint").WithOperation(op)
	}

	if dir := filepath.Dir(cs.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return optimization.WrapError(err, "failed to create checkpoint directory").
				WithComponent("checkpoint").WithOperation(op)
		}
	}

	tmp := cs.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return optimization.WrapError(err, "failed to write checkpoint").
			WithComponent("checkpoint").WithOperation(op)
	}
	if err := os.Rename(tmp, cs.path); err != nil {
		os.Remove(tmp)
		return optimization.WrapError(err, "failed to replace checkpoint").
			WithComponent("checkpoint").WithOperation(op)
	}

	cs.logger.Debug("Checkpoint saved",
		zap.String("path", cs.path),
		zap.Int("numeval", st.NumEval),
	)
	return nil
}

// Load reads the snapshot at path and rebuilds a State ready to resume,
// along with the step-control snapshot when the run was SRBF. Anything
// that was in flight at save time is gone: the pending set is empty and
// the budget is recomputed from the completed count, so the conservation
// between budget, completed and pending holds from the first transition
// after resume.
func (cs *CheckpointStore) Load() (*State, *stepCheckpoint, error) {
	const op = "CheckpointStore.Load"

	data, err := os.ReadFile(cs.path)
	if err != nil {
		return nil, nil, optimization.WrapError(err, "failed to read checkpoint").
			WithComponent("checkpoint").WithOperation(op)
	}
	var snap checkpointState
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, nil, optimization.WrapErrorf(err, "failed to parse checkpoint %s", cs.path).
			WithComponent("checkpoint").WithOperation(op)
	}
	if len(snap.X) != len(snap.FX) || len(snap.X) != snap.NumEval {
		return nil, nil, optimization.NewErrorf(
			"corrupt checkpoint: rows(x)=%d rows(fx)=%d num_eval=%d",
			len(snap.X), len(snap.FX), snap.NumEval).
			WithComponent("checkpoint").WithOperation(op)
	}

	st := &State{
		X:               snap.X,
		FX:              snap.FX,
		XBest:           snap.XBest,
		FBest:           math.Inf(1),
		Phase:           snap.Phase,
		BatchQueue:      snap.BatchQueue,
		NumEval:         snap.NumEval,
		MaxEvals:        snap.MaxEvals,
		FevalBudget:     snap.MaxEvals - snap.NumEval,
		AcceptedCount:   snap.AcceptedCount,
		RejectedCount:   snap.RejectedCount,
		ProposalCounter: snap.ProposalCounter,
		EvLast:          snap.EvLast,
		EvAdjust:        snap.EvAdjust,
		EvRestart:       snap.EvRestart,
		Terminate:       snap.Terminate,
		StartTime:       snap.StartTime,
		TimeBudget:      time.Duration(snap.TimeBudgetSecs * float64(time.Second)),
	}
	if snap.FBest != nil {
		st.FBest = *snap.FBest
	}

	cs.logger.Info("Checkpoint loaded",
		zap.String("path", cs.path),
		zap.Int("numeval", st.NumEval),
		zap.String("variant", snap.Variant),
	)
	return st, snap.Step, nil
}

// finitePtr returns nil for the +Inf sentinel so it stays out of the JSON.
func finitePtr(v float64) *float64 {
	if math.IsInf(v, 1) {
		return nil
	}
	return &v
}
