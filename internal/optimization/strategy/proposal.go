package strategy

// ProposalKind distinguishes evaluation requests from the termination
// signal sent to the worker pool.
type ProposalKind string

const (
	// ProposalEval asks the worker pool to evaluate a point
	ProposalEval ProposalKind = "eval"
	// ProposalTerminate tells the worker pool that no further
	// evaluations will be issued
	ProposalTerminate ProposalKind = "terminate"
)

// RecordStatus is the lifecycle state of an accepted evaluation.
type RecordStatus string

const (
	// RecordPending marks an in-flight evaluation
	RecordPending RecordStatus = "pending"
	// RecordCompleted marks an evaluation that produced a value
	RecordCompleted RecordStatus = "completed"
	// RecordAborted marks an evaluation that died or was cancelled
	RecordAborted RecordStatus = "aborted"
)

// Proposal is a tentative request to evaluate a point, pending accept or
// reject by the worker pool. A proposal resolves exactly once: it is
// either accepted (producing a Record) or rejected, and the strategy
// forgets it afterwards.
type Proposal struct {
	Kind  ProposalKind `json:"kind"`
	Point []float64    `json:"point,omitempty"`
	EvID  int          `json:"event_id"`

	// PredVal is the surrogate's prediction at the proposed point.
	// It is nil for initial-design proposals, which are issued before
	// the surrogate has anything to say.
	PredVal *float64 `json:"predicted_value,omitempty"`

	// initial marks proposals drawn from the experimental design; they
	// are re-queued on rejection or abort, adaptive candidates are not
	initial bool
}

// Record is the in-flight or completed state of an accepted evaluation.
// One Record corresponds to exactly one in-flight evaluation; it reaches
// a terminal status (completed or aborted) exactly once.
type Record struct {
	Point         []float64    `json:"point"`
	EvID          int          `json:"event_id"`
	Value         float64      `json:"value"`
	Status        RecordStatus `json:"status"`
	Feasible      bool         `json:"feasible"`
	WorkerNumEval int          `json:"worker_numeval"`
	PredVal       *float64     `json:"predicted_value,omitempty"`

	// Extra carries caller-supplied annotations attached by the worker
	Extra map[string]string `json:"extra,omitempty"`

	initial bool
}
