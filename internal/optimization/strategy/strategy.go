// Package strategy implements the evaluation scheduler at the core of a
// surrogate-assisted optimizer: it decides which point the worker pool
// should evaluate next, reconciles accept/reject/complete/abort events
// against the evaluation budget, and keeps the surrogate current.
//
// The strategy is single-threaded and reactive. It is driven by a
// serialized event stream and must not be re-entered while a transition
// is in progress; the owning dispatch loop provides that guarantee.
package strategy

import (
	"time"

	"go.uber.org/zap"

	"github.com/copyleftdev/SORREL/internal/optimization"
	"github.com/copyleftdev/SORREL/internal/optimization/design"
	"github.com/copyleftdev/SORREL/internal/optimization/sampling"
	"github.com/copyleftdev/SORREL/internal/optimization/surrogate"
)

// Strategy is the externally-visible surface of the scheduler. For every
// EVAL proposal the worker pool delivers exactly one accept or reject,
// and for every accepted proposal exactly one complete or abort.
type Strategy interface {
	// ProposeAction returns the next proposal, or nil when the caller
	// should wait for in-flight work to drain
	ProposeAction() (*Proposal, error)

	// AcceptProposal resolves a proposal as accepted and returns its
	// Record (nil for a TERMINATE proposal)
	AcceptProposal(evID int) (*Record, error)

	// RejectProposal resolves a proposal as rejected
	RejectProposal(evID int) error

	// CompleteRecord resolves an accepted evaluation with its value
	CompleteRecord(evID int, value float64) error

	// AbortRecord resolves an accepted evaluation that died mid-flight
	AbortRecord(evID int) error

	// Save persists the strategy state through the checkpoint store
	Save() error

	// State exposes the strategy state for status surfaces and the
	// dispatch loop; callers must not mutate it
	State() *State

	// Fevals returns the completed-evaluation log in completion order
	Fevals() []*Record

	// Done reports whether the worker pool has acknowledged termination
	Done() bool
}

// Config assembles a strategy. Problem and MaxEvals are required; every
// collaborator left nil gets the default the evaluation budget calls for.
type Config struct {
	// Problem is the optimization problem descriptor
	Problem *optimization.Problem

	// MaxEvals is the evaluation budget; a negative value is a time
	// budget in seconds instead
	MaxEvals int

	// ExpDesign produces the initial sample. Default: symmetric Latin
	// hypercube with 2(d+1) points for generous budgets, plain Latin
	// hypercube with d+1+batch points otherwise.
	ExpDesign optimization.ExperimentalDesign

	// Surrogate is the response-surface model. Default: cubic RBF
	// interpolant with a linear tail.
	Surrogate optimization.Surrogate

	// Sampler synthesizes adaptive candidates. Default: CandidateSRBF.
	Sampler optimization.AdaptiveSampler

	// Asynchronous selects one-at-a-time dispatch; otherwise the
	// strategy works through synchronous batches of BatchSize
	Asynchronous bool
	BatchSize    int

	// Stopping optionally terminates the run early once a completed
	// value satisfies it
	Stopping optimization.StoppingCriterion

	// CheckpointPath enables the checkpoint store when non-empty
	CheckpointPath string

	// Strict makes invariant violations panic instead of only logging;
	// meant for testing builds
	Strict bool

	// Seed drives the default design and sampler
	Seed int64

	Logger *zap.Logger
}

// withDefaults fills in the collaborators the configuration leaves nil.
func (cfg Config) withDefaults() Config {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.BatchSize < 1 {
		cfg.BatchSize = 1
	}
	dim := cfg.Problem.Dim
	budget := cfg.MaxEvals
	if budget < 0 {
		budget = UnlimitedEvals
	}
	if cfg.ExpDesign == nil {
		if budget > 10*dim {
			cfg.ExpDesign = design.NewSymmetricLatinHypercube(dim, 2*(dim+1), cfg.Seed)
		} else {
			cfg.ExpDesign = design.NewLatinHypercube(dim, dim+1+cfg.BatchSize, cfg.Seed)
		}
	}
	if cfg.Surrogate == nil {
		cfg.Surrogate = surrogate.NewRBFInterpolant(dim, surrogate.CubicKernel{}, cfg.Logger)
	}
	if cfg.Sampler == nil {
		cfg.Sampler = sampling.NewCandidateSRBF(cfg.Problem, cfg.Seed, cfg.Logger)
	}
	return cfg
}

func (cfg Config) validate() error {
	if cfg.Problem == nil {
		return optimization.NewError("problem descriptor is required").
			WithComponent("strategy").WithOperation("Config.validate")
	}
	if err := cfg.Problem.Validate(); err != nil {
		return err
	}
	if cfg.MaxEvals == 0 {
		return optimization.NewError("either an evaluation budget or a time budget is required").
			WithComponent("strategy").WithOperation("Config.validate")
	}
	return nil
}

// nowFunc is the clock used by strategies; tests substitute it per
// instance through the strategy's now field.
type nowFunc func() time.Time
