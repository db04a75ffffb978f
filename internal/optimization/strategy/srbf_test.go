package strategy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSRBFForTest(t *testing.T) *GlobalStrategy {
	t.Helper()
	cfg := testConfig(100)
	cfg.Asynchronous = true
	s, err := NewSRBFStrategy(cfg)
	require.NoError(t, err)
	return s
}

// completeOne drives one full propose/accept/complete cycle.
func completeOne(t *testing.T, s *GlobalStrategy, value float64) {
	t.Helper()
	p := propose(t, s)
	require.Equal(t, ProposalEval, p.Kind)
	rec, err := s.AcceptProposal(p.EvID)
	require.NoError(t, err)
	require.NoError(t, s.CompleteRecord(rec.EvID, value))
}

// drainInitial works through the experimental design.
func drainInitial(t *testing.T, s *GlobalStrategy, value float64) {
	t.Helper()
	for len(s.State().BatchQueue) > 0 {
		completeOne(t, s, value)
	}
}

func TestStepControlTolerances(t *testing.T) {
	tests := []struct {
		name         string
		dim          int
		batchSize    int
		asynchronous bool
		wantFailTol  int
	}{
		{"low dimension floor", 2, 1, true, 4},
		{"high dimension", 8, 1, true, 8},
		{"sync batch divides", 8, 4, false, 2},
		{"sync batch floor", 2, 8, false, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sc := newStepControl(tt.dim, tt.batchSize, tt.asynchronous)
			assert.Equal(t, tt.wantFailTol, sc.FailTol)
			assert.Equal(t, 4*tt.wantFailTol, sc.MaxFailTol)
			assert.Equal(t, 0.2, sc.Sigma)
			assert.Equal(t, 3, sc.SuccTol)
		})
	}
}

func TestSigmaShrinksOnFailures(t *testing.T) {
	s := newSRBFForTest(t)
	drainInitial(t, s, 5.0)
	require.NotNil(t, s.step)

	// The first adaptive completion only seeds the baseline
	completeOne(t, s, 5.0)
	assert.Equal(t, 0.2, s.step.Sigma)

	// Each non-improving window counts against the failure tolerance
	for i := 0; i < s.step.FailTol; i++ {
		completeOne(t, s, 5.0)
	}
	assert.Equal(t, 0.1, s.step.Sigma)
	assert.Equal(t, 0, s.step.Status)
	assert.Equal(t, 0.1, s.samplingRadius())
}

func TestSigmaGrowsBackAfterSuccesses(t *testing.T) {
	s := newSRBFForTest(t)
	drainInitial(t, s, 10.0)

	completeOne(t, s, 10.0) // seed
	for i := 0; i < s.step.FailTol; i++ {
		completeOne(t, s, 10.0)
	}
	require.Equal(t, 0.1, s.step.Sigma)

	// Three strictly improving windows double sigma, capped at the max
	for _, v := range []float64{8.0, 6.0, 4.0} {
		completeOne(t, s, v)
	}
	assert.Equal(t, 0.2, s.step.Sigma)
	assert.Equal(t, 0, s.step.FailCount)
}

func TestSigmaNeverExceedsMax(t *testing.T) {
	s := newSRBFForTest(t)
	drainInitial(t, s, 100.0)

	completeOne(t, s, 100.0) // seed
	v := 90.0
	for i := 0; i < 6; i++ {
		completeOne(t, s, v)
		v -= 10
	}
	assert.LessOrEqual(t, s.step.Sigma, s.step.SigmaMax)
}

func TestRestartAfterRepeatedFailure(t *testing.T) {
	s := newSRBFForTest(t)
	drainInitial(t, s, 5.0)

	completeOne(t, s, 5.0) // seed
	s.step.FailCount = s.step.MaxFailTol - 1
	completeOne(t, s, 5.0)

	// The strategy went back to a fresh design
	assert.Equal(t, PhaseInitial, s.State().Phase)
	assert.Len(t, s.State().BatchQueue, 2)
	assert.Equal(t, s.step.SigmaInit, s.step.Sigma)
	assert.Equal(t, 0, s.step.FailCount)
	assert.Equal(t, 0, s.surrogate.NumPoints())

	// Completed history and counters survive the restart
	assert.Equal(t, 4, s.State().NumEval)
	assert.Equal(t, 5.0, s.State().FBest)

	// The fresh design gets proposed next
	p := propose(t, s)
	assert.Equal(t, ProposalEval, p.Kind)
	assert.Equal(t, []float64{0.1}, p.Point)
}

func TestCompletionBeforeRestartIgnored(t *testing.T) {
	s := newSRBFForTest(t)
	drainInitial(t, s, 5.0)

	completeOne(t, s, 5.0) // seed

	// Leave one adaptive evaluation in flight, then force a restart
	p := propose(t, s)
	rec, err := s.AcceptProposal(p.EvID)
	require.NoError(t, err)

	s.step.FailCount = s.step.MaxFailTol
	s.step.restart(s)
	sigma := s.step.Sigma

	// The stale completion must not move the step control
	require.NoError(t, s.CompleteRecord(rec.EvID, 0.001))
	assert.Equal(t, sigma, s.step.Sigma)
	assert.False(t, s.step.hasNew)
}
