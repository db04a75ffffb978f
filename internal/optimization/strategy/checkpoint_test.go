package strategy

import (
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckpointRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.json")
	cfg := testConfig(6)
	cfg.Asynchronous = true
	cfg.CheckpointPath = path
	s, err := NewGlobalStrategy(cfg)
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		p := propose(t, s)
		rec, err := s.AcceptProposal(p.EvID)
		require.NoError(t, err)
		require.NoError(t, s.CompleteRecord(rec.EvID, float64(i)+0.5))
	}
	require.NoError(t, s.Save())

	r, err := Resume(cfg)
	require.NoError(t, err)

	st, rt := s.State(), r.State()
	assert.Equal(t, st.X, rt.X)
	assert.Equal(t, st.FX, rt.FX)
	assert.Equal(t, st.NumEval, rt.NumEval)
	assert.Equal(t, st.FBest, rt.FBest)
	assert.Equal(t, st.XBest, rt.XBest)
	assert.Equal(t, st.Phase, rt.Phase)
	assert.Equal(t, st.EvLast, rt.EvLast)
	assert.Equal(t, st.MaxEvals-rt.NumEval, rt.FevalBudget)
	assert.Zero(t, rt.FevalPending)
	assert.Zero(t, rt.InitPending)
	assert.Empty(t, rt.Xpend)

	// The surrogate was refit from the completed history
	surr := cfg.Surrogate.(*recordingSurrogate)
	assert.Equal(t, st.X, surr.x)

	// The resumed strategy keeps working, with no step control attached
	require.Nil(t, r.step)
	p := propose(t, r)
	assert.Equal(t, ProposalEval, p.Kind)
}

func TestCheckpointRestoresStepControl(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.json")
	cfg := testConfig(100)
	cfg.Asynchronous = true
	cfg.CheckpointPath = path
	s, err := NewSRBFStrategy(cfg)
	require.NoError(t, err)

	// A run mid-shrink: one halving of the radius, a failure streak and
	// an open adjustment window
	s.step.Sigma = 0.1
	s.step.Status = -2
	s.step.FailCount = 5
	s.step.baseline = 0.25
	require.NoError(t, s.Save())

	r, err := Resume(cfg)
	require.NoError(t, err)
	require.NotNil(t, r.step)
	assert.Equal(t, 0.1, r.step.Sigma)
	assert.Equal(t, -2, r.step.Status)
	assert.Equal(t, 5, r.step.FailCount)
	assert.Equal(t, 0.25, r.step.baseline)
	assert.True(t, math.IsInf(r.step.fBestNew, 1))

	// Tolerances come back from the run configuration
	assert.Equal(t, s.step.FailTol, r.step.FailTol)
	assert.Equal(t, s.step.MaxFailTol, r.step.MaxFailTol)

	// The adaptive sampler sees the shrunk radius, not the default
	assert.Equal(t, 0.1, r.samplingRadius())
}

func TestCheckpointDropsInflight(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.json")
	cfg := testConfig(6)
	cfg.Asynchronous = true
	cfg.CheckpointPath = path
	s, err := NewGlobalStrategy(cfg)
	require.NoError(t, err)

	p1 := propose(t, s)
	rec1, err := s.AcceptProposal(p1.EvID)
	require.NoError(t, err)
	require.NoError(t, s.CompleteRecord(rec1.EvID, 1.0))

	// Save with one evaluation still in flight
	p2 := propose(t, s)
	_, err = s.AcceptProposal(p2.EvID)
	require.NoError(t, err)
	require.NoError(t, s.Save())

	r, err := Resume(cfg)
	require.NoError(t, err)

	rt := r.State()
	assert.Equal(t, 1, rt.NumEval)
	assert.Zero(t, rt.FevalPending)
	assert.Empty(t, rt.Xpend)
	// Budget conservation holds from the first post-resume transition
	assert.Equal(t, rt.MaxEvals, rt.FevalBudget+rt.NumEval+rt.FevalPending)
}

func TestCheckpointInfiniteBest(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.json")
	cfg := testConfig(6)
	cfg.CheckpointPath = path
	s, err := NewGlobalStrategy(cfg)
	require.NoError(t, err)

	// No completions yet: fbest is +Inf, which JSON cannot carry
	require.NoError(t, s.Save())

	r, err := Resume(cfg)
	require.NoError(t, err)
	assert.True(t, math.IsInf(r.State().FBest, 1))
	assert.Nil(t, r.State().XBest)
}

func TestCheckpointAtomicReplace(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "run.json")
	store := NewCheckpointStore(path, nil)

	st := newState(5, time.Now())
	require.NoError(t, store.Save(st, nil))

	st.NumEval = 1
	st.FevalBudget = 4
	st.X = [][]float64{{0.5}}
	st.FX = []float64{2.0}
	require.NoError(t, store.Save(st, nil))

	// No temp file left behind
	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "run.json", entries[0].Name())

	got, _, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, 1, got.NumEval)
	assert.Equal(t, []float64{2.0}, got.FX)
}

func TestCheckpointCorruptRejected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"num_eval": 3, "x": [], "fx": []}`), 0o644))

	store := NewCheckpointStore(path, nil)
	_, _, err := store.Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "corrupt checkpoint")
}

func TestCheckpointMissingFile(t *testing.T) {
	store := NewCheckpointStore(filepath.Join(t.TempDir(), "absent.json"), nil)
	_, _, err := store.Load()
	assert.Error(t, err)
}

func TestSaveWithoutStore(t *testing.T) {
	s, err := NewGlobalStrategy(testConfig(3))
	require.NoError(t, err)
	assert.Error(t, s.Save())
}
