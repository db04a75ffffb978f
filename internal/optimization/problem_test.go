package optimization

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProblemValidate(t *testing.T) {
	tests := []struct {
		name    string
		problem Problem
		wantErr bool
	}{
		{
			name: "valid problem",
			problem: Problem{
				Dim:         2,
				LowerBounds: []float64{0, -1},
				UpperBounds: []float64{1, 1},
			},
			wantErr: false,
		},
		{
			name: "valid with integer dims",
			problem: Problem{
				Dim:         3,
				LowerBounds: []float64{0, 0, 0},
				UpperBounds: []float64{10, 10, 10},
				IntVars:     []int{1, 2},
			},
			wantErr: false,
		},
		{
			name:    "zero dimension",
			problem: Problem{Dim: 0},
			wantErr: true,
		},
		{
			name: "bounds length mismatch",
			problem: Problem{
				Dim:         2,
				LowerBounds: []float64{0},
				UpperBounds: []float64{1, 1},
			},
			wantErr: true,
		},
		{
			name: "inverted bounds",
			problem: Problem{
				Dim:         1,
				LowerBounds: []float64{2},
				UpperBounds: []float64{1},
			},
			wantErr: true,
		},
		{
			name: "integer index out of range",
			problem: Problem{
				Dim:         1,
				LowerBounds: []float64{0},
				UpperBounds: []float64{1},
				IntVars:     []int{3},
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.problem.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestFromUnitBox(t *testing.T) {
	p := &Problem{
		Dim:         2,
		LowerBounds: []float64{-5, 0},
		UpperBounds: []float64{5, 10},
	}

	got := p.FromUnitBox([]float64{0.5, 0.1})
	require.Len(t, got, 2)
	assert.InDelta(t, 0.0, got[0], 1e-12)
	assert.InDelta(t, 1.0, got[1], 1e-12)

	// Corners map to the bounds
	assert.Equal(t, []float64{-5, 0}, p.FromUnitBox([]float64{0, 0}))
	assert.Equal(t, []float64{5, 10}, p.FromUnitBox([]float64{1, 1}))
}

func TestRoundVars(t *testing.T) {
	p := &Problem{
		Dim:         3,
		LowerBounds: []float64{0, 0, 0},
		UpperBounds: []float64{10, 5, 10},
		IntVars:     []int{1},
	}

	in := []float64{1.4, 2.6, 9.9}
	got := p.RoundVars(in)

	assert.Equal(t, 1.4, got[0], "continuous dimension must be untouched")
	assert.Equal(t, 3.0, got[1], "integer dimension must round")
	assert.Equal(t, 9.9, got[2])
	assert.Equal(t, []float64{1.4, 2.6, 9.9}, in, "input must not be modified")

	// Rounding never escapes the bounds
	p2 := &Problem{
		Dim:         1,
		LowerBounds: []float64{0.6},
		UpperBounds: []float64{4.4},
		IntVars:     []int{0},
	}
	assert.Equal(t, 1.0, p2.RoundVars([]float64{0.6})[0])
	assert.Equal(t, 4.0, p2.RoundVars([]float64{4.4})[0])
}

func TestCheckDim(t *testing.T) {
	p := &Problem{Dim: 3, LowerBounds: []float64{0, 0, 0}, UpperBounds: []float64{1, 1, 1}}

	assert.NoError(t, p.CheckDim(3, "experimental design"))

	err := p.CheckDim(2, "adaptive sampler")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dimension mismatch")
	assert.Contains(t, err.Error(), "adaptive sampler")
}
