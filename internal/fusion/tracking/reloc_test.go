package tracking

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/depthfusion/internal/fusion/transform"
	"github.com/banshee-data/depthfusion/internal/fusion/volume"
)

func candidateEngine(energies []float64, ok []bool) *fakeEngine {
	return &fakeEngine{align: func(_ *volume.PointCloud, initial transform.Pose) volume.AlignResult {
		i := candidateIndex(initial)
		return volume.AlignResult{Success: ok[i], Pose: initial, Energy: energies[i]}
	}}
}

func allTrue(n int) []bool {
	b := make([]bool, n)
	for i := range b {
		b[i] = true
	}
	return b
}

func TestRelocalize_TieBreakKeepsFirst(t *testing.T) {
	energies := []float64{0.6, 0.4, 0.4, 0.9}
	eng := candidateEngine(energies, allTrue(4))
	db := &fakeDB{candidates: candidates(4, 0.1), count: 4}
	params := testParams()
	params.MinRelocEnergy = 0.1
	params.MaxRelocEnergy = 0.5

	in := testInput(1)
	res, err := NewRelocalizer(eng, db, params).Relocalize(context.Background(), in.Full, nil)
	require.NoError(t, err)

	assert.True(t, res.Success)
	assert.Equal(t, 1, res.Index)
	assert.Equal(t, 0.4, res.Energy)
	assert.Equal(t, candidatePose(1), res.Pose)
	assert.Equal(t, 4, res.Tested)
	assert.Equal(t, 1, res.FallbackIndex)
}

func TestRelocalize_EnergyBandIsExclusive(t *testing.T) {
	tests := []struct {
		name      string
		energies  []float64
		ok        []bool
		wantOK    bool
		wantIndex int
	}{
		{name: "lowest in band wins", energies: []float64{0.2, 0.05, 0.1}, ok: allTrue(3), wantOK: true, wantIndex: 1},
		{name: "at min bound rejected", energies: []float64{0.005}, ok: allTrue(1), wantOK: false},
		{name: "at max bound rejected", energies: []float64{0.27}, ok: allTrue(1), wantOK: false},
		{name: "below band rejected", energies: []float64{0.001, 0.1}, ok: allTrue(2), wantOK: true, wantIndex: 1},
		{name: "failed alignment rejected", energies: []float64{0.05, 0.2}, ok: []bool{false, true}, wantOK: true, wantIndex: 1},
		{name: "nothing passes", energies: []float64{0.5, 0.9}, ok: allTrue(2), wantOK: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			eng := candidateEngine(tt.energies, tt.ok)
			db := &fakeDB{candidates: candidates(len(tt.energies), 0.1), count: 1}
			in := testInput(1)
			res, err := NewRelocalizer(eng, db, testParams()).Relocalize(context.Background(), in.Full, nil)
			require.NoError(t, err)
			assert.Equal(t, tt.wantOK, res.Success)
			if tt.wantOK {
				assert.Equal(t, tt.wantIndex, res.Index)
				assert.NotNil(t, res.Reference)
			} else {
				assert.Nil(t, res.Reference)
			}
		})
	}
}

func TestRelocalize_FallbackIsLowestEnergy(t *testing.T) {
	eng := candidateEngine([]float64{0.9, 0.7, 0.8}, []bool{false, false, false})
	db := &fakeDB{candidates: candidates(3, 0.1), count: 1}
	in := testInput(1)

	res, err := NewRelocalizer(eng, db, testParams()).Relocalize(context.Background(), in.Full, nil)
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.True(t, res.HasFallback)
	assert.Equal(t, 1, res.FallbackIndex)
	assert.Equal(t, 0.7, res.FallbackEnergy)
	assert.Equal(t, candidatePose(1), res.FallbackPose)
}

func TestRelocalize_TestsAtMostMaxPoseTests(t *testing.T) {
	energies := []float64{0.9, 0.9, 0.9, 0.9, 0.9, 0.9, 0.01, 0.9}
	eng := candidateEngine(energies, allTrue(len(energies)))
	db := &fakeDB{candidates: candidates(len(energies), 0.1), count: 1}
	params := testParams()
	params.MaxPoseTests = 5
	in := testInput(1)

	res, err := NewRelocalizer(eng, db, params).Relocalize(context.Background(), in.Full, nil)
	require.NoError(t, err)
	assert.Equal(t, 5, res.Tested)
	assert.Equal(t, 8, res.Candidates)
	assert.False(t, res.Success, "candidate 6 is beyond the test budget")
}

func TestRelocalize_QueryRejections(t *testing.T) {
	tests := []struct {
		name       string
		candidates *volume.MatchCandidates
		wantTested int
	}{
		{name: "nil result", candidates: nil},
		{name: "no poses", candidates: &volume.MatchCandidates{MinDistance: 0.1}},
		{name: "too dissimilar", candidates: candidates(2, 1.5)},
		{name: "at reject threshold", candidates: candidates(2, 1.0), wantTested: 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			eng := candidateEngine([]float64{0.9, 0.9}, allTrue(2))
			db := &fakeDB{candidates: tt.candidates, count: 1}
			in := testInput(1)

			res, err := NewRelocalizer(eng, db, testParams()).Relocalize(context.Background(), in.Full, nil)
			require.NoError(t, err)
			assert.False(t, res.Success)
			assert.Equal(t, tt.wantTested, res.Tested)
			if tt.wantTested == 0 {
				assert.NotEmpty(t, res.Reason)
				assert.False(t, res.HasFallback)
				assert.Equal(t, 0, eng.aligns)
			}
		})
	}
}

func TestRelocalize_Errors(t *testing.T) {
	t.Run("query", func(t *testing.T) {
		db := &fakeDB{err: errScripted, count: 1}
		in := testInput(1)
		_, err := NewRelocalizer(&fakeEngine{}, db, testParams()).Relocalize(context.Background(), in.Full, nil)
		assert.ErrorIs(t, err, errScripted)
	})
	for _, method := range []string{"smooth", "cloud", "raycast", "align"} {
		t.Run(method, func(t *testing.T) {
			eng := candidateEngine([]float64{0.05}, allTrue(1))
			eng.failMethod = method
			db := &fakeDB{candidates: candidates(1, 0.1), count: 1}
			in := testInput(1)
			_, err := NewRelocalizer(eng, db, testParams()).Relocalize(context.Background(), in.Full, nil)
			assert.ErrorIs(t, err, errScripted)
		})
	}
}

func TestRelocalizer_Available(t *testing.T) {
	assert.False(t, NewRelocalizer(&fakeEngine{}, nil, testParams()).Available())
	assert.False(t, NewRelocalizer(&fakeEngine{}, &fakeDB{}, testParams()).Available())
	assert.True(t, NewRelocalizer(&fakeEngine{}, &fakeDB{count: 1}, testParams()).Available())
}
