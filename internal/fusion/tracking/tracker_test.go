package tracking

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/depthfusion/internal/fusion/transform"
	"github.com/banshee-data/depthfusion/internal/fusion/volume"
)

// scripted returns an align func that follows pattern frame by frame for
// tracking calls: true moves the pose 1cm along X, false fails.
func scripted(pattern []bool) func(*volume.PointCloud, transform.Pose) volume.AlignResult {
	i := 0
	return func(_ *volume.PointCloud, initial transform.Pose) volume.AlignResult {
		ok := i < len(pattern) && pattern[i]
		i++
		if !ok {
			return volume.AlignResult{Success: false, Pose: initial, Energy: 0.5}
		}
		return volume.AlignResult{Success: true, Pose: step(initial, 0.01), Energy: 0.01}
	}
}

func TestTrack_ColdStartFailureIsNotLoss(t *testing.T) {
	eng := &fakeEngine{align: scripted([]bool{false, false})}
	tr := NewTracker(eng, nil, testParams())
	st := NewState(transform.Identity())

	for seq := uint64(1); seq <= 2; seq++ {
		out, err := tr.Track(context.Background(), &st, testInput(seq))
		require.NoError(t, err)
		assert.False(t, out.Plausible)
	}

	assert.Equal(t, PhaseCold, st.Phase)
	assert.Equal(t, 0, st.Successes)
	assert.Equal(t, 0, st.Failures)
	assert.True(t, st.LastFailed)
	assert.False(t, st.HasFailedPreviously)
	assert.False(t, st.Failed())
	assert.Equal(t, uint64(2), st.Processed)
	assert.True(t, ShouldIntegrate(st, true, 3), "cold frames seed the volume")
}

func TestTrack_FailureAfterSuccessIsLoss(t *testing.T) {
	eng := &fakeEngine{align: scripted([]bool{true, true, true, false, false})}
	tr := NewTracker(eng, nil, testParams())
	st := NewState(transform.Identity())
	ctx := context.Background()

	for seq := uint64(1); seq <= 3; seq++ {
		_, err := tr.Track(ctx, &st, testInput(seq))
		require.NoError(t, err)
	}
	assert.Equal(t, PhaseTracking, st.Phase)
	assert.Equal(t, 3, st.Successes)
	verified := st.Pose
	assert.InDelta(t, 0.03, verified.Translation()[0], 1e-12)

	_, err := tr.Track(ctx, &st, testInput(4))
	require.NoError(t, err)
	assert.Equal(t, PhaseLost, st.Phase)
	assert.Equal(t, 0, st.Successes)
	assert.Equal(t, 1, st.Failures)
	assert.True(t, st.HasFailedPreviously)
	assert.Equal(t, verified, st.Pose, "pose stays at last known good")

	_, err = tr.Track(ctx, &st, testInput(5))
	require.NoError(t, err)
	assert.Equal(t, 2, st.Failures)
	assert.False(t, ShouldIntegrate(st, false, 3))
}

func TestTrack_CountersMutuallyExclusive(t *testing.T) {
	pattern := []bool{true, true, false, false, true, false, true, true, true, false, true}
	eng := &fakeEngine{align: scripted(pattern)}
	tr := NewTracker(eng, nil, testParams())
	st := NewState(transform.Identity())

	for i := range pattern {
		_, err := tr.Track(context.Background(), &st, testInput(uint64(i+1)))
		require.NoError(t, err)
		if st.Successes > 0 && st.Failures > 0 {
			t.Fatalf("frame %d: successes=%d failures=%d both non-zero", i+1, st.Successes, st.Failures)
		}
	}
	assert.Equal(t, 1, st.Successes)
	assert.Equal(t, PhaseRecovering, st.Phase)
}

func TestTrack_ImplausiblePoseRejected(t *testing.T) {
	n := 0
	eng := &fakeEngine{align: func(_ *volume.PointCloud, initial transform.Pose) volume.AlignResult {
		n++
		if n == 1 {
			return volume.AlignResult{Success: true, Pose: initial, Energy: 0.01}
		}
		// Converged, but 1m away from the previous pose.
		return volume.AlignResult{Success: true, Pose: step(initial, 1.0), Energy: 0.01}
	}}
	tr := NewTracker(eng, nil, testParams())
	st := NewState(transform.Identity())

	_, err := tr.Track(context.Background(), &st, testInput(1))
	require.NoError(t, err)
	out, err := tr.Track(context.Background(), &st, testInput(2))
	require.NoError(t, err)

	assert.True(t, out.Aligned)
	assert.False(t, out.Plausible)
	assert.Equal(t, PhaseLost, st.Phase)
	assert.Equal(t, transform.Identity(), st.Pose)
}

func TestTrack_DeltaRequestedOnInterval(t *testing.T) {
	eng := &fakeEngine{}
	params := testParams()
	params.DeltaFrameInterval = 2
	tr := NewTracker(eng, nil, params)
	st := NewState(transform.Identity())

	for seq := uint64(1); seq <= 6; seq++ {
		out, err := tr.Track(context.Background(), &st, testInput(seq))
		require.NoError(t, err)
		assert.Equal(t, seq%2 == 0, out.Delta != nil, "frame %d", seq)
	}
	assert.Equal(t, 6, eng.aligns, "alignment runs every frame")
	assert.Equal(t, 3, eng.deltas)
}

func TestTrack_EngineErrorPropagates(t *testing.T) {
	for _, method := range []string{"smooth", "cloud", "raycast", "align"} {
		t.Run(method, func(t *testing.T) {
			eng := &fakeEngine{failMethod: method}
			tr := NewTracker(eng, nil, testParams())
			st := NewState(transform.Identity())
			_, err := tr.Track(context.Background(), &st, testInput(1))
			assert.ErrorIs(t, err, errScripted)
		})
	}
}

// relocEngine tracks once, then fails every frame-to-frame alignment.
// Candidate alignments return energies[index] and succeed when ok[index].
func relocEngine(energies []float64, ok []bool) *fakeEngine {
	tracked := 0
	return &fakeEngine{align: func(expected *volume.PointCloud, initial transform.Pose) volume.AlignResult {
		if expected.Width == fullWidth {
			i := candidateIndex(initial)
			return volume.AlignResult{Success: ok[i], Pose: initial, Energy: energies[i]}
		}
		tracked++
		if tracked == 1 {
			return volume.AlignResult{Success: true, Pose: initial, Energy: 0.01}
		}
		return volume.AlignResult{Success: false, Pose: initial, Energy: 0.9}
	}}
}

func candidates(n int, minDistance float64) *volume.MatchCandidates {
	c := &volume.MatchCandidates{MinDistance: minDistance}
	for i := 0; i < n; i++ {
		c.Poses = append(c.Poses, candidatePose(i))
	}
	return c
}

func TestTrack_RelocalizesAfterLoss(t *testing.T) {
	eng := relocEngine([]float64{0.3, 0.05}, []bool{true, true})
	db := &fakeDB{candidates: candidates(2, 0.2), count: 1}
	tr := NewTracker(eng, db, testParams())
	st := NewState(transform.Identity())
	ctx := context.Background()

	_, err := tr.Track(ctx, &st, testInput(1))
	require.NoError(t, err)

	out, err := tr.Track(ctx, &st, testInput(2))
	require.NoError(t, err)
	require.NotNil(t, out.Reloc)
	assert.True(t, out.Reloc.Success)
	assert.Equal(t, 1, out.Reloc.Index)
	assert.Equal(t, 2, out.Reloc.Tested)
	assert.NotNil(t, out.Reloc.Reference)

	assert.Equal(t, PhaseRecovering, st.Phase)
	assert.Equal(t, candidatePose(1), st.Pose)
	assert.Equal(t, 1, st.Successes)
	assert.Equal(t, 0, st.Failures)
	assert.True(t, st.HasFailedPreviously)
	assert.Equal(t, candidatePose(1), eng.raycasts[len(eng.raycasts)-1], "reference refreshed at adopted pose")
}

func TestTrack_RelocalizationWithholdsIntegration(t *testing.T) {
	// Frame 1 tracks, frame 2 is lost and relocalized, frames 3+ track.
	tracked := 0
	eng := &fakeEngine{align: func(expected *volume.PointCloud, initial transform.Pose) volume.AlignResult {
		if expected.Width == fullWidth {
			return volume.AlignResult{Success: true, Pose: initial, Energy: 0.05}
		}
		tracked++
		if tracked == 2 {
			return volume.AlignResult{Success: false, Pose: initial, Energy: 0.9}
		}
		return volume.AlignResult{Success: true, Pose: initial, Energy: 0.01}
	}}
	db := &fakeDB{candidates: candidates(1, 0.2), count: 1}
	params := testParams()
	tr := NewTracker(eng, db, params)
	st := NewState(transform.Identity())
	ctx := context.Background()

	var integrated []bool
	for seq := uint64(1); seq <= 5; seq++ {
		_, err := tr.Track(ctx, &st, testInput(seq))
		require.NoError(t, err)
		ok := ShouldIntegrate(st, tr.RelocCapable(), params.WarmupFramesAfterFailure)
		if ok {
			st.MarkIntegrated()
		}
		integrated = append(integrated, ok)
	}

	// Relocalized on frame 2 (1 success), then frames 3 and 4 bring the
	// count to the warm-up of 3.
	assert.Equal(t, []bool{true, false, false, true, true}, integrated)
	assert.Equal(t, PhaseTracking, st.Phase)
	assert.False(t, st.HasFailedPreviously)
}

func TestTrack_FallbackPose(t *testing.T) {
	tests := []struct {
		name              string
		alignFromFallback bool
	}{
		{name: "display only", alignFromFallback: false},
		{name: "align from fallback", alignFromFallback: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			eng := relocEngine([]float64{0.9, 0.7, 0.8}, []bool{false, false, false})
			db := &fakeDB{candidates: candidates(3, 0.2), count: 1}
			params := testParams()
			params.AlignFromFallbackPose = tt.alignFromFallback
			tr := NewTracker(eng, db, params)
			st := NewState(transform.Identity())
			ctx := context.Background()

			_, err := tr.Track(ctx, &st, testInput(1))
			require.NoError(t, err)
			verified := st.Pose

			out, err := tr.Track(ctx, &st, testInput(2))
			require.NoError(t, err)
			require.NotNil(t, out.Reloc)
			assert.False(t, out.Reloc.Success)
			assert.Equal(t, 1, out.Reloc.FallbackIndex)

			assert.Equal(t, PhaseLost, st.Phase)
			assert.Equal(t, candidatePose(1), st.DisplayPose)
			if tt.alignFromFallback {
				assert.Equal(t, candidatePose(1), st.Pose)
			} else {
				assert.Equal(t, verified, st.Pose)
			}
			assert.False(t, ShouldIntegrate(st, true, params.WarmupFramesAfterFailure))
		})
	}
}

func TestTrack_RelocalizationPreconditions(t *testing.T) {
	tests := []struct {
		name    string
		count   int
		noColor bool
	}{
		{name: "empty database", count: 0},
		{name: "no colour", count: 1, noColor: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			eng := relocEngine([]float64{0.05}, []bool{true})
			db := &fakeDB{candidates: candidates(1, 0.2), count: tt.count}
			tr := NewTracker(eng, db, testParams())
			st := NewState(transform.Identity())

			for seq := uint64(1); seq <= 2; seq++ {
				in := testInput(seq)
				if tt.noColor {
					in.Color = nil
				}
				out, err := tr.Track(context.Background(), &st, in)
				require.NoError(t, err)
				assert.Nil(t, out.Reloc)
			}
			assert.Equal(t, 0, db.queries)
			assert.Equal(t, PhaseLost, st.Phase)
		})
	}
}

func TestTrack_ColdStartSkipsRelocalization(t *testing.T) {
	// Candidate alignments would succeed inside the energy band.
	eng := &fakeEngine{align: func(expected *volume.PointCloud, initial transform.Pose) volume.AlignResult {
		if expected.Width == fullWidth {
			return volume.AlignResult{Success: true, Pose: initial, Energy: 0.2}
		}
		return volume.AlignResult{Success: false, Pose: initial, Energy: 0.9}
	}}
	db := &fakeDB{candidates: candidates(1, 0.2), count: 1}
	params := testParams()
	params.MinRelocEnergy = 0.1
	params.MaxRelocEnergy = 0.5
	tr := NewTracker(eng, db, params)
	st := NewState(transform.Identity())

	out, err := tr.Track(context.Background(), &st, testInput(1))
	require.NoError(t, err)

	assert.Nil(t, out.Reloc)
	assert.Equal(t, 0, db.queries)
	assert.Equal(t, PhaseCold, st.Phase)
	assert.Equal(t, 0, st.Successes)
	assert.Equal(t, transform.Identity(), st.Pose)
}

func TestOutcome_ResampledColorCached(t *testing.T) {
	in := testInput(1)
	var out Outcome
	c1, err := out.ResampledColor(in)
	require.NoError(t, err)
	require.NotNil(t, c1)
	assert.Equal(t, in.Full.Width, c1.Width)
	assert.Equal(t, in.Full.Height, c1.Height)

	c2, err := out.ResampledColor(in)
	require.NoError(t, err)
	assert.Same(t, c1, c2)

	in.Color = nil
	var empty Outcome
	c3, err := empty.ResampledColor(in)
	require.NoError(t, err)
	assert.Nil(t, c3)
}
