package tracking

import (
	"context"
	"fmt"

	"github.com/banshee-data/depthfusion/internal/fusion/pyramid"
	"github.com/banshee-data/depthfusion/internal/fusion/transform"
	"github.com/banshee-data/depthfusion/internal/fusion/volume"
)

// Input is one frame prepared for tracking.
type Input struct {
	// Coarse is the downsampled depth used for frame-to-frame alignment.
	Coarse *volume.DepthFloatFrame
	// Full is the full-resolution depth used for relocalization,
	// integration and key frames.
	Full *volume.DepthFloatFrame
	// Color is the raw colour frame, or nil when there is none.
	Color *volume.ColorFrame
}

// Outcome describes what one Track call did.
type Outcome struct {
	Sequence uint64
	// Aligned reports whether the engine's alignment converged.
	Aligned bool
	// Plausible reports whether the aligned pose passed the motion check.
	Plausible bool
	Energy    float64
	// Delta holds the coarse alignment residual on frames that requested it.
	Delta *volume.DeltaFrame
	// Reloc is set when relocalization was attempted.
	Reloc *RelocResult

	resampled *volume.ColorFrame
}

// ResampledColor returns the colour frame mapped onto the depth grid,
// computing it on first use. It returns nil when the input has no colour.
func (o *Outcome) ResampledColor(in Input) (*volume.ColorFrame, error) {
	if o.resampled != nil || in.Color == nil {
		return o.resampled, nil
	}
	c, err := pyramid.ResampleColor(in.Color, in.Full.Width, in.Full.Height)
	if err != nil {
		return nil, fmt.Errorf("resample colour: %w", err)
	}
	o.resampled = c
	return c, nil
}

// Tracker estimates the camera pose for each frame by aligning it with a
// raycast of the volume, and falls back to relocalization against a
// key-frame database when alignment fails.
type Tracker struct {
	engine volume.Engine
	reloc  *Relocalizer
	params Params
}

// NewTracker creates a tracker. db may be nil, in which case tracking
// loss is never recovered by relocalization.
func NewTracker(engine volume.Engine, db volume.PoseDatabase, params Params) *Tracker {
	t := &Tracker{engine: engine, params: params}
	if db != nil {
		t.reloc = NewRelocalizer(engine, db, params)
	}
	return t
}

// RelocCapable reports whether the tracker has a key-frame database.
func (t *Tracker) RelocCapable() bool { return t.reloc != nil }

// Track runs one tracking step and updates st in place. An error means an
// engine call failed; st is then partially updated and must be discarded.
func (t *Tracker) Track(ctx context.Context, st *State, in Input) (Outcome, error) {
	st.Processed++
	out := Outcome{Sequence: in.Coarse.Sequence}

	smoothed, err := t.engine.SmoothDepth(ctx, in.Coarse, t.params.SmoothingKernelWidth, t.params.SmoothingDistanceThresholdM)
	if err != nil {
		return out, fmt.Errorf("smooth depth: %w", err)
	}
	observed, err := t.engine.DepthToPointCloud(ctx, smoothed)
	if err != nil {
		return out, fmt.Errorf("depth to point cloud: %w", err)
	}
	expected, err := t.engine.RaycastPointCloud(ctx, st.Pose, in.Coarse.Width, in.Coarse.Height)
	if err != nil {
		return out, fmt.Errorf("raycast: %w", err)
	}

	interval := uint64(t.params.DeltaFrameInterval)
	if interval > 0 && st.Processed%interval == 0 {
		out.Delta = volume.NewDeltaFrame(in.Coarse.Width, in.Coarse.Height)
	}

	res, err := t.engine.AlignPointClouds(ctx, expected, observed, t.params.AlignIterations, st.Pose, out.Delta)
	if err != nil {
		return out, fmt.Errorf("align: %w", err)
	}
	out.Aligned = res.Success
	out.Energy = res.Energy
	out.Plausible = res.Success && transform.CheckTransformChange(st.Pose, res.Pose,
		t.params.MaxTranslationDeltaM, t.params.MaxRotationDeltaDeg)

	if out.Plausible {
		st.recordSuccess(res.Pose)
		tracef("frame %d aligned: energy=%.5f pose=%v", out.Sequence, res.Energy, res.Pose)
		return out, nil
	}

	if res.Success {
		tracef("frame %d: implausible pose rejected: from %v to %v", out.Sequence, st.Pose, res.Pose)
	}
	if st.Phase == PhaseCold {
		// No verified pose yet: retry alignment rather than relocalize.
		st.recordColdFailure()
		return out, nil
	}
	wasLost := st.Phase == PhaseLost
	st.recordFailure()
	if !wasLost {
		diagf("frame %d: tracking lost (aligned=%v energy=%.5f)", out.Sequence, res.Success, res.Energy)
	}

	if t.reloc == nil || !t.reloc.Available() || in.Color == nil {
		return out, nil
	}

	color, err := out.ResampledColor(in)
	if err != nil {
		return out, err
	}
	rr, err := t.reloc.Relocalize(ctx, in.Full, color)
	if err != nil {
		return out, fmt.Errorf("relocalize: %w", err)
	}
	out.Reloc = &rr

	switch {
	case rr.Success:
		st.recordSuccess(rr.Pose)
		diagf("frame %d: relocalized on candidate %d of %d (energy=%.5f)", out.Sequence, rr.Index, rr.Tested, rr.Energy)
	case rr.HasFallback:
		st.DisplayPose = rr.FallbackPose
		if t.params.AlignFromFallbackPose {
			st.Pose = rr.FallbackPose
		}
		diagf("frame %d: relocalization failed, showing candidate %d (energy=%.5f)", out.Sequence, rr.FallbackIndex, rr.FallbackEnergy)
	default:
		tracef("frame %d: relocalization failed: %s", out.Sequence, rr.Reason)
	}
	return out, nil
}
