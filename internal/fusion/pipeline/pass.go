package pipeline

import (
	"context"
	"fmt"

	"github.com/banshee-data/depthfusion/internal/fusion/pyramid"
	"github.com/banshee-data/depthfusion/internal/fusion/tracking"
	"github.com/banshee-data/depthfusion/internal/fusion/transform"
	"github.com/banshee-data/depthfusion/internal/fusion/volume"
)

// process is the scheduler's pass. A pending reset is applied first, then
// the latest frame, if any, is processed.
func (p *Pipeline) process(ctx context.Context) {
	if p.resetRequested.Swap(false) {
		if err := p.resetVolume(ctx); err != nil {
			p.errs.Add(1)
			opsf("volume reset failed: %v", err)
		} else {
			diagf("volume reset on request")
		}
	}

	frame, ok := p.inbox.Take()
	if !ok {
		p.publishStatus(nil)
		return
	}

	rec, err := p.runPass(ctx, frame)
	if err != nil {
		p.errs.Add(1)
		opsf("frame %d skipped: %v", frame.Depth.Sequence, err)
		p.publishStatus(nil)
		return
	}
	p.passes.Add(1)
	p.history.add(rec)
	if p.recorder != nil {
		p.recorder.RecordPass(rec)
	}
	p.publishStatus(&rec)
	tracef("frame %d: phase=%s integrated=%v in %v", rec.Sequence, rec.Phase, rec.Integrated, rec.Duration)
}

// runPass works on a copy of the tracking state. An engine error before
// the volume or key frames change discards the copy. Once the frame has
// been fused, later errors are counted and the state is committed so it
// stays in step with the volume.
func (p *Pipeline) runPass(ctx context.Context, frame *volume.Frame) (PassRecord, error) {
	start := p.clock.Now()
	st := p.state

	coarse, err := pyramid.DownsampleFrame(frame.Depth, p.factor)
	if err != nil {
		return PassRecord{}, fmt.Errorf("downsample: %w", err)
	}
	full, err := pyramid.DownsampleFrame(frame.Depth, 1)
	if err != nil {
		return PassRecord{}, fmt.Errorf("convert depth: %w", err)
	}
	in := tracking.Input{Coarse: coarse, Full: full, Color: frame.Color}

	out, err := p.tracker.Track(ctx, &st, in)
	if err != nil {
		return PassRecord{}, err
	}

	rec := PassRecord{
		Sequence:  frame.Depth.Sequence,
		Timestamp: frame.Depth.Timestamp,
		Energy:    out.Energy,
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = start
	}
	if out.Reloc != nil {
		rec.RelocAttempted = true
		rec.Relocalized = out.Reloc.Success
	}

	if tracking.ShouldIntegrate(st, p.relocCapable, p.params.WarmupFramesAfterFailure) {
		if err := p.engine.IntegrateFrame(ctx, full, p.weight, st.Pose); err != nil {
			return PassRecord{}, fmt.Errorf("integrate: %w", err)
		}
		st.MarkIntegrated()
		rec.Integrated = true
	}
	fused := rec.Integrated

	if !p.relocCapable && p.autoReset && st.Failures >= p.maxFailures {
		if err := p.engine.ResetVolume(ctx, transform.Identity()); err != nil {
			if !fused {
				return PassRecord{}, fmt.Errorf("auto reset: %w", err)
			}
			p.errs.Add(1)
			opsf("frame %d: auto reset: %v", rec.Sequence, err)
		} else {
			diagf("frame %d: %d consecutive tracking failures, volume reset", rec.Sequence, st.Failures)
			processed := st.Processed
			st = tracking.NewState(transform.Identity())
			st.Processed = processed
			p.resets.Add(1)
			rec.AutoReset = true
			fused = true
		}
	}

	// Key-frame storage is auxiliary; a failed offer does not cost the frame.
	kf, err := p.maintainer.Maintain(ctx, st, in, &out)
	if err != nil {
		opsf("frame %d: %v", rec.Sequence, err)
	}
	rec.KeyFrameOffered = kf.Offered
	rec.KeyFrameAccepted = kf.Accepted
	fused = fused || kf.Accepted

	img, err := p.shade(ctx, st, full, out)
	if err != nil {
		if !fused {
			return PassRecord{}, err
		}
		p.errs.Add(1)
		opsf("frame %d: not presented: %v", rec.Sequence, err)
	}

	p.state = st
	if img != nil {
		p.image.Store(img)
		if p.presenter != nil {
			p.presenter.Present(img)
		}
	}
	if out.Delta != nil {
		p.residual.Store(pyramid.UpsampleDelta(out.Delta, p.factor))
	}

	rec.Phase = st.Phase.String()
	rec.Pose = st.DisplayPose
	rec.Successes = st.Successes
	rec.Failures = st.Failures
	rec.Duration = p.clock.Since(start)
	return rec, nil
}

// shade renders the surface seen from the display pose. A relocalization
// that just succeeded has already raycast the volume at that pose.
func (p *Pipeline) shade(ctx context.Context, st tracking.State, full *volume.DepthFloatFrame, out tracking.Outcome) (*volume.ShadedImage, error) {
	var cloud *volume.PointCloud
	if out.Reloc != nil && out.Reloc.Success && out.Reloc.Reference != nil {
		cloud = out.Reloc.Reference
	} else {
		var err error
		cloud, err = p.engine.RaycastPointCloud(ctx, st.DisplayPose, full.Width, full.Height)
		if err != nil {
			return nil, fmt.Errorf("raycast for display: %w", err)
		}
	}
	img, err := p.engine.ShadePointCloud(ctx, cloud, st.DisplayPose)
	if err != nil {
		return nil, fmt.Errorf("shade: %w", err)
	}
	if img == nil {
		return nil, fmt.Errorf("shade: %w", volume.ErrInvalidState)
	}
	img.Sequence = out.Sequence
	return img, nil
}

// resetVolume clears the reconstruction and any stored key frames, and
// restarts tracking cold at the origin.
func (p *Pipeline) resetVolume(ctx context.Context) error {
	if err := p.engine.ResetVolume(ctx, transform.Identity()); err != nil {
		return err
	}
	if c, ok := p.keyFrames.(KeyFrameClearer); ok {
		c.Clear()
	}
	processed := p.state.Processed
	p.state = tracking.NewState(transform.Identity())
	p.state.Processed = processed
	p.resets.Add(1)
	return nil
}
