package tracking

import (
	"context"
	"fmt"
	"math"

	"github.com/banshee-data/depthfusion/internal/fusion/transform"
	"github.com/banshee-data/depthfusion/internal/fusion/volume"
)

// RelocResult is the outcome of one relocalization attempt.
type RelocResult struct {
	Success bool
	// Pose is the refined pose of the accepted candidate.
	Pose   transform.Pose
	Energy float64
	Index  int

	// HasFallback is set when at least one candidate was tested. The
	// fallback is the candidate with the lowest energy, whether or not it
	// was accepted.
	HasFallback    bool
	FallbackPose   transform.Pose
	FallbackEnergy float64
	FallbackIndex  int

	Candidates  int
	Tested      int
	MinDistance float64
	// Reference is a raycast of the volume at the accepted pose.
	Reference *volume.PointCloud
	// Reason explains a failure before any candidate was tested.
	Reason string
}

// Relocalizer recovers a lost pose by matching the frame against stored
// key frames and re-aligning against the volume from each candidate pose.
type Relocalizer struct {
	engine volume.Engine
	db     volume.PoseDatabase
	params Params
}

// NewRelocalizer creates a relocalizer over the given key-frame database.
func NewRelocalizer(engine volume.Engine, db volume.PoseDatabase, params Params) *Relocalizer {
	return &Relocalizer{engine: engine, db: db, params: params}
}

// Available reports whether the database holds any key frames.
func (r *Relocalizer) Available() bool {
	return r.db != nil && r.db.KeyFrameCount() > 0
}

// Relocalize queries the database with the full-resolution depth and the
// colour frame resampled to depth resolution, then tests up to
// MaxPoseTests candidates in database order.
//
// A candidate is accepted when alignment succeeds and its energy lies
// strictly inside (MinRelocEnergy, MaxRelocEnergy); among accepted
// candidates the lowest energy wins and ties keep the earlier candidate.
func (r *Relocalizer) Relocalize(ctx context.Context, depth *volume.DepthFloatFrame, color *volume.ColorFrame) (RelocResult, error) {
	var res RelocResult

	cands, err := r.db.QueryPoseDatabase(ctx, depth, color)
	if err != nil {
		return res, fmt.Errorf("query pose database: %w", err)
	}
	if cands == nil || len(cands.Poses) == 0 {
		res.Reason = "no candidates"
		return res, nil
	}
	res.Candidates = len(cands.Poses)
	res.MinDistance = cands.MinDistance
	if cands.MinDistance > r.params.KeyFrameRejectDistance {
		res.Reason = fmt.Sprintf("closest key frame too far (%.3f > %.3f)", cands.MinDistance, r.params.KeyFrameRejectDistance)
		return res, nil
	}

	smoothed, err := r.engine.SmoothDepth(ctx, depth, r.params.SmoothingKernelWidth, r.params.SmoothingDistanceThresholdM)
	if err != nil {
		return res, fmt.Errorf("smooth depth: %w", err)
	}
	observed, err := r.engine.DepthToPointCloud(ctx, smoothed)
	if err != nil {
		return res, fmt.Errorf("depth to point cloud: %w", err)
	}

	n := min(r.params.MaxPoseTests, len(cands.Poses))
	bestEnergy := math.Inf(1)
	res.FallbackEnergy = math.Inf(1)

	for i := 0; i < n; i++ {
		candidate := cands.Poses[i]
		expected, err := r.engine.RaycastPointCloud(ctx, candidate, depth.Width, depth.Height)
		if err != nil {
			return res, fmt.Errorf("raycast candidate %d: %w", i, err)
		}
		ar, err := r.engine.AlignPointClouds(ctx, expected, observed, r.params.AlignIterations, candidate, nil)
		if err != nil {
			return res, fmt.Errorf("align candidate %d: %w", i, err)
		}
		res.Tested++
		tracef("candidate %d: success=%v energy=%.5f", i, ar.Success, ar.Energy)

		if ar.Energy < res.FallbackEnergy {
			res.HasFallback = true
			res.FallbackEnergy = ar.Energy
			res.FallbackPose = candidate
			res.FallbackIndex = i
		}
		if ar.Success && ar.Energy > r.params.MinRelocEnergy && ar.Energy < r.params.MaxRelocEnergy && ar.Energy < bestEnergy {
			bestEnergy = ar.Energy
			res.Success = true
			res.Pose = ar.Pose
			res.Energy = ar.Energy
			res.Index = i
		}
	}

	if !res.Success {
		return res, nil
	}

	ref, err := r.engine.RaycastPointCloud(ctx, res.Pose, depth.Width, depth.Height)
	if err != nil {
		return res, fmt.Errorf("raycast accepted pose: %w", err)
	}
	res.Reference = ref
	return res, nil
}
