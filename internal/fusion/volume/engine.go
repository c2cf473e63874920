package volume

import (
	"context"
	"errors"

	"github.com/banshee-data/depthfusion/internal/fusion/transform"
)

var (
	// ErrDeviceUnavailable means no compatible reconstruction device exists.
	// It is reported when constructing a pipeline, never per frame.
	ErrDeviceUnavailable = errors.New("volume: reconstruction device unavailable")

	// ErrInvalidState is returned by an engine call that cannot run in the
	// engine's current state. The pipeline treats it as a transient error
	// for the current pass.
	ErrInvalidState = errors.New("volume: invalid engine state")
)

// AlignResult is the outcome of aligning an observed point cloud against an
// expected one.
type AlignResult struct {
	Success bool
	Pose    transform.Pose
	// Energy is the residual cost after alignment; lower is better.
	Energy float64
}

// MatchCandidates is the result of a pose-database query: candidate poses,
// best match first, and the minimum descriptor distance over all stored
// key frames.
type MatchCandidates struct {
	Poses       []transform.Pose
	MinDistance float64
}

// Engine is the volumetric reconstruction capability. Every call may fail
// with a recoverable error; the caller skips the rest of its pass and keeps
// its prior state.
type Engine interface {
	// SmoothDepth applies an edge-preserving filter of the given kernel
	// width. Neighbours farther than distanceThreshold metres are ignored.
	SmoothDepth(ctx context.Context, depth *DepthFloatFrame, kernelWidth int, distanceThreshold float32) (*DepthFloatFrame, error)

	// DepthToPointCloud back-projects a depth frame into an organised cloud.
	DepthToPointCloud(ctx context.Context, depth *DepthFloatFrame) (*PointCloud, error)

	// RaycastPointCloud renders the volume surface seen from pose at the
	// requested resolution.
	RaycastPointCloud(ctx context.Context, pose transform.Pose, width, height int) (*PointCloud, error)

	// AlignPointClouds refines initial so that observed matches expected.
	// When delta is non-nil it receives the per-pixel residual.
	AlignPointClouds(ctx context.Context, expected, observed *PointCloud, iterations int, initial transform.Pose, delta *DeltaFrame) (AlignResult, error)

	// IntegrateFrame fuses depth into the volume at pose. weight caps the
	// per-voxel running average.
	IntegrateFrame(ctx context.Context, depth *DepthFloatFrame, weight int, pose transform.Pose) error

	// ResetVolume clears the reconstruction and sets the world origin.
	ResetVolume(ctx context.Context, pose transform.Pose) error

	// ShadePointCloud renders a cloud as a shaded surface image.
	ShadePointCloud(ctx context.Context, cloud *PointCloud, pose transform.Pose) (*ShadedImage, error)
}

// PoseDatabase stores key frames and finds camera poses for frames that
// resemble them. Colour frames passed in are already resampled to depth
// resolution.
type PoseDatabase interface {
	QueryPoseDatabase(ctx context.Context, depth *DepthFloatFrame, color *ColorFrame) (*MatchCandidates, error)

	// OfferKeyFrame stores the frame when its distance to every stored key
	// frame is at least acceptThreshold. trimmed reports whether older key
	// frames were evicted to make room.
	OfferKeyFrame(ctx context.Context, depth *DepthFloatFrame, color *ColorFrame, pose transform.Pose, acceptThreshold float64) (accepted, trimmed bool, err error)

	KeyFrameCount() int
}

// DeviceChecker is implemented by engines that can probe for a usable
// device before any frame is processed.
type DeviceChecker interface {
	CheckDevice(ctx context.Context) error
}
