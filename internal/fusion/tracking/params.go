package tracking

import "github.com/banshee-data/depthfusion/internal/config"

// Params are the numeric tuning inputs of the tracking state machine.
type Params struct {
	MaxTranslationDeltaM float64
	MaxRotationDeltaDeg  float64
	AlignIterations      int
	DeltaFrameInterval   int

	SmoothingKernelWidth           int
	SmoothingDistanceThresholdM    float32
	WarmupFramesAfterFailure       int
	MinSuccessfulFramesForKeyFrame int
	KeyFrameInterval               int
	KeyFrameAcceptDistance         float64
	KeyFrameRejectDistance         float64

	MaxPoseTests   int
	MinRelocEnergy float64
	MaxRelocEnergy float64

	// AlignFromFallbackPose makes the next frame align from the pose shown
	// after a failed relocalization instead of the last verified pose.
	AlignFromFallbackPose bool
}

// ParamsFromConfig reads Params from a fusion config, applying defaults
// for unset fields.
func ParamsFromConfig(c *config.FusionConfig) Params {
	return Params{
		MaxTranslationDeltaM:           c.GetMaxTranslationDeltaM(),
		MaxRotationDeltaDeg:            c.GetMaxRotationDeltaDeg(),
		AlignIterations:                c.GetAlignIterations(),
		DeltaFrameInterval:             c.GetDeltaFrameInterval(),
		SmoothingKernelWidth:           c.GetSmoothingKernelWidth(),
		SmoothingDistanceThresholdM:    float32(c.GetSmoothingDistanceThresholdM()),
		WarmupFramesAfterFailure:       c.GetWarmupFramesAfterFailure(),
		MinSuccessfulFramesForKeyFrame: c.GetMinSuccessfulFramesForKeyFrame(),
		KeyFrameInterval:               c.GetKeyFrameInterval(),
		KeyFrameAcceptDistance:         c.GetKeyFrameAcceptDistance(),
		KeyFrameRejectDistance:         c.GetKeyFrameRejectDistance(),
		MaxPoseTests:                   c.GetMaxPoseTests(),
		MinRelocEnergy:                 c.GetMinRelocEnergy(),
		MaxRelocEnergy:                 c.GetMaxRelocEnergy(),
		AlignFromFallbackPose:          c.GetAlignFromFallbackPose(),
	}
}

// DefaultParams returns the built-in defaults.
func DefaultParams() Params {
	return ParamsFromConfig(config.EmptyFusionConfig())
}
