package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// DefaultConfigPath is the path to the canonical fusion defaults file.
// This is the single source of truth for all default tuning values.
const DefaultConfigPath = "config/fusion.defaults.json"

// FusionConfig represents the root configuration for the fusion pipeline.
// Every field is optional; the Get* accessors supply the default for any
// field omitted from the JSON, so partial configs are safe.
type FusionConfig struct {
	// Tracking params
	DownsampleFactor            *int     `json:"downsample_factor,omitempty"`
	MaxTranslationDeltaM        *float64 `json:"max_translation_delta_m,omitempty"`
	MaxRotationDeltaDeg         *float64 `json:"max_rotation_delta_deg,omitempty"`
	AlignIterations             *int     `json:"align_iterations,omitempty"`
	DeltaFrameInterval          *int     `json:"delta_frame_interval,omitempty"`
	SmoothingKernelWidth        *int     `json:"smoothing_kernel_width,omitempty"`
	SmoothingDistanceThresholdM *float64 `json:"smoothing_distance_threshold_m,omitempty"`

	// Integration params
	IntegrationWeight        *int `json:"integration_weight,omitempty"`
	WarmupFramesAfterFailure *int `json:"warmup_frames_after_failure,omitempty"`

	// Key-frame database params
	MinSuccessfulFramesForKeyFrame *int     `json:"min_successful_frames_for_keyframe,omitempty"`
	KeyFrameInterval               *int     `json:"keyframe_interval,omitempty"`
	KeyFrameAcceptDistance         *float64 `json:"keyframe_accept_distance,omitempty"`
	KeyFrameRejectDistance         *float64 `json:"keyframe_reject_distance,omitempty"`
	MaxKeyFrames                   *int     `json:"max_keyframes,omitempty"`
	MaxCandidates                  *int     `json:"max_candidates,omitempty"`

	// Relocalization params
	MaxPoseTests          *int     `json:"max_pose_tests,omitempty"`
	MinRelocEnergy        *float64 `json:"min_reloc_energy,omitempty"`
	MaxRelocEnergy        *float64 `json:"max_reloc_energy,omitempty"`
	AlignFromFallbackPose *bool    `json:"align_from_fallback_pose,omitempty"`

	// Loss recovery without relocalization
	AutoResetWhenLost *bool `json:"auto_reset_when_lost,omitempty"`
	MaxTrackingErrors *int  `json:"max_tracking_errors,omitempty"`

	// Sensor params (simulated sensor only)
	SensorWidth         *int    `json:"sensor_width,omitempty"`
	SensorHeight        *int    `json:"sensor_height,omitempty"`
	ColorWidth          *int    `json:"color_width,omitempty"`
	ColorHeight         *int    `json:"color_height,omitempty"`
	SensorFrameInterval *string `json:"sensor_frame_interval,omitempty"` // duration string like "33ms"
}

// Helper functions to create pointers
func ptrFloat64(v float64) *float64 { return &v }
func ptrBool(v bool) *bool          { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }

// EmptyFusionConfig returns a FusionConfig with all fields set to nil.
// Use LoadFusionConfig to load actual values from the defaults file.
func EmptyFusionConfig() *FusionConfig {
	return &FusionConfig{}
}

// DefaultFusionConfig returns a FusionConfig with every field populated
// from the built-in defaults.
func DefaultFusionConfig() *FusionConfig {
	e := EmptyFusionConfig()
	return &FusionConfig{
		DownsampleFactor:               ptrInt(e.GetDownsampleFactor()),
		MaxTranslationDeltaM:           ptrFloat64(e.GetMaxTranslationDeltaM()),
		MaxRotationDeltaDeg:            ptrFloat64(e.GetMaxRotationDeltaDeg()),
		AlignIterations:                ptrInt(e.GetAlignIterations()),
		DeltaFrameInterval:             ptrInt(e.GetDeltaFrameInterval()),
		SmoothingKernelWidth:           ptrInt(e.GetSmoothingKernelWidth()),
		SmoothingDistanceThresholdM:    ptrFloat64(e.GetSmoothingDistanceThresholdM()),
		IntegrationWeight:              ptrInt(e.GetIntegrationWeight()),
		WarmupFramesAfterFailure:       ptrInt(e.GetWarmupFramesAfterFailure()),
		MinSuccessfulFramesForKeyFrame: ptrInt(e.GetMinSuccessfulFramesForKeyFrame()),
		KeyFrameInterval:               ptrInt(e.GetKeyFrameInterval()),
		KeyFrameAcceptDistance:         ptrFloat64(e.GetKeyFrameAcceptDistance()),
		KeyFrameRejectDistance:         ptrFloat64(e.GetKeyFrameRejectDistance()),
		MaxKeyFrames:                   ptrInt(e.GetMaxKeyFrames()),
		MaxCandidates:                  ptrInt(e.GetMaxCandidates()),
		MaxPoseTests:                   ptrInt(e.GetMaxPoseTests()),
		MinRelocEnergy:                 ptrFloat64(e.GetMinRelocEnergy()),
		MaxRelocEnergy:                 ptrFloat64(e.GetMaxRelocEnergy()),
		AlignFromFallbackPose:          ptrBool(e.GetAlignFromFallbackPose()),
		AutoResetWhenLost:              ptrBool(e.GetAutoResetWhenLost()),
		MaxTrackingErrors:              ptrInt(e.GetMaxTrackingErrors()),
		SensorWidth:                    ptrInt(e.GetSensorWidth()),
		SensorHeight:                   ptrInt(e.GetSensorHeight()),
		ColorWidth:                     ptrInt(e.GetColorWidth()),
		ColorHeight:                    ptrInt(e.GetColorHeight()),
		SensorFrameInterval:            ptrString("33ms"),
	}
}

// LoadFusionConfig loads a FusionConfig from a JSON file.
// The file is validated to ensure it has a .json extension and is under the max file size.
func LoadFusionConfig(path string) (*FusionConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyFusionConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// MustLoadDefaultConfig loads the canonical defaults from DefaultConfigPath.
// It searches for the file in the current directory and common parent directories.
// Panics if the file cannot be loaded, intended for test setup.
func MustLoadDefaultConfig() *FusionConfig {
	candidates := []string{
		DefaultConfigPath,
		"../../" + DefaultConfigPath,       // from internal/config/
		"../../../" + DefaultConfigPath,    // from internal/fusion/pipeline/
		"../../../../" + DefaultConfigPath, // deeper packages
	}
	for _, path := range candidates {
		if cfg, err := LoadFusionConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks that the configuration values are valid.
func (c *FusionConfig) Validate() error {
	if c.DownsampleFactor != nil && *c.DownsampleFactor < 1 {
		return fmt.Errorf("downsample_factor must be at least 1, got %d", *c.DownsampleFactor)
	}
	if c.MaxTranslationDeltaM != nil && *c.MaxTranslationDeltaM <= 0 {
		return fmt.Errorf("max_translation_delta_m must be positive, got %f", *c.MaxTranslationDeltaM)
	}
	if c.MaxRotationDeltaDeg != nil && (*c.MaxRotationDeltaDeg <= 0 || *c.MaxRotationDeltaDeg > 180) {
		return fmt.Errorf("max_rotation_delta_deg must be in (0, 180], got %f", *c.MaxRotationDeltaDeg)
	}
	if c.AlignIterations != nil && *c.AlignIterations < 1 {
		return fmt.Errorf("align_iterations must be at least 1, got %d", *c.AlignIterations)
	}
	if c.DeltaFrameInterval != nil && *c.DeltaFrameInterval < 1 {
		return fmt.Errorf("delta_frame_interval must be at least 1, got %d", *c.DeltaFrameInterval)
	}
	if c.KeyFrameInterval != nil && *c.KeyFrameInterval < 1 {
		return fmt.Errorf("keyframe_interval must be at least 1, got %d", *c.KeyFrameInterval)
	}
	if c.KeyFrameAcceptDistance != nil && (*c.KeyFrameAcceptDistance < 0 || *c.KeyFrameAcceptDistance > 1) {
		return fmt.Errorf("keyframe_accept_distance must be between 0 and 1, got %f", *c.KeyFrameAcceptDistance)
	}
	if c.KeyFrameRejectDistance != nil && (*c.KeyFrameRejectDistance < 0 || *c.KeyFrameRejectDistance > 1) {
		return fmt.Errorf("keyframe_reject_distance must be between 0 and 1, got %f", *c.KeyFrameRejectDistance)
	}
	if c.MaxPoseTests != nil && *c.MaxPoseTests < 1 {
		return fmt.Errorf("max_pose_tests must be at least 1, got %d", *c.MaxPoseTests)
	}
	if c.MinRelocEnergy != nil && c.MaxRelocEnergy != nil && *c.MinRelocEnergy >= *c.MaxRelocEnergy {
		return fmt.Errorf("min_reloc_energy (%f) must be below max_reloc_energy (%f)", *c.MinRelocEnergy, *c.MaxRelocEnergy)
	}
	if c.SensorWidth != nil && c.DownsampleFactor != nil && *c.SensorWidth%*c.DownsampleFactor != 0 {
		return fmt.Errorf("sensor_width %d not divisible by downsample_factor %d", *c.SensorWidth, *c.DownsampleFactor)
	}
	if c.SensorHeight != nil && c.DownsampleFactor != nil && *c.SensorHeight%*c.DownsampleFactor != 0 {
		return fmt.Errorf("sensor_height %d not divisible by downsample_factor %d", *c.SensorHeight, *c.DownsampleFactor)
	}
	if c.SensorFrameInterval != nil && *c.SensorFrameInterval != "" {
		if _, err := time.ParseDuration(*c.SensorFrameInterval); err != nil {
			return fmt.Errorf("invalid sensor_frame_interval '%s': %w", *c.SensorFrameInterval, err)
		}
	}
	return nil
}

// GetDownsampleFactor returns the downsample_factor value or the default.
func (c *FusionConfig) GetDownsampleFactor() int {
	if c.DownsampleFactor == nil {
		return 2
	}
	return *c.DownsampleFactor
}

// GetMaxTranslationDeltaM returns the max_translation_delta_m value or the default.
func (c *FusionConfig) GetMaxTranslationDeltaM() float64 {
	if c.MaxTranslationDeltaM == nil {
		return 0.3
	}
	return *c.MaxTranslationDeltaM
}

// GetMaxRotationDeltaDeg returns the max_rotation_delta_deg value or the default.
func (c *FusionConfig) GetMaxRotationDeltaDeg() float64 {
	if c.MaxRotationDeltaDeg == nil {
		return 20.0
	}
	return *c.MaxRotationDeltaDeg
}

// GetAlignIterations returns the align_iterations value or the default.
func (c *FusionConfig) GetAlignIterations() int {
	if c.AlignIterations == nil {
		return 7
	}
	return *c.AlignIterations
}

// GetDeltaFrameInterval returns the delta_frame_interval value or the default.
func (c *FusionConfig) GetDeltaFrameInterval() int {
	if c.DeltaFrameInterval == nil {
		return 2
	}
	return *c.DeltaFrameInterval
}

// GetSmoothingKernelWidth returns the smoothing_kernel_width value or the default.
func (c *FusionConfig) GetSmoothingKernelWidth() int {
	if c.SmoothingKernelWidth == nil {
		return 1
	}
	return *c.SmoothingKernelWidth
}

// GetSmoothingDistanceThresholdM returns the smoothing_distance_threshold_m value or the default.
func (c *FusionConfig) GetSmoothingDistanceThresholdM() float64 {
	if c.SmoothingDistanceThresholdM == nil {
		return 0.04
	}
	return *c.SmoothingDistanceThresholdM
}

// GetIntegrationWeight returns the integration_weight value or the default.
func (c *FusionConfig) GetIntegrationWeight() int {
	if c.IntegrationWeight == nil {
		return 200
	}
	return *c.IntegrationWeight
}

// GetWarmupFramesAfterFailure returns the warmup_frames_after_failure value or the default.
func (c *FusionConfig) GetWarmupFramesAfterFailure() int {
	if c.WarmupFramesAfterFailure == nil {
		return 200
	}
	return *c.WarmupFramesAfterFailure
}

// GetMinSuccessfulFramesForKeyFrame returns the min_successful_frames_for_keyframe value or the default.
func (c *FusionConfig) GetMinSuccessfulFramesForKeyFrame() int {
	if c.MinSuccessfulFramesForKeyFrame == nil {
		return 45
	}
	return *c.MinSuccessfulFramesForKeyFrame
}

// GetKeyFrameInterval returns the keyframe_interval value or the default.
func (c *FusionConfig) GetKeyFrameInterval() int {
	if c.KeyFrameInterval == nil {
		return 5
	}
	return *c.KeyFrameInterval
}

// GetKeyFrameAcceptDistance returns the keyframe_accept_distance value or the default.
func (c *FusionConfig) GetKeyFrameAcceptDistance() float64 {
	if c.KeyFrameAcceptDistance == nil {
		return 0.1
	}
	return *c.KeyFrameAcceptDistance
}

// GetKeyFrameRejectDistance returns the keyframe_reject_distance value or the default.
func (c *FusionConfig) GetKeyFrameRejectDistance() float64 {
	if c.KeyFrameRejectDistance == nil {
		return 1.0
	}
	return *c.KeyFrameRejectDistance
}

// GetMaxKeyFrames returns the max_keyframes value or the default.
func (c *FusionConfig) GetMaxKeyFrames() int {
	if c.MaxKeyFrames == nil {
		return 10000
	}
	return *c.MaxKeyFrames
}

// GetMaxCandidates returns the max_candidates value or the default.
func (c *FusionConfig) GetMaxCandidates() int {
	if c.MaxCandidates == nil {
		return 10
	}
	return *c.MaxCandidates
}

// GetMaxPoseTests returns the max_pose_tests value or the default.
func (c *FusionConfig) GetMaxPoseTests() int {
	if c.MaxPoseTests == nil {
		return 5
	}
	return *c.MaxPoseTests
}

// GetMinRelocEnergy returns the min_reloc_energy value or the default.
func (c *FusionConfig) GetMinRelocEnergy() float64 {
	if c.MinRelocEnergy == nil {
		return 0.005
	}
	return *c.MinRelocEnergy
}

// GetMaxRelocEnergy returns the max_reloc_energy value or the default.
func (c *FusionConfig) GetMaxRelocEnergy() float64 {
	if c.MaxRelocEnergy == nil {
		return 0.27
	}
	return *c.MaxRelocEnergy
}

// GetAlignFromFallbackPose returns the align_from_fallback_pose value or the default.
func (c *FusionConfig) GetAlignFromFallbackPose() bool {
	if c.AlignFromFallbackPose == nil {
		return false
	}
	return *c.AlignFromFallbackPose
}

// GetAutoResetWhenLost returns the auto_reset_when_lost value or the default.
func (c *FusionConfig) GetAutoResetWhenLost() bool {
	if c.AutoResetWhenLost == nil {
		return false
	}
	return *c.AutoResetWhenLost
}

// GetMaxTrackingErrors returns the max_tracking_errors value or the default.
func (c *FusionConfig) GetMaxTrackingErrors() int {
	if c.MaxTrackingErrors == nil {
		return 100
	}
	return *c.MaxTrackingErrors
}

// GetSensorWidth returns the sensor_width value or the default.
func (c *FusionConfig) GetSensorWidth() int {
	if c.SensorWidth == nil {
		return 320
	}
	return *c.SensorWidth
}

// GetSensorHeight returns the sensor_height value or the default.
func (c *FusionConfig) GetSensorHeight() int {
	if c.SensorHeight == nil {
		return 240
	}
	return *c.SensorHeight
}

// GetColorWidth returns the color_width value or the default.
func (c *FusionConfig) GetColorWidth() int {
	if c.ColorWidth == nil {
		return 640
	}
	return *c.ColorWidth
}

// GetColorHeight returns the color_height value or the default.
func (c *FusionConfig) GetColorHeight() int {
	if c.ColorHeight == nil {
		return 360
	}
	return *c.ColorHeight
}

// GetSensorFrameInterval parses and returns the SensorFrameInterval as a time.Duration.
func (c *FusionConfig) GetSensorFrameInterval() time.Duration {
	if c.SensorFrameInterval == nil || *c.SensorFrameInterval == "" {
		return 33 * time.Millisecond // default
	}
	d, err := time.ParseDuration(*c.SensorFrameInterval)
	if err != nil {
		return 33 * time.Millisecond // default on parse error
	}
	return d
}
