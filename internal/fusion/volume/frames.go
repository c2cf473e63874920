package volume

import (
	"fmt"
	"time"
)

// DepthFrame is one depth image from the sensor, in integer millimetres.
// A zero pixel means no reading.
type DepthFrame struct {
	Width     int
	Height    int
	Pixels    []uint16
	Sequence  uint64
	Timestamp time.Time
}

// ColorFrame is a 32-bit BGRA colour image. Its resolution may differ from
// the depth frame it was captured with.
type ColorFrame struct {
	Width  int
	Height int
	Pixels []uint32
}

// Frame pairs a depth image with the colour image captured alongside it.
// Color may be nil when the sensor has no colour stream; relocalization
// and key-frame maintenance are then skipped.
type Frame struct {
	Depth *DepthFrame
	Color *ColorFrame
}

// DepthFloatFrame holds depth in metres, after mirroring and scaling.
type DepthFloatFrame struct {
	Width    int
	Height   int
	Pixels   []float32
	Sequence uint64
}

// Vec3 is a point or normal in camera or world space.
type Vec3 [3]float32

// PointCloud is an organised point cloud: one point and normal per pixel of
// a Width x Height image. Invalid pixels hold zero vectors.
type PointCloud struct {
	Width   int
	Height  int
	Points  []Vec3
	Normals []Vec3
	// Sequence is the frame the cloud was computed from, or zero for a
	// raycast of the volume.
	Sequence uint64
}

// DeltaFrame receives the per-pixel alignment residual, packed as BGRA,
// at the resolution of the aligned clouds.
type DeltaFrame struct {
	Width  int
	Height int
	Pixels []uint32
}

// ShadedImage is a rendered view of the reconstructed surface: one BGRA
// pixel per depth pixel. Once published it must be treated as read-only.
type ShadedImage struct {
	Width    int
	Height   int
	Pixels   []uint32
	Sequence uint64
}

// NewDepthFloatFrame allocates a zeroed depth frame.
func NewDepthFloatFrame(width, height int) *DepthFloatFrame {
	return &DepthFloatFrame{Width: width, Height: height, Pixels: make([]float32, width*height)}
}

// NewDeltaFrame allocates a zeroed residual buffer.
func NewDeltaFrame(width, height int) *DeltaFrame {
	return &DeltaFrame{Width: width, Height: height, Pixels: make([]uint32, width*height)}
}

// Validate checks that the buffer length matches the declared dimensions.
func (f *DepthFrame) Validate() error {
	if f == nil {
		return fmt.Errorf("depth frame is nil")
	}
	if f.Width <= 0 || f.Height <= 0 {
		return fmt.Errorf("depth frame has invalid size %dx%d", f.Width, f.Height)
	}
	if len(f.Pixels) != f.Width*f.Height {
		return fmt.Errorf("depth frame %dx%d has %d pixels, want %d",
			f.Width, f.Height, len(f.Pixels), f.Width*f.Height)
	}
	return nil
}

// Validate checks that the buffer length matches the declared dimensions.
func (f *ColorFrame) Validate() error {
	if f == nil {
		return fmt.Errorf("color frame is nil")
	}
	if f.Width <= 0 || f.Height <= 0 {
		return fmt.Errorf("color frame has invalid size %dx%d", f.Width, f.Height)
	}
	if len(f.Pixels) != f.Width*f.Height {
		return fmt.Errorf("color frame %dx%d has %d pixels, want %d",
			f.Width, f.Height, len(f.Pixels), f.Width*f.Height)
	}
	return nil
}

// Validate checks both buffers. A missing colour frame is allowed.
func (f *Frame) Validate() error {
	if f == nil {
		return fmt.Errorf("frame is nil")
	}
	if err := f.Depth.Validate(); err != nil {
		return err
	}
	if f.Color != nil {
		if err := f.Color.Validate(); err != nil {
			return err
		}
	}
	return nil
}
