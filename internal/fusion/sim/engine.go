package sim

import (
	"context"
	"fmt"
	"math"
	"sync"

	"github.com/banshee-data/depthfusion/internal/fusion/transform"
	"github.com/banshee-data/depthfusion/internal/fusion/volume"
)

// Span is an inclusive range of frame sequences.
type Span struct {
	From, To uint64
}

// EngineConfig scripts the simulated engine.
type EngineConfig struct {
	Room       Room
	Trajectory Trajectory
	// Occlusions are frames on which every alignment fails.
	Occlusions []Span
	// CaptureRadiusM and CaptureAngleDeg bound how far the initial pose
	// may be from the truth for alignment to converge.
	CaptureRadiusM  float64
	CaptureAngleDeg float64
	// Unavailable makes CheckDevice fail.
	Unavailable bool
}

// Engine is a volume.Engine that aligns against the known trajectory
// instead of the reconstructed surface. The volume itself is tracked only
// as an integration count: an empty volume never aligns and renders
// nothing.
type Engine struct {
	cfg EngineConfig

	mu         sync.Mutex
	integrated int
	resets     int
}

var (
	_ volume.Engine        = (*Engine)(nil)
	_ volume.DeviceChecker = (*Engine)(nil)
)

// NewEngine returns a simulated engine.
func NewEngine(cfg EngineConfig) *Engine {
	if cfg.Room.HalfExtents == [3]float64{} {
		cfg.Room = DefaultRoom()
	}
	if cfg.Trajectory == nil {
		cfg.Trajectory = DefaultOrbit()
	}
	if cfg.CaptureRadiusM <= 0 {
		cfg.CaptureRadiusM = 0.1
	}
	if cfg.CaptureAngleDeg <= 0 {
		cfg.CaptureAngleDeg = 10
	}
	return &Engine{cfg: cfg}
}

func (e *Engine) CheckDevice(context.Context) error {
	if e.cfg.Unavailable {
		return fmt.Errorf("sim: device disabled: %w", volume.ErrDeviceUnavailable)
	}
	return nil
}

func (e *Engine) occluded(seq uint64) bool {
	for _, s := range e.cfg.Occlusions {
		if seq >= s.From && seq <= s.To {
			return true
		}
	}
	return false
}

// SmoothDepth averages each pixel with the neighbours in a square window
// whose depth lies within distanceThreshold of it. Missing pixels stay
// missing.
func (e *Engine) SmoothDepth(_ context.Context, depth *volume.DepthFloatFrame, kernelWidth int, distanceThreshold float32) (*volume.DepthFloatFrame, error) {
	if depth == nil {
		return nil, volume.ErrInvalidState
	}
	out := volume.NewDepthFloatFrame(depth.Width, depth.Height)
	out.Sequence = depth.Sequence
	w, h := depth.Width, depth.Height
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			c := depth.Pixels[y*w+x]
			if c <= 0 {
				continue
			}
			var sum float32
			var n int
			for dy := -kernelWidth; dy <= kernelWidth; dy++ {
				for dx := -kernelWidth; dx <= kernelWidth; dx++ {
					xx, yy := x+dx, y+dy
					if xx < 0 || yy < 0 || xx >= w || yy >= h {
						continue
					}
					d := depth.Pixels[yy*w+xx]
					if d <= 0 || float32(math.Abs(float64(d-c))) > distanceThreshold {
						continue
					}
					sum += d
					n++
				}
			}
			out.Pixels[y*w+x] = sum / float32(n)
		}
	}
	return out, nil
}

func (e *Engine) DepthToPointCloud(_ context.Context, depth *volume.DepthFloatFrame) (*volume.PointCloud, error) {
	if depth == nil {
		return nil, volume.ErrInvalidState
	}
	in := IntrinsicsFor(depth.Width, depth.Height)
	pc := &volume.PointCloud{
		Width:    depth.Width,
		Height:   depth.Height,
		Points:   make([]volume.Vec3, len(depth.Pixels)),
		Sequence: depth.Sequence,
	}
	for v := 0; v < depth.Height; v++ {
		for u := 0; u < depth.Width; u++ {
			i := v*depth.Width + u
			z := float64(depth.Pixels[i])
			if z <= 0 {
				continue
			}
			x := (float64(u) + 0.5 - in.CX) / in.FocalLength * z
			y := (float64(v) + 0.5 - in.CY) / in.FocalLength * z
			pc.Points[i] = volume.Vec3{float32(x), float32(y), float32(z)}
		}
	}
	return pc, nil
}

func (e *Engine) RaycastPointCloud(_ context.Context, pose transform.Pose, width, height int) (*volume.PointCloud, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("raycast size %dx%d: %w", width, height, volume.ErrInvalidState)
	}
	e.mu.Lock()
	empty := e.integrated == 0
	e.mu.Unlock()
	if empty {
		return &volume.PointCloud{
			Width:   width,
			Height:  height,
			Points:  make([]volume.Vec3, width*height),
			Normals: make([]volume.Vec3, width*height),
		}, nil
	}
	return e.cfg.Room.Render(pose, width, height), nil
}

// AlignPointClouds converges to the true pose of the observed frame when
// initial is within the capture region. The energy grows with the
// distance the alignment had to cover.
func (e *Engine) AlignPointClouds(_ context.Context, expected, observed *volume.PointCloud, _ int, initial transform.Pose, delta *volume.DeltaFrame) (volume.AlignResult, error) {
	if expected == nil || observed == nil {
		return volume.AlignResult{}, volume.ErrInvalidState
	}
	if observed.Sequence == 0 {
		return volume.AlignResult{}, fmt.Errorf("observed cloud has no frame sequence: %w", volume.ErrInvalidState)
	}
	e.mu.Lock()
	empty := e.integrated == 0
	e.mu.Unlock()

	fail := volume.AlignResult{Pose: initial, Energy: 1}
	if empty || e.occluded(observed.Sequence) {
		return fail, nil
	}

	truth := e.cfg.Trajectory.PoseAt(observed.Sequence)
	dt, dr := PoseDistance(initial, truth)
	if dt > e.cfg.CaptureRadiusM || dr > e.cfg.CaptureAngleDeg {
		tracef("frame %d: initial pose %.3fm/%.1f° from truth, outside capture", observed.Sequence, dt, dr)
		return fail, nil
	}

	if delta != nil {
		fillResidual(delta, expected, observed)
	}
	return volume.AlignResult{
		Success: true,
		Pose:    truth,
		Energy:  0.01 + 0.5*dt + 0.002*dr,
	}, nil
}

// fillResidual writes the per-pixel depth difference as a grey level,
// saturating at 10 cm.
func fillResidual(delta *volume.DeltaFrame, expected, observed *volume.PointCloud) {
	n := min(len(delta.Pixels), len(expected.Points), len(observed.Points))
	for i := 0; i < n; i++ {
		ez, oz := expected.Points[i][2], observed.Points[i][2]
		if ez == 0 || oz == 0 {
			delta.Pixels[i] = 0xff000000
			continue
		}
		g := uint32(math.Min(math.Abs(float64(ez-oz))/0.1, 1) * 255)
		delta.Pixels[i] = 0xff<<24 | g<<16 | g<<8 | g
	}
}

func (e *Engine) IntegrateFrame(_ context.Context, depth *volume.DepthFloatFrame, weight int, _ transform.Pose) error {
	if depth == nil || weight <= 0 {
		return volume.ErrInvalidState
	}
	e.mu.Lock()
	e.integrated++
	e.mu.Unlock()
	return nil
}

func (e *Engine) ResetVolume(_ context.Context, _ transform.Pose) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.integrated = 0
	e.resets++
	return nil
}

// ShadePointCloud renders the cloud with a headlight: brightness is the
// cosine between each surface normal and the viewing direction.
func (e *Engine) ShadePointCloud(_ context.Context, cloud *volume.PointCloud, pose transform.Pose) (*volume.ShadedImage, error) {
	if cloud == nil {
		return nil, volume.ErrInvalidState
	}
	img := &volume.ShadedImage{
		Width:  cloud.Width,
		Height: cloud.Height,
		Pixels: make([]uint32, cloud.Width*cloud.Height),
	}
	r := pose.Rotation()
	for i, p := range cloud.Points {
		if p[2] == 0 || i >= len(cloud.Normals) {
			img.Pixels[i] = 0xff000000
			continue
		}
		// World-space view ray through the point.
		inv := 1 / math.Sqrt(float64(p[0]*p[0]+p[1]*p[1]+p[2]*p[2]))
		cx, cy, cz := float64(p[0])*inv, float64(p[1])*inv, float64(p[2])*inv
		vx := r[0]*cx + r[1]*cy + r[2]*cz
		vy := r[3]*cx + r[4]*cy + r[5]*cz
		vz := r[6]*cx + r[7]*cy + r[8]*cz
		nrm := cloud.Normals[i]
		lambert := -(vx*float64(nrm[0]) + vy*float64(nrm[1]) + vz*float64(nrm[2]))
		g := uint32(math.Max(0, math.Min(1, lambert)) * 255)
		img.Pixels[i] = 0xff<<24 | g<<16 | g<<8 | g
	}
	return img, nil
}

// Integrated returns the number of frames fused since the last reset.
func (e *Engine) Integrated() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.integrated
}

// Resets returns how many times the volume was reset.
func (e *Engine) Resets() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.resets
}

// PoseDistance returns the translation (metres) and rotation (degrees)
// between two poses.
func PoseDistance(a, b transform.Pose) (transM, rotDeg float64) {
	ta, tb := a.Translation(), b.Translation()
	for i := range ta {
		d := ta[i] - tb[i]
		transM += d * d
	}
	transM = math.Sqrt(transM)

	rel := a.Inverse().Mul(b)
	c := (rel[0] + rel[5] + rel[10] - 1) / 2
	c = math.Max(-1, math.Min(1, c))
	return transM, math.Acos(c) * 180 / math.Pi
}
