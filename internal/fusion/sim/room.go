package sim

import (
	"math"

	"github.com/banshee-data/depthfusion/internal/fusion/transform"
	"github.com/banshee-data/depthfusion/internal/fusion/volume"
)

// Room is an axis-aligned box centred on the world origin. The camera is
// expected to stay inside it.
type Room struct {
	HalfExtents [3]float64
	// TileM is the checkerboard tile size painted on the walls.
	TileM float64
}

// DefaultRoom is a 5 x 3 x 6 metre room with 0.5 m tiles.
func DefaultRoom() Room {
	return Room{HalfExtents: [3]float64{2.5, 1.5, 3.0}, TileM: 0.5}
}

// Intrinsics is a pinhole camera model in pixels. Camera space has x
// right, y down and z forward.
type Intrinsics struct {
	FocalLength float64
	CX, CY      float64
}

// IntrinsicsFor returns a pinhole model with a fixed horizontal field of
// view for an image of the given size.
func IntrinsicsFor(width, height int) Intrinsics {
	return Intrinsics{
		FocalLength: 0.8 * float64(width),
		CX:          float64(width) / 2,
		CY:          float64(height) / 2,
	}
}

// Hit is where a camera ray leaves the room.
type Hit struct {
	// Depth is the distance along the optical axis in metres.
	Depth  float64
	Point  [3]float64
	Normal [3]float64
	Axis   int
}

// Cast traces the ray through pixel (u, v) from pose. ok is false only
// when the camera is outside the room.
func (r Room) Cast(pose transform.Pose, in Intrinsics, u, v float64) (h Hit, ok bool) {
	dx := (u - in.CX) / in.FocalLength
	dy := (v - in.CY) / in.FocalLength
	o := pose.Translation()
	var d [3]float64
	d[0], d[1], d[2] = pose.Apply(dx, dy, 1)
	for i := range d {
		d[i] -= o[i]
	}

	best := math.Inf(1)
	axis := -1
	for i := 0; i < 3; i++ {
		if o[i] < -r.HalfExtents[i] || o[i] > r.HalfExtents[i] {
			return h, false
		}
		var s float64
		switch {
		case d[i] > 0:
			s = (r.HalfExtents[i] - o[i]) / d[i]
		case d[i] < 0:
			s = (-r.HalfExtents[i] - o[i]) / d[i]
		default:
			continue
		}
		if s < best {
			best, axis = s, i
		}
	}
	if axis < 0 {
		return h, false
	}

	h.Depth = best
	h.Axis = axis
	for i := range h.Point {
		h.Point[i] = o[i] + best*d[i]
	}
	if d[axis] > 0 {
		h.Normal[axis] = -1
	} else {
		h.Normal[axis] = 1
	}
	return h, true
}

// Colour returns the BGRA checkerboard colour at a wall point. Each wall
// axis has its own tint.
func (r Room) Colour(h Hit) uint32 {
	tile := r.TileM
	if tile <= 0 {
		tile = 0.5
	}
	parity := 0
	for i, p := range h.Point {
		if i == h.Axis {
			continue
		}
		parity += int(math.Floor(p / tile))
	}
	base := [3][3]uint32{{200, 80, 60}, {60, 200, 80}, {80, 60, 200}}[h.Axis]
	scale := uint32(1)
	if parity&1 == 0 {
		scale = 2
	}
	b, g, rr := base[0]/scale, base[1]/scale, base[2]/scale
	return 0xff<<24 | rr<<16 | g<<8 | b
}

// Render raycasts the room from pose into an organised point cloud in
// camera space with world-space normals.
func (r Room) Render(pose transform.Pose, width, height int) *volume.PointCloud {
	in := IntrinsicsFor(width, height)
	pc := &volume.PointCloud{
		Width:   width,
		Height:  height,
		Points:  make([]volume.Vec3, width*height),
		Normals: make([]volume.Vec3, width*height),
	}
	for v := 0; v < height; v++ {
		for u := 0; u < width; u++ {
			h, ok := r.Cast(pose, in, float64(u)+0.5, float64(v)+0.5)
			if !ok {
				continue
			}
			i := v*width + u
			x := (float64(u) + 0.5 - in.CX) / in.FocalLength * h.Depth
			y := (float64(v) + 0.5 - in.CY) / in.FocalLength * h.Depth
			pc.Points[i] = volume.Vec3{float32(x), float32(y), float32(h.Depth)}
			pc.Normals[i] = volume.Vec3{float32(h.Normal[0]), float32(h.Normal[1]), float32(h.Normal[2])}
		}
	}
	return pc
}
