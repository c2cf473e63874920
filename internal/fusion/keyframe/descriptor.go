package keyframe

import (
	"fmt"

	"gonum.org/v1/gonum/floats"

	"github.com/banshee-data/depthfusion/internal/fusion/volume"
)

// Descriptor grid defaults. Depth cells are normalised by MaxDepthM.
const (
	DefaultGridWidth  = 16
	DefaultGridHeight = 12
	MaxDepthM         = 8.0
)

// Descriptor summarises a frame as per-cell mean depth followed by per-cell
// mean luminance, each scaled to [0,1].
type Descriptor []float64

// ComputeDescriptor reduces a depth frame and a colour frame of the same
// resolution to a gw x gh grid. Cells with no valid depth hold zero.
func ComputeDescriptor(depth *volume.DepthFloatFrame, color *volume.ColorFrame, gw, gh int) (Descriptor, error) {
	if depth == nil || color == nil {
		return nil, fmt.Errorf("descriptor needs depth and colour")
	}
	if depth.Width != color.Width || depth.Height != color.Height {
		return nil, fmt.Errorf("depth %dx%d and colour %dx%d differ in size",
			depth.Width, depth.Height, color.Width, color.Height)
	}
	if gw <= 0 || gh <= 0 || depth.Width < gw || depth.Height < gh {
		return nil, fmt.Errorf("grid %dx%d does not fit frame %dx%d", gw, gh, depth.Width, depth.Height)
	}

	cells := gw * gh
	d := make(Descriptor, 2*cells)
	depthSum := make([]float64, cells)
	depthN := make([]int, cells)
	lumSum := make([]float64, cells)
	lumN := make([]int, cells)

	for y := 0; y < depth.Height; y++ {
		cy := y * gh / depth.Height
		for x := 0; x < depth.Width; x++ {
			c := cy*gw + x*gw/depth.Width
			i := y*depth.Width + x

			if z := float64(depth.Pixels[i]); z > 0 {
				depthSum[c] += min(z, MaxDepthM) / MaxDepthM
				depthN[c]++
			}
			lumSum[c] += luminance(color.Pixels[i])
			lumN[c]++
		}
	}
	for c := 0; c < cells; c++ {
		if depthN[c] > 0 {
			d[c] = depthSum[c] / float64(depthN[c])
		}
		if lumN[c] > 0 {
			d[cells+c] = lumSum[c] / float64(lumN[c])
		}
	}
	return d, nil
}

// luminance returns Rec. 601 luma of a BGRA pixel in [0,1].
func luminance(bgra uint32) float64 {
	b := float64(bgra & 0xff)
	g := float64((bgra >> 8) & 0xff)
	r := float64((bgra >> 16) & 0xff)
	return (0.299*r + 0.587*g + 0.114*b) / 255.0
}

// Distance is the mean absolute difference between two descriptors, in
// [0,1]. Descriptors of different length are maximally distant.
func Distance(a, b Descriptor) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 1
	}
	return floats.Distance(a, b, 1) / float64(len(a))
}
