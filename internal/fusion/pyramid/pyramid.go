// Package pyramid converts sensor frames between full and coarse
// resolution: depth downsampling for cheap alignment, block upsampling for
// residual visualisation, and colour resampling to depth resolution.
package pyramid

import (
	"fmt"

	"github.com/banshee-data/depthfusion/internal/fusion/volume"
)

// MillimetresToMetres scales raw sensor depth to metres.
const MillimetresToMetres = 0.001

// Downsample reads every factor-th pixel of every factor-th row of a
// width x height millimetre depth image and returns a mirrored metre image
// of (width/factor) x (height/factor). Each output row is written
// back-to-front. Trailing columns and rows that do not fill a whole block
// are dropped.
func Downsample(depth []uint16, width, height, factor int) []float32 {
	if factor < 1 {
		factor = 1
	}
	ow, oh := width/factor, height/factor
	out := make([]float32, ow*oh)
	for y := 0; y < oh; y++ {
		src := depth[y*factor*width:]
		dst := out[y*ow : (y+1)*ow]
		for x := 0; x < ow; x++ {
			dst[ow-1-x] = float32(src[x*factor]) * MillimetresToMetres
		}
	}
	return out
}

// DownsampleFrame is Downsample on a DepthFrame. A factor of 1 gives the
// full-resolution mirrored metre image used for integration.
func DownsampleFrame(f *volume.DepthFrame, factor int) (*volume.DepthFloatFrame, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	if factor < 1 {
		return nil, fmt.Errorf("downsample factor must be >= 1, got %d", factor)
	}
	return &volume.DepthFloatFrame{
		Width:    f.Width / factor,
		Height:   f.Height / factor,
		Pixels:   Downsample(f.Pixels, f.Width, f.Height, factor),
		Sequence: f.Sequence,
	}, nil
}

// Upsample expands a width x height coarse image by replicating each pixel
// into a factor x factor block. Each coarse row is expanded horizontally
// once into the first row of its block, which is then copied into the
// remaining factor-1 rows.
func Upsample[T any](src []T, width, height, factor int) []T {
	if factor < 1 {
		factor = 1
	}
	fw := width * factor
	out := make([]T, fw*height*factor)
	for y := 0; y < height; y++ {
		first := out[y*factor*fw : (y*factor+1)*fw]
		row := src[y*width : (y+1)*width]
		for x, v := range row {
			block := first[x*factor : (x+1)*factor]
			for i := range block {
				block[i] = v
			}
		}
		for r := 1; r < factor; r++ {
			copy(out[(y*factor+r)*fw:(y*factor+r+1)*fw], first)
		}
	}
	return out
}

// UpsampleDelta expands a coarse residual buffer to full resolution.
func UpsampleDelta(d *volume.DeltaFrame, factor int) *volume.DeltaFrame {
	if d == nil {
		return nil
	}
	return &volume.DeltaFrame{
		Width:  d.Width * factor,
		Height: d.Height * factor,
		Pixels: Upsample(d.Pixels, d.Width, d.Height, factor),
	}
}

// ResampleColor maps a colour frame onto the depth grid with nearest-pixel
// lookup. The colour image is scaled to the depth width; when its aspect
// ratio is wider than the depth image the unmatched rows at the top and
// bottom are left zero. Output is mirrored to match Downsample.
func ResampleColor(c *volume.ColorFrame, depthWidth, depthHeight int) (*volume.ColorFrame, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	if depthWidth <= 0 || depthHeight <= 0 {
		return nil, fmt.Errorf("invalid depth size %dx%d", depthWidth, depthHeight)
	}

	out := &volume.ColorFrame{
		Width:  depthWidth,
		Height: depthHeight,
		Pixels: make([]uint32, depthWidth*depthHeight),
	}

	factor := float64(c.Width) / float64(depthWidth)
	matchedRows := c.Height * depthWidth / c.Width
	margin := (depthHeight - matchedRows) / 2
	if margin < 0 {
		margin = 0
	}

	for y := margin; y < depthHeight-margin; y++ {
		sy := int(float64(y-margin) * factor)
		if sy >= c.Height {
			break
		}
		src := c.Pixels[sy*c.Width : (sy+1)*c.Width]
		dst := out.Pixels[y*depthWidth : (y+1)*depthWidth]
		for x := 0; x < depthWidth; x++ {
			sx := int(float64(x) * factor)
			if sx >= c.Width {
				sx = c.Width - 1
			}
			dst[depthWidth-1-x] = src[sx]
		}
	}
	return out, nil
}
