package sim

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/depthfusion/internal/fusion/transform"
)

func TestRoomCast_Forward(t *testing.T) {
	r := DefaultRoom()
	in := IntrinsicsFor(8, 6)

	h, ok := r.Cast(transform.Identity(), in, in.CX, in.CY)
	require.True(t, ok)
	assert.InDelta(t, 3.0, h.Depth, 1e-9)
	assert.Equal(t, 2, h.Axis)
	assert.Equal(t, [3]float64{0, 0, -1}, h.Normal)
	assert.InDelta(t, 3.0, h.Point[2], 1e-9)
}

func TestRoomCast_SideWall(t *testing.T) {
	r := DefaultRoom()
	in := IntrinsicsFor(8, 6)
	// Turned to face +x, the camera sees the wall at x = 2.5.
	pose := transform.FromEuler(0, math.Pi/2, 0, [3]float64{0.5, 0, 0})

	h, ok := r.Cast(pose, in, in.CX, in.CY)
	require.True(t, ok)
	assert.Equal(t, 0, h.Axis)
	assert.InDelta(t, 2.0, h.Depth, 1e-9)
	assert.Equal(t, [3]float64{-1, 0, 0}, h.Normal)
}

func TestRoomCast_OutsideRoom(t *testing.T) {
	r := DefaultRoom()
	in := IntrinsicsFor(8, 6)
	_, ok := r.Cast(transform.FromEuler(0, 0, 0, [3]float64{10, 0, 0}), in, in.CX, in.CY)
	assert.False(t, ok)
}

func TestRoomColour(t *testing.T) {
	r := DefaultRoom()
	in := IntrinsicsFor(8, 6)
	h, ok := r.Cast(transform.Identity(), in, in.CX, in.CY)
	require.True(t, ok)

	// Tile (0,0) on the far wall is an even tile: half-intensity tint.
	assert.Equal(t, uint32(0xff<<24|100<<16|30<<8|40), r.Colour(h))

	h.Point[0] = 0.75
	assert.Equal(t, uint32(0xff<<24|200<<16|60<<8|80), r.Colour(h))
}

func TestRoomRender(t *testing.T) {
	pc := DefaultRoom().Render(transform.Identity(), 8, 6)
	require.Len(t, pc.Points, 48)
	require.Len(t, pc.Normals, 48)
	for i, p := range pc.Points {
		assert.InDelta(t, 3.0, float64(p[2]), 1e-5, "pixel %d", i)
		assert.Equal(t, float32(-1), pc.Normals[i][2])
	}
}
