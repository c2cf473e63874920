package tracking

import (
	"context"
	"errors"

	"github.com/banshee-data/depthfusion/internal/fusion/transform"
	"github.com/banshee-data/depthfusion/internal/fusion/volume"
)

// fakeEngine scripts alignment results and records calls.
type fakeEngine struct {
	// align decides each alignment. initial is the pose alignment starts
	// from; relocalization raycasts at full resolution, so expected.Width
	// tells frame-to-frame tracking apart from candidate tests.
	align func(expected *volume.PointCloud, initial transform.Pose) volume.AlignResult

	failMethod string
	raycasts   []transform.Pose
	aligns     int
	deltas     int
	integrated int
}

var errScripted = errors.New("scripted failure")

func (f *fakeEngine) fail(method string) error {
	if f.failMethod == method {
		return errScripted
	}
	return nil
}

func (f *fakeEngine) SmoothDepth(_ context.Context, d *volume.DepthFloatFrame, _ int, _ float32) (*volume.DepthFloatFrame, error) {
	if err := f.fail("smooth"); err != nil {
		return nil, err
	}
	return d, nil
}

func (f *fakeEngine) DepthToPointCloud(_ context.Context, d *volume.DepthFloatFrame) (*volume.PointCloud, error) {
	if err := f.fail("cloud"); err != nil {
		return nil, err
	}
	return &volume.PointCloud{Width: d.Width, Height: d.Height, Sequence: d.Sequence}, nil
}

func (f *fakeEngine) RaycastPointCloud(_ context.Context, pose transform.Pose, w, h int) (*volume.PointCloud, error) {
	if err := f.fail("raycast"); err != nil {
		return nil, err
	}
	f.raycasts = append(f.raycasts, pose)
	return &volume.PointCloud{Width: w, Height: h}, nil
}

func (f *fakeEngine) AlignPointClouds(_ context.Context, expected, _ *volume.PointCloud, _ int, initial transform.Pose, delta *volume.DeltaFrame) (volume.AlignResult, error) {
	if err := f.fail("align"); err != nil {
		return volume.AlignResult{}, err
	}
	f.aligns++
	if delta != nil {
		f.deltas++
	}
	if f.align == nil {
		return volume.AlignResult{Success: true, Pose: initial, Energy: 0.01}, nil
	}
	return f.align(expected, initial), nil
}

func (f *fakeEngine) IntegrateFrame(context.Context, *volume.DepthFloatFrame, int, transform.Pose) error {
	if err := f.fail("integrate"); err != nil {
		return err
	}
	f.integrated++
	return nil
}

func (f *fakeEngine) ResetVolume(context.Context, transform.Pose) error { return f.fail("reset") }

func (f *fakeEngine) ShadePointCloud(_ context.Context, c *volume.PointCloud, _ transform.Pose) (*volume.ShadedImage, error) {
	return &volume.ShadedImage{Width: c.Width, Height: c.Height, Pixels: make([]uint32, c.Width*c.Height)}, nil
}

// fakeDB returns fixed candidates and records offers.
type fakeDB struct {
	candidates *volume.MatchCandidates
	count      int
	queries    int
	offers     int
	accept     bool
	err        error
}

func (d *fakeDB) QueryPoseDatabase(context.Context, *volume.DepthFloatFrame, *volume.ColorFrame) (*volume.MatchCandidates, error) {
	d.queries++
	return d.candidates, d.err
}

func (d *fakeDB) OfferKeyFrame(context.Context, *volume.DepthFloatFrame, *volume.ColorFrame, transform.Pose, float64) (bool, bool, error) {
	d.offers++
	if d.err != nil {
		return false, false, d.err
	}
	if d.accept {
		d.count++
	}
	return d.accept, false, nil
}

func (d *fakeDB) KeyFrameCount() int { return d.count }

// candidatePose encodes an index in the X translation so scripted
// alignments can tell candidates apart.
func candidatePose(i int) transform.Pose {
	return transform.FromEuler(0, 0, 0, [3]float64{float64(10 + i), 0, 0})
}

func candidateIndex(p transform.Pose) int { return int(p[3]) - 10 }

const fullWidth = 8

func testInput(seq uint64) Input {
	coarse := volume.NewDepthFloatFrame(4, 3)
	coarse.Sequence = seq
	full := volume.NewDepthFloatFrame(fullWidth, 6)
	full.Sequence = seq
	return Input{
		Coarse: coarse,
		Full:   full,
		Color:  &volume.ColorFrame{Width: 16, Height: 9, Pixels: make([]uint32, 16*9)},
	}
}

func testParams() Params {
	p := DefaultParams()
	p.WarmupFramesAfterFailure = 3
	p.MinSuccessfulFramesForKeyFrame = 2
	p.KeyFrameInterval = 2
	return p
}

// step returns a pose moved by dx metres along X.
func step(p transform.Pose, dx float64) transform.Pose {
	return p.Mul(transform.FromEuler(0, 0, 0, [3]float64{dx, 0, 0}))
}
