package keyframe

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/depthfusion/internal/fusion/transform"
	"github.com/banshee-data/depthfusion/internal/fusion/volume"
)

const frameW, frameH = 32, 24

// uniformFrame returns depth and colour frames of constant depth (metres)
// and grey level.
func uniformFrame(depthM float32, grey uint8) (*volume.DepthFloatFrame, *volume.ColorFrame) {
	d := volume.NewDepthFloatFrame(frameW, frameH)
	c := &volume.ColorFrame{Width: frameW, Height: frameH, Pixels: make([]uint32, frameW*frameH)}
	px := uint32(0xff)<<24 | uint32(grey)<<16 | uint32(grey)<<8 | uint32(grey)
	for i := range d.Pixels {
		d.Pixels[i] = depthM
		c.Pixels[i] = px
	}
	return d, c
}

func poseAt(x float64) transform.Pose {
	return transform.FromEuler(0, 0, 0, [3]float64{x, 0, 0})
}

type memStore struct {
	saved   []KeyFrame
	deleted []string
	loaded  []KeyFrame
	err     error
	delErr  error
}

func (s *memStore) SaveKeyFrame(_ context.Context, kf KeyFrame) error {
	if s.err != nil {
		return s.err
	}
	s.saved = append(s.saved, kf)
	return nil
}

func (s *memStore) DeleteKeyFrames(_ context.Context, ids []string) error {
	if s.delErr != nil {
		return s.delErr
	}
	s.deleted = append(s.deleted, ids...)
	return nil
}

func (s *memStore) LoadKeyFrames(context.Context) ([]KeyFrame, error) {
	return s.loaded, s.err
}

func TestComputeDescriptor(t *testing.T) {
	d, c := uniformFrame(2, 255)
	desc, err := ComputeDescriptor(d, c, 4, 3)
	require.NoError(t, err)
	require.Len(t, desc, 24)
	for i := 0; i < 12; i++ {
		assert.InDelta(t, 0.25, desc[i], 1e-6, "depth cell %d", i)
		assert.InDelta(t, 1.0, desc[12+i], 1e-6, "luminance cell %d", i)
	}

	// Missing depth leaves cells at zero; far depth saturates.
	d.Pixels[0] = 0
	for i := range d.Pixels {
		if i > 0 {
			d.Pixels[i] = 20
		}
	}
	desc, err = ComputeDescriptor(d, c, 4, 3)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, desc[0], 1e-9)
}

func TestComputeDescriptor_Errors(t *testing.T) {
	d, c := uniformFrame(1, 0)
	_, err := ComputeDescriptor(nil, c, 4, 3)
	assert.Error(t, err)
	_, err = ComputeDescriptor(d, &volume.ColorFrame{Width: 2, Height: 2, Pixels: make([]uint32, 4)}, 4, 3)
	assert.Error(t, err)
	_, err = ComputeDescriptor(d, c, 64, 3)
	assert.Error(t, err)
}

func TestDistance(t *testing.T) {
	a := Descriptor{0, 0.5, 1, 0.25}
	assert.Equal(t, 0.0, Distance(a, a))
	assert.InDelta(t, 0.25, Distance(a, Descriptor{0.5, 0, 1, 0.25}), 1e-12)
	assert.Equal(t, 1.0, Distance(a, Descriptor{0}))
	assert.Equal(t, 1.0, Distance(nil, nil))
}

func TestOfferKeyFrame_AcceptThreshold(t *testing.T) {
	db := New(Options{})
	ctx := context.Background()

	d1, c1 := uniformFrame(1, 128)
	accepted, trimmed, err := db.OfferKeyFrame(ctx, d1, c1, poseAt(1), 0.1)
	require.NoError(t, err)
	assert.True(t, accepted, "first key frame is always stored")
	assert.False(t, trimmed)

	accepted, _, err = db.OfferKeyFrame(ctx, d1, c1, poseAt(1.01), 0.1)
	require.NoError(t, err)
	assert.False(t, accepted, "duplicate view is redundant")

	d3, c3 := uniformFrame(3, 128)
	accepted, _, err = db.OfferKeyFrame(ctx, d3, c3, poseAt(3), 0.1)
	require.NoError(t, err)
	assert.True(t, accepted)
	assert.Equal(t, 2, db.KeyFrameCount())
}

func TestOfferKeyFrame_TrimsOldest(t *testing.T) {
	store := &memStore{}
	db := New(Options{MaxKeyFrames: 2, Store: store})
	ctx := context.Background()

	var trimmedAny bool
	for i, depth := range []float32{1, 3, 5} {
		d, c := uniformFrame(depth, 100)
		accepted, trimmed, err := db.OfferKeyFrame(ctx, d, c, poseAt(float64(i)), 0.1)
		require.NoError(t, err)
		require.True(t, accepted)
		trimmedAny = trimmedAny || trimmed
		assert.Equal(t, i == 2, trimmed, "offer %d", i)
	}
	assert.True(t, trimmedAny)
	require.Equal(t, 2, db.KeyFrameCount())

	kfs := db.KeyFrames()
	assert.Equal(t, poseAt(1), kfs[0].Pose)
	assert.Equal(t, poseAt(2), kfs[1].Pose)

	require.Len(t, store.saved, 3)
	assert.Equal(t, []string{store.saved[0].ID}, store.deleted)
}

func TestOfferKeyFrame_StoreError(t *testing.T) {
	boom := errors.New("disk full")
	db := New(Options{Store: &memStore{err: boom}})
	d, c := uniformFrame(1, 0)

	accepted, _, err := db.OfferKeyFrame(context.Background(), d, c, poseAt(0), 0.1)
	assert.ErrorIs(t, err, boom)
	assert.False(t, accepted)
	assert.Equal(t, 0, db.KeyFrameCount(), "failed save leaves the database unchanged")
}

func TestOfferKeyFrame_TrimErrorKeepsSavedFrame(t *testing.T) {
	boom := errors.New("locked")
	store := &memStore{}
	db := New(Options{MaxKeyFrames: 1, Store: store})
	ctx := context.Background()

	d, c := uniformFrame(1, 100)
	_, _, err := db.OfferKeyFrame(ctx, d, c, poseAt(0), 0.1)
	require.NoError(t, err)

	store.delErr = boom
	d, c = uniformFrame(4, 100)
	accepted, trimmed, err := db.OfferKeyFrame(ctx, d, c, poseAt(1), 0.1)
	assert.ErrorIs(t, err, boom)
	assert.True(t, accepted)
	assert.True(t, trimmed)

	kfs := db.KeyFrames()
	require.Len(t, kfs, 1)
	assert.Equal(t, poseAt(1), kfs[0].Pose)
	require.Len(t, store.saved, 2)
	assert.Equal(t, store.saved[1].ID, kfs[0].ID)

	// A reload from the store converges on the same entry.
	store.loaded = store.saved
	require.NoError(t, db.Load(ctx))
	kfs = db.KeyFrames()
	require.Len(t, kfs, 1)
	assert.Equal(t, store.saved[1].ID, kfs[0].ID)
}

func TestQueryPoseDatabase_Ranking(t *testing.T) {
	db := New(Options{MaxCandidates: 2})
	ctx := context.Background()
	for i, depth := range []float32{1, 4, 2.5} {
		d, c := uniformFrame(depth, 50)
		_, _, err := db.OfferKeyFrame(ctx, d, c, poseAt(float64(i)), 0.05)
		require.NoError(t, err)
	}

	q, qc := uniformFrame(2.4, 50)
	res, err := db.QueryPoseDatabase(ctx, q, qc)
	require.NoError(t, err)
	require.Len(t, res.Poses, 2)
	assert.Equal(t, poseAt(2), res.Poses[0], "closest key frame first")
	assert.Equal(t, poseAt(0), res.Poses[1])
	// Depth half differs by 0.1/8 in every cell; luminance half matches.
	assert.InDelta(t, 0.1/8/2, res.MinDistance, 1e-6)
}

func TestQueryPoseDatabase_Empty(t *testing.T) {
	db := New(Options{})
	d, c := uniformFrame(1, 0)
	res, err := db.QueryPoseDatabase(context.Background(), d, c)
	require.NoError(t, err)
	assert.Empty(t, res.Poses)
}

func TestLoad(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	store := &memStore{loaded: []KeyFrame{
		{ID: "c", Pose: poseAt(3), CreatedAt: base.Add(3 * time.Second)},
		{ID: "a", Pose: poseAt(1), CreatedAt: base.Add(1 * time.Second)},
		{ID: "b", Pose: poseAt(2), CreatedAt: base.Add(2 * time.Second)},
	}}
	db := New(Options{MaxKeyFrames: 2, Store: store})
	require.NoError(t, db.Load(context.Background()))

	kfs := db.KeyFrames()
	require.Len(t, kfs, 2)
	assert.Equal(t, "b", kfs[0].ID)
	assert.Equal(t, "c", kfs[1].ID)

	db.Clear()
	assert.Equal(t, 0, db.KeyFrameCount())

	assert.NoError(t, New(Options{}).Load(context.Background()), "no store is a no-op")
}
