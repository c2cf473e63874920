// Package keyframe is an in-memory key-frame pose database with optional
// persistence. Frames are summarised by coarse depth and luminance
// descriptors; queries rank stored key frames by descriptor distance and
// return their camera poses as relocalization candidates.
package keyframe

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/depthfusion/internal/fusion/transform"
	"github.com/banshee-data/depthfusion/internal/fusion/volume"
)

// KeyFrame is one stored entry.
type KeyFrame struct {
	ID         string
	Pose       transform.Pose
	Descriptor Descriptor
	CreatedAt  time.Time
}

// Store persists key frames across runs.
type Store interface {
	SaveKeyFrame(ctx context.Context, kf KeyFrame) error
	DeleteKeyFrames(ctx context.Context, ids []string) error
	LoadKeyFrames(ctx context.Context) ([]KeyFrame, error)
}

// Options configure a Database.
type Options struct {
	// MaxKeyFrames caps the stored entries; the oldest are trimmed first.
	MaxKeyFrames int
	// MaxCandidates caps the poses returned by a query.
	MaxCandidates int
	GridWidth     int
	GridHeight    int
	// Store, when set, receives every accepted and trimmed key frame.
	Store Store
	// Now defaults to time.Now.
	Now func() time.Time
}

// Database implements volume.PoseDatabase. It is safe for concurrent use:
// the pipeline writes while the monitor reads the count.
type Database struct {
	mu     sync.RWMutex
	frames []KeyFrame
	opts   Options
}

var _ volume.PoseDatabase = (*Database)(nil)

// New creates an empty database.
func New(opts Options) *Database {
	if opts.MaxKeyFrames <= 0 {
		opts.MaxKeyFrames = 1000
	}
	if opts.MaxCandidates <= 0 {
		opts.MaxCandidates = 10
	}
	if opts.GridWidth <= 0 {
		opts.GridWidth = DefaultGridWidth
	}
	if opts.GridHeight <= 0 {
		opts.GridHeight = DefaultGridHeight
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Database{opts: opts}
}

// Load replaces the in-memory entries with those in the store, keeping
// at most MaxKeyFrames of the newest.
func (d *Database) Load(ctx context.Context) error {
	if d.opts.Store == nil {
		return nil
	}
	frames, err := d.opts.Store.LoadKeyFrames(ctx)
	if err != nil {
		return fmt.Errorf("load key frames: %w", err)
	}
	sort.SliceStable(frames, func(i, j int) bool { return frames[i].CreatedAt.Before(frames[j].CreatedAt) })
	if over := len(frames) - d.opts.MaxKeyFrames; over > 0 {
		frames = frames[over:]
	}
	d.mu.Lock()
	d.frames = frames
	d.mu.Unlock()
	return nil
}

// KeyFrameCount returns the number of stored key frames.
func (d *Database) KeyFrameCount() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.frames)
}

// KeyFrames returns a copy of the stored entries, oldest first.
func (d *Database) KeyFrames() []KeyFrame {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]KeyFrame, len(d.frames))
	copy(out, d.frames)
	return out
}

// Clear drops all in-memory entries. The store is left untouched.
func (d *Database) Clear() {
	d.mu.Lock()
	d.frames = nil
	d.mu.Unlock()
}

type scored struct {
	index    int
	distance float64
}

// QueryPoseDatabase ranks stored key frames by distance to the frame and
// returns up to MaxCandidates poses, closest first. MinDistance is the
// distance of the closest key frame. An empty database yields no
// candidates.
func (d *Database) QueryPoseDatabase(_ context.Context, depth *volume.DepthFloatFrame, color *volume.ColorFrame) (*volume.MatchCandidates, error) {
	desc, err := ComputeDescriptor(depth, color, d.opts.GridWidth, d.opts.GridHeight)
	if err != nil {
		return nil, err
	}

	d.mu.RLock()
	defer d.mu.RUnlock()

	if len(d.frames) == 0 {
		return &volume.MatchCandidates{MinDistance: 1}, nil
	}
	ranked := make([]scored, len(d.frames))
	for i, kf := range d.frames {
		ranked[i] = scored{index: i, distance: Distance(desc, kf.Descriptor)}
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].distance < ranked[j].distance })

	n := min(len(ranked), d.opts.MaxCandidates)
	out := &volume.MatchCandidates{
		Poses:       make([]transform.Pose, n),
		MinDistance: ranked[0].distance,
	}
	for i := 0; i < n; i++ {
		out.Poses[i] = d.frames[ranked[i].index].Pose
	}
	return out, nil
}

// OfferKeyFrame stores the frame when no stored key frame is closer than
// acceptThreshold. When the database is full the oldest entries are
// trimmed.
func (d *Database) OfferKeyFrame(ctx context.Context, depth *volume.DepthFloatFrame, color *volume.ColorFrame, pose transform.Pose, acceptThreshold float64) (accepted, trimmed bool, err error) {
	desc, err := ComputeDescriptor(depth, color, d.opts.GridWidth, d.opts.GridHeight)
	if err != nil {
		return false, false, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	for _, kf := range d.frames {
		if Distance(desc, kf.Descriptor) < acceptThreshold {
			return false, false, nil
		}
	}

	kf := KeyFrame{
		ID:         uuid.NewString(),
		Pose:       pose,
		Descriptor: desc,
		CreatedAt:  d.opts.Now(),
	}

	var evicted []string
	frames := append(d.frames, kf)
	if over := len(frames) - d.opts.MaxKeyFrames; over > 0 {
		for _, old := range frames[:over] {
			evicted = append(evicted, old.ID)
		}
		frames = append([]KeyFrame(nil), frames[over:]...)
	}

	s := d.opts.Store
	if s != nil {
		if err := s.SaveKeyFrame(ctx, kf); err != nil {
			return false, false, fmt.Errorf("save key frame: %w", err)
		}
	}
	d.frames = frames
	trimmed = len(evicted) > 0

	// Rows left behind by a failed delete are dropped again by Load, which
	// keeps only the newest MaxKeyFrames.
	if s != nil && trimmed {
		if err := s.DeleteKeyFrames(ctx, evicted); err != nil {
			return true, true, fmt.Errorf("trim key frames: %w", err)
		}
	}
	return true, trimmed, nil
}
