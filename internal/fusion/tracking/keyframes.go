package tracking

import (
	"context"
	"fmt"

	"github.com/banshee-data/depthfusion/internal/fusion/volume"
)

// KeyFrameResult reports an offer made to the key-frame database.
type KeyFrameResult struct {
	Offered  bool
	Accepted bool
	Trimmed  bool
}

// KeyFrameMaintainer periodically offers well-tracked frames to the
// key-frame database.
type KeyFrameMaintainer struct {
	db     volume.PoseDatabase
	params Params
}

// NewKeyFrameMaintainer returns a maintainer, or nil when db is nil.
func NewKeyFrameMaintainer(db volume.PoseDatabase, params Params) *KeyFrameMaintainer {
	if db == nil {
		return nil
	}
	return &KeyFrameMaintainer{db: db, params: params}
}

// Due reports whether st qualifies for a key-frame offer: no failure since
// the last integration, more than MinSuccessfulFramesForKeyFrame
// consecutive successes, and a processed count on the KeyFrameInterval.
func (m *KeyFrameMaintainer) Due(st State) bool {
	if m == nil || st.LastFailed || st.HasFailedPreviously {
		return false
	}
	if st.Successes <= m.params.MinSuccessfulFramesForKeyFrame {
		return false
	}
	interval := uint64(m.params.KeyFrameInterval)
	return interval > 0 && st.Processed%interval == 0
}

// Maintain offers the current frame when Due. Frames without colour are
// never offered.
func (m *KeyFrameMaintainer) Maintain(ctx context.Context, st State, in Input, out *Outcome) (KeyFrameResult, error) {
	var res KeyFrameResult
	if !m.Due(st) || in.Color == nil {
		return res, nil
	}
	color, err := out.ResampledColor(in)
	if err != nil {
		return res, err
	}
	accepted, trimmed, err := m.db.OfferKeyFrame(ctx, in.Full, color, st.Pose, m.params.KeyFrameAcceptDistance)
	// An accepted frame stays accepted even when trimming failed.
	res = KeyFrameResult{Offered: true, Accepted: accepted, Trimmed: trimmed}
	if err != nil {
		return res, fmt.Errorf("offer key frame: %w", err)
	}
	if accepted {
		diagf("frame %d: key frame stored (trimmed=%v, total=%d)", out.Sequence, trimmed, m.db.KeyFrameCount())
	}
	return res, nil
}
