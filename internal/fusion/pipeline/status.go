package pipeline

import (
	"sync"
	"time"

	"github.com/banshee-data/depthfusion/internal/fusion/transform"
)

// PassRecord summarises one completed pass.
type PassRecord struct {
	Sequence         uint64         `json:"sequence"`
	Timestamp        time.Time      `json:"timestamp"`
	Phase            string         `json:"phase"`
	Energy           float64        `json:"energy"`
	Pose             transform.Pose `json:"pose"`
	Integrated       bool           `json:"integrated"`
	RelocAttempted   bool           `json:"reloc_attempted"`
	Relocalized      bool           `json:"relocalized"`
	KeyFrameOffered  bool           `json:"keyframe_offered"`
	KeyFrameAccepted bool           `json:"keyframe_accepted"`
	AutoReset        bool           `json:"auto_reset"`
	Successes        int            `json:"successes"`
	Failures         int            `json:"failures"`
	Duration         time.Duration  `json:"duration_ns"`
}

// Status is an immutable snapshot of the pipeline, published after every
// pass.
type Status struct {
	Phase        string         `json:"phase"`
	Pose         transform.Pose `json:"pose"`
	DisplayPose  transform.Pose `json:"display_pose"`
	Successes    int            `json:"successes"`
	Failures     int            `json:"failures"`
	Processed    uint64         `json:"processed"`
	LastSequence uint64         `json:"last_sequence"`
	LastEnergy   float64        `json:"last_energy"`
	Integrated   bool           `json:"integrated"`
	RelocCapable bool           `json:"reloc_capable"`
	KeyFrames    int            `json:"keyframes"`
	Passes       uint64         `json:"passes"`
	Errors       uint64         `json:"errors"`
	Submitted    uint64         `json:"submitted"`
	Dropped      uint64         `json:"dropped"`
	Resets       uint64         `json:"resets"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// Tracking reports whether the last frame was tracked.
func (s *Status) Tracking() bool {
	return s != nil && (s.Phase == "tracking" || s.Phase == "recovering")
}

func (p *Pipeline) publishStatus(last *PassRecord) {
	st := p.state
	s := &Status{
		Phase:        st.Phase.String(),
		Pose:         st.Pose,
		DisplayPose:  st.DisplayPose,
		Successes:    st.Successes,
		Failures:     st.Failures,
		Processed:    st.Processed,
		RelocCapable: p.relocCapable,
		Passes:       p.passes.Load(),
		Errors:       p.errs.Load(),
		Submitted:    p.submitted.Load(),
		Dropped:      p.inbox.Dropped(),
		Resets:       p.resets.Load(),
		UpdatedAt:    p.clock.Now(),
	}
	if p.keyFrames != nil {
		s.KeyFrames = p.keyFrames.KeyFrameCount()
	}
	if last != nil {
		s.LastSequence = last.Sequence
		s.LastEnergy = last.Energy
		s.Integrated = last.Integrated
	} else if prev := p.status.Load(); prev != nil {
		s.LastSequence = prev.LastSequence
		s.LastEnergy = prev.LastEnergy
		s.Integrated = prev.Integrated
	}
	p.status.Store(s)
}

// history is a fixed-size ring of pass records.
type history struct {
	mu    sync.Mutex
	buf   []PassRecord
	next  int
	count int
}

func newHistory(size int) *history {
	return &history{buf: make([]PassRecord, size)}
}

func (h *history) add(r PassRecord) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.buf[h.next] = r
	h.next = (h.next + 1) % len(h.buf)
	if h.count < len(h.buf) {
		h.count++
	}
}

func (h *history) snapshot() []PassRecord {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]PassRecord, 0, h.count)
	start := (h.next - h.count + len(h.buf)) % len(h.buf)
	for i := 0; i < h.count; i++ {
		out = append(out, h.buf[(start+i)%len(h.buf)])
	}
	return out
}
