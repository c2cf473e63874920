package tracking

import "github.com/banshee-data/depthfusion/internal/fusion/transform"

// Phase summarises the tracking counters as one value.
type Phase int

const (
	// PhaseCold: no frame has aligned yet. Failures here are ordinary
	// retries and the frame is still integrated to seed the volume.
	PhaseCold Phase = iota
	// PhaseTracking: the last frame aligned and integration is unrestricted.
	PhaseTracking
	// PhaseRecovering: the last frame aligned but tracking failed earlier
	// and integration has not resumed yet.
	PhaseRecovering
	// PhaseLost: the last frame failed after at least one earlier success.
	PhaseLost
)

func (p Phase) String() string {
	switch p {
	case PhaseCold:
		return "cold"
	case PhaseTracking:
		return "tracking"
	case PhaseRecovering:
		return "recovering"
	case PhaseLost:
		return "lost"
	default:
		return "unknown"
	}
}

// State is the persistent tracking state carried between passes. It is a
// value type: a pass mutates a copy and the caller commits it only when
// the pass completes.
type State struct {
	Phase Phase

	// Pose is the reference the next frame aligns from.
	Pose transform.Pose
	// DisplayPose is the pose shown to observers. It differs from Pose
	// only after a failed relocalization.
	DisplayPose transform.Pose

	// LastFailed reports whether the most recent frame failed to align.
	LastFailed bool
	// HasFailedPreviously is set on a tracking loss and cleared only when
	// a frame is integrated.
	HasFailedPreviously bool

	Successes int
	Failures  int
	Processed uint64
}

// NewState returns the cold-start state at the given origin.
func NewState(origin transform.Pose) State {
	return State{Phase: PhaseCold, Pose: origin, DisplayPose: origin}
}

// Failed reports whether tracking is currently lost.
func (s State) Failed() bool { return s.Phase == PhaseLost }

func (s *State) recordSuccess(pose transform.Pose) {
	s.Pose = pose
	s.DisplayPose = pose
	s.LastFailed = false
	s.Successes++
	s.Failures = 0
	if s.HasFailedPreviously {
		s.Phase = PhaseRecovering
	} else {
		s.Phase = PhaseTracking
	}
}

func (s *State) recordFailure() {
	s.LastFailed = true
	s.HasFailedPreviously = true
	s.Failures++
	s.Successes = 0
	s.Phase = PhaseLost
}

// recordColdFailure leaves the counters untouched.
func (s *State) recordColdFailure() {
	s.LastFailed = true
}

// MarkIntegrated records that the current frame was fused into the volume.
func (s *State) MarkIntegrated() {
	s.HasFailedPreviously = false
	if s.Phase == PhaseRecovering {
		s.Phase = PhaseTracking
	}
}
