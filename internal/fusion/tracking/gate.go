package tracking

// ShouldIntegrate decides whether the current frame is fused into the
// volume. Lost frames never are. After a loss, when relocalization is
// possible, integration waits until warmup consecutive frames have aligned
// so a wrongly relocalized pose cannot corrupt the volume.
func ShouldIntegrate(s State, relocCapable bool, warmup int) bool {
	switch s.Phase {
	case PhaseCold, PhaseTracking:
		return true
	case PhaseRecovering:
		return !relocCapable || s.Successes >= warmup
	default:
		return false
	}
}
