package main

import (
	"github.com/banshee-data/depthfusion/internal/db"
	"github.com/banshee-data/depthfusion/internal/fusion/pipeline"
)

// frameEnqueuer is the part of db.FrameWriter the recorder needs.
type frameEnqueuer interface {
	Enqueue(db.FrameRecord) bool
}

// sessionRecorder turns pass records into session rows.
type sessionRecorder struct {
	sessionID string
	out       frameEnqueuer
}

var _ pipeline.Recorder = (*sessionRecorder)(nil)

func (r *sessionRecorder) RecordPass(rec pipeline.PassRecord) {
	r.out.Enqueue(db.FrameRecord{
		SessionID:        r.sessionID,
		Sequence:         rec.Sequence,
		Timestamp:        rec.Timestamp,
		Phase:            rec.Phase,
		Energy:           rec.Energy,
		Translation:      rec.Pose.Translation(),
		Integrated:       rec.Integrated,
		RelocAttempted:   rec.RelocAttempted,
		Relocalized:      rec.Relocalized,
		KeyFrameOffered:  rec.KeyFrameOffered,
		KeyFrameAccepted: rec.KeyFrameAccepted,
		Successes:        rec.Successes,
		Failures:         rec.Failures,
		Duration:         rec.Duration,
	})
}
