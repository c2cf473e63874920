// Package tracking implements the per-frame camera tracking state machine:
// coarse frame-to-volume alignment with a motion plausibility check,
// failure bookkeeping, relocalization against a key-frame database, the
// integration gate, and periodic key-frame offers.
//
// Tracking state is a plain value owned by the caller. Track mutates the
// state it is given; callers pass a copy and keep it only when the whole
// pass succeeds.
package tracking
