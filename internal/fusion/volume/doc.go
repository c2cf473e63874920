// Package volume defines the boundary between the fusion pipeline and the
// volumetric reconstruction engine: frame buffers, point clouds, alignment
// results and the engine and pose-database capability contracts.
//
// Nothing here implements reconstruction. Implementations live behind the
// Engine and PoseDatabase interfaces (see internal/fusion/sim for the
// simulated engine and internal/fusion/keyframe for the key-frame store).
package volume
