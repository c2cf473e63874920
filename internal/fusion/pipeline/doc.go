// Package pipeline drives the fusion loop: each submitted frame is
// downsampled, tracked against the volume, integrated when the gate
// allows, offered to the key-frame database and shaded for display.
//
// All pipeline state is owned by a single processing goroutine started by
// Start. Observers read immutable snapshots published after every pass.
package pipeline
