// Package transform holds the rigid-pose math used by the fusion pipeline.
//
// Responsibilities: the row-major 4x4 Pose type, composition and rigid
// inverse, Euler/translation decomposition, and the per-axis plausibility
// gate that decides whether two poses differ "too much".
//
// No I/O and no logging in this package.
package transform
