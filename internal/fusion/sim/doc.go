// Package sim provides a synthetic depth/colour sensor and a simulated
// volume engine. The sensor renders an axis-aligned box room from a
// scripted camera trajectory; the engine aligns frames by looking up the
// same trajectory, so tracking loss can be scripted frame by frame.
package sim
