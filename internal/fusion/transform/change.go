package transform

import "math"

// comparisonTolerance absorbs floating-point noise from the Euler
// decomposition so a delta sitting exactly on a threshold is not rejected.
const comparisonTolerance = 1e-9

// CheckTransformChange reports whether final is a plausible successor of
// initial: true when, on every axis independently, the translation delta
// is at most maxTrans (metres) and the Euler angle delta is at most
// maxRotDeg (degrees).
//
// Angles straddling the ±pi seam are treated as close: if one angle lies
// within maxRot of +pi and the other within maxRot of -pi, the one near
// +pi is shifted down by 2pi before differencing.
func CheckTransformChange(initial, final Pose, maxTrans, maxRotDeg float64) bool {
	return CheckTransformChangeAxes(initial, final,
		[3]float64{maxTrans, maxTrans, maxTrans},
		[3]float64{maxRotDeg, maxRotDeg, maxRotDeg})
}

// CheckTransformChangeAxes is CheckTransformChange with per-axis
// thresholds, ordered X, Y, Z.
func CheckTransformChangeAxes(initial, final Pose, maxTrans, maxRotDeg [3]float64) bool {
	ti, tf := initial.Translation(), final.Translation()
	ei, ef := initial.EulerAngles(), final.EulerAngles()

	for axis := 0; axis < 3; axis++ {
		maxRot := maxRotDeg[axis] * math.Pi / 180.0

		if math.Abs(angleDelta(ei[axis], ef[axis], maxRot)) > maxRot+comparisonTolerance {
			return false
		}
		if math.Abs(tf[axis]-ti[axis]) > maxTrans[axis]+comparisonTolerance {
			return false
		}
	}
	return true
}

// angleDelta returns b - a with the ±pi seam handling described on
// CheckTransformChange.
func angleDelta(a, b, maxRot float64) float64 {
	nearPosPi := func(v float64) bool { return v > math.Pi-maxRot }
	nearNegPi := func(v float64) bool { return v < -math.Pi+maxRot }

	switch {
	case nearPosPi(a) && nearNegPi(b):
		a -= 2 * math.Pi
	case nearPosPi(b) && nearNegPi(a):
		b -= 2 * math.Pi
	}
	return b - a
}
