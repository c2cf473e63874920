package transform

import (
	"math"
	"testing"
)

func TestCheckTransformChange_IdenticalPoses(t *testing.T) {
	poses := []Pose{
		Identity(),
		FromEuler(0.3, -0.2, 1.4, [3]float64{1, 2, 3}),
		FromEuler(math.Pi-1e-4, 0, -math.Pi+1e-4, [3]float64{-5, 0, 0.5}),
	}
	thresholds := []struct{ trans, rot float64 }{
		{0.3, 20}, {1e-6, 1e-6}, {10, 179},
	}
	for _, p := range poses {
		for _, th := range thresholds {
			if !CheckTransformChange(p, p, th.trans, th.rot) {
				t.Errorf("identical poses rejected: pose=%v trans=%g rot=%g", p, th.trans, th.rot)
			}
		}
	}
}

func TestCheckTransformChange_TranslationBoundary(t *testing.T) {
	const maxTrans = 0.3
	const eps = 1e-6

	for axis := 0; axis < 3; axis++ {
		over := [3]float64{}
		under := [3]float64{}
		over[axis] = maxTrans + eps
		under[axis] = maxTrans - eps

		if CheckTransformChange(Identity(), FromEuler(0, 0, 0, over), maxTrans, 20) {
			t.Errorf("axis %d: delta maxTrans+eps accepted", axis)
		}
		if !CheckTransformChange(Identity(), FromEuler(0, 0, 0, under), maxTrans, 20) {
			t.Errorf("axis %d: delta maxTrans-eps rejected", axis)
		}

		// Negative direction behaves the same.
		over[axis] = -over[axis]
		if CheckTransformChange(Identity(), FromEuler(0, 0, 0, over), maxTrans, 20) {
			t.Errorf("axis %d: delta -(maxTrans+eps) accepted", axis)
		}
	}
}

func TestCheckTransformChange_RotationBoundary(t *testing.T) {
	const maxRotDeg = 20.0
	maxRot := maxRotDeg * math.Pi / 180
	const eps = 1e-6

	tests := []struct {
		name   string
		final  Pose
		accept bool
	}{
		{"roll under", FromEuler(maxRot-eps, 0, 0, [3]float64{}), true},
		{"roll over", FromEuler(maxRot+eps, 0, 0, [3]float64{}), false},
		{"pitch over", FromEuler(0, -(maxRot + eps), 0, [3]float64{}), false},
		{"yaw under", FromEuler(0, 0, -(maxRot - eps), [3]float64{}), true},
		{"yaw over", FromEuler(0, 0, maxRot+eps, [3]float64{}), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CheckTransformChange(Identity(), tt.final, 1.0, maxRotDeg)
			if got != tt.accept {
				t.Errorf("CheckTransformChange() = %v, want %v", got, tt.accept)
			}
		})
	}
}

func TestCheckTransformChange_AngleWrapAcrossSeam(t *testing.T) {
	const maxRotDeg = 20.0
	maxRot := maxRotDeg * math.Pi / 180

	a := math.Pi - 0.5*maxRot
	b := -math.Pi + 0.5*maxRot

	// Roll axis.
	if !CheckTransformChange(FromEuler(a, 0, 0, [3]float64{}), FromEuler(b, 0, 0, [3]float64{}), 1, maxRotDeg) {
		t.Error("roll: small delta across the seam rejected")
	}
	// Yaw axis, both directions.
	if !CheckTransformChange(FromEuler(0, 0, a, [3]float64{}), FromEuler(0, 0, b, [3]float64{}), 1, maxRotDeg) {
		t.Error("yaw: small delta across the seam rejected")
	}
	if !CheckTransformChange(FromEuler(0, 0, b, [3]float64{}), FromEuler(0, 0, a, [3]float64{}), 1, maxRotDeg) {
		t.Error("yaw reversed: small delta across the seam rejected")
	}

	// A genuinely large jump is still rejected.
	if CheckTransformChange(FromEuler(0, 0, math.Pi/2, [3]float64{}), FromEuler(0, 0, -math.Pi/2, [3]float64{}), 1, maxRotDeg) {
		t.Error("half-turn yaw accepted")
	}
}

func TestCheckTransformChangeAxes_Asymmetric(t *testing.T) {
	final := FromEuler(0, 0, 0, [3]float64{0.5, 0.05, 0})
	maxTrans := [3]float64{1.0, 0.1, 0.1}
	maxRot := [3]float64{5, 5, 5}

	if !CheckTransformChangeAxes(Identity(), final, maxTrans, maxRot) {
		t.Error("delta within per-axis limits rejected")
	}

	maxTrans[0] = 0.4
	if CheckTransformChangeAxes(Identity(), final, maxTrans, maxRot) {
		t.Error("X delta beyond its own limit accepted")
	}

	// Y rotation allowed generously, Z tight.
	turned := FromEuler(0, 0.2, 0.02, [3]float64{})
	if !CheckTransformChangeAxes(Identity(), turned, [3]float64{1, 1, 1}, [3]float64{1, 15, 2}) {
		t.Error("rotation within per-axis limits rejected")
	}
	if CheckTransformChangeAxes(Identity(), turned, [3]float64{1, 1, 1}, [3]float64{1, 15, 1}) {
		t.Error("Z rotation beyond its own limit accepted")
	}
}
