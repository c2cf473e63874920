package transform

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// Pose is a rigid 4x4 transform mapping camera space to world space.
// It is stored row-major: m00,m01,m02,m03, m10,... with the translation
// in elements 3, 7 and 11 and a bottom row of 0,0,0,1.
//
// The rotation block is expected to be orthonormal. Poses produced by the
// volume engine are trusted and not re-validated here.
type Pose [16]float64

// Identity returns the identity pose.
func Identity() Pose {
	return Pose{
		1, 0, 0, 0,
		0, 1, 0, 0,
		0, 0, 1, 0,
		0, 0, 0, 1,
	}
}

// FromRotationTranslation builds a pose from a row-major 3x3 rotation and
// a translation vector.
func FromRotationTranslation(r [9]float64, t [3]float64) Pose {
	return Pose{
		r[0], r[1], r[2], t[0],
		r[3], r[4], r[5], t[1],
		r[6], r[7], r[8], t[2],
		0, 0, 0, 1,
	}
}

// FromEuler builds a pose from Euler angles in radians and a translation.
// The rotation is R = Rz(z) * Ry(y) * Rx(x), the same order EulerAngles
// decomposes.
func FromEuler(x, y, z float64, t [3]float64) Pose {
	cx, sx := math.Cos(x), math.Sin(x)
	cy, sy := math.Cos(y), math.Sin(y)
	cz, sz := math.Cos(z), math.Sin(z)

	r := [9]float64{
		cz * cy, cz*sy*sx - sz*cx, cz*sy*cx + sz*sx,
		sz * cy, sz*sy*sx + cz*cx, sz*sy*cx - cz*sx,
		-sy, cy * sx, cy * cx,
	}
	return FromRotationTranslation(r, t)
}

// Translation returns the translation component (metres).
func (p Pose) Translation() [3]float64 {
	return [3]float64{p[3], p[7], p[11]}
}

// Rotation returns the row-major 3x3 rotation block.
func (p Pose) Rotation() [9]float64 {
	return [9]float64{
		p[0], p[1], p[2],
		p[4], p[5], p[6],
		p[8], p[9], p[10],
	}
}

// EulerAngles decomposes the rotation block into angles (radians) about
// X, Y and Z for the order R = Rz * Ry * Rx. The Y angle comes from asin
// and so lies in [-pi/2, pi/2]; X and Z come from atan2 and cover (-pi, pi].
func (p Pose) EulerAngles() [3]float64 {
	// r20 = -sin(y); clamp guards against |r20| drifting just past 1.
	sy := -p[8]
	if sy > 1 {
		sy = 1
	} else if sy < -1 {
		sy = -1
	}
	return [3]float64{
		math.Atan2(p[9], p[10]),
		math.Asin(sy),
		math.Atan2(p[4], p[0]),
	}
}

// Apply transforms point (x,y,z) by the pose.
func (p Pose) Apply(x, y, z float64) (wx, wy, wz float64) {
	wx = p[0]*x + p[1]*y + p[2]*z + p[3]
	wy = p[4]*x + p[5]*y + p[6]*z + p[7]
	wz = p[8]*x + p[9]*y + p[10]*z + p[11]
	return
}

// Dense returns the pose as a gonum matrix. The returned matrix does not
// share storage with p.
func (p Pose) Dense() *mat.Dense {
	data := make([]float64, 16)
	copy(data, p[:])
	return mat.NewDense(4, 4, data)
}

// FromDense converts a 4x4 gonum matrix into a Pose.
func FromDense(m mat.Matrix) (Pose, error) {
	r, c := m.Dims()
	if r != 4 || c != 4 {
		return Pose{}, fmt.Errorf("pose matrix must be 4x4, got %dx%d", r, c)
	}
	var p Pose
	for i := 0; i < 4; i++ {
		for j := 0; j < 4; j++ {
			p[i*4+j] = m.At(i, j)
		}
	}
	return p, nil
}

// Mul returns p * q, i.e. q applied first and then p.
func (p Pose) Mul(q Pose) Pose {
	var out mat.Dense
	out.Mul(p.Dense(), q.Dense())
	res, _ := FromDense(&out)
	return res
}

// Inverse returns the rigid inverse [R^T | -R^T t].
func (p Pose) Inverse() Pose {
	r := mat.NewDense(3, 3, []float64{
		p[0], p[1], p[2],
		p[4], p[5], p[6],
		p[8], p[9], p[10],
	})
	t := mat.NewVecDense(3, []float64{p[3], p[7], p[11]})

	var rt mat.Dense
	rt.CloneFrom(r.T())
	var nt mat.VecDense
	nt.MulVec(&rt, t)
	nt.ScaleVec(-1, &nt)

	return FromRotationTranslation(
		[9]float64{
			rt.At(0, 0), rt.At(0, 1), rt.At(0, 2),
			rt.At(1, 0), rt.At(1, 1), rt.At(1, 2),
			rt.At(2, 0), rt.At(2, 1), rt.At(2, 2),
		},
		[3]float64{nt.AtVec(0), nt.AtVec(1), nt.AtVec(2)},
	)
}

// String renders translation and Euler angles in degrees, for logs.
func (p Pose) String() string {
	t := p.Translation()
	e := p.EulerAngles()
	return fmt.Sprintf("t=(%.3f, %.3f, %.3f) r=(%.1f°, %.1f°, %.1f°)",
		t[0], t[1], t[2], e[0]*180/math.Pi, e[1]*180/math.Pi, e[2]*180/math.Pi)
}
