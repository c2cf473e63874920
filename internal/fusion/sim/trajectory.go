package sim

import (
	"math"
	"sort"

	"github.com/banshee-data/depthfusion/internal/fusion/transform"
)

// Trajectory gives the true camera pose for each frame sequence.
type Trajectory interface {
	PoseAt(seq uint64) transform.Pose
}

// Orbit moves the camera on a horizontal circle that passes through the
// origin at sequence 0, panning left and right as it goes.
type Orbit struct {
	RadiusM     float64
	PeriodFrame uint64
	YawAmpDeg   float64
}

// DefaultOrbit completes a 0.3 m loop every 300 frames with a 15 degree pan.
func DefaultOrbit() Orbit {
	return Orbit{RadiusM: 0.3, PeriodFrame: 300, YawAmpDeg: 15}
}

func (o Orbit) PoseAt(seq uint64) transform.Pose {
	period := o.PeriodFrame
	if period == 0 {
		period = 1
	}
	theta := 2 * math.Pi * float64(seq%period) / float64(period)
	t := [3]float64{o.RadiusM*math.Cos(theta) - o.RadiusM, 0, o.RadiusM * math.Sin(theta)}
	yaw := o.YawAmpDeg * math.Pi / 180 * math.Sin(theta)
	return transform.FromEuler(0, yaw, 0, t)
}

// Waypoint pins the camera at Position with a pan of YawDeg on frame Seq.
type Waypoint struct {
	Seq      uint64
	Position [3]float64
	YawDeg   float64
}

// Path interpolates linearly between waypoints and holds the first and
// last waypoint outside their range. Two waypoints on consecutive
// sequences model a jump.
type Path []Waypoint

func (p Path) PoseAt(seq uint64) transform.Pose {
	if len(p) == 0 {
		return transform.Identity()
	}
	i := sort.Search(len(p), func(i int) bool { return p[i].Seq >= seq })
	switch {
	case i == 0:
		return p[0].pose()
	case i == len(p):
		return p[len(p)-1].pose()
	case p[i].Seq == seq:
		return p[i].pose()
	}
	a, b := p[i-1], p[i]
	f := float64(seq-a.Seq) / float64(b.Seq-a.Seq)
	var w Waypoint
	for k := range w.Position {
		w.Position[k] = a.Position[k] + f*(b.Position[k]-a.Position[k])
	}
	w.YawDeg = a.YawDeg + f*(b.YawDeg-a.YawDeg)
	return w.pose()
}

func (w Waypoint) pose() transform.Pose {
	return transform.FromEuler(0, w.YawDeg*math.Pi/180, 0, w.Position)
}
