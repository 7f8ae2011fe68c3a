package navmath

import (
	"math"

	"palbridge.ai/internal/sim/geom"
)

// ApproachPoint stops approach metres short of target along the line from
// robot, keeping the robot's own height.
func ApproachPoint(robot, target geom.Vec3, approach float64) geom.Vec3 {
	dx, dy := target.X-robot.X, target.Y-robot.Y
	n := math.Hypot(dx, dy)
	if n < 1e-3 {
		dx, dy, n = 1, 0, 1
	}
	return geom.Vec3{
		X: target.X - dx/n*approach,
		Y: target.Y - dy/n*approach,
		Z: robot.Z,
	}
}

// StepCount is ceil(dist/step), at least one.
func StepCount(dist, step float64) int {
	if step <= 0 {
		return 1
	}
	n := int(math.Ceil(dist / step))
	if n < 1 {
		return 1
	}
	return n
}

// Segment returns the n interpolated points after from, ending exactly at to.
func Segment(from, to geom.Vec3, step float64) []geom.Vec3 {
	n := StepCount(from.Dist(to), step)
	out := make([]geom.Vec3, n)
	for i := 1; i <= n; i++ {
		out[i-1] = from.Lerp(to, float64(i)/float64(n))
	}
	return out
}

// HeadPanTilt aims a head mounted at eye (world frame) on a robot with the
// given yaw toward target. Pan is relative to the base heading.
func HeadPanTilt(yaw float64, eye, target geom.Vec3) (pan, tilt float64) {
	d := target.Sub(eye)
	pan = normalizeAngle(math.Atan2(d.Y, d.X) - yaw)
	tilt = -math.Atan2(d.Z, d.NormXY())
	return geom.Clamp(pan, -1.5, 1.5), geom.Clamp(tilt, -1.0, 1.0)
}

func normalizeAngle(a float64) float64 {
	for a > math.Pi {
		a -= 2 * math.Pi
	}
	for a < -math.Pi {
		a += 2 * math.Pi
	}
	return a
}
