package placemath

import (
	"math"

	"palbridge.ai/internal/sim/geom"
)

// Direction returns the unit XY direction for a next-to placement. "robot"
// points from the target toward the robot.
func Direction(dir string, target, robot geom.Vec3) geom.Vec2 {
	switch dir {
	case "right":
		return geom.Vec2{X: 1}
	case "left":
		return geom.Vec2{X: -1}
	case "front":
		return geom.Vec2{Y: 1}
	case "back":
		return geom.Vec2{Y: -1}
	}
	dx, dy := robot.X-target.X, robot.Y-target.Y
	n := math.Hypot(dx, dy)
	if n < 0.01 {
		return geom.Vec2{X: 1}
	}
	return geom.Vec2{X: dx / n, Y: dy / n}
}

var axisDirs = []string{"right", "left", "front", "back"}

// RandomAxis picks one of the four axis directions.
func RandomAxis(intn func(int) int) string { return axisDirs[intn(len(axisDirs))] }

// RayBoxExit is the distance from the box centre to its boundary along d.
func RayBoxExit(d geom.Vec2, half geom.Vec3) float64 {
	t := math.Inf(1)
	if math.Abs(d.X) > 0.01 {
		t = math.Min(t, half.X/math.Abs(d.X))
	}
	if math.Abs(d.Y) > 0.01 {
		t = math.Min(t, half.Y/math.Abs(d.Y))
	}
	if math.IsInf(t, 1) {
		return 0
	}
	return t
}

// NextToMargin scales the gap with the target's smaller half-extent.
func NextToMargin(minHalf, factor, lo, hi float64) float64 {
	return geom.Clamp(factor*minHalf, lo, hi)
}

// Spread is the sideways offset for the n-th placement (1-based) around one
// target: -s, 0, +s, +2s, ...
func Spread(n int, s float64) float64 {
	if n <= 0 || s == 0 {
		return 0
	}
	return float64(n-2) * s
}

// NextToPoint places the object centre just past the target's AABB edge in
// direction d, shifted sideways by side.
func NextToPoint(box geom.AABB, d geom.Vec2, margin, side, z float64) geom.Vec3 {
	c := box.Center()
	dist := RayBoxExit(d, box.HalfExtent()) + margin
	px, py := -d.Y, d.X
	return geom.Vec3{
		X: c.X + d.X*dist + px*side,
		Y: c.Y + d.Y*dist + py*side,
		Z: z,
	}
}

// UnderOffset keeps the object within half of the target's half-extent.
// With spread > 0 the offset is deterministic along Y, otherwise uniform.
func UnderOffset(half geom.Vec3, n int, spread float64, float func() float64) (float64, float64) {
	mx, my := 0.5*half.X, 0.5*half.Y
	if spread > 0 {
		return 0, geom.Clamp(Spread(n, spread), -my, my)
	}
	return (float()*2 - 1) * mx, (float()*2 - 1) * my
}
