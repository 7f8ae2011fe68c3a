// Package geom holds the value types shared between the primitive engine and
// the simulation boundary. Everything here is a plain value; nothing is cached.
package geom

import "math"

type Vec3 struct {
	X float64 `json:"x" yaml:"x"`
	Y float64 `json:"y" yaml:"y"`
	Z float64 `json:"z" yaml:"z"`
}

func V(x, y, z float64) Vec3 { return Vec3{X: x, Y: y, Z: z} }

func (a Vec3) Add(b Vec3) Vec3      { return Vec3{a.X + b.X, a.Y + b.Y, a.Z + b.Z} }
func (a Vec3) Sub(b Vec3) Vec3      { return Vec3{a.X - b.X, a.Y - b.Y, a.Z - b.Z} }
func (a Vec3) Scale(s float64) Vec3 { return Vec3{a.X * s, a.Y * s, a.Z * s} }
func (a Vec3) Norm() float64        { return math.Sqrt(a.X*a.X + a.Y*a.Y + a.Z*a.Z) }

// NormXY is the horizontal length, ignoring Z.
func (a Vec3) NormXY() float64 { return math.Hypot(a.X, a.Y) }

func (a Vec3) Dist(b Vec3) float64 { return a.Sub(b).Norm() }

// Lerp returns a + (b-a)*t.
func (a Vec3) Lerp(b Vec3, t float64) Vec3 { return a.Add(b.Sub(a).Scale(t)) }

// Quat is a unit quaternion stored x,y,z,w (scalar last).
type Quat struct {
	X float64 `json:"x" yaml:"x"`
	Y float64 `json:"y" yaml:"y"`
	Z float64 `json:"z" yaml:"z"`
	W float64 `json:"w" yaml:"w"`
}

// Identity is the upright orientation.
var Identity = Quat{W: 1}

// SideRoll lies an object on its side: 90 degrees about X.
var SideRoll = Quat{X: 0.7071068, W: 0.7071068}

// SidePitch lies an object on its side: 90 degrees about Y.
var SidePitch = Quat{Y: 0.7071068, W: 0.7071068}

// YawQuat builds a rotation of yaw radians about +Z.
func YawQuat(yaw float64) Quat {
	return Quat{Z: math.Sin(yaw / 2), W: math.Cos(yaw / 2)}
}

// Yaw extracts the heading about +Z.
func (q Quat) Yaw() float64 {
	return math.Atan2(2*(q.W*q.Z+q.X*q.Y), 1-2*(q.Y*q.Y+q.Z*q.Z))
}

// IsZero reports an unset quaternion (all components zero).
func (q Quat) IsZero() bool { return q == Quat{} }

type Pose struct {
	Pos Vec3 `json:"pos" yaml:"pos"`
	Rot Quat `json:"rot" yaml:"rot"`
}

type AABB struct {
	Min Vec3 `json:"min" yaml:"min"`
	Max Vec3 `json:"max" yaml:"max"`
}

// BoxAround builds the box of the given size centered on c.
func BoxAround(c, size Vec3) AABB {
	h := size.Scale(0.5)
	return AABB{Min: c.Sub(h), Max: c.Add(h)}
}

func (b AABB) Center() Vec3     { return b.Min.Add(b.Max).Scale(0.5) }
func (b AABB) Extent() Vec3     { return b.Max.Sub(b.Min) }
func (b AABB) HalfExtent() Vec3 { return b.Extent().Scale(0.5) }
func (b AABB) Width() float64   { return b.Max.X - b.Min.X }
func (b AABB) Depth() float64   { return b.Max.Y - b.Min.Y }
func (b AABB) Height() float64  { return b.Max.Z - b.Min.Z }

// ContainsXY reports whether p lies within the box footprint.
func (b AABB) ContainsXY(p Vec3) bool {
	return p.X >= b.Min.X && p.X <= b.Max.X && p.Y >= b.Min.Y && p.Y <= b.Max.Y
}

// OverlapsXY reports whether the footprints intersect by more than pad.
func (b AABB) OverlapsXY(o AABB, pad float64) bool {
	return b.Min.X < o.Max.X-pad && o.Min.X < b.Max.X-pad &&
		b.Min.Y < o.Max.Y-pad && o.Min.Y < b.Max.Y-pad
}

// Overlaps reports whether the boxes interpenetrate by more than pad on every axis.
func (b AABB) Overlaps(o AABB, pad float64) bool {
	return b.OverlapsXY(o, pad) && b.Min.Z < o.Max.Z-pad && o.Min.Z < b.Max.Z-pad
}

func Clamp(v, lo, hi float64) float64 {
	if lo > hi {
		return (lo + hi) / 2
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Vec2 is a floor-plane point used by path queries.
type Vec2 struct {
	X float64 `json:"x" yaml:"x"`
	Y float64 `json:"y" yaml:"y"`
}

func (v Vec3) XY() Vec2 { return Vec2{X: v.X, Y: v.Y} }

func cross(a, b Vec3) Vec3 {
	return Vec3{a.Y*b.Z - a.Z*b.Y, a.Z*b.X - a.X*b.Z, a.X*b.Y - a.Y*b.X}
}

// Rotate applies q to v.
func (q Quat) Rotate(v Vec3) Vec3 {
	if q.IsZero() {
		return v
	}
	u := Vec3{q.X, q.Y, q.Z}
	t := cross(u, v).Scale(2)
	return v.Add(t.Scale(q.W)).Add(cross(u, t))
}

// Mul composes q then r applied in the frame of q (q*r).
func (q Quat) Mul(r Quat) Quat {
	return Quat{
		W: q.W*r.W - q.X*r.X - q.Y*r.Y - q.Z*r.Z,
		X: q.W*r.X + q.X*r.W + q.Y*r.Z - q.Z*r.Y,
		Y: q.W*r.Y - q.X*r.Z + q.Y*r.W + q.Z*r.X,
		Z: q.W*r.Z + q.X*r.Y - q.Y*r.X + q.Z*r.W,
	}
}

// RotatedBox is the world AABB of a box of the given size posed at p.
func RotatedBox(p Pose, size Vec3) AABB {
	h := size.Scale(0.5)
	lo := Vec3{math.Inf(1), math.Inf(1), math.Inf(1)}
	hi := Vec3{math.Inf(-1), math.Inf(-1), math.Inf(-1)}
	for _, sx := range []float64{-1, 1} {
		for _, sy := range []float64{-1, 1} {
			for _, sz := range []float64{-1, 1} {
				c := p.Rot.Rotate(Vec3{sx * h.X, sy * h.Y, sz * h.Z})
				lo = Vec3{math.Min(lo.X, c.X), math.Min(lo.Y, c.Y), math.Min(lo.Z, c.Z)}
				hi = Vec3{math.Max(hi.X, c.X), math.Max(hi.Y, c.Y), math.Max(hi.Z, c.Z)}
			}
		}
	}
	return AABB{Min: p.Pos.Add(lo), Max: p.Pos.Add(hi)}
}
