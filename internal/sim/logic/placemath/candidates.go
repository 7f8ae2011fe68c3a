// Package placemath is the pure geometry behind placement: candidate
// generation and ordering, fit checks, adjacency offsets. Nothing here
// touches the simulator.
package placemath

import (
	"math"
	"sort"

	"palbridge.ai/internal/sim/geom"
)

const (
	// ZClearance is the vertical slack kept above floors and below rims.
	ZClearance = 0.005
	// FootprintPad widens existing footprints in the overlap test.
	FootprintPad = 0.005
	// ExistingFloorTolerance admits objects sitting slightly below the container floor.
	ExistingFloorTolerance = 0.02
	// DistinctZ is the minimum difference for a stacked variant to be emitted.
	DistinctZ = 0.01
)

const (
	TierStrategic = 0
	TierSlots     = 1
	TierGrid      = 2
)

type Candidate struct {
	Pos    geom.Vec3
	Free   bool
	Stack  bool
	Tier   int
	Source string
}

var centeredGrid = [][2]float64{
	{0, 0}, {0.3, 0}, {-0.3, 0}, {0, 0.3}, {0, -0.3},
	{0.3, 0.3}, {-0.3, 0.3}, {0.3, -0.3}, {-0.3, -0.3},
}

var leftFirstGrid = [][2]float64{
	{-0.3, 0}, {0, 0}, {0.3, 0}, {-0.3, 0.3}, {-0.3, -0.3},
	{0, 0.3}, {0, -0.3}, {0.3, 0.3}, {0.3, -0.3},
}

// GridOffsets returns the nine tier-2 offsets in try order. Values are
// fractions of the container footprint, or metres when absolute.
func GridOffsets(order string) [][2]float64 {
	switch order {
	case "left_first":
		return leftFirstGrid
	case "right_first":
		out := make([][2]float64, len(leftFirstGrid))
		for i, o := range leftFirstGrid {
			out[i] = [2]float64{-o[0], o[1]}
		}
		return out
	default:
		return centeredGrid
	}
}

// ManualOffsets is the denser fallback grid, in metres.
func ManualOffsets(order string) [][2]float64 {
	switch order {
	case "left_first":
		return [][2]float64{{-0.15, 0}, {-0.1, 0.1}, {-0.1, -0.1}, {0, 0}, {0, 0.15}, {0, -0.15}, {0.15, 0}, {0.1, 0.1}, {0.1, -0.1}}
	case "right_first":
		return [][2]float64{{0.15, 0}, {0.1, 0.1}, {0.1, -0.1}, {0, 0}, {0, 0.15}, {0, -0.15}, {-0.15, 0}, {-0.1, 0.1}, {-0.1, -0.1}}
	default:
		return [][2]float64{{0, 0}, {0.15, 0}, {-0.15, 0}, {0, 0.15}, {0, -0.15}, {0.1, 0.1}, {-0.1, 0.1}, {0.1, -0.1}, {-0.1, -0.1}}
	}
}

// FitInside decides whether an object must lie on its side to fit under the
// rim. It rolls about the axis that puts the narrower footprint side up and
// returns the footprint and height to plan with plus the orientation.
func FitInside(size geom.Vec3, interiorH float64) (dims geom.Vec3, rot geom.Quat, rotated bool) {
	limit := interiorH - 0.02
	if size.Z <= limit || math.Min(size.X, size.Y) >= limit {
		return size, geom.Identity, false
	}
	if size.Y <= size.X {
		return geom.Vec3{X: size.X, Y: size.Z, Z: size.Y}, geom.SideRoll, true
	}
	return geom.Vec3{X: size.Z, Y: size.Y, Z: size.X}, geom.SidePitch, true
}

// RimZ is the highest centre Z that keeps an object of height h below the rim.
func RimZ(c geom.AABB, h float64) float64 { return c.Max.Z - h/2 - ZClearance }

// FloorZ is the resting centre Z on the container floor.
func FloorZ(c geom.AABB, h float64) float64 { return c.Min.Z + h/2 + ZClearance }

// ExistingInside filters boxes that sit within the container footprint and
// start below its rim.
func ExistingInside(c geom.AABB, boxes []geom.AABB) []geom.AABB {
	var out []geom.AABB
	for _, b := range boxes {
		if c.ContainsXY(b.Center()) && b.Min.Z >= c.Min.Z-ExistingFloorTolerance && b.Min.Z < c.Max.Z {
			out = append(out, b)
		}
	}
	return out
}

// Centroid is the XY mean of box centres, at the container floor height.
func Centroid(boxes []geom.AABB, z float64) geom.Vec3 {
	var sx, sy float64
	for _, b := range boxes {
		c := b.Center()
		sx += c.X
		sy += c.Y
	}
	n := float64(len(boxes))
	return geom.Vec3{X: sx / n, Y: sy / n, Z: z}
}

type InsideInput struct {
	Container geom.AABB
	// Origin is the search centre: the container centre, or the centroid of
	// what is already inside.
	Origin   geom.Vec3
	Absolute bool
	Dims     geom.Vec3
	Existing []geom.AABB
	Margin   float64
	StackGap float64
	// Strategic offsets are relative to the container centre; the first
	// Tier0 entries are tier 0, the rest tier 1.
	Strategic [][2]float64
	Tier0     int
	Order     string
}

// InsideCandidates builds the full candidate list, sorted in try order.
func InsideCandidates(in InsideInput) []Candidate {
	var out []Candidate
	center := in.Container.Center()
	for i, off := range in.Strategic {
		tier := TierSlots
		src := "slot"
		if i < in.Tier0 {
			tier = TierStrategic
			src = "strategic"
		}
		out = append(out, in.landings(center.X+off[0], center.Y+off[1], tier, src)...)
	}
	w, d := in.Container.Width(), in.Container.Depth()
	for _, off := range GridOffsets(in.Order) {
		dx, dy := off[0]*w, off[1]*d
		if in.Absolute {
			dx, dy = off[0], off[1]
		}
		out = append(out, in.landings(in.Origin.X+dx, in.Origin.Y+dy, TierGrid, "grid")...)
	}
	SortCandidates(out)
	return out
}

// landings emits the floor candidate at (x,y) and, when it overlaps
// something, the distinct stacked variant.
func (in InsideInput) landings(x, y float64, tier int, src string) []Candidate {
	c := in.Container
	x = geom.Clamp(x, c.Min.X+in.Margin, c.Max.X-in.Margin)
	y = geom.Clamp(y, c.Min.Y+in.Margin, c.Max.Y-in.Margin)
	rim := RimZ(c, in.Dims.Z)
	floor := math.Min(FloorZ(c, in.Dims.Z), rim)

	overlap := false
	top := math.Inf(-1)
	for _, e := range in.Existing {
		ec := e.Center()
		if math.Abs(x-ec.X) < (in.Dims.X+e.Width())/2+FootprintPad &&
			math.Abs(y-ec.Y) < (in.Dims.Y+e.Depth())/2+FootprintPad {
			overlap = true
			top = math.Max(top, e.Max.Z)
		}
	}
	out := []Candidate{{Pos: geom.V(x, y, floor), Free: !overlap, Tier: tier, Source: src}}
	if overlap {
		stack := math.Min(top+in.Dims.Z/2+in.StackGap, rim)
		if math.Abs(stack-floor) > DistinctZ {
			out = append(out, Candidate{Pos: geom.V(x, y, stack), Stack: true, Tier: tier, Source: src + "+stack"})
		}
	}
	return out
}

// SortCandidates orders by tier, free before overlapping, floor before
// stacked, then ascending Z. Ties keep generation order.
func SortCandidates(cs []Candidate) {
	sort.SliceStable(cs, func(i, j int) bool {
		a, b := cs[i], cs[j]
		if a.Tier != b.Tier {
			return a.Tier < b.Tier
		}
		if a.Free != b.Free {
			return a.Free
		}
		if a.Stack != b.Stack {
			return !a.Stack
		}
		return a.Pos.Z < b.Pos.Z
	})
}

// ManualZ is the drop height used by the exhaustive fallback: on top of the
// highest thing inside, or just above the floor.
func ManualZ(c geom.AABB, existing []geom.AABB, h, gap float64) float64 {
	z := c.Min.Z + h/2 + 0.01
	if len(existing) > 0 {
		top := math.Inf(-1)
		for _, e := range existing {
			top = math.Max(top, e.Max.Z)
		}
		z = top + h/2 + gap
	}
	return math.Min(z, RimZ(c, h))
}

// Footprint is the XY box of an object of dims centred at p.
func Footprint(p, dims geom.Vec3) geom.AABB { return geom.BoxAround(p, dims) }
