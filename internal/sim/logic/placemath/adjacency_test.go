package placemath

import (
	"math"
	"math/rand"
	"testing"

	"palbridge.ai/internal/sim/geom"
)

func TestMarginMonotoneAndClamped(t *testing.T) {
	lo, hi, f := 0.02, 0.15, 0.3
	prev := -1.0
	for _, h := range []float64{0, 0.01, 0.05, 0.1, 0.3, 0.5, 1.0, 5.0} {
		m := NextToMargin(h, f, lo, hi)
		if m < lo || m > hi {
			t.Fatalf("margin(%v)=%v outside [%v,%v]", h, m, lo, hi)
		}
		if m < prev {
			t.Fatalf("margin not monotone at %v", h)
		}
		prev = m
	}
	if NextToMargin(0.05, f, lo, hi) > NextToMargin(1.0, f, lo, hi) {
		t.Fatalf("margin(0.05) > margin(1.0)")
	}
}

func TestNextToRightLandsPastMaxX(t *testing.T) {
	target := geom.AABB{Min: geom.V(1, -0.4, 0), Max: geom.V(2, 0.4, 0.8)}
	margin := NextToMargin(math.Min(0.5, 0.4), 0.3, 0.02, 0.15)
	p := NextToPoint(target, Direction("right", target.Center(), geom.Vec3{}), margin, 0, 0.05)
	if !(p.X > target.Max.X-margin) || p.X > target.Max.X+margin+1e-9 {
		t.Fatalf("x=%v maxX=%v margin=%v", p.X, target.Max.X, margin)
	}
	if p.Y != 0 {
		t.Fatalf("y drift %v", p.Y)
	}
}

func TestDirectionTowardRobot(t *testing.T) {
	d := Direction("robot", geom.V(0, 0, 0), geom.V(0, -3, 0))
	if math.Abs(d.X) > 1e-9 || math.Abs(d.Y+1) > 1e-9 {
		t.Fatalf("dir=%+v", d)
	}
	if d := Direction("robot", geom.V(1, 1, 0), geom.V(1, 1, 0)); d.X != 1 {
		t.Fatalf("degenerate dir should default to +X: %+v", d)
	}
}

func TestRayBoxExitDiagonal(t *testing.T) {
	s := math.Sqrt2 / 2
	got := RayBoxExit(geom.Vec2{X: s, Y: s}, geom.V(0.5, 0.25, 0))
	if math.Abs(got-0.25/s) > 1e-9 {
		t.Fatalf("exit=%v", got)
	}
}

func TestSpreadIsCentred(t *testing.T) {
	want := []float64{-0.1, 0, 0.1, 0.2, 0.3}
	for i, w := range want {
		if got := Spread(i+1, 0.1); math.Abs(got-w) > 1e-9 {
			t.Fatalf("Spread(%d)=%v want %v", i+1, got, w)
		}
	}
}

func TestUnderOffsetBounds(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	half := geom.V(0.4, 0.2, 0.3)
	for i := 0; i < 100; i++ {
		dx, dy := UnderOffset(half, i+1, 0, rng.Float64)
		if math.Abs(dx) > 0.2+1e-9 || math.Abs(dy) > 0.1+1e-9 {
			t.Fatalf("offset out of bounds: %v %v", dx, dy)
		}
	}
	dx, dy := UnderOffset(half, 3, 0.05, rng.Float64)
	if dx != 0 || math.Abs(dy-0.05) > 1e-9 {
		t.Fatalf("deterministic spread: %v %v", dx, dy)
	}
}
