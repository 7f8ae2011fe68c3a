package placemath

import (
	"math"
	"testing"

	"palbridge.ai/internal/sim/geom"
)

var box = geom.AABB{Min: geom.V(-0.15, -0.13, 0), Max: geom.V(0.15, 0.13, 0.14)}

func TestEmptyContainerStartsAtCentre(t *testing.T) {
	cs := InsideCandidates(InsideInput{
		Container: box,
		Origin:    box.Center(),
		Dims:      geom.V(0.10, 0.08, 0.05),
		Margin:    0.05,
		StackGap:  0.02,
	})
	if len(cs) != 9 {
		t.Fatalf("candidates=%d", len(cs))
	}
	first := cs[0]
	if first.Tier != TierGrid || !first.Free || first.Stack {
		t.Fatalf("first candidate %+v", first)
	}
	if math.Abs(first.Pos.X) > 1e-9 || math.Abs(first.Pos.Y) > 1e-9 {
		t.Fatalf("first candidate not centred: %+v", first.Pos)
	}
	if want := 0.0 + 0.025 + ZClearance; math.Abs(first.Pos.Z-want) > 1e-9 {
		t.Fatalf("floor z=%v want %v", first.Pos.Z, want)
	}
}

func TestOccupiedCentreProducesStackVariants(t *testing.T) {
	existing := []geom.AABB{geom.BoxAround(geom.V(0, 0, 0.025), geom.V(0.10, 0.08, 0.05))}
	cs := InsideCandidates(InsideInput{
		Container: box,
		Origin:    Centroid(existing, box.Min.Z),
		Absolute:  true,
		Dims:      geom.V(0.10, 0.08, 0.05),
		Existing:  existing,
		Margin:    0.05,
		StackGap:  0.02,
	})
	var stacked *Candidate
	for i := range cs {
		if cs[i].Stack {
			stacked = &cs[i]
			break
		}
	}
	if stacked == nil {
		t.Fatalf("expected a stacked candidate in %+v", cs)
	}
	if want := 0.05 + 0.025 + 0.02; math.Abs(stacked.Pos.Z-want) > 1e-9 {
		t.Fatalf("stack z=%v want %v", stacked.Pos.Z, want)
	}
	// floor variants are tried before any stacked one
	seenStack := false
	for _, c := range cs {
		if c.Stack {
			seenStack = true
		} else if seenStack && !c.Free {
			t.Fatalf("floor candidate after stacked: %+v", cs)
		}
	}
}

func TestStrategicSlotsComeFirst(t *testing.T) {
	cs := InsideCandidates(InsideInput{
		Container: box,
		Origin:    box.Center(),
		Dims:      geom.V(0.05, 0.05, 0.05),
		Margin:    0.01,
		StackGap:  0.02,
		Strategic: [][2]float64{{-0.07, -0.03}, {-0.01, 0.03}},
		Tier0:     1,
	})
	if cs[0].Tier != TierStrategic || math.Abs(cs[0].Pos.X+0.07) > 1e-9 {
		t.Fatalf("tier0: %+v", cs[0])
	}
	if cs[1].Tier != TierSlots {
		t.Fatalf("tier1: %+v", cs[1])
	}
}

func TestCandidatesClampedAndBelowRim(t *testing.T) {
	existing := []geom.AABB{geom.BoxAround(geom.V(0, 0, 0.06), geom.V(0.3, 0.26, 0.12))}
	cs := InsideCandidates(InsideInput{
		Container: box, Origin: box.Center(), Dims: geom.V(0.05, 0.05, 0.05),
		Existing: existing, Margin: 0.05, StackGap: 0.02,
	})
	rim := RimZ(box, 0.05)
	for _, c := range cs {
		if c.Pos.X < box.Min.X+0.05-1e-9 || c.Pos.X > box.Max.X-0.05+1e-9 {
			t.Fatalf("x not clamped: %+v", c)
		}
		if c.Pos.Z > rim+1e-9 {
			t.Fatalf("above rim: %+v rim=%v", c, rim)
		}
	}
}

func TestFitInsideRotatesTallNarrowObjects(t *testing.T) {
	dims, q, rot := FitInside(geom.V(0.06, 0.04, 0.20), 0.14)
	if !rot || q != geom.SideRoll || dims.Z != 0.04 || dims.Y != 0.20 {
		t.Fatalf("expected roll about X, got %v %v %v", dims, q, rot)
	}
	dims, q, rot = FitInside(geom.V(0.04, 0.06, 0.20), 0.14)
	if !rot || q != geom.SidePitch || dims.Z != 0.04 || dims.X != 0.20 {
		t.Fatalf("expected roll about Y, got %v %v %v", dims, q, rot)
	}
	// the planned dims must agree with the rotated box
	b := geom.RotatedBox(geom.Pose{Rot: q}, geom.V(0.04, 0.06, 0.20))
	if math.Abs(b.Height()-0.04) > 1e-6 || math.Abs(b.Width()-0.20) > 1e-6 {
		t.Fatalf("rotated extent %v", b.Extent())
	}
	if _, _, rot := FitInside(geom.V(0.2, 0.2, 0.2), 0.14); rot {
		t.Fatalf("wide object cannot be rolled to fit")
	}
}

func TestGridOrders(t *testing.T) {
	if GridOffsets("left_first")[0][0] >= 0 || GridOffsets("right_first")[0][0] <= 0 {
		t.Fatalf("left/right first ordering")
	}
	if g := GridOffsets("center"); g[0] != [2]float64{0, 0} || len(g) != 9 {
		t.Fatalf("center grid")
	}
}

func TestManualZ(t *testing.T) {
	if z := ManualZ(box, nil, 0.05, 0.02); math.Abs(z-0.035) > 1e-9 {
		t.Fatalf("empty manual z=%v", z)
	}
	tall := []geom.AABB{{Min: geom.V(0, 0, 0), Max: geom.V(0.1, 0.1, 0.13)}}
	if z := ManualZ(box, tall, 0.05, 0.02); z != RimZ(box, 0.05) {
		t.Fatalf("manual z should clamp to rim, got %v", z)
	}
}
