package placement

import (
	"math"
	"sort"
	"testing"

	"palbridge.ai/internal/sim/engine"
	"palbridge.ai/internal/sim/execctx"
	"palbridge.ai/internal/sim/feature/tick"
	"palbridge.ai/internal/sim/feature/transport"
	"palbridge.ai/internal/sim/geom"
	"palbridge.ai/internal/sim/memsim"
	"palbridge.ai/internal/sim/names"
	"palbridge.ai/internal/sim/primconfig"
)

type rig struct {
	sim    *memsim.Sim
	st     *execctx.Context
	runner *tick.Runner
	s      *Solver
	objs   *names.Resolver
}

func newRig(t *testing.T, objects []memsim.ObjectSpec, opts ...memsim.Option) *rig {
	t.Helper()
	sim := memsim.New(memsim.SceneSpec{
		Robot:   memsim.RobotSpec{Pos: [3]float64{-1, 0, 0}},
		Objects: objects,
	}, opts...)
	infos, _ := sim.Objects()
	inst, _ := sim.InstanceNames()
	st := execctx.New("t", "", 7)
	runner := tick.NewRunner(sim, transport.New(sim, nil), nil)
	runner.Begin(st, tick.Budget{Max: 5000})
	return &rig{
		sim:    sim,
		st:     st,
		runner: runner,
		s:      New(sim, runner, nil),
		objs:   names.NewResolver(infos, inst, nil),
	}
}

func (r *rig) req(t *testing.T, cfg primconfig.Config, obj, target string) Request {
	t.Helper()
	o, _, err := r.objs.Resolve(obj)
	if err != nil {
		t.Fatalf("resolve %s: %v", obj, err)
	}
	g, _, err := r.objs.Resolve(target)
	if err != nil {
		t.Fatalf("resolve %s: %v", target, err)
	}
	return Request{Cfg: cfg, Object: o, Target: g, Names: r.objs}
}

func (r *rig) box(t *testing.T, name string) geom.AABB {
	t.Helper()
	b, err := r.sim.AABB(r.sim.HandleOf(name))
	if err != nil {
		t.Fatalf("aabb %s: %v", name, err)
	}
	return b
}

func (r *rig) holds(t *testing.T, kind engine.PredicateKind, a, b string) bool {
	t.Helper()
	ok, err := r.sim.Evaluate(kind, r.sim.HandleOf(a), r.sim.HandleOf(b))
	if err != nil {
		t.Fatalf("%s(%s, %s): %v", kind, a, b, err)
	}
	return ok
}

// bin has the interior [(-0.15,-0.13,0),(0.15,0.13,0.14)].
func bin() memsim.ObjectSpec {
	return memsim.ObjectSpec{Name: "bin_1", Category: "bin", Pos: [3]float64{0, 0, 0.07}, Size: [3]float64{0.3, 0.26, 0.14}, Container: true}
}

func box(name string, x float64) memsim.ObjectSpec {
	return memsim.ObjectSpec{Name: name, Category: "box", Pos: [3]float64{x, 0, 0.025}, Size: [3]float64{0.10, 0.08, 0.05}}
}

func insideCfg() primconfig.Config {
	cfg := primconfig.Defaults()
	cfg.FixAfterPlacement = true
	cfg.PlaceSettleSteps = 10
	return cfg
}

func TestInsideFirstCandidateIsCentre(t *testing.T) {
	r := newRig(t, []memsim.ObjectSpec{bin(), box("box_1", 1)}, memsim.WithSamplersDisabled())
	ok, err := r.s.Inside(r.st, r.req(t, insideCfg(), "box_1", "bin_1"))
	if err != nil || !ok {
		t.Fatalf("inside: ok=%v err=%v", ok, err)
	}
	c := r.box(t, "box_1").Center()
	if math.Abs(c.X) > 1e-6 || math.Abs(c.Y) > 1e-6 {
		t.Fatalf("centre = %v, want (0,0)", c)
	}
	if !r.holds(t, engine.Inside, "box_1", "bin_1") {
		t.Fatalf("box_1 not inside bin_1")
	}
	if len(r.st.Tracked) != 2 {
		t.Fatalf("tracked = %+v, want object and container", r.st.Tracked)
	}
	obj := r.st.Tracked[0]
	if obj.Handle != r.sim.HandleOf("box_1") || !obj.PlacedInside || obj.Container != r.sim.HandleOf("bin_1") {
		t.Fatalf("tracked object = %+v", obj)
	}
	if math.Abs(obj.Pose.Pos.Z-0.03) > 1e-9 {
		t.Fatalf("verified z = %.4f, want candidate floor height 0.03", obj.Pose.Pos.Z)
	}
}

func TestInsideSecondObjectAvoidsFirst(t *testing.T) {
	r := newRig(t, []memsim.ObjectSpec{bin(), box("box_1", 1), box("box_2", 1.5)}, memsim.WithSamplersDisabled())
	cfg := insideCfg()
	for _, name := range []string{"box_1", "box_2"} {
		ok, err := r.s.Inside(r.st, r.req(t, cfg, name, "bin_1"))
		if err != nil || !ok {
			t.Fatalf("inside %s: ok=%v err=%v", name, ok, err)
		}
	}
	a, b := r.box(t, "box_1"), r.box(t, "box_2")
	stacked := b.Center().Z-a.Center().Z >= 0.05+cfg.StackGap-0.011
	if a.OverlapsXY(b, 0.003) && !stacked {
		t.Fatalf("box_2 %v overlaps box_1 %v", b, a)
	}
	if !r.holds(t, engine.Inside, "box_2", "bin_1") {
		t.Fatalf("box_2 not inside bin_1")
	}
}

func TestInsideFittingObjectsStayWithinBounds(t *testing.T) {
	sizes := [][3]float64{
		{0.05, 0.05, 0.05},
		{0.2, 0.1, 0.1},
		{0.28, 0.24, 0.12},
		{0.04, 0.2, 0.08},
	}
	for _, sz := range sizes {
		for _, samplers := range []bool{true, false} {
			var opts []memsim.Option
			if !samplers {
				opts = append(opts, memsim.WithSamplersDisabled())
			}
			obj := memsim.ObjectSpec{Name: "thing_1", Pos: [3]float64{1, 0, sz[2] / 2}, Size: sz}
			r := newRig(t, []memsim.ObjectSpec{bin(), obj}, opts...)
			ok, err := r.s.Inside(r.st, r.req(t, insideCfg(), "thing_1", "bin_1"))
			if err != nil || !ok {
				t.Fatalf("size %v: ok=%v err=%v", sz, ok, err)
			}
			c := r.box(t, "thing_1").Center()
			cb := r.box(t, "bin_1")
			m := insideCfg().PlacementMargin
			if c.X < cb.Min.X-m || c.X > cb.Max.X+m || c.Y < cb.Min.Y-m || c.Y > cb.Max.Y+m {
				t.Fatalf("size %v samplers=%v: centre %v outside %v", sz, samplers, c, cb)
			}
		}
	}
}

func TestInsideStacksWithoutInterpenetration(t *testing.T) {
	cup := memsim.ObjectSpec{Name: "cup_1", Category: "cup", Pos: [3]float64{0, 0, 0.15}, Size: [3]float64{0.2, 0.2, 0.3}, Container: true}
	objects := []memsim.ObjectSpec{cup, box("box_1", 1), box("box_2", 1.5), box("box_3", 2)}
	r := newRig(t, objects, memsim.WithSamplersDisabled())
	cfg := insideCfg()
	cfg.TeleportPlacement = true
	placed := []string{"box_1", "box_2", "box_3"}
	for _, n := range placed {
		ok, err := r.s.Inside(r.st, r.req(t, cfg, n, "cup_1"))
		if err != nil || !ok {
			t.Fatalf("inside %s: ok=%v err=%v", n, ok, err)
		}
	}
	var boxes []geom.AABB
	for _, n := range placed {
		boxes = append(boxes, r.box(t, n))
	}
	for i := range boxes {
		for j := i + 1; j < len(boxes); j++ {
			if boxes[i].Overlaps(boxes[j], 0.003) {
				t.Fatalf("%v interpenetrates %v", boxes[i], boxes[j])
			}
		}
	}
	sort.Slice(boxes, func(i, j int) bool { return boxes[i].Min.Z < boxes[j].Min.Z })
	for i := 1; i < len(boxes); i++ {
		lo, hi := boxes[i-1], boxes[i]
		if !lo.OverlapsXY(hi, 0.003) {
			continue
		}
		if gap := hi.Min.Z - lo.Max.Z; gap > cfg.StackGap+0.01 {
			t.Fatalf("stack gap %.4f between %v and %v exceeds %.3f", gap, lo, hi, cfg.StackGap)
		}
	}
}

func TestInsideBlockedContainerStillAccepts(t *testing.T) {
	block := memsim.ObjectSpec{Name: "block_1", Pos: [3]float64{0, 0, 0.065}, Size: [3]float64{0.28, 0.24, 0.13}, Fixed: true}
	for _, teleport := range []bool{true, false} {
		r := newRig(t, []memsim.ObjectSpec{bin(), block, box("box_1", 1)}, memsim.WithSamplersDisabled())
		cfg := insideCfg()
		cfg.TeleportPlacement = teleport
		ok, err := r.s.Inside(r.st, r.req(t, cfg, "box_1", "bin_1"))
		if err != nil || !ok {
			t.Fatalf("teleport=%v: ok=%v err=%v", teleport, ok, err)
		}
		if !r.st.IsTracked(r.sim.HandleOf("box_1")) {
			t.Fatalf("teleport=%v: placement not tracked", teleport)
		}
	}
}

func TestInsideRestoresTopAndRetreats(t *testing.T) {
	cabinet := memsim.ObjectSpec{Name: "cabinet_1", Category: "cabinet", Pos: [3]float64{0, 0, 0.25}, Size: [3]float64{0.6, 0.6, 0.5}, Container: true}
	pot := memsim.ObjectSpec{Name: "pot_1", Category: "pot", Pos: [3]float64{1, 0, 0.05}, Size: [3]float64{0.2, 0.2, 0.1}}
	lid := memsim.ObjectSpec{Name: "lid_1", Category: "lid", Pos: [3]float64{1.5, 0, 0.01}, Size: [3]float64{0.2, 0.2, 0.02}}
	r := newRig(t, []memsim.ObjectSpec{cabinet, pot, lid})
	cfg := insideCfg()
	cfg.RestoreOnTopPairs = []primconfig.StackPair{{Top: "lid", Bottom: "pot"}}
	cfg.RetreatAfterContainer = "cabinet"
	cfg.RetreatPoint = &[3]float64{-2, 0.5, 0}

	ok, err := r.s.Inside(r.st, r.req(t, cfg, "pot_1", "cabinet_1"))
	if err != nil || !ok {
		t.Fatalf("inside: ok=%v err=%v", ok, err)
	}
	if !r.holds(t, engine.OnTop, "lid_1", "pot_1") {
		t.Fatalf("lid not restored on pot: lid=%v pot=%v", r.box(t, "lid_1"), r.box(t, "pot_1"))
	}
	rp, _ := r.sim.Pose(memsim.RobotHandle)
	if rp.Pos.Dist(geom.V(-2, 0.5, 0)) > 1e-9 {
		t.Fatalf("robot at %v, want retreat point", rp.Pos)
	}
}

// poseRecorder passes through to the sim and remembers every pose set on
// the robot.
type poseRecorder struct {
	*memsim.Sim
	robot []geom.Pose
}

func (p *poseRecorder) SetPose(h engine.Handle, pose geom.Pose) error {
	if h == memsim.RobotHandle {
		p.robot = append(p.robot, pose)
	}
	return p.Sim.SetPose(h, pose)
}

func TestRetreatKeepsRobotHeading(t *testing.T) {
	cabinet := memsim.ObjectSpec{Name: "cabinet_1", Category: "cabinet", Pos: [3]float64{0, 0, 0.25}, Size: [3]float64{0.6, 0.6, 0.5}, Container: true}
	pot := memsim.ObjectSpec{Name: "pot_1", Category: "pot", Pos: [3]float64{1, 0, 0.05}, Size: [3]float64{0.2, 0.2, 0.1}}
	r := newRig(t, []memsim.ObjectSpec{cabinet, pot})
	rec := &poseRecorder{Sim: r.sim}
	r.s = New(rec, r.runner, nil)

	start, _ := r.sim.Pose(memsim.RobotHandle)
	start.Rot = geom.YawQuat(0.7)
	if err := r.sim.SetPose(memsim.RobotHandle, start); err != nil {
		t.Fatalf("set robot yaw: %v", err)
	}

	cfg := insideCfg()
	cfg.RetreatAfterContainer = "cabinet"
	cfg.RetreatPoint = &[3]float64{-2, 0.5, 0}
	ok, err := r.s.Inside(r.st, r.req(t, cfg, "pot_1", "cabinet_1"))
	if err != nil || !ok {
		t.Fatalf("inside: ok=%v err=%v", ok, err)
	}
	if len(rec.robot) == 0 {
		t.Fatalf("retreat never moved the robot")
	}
	last := rec.robot[len(rec.robot)-1]
	if last.Pos.Dist(geom.V(-2, 0.5, 0)) > 1e-9 {
		t.Fatalf("last robot pose at %v, want retreat point", last.Pos)
	}
	if last.Rot.IsZero() {
		t.Fatalf("retreat sent a zero rotation")
	}
	if d := math.Abs(last.Rot.Yaw() - 0.7); d > 1e-9 {
		t.Fatalf("retreat yaw = %v, want 0.7", last.Rot.Yaw())
	}
}

func TestInsideRejoinsContainedObject(t *testing.T) {
	cabinet := memsim.ObjectSpec{Name: "cabinet_1", Pos: [3]float64{0, 0, 0.25}, Size: [3]float64{0.6, 0.6, 0.5}, Container: true}
	bowl := memsim.ObjectSpec{Name: "bowl_1", Pos: [3]float64{1, 0, 0.04}, Size: [3]float64{0.2, 0.2, 0.08}, Container: true}
	apple := memsim.ObjectSpec{Name: "apple_1", Pos: [3]float64{1.5, 0, 0.025}, Size: [3]float64{0.05, 0.05, 0.05}}
	r := newRig(t, []memsim.ObjectSpec{cabinet, bowl, apple})
	cfg := insideCfg()
	cfg.JoinContainedDuringTransport = []primconfig.ContainPair{{Object: "apple", Container: "bowl"}}

	ok, err := r.s.Inside(r.st, r.req(t, cfg, "bowl_1", "cabinet_1"))
	if err != nil || !ok {
		t.Fatalf("inside: ok=%v err=%v", ok, err)
	}
	if !r.holds(t, engine.Inside, "apple_1", "bowl_1") {
		t.Fatalf("apple not rejoined: %v", r.box(t, "apple_1"))
	}
	if imm, _ := r.sim.Immovable(r.sim.HandleOf("apple_1")); !imm {
		t.Fatalf("rejoined apple must be frozen")
	}
}

func table() memsim.ObjectSpec {
	return memsim.ObjectSpec{Name: "table_1", Category: "table", Pos: [3]float64{1, 0, 0.4}, Size: [3]float64{0.8, 0.6, 0.8}, Fixed: true}
}

func cube() memsim.ObjectSpec {
	return memsim.ObjectSpec{Name: "cube_1", Category: "cube", Pos: [3]float64{-0.5, 1, 0.05}, Size: [3]float64{0.1, 0.1, 0.1}}
}

func TestOnTopPaths(t *testing.T) {
	for _, samplers := range []bool{true, false} {
		var opts []memsim.Option
		if !samplers {
			opts = append(opts, memsim.WithSamplersDisabled())
		}
		r := newRig(t, []memsim.ObjectSpec{table(), cube()}, opts...)
		cfg := primconfig.Defaults()
		cfg.PlaceSettleSteps = 10
		ok, err := r.s.OnTop(r.st, r.req(t, cfg, "cube_1", "table_1"))
		if err != nil || !ok {
			t.Fatalf("samplers=%v: ok=%v err=%v", samplers, ok, err)
		}
		if !r.holds(t, engine.OnTop, "cube_1", "table_1") {
			t.Fatalf("samplers=%v: cube at %v", samplers, r.box(t, "cube_1"))
		}
		if imm, _ := r.sim.Immovable(r.sim.HandleOf("table_1")); imm {
			t.Fatalf("samplers=%v: gentle drop left the target frozen", samplers)
		}
	}
}

func TestOnTopFloorNearRobot(t *testing.T) {
	floor := memsim.ObjectSpec{Name: "floor_1", Pos: [3]float64{0, 0, -0.05}, Size: [3]float64{10, 10, 0.1}, Fixed: true}
	r := newRig(t, []memsim.ObjectSpec{floor, cube()})
	cfg := primconfig.Defaults()
	cfg.PlaceOnTopAtRobotPosition = true
	cfg.PlaceSettleSteps = 5
	ok, err := r.s.OnTop(r.st, r.req(t, cfg, "cube_1", "floor_1"))
	if err != nil || !ok {
		t.Fatalf("on floor: ok=%v err=%v", ok, err)
	}
	c := r.box(t, "cube_1").Center()
	if math.Abs(c.X+0.4) > 1e-9 || math.Abs(c.Y) > 1e-9 {
		t.Fatalf("cube at %v, want between robot and floor origin", c)
	}
}

func TestNextToRightWithinMargin(t *testing.T) {
	r := newRig(t, []memsim.ObjectSpec{table(), cube()})
	cfg := primconfig.Defaults()
	cfg.NextToDirection = primconfig.DirRight
	cfg.PlaceSettleSteps = 5
	ok, err := r.s.NextTo(r.st, r.req(t, cfg, "cube_1", "table_1"))
	if err != nil || !ok {
		t.Fatalf("next to: ok=%v err=%v", ok, err)
	}
	tb := r.box(t, "table_1")
	margin := cfg.NextToMarginFactor * 0.3
	x := r.box(t, "cube_1").Center().X
	if x <= tb.Max.X-margin || x > tb.Max.X+margin+1e-6 {
		t.Fatalf("x = %.4f, want in (%.3f, %.3f]", x, tb.Max.X-margin, tb.Max.X+margin)
	}
	if !r.holds(t, engine.NextTo, "cube_1", "table_1") {
		t.Fatalf("cube not next to table")
	}
}

func TestNextToSpreadsRepeatedPlacements(t *testing.T) {
	second := cube()
	second.Name = "cube_2"
	second.Pos = [3]float64{-0.5, -1, 0.05}
	r := newRig(t, []memsim.ObjectSpec{table(), cube(), second})
	cfg := primconfig.Defaults()
	cfg.NextToDirection = primconfig.DirRight
	cfg.NextToSpreadOffset = 0.15
	cfg.FixAfterPlacement = true
	for _, n := range []string{"cube_1", "cube_2"} {
		if _, err := r.s.NextTo(r.st, r.req(t, cfg, n, "table_1")); err != nil {
			t.Fatalf("next to %s: %v", n, err)
		}
	}
	y1 := r.box(t, "cube_1").Center().Y
	y2 := r.box(t, "cube_2").Center().Y
	if math.Abs(y1+0.15) > 1e-9 || math.Abs(y2) > 1e-9 {
		t.Fatalf("y = %.3f, %.3f; want -0.15, 0", y1, y2)
	}
	if len(r.st.Tracked) != 2 {
		t.Fatalf("tracked %d, want 2", len(r.st.Tracked))
	}
}

func TestUnderStaysInFootprint(t *testing.T) {
	r := newRig(t, []memsim.ObjectSpec{table(), cube()})
	cfg := primconfig.Defaults()
	cfg.NextToSpreadOffset = 0.05
	cfg.PlaceSettleSteps = 5
	ok, err := r.s.Under(r.st, r.req(t, cfg, "cube_1", "table_1"))
	if err != nil || !ok {
		t.Fatalf("under: ok=%v err=%v", ok, err)
	}
	if !r.holds(t, engine.Under, "cube_1", "table_1") {
		t.Fatalf("cube at %v not under table", r.box(t, "cube_1"))
	}
	c := r.box(t, "cube_1").Center()
	if math.Abs(c.X-1) > 1e-9 || math.Abs(c.Y+0.05) > 1e-9 {
		t.Fatalf("first under placement at %v, want one spread step before the table centre", c)
	}
}
