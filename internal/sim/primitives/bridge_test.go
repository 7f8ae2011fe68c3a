package primitives

import (
	"context"
	"errors"
	"math"
	"testing"

	"palbridge.ai/internal/sim/engine"
	"palbridge.ai/internal/sim/execctx"
	"palbridge.ai/internal/sim/geom"
	"palbridge.ai/internal/sim/memsim"
	"palbridge.ai/internal/sim/primconfig"
	"palbridge.ai/internal/sim/primerr"
	"palbridge.ai/internal/sim/primid"
)

func kitchen() memsim.SceneSpec {
	return memsim.SceneSpec{
		Objects: []memsim.ObjectSpec{
			{Name: "box_1", Category: "box", Instance: "box.n.01_1", Pos: [3]float64{0.5, 0, 0.025}, Size: [3]float64{0.10, 0.08, 0.05}},
			{Name: "bin_1", Category: "bin", Pos: [3]float64{1, 0, 0.07}, Size: [3]float64{0.3, 0.26, 0.14}, Container: true},
			{Name: "table_1", Category: "table", Pos: [3]float64{0, -2, 0.4}, Size: [3]float64{0.8, 0.6, 0.8}, Fixed: true},
			{Name: "fridge_1", Category: "fridge", Pos: [3]float64{4, 0, 0.9}, Size: [3]float64{0.8, 0.8, 1.8}, Fixed: true, Openable: true},
			{Name: "door_1", Category: "door", Pos: [3]float64{0, 3, 1}, Size: [3]float64{0.1, 1, 2}, Fixed: true, Openable: true},
			{Name: "lamp_1", Category: "lamp", Pos: [3]float64{-1, 0, 0.1}, Size: [3]float64{0.2, 0.2, 0.2}, Fixed: true},
			{Name: "cabinet_1", Category: "cabinet", Pos: [3]float64{-2, 1, 0.5}, Size: [3]float64{0.6, 0.4, 1}, Fixed: true, Openable: true, Open: true},
			{Name: "cabinet_2", Category: "cabinet", Pos: [3]float64{-2, -1, 0.5}, Size: [3]float64{0.6, 0.4, 1}, Fixed: true, Openable: true, Open: true},
		},
	}
}

type recording struct{ outs []Outcome }

func (r *recording) Record(o Outcome) error {
	r.outs = append(r.outs, o)
	return nil
}

type rig struct {
	sim *memsim.Sim
	b   *Bridge
	st  *execctx.Context
	rec *recording
}

func newRig(t *testing.T, task primconfig.Overrides, opts ...memsim.Option) *rig {
	t.Helper()
	sim := memsim.New(kitchen(), opts...)
	configs := primconfig.NewResolver(nil, map[string]primconfig.Overrides{"t": task})
	rec := &recording{}
	b := New(sim, Options{Configs: configs, Paths: sim, Recorder: rec})
	st, err := b.BeginRun(context.Background(), "t", "", 1)
	if err != nil {
		t.Fatalf("begin run: %v", err)
	}
	return &rig{sim: sim, b: b, st: st, rec: rec}
}

func (r *rig) exec(t *testing.T, id primid.ID, obj string) bool {
	t.Helper()
	ok, err := r.b.Execute(context.Background(), r.st, id, Params{Object: obj})
	if err != nil {
		t.Fatalf("%s %s: %v", id, obj, err)
	}
	return ok
}

func (r *rig) holds(t *testing.T, kind engine.PredicateKind, a, b string) bool {
	t.Helper()
	ok, err := r.sim.Evaluate(kind, r.sim.HandleOf(a), r.sim.HandleOf(b))
	if err != nil {
		t.Fatalf("%s: %v", kind, err)
	}
	return ok
}

func intp(v int) *int    { return &v }
func boolp(v bool) *bool { return &v }

func TestRequestErrorsBeforeAnyTick(t *testing.T) {
	r := newRig(t, primconfig.Overrides{})
	cases := []struct {
		id   primid.ID
		p    Params
		want error
	}{
		{"JUMP", Params{Object: "box_1"}, primerr.ErrInvalidPrimitive},
		{primid.Pour, Params{Object: "box_1"}, primerr.ErrNotImplemented},
		{primid.Grasp, Params{}, primerr.ErrMissingParameter},
		{primid.NavigateTo, Params{Destination: "table_1"}, primerr.ErrMissingParameter},
		{primid.Grasp, Params{Object: "unicorn_1"}, primerr.ErrObjectNotFound},
	}
	for _, tc := range cases {
		ok, err := r.b.Execute(context.Background(), r.st, tc.id, tc.p)
		if ok || !errors.Is(err, tc.want) {
			t.Fatalf("%s %+v: ok=%v err=%v, want %v", tc.id, tc.p, ok, err, tc.want)
		}
	}
	if r.sim.Tick() != 0 {
		t.Fatalf("request errors ticked the simulator %d times", r.sim.Tick())
	}
	if len(r.rec.outs) != 0 {
		t.Fatalf("rejected requests recorded: %+v", r.rec.outs)
	}
}

func TestNamesResolveThroughInstanceMap(t *testing.T) {
	r := newRig(t, primconfig.Overrides{})
	if !r.exec(t, primid.Grasp, "box.n.01_1") {
		t.Fatalf("grasp by instance name failed")
	}
	if h, _, _ := r.sim.Held(); h != r.sim.HandleOf("box_1") {
		t.Fatalf("held %q", h)
	}
}

func TestPlaceInsideCentreThroughDispatcher(t *testing.T) {
	r := newRig(t, primconfig.Overrides{FixAfterPlacement: boolp(true), PlaceSettleSteps: intp(10)}, memsim.WithSamplersDisabled())
	if !r.exec(t, primid.Grasp, "box_1") {
		t.Fatalf("grasp failed")
	}
	ok, err := r.b.Execute(context.Background(), r.st, primid.PlaceInside, Params{Destination: "bin_1"})
	if err != nil || !ok {
		t.Fatalf("place inside: ok=%v err=%v", ok, err)
	}
	if !r.holds(t, engine.Inside, "box_1", "bin_1") {
		t.Fatalf("box not inside bin")
	}
	bb, _ := r.sim.AABB(r.sim.HandleOf("box_1"))
	if c := bb.Center(); math.Abs(c.X-1) > 1e-6 || math.Abs(c.Y) > 1e-6 {
		t.Fatalf("box centre %v, want bin centre", c)
	}

	drift, err := r.b.Diagnostics(r.st)
	if err != nil || len(drift) != 2 {
		t.Fatalf("diagnostics: %+v err=%v", drift, err)
	}
	for _, d := range drift {
		if d.Status != "OK" {
			t.Fatalf("fresh placement reported %+v", d)
		}
	}

	_ = r.sim.SetPose(r.sim.HandleOf("box_1"), geom.Pose{Pos: geom.V(3, 3, 0.025)})
	before := r.sim.Tick()
	n, err := r.b.RestoreFixedObjects(r.st)
	if err != nil || n != 2 {
		t.Fatalf("restore: n=%d err=%v", n, err)
	}
	if r.sim.Tick() != before {
		t.Fatalf("restore must not tick")
	}
	bb, _ = r.sim.AABB(r.sim.HandleOf("box_1"))
	cb, _ := r.sim.AABB(r.sim.HandleOf("bin_1"))
	if !cb.ContainsXY(bb.Center()) {
		t.Fatalf("restored box %v outside bin %v", bb, cb)
	}
}

func TestPlaceWithoutHeldObjectFailsPrecondition(t *testing.T) {
	r := newRig(t, primconfig.Overrides{})
	ok, err := r.b.Execute(context.Background(), r.st, primid.PlaceOnTop, Params{Object: "table_1"})
	if ok || !errors.Is(err, primerr.ErrPreconditionFailed) {
		t.Fatalf("ok=%v err=%v", ok, err)
	}
	if len(r.rec.outs) != 1 || r.rec.outs[0].Code != primerr.CodePreconditionFailed {
		t.Fatalf("outcomes: %+v", r.rec.outs)
	}
}

func TestPlaceFallsBackToNavigationTarget(t *testing.T) {
	r := newRig(t, primconfig.Overrides{PlaceSettleSteps: intp(5)})
	for _, step := range []struct {
		id  primid.ID
		obj string
	}{
		{primid.Grasp, "box_1"},
		{primid.NavigateTo, "table_1"},
		{primid.PlaceOnTop, "box_1"},
	} {
		if !r.exec(t, step.id, step.obj) {
			t.Fatalf("%s %s failed", step.id, step.obj)
		}
	}
	if !r.holds(t, engine.OnTop, "box_1", "table_1") {
		t.Fatalf("box not on table")
	}
}

func TestReleaseWithEmptyHandIsNoOp(t *testing.T) {
	r := newRig(t, primconfig.Overrides{})
	ok, err := r.b.Execute(context.Background(), r.st, primid.Release, Params{})
	if err != nil || !ok {
		t.Fatalf("release: ok=%v err=%v", ok, err)
	}
	if r.sim.Tick() != 0 || len(r.st.Tracked) != 0 || len(r.st.Links) != 0 {
		t.Fatalf("empty release changed state: tick=%d", r.sim.Tick())
	}
}

func TestReleaseSettles(t *testing.T) {
	r := newRig(t, primconfig.Overrides{InstantSettleSteps: intp(7)})
	r.exec(t, primid.Grasp, "box_1")
	before := r.sim.Tick()
	ok, err := r.b.Execute(context.Background(), r.st, primid.Release, Params{})
	if err != nil || !ok {
		t.Fatalf("release: ok=%v err=%v", ok, err)
	}
	if _, holding, _ := r.sim.Held(); holding {
		t.Fatalf("still holding")
	}
	if got := r.sim.Tick() - before; got != 8 {
		t.Fatalf("release ticks = %d, want 1 + 7 settle", got)
	}
}

func TestDoorCrossingEndToEnd(t *testing.T) {
	r := newRig(t, primconfig.Overrides{
		DoorCrossing: &primconfig.DoorRule{Door: "door", Targets: []string{"fridge"}},
	})
	if !r.exec(t, primid.Grasp, "box_1") {
		t.Fatalf("grasp failed")
	}
	if !r.exec(t, primid.NavigateTo, "fridge_1") {
		t.Fatalf("navigate failed")
	}
	if !r.holds(t, engine.Open, "door_1", "") {
		t.Fatalf("door still closed")
	}
	if h, _, _ := r.sim.Held(); h != r.sim.HandleOf("box_1") {
		t.Fatalf("box not re-grasped, holding %q", h)
	}
	rp, _ := r.sim.Pose(memsim.RobotHandle)
	if d := rp.Pos.Sub(geom.V(4, 0, 0)).NormXY(); math.Abs(d-1) > 1e-6 {
		t.Fatalf("robot %.3f m from fridge, want approach distance", d)
	}
	if r.st.Nav.Target != r.sim.HandleOf("fridge_1") {
		t.Fatalf("navigation state %+v", r.st.Nav)
	}
}

func TestStuckActionTimesOutWithoutError(t *testing.T) {
	r := newRig(t, primconfig.Overrides{MaxPrimitiveSteps: intp(50)}, memsim.WithStuckAction(engine.ActToggleOn))
	ok, err := r.b.Execute(context.Background(), r.st, primid.ToggleOn, Params{Object: "lamp_1"})
	if err != nil || ok {
		t.Fatalf("ok=%v err=%v, want plain false", ok, err)
	}
	if r.sim.Tick() != 50 {
		t.Fatalf("ticks = %d, want the full budget", r.sim.Tick())
	}
	if n := len(r.rec.outs); n != 1 || r.rec.outs[0].Code != primerr.CodeTimeout || r.rec.outs[0].Ticks != 50 {
		t.Fatalf("outcomes: %+v", r.rec.outs)
	}
}

func TestInstantPrimitiveSetsState(t *testing.T) {
	r := newRig(t, primconfig.Overrides{InstantSettleSteps: intp(4)})
	if !r.exec(t, primid.ToggleOn, "lamp_1") {
		t.Fatalf("toggle failed")
	}
	if !r.sim.State(r.sim.HandleOf("lamp_1"), "toggled_on") {
		t.Fatalf("lamp not on")
	}
	if r.sim.Tick() != 5 {
		t.Fatalf("ticks = %d, want 1 + 4", r.sim.Tick())
	}
}

func TestCloseAllContainers(t *testing.T) {
	r := newRig(t, primconfig.Overrides{CloseAllContainers: strp("cabinet"), InstantSettleSteps: intp(2)})
	if !r.exec(t, primid.Close, "cabinet_1") {
		t.Fatalf("close failed")
	}
	for _, n := range []string{"cabinet_1", "cabinet_2"} {
		if r.holds(t, engine.Open, n, "") {
			t.Fatalf("%s still open", n)
		}
	}
	// close + settle, second close, sweep settle
	if want := uint64(1 + 2 + 1 + closeAllSettle); r.sim.Tick() != want {
		t.Fatalf("ticks = %d, want %d", r.sim.Tick(), want)
	}
}

func TestHooksWrapEveryCall(t *testing.T) {
	r := newRig(t, primconfig.Overrides{})
	var log []string
	r.st.Hooks.Pre = func(c execctx.Call) { log = append(log, "pre "+c.Primitive) }
	r.st.Hooks.Post = func(c execctx.Call, ok bool) {
		s := "post " + c.Primitive
		if !ok {
			s += " failed"
		}
		log = append(log, s)
	}
	r.exec(t, primid.Grasp, "box_1")
	r.exec(t, primid.Grasp, "fridge_1")
	want := []string{"pre GRASP", "post GRASP", "pre GRASP", "post GRASP failed"}
	if len(log) != len(want) {
		t.Fatalf("hooks: %v", log)
	}
	for i := range want {
		if log[i] != want[i] {
			t.Fatalf("hooks: %v, want %v", log, want)
		}
	}
	if r.rec.outs[1].Seq != 2 || r.rec.outs[1].OK {
		t.Fatalf("second outcome %+v", r.rec.outs[1])
	}
}

func TestBeginRunAppliesRobotPoseAndFreezes(t *testing.T) {
	yaw := math.Pi / 2
	r := newRig(t, primconfig.Overrides{
		RobotInitialPosition: &[3]float64{1, 1, 0},
		RobotInitialYaw:      &yaw,
		FreezeContainers:     []string{"bin"},
	})
	p, _ := r.sim.Pose(memsim.RobotHandle)
	if p.Pos.Dist(geom.V(1, 1, 0)) > 1e-9 || math.Abs(p.Rot.Yaw()-yaw) > 1e-6 {
		t.Fatalf("robot pose %+v", p)
	}
	if imm, _ := r.sim.Immovable(r.sim.HandleOf("bin_1")); !imm {
		t.Fatalf("bin not frozen")
	}
	if r.sim.Tick() != 0 {
		t.Fatalf("begin run ticked")
	}
}

func TestDumpObjects(t *testing.T) {
	r := newRig(t, primconfig.Overrides{})
	d, err := r.b.DumpObjects("cabinet", 0)
	if err != nil || len(d) != 2 || d[0].Name != "cabinet_1" {
		t.Fatalf("dump: %+v err=%v", d, err)
	}
	d, err = r.b.DumpObjects("", 3)
	if err != nil || len(d) != 3 {
		t.Fatalf("limited dump: %d err=%v", len(d), err)
	}
}

func TestDecodeParams(t *testing.T) {
	p, err := DecodeParams(map[string]any{"obj": "box_1", "dest": "bin_1"})
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if p.Ref(primid.PlaceInside) != "box_1" {
		t.Fatalf("ref %q", p.Ref(primid.PlaceInside))
	}
	if q := (Params{Destination: "bin_1"}); q.Ref(primid.PlaceInside) != "bin_1" || q.Ref(primid.Open) != "" {
		t.Fatalf("dest must only count for placements")
	}
	if _, err := DecodeParams(map[string]any{"object": "box_1"}); err == nil {
		t.Fatalf("unknown key accepted")
	}
}

func strp(s string) *string { return &s }
