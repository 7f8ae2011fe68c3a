// Package memsim is a deterministic kinematic stand-in for a physics
// simulator. Objects are boxes; each tick carries held objects with the
// hand and drops loose objects onto whatever lies beneath them.
package memsim

import (
	"fmt"
	"math"
	"sort"
	"sync"

	"palbridge.ai/internal/sim/engine"
	"palbridge.ai/internal/sim/geom"
	"palbridge.ai/internal/sim/logic/gridpath"
)

const (
	RobotHandle engine.Handle = "robot0"

	supportEps     = 0.01
	penetrationPad = 0.003
	predicateTol   = 0.02
	robotRadius    = 0.3
)

var handOffset = geom.V(0.45, 0, 0.9)

type object struct {
	handle    engine.Handle
	name      string
	category  string
	instance  string
	pose      geom.Pose
	size      geom.Vec3
	container bool
	openable  bool
	open      bool
	obstacle  bool
	fixed     bool
	immovable bool
	states    map[string]bool
}

func (o *object) aabb() geom.AABB { return geom.RotatedBox(o.pose, o.size) }

type Option func(*Sim)

// WithSamplersDisabled makes the native samplers always fail.
func WithSamplersDisabled() Option { return func(s *Sim) { s.samplersOff = true } }

// WithStuckAction makes plans of kind never finish.
func WithStuckAction(kind engine.ActionKind) Option {
	return func(s *Sim) { s.stuck[kind] = true }
}

// WithGoal installs the episode goal checked after every tick.
func WithGoal(fn func(*Sim) bool) Option { return func(s *Sim) { s.goal = fn } }

// WithDrift nudges every immovable object by d on each tick, emulating a
// simulator that does not fully honour kinematic flags.
func WithDrift(d geom.Vec3) Option { return func(s *Sim) { s.drift = d } }

type Sim struct {
	mu sync.Mutex

	objs   []*object
	byH    map[engine.Handle]*object
	robot  *object
	held   engine.Handle
	tick   uint64
	pan    float64
	tilt   float64
	bounds [2][2]float64

	maxSteps    int
	graspTicks  int
	reach       float64
	samplersOff bool
	stuck       map[engine.ActionKind]bool
	goal        func(*Sim) bool
	drift       geom.Vec3
	zeroVel     int
}

func New(spec SceneSpec, opts ...Option) *Sim {
	s := &Sim{
		byH:        map[engine.Handle]*object{},
		stuck:      map[engine.ActionKind]bool{},
		maxSteps:   spec.MaxEpisodeSteps,
		graspTicks: spec.GraspTicks,
		reach:      spec.ReachDistance,
		bounds:     spec.Bounds,
	}
	if s.graspTicks <= 0 {
		s.graspTicks = 3
	}
	if s.reach <= 0 {
		s.reach = 2.0
	}
	if s.bounds == ([2][2]float64{}) {
		s.bounds = [2][2]float64{{-10, -10}, {10, 10}}
	}
	s.robot = &object{
		handle: RobotHandle,
		name:   string(RobotHandle),
		pose: geom.Pose{
			Pos: geom.V(spec.Robot.Pos[0], spec.Robot.Pos[1], spec.Robot.Pos[2]),
			Rot: geom.YawQuat(spec.Robot.Yaw),
		},
		size:      geom.V(0.5, 0.5, 1.2),
		fixed:     true,
		immovable: true,
		category:  "agent",
		states:    map[string]bool{},
	}
	s.add(s.robot)
	for i, o := range spec.Objects {
		s.add(&object{
			handle:    engine.Handle(fmt.Sprintf("obj%03d", i+1)),
			name:      o.Name,
			category:  o.Category,
			instance:  o.Instance,
			pose:      geom.Pose{Pos: geom.V(o.Pos[0], o.Pos[1], o.Pos[2]), Rot: geom.YawQuat(o.Yaw)},
			size:      geom.V(o.Size[0], o.Size[1], o.Size[2]),
			container: o.Container,
			openable:  o.Openable,
			open:      o.Open,
			obstacle:  o.Obstacle,
			fixed:     o.Fixed,
			states:    map[string]bool{},
		})
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Sim) add(o *object) {
	s.objs = append(s.objs, o)
	s.byH[o.handle] = o
}

func (s *Sim) get(h engine.Handle) (*object, error) {
	o, ok := s.byH[h]
	if !ok {
		return nil, fmt.Errorf("memsim: unknown handle %q", h)
	}
	return o, nil
}

// HandleOf looks an object up by scene name.
func (s *Sim) HandleOf(name string) engine.Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, o := range s.objs {
		if o.name == name {
			return o.handle
		}
	}
	return ""
}

// Tick is the number of steps taken so far.
func (s *Sim) Tick() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tick
}

// State reads a boolean object state set by native actions (toggled, cut, ...).
func (s *Sim) State(h engine.Handle, key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if o, ok := s.byH[h]; ok && o.states != nil {
		return o.states[key]
	}
	return false
}

func (s *Sim) Objects() ([]engine.ObjectInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]engine.ObjectInfo, 0, len(s.objs))
	for _, o := range s.objs {
		out = append(out, engine.ObjectInfo{Handle: o.handle, Name: o.name, Category: o.category})
	}
	return out, nil
}

func (s *Sim) InstanceNames() (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := map[string]string{}
	for _, o := range s.objs {
		if o.instance != "" {
			out[o.instance] = o.name
		}
	}
	return out, nil
}

func (s *Sim) Robot() (engine.Handle, error) { return RobotHandle, nil }

func (s *Sim) Pose(h engine.Handle) (geom.Pose, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, err := s.get(h)
	if err != nil {
		return geom.Pose{}, err
	}
	return o.pose, nil
}

func (s *Sim) SetPose(h engine.Handle, p geom.Pose) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, err := s.get(h)
	if err != nil {
		return err
	}
	if p.Rot.IsZero() {
		p.Rot = o.pose.Rot
	}
	o.pose = p
	return nil
}

func (s *Sim) AABB(h engine.Handle) (geom.AABB, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, err := s.get(h)
	if err != nil {
		return geom.AABB{}, err
	}
	return o.aabb(), nil
}

func (s *Sim) NativeSize(h engine.Handle) (geom.Vec3, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, err := s.get(h)
	if err != nil {
		return geom.Vec3{}, false, err
	}
	return o.size, true, nil
}

func (s *Sim) Immovable(h engine.Handle) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, err := s.get(h)
	if err != nil {
		return false, err
	}
	return o.immovable, nil
}

func (s *Sim) SetImmovable(h engine.Handle, v bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, err := s.get(h)
	if err != nil {
		return err
	}
	if o.handle == RobotHandle {
		return nil
	}
	o.immovable = v
	return nil
}

func (s *Sim) ZeroVelocity(h engine.Handle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.get(h); err != nil {
		return err
	}
	s.zeroVel++
	return nil
}

func (s *Sim) Held() (engine.Handle, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.held, s.held != "", nil
}

func (s *Sim) ReleaseImmediately() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.held = ""
	return nil
}

func (s *Sim) SetHeadPanTilt(pan, tilt float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pan, s.tilt = pan, tilt
	return nil
}

// HeadPanTilt returns the last head command.
func (s *Sim) HeadPanTilt() (float64, float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pan, s.tilt
}

func (s *Sim) Step(a engine.Action) (engine.StepResult, error) {
	s.mu.Lock()
	s.tick++
	s.carryHeld()
	s.applyDrift()
	s.settle()
	res := engine.StepResult{Obs: engine.Observation{Tick: s.tick}}
	goal := s.goal
	if s.maxSteps > 0 && s.tick >= uint64(s.maxSteps) {
		res.Terminated = true
		res.Info.Reason = "max_steps"
	}
	s.mu.Unlock()

	if goal != nil && goal(s) {
		res.Terminated = true
		res.Info.GoalDone = true
		res.Info.Reason = "goal"
	}
	return res, nil
}

func (s *Sim) handPose() geom.Pose {
	rp := s.robot.pose
	return geom.Pose{Pos: rp.Pos.Add(rp.Rot.Rotate(handOffset)), Rot: rp.Rot}
}

func (s *Sim) carryHeld() {
	if s.held == "" {
		return
	}
	if o, ok := s.byH[s.held]; ok {
		hp := s.handPose()
		o.pose.Pos = hp.Pos
	}
}

func (s *Sim) applyDrift() {
	if s.drift == (geom.Vec3{}) {
		return
	}
	for _, o := range s.objs {
		if o.immovable && !o.fixed && o.handle != s.held {
			o.pose.Pos = o.pose.Pos.Add(s.drift)
		}
	}
}

// settle drops every loose object onto the highest support below it,
// lowest objects first.
func (s *Sim) settle() {
	loose := make([]*object, 0, len(s.objs))
	for _, o := range s.objs {
		if o.fixed || o.immovable || o.handle == s.held {
			continue
		}
		loose = append(loose, o)
	}
	sort.SliceStable(loose, func(i, j int) bool { return loose[i].aabb().Min.Z < loose[j].aabb().Min.Z })
	for _, o := range loose {
		b := o.aabb()
		support := 0.0
		for _, other := range s.objs {
			if other == o || other.handle == s.held || other.handle == RobotHandle {
				continue
			}
			ob := other.aabb()
			if !b.OverlapsXY(ob, 0.001) {
				continue
			}
			top := ob.Max.Z
			if other.container && ob.ContainsXY(b.Center()) && b.Min.Z < ob.Max.Z-supportEps {
				top = ob.Min.Z
			}
			if top <= b.Min.Z+supportEps && top > support {
				support = top
			}
		}
		if b.Min.Z > support {
			o.pose.Pos.Z -= b.Min.Z - support
		}
	}
}

func (s *Sim) Evaluate(kind engine.PredicateKind, h engine.Handle, other engine.Handle) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, err := s.get(h)
	if err != nil {
		return false, err
	}
	if kind == engine.Open {
		return o.open, nil
	}
	t, err := s.get(other)
	if err != nil {
		return false, err
	}
	ob, tb := o.aabb(), t.aabb()
	switch kind {
	case engine.Inside:
		return s.inside(o, t), nil
	case engine.OnTop:
		return tb.ContainsXY(ob.Center()) && math.Abs(ob.Min.Z-tb.Max.Z) <= predicateTol, nil
	case engine.Under:
		return tb.ContainsXY(ob.Center()) && ob.Max.Z <= tb.Max.Z && ob.Center().Z < tb.Center().Z, nil
	case engine.NextTo:
		gx := math.Max(0, math.Max(tb.Min.X-ob.Max.X, ob.Min.X-tb.Max.X))
		gy := math.Max(0, math.Max(tb.Min.Y-ob.Max.Y, ob.Min.Y-tb.Max.Y))
		avg := (tb.Width() + tb.Depth() + ob.Width() + ob.Depth()) / 4
		vertical := ob.Min.Z <= tb.Max.Z+0.1 && ob.Max.Z >= tb.Min.Z-0.1
		return math.Hypot(gx, gy) <= math.Max(avg/2, 0.1) && vertical && !ob.Overlaps(tb, penetrationPad), nil
	}
	return false, fmt.Errorf("memsim: unsupported predicate %q", kind)
}

func (s *Sim) inside(o, c *object) bool {
	ob, cb := o.aabb(), c.aabb()
	if !cb.ContainsXY(ob.Center()) {
		return false
	}
	if ob.Min.Z < cb.Min.Z-predicateTol || ob.Max.Z > cb.Max.Z+predicateTol {
		return false
	}
	for _, other := range s.objs {
		if other == o || other == c || other.container || other.handle == RobotHandle || other.handle == s.held {
			continue
		}
		if ob.Overlaps(other.aabb(), penetrationPad) {
			return false
		}
	}
	return true
}

func (s *Sim) SampleInside(obj, container engine.Handle, attempts int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, err := s.get(obj)
	if err != nil {
		return false, err
	}
	c, err := s.get(container)
	if err != nil {
		return false, err
	}
	if s.samplersOff || attempts <= 0 {
		return false, nil
	}
	saved := o.pose
	cb := c.aabb()
	o.pose = geom.Pose{Pos: geom.V(cb.Center().X, cb.Center().Y, cb.Min.Z+o.size.Z/2), Rot: geom.Identity}
	if s.inside(o, c) {
		return true, nil
	}
	o.pose = saved
	return false, nil
}

func (s *Sim) SampleOnTop(obj, target engine.Handle, attempts int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, err := s.get(obj)
	if err != nil {
		return false, err
	}
	t, err := s.get(target)
	if err != nil {
		return false, err
	}
	if s.samplersOff || attempts <= 0 {
		return false, nil
	}
	tb := t.aabb()
	o.pose = geom.Pose{Pos: geom.V(tb.Center().X, tb.Center().Y, tb.Max.Z+o.size.Z/2), Rot: geom.Identity}
	return true, nil
}

func (s *Sim) ShortestPath(floor int, src, dst geom.Vec2, fullPath, robotErosion bool) ([]geom.Vec2, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g := gridpath.NewGrid(
		geom.Vec2{X: s.bounds[0][0], Y: s.bounds[0][1]},
		geom.Vec2{X: s.bounds[1][0], Y: s.bounds[1][1]},
		0.1,
	)
	inflate := 0.0
	if robotErosion {
		inflate = robotRadius
	}
	for _, o := range s.objs {
		if o.obstacle {
			g.Block(o.aabb(), inflate)
		}
	}
	pts, ok := g.Route(src, dst)
	if !ok {
		return nil, fmt.Errorf("memsim: no route from %v to %v", src, dst)
	}
	if !fullPath {
		return []geom.Vec2{pts[0], pts[len(pts)-1]}, nil
	}
	return pts, nil
}
