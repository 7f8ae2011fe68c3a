// Package placement finds and applies a pose for the held object relative to
// a target: inside a container, on top of a surface, next to or under an
// object.
package placement

import (
	"io"
	"log"

	"palbridge.ai/internal/sim/engine"
	"palbridge.ai/internal/sim/execctx"
	"palbridge.ai/internal/sim/feature/tick"
	"palbridge.ai/internal/sim/geom"
	"palbridge.ai/internal/sim/names"
	"palbridge.ai/internal/sim/primconfig"
	"palbridge.ai/internal/sim/primerr"
)

const (
	// FrameEvery is the capture cadence during placement settles.
	FrameEvery = 8

	dropClearance    = 0.001
	gentleSettle     = 30
	postGentleSettle = 10
	manualSettle     = 20
	restoreSettle    = 5
	joinSettle       = 20
	retreatSettle    = 10
)

type Env interface {
	engine.Scene
	engine.Bodies
	engine.Predicates
	engine.Robot
	engine.Samplers
}

// Request is one placement call. Object is the held object, Target the
// reference object.
type Request struct {
	Cfg    primconfig.Config
	Object engine.ObjectInfo
	Target engine.ObjectInfo
	Names  *names.Resolver
}

type Solver struct {
	env    Env
	runner *tick.Runner
	logger *log.Logger
}

func New(env Env, runner *tick.Runner, logger *log.Logger) *Solver {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Solver{env: env, runner: runner, logger: logger}
}

func (s *Solver) settle(n int) error { return s.runner.Settle(n, FrameEvery) }

func (s *Solver) teleport(h engine.Handle, pos geom.Vec3, rot geom.Quat) error {
	if err := s.env.SetPose(h, geom.Pose{Pos: pos, Rot: rot}); err != nil {
		return primerr.Engine("teleport", err)
	}
	return primerr.Engine("teleport", s.env.ZeroVelocity(h))
}

func (s *Solver) freeze(h engine.Handle) error {
	return primerr.Engine("freeze", s.env.SetImmovable(h, true))
}

func (s *Solver) release(op string) error {
	return primerr.Engine(op, s.env.ReleaseImmediately())
}

// nativeSize is the rest-state extent, falling back to the live AABB when
// the engine cannot report it.
func (s *Solver) nativeSize(h engine.Handle) (geom.Vec3, error) {
	size, ok, err := s.env.NativeSize(h)
	if err != nil {
		return geom.Vec3{}, primerr.Engine("native_size", err)
	}
	if ok {
		return size, nil
	}
	b, err := s.env.AABB(h)
	if err != nil {
		return geom.Vec3{}, primerr.Engine("aabb", err)
	}
	return b.Extent(), nil
}

func (s *Solver) check(kind engine.PredicateKind, a, b engine.Handle) bool {
	ok, err := s.env.Evaluate(kind, a, b)
	if err != nil {
		s.logger.Printf("%s(%s, %s): %v", kind, a, b, err)
		return false
	}
	return ok
}

// track records a frozen placement so later ticks hold it in place.
func (s *Solver) track(st *execctx.Context, obj engine.ObjectInfo, container engine.Handle, inside bool) error {
	p, err := s.env.Pose(obj.Handle)
	if err != nil {
		return primerr.Engine("track", err)
	}
	st.Track(execctx.TrackedFixedObject{
		Handle:       obj.Handle,
		Name:         obj.Name,
		Pose:         p,
		Container:    container,
		PlacedInside: inside,
	})
	return nil
}

func (s *Solver) robotPose() (geom.Pose, error) {
	robot, err := s.env.Robot()
	if err != nil {
		return geom.Pose{}, primerr.Engine("robot", err)
	}
	p, err := s.env.Pose(robot)
	if err != nil {
		return geom.Pose{}, primerr.Engine("robot", err)
	}
	return p, nil
}

// findOther resolves pattern to a scene object other than self.
func findOther(objs *names.Resolver, pattern string, self engine.Handle) (engine.ObjectInfo, bool) {
	if objs == nil {
		return engine.ObjectInfo{}, false
	}
	if o, _, err := objs.Resolve(pattern); err == nil && o.Handle != self {
		return o, true
	}
	for _, o := range objs.FindContaining(pattern) {
		if o.Handle != self {
			return o, true
		}
	}
	return engine.ObjectInfo{}, false
}
