// Package navigation moves the robot base to an approach point in front of a
// target, optionally routing through a via object or a closed door first.
package navigation

import (
	"io"
	"log"
	"math"

	"palbridge.ai/internal/sim/engine"
	"palbridge.ai/internal/sim/execctx"
	"palbridge.ai/internal/sim/feature/doorcross"
	"palbridge.ai/internal/sim/feature/tick"
	"palbridge.ai/internal/sim/geom"
	"palbridge.ai/internal/sim/logic/navmath"
	"palbridge.ai/internal/sim/names"
	"palbridge.ai/internal/sim/primconfig"
	"palbridge.ai/internal/sim/primerr"
)

type Env interface {
	engine.Scene
	engine.Bodies
	engine.Predicates
}

// Crosser opens a door on the way to a target.
type Crosser interface {
	Cross(door engine.ObjectInfo) (doorcross.State, error)
}

type Mode string

const (
	ModeTeleport Mode = "teleport"
	ModeStraight Mode = "straight"
	ModeWaypoint Mode = "waypoint"
)

type Controller struct {
	env     Env
	paths   engine.Pathfinder
	runner  *tick.Runner
	crosser Crosser
	logger  *log.Logger

	// crossing suppresses door checks for navigations issued by the crossing
	// itself.
	crossing bool
}

// New builds a controller; paths may be nil when no route service exists.
func New(env Env, paths engine.Pathfinder, runner *tick.Runner, logger *log.Logger) *Controller {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Controller{env: env, paths: paths, runner: runner, logger: logger}
}

func (c *Controller) SetCrosser(cr Crosser) { c.crosser = cr }

func ModeFor(cfg primconfig.Config, havePaths bool) Mode {
	switch {
	case cfg.UseTeleportNavigation:
		return ModeTeleport
	case cfg.UseWaypointNavigation && havePaths:
		return ModeWaypoint
	default:
		return ModeStraight
	}
}

// NavigateTo drives to target and records it as the navigation state on
// success. An episode that terminates on the way decides the result.
func (c *Controller) NavigateTo(st *execctx.Context, cfg primconfig.Config, objs *names.Resolver, target engine.ObjectInfo) (bool, error) {
	if !c.crossing {
		if err := c.maybeCrossDoor(cfg, objs, target); err != nil {
			return false, err
		}
	}
	if via, ok := c.viaFor(cfg, objs, target); ok {
		c.logger.Printf("routing to %s via %s", target.Name, via.Name)
		ok, err := c.moveTo(cfg, via.Handle)
		if err != nil || !ok {
			return ok, err
		}
	}
	ok, err := c.moveTo(cfg, target.Handle)
	if err != nil {
		return false, err
	}
	if ok {
		st.Nav = execctx.NavigationState{Target: target.Handle, Name: target.Name}
	}
	return ok, nil
}

func (c *Controller) maybeCrossDoor(cfg primconfig.Config, objs *names.Resolver, target engine.ObjectInfo) error {
	rule := cfg.DoorCrossing
	if rule == nil || c.crosser == nil || !matchesAny(target.Name, rule.Targets) {
		return nil
	}
	door, ok := findOther(objs, rule.Door, target.Handle)
	if !ok {
		c.logger.Printf("door crossing: no object matches %q", rule.Door)
		return nil
	}
	open, err := c.env.Evaluate(engine.Open, door.Handle, "")
	if err != nil {
		c.logger.Printf("door crossing: open state of %s: %v", door.Name, err)
		return nil
	}
	if open {
		return nil
	}
	c.crossing = true
	end, err := c.crosser.Cross(door)
	c.crossing = false
	if err != nil {
		// The outer navigation continues regardless; a spent step budget
		// resurfaces on its next tick.
		c.logger.Printf("continuing to %s after crossing stopped at %s: %v", target.Name, end, err)
	}
	return nil
}

func (c *Controller) viaFor(cfg primconfig.Config, objs *names.Resolver, target engine.ObjectInfo) (engine.ObjectInfo, bool) {
	rule := cfg.NavigationVia
	if rule == nil || !names.MatchPattern(target.Name, rule.Target) {
		return engine.ObjectInfo{}, false
	}
	return findOther(objs, rule.Via, target.Handle)
}

func (c *Controller) moveTo(cfg primconfig.Config, target engine.Handle) (bool, error) {
	robot, err := c.env.Robot()
	if err != nil {
		return false, primerr.Engine("navigate", err)
	}
	start, err := c.env.Pose(robot)
	if err != nil {
		return false, primerr.Engine("navigate", err)
	}
	tp, err := c.env.Pose(target)
	if err != nil {
		return false, primerr.Engine("navigate", err)
	}
	final := navmath.ApproachPoint(start.Pos, tp.Pos, cfg.ApproachDistance)
	rot := start.Rot
	if !cfg.SkipBaseRotation {
		rot = geom.YawQuat(math.Atan2(tp.Pos.Y-final.Y, tp.Pos.X-final.X))
	}

	mode := ModeFor(cfg, c.paths != nil)
	if mode == ModeTeleport {
		if err := c.env.SetPose(robot, geom.Pose{Pos: final, Rot: rot}); err != nil {
			return false, primerr.Engine("navigate", err)
		}
		res, err := c.runner.Step(engine.NoOp)
		if err != nil {
			return false, err
		}
		return !res.Terminated || res.Info.GoalDone, nil
	}

	waypoints := []geom.Vec3{final}
	if mode == ModeWaypoint {
		waypoints = c.route(start.Pos, final)
	}
	cur := start.Pos
	for _, wp := range waypoints {
		for _, p := range navmath.Segment(cur, wp, cfg.NavStepSize) {
			if err := c.env.SetPose(robot, geom.Pose{Pos: p, Rot: rot}); err != nil {
				return false, primerr.Engine("navigate", err)
			}
			res, err := c.runner.Step(engine.NoOp)
			if err != nil {
				return false, err
			}
			if res.Terminated {
				return res.Info.GoalDone, nil
			}
		}
		cur = wp
	}
	return true, nil
}

// route asks the path service for waypoints, falling back to a straight
// line when it fails or returns a degenerate path.
func (c *Controller) route(from, to geom.Vec3) []geom.Vec3 {
	pts, err := c.paths.ShortestPath(0, from.XY(), to.XY(), true, true)
	if err != nil || len(pts) <= 1 {
		if err != nil {
			c.logger.Printf("path service: %v; walking straight", err)
		}
		return []geom.Vec3{to}
	}
	out := make([]geom.Vec3, 0, len(pts)-1)
	for _, p := range pts[1:] {
		out = append(out, geom.V(p.X, p.Y, from.Z))
	}
	out[len(out)-1] = to
	return out
}

func matchesAny(name string, patterns []string) bool {
	for _, p := range patterns {
		if names.MatchPattern(name, p) {
			return true
		}
	}
	return false
}

// findOther resolves pattern to a scene object other than self.
func findOther(objs *names.Resolver, pattern string, self engine.Handle) (engine.ObjectInfo, bool) {
	for _, o := range objs.FindContaining(pattern) {
		if o.Handle != self {
			return o, true
		}
	}
	if o, _, err := objs.Resolve(pattern); err == nil && o.Handle != self {
		return o, true
	}
	return engine.ObjectInfo{}, false
}
