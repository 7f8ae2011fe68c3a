// Package settle runs the no-op ticks that follow instant primitives and
// keeps the robot's head on the object being operated during continuous
// ones.
package settle

import (
	"io"
	"log"

	"palbridge.ai/internal/sim/engine"
	"palbridge.ai/internal/sim/feature/tick"
	"palbridge.ai/internal/sim/geom"
	"palbridge.ai/internal/sim/logic/navmath"
	"palbridge.ai/internal/sim/primerr"
)

const (
	// InstantFrameEvery is the frame cadence while settling.
	InstantFrameEvery = 3
	eyeHeight         = 1.2
)

type Env interface {
	engine.Scene
	engine.Bodies
	engine.Robot
	engine.Actuator
}

type Controller struct {
	env    Env
	runner *tick.Runner
	logger *log.Logger
}

func New(env Env, runner *tick.Runner, logger *log.Logger) *Controller {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Controller{env: env, runner: runner, logger: logger}
}

// RunInstant runs the native action for an instant primitive, then settles
// for n ticks. Early episode termination still falls through to settling.
func (c *Controller) RunInstant(kind engine.ActionKind, target engine.Handle, n int) (bool, error) {
	plan, err := c.env.Begin(kind, target)
	if err != nil {
		return false, primerr.Engine(string(kind), err)
	}
	out, err := c.runner.RunPlan(plan)
	if err != nil {
		return false, err
	}
	if out.Terminated {
		c.logger.Printf("%s: episode terminated after %d ticks, settling anyway", kind, out.Ticks)
	}
	if err := c.Settle(n); err != nil {
		return false, err
	}
	return true, nil
}

func (c *Controller) Settle(n int) error {
	return c.runner.Settle(n, InstantFrameEvery)
}

// Reorient points the head at target. Failures are logged, never returned:
// a missed glance must not fail the primitive.
func (c *Controller) Reorient(target engine.Handle) {
	robot, err := c.env.Robot()
	if err != nil {
		c.logger.Printf("reorient: robot: %v", err)
		return
	}
	rp, err := c.env.Pose(robot)
	if err != nil {
		c.logger.Printf("reorient: robot pose: %v", err)
		return
	}
	tb, err := c.env.AABB(target)
	if err != nil {
		c.logger.Printf("reorient: %s: %v", target, err)
		return
	}
	eye := rp.Pos.Add(geom.V(0, 0, eyeHeight))
	pan, tilt := navmath.HeadPanTilt(rp.Rot.Yaw(), eye, tb.Center())
	if err := c.env.SetHeadPanTilt(pan, tilt); err != nil {
		c.logger.Printf("reorient: head: %v", err)
	}
}

// Reorienter returns the periodic hook for a continuous primitive acting on
// target, or nil when orientation is disabled.
func (c *Controller) Reorienter(target engine.Handle, skip bool) func() {
	if skip || target == "" {
		return nil
	}
	return func() { c.Reorient(target) }
}
