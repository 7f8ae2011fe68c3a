package placement

import (
	"palbridge.ai/internal/sim/engine"
	"palbridge.ai/internal/sim/execctx"
	"palbridge.ai/internal/sim/geom"
	"palbridge.ai/internal/sim/names"
	"palbridge.ai/internal/sim/primerr"
)

const (
	// robotSideFraction places floor drops most of the way from the robot
	// toward the target.
	robotSideFraction = 0.6
	robotSideZ        = 0.15
)

// OnTop places the held object on the target: native sampler, then a gentle
// drop, then a manual teleport. Whichever runs is accepted; an unconfirmed
// OnTop predicate is only logged.
func (s *Solver) OnTop(st *execctx.Context, r Request) (bool, error) {
	cfg := r.Cfg
	obj, tgt := r.Object.Handle, r.Target.Handle
	if err := s.release("place_on_top"); err != nil {
		return false, err
	}
	if cfg.PlaceOnTopAtRobotPosition && names.IsStructural(r.Target.Name) {
		return s.onFloorNearRobot(r)
	}

	placed := false
	if cfg.SamplingAttempts > 0 && !cfg.UseSmartPlacement {
		ok, err := s.env.SampleOnTop(obj, tgt, cfg.SamplingAttempts)
		if err != nil {
			return false, primerr.Engine("place_on_top", err)
		}
		if ok {
			if err := s.settle(cfg.PlaceSettleSteps); err != nil {
				return false, err
			}
			placed = true
		}
	}
	if !placed {
		ok, err := s.gentleDrop(r)
		if err != nil {
			return false, err
		}
		placed = ok
	}
	if !placed {
		if err := s.manualOnTop(r); err != nil {
			return false, err
		}
	}

	if !s.check(engine.OnTop, obj, tgt) {
		s.logger.Printf("OnTop(%s, %s) not confirmed after placement; accepting", r.Object.Name, r.Target.Name)
	}
	if cfg.FixAfterPlacement {
		if err := s.freeze(obj); err != nil {
			return false, err
		}
		if err := s.track(st, r.Object, "", false); err != nil {
			return false, err
		}
	}
	return true, nil
}

// gentleDrop releases the object just above the target's top face with the
// target frozen underneath it. It reports false when the object ended up
// off the target's footprint.
func (s *Solver) gentleDrop(r Request) (bool, error) {
	obj, tgt := r.Object.Handle, r.Target.Handle
	tb, err := s.env.AABB(tgt)
	if err != nil {
		return false, primerr.Engine("place_on_top", err)
	}
	size, err := s.nativeSize(obj)
	if err != nil {
		return false, err
	}
	c := tb.Center()
	pos := geom.V(c.X, c.Y, tb.Max.Z+size.Z/2+dropClearance)

	was, err := s.env.Immovable(tgt)
	if err != nil {
		return false, primerr.Engine("place_on_top", err)
	}
	if !was {
		if err := s.freeze(tgt); err != nil {
			return false, err
		}
	}
	if err := s.teleport(obj, pos, geom.Identity); err != nil {
		return false, err
	}
	n := r.Cfg.PlaceSettleSteps
	if n <= 0 {
		n = gentleSettle
	}
	if err := s.settle(n); err != nil {
		return false, err
	}
	if !was {
		if err := primerr.Engine("place_on_top", s.env.SetImmovable(tgt, false)); err != nil {
			return false, err
		}
	}
	if err := s.settle(postGentleSettle); err != nil {
		return false, err
	}
	ob, err := s.env.AABB(obj)
	if err != nil {
		return false, primerr.Engine("place_on_top", err)
	}
	return tb.ContainsXY(ob.Center()), nil
}

// manualOnTop teleports onto the target top using native dimensions.
func (s *Solver) manualOnTop(r Request) error {
	obj, tgt := r.Object.Handle, r.Target.Handle
	tb, err := s.env.AABB(tgt)
	if err != nil {
		return primerr.Engine("place_on_top", err)
	}
	size, err := s.nativeSize(obj)
	if err != nil {
		return err
	}
	c := tb.Center()
	pos := geom.V(c.X, c.Y, tb.Max.Z+size.Z/2+r.Cfg.PlacementMargin)
	if err := s.teleport(obj, pos, geom.Identity); err != nil {
		return err
	}
	s.logger.Printf("manual on-top placement of %s at %v", r.Object.Name, pos)
	return s.settle(manualSettle)
}

// onFloorNearRobot drops the object between the robot and a floor-class
// target instead of at the target's centre.
func (s *Solver) onFloorNearRobot(r Request) (bool, error) {
	rp, err := s.robotPose()
	if err != nil {
		return false, err
	}
	tp, err := s.env.Pose(r.Target.Handle)
	if err != nil {
		return false, primerr.Engine("place_on_top", err)
	}
	pos := rp.Pos.Add(tp.Pos.Sub(rp.Pos).Scale(robotSideFraction))
	pos.Z = robotSideZ
	if err := s.teleport(r.Object.Handle, pos, geom.Identity); err != nil {
		return false, err
	}
	if err := s.settle(r.Cfg.PlaceSettleSteps); err != nil {
		return false, err
	}
	return s.check(engine.OnTop, r.Object.Handle, r.Target.Handle), nil
}
