package placement

import (
	"palbridge.ai/internal/sim/engine"
	"palbridge.ai/internal/sim/geom"
	"palbridge.ai/internal/sim/names"
	"palbridge.ai/internal/sim/primerr"
)

// restoreOnTop re-seats declared tops (a lid, a pizza) on the object just
// placed.
func (s *Solver) restoreOnTop(r Request) error {
	for _, pair := range r.Cfg.RestoreOnTopPairs {
		if !names.MatchPattern(r.Object.Name, pair.Bottom) {
			continue
		}
		top, ok := findOther(r.Names, pair.Top, r.Object.Handle)
		if !ok {
			s.logger.Printf("restore on-top: no object matches %q", pair.Top)
			continue
		}
		ok, err := s.env.SampleOnTop(top.Handle, r.Object.Handle, max(r.Cfg.SamplingAttempts, 1))
		if err != nil {
			return primerr.Engine("restore_on_top", err)
		}
		if !ok {
			if err := s.seatOnTop(top.Handle, r.Object.Handle); err != nil {
				return err
			}
		}
		if err := s.settle(restoreSettle); err != nil {
			return err
		}
		s.logger.Printf("restored %s on top of %s", top.Name, r.Object.Name)
	}
	return nil
}

func (s *Solver) seatOnTop(top, bottom engine.Handle) error {
	bb, err := s.env.AABB(bottom)
	if err != nil {
		return primerr.Engine("restore_on_top", err)
	}
	size, err := s.nativeSize(top)
	if err != nil {
		return err
	}
	c := bb.Center()
	return s.teleport(top, geom.V(c.X, c.Y, bb.Max.Z+size.Z/2+dropClearance), geom.Identity)
}

// joinContained puts objects that travel inside the placed container back
// into it when transport shook them out.
func (s *Solver) joinContained(r Request) error {
	for _, pair := range r.Cfg.JoinContainedDuringTransport {
		if !names.MatchPattern(r.Object.Name, pair.Container) {
			continue
		}
		inner, ok := findOther(r.Names, pair.Object, r.Object.Handle)
		if !ok || s.check(engine.Inside, inner.Handle, r.Object.Handle) {
			continue
		}
		ok, err := s.env.SampleInside(inner.Handle, r.Object.Handle, max(r.Cfg.SamplingAttempts, 1))
		if err != nil {
			return primerr.Engine("join_contained", err)
		}
		if !ok {
			cb, err := s.env.AABB(r.Object.Handle)
			if err != nil {
				return primerr.Engine("join_contained", err)
			}
			if err := s.teleport(inner.Handle, cb.Center(), geom.Identity); err != nil {
				return err
			}
		}
		if err := s.settle(joinSettle); err != nil {
			return err
		}
		if s.check(engine.Inside, inner.Handle, r.Object.Handle) {
			if err := s.freeze(inner.Handle); err != nil {
				return err
			}
			if err := s.freeze(r.Object.Handle); err != nil {
				return err
			}
			s.logger.Printf("rejoined %s inside %s", inner.Name, r.Object.Name)
		} else {
			s.logger.Printf("could not rejoin %s inside %s", inner.Name, r.Object.Name)
		}
	}
	return nil
}

// retreat parks the robot at the configured point after placing into a
// matching container.
func (s *Solver) retreat(r Request) error {
	cfg := r.Cfg
	if cfg.RetreatAfterContainer == "" || cfg.RetreatPoint == nil || !names.MatchPattern(r.Target.Name, cfg.RetreatAfterContainer) {
		return nil
	}
	robot, err := s.env.Robot()
	if err != nil {
		return primerr.Engine("retreat", err)
	}
	rp, err := s.robotPose()
	if err != nil {
		return err
	}
	p := cfg.RetreatPoint
	rp.Pos = geom.V(p[0], p[1], p[2])
	if err := s.env.SetPose(robot, rp); err != nil {
		return primerr.Engine("retreat", err)
	}
	return s.settle(retreatSettle)
}
