package placement

import (
	"math"

	"palbridge.ai/internal/sim/engine"
	"palbridge.ai/internal/sim/execctx"
	"palbridge.ai/internal/sim/geom"
	"palbridge.ai/internal/sim/logic/placemath"
	"palbridge.ai/internal/sim/primerr"
)

const (
	nextToLift = 0.05
	underZ     = 0.05
)

// NextTo puts the held object beside the target's AABB in the configured
// direction. It always reports true; adjacency is logged, not enforced.
func (s *Solver) NextTo(st *execctx.Context, r Request) (bool, error) {
	cfg := r.Cfg
	obj, tgt := r.Object.Handle, r.Target.Handle
	tb, err := s.env.AABB(tgt)
	if err != nil {
		return false, primerr.Engine("place_next_to", err)
	}
	rp, err := s.robotPose()
	if err != nil {
		return false, err
	}
	size, err := s.nativeSize(obj)
	if err != nil {
		return false, err
	}

	dir := cfg.NextToDirection
	if cfg.NextToRandomizeDirection {
		dir = placemath.RandomAxis(st.Rng.Intn)
	}
	d := placemath.Direction(dir, tb.Center(), rp.Pos)
	half := tb.HalfExtent()
	margin := placemath.NextToMargin(math.Min(half.X, half.Y), cfg.NextToMarginFactor, cfg.NextToMarginMin, cfg.NextToMarginMax)
	side := placemath.Spread(st.CountPlacement(tgt), cfg.NextToSpreadOffset)

	z := tb.Min.Z + nextToLift
	if cfg.NextToForceZ != nil {
		z = *cfg.NextToForceZ
	}
	if cfg.NextToGentleRelease {
		z = size.Z/2 + dropClearance
	}
	pos := placemath.NextToPoint(tb, d, margin, side, z)

	if err := s.release("place_next_to"); err != nil {
		return false, err
	}
	if err := s.teleport(obj, pos, geom.Identity); err != nil {
		return false, err
	}
	// A frozen teleport has nothing to settle.
	if cfg.NextToGentleRelease || !cfg.FixAfterPlacement {
		if err := s.settle(cfg.PlaceSettleSteps); err != nil {
			return false, err
		}
	}
	if cfg.FixAfterPlacement {
		if err := s.freeze(obj); err != nil {
			return false, err
		}
		if err := s.track(st, r.Object, "", false); err != nil {
			return false, err
		}
	}
	if !cfg.SkipNextToVerification && !s.check(engine.NextTo, obj, tgt) {
		s.logger.Printf("NextTo(%s, %s) false at %v (dir=%s margin=%.3f); deferring to goal check",
			r.Object.Name, r.Target.Name, pos, dir, margin)
	}
	return true, nil
}

// Under puts the held object at floor level within the target's footprint.
func (s *Solver) Under(st *execctx.Context, r Request) (bool, error) {
	cfg := r.Cfg
	obj, tgt := r.Object.Handle, r.Target.Handle
	tb, err := s.env.AABB(tgt)
	if err != nil {
		return false, primerr.Engine("place_under", err)
	}
	dx, dy := placemath.UnderOffset(tb.HalfExtent(), st.CountPlacement(tgt), cfg.NextToSpreadOffset, st.Rng.Float64)
	z := underZ
	if cfg.NextToForceZ != nil {
		z = *cfg.NextToForceZ
	}
	c := tb.Center()
	pos := geom.V(c.X+dx, c.Y+dy, z)

	if err := s.release("place_under"); err != nil {
		return false, err
	}
	if err := s.teleport(obj, pos, geom.Identity); err != nil {
		return false, err
	}
	if cfg.FixAfterPlacement {
		if err := s.freeze(obj); err != nil {
			return false, err
		}
		if err := s.track(st, r.Object, "", false); err != nil {
			return false, err
		}
	} else if err := s.settle(cfg.PlaceSettleSteps); err != nil {
		return false, err
	}
	if !s.check(engine.Under, obj, tgt) {
		s.logger.Printf("Under(%s, %s) false at %v; deferring to goal check", r.Object.Name, r.Target.Name, pos)
	}
	return true, nil
}
