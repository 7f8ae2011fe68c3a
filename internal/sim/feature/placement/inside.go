package placement

import (
	"math"

	"palbridge.ai/internal/sim/engine"
	"palbridge.ai/internal/sim/execctx"
	"palbridge.ai/internal/sim/geom"
	"palbridge.ai/internal/sim/logic/placemath"
	"palbridge.ai/internal/sim/names"
	"palbridge.ai/internal/sim/primconfig"
	"palbridge.ai/internal/sim/primerr"
)

// containerDrift is how far a container may wander during the candidate
// loop before it is put back.
const containerDrift = 0.005

// insideSearch carries the candidate loop's state between phases.
type insideSearch struct {
	box      geom.AABB
	dims     geom.Vec3
	rot      geom.Quat
	origin   geom.Vec3
	existing []geom.AABB

	tried    int
	best     *placemath.Candidate
	accepted bool
	pose     geom.Pose
}

// Inside places the held object in the target container. It reports true
// for every acceptance path; only an empty candidate list in teleport mode
// is an error.
func (s *Solver) Inside(st *execctx.Context, r Request) (bool, error) {
	cfg := r.Cfg
	obj, cont := r.Object.Handle, r.Target.Handle
	if err := s.release("place_inside"); err != nil {
		return false, err
	}
	contPose, err := s.env.Pose(cont)
	if err != nil {
		return false, primerr.Engine("place_inside", err)
	}
	if cfg.FixAfterPlacement {
		if err := s.freeze(cont); err != nil {
			return false, err
		}
	}

	var verified *geom.Pose
	if cfg.SamplingAttempts > 0 && !cfg.UseSmartPlacement {
		ok, err := s.env.SampleInside(obj, cont, cfg.SamplingAttempts)
		if err != nil {
			return false, primerr.Engine("place_inside", err)
		}
		if ok {
			p, err := s.env.Pose(obj)
			if err != nil {
				return false, primerr.Engine("place_inside", err)
			}
			verified = &p
			s.logger.Printf("%s inside %s via native sampler", r.Object.Name, r.Target.Name)
		}
	}

	var search *insideSearch
	if verified == nil {
		search, err = s.searchInside(st, r, contPose)
		if err != nil {
			return false, err
		}
		switch {
		case search.accepted:
			verified = &search.pose
		case cfg.TeleportPlacement:
			if search.best == nil {
				return false, primerr.New(primerr.CodeSamplingExhausted, "place_inside", "no candidate fits %s in %s", r.Object.Name, r.Target.Name)
			}
			if err := s.teleport(obj, search.best.Pos, search.rot); err != nil {
				return false, err
			}
			p := geom.Pose{Pos: search.best.Pos, Rot: search.rot}
			verified = &p
			s.logger.Printf("all %d candidates failed Inside for %s; accepting best %s at %v",
				search.tried, r.Object.Name, search.best.Source, search.best.Pos)
		default:
			p, err := s.manualInside(r, search)
			if err != nil {
				return false, err
			}
			verified = &p
		}
	}
	if cfg.FixAfterPlacement {
		if err := s.freeze(obj); err != nil {
			return false, err
		}
	}

	if err := s.settleInside(r, search); err != nil {
		return false, err
	}

	if cfg.FixAfterPlacement {
		st.Track(execctx.TrackedFixedObject{
			Handle:       obj,
			Name:         r.Object.Name,
			Pose:         *verified,
			Container:    cont,
			PlacedInside: true,
		})
		st.TrackContainerOnce(execctx.TrackedFixedObject{Handle: cont, Name: r.Target.Name, Pose: contPose})
	}

	if err := s.restoreOnTop(r); err != nil {
		return false, err
	}
	if err := s.joinContained(r); err != nil {
		return false, err
	}
	if err := s.retreat(r); err != nil {
		return false, err
	}
	return true, nil
}

func (s *Solver) searchInside(st *execctx.Context, r Request, contPose geom.Pose) (*insideSearch, error) {
	cfg := r.Cfg
	obj, cont := r.Object.Handle, r.Target.Handle
	box, err := s.env.AABB(cont)
	if err != nil {
		return nil, primerr.Engine("place_inside", err)
	}
	size, err := s.nativeSize(obj)
	if err != nil {
		return nil, err
	}
	search := &insideSearch{box: box, origin: box.Center()}
	var rotated bool
	search.dims, search.rot, rotated = placemath.FitInside(size, box.Height())
	if rotated {
		s.logger.Printf("%s lies on its side to fit under the rim of %s", r.Object.Name, r.Target.Name)
	}
	search.existing, err = s.existingInside(box, obj, cont)
	if err != nil {
		return nil, err
	}
	absolute := false
	if len(search.existing) > 0 {
		search.origin = placemath.Centroid(search.existing, box.Min.Z)
		absolute = true
	}
	slots, tier0 := strategicSlots(st, cfg, r.Object.Name)
	cands := placemath.InsideCandidates(placemath.InsideInput{
		Container: box,
		Origin:    search.origin,
		Absolute:  absolute,
		Dims:      search.dims,
		Existing:  search.existing,
		Margin:    cfg.PlacementMargin,
		StackGap:  cfg.StackGap,
		Strategic: slots,
		Tier0:     tier0,
		Order:     cfg.PlacementOrder,
	})

	for i := range cands {
		c := cands[i]
		search.tried++
		if search.best == nil {
			search.best = &cands[i]
		}
		if err := s.teleport(obj, c.Pos, search.rot); err != nil {
			return nil, err
		}
		if _, err := s.runner.Step(engine.NoOp); err != nil {
			return nil, err
		}
		if cfg.FixAfterPlacement {
			if err := s.holdContainer(cont, contPose); err != nil {
				return nil, err
			}
		}
		if !s.check(engine.Inside, obj, cont) {
			continue
		}
		search.accepted = true
		search.pose = geom.Pose{Pos: c.Pos, Rot: search.rot}
		if cfg.TeleportPlacement {
			live, err := s.env.Pose(obj)
			if err != nil {
				return nil, primerr.Engine("place_inside", err)
			}
			search.pose = live
		}
		s.logger.Printf("%s inside %s at %s candidate %v (%d tried)", r.Object.Name, r.Target.Name, c.Source, c.Pos, search.tried)
		return search, nil
	}
	return search, nil
}

// holdContainer puts a frozen container back if the candidate tick moved it.
func (s *Solver) holdContainer(cont engine.Handle, want geom.Pose) error {
	p, err := s.env.Pose(cont)
	if err != nil {
		return primerr.Engine("place_inside", err)
	}
	if p.Pos.Dist(want.Pos) <= containerDrift {
		return nil
	}
	return primerr.Engine("place_inside", s.env.SetPose(cont, want))
}

// existingInside lists the boxes of objects already in the container,
// ignoring structure, the robot, and the two objects being placed.
func (s *Solver) existingInside(box geom.AABB, obj, cont engine.Handle) ([]geom.AABB, error) {
	objects, err := s.env.Objects()
	if err != nil {
		return nil, primerr.Engine("place_inside", err)
	}
	robot, err := s.env.Robot()
	if err != nil {
		return nil, primerr.Engine("place_inside", err)
	}
	var boxes []geom.AABB
	for _, o := range objects {
		if o.Handle == obj || o.Handle == cont || o.Handle == robot || names.IsStructural(o.Name) {
			continue
		}
		b, err := s.env.AABB(o.Handle)
		if err != nil {
			return nil, primerr.Engine("place_inside", err)
		}
		boxes = append(boxes, b)
	}
	return placemath.ExistingInside(box, boxes), nil
}

// strategicSlots consumes the next placement_map slot for name. The current
// slot is tier 0, later ones tier 1.
func strategicSlots(st *execctx.Context, cfg primconfig.Config, name string) ([][2]float64, int) {
	slots, ok := cfg.MatchSlots(name)
	if !ok || len(slots.Offsets) == 0 {
		return nil, 0
	}
	i := st.TakeSlot(slots.Pattern)
	if i >= len(slots.Offsets) {
		return nil, 0
	}
	return slots.Offsets[i:], 1
}

// manualInside is the physics-mode fallback: a denser grid with full
// settling per position, then a forced drop at the centre.
func (s *Solver) manualInside(r Request, search *insideSearch) (geom.Pose, error) {
	cfg := r.Cfg
	obj, cont := r.Object.Handle, r.Target.Handle
	box := search.box
	z := placemath.ManualZ(box, search.existing, search.dims.Z, cfg.StackGap)
	per := cfg.PlaceSettleSteps / 3
	if per > manualSettle {
		per = manualSettle
	}
	margin := cfg.PlacementMargin
	for _, off := range placemath.ManualOffsets(cfg.PlacementOrder) {
		pos := geom.V(
			geom.Clamp(search.origin.X+off[0], box.Min.X+margin, box.Max.X-margin),
			geom.Clamp(search.origin.Y+off[1], box.Min.Y+margin, box.Max.Y-margin),
			z,
		)
		if err := s.teleport(obj, pos, search.rot); err != nil {
			return geom.Pose{}, err
		}
		if err := s.settle(per); err != nil {
			return geom.Pose{}, err
		}
		if s.check(engine.Inside, obj, cont) {
			s.logger.Printf("%s inside %s on manual pass at %v", r.Object.Name, r.Target.Name, pos)
			return geom.Pose{Pos: pos, Rot: search.rot}, nil
		}
	}
	c := box.Center()
	pos := geom.V(c.X, c.Y, z)
	if err := s.teleport(obj, pos, search.rot); err != nil {
		return geom.Pose{}, err
	}
	s.logger.Printf("forcing %s into %s at %v", r.Object.Name, r.Target.Name, pos)
	return geom.Pose{Pos: pos, Rot: search.rot}, nil
}

// settleInside lets the placement rest, then re-seats a loose object once at
// the container centre if it is no longer inside.
func (s *Solver) settleInside(r Request, search *insideSearch) error {
	cfg := r.Cfg
	quick := 20
	if cfg.PlaceSettleSteps <= 15 {
		quick = 2
	}
	if err := s.settle(quick + cfg.PlaceSettleSteps); err != nil {
		return err
	}
	obj, cont := r.Object.Handle, r.Target.Handle
	frozen, err := s.env.Immovable(obj)
	if err != nil {
		return primerr.Engine("place_inside", err)
	}
	if frozen || s.check(engine.Inside, obj, cont) {
		return nil
	}
	box, err := s.env.AABB(cont)
	if err != nil {
		return primerr.Engine("place_inside", err)
	}
	size, err := s.nativeSize(obj)
	if err != nil {
		return err
	}
	rot := geom.Identity
	h := size.Z
	if search != nil {
		rot, h = search.rot, search.dims.Z
	}
	c := box.Center()
	pos := geom.V(c.X, c.Y, math.Min(placemath.FloorZ(box, h), placemath.RimZ(box, h)))
	s.logger.Printf("%s slipped out of %s; re-placing at centre", r.Object.Name, r.Target.Name)
	if err := s.teleport(obj, pos, rot); err != nil {
		return err
	}
	return s.settle(manualSettle)
}
