package memsim

import (
	"fmt"

	"palbridge.ai/internal/sim/engine"
)

// plan is a countdown state machine: ticks actions, then applies finish once.
type plan struct {
	s         *Sim
	remaining int
	forever   bool
	finish    func()
	finished  bool
}

func (p *plan) Advance() (engine.Action, bool, error) {
	if p.forever {
		return engine.Action{Joints: []float64{0}}, false, nil
	}
	if p.remaining > 0 {
		p.remaining--
		return engine.Action{Joints: []float64{float64(p.remaining)}}, false, nil
	}
	if !p.finished {
		p.finished = true
		if p.finish != nil {
			p.s.mu.Lock()
			p.finish()
			p.s.mu.Unlock()
		}
	}
	return engine.Action{}, true, nil
}

var stateKeys = map[engine.ActionKind]struct {
	key string
	val bool
}{
	engine.ActToggleOn:    {"toggled_on", true},
	engine.ActToggleOff:   {"toggled_on", false},
	engine.ActWipe:        {"clean", true},
	engine.ActCut:         {"cut", true},
	engine.ActSoakUnder:   {"soaked", true},
	engine.ActSoakInside:  {"soaked", true},
	engine.ActPlaceNearHE: {"heated", true},
}

func (s *Sim) Begin(kind engine.ActionKind, target engine.Handle) (engine.ActionPlan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := &plan{s: s, remaining: 1, forever: s.stuck[kind]}

	switch kind {
	case engine.ActRelease:
		p.finish = func() { s.held = "" }
		return p, nil
	}

	o, err := s.get(target)
	if err != nil {
		return nil, err
	}
	switch kind {
	case engine.ActGrasp:
		p.remaining = s.graspTicks
		p.finish = func() {
			if o.fixed || o.immovable {
				return
			}
			if s.robot.pose.Pos.Sub(o.pose.Pos).NormXY() > s.reach {
				return
			}
			s.held = o.handle
			o.pose.Pos = s.handPose().Pos
		}
	case engine.ActOpen, engine.ActClose:
		if !o.openable {
			return nil, fmt.Errorf("memsim: %s is not openable", o.name)
		}
		open := kind == engine.ActOpen
		p.finish = func() { o.open = open }
	default:
		sk, ok := stateKeys[kind]
		if !ok {
			return nil, fmt.Errorf("memsim: unsupported action %q", kind)
		}
		p.finish = func() { o.states[sk.key] = sk.val }
	}
	return p, nil
}
