package tick

import (
	"errors"
	"testing"

	"palbridge.ai/internal/sim/engine"
	"palbridge.ai/internal/sim/execctx"
	"palbridge.ai/internal/sim/primerr"
)

type countStepper struct {
	n         uint64
	terminate uint64
}

func (s *countStepper) Step(engine.Action) (engine.StepResult, error) {
	s.n++
	res := engine.StepResult{Obs: engine.Observation{Tick: s.n}}
	if s.terminate > 0 && s.n >= s.terminate {
		res.Terminated = true
		res.Info.GoalDone = true
	}
	return res, nil
}

type countCoupler struct{ n int }

func (c *countCoupler) Tick(*execctx.Context) error {
	c.n++
	return nil
}

type foreverPlan struct{}

func (foreverPlan) Advance() (engine.Action, bool, error) { return engine.Action{}, false, nil }

type shortPlan struct{ left int }

func (p *shortPlan) Advance() (engine.Action, bool, error) {
	if p.left == 0 {
		return engine.Action{}, true, nil
	}
	p.left--
	return engine.Action{}, false, nil
}

func TestBudgetExhaustionIsTimeout(t *testing.T) {
	st := execctx.New("t", "", 1)
	cp := &countCoupler{}
	r := NewRunner(&countStepper{}, cp, nil)
	r.Begin(st, Budget{Max: 50})

	_, err := r.RunPlan(foreverPlan{})
	if !errors.Is(err, primerr.ErrTimeout) {
		t.Fatalf("expected timeout, got %v", err)
	}
	if r.Used() != 50 || st.TotalSteps != 50 {
		t.Fatalf("used=%d total=%d", r.Used(), st.TotalSteps)
	}
	if cp.n != 50 {
		t.Fatalf("coupler ran %d times, want 50", cp.n)
	}
}

func TestBudgetResetsPerPrimitive(t *testing.T) {
	st := execctx.New("t", "", 1)
	r := NewRunner(&countStepper{}, nil, nil)
	r.Begin(st, Budget{Max: 5})
	if err := r.Settle(5, 0); err != nil {
		t.Fatalf("settle: %v", err)
	}
	r.Begin(st, Budget{Max: 5})
	if err := r.Settle(5, 0); err != nil {
		t.Fatalf("second settle: %v", err)
	}
	if st.TotalSteps != 10 {
		t.Fatalf("total steps: %d", st.TotalSteps)
	}
}

func TestFrameAndReorientCadence(t *testing.T) {
	st := execctx.New("t", "", 1)
	var frames []uint64
	st.Hooks.Frame = func(tick uint64) { frames = append(frames, tick) }
	reorients := 0
	r := NewRunner(&countStepper{}, nil, nil)
	r.Begin(st, Budget{Max: 100, FrameEvery: 10, ReorientEvery: 30, Reorient: func() { reorients++ }})

	if _, err := r.RunPlan(&shortPlan{left: 60}); err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(frames) != 6 || frames[0] != 10 {
		t.Fatalf("frames: %v", frames)
	}
	if reorients != 2 {
		t.Fatalf("reorients: %d", reorients)
	}

	frames = nil
	if err := r.Settle(9, 3); err != nil {
		t.Fatalf("settle: %v", err)
	}
	if len(frames) != 3 {
		t.Fatalf("settle frames: %v", frames)
	}
}

func TestRunPlanStopsOnTermination(t *testing.T) {
	st := execctx.New("t", "", 1)
	r := NewRunner(&countStepper{terminate: 3}, nil, nil)
	r.Begin(st, Budget{Max: 100})
	out, err := r.RunPlan(foreverPlan{})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !out.Terminated || !out.GoalDone || out.Ticks != 3 {
		t.Fatalf("outcome: %+v", out)
	}
	if !st.Terminated || st.LastObs.Tick != 3 {
		t.Fatalf("context not updated: %+v", st.LastObs)
	}
}

func TestStepBeforeBeginFails(t *testing.T) {
	r := NewRunner(&countStepper{}, nil, nil)
	if _, err := r.Step(engine.NoOp); primerr.Code(err) != primerr.CodeEngine {
		t.Fatalf("expected engine error, got %v", err)
	}
}
