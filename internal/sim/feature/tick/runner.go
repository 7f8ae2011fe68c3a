// Package tick owns the single path through which simulated steps are
// issued. Every step is charged against the current primitive's budget and
// followed by the transport coupler and the capture hooks.
package tick

import (
	"io"
	"log"

	"palbridge.ai/internal/sim/engine"
	"palbridge.ai/internal/sim/execctx"
	"palbridge.ai/internal/sim/primerr"
)

// Coupler runs once after every simulated step.
type Coupler interface {
	Tick(st *execctx.Context) error
}

// Budget bounds one primitive call.
type Budget struct {
	// Max is the step limit; <= 0 disables it.
	Max        int
	FrameEvery int
	// Reorient is invoked every ReorientEvery steps when non-nil.
	ReorientEvery int
	Reorient      func()
}

// Outcome summarizes a native plan run.
type Outcome struct {
	Ticks      int
	Terminated bool
	GoalDone   bool
}

type Runner struct {
	stepper engine.Stepper
	coupler Coupler
	logger  *log.Logger

	st     *execctx.Context
	budget Budget
	used   int
}

func NewRunner(stepper engine.Stepper, coupler Coupler, logger *log.Logger) *Runner {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Runner{stepper: stepper, coupler: coupler, logger: logger}
}

// Begin opens a fresh budget for one primitive call on st.
func (r *Runner) Begin(st *execctx.Context, b Budget) {
	r.st = st
	r.budget = b
	r.used = 0
}

func (r *Runner) Used() int { return r.used }

func (r *Runner) Remaining() int {
	if r.budget.Max <= 0 {
		return -1
	}
	return r.budget.Max - r.used
}

// Step issues one simulated tick with the primitive's frame cadence.
func (r *Runner) Step(a engine.Action) (engine.StepResult, error) {
	return r.step(a, r.budget.FrameEvery)
}

// Settle issues n no-op ticks. Episode termination does not stop settling.
func (r *Runner) Settle(n, frameEvery int) error {
	for i := 0; i < n; i++ {
		if _, err := r.step(engine.NoOp, frameEvery); err != nil {
			return err
		}
	}
	return nil
}

// RunPlan polls p once per tick until it reports done or the episode
// terminates.
func (r *Runner) RunPlan(p engine.ActionPlan) (Outcome, error) {
	var out Outcome
	for {
		a, done, err := p.Advance()
		if err != nil {
			return out, primerr.Engine("plan", err)
		}
		if done {
			return out, nil
		}
		res, err := r.Step(a)
		if err != nil {
			return out, err
		}
		out.Ticks++
		if res.Terminated {
			out.Terminated = true
			out.GoalDone = res.Info.GoalDone
			return out, nil
		}
	}
}

func (r *Runner) step(a engine.Action, frameEvery int) (engine.StepResult, error) {
	if r.st == nil {
		return engine.StepResult{}, primerr.New(primerr.CodeEngine, "tick", "runner used before Begin")
	}
	if r.budget.Max > 0 && r.used >= r.budget.Max {
		return engine.StepResult{}, primerr.New(primerr.CodeTimeout, "tick", "step budget of %d exhausted", r.budget.Max)
	}
	res, err := r.stepper.Step(a)
	if err != nil {
		return res, primerr.Engine("step", err)
	}
	r.used++
	st := r.st
	st.TotalSteps++
	st.LastObs = res.Obs
	st.LastInfo = res.Info
	if res.Terminated {
		st.Terminated = true
	}
	if r.coupler != nil {
		if err := r.coupler.Tick(st); err != nil {
			return res, primerr.Engine("couple", err)
		}
	}
	if frameEvery > 0 && r.used%frameEvery == 0 && st.Hooks.Frame != nil {
		st.Hooks.Frame(st.TotalSteps)
	}
	if b := r.budget; b.Reorient != nil && b.ReorientEvery > 0 && r.used%b.ReorientEvery == 0 {
		b.Reorient()
	}
	return res, nil
}
