// Package grasp runs GRASP and RELEASE, capturing declared stacks on grasp
// and restoring their flags on release.
package grasp

import (
	"io"
	"log"

	"palbridge.ai/internal/sim/engine"
	"palbridge.ai/internal/sim/execctx"
	"palbridge.ai/internal/sim/feature/tick"
	"palbridge.ai/internal/sim/names"
	"palbridge.ai/internal/sim/primconfig"
	"palbridge.ai/internal/sim/primerr"
)

type Env interface {
	engine.Bodies
	engine.Robot
	engine.Actuator
}

type Manager struct {
	env    Env
	runner *tick.Runner
	logger *log.Logger
}

func New(env Env, runner *tick.Runner, logger *log.Logger) *Manager {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Manager{env: env, runner: runner, logger: logger}
}

// Grasp always attempts the native grasp. Success means the target is held
// once the plan finishes, or the episode goal fired while grasping.
func (m *Manager) Grasp(st *execctx.Context, cfg primconfig.Config, objs *names.Resolver, target engine.ObjectInfo) (bool, error) {
	// Links left over from an earlier carry end once another object is taken.
	for _, stale := range staleBottoms(st, target.Handle) {
		if err := m.Unlink(st, stale); err != nil {
			return false, err
		}
	}
	if err := m.env.SetImmovable(target.Handle, false); err != nil {
		return false, primerr.Engine("grasp", err)
	}
	if err := m.captureStack(st, cfg, objs, target); err != nil {
		return false, err
	}
	plan, err := m.env.Begin(engine.ActGrasp, target.Handle)
	if err != nil {
		return false, primerr.Engine("grasp", err)
	}
	out, err := m.runner.RunPlan(plan)
	if err != nil {
		return false, err
	}
	if out.Terminated {
		return out.GoalDone, nil
	}
	held, ok, err := m.env.Held()
	if err != nil {
		return false, primerr.Engine("grasp", err)
	}
	return ok && held == target.Handle, nil
}

// captureStack links every declared top object to target, snapshotting its
// immovable flag and offset before freezing it.
func (m *Manager) captureStack(st *execctx.Context, cfg primconfig.Config, objs *names.Resolver, target engine.ObjectInfo) error {
	for _, pair := range cfg.FixStackedDuringTransport {
		if !names.MatchPattern(target.Name, pair.Bottom) {
			continue
		}
		for _, top := range m.findTops(objs, pair.Top, target) {
			if linked(st, top.Handle, target.Handle) {
				continue
			}
			was, err := m.env.Immovable(top.Handle)
			if err != nil {
				return primerr.Engine("grasp", err)
			}
			tp, err := m.env.Pose(top.Handle)
			if err != nil {
				return primerr.Engine("grasp", err)
			}
			bp, err := m.env.Pose(target.Handle)
			if err != nil {
				return primerr.Engine("grasp", err)
			}
			if err := m.env.SetImmovable(top.Handle, true); err != nil {
				return primerr.Engine("grasp", err)
			}
			st.Links = append(st.Links, execctx.StackedLink{
				Top:          top.Handle,
				Bottom:       target.Handle,
				TopName:      top.Name,
				Offset:       tp.Pos.Sub(bp.Pos),
				WasImmovable: was,
			})
			m.logger.Printf("linked %s on top of %s", top.Name, target.Name)
		}
	}
	return nil
}

func (m *Manager) findTops(objs *names.Resolver, pattern string, bottom engine.ObjectInfo) []engine.ObjectInfo {
	var out []engine.ObjectInfo
	for _, o := range objs.FindContaining(pattern) {
		if o.Handle != bottom.Handle {
			out = append(out, o)
		}
	}
	if len(out) > 0 {
		return out
	}
	if o, _, err := objs.Resolve(pattern); err == nil && o.Handle != bottom.Handle {
		return []engine.ObjectInfo{o}
	}
	return nil
}

func staleBottoms(st *execctx.Context, keep engine.Handle) []engine.Handle {
	var out []engine.Handle
	seen := map[engine.Handle]bool{}
	for _, l := range st.Links {
		if l.Bottom != keep && !seen[l.Bottom] {
			seen[l.Bottom] = true
			out = append(out, l.Bottom)
		}
	}
	return out
}

func linked(st *execctx.Context, top, bottom engine.Handle) bool {
	for _, l := range st.Links {
		if l.Top == top && l.Bottom == bottom {
			return true
		}
	}
	return false
}

// Release is idempotent: with nothing held it reports success and leaves the
// context untouched. Links hanging off the released object are dissolved
// and each top gets its pre-grasp immovable flag back.
func (m *Manager) Release(st *execctx.Context) (bool, error) {
	held, ok, err := m.env.Held()
	if err != nil {
		return false, primerr.Engine("release", err)
	}
	if !ok {
		return true, nil
	}
	plan, err := m.env.Begin(engine.ActRelease, held)
	if err != nil {
		return false, primerr.Engine("release", err)
	}
	if _, err := m.runner.RunPlan(plan); err != nil {
		return false, err
	}
	if err := m.Unlink(st, held); err != nil {
		return false, err
	}
	return true, nil
}

// Unlink restores and drops every link whose bottom is h.
func (m *Manager) Unlink(st *execctx.Context, h engine.Handle) error {
	kept := st.Links[:0]
	var firstErr error
	for _, l := range st.Links {
		if l.Bottom != h {
			kept = append(kept, l)
			continue
		}
		if err := m.env.SetImmovable(l.Top, l.WasImmovable); err != nil && firstErr == nil {
			firstErr = primerr.Engine("release", err)
		}
	}
	st.Links = kept
	return firstErr
}
