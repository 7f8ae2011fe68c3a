// Package primitives is the entry point the behavior-tree runner calls: it
// validates a primitive request, resolves names and config, and routes the
// call to the navigation, grasp, placement and settling features.
package primitives

import (
	"context"
	"fmt"
	"io"
	"log"
	"time"

	"palbridge.ai/internal/sim/engine"
	"palbridge.ai/internal/sim/execctx"
	"palbridge.ai/internal/sim/feature/doorcross"
	"palbridge.ai/internal/sim/feature/grasp"
	"palbridge.ai/internal/sim/feature/navigation"
	"palbridge.ai/internal/sim/feature/placement"
	"palbridge.ai/internal/sim/feature/settle"
	"palbridge.ai/internal/sim/feature/tick"
	"palbridge.ai/internal/sim/feature/transport"
	"palbridge.ai/internal/sim/geom"
	"palbridge.ai/internal/sim/names"
	"palbridge.ai/internal/sim/primconfig"
	"palbridge.ai/internal/sim/primerr"
	"palbridge.ai/internal/sim/primid"
)

type Options struct {
	// Configs defaults to built-in categories with no task overrides.
	Configs *primconfig.Resolver
	// Paths enables waypoint navigation when set.
	Paths    engine.Pathfinder
	Recorder Recorder
	Logger   *log.Logger
	// Now is used for outcome timestamps; tests pin it.
	Now func() time.Time
}

// Bridge executes primitives against one engine. Calls must not overlap.
type Bridge struct {
	eng      engine.Engine
	configs  *primconfig.Resolver
	recorder Recorder
	logger   *log.Logger
	now      func() time.Time

	runner  *tick.Runner
	coupler *transport.Coupler
	grasp   *grasp.Manager
	settle  *settle.Controller
	nav     *navigation.Controller
	place   *placement.Solver
}

func New(eng engine.Engine, opts Options) *Bridge {
	logger := opts.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	configs := opts.Configs
	if configs == nil {
		configs = primconfig.NewResolver(nil, nil)
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	b := &Bridge{
		eng:      eng,
		configs:  configs,
		recorder: opts.Recorder,
		logger:   logger,
		now:      now,
	}
	b.coupler = transport.New(eng, sub(logger, "transport"))
	b.runner = tick.NewRunner(eng, b.coupler, sub(logger, "tick"))
	b.grasp = grasp.New(eng, b.runner, sub(logger, "grasp"))
	b.settle = settle.New(eng, b.runner, sub(logger, "settle"))
	b.nav = navigation.New(eng, opts.Paths, b.runner, sub(logger, "nav"))
	b.place = placement.New(eng, b.runner, sub(logger, "placement"))
	return b
}

// sub derives a component logger sharing the parent's sink and flags.
func sub(parent *log.Logger, name string) *log.Logger {
	return log.New(parent.Writer(), "["+name+"] ", parent.Flags())
}

// BeginRun opens a run: it applies the task's initial robot pose and freezes
// the configured containers. No ticks are issued.
func (b *Bridge) BeginRun(ctx context.Context, taskID, category string, seed int64) (*execctx.Context, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	st := execctx.New(taskID, category, seed)
	cfg := b.configs.Resolve(taskID, category)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config for task %q: %w", taskID, err)
	}
	if cfg.RobotInitialPosition != nil || cfg.RobotInitialYaw != nil {
		if err := b.placeRobot(cfg); err != nil {
			return nil, err
		}
	}
	if len(cfg.FreezeContainers) > 0 {
		objs, err := b.names(st)
		if err != nil {
			return nil, err
		}
		for _, pattern := range cfg.FreezeContainers {
			for _, o := range objs.FindContaining(pattern) {
				if err := b.eng.SetImmovable(o.Handle, true); err != nil {
					return nil, primerr.Engine("begin_run", err)
				}
				b.logger.Printf("froze %s for the run", o.Name)
			}
		}
	}
	b.logger.Printf("run %s task=%s category=%s", st.RunID, taskID, category)
	return st, nil
}

func (b *Bridge) placeRobot(cfg primconfig.Config) error {
	robot, err := b.eng.Robot()
	if err != nil {
		return primerr.Engine("begin_run", err)
	}
	p, err := b.eng.Pose(robot)
	if err != nil {
		return primerr.Engine("begin_run", err)
	}
	if v := cfg.RobotInitialPosition; v != nil {
		p.Pos = geom.V(v[0], v[1], v[2])
	}
	if cfg.RobotInitialYaw != nil {
		p.Rot = geom.YawQuat(*cfg.RobotInitialYaw)
	}
	return primerr.Engine("begin_run", b.eng.SetPose(robot, p))
}

// names builds the per-call resolver from the live scene and the task's
// alias table.
func (b *Bridge) names(st *execctx.Context) (*names.Resolver, error) {
	objects, err := b.eng.Objects()
	if err != nil {
		return nil, primerr.Engine("objects", err)
	}
	inst, err := b.eng.InstanceNames()
	if err != nil {
		return nil, primerr.Engine("instance_names", err)
	}
	return names.NewResolver(objects, inst, b.configs.Aliases(st.TaskID)), nil
}

// Execute runs one primitive. Request errors (unknown or unimplemented id,
// missing parameter, unknown object) and precondition or sampling failures
// are returned; timeouts and engine faults are logged and reported as a
// plain false.
func (b *Bridge) Execute(ctx context.Context, st *execctx.Context, id primid.ID, p Params) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	switch id.Class() {
	case primid.Unknown:
		return false, primerr.New(primerr.CodeInvalidPrimitive, string(id), "unknown primitive")
	case primid.Unimplemented:
		return false, primerr.New(primerr.CodeNotImplemented, string(id), "primitive is recognized but not implemented")
	}
	ref := p.Ref(id)
	if ref == "" && id != primid.Release {
		return false, primerr.New(primerr.CodeMissingParameter, string(id), "missing object reference (obj/target%s)", destHint(id))
	}

	cfg := b.configs.Resolve(st.TaskID, st.Category)
	objs, err := b.names(st)
	if err != nil {
		b.logger.Printf("%s %s: %v", id, ref, err)
		return false, nil
	}
	var target engine.ObjectInfo
	if ref != "" {
		target, _, err = objs.Resolve(ref)
		if err != nil {
			return false, err
		}
	}

	c := &call{
		b:      b,
		st:     st,
		cfg:    cfg,
		objs:   objs,
		id:     id,
		target: target,
	}
	info := execctx.Call{Seq: st.NextSeq(), Primitive: string(id), Object: ref, Target: target.Name}
	if st.Hooks.Pre != nil {
		st.Hooks.Pre(info)
	}
	b.runner.Begin(st, b.budget(st, cfg, id, target))
	b.nav.SetCrosser(c.crosser())

	start := b.now()
	ok, err := dispatch[id](c)
	b.record(st, info, ok, err, start)
	if err != nil && primerr.Recoverable(err) {
		b.logger.Printf("%s %s failed after %d ticks: %v", id, target.Name, b.runner.Used(), err)
		ok, err = false, nil
	}
	if st.Hooks.Post != nil {
		st.Hooks.Post(info, ok)
	}
	return ok, err
}

func destHint(id primid.ID) string {
	if id.IsPlace() {
		return "/dest"
	}
	return ""
}

// budget opens the step budget for one call. Continuous primitives keep the
// head on their target.
func (b *Bridge) budget(st *execctx.Context, cfg primconfig.Config, id primid.ID, target engine.ObjectInfo) tick.Budget {
	bud := tick.Budget{Max: cfg.MaxPrimitiveSteps, FrameEvery: cfg.FrameInterval}
	if id.Class() != primid.Continuous {
		return bud
	}
	reorient := b.settle.Reorienter(target.Handle, cfg.SkipOrientation)
	if reorient == nil {
		return bud
	}
	if hook := st.Hooks.Reorient; hook != nil {
		inner := reorient
		reorient = func() {
			inner()
			hook(target.Handle)
		}
	}
	bud.Reorient = reorient
	bud.ReorientEvery = cfg.ReorientInterval
	return bud
}

// RestoreFixedObjects puts every tracked object back in one pass with no
// ticks. Call it right before an external goal check.
func (b *Bridge) RestoreFixedObjects(st *execctx.Context) (int, error) {
	n, err := b.coupler.RestoreAll(st)
	if err != nil {
		return n, err
	}
	b.logger.Printf("restored %d fixed objects", n)
	return n, nil
}

// Diagnostics reports how far each tracked object sits from its intended pose.
func (b *Bridge) Diagnostics(st *execctx.Context) ([]transport.Drift, error) {
	return b.coupler.Diagnose(st)
}

const defaultDumpLimit = 50

type ObjectDump struct {
	Handle   engine.Handle `json:"handle"`
	Name     string        `json:"name"`
	Category string        `json:"category,omitempty"`
	Pose     geom.Pose     `json:"pose"`
	AABB     geom.AABB     `json:"aabb"`
}

// DumpObjects lists scene objects whose name contains pattern (all when
// empty), at most limit of them; limit <= 0 means 50.
func (b *Bridge) DumpObjects(pattern string, limit int) ([]ObjectDump, error) {
	if limit <= 0 {
		limit = defaultDumpLimit
	}
	objects, err := b.eng.Objects()
	if err != nil {
		return nil, primerr.Engine("dump", err)
	}
	var out []ObjectDump
	for _, o := range objects {
		if pattern != "" && !names.MatchPattern(o.Name, pattern) {
			continue
		}
		if len(out) == limit {
			break
		}
		p, err := b.eng.Pose(o.Handle)
		if err != nil {
			return nil, primerr.Engine("dump", err)
		}
		bb, err := b.eng.AABB(o.Handle)
		if err != nil {
			return nil, primerr.Engine("dump", err)
		}
		out = append(out, ObjectDump{Handle: o.Handle, Name: o.Name, Category: o.Category, Pose: p, AABB: bb})
	}
	return out, nil
}

// call is the per-invocation state handed to a handler.
type call struct {
	b      *Bridge
	st     *execctx.Context
	cfg    primconfig.Config
	objs   *names.Resolver
	id     primid.ID
	target engine.ObjectInfo
}

// crosser wires the door crossing to this call's context and config.
func (c *call) crosser() *doorcross.Orchestrator {
	b := c.b
	return doorcross.New(doorcross.Env{
		Held: c.held,
		Release: func(engine.ObjectInfo) (bool, error) {
			return c.release()
		},
		Navigate: func(obj engine.ObjectInfo) (bool, error) {
			return b.nav.NavigateTo(c.st, c.cfg, c.objs, obj)
		},
		Open: func(door engine.ObjectInfo) (bool, error) {
			return b.settle.RunInstant(engine.ActOpen, door.Handle, c.cfg.InstantSettleSteps)
		},
		Grasp: func(obj engine.ObjectInfo) (bool, error) {
			return b.grasp.Grasp(c.st, c.cfg, c.objs, obj)
		},
	}, sub(b.logger, "door"))
}

// held reports the object in hand with its scene name.
func (c *call) held() (engine.ObjectInfo, bool, error) {
	h, ok, err := c.b.eng.Held()
	if err != nil {
		return engine.ObjectInfo{}, false, primerr.Engine("held", err)
	}
	if !ok {
		return engine.ObjectInfo{}, false, nil
	}
	return infoFor(c.objs, h, string(h)), true, nil
}
