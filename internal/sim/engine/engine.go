// Package engine declares the simulation boundary consumed by the primitive
// engine. Implementations own every simulated object; callers only pass
// handles around.
package engine

import "palbridge.ai/internal/sim/geom"

// Handle is a weak reference to a simulated object.
type Handle string

type ObjectInfo struct {
	Handle   Handle `json:"handle"`
	Name     string `json:"name"`
	Category string `json:"category"`
}

type PredicateKind string

const (
	Inside PredicateKind = "Inside"
	OnTop  PredicateKind = "OnTop"
	NextTo PredicateKind = "NextTo"
	Under  PredicateKind = "Under"
	Open   PredicateKind = "Open"
)

// ActionKind names a native action plan the simulator can generate.
type ActionKind string

const (
	ActGrasp       ActionKind = "GRASP"
	ActRelease     ActionKind = "RELEASE"
	ActOpen        ActionKind = "OPEN"
	ActClose       ActionKind = "CLOSE"
	ActToggleOn    ActionKind = "TOGGLE_ON"
	ActToggleOff   ActionKind = "TOGGLE_OFF"
	ActWipe        ActionKind = "WIPE"
	ActCut         ActionKind = "CUT"
	ActSoakUnder   ActionKind = "SOAK_UNDER"
	ActSoakInside  ActionKind = "SOAK_INSIDE"
	ActPlaceNearHE ActionKind = "PLACE_NEAR_HEATING_ELEMENT"
)

// Action is one low-level control command. A nil Joints slice is a no-op.
type Action struct {
	Joints []float64 `json:"joints,omitempty"`
}

var NoOp = Action{}

type Observation struct {
	Tick uint64 `json:"tick"`
}

type StepInfo struct {
	// GoalDone is set when the episode's goal predicate holds.
	GoalDone bool   `json:"goal_done"`
	Reason   string `json:"reason,omitempty"`
}

type StepResult struct {
	Obs        Observation `json:"obs"`
	Terminated bool        `json:"terminated"`
	Info       StepInfo    `json:"info"`
}

// ActionPlan is a native action expressed as an explicit state machine.
// Advance is polled once per tick; done=true means no action is returned and
// the plan has finished.
type ActionPlan interface {
	Advance() (a Action, done bool, err error)
}

type Scene interface {
	Objects() ([]ObjectInfo, error)
	// InstanceNames is the authoritative instance -> scene-name map.
	InstanceNames() (map[string]string, error)
	Robot() (Handle, error)
}

type Bodies interface {
	Pose(h Handle) (geom.Pose, error)
	SetPose(h Handle, p geom.Pose) error
	AABB(h Handle) (geom.AABB, error)
	// NativeSize is the object's rest-state extent, independent of grasp state.
	NativeSize(h Handle) (geom.Vec3, bool, error)
	Immovable(h Handle) (bool, error)
	SetImmovable(h Handle, v bool) error
	ZeroVelocity(h Handle) error
}

type Predicates interface {
	// Evaluate checks kind for h; other is empty for unary predicates.
	Evaluate(kind PredicateKind, h Handle, other Handle) (bool, error)
}

type Stepper interface {
	Step(a Action) (StepResult, error)
}

type Robot interface {
	Held() (Handle, bool, error)
	ReleaseImmediately() error
	SetHeadPanTilt(pan, tilt float64) error
}

type Actuator interface {
	Begin(kind ActionKind, target Handle) (ActionPlan, error)
}

type Samplers interface {
	SampleInside(obj, container Handle, attempts int) (bool, error)
	SampleOnTop(obj, target Handle, attempts int) (bool, error)
}

type Engine interface {
	Scene
	Bodies
	Predicates
	Stepper
	Robot
	Actuator
	Samplers
}

// Pathfinder is the optional route service.
type Pathfinder interface {
	ShortestPath(floor int, src, dst geom.Vec2, fullPath, robotErosion bool) ([]geom.Vec2, error)
}
