// Package doorcross interrupts a navigation to open a closed door first,
// putting down and re-taking whatever the robot carries.
package doorcross

import (
	"fmt"
	"io"
	"log"

	"palbridge.ai/internal/sim/engine"
)

type State int

const (
	ReleaseIfHolding State = iota
	NavigateToDoor
	OpenDoor
	ReturnAndRegrasp
	Done
)

func (s State) String() string {
	switch s {
	case ReleaseIfHolding:
		return "release_if_holding"
	case NavigateToDoor:
		return "navigate_to_door"
	case OpenDoor:
		return "open_door"
	case ReturnAndRegrasp:
		return "return_and_regrasp"
	case Done:
		return "done"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Env supplies the primitives the crossing is made of. A function returning
// ok=false or an error aborts the crossing.
type Env struct {
	Held     func() (engine.ObjectInfo, bool, error)
	Release  func(obj engine.ObjectInfo) (bool, error)
	Navigate func(target engine.ObjectInfo) (bool, error)
	Open     func(door engine.ObjectInfo) (bool, error)
	Grasp    func(obj engine.ObjectInfo) (bool, error)
}

type Orchestrator struct {
	env    Env
	logger *log.Logger
}

func New(env Env, logger *log.Logger) *Orchestrator {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Orchestrator{env: env, logger: logger}
}

// Cross runs the four states in order and returns the state it stopped in.
// The caller's navigation continues whatever the result.
func (o *Orchestrator) Cross(door engine.ObjectInfo) (State, error) {
	var carried engine.ObjectInfo
	released := false
	state := ReleaseIfHolding
	for state != Done {
		next, err := o.advance(state, door, &carried, &released)
		if err != nil {
			o.logger.Printf("door crossing via %s aborted in %s: %v", door.Name, state, err)
			return state, fmt.Errorf("door crossing %s: %s: %w", door.Name, state, err)
		}
		state = next
	}
	return Done, nil
}

func (o *Orchestrator) advance(s State, door engine.ObjectInfo, carried *engine.ObjectInfo, released *bool) (State, error) {
	switch s {
	case ReleaseIfHolding:
		if o.env.Held == nil {
			return NavigateToDoor, nil
		}
		obj, holding, err := o.env.Held()
		if err != nil {
			return s, err
		}
		if !holding {
			return NavigateToDoor, nil
		}
		if err := call(o.env.Release, obj, "release"); err != nil {
			return s, err
		}
		*carried, *released = obj, true
		return NavigateToDoor, nil
	case NavigateToDoor:
		return OpenDoor, call(o.env.Navigate, door, "navigate")
	case OpenDoor:
		return ReturnAndRegrasp, call(o.env.Open, door, "open")
	case ReturnAndRegrasp:
		if !*released {
			return Done, nil
		}
		if err := call(o.env.Navigate, *carried, "navigate"); err != nil {
			return s, err
		}
		return Done, call(o.env.Grasp, *carried, "grasp")
	}
	return Done, nil
}

func call(fn func(engine.ObjectInfo) (bool, error), obj engine.ObjectInfo, what string) error {
	if fn == nil {
		return fmt.Errorf("%s unavailable", what)
	}
	ok, err := fn(obj)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%s %s failed", what, obj.Name)
	}
	return nil
}
