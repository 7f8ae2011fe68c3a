package doorcross

import (
	"errors"
	"reflect"
	"testing"

	"palbridge.ai/internal/sim/engine"
)

type recorder struct {
	calls   []string
	holding *engine.ObjectInfo
	failOn  string
}

func (r *recorder) env() Env {
	step := func(verb string) func(engine.ObjectInfo) (bool, error) {
		return func(o engine.ObjectInfo) (bool, error) {
			c := verb + " " + o.Name
			r.calls = append(r.calls, c)
			if c == r.failOn {
				return false, nil
			}
			return true, nil
		}
	}
	return Env{
		Held: func() (engine.ObjectInfo, bool, error) {
			if r.holding == nil {
				return engine.ObjectInfo{}, false, nil
			}
			return *r.holding, true, nil
		},
		Release:  step("release"),
		Navigate: step("navigate"),
		Open:     step("open"),
		Grasp:    step("grasp"),
	}
}

var door = engine.ObjectInfo{Handle: "h1", Name: "door"}

func TestCrossWhileHolding(t *testing.T) {
	r := &recorder{holding: &engine.ObjectInfo{Handle: "h2", Name: "X"}}
	end, err := New(r.env(), nil).Cross(door)
	if err != nil || end != Done {
		t.Fatalf("cross: end=%s err=%v", end, err)
	}
	want := []string{"release X", "navigate door", "open door", "navigate X", "grasp X"}
	if !reflect.DeepEqual(r.calls, want) {
		t.Fatalf("calls %v want %v", r.calls, want)
	}
}

func TestCrossEmptyHandedSkipsRegrasp(t *testing.T) {
	r := &recorder{}
	if _, err := New(r.env(), nil).Cross(door); err != nil {
		t.Fatalf("cross: %v", err)
	}
	want := []string{"navigate door", "open door"}
	if !reflect.DeepEqual(r.calls, want) {
		t.Fatalf("calls %v want %v", r.calls, want)
	}
}

func TestCrossAbortsOnFailedTransition(t *testing.T) {
	r := &recorder{holding: &engine.ObjectInfo{Name: "X"}, failOn: "open door"}
	end, err := New(r.env(), nil).Cross(door)
	if err == nil || end != OpenDoor {
		t.Fatalf("expected abort in open_door, got end=%s err=%v", end, err)
	}
	if len(r.calls) != 3 {
		t.Fatalf("no calls may follow the failure: %v", r.calls)
	}
}

func TestCrossPropagatesEnvError(t *testing.T) {
	boom := errors.New("boom")
	env := Env{Held: func() (engine.ObjectInfo, bool, error) { return engine.ObjectInfo{}, false, boom }}
	end, err := New(env, nil).Cross(door)
	if !errors.Is(err, boom) || end != ReleaseIfHolding {
		t.Fatalf("end=%s err=%v", end, err)
	}
}
