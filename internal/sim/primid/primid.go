// Package primid enumerates the abstract primitives accepted by the
// dispatcher.
package primid

import (
	"strings"

	"palbridge.ai/internal/sim/engine"
)

type ID string

const (
	NavigateTo  ID = "NAVIGATE_TO"
	Grasp       ID = "GRASP"
	Release     ID = "RELEASE"
	PlaceOnTop  ID = "PLACE_ON_TOP"
	PlaceInside ID = "PLACE_INSIDE"
	PlaceNextTo ID = "PLACE_NEXT_TO"
	PlaceUnder  ID = "PLACE_UNDER"
	Open        ID = "OPEN"
	Close       ID = "CLOSE"
	ToggleOn    ID = "TOGGLE_ON"
	ToggleOff   ID = "TOGGLE_OFF"
	Wipe        ID = "WIPE"
	Cut         ID = "CUT"
	SoakUnder   ID = "SOAK_UNDER"
	SoakInside  ID = "SOAK_INSIDE"
	PlaceNearHE ID = "PLACE_NEAR_HEATING_ELEMENT"
	Push        ID = "PUSH"
	Pour        ID = "POUR"
	Fold        ID = "FOLD"
	Unfold      ID = "UNFOLD"
	Screw       ID = "SCREW"
	Hang        ID = "HANG"
)

type Class int

const (
	Unknown Class = iota
	Continuous
	Instant
	Unimplemented
)

var classes = map[ID]Class{
	NavigateTo:  Continuous,
	Grasp:       Continuous,
	PlaceOnTop:  Continuous,
	PlaceInside: Continuous,
	PlaceNextTo: Continuous,
	PlaceUnder:  Continuous,

	Release:     Instant,
	Open:        Instant,
	Close:       Instant,
	ToggleOn:    Instant,
	ToggleOff:   Instant,
	Wipe:        Instant,
	Cut:         Instant,
	SoakUnder:   Instant,
	SoakInside:  Instant,
	PlaceNearHE: Instant,

	Push:   Unimplemented,
	Pour:   Unimplemented,
	Fold:   Unimplemented,
	Unfold: Unimplemented,
	Screw:  Unimplemented,
	Hang:   Unimplemented,
}

var actions = map[ID]engine.ActionKind{
	Grasp:       engine.ActGrasp,
	Release:     engine.ActRelease,
	Open:        engine.ActOpen,
	Close:       engine.ActClose,
	ToggleOn:    engine.ActToggleOn,
	ToggleOff:   engine.ActToggleOff,
	Wipe:        engine.ActWipe,
	Cut:         engine.ActCut,
	SoakUnder:   engine.ActSoakUnder,
	SoakInside:  engine.ActSoakInside,
	PlaceNearHE: engine.ActPlaceNearHE,
}

// Parse normalizes s (case, surrounding space) into an ID. Unknown strings
// come back unchanged so the caller can report them.
func Parse(s string) ID {
	return ID(strings.ToUpper(strings.TrimSpace(s)))
}

func (id ID) Class() Class { return classes[id] }

func (id ID) Instant() bool { return classes[id] == Instant }

// IsPlace reports whether id accepts a "dest" parameter.
func (id ID) IsPlace() bool { return strings.HasPrefix(string(id), "PLACE_") }

// Action maps id to the native action the engine runs for it.
func (id ID) Action() (engine.ActionKind, bool) {
	k, ok := actions[id]
	return k, ok
}

// Supported lists every implemented primitive id.
func Supported() []ID {
	return []ID{NavigateTo, Grasp, Release, PlaceOnTop, PlaceInside, PlaceNextTo, PlaceUnder,
		Open, Close, ToggleOn, ToggleOff, Wipe, Cut, SoakUnder, SoakInside, PlaceNearHE}
}
