// Package execctx holds the per-run mutable state shared by the primitive
// features. A Context is owned by the single goroutine driving one run.
package execctx

import (
	"math/rand"

	"github.com/google/uuid"

	"palbridge.ai/internal/sim/engine"
	"palbridge.ai/internal/sim/geom"
)

// TrackedFixedObject is a placed object whose intended pose is re-asserted
// while the run lasts.
type TrackedFixedObject struct {
	Handle       engine.Handle
	Name         string
	Pose         geom.Pose
	Container    engine.Handle
	PlacedInside bool
	// IsContainer marks a container something was placed in; it is restored
	// to Pose before any PlacedInside entry is re-seated.
	IsContainer bool
}

// StackedLink couples Top to Bottom while Bottom is carried.
type StackedLink struct {
	Top          engine.Handle
	Bottom       engine.Handle
	TopName      string
	Offset       geom.Vec3
	WasImmovable bool
}

type NavigationState struct {
	Target engine.Handle
	Name   string
}

func (n NavigationState) Valid() bool { return n.Target != "" }

// Call describes one primitive invocation for hooks.
type Call struct {
	Seq       int
	Primitive string
	Object    string
	Target    string
}

type Hooks struct {
	Pre      func(c Call)
	Post     func(c Call, ok bool)
	Frame    func(tick uint64)
	Reorient func(target engine.Handle)
}

type Context struct {
	RunID    string
	TaskID   string
	Category string

	Tracked []TrackedFixedObject
	Links   []StackedLink
	Nav     NavigationState

	TotalSteps uint64
	LastObs    engine.Observation
	LastInfo   engine.StepInfo
	Terminated bool

	Hooks Hooks
	Rng   *rand.Rand

	seq         int
	slotsUsed   map[string]int
	placeCounts map[engine.Handle]int
	containers  map[engine.Handle]bool
}

func New(taskID, category string, seed int64) *Context {
	return &Context{
		RunID:       uuid.NewString(),
		TaskID:      taskID,
		Category:    category,
		Rng:         rand.New(rand.NewSource(seed)),
		slotsUsed:   map[string]int{},
		placeCounts: map[engine.Handle]int{},
		containers:  map[engine.Handle]bool{},
	}
}

// NextSeq numbers primitive calls within the run, starting at 1.
func (c *Context) NextSeq() int {
	c.seq++
	return c.seq
}

// Track records a fixed object. Entries are never removed; re-tracking the
// same handle refreshes its intended pose in place.
func (c *Context) Track(t TrackedFixedObject) {
	for i := range c.Tracked {
		if c.Tracked[i].Handle == t.Handle {
			c.Tracked[i] = t
			return
		}
	}
	c.Tracked = append(c.Tracked, t)
}

func (c *Context) IsTracked(h engine.Handle) bool {
	for _, t := range c.Tracked {
		if t.Handle == h {
			return true
		}
	}
	return false
}

// TrackContainerOnce tracks a container the first time something is placed in it.
func (c *Context) TrackContainerOnce(t TrackedFixedObject) bool {
	if c.containers[t.Handle] {
		return false
	}
	c.containers[t.Handle] = true
	t.IsContainer = true
	t.PlacedInside = false
	t.Container = ""
	c.Track(t)
	return true
}

// TakeSlot returns the next unused strategic slot index for pattern and
// marks it consumed.
func (c *Context) TakeSlot(pattern string) int {
	i := c.slotsUsed[pattern]
	c.slotsUsed[pattern] = i + 1
	return i
}

// CountPlacement bumps and returns the number of placements made relative to target.
func (c *Context) CountPlacement(target engine.Handle) int {
	c.placeCounts[target]++
	return c.placeCounts[target]
}

func (c *Context) LinksForBottom(bottom engine.Handle) []StackedLink {
	var out []StackedLink
	for _, l := range c.Links {
		if l.Bottom == bottom {
			out = append(out, l)
		}
	}
	return out
}
