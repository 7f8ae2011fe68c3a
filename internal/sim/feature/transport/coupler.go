// Package transport keeps carried stacks together and pins placed objects
// to their intended poses against simulator drift.
package transport

import (
	"io"
	"log"

	"palbridge.ai/internal/sim/engine"
	"palbridge.ai/internal/sim/execctx"
	"palbridge.ai/internal/sim/geom"
)

const (
	DriftThreshold = 0.01

	// Siblings restored into one container are spread on a two-column grid.
	jitterStep = 0.03
)

type Env interface {
	engine.Bodies
	Held() (engine.Handle, bool, error)
}

type Coupler struct {
	env    Env
	logger *log.Logger

	// Corrections counts drift snaps since construction.
	Corrections int
}

func New(env Env, logger *log.Logger) *Coupler {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Coupler{env: env, logger: logger}
}

// Tick runs after every simulated step: stacked tops follow their bottoms,
// then tracked objects that drifted past DriftThreshold snap back.
func (c *Coupler) Tick(st *execctx.Context) error {
	for _, l := range st.Links {
		bp, err := c.env.Pose(l.Bottom)
		if err != nil {
			return err
		}
		tp, err := c.env.Pose(l.Top)
		if err != nil {
			return err
		}
		tp.Pos = bp.Pos.Add(l.Offset)
		if err := c.env.SetPose(l.Top, tp); err != nil {
			return err
		}
	}
	if len(st.Tracked) == 0 {
		return nil
	}
	held, holding, err := c.env.Held()
	if err != nil {
		return err
	}
	for _, t := range st.Tracked {
		if holding && t.Handle == held {
			continue
		}
		live, err := c.env.Pose(t.Handle)
		if err != nil {
			return err
		}
		if live.Pos.Dist(t.Pose.Pos) <= DriftThreshold {
			continue
		}
		if err := c.env.SetPose(t.Handle, t.Pose); err != nil {
			return err
		}
		if err := c.env.ZeroVelocity(t.Handle); err != nil {
			return err
		}
		c.Corrections++
	}
	return nil
}

// RestoreAll re-asserts every tracked pose with no ticks in between.
// Containers and other fixed objects go back to their saved poses first;
// objects placed inside a container are then re-seated at the restored
// container's centre, jittered per sibling.
func (c *Coupler) RestoreAll(st *execctx.Context) (int, error) {
	n := 0
	for _, containers := range []bool{true, false} {
		for _, t := range st.Tracked {
			if t.IsContainer != containers || (t.PlacedInside && t.Container != "") {
				continue
			}
			if err := c.put(t.Handle, t.Pose); err != nil {
				return n, err
			}
			n++
		}
	}

	siblings := map[engine.Handle]int{}
	for _, t := range st.Tracked {
		if !t.PlacedInside || t.Container == "" {
			continue
		}
		cb, err := c.env.AABB(t.Container)
		if err != nil {
			return n, err
		}
		i := siblings[t.Container]
		siblings[t.Container] = i + 1
		target := t.Pose
		target.Pos = cb.Center().Add(jitter(i))
		if err := c.put(t.Handle, target); err != nil {
			return n, err
		}
		n++
	}
	if n > 0 {
		c.logger.Printf("restored %d fixed objects", n)
	}
	return n, nil
}

func (c *Coupler) put(h engine.Handle, p geom.Pose) error {
	if err := c.env.SetPose(h, p); err != nil {
		return err
	}
	return c.env.ZeroVelocity(h)
}

func jitter(i int) geom.Vec3 {
	col, row := i%2, i/2
	return geom.V((float64(col)-0.5)*jitterStep, (float64(row)-1)*jitterStep, 0)
}

const (
	StatusOK        = "OK"
	StatusDrift     = "DRIFT"
	StatusDisplaced = "DISPLACED"
)

type Drift struct {
	Handle   engine.Handle `json:"handle"`
	Name     string        `json:"name"`
	Intended geom.Vec3     `json:"intended"`
	Live     geom.Vec3     `json:"live"`
	Distance float64       `json:"distance"`
	Status   string        `json:"status"`
}

// Diagnose compares each tracked object's live pose with its intended one.
func (c *Coupler) Diagnose(st *execctx.Context) ([]Drift, error) {
	out := make([]Drift, 0, len(st.Tracked))
	for _, t := range st.Tracked {
		live, err := c.env.Pose(t.Handle)
		if err != nil {
			return out, err
		}
		d := live.Pos.Dist(t.Pose.Pos)
		out = append(out, Drift{
			Handle:   t.Handle,
			Name:     t.Name,
			Intended: t.Pose.Pos,
			Live:     live.Pos,
			Distance: d,
			Status:   classify(d),
		})
	}
	return out, nil
}

func classify(d float64) string {
	switch {
	case d < 0.05:
		return StatusOK
	case d < 0.5:
		return StatusDrift
	default:
		return StatusDisplaced
	}
}
