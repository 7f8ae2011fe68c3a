package primitives

import (
	"palbridge.ai/internal/sim/engine"
	"palbridge.ai/internal/sim/feature/placement"
	"palbridge.ai/internal/sim/names"
	"palbridge.ai/internal/sim/primerr"
	"palbridge.ai/internal/sim/primid"
)

// closeAllSettle follows a close_all_containers sweep.
const closeAllSettle = 10

type handler func(*call) (bool, error)

var dispatch = map[primid.ID]handler{
	primid.NavigateTo:  handleNavigate,
	primid.Grasp:       handleGrasp,
	primid.Release:     handleRelease,
	primid.PlaceOnTop:  handlePlace,
	primid.PlaceInside: handlePlace,
	primid.PlaceNextTo: handlePlace,
	primid.PlaceUnder:  handlePlace,
	primid.Open:        handleInstant,
	primid.Close:       handleClose,
	primid.ToggleOn:    handleInstant,
	primid.ToggleOff:   handleInstant,
	primid.Wipe:        handleInstant,
	primid.Cut:         handleInstant,
	primid.SoakUnder:   handleInstant,
	primid.SoakInside:  handleInstant,
	primid.PlaceNearHE: handleInstant,
}

func handleNavigate(c *call) (bool, error) {
	return c.b.nav.NavigateTo(c.st, c.cfg, c.objs, c.target)
}

func handleGrasp(c *call) (bool, error) {
	return c.b.grasp.Grasp(c.st, c.cfg, c.objs, c.target)
}

func handleRelease(c *call) (bool, error) {
	return c.release()
}

// release drops whatever is held and settles. An empty hand is a no-op.
func (c *call) release() (bool, error) {
	if _, holding, err := c.held(); err != nil || !holding {
		return err == nil, err
	}
	ok, err := c.b.grasp.Release(c.st)
	if err != nil || !ok {
		return ok, err
	}
	if err := c.b.settle.Settle(c.cfg.InstantSettleSteps); err != nil {
		return false, err
	}
	return true, nil
}

func handleInstant(c *call) (bool, error) {
	kind, _ := c.id.Action()
	return c.b.settle.RunInstant(kind, c.target.Handle, c.cfg.InstantSettleSteps)
}

// handleClose closes the target and, when configured, every other open
// object of the named type.
func handleClose(c *call) (bool, error) {
	ok, err := handleInstant(c)
	if err != nil || !ok || c.cfg.CloseAllContainers == "" {
		return ok, err
	}
	closed := 0
	for _, o := range c.objs.FindContaining(c.cfg.CloseAllContainers) {
		if o.Handle == c.target.Handle {
			continue
		}
		open, err := c.b.eng.Evaluate(engine.Open, o.Handle, "")
		if err != nil || !open {
			continue
		}
		if _, err := c.b.settle.RunInstant(engine.ActClose, o.Handle, 0); err != nil {
			return false, err
		}
		closed++
	}
	if closed > 0 {
		c.b.logger.Printf("closed %d more %q objects", closed, c.cfg.CloseAllContainers)
		if err := c.b.settle.Settle(closeAllSettle); err != nil {
			return false, err
		}
	}
	return true, nil
}

// handlePlace checks the hand, resolves the effective target and routes to
// the placement mode.
func handlePlace(c *call) (bool, error) {
	obj, holding, err := c.held()
	if err != nil {
		return false, err
	}
	if !holding {
		return false, primerr.New(primerr.CodePreconditionFailed, string(c.id), "nothing is held")
	}
	target := c.target
	if target.Handle == obj.Handle {
		if !c.st.Nav.Valid() || c.st.Nav.Target == obj.Handle {
			return false, primerr.New(primerr.CodePreconditionFailed, string(c.id), "target %s is the held object", target.Name)
		}
		c.b.logger.Printf("%s: %s is in hand; using navigation target %s", c.id, target.Name, c.st.Nav.Name)
		target = infoFor(c.objs, c.st.Nav.Target, c.st.Nav.Name)
	}
	req := placement.Request{Cfg: c.cfg, Object: obj, Target: target, Names: c.objs}
	switch c.id {
	case primid.PlaceOnTop:
		return c.b.place.OnTop(c.st, req)
	case primid.PlaceInside:
		return c.b.place.Inside(c.st, req)
	case primid.PlaceNextTo:
		if c.cfg.PlaceNextToOnFloor {
			return c.b.place.Under(c.st, req)
		}
		return c.b.place.NextTo(c.st, req)
	case primid.PlaceUnder:
		return c.b.place.Under(c.st, req)
	}
	return false, primerr.New(primerr.CodeInvalidPrimitive, string(c.id), "not a placement")
}

func infoFor(objs *names.Resolver, h engine.Handle, name string) engine.ObjectInfo {
	for _, o := range objs.Objects() {
		if o.Handle == h {
			return o
		}
	}
	return engine.ObjectInfo{Handle: h, Name: name}
}
