package primitives

import (
	"fmt"

	"github.com/mitchellh/mapstructure"

	"palbridge.ai/internal/sim/primid"
)

// Params are the object references a primitive call may carry.
type Params struct {
	Object      string `mapstructure:"obj" json:"obj,omitempty" yaml:"obj,omitempty"`
	Target      string `mapstructure:"target" json:"target,omitempty" yaml:"target,omitempty"`
	Destination string `mapstructure:"dest" json:"dest,omitempty" yaml:"dest,omitempty"`
}

// DecodeParams converts the loosely typed map a behavior tree passes into
// Params. Unknown keys are rejected.
func DecodeParams(m map[string]any) (Params, error) {
	var p Params
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &p,
		ErrorUnused:      true,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return p, err
	}
	if err := dec.Decode(m); err != nil {
		return p, fmt.Errorf("primitive params: %w", err)
	}
	return p, nil
}

// Ref picks the object reference for id: obj, then target, then dest for
// PLACE_* ids only.
func (p Params) Ref(id primid.ID) string {
	switch {
	case p.Object != "":
		return p.Object
	case p.Target != "":
		return p.Target
	case id.IsPlace():
		return p.Destination
	}
	return ""
}
