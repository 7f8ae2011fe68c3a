package primconfig

import (
	"fmt"
	"reflect"
	"sort"
	"strings"
)

// Overrides mirrors Config field for field. A nil field means "not set".
type Overrides struct {
	InstantSettleSteps *int     `yaml:"instant_settle_steps"`
	PlaceSettleSteps   *int     `yaml:"place_settle_steps"`
	PlacementMargin    *float64 `yaml:"placement_margin"`

	NextToMarginMin          *float64 `yaml:"nextto_margin_min"`
	NextToMarginMax          *float64 `yaml:"nextto_margin_max"`
	NextToMarginFactor       *float64 `yaml:"nextto_margin_factor"`
	NextToDirection          *string  `yaml:"nextto_placement_direction"`
	NextToRandomizeDirection *bool    `yaml:"nextto_randomize_direction"`
	NextToForceZ             *float64 `yaml:"nextto_force_z"`
	NextToSpreadOffset       *float64 `yaml:"nextto_spread_offset"`
	NextToGentleRelease      *bool    `yaml:"nextto_gentle_release"`
	SkipNextToVerification   *bool    `yaml:"skip_nextto_verification"`
	PlaceNextToOnFloor       *bool    `yaml:"place_nextto_on_floor"`

	SamplingAttempts          *int             `yaml:"sampling_attempts"`
	StackGap                  *float64         `yaml:"stack_gap"`
	PlacementOrder            *string          `yaml:"placement_order"`
	PlacementMap              []PlacementSlots `yaml:"placement_map"`
	TeleportPlacement         *bool            `yaml:"teleport_placement"`
	UseSmartPlacement         *bool            `yaml:"use_smart_placement"`
	FixAfterPlacement         *bool            `yaml:"fix_after_placement"`
	PlaceOnTopAtRobotPosition *bool            `yaml:"place_ontop_at_robot_position"`

	RestoreOnTopPairs            []StackPair   `yaml:"restore_ontop_pairs"`
	FixStackedDuringTransport    []StackPair   `yaml:"fix_stacked_during_transport"`
	JoinContainedDuringTransport []ContainPair `yaml:"join_contained_during_transport"`

	ApproachDistance      *float64  `yaml:"approach_distance"`
	NavStepSize           *float64  `yaml:"nav_step_size"`
	UseWaypointNavigation *bool     `yaml:"use_waypoint_navigation"`
	UseTeleportNavigation *bool     `yaml:"use_teleport_navigation"`
	NavigationVia         *ViaRule  `yaml:"navigation_via"`
	DoorCrossing          *DoorRule `yaml:"door_crossing"`

	RobotInitialPosition  *[3]float64 `yaml:"robot_initial_position"`
	RobotInitialYaw       *float64    `yaml:"robot_initial_yaw"`
	RetreatAfterContainer *string     `yaml:"retreat_after_container"`
	RetreatPoint          *[3]float64 `yaml:"retreat_point"`
	SkipOrientation       *bool       `yaml:"skip_orientation"`
	SkipBaseRotation      *bool       `yaml:"skip_base_rotation"`

	CloseAllContainers *string  `yaml:"close_all_containers"`
	FreezeContainers   []string `yaml:"freeze_containers"`

	MaxPrimitiveSteps *int `yaml:"max_primitive_steps"`
	FrameInterval     *int `yaml:"frame_interval"`
	ReorientInterval  *int `yaml:"reorient_interval"`
}

// applyTo copies every set field onto dst and returns the yaml names it set.
func (o *Overrides) applyTo(dst *Config) []string {
	if o == nil {
		return nil
	}
	ov := reflect.ValueOf(o).Elem()
	dv := reflect.ValueOf(dst).Elem()
	var set []string
	for i := 0; i < ov.NumField(); i++ {
		f := ov.Field(i)
		if f.IsNil() {
			continue
		}
		sf := ov.Type().Field(i)
		d := dv.FieldByName(sf.Name)
		if f.Type() == d.Type() {
			d.Set(deepCopy(f))
		} else {
			d.Set(deepCopy(f.Elem()))
		}
		set = append(set, yamlName(sf))
	}
	return set
}

// deepCopy returns v with every pointer and slice reachable from it
// reallocated, so a resolved Config shares no memory with its overrides.
func deepCopy(v reflect.Value) reflect.Value {
	switch v.Kind() {
	case reflect.Ptr:
		if v.IsNil() {
			return v
		}
		out := reflect.New(v.Type().Elem())
		out.Elem().Set(deepCopy(v.Elem()))
		return out
	case reflect.Slice:
		if v.IsNil() {
			return v
		}
		out := reflect.MakeSlice(v.Type(), v.Len(), v.Len())
		for i := 0; i < v.Len(); i++ {
			out.Index(i).Set(deepCopy(v.Index(i)))
		}
		return out
	case reflect.Struct:
		out := reflect.New(v.Type()).Elem()
		out.Set(v)
		for i := 0; i < v.NumField(); i++ {
			if out.Field(i).CanSet() {
				out.Field(i).Set(deepCopy(v.Field(i)))
			}
		}
		return out
	}
	return v
}

func yamlName(f reflect.StructField) string {
	name, _, _ := strings.Cut(f.Tag.Get("yaml"), ",")
	if name == "" {
		return f.Name
	}
	return name
}

// BuiltinCategories are the category overrides shipped with the engine.
// Category files merge field-wise on top of these.
func BuiltinCategories() map[string]Overrides {
	i := func(v int) *int { return &v }
	f := func(v float64) *float64 { return &v }
	return map[string]Overrides{
		"placement_container": {PlaceSettleSteps: i(60), SamplingAttempts: i(5)},
		"cutting":             {PlaceSettleSteps: i(40)},
		"cooking":             {ApproachDistance: f(1.2)},
		"toggle":              {InstantSettleSteps: i(15)},
	}
}

// merge layers b over a field-wise.
func merge(a, b Overrides) Overrides {
	out := a
	av := reflect.ValueOf(&out).Elem()
	bv := reflect.ValueOf(b)
	for i := 0; i < bv.NumField(); i++ {
		if !bv.Field(i).IsNil() {
			av.Field(i).Set(bv.Field(i))
		}
	}
	return out
}

// Resolver is the layered lookup task > category > default.
type Resolver struct {
	categories map[string]Overrides
	tasks      map[string]Overrides
	aliases    map[string]map[string][]string
}

func NewResolver(categories, tasks map[string]Overrides) *Resolver {
	r := &Resolver{
		categories: BuiltinCategories(),
		tasks:      map[string]Overrides{},
		aliases:    map[string]map[string][]string{},
	}
	for k, v := range categories {
		r.categories[k] = merge(r.categories[k], v)
	}
	for k, v := range tasks {
		r.tasks[k] = v
	}
	return r
}

// SetAliases registers the alias table used by name resolution for a task.
func (r *Resolver) SetAliases(taskID string, aliases map[string][]string) {
	r.aliases[taskID] = aliases
}

func (r *Resolver) Aliases(taskID string) map[string][]string { return r.aliases[taskID] }

// Tasks lists the task ids that carry overrides.
func (r *Resolver) Tasks() []string {
	out := make([]string, 0, len(r.tasks))
	for k := range r.tasks {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func (r *Resolver) Resolve(taskID, category string) Config {
	c := Defaults()
	if o, ok := r.categories[category]; ok {
		o.applyTo(&c)
	}
	if o, ok := r.tasks[taskID]; ok {
		o.applyTo(&c)
	}
	return c
}

type FieldSource struct {
	Field  string
	Value  any
	Source string
}

// Summary reports every resolved field together with where its value came from.
func (r *Resolver) Summary(taskID, category string) []FieldSource {
	c := Defaults()
	src := map[string]string{}
	if o, ok := r.categories[category]; ok {
		for _, n := range o.applyTo(&c) {
			src[n] = "category:" + category
		}
	}
	if o, ok := r.tasks[taskID]; ok {
		for _, n := range o.applyTo(&c) {
			src[n] = "task:" + taskID
		}
	}
	cv := reflect.ValueOf(c)
	out := make([]FieldSource, 0, cv.NumField())
	for i := 0; i < cv.NumField(); i++ {
		name := yamlName(cv.Type().Field(i))
		s := src[name]
		if s == "" {
			s = "default"
		}
		out = append(out, FieldSource{Field: name, Value: printable(cv.Field(i)), Source: s})
	}
	return out
}

func printable(v reflect.Value) any {
	if v.Kind() == reflect.Ptr {
		if v.IsNil() {
			return nil
		}
		return v.Elem().Interface()
	}
	return v.Interface()
}

func (f FieldSource) String() string {
	return fmt.Sprintf("%-32s %-24v %s", f.Field, f.Value, f.Source)
}

func containsFold(s, sub string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(sub))
}
