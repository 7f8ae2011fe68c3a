package primconfig

import "fmt"

// StackPair declares that Top rests on Bottom.
type StackPair struct {
	Top    string `yaml:"top" json:"top"`
	Bottom string `yaml:"bottom" json:"bottom"`
}

// ContainPair declares that Object travels inside Container.
type ContainPair struct {
	Object    string `yaml:"object" json:"object"`
	Container string `yaml:"container" json:"container"`
}

// ViaRule routes navigation to Target through Via first.
type ViaRule struct {
	Target string `yaml:"target" json:"target"`
	Via    string `yaml:"via" json:"via"`
}

// DoorRule makes navigation to any of Targets cross Door first.
type DoorRule struct {
	Door    string   `yaml:"door" json:"door"`
	Targets []string `yaml:"targets" json:"targets"`
}

// PlacementSlots are explicit XY offsets for objects whose name contains
// Pattern, consumed one per placement.
type PlacementSlots struct {
	Pattern string       `yaml:"pattern" json:"pattern"`
	Offsets [][2]float64 `yaml:"offsets" json:"offsets"`
}

const (
	DirRobot = "robot"
	DirRight = "right"
	DirLeft  = "left"
	DirFront = "front"
	DirBack  = "back"

	OrderCenter     = "center"
	OrderLeftFirst  = "left_first"
	OrderRightFirst = "right_first"
)

// Config is the resolved parameter set for one primitive call. Treat it as
// immutable once returned by Resolve.
type Config struct {
	InstantSettleSteps int     `yaml:"instant_settle_steps"`
	PlaceSettleSteps   int     `yaml:"place_settle_steps"`
	PlacementMargin    float64 `yaml:"placement_margin"`

	NextToMarginMin          float64  `yaml:"nextto_margin_min"`
	NextToMarginMax          float64  `yaml:"nextto_margin_max"`
	NextToMarginFactor       float64  `yaml:"nextto_margin_factor"`
	NextToDirection          string   `yaml:"nextto_placement_direction"`
	NextToRandomizeDirection bool     `yaml:"nextto_randomize_direction"`
	NextToForceZ             *float64 `yaml:"nextto_force_z"`
	NextToSpreadOffset       float64  `yaml:"nextto_spread_offset"`
	NextToGentleRelease      bool     `yaml:"nextto_gentle_release"`
	SkipNextToVerification   bool     `yaml:"skip_nextto_verification"`
	PlaceNextToOnFloor       bool     `yaml:"place_nextto_on_floor"`

	SamplingAttempts          int              `yaml:"sampling_attempts"`
	StackGap                  float64          `yaml:"stack_gap"`
	PlacementOrder            string           `yaml:"placement_order"`
	PlacementMap              []PlacementSlots `yaml:"placement_map"`
	TeleportPlacement         bool             `yaml:"teleport_placement"`
	UseSmartPlacement         bool             `yaml:"use_smart_placement"`
	FixAfterPlacement         bool             `yaml:"fix_after_placement"`
	PlaceOnTopAtRobotPosition bool             `yaml:"place_ontop_at_robot_position"`

	RestoreOnTopPairs            []StackPair   `yaml:"restore_ontop_pairs"`
	FixStackedDuringTransport    []StackPair   `yaml:"fix_stacked_during_transport"`
	JoinContainedDuringTransport []ContainPair `yaml:"join_contained_during_transport"`

	ApproachDistance      float64   `yaml:"approach_distance"`
	NavStepSize           float64   `yaml:"nav_step_size"`
	UseWaypointNavigation bool      `yaml:"use_waypoint_navigation"`
	UseTeleportNavigation bool      `yaml:"use_teleport_navigation"`
	NavigationVia         *ViaRule  `yaml:"navigation_via"`
	DoorCrossing          *DoorRule `yaml:"door_crossing"`

	RobotInitialPosition  *[3]float64 `yaml:"robot_initial_position"`
	RobotInitialYaw       *float64    `yaml:"robot_initial_yaw"`
	RetreatAfterContainer string      `yaml:"retreat_after_container"`
	RetreatPoint          *[3]float64 `yaml:"retreat_point"`
	SkipOrientation       bool        `yaml:"skip_orientation"`
	SkipBaseRotation      bool        `yaml:"skip_base_rotation"`

	CloseAllContainers string   `yaml:"close_all_containers"`
	FreezeContainers   []string `yaml:"freeze_containers"`

	MaxPrimitiveSteps int `yaml:"max_primitive_steps"`
	FrameInterval     int `yaml:"frame_interval"`
	ReorientInterval  int `yaml:"reorient_interval"`
}

func Defaults() Config {
	return Config{
		InstantSettleSteps: 20,
		PlaceSettleSteps:   50,
		PlacementMargin:    0.05,

		NextToMarginMin:    0.02,
		NextToMarginMax:    0.15,
		NextToMarginFactor: 0.3,
		NextToDirection:    DirRobot,

		SamplingAttempts: 3,
		StackGap:         0.02,
		PlacementOrder:   OrderCenter,

		ApproachDistance: 1.0,
		NavStepSize:      0.1,

		MaxPrimitiveSteps: 2000,
		FrameInterval:     10,
		ReorientInterval:  30,
	}
}

func (c Config) Validate() error {
	if c.InstantSettleSteps < 0 || c.PlaceSettleSteps < 0 {
		return fmt.Errorf("settle steps must be >= 0")
	}
	if c.SamplingAttempts < 0 {
		return fmt.Errorf("sampling_attempts must be >= 0")
	}
	if c.NextToMarginMin > c.NextToMarginMax {
		return fmt.Errorf("nextto_margin_min %.3f > nextto_margin_max %.3f", c.NextToMarginMin, c.NextToMarginMax)
	}
	if c.NavStepSize <= 0 {
		return fmt.Errorf("nav_step_size must be > 0")
	}
	if c.MaxPrimitiveSteps <= 0 {
		return fmt.Errorf("max_primitive_steps must be > 0")
	}
	switch c.NextToDirection {
	case DirRobot, DirRight, DirLeft, DirFront, DirBack:
	default:
		return fmt.Errorf("unknown nextto_placement_direction %q", c.NextToDirection)
	}
	switch c.PlacementOrder {
	case OrderCenter, OrderLeftFirst, OrderRightFirst:
	default:
		return fmt.Errorf("unknown placement_order %q", c.PlacementOrder)
	}
	return nil
}

// MatchSlots returns the first placement_map entry whose pattern occurs in name.
func (c Config) MatchSlots(name string) (PlacementSlots, bool) {
	for _, s := range c.PlacementMap {
		if s.Pattern != "" && containsFold(name, s.Pattern) {
			return s, true
		}
	}
	return PlacementSlots{}, false
}
