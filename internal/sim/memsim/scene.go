package memsim

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type ObjectSpec struct {
	Name     string     `yaml:"name"`
	Category string     `yaml:"category"`
	Instance string     `yaml:"instance"`
	Pos      [3]float64 `yaml:"pos"`
	Yaw      float64    `yaml:"yaw"`
	Size     [3]float64 `yaml:"size"`

	// Container objects are open-top boxes other objects can rest inside.
	Container bool `yaml:"container"`
	Openable  bool `yaml:"openable"`
	Open      bool `yaml:"open"`
	// Obstacle footprints block the path planner.
	Obstacle bool `yaml:"obstacle"`
	// Fixed objects ignore gravity and cannot be grasped.
	Fixed bool `yaml:"fixed"`
}

type RobotSpec struct {
	Pos [3]float64 `yaml:"pos"`
	Yaw float64    `yaml:"yaw"`
}

type SceneSpec struct {
	Robot           RobotSpec     `yaml:"robot"`
	Objects         []ObjectSpec  `yaml:"objects"`
	Bounds          [2][2]float64 `yaml:"bounds"`
	MaxEpisodeSteps int           `yaml:"max_episode_steps"`
	GraspTicks      int           `yaml:"grasp_ticks"`
	ReachDistance   float64       `yaml:"reach_distance"`
}

func LoadScene(path string) (SceneSpec, error) {
	var s SceneSpec
	raw, err := os.ReadFile(path)
	if err != nil {
		return s, err
	}
	if err := yaml.Unmarshal(raw, &s); err != nil {
		return s, fmt.Errorf("scene %s: %w", path, err)
	}
	if err := s.Validate(); err != nil {
		return s, fmt.Errorf("scene %s: %w", path, err)
	}
	return s, nil
}

func (s SceneSpec) Validate() error {
	seen := map[string]bool{}
	for i, o := range s.Objects {
		if o.Name == "" {
			return fmt.Errorf("objects[%d]: missing name", i)
		}
		if seen[o.Name] {
			return fmt.Errorf("objects[%d]: duplicate name %q", i, o.Name)
		}
		seen[o.Name] = true
		for _, d := range o.Size {
			if d <= 0 {
				return fmt.Errorf("object %s: size must be positive", o.Name)
			}
		}
	}
	return nil
}
