// Package scene loads YAML scene files into a sim.DynamicScene: the road, the ego group(s),
// background traffic, signals, triggers, spawn and retirement rules, and an optional shadow
// block of recorded trajectories for the overlay layer.
package scene

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/inference-sim/traffic-sim/sim"
	"github.com/inference-sim/traffic-sim/sim/hdmap"
)

// Placement positions an entity on the road in curve-relative terms.
type Placement struct {
	Section int     `yaml:"section"`
	Lane    int     `yaml:"lane"`
	S       float64 `yaml:"s"`
	T       float64 `yaml:"t"`
}

// EgoUnit is one ego vehicle (truck, trailer, or a group member).
type EgoUnit struct {
	ID           int       `yaml:"id"`
	Group        string    `yaml:"group"`
	Role         string    `yaml:"role"` // leader (default) or follower
	At           Placement `yaml:"at"`
	Speed        float64   `yaml:"speed"`
	DesiredSpeed float64   `yaml:"desired_speed"`
	Length       float64   `yaml:"length"`
	Width        float64   `yaml:"width"`
	Hitch        float64   `yaml:"hitch"`
}

// EgoBlock configures the ego. Multi-ego scenes list every unit under Units; single and
// truck-trailer scenes use Leader (and Trailer).
type EgoBlock struct {
	Type         string    `yaml:"type"`
	Leader       *EgoUnit  `yaml:"leader"`
	Trailer      *EgoUnit  `yaml:"trailer"`
	Units        []EgoUnit `yaml:"units"`
	DesiredSpeed float64   `yaml:"desired_speed"`
}

// TrackSample is one recorded trajectory sample.
type TrackSample struct {
	Time  float64   `yaml:"time"`
	At    Placement `yaml:"at"`
	Speed float64   `yaml:"speed"`
}

// VehicleEntry is a background vehicle.
type VehicleEntry struct {
	ID           int           `yaml:"id"`
	At           Placement     `yaml:"at"`
	Speed        float64       `yaml:"speed"`
	DesiredSpeed float64       `yaml:"desired_speed"`
	Behavior     string        `yaml:"behavior"`
	Accel        float64       `yaml:"accel"`
	Length       float64       `yaml:"length"`
	Width        float64       `yaml:"width"`
	Start        float64       `yaml:"start"`
	End          float64       `yaml:"end"`
	Track        []TrackSample `yaml:"track"`
}

// PedestrianEntry walks along HeadingDeg (degrees, counter-clockwise from the road
// direction).
type PedestrianEntry struct {
	ID         int       `yaml:"id"`
	At         Placement `yaml:"at"`
	HeadingDeg float64   `yaml:"heading_deg"`
	Speed      float64   `yaml:"speed"`
	Start      float64   `yaml:"start"`
	End        float64   `yaml:"end"`
}

type ObstacleEntry struct {
	ID     int       `yaml:"id"`
	At     Placement `yaml:"at"`
	Length float64   `yaml:"length"`
	Width  float64   `yaml:"width"`
}

type SignalEntry struct {
	ID      int     `yaml:"id"`
	Section int     `yaml:"section"`
	Lane    int     `yaml:"lane"`
	StopS   float64 `yaml:"stop_s"`
	Green   float64 `yaml:"green"`
	Yellow  float64 `yaml:"yellow"`
	Red     float64 `yaml:"red"`
	Offset  float64 `yaml:"offset"`
}

// RefEntry names an entity by kind and id.
type RefEntry struct {
	Kind string `yaml:"kind"`
	ID   int    `yaml:"id"`
}

type OffsetEntry struct {
	Time float64 `yaml:"time"`
	Lon  float64 `yaml:"lon"`
	Lat  float64 `yaml:"lat"`
}

type RelativeEntry struct {
	ID        int           `yaml:"id"`
	Reference RefEntry      `yaml:"reference"`
	Offsets   []OffsetEntry `yaml:"offsets"`
	Length    float64       `yaml:"length"`
	Width     float64       `yaml:"width"`
	Start     float64       `yaml:"start"`
	End       float64       `yaml:"end"`
}

// WhenEntry is a trigger condition; exactly one field is set.
type WhenEntry struct {
	Time       *float64    `yaml:"time"`
	ReachS     *Placement  `yaml:"reach_s"`
	ReachPoint *PointEntry `yaml:"reach_point"`
}

type PointEntry struct {
	X      float64 `yaml:"x"`
	Y      float64 `yaml:"y"`
	Radius float64 `yaml:"radius"`
}

// ActionEntry is a trigger action; exactly one field is set.
type ActionEntry struct {
	SetAccel *SetAccelEntry `yaml:"set_accel"`
	Kill     *RefEntry      `yaml:"kill"`
}

type SetAccelEntry struct {
	Vehicle int     `yaml:"vehicle"`
	Accel   float64 `yaml:"accel"`
}

type TriggerEntry struct {
	Name     string        `yaml:"name"`
	EgoGroup string        `yaml:"ego_group"`
	When     WhenEntry     `yaml:"when"`
	Actions  []ActionEntry `yaml:"actions"`
}

// SpawnRule emits a vehicle every Interval seconds between Start and End (End <= 0 runs
// forever) on a lane drawn from Lanes, with a speed drawn from [SpeedMin, SpeedMax].
type SpawnRule struct {
	Name     string  `yaml:"name"`
	Interval float64 `yaml:"interval"`
	Start    float64 `yaml:"start"`
	End      float64 `yaml:"end"`
	Section  int     `yaml:"section"`
	S        float64 `yaml:"s"`
	Lanes    []int   `yaml:"lanes"`
	SpeedMin float64 `yaml:"speed_min"`
	SpeedMax float64 `yaml:"speed_max"`
	FirstID  int     `yaml:"first_id"`
}

type RetireEntry struct {
	Time float64 `yaml:"time"`
	Kind string  `yaml:"kind"`
	ID   int     `yaml:"id"`
}

// ShadowBlock lists the recorded vehicles replayed by the overlay layer.
type ShadowBlock struct {
	Vehicles []VehicleEntry `yaml:"vehicles"`
}

// File is the on-disk scene.
type File struct {
	Seed              int64             `yaml:"seed"`
	Road              hdmap.Config      `yaml:"road"`
	Ego               EgoBlock          `yaml:"ego"`
	Vehicles          []VehicleEntry    `yaml:"vehicles"`
	Pedestrians       []PedestrianEntry `yaml:"pedestrians"`
	Obstacles         []ObstacleEntry   `yaml:"obstacles"`
	Signals           []SignalEntry     `yaml:"signals"`
	RelativeObstacles []RelativeEntry   `yaml:"relative_obstacles"`
	Triggers          []TriggerEntry    `yaml:"triggers"`
	Spawn             []SpawnRule       `yaml:"spawn"`
	Retire            []RetireEntry     `yaml:"retire"`
	Shadow            *ShadowBlock      `yaml:"shadow"`
}

// Load reads and validates a scene file. Unknown keys are rejected.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading scene: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates scene YAML.
func Parse(data []byte) (*File, error) {
	var f File
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&f); err != nil {
		return nil, fmt.Errorf("parsing scene: %w", err)
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return &f, nil
}

// Validate checks the parts of the scene the road does not check itself.
func (f *File) Validate() error {
	if !sim.ValidEgoTypes[sim.EgoType(f.Ego.Type)] {
		return fmt.Errorf("unknown ego type %q; valid: none, single, truck-trailer, multi", f.Ego.Type)
	}
	switch sim.EgoType(f.Ego.Type) {
	case sim.EgoTypeSingle, sim.EgoTypeTruckTrailer:
		if f.Ego.Leader == nil {
			return fmt.Errorf("ego type %q needs a leader", f.Ego.Type)
		}
	case sim.EgoTypeMulti:
		if len(f.Ego.Units) == 0 {
			return fmt.Errorf("ego type multi needs units")
		}
	}
	if sim.EgoType(f.Ego.Type) == sim.EgoTypeTruckTrailer && f.Ego.Trailer == nil {
		return fmt.Errorf("ego type truck-trailer needs a trailer")
	}
	for _, u := range f.Ego.Units {
		if u.Role != "" && u.Role != "leader" && u.Role != "follower" {
			return fmt.Errorf("ego unit %d: unknown role %q; valid: leader, follower", u.ID, u.Role)
		}
	}
	for i, v := range f.Vehicles {
		if err := validateVehicle(v, fmt.Sprintf("vehicles[%d]", i)); err != nil {
			return err
		}
	}
	if f.Shadow != nil {
		for i, v := range f.Shadow.Vehicles {
			if len(v.Track) == 0 {
				return fmt.Errorf("shadow.vehicles[%d]: recorded vehicles need a track", i)
			}
		}
	}
	for _, r := range f.RelativeObstacles {
		if _, err := sim.ParseKind(r.Reference.Kind); err != nil {
			return fmt.Errorf("relative obstacle %d: %w", r.ID, err)
		}
		if len(r.Offsets) == 0 {
			return fmt.Errorf("relative obstacle %d: needs at least one offset", r.ID)
		}
	}
	for _, t := range f.Triggers {
		if err := validateTrigger(t); err != nil {
			return err
		}
	}
	for _, rule := range f.Spawn {
		if rule.Name == "" {
			return fmt.Errorf("spawn rule needs a name")
		}
		if rule.Interval <= 0 {
			return fmt.Errorf("spawn %q: interval must be positive, got %f", rule.Name, rule.Interval)
		}
		if len(rule.Lanes) == 0 {
			return fmt.Errorf("spawn %q: needs at least one lane", rule.Name)
		}
		if rule.SpeedMin < 0 || rule.SpeedMax < rule.SpeedMin {
			return fmt.Errorf("spawn %q: need 0 <= speed_min <= speed_max", rule.Name)
		}
	}
	for _, r := range f.Retire {
		if _, err := sim.ParseKind(r.Kind); err != nil {
			return fmt.Errorf("retire %d: %w", r.ID, err)
		}
	}
	return nil
}

func validateVehicle(v VehicleEntry, prefix string) error {
	if !sim.ValidBehaviors[v.Behavior] {
		return fmt.Errorf("%s: unknown behavior %q; valid: idm, fixed, replay", prefix, v.Behavior)
	}
	if v.Behavior == sim.BehaviorReplay && len(v.Track) == 0 {
		return fmt.Errorf("%s: replay behavior needs a track", prefix)
	}
	return nil
}

func validateTrigger(t TriggerEntry) error {
	set := 0
	for _, ok := range []bool{t.When.Time != nil, t.When.ReachS != nil, t.When.ReachPoint != nil} {
		if ok {
			set++
		}
	}
	if set != 1 {
		return fmt.Errorf("trigger %q: exactly one of time, reach_s, reach_point required", t.Name)
	}
	for i, a := range t.Actions {
		if (a.SetAccel == nil) == (a.Kill == nil) {
			return fmt.Errorf("trigger %q action %d: exactly one of set_accel, kill required", t.Name, i)
		}
		if a.Kill != nil {
			if _, err := sim.ParseKind(a.Kill.Kind); err != nil {
				return fmt.Errorf("trigger %q action %d: %w", t.Name, i, err)
			}
		}
	}
	return nil
}
