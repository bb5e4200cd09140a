package scene

import (
	"fmt"
	"math"

	"github.com/paulmach/orb"
	"github.com/sirupsen/logrus"

	"github.com/inference-sim/traffic-sim/sim"
	"github.com/inference-sim/traffic-sim/sim/hdmap"
)

// Source serves a scene file to the assembler. It implements sim.DynamicScene; scenes
// without spawn or retire rules simply return empty deltas.
type Source struct {
	file   *File
	road   *hdmap.StraightRoad
	rng    *sim.PartitionedRNG
	shadow bool

	egos        []sim.EgoSpec
	trailer     *sim.EgoSpec
	vehicles    map[int]sim.VehicleSpec
	pedestrians map[int]sim.PedestrianSpec
	obstacles   map[int]sim.StaticObstacleSpec
	signals     map[int]sim.SignalSpec
	relative    map[int]sim.RelativeObstacleSpec

	spawners []*spawner
	retired  []bool
}

// New builds the road of f and prepares a source over it.
func New(f *File) (*Source, error) {
	road, err := hdmap.NewStraightRoad(f.Road)
	if err != nil {
		return nil, fmt.Errorf("scene road: %w", err)
	}
	return &Source{file: f, road: road, rng: sim.NewPartitionedRNG(sim.RunKey(f.Seed))}, nil
}

// Road is the scene's map oracle.
func (s *Source) Road() *hdmap.StraightRoad { return s.road }

// Shadow returns the overlay source of the scene: the same road and ego units, and the
// recorded vehicles of the shadow block replayed along their tracks. ok is false when the
// scene has no shadow block.
func (s *Source) Shadow() (*Source, bool) {
	if s.file.Shadow == nil {
		return nil, false
	}
	return &Source{file: s.file, road: s.road, rng: s.rng, shadow: true}, true
}

func (s *Source) point(p Placement) (orb.Point, error) {
	key := sim.LaneKey{Road: s.road.RoadID(), Section: p.Section, Lane: p.Lane}
	pt, ok := s.road.LanePoint(key, p.S, p.T)
	if !ok {
		return orb.Point{}, fmt.Errorf("placement %v is not on the road", key)
	}
	return pt, nil
}

// LoadObjects converts the file entries into specs. It reports false, after logging the
// cause, when any entry cannot be placed.
func (s *Source) LoadObjects() bool {
	if err := s.load(); err != nil {
		logrus.Errorf("[scene] %v", err)
		return false
	}
	return true
}

func (s *Source) load() error {
	s.vehicles = make(map[int]sim.VehicleSpec)
	s.pedestrians = make(map[int]sim.PedestrianSpec)
	s.obstacles = make(map[int]sim.StaticObstacleSpec)
	s.signals = make(map[int]sim.SignalSpec)
	s.relative = make(map[int]sim.RelativeObstacleSpec)
	s.spawners, s.retired = nil, nil

	if err := s.loadEgos(); err != nil {
		return err
	}
	vehicles := s.file.Vehicles
	if s.shadow {
		vehicles = s.file.Shadow.Vehicles
	}
	for _, v := range vehicles {
		spec, err := s.vehicleSpec(v)
		if err != nil {
			return err
		}
		if _, dup := s.vehicles[v.ID]; dup {
			return fmt.Errorf("vehicle %d: duplicate id", v.ID)
		}
		s.vehicles[v.ID] = spec
	}
	if s.shadow {
		// The shadow world only replays recorded vehicles around the mirrored ego.
		return nil
	}
	for _, p := range s.file.Pedestrians {
		pt, err := s.point(p.At)
		if err != nil {
			return fmt.Errorf("pedestrian %d: %w", p.ID, err)
		}
		s.pedestrians[p.ID] = sim.PedestrianSpec{
			ID:       p.ID,
			Position: pt,
			Heading:  s.file.Road.Heading + p.HeadingDeg*math.Pi/180,
			Speed:    p.Speed,
			Start:    p.Start,
			End:      p.End,
		}
	}
	for _, o := range s.file.Obstacles {
		pt, err := s.point(o.At)
		if err != nil {
			return fmt.Errorf("obstacle %d: %w", o.ID, err)
		}
		s.obstacles[o.ID] = sim.StaticObstacleSpec{ID: o.ID, Position: pt, Length: o.Length, Width: o.Width}
	}
	for _, sg := range s.file.Signals {
		s.signals[sg.ID] = sim.SignalSpec{
			ID:     sg.ID,
			Lane:   sim.LaneKey{Road: s.road.RoadID(), Section: sg.Section, Lane: sg.Lane},
			StopS:  sg.StopS,
			Green:  sg.Green,
			Yellow: sg.Yellow,
			Red:    sg.Red,
			Offset: sg.Offset,
		}
	}
	for _, r := range s.file.RelativeObstacles {
		kind, err := sim.ParseKind(r.Reference.Kind)
		if err != nil {
			return fmt.Errorf("relative obstacle %d: %w", r.ID, err)
		}
		offsets := make([]sim.RelativeOffset, len(r.Offsets))
		for i, o := range r.Offsets {
			offsets[i] = sim.RelativeOffset{Time: o.Time, Lon: o.Lon, Lat: o.Lat}
		}
		s.relative[r.ID] = sim.RelativeObstacleSpec{
			ID:        r.ID,
			Reference: sim.EntityRef{Kind: kind, ID: r.Reference.ID},
			Offsets:   offsets,
			Length:    r.Length,
			Width:     r.Width,
			Start:     r.Start,
			End:       r.End,
		}
	}
	for _, rule := range s.file.Spawn {
		s.spawners = append(s.spawners, newSpawner(rule, s.rng.ForSubsystem(sim.SubsystemSpawn(rule.Name))))
	}
	s.retired = make([]bool, len(s.file.Retire))
	return nil
}

func (s *Source) vehicleSpec(v VehicleEntry) (sim.VehicleSpec, error) {
	pt, err := s.point(v.At)
	if err != nil {
		return sim.VehicleSpec{}, fmt.Errorf("vehicle %d: %w", v.ID, err)
	}
	spec := sim.VehicleSpec{
		ID:           v.ID,
		Position:     pt,
		Speed:        v.Speed,
		DesiredSpeed: v.DesiredSpeed,
		Length:       v.Length,
		Width:        v.Width,
		Start:        v.Start,
		End:          v.End,
		Behavior:     v.Behavior,
		Accel:        v.Accel,
	}
	if s.shadow {
		spec.Behavior = sim.BehaviorReplay
	}
	for _, tp := range v.Track {
		p, err := s.point(tp.At)
		if err != nil {
			return sim.VehicleSpec{}, fmt.Errorf("vehicle %d track at %.2f: %w", v.ID, tp.Time, err)
		}
		spec.Track = append(spec.Track, sim.TrackPoint{Time: tp.Time, Position: p, Speed: tp.Speed})
	}
	return spec, nil
}

func (s *Source) loadEgos() error {
	s.egos, s.trailer = nil, nil
	eb := s.file.Ego
	switch sim.EgoType(eb.Type) {
	case "", sim.EgoTypeNone:
		return nil
	case sim.EgoTypeMulti:
		for _, u := range eb.Units {
			spec, err := s.egoSpec(u)
			if err != nil {
				return err
			}
			s.egos = append(s.egos, spec)
		}
	default:
		spec, err := s.egoSpec(*eb.Leader)
		if err != nil {
			return err
		}
		s.egos = append(s.egos, spec)
		if eb.Trailer != nil {
			t, err := s.egoSpec(*eb.Trailer)
			if err != nil {
				return err
			}
			t.Group, t.Role = spec.Group, sim.EgoFollower
			s.trailer = &t
		}
	}
	if s.shadow {
		return nil
	}
	for _, te := range s.file.Triggers {
		group := te.EgoGroup
		if group == "" {
			group = sim.DefaultEgoGroup
		}
		trig, err := s.trigger(te)
		if err != nil {
			return err
		}
		attached := false
		for i := range s.egos {
			if s.egos[i].Group == group && s.egos[i].Role == sim.EgoLeader {
				s.egos[i].Triggers = append(s.egos[i].Triggers, trig)
				attached = true
			}
		}
		if !attached {
			return fmt.Errorf("trigger %q: no leader ego in group %q", te.Name, group)
		}
	}
	return nil
}

func (s *Source) egoSpec(u EgoUnit) (sim.EgoSpec, error) {
	pt, err := s.point(u.At)
	if err != nil {
		return sim.EgoSpec{}, fmt.Errorf("ego %d: %w", u.ID, err)
	}
	role := sim.EgoLeader
	if u.Role == "follower" {
		role = sim.EgoFollower
	}
	group := u.Group
	if group == "" {
		group = sim.DefaultEgoGroup
	}
	return sim.EgoSpec{
		ID:           u.ID,
		Group:        group,
		Role:         role,
		Position:     pt,
		Speed:        u.Speed,
		DesiredSpeed: u.DesiredSpeed,
		Length:       u.Length,
		Width:        u.Width,
		Hitch:        u.Hitch,
	}, nil
}

func (s *Source) trigger(te TriggerEntry) (*sim.Trigger, error) {
	t := &sim.Trigger{Name: te.Name}
	switch w := te.When; {
	case w.Time != nil:
		t.When = sim.TimeReached{At: *w.Time}
	case w.ReachS != nil:
		t.When = sim.EgoReachesS{Road: s.road.RoadID(), Section: w.ReachS.Section, S: w.ReachS.S}
	case w.ReachPoint != nil:
		t.When = sim.EgoReachesPoint{Point: orb.Point{w.ReachPoint.X, w.ReachPoint.Y}, Radius: w.ReachPoint.Radius}
	}
	for _, a := range te.Actions {
		switch {
		case a.SetAccel != nil:
			t.Actions = append(t.Actions, sim.SetVehicleAccel{VehicleID: a.SetAccel.Vehicle, Accel: a.SetAccel.Accel})
		case a.Kill != nil:
			kind, err := sim.ParseKind(a.Kill.Kind)
			if err != nil {
				return nil, fmt.Errorf("trigger %q: %w", te.Name, err)
			}
			t.Actions = append(t.Actions, sim.KillEntity{Ref: sim.EntityRef{Kind: kind, ID: a.Kill.ID}})
		}
	}
	return t, nil
}

func (s *Source) EgoType() sim.EgoType   { return sim.EgoType(s.file.Ego.Type) }
func (s *Source) EgoData() []sim.EgoSpec { return s.egos }

func (s *Source) TrailerData() (sim.EgoSpec, bool) {
	if s.trailer == nil {
		return sim.EgoSpec{}, false
	}
	return *s.trailer, true
}

func (s *Source) RoutingInfo() sim.RoutingInfo {
	return sim.RoutingInfo{DesiredSpeed: s.file.Ego.DesiredSpeed}
}

func (s *Source) Vehicles() map[int]sim.VehicleSpec                   { return s.vehicles }
func (s *Source) Pedestrians() map[int]sim.PedestrianSpec             { return s.pedestrians }
func (s *Source) StaticObstacles() map[int]sim.StaticObstacleSpec     { return s.obstacles }
func (s *Source) Signals() map[int]sim.SignalSpec                     { return s.signals }
func (s *Source) RelativeObstacles() map[int]sim.RelativeObstacleSpec { return s.relative }

// SpawnAt emits the vehicles every spawn rule owes up to time t.
func (s *Source) SpawnAt(t float64) (sim.SceneDelta, error) {
	var d sim.SceneDelta
	for _, sp := range s.spawners {
		specs, err := sp.due(t, s)
		if err != nil {
			return sim.SceneDelta{}, err
		}
		d.Vehicles = append(d.Vehicles, specs...)
	}
	return d, nil
}

// ChangeAt retires the entities scheduled up to time t, each exactly once.
func (s *Source) ChangeAt(t float64) (sim.SceneDelta, error) {
	var d sim.SceneDelta
	for i, r := range s.file.Retire {
		if s.retired == nil || s.retired[i] || r.Time > t {
			continue
		}
		kind, err := sim.ParseKind(r.Kind)
		if err != nil {
			return sim.SceneDelta{}, err
		}
		s.retired[i] = true
		d.Retire = append(d.Retire, sim.EntityRef{Kind: kind, ID: r.ID})
	}
	return d, nil
}

var _ sim.DynamicScene = (*Source)(nil)
