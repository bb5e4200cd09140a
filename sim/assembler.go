package sim

import (
	"cmp"
	"fmt"
	"slices"

	"github.com/samber/lo"
	"github.com/sirupsen/logrus"
)

// DefaultEgoGroup names the ego group of single and truck-trailer scenes.
const DefaultEgoGroup = "ego"

// RoutingInfo is the ego route handed over by the scene.
type RoutingInfo struct {
	DesiredSpeed float64   // cruise speed for the leader ego when its spec has none
	Lanes        []LaneKey // planned lane sequence, informational
}

// SceneSource is the external scene loader. Its per-kind maps are keyed by map id.
type SceneSource interface {
	LoadObjects() bool
	EgoType() EgoType
	EgoData() []EgoSpec
	TrailerData() (EgoSpec, bool)
	RoutingInfo() RoutingInfo
	Vehicles() map[int]VehicleSpec
	Pedestrians() map[int]PedestrianSpec
	StaticObstacles() map[int]StaticObstacleSpec
	Signals() map[int]SignalSpec
	RelativeObstacles() map[int]RelativeObstacleSpec
}

// SceneDelta is one frame's incremental scene change.
type SceneDelta struct {
	Vehicles        []VehicleSpec
	Pedestrians     []PedestrianSpec
	StaticObstacles []StaticObstacleSpec
	Retire          []EntityRef
}

// Empty reports whether the delta changes nothing.
func (d SceneDelta) Empty() bool {
	return len(d.Vehicles) == 0 && len(d.Pedestrians) == 0 && len(d.StaticObstacles) == 0 && len(d.Retire) == 0
}

// DynamicScene is a scene that grows or shrinks while running.
type DynamicScene interface {
	SceneSource
	SpawnAt(t float64) (SceneDelta, error)
	ChangeAt(t float64) (SceneDelta, error)
}

// Assembler turns a scene into entities in a Store.
type Assembler struct {
	source     SceneSource
	dynamic    DynamicScene
	oracle     MapOracle
	historyLen int
	routing    RoutingInfo
	discarded  int
}

// NewAssembler binds a scene source to the map oracle. Sources implementing DynamicScene
// get per-frame spawning and retirement.
func NewAssembler(source SceneSource, oracle MapOracle, historyLen int) *Assembler {
	if oracle == nil {
		panic("NewAssembler: oracle must not be nil")
	}
	a := &Assembler{source: source, oracle: oracle, historyLen: historyLen}
	if d, ok := source.(DynamicScene); ok {
		a.dynamic = d
	}
	return a
}

// Discarded is the number of entity spawns dropped because their construction failed.
func (a *Assembler) Discarded() int { return a.discarded }

// Routing is the route received during Generate.
func (a *Assembler) Routing() RoutingInfo { return a.routing }

// Generate loads the scene and builds every entity into store: egos first, then each
// kind in ascending map id. A single entity failing to resolve its start is logged and
// dropped; a failed load or ego generation fails the whole scene.
func (a *Assembler) Generate(store *Store) error {
	if a.source == nil {
		return ErrNilScene
	}
	if !a.source.LoadObjects() {
		return ErrSceneLoad
	}
	a.routing = a.source.RoutingInfo()
	if err := a.GenerateEgo(store); err != nil {
		return fmt.Errorf("%w: %w", ErrSceneGenerate, err)
	}
	buildSorted(a, KindSignalLight, a.source.Signals(), func(s SignalSpec) error {
		sl, err := NewSignalLight(s, a.oracle)
		if err == nil {
			store.AddSignal(sl)
		}
		return err
	})
	buildSorted(a, KindStaticObstacle, a.source.StaticObstacles(), func(s StaticObstacleSpec) error {
		return a.addStaticObstacle(store, s)
	})
	buildSorted(a, KindVehicle, a.source.Vehicles(), func(s VehicleSpec) error {
		return a.addVehicle(store, s)
	})
	buildSorted(a, KindPedestrian, a.source.Pedestrians(), func(s PedestrianSpec) error {
		return a.addPedestrian(store, s)
	})
	// Relative obstacles resolve their referent at construction, so they go last.
	buildSorted(a, KindDynamicFollowerObstacle, a.source.RelativeObstacles(), func(s RelativeObstacleSpec) error {
		o, err := NewDynamicFollowerObstacle(s, store, a.oracle)
		if err == nil {
			store.AddRelativeObstacle(o)
		}
		return err
	})
	return nil
}

func buildSorted[S any](a *Assembler, kind Kind, specs map[int]S, build func(S) error) {
	ids := lo.Keys(specs)
	slices.Sort(ids)
	for _, id := range ids {
		if err := build(specs[id]); err != nil {
			a.discard(kind, id, err)
		}
	}
}

func (a *Assembler) discard(kind Kind, id int, err error) {
	a.discarded++
	logrus.Warnf("[assembler] dropping %s %d: %v", kind, id, err)
}

// GenerateEgo builds the ego units the scene's ego type calls for.
func (a *Assembler) GenerateEgo(store *Store) error {
	if a.source == nil {
		return ErrNilScene
	}
	var specs []EgoSpec
	switch et := a.source.EgoType(); et {
	case "", EgoTypeNone:
		return nil
	case EgoTypeSingle:
		specs = lo.Slice(a.source.EgoData(), 0, 1)
	case EgoTypeTruckTrailer:
		specs = lo.Slice(a.source.EgoData(), 0, 1)
		trailer, ok := a.source.TrailerData()
		if !ok {
			return fmt.Errorf("truck-trailer ego without trailer data: %w", ErrNoEgo)
		}
		trailer.Role = EgoFollower
		specs = append(specs, trailer)
	case EgoTypeMulti:
		specs = a.source.EgoData()
	default:
		return fmt.Errorf("unknown ego type %q", et)
	}
	if len(specs) == 0 {
		return fmt.Errorf("ego type %q without ego data: %w", a.source.EgoType(), ErrNoEgo)
	}
	// Leaders resolve before followers so a follower's group is always complete.
	slices.SortStableFunc(specs, func(x, y EgoSpec) int { return cmp.Compare(x.Role, y.Role) })
	for _, spec := range specs {
		if spec.Group == "" {
			spec.Group = DefaultEgoGroup
		}
		if spec.Role == EgoLeader && spec.DesiredSpeed <= 0 {
			spec.DesiredSpeed = a.routing.DesiredSpeed
		}
		ego, err := NewEgo(spec, a.oracle, a.historyLen)
		if err != nil {
			return err
		}
		if err := store.AddEgo(ego); err != nil {
			return err
		}
	}
	return nil
}

func (a *Assembler) addVehicle(store *Store, s VehicleSpec) error {
	v, err := NewVehicle(s, a.oracle)
	if err == nil {
		store.AddVehicle(v)
	}
	return err
}

func (a *Assembler) addPedestrian(store *Store, s PedestrianSpec) error {
	p, err := NewPedestrian(s, a.oracle)
	if err == nil {
		store.AddPedestrian(p)
	}
	return err
}

func (a *Assembler) addStaticObstacle(store *Store, s StaticObstacleSpec) error {
	o, err := NewStaticObstacle(s, a.oracle)
	if err == nil {
		store.AddStaticObstacle(o)
	}
	return err
}

// DynamicGenerateScene applies the scene's spawns for time t. An error from the scene is
// fatal to the frame; a spawn that fails to place is dropped.
func (a *Assembler) DynamicGenerateScene(store *Store, t float64) error {
	if a.dynamic == nil {
		return nil
	}
	delta, err := a.dynamic.SpawnAt(t)
	if err != nil {
		return fmt.Errorf("spawn at %.3f: %w", t, err)
	}
	return a.apply(store, delta)
}

// DynamicChangeScene applies the scene's retirements and replacements for time t.
func (a *Assembler) DynamicChangeScene(store *Store, t float64) error {
	if a.dynamic == nil {
		return nil
	}
	delta, err := a.dynamic.ChangeAt(t)
	if err != nil {
		return fmt.Errorf("change at %.3f: %w", t, err)
	}
	return a.apply(store, delta)
}

func (a *Assembler) apply(store *Store, d SceneDelta) error {
	for _, ref := range d.Retire {
		e, ok := store.GetByID(ref.Kind, ref.ID)
		if !ok {
			return fmt.Errorf("retire %v: not in store", ref)
		}
		e.Kill()
	}
	for _, s := range slices.SortedFunc(slices.Values(d.Vehicles), func(x, y VehicleSpec) int { return cmp.Compare(x.ID, y.ID) }) {
		if err := a.addVehicle(store, s); err != nil {
			a.discard(KindVehicle, s.ID, err)
		}
	}
	for _, s := range d.Pedestrians {
		if err := a.addPedestrian(store, s); err != nil {
			a.discard(KindPedestrian, s.ID, err)
		}
	}
	for _, s := range d.StaticObstacles {
		if err := a.addStaticObstacle(store, s); err != nil {
			a.discard(KindStaticObstacle, s.ID, err)
		}
	}
	return nil
}
