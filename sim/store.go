package sim

import (
	"fmt"
	"sync"

	"github.com/samber/lo"
	"github.com/sirupsen/logrus"
)

// StallPolicy removes vehicles that have been stopped for too long. There is no default
// threshold: an enabled policy must name one.
type StallPolicy struct {
	Enabled   bool    `yaml:"enabled"`
	Threshold float64 `yaml:"threshold"` // seconds
}

// Store owns every entity of a layer, indexed by kind and id.
//
// Kind collections are appended to by one goroutine at a time. Vehicles may also be added
// from other goroutines mid-run; that path and every read of a collection header go through
// the insertion gate. Phases work on the collection captured at phase start and write only
// per-entity state.
type Store struct {
	gate      sync.Mutex
	nextSysID int

	egos        []*Ego
	vehicles    []*Vehicle
	pedestrians []*Pedestrian
	obstacles   []*StaticObstacle
	signals     []*SignalLight
	relative    []*DynamicFollowerObstacle

	// all and perceivable are caches rebuilt by GenerateAllEntities; never a source of truth.
	all         []Entity
	perceivable []Entity
	initialized bool

	laneIndex *LaneIndex
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{laneIndex: &LaneIndex{}}
}

func (s *Store) register(e Entity) {
	s.nextSysID++
	e.setSysID(s.nextSysID)
	if s.initialized {
		s.all = append(s.all, e)
		s.perceivable = append(s.perceivable, e)
	}
}

// AddEgo registers an ego. Leaders are kept ahead of followers so sequential ego phases
// always process a group's leader first.
func (s *Store) AddEgo(e *Ego) error {
	s.gate.Lock()
	defer s.gate.Unlock()
	for _, other := range s.egos {
		if other.group == e.group && other.role == e.role {
			return fmt.Errorf("ego %d (%q/%s) conflicts with ego %d: %w", e.id, e.group, e.role, other.id, ErrDuplicateEgo)
		}
	}
	s.register(e)
	idx := len(s.egos)
	if e.role == EgoLeader {
		idx = lo.CountBy(s.egos, func(o *Ego) bool { return o.role == EgoLeader })
	}
	egos := make([]*Ego, 0, len(s.egos)+1)
	egos = append(egos, s.egos[:idx]...)
	egos = append(egos, e)
	s.egos = append(egos, s.egos[idx:]...)
	return nil
}

// AddVehicle registers a vehicle. Safe to call from any goroutine, including while a frame
// is running; the vehicle joins phases from the next phase that captures the collection.
func (s *Store) AddVehicle(v *Vehicle) {
	s.gate.Lock()
	defer s.gate.Unlock()
	s.register(v)
	s.vehicles = append(s.vehicles, v)
}

func (s *Store) AddPedestrian(p *Pedestrian) {
	s.gate.Lock()
	defer s.gate.Unlock()
	s.register(p)
	s.pedestrians = append(s.pedestrians, p)
}

func (s *Store) AddStaticObstacle(o *StaticObstacle) {
	s.gate.Lock()
	defer s.gate.Unlock()
	s.register(o)
	s.obstacles = append(s.obstacles, o)
}

func (s *Store) AddSignal(sl *SignalLight) {
	s.gate.Lock()
	defer s.gate.Unlock()
	s.register(sl)
	s.signals = append(s.signals, sl)
}

// AddRelativeObstacle registers a relative-trajectory obstacle. These are not part of the
// flattened all-entities view.
func (s *Store) AddRelativeObstacle(o *DynamicFollowerObstacle) {
	s.gate.Lock()
	defer s.gate.Unlock()
	s.nextSysID++
	o.setSysID(s.nextSysID)
	s.relative = append(s.relative, o)
	if s.initialized {
		s.perceivable = append(s.perceivable, o)
	}
}

// Initialize checks the store invariants and builds the flattened view.
func (s *Store) Initialize() error {
	s.gate.Lock()
	for _, e := range s.egos {
		if e.role != EgoFollower {
			continue
		}
		if !lo.ContainsBy(s.egos, func(o *Ego) bool { return o.role == EgoLeader && o.group == e.group }) {
			s.gate.Unlock()
			return fmt.Errorf("follower ego %d in group %q has no leader: %w", e.id, e.group, ErrStoreInit)
		}
	}
	s.initialized = true
	s.gate.Unlock()
	s.GenerateAllEntities()
	return nil
}

// GenerateAllEntities rebuilds the flattened view by concatenating the kind collections.
// Called after Initialize and again only when compaction removed something.
func (s *Store) GenerateAllEntities() {
	s.gate.Lock()
	defer s.gate.Unlock()
	n := len(s.egos) + len(s.vehicles) + len(s.pedestrians) + len(s.obstacles) + len(s.signals)
	all := make([]Entity, 0, n)
	for _, e := range s.egos {
		all = append(all, e)
	}
	for _, v := range s.vehicles {
		all = append(all, v)
	}
	for _, p := range s.pedestrians {
		all = append(all, p)
	}
	for _, o := range s.obstacles {
		all = append(all, o)
	}
	for _, sl := range s.signals {
		all = append(all, sl)
	}
	perceivable := make([]Entity, 0, n+len(s.relative))
	perceivable = append(perceivable, all...)
	for _, o := range s.relative {
		perceivable = append(perceivable, o)
	}
	s.all = all
	s.perceivable = perceivable
}

// AllEntities is the flattened view of every kind collection except relative-trajectory
// obstacles.
func (s *Store) AllEntities() []Entity {
	s.gate.Lock()
	defer s.gate.Unlock()
	return s.all
}

// Perceivable is the flattened view plus relative-trajectory obstacles.
func (s *Store) Perceivable() []Entity {
	s.gate.Lock()
	defer s.gate.Unlock()
	return s.perceivable
}

func (s *Store) Egos() []*Ego {
	s.gate.Lock()
	defer s.gate.Unlock()
	return s.egos
}

func (s *Store) Vehicles() []*Vehicle {
	s.gate.Lock()
	defer s.gate.Unlock()
	return s.vehicles
}

func (s *Store) Pedestrians() []*Pedestrian {
	s.gate.Lock()
	defer s.gate.Unlock()
	return s.pedestrians
}

func (s *Store) StaticObstacles() []*StaticObstacle {
	s.gate.Lock()
	defer s.gate.Unlock()
	return s.obstacles
}

func (s *Store) Signals() []*SignalLight {
	s.gate.Lock()
	defer s.gate.Unlock()
	return s.signals
}

func (s *Store) RelativeObstacles() []*DynamicFollowerObstacle {
	s.gate.Lock()
	defer s.gate.Unlock()
	return s.relative
}

// SearchByType returns the kind collection as entities. The typed accessors (Vehicles,
// Egos, ...) return the live collections themselves; this view is a fresh slice over the
// same entities.
func (s *Store) SearchByType(kind Kind) []Entity {
	switch kind {
	case KindEgo:
		return asEntities(s.Egos())
	case KindVehicle:
		return asEntities(s.Vehicles())
	case KindPedestrian:
		return asEntities(s.Pedestrians())
	case KindStaticObstacle:
		return asEntities(s.StaticObstacles())
	case KindSignalLight:
		return asEntities(s.Signals())
	case KindDynamicFollowerObstacle:
		return asEntities(s.RelativeObstacles())
	}
	return nil
}

func asEntities[T Entity](items []T) []Entity {
	return lo.Map(items, func(e T, _ int) Entity { return e })
}

func findByID[T Entity](items []T, id int) (T, bool) {
	for _, e := range items {
		if e.ID() == id {
			return e, true
		}
	}
	var zero T
	return zero, false
}

// GetByID linear-scans the kind collection for a map id.
func (s *Store) GetByID(kind Kind, id int) (Entity, bool) {
	var (
		e  Entity
		ok bool
	)
	switch kind {
	case KindEgo:
		e, ok = findByID(s.Egos(), id)
	case KindVehicle:
		e, ok = findByID(s.Vehicles(), id)
	case KindPedestrian:
		e, ok = findByID(s.Pedestrians(), id)
	case KindStaticObstacle:
		e, ok = findByID(s.StaticObstacles(), id)
	case KindSignalLight:
		e, ok = findByID(s.Signals(), id)
	case KindDynamicFollowerObstacle:
		e, ok = findByID(s.RelativeObstacles(), id)
	}
	return e, ok
}

// Vehicle is the typed lookup for a vehicle map id.
func (s *Store) Vehicle(id int) (*Vehicle, bool) {
	return findByID(s.Vehicles(), id)
}

// Pedestrian is the typed lookup for a pedestrian map id.
func (s *Store) Pedestrian(id int) (*Pedestrian, bool) {
	return findByID(s.Pedestrians(), id)
}

// Ego returns the ego holding role in group.
func (s *Store) Ego(group string, role EgoRole) (*Ego, bool) {
	return lo.Find(s.Egos(), func(e *Ego) bool { return e.group == group && e.role == role })
}

// LeaderEgo returns the leader of group.
func (s *Store) LeaderEgo(group string) (*Ego, bool) {
	return s.Ego(group, EgoLeader)
}

// ReferenceEgo selects the frame-reference ego: the leader of the configured group, or the
// first leader when no group is configured.
func (s *Store) ReferenceEgo(group string) (*Ego, bool) {
	if group != "" {
		return s.LeaderEgo(group)
	}
	return lo.Find(s.Egos(), func(e *Ego) bool { return e.role == EgoLeader })
}

// Compact removes entities whose lifecycle ended and, when the stall policy is enabled,
// vehicles stopped for at least its threshold. The flattened view is regenerated only when
// something was removed. Returns the number of removed entities.
func (s *Store) Compact(t float64, policy StallPolicy) int {
	stalled := func(v *Vehicle) bool {
		return policy.Enabled && v.IsAlive() && v.StoppedFor() >= policy.Threshold
	}
	for _, v := range s.Vehicles() {
		if stalled(v) {
			logrus.Debugf("[store t=%.3f] vehicle %d stopped for %.2fs, removing", t, v.id, v.StoppedFor())
			v.Kill()
		}
	}

	s.gate.Lock()
	removed := 0
	s.egos, removed = compactKind(s.egos, removed)
	s.vehicles, removed = compactKind(s.vehicles, removed)
	s.pedestrians, removed = compactKind(s.pedestrians, removed)
	s.obstacles, removed = compactKind(s.obstacles, removed)
	s.signals, removed = compactKind(s.signals, removed)
	s.relative, removed = compactKind(s.relative, removed)
	s.gate.Unlock()

	if removed > 0 {
		s.GenerateAllEntities()
	}
	return removed
}

type removableEntity interface {
	Entity
	removable() bool
}

// compactKind drops ended entities, allocating a new collection only when one is dropped
// so collections captured earlier in the frame stay intact.
func compactKind[T removableEntity](items []T, removed int) ([]T, int) {
	n := lo.CountBy(items, func(e T) bool { return e.removable() })
	if n == 0 {
		return items, removed
	}
	for _, e := range items {
		if e.removable() {
			e.Kill()
		}
	}
	return lo.Reject(items, func(e T, _ int) bool { return e.removable() }), removed + n
}

// LaneIndex returns the lane occupancy index built for the current frame.
func (s *Store) LaneIndex() *LaneIndex {
	return s.laneIndex
}

// RebuildLaneIndex indexes the stable locations of vehicles, egos and static obstacles and
// the current stop lines. Called single-threaded, after the signal update, before the
// perception pass.
func (s *Store) RebuildLaneIndex() {
	s.laneIndex = buildLaneIndex(s.AllEntities(), s.Signals())
}
