package sim

import (
	"fmt"
	"math"
	"sync"

	"github.com/paulmach/orb"
	"github.com/samber/lo"
)

// EgoRole distinguishes the units of a multi-unit ego (truck + trailer) or the members of a
// named ego group.
type EgoRole int

const (
	EgoLeader EgoRole = iota
	EgoFollower
)

func (r EgoRole) String() string {
	if r == EgoFollower {
		return "follower"
	}
	return "leader"
}

// EgoType is the scene's ego configuration.
type EgoType string

const (
	EgoTypeNone         EgoType = "none"
	EgoTypeSingle       EgoType = "single"
	EgoTypeTruckTrailer EgoType = "truck-trailer"
	EgoTypeMulti        EgoType = "multi"
)

// ValidEgoTypes is the set of recognized ego types.
var ValidEgoTypes = map[EgoType]bool{"": true, EgoTypeNone: true, EgoTypeSingle: true, EgoTypeTruckTrailer: true, EgoTypeMulti: true}

// EgoSpec describes one ego unit.
type EgoSpec struct {
	ID           int
	Group        string
	Role         EgoRole
	Position     orb.Point
	Z            float64
	Speed        float64
	DesiredSpeed float64
	Length       float64
	Width        float64
	Hitch        float64 // follower: distance behind the leader's center
	Limits       DynamicsLimits
	Triggers     []*Trigger
}

// Pose is an externally supplied ego state (driver/planner injection).
type Pose struct {
	Position orb.Point
	Z        float64
	Heading  float64
	Speed    float64
	Accel    float64
}

// LaneChangeState is the ego's maneuver state, written once per frame in PostUpdate.
type LaneChangeState int

const (
	ManeuverKeep LaneChangeState = iota
	ManeuverLaneChangeLeft
	ManeuverLaneChangeRight
	ManeuverTurnLeft
	ManeuverTurnRight
	ManeuverStraight // going straight through a junction link
)

const (
	// turnThreshold is the link heading change classifying a turn.
	turnThreshold = 20 * math.Pi / 180
	// laneChangeHold keeps a lane change visible for this long after the lane crossing.
	laneChangeHold = 1.0
	defaultHistory = 10
)

// Ego is the test vehicle driven by the autonomy stack under evaluation.
type Ego struct {
	Base

	group        string
	role         EgoRole
	length       float64
	width        float64
	hitch        float64
	desiredSpeed float64
	limits       DynamicsLimits
	triggers     []*Trigger

	poseMu      sync.Mutex
	pose        Pose
	posePending bool

	maneuver      LaneChangeState
	maneuverSince float64

	history      []Kinetics
	historyLen   int
	neighborhood Neighborhood
}

// NewEgo builds an ego unit and resolves its start location.
func NewEgo(spec EgoSpec, oracle MapOracle, historyLen int) (*Ego, error) {
	e := &Ego{
		group:        spec.Group,
		role:         spec.Role,
		length:       lo.Ternary(spec.Length > 0, spec.Length, 4.8),
		width:        lo.Ternary(spec.Width > 0, spec.Width, 1.9),
		hitch:        spec.Hitch,
		desiredSpeed: lo.Ternary(spec.DesiredSpeed > 0, spec.DesiredSpeed, math.Max(spec.Speed, 13.9)),
		limits:       withDefaultLimits(spec.Limits),
		triggers:     spec.Triggers,
		historyLen:   lo.Ternary(historyLen > 0, historyLen, defaultHistory),
	}
	e.init(KindEgo, spec.ID, 0, 0)
	loc, err := ResolveLocation(oracle, spec.Position, spec.Z)
	if err != nil {
		return nil, fmt.Errorf("ego %d (%s/%s): %w", spec.ID, spec.Group, spec.Role, err)
	}
	e.place(loc, spec.Speed)
	return e, nil
}

func (e *Ego) Group() string        { return e.group }
func (e *Ego) Role() EgoRole        { return e.role }
func (e *Ego) Length() float64      { return e.length }
func (e *Ego) IsLeader() bool       { return e.role == EgoLeader }
func (e *Ego) Triggers() []*Trigger { return e.triggers }

// InjectPose queues an external pose; it is consumed once, before the ego's next Update.
// Safe to call from a transport goroutine.
func (e *Ego) InjectPose(p Pose) {
	e.poseMu.Lock()
	e.pose = p
	e.posePending = true
	e.poseMu.Unlock()
}

func (e *Ego) takePose() (Pose, bool) {
	e.poseMu.Lock()
	defer e.poseMu.Unlock()
	if !e.posePending {
		return Pose{}, false
	}
	e.posePending = false
	return e.pose, true
}

// ReferenceKinetics is the frame-reference kinetics broadcast to the rest of the world.
func (e *Ego) ReferenceKinetics() (Kinetics, bool) {
	k := e.Kinetics()
	return k, k.Valid
}

// UpdatedKinetics exposes the state computed by this frame's Update before PostUpdate
// publishes it. Only the ego's own followers read it, sequentially after the leader.
func (e *Ego) UpdatedKinetics() Kinetics {
	return Kinetics{
		Ref:      e.Ref(),
		SysID:    e.sysID,
		Position: e.next.loc.Point,
		Z:        e.next.loc.Z,
		Heading:  e.next.loc.Heading,
		Speed:    e.next.speed,
		Accel:    e.next.accel,
		Lane:     e.next.loc.Lane,
		S:        e.next.loc.S,
		T:        e.next.loc.T,
		OnLink:   e.next.loc.OnLink,
		Valid:    e.next.loc.Valid(),
	}
}

// Perceive rebuilds the 8-sector neighborhood around the ego from stable state.
func (e *Ego) Perceive(fc *FrameContext) error {
	e.RefreshNeighborhood(fc.Store, fc.Config.PerceptionRange)
	return nil
}

// RefreshNeighborhood rebuilds the sector cache from every perceivable entity within
// maxRange, excluding the ego's own group.
func (e *Ego) RefreshNeighborhood(store *Store, maxRange float64) {
	e.neighborhood.refresh(e.Kinetics(), store.Perceivable(), maxRange, func(other Entity) bool {
		if other.SysID() == e.sysID {
			return true
		}
		oe, ok := other.(*Ego)
		return ok && oe.group == e.group
	})
}

// Neighborhood is the sector cache as of the last Perceive.
func (e *Ego) Neighborhood() *Neighborhood { return &e.neighborhood }

func (e *Ego) PreUpdate(fc *FrameContext) error {
	if !e.IsAlive() {
		return nil
	}
	k := e.Kinetics()
	k.Time = fc.Time
	fc.Kinetics.Put(k)
	return nil
}

// Update applies an injected pose when one is pending; otherwise the leader drives itself
// through the solver and a follower tows behind its leader.
func (e *Ego) Update(fc *FrameContext) error {
	if !e.IsAlive() {
		return nil
	}
	if p, ok := e.takePose(); ok {
		loc, err := ResolveLocationFrom(fc.Oracle, e.stable.loc, p.Position, p.Z)
		if err != nil {
			return fmt.Errorf("injected pose: %w", err)
		}
		loc.Heading = p.Heading
		e.next = motion{loc: loc, speed: p.Speed, accel: p.Accel}
		return nil
	}
	if e.role == EgoFollower {
		return e.tow(fc)
	}
	cur := e.stable
	accel := idmAccel(cur.speed, e.desiredSpeed, false, 0, 0, e.limits)
	if front, ok := e.neighborhood.Relation(RelationFront); ok {
		gap := front.Lon - e.length/2 - 2.5
		accel = idmAccel(cur.speed, e.desiredSpeed, true, gap, front.Kinetics.Speed, e.limits)
	}
	out := fc.Solver.Step(
		DynamicsState{Position: cur.loc.Point, Heading: cur.loc.Heading, Speed: cur.speed, Accel: cur.accel},
		DynamicsInput{Accel: accel, Heading: cur.loc.Heading, Dt: fc.Dt},
		e.limits,
	)
	loc, err := ResolveLocationFrom(fc.Oracle, cur.loc, out.Position, cur.loc.Z)
	if err != nil {
		return fmt.Errorf("ego drive: %w", err)
	}
	e.next = motion{loc: loc, speed: out.Speed, accel: out.Accel}
	return nil
}

func (e *Ego) tow(fc *FrameContext) error {
	leader, ok := fc.Store.LeaderEgo(e.group)
	if !ok {
		return fmt.Errorf("follower %d: group %q has no leader: %w", e.id, e.group, ErrNoEgo)
	}
	lk := leader.UpdatedKinetics()
	dir := Location{Heading: lk.Heading}.Direction()
	p := orb.Point{lk.Position[0] - dir[0]*e.hitch, lk.Position[1] - dir[1]*e.hitch}
	loc, err := ResolveLocationFrom(fc.Oracle, e.stable.loc, p, lk.Z)
	if err != nil {
		return fmt.Errorf("follower tow: %w", err)
	}
	loc.Heading = lk.Heading
	e.next = motion{loc: loc, speed: lk.Speed, accel: lk.Accel}
	return nil
}

// PostUpdate publishes the new state, derives the maneuver state and records history.
func (e *Ego) PostUpdate(fc *FrameContext) error {
	if !e.IsAlive() {
		return nil
	}
	prev := e.stable.loc
	e.publish()
	e.deriveManeuver(prev, fc)
	k := e.Kinetics()
	k.Time = fc.Time
	e.history = append(e.history, k)
	if len(e.history) > e.historyLen {
		e.history = e.history[len(e.history)-e.historyLen:]
	}
	return nil
}

func (e *Ego) deriveManeuver(prev Location, fc *FrameContext) {
	cur := e.stable.loc
	if cur.OnLink {
		start, _ := fc.Oracle.LinkDirection(cur.Link, 0)
		length, _ := fc.Oracle.LinkLength(cur.Link)
		end, _ := fc.Oracle.LinkDirection(cur.Link, length)
		switch turn := normalizeAngle(end - start); {
		case turn > turnThreshold:
			e.setManeuver(ManeuverTurnLeft, fc.Time)
		case turn < -turnThreshold:
			e.setManeuver(ManeuverTurnRight, fc.Time)
		default:
			e.setManeuver(ManeuverStraight, fc.Time)
		}
		return
	}
	if !prev.OnLink && prev.Lane.Road == cur.Lane.Road && prev.Lane.Section == cur.Lane.Section {
		switch {
		case cur.Lane.Lane > prev.Lane.Lane:
			e.setManeuver(ManeuverLaneChangeLeft, fc.Time)
			return
		case cur.Lane.Lane < prev.Lane.Lane:
			e.setManeuver(ManeuverLaneChangeRight, fc.Time)
			return
		}
	}
	if e.IsLaneChange() && fc.Time-e.maneuverSince < laneChangeHold {
		return
	}
	e.setManeuver(ManeuverKeep, fc.Time)
}

func (e *Ego) setManeuver(m LaneChangeState, t float64) {
	if m != e.maneuver {
		e.maneuverSince = t
	}
	e.maneuver = m
}

func (e *Ego) Maneuver() LaneChangeState { return e.maneuver }
func (e *Ego) IsTurnLeft() bool          { return e.maneuver == ManeuverTurnLeft }
func (e *Ego) IsTurnRight() bool         { return e.maneuver == ManeuverTurnRight }
func (e *Ego) IsTurnStraight() bool      { return e.maneuver == ManeuverStraight }

func (e *Ego) IsLaneChange() bool {
	return e.maneuver == ManeuverLaneChangeLeft || e.maneuver == ManeuverLaneChangeRight
}

// History returns the kinematic history ring, oldest first.
func (e *Ego) History() []Kinetics {
	return append([]Kinetics(nil), e.history...)
}
