package sim

import (
	"sync/atomic"

	"github.com/paulmach/orb"
)

// Lifecycle is the state of a traffic element.
// Created → Alive → Ending → Killed; Killed entities are compacted out of the Store.
type Lifecycle int32

const (
	LifecycleCreated Lifecycle = iota
	LifecycleAlive
	LifecycleEnding
	LifecycleKilled
)

func (l Lifecycle) String() string {
	switch l {
	case LifecycleCreated:
		return "created"
	case LifecycleAlive:
		return "alive"
	case LifecycleEnding:
		return "ending"
	case LifecycleKilled:
		return "killed"
	}
	return "unknown"
}

// FrameContext carries everything a phase hands to an entity for one frame.
// It is built once per frame and shared read-only by every worker.
type FrameContext struct {
	Frame    int64
	Time     float64 // absolute simulation time
	RelTime  float64 // time since the first Update
	Dt       float64
	Config   *RunConfig
	Oracle   MapOracle
	Solver   DynamicsSolver
	Store    *Store
	Kinetics KineticsMap
	Events   *EventDispatcher
}

// Entity is the capability set shared by every traffic element kind.
type Entity interface {
	ID() int
	SysID() int
	Kind() Kind
	Ref() EntityRef

	PreUpdate(fc *FrameContext) error
	Update(fc *FrameContext) error
	PostUpdate(fc *FrameContext) error

	// CheckStart promotes a created entity to alive once its start time is reached and
	// reports whether it is alive.
	CheckStart(t float64) bool
	// CheckEnd moves an alive entity to ending when its end condition holds and reports
	// whether it is ending or killed.
	CheckEnd(t float64) bool
	// Kill is idempotent.
	Kill()
	IsAlive() bool
	State() Lifecycle

	// Location is the stable (previous-frame settled) location.
	Location() Location
	Kinetics() Kinetics

	setSysID(id int)
}

// Movable entities expose the stable read contract: during read phases these return the
// previous frame's settled value; the new value is visible only after the entity's own
// PostUpdate published it.
type Movable interface {
	Entity
	CurrentLaneInfo() (LaneKey, bool)
	StableGeomCenter() orb.Point
	StableLaneDir() float64
}

// EnvironmentPerceiver refreshes its own neighbor awareness from the Store.
type EnvironmentPerceiver interface {
	Perceive(fc *FrameContext) error
}

// KineticsReceiver accepts the frame-reference (leader ego) kinetics broadcast.
type KineticsReceiver interface {
	ReceiveReference(ref Kinetics)
}

// KineticsHandler provides the frame-reference kinetics and accepts externally injected
// poses.
type KineticsHandler interface {
	ReferenceKinetics() (Kinetics, bool)
	InjectPose(p Pose)
}

// Base holds identity, lifecycle and the double-buffered location common to all kinds.
type Base struct {
	id    int
	sysID int
	kind  Kind

	state        atomic.Int32
	endRequested atomic.Bool
	startTime    float64
	endTime      float64 // <= 0 means no scheduled end

	stable motion
	next   motion
}

// motion is one buffer of the double-buffered movement state.
type motion struct {
	loc   Location
	speed float64
	accel float64
}

func (b *Base) init(kind Kind, id int, start, end float64) {
	b.kind = kind
	b.id = id
	b.startTime = start
	b.endTime = end
}

func (b *Base) ID() int            { return b.id }
func (b *Base) SysID() int         { return b.sysID }
func (b *Base) Kind() Kind         { return b.kind }
func (b *Base) Ref() EntityRef     { return EntityRef{Kind: b.kind, ID: b.id} }
func (b *Base) setSysID(id int)    { b.sysID = id }
func (b *Base) State() Lifecycle   { return Lifecycle(b.state.Load()) }
func (b *Base) IsAlive() bool      { return b.State() == LifecycleAlive }
func (b *Base) Location() Location { return b.stable.loc }

func (b *Base) CheckStart(t float64) bool {
	if t >= b.startTime {
		b.state.CompareAndSwap(int32(LifecycleCreated), int32(LifecycleAlive))
	}
	return b.IsAlive()
}

func (b *Base) CheckEnd(t float64) bool {
	if b.endRequested.Load() || (b.endTime > 0 && t >= b.endTime) {
		b.state.CompareAndSwap(int32(LifecycleAlive), int32(LifecycleEnding))
	}
	s := b.State()
	return s == LifecycleEnding || s == LifecycleKilled
}

func (b *Base) Kill() {
	b.state.Store(int32(LifecycleKilled))
}

// requestEnd asks the next lifecycle check to move the entity to ending. It is the only
// lifecycle mutation an update phase may make.
func (b *Base) requestEnd() {
	b.endRequested.Store(true)
}

func (b *Base) removable() bool {
	s := b.State()
	return s == LifecycleEnding || s == LifecycleKilled
}

func (b *Base) Kinetics() Kinetics {
	return Kinetics{
		Ref:      b.Ref(),
		SysID:    b.sysID,
		Position: b.stable.loc.Point,
		Z:        b.stable.loc.Z,
		Heading:  b.stable.loc.Heading,
		Speed:    b.stable.speed,
		Accel:    b.stable.accel,
		Lane:     b.stable.loc.Lane,
		S:        b.stable.loc.S,
		T:        b.stable.loc.T,
		OnLink:   b.stable.loc.OnLink,
		Valid:    b.stable.loc.Valid() && b.IsAlive(),
	}
}

func (b *Base) CurrentLaneInfo() (LaneKey, bool) {
	return b.stable.loc.Lane, !b.stable.loc.OnLink && b.stable.loc.Valid()
}

func (b *Base) StableGeomCenter() orb.Point { return b.stable.loc.Point }
func (b *Base) StableLaneDir() float64      { return b.stable.loc.Heading }

// place sets both buffers; only used while the entity is not yet visible to any phase.
func (b *Base) place(loc Location, speed float64) {
	b.stable = motion{loc: loc, speed: speed}
	b.next = b.stable
}

// publish makes the location computed during Update the stable one.
func (b *Base) publish() {
	b.stable = b.next
}

func (b *Base) PreUpdate(*FrameContext) error  { return nil }
func (b *Base) Update(*FrameContext) error     { return nil }
func (b *Base) PostUpdate(*FrameContext) error { return nil }
