package sim

import (
	"fmt"
	"sync"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
	"github.com/sirupsen/logrus"
)

// Condition decides when a trigger fires, evaluated against its ego.
type Condition interface {
	Met(ego Kinetics, relTime float64) bool
}

// TimeReached fires once the run's relative time reaches At.
type TimeReached struct {
	At float64
}

func (c TimeReached) Met(_ Kinetics, relTime float64) bool { return relTime >= c.At }

// EgoReachesPoint fires when the ego is within Radius of Point.
type EgoReachesPoint struct {
	Point  orb.Point
	Radius float64
}

func (c EgoReachesPoint) Met(ego Kinetics, _ float64) bool {
	return ego.Valid && planar.Distance(ego.Position, c.Point) <= c.Radius
}

// EgoReachesS fires once the ego passes arc length S on a section of Road at or beyond
// Section.
type EgoReachesS struct {
	Road    int
	Section int
	S       float64
}

func (c EgoReachesS) Met(ego Kinetics, _ float64) bool {
	if !ego.Valid || ego.OnLink || ego.Lane.Road != c.Road {
		return false
	}
	return ego.Lane.Section > c.Section || (ego.Lane.Section == c.Section && ego.S >= c.S)
}

// Action is a scene mutation applied during the event flush.
type Action interface {
	Apply(store *Store) error
	String() string
}

// SetVehicleAccel switches a vehicle to a fixed acceleration.
type SetVehicleAccel struct {
	VehicleID int
	Accel     float64
}

func (a SetVehicleAccel) Apply(store *Store) error {
	v, ok := store.Vehicle(a.VehicleID)
	if !ok {
		return fmt.Errorf("vehicle %d not found", a.VehicleID)
	}
	v.SetFixedAccel(a.Accel)
	return nil
}

func (a SetVehicleAccel) String() string {
	return fmt.Sprintf("set-accel(vehicle#%d, %.2f)", a.VehicleID, a.Accel)
}

// KillEntity kills the referenced entity; compaction removes it at the end of the frame.
type KillEntity struct {
	Ref EntityRef
}

func (a KillEntity) Apply(store *Store) error {
	e, ok := store.GetByID(a.Ref.Kind, a.Ref.ID)
	if !ok {
		return fmt.Errorf("%v not found", a.Ref)
	}
	e.Kill()
	return nil
}

func (a KillEntity) String() string { return fmt.Sprintf("kill(%v)", a.Ref) }

// Trigger binds a condition to actions on an ego. A fired trigger stays fired.
type Trigger struct {
	Name    string
	When    Condition
	Actions []Action
	fired   bool
}

// Fired reports whether the trigger has already run.
func (t *Trigger) Fired() bool { return t.fired }

type queuedAction struct {
	source string
	action Action
}

// EventDispatcher is the global FIFO of pending scene actions. Actions are queued by the
// per-ego trigger dispatch, or by external code from any goroutine, and applied in order
// by Flush on the driving goroutine.
type EventDispatcher struct {
	mu      sync.Mutex
	pending []queuedAction
}

// NewEventDispatcher creates an empty dispatcher.
func NewEventDispatcher() *EventDispatcher {
	return &EventDispatcher{}
}

// Dispatch queues an action for the next flush.
func (d *EventDispatcher) Dispatch(source string, a Action) {
	d.mu.Lock()
	d.pending = append(d.pending, queuedAction{source: source, action: a})
	d.mu.Unlock()
}

// DispatchEgo evaluates the ego's unfired triggers and queues the actions of those whose
// condition holds.
func (d *EventDispatcher) DispatchEgo(ego *Ego, relTime float64) int {
	fired := 0
	k := ego.Kinetics()
	for _, t := range ego.Triggers() {
		if t.fired || t.When == nil || !t.When.Met(k, relTime) {
			continue
		}
		t.fired = true
		fired++
		logrus.Debugf("[events] %v trigger %q fired at %.2fs", ego.Ref(), t.Name, relTime)
		for _, a := range t.Actions {
			d.Dispatch(t.Name, a)
		}
	}
	return fired
}

// Flush applies every queued action in FIFO order. Failures are logged and do not stop
// the flush.
func (d *EventDispatcher) Flush(store *Store) (applied, failed int) {
	d.mu.Lock()
	batch := d.pending
	d.pending = nil
	d.mu.Unlock()
	for _, q := range batch {
		if err := q.action.Apply(store); err != nil {
			logrus.Warnf("[events] %s: %s failed: %v", q.source, q.action, err)
			failed++
			continue
		}
		applied++
	}
	return applied, failed
}

// Pending is the number of queued actions.
func (d *EventDispatcher) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}
