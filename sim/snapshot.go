package sim

import (
	"cmp"
	"math"
	"slices"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
)

// SnapshotObject is one participant as handed to the autonomy stack.
type SnapshotObject struct {
	ID       int // map id; pedestrians are reported as -id
	Ref      EntityRef
	Position orb.Point
	Z        float64
	Heading  float64
	Speed    float64
	Accel    float64
	Length   float64
	Width    float64
	Lane     LaneKey
	OnLink   bool
	Light    LightState // traffic lights only
}

// WorldSnapshot is the outbound world state of one frame. Every list is sorted by ID.
type WorldSnapshot struct {
	Frame            int64
	Time             float64
	Ego              SnapshotObject
	HasEgo           bool
	Cars             []SnapshotObject // vehicles and every ego except the reference leader
	DynamicObstacles []SnapshotObject // pedestrians and relative-trajectory obstacles
	StaticObstacles  []SnapshotObject
	TrafficLights    []SnapshotObject
}

func objectOf(e Entity, length, width float64) SnapshotObject {
	k := e.Kinetics()
	return SnapshotObject{
		ID:       e.ID(),
		Ref:      e.Ref(),
		Position: k.Position,
		Z:        k.Z,
		Heading:  k.Heading,
		Speed:    k.Speed,
		Accel:    k.Accel,
		Length:   length,
		Width:    width,
		Lane:     k.Lane,
		OnLink:   k.OnLink,
	}
}

// BuildSnapshot captures every alive entity of store. The reference ego is the leader of
// egoGroup (or the first leader when empty).
func BuildSnapshot(store *Store, egoGroup string, frame int64, t float64) WorldSnapshot {
	w := WorldSnapshot{Frame: frame, Time: t}
	ref, hasRef := store.ReferenceEgo(egoGroup)
	for _, e := range store.Egos() {
		if !e.IsAlive() {
			continue
		}
		obj := objectOf(e, e.length, e.width)
		if hasRef && e == ref {
			w.Ego, w.HasEgo = obj, true
			continue
		}
		w.Cars = append(w.Cars, obj)
	}
	for _, v := range store.Vehicles() {
		if v.IsAlive() {
			w.Cars = append(w.Cars, objectOf(v, v.length, v.width))
		}
	}
	for _, p := range store.Pedestrians() {
		if p.IsAlive() {
			obj := objectOf(p, 0.5, 0.5)
			obj.ID = -p.ID()
			w.DynamicObstacles = append(w.DynamicObstacles, obj)
		}
	}
	for _, o := range store.RelativeObstacles() {
		if o.IsAlive() {
			w.DynamicObstacles = append(w.DynamicObstacles, objectOf(o, o.length, o.width))
		}
	}
	for _, o := range store.StaticObstacles() {
		if o.IsAlive() {
			w.StaticObstacles = append(w.StaticObstacles, objectOf(o, o.length, o.width))
		}
	}
	for _, sl := range store.Signals() {
		if sl.IsAlive() {
			obj := objectOf(sl, 0, 0)
			obj.Light = sl.light
			w.TrafficLights = append(w.TrafficLights, obj)
		}
	}
	for _, list := range [][]SnapshotObject{w.Cars, w.DynamicObstacles, w.StaticObstacles, w.TrafficLights} {
		sortObjects(list)
	}
	return w
}

func sortObjects(list []SnapshotObject) {
	slices.SortFunc(list, func(a, b SnapshotObject) int {
		if c := cmp.Compare(a.ID, b.ID); c != 0 {
			return c
		}
		return cmp.Compare(a.Ref.Kind, b.Ref.Kind)
	})
}

// Filter keeps the objects within vf.Radius of center on the plane and, when
// vf.AltitudeBand is positive, within that band of z. A disabled filter returns w as is.
func (w WorldSnapshot) Filter(vf VisionFilterConfig, center orb.Point, z float64) WorldSnapshot {
	if !vf.Enabled {
		return w
	}
	keep := func(list []SnapshotObject) []SnapshotObject {
		out := make([]SnapshotObject, 0, len(list))
		for _, o := range list {
			if planar.Distance(center, o.Position) > vf.Radius {
				continue
			}
			if vf.AltitudeBand > 0 && math.Abs(o.Z-z) > vf.AltitudeBand {
				continue
			}
			out = append(out, o)
		}
		return out
	}
	filtered := w
	filtered.Cars = keep(w.Cars)
	filtered.DynamicObstacles = keep(w.DynamicObstacles)
	filtered.StaticObstacles = keep(w.StaticObstacles)
	filtered.TrafficLights = keep(w.TrafficLights)
	return filtered
}

// FilterAroundEgo applies Filter centered on the snapshot's ego. Without an ego there is
// no sensing origin and w is returned unchanged.
func (w WorldSnapshot) FilterAroundEgo(vf VisionFilterConfig) WorldSnapshot {
	if !w.HasEgo {
		return w
	}
	return w.Filter(vf, w.Ego.Position, w.Ego.Z)
}

// Car looks up a car by map id.
func (w WorldSnapshot) Car(id int) (SnapshotObject, bool) {
	i, ok := slices.BinarySearchFunc(w.Cars, id, func(o SnapshotObject, id int) int { return cmp.Compare(o.ID, id) })
	if !ok {
		return SnapshotObject{}, false
	}
	return w.Cars[i], true
}
