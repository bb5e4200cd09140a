package sim

import (
	"fmt"
	"sort"

	"github.com/paulmach/orb"
)

// StaticObstacleSpec describes a fixed obstacle footprint.
type StaticObstacleSpec struct {
	ID       int
	Position orb.Point
	Z        float64
	Length   float64
	Width    float64
}

// StaticObstacle never moves; it is alive from the start of the run.
type StaticObstacle struct {
	Base
	length float64
	width  float64
}

// NewStaticObstacle builds a static obstacle on the lane nearest to its position.
func NewStaticObstacle(spec StaticObstacleSpec, oracle MapOracle) (*StaticObstacle, error) {
	o := &StaticObstacle{length: spec.Length, width: spec.Width}
	o.init(KindStaticObstacle, spec.ID, 0, 0)
	loc, err := ResolveLocation(oracle, spec.Position, spec.Z)
	if err != nil {
		return nil, fmt.Errorf("static obstacle %d: %w", spec.ID, err)
	}
	o.place(loc, 0)
	return o, nil
}

func (o *StaticObstacle) Length() float64 { return o.length }
func (o *StaticObstacle) Width() float64  { return o.width }

// RelativeOffset is one sample of a relative trajectory: longitudinal and lateral offset
// from the referent at a time relative to the run start.
type RelativeOffset struct {
	Time float64
	Lon  float64
	Lat  float64
}

// RelativeObstacleSpec describes an obstacle following a trajectory expressed relative to
// another entity.
type RelativeObstacleSpec struct {
	ID        int
	Reference EntityRef
	Offsets   []RelativeOffset
	Length    float64
	Width     float64
	Start     float64
	End       float64
}

// DynamicFollowerObstacle moves along offsets relative to its referent. The referent is
// resolved by kind and id every frame because it may be replaced across frames.
type DynamicFollowerObstacle struct {
	Base
	reference EntityRef
	offsets   []RelativeOffset
	length    float64
	width     float64
}

// NewDynamicFollowerObstacle builds the obstacle; the referent must already be in the
// store so the start location can be resolved.
func NewDynamicFollowerObstacle(spec RelativeObstacleSpec, store *Store, oracle MapOracle) (*DynamicFollowerObstacle, error) {
	if len(spec.Offsets) == 0 {
		return nil, fmt.Errorf("relative obstacle %d: no offsets", spec.ID)
	}
	offsets := append([]RelativeOffset(nil), spec.Offsets...)
	sort.SliceStable(offsets, func(i, j int) bool { return offsets[i].Time < offsets[j].Time })
	o := &DynamicFollowerObstacle{
		reference: spec.Reference,
		offsets:   offsets,
		length:    spec.Length,
		width:     spec.Width,
	}
	o.init(KindDynamicFollowerObstacle, spec.ID, spec.Start, spec.End)
	ref, ok := store.GetByID(spec.Reference.Kind, spec.Reference.ID)
	if !ok {
		return nil, fmt.Errorf("relative obstacle %d: reference %v not found", spec.ID, spec.Reference)
	}
	o.place(o.follow(ref.Location(), offsets[0], oracle), 0)
	return o, nil
}

// Reference is the referent this obstacle follows.
func (o *DynamicFollowerObstacle) Reference() EntityRef { return o.reference }

// Update resolves the referent through the store and moves along the relative trajectory.
// A missing referent ends the obstacle.
func (o *DynamicFollowerObstacle) Update(fc *FrameContext) error {
	if !o.IsAlive() {
		return nil
	}
	ref, ok := fc.Store.GetByID(o.reference.Kind, o.reference.ID)
	if !ok || ref.State() == LifecycleKilled {
		o.requestEnd()
		return nil
	}
	rk := ref.Kinetics()
	loc := o.follow(ref.Location(), o.offsetAt(fc.RelTime), fc.Oracle)
	o.next = motion{loc: loc, speed: rk.Speed, accel: rk.Accel}
	o.publish()
	return nil
}

func (o *DynamicFollowerObstacle) offsetAt(t float64) RelativeOffset {
	if t <= o.offsets[0].Time {
		return o.offsets[0]
	}
	for i := 1; i < len(o.offsets); i++ {
		if o.offsets[i].Time < t {
			continue
		}
		a, b := o.offsets[i-1], o.offsets[i]
		f := (t - a.Time) / (b.Time - a.Time)
		return RelativeOffset{Time: t, Lon: a.Lon + f*(b.Lon-a.Lon), Lat: a.Lat + f*(b.Lat-a.Lat)}
	}
	return o.offsets[len(o.offsets)-1]
}

func (o *DynamicFollowerObstacle) follow(ref Location, off RelativeOffset, oracle MapOracle) Location {
	dir := ref.Direction()
	p := orb.Point{
		ref.Point[0] + dir[0]*off.Lon - dir[1]*off.Lat,
		ref.Point[1] + dir[1]*off.Lon + dir[0]*off.Lat,
	}
	loc, err := ResolveLocation(oracle, p, ref.Z)
	if err != nil {
		// off-road followers keep a Cartesian-only location
		return Location{Point: p, Z: ref.Z, Heading: ref.Heading}
	}
	loc.Heading = ref.Heading
	return loc
}
