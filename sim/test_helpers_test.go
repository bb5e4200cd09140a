package sim

import (
	"math"
	"testing"

	"github.com/paulmach/orb"
)

// testRoad is a MapOracle for in-package tests: one straight road along +x, every section
// testSection metres long, lane 1 rightmost and centered at y=1.75. It has no links.
type testRoad struct {
	lanes []int // lane count per section
}

const (
	testSection   = 200.0
	testLaneWidth = 3.5
)

func newTestRoad(lanes ...int) *testRoad {
	return &testRoad{lanes: lanes}
}

func (r *testRoad) center(lane int) float64 { return (float64(lane) - 0.5) * testLaneWidth }

func (r *testRoad) valid(k LaneKey) bool {
	return k.Road == 1 && k.Section >= 0 && k.Section < len(r.lanes) && k.Lane >= 1 && k.Lane <= r.lanes[k.Section]
}

func (r *testRoad) NearestLane(p orb.Point) (LaneKey, float64, float64, bool) {
	if p[0] < 0 || p[0] >= testSection*float64(len(r.lanes)) {
		return LaneKey{}, 0, 0, false
	}
	sec := int(p[0] / testSection)
	lane := int(math.Floor(p[1]/testLaneWidth)) + 1
	if lane < 1 || lane > r.lanes[sec] {
		return LaneKey{}, 0, 0, false
	}
	return LaneKey{Road: 1, Section: sec, Lane: lane}, p[0] - float64(sec)*testSection, p[1] - r.center(lane), true
}

func (r *testRoad) NearestLaneLink(orb.Point) (int, float64, float64, bool) { return 0, 0, 0, false }
func (r *testRoad) ProjectOnLink(int, orb.Point) (float64, float64, bool)   { return 0, 0, false }
func (r *testRoad) LinkDirection(int, float64) (float64, bool)              { return 0, false }
func (r *testRoad) LinkLength(int) (float64, bool)                          { return 0, false }
func (r *testRoad) LinkPoint(int, float64, float64) (orb.Point, bool)       { return orb.Point{}, false }

func (r *testRoad) LaneDirection(k LaneKey, _ float64) (float64, bool) { return 0, r.valid(k) }

func (r *testRoad) LaneLength(k LaneKey) (float64, bool) { return testSection, r.valid(k) }

func (r *testRoad) SectionLaneCount(road, section int) int {
	if road != 1 || section < 0 || section >= len(r.lanes) {
		return 0
	}
	return r.lanes[section]
}

func (r *testRoad) Lane(k LaneKey) (LaneInfo, bool) {
	return LaneInfo{Key: k, Length: testSection, Width: testLaneWidth}, r.valid(k)
}

func (r *testRoad) LanePoint(k LaneKey, s, t float64) (orb.Point, bool) {
	if !r.valid(k) {
		return orb.Point{}, false
	}
	return orb.Point{float64(k.Section)*testSection + s, r.center(k.Lane) + t}, true
}

var _ MapOracle = (*testRoad)(nil)

// at is the point at absolute x in lane.
func at(x float64, lane int) orb.Point {
	return orb.Point{x, (float64(lane) - 0.5) * testLaneWidth}
}

func mustVehicle(t *testing.T, r MapOracle, spec VehicleSpec) *Vehicle {
	t.Helper()
	v, err := NewVehicle(spec, r)
	if err != nil {
		t.Fatalf("NewVehicle(%d): %v", spec.ID, err)
	}
	return v
}

func mustEgo(t *testing.T, r MapOracle, spec EgoSpec) *Ego {
	t.Helper()
	e, err := NewEgo(spec, r, 0)
	if err != nil {
		t.Fatalf("NewEgo(%d): %v", spec.ID, err)
	}
	return e
}

// aliveAll moves every entity in the store to alive as the lifecycle phase would at t=0.
func aliveAll(s *Store) {
	for _, e := range s.AllEntities() {
		e.CheckStart(0)
	}
	for _, o := range s.RelativeObstacles() {
		o.CheckStart(0)
	}
}
