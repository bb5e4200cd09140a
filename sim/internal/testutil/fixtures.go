// Package testutil provides shared test infrastructure for the traffic simulator: an
// in-memory scene source, a straight test road, and tolerance assertions used across the
// sim/ sub-package tests.
package testutil

import (
	"math"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/paulmach/orb"

	"github.com/inference-sim/traffic-sim/sim"
	"github.com/inference-sim/traffic-sim/sim/hdmap"
)

// MemoryScene is a sim.DynamicScene whose content is set directly by the test.
type MemoryScene struct {
	FailLoad    bool
	Type        sim.EgoType
	Egos        []sim.EgoSpec
	Trailer     *sim.EgoSpec
	Routing     sim.RoutingInfo
	VehicleList []sim.VehicleSpec
	Peds        []sim.PedestrianSpec
	Static      []sim.StaticObstacleSpec
	Lights      []sim.SignalSpec
	Relative    []sim.RelativeObstacleSpec

	// Spawn and Change back SpawnAt and ChangeAt; nil means no change.
	Spawn  func(t float64) (sim.SceneDelta, error)
	Change func(t float64) (sim.SceneDelta, error)
}

func (m *MemoryScene) LoadObjects() bool           { return !m.FailLoad }
func (m *MemoryScene) EgoType() sim.EgoType         { return m.Type }
func (m *MemoryScene) EgoData() []sim.EgoSpec       { return m.Egos }
func (m *MemoryScene) RoutingInfo() sim.RoutingInfo { return m.Routing }

func (m *MemoryScene) TrailerData() (sim.EgoSpec, bool) {
	if m.Trailer == nil {
		return sim.EgoSpec{}, false
	}
	return *m.Trailer, true
}

func byID[S any](specs []S, id func(S) int) map[int]S {
	out := make(map[int]S, len(specs))
	for _, s := range specs {
		out[id(s)] = s
	}
	return out
}

func (m *MemoryScene) Vehicles() map[int]sim.VehicleSpec {
	return byID(m.VehicleList, func(s sim.VehicleSpec) int { return s.ID })
}

func (m *MemoryScene) Pedestrians() map[int]sim.PedestrianSpec {
	return byID(m.Peds, func(s sim.PedestrianSpec) int { return s.ID })
}

func (m *MemoryScene) StaticObstacles() map[int]sim.StaticObstacleSpec {
	return byID(m.Static, func(s sim.StaticObstacleSpec) int { return s.ID })
}

func (m *MemoryScene) Signals() map[int]sim.SignalSpec {
	return byID(m.Lights, func(s sim.SignalSpec) int { return s.ID })
}

func (m *MemoryScene) RelativeObstacles() map[int]sim.RelativeObstacleSpec {
	return byID(m.Relative, func(s sim.RelativeObstacleSpec) int { return s.ID })
}

func (m *MemoryScene) SpawnAt(t float64) (sim.SceneDelta, error) {
	if m.Spawn == nil {
		return sim.SceneDelta{}, nil
	}
	return m.Spawn(t)
}

func (m *MemoryScene) ChangeAt(t float64) (sim.SceneDelta, error) {
	if m.Change == nil {
		return sim.SceneDelta{}, nil
	}
	return m.Change(t)
}

// NewRoad builds a straight road along +x with the given lane count per section, each
// section 500 m long.
func NewRoad(t *testing.T, lanes ...int) *hdmap.StraightRoad {
	t.Helper()
	r, err := hdmap.NewStraightRoad(hdmap.Config{SectionLength: 500, Lanes: lanes})
	if err != nil {
		t.Fatalf("building test road: %v", err)
	}
	return r
}

// LanePoint is the Cartesian point at (section, lane, s) on road, failing the test when the
// lane does not exist.
func LanePoint(t *testing.T, road *hdmap.StraightRoad, section, lane int, s float64) orb.Point {
	t.Helper()
	p, ok := road.LanePoint(sim.LaneKey{Road: road.RoadID(), Section: section, Lane: lane}, s, 0)
	if !ok {
		t.Fatalf("no lane %d in section %d", lane, section)
	}
	return p
}

// TestdataPath resolves a file under the repository's testdata/ directory.
// The path is resolved relative to this source file: sim/internal/testutil/ → testdata/.
func TestdataPath(t *testing.T, parts ...string) string {
	t.Helper()
	_, thisFile, _, ok := runtime.Caller(0)
	if !ok {
		t.Fatal("Failed to get current file path")
	}
	root := filepath.Join(filepath.Dir(thisFile), "..", "..", "..", "testdata")
	return filepath.Join(append([]string{root}, parts...)...)
}

// AssertFloat64Equal compares two float64 values with relative tolerance.
func AssertFloat64Equal(t *testing.T, name string, want, got, relTol float64) {
	t.Helper()
	if want == 0 && got == 0 {
		return
	}
	diff := math.Abs(want - got)
	maxVal := math.Max(math.Abs(want), math.Abs(got))
	if diff/maxVal > relTol {
		t.Errorf("%s: got %v, want %v (diff=%v, relDiff=%v)", name, got, want, diff, diff/maxVal)
	}
}

var _ sim.DynamicScene = (*MemoryScene)(nil)
