package sim

import (
	"fmt"

	"github.com/paulmach/orb"
)

// LaneKey identifies a lane by road, section and lane id.
type LaneKey struct {
	Road    int
	Section int
	Lane    int
}

func (k LaneKey) String() string { return fmt.Sprintf("%d/%d/%d", k.Road, k.Section, k.Lane) }

// LaneInfo is the by-id view of a lane returned by the map oracle.
type LaneInfo struct {
	Key    LaneKey
	Length float64
	Width  float64
}

// MapOracle answers spatial queries against the road network. Implementations must be
// safe for concurrent reads: perception and update phases query it from worker goroutines.
type MapOracle interface {
	// NearestLane returns the lane closest to p with the longitudinal (s) and lateral (t)
	// offsets of p along it.
	NearestLane(p orb.Point) (key LaneKey, s, t float64, ok bool)
	// NearestLaneLink returns the junction link closest to p, if p lies on one.
	NearestLaneLink(p orb.Point) (link int, s, t float64, ok bool)
	// ProjectOnLink returns the offsets of p along the given link, if p lies on it.
	ProjectOnLink(link int, p orb.Point) (s, t float64, ok bool)
	// LaneDirection is the lane heading (radians) at offset s.
	LaneDirection(key LaneKey, s float64) (float64, bool)
	// LinkDirection is the link heading (radians) at offset s.
	LinkDirection(link int, s float64) (float64, bool)
	LaneLength(key LaneKey) (float64, bool)
	LinkLength(link int) (float64, bool)
	SectionLaneCount(road, section int) int
	Lane(key LaneKey) (LaneInfo, bool)
	// LanePoint converts a curve-relative position to a Cartesian point.
	LanePoint(key LaneKey, s, t float64) (orb.Point, bool)
	// LinkPoint converts a link-relative position to a Cartesian point.
	LinkPoint(link int, s, t float64) (orb.Point, bool)
}
