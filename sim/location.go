package sim

import (
	"fmt"
	"math"

	"github.com/paulmach/orb"
)

// Location is a curve-relative (lane + S/T) or link-relative (junction link + S/T)
// position. Point, Z and Heading always hold the Cartesian equivalent.
type Location struct {
	Lane    LaneKey
	Link    int
	OnLink  bool
	S       float64 // longitudinal offset along the lane or link
	T       float64 // lateral offset, positive to the left
	Point   orb.Point
	Z       float64
	Heading float64 // radians, counter-clockwise from +x
}

// Valid reports whether the location was resolved against the map.
func (l Location) Valid() bool {
	return l.OnLink || l.Lane != (LaneKey{})
}

// Direction is the unit heading vector.
func (l Location) Direction() orb.Point {
	return orb.Point{math.Cos(l.Heading), math.Sin(l.Heading)}
}

func (l Location) String() string {
	if l.OnLink {
		return fmt.Sprintf("link %d s=%.2f t=%.2f", l.Link, l.S, l.T)
	}
	return fmt.Sprintf("lane %d/%d/%d s=%.2f t=%.2f", l.Lane.Road, l.Lane.Section, l.Lane.Lane, l.S, l.T)
}

// ResolveLocation snaps p to the nearest lane, falling back to the nearest lane link when p
// is inside a junction. The heading is taken from the lane (or link) direction at the
// resolved offset.
func ResolveLocation(oracle MapOracle, p orb.Point, z float64) (Location, error) {
	if key, s, t, ok := oracle.NearestLane(p); ok {
		heading, _ := oracle.LaneDirection(key, s)
		return Location{Lane: key, S: s, T: t, Point: p, Z: z, Heading: heading}, nil
	}
	if link, s, t, ok := oracle.NearestLaneLink(p); ok {
		heading, _ := oracle.LinkDirection(link, s)
		return Location{Link: link, OnLink: true, S: s, T: t, Point: p, Z: z, Heading: heading}, nil
	}
	return Location{}, fmt.Errorf("resolve (%.2f, %.2f): %w", p.X(), p.Y(), ErrOffMap)
}

// ResolveLocationFrom resolves p like ResolveLocation, except that an entity already on a
// junction link stays on that link until it leaves it. Links cross inside a junction, so
// the nearest link is not necessarily the one being driven.
func ResolveLocationFrom(oracle MapOracle, prev Location, p orb.Point, z float64) (Location, error) {
	if prev.OnLink {
		if s, t, ok := oracle.ProjectOnLink(prev.Link, p); ok {
			heading, _ := oracle.LinkDirection(prev.Link, s)
			return Location{Link: prev.Link, OnLink: true, S: s, T: t, Point: p, Z: z, Heading: heading}, nil
		}
	}
	return ResolveLocation(oracle, p, z)
}

// LaneLocation builds a curve-relative location, computing the Cartesian point via the
// oracle.
func LaneLocation(oracle MapOracle, key LaneKey, s, t, z float64) (Location, error) {
	p, ok := oracle.LanePoint(key, s, t)
	if !ok {
		return Location{}, fmt.Errorf("lane %v s=%.2f: %w", key, s, ErrOffMap)
	}
	heading, _ := oracle.LaneDirection(key, s)
	return Location{Lane: key, S: s, T: t, Point: p, Z: z, Heading: heading}, nil
}

// normalizeAngle wraps a to (-pi, pi].
func normalizeAngle(a float64) float64 {
	for a > math.Pi {
		a -= 2 * math.Pi
	}
	for a <= -math.Pi {
		a += 2 * math.Pi
	}
	return a
}
