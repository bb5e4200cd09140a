// Package hdmap provides a small analytic map oracle: one straight multi-lane road made of
// consecutive sections, optionally continuing into junction links at its far end. It backs
// the CLI and the tests; production deployments plug in their own sim.MapOracle.
package hdmap

import (
	"fmt"
	"math"

	"github.com/paulmach/orb"
	"github.com/samber/lo"

	"github.com/inference-sim/traffic-sim/sim"
)

// DefaultLaneWidth is used when Config.LaneWidth is zero.
const DefaultLaneWidth = 3.5

// LinkConfig is a junction link leaving the end of the road from one lane of the last
// section. Turn is the total heading change over the link, positive to the left.
type LinkConfig struct {
	ID     int     `yaml:"id"`
	Lane   int     `yaml:"lane"`
	Length float64 `yaml:"length"`
	Turn   float64 `yaml:"turn"` // radians
}

// Config describes a StraightRoad. Lanes holds the lane count of each section; lane 1 is
// the rightmost and ids increase to the left.
type Config struct {
	RoadID        int          `yaml:"road_id"`
	Origin        orb.Point    `yaml:"origin"`
	Heading       float64      `yaml:"heading"` // radians, counter-clockwise from +x
	SectionLength float64      `yaml:"section_length"`
	Lanes         []int        `yaml:"lanes"`
	LaneWidth     float64      `yaml:"lane_width"`
	Links         []LinkConfig `yaml:"links"`
}

type link struct {
	LinkConfig
	start   orb.Point
	heading float64
}

// StraightRoad implements sim.MapOracle analytically. It is immutable after construction
// and therefore safe for concurrent reads.
type StraightRoad struct {
	cfg   Config
	dir   orb.Point
	left  orb.Point
	links map[int]link
}

// NewStraightRoad validates cfg and builds the road.
func NewStraightRoad(cfg Config) (*StraightRoad, error) {
	if cfg.RoadID == 0 {
		cfg.RoadID = 1
	}
	cfg.LaneWidth = lo.Ternary(cfg.LaneWidth > 0, cfg.LaneWidth, DefaultLaneWidth)
	if cfg.SectionLength <= 0 {
		return nil, fmt.Errorf("section_length must be positive, got %f", cfg.SectionLength)
	}
	if len(cfg.Lanes) == 0 {
		return nil, fmt.Errorf("road needs at least one section")
	}
	for i, n := range cfg.Lanes {
		if n < 1 {
			return nil, fmt.Errorf("section %d: lane count must be >= 1, got %d", i, n)
		}
	}
	r := &StraightRoad{
		cfg:   cfg,
		dir:   orb.Point{math.Cos(cfg.Heading), math.Sin(cfg.Heading)},
		left:  orb.Point{-math.Sin(cfg.Heading), math.Cos(cfg.Heading)},
		links: make(map[int]link, len(cfg.Links)),
	}
	last := len(cfg.Lanes) - 1
	for _, lc := range cfg.Links {
		if lc.Length <= 0 {
			return nil, fmt.Errorf("link %d: length must be positive", lc.ID)
		}
		if lc.Lane < 1 || lc.Lane > cfg.Lanes[last] {
			return nil, fmt.Errorf("link %d: lane %d not in last section", lc.ID, lc.Lane)
		}
		if _, dup := r.links[lc.ID]; dup {
			return nil, fmt.Errorf("link %d: duplicate id", lc.ID)
		}
		start := r.toWorld(r.Length(), r.laneCenter(lc.Lane))
		r.links[lc.ID] = link{LinkConfig: lc, start: start, heading: cfg.Heading}
	}
	return r, nil
}

// Length is the total road length.
func (r *StraightRoad) Length() float64 {
	return r.cfg.SectionLength * float64(len(r.cfg.Lanes))
}

// RoadID is the id of the single road.
func (r *StraightRoad) RoadID() int { return r.cfg.RoadID }

func (r *StraightRoad) LaneWidth() float64 { return r.cfg.LaneWidth }

func (r *StraightRoad) laneCenter(lane int) float64 {
	return (float64(lane) - 0.5) * r.cfg.LaneWidth
}

func (r *StraightRoad) toWorld(x, y float64) orb.Point {
	return orb.Point{
		r.cfg.Origin[0] + x*r.dir[0] + y*r.left[0],
		r.cfg.Origin[1] + x*r.dir[1] + y*r.left[1],
	}
}

func (r *StraightRoad) toLocal(p orb.Point) (float64, float64) {
	dx, dy := p[0]-r.cfg.Origin[0], p[1]-r.cfg.Origin[1]
	return dx*r.dir[0] + dy*r.dir[1], dx*r.left[0] + dy*r.left[1]
}

func (r *StraightRoad) validKey(k sim.LaneKey) bool {
	return k.Road == r.cfg.RoadID && k.Section >= 0 && k.Section < len(r.cfg.Lanes) &&
		k.Lane >= 1 && k.Lane <= r.cfg.Lanes[k.Section]
}

// NearestLane snaps p to a lane when it lies on the road surface (or within half a lane
// width of its edges).
func (r *StraightRoad) NearestLane(p orb.Point) (sim.LaneKey, float64, float64, bool) {
	x, y := r.toLocal(p)
	if x < 0 || x >= r.Length() {
		return sim.LaneKey{}, 0, 0, false
	}
	section := min(int(x/r.cfg.SectionLength), len(r.cfg.Lanes)-1)
	n := r.cfg.Lanes[section]
	w := r.cfg.LaneWidth
	if y < -w/2 || y > float64(n)*w+w/2 {
		return sim.LaneKey{}, 0, 0, false
	}
	lane := lo.Clamp(int(math.Floor(y/w))+1, 1, n)
	key := sim.LaneKey{Road: r.cfg.RoadID, Section: section, Lane: lane}
	return key, x - float64(section)*r.cfg.SectionLength, y - r.laneCenter(lane), true
}

// NearestLaneLink projects p onto every link and returns the one with the smallest
// lateral offset, if p lies within half a lane width of it.
func (r *StraightRoad) NearestLaneLink(p orb.Point) (int, float64, float64, bool) {
	bestID, bestS, bestT, found := 0, 0.0, 0.0, false
	for id, l := range r.links {
		s, t, ok := r.projectLink(l, p)
		if !ok || math.Abs(t) > r.cfg.LaneWidth/2 {
			continue
		}
		if !found || math.Abs(t) < math.Abs(bestT) || (math.Abs(t) == math.Abs(bestT) && id < bestID) {
			bestID, bestS, bestT, found = id, s, t, true
		}
	}
	return bestID, bestS, bestT, found
}

// ProjectOnLink projects p onto one link, requiring it to lie within half a lane width.
func (r *StraightRoad) ProjectOnLink(id int, p orb.Point) (float64, float64, bool) {
	l, ok := r.links[id]
	if !ok {
		return 0, 0, false
	}
	s, t, ok := r.projectLink(l, p)
	if !ok || math.Abs(t) > r.cfg.LaneWidth/2 {
		return 0, 0, false
	}
	return s, t, true
}

func (r *StraightRoad) projectLink(l link, p orb.Point) (float64, float64, bool) {
	dir := orb.Point{math.Cos(l.heading), math.Sin(l.heading)}
	left := orb.Point{-dir[1], dir[0]}
	dx, dy := p[0]-l.start[0], p[1]-l.start[1]
	if l.Turn == 0 {
		s := dx*dir[0] + dy*dir[1]
		t := dx*left[0] + dy*left[1]
		return s, t, s >= 0 && s <= l.Length
	}
	radius := l.Length / math.Abs(l.Turn)
	sign := math.Copysign(1, l.Turn)
	center := orb.Point{l.start[0] + sign*radius*left[0], l.start[1] + sign*radius*left[1]}
	a0 := math.Atan2(l.start[1]-center[1], l.start[0]-center[0])
	a := math.Atan2(p[1]-center[1], p[0]-center[0])
	swept := normalize(a-a0) * sign
	if swept < 0 || swept > math.Abs(l.Turn) {
		return 0, 0, false
	}
	dist := math.Hypot(p[0]-center[0], p[1]-center[1])
	return swept * radius, sign * (radius - dist), true
}

func (r *StraightRoad) LaneDirection(k sim.LaneKey, _ float64) (float64, bool) {
	return r.cfg.Heading, r.validKey(k)
}

func (r *StraightRoad) LinkDirection(id int, s float64) (float64, bool) {
	l, ok := r.links[id]
	if !ok {
		return 0, false
	}
	f := lo.Clamp(s/l.Length, 0, 1)
	return normalize(l.heading + f*l.Turn), true
}

func (r *StraightRoad) LaneLength(k sim.LaneKey) (float64, bool) {
	return r.cfg.SectionLength, r.validKey(k)
}

func (r *StraightRoad) LinkLength(id int) (float64, bool) {
	l, ok := r.links[id]
	return l.Length, ok
}

func (r *StraightRoad) SectionLaneCount(road, section int) int {
	if road != r.cfg.RoadID || section < 0 || section >= len(r.cfg.Lanes) {
		return 0
	}
	return r.cfg.Lanes[section]
}

func (r *StraightRoad) Lane(k sim.LaneKey) (sim.LaneInfo, bool) {
	if !r.validKey(k) {
		return sim.LaneInfo{}, false
	}
	return sim.LaneInfo{Key: k, Length: r.cfg.SectionLength, Width: r.cfg.LaneWidth}, true
}

func (r *StraightRoad) LanePoint(k sim.LaneKey, s, t float64) (orb.Point, bool) {
	if !r.validKey(k) {
		return orb.Point{}, false
	}
	return r.toWorld(float64(k.Section)*r.cfg.SectionLength+s, r.laneCenter(k.Lane)+t), true
}

func (r *StraightRoad) LinkPoint(id int, s, t float64) (orb.Point, bool) {
	l, ok := r.links[id]
	if !ok {
		return orb.Point{}, false
	}
	dir := orb.Point{math.Cos(l.heading), math.Sin(l.heading)}
	left := orb.Point{-dir[1], dir[0]}
	if l.Turn == 0 {
		return orb.Point{
			l.start[0] + s*dir[0] + t*left[0],
			l.start[1] + s*dir[1] + t*left[1],
		}, true
	}
	radius := l.Length / math.Abs(l.Turn)
	sign := math.Copysign(1, l.Turn)
	center := orb.Point{l.start[0] + sign*radius*left[0], l.start[1] + sign*radius*left[1]}
	a0 := math.Atan2(l.start[1]-center[1], l.start[0]-center[0])
	a := a0 + sign*s/radius
	dist := radius - sign*t
	return orb.Point{center[0] + dist*math.Cos(a), center[1] + dist*math.Sin(a)}, true
}

func normalize(a float64) float64 {
	for a > math.Pi {
		a -= 2 * math.Pi
	}
	for a <= -math.Pi {
		a += 2 * math.Pi
	}
	return a
}

var _ sim.MapOracle = (*StraightRoad)(nil)
