package hdmap

import (
	"math"
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inference-sim/traffic-sim/sim"
)

func newTestRoad(t *testing.T) *StraightRoad {
	t.Helper()
	r, err := NewStraightRoad(Config{
		SectionLength: 100,
		Lanes:         []int{3, 2},
		Links: []LinkConfig{
			{ID: 10, Lane: 1, Length: 20, Turn: -math.Pi / 2},
			{ID: 11, Lane: 2, Length: 30},
			{ID: 12, Lane: 2, Length: 25, Turn: math.Pi / 2},
		},
	})
	require.NoError(t, err)
	return r
}

func TestNewStraightRoad_Validation(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"no sections", Config{SectionLength: 10}},
		{"zero section length", Config{Lanes: []int{1}}},
		{"zero lanes", Config{SectionLength: 10, Lanes: []int{0}}},
		{"link lane out of range", Config{SectionLength: 10, Lanes: []int{1}, Links: []LinkConfig{{ID: 1, Lane: 2, Length: 5}}}},
		{"duplicate link", Config{SectionLength: 10, Lanes: []int{1}, Links: []LinkConfig{{ID: 1, Lane: 1, Length: 5}, {ID: 1, Lane: 1, Length: 5}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewStraightRoad(tt.cfg)
			assert.Error(t, err)
		})
	}
}

func TestNearestLane_LaneNumbering(t *testing.T) {
	r := newTestRoad(t)
	// lane 1 is rightmost: centered at y = 1.75
	key, s, off, ok := r.NearestLane(orb.Point{40, 1.75})
	require.True(t, ok)
	assert.Equal(t, sim.LaneKey{Road: 1, Section: 0, Lane: 1}, key)
	assert.InDelta(t, 40, s, 1e-9)
	assert.InDelta(t, 0, off, 1e-9)

	key, s, _, ok = r.NearestLane(orb.Point{150, 5.5})
	require.True(t, ok)
	assert.Equal(t, sim.LaneKey{Road: 1, Section: 1, Lane: 2}, key)
	assert.InDelta(t, 50, s, 1e-9)

	_, _, _, ok = r.NearestLane(orb.Point{50, 30})
	assert.False(t, ok, "far off the road surface")
	_, _, _, ok = r.NearestLane(orb.Point{-1, 1})
	assert.False(t, ok, "before the road start")
}

func TestLanePoint_RoundTrip(t *testing.T) {
	r := newTestRoad(t)
	key := sim.LaneKey{Road: 1, Section: 1, Lane: 2}
	p, ok := r.LanePoint(key, 30, 0.5)
	require.True(t, ok)
	got, s, off, ok := r.NearestLane(p)
	require.True(t, ok)
	assert.Equal(t, key, got)
	assert.InDelta(t, 30, s, 1e-9)
	assert.InDelta(t, 0.5, off, 1e-9)
}

func TestLinks_StraightAndTurning(t *testing.T) {
	r := newTestRoad(t)
	p, ok := r.LinkPoint(11, 10, 0)
	require.True(t, ok)
	id, s, off, ok := r.NearestLaneLink(p)
	require.True(t, ok)
	assert.Equal(t, 11, id)
	assert.InDelta(t, 10, s, 1e-9)
	assert.InDelta(t, 0, off, 1e-9)

	// right turn ends heading -90 degrees
	end, ok := r.LinkDirection(10, 20)
	require.True(t, ok)
	assert.InDelta(t, -math.Pi/2, end, 1e-9)

	p, ok = r.LinkPoint(10, 10, 0)
	require.True(t, ok)
	id, s, _, ok = r.NearestLaneLink(p)
	require.True(t, ok)
	assert.Equal(t, 10, id)
	assert.InDelta(t, 10, s, 1e-6)

	length, ok := r.LinkLength(12)
	require.True(t, ok)
	assert.Equal(t, 25.0, length)
}

func TestProjectOnLink_OnlyTheNamedLink(t *testing.T) {
	// GIVEN a point 20 m into the left turn, well away from the straight link it starts beside
	r := newTestRoad(t)
	p, ok := r.LinkPoint(12, 20, 0.5)
	require.True(t, ok)

	// THEN it projects onto the turn with its offsets and onto nothing else
	s, off, ok := r.ProjectOnLink(12, p)
	require.True(t, ok)
	assert.InDelta(t, 20, s, 1e-6)
	assert.InDelta(t, 0.5, off, 1e-6)
	_, _, ok = r.ProjectOnLink(11, p)
	assert.False(t, ok, "beyond the straight link's lane half-width")
	_, _, ok = r.ProjectOnLink(99, p)
	assert.False(t, ok)

	// AND a point past the end of a link is not on it
	end, ok := r.LinkPoint(11, 30, 0)
	require.True(t, ok)
	_, _, ok = r.ProjectOnLink(11, orb.Point{end[0] + 1, end[1]})
	assert.False(t, ok)
}

func TestSectionQueries(t *testing.T) {
	r := newTestRoad(t)
	assert.Equal(t, 3, r.SectionLaneCount(1, 0))
	assert.Equal(t, 2, r.SectionLaneCount(1, 1))
	assert.Equal(t, 0, r.SectionLaneCount(1, 2))
	assert.Equal(t, 0, r.SectionLaneCount(2, 0))

	_, ok := r.LaneLength(sim.LaneKey{Road: 1, Section: 1, Lane: 3})
	assert.False(t, ok, "section 1 has only two lanes")
	info, ok := r.Lane(sim.LaneKey{Road: 1, Section: 0, Lane: 3})
	require.True(t, ok)
	assert.Equal(t, 100.0, info.Length)
	assert.Equal(t, DefaultLaneWidth, info.Width)
}
