package sim

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// neighborStore places the ego in lane 2 at x=100 with vehicles around it.
func neighborStore(t *testing.T) (*Store, *Ego) {
	t.Helper()
	r := newTestRoad(3)
	s := NewStore()
	ego := mustEgo(t, r, EgoSpec{ID: 1, Group: "ego", Position: at(100, 2), Speed: 10})
	require.NoError(t, s.AddEgo(ego))
	for _, spec := range []VehicleSpec{
		{ID: 10, Position: at(130, 2)}, // front
		{ID: 11, Position: at(160, 2)}, // further front, same lane
		{ID: 12, Position: at(80, 2)},  // rear
		{ID: 13, Position: at(110, 3)}, // left-front
		{ID: 14, Position: at(90, 1)},  // right-rear
		{ID: 15, Position: at(190, 1)}, // front-most
	} {
		s.AddVehicle(mustVehicle(t, r, spec))
	}
	require.NoError(t, s.Initialize())
	aliveAll(s)
	return s, ego
}

func TestNeighborhood_Relations(t *testing.T) {
	s, ego := neighborStore(t)

	ego.RefreshNeighborhood(s, 150)
	nb := ego.Neighborhood()

	tests := []struct {
		rel    Relation
		wantID int
		ok     bool
	}{
		{RelationFront, 10, true},
		{RelationRear, 12, true},
		{RelationLeftFront, 13, true},
		{RelationLeftRear, 0, false},
		{RelationRightFront, 15, true},
		{RelationRightRear, 14, true},
		{RelationFrontMost, 15, true},
		{RelationBackMost, 12, true},
	}
	for _, tc := range tests {
		t.Run(tc.rel.String(), func(t *testing.T) {
			n, ok := nb.Relation(tc.rel)
			require.Equal(t, tc.ok, ok)
			if ok {
				assert.Equal(t, tc.wantID, n.Ref.ID)
			}
		})
	}
}

func TestNeighborhood_RangeAndSectors(t *testing.T) {
	s, ego := neighborStore(t)

	// WHEN the range excludes everything past 35 m
	ego.RefreshNeighborhood(s, 35)
	nb := ego.Neighborhood()

	fm, ok := nb.Relation(RelationFrontMost)
	require.True(t, ok)
	assert.Equal(t, 10, fm.Ref.ID)

	// the left-lane vehicle 10 m ahead is within the 45° front sector and nearer than 10
	n, ok := nb.Nearest(SectorFront, KindVehicle)
	require.True(t, ok)
	assert.Equal(t, 13, n.Ref.ID)
	assert.InDelta(t, 10, n.Lon, 1e-9)
	assert.InDelta(t, testLaneWidth, n.Lat, 1e-9)

	_, ok = nb.Nearest(SectorFront, KindPedestrian)
	assert.False(t, ok)
	assert.Positive(t, nb.OccupiedSectors())
}

func TestNeighborhood_ExcludesOwnGroup(t *testing.T) {
	r := newTestRoad(1)
	s := NewStore()
	lead := mustEgo(t, r, EgoSpec{ID: 1, Group: "truck", Role: EgoLeader, Position: at(100, 1)})
	trailer := mustEgo(t, r, EgoSpec{ID: 2, Group: "truck", Role: EgoFollower, Position: at(90, 1)})
	require.NoError(t, s.AddEgo(lead))
	require.NoError(t, s.AddEgo(trailer))
	require.NoError(t, s.Initialize())
	aliveAll(s)

	lead.RefreshNeighborhood(s, 100)

	_, ok := lead.Neighborhood().Relation(RelationRear)
	assert.False(t, ok)
}

func TestSectorOf(t *testing.T) {
	assert.Equal(t, SectorFront, SectorOf(10, 0))
	assert.Equal(t, SectorLeft, SectorOf(0, 10))
	assert.Equal(t, SectorRear, SectorOf(-10, 0))
	assert.Equal(t, SectorRight, SectorOf(0, -10))
	assert.Equal(t, SectorFrontLeft, SectorOf(10, 10))
	assert.Equal(t, SectorRearRight, SectorOf(-10, -10))
}

func TestLaneIndex_AheadAndBehind(t *testing.T) {
	r := newTestRoad(2, 2)
	s := NewStore()
	a := mustVehicle(t, r, VehicleSpec{ID: 1, Position: at(50, 1)})
	b := mustVehicle(t, r, VehicleSpec{ID: 2, Position: at(120, 1)})
	c := mustVehicle(t, r, VehicleSpec{ID: 3, Position: at(230, 1)}) // next section
	for _, v := range []*Vehicle{a, b, c} {
		s.AddVehicle(v)
	}
	require.NoError(t, s.Initialize())
	aliveAll(s)
	s.RebuildLaneIndex()
	li := s.LaneIndex()
	lane0 := LaneKey{Road: 1, Section: 0, Lane: 1}
	lane1 := LaneKey{Road: 1, Section: 1, Lane: 1}

	occ, gap, ok := li.Ahead(r, lane0, 50, a.SysID())
	require.True(t, ok)
	assert.Equal(t, b.SysID(), occ.SysID)
	assert.InDelta(t, 70, gap, 1e-9)

	occ, gap, ok = li.Ahead(r, lane0, 120, b.SysID())
	require.True(t, ok, "looks into the next section")
	assert.Equal(t, c.SysID(), occ.SysID)
	assert.InDelta(t, 110, gap, 1e-9)

	occ, gap, ok = li.Behind(r, lane1, 30, c.SysID(), nil)
	require.True(t, ok, "looks into the previous section")
	assert.Equal(t, b.SysID(), occ.SysID)
	assert.InDelta(t, 110, gap, 1e-9)

	_, _, ok = li.Behind(r, lane0, 50, a.SysID(), nil)
	assert.False(t, ok)
	assert.Len(t, li.Occupants(lane0), 2)
}

func TestLaneIndex_StopLineAheadSkipsGreenSignals(t *testing.T) {
	// GIVEN a green signal at 150 and a red one at 190 on lane 1
	r := newTestRoad(2)
	s := NewStore()
	lane := LaneKey{Road: 1, Section: 0, Lane: 1}
	green, err := NewSignalLight(SignalSpec{ID: 1, Lane: lane, StopS: 150, Green: 10, Red: 10}, r)
	require.NoError(t, err)
	red, err := NewSignalLight(SignalSpec{ID: 2, Lane: lane, StopS: 190, Red: 10}, r)
	require.NoError(t, err)
	s.AddSignal(green)
	s.AddSignal(red)
	require.NoError(t, s.Initialize())

	// WHEN the index is built
	s.RebuildLaneIndex()
	li := s.LaneIndex()

	// THEN only the red stop line is reported, and only while it is ahead
	d, ok := li.StopLineAhead(lane, 100)
	require.True(t, ok)
	assert.InDelta(t, 90, d, 1e-9)
	_, ok = li.StopLineAhead(lane, 195)
	assert.False(t, ok)
	_, ok = li.StopLineAhead(LaneKey{Road: 1, Section: 0, Lane: 2}, 100)
	assert.False(t, ok)
}
