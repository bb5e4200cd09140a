package sim_test

import (
	"errors"
	"testing"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inference-sim/traffic-sim/sim"
	"github.com/inference-sim/traffic-sim/sim/hdmap"
	"github.com/inference-sim/traffic-sim/sim/internal/testutil"
	"github.com/inference-sim/traffic-sim/sim/trace"
)

// egoScene places a single ego in lane 1 at s=100 cruising at 10 m/s.
func egoScene(t *testing.T, road *hdmap.StraightRoad, vehicles ...sim.VehicleSpec) *testutil.MemoryScene {
	t.Helper()
	return &testutil.MemoryScene{
		Type:        sim.EgoTypeSingle,
		Egos:        []sim.EgoSpec{{ID: 1, Position: testutil.LanePoint(t, road, 0, 1, 100), Speed: 10, DesiredSpeed: 10}},
		VehicleList: vehicles,
	}
}

func newOrchestrator(t *testing.T, road *hdmap.StraightRoad, cfg sim.RunConfig, scene sim.SceneSource, opts ...sim.Option) *sim.Orchestrator {
	t.Helper()
	require.NoError(t, cfg.Validate())
	o := sim.NewOrchestrator(&cfg, road, opts...)
	require.NoError(t, o.Initialize(scene))
	return o
}

func runFrames(t *testing.T, o *sim.Orchestrator, frames int, dt float64) {
	t.Helper()
	for i := 0; i < frames; i++ {
		require.NoError(t, o.Update(float64(i)*dt), "frame %d", i)
	}
}

func TestOrchestrator_Initialize(t *testing.T) {
	road := testutil.NewRoad(t, 2)
	o := newOrchestrator(t, road, sim.DefaultRunConfig(), egoScene(t, road))

	assert.True(t, o.IsAlive())
	assert.Len(t, o.Store().Egos(), 1)
	assert.Error(t, o.Initialize(egoScene(t, road)), "second Initialize is rejected")
}

func TestOrchestrator_InitializeFailuresAreFatal(t *testing.T) {
	road := testutil.NewRoad(t, 2)
	tests := []struct {
		name  string
		scene sim.SceneSource
		want  error
	}{
		{"nil scene", nil, sim.ErrNilScene},
		{"load failure", &testutil.MemoryScene{FailLoad: true}, sim.ErrSceneLoad},
		{"ego off map", &testutil.MemoryScene{
			Type: sim.EgoTypeSingle,
			Egos: []sim.EgoSpec{{ID: 1, Position: orb.Point{10, 500}}},
		}, sim.ErrSceneGenerate},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := sim.DefaultRunConfig()
			o := sim.NewOrchestrator(&cfg, road)

			err := o.Initialize(tc.scene)

			assert.True(t, errors.Is(err, tc.want), "got %v", err)
			assert.False(t, o.IsAlive())
			assert.ErrorIs(t, o.Update(0), sim.ErrNotAlive)
		})
	}
}

func TestOrchestrator_FirstFrameRunsNoMotion(t *testing.T) {
	road := testutil.NewRoad(t, 2)
	o := newOrchestrator(t, road, sim.DefaultRunConfig(), egoScene(t, road))
	start := testutil.LanePoint(t, road, 0, 1, 100)

	require.NoError(t, o.Update(5))

	snap := o.Snapshot()
	require.True(t, snap.HasEgo)
	assert.Equal(t, start, snap.Ego.Position)
	assert.Equal(t, 0.0, o.RelativeTime())

	require.NoError(t, o.Update(5.5))
	assert.InDelta(t, 0.5, o.RelativeTime(), 1e-12)
	assert.InDelta(t, 5.0, planar.Distance(start, o.Snapshot().Ego.Position), 1e-6)
}

func TestOrchestrator_VehiclesReadEgoKineticsOfTheSameFrame(t *testing.T) {
	// GIVEN a vehicle 20 m behind the ego, both at 10 m/s
	road := testutil.NewRoad(t, 2)
	follower := sim.VehicleSpec{ID: 10, Position: testutil.LanePoint(t, road, 0, 1, 80), Speed: 10}
	o := newOrchestrator(t, road, sim.DefaultRunConfig(), egoScene(t, road, follower))

	// WHEN two frames run
	runFrames(t, o, 2, 0.1)

	// THEN the follower sees a leader at 10 m/s and only brakes mildly; a missing entry
	// would read as a stopped leader and saturate the brake
	v, ok := o.Store().Vehicle(10)
	require.True(t, ok)
	k := v.Kinetics()
	assert.Less(t, k.Accel, 0.0)
	assert.Greater(t, k.Accel, -3.0)
}

func TestOrchestrator_AuditDumpIsDeterministic(t *testing.T) {
	build := func(workers int) *sim.Orchestrator {
		road := testutil.NewRoad(t, 2, 2)
		var vehicles []sim.VehicleSpec
		for i := 0; i < 200; i++ {
			vehicles = append(vehicles, sim.VehicleSpec{
				ID:       1000 - i,
				Position: testutil.LanePoint(t, road, i/100, 1+i%2, 20+float64(i%100/2)*9),
				Speed:    8 + float64(i%5),
			})
		}
		cfg := sim.DefaultRunConfig()
		cfg.Audit = true
		cfg.Workers = workers
		return newOrchestrator(t, road, cfg, egoScene(t, road, vehicles...))
	}
	// one worker processes vehicles in collection order, eight interleave them
	a, b := build(1), build(8)

	runFrames(t, a, 20, 0.05)
	runFrames(t, b, 20, 0.05)

	dump := a.AuditDump()
	require.NotEmpty(t, dump)
	assert.Equal(t, dump, b.AuditDump())
	assert.Contains(t, dump, "0000002 id=961 ")
}

func TestOrchestrator_TraceRecordsFramesAndAudit(t *testing.T) {
	road := testutil.NewRoad(t, 2)
	cfg := sim.DefaultRunConfig()
	cfg.Audit = true
	rt := trace.NewRunTrace(trace.TraceConfig{Level: trace.TraceLevelAudit})
	o := newOrchestrator(t, road, cfg, egoScene(t, road, sim.VehicleSpec{ID: 5, Position: testutil.LanePoint(t, road, 0, 2, 120), Speed: 9}), sim.WithTrace(rt))

	runFrames(t, o, 3, 0.1)

	require.Len(t, rt.Frames, 3)
	assert.Equal(t, int64(1), rt.Frames[0].Frame)
	assert.Len(t, rt.Audits, 2, "no post-update in the first frame")
	assert.Equal(t, 5, rt.Audits[0].ID)
}

func TestOrchestrator_VisionFilter(t *testing.T) {
	// GIVEN one vehicle inside the radius and one at twice the radius
	road := testutil.NewRoad(t, 2)
	cfg := sim.DefaultRunConfig()
	cfg.VisionFilter = sim.VisionFilterConfig{Enabled: true, Radius: 100, AltitudeBand: 5}
	near := sim.VehicleSpec{ID: 2, Position: testutil.LanePoint(t, road, 0, 2, 150), Behavior: sim.BehaviorFixed}
	far := sim.VehicleSpec{ID: 3, Position: testutil.LanePoint(t, road, 0, 2, 300), Behavior: sim.BehaviorFixed}
	o := newOrchestrator(t, road, cfg, egoScene(t, road, near, far))

	require.NoError(t, o.Update(0))

	// THEN the raw snapshot has both and the filtered one only the near vehicle
	assert.Len(t, o.Snapshot().Cars, 2)
	seen := o.VisionSnapshot()
	require.Len(t, seen.Cars, 1)
	assert.Equal(t, 2, seen.Cars[0].ID)
}

func TestOrchestrator_TriggerKillsVehicle(t *testing.T) {
	road := testutil.NewRoad(t, 2)
	scene := egoScene(t, road, sim.VehicleSpec{ID: 9, Position: testutil.LanePoint(t, road, 0, 2, 200), Speed: 5})
	scene.Egos[0].Triggers = []*sim.Trigger{{
		Name:    "remove-9",
		When:    sim.TimeReached{At: 0.2},
		Actions: []sim.Action{sim.KillEntity{Ref: sim.EntityRef{Kind: sim.KindVehicle, ID: 9}}},
	}}
	o := newOrchestrator(t, road, sim.DefaultRunConfig(), scene)

	runFrames(t, o, 2, 0.1)
	_, ok := o.Store().Vehicle(9)
	require.True(t, ok)

	require.NoError(t, o.Update(0.2))

	_, ok = o.Store().Vehicle(9)
	assert.False(t, ok)
	assert.True(t, scene.Egos[0].Triggers[0].Fired())
	assert.Equal(t, 1, o.Stats().Removed)
}

func TestOrchestrator_SpawnFailureAbortsFrameButTimeAdvances(t *testing.T) {
	road := testutil.NewRoad(t, 2)
	scene := egoScene(t, road)
	scene.Spawn = func(t float64) (sim.SceneDelta, error) {
		if t > 0.15 && t < 0.25 {
			return sim.SceneDelta{}, errors.New("spawn backend unavailable")
		}
		return sim.SceneDelta{}, nil
	}
	o := newOrchestrator(t, road, sim.DefaultRunConfig(), scene)
	runFrames(t, o, 2, 0.1)
	before := o.Snapshot().Ego.Position

	err := o.Update(0.2)

	require.Error(t, err)
	assert.Contains(t, err.Error(), sim.PhaseSpawn)
	assert.Equal(t, int64(1), o.Stats().AbortedFrames)
	assert.InDelta(t, 0.2, o.RelativeTime(), 1e-12)
	assert.Equal(t, before, o.Snapshot().Ego.Position, "world did not update")

	require.NoError(t, o.Update(0.3))
	assert.True(t, o.IsAlive())
}

func TestOrchestrator_SpawnAndRetire(t *testing.T) {
	road := testutil.NewRoad(t, 2)
	scene := egoScene(t, road)
	entry := testutil.LanePoint(t, road, 0, 2, 50)
	spawned := false
	scene.Spawn = func(t float64) (sim.SceneDelta, error) {
		if spawned || t < 0.1 {
			return sim.SceneDelta{}, nil
		}
		spawned = true
		return sim.SceneDelta{Vehicles: []sim.VehicleSpec{
			{ID: 42, Position: entry, Speed: 10},
		}}, nil
	}
	scene.Change = func(t float64) (sim.SceneDelta, error) {
		if t >= 0.3 && t < 0.35 {
			return sim.SceneDelta{Retire: []sim.EntityRef{{Kind: sim.KindVehicle, ID: 42}}}, nil
		}
		return sim.SceneDelta{}, nil
	}
	o := newOrchestrator(t, road, sim.DefaultRunConfig(), scene)

	runFrames(t, o, 3, 0.1)
	_, ok := o.Snapshot().Car(42)
	require.True(t, ok)

	require.NoError(t, o.Update(0.3))
	_, ok = o.Store().Vehicle(42)
	assert.False(t, ok)
}

func TestOrchestrator_RetireUnknownAbortsInChange(t *testing.T) {
	road := testutil.NewRoad(t, 2)
	scene := egoScene(t, road)
	scene.Change = func(float64) (sim.SceneDelta, error) {
		return sim.SceneDelta{Retire: []sim.EntityRef{{Kind: sim.KindVehicle, ID: 404}}}, nil
	}
	o := newOrchestrator(t, road, sim.DefaultRunConfig(), scene)

	err := o.Update(0)

	require.Error(t, err)
	assert.Contains(t, err.Error(), sim.PhaseChange)
}

func TestOrchestrator_InjectEgoPose(t *testing.T) {
	road := testutil.NewRoad(t, 2)
	o := newOrchestrator(t, road, sim.DefaultRunConfig(), egoScene(t, road))
	require.NoError(t, o.Update(0))
	target := testutil.LanePoint(t, road, 0, 2, 130)

	require.NoError(t, o.InjectEgoPose(sim.Pose{Position: target, Speed: 3}))
	require.NoError(t, o.Update(0.1))

	ego := o.Snapshot().Ego
	assert.Equal(t, target, ego.Position)
	assert.Equal(t, 3.0, ego.Speed)
}

func TestOrchestrator_InjectEgoPoseWithoutEgo(t *testing.T) {
	road := testutil.NewRoad(t, 2)
	o := newOrchestrator(t, road, sim.DefaultRunConfig(), &testutil.MemoryScene{Type: sim.EgoTypeNone})
	assert.ErrorIs(t, o.InjectEgoPose(sim.Pose{}), sim.ErrNoEgo)
}

func TestOrchestrator_TruckTrailerTowsBehindLeader(t *testing.T) {
	road := testutil.NewRoad(t, 2)
	scene := egoScene(t, road)
	scene.Type = sim.EgoTypeTruckTrailer
	scene.Trailer = &sim.EgoSpec{ID: 2, Position: testutil.LanePoint(t, road, 0, 1, 90), Hitch: 10}
	o := newOrchestrator(t, road, sim.DefaultRunConfig(), scene)

	runFrames(t, o, 5, 0.1)

	leader, ok := o.Store().Ego(sim.DefaultEgoGroup, sim.EgoLeader)
	require.True(t, ok)
	trailer, ok := o.Store().Ego(sim.DefaultEgoGroup, sim.EgoFollower)
	require.True(t, ok)
	gap := planar.Distance(leader.Kinetics().Position, trailer.Kinetics().Position)
	assert.InDelta(t, 10, gap, 1e-6)
	_, isCar := o.Snapshot().Car(2)
	assert.True(t, isCar, "followers are reported with the cars")
}

func TestOrchestrator_OverlayMirrorsEgoAndMeasuresDivergence(t *testing.T) {
	// GIVEN a shadow world whose only vehicle is recorded 5 m ahead of the live one
	road := testutil.NewRoad(t, 2)
	live := sim.VehicleSpec{ID: 7, Position: testutil.LanePoint(t, road, 0, 2, 200), Speed: 10, Behavior: sim.BehaviorFixed}
	shadow := live
	shadow.Position = testutil.LanePoint(t, road, 0, 2, 205)
	ov := sim.NewOverlay(egoScene(t, road, shadow))
	o := newOrchestrator(t, road, sim.DefaultRunConfig(), egoScene(t, road, live), sim.WithOverlay(ov))

	runFrames(t, o, 6, 0.1)

	// THEN the shadow ego sits on the live ego and the divergence is the recorded offset
	assert.InDelta(t, 0, planar.Distance(o.Snapshot().Ego.Position, ov.ShadowSnapshot().Ego.Position), 1e-9)
	d, n := o.Divergence()
	assert.Equal(t, 1, n)
	assert.InDelta(t, 5, d, 1e-9)
}

func TestOrchestrator_StallPolicyRemovesStoppedVehicles(t *testing.T) {
	road := testutil.NewRoad(t, 2)
	cfg := sim.DefaultRunConfig()
	cfg.StallPolicy = sim.StallPolicy{Enabled: true, Threshold: 0.25}
	parked := sim.VehicleSpec{ID: 8, Position: testutil.LanePoint(t, road, 0, 2, 300), Behavior: sim.BehaviorFixed}
	o := newOrchestrator(t, road, cfg, egoScene(t, road, parked))

	runFrames(t, o, 5, 0.1)

	_, ok := o.Store().Vehicle(8)
	assert.False(t, ok)
	assert.Equal(t, 1, o.Stats().Removed)
}

// junctionRoad is one 200 m section of two lanes ending in a left-turn link from lane 1
// and a straight link from lane 2 that the turn crosses.
func junctionRoad(t *testing.T) *hdmap.StraightRoad {
	t.Helper()
	road, err := hdmap.NewStraightRoad(hdmap.Config{
		SectionLength: 200,
		Lanes:         []int{2},
		Links: []hdmap.LinkConfig{
			{ID: 1, Lane: 1, Length: 30, Turn: 1.2},
			{ID: 2, Lane: 2, Length: 40},
		},
	})
	require.NoError(t, err)
	return road
}

func leaderEgo(t *testing.T, o *sim.Orchestrator) *sim.Ego {
	t.Helper()
	ego, ok := o.Store().Ego(sim.DefaultEgoGroup, sim.EgoLeader)
	require.True(t, ok)
	return ego
}

func TestOrchestrator_EgoStaysOnItsJunctionLink(t *testing.T) {
	// GIVEN an ego 10 m before a left turn that crosses the straight link of lane 2
	road := junctionRoad(t)
	scene := &testutil.MemoryScene{
		Type: sim.EgoTypeSingle,
		Egos: []sim.EgoSpec{{ID: 1, Position: testutil.LanePoint(t, road, 0, 1, 190), Speed: 10, DesiredSpeed: 10}},
	}
	o := newOrchestrator(t, road, sim.DefaultRunConfig(), scene)
	ego := leaderEgo(t, o)

	// WHEN it drives 24 m into the turn
	onLink := 0
	for i := 0; i < 35; i++ {
		require.NoError(t, o.Update(float64(i)*0.1))
		loc := ego.Location()
		if !loc.OnLink {
			continue
		}
		onLink++
		// THEN it never jumps onto the crossing link and keeps turning left
		assert.Equal(t, 1, loc.Link, "frame %d", i)
		assert.True(t, ego.IsTurnLeft(), "frame %d: maneuver %d", i, ego.Maneuver())
		assert.False(t, ego.IsTurnStraight(), "frame %d", i)
	}
	assert.Greater(t, onLink, 15)
}

func TestOrchestrator_LaneChangeManeuverIsHeldThenCleared(t *testing.T) {
	road := testutil.NewRoad(t, 2)
	o := newOrchestrator(t, road, sim.DefaultRunConfig(), egoScene(t, road))
	ego := leaderEgo(t, o)
	require.NoError(t, o.Update(0))

	// GIVEN the ego moved into the lane on its left
	require.NoError(t, o.InjectEgoPose(sim.Pose{Position: testutil.LanePoint(t, road, 0, 2, 101), Speed: 10}))
	require.NoError(t, o.Update(0.1))
	assert.Equal(t, sim.ManeuverLaneChangeLeft, ego.Maneuver())
	assert.True(t, ego.IsLaneChange())

	// THEN the lane change stays visible for a second, then clears
	require.NoError(t, o.Update(0.5))
	assert.True(t, ego.IsLaneChange(), "held")
	require.NoError(t, o.Update(1.2))
	assert.Equal(t, sim.ManeuverKeep, ego.Maneuver())

	// AND moving back to the right is a right lane change, not a turn
	require.NoError(t, o.InjectEgoPose(sim.Pose{Position: testutil.LanePoint(t, road, 0, 1, 130), Speed: 10}))
	require.NoError(t, o.Update(1.3))
	assert.Equal(t, sim.ManeuverLaneChangeRight, ego.Maneuver())
	assert.False(t, ego.IsTurnLeft() || ego.IsTurnRight() || ego.IsTurnStraight())
}

func TestOrchestrator_ExternalInfoFCWAndBroadcast(t *testing.T) {
	// GIVEN a slow vehicle 15 m ahead of the ego, one behind it, one beside it, one far
	// ahead and a pedestrian on the next lane
	road := testutil.NewRoad(t, 2)
	fixed := func(id, lane int, s, speed float64) sim.VehicleSpec {
		return sim.VehicleSpec{ID: id, Position: testutil.LanePoint(t, road, 0, lane, s), Speed: speed, Behavior: sim.BehaviorFixed}
	}
	scene := egoScene(t, road, fixed(21, 1, 115, 2), fixed(22, 2, 115, 10), fixed(23, 1, 70, 10), fixed(24, 1, 160, 2))
	scene.Peds = []sim.PedestrianSpec{{ID: 4, Position: testutil.LanePoint(t, road, 0, 2, 130)}}
	o := newOrchestrator(t, road, sim.DefaultRunConfig(), scene)

	// WHEN two frames run
	runFrames(t, o, 2, 0.1)

	vehicle := func(id int) *sim.Vehicle {
		v, ok := o.Store().Vehicle(id)
		require.True(t, ok, "vehicle %d", id)
		return v
	}
	egoPos := o.Snapshot().Ego.Position

	// THEN exactly the direct front and rear vehicles carry external info
	front := vehicle(21).ExternalInfo()
	assert.True(t, front.Set)
	assert.Equal(t, sim.RelationFront, front.Relation)
	assert.InDelta(t, vehicle(21).Kinetics().Position[0]-egoPos[0], front.Gap, 1e-9)
	rear := vehicle(23).ExternalInfo()
	assert.True(t, rear.Set)
	assert.Equal(t, sim.RelationRear, rear.Relation)
	assert.False(t, vehicle(22).ExternalInfo().Set, "other lane")
	assert.False(t, vehicle(24).ExternalInfo().Set, "not the nearest ahead")

	// AND only the closing vehicle in the ego path warns
	warn, ttc := vehicle(21).FCW()
	assert.True(t, warn)
	assert.Less(t, ttc, 2.5)
	for _, id := range []int{22, 23, 24} {
		warn, _ := vehicle(id).FCW()
		assert.False(t, warn, "vehicle %d", id)
	}
	assert.Equal(t, 1, o.Stats().FCWWarnings)

	// AND every receiver holds its distance to the broadcast ego pose
	for _, id := range []int{21, 22, 23, 24} {
		v := vehicle(id)
		assert.InDelta(t, planar.Distance(egoPos, v.Kinetics().Position), v.EgoDistance(), 1e-9, "vehicle %d", id)
	}
	ped, ok := o.Store().Pedestrian(4)
	require.True(t, ok)
	assert.InDelta(t, planar.Distance(egoPos, ped.Kinetics().Position), ped.EgoDistance(), 1e-9)

	// AND the snapshot reports the pedestrian under its negative id and no light on cars
	snap := o.Snapshot()
	require.Len(t, snap.DynamicObstacles, 1)
	assert.Equal(t, -4, snap.DynamicObstacles[0].ID)
	assert.Equal(t, sim.EntityRef{Kind: sim.KindPedestrian, ID: 4}, snap.DynamicObstacles[0].Ref)
	for _, c := range snap.Cars {
		assert.Equal(t, sim.LightNone, c.Light, "car %d", c.ID)
	}
}

func TestOrchestrator_OverlayDoesNotFeedFrameStats(t *testing.T) {
	// GIVEN a shadow world with a closing vehicle ahead of the ego and a parked one
	road := testutil.NewRoad(t, 2)
	cfg := sim.DefaultRunConfig()
	cfg.StallPolicy = sim.StallPolicy{Enabled: true, Threshold: 0.25}
	closing := sim.VehicleSpec{ID: 21, Position: testutil.LanePoint(t, road, 0, 1, 115), Speed: 2, Behavior: sim.BehaviorFixed}
	parked := sim.VehicleSpec{ID: 8, Position: testutil.LanePoint(t, road, 0, 2, 300), Behavior: sim.BehaviorFixed}
	ov := sim.NewOverlay(egoScene(t, road, closing, parked))
	o := newOrchestrator(t, road, cfg, egoScene(t, road), sim.WithOverlay(ov))

	// WHEN frames run long enough for the shadow to warn and remove
	runFrames(t, o, 5, 0.1)

	// THEN the shadow acted but the run statistics only count the live world
	_, shadowHasParked := ov.ShadowSnapshot().Car(8)
	assert.False(t, shadowHasParked)
	assert.Zero(t, o.Stats().Removed)
	assert.Zero(t, o.Stats().FCWWarnings)
}

func TestOrchestrator_OverlayWithoutMirroringDrivesItsOwnEgo(t *testing.T) {
	road := testutil.NewRoad(t, 2)
	shadowScene := &testutil.MemoryScene{
		Type: sim.EgoTypeSingle,
		Egos: []sim.EgoSpec{{ID: 1, Position: testutil.LanePoint(t, road, 0, 1, 150), Speed: 10, DesiredSpeed: 10}},
	}
	ov := sim.NewOverlay(shadowScene)
	ov.SetMirror(false)
	o := newOrchestrator(t, road, sim.DefaultRunConfig(), egoScene(t, road), sim.WithOverlay(ov))

	runFrames(t, o, 4, 0.1)

	gap := planar.Distance(o.Snapshot().Ego.Position, ov.ShadowSnapshot().Ego.Position)
	assert.InDelta(t, 50, gap, 1e-6)
}
