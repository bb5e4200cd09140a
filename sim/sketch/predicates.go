package sketch

import (
	"math"

	"github.com/paulmach/orb/planar"
	"github.com/samber/lo"

	"github.com/inference-sim/traffic-sim/sim"
)

// Thresholds shared by the predicates.
const (
	frontRange        = 80.0
	followRange       = 50.0
	stoppedFrontRange = 60.0
	rearRange         = 40.0
	sideRange         = 30.0
	oncomingRange     = 100.0
	pedestrianRange   = 40.0
	obstacleRange     = 60.0
	laneEndRange      = 50.0
	denseRange        = 50.0
	denseCount        = 6

	accelThreshold    = 0.5 // m/s² counted as accelerating or decelerating
	hardBrakeDecel    = 3.0
	stoppedSpeed      = 0.3
	followSpeedDelta  = 2.0
	closingSpeedDelta = 1.0
	cutInOffset       = 0.5 // lateral drift from lane center towards the ego lane
	pathHalfWidth     = 2.5
)

type evalContext struct {
	ego    *sim.Ego
	center sim.Kinetics
	nb     *sim.Neighborhood
	oracle sim.MapOracle
	world  *sim.WorldSnapshot
}

type predicate struct {
	tag  Tag
	eval func(*evalContext) (SketchNode, bool)
}

// registry lists every predicate in tag declaration order.
func registry() []predicate {
	return []predicate{
		{TagFrontVehicleDecelerating, frontVehicleDecelerating},
		{TagFrontVehicleStopped, frontVehicleStopped},
		{TagFrontVehicleAccelerating, frontVehicleAccelerating},
		{TagCarFollowing, carFollowing},
		{TagRearVehicleApproaching, rearVehicleApproaching},
		{TagLeftFrontCutIn, cutIn(sim.RelationLeftFront, -1)},
		{TagRightFrontCutIn, cutIn(sim.RelationRightFront, 1)},
		{TagLeftRearOvertaking, overtaking(sim.RelationLeftRear)},
		{TagRightRearOvertaking, overtaking(sim.RelationRightRear)},
		{TagOncomingVehicle, oncomingVehicle},
		{TagEgoLaneChangeLeft, maneuver(sim.ManeuverLaneChangeLeft)},
		{TagEgoLaneChangeRight, maneuver(sim.ManeuverLaneChangeRight)},
		{TagEgoTurnLeft, egoTurn((*sim.Ego).IsTurnLeft)},
		{TagEgoTurnRight, egoTurn((*sim.Ego).IsTurnRight)},
		{TagEgoStraightThroughJunction, egoTurn((*sim.Ego).IsTurnStraight)},
		{TagEgoStopped, egoStopped},
		{TagEgoHardBraking, egoHardBraking},
		{TagPedestrianAhead, pedestrianAhead},
		{TagStaticObstacleAhead, staticObstacleAhead},
		{TagLaneEndApproaching, laneEndApproaching},
		{TagDenseTraffic, denseTraffic},
	}
}

func origin(n sim.Neighbor) SketchNode {
	ref := n.Ref
	return SketchNode{Origin: &ref}
}

// synchronous reports whether two headings point the same way.
func synchronous(a, b sim.Kinetics) bool {
	return headingDot(a, b) > 0
}

func headingDot(a, b sim.Kinetics) float64 {
	return math.Cos(a.Heading)*math.Cos(b.Heading) + math.Sin(a.Heading)*math.Sin(b.Heading)
}

// front returns the same-lane leader within rng travelling with the ego.
func (c *evalContext) front(rng float64) (sim.Neighbor, bool) {
	n, ok := c.nb.Relation(sim.RelationFront)
	if !ok || n.Distance > rng || !synchronous(c.center, n.Kinetics) {
		return sim.Neighbor{}, false
	}
	return n, true
}

func frontVehicleDecelerating(c *evalContext) (SketchNode, bool) {
	n, ok := c.front(frontRange)
	if !ok || n.Kinetics.Accel >= -accelThreshold {
		return SketchNode{}, false
	}
	return origin(n), true
}

func frontVehicleStopped(c *evalContext) (SketchNode, bool) {
	n, ok := c.nb.Relation(sim.RelationFront)
	if !ok || n.Distance > stoppedFrontRange || n.Kinetics.Speed >= stoppedSpeed {
		return SketchNode{}, false
	}
	return origin(n), true
}

func frontVehicleAccelerating(c *evalContext) (SketchNode, bool) {
	n, ok := c.front(frontRange)
	if !ok || n.Kinetics.Accel <= accelThreshold {
		return SketchNode{}, false
	}
	return origin(n), true
}

func carFollowing(c *evalContext) (SketchNode, bool) {
	n, ok := c.front(followRange)
	if !ok || c.center.Speed < 1 || n.Kinetics.Speed < 1 {
		return SketchNode{}, false
	}
	if math.Abs(n.Kinetics.Speed-c.center.Speed) > followSpeedDelta {
		return SketchNode{}, false
	}
	return origin(n), true
}

func rearVehicleApproaching(c *evalContext) (SketchNode, bool) {
	n, ok := c.nb.Relation(sim.RelationRear)
	if !ok || n.Distance > rearRange || !synchronous(c.center, n.Kinetics) {
		return SketchNode{}, false
	}
	if n.Kinetics.Speed <= c.center.Speed+closingSpeedDelta {
		return SketchNode{}, false
	}
	return origin(n), true
}

// cutIn matches a side-front vehicle drifting off its lane center towards the ego lane.
// towards is the sign of the lateral offset that points at the ego: -1 for the left lane.
func cutIn(r sim.Relation, towards float64) func(*evalContext) (SketchNode, bool) {
	return func(c *evalContext) (SketchNode, bool) {
		n, ok := c.nb.Relation(r)
		if !ok || n.Lon > sideRange || !synchronous(c.center, n.Kinetics) {
			return SketchNode{}, false
		}
		if n.Kinetics.OnLink || n.Kinetics.T*towards < cutInOffset {
			return SketchNode{}, false
		}
		return origin(n), true
	}
}

func overtaking(r sim.Relation) func(*evalContext) (SketchNode, bool) {
	return func(c *evalContext) (SketchNode, bool) {
		n, ok := c.nb.Relation(r)
		if !ok || -n.Lon > sideRange || !synchronous(c.center, n.Kinetics) {
			return SketchNode{}, false
		}
		if n.Kinetics.Speed <= c.center.Speed+closingSpeedDelta {
			return SketchNode{}, false
		}
		return origin(n), true
	}
}

func oncomingVehicle(c *evalContext) (SketchNode, bool) {
	var best sim.Neighbor
	found := false
	for _, s := range []sim.Sector{sim.SectorFront, sim.SectorFrontLeft, sim.SectorFrontRight} {
		n, ok := c.nb.Nearest(s, sim.KindVehicle)
		if !ok || n.Distance > oncomingRange || headingDot(c.center, n.Kinetics) > -0.5 {
			continue
		}
		if !found || n.Distance < best.Distance {
			best, found = n, true
		}
	}
	if !found {
		return SketchNode{}, false
	}
	return origin(best), true
}

func maneuver(m sim.LaneChangeState) func(*evalContext) (SketchNode, bool) {
	return func(c *evalContext) (SketchNode, bool) {
		return SketchNode{}, c.ego.Maneuver() == m
	}
}

func egoTurn(is func(*sim.Ego) bool) func(*evalContext) (SketchNode, bool) {
	return func(c *evalContext) (SketchNode, bool) {
		return SketchNode{}, is(c.ego)
	}
}

func egoStopped(c *evalContext) (SketchNode, bool) {
	return SketchNode{}, c.center.Speed < stoppedSpeed
}

// egoHardBraking looks at the current deceleration and the average over the history ring.
func egoHardBraking(c *evalContext) (SketchNode, bool) {
	if c.center.Accel <= -hardBrakeDecel {
		return SketchNode{}, true
	}
	h := c.ego.History()
	if len(h) < 2 {
		return SketchNode{}, false
	}
	first, last := h[0], h[len(h)-1]
	span := last.Time - first.Time
	return SketchNode{}, span > 0 && (last.Speed-first.Speed)/span <= -hardBrakeDecel
}

func pedestrianAhead(c *evalContext) (SketchNode, bool) {
	if n, ok := c.nb.Nearest(sim.SectorFront, sim.KindPedestrian); ok && n.Distance <= pedestrianRange {
		return origin(n), true
	}
	for _, s := range []sim.Sector{sim.SectorFrontLeft, sim.SectorFrontRight} {
		if n, ok := c.nb.Nearest(s, sim.KindPedestrian); ok && n.Distance <= pedestrianRange/2 && math.Abs(n.Lat) < 2*pathHalfWidth {
			return origin(n), true
		}
	}
	return SketchNode{}, false
}

func staticObstacleAhead(c *evalContext) (SketchNode, bool) {
	n, ok := c.nb.Nearest(sim.SectorFront, sim.KindStaticObstacle)
	if !ok || n.Distance > obstacleRange || math.Abs(n.Lat) > pathHalfWidth {
		return SketchNode{}, false
	}
	return origin(n), true
}

// laneEndApproaching compares the ego lane against the next section's lane count.
func laneEndApproaching(c *evalContext) (SketchNode, bool) {
	k := c.center
	if k.OnLink || k.Lane == (sim.LaneKey{}) {
		return SketchNode{}, false
	}
	length, ok := c.oracle.LaneLength(k.Lane)
	if !ok || length-k.S > laneEndRange {
		return SketchNode{}, false
	}
	next := c.oracle.SectionLaneCount(k.Lane.Road, k.Lane.Section+1)
	return SketchNode{}, next > 0 && k.Lane.Lane > next
}

func denseTraffic(c *evalContext) (SketchNode, bool) {
	near := lo.Filter(c.world.Cars, func(o sim.SnapshotObject, _ int) bool {
		return planar.Distance(o.Position, c.center.Position) <= denseRange
	})
	if len(near) < denseCount {
		return SketchNode{}, false
	}
	refs := lo.Map(near, func(o sim.SnapshotObject, _ int) sim.EntityRef { return o.Ref })
	return SketchNode{Participants: refs}, true
}
