// Package sketch classifies frames into driving-scenario tags. Each frame an Engine
// refreshes the ego's neighborhood, evaluates every predicate against it, records the
// matches as a keyframe, and at the end of the run votes for the dominant tag.
package sketch

import "github.com/inference-sim/traffic-sim/sim"

// Tag is a scenario label. The declaration order is the vote tie-break: the lower ordinal
// wins.
type Tag int

const (
	TagDefault Tag = iota
	TagFrontVehicleDecelerating
	TagFrontVehicleStopped
	TagFrontVehicleAccelerating
	TagCarFollowing
	TagRearVehicleApproaching
	TagLeftFrontCutIn
	TagRightFrontCutIn
	TagLeftRearOvertaking
	TagRightRearOvertaking
	TagOncomingVehicle
	TagEgoLaneChangeLeft
	TagEgoLaneChangeRight
	TagEgoTurnLeft
	TagEgoTurnRight
	TagEgoStraightThroughJunction
	TagEgoStopped
	TagEgoHardBraking
	TagPedestrianAhead
	TagStaticObstacleAhead
	TagLaneEndApproaching
	TagDenseTraffic

	numTags
)

var tagNames = [numTags]string{
	TagDefault:                    "default",
	TagFrontVehicleDecelerating:   "front vehicle decelerating",
	TagFrontVehicleStopped:        "front vehicle stopped",
	TagFrontVehicleAccelerating:   "front vehicle accelerating",
	TagCarFollowing:               "car following",
	TagRearVehicleApproaching:     "rear vehicle approaching",
	TagLeftFrontCutIn:             "left-front cut-in",
	TagRightFrontCutIn:            "right-front cut-in",
	TagLeftRearOvertaking:         "left-rear overtaking",
	TagRightRearOvertaking:        "right-rear overtaking",
	TagOncomingVehicle:            "oncoming vehicle",
	TagEgoLaneChangeLeft:          "ego lane change left",
	TagEgoLaneChangeRight:         "ego lane change right",
	TagEgoTurnLeft:                "ego turn left",
	TagEgoTurnRight:               "ego turn right",
	TagEgoStraightThroughJunction: "ego straight through junction",
	TagEgoStopped:                 "ego stopped",
	TagEgoHardBraking:             "ego hard braking",
	TagPedestrianAhead:            "pedestrian ahead",
	TagStaticObstacleAhead:        "static obstacle ahead",
	TagLaneEndApproaching:         "lane end approaching",
	TagDenseTraffic:               "dense traffic",
}

func (t Tag) String() string {
	if t < 0 || t >= numTags {
		return "unknown"
	}
	return tagNames[t]
}

// SketchNode is one match: the tag, the entity that caused it (if any), and any other
// participants. Purely observational.
type SketchNode struct {
	Tag          Tag
	Origin       *sim.EntityRef
	Participants []sim.EntityRef
}

// Keyframe is one frame's scenario-detection output. Nodes follow predicate declaration
// order.
type Keyframe struct {
	Time  float64
	Ego   sim.Kinetics
	World sim.WorldSnapshot
	Nodes []SketchNode
}

// Tags lists the tags matched in the keyframe.
func (k Keyframe) Tags() []Tag {
	out := make([]Tag, len(k.Nodes))
	for i, n := range k.Nodes {
		out[i] = n.Tag
	}
	return out
}

// Has reports whether tag matched in the keyframe.
func (k Keyframe) Has(tag Tag) bool {
	for _, n := range k.Nodes {
		if n.Tag == tag {
			return true
		}
	}
	return false
}
