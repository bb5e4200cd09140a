// Package dynamics provides the default vehicle dynamics solver.
package dynamics

import (
	"math"

	"github.com/paulmach/orb"
	"github.com/samber/lo"

	"github.com/inference-sim/traffic-sim/sim"
)

// PointMass integrates a clamped longitudinal acceleration along the commanded heading.
// Speed never goes negative and never exceeds the limit; a vehicle that would stop inside
// the step stops exactly there. Holds no state, so one value serves every worker.
type PointMass struct{}

func (PointMass) Step(state sim.DynamicsState, in sim.DynamicsInput, limits sim.DynamicsLimits) sim.DynamicsState {
	accel := lo.Clamp(in.Accel, -limits.MaxBrake, limits.MaxAccel)
	if in.Dt <= 0 {
		return sim.DynamicsState{Position: state.Position, Heading: in.Heading, Speed: state.Speed, Accel: accel}
	}
	v0 := state.Speed
	v1 := v0 + accel*in.Dt
	var dist float64
	switch {
	case v1 < 0:
		// Stops inside the step.
		dist = v0 * v0 / (2 * -accel)
		v1 = 0
	case v1 > limits.MaxSpeed:
		tHit := math.Max((limits.MaxSpeed-v0)/math.Max(accel, 1e-9), 0)
		dist = v0*tHit + 0.5*accel*tHit*tHit + limits.MaxSpeed*(in.Dt-tHit)
		v1 = limits.MaxSpeed
	default:
		dist = (v0 + v1) / 2 * in.Dt
	}
	realized := (v1 - v0) / in.Dt
	return sim.DynamicsState{
		Position: orb.Point{
			state.Position[0] + dist*math.Cos(in.Heading),
			state.Position[1] + dist*math.Sin(in.Heading),
		},
		Heading: in.Heading,
		Speed:   v1,
		Accel:   realized,
	}
}
