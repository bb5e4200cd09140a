package sim

import (
	"fmt"
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
	"github.com/samber/lo"
)

// stoppedSpeed is the speed below which a vehicle counts as stopped.
const stoppedSpeed = 0.1

// Behavior names accepted in VehicleSpec.Behavior.
const (
	BehaviorIDM    = "idm"
	BehaviorFixed  = "fixed"
	BehaviorReplay = "replay"
)

// ValidBehaviors is the set of recognized vehicle behaviors.
var ValidBehaviors = map[string]bool{"": true, BehaviorIDM: true, BehaviorFixed: true, BehaviorReplay: true}

// TrackPoint is one sample of a recorded trajectory.
type TrackPoint struct {
	Time     float64
	Position orb.Point
	Speed    float64
}

// VehicleSpec describes a background vehicle as delivered by the scene source.
type VehicleSpec struct {
	ID           int
	Position     orb.Point
	Z            float64
	Speed        float64
	DesiredSpeed float64
	Length       float64
	Width        float64
	Start        float64
	End          float64
	Behavior     string
	Accel        float64 // fixed behavior acceleration
	Limits       DynamicsLimits
	Track        []TrackPoint // replay behavior samples, ascending time
}

// ExternalInfo is what the ego-driven lane search tells a vehicle about itself.
type ExternalInfo struct {
	Set      bool
	Relation Relation // RelationFront or RelationRear relative to the ego
	Gap      float64
}

// leaderInfo is a vehicle's own neighbor awareness: the nearest obstacle ahead in lane.
type leaderInfo struct {
	found   bool
	sysID   int // 0 for virtual leaders (red signal stop lines)
	gap     float64
	virtual bool
}

// Vehicle is a background traffic vehicle.
type Vehicle struct {
	Base

	length       float64
	width        float64
	desiredSpeed float64
	behavior     string
	fixedAccel   float64
	limits       DynamicsLimits
	track        []TrackPoint

	leader     leaderInfo
	egoRef     Kinetics
	egoDist    float64
	external   ExternalInfo
	fcwWarning bool
	ttc        float64
	stoppedFor float64
	auditPre   Kinetics
}

// NewVehicle builds a vehicle and resolves its start location against the oracle.
// A failure aborts only this vehicle's spawn.
func NewVehicle(spec VehicleSpec, oracle MapOracle) (*Vehicle, error) {
	if !ValidBehaviors[spec.Behavior] {
		return nil, fmt.Errorf("vehicle %d: unknown behavior %q", spec.ID, spec.Behavior)
	}
	if spec.Behavior == BehaviorReplay && len(spec.Track) == 0 {
		return nil, fmt.Errorf("vehicle %d: replay behavior needs a track", spec.ID)
	}
	v := &Vehicle{
		length:       lo.Ternary(spec.Length > 0, spec.Length, 4.6),
		width:        lo.Ternary(spec.Width > 0, spec.Width, 1.9),
		desiredSpeed: lo.Ternary(spec.DesiredSpeed > 0, spec.DesiredSpeed, math.Max(spec.Speed, 13.9)),
		behavior:     lo.Ternary(spec.Behavior == "", BehaviorIDM, spec.Behavior),
		fixedAccel:   spec.Accel,
		limits:       withDefaultLimits(spec.Limits),
		track:        spec.Track,
		ttc:          math.Inf(1),
	}
	v.init(KindVehicle, spec.ID, spec.Start, spec.End)
	start := spec.Position
	if v.behavior == BehaviorReplay {
		start = spec.Track[0].Position
	}
	loc, err := ResolveLocation(oracle, start, spec.Z)
	if err != nil {
		return nil, fmt.Errorf("vehicle %d: %w", spec.ID, err)
	}
	v.place(loc, spec.Speed)
	return v, nil
}

func withDefaultLimits(l DynamicsLimits) DynamicsLimits {
	if l.MaxSpeed <= 0 {
		l.MaxSpeed = DefaultDynamicsLimits.MaxSpeed
	}
	if l.MaxAccel <= 0 {
		l.MaxAccel = DefaultDynamicsLimits.MaxAccel
	}
	if l.MaxBrake <= 0 {
		l.MaxBrake = DefaultDynamicsLimits.MaxBrake
	}
	return l
}

func (v *Vehicle) Length() float64 { return v.length }
func (v *Vehicle) Width() float64  { return v.width }

// Behavior returns the active behavior name.
func (v *Vehicle) Behavior() string { return v.behavior }

// SetFixedAccel switches the vehicle to a fixed-acceleration behavior. Only called from
// sequential phases (event flush) or before the run starts.
func (v *Vehicle) SetFixedAccel(a float64) {
	v.behavior = BehaviorFixed
	v.fixedAccel = a
}

// Perceive refreshes the vehicle's leader from the frame's lane index. It reads only
// stable state of other entities.
func (v *Vehicle) Perceive(fc *FrameContext) error {
	v.leader = leaderInfo{}
	if !v.IsAlive() {
		return nil
	}
	lane, ok := v.CurrentLaneInfo()
	if !ok {
		return nil
	}
	s := v.stable.loc.S
	index := fc.Store.LaneIndex()
	if occ, gap, found := index.Ahead(fc.Oracle, lane, s, v.sysID); found {
		v.leader = leaderInfo{found: true, sysID: occ.SysID, gap: gap - (occ.Length+v.length)/2}
	}
	if stop, found := index.StopLineAhead(lane, s); found {
		gap := stop - v.length/2
		if !v.leader.found || gap < v.leader.gap {
			v.leader = leaderInfo{found: true, gap: gap, virtual: true}
		}
	}
	return nil
}

// LeaderGap returns the bumper gap to the perceived leader.
func (v *Vehicle) LeaderGap() (float64, bool) {
	return v.leader.gap, v.leader.found
}

func (v *Vehicle) PreUpdate(fc *FrameContext) error {
	if !v.IsAlive() {
		return nil
	}
	k := v.Kinetics()
	k.Time = fc.Time
	fc.Kinetics.Put(k)
	return nil
}

// Update advances the vehicle through the dynamics solver (or its recorded track) into
// the next buffer. Other entities keep observing the stable buffer until PostUpdate.
func (v *Vehicle) Update(fc *FrameContext) error {
	if !v.IsAlive() {
		return nil
	}
	if v.behavior == BehaviorReplay {
		return v.replay(fc)
	}
	accel := v.commandAccel(fc)
	cur := v.stable
	out := fc.Solver.Step(
		DynamicsState{Position: cur.loc.Point, Heading: cur.loc.Heading, Speed: cur.speed, Accel: cur.accel},
		DynamicsInput{Accel: accel, Heading: cur.loc.Heading, Dt: fc.Dt},
		v.limits,
	)
	loc, err := ResolveLocationFrom(fc.Oracle, cur.loc, out.Position, cur.loc.Z)
	if err != nil {
		v.requestEnd()
		v.next = motion{loc: cur.loc, speed: out.Speed, accel: out.Accel}
		return nil
	}
	v.next = motion{loc: loc, speed: out.Speed, accel: out.Accel}
	return nil
}

func (v *Vehicle) commandAccel(fc *FrameContext) float64 {
	switch v.behavior {
	case BehaviorFixed:
		return v.fixedAccel
	}
	leaderSpeed := 0.0
	if v.leader.found && !v.leader.virtual {
		if lk, ok := fc.Kinetics.Get(v.leader.sysID); ok {
			leaderSpeed = lk.Speed
		}
	}
	return idmAccel(v.stable.speed, v.desiredSpeed, v.leader.found, v.leader.gap, leaderSpeed, v.limits)
}

// IDM parameters shared by all background vehicles.
const (
	idmTimeHeadway = 1.5
	idmMinGap      = 2.0
	idmDelta       = 4.0
)

// idmAccel is the Intelligent Driver Model acceleration.
func idmAccel(speed, desired float64, hasLeader bool, gap, leaderSpeed float64, limits DynamicsLimits) float64 {
	a := limits.MaxAccel
	b := math.Min(limits.MaxBrake, 2.0)
	free := 1 - math.Pow(speed/math.Max(desired, 0.1), idmDelta)
	if !hasLeader {
		return lo.Clamp(a*free, -limits.MaxBrake, limits.MaxAccel)
	}
	dv := speed - leaderSpeed
	sStar := idmMinGap + math.Max(0, speed*idmTimeHeadway+speed*dv/(2*math.Sqrt(a*b)))
	g := math.Max(gap, 0.1)
	return lo.Clamp(a*(free-(sStar/g)*(sStar/g)), -limits.MaxBrake, limits.MaxAccel)
}

func (v *Vehicle) replay(fc *FrameContext) error {
	tp, done := sampleTrack(v.track, fc.Time)
	if done {
		v.requestEnd()
	}
	loc, err := ResolveLocationFrom(fc.Oracle, v.stable.loc, tp.Position, v.stable.loc.Z)
	if err != nil {
		v.requestEnd()
		return nil
	}
	accel := 0.0
	if fc.Dt > 0 {
		accel = (tp.Speed - v.stable.speed) / fc.Dt
	}
	v.next = motion{loc: loc, speed: tp.Speed, accel: accel}
	return nil
}

// sampleTrack linearly interpolates the track at t; done reports t is past the last sample.
func sampleTrack(track []TrackPoint, t float64) (TrackPoint, bool) {
	if t <= track[0].Time {
		return track[0], false
	}
	last := track[len(track)-1]
	if t >= last.Time {
		return last, true
	}
	for i := 1; i < len(track); i++ {
		if track[i].Time < t {
			continue
		}
		a, b := track[i-1], track[i]
		f := (t - a.Time) / (b.Time - a.Time)
		return TrackPoint{
			Time:     t,
			Position: orb.Point{a.Position[0] + f*(b.Position[0]-a.Position[0]), a.Position[1] + f*(b.Position[1]-a.Position[1])},
			Speed:    a.Speed + f*(b.Speed-a.Speed),
		}, false
	}
	return last, true
}

func (v *Vehicle) PostUpdate(fc *FrameContext) error {
	if !v.IsAlive() {
		return nil
	}
	v.publish()
	if v.stable.speed < stoppedSpeed {
		v.stoppedFor += fc.Dt
	} else {
		v.stoppedFor = 0
	}
	return nil
}

// ReceiveReference stores the frame-reference ego kinetics.
func (v *Vehicle) ReceiveReference(ref Kinetics) {
	v.egoRef = ref
	v.egoDist = planar.Distance(ref.Position, v.stable.loc.Point)
}

// EgoDistance is the planar distance to the frame-reference ego as of the last broadcast.
func (v *Vehicle) EgoDistance() float64 { return v.egoDist }

func (v *Vehicle) ClearExternalInfo()             { v.external = ExternalInfo{} }
func (v *Vehicle) SetExternalInfo(e ExternalInfo) { v.external = e }
func (v *Vehicle) ExternalInfo() ExternalInfo     { return v.external }

// fcwLateralBand is the lateral offset beyond which a vehicle is not in the ego's path.
const fcwLateralBand = 1.8

// evaluateFCW computes time-to-collision against the ego and sets the warning flag.
func (v *Vehicle) evaluateFCW(ego Kinetics, ttcThreshold float64) bool {
	v.fcwWarning = false
	v.ttc = math.Inf(1)
	rel := orb.Point{v.stable.loc.Point[0] - ego.Position[0], v.stable.loc.Point[1] - ego.Position[1]}
	dir := Location{Heading: ego.Heading}.Direction()
	lon := rel[0]*dir[0] + rel[1]*dir[1]
	lat := rel[1]*dir[0] - rel[0]*dir[1]
	if lon <= 0 || math.Abs(lat) > fcwLateralBand {
		return false
	}
	vel := Kinetics{Heading: v.stable.loc.Heading, Speed: v.stable.speed}.Velocity()
	closing := ego.Speed - (vel[0]*dir[0] + vel[1]*dir[1])
	if closing <= 0 {
		return false
	}
	v.ttc = math.Max(lon-v.length/2, 0) / closing
	v.fcwWarning = v.ttc < ttcThreshold
	return v.fcwWarning
}

// FCW returns the forward-collision warning state and time-to-collision.
func (v *Vehicle) FCW() (bool, float64) { return v.fcwWarning, v.ttc }

// StoppedFor is how long the vehicle has been continuously stopped.
func (v *Vehicle) StoppedFor() float64 { return v.stoppedFor }

func (v *Vehicle) snapshotAudit() {
	v.auditPre = v.Kinetics()
}
