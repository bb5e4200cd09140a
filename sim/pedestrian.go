package sim

import (
	"fmt"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
)

// PedestrianSpec describes a walking pedestrian.
type PedestrianSpec struct {
	ID       int
	Position orb.Point
	Z        float64
	Heading  float64
	Speed    float64
	Start    float64
	End      float64
}

// Pedestrian walks along a fixed heading at constant speed and ends when it leaves the
// road network.
type Pedestrian struct {
	Base

	heading float64
	egoDist float64
}

// NewPedestrian builds a pedestrian and resolves its start location.
func NewPedestrian(spec PedestrianSpec, oracle MapOracle) (*Pedestrian, error) {
	p := &Pedestrian{heading: spec.Heading}
	p.init(KindPedestrian, spec.ID, spec.Start, spec.End)
	loc, err := ResolveLocation(oracle, spec.Position, spec.Z)
	if err != nil {
		return nil, fmt.Errorf("pedestrian %d: %w", spec.ID, err)
	}
	loc.Heading = spec.Heading
	p.place(loc, spec.Speed)
	return p, nil
}

func (p *Pedestrian) Update(fc *FrameContext) error {
	if !p.IsAlive() {
		return nil
	}
	cur := p.stable
	dir := cur.loc.Direction()
	next := orb.Point{cur.loc.Point[0] + dir[0]*cur.speed*fc.Dt, cur.loc.Point[1] + dir[1]*cur.speed*fc.Dt}
	loc, err := ResolveLocationFrom(fc.Oracle, cur.loc, next, cur.loc.Z)
	if err != nil {
		p.requestEnd()
		return nil
	}
	loc.Heading = p.heading
	p.next = motion{loc: loc, speed: cur.speed}
	p.publish()
	return nil
}

// ReceiveReference stores the distance to the frame-reference ego.
func (p *Pedestrian) ReceiveReference(ref Kinetics) {
	p.egoDist = planar.Distance(ref.Position, p.stable.loc.Point)
}

// EgoDistance is the planar distance to the frame-reference ego as of the last broadcast.
func (p *Pedestrian) EgoDistance() float64 { return p.egoDist }
