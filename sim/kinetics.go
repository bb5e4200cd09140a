package sim

import "github.com/paulmach/orb"

// Kinetics is an entity's motion state for one frame.
type Kinetics struct {
	Ref      EntityRef
	SysID    int
	Time     float64
	Position orb.Point
	Z        float64
	Heading  float64
	Speed    float64
	Accel    float64
	Lane     LaneKey
	S        float64
	T        float64
	OnLink   bool
	Valid    bool
}

// Velocity is the planar velocity vector.
func (k Kinetics) Velocity() orb.Point {
	d := Location{Heading: k.Heading}.Direction()
	return orb.Point{d[0] * k.Speed, d[1] * k.Speed}
}

// KineticsMap is the per-frame system id -> kinetics table. It is written by the
// pre-update phase, sequentially, and only read by later phases of the same frame.
type KineticsMap map[int]Kinetics

// Put records k under its system id.
func (m KineticsMap) Put(k Kinetics) {
	m[k.SysID] = k
}

// Get returns the entry for sysID.
func (m KineticsMap) Get(sysID int) (Kinetics, bool) {
	k, ok := m[sysID]
	return k, ok
}

// reset clears the map for the next frame while keeping its buckets.
func (m KineticsMap) reset() {
	clear(m)
}
