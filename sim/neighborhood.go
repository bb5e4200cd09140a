package sim

import (
	"math"

	"github.com/paulmach/orb/planar"
)

// Sector is a clock position around the ego; sectors are 45° wide, counter-clockwise
// from straight ahead.
type Sector int

const (
	SectorFront Sector = iota
	SectorFrontLeft
	SectorLeft
	SectorRearLeft
	SectorRear
	SectorRearRight
	SectorRight
	SectorFrontRight
)

// NumSectors is the number of clock sectors.
const NumSectors = 8

// Relation is a lane-relative neighbor slot.
type Relation int

const (
	RelationFront Relation = iota
	RelationRear
	RelationLeftFront
	RelationLeftRear
	RelationRightFront
	RelationRightRear
	RelationFrontMost
	RelationBackMost
)

// NumRelations is the number of relation slots.
const NumRelations = 8

var relationNames = [NumRelations]string{"front", "rear", "left-front", "left-rear", "right-front", "right-rear", "front-most", "back-most"}

func (r Relation) String() string {
	if r < 0 || int(r) >= NumRelations {
		return "unknown"
	}
	return relationNames[r]
}

// fallbackLaneWidth is used for lateral lane bands when either side is on a junction link.
const fallbackLaneWidth = 3.5

// Neighbor is one entity seen from the ego frame.
type Neighbor struct {
	Ref      EntityRef
	SysID    int
	Distance float64 // planar
	Lon      float64 // ahead positive
	Lat      float64 // left positive
	Kinetics Kinetics
}

type neighborSlot struct {
	n  Neighbor
	ok bool
}

// Neighborhood is the precomputed 8-sector partition around an ego plus its lane-relative
// relations. It is rebuilt in one O(N) pass and answers every query in O(1).
type Neighborhood struct {
	center    Kinetics
	sectors   [NumSectors][NumKinds]neighborSlot
	relations [NumRelations]neighborSlot
	occupied  int
}

// SectorOf maps an ego-frame offset to its clock sector.
func SectorOf(lon, lat float64) Sector {
	angle := math.Atan2(lat, lon)
	idx := int(math.Floor((angle + math.Pi/8) / (math.Pi / 4)))
	return Sector(((idx % NumSectors) + NumSectors) % NumSectors)
}

// refresh rebuilds the neighborhood around center from candidates within maxRange.
// skip excludes the ego's own units.
func (n *Neighborhood) refresh(center Kinetics, candidates []Entity, maxRange float64, skip func(Entity) bool) {
	*n = Neighborhood{center: center}
	if !center.Valid {
		return
	}
	dir := Location{Heading: center.Heading}.Direction()
	for _, e := range candidates {
		if skip(e) || !e.IsAlive() {
			continue
		}
		k := e.Kinetics()
		if !k.Valid && e.Kind() != KindDynamicFollowerObstacle {
			continue
		}
		d := planar.Distance(center.Position, k.Position)
		if d > maxRange {
			continue
		}
		dx, dy := k.Position[0]-center.Position[0], k.Position[1]-center.Position[1]
		nb := Neighbor{
			Ref:      e.Ref(),
			SysID:    e.SysID(),
			Distance: d,
			Lon:      dx*dir[0] + dy*dir[1],
			Lat:      -dx*dir[1] + dy*dir[0],
			Kinetics: k,
		}
		n.place(nb)
	}
	for s := range n.sectors {
		for kd := range n.sectors[s] {
			if n.sectors[s][kd].ok {
				n.occupied++
				break
			}
		}
	}
}

func (n *Neighborhood) place(nb Neighbor) {
	slot := &n.sectors[SectorOf(nb.Lon, nb.Lat)][nb.Ref.Kind]
	if !slot.ok || nb.Distance < slot.n.Distance {
		*slot = neighborSlot{n: nb, ok: true}
	}
	if nb.Ref.Kind != KindVehicle && nb.Ref.Kind != KindEgo {
		return
	}
	switch offset := n.laneOffset(nb); {
	case offset == 0 && nb.Lon > 0:
		n.keepNearest(RelationFront, nb)
	case offset == 0:
		n.keepNearest(RelationRear, nb)
	case offset == 1 && nb.Lon > 0:
		n.keepNearest(RelationLeftFront, nb)
	case offset == 1:
		n.keepNearest(RelationLeftRear, nb)
	case offset == -1 && nb.Lon > 0:
		n.keepNearest(RelationRightFront, nb)
	case offset == -1:
		n.keepNearest(RelationRightRear, nb)
	}
	if fm := &n.relations[RelationFrontMost]; nb.Lon > 0 && (!fm.ok || nb.Lon > fm.n.Lon) {
		*fm = neighborSlot{n: nb, ok: true}
	}
	if bm := &n.relations[RelationBackMost]; nb.Lon < 0 && (!bm.ok || nb.Lon < bm.n.Lon) {
		*bm = neighborSlot{n: nb, ok: true}
	}
}

// laneOffset is the neighbor's lane index minus the ego's: lane topology when both are on
// lanes of the same road, lateral bands otherwise.
func (n *Neighborhood) laneOffset(nb Neighbor) int {
	c, k := n.center, nb.Kinetics
	if !c.OnLink && !k.OnLink && c.Lane.Road == k.Lane.Road && c.Lane.Road != 0 {
		return k.Lane.Lane - c.Lane.Lane
	}
	return int(math.Round(nb.Lat / fallbackLaneWidth))
}

func (n *Neighborhood) keepNearest(r Relation, nb Neighbor) {
	slot := &n.relations[r]
	if !slot.ok || math.Abs(nb.Lon) < math.Abs(slot.n.Lon) {
		*slot = neighborSlot{n: nb, ok: true}
	}
}

// Center is the ego kinetics the neighborhood was built around.
func (n *Neighborhood) Center() Kinetics { return n.center }

// Nearest returns the nearest entity of kind in sector s.
func (n *Neighborhood) Nearest(s Sector, kind Kind) (Neighbor, bool) {
	slot := n.sectors[s][kind]
	return slot.n, slot.ok
}

// Relation returns the neighbor in relation slot r.
func (n *Neighborhood) Relation(r Relation) (Neighbor, bool) {
	slot := n.relations[r]
	return slot.n, slot.ok
}

// OccupiedSectors counts sectors holding at least one entity.
func (n *Neighborhood) OccupiedSectors() int { return n.occupied }
