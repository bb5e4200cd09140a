package sim

import (
	"slices"
	"sort"
)

// LaneOccupant is one entity's stable footprint on a lane.
type LaneOccupant struct {
	Ref    EntityRef
	SysID  int
	S      float64
	Length float64
}

type sized interface {
	Length() float64
}

// LaneIndex orders lane-bound entities by arc length per lane, together with the stop lines
// of the signals that are not green. Built once per frame from stable state and read-only
// afterwards.
type LaneIndex struct {
	lanes map[LaneKey][]LaneOccupant
	stops map[LaneKey][]float64
}

func buildLaneIndex(entities []Entity, signals []*SignalLight) *LaneIndex {
	li := &LaneIndex{lanes: make(map[LaneKey][]LaneOccupant), stops: make(map[LaneKey][]float64)}
	for _, sl := range signals {
		if sl.light != LightGreen {
			li.stops[sl.lane] = append(li.stops[sl.lane], sl.stopS)
		}
	}
	for _, e := range entities {
		if !e.IsAlive() {
			continue
		}
		var length float64
		switch e.Kind() {
		case KindVehicle, KindEgo, KindStaticObstacle:
			length = e.(sized).Length()
		default:
			continue
		}
		loc := e.Location()
		if !loc.Valid() || loc.OnLink {
			continue
		}
		li.lanes[loc.Lane] = append(li.lanes[loc.Lane], LaneOccupant{
			Ref:    e.Ref(),
			SysID:  e.SysID(),
			S:      loc.S,
			Length: length,
		})
	}
	for _, occ := range li.lanes {
		slices.SortFunc(occ, func(a, b LaneOccupant) int {
			if a.S != b.S {
				if a.S < b.S {
					return -1
				}
				return 1
			}
			return a.SysID - b.SysID
		})
	}
	return li
}

// StopLineAhead returns the distance from s to the nearest stop line ahead on lane whose
// signal was not green when the index was built.
func (li *LaneIndex) StopLineAhead(lane LaneKey, s float64) (float64, bool) {
	best, found := 0.0, false
	for _, stop := range li.stops[lane] {
		if stop <= s {
			continue
		}
		if d := stop - s; !found || d < best {
			best, found = d, true
		}
	}
	return best, found
}

// Occupants returns the lane's occupants in arc-length order.
func (li *LaneIndex) Occupants(lane LaneKey) []LaneOccupant {
	return li.lanes[lane]
}

// Ahead returns the nearest occupant ahead of s on lane, looking one section further when
// the lane is empty ahead. The gap is center to center.
func (li *LaneIndex) Ahead(oracle MapOracle, lane LaneKey, s float64, self int) (LaneOccupant, float64, bool) {
	return li.AheadMatching(oracle, lane, s, self, nil)
}

// AheadMatching is Ahead restricted to occupants accepted by keep.
func (li *LaneIndex) AheadMatching(oracle MapOracle, lane LaneKey, s float64, self int, keep func(LaneOccupant) bool) (LaneOccupant, float64, bool) {
	occ := li.lanes[lane]
	for i := sort.Search(len(occ), func(i int) bool { return occ[i].S >= s }); i < len(occ); i++ {
		o := occ[i]
		if o.SysID == self || (o.S == s && o.SysID < self) || (keep != nil && !keep(o)) {
			continue
		}
		return o, o.S - s, true
	}
	next := LaneKey{Road: lane.Road, Section: lane.Section + 1, Lane: lane.Lane}
	length, ok := oracle.LaneLength(lane)
	if !ok {
		return LaneOccupant{}, 0, false
	}
	for _, o := range li.lanes[next] {
		if o.SysID == self || (keep != nil && !keep(o)) {
			continue
		}
		return o, length - s + o.S, true
	}
	return LaneOccupant{}, 0, false
}

// Behind returns the nearest occupant behind s on lane, looking one section back when the
// lane is empty behind.
func (li *LaneIndex) Behind(oracle MapOracle, lane LaneKey, s float64, self int, keep func(LaneOccupant) bool) (LaneOccupant, float64, bool) {
	occ := li.lanes[lane]
	for i := sort.Search(len(occ), func(i int) bool { return occ[i].S > s }) - 1; i >= 0; i-- {
		o := occ[i]
		if o.SysID == self || (o.S == s && o.SysID > self) || (keep != nil && !keep(o)) {
			continue
		}
		return o, s - o.S, true
	}
	if lane.Section == 0 {
		return LaneOccupant{}, 0, false
	}
	prev := LaneKey{Road: lane.Road, Section: lane.Section - 1, Lane: lane.Lane}
	length, ok := oracle.LaneLength(prev)
	if !ok {
		return LaneOccupant{}, 0, false
	}
	occ = li.lanes[prev]
	for i := len(occ) - 1; i >= 0; i-- {
		o := occ[i]
		if o.SysID == self || (keep != nil && !keep(o)) {
			continue
		}
		return o, s + length - o.S, true
	}
	return LaneOccupant{}, 0, false
}
