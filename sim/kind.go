package sim

import "fmt"

// Kind is the closed set of traffic element kinds.
type Kind int

const (
	KindVehicle Kind = iota
	KindPedestrian
	KindStaticObstacle
	KindDynamicFollowerObstacle
	KindSignalLight
	KindEgo
)

// NumKinds is the number of declared kinds.
const NumKinds = int(KindEgo) + 1

var kindNames = [NumKinds]string{
	KindVehicle:                 "vehicle",
	KindPedestrian:              "pedestrian",
	KindStaticObstacle:          "static-obstacle",
	KindDynamicFollowerObstacle: "dynamic-follower-obstacle",
	KindSignalLight:             "signal-light",
	KindEgo:                     "ego",
}

func (k Kind) String() string {
	if k < 0 || int(k) >= NumKinds {
		return fmt.Sprintf("kind(%d)", int(k))
	}
	return kindNames[k]
}

// ParseKind maps a kind name back to its Kind.
func ParseKind(name string) (Kind, error) {
	for i, n := range kindNames {
		if n == name {
			return Kind(i), nil
		}
	}
	return 0, fmt.Errorf("unknown entity kind %q", name)
}

// EntityRef is an observational reference to an entity: it never keeps the entity alive
// and must be resolved through the Store each time it is used.
type EntityRef struct {
	Kind Kind
	ID   int
}

func (r EntityRef) String() string {
	return fmt.Sprintf("%s#%d", r.Kind, r.ID)
}
