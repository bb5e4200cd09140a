package scene

import (
	"fmt"
	"math/rand"

	"github.com/inference-sim/traffic-sim/sim"
)

// defaultSpawnID is where spawned vehicle ids start when a rule names no first_id.
const defaultSpawnID = 100000

// spawner tracks one spawn rule. Its draws come from the rule's own RNG subsystem, so
// adding a rule never shifts another rule's traffic.
type spawner struct {
	rule   SpawnRule
	rng    *rand.Rand
	next   float64
	nextID int
}

func newSpawner(rule SpawnRule, rng *rand.Rand) *spawner {
	first := rule.FirstID
	if first == 0 {
		first = defaultSpawnID
	}
	return &spawner{rule: rule, rng: rng, next: rule.Start, nextID: first}
}

// due returns the vehicles scheduled at or before t, in emission order.
func (sp *spawner) due(t float64, s *Source) ([]sim.VehicleSpec, error) {
	var out []sim.VehicleSpec
	for sp.next <= t && (sp.rule.End <= 0 || sp.next <= sp.rule.End) {
		lane := sp.rule.Lanes[sp.rng.Intn(len(sp.rule.Lanes))]
		speed := sp.rule.SpeedMin + sp.rng.Float64()*(sp.rule.SpeedMax-sp.rule.SpeedMin)
		pt, err := s.point(Placement{Section: sp.rule.Section, Lane: lane, S: sp.rule.S})
		if err != nil {
			return nil, fmt.Errorf("spawn %q: %w", sp.rule.Name, err)
		}
		out = append(out, sim.VehicleSpec{
			ID:       sp.nextID,
			Position: pt,
			Speed:    speed,
			Start:    sp.next,
		})
		sp.nextID++
		sp.next += sp.rule.Interval
	}
	return out, nil
}
