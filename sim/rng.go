package sim

import (
	"fmt"
	"hash/fnv"
	"math/rand"
)

// RunKey identifies a reproducible run: two runs with the same key, scene and
// configuration spawn the same traffic.
type RunKey int64

// SubsystemSpawn returns the RNG subsystem name for the named spawn rule.
func SubsystemSpawn(rule string) string {
	return fmt.Sprintf("spawn_%s", rule)
}

// SubsystemScene is the RNG subsystem for scene-level randomization.
const SubsystemScene = "scene"

// PartitionedRNG hands out isolated, deterministically seeded RNGs per subsystem:
// masterSeed XOR fnv1a64(subsystemName). Drawing from one subsystem never shifts
// another's sequence.
//
// Not safe for concurrent use; scene sources draw from it on the driving goroutine.
type PartitionedRNG struct {
	key        RunKey
	subsystems map[string]*rand.Rand
}

// NewPartitionedRNG creates a PartitionedRNG from a RunKey.
func NewPartitionedRNG(key RunKey) *PartitionedRNG {
	return &PartitionedRNG{
		key:        key,
		subsystems: make(map[string]*rand.Rand),
	}
}

// ForSubsystem returns the cached RNG for name, creating it on first use.
func (p *PartitionedRNG) ForSubsystem(name string) *rand.Rand {
	if rng, ok := p.subsystems[name]; ok {
		return rng
	}
	rng := rand.New(rand.NewSource(int64(p.key) ^ fnv1a64(name)))
	p.subsystems[name] = rng
	return rng
}

func (p *PartitionedRNG) Key() RunKey { return p.key }

func fnv1a64(s string) int64 {
	h := fnv.New64a()
	h.Write([]byte(s))
	return int64(h.Sum64())
}
