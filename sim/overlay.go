package sim

import "github.com/paulmach/orb/planar"

// shadowLayer names the overlay layer in logs.
const shadowLayer = "shadow"

// Overlay is a non-authoritative shadow world: its own (Store, Assembler) pair, usually
// built from recorded trajectories, driven by the same phases right after the primary
// layer. Each frame its reference ego takes the primary ego's settled pose so the shadow
// tracks the live run.
type Overlay struct {
	*Layer
	mirror bool
}

// NewOverlay creates a shadow layer over source. It is initialized together with the
// orchestrator it is attached to.
func NewOverlay(source SceneSource) *Overlay {
	return &Overlay{Layer: newLayer(shadowLayer, source), mirror: true}
}

// SetMirror turns ego pose mirroring on or off.
func (ov *Overlay) SetMirror(on bool) { ov.mirror = on }

// ShadowSnapshot is the overlay's world as of the last completed frame.
func (ov *Overlay) ShadowSnapshot() WorldSnapshot { return ov.snapshot }

func (o *Orchestrator) mirrorEgo() {
	if !o.overlay.mirror {
		return
	}
	live, ok := o.primary.store.ReferenceEgo(o.cfg.EgoGroup)
	if !ok {
		return
	}
	shadow, ok := o.overlay.store.ReferenceEgo(o.cfg.EgoGroup)
	if !ok {
		return
	}
	k, ok := live.ReferenceKinetics()
	if !ok {
		return
	}
	shadow.InjectPose(Pose{Position: k.Position, Z: k.Z, Heading: k.Heading, Speed: k.Speed, Accel: k.Accel})
}

// Divergence is the mean planar distance between same-id vehicles of the primary and
// shadow snapshots, and the number of vehicles compared. Vehicles present in only one
// layer are not compared.
func Divergence(primary, shadow WorldSnapshot) (float64, int) {
	total, n := 0.0, 0
	for _, c := range primary.Cars {
		if c.Ref.Kind != KindVehicle {
			continue
		}
		s, ok := shadow.Car(c.ID)
		if !ok || s.Ref.Kind != KindVehicle {
			continue
		}
		total += planar.Distance(c.Position, s.Position)
		n++
	}
	if n == 0 {
		return 0, 0
	}
	return total / float64(n), n
}

// Divergence compares the primary world against the attached overlay.
func (o *Orchestrator) Divergence() (float64, int) {
	if o.overlay == nil {
		return 0, 0
	}
	return Divergence(o.Snapshot(), o.overlay.snapshot)
}
