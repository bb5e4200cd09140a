package sim

import (
	"fmt"
	"math"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/inference-sim/traffic-sim/sim/trace"
)

// Phase names, as they appear in logs, metrics and frame records.
const (
	PhaseSpawn       = "spawn"
	PhaseSignals     = "signals"
	PhaseLifecycle   = "lifecycle"
	PhaseAudit       = "audit"
	PhasePerceive    = "perceive"
	PhasePreUpdate   = "preupdate"
	PhaseSimulate    = "simulate"
	PhasePostUpdate  = "postupdate"
	PhaseBroadcast   = "broadcast"
	PhaseExternal    = "external"
	PhaseFCW         = "fcw"
	PhasePedestrians = "pedestrians"
	PhaseObstacles   = "obstacles"
	PhaseEvents      = "events"
	PhaseChange      = "change"
	PhaseCompact     = "compact"
)

// frameRun is one layer's pass through the pipeline for one frame.
type frameRun struct {
	o   *Orchestrator
	l   *Layer
	fc  *FrameContext
	rec trace.FrameRecord
	tag string
}

func (r *frameRun) timed(phase string, fn func()) {
	start := time.Now()
	fn()
	ms := float64(time.Since(start).Microseconds()) / 1000
	r.rec.PhaseMs[phase] += ms
	if r.o.metrics != nil {
		r.o.metrics.phase(phase, ms)
	}
}

// report logs per-entity failures of a best-effort phase in collection order and counts them.
func report[T Entity](r *frameRun, phase string, items []T, errs []error) {
	n := 0
	for i, err := range errs {
		if err == nil {
			continue
		}
		n++
		e := items[i]
		logrus.Warnf("%s %s: %s %d (sys %d): %v", r.tag, phase, e.Kind(), e.ID(), e.SysID(), err)
	}
	if n == 0 {
		return
	}
	r.rec.Failures[phase] += n
	if !r.primary() {
		return
	}
	r.o.stats.EntityFailures[phase] += n
	if r.o.metrics != nil {
		r.o.metrics.failed(phase, n)
	}
}

// primary reports whether the run drives the authoritative layer. Only that layer feeds
// FrameStats and the entity counters.
func (r *frameRun) primary() bool { return r.l == r.o.primary }

// run executes the fixed pipeline. It returns the aborting phase and its error when a
// scene mutation fails; every other failure is logged and counted.
func (r *frameRun) run() (string, error) {
	var err error
	r.timed(PhaseSpawn, func() { err = r.l.assembler.DynamicGenerateScene(r.l.store, r.fc.Time) })
	if err != nil {
		return PhaseSpawn, err
	}

	r.timed(PhaseSignals, r.updateSignals)
	r.timed(PhaseLifecycle, r.checkLifecycle)
	if r.o.cfg.Audit {
		r.timed(PhaseAudit, r.snapshotAudit)
	}
	r.timed(PhasePerceive, r.perceive)

	if r.fc.RelTime > 0 {
		r.simulate()
	}

	r.timed(PhaseChange, func() { err = r.l.assembler.DynamicChangeScene(r.l.store, r.fc.Time) })
	if err != nil {
		return PhaseChange, err
	}

	r.timed(PhaseCompact, func() {
		removed := r.l.store.Compact(r.fc.Time, r.o.cfg.StallPolicy)
		r.rec.Removed = removed
		if !r.primary() {
			return
		}
		r.o.stats.Removed += removed
		if removed > 0 && r.o.metrics != nil {
			r.o.metrics.compacted(removed)
		}
	})
	return "", nil
}

// simulate is phase 6: the sub-phases that run only once relative time has advanced.
func (r *frameRun) simulate() {
	r.timed(PhasePreUpdate, r.preUpdate)
	r.timed(PhaseSimulate, r.update)
	r.timed(PhasePostUpdate, r.postUpdate)

	ref, hasEgo := r.l.store.ReferenceEgo(r.o.cfg.EgoGroup)
	var egoK Kinetics
	if hasEgo {
		egoK, hasEgo = ref.ReferenceKinetics()
	}
	if hasEgo {
		r.timed(PhaseBroadcast, func() { r.broadcast(egoK) })
		r.timed(PhaseExternal, func() { r.externalInfo(ref) })
		r.timed(PhaseFCW, func() { r.forwardCollision(egoK) })
	}
	r.timed(PhasePedestrians, r.updatePedestrians)
	r.timed(PhaseObstacles, r.updateObstacles)
	r.timed(PhaseEvents, r.flushEvents)
}

func (r *frameRun) updateSignals() {
	signals := r.l.store.Signals()
	report(r, PhaseSignals, signals, parallelEach(r.o.pool, signals, func(s *SignalLight) error {
		return s.Update(r.fc)
	}))
}

// checkLifecycle mutates only per-entity lifecycle state, never a collection.
func (r *frameRun) checkLifecycle() {
	t := r.fc.Time
	check := func(e Entity) error {
		e.CheckStart(t)
		e.CheckEnd(t)
		return nil
	}
	parallelEach(r.o.pool, r.l.store.AllEntities(), check)
	parallelEach(r.o.pool, r.l.store.RelativeObstacles(), func(o *DynamicFollowerObstacle) error {
		return check(o)
	})
}

func (r *frameRun) snapshotAudit() {
	parallelEach(r.o.pool, r.l.store.Vehicles(), func(v *Vehicle) error {
		v.snapshotAudit()
		return nil
	})
}

// perceive indexes lane occupancy from stable state, then lets egos and vehicles refresh
// their own neighbor awareness.
func (r *frameRun) perceive() {
	r.l.store.RebuildLaneIndex()
	egos := r.l.store.Egos()
	report(r, PhasePerceive, egos, sequentialEach(egos, func(e *Ego) error {
		if !e.IsAlive() {
			return nil
		}
		return e.Perceive(r.fc)
	}))
	vehicles := r.l.store.Vehicles()
	report(r, PhasePerceive, vehicles, parallelEach(r.o.pool, vehicles, func(v *Vehicle) error {
		return v.Perceive(r.fc)
	}))
}

// preUpdate fills the frame's kinetics map: every ego before any vehicle, so the map
// already holds the ego entries when vehicles read it.
func (r *frameRun) preUpdate() {
	r.fc.Kinetics.reset()
	egos := r.l.store.Egos()
	report(r, PhasePreUpdate, egos, sequentialEach(egos, func(e *Ego) error { return e.PreUpdate(r.fc) }))
	vehicles := r.l.store.Vehicles()
	report(r, PhasePreUpdate, vehicles, sequentialEach(vehicles, func(v *Vehicle) error { return v.PreUpdate(r.fc) }))
}

func (r *frameRun) update() {
	egos := r.l.store.Egos()
	report(r, PhaseSimulate, egos, sequentialEach(egos, func(e *Ego) error { return e.Update(r.fc) }))
	vehicles := r.l.store.Vehicles()
	report(r, PhaseSimulate, vehicles, parallelEach(r.o.pool, vehicles, func(v *Vehicle) error { return v.Update(r.fc) }))
}

func (r *frameRun) postUpdate() {
	egos := r.l.store.Egos()
	report(r, PhasePostUpdate, egos, sequentialEach(egos, func(e *Ego) error { return e.PostUpdate(r.fc) }))
	vehicles := r.l.store.Vehicles()
	report(r, PhasePostUpdate, vehicles, parallelEach(r.o.pool, vehicles, func(v *Vehicle) error { return v.PostUpdate(r.fc) }))
	if r.o.cfg.Audit && r.primary() {
		records := r.o.audit.dump(r.fc.Frame, vehicles)
		if r.o.trace.Enabled() {
			r.o.trace.RecordAudit(records...)
		}
	}
}

func (r *frameRun) broadcast(ref Kinetics) {
	parallelEach(r.o.pool, r.l.store.Vehicles(), func(v *Vehicle) error {
		v.ReceiveReference(ref)
		return nil
	})
	parallelEach(r.o.pool, r.l.store.Pedestrians(), func(p *Pedestrian) error {
		p.ReceiveReference(ref)
		return nil
	})
}

// externalInfo clears every vehicle's mark and then, from the ego's settled lane, marks
// exactly the vehicle found directly ahead and the one directly behind.
func (r *frameRun) externalInfo(ego *Ego) {
	vehicles := r.l.store.Vehicles()
	parallelEach(r.o.pool, vehicles, func(v *Vehicle) error {
		v.ClearExternalInfo()
		return nil
	})
	r.l.store.RebuildLaneIndex()
	lane, ok := ego.CurrentLaneInfo()
	if !ok {
		return
	}
	isVehicle := func(o LaneOccupant) bool { return o.Ref.Kind == KindVehicle }
	index, s := r.l.store.LaneIndex(), ego.stable.loc.S
	if occ, gap, found := index.AheadMatching(r.fc.Oracle, lane, s, ego.sysID, isVehicle); found {
		r.markExternal(occ, ExternalInfo{Set: true, Relation: RelationFront, Gap: gap})
	}
	if occ, gap, found := index.Behind(r.fc.Oracle, lane, s, ego.sysID, isVehicle); found {
		r.markExternal(occ, ExternalInfo{Set: true, Relation: RelationRear, Gap: gap})
	}
}

func (r *frameRun) markExternal(occ LaneOccupant, info ExternalInfo) {
	if v, ok := r.l.store.Vehicle(occ.Ref.ID); ok {
		v.SetExternalInfo(info)
	}
}

func (r *frameRun) forwardCollision(ego Kinetics) {
	cfg := r.o.cfg.FCW
	vehicles := r.l.store.Vehicles()
	parallelEach(r.o.pool, vehicles, func(v *Vehicle) error {
		if !v.IsAlive() || v.EgoDistance() > cfg.Radius {
			v.fcwWarning, v.ttc = false, math.Inf(1)
			return nil
		}
		v.evaluateFCW(ego, cfg.TTCThreshold)
		return nil
	})
	if !r.primary() {
		return
	}
	for _, v := range vehicles {
		if v.fcwWarning {
			r.o.stats.FCWWarnings++
		}
	}
}

func (r *frameRun) updatePedestrians() {
	peds := r.l.store.Pedestrians()
	report(r, PhasePedestrians, peds, parallelEach(r.o.pool, peds, func(p *Pedestrian) error {
		return p.Update(r.fc)
	}))
}

// updateObstacles is sequential. Relative-trajectory obstacles look their referent up
// again every frame.
func (r *frameRun) updateObstacles() {
	static := r.l.store.StaticObstacles()
	report(r, PhaseObstacles, static, sequentialEach(static, func(o *StaticObstacle) error { return o.Update(r.fc) }))
	rel := r.l.store.RelativeObstacles()
	report(r, PhaseObstacles, rel, sequentialEach(rel, func(o *DynamicFollowerObstacle) error { return o.Update(r.fc) }))
}

func (r *frameRun) flushEvents() {
	for _, e := range r.l.store.Egos() {
		if e.IsAlive() {
			r.l.events.DispatchEgo(e, r.fc.RelTime)
		}
	}
	if _, failed := r.l.events.Flush(r.l.store); failed > 0 {
		r.rec.Failures[PhaseEvents] += failed
		if !r.primary() {
			return
		}
		r.o.stats.EntityFailures[PhaseEvents] += failed
		if r.o.metrics != nil {
			r.o.metrics.failed(PhaseEvents, failed)
		}
	}
}

func frameTag(frame int64, layer string) string {
	if layer == primaryLayer {
		return fmt.Sprintf("[frame %07d]", frame)
	}
	return fmt.Sprintf("[frame %07d %s]", frame, layer)
}
