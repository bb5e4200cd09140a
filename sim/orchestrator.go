package sim

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/inference-sim/traffic-sim/sim/trace"
)

const primaryLayer = "primary"

// SketchEvaluator inspects a completed frame; implemented by sim/sketch.
type SketchEvaluator interface {
	UpdateSketch(t float64, snap *WorldSnapshot) int
}

// Option configures an Orchestrator at construction.
type Option func(*Orchestrator)

// WithSolver replaces the registered dynamics solver.
func WithSolver(s DynamicsSolver) Option {
	return func(o *Orchestrator) { o.solver = s }
}

// WithTrace records one FrameRecord per Update (and audit records at the audit level).
func WithTrace(rt *trace.RunTrace) Option {
	return func(o *Orchestrator) { o.trace = rt }
}

// WithOverlay attaches a shadow layer driven by the same phases after the primary layer.
func WithOverlay(ov *Overlay) Option {
	return func(o *Orchestrator) { o.overlay = ov }
}

// Orchestrator owns the primary layer (and an optional shadow overlay) and drives the
// fixed per-frame pipeline over it. Update must be called from one goroutine.
type Orchestrator struct {
	cfg     *RunConfig
	oracle  MapOracle
	solver  DynamicsSolver
	pool    workerPool
	primary *Layer
	overlay *Overlay
	sketch  SketchEvaluator

	alive     bool
	started   bool
	startTime float64
	prevTime  float64
	frame     int64

	stats   *FrameStats
	metrics *frameMetrics
	trace   *trace.RunTrace
	audit   auditLog
}

// NewOrchestrator resolves the run-wide configuration once. cfg and oracle are required.
func NewOrchestrator(cfg *RunConfig, oracle MapOracle, opts ...Option) *Orchestrator {
	if cfg == nil {
		panic("NewOrchestrator: cfg must not be nil")
	}
	if oracle == nil {
		panic("NewOrchestrator: oracle must not be nil")
	}
	o := &Orchestrator{
		cfg:    cfg,
		oracle: oracle,
		pool:   newWorkerPool(cfg.Workers),
		stats:  newFrameStats(),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.solver == nil {
		o.solver = NewDynamicsSolver()
	}
	fm, err := newFrameMetrics(func() *Store {
		if o.primary == nil {
			return nil
		}
		return o.primary.store
	})
	if err != nil {
		logrus.Warnf("[orchestrator] metrics disabled: %v", err)
	}
	o.metrics = fm
	return o
}

// AttachSketch installs the per-frame scenario evaluator.
func (o *Orchestrator) AttachSketch(s SketchEvaluator) { o.sketch = s }

// Initialize builds the primary layer from scene: egos are generated before everything
// else, then the store initializes. Any failure leaves the orchestrator permanently not
// alive.
func (o *Orchestrator) Initialize(scene SceneSource) error {
	if o.primary != nil {
		return fmt.Errorf("orchestrator already initialized")
	}
	o.primary = newLayer(primaryLayer, scene)
	if err := o.primary.initialize(o.oracle, o.cfg); err != nil {
		logrus.Errorf("[orchestrator] initialize: %v", err)
		return err
	}
	if o.overlay != nil {
		if err := o.overlay.initialize(o.oracle, o.cfg); err != nil {
			logrus.Errorf("[orchestrator] initialize overlay: %v", err)
			return err
		}
	}
	o.stats.Discarded = o.primary.assembler.Discarded()
	o.alive = true
	logrus.Infof("[orchestrator] initialized: %d egos, %d vehicles, %d pedestrians, %d static, %d signals, %d relative",
		len(o.primary.store.Egos()), len(o.primary.store.Vehicles()), len(o.primary.store.Pedestrians()),
		len(o.primary.store.StaticObstacles()), len(o.primary.store.Signals()), len(o.primary.store.RelativeObstacles()))
	return nil
}

// IsAlive reports whether Initialize succeeded.
func (o *Orchestrator) IsAlive() bool { return o.alive }

// Update advances the world to absolute time t. Relative time is measured from the first
// call; the first frame runs no motion. An error is returned only when the orchestrator is
// not alive or a scene mutation aborted the frame; time advances either way.
func (o *Orchestrator) Update(t float64) error {
	if !o.alive {
		return ErrNotAlive
	}
	if !o.started {
		o.started, o.startTime, o.prevTime = true, t, t
	}
	dt := t - o.prevTime
	o.prevTime = t
	o.frame++
	o.stats.Frames++
	start := time.Now()

	err := o.runLayer(o.primary, t, dt)
	if o.overlay != nil {
		o.mirrorEgo()
		if oerr := o.runLayer(o.overlay.Layer, t, dt); oerr != nil {
			logrus.Warnf("%s overlay frame aborted: %v", frameTag(o.frame, o.overlay.name), oerr)
		}
	}
	o.stats.Discarded = o.primary.assembler.Discarded()

	ms := float64(time.Since(start).Microseconds()) / 1000
	o.stats.TotalFrameMs += ms
	if o.metrics != nil {
		o.metrics.frameDuration.Record(context.Background(), ms)
	}
	if err != nil {
		o.stats.AbortedFrames++
	}
	return err
}

func (o *Orchestrator) runLayer(l *Layer, t, dt float64) error {
	r := &frameRun{
		o: o,
		l: l,
		fc: &FrameContext{
			Frame:    o.frame,
			Time:     t,
			RelTime:  t - o.startTime,
			Dt:       dt,
			Config:   o.cfg,
			Oracle:   o.oracle,
			Solver:   o.solver,
			Store:    l.store,
			Kinetics: l.kinetics,
			Events:   l.events,
		},
		rec: trace.FrameRecord{
			Frame:    o.frame,
			Time:     t,
			RelTime:  t - o.startTime,
			PhaseMs:  make(map[string]float64),
			Failures: make(map[string]int),
		},
		tag: frameTag(o.frame, l.name),
	}
	start := time.Now()
	phase, err := r.run()
	if err != nil {
		r.rec.Aborted, r.rec.AbortPhase = true, phase
		logrus.Warnf("%s aborted in %s: %v", r.tag, phase, err)
	} else {
		o.finishFrame(l, r)
	}
	r.rec.Entities = len(l.store.AllEntities())
	r.rec.FrameMs = float64(time.Since(start).Microseconds()) / 1000
	if l == o.primary && o.trace.Enabled() {
		o.trace.RecordFrame(r.rec)
	}
	if err != nil {
		return fmt.Errorf("%s: %w", phase, err)
	}
	return nil
}

// finishFrame captures the frame's world and hands it to the sketch evaluator.
func (o *Orchestrator) finishFrame(l *Layer, r *frameRun) {
	l.snapshot = BuildSnapshot(l.store, o.cfg.EgoGroup, o.frame, r.fc.Time)
	if l != o.primary || o.sketch == nil || !l.snapshot.HasEgo {
		return
	}
	if n := o.sketch.UpdateSketch(r.fc.Time, &l.snapshot); n > 0 {
		logrus.Debugf("%s sketch matched %d tags", r.tag, n)
	}
}

func (o *Orchestrator) Config() *RunConfig { return o.cfg }
func (o *Orchestrator) Oracle() MapOracle  { return o.oracle }
func (o *Orchestrator) Frame() int64       { return o.frame }
func (o *Orchestrator) Stats() *FrameStats { return o.stats }
func (o *Orchestrator) Overlay() *Overlay  { return o.overlay }
func (o *Orchestrator) Primary() *Layer    { return o.primary }

// Store is the primary layer's store; nil before Initialize.
func (o *Orchestrator) Store() *Store {
	if o.primary == nil {
		return nil
	}
	return o.primary.store
}

// RelativeTime is the time since the first Update.
func (o *Orchestrator) RelativeTime() float64 { return o.prevTime - o.startTime }

// Snapshot is the unfiltered world of the last completed frame.
func (o *Orchestrator) Snapshot() WorldSnapshot {
	if o.primary == nil {
		return WorldSnapshot{}
	}
	return o.primary.snapshot
}

// VisionSnapshot is Snapshot passed through the configured vision filter around the ego.
func (o *Orchestrator) VisionSnapshot() WorldSnapshot {
	return o.Snapshot().FilterAroundEgo(o.cfg.VisionFilter)
}

// AuditDump is the id-sorted audit log of every frame so far.
func (o *Orchestrator) AuditDump() string { return o.audit.String() }

// InjectEgoPose queues an external pose for the reference ego's next Update.
func (o *Orchestrator) InjectEgoPose(p Pose) error {
	if o.primary == nil {
		return ErrNotAlive
	}
	ego, ok := o.primary.store.ReferenceEgo(o.cfg.EgoGroup)
	if !ok {
		return ErrNoEgo
	}
	ego.InjectPose(p)
	return nil
}
