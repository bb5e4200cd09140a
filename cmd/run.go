package cmd

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"

	"github.com/inference-sim/traffic-sim/sim"
	_ "github.com/inference-sim/traffic-sim/sim/dynamics"
	"github.com/inference-sim/traffic-sim/sim/scene"
	"github.com/inference-sim/traffic-sim/sim/sketch"
	"github.com/inference-sim/traffic-sim/sim/trace"
)

// options is the resolved command line of one run.
type options struct {
	ScenePath  string
	ConfigPath string
	Frames     int
	Dt         float64
	Start      float64
	Workers    int
	EgoGroup   string
	Shadow     bool
	Audit      bool
	Sketch     bool
	TraceLevel string
	LogLevel   string
}

func resolveOptions(flags *pflag.FlagSet) (options, error) {
	v, err := newViper(flags)
	if err != nil {
		return options{}, err
	}
	opts := options{
		ScenePath:  v.GetString("scene"),
		ConfigPath: v.GetString("config"),
		Frames:     v.GetInt("frames"),
		Dt:         v.GetFloat64("dt"),
		Start:      v.GetFloat64("start"),
		Workers:    v.GetInt("workers"),
		EgoGroup:   v.GetString("ego-group"),
		Shadow:     v.GetBool("shadow"),
		Audit:      v.GetBool("audit"),
		Sketch:     v.GetBool("sketch"),
		TraceLevel: v.GetString("trace"),
		LogLevel:   v.GetString("log"),
	}
	if opts.TraceLevel == "" {
		opts.TraceLevel = string(trace.TraceLevelNone)
	}
	return opts, opts.validate()
}

func (o options) validate() error {
	if o.ScenePath == "" {
		return fmt.Errorf("--scene is required")
	}
	if o.Frames <= 0 {
		return fmt.Errorf("--frames must be positive, got %d", o.Frames)
	}
	if o.Dt <= 0 {
		return fmt.Errorf("--dt must be positive, got %f", o.Dt)
	}
	if !trace.IsValidTraceLevel(o.TraceLevel) {
		return fmt.Errorf("unknown trace level %q; valid: none, frames, audit", o.TraceLevel)
	}
	if _, err := logrus.ParseLevel(o.LogLevel); err != nil {
		return fmt.Errorf("invalid log level %q", o.LogLevel)
	}
	return nil
}

// runConfig loads the run configuration and applies the command-line overrides.
func (o options) runConfig() (*sim.RunConfig, error) {
	cfg := sim.DefaultRunConfig()
	if o.ConfigPath != "" {
		loaded, err := sim.LoadRunConfig(o.ConfigPath)
		if err != nil {
			return nil, err
		}
		cfg = *loaded
	}
	if o.Workers >= 0 {
		cfg.Workers = o.Workers
	}
	if o.EgoGroup != "" {
		cfg.EgoGroup = o.EgoGroup
	}
	cfg.Audit = cfg.Audit || o.Audit
	cfg.Sketch = cfg.Sketch || o.Sketch
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("run config: %w", err)
	}
	return &cfg, nil
}

// result is what a run reports.
type result struct {
	opts     options
	cfg      *sim.RunConfig
	stats    *sim.FrameStats
	summary  *trace.RunSummary
	tally    []sketch.TagCount
	Dominant sketch.Tag
	audit    string
	elapsed  time.Duration
	diverge  float64
	compared int
}

func runScene(opts options) (*result, error) {
	level, _ := logrus.ParseLevel(opts.LogLevel)
	logrus.SetLevel(level)

	cfg, err := opts.runConfig()
	if err != nil {
		return nil, err
	}
	file, err := scene.Load(opts.ScenePath)
	if err != nil {
		return nil, err
	}
	src, err := scene.New(file)
	if err != nil {
		return nil, err
	}

	rt := trace.NewRunTrace(trace.TraceConfig{Level: trace.TraceLevel(opts.TraceLevel)})
	simOpts := []sim.Option{sim.WithTrace(rt)}
	if shadow, ok := src.Shadow(); ok && opts.Shadow {
		simOpts = append(simOpts, sim.WithOverlay(sim.NewOverlay(shadow)))
	}
	orch := sim.NewOrchestrator(cfg, src.Road(), simOpts...)
	if err := orch.Initialize(src); err != nil {
		return nil, fmt.Errorf("initializing %s: %w", opts.ScenePath, err)
	}

	var engine *sketch.Engine
	if cfg.Sketch {
		engine = sketch.New(orch.Store(), src.Road(), sketch.ConfigFrom(cfg))
		orch.AttachSketch(engine)
	}

	logrus.Infof("Starting run of %s: %d frames, dt=%.3fs, workers=%d", opts.ScenePath, opts.Frames, opts.Dt, cfg.Workers)
	started := time.Now()
	for i := 0; i < opts.Frames; i++ {
		t := opts.Start + float64(i)*opts.Dt
		if err := orch.Update(t); err != nil {
			logrus.Warnf("[run] frame %d at t=%.3f: %v", i+1, t, err)
		}
	}

	res := &result{
		opts:    opts,
		cfg:     cfg,
		stats:   orch.Stats(),
		summary: trace.Summarize(rt),
		audit:   orch.AuditDump(),
		elapsed: time.Since(started),
	}
	res.diverge, res.compared = orch.Divergence()
	if engine != nil {
		res.tally = engine.Tally()
		res.Dominant = engine.SketchVoting()
	}
	return res, nil
}

// Print displays the run statistics, the sketch tally and the dominant tag.
func (r *result) Print() {
	r.stats.Print()
	fmt.Printf("Wall Time            : %s\n", r.elapsed.Round(time.Millisecond))
	if r.summary.Frames > 0 {
		fmt.Printf("Traced Frames        : %d (mean %.3f ms, max %.3f ms)\n", r.summary.Frames, r.summary.MeanFrameMs, r.summary.MaxFrameMs)
	}
	if r.compared > 0 {
		fmt.Printf("Shadow Divergence    : %.3f m over %d vehicles\n", r.diverge, r.compared)
	}
	if r.cfg.Sketch {
		fmt.Println("=== Scenario Sketch ===")
		for _, tc := range r.tally {
			fmt.Printf("  %-30s : %d\n", tc.Tag, tc.Count)
		}
		fmt.Printf("Dominant Scenario    : %s\n", r.Dominant)
	}
	if r.cfg.Audit && r.audit != "" {
		fmt.Println("=== Audit ===")
		fmt.Print(r.audit)
	}
}
