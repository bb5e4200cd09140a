package sketch

import (
	"runtime"

	"github.com/samber/lo"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/inference-sim/traffic-sim/sim"
)

// Config selects the ego and bounds predicate evaluation.
type Config struct {
	EgoGroup        string  `yaml:"ego_group"`
	PerceptionRange float64 `yaml:"perception_range"`
	Workers         int     `yaml:"workers"` // 0 = GOMAXPROCS
}

// ConfigFrom derives the sketch configuration from the run configuration.
func ConfigFrom(cfg *sim.RunConfig) Config {
	return Config{EgoGroup: cfg.EgoGroup, PerceptionRange: cfg.PerceptionRange, Workers: cfg.Workers}
}

// Engine evaluates every predicate once per frame and keeps the keyframes for the run.
// Not safe for concurrent UpdateSketch calls; the orchestrator drives it from one goroutine.
type Engine struct {
	store      *sim.Store
	oracle     sim.MapOracle
	cfg        Config
	predicates []predicate
	keyframes  []Keyframe
}

// New binds an engine to the store it observes.
func New(store *sim.Store, oracle sim.MapOracle, cfg Config) *Engine {
	if store == nil || oracle == nil {
		panic("sketch.New: store and oracle are required")
	}
	if cfg.PerceptionRange <= 0 {
		cfg.PerceptionRange = sim.DefaultRunConfig().PerceptionRange
	}
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.GOMAXPROCS(0)
	}
	return &Engine{store: store, oracle: oracle, cfg: cfg, predicates: registry()}
}

var _ sim.SketchEvaluator = (*Engine)(nil)

// UpdateSketch refreshes the ego's neighborhood, records one keyframe and returns the
// number of matched predicates. Without a live reference ego nothing is recorded.
func (e *Engine) UpdateSketch(t float64, snap *sim.WorldSnapshot) int {
	ego, ok := e.store.ReferenceEgo(e.cfg.EgoGroup)
	if !ok || !ego.IsAlive() {
		return 0
	}
	ego.RefreshNeighborhood(e.store, e.cfg.PerceptionRange)

	kf := Keyframe{Time: t, Ego: ego.Kinetics()}
	if snap != nil {
		kf.World = *snap
	}
	ctx := &evalContext{
		ego:    ego,
		center: kf.Ego,
		nb:     ego.Neighborhood(),
		oracle: e.oracle,
		world:  &kf.World,
	}

	slots := make([]*SketchNode, len(e.predicates))
	if ctx.center.Valid {
		var g errgroup.Group
		g.SetLimit(e.cfg.Workers)
		for i, p := range e.predicates {
			g.Go(func() error {
				if n, ok := p.eval(ctx); ok {
					n.Tag = p.tag
					slots[i] = &n
				}
				return nil
			})
		}
		_ = g.Wait()
	}
	for _, n := range slots {
		if n != nil {
			kf.Nodes = append(kf.Nodes, *n)
		}
	}
	e.keyframes = append(e.keyframes, kf)
	if len(kf.Nodes) > 0 {
		logrus.Debugf("[sketch] t=%.3f matched %v", t, kf.Tags())
	}
	return len(kf.Nodes)
}

// SketchVoting returns the most frequent tag over the run; ties go to the lowest ordinal.
// An empty run yields TagDefault.
func (e *Engine) SketchVoting() Tag {
	return Vote(e.keyframes)
}

// Vote tallies every node tag across keyframes.
func Vote(keyframes []Keyframe) Tag {
	counts := make(map[Tag]int)
	for _, kf := range keyframes {
		for tag, n := range lo.CountValues(kf.Tags()) {
			counts[tag] += n
		}
	}
	best, bestN := TagDefault, 0
	for tag := TagDefault; tag < numTags; tag++ {
		if counts[tag] > bestN {
			best, bestN = tag, counts[tag]
		}
	}
	return best
}

// Tally is the per-tag node count over the run, in declaration order, omitting zeros.
func (e *Engine) Tally() []TagCount {
	counts := make([]int, numTags)
	for _, kf := range e.keyframes {
		for _, n := range kf.Nodes {
			counts[n.Tag]++
		}
	}
	var out []TagCount
	for tag, n := range counts {
		if n > 0 {
			out = append(out, TagCount{Tag: Tag(tag), Count: n})
		}
	}
	return out
}

// TagCount pairs a tag with its occurrences.
type TagCount struct {
	Tag   Tag
	Count int
}

// Keyframes returns the recorded keyframes in frame order.
func (e *Engine) Keyframes() []Keyframe {
	return append([]Keyframe(nil), e.keyframes...)
}

// Matches returns the nodes of keyframe i, or nil when i is out of range.
func (e *Engine) Matches(i int) []SketchNode {
	if i < 0 || i >= len(e.keyframes) {
		return nil
	}
	return e.keyframes[i].Nodes
}

// Reset drops every keyframe.
func (e *Engine) Reset() { e.keyframes = nil }
