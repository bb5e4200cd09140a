package sim

import (
	"context"
	"fmt"
	"sort"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/inference-sim/traffic-sim/sim"

func meter() metric.Meter {
	return otel.Meter(instrumentationName)
}

// frameMetrics are the OTel instruments of one orchestrator. They record into the global
// meter provider, which is a no-op unless the host installs one.
type frameMetrics struct {
	frameDuration metric.Float64Histogram
	phaseDuration metric.Float64Histogram
	failures      metric.Int64Counter
	removed       metric.Int64Counter
	entities      metric.Int64ObservableGauge
}

func newFrameMetrics(store func() *Store) (*frameMetrics, error) {
	m := meter()
	fm := &frameMetrics{}
	var err error

	fm.frameDuration, err = m.Float64Histogram(
		"trafficsim.frame.duration",
		metric.WithDescription("Wall-clock time of one orchestrator Update"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating frame duration histogram: %w", err)
	}

	fm.phaseDuration, err = m.Float64Histogram(
		"trafficsim.phase.duration",
		metric.WithDescription("Wall-clock time of one pipeline phase"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating phase duration histogram: %w", err)
	}

	fm.failures, err = m.Int64Counter(
		"trafficsim.entity.failures",
		metric.WithDescription("Per-entity failures inside best-effort phases"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating failure counter: %w", err)
	}

	fm.removed, err = m.Int64Counter(
		"trafficsim.entities.removed",
		metric.WithDescription("Entities removed by compaction"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating removed counter: %w", err)
	}

	fm.entities, err = m.Int64ObservableGauge(
		"trafficsim.entities.current",
		metric.WithDescription("Entities in the flattened view"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating entity gauge: %w", err)
	}
	_, err = m.RegisterCallback(
		func(_ context.Context, o metric.Observer) error {
			if s := store(); s != nil {
				o.ObserveInt64(fm.entities, int64(len(s.AllEntities())))
			}
			return nil
		},
		fm.entities,
	)
	if err != nil {
		return nil, fmt.Errorf("registering entity callback: %w", err)
	}
	return fm, nil
}

func (fm *frameMetrics) phase(name string, ms float64) {
	fm.phaseDuration.Record(context.Background(), ms, metric.WithAttributes(attribute.String("phase", name)))
}

func (fm *frameMetrics) failed(name string, n int) {
	fm.failures.Add(context.Background(), int64(n), metric.WithAttributes(attribute.String("phase", name)))
}

func (fm *frameMetrics) compacted(n int) {
	fm.removed.Add(context.Background(), int64(n))
}

// FrameStats aggregates run statistics for final reporting.
type FrameStats struct {
	Frames         int64          // Update calls on an alive orchestrator
	AbortedFrames  int64          // frames cut short by a scene mutation failure
	EntityFailures map[string]int // per-entity failures by phase
	Removed        int            // entities compacted out
	FCWWarnings    int            // vehicle-frames with an active forward-collision warning
	Discarded      int            // entity spawns dropped by the assembler
	TotalFrameMs   float64
}

func newFrameStats() *FrameStats {
	return &FrameStats{EntityFailures: make(map[string]int)}
}

// Failures is the total number of per-entity failures.
func (s *FrameStats) Failures() int {
	n := 0
	for _, c := range s.EntityFailures {
		n += c
	}
	return n
}

// Print displays aggregated statistics at the end of a run.
func (s *FrameStats) Print() {
	fmt.Println("=== Simulation Metrics ===")
	fmt.Printf("Frames               : %d\n", s.Frames)
	fmt.Printf("Aborted Frames       : %d\n", s.AbortedFrames)
	fmt.Printf("Removed Entities     : %d\n", s.Removed)
	fmt.Printf("Discarded Spawns     : %d\n", s.Discarded)
	fmt.Printf("FCW Warnings         : %d\n", s.FCWWarnings)
	if s.Frames > 0 {
		fmt.Printf("Average Frame Time   : %.3f ms\n", s.TotalFrameMs/float64(s.Frames))
	}
	if len(s.EntityFailures) > 0 {
		phases := make([]string, 0, len(s.EntityFailures))
		for p := range s.EntityFailures {
			phases = append(phases, p)
		}
		sort.Strings(phases)
		fmt.Println("Entity Failures      :")
		for _, p := range phases {
			fmt.Printf("  %-18s : %d\n", p, s.EntityFailures[p])
		}
	}
}
