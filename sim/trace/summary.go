package trace

// RunSummary aggregates statistics from a RunTrace.
type RunSummary struct {
	Frames          int
	AbortedFrames   int
	TotalFailures   int
	FailuresByPhase map[string]int
	Removed         int
	MeanFrameMs     float64
	MaxFrameMs      float64
	AuditRecords    int
}

// Summarize computes aggregate statistics from a RunTrace.
// Safe for nil or empty traces (returns zero-value fields).
func Summarize(rt *RunTrace) *RunSummary {
	summary := &RunSummary{
		FailuresByPhase: make(map[string]int),
	}
	if rt == nil {
		return summary
	}

	summary.Frames = len(rt.Frames)
	summary.AuditRecords = len(rt.Audits)
	total := 0.0
	for _, f := range rt.Frames {
		if f.Aborted {
			summary.AbortedFrames++
		}
		for phase, n := range f.Failures {
			summary.FailuresByPhase[phase] += n
			summary.TotalFailures += n
		}
		summary.Removed += f.Removed
		total += f.FrameMs
		if f.FrameMs > summary.MaxFrameMs {
			summary.MaxFrameMs = f.FrameMs
		}
	}
	if len(rt.Frames) > 0 {
		summary.MeanFrameMs = total / float64(len(rt.Frames))
	}

	return summary
}
