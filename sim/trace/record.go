// Package trace records what happened during a run: one FrameRecord per orchestrator
// Update and, when auditing, pre/post kinematic state per vehicle.
// This package has no dependencies on sim/; it stores pure data types.
package trace

import "fmt"

// FrameRecord captures one Update call.
type FrameRecord struct {
	Frame      int64
	Time       float64
	RelTime    float64
	Aborted    bool
	AbortPhase string             // phase that aborted the frame (empty if none)
	PhaseMs    map[string]float64 // wall-clock time spent per phase
	Failures   map[string]int     // per-entity failures per best-effort phase
	Removed    int                // entities compacted out at the end of the frame
	Entities   int                // size of the flattened view after compaction
	FrameMs    float64
}

// AuditRecord is one vehicle's state before and after a frame.
type AuditRecord struct {
	Frame     int64
	ID        int
	SysID     int
	PreX      float64
	PreY      float64
	PreSpeed  float64
	PreAccel  float64
	PostX     float64
	PostY     float64
	PostSpeed float64
	PostAccel float64
	Lane      string
}

// Format renders the record at fixed precision so dumps compare byte for byte.
func (r AuditRecord) Format() string {
	return fmt.Sprintf("%07d id=%d sys=%d pre=(%.4f,%.4f) v=%.4f a=%.4f post=(%.4f,%.4f) v=%.4f a=%.4f lane=%s",
		r.Frame, r.ID, r.SysID,
		r.PreX, r.PreY, r.PreSpeed, r.PreAccel,
		r.PostX, r.PostY, r.PostSpeed, r.PostAccel,
		r.Lane)
}
