package trace

// TraceLevel controls the verbosity of run tracing.
type TraceLevel string

const (
	// TraceLevelNone disables tracing (zero overhead).
	TraceLevelNone TraceLevel = "none"
	// TraceLevelFrames captures one FrameRecord per Update.
	TraceLevelFrames TraceLevel = "frames"
	// TraceLevelAudit additionally captures per-vehicle audit records.
	TraceLevelAudit TraceLevel = "audit"
)

// validTraceLevels maps accepted trace level strings.
var validTraceLevels = map[TraceLevel]bool{
	TraceLevelNone:   true,
	TraceLevelFrames: true,
	TraceLevelAudit:  true,
	"":               true, // empty defaults to none
}

// IsValidTraceLevel returns true if the given level string is a recognized trace level.
func IsValidTraceLevel(level string) bool {
	return validTraceLevels[TraceLevel(level)]
}

// TraceConfig controls trace collection behavior.
type TraceConfig struct {
	Level TraceLevel
}

// RunTrace collects frame and audit records during a run.
type RunTrace struct {
	Config TraceConfig
	Frames []FrameRecord
	Audits []AuditRecord
}

// NewRunTrace creates a RunTrace ready for recording.
func NewRunTrace(config TraceConfig) *RunTrace {
	return &RunTrace{
		Config: config,
		Frames: make([]FrameRecord, 0),
		Audits: make([]AuditRecord, 0),
	}
}

// Enabled reports whether frames are recorded at all.
func (rt *RunTrace) Enabled() bool {
	return rt != nil && rt.Config.Level != TraceLevelNone && rt.Config.Level != ""
}

// RecordFrame appends a frame record.
func (rt *RunTrace) RecordFrame(record FrameRecord) {
	rt.Frames = append(rt.Frames, record)
}

// RecordAudit appends audit records, keeping them only at the audit level.
func (rt *RunTrace) RecordAudit(records ...AuditRecord) {
	if rt.Config.Level != TraceLevelAudit {
		return
	}
	rt.Audits = append(rt.Audits, records...)
}
