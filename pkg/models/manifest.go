package models

import (
	"sync"
	"time"
)

// ManifestSchemaVersion identifies the manifest JSON layout. A re-run
// produces a new manifest, never an edit of an existing one.
const ManifestSchemaVersion = "kpicore.manifest.v1"

// MetricStatus describes the outcome of one metric computation.
type MetricStatus string

const (
	MetricStatusOK              MetricStatus = "ok"
	MetricStatusError           MetricStatus = "error"
	MetricStatusZeroDenominator MetricStatus = "zero_denominator"
)

// MetricContext carries the audit context recorded with every result.
type MetricContext struct {
	Formula       string    `json:"formula"`
	RowsProcessed int       `json:"rows_processed"`
	NullCount     int       `json:"null_count"`
	ComputedAt    time.Time `json:"computed_at"`
	Reason        string    `json:"reason,omitempty"`
}

// MetricResult is one computed metric value. Never mutated after creation.
type MetricResult struct {
	MetricName string        `json:"name"`
	Value      float64       `json:"value"`
	Status     MetricStatus  `json:"status"`
	Context    MetricContext `json:"context"`
}

// AuditEntry is one append-only event in a run's audit trail. Timestamps
// are monotonically non-decreasing within a run.
type AuditEntry struct {
	RunID     string                 `json:"run_id"`
	Phase     string                 `json:"phase"`
	Event     string                 `json:"event"`
	Status    string                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Details   map[string]interface{} `json:"details,omitempty"`
}

// FindingCategory classifies a data quality finding.
type FindingCategory string

const (
	FindingCritical FindingCategory = "critical"
	FindingWarning  FindingCategory = "warning"
	FindingInfo     FindingCategory = "info"
)

// DataQualityFinding is one rule violation discovered by the reporter.
type DataQualityFinding struct {
	Category       FindingCategory `json:"category"`
	Rule           string          `json:"rule"`
	Message        string          `json:"message"`
	ScoreDeduction float64         `json:"score_deduction"`
}

// DataQualityReport aggregates findings into a single [0,100] score.
type DataQualityReport struct {
	Score    float64              `json:"score"`
	Findings []DataQualityFinding `json:"findings"`
}

// SinkResult records the outcome of one best-effort sink write.
type SinkResult struct {
	Status string `json:"status"`
	Detail string `json:"detail,omitempty"`
}

const (
	SinkStatusOK       = "ok"
	SinkStatusFailed   = "failed"
	SinkStatusDisabled = "disabled"
)

// RunManifest is the terminal, immutable record of one pipeline execution,
// linking input to output via content checksums.
type RunManifest struct {
	RunID          string                `json:"run_id"`
	SchemaVersion  string                `json:"schema_version"`
	InputChecksum  string                `json:"input_checksum"`
	OutputChecksum string                `json:"output_checksum"`
	Metrics        []MetricResult        `json:"metrics"`
	QualityReport  *DataQualityReport    `json:"quality_report"`
	AuditTrail     []AuditEntry          `json:"audit_trail"`
	SinkResults    map[string]SinkResult `json:"sink_results"`
	CreatedAt      time.Time             `json:"created_at"`
}

// RunContext carries the run identity and the growing audit trail through
// every phase call. There is no process-wide pipeline state.
type RunContext struct {
	RunID     string
	StartedAt time.Time

	mu      sync.Mutex
	entries []AuditEntry
}

// NewRunContext creates a run context for one pipeline execution.
func NewRunContext(runID string) *RunContext {
	return &RunContext{
		RunID:     runID,
		StartedAt: time.Now().UTC(),
	}
}

// Audit appends one entry to the run's audit trail.
func (rc *RunContext) Audit(phase, event, status string, details map[string]interface{}) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.entries = append(rc.entries, AuditEntry{
		RunID:     rc.RunID,
		Phase:     phase,
		Event:     event,
		Status:    status,
		Timestamp: time.Now().UTC(),
		Details:   details,
	})
}

// Trail returns a copy of the audit trail accumulated so far.
func (rc *RunContext) Trail() []AuditEntry {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	out := make([]AuditEntry, len(rc.entries))
	copy(out, rc.entries)
	return out
}
