package orchestrator

import (
	"time"

	"github.com/mitchellh/mapstructure"
)

// State is one symbol of the pipeline's finite state machine alphabet.
type State string

const (
	StateIdle           State = "idle"
	StatePlanning       State = "planning"
	StateImplementing   State = "implementing"
	StateQA             State = "qa"
	StateDeploying      State = "deploying"
	StateComplete       State = "complete"
	StateFailed         State = "failed"
	StatePaused         State = "paused"
	StateAwaitingManual State = "awaiting_manual"
)

// Phase is a named stage of the pipeline with a corresponding active state.
type Phase string

const (
	PhasePlanning     Phase = "planning"
	PhaseImplementing Phase = "implementing"
	PhaseQA           Phase = "qa"
	PhaseDeploying    Phase = "deploying"
)

// PhaseCompleteResult is the payload an agent job reports back through
// onPhaseComplete.
type PhaseCompleteResult struct {
	// Rework, only meaningful when Phase == PhaseQA, routes back to
	// implementing instead of advancing to deploying.
	Rework bool
	Output map[string]any
}

// PhaseOutput is the well-known shape of a completed phase's freeform
// Output map. Only fields an agent actually populated survive decoding;
// everything else in Output is left untouched.
type PhaseOutput struct {
	Notes      string   `mapstructure:"notes"`
	Artifacts  []string `mapstructure:"artifacts"`
	QAFindings []string `mapstructure:"qa_findings"`
}

// DecodeMetadata decodes a freeform metadata map into out, tolerating the
// same type looseness the YAML config boundary does: a bare string stands
// in for a one-element slice, and numeric strings coerce to their numeric
// field. Mirrors the decode settings the orchestrator's own config loader
// uses for its YAML-sourced maps.
func DecodeMetadata(meta map[string]any, out any) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		TagName:          "mapstructure",
		WeaklyTypedInput: true,
		DecodeHook:       mapstructure.StringToSliceHookFunc(","),
	})
	if err != nil {
		return err
	}
	return decoder.Decode(meta)
}

// normalizePhaseOutput decodes raw into PhaseOutput and writes back the
// coerced values (e.g. a comma-separated artifacts string becomes a proper
// slice) so what gets journalled is consistently typed, regardless of how
// loosely the reporting agent populated it. Returns raw unchanged if it
// doesn't decode as a PhaseOutput at all.
func normalizePhaseOutput(raw map[string]any) map[string]any {
	if raw == nil {
		return nil
	}
	var decoded PhaseOutput
	if err := DecodeMetadata(raw, &decoded); err != nil {
		return raw
	}

	normalized := make(map[string]any, len(raw))
	for k, v := range raw {
		normalized[k] = v
	}
	if decoded.Notes != "" {
		normalized["notes"] = decoded.Notes
	}
	if len(decoded.Artifacts) > 0 {
		normalized["artifacts"] = decoded.Artifacts
	}
	if len(decoded.QAFindings) > 0 {
		normalized["qa_findings"] = decoded.QAFindings
	}
	return normalized
}

// PipelineContext is the hot, single-source-of-truth record for a live
// pipeline (C1). At most one exists per projectId at any time.
type PipelineContext struct {
	ProjectID   string
	WorkspaceID string
	WorkflowID  string

	CurrentState  State
	PreviousState State // empty only on the initial row

	StateEnteredAt time.Time

	ActiveAgentID   string
	ActiveAgentType string

	CurrentStoryID string

	RetryCount int
	MaxRetries int

	Metadata map[string]any

	// TraceID is the trace ID of the span that started this run, when
	// tracing is enabled. History and recovery rows do not carry it. Purely
	// observational; absence never affects FSM behavior.
	TraceID string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Clone returns a deep-enough copy safe to hand to a caller without risking
// aliasing the store's internal map/slice fields.
func (c *PipelineContext) Clone() *PipelineContext {
	if c == nil {
		return nil
	}
	cp := *c
	if c.Metadata != nil {
		cp.Metadata = make(map[string]any, len(c.Metadata))
		for k, v := range c.Metadata {
			cp.Metadata[k] = v
		}
	}
	return &cp
}

// IsActive reports whether s is one of the non-terminal states (including
// paused and awaiting_manual).
func IsActive(s State) bool {
	return !IsTerminal(s)
}

// IsTerminal reports whether s is complete or failed.
func IsTerminal(s State) bool {
	return s == StateComplete || s == StateFailed
}

// StateHistoryEntry is an immutable row in the append-only history journal
// (C2).
type StateHistoryEntry struct {
	ID            string
	ProjectID     string
	WorkspaceID   string
	WorkflowID    string
	PreviousState State
	NewState      State
	TriggeredBy   string
	Reason        string
	Metadata      map[string]any
	CreatedAt     time.Time
}

// FailureType classifies why an agent job reported failure.
type FailureType string

const (
	FailureTransient        FailureType = "transient"
	FailureStalled          FailureType = "stalled"
	FailureAgentError       FailureType = "agent_error"
	FailureValidationFailed FailureType = "validation_failed"
	FailureFatal            FailureType = "fatal"
)

// Severity escalates as a run's retries accumulate.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// RecoveryStrategy is the action the Failure Recovery Engine (C6) takes in
// response to a classified failure.
type RecoveryStrategy string

const (
	StrategyPending  RecoveryStrategy = "pending"
	StrategyRetry    RecoveryStrategy = "retry"
	StrategyRollback RecoveryStrategy = "rollback"
	StrategyReassign RecoveryStrategy = "reassign"
	StrategyEscalate RecoveryStrategy = "escalate"
	StrategyAbort    RecoveryStrategy = "abort"
)

// FailureRecoveryHistoryEntry is an immutable row recording one recovery
// attempt (C2 sibling table).
type FailureRecoveryHistoryEntry struct {
	ID               string
	ProjectID        string
	WorkspaceID      string
	FailureID        string
	FailureType      FailureType
	Severity         Severity
	RecoveryStrategy RecoveryStrategy
	Success          bool
	RetryCountBefore int
	RetryCountAfter  int
	CheckpointID     string
	Details          map[string]any
	CreatedAt        time.Time
}

// Checkpoint is a named snapshot of pipeline context used by C6 for
// rollback (C7). Keyed by (ProjectID, Phase); saving again for the same key
// replaces the previous snapshot.
type Checkpoint struct {
	ID        string
	ProjectID string
	Phase     Phase
	Snapshot  *PipelineContext
	CreatedAt time.Time
}

// ActiveFailureRecord describes an unresolved failure awaiting a human
// override. At most one exists per projectId.
type ActiveFailureRecord struct {
	FailureID   string
	ProjectID   string
	WorkspaceID string
	FailureType FailureType
	Severity    Severity
	RetryCount  int
	Escalated   bool
	CreatedAt   time.Time
}

// RecoveryResult is the outcome of handleFailure or handleManualOverride.
type RecoveryResult struct {
	FailureID        string
	Strategy         RecoveryStrategy
	Success          bool
	NewState         State
	RetryCountBefore int
	RetryCountAfter  int
	Message          string
}

// RecoveryStatus is the read model returned by getRecoveryStatus.
type RecoveryStatus struct {
	ProjectID       string
	ActiveFailures  []ActiveFailureRecord
	RecoveryHistory []FailureRecoveryHistoryEntry
	IsEscalated     bool
	TotalRetries    int
	MaxRetries      int
}
