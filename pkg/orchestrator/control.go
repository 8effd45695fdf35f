package orchestrator

import "context"

// ControlSurface is C9: a thin delegation layer that binds every operation
// to a workspaceId and validates inputs before handing off to the State
// Machine or Recovery Engine. It never reaches into Store/History/etc.
// directly — that is the Machine and Engine's job.
type ControlSurface struct {
	machine *StateMachine
	engine  *RecoveryEngine
}

// NewControlSurface builds a ControlSurface over machine and engine.
func NewControlSurface(machine *StateMachine, engine *RecoveryEngine) *ControlSurface {
	return &ControlSurface{machine: machine, engine: engine}
}

func requireNonEmpty(field, value string) error {
	if value == "" {
		return ErrBadRequest("%s is required", field)
	}
	return nil
}

// StartPipeline validates input and delegates to the State Machine's
// startPipeline.
func (cs *ControlSurface) StartPipeline(ctx context.Context, workspaceID, projectID string, opts StartOptions) (*StartResult, error) {
	if err := requireNonEmpty("workspaceId", workspaceID); err != nil {
		return nil, err
	}
	if err := requireNonEmpty("projectId", projectID); err != nil {
		return nil, err
	}
	return cs.machine.startPipeline(ctx, projectID, workspaceID, opts)
}

// GetState returns the live context for projectID, scoped to workspaceID.
func (cs *ControlSurface) GetState(ctx context.Context, workspaceID, projectID string) (*PipelineContext, error) {
	if err := requireNonEmpty("workspaceId", workspaceID); err != nil {
		return nil, err
	}
	if err := requireNonEmpty("projectId", projectID); err != nil {
		return nil, err
	}
	pctx, err := cs.machine.getState(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if pctx != nil && pctx.WorkspaceID != workspaceID {
		return nil, ErrNotFound("no active pipeline for project %s in workspace %s", projectID, workspaceID)
	}
	return pctx, nil
}

// PausePipeline delegates to the State Machine's pausePipeline.
func (cs *ControlSurface) PausePipeline(ctx context.Context, workspaceID, projectID, triggeredBy string) (*PauseResumeResult, error) {
	if _, err := cs.GetState(ctx, workspaceID, projectID); err != nil {
		return nil, err
	}
	return cs.machine.pausePipeline(ctx, projectID, triggeredBy)
}

// ResumePipeline delegates to the State Machine's resumePipeline.
func (cs *ControlSurface) ResumePipeline(ctx context.Context, workspaceID, projectID, triggeredBy string) (*PauseResumeResult, error) {
	if _, err := cs.GetState(ctx, workspaceID, projectID); err != nil {
		return nil, err
	}
	return cs.machine.resumePipeline(ctx, projectID, triggeredBy)
}

// GetHistory delegates to the State Machine's getHistory.
func (cs *ControlSurface) GetHistory(ctx context.Context, workspaceID, projectID string, limit, offset int) ([]StateHistoryEntry, error) {
	if err := requireNonEmpty("workspaceId", workspaceID); err != nil {
		return nil, err
	}
	if err := requireNonEmpty("projectId", projectID); err != nil {
		return nil, err
	}
	return cs.machine.getHistory(ctx, projectID, limit, offset)
}

// OnPhaseComplete delegates to the State Machine's onPhaseComplete.
func (cs *ControlSurface) OnPhaseComplete(ctx context.Context, workspaceID, projectID string, phase Phase, result PhaseCompleteResult) (*PipelineContext, error) {
	if _, err := cs.GetState(ctx, workspaceID, projectID); err != nil {
		return nil, err
	}
	return cs.machine.onPhaseComplete(ctx, projectID, phase, result)
}

// ReportFailure delegates to the Recovery Engine's handleFailure.
func (cs *ControlSurface) ReportFailure(ctx context.Context, workspaceID string, in ReportFailureInput) (*RecoveryResult, error) {
	if _, err := cs.GetState(ctx, workspaceID, in.ProjectID); err != nil {
		return nil, err
	}
	if in.FailureType == "" {
		return nil, ErrBadRequest("failureType is required")
	}
	return cs.engine.handleFailure(ctx, in)
}

// HandleManualOverride delegates to the Recovery Engine's
// handleManualOverride.
func (cs *ControlSurface) HandleManualOverride(ctx context.Context, workspaceID string, in OverrideInput) (*RecoveryResult, error) {
	if _, err := cs.GetState(ctx, workspaceID, in.ProjectID); err != nil {
		return nil, err
	}
	switch in.Action {
	case OverrideRetry, OverrideRollback, OverrideReassign, OverrideProvideGuidance, OverrideTerminate:
	default:
		return nil, ErrBadRequest("unknown override action %q", in.Action)
	}
	return cs.engine.handleManualOverride(ctx, in)
}

// GetRecoveryStatus delegates to the Recovery Engine's getRecoveryStatus.
func (cs *ControlSurface) GetRecoveryStatus(ctx context.Context, workspaceID, projectID string) (*RecoveryStatus, error) {
	if _, err := cs.GetState(ctx, workspaceID, projectID); err != nil {
		return nil, err
	}
	return cs.engine.getRecoveryStatus(ctx, projectID)
}
