package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/flowforge/orchestrator/pkg/agentqueue"
	"github.com/flowforge/orchestrator/pkg/observability"
)

// queueName is fixed: every phase job goes on the same queue, distinguished
// by JobPayload.Phase.
const queueName = "pipeline-agent-jobs"

// StartOptions carries startPipeline's optional fields.
type StartOptions struct {
	TriggeredBy string
	StoryID     string
	MaxRetries  int // 0 means "use config default"
}

// StartResult is startPipeline's success value.
type StartResult struct {
	WorkflowID string
	State      State
	Message    string
}

// TransitionOptions carries transition's optional fields.
type TransitionOptions struct {
	TriggeredBy string
	Reason      string
	Metadata    map[string]any
}

// PauseResumeResult is pausePipeline/resumePipeline's success value.
type PauseResumeResult struct {
	PreviousState State
	NewState      State
	Message       string
}

// Tracer is the subset of observability.Tracer the State Machine depends
// on, satisfied by both *observability.Tracer and observability.NoopTracer.
type Tracer interface {
	Start(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span)
	RecordError(span trace.Span, err error)
}

// StateMachine is C4: it orchestrates start/transition/pause/resume/
// phase-completion, validating against the C3 transition table and writing
// through to C1 (Store) and C2 (History).
type StateMachine struct {
	cfg         *Config
	store       Store
	history     History
	checkpoints CheckpointStore
	dispatcher  agentqueue.Dispatcher
	bus         *EventBus
	tracer      Tracer
	metrics     observability.Recorder
	locks       *lockTable
}

// Deps bundles the StateMachine's collaborators. Checkpoints, Dispatcher,
// Bus, Tracer, and Metrics may all be left nil: the core runs in degraded
// mode without them (§9 "Optionality of collaborators").
type Deps struct {
	Store       Store
	History     History
	Checkpoints CheckpointStore
	Dispatcher  agentqueue.Dispatcher
	Bus         *EventBus
	Tracer      Tracer
	Metrics     observability.Recorder
}

// NewStateMachine wires a StateMachine from cfg and deps, applying config
// defaults and filling every optional collaborator with a no-op.
func NewStateMachine(cfg *Config, deps Deps) *StateMachine {
	if cfg == nil {
		cfg = &Config{}
	}
	cfg.SetDefaults()

	sm := &StateMachine{
		cfg:         cfg,
		store:       deps.Store,
		history:     deps.History,
		checkpoints: deps.Checkpoints,
		dispatcher:  deps.Dispatcher,
		bus:         deps.Bus,
		tracer:      deps.Tracer,
		metrics:     deps.Metrics,
		locks:       newLockTable(),
	}
	if sm.store == nil {
		sm.store = NewStore(StoreConfig{})
	}
	if sm.dispatcher == nil {
		sm.dispatcher = agentqueue.NewMemoryDispatcher()
	}
	if sm.bus == nil {
		sm.bus = NewEventBus()
	}
	if sm.tracer == nil {
		sm.tracer = observability.NoopTracer{}
	}
	if sm.metrics == nil {
		sm.metrics = observability.NoopMetrics{}
	}
	return sm
}

func (sm *StateMachine) publish(topic EventTopic, projectID string, data map[string]any) {
	sm.bus.Publish(Event{Topic: topic, ProjectID: projectID, Data: data})
}

func (sm *StateMachine) appendHistory(ctx context.Context, entry StateHistoryEntry) error {
	if sm.history == nil {
		return nil
	}
	return sm.history.Append(ctx, entry)
}

func (sm *StateMachine) saveCheckpoint(ctx context.Context, projectID string, phase Phase, snapshot *PipelineContext) {
	if sm.checkpoints == nil {
		return
	}
	if _, err := sm.checkpoints.Save(ctx, projectID, phase, snapshot.Clone()); err != nil {
		slog.Warn("failed to save checkpoint", "project_id", projectID, "phase", phase, "error", err)
	}
}

func (sm *StateMachine) deleteCheckpoints(ctx context.Context, projectID string) {
	if sm.checkpoints == nil {
		return
	}
	if err := sm.checkpoints.DeleteByProject(ctx, projectID); err != nil {
		slog.Warn("failed to delete checkpoints", "project_id", projectID, "error", err)
	}
}

// dispatchPhase enqueues the primary agent job for phase. Dispatch happens
// outside the per-project lock (§5 "suspension points"); errors are
// recorded but never roll back the transition that led here.
func (sm *StateMachine) dispatchPhase(ctx context.Context, pctx *PipelineContext, phase Phase, agentType string) {
	if agentType == "" {
		agentType = sm.cfg.PrimaryAgentForPhase(phase)
	}
	_, err := sm.dispatcher.Enqueue(ctx, queueName, agentqueue.JobPayload{
		ProjectID:  pctx.ProjectID,
		WorkflowID: pctx.WorkflowID,
		Phase:      string(phase),
		AgentType:  agentType,
		StoryID:    pctx.CurrentStoryID,
	}, agentqueue.DispatchOptions{})
	if err != nil {
		slog.Warn("failed to dispatch phase job", "project_id", pctx.ProjectID, "phase", phase, "error", err)
	}
}

// startPipeline begins a new pipeline run for projectID.
func (sm *StateMachine) startPipeline(ctx context.Context, projectID, workspaceID string, opts StartOptions) (*StartResult, error) {
	ctx, span := sm.tracer.Start(ctx, observability.SpanTransition, trace.WithAttributes(
		attribute.String(observability.AttrProjectID, projectID),
	))
	defer span.End()

	release := sm.locks.acquire(projectID)
	defer release()

	maxRetries := opts.MaxRetries
	if maxRetries == 0 {
		maxRetries = sm.cfg.MaxRetries
	}

	now := time.Now()
	workflowID := fmt.Sprintf("wf-%s-%d", projectID, now.UnixNano())
	pctx := &PipelineContext{
		ProjectID:      projectID,
		WorkspaceID:    workspaceID,
		WorkflowID:     workflowID,
		CurrentState:   StatePlanning,
		PreviousState:  StateIdle,
		StateEnteredAt: now,
		CurrentStoryID: opts.StoryID,
		MaxRetries:     maxRetries,
		Metadata:       map[string]any{},
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if sc := span.SpanContext(); sc.HasTraceID() {
		pctx.TraceID = sc.TraceID().String()
	}

	if err := sm.store.CreateIfAbsent(ctx, pctx); err != nil {
		sm.tracer.RecordError(span, err)
		return nil, err
	}

	if err := sm.appendHistory(ctx, StateHistoryEntry{
		ProjectID:     projectID,
		WorkspaceID:   workspaceID,
		WorkflowID:    workflowID,
		PreviousState: StateIdle,
		NewState:      StatePlanning,
		TriggeredBy:   opts.TriggeredBy,
		CreatedAt:     now,
	}); err != nil {
		sm.tracer.RecordError(span, err)
		return nil, err
	}

	sm.saveCheckpoint(ctx, projectID, PhasePlanning, pctx)
	sm.dispatchPhase(ctx, pctx, PhasePlanning, "")
	sm.publish(TopicStarted, projectID, map[string]any{"workflow_id": workflowID, "to": StatePlanning})
	sm.metrics.RecordTransition(string(StateIdle), string(StatePlanning))

	return &StartResult{WorkflowID: workflowID, State: StatePlanning, Message: "pipeline started"}, nil
}

// transition moves projectID's context to targetState, validating against
// the C3 forward graph only; pause, resume, escalate and abort go through
// their own callers (see isLegalTransition).
func (sm *StateMachine) transition(ctx context.Context, projectID string, targetState State, opts TransitionOptions) (*PipelineContext, error) {
	ctx, span := sm.tracer.Start(ctx, observability.SpanTransition, trace.WithAttributes(
		attribute.String(observability.AttrProjectID, projectID),
		attribute.String(observability.AttrToState, string(targetState)),
	))
	defer span.End()

	release := sm.locks.acquire(projectID)
	defer release()

	pctx, err := sm.store.Get(ctx, projectID)
	if err != nil {
		sm.tracer.RecordError(span, err)
		return nil, err
	}
	if pctx == nil {
		return nil, ErrNotFound("no active pipeline for project %s", projectID)
	}

	if !isLegalTransition(pctx.CurrentState, targetState) {
		err := ErrInvalidTransition(pctx.CurrentState, targetState)
		sm.tracer.RecordError(span, err)
		return nil, err
	}

	return sm.applyTransition(ctx, pctx, targetState, opts.TriggeredBy, opts.Reason, opts.Metadata)
}

// applyTransition performs the write-then-write sequence common to every
// transition path (transition, pause, resume, recovery strategies):
// history row first, then C1 update, then terminal cleanup. The caller must
// already hold the per-project lock.
func (sm *StateMachine) applyTransition(ctx context.Context, pctx *PipelineContext, targetState State, triggeredBy, reason string, metadata map[string]any) (*PipelineContext, error) {
	from := pctx.CurrentState
	now := time.Now()

	if err := sm.appendHistory(ctx, StateHistoryEntry{
		ProjectID:     pctx.ProjectID,
		WorkspaceID:   pctx.WorkspaceID,
		WorkflowID:    pctx.WorkflowID,
		PreviousState: from,
		NewState:      targetState,
		TriggeredBy:   triggeredBy,
		Reason:        reason,
		Metadata:      metadata,
		CreatedAt:     now,
	}); err != nil {
		return nil, err
	}

	updated, err := sm.store.Update(ctx, pctx.ProjectID, func(c *PipelineContext) error {
		c.PreviousState = from
		c.CurrentState = targetState
		c.StateEnteredAt = now
		return nil
	})
	if err != nil {
		return nil, err
	}

	sm.metrics.RecordTransition(string(from), string(targetState))
	sm.publish(TopicStateChanged, pctx.ProjectID, map[string]any{"from": from, "to": targetState})

	if IsTerminalState(targetState) {
		sm.deleteCheckpoints(ctx, pctx.ProjectID)
		sm.locks.reap(pctx.ProjectID)
		if err := sm.store.Delete(ctx, pctx.ProjectID); err != nil {
			slog.Warn("failed to delete terminal context", "project_id", pctx.ProjectID, "error", err)
		}
		if targetState == StateComplete {
			sm.publish(TopicCompleted, pctx.ProjectID, nil)
		} else {
			sm.publish(TopicAborted, pctx.ProjectID, nil)
		}
	}

	return updated, nil
}

// pausePipeline pauses projectID's active, non-terminal pipeline.
func (sm *StateMachine) pausePipeline(ctx context.Context, projectID, triggeredBy string) (*PauseResumeResult, error) {
	release := sm.locks.acquire(projectID)
	defer release()

	pctx, err := sm.store.Get(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if pctx == nil {
		return nil, ErrNotFound("no active pipeline for project %s", projectID)
	}
	if !IsPausable(pctx.CurrentState) {
		return nil, ErrConflict("pipeline for project %s is not in a pausable state (%s)", projectID, pctx.CurrentState)
	}

	from := pctx.CurrentState
	updated, err := sm.applyTransition(ctx, pctx, StatePaused, triggeredBy, "", nil)
	if err != nil {
		return nil, err
	}

	sm.publish(TopicPaused, projectID, map[string]any{"previous_state": from})
	return &PauseResumeResult{PreviousState: from, NewState: updated.CurrentState, Message: "pipeline paused"}, nil
}

// resumePipeline resumes a paused pipeline, restoring previousState. Per
// spec.md §4.4, resume only re-dispatches the phase's agent job if no
// active agent is currently recorded.
func (sm *StateMachine) resumePipeline(ctx context.Context, projectID, triggeredBy string) (*PauseResumeResult, error) {
	release := sm.locks.acquire(projectID)
	defer release()

	pctx, err := sm.store.Get(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if pctx == nil {
		return nil, ErrNotFound("no active pipeline for project %s", projectID)
	}
	if pctx.CurrentState != StatePaused {
		return nil, ErrConflict("pipeline for project %s is not paused", projectID)
	}
	if IsTerminalState(pctx.PreviousState) {
		return nil, ErrConflict("pipeline for project %s has no active prior state to resume to", projectID)
	}

	target := pctx.PreviousState
	updated, err := sm.applyTransition(ctx, pctx, target, triggeredBy, "", nil)
	if err != nil {
		return nil, err
	}

	if updated.ActiveAgentID == "" {
		if phase, ok := phaseForState(target); ok {
			sm.dispatchPhase(ctx, updated, phase, updated.ActiveAgentType)
		}
	}

	sm.publish(TopicResumed, projectID, map[string]any{"new_state": target})
	return &PauseResumeResult{PreviousState: StatePaused, NewState: target, Message: "pipeline resumed"}, nil
}

// onPhaseComplete advances the pipeline past phaseName. Idempotent under
// duplicate delivery: if the context is already past phaseName's entry
// state, the call is a no-op.
func (sm *StateMachine) onPhaseComplete(ctx context.Context, projectID string, phaseName Phase, result PhaseCompleteResult) (*PipelineContext, error) {
	release := sm.locks.acquire(projectID)
	defer release()

	pctx, err := sm.store.Get(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if pctx == nil {
		return nil, ErrNotFound("no active pipeline for project %s", projectID)
	}

	expectedEntry, ok := EntryStateForPhase(phaseName)
	if !ok {
		return nil, ErrBadRequest("unknown phase %q", phaseName)
	}
	if pctx.CurrentState != expectedEntry {
		// Already past this phase's entry state: duplicate callback, no-op.
		return pctx, nil
	}

	var target State
	var nextPhase Phase
	var hasNext bool

	if phaseName == PhaseQA && result.Rework {
		target = StateImplementing
		nextPhase = PhaseImplementing
		hasNext = true
	} else if next, ok := NextPhase(phaseName); ok {
		nextPhase = next
		hasNext = true
		target, _ = EntryStateForPhase(next)
	} else {
		target = StateComplete
		hasNext = false
	}

	updated, err := sm.applyTransition(ctx, pctx, target, "agent:"+pctx.ActiveAgentType, "", normalizePhaseOutput(result.Output))
	if err != nil {
		return nil, err
	}
	sm.publish(TopicPhaseCompleted, projectID, map[string]any{"phase": phaseName, "rework": result.Rework})

	if hasNext {
		sm.saveCheckpoint(ctx, projectID, nextPhase, updated)
		sm.dispatchPhase(ctx, updated, nextPhase, "")
	}

	return updated, nil
}

// getState returns the live context for projectID, or nil if terminal.
func (sm *StateMachine) getState(ctx context.Context, projectID string) (*PipelineContext, error) {
	return sm.store.Get(ctx, projectID)
}

// getHistory delegates to C2, capping limit at the configured page size.
func (sm *StateMachine) getHistory(ctx context.Context, projectID string, limit, offset int) ([]StateHistoryEntry, error) {
	if sm.history == nil {
		return nil, nil
	}
	if limit <= 0 {
		return []StateHistoryEntry{}, nil
	}
	if limit > sm.cfg.HistoryPageCap {
		limit = sm.cfg.HistoryPageCap
	}
	return sm.history.ListByProject(ctx, projectID, limit, offset)
}

// phaseForState is the inverse of EntryStateForPhase, used by resume to
// figure out which phase's job to re-dispatch.
func phaseForState(s State) (Phase, bool) {
	switch s {
	case StatePlanning:
		return PhasePlanning, true
	case StateImplementing:
		return PhaseImplementing, true
	case StateQA:
		return PhaseQA, true
	case StateDeploying:
		return PhaseDeploying, true
	default:
		return "", false
	}
}
