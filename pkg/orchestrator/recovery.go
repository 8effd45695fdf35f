package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/flowforge/orchestrator/pkg/agentqueue"
	"github.com/flowforge/orchestrator/pkg/observability"
)

// defaultStrategyForType is the taxonomy's default strategy per failure
// type (§4.6). handleFailure only deviates from this when severity has
// escalated past the type's ceiling.
var defaultStrategyForType = map[FailureType]RecoveryStrategy{
	FailureTransient:        StrategyRetry,
	FailureStalled:          StrategyRollback,
	FailureAgentError:       StrategyReassign,
	FailureValidationFailed: StrategyRollback,
	FailureFatal:            StrategyAbort,
}

// ReportFailureInput is handleFailure's request shape.
type ReportFailureInput struct {
	ProjectID   string
	FailureType FailureType
	Reason      string
	Details     map[string]any
}

// OverrideAction is one of handleManualOverride's recognised actions.
type OverrideAction string

const (
	OverrideRetry           OverrideAction = "retry"
	OverrideRollback        OverrideAction = "rollback"
	OverrideReassign        OverrideAction = "reassign"
	OverrideProvideGuidance OverrideAction = "provide_guidance"
	OverrideTerminate       OverrideAction = "terminate"
)

// OverrideInput is handleManualOverride's request shape.
type OverrideInput struct {
	FailureID   string // addresses the Active Failure Record being resolved
	ProjectID   string
	Action      OverrideAction
	AgentType   string // required for reassign
	Guidance    string // required for provide_guidance
	TriggeredBy string
}

// RecoveryEngine is C6: it classifies reported failures, escalates severity
// as the run's retries accumulate, and executes one of five recovery
// strategies.
type RecoveryEngine struct {
	cfg      *Config
	machine  *StateMachine
	store    Store
	checkpts CheckpointStore
	history  History
	failures FailureStore
	dispatch agentqueue.Dispatcher
	bus      *EventBus
	tracer   Tracer
	metrics  observability.Recorder
	locks    *lockTable
}

// RecoveryDeps bundles the RecoveryEngine's collaborators. The engine shares
// the StateMachine's Store, CheckpointStore, EventBus, lock table, tracer,
// and metrics recorder so both components observe the same project state.
type RecoveryDeps struct {
	Failures FailureStore
}

// NewRecoveryEngine builds a RecoveryEngine that drives transitions through
// sm, sharing its collaborators.
func NewRecoveryEngine(cfg *Config, sm *StateMachine, deps RecoveryDeps) *RecoveryEngine {
	if cfg == nil {
		cfg = &Config{}
	}
	cfg.SetDefaults()

	failures := deps.Failures
	if failures == nil {
		failures = NewFailureStore(nil)
	}

	return &RecoveryEngine{
		cfg:      cfg,
		machine:  sm,
		store:    sm.store,
		checkpts: sm.checkpoints,
		history:  sm.history,
		failures: failures,
		dispatch: sm.dispatcher,
		bus:      sm.bus,
		tracer:   sm.tracer,
		metrics:  sm.metrics,
		locks:    sm.locks,
	}
}

// backoffDelay computes the exponential retry delay for attempt (1-based),
// base*2^(attempt-1), capped at max (§4.6.1).
func backoffDelay(base, max, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	seconds := float64(base) * math.Pow(2, float64(attempt-1))
	if int(seconds) > max {
		seconds = float64(max)
	}
	return time.Duration(seconds) * time.Second
}

// severityForOccurrence escalates severity with the number of failures the
// run has reported, counted as RetryCount+1 (1st = low, 2nd = medium,
// 3rd = high, 4th+ = critical), per §4.6 "Severity escalation".
func severityForOccurrence(occurrence int) Severity {
	switch {
	case occurrence <= 1:
		return SeverityLow
	case occurrence == 2:
		return SeverityMedium
	case occurrence == 3:
		return SeverityHigh
	default:
		return SeverityCritical
	}
}

// strategyForSeverity overrides the type's default strategy once severity
// reaches critical: any failure, regardless of type, escalates to a human
// rather than retrying indefinitely (§4.6 "Critical failures always
// escalate").
func strategyForSeverity(failureType FailureType, severity Severity) RecoveryStrategy {
	if severity == SeverityCritical {
		return StrategyEscalate
	}
	return defaultStrategyForType[failureType]
}

// handleFailure is the Failure Recovery Engine's single entry point: an
// agent job or the Recovery Sweeper reports a failure, and handleFailure
// classifies it, picks a strategy, and executes it.
func (re *RecoveryEngine) handleFailure(ctx context.Context, in ReportFailureInput) (*RecoveryResult, error) {
	ctx, span := re.tracer.Start(ctx, observability.SpanHandleFailure, trace.WithAttributes(
		attribute.String(observability.AttrProjectID, in.ProjectID),
		attribute.String(observability.AttrFailureType, string(in.FailureType)),
	))
	defer span.End()

	release := re.locks.acquire(in.ProjectID)
	defer release()

	pctx, err := re.store.Get(ctx, in.ProjectID)
	if err != nil {
		re.tracer.RecordError(span, err)
		return nil, err
	}
	if pctx == nil || IsTerminalState(pctx.CurrentState) {
		return &RecoveryResult{Success: true, Message: "already_resolved"}, nil
	}

	existing, err := re.failures.GetByProject(ctx, in.ProjectID)
	if err != nil {
		return nil, err
	}

	occurrence := pctx.RetryCount + 1
	severity := severityForOccurrence(occurrence)
	strategy := strategyForSeverity(in.FailureType, severity)

	rec := &ActiveFailureRecord{
		ProjectID:   in.ProjectID,
		WorkspaceID: pctx.WorkspaceID,
		FailureType: in.FailureType,
		Severity:    severity,
		RetryCount:  pctx.RetryCount,
		CreatedAt:   time.Now(),
	}
	if existing != nil {
		rec.FailureID = existing.FailureID
	}

	historyID := re.appendPendingRecoveryHistory(ctx, pctx, rec, in)

	switch strategy {
	case StrategyRetry:
		return re.executeRetry(ctx, pctx, rec, in, historyID)
	case StrategyRollback:
		return re.executeRollback(ctx, pctx, rec, in, historyID)
	case StrategyReassign:
		return re.executeReassign(ctx, pctx, rec, in, historyID)
	case StrategyEscalate:
		return re.executeEscalate(ctx, pctx, rec, in, historyID)
	case StrategyAbort:
		return re.executeAbort(ctx, pctx, rec, in, historyID)
	default:
		return nil, ErrInternal(fmt.Errorf("no strategy for failure type %q", in.FailureType), "recovery dispatch failed")
	}
}

// appendPendingRecoveryHistory writes the pending recovery-history row
// required by §4.6 step 2, before a strategy has been executed. Returns ""
// (rather than an error) when history isn't configured or the write fails,
// since a missing/failed history row must never block recovery itself.
func (re *RecoveryEngine) appendPendingRecoveryHistory(ctx context.Context, pctx *PipelineContext, rec *ActiveFailureRecord, in ReportFailureInput) string {
	if re.history == nil {
		return ""
	}
	id, err := re.history.AppendFailureRecovery(ctx, FailureRecoveryHistoryEntry{
		ProjectID: in.ProjectID, WorkspaceID: pctx.WorkspaceID, FailureID: rec.FailureID,
		FailureType: in.FailureType, Severity: rec.Severity, RecoveryStrategy: StrategyPending,
		Success: false, RetryCountBefore: pctx.RetryCount, Details: in.Details,
	})
	if err != nil {
		slog.Warn("failed to record pending recovery history", "project_id", in.ProjectID, "error", err)
		return ""
	}
	return id
}

// finalizeRecoveryHistory records a recovery attempt's outcome against the
// pending row appendPendingRecoveryHistory created, per §4.6 step 5.
func (re *RecoveryEngine) finalizeRecoveryHistory(ctx context.Context, historyID string, strategy RecoveryStrategy, success bool, retryCountAfter int, checkpointID string) {
	if re.history == nil || historyID == "" {
		return
	}
	if err := re.history.UpdateFailureRecoveryOutcome(ctx, historyID, strategy, success, retryCountAfter, checkpointID); err != nil {
		slog.Warn("failed to finalize recovery history", "history_id", historyID, "error", err)
	}
}

// executeRetry re-dispatches the current phase's agent job after an
// exponential backoff delay, incrementing RetryCount. Once RetryCount
// reaches the project's MaxRetries, retry gives way to escalate (§4.6.1).
func (re *RecoveryEngine) executeRetry(ctx context.Context, pctx *PipelineContext, rec *ActiveFailureRecord, in ReportFailureInput, historyID string) (*RecoveryResult, error) {
	if pctx.RetryCount >= pctx.MaxRetries {
		return re.executeEscalate(ctx, pctx, rec, in, historyID)
	}

	before := pctx.RetryCount
	updated, err := re.store.Update(ctx, pctx.ProjectID, func(c *PipelineContext) error {
		c.RetryCount++
		return nil
	})
	if err != nil {
		return nil, err
	}

	delay := backoffDelay(re.cfg.RetryBaseDelaySeconds, re.cfg.RetryMaxDelaySeconds, updated.RetryCount)
	phase, ok := phaseForState(updated.CurrentState)
	if ok {
		_, err := re.dispatch.Enqueue(ctx, queueName, agentqueue.JobPayload{
			ProjectID:  updated.ProjectID,
			WorkflowID: updated.WorkflowID,
			Phase:      string(phase),
			AgentType:  updated.ActiveAgentType,
			StoryID:    updated.CurrentStoryID,
		}, agentqueue.DispatchOptions{DelaySeconds: int(delay.Seconds())})
		if err != nil {
			slog.Warn("retry dispatch failed", "project_id", pctx.ProjectID, "error", err)
		}
	}

	re.metrics.RecordFailure(string(in.FailureType), string(rec.Severity))
	re.metrics.RecordRecoveryStrategy(string(StrategyRetry), true)
	re.bus.Publish(Event{Topic: TopicFailureRecovered, ProjectID: pctx.ProjectID, Data: map[string]any{
		"strategy": StrategyRetry, "retry_count": updated.RetryCount, "delay_seconds": int(delay.Seconds()),
	}})
	re.finalizeRecoveryHistory(ctx, historyID, StrategyRetry, true, updated.RetryCount, "")

	return &RecoveryResult{
		Strategy: StrategyRetry, Success: true, NewState: updated.CurrentState,
		RetryCountBefore: before, RetryCountAfter: updated.RetryCount,
		Message: fmt.Sprintf("retrying after %s backoff", delay),
	}, nil
}

// executeRollback restores the latest checkpoint for the current phase and
// re-dispatches the phase's agent job from that restored state (§4.6.2).
func (re *RecoveryEngine) executeRollback(ctx context.Context, pctx *PipelineContext, rec *ActiveFailureRecord, in ReportFailureInput, historyID string) (*RecoveryResult, error) {
	phase, ok := phaseForState(pctx.CurrentState)
	if !ok || re.checkpts == nil {
		return re.executeReassign(ctx, pctx, rec, in, historyID)
	}

	cp, err := re.checkpts.LoadLatest(ctx, pctx.ProjectID, phase)
	if err != nil {
		if KindOf(err) == KindNotFound {
			return re.executeReassign(ctx, pctx, rec, in, historyID)
		}
		return nil, err
	}

	before := pctx.RetryCount
	updated, err := re.store.Update(ctx, pctx.ProjectID, func(c *PipelineContext) error {
		c.CurrentStoryID = cp.Snapshot.CurrentStoryID
		c.Metadata = cp.Snapshot.Metadata
		c.RetryCount++
		return nil
	})
	if err != nil {
		return nil, err
	}

	re.dispatch.Enqueue(ctx, queueName, agentqueue.JobPayload{ //nolint:errcheck
		ProjectID: updated.ProjectID, WorkflowID: updated.WorkflowID,
		Phase: string(phase), AgentType: updated.ActiveAgentType, StoryID: updated.CurrentStoryID,
	}, agentqueue.DispatchOptions{})

	re.metrics.RecordFailure(string(in.FailureType), string(rec.Severity))
	re.metrics.RecordRecoveryStrategy(string(StrategyRollback), true)
	re.bus.Publish(Event{Topic: TopicFailureRecovered, ProjectID: pctx.ProjectID, Data: map[string]any{
		"strategy": StrategyRollback, "checkpoint_phase": phase,
	}})
	re.finalizeRecoveryHistory(ctx, historyID, StrategyRollback, true, updated.RetryCount, cp.ID)

	return &RecoveryResult{
		Strategy: StrategyRollback, Success: true, NewState: updated.CurrentState,
		RetryCountBefore: before, RetryCountAfter: updated.RetryCount,
		Message: fmt.Sprintf("rolled back to checkpoint for phase %s", phase),
	}, nil
}

// executeReassign picks the next fallback agent type for the current phase
// and re-dispatches to it (§4.6.3). If every fallback has already been
// tried, reassign gives way to escalate.
func (re *RecoveryEngine) executeReassign(ctx context.Context, pctx *PipelineContext, rec *ActiveFailureRecord, in ReportFailureInput, historyID string) (*RecoveryResult, error) {
	phase, ok := phaseForState(pctx.CurrentState)
	if !ok {
		return re.executeEscalate(ctx, pctx, rec, in, historyID)
	}

	candidates := re.cfg.AgentTypesForPhase(phase)
	next := nextFallbackAgent(candidates, pctx.ActiveAgentType)
	if next == "" {
		return re.executeEscalate(ctx, pctx, rec, in, historyID)
	}

	before := pctx.RetryCount
	updated, err := re.store.Update(ctx, pctx.ProjectID, func(c *PipelineContext) error {
		c.ActiveAgentType = next
		c.RetryCount++
		return nil
	})
	if err != nil {
		return nil, err
	}

	_, err = re.dispatch.Enqueue(ctx, queueName, agentqueue.JobPayload{
		ProjectID: updated.ProjectID, WorkflowID: updated.WorkflowID,
		Phase: string(phase), AgentType: next, StoryID: updated.CurrentStoryID,
	}, agentqueue.DispatchOptions{})
	if err != nil {
		slog.Warn("reassign dispatch failed", "project_id", pctx.ProjectID, "error", err)
	}

	re.metrics.RecordFailure(string(in.FailureType), string(rec.Severity))
	re.metrics.RecordRecoveryStrategy(string(StrategyReassign), true)
	re.bus.Publish(Event{Topic: TopicFailureRecovered, ProjectID: pctx.ProjectID, Data: map[string]any{
		"strategy": StrategyReassign, "agent_type": next,
	}})
	re.finalizeRecoveryHistory(ctx, historyID, StrategyReassign, true, updated.RetryCount, "")

	return &RecoveryResult{
		Strategy: StrategyReassign, Success: true, NewState: updated.CurrentState,
		RetryCountBefore: before, RetryCountAfter: updated.RetryCount,
		Message: fmt.Sprintf("reassigned to agent type %s", next),
	}, nil
}

// nextFallbackAgent returns the candidate immediately after current in
// order, or the first candidate if current is unset/unrecognised, or ""
// once the list is exhausted.
func nextFallbackAgent(candidates []string, current string) string {
	if len(candidates) == 0 {
		return ""
	}
	if current == "" {
		return candidates[0]
	}
	for i, c := range candidates {
		if c == current {
			if i+1 < len(candidates) {
				return candidates[i+1]
			}
			return ""
		}
	}
	return candidates[0]
}

// executeEscalate moves the pipeline to awaiting_manual and records an
// Active Failure Record for a human operator to resolve (§4.6.4).
func (re *RecoveryEngine) executeEscalate(ctx context.Context, pctx *PipelineContext, rec *ActiveFailureRecord, in ReportFailureInput, historyID string) (*RecoveryResult, error) {
	before := pctx.RetryCount
	updated, err := re.machine.applyTransition(ctx, pctx, StateAwaitingManual, "recovery-engine", in.Reason, in.Details)
	if err != nil {
		return nil, err
	}

	rec.Escalated = true
	rec.RetryCount = updated.RetryCount
	if err := re.failures.Save(ctx, rec); err != nil {
		return nil, err
	}

	re.metrics.RecordFailure(string(in.FailureType), string(rec.Severity))
	re.metrics.RecordRecoveryStrategy(string(StrategyEscalate), true)
	re.bus.Publish(Event{Topic: TopicFailureEscalated, ProjectID: pctx.ProjectID, Data: map[string]any{
		"failure_id": rec.FailureID, "severity": rec.Severity,
	}})
	re.bus.Publish(Event{Topic: TopicManualOverrideRequired, ProjectID: pctx.ProjectID, Data: map[string]any{
		"failure_id": rec.FailureID,
	}})
	re.finalizeRecoveryHistory(ctx, historyID, StrategyEscalate, true, updated.RetryCount, "")

	return &RecoveryResult{
		FailureID: rec.FailureID, Strategy: StrategyEscalate, Success: true, NewState: updated.CurrentState,
		RetryCountBefore: before, RetryCountAfter: updated.RetryCount,
		Message: "escalated to manual review",
	}, nil
}

// executeAbort terminates the pipeline as failed (§4.6.5): fatal failures
// and critical escalations a human operator chooses not to recover from
// both end here.
func (re *RecoveryEngine) executeAbort(ctx context.Context, pctx *PipelineContext, rec *ActiveFailureRecord, in ReportFailureInput, historyID string) (*RecoveryResult, error) {
	before := pctx.RetryCount
	updated, err := re.machine.applyTransition(ctx, pctx, StateFailed, "recovery-engine", in.Reason, in.Details)
	if err != nil {
		return nil, err
	}

	if rec.FailureID != "" {
		_ = re.failures.Delete(ctx, rec.FailureID, pctx.ProjectID)
	}

	re.metrics.RecordFailure(string(in.FailureType), string(rec.Severity))
	re.metrics.RecordRecoveryStrategy(string(StrategyAbort), true)
	re.finalizeRecoveryHistory(ctx, historyID, StrategyAbort, true, before, "")

	return &RecoveryResult{
		Strategy: StrategyAbort, Success: true, NewState: updated.CurrentState,
		RetryCountBefore: before, RetryCountAfter: before,
		Message: "pipeline aborted",
	}, nil
}

// handleManualOverride resolves an awaiting_manual pipeline per an
// operator's chosen action (§4.6 "Manual override").
func (re *RecoveryEngine) handleManualOverride(ctx context.Context, in OverrideInput) (*RecoveryResult, error) {
	release := re.locks.acquire(in.ProjectID)
	defer release()

	pctx, err := re.store.Get(ctx, in.ProjectID)
	if err != nil {
		return nil, err
	}
	if pctx == nil {
		return nil, ErrNotFound("no active pipeline for project %s", in.ProjectID)
	}
	if pctx.CurrentState != StateAwaitingManual {
		return nil, ErrConflict("pipeline for project %s is not awaiting manual review", in.ProjectID)
	}

	var rec *ActiveFailureRecord
	if in.FailureID != "" {
		rec, err = re.failures.Get(ctx, in.FailureID)
		if err != nil {
			return nil, err
		}
		if rec == nil || rec.ProjectID != in.ProjectID {
			return nil, ErrNotFound("no active failure %s for project %s", in.FailureID, in.ProjectID)
		}
	} else {
		rec, err = re.failures.GetByProject(ctx, in.ProjectID)
		if err != nil {
			return nil, err
		}
	}

	switch in.Action {
	case OverrideRetry:
		updated, err := re.store.Update(ctx, in.ProjectID, func(c *PipelineContext) error {
			c.RetryCount = 0
			return nil
		})
		if err != nil {
			return nil, err
		}
		return re.resolveOverride(ctx, updated, rec, StrategyRetry, "retrying from operator override")

	case OverrideRollback:
		phase, ok := phaseForState(pctx.PreviousState)
		if !ok || re.checkpts == nil {
			return nil, ErrBadRequest("no checkpoint available to roll back to")
		}
		cp, err := re.checkpts.LoadLatest(ctx, in.ProjectID, phase)
		if err != nil {
			return nil, err
		}
		updated, err := re.store.Update(ctx, in.ProjectID, func(c *PipelineContext) error {
			c.Metadata = cp.Snapshot.Metadata
			c.CurrentStoryID = cp.Snapshot.CurrentStoryID
			c.RetryCount = 0
			return nil
		})
		if err != nil {
			return nil, err
		}
		return re.resolveOverride(ctx, updated, rec, StrategyRollback, "rolled back from operator override")

	case OverrideReassign:
		phase, ok := phaseForState(pctx.PreviousState)
		if !ok || !re.cfg.IsAllowedAgentForPhase(phase, in.AgentType) {
			return nil, ErrBadRequest("agent type %q is not valid for the current phase", in.AgentType)
		}
		updated, err := re.store.Update(ctx, in.ProjectID, func(c *PipelineContext) error {
			c.ActiveAgentType = in.AgentType
			c.RetryCount = 0
			return nil
		})
		if err != nil {
			return nil, err
		}
		return re.resolveOverride(ctx, updated, rec, StrategyReassign, "reassigned from operator override")

	case OverrideProvideGuidance:
		if in.Guidance == "" {
			return nil, ErrBadRequest("guidance is required for provide_guidance")
		}
		updated, err := re.store.Update(ctx, in.ProjectID, func(c *PipelineContext) error {
			if c.Metadata == nil {
				c.Metadata = map[string]any{}
			}
			c.Metadata["operator_guidance"] = in.Guidance
			c.RetryCount = 0
			return nil
		})
		if err != nil {
			return nil, err
		}
		return re.resolveOverride(ctx, updated, rec, StrategyRetry, "resuming with operator guidance")

	case OverrideTerminate:
		updated, err := re.machine.applyTransition(ctx, pctx, StateFailed, in.TriggeredBy, "terminated by operator", nil)
		if err != nil {
			return nil, err
		}
		if rec != nil {
			_ = re.failures.Delete(ctx, rec.FailureID, in.ProjectID)
		}
		re.recordOverrideHistory(ctx, pctx, rec, StrategyAbort, pctx.RetryCount)
		return &RecoveryResult{Strategy: StrategyAbort, Success: true, NewState: updated.CurrentState, Message: "terminated by operator"}, nil

	default:
		return nil, ErrBadRequest("unknown override action %q", in.Action)
	}
}

// resolveOverride returns the pipeline to its pre-escalation phase state,
// re-dispatches that phase's agent job, clears the Active Failure Record,
// and reports the outcome.
func (re *RecoveryEngine) resolveOverride(ctx context.Context, pctx *PipelineContext, rec *ActiveFailureRecord, strategy RecoveryStrategy, message string) (*RecoveryResult, error) {
	target := pctx.PreviousState
	before := pctx.RetryCount
	updated, err := re.machine.applyTransition(ctx, pctx, target, "recovery-engine", "", nil)
	if err != nil {
		return nil, err
	}

	if phase, ok := phaseForState(target); ok {
		_, err := re.dispatch.Enqueue(ctx, queueName, agentqueue.JobPayload{
			ProjectID: updated.ProjectID, WorkflowID: updated.WorkflowID,
			Phase: string(phase), AgentType: updated.ActiveAgentType, StoryID: updated.CurrentStoryID,
		}, agentqueue.DispatchOptions{})
		if err != nil {
			slog.Warn("override dispatch failed", "project_id", pctx.ProjectID, "error", err)
		}
	}

	if rec != nil {
		_ = re.failures.Delete(ctx, rec.FailureID, pctx.ProjectID)
	}
	re.metrics.RecordRecoveryStrategy(string(strategy), true)
	re.recordOverrideHistory(ctx, pctx, rec, strategy, updated.RetryCount)

	return &RecoveryResult{
		FailureID: valueOr(rec), Strategy: strategy, Success: true, NewState: updated.CurrentState,
		RetryCountBefore: before, RetryCountAfter: updated.RetryCount, Message: message,
	}, nil
}

// recordOverrideHistory journals a manual override's resolution directly
// with its final outcome (§4.6 step 5): unlike handleFailure, there is no
// earlier pending row for an override to update, so the complete entry is
// written in one call.
func (re *RecoveryEngine) recordOverrideHistory(ctx context.Context, pctx *PipelineContext, rec *ActiveFailureRecord, strategy RecoveryStrategy, retryCountAfter int) {
	if re.history == nil {
		return
	}
	entry := FailureRecoveryHistoryEntry{
		ProjectID: pctx.ProjectID, WorkspaceID: pctx.WorkspaceID,
		RecoveryStrategy: strategy, Success: true, RetryCountAfter: retryCountAfter,
	}
	if rec != nil {
		entry.FailureID = rec.FailureID
		entry.FailureType = rec.FailureType
		entry.Severity = rec.Severity
		entry.RetryCountBefore = rec.RetryCount
	}
	if _, err := re.history.AppendFailureRecovery(ctx, entry); err != nil {
		slog.Warn("failed to record override recovery history", "project_id", pctx.ProjectID, "error", err)
	}
}

func valueOr(rec *ActiveFailureRecord) string {
	if rec == nil {
		return ""
	}
	return rec.FailureID
}

// getRecoveryStatus reports a project's open failure (if any) and recovery
// history for the Control Surface's getRecoveryStatus operation.
func (re *RecoveryEngine) getRecoveryStatus(ctx context.Context, projectID string) (*RecoveryStatus, error) {
	pctx, err := re.store.Get(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if pctx == nil {
		return nil, ErrNotFound("no active pipeline for project %s", projectID)
	}

	status := &RecoveryStatus{
		ProjectID:    projectID,
		TotalRetries: pctx.RetryCount,
		MaxRetries:   pctx.MaxRetries,
		IsEscalated:  pctx.CurrentState == StateAwaitingManual,
	}

	rec, err := re.failures.GetByProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if rec != nil {
		status.ActiveFailures = []ActiveFailureRecord{*rec}
	}

	if re.history != nil {
		entries, err := re.history.ListFailureRecoveryByProject(ctx, projectID, 0, 0)
		if err != nil {
			return nil, err
		}
		status.RecoveryHistory = entries
	}

	return status, nil
}
