package orchestrator

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/flowforge/orchestrator/pkg/observability"
)

// SweepReport summarizes one pass of the Recovery Sweeper over the hot
// store (§4.5).
type SweepReport struct {
	ScannedAt      time.Time
	TotalScanned   int
	StaleHandedOff int
	Errors         int
}

// RecoverySweeper is C5: it periodically scans the hot KV store for
// projects whose context has gone stale (no transition in
// StaleThresholdSeconds) and hands them to the Failure Recovery Engine as a
// "stalled" failure. It never transitions a project directly itself.
type RecoverySweeper struct {
	cfg     *Config
	store   Store
	engine  *RecoveryEngine
	bus     *EventBus
	tracer  Tracer
	stopped chan struct{}
}

// NewRecoverySweeper builds a RecoverySweeper over sm's store, reporting
// stale runs to engine.
func NewRecoverySweeper(cfg *Config, sm *StateMachine, engine *RecoveryEngine) *RecoverySweeper {
	if cfg == nil {
		cfg = &Config{}
	}
	cfg.SetDefaults()

	tracer := sm.tracer
	if tracer == nil {
		tracer = observability.NoopTracer{}
	}

	return &RecoverySweeper{
		cfg:     cfg,
		store:   sm.store,
		engine:  engine,
		bus:     sm.bus,
		tracer:  tracer,
		stopped: make(chan struct{}),
	}
}

// Stopped returns a channel that closes once Run has observed ctx
// cancellation, useful for tests waiting on a clean shutdown.
func (s *RecoverySweeper) Stopped() <-chan struct{} {
	return s.stopped
}

// Run executes sweep passes every interval until ctx is cancelled. Intended
// to be launched as its own goroutine by the process entry point.
func (s *RecoverySweeper) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			close(s.stopped)
			return
		case <-ticker.C:
			if _, err := s.Sweep(ctx); err != nil {
				slog.Warn("recovery sweep failed", "error", err)
			}
		}
	}
}

// Sweep performs a single pass: scan every live projectId, and for each
// context whose StateEnteredAt is older than StaleThresholdSeconds, report
// it to the Failure Recovery Engine as a stalled failure.
func (s *RecoverySweeper) Sweep(ctx context.Context) (*SweepReport, error) {
	ctx, span := s.tracer.Start(ctx, observability.SpanRecoverySweep, trace.WithAttributes())
	defer span.End()

	report := &SweepReport{ScannedAt: time.Now()}

	ids, err := s.store.ScanProjectIDs(ctx)
	if err != nil {
		s.tracer.RecordError(span, err)
		return nil, ErrInternal(err, "failed to scan project ids")
	}
	report.TotalScanned = len(ids)

	staleThreshold := time.Duration(s.cfg.StaleThresholdSeconds) * time.Second

	for _, id := range ids {
		pctx, err := s.store.Get(ctx, id)
		if err != nil {
			slog.Warn("sweeper failed to load project", "project_id", id, "error", err)
			report.Errors++
			continue
		}
		if pctx == nil {
			// Deleted between scan and load; terminal projects are removed
			// from the store, so this is a normal race, not an error.
			continue
		}
		if IsTerminalState(pctx.CurrentState) {
			// Leftover row from a crash between store.Delete and this sweep;
			// already resolved, so delete and move on rather than reporting
			// it to the recovery engine as stalled.
			if err := s.store.Delete(ctx, id); err != nil {
				slog.Warn("sweeper failed to delete terminal project", "project_id", id, "error", err)
				report.Errors++
			}
			continue
		}
		if pctx.CurrentState == StatePaused || pctx.CurrentState == StateAwaitingManual {
			// Intentionally idle states: not stale by definition.
			continue
		}
		if time.Since(pctx.StateEnteredAt) < staleThreshold {
			continue
		}

		if s.engine != nil {
			if _, err := s.engine.handleFailure(ctx, ReportFailureInput{
				ProjectID:   id,
				FailureType: FailureStalled,
				Reason:      "no transition observed within stale threshold",
				Details: map[string]any{
					"state":            pctx.CurrentState,
					"state_entered_at": pctx.StateEnteredAt,
				},
			}); err != nil {
				slog.Warn("sweeper failed to hand off stale project", "project_id", id, "error", err)
				report.Errors++
				continue
			}
		}
		report.StaleHandedOff++
	}

	if s.bus != nil {
		s.bus.Publish(Event{Topic: TopicStateChanged, ProjectID: "", Data: map[string]any{
			"sweep_report": report,
		}})
	}

	return report, nil
}
