package observability

const (
	AttrProjectID   = "pipeline.project_id"
	AttrWorkspaceID = "pipeline.workspace_id"
	AttrFromState   = "pipeline.from_state"
	AttrToState     = "pipeline.to_state"
	AttrFailureType = "pipeline.failure_type"
	AttrErrorType   = "error.type"

	SpanTransition    = "orchestrator.transition"
	SpanHandleFailure = "orchestrator.handle_failure"
	SpanRecoverySweep = "orchestrator.recovery_sweep"

	DefaultServiceName  = "pipeline-orchestrator"
	DefaultSamplingRate = 1.0
	DefaultMetricsPath  = "/metrics"
)
